package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/model"
	"github.com/sakif/civicfix/internal/repository"
	"github.com/sakif/civicfix/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUserRepo is an in-memory repository.UserRepository that counts calls,
// so tests can assert that a code path never reached the database.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID int
	calls  int

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return apperror.Conflict("user", u.Email)
		}
	}
	f.nextID++
	u.ID = fmt.Sprintf("user-%d", f.nextID)
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeUserRepo) find(key string, match func(*model.User) bool) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("user", key)
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	return f.find(id, func(u *model.User) bool { return u.ID == id })
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return f.find(email, func(u *model.User) bool { return u.Email == email })
}

func (f *fakeUserRepo) GetByProviderUID(_ context.Context, uid string) (*model.User, error) {
	return f.find(uid, func(u *model.User) bool { return u.ProviderUID != nil && *u.ProviderUID == uid })
}

func (f *fakeUserRepo) Update(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if _, ok := f.users[u.ID]; !ok {
		return apperror.NotFound("user", u.ID)
	}
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeUserRepo) SoftDelete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	delete(f.users, id)
	return nil
}

// fakeIssueRepo is an in-memory repository.IssueRepository.
type fakeIssueRepo struct {
	mu      sync.Mutex
	issues  map[string]*model.Issue
	upvotes map[string]bool // "<issue>|<user>"
	history map[string][]model.StatusHistory
	nextID  int

	createErr error
	lastBox   repository.GeoBox
}

var _ repository.IssueRepository = (*fakeIssueRepo)(nil)

func newFakeIssueRepo() *fakeIssueRepo {
	return &fakeIssueRepo{
		issues:  map[string]*model.Issue{},
		upvotes: map[string]bool{},
		history: map[string][]model.StatusHistory{},
	}
}

func (f *fakeIssueRepo) Create(_ context.Context, issue *model.Issue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	issue.ID = fmt.Sprintf("issue-%02d", f.nextID)
	cp := *issue
	f.issues[issue.ID] = &cp
	f.history[issue.ID] = []model.StatusHistory{{IssueID: issue.ID, NewStatus: issue.Status, UpdatedBy: issue.ReporterID}}
	return nil
}

func (f *fakeIssueRepo) GetByID(_ context.Context, id string) (*model.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[id]
	if !ok {
		return nil, apperror.NotFound("issue", id)
	}
	cp := *issue
	return &cp, nil
}

func (f *fakeIssueRepo) List(_ context.Context, opts repository.ListOptions) (*repository.Page[model.Issue], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	opts = opts.Normalize()

	var all []model.Issue
	for _, i := range f.issues {
		if opts.Status != "" && i.Status != opts.Status {
			continue
		}
		if opts.ReporterID != "" && i.ReporterID != opts.ReporterID {
			continue
		}
		if opts.Search != "" && !containsFold(opts.Search, i.Title, i.Description, i.Address) {
			continue
		}
		all = append(all, *i)
	}
	sort.Slice(all, func(a, b int) bool { return all[a].ID > all[b].ID })

	page := &repository.Page[model.Issue]{Items: []model.Issue{}, Total: int64(len(all))}
	start := min(opts.Offset(), len(all))
	end := min(start+opts.PerPage, len(all))
	page.Items = append(page.Items, all[start:end]...)
	return page, nil
}

func containsFold(term string, fields ...string) bool {
	term = strings.ToLower(term)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}
	return false
}

func (f *fakeIssueRepo) Nearby(_ context.Context, box repository.GeoBox, limit int) ([]model.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastBox = box
	out := []model.Issue{}
	for _, i := range f.issues {
		if i.Latitude == nil || i.Longitude == nil {
			continue
		}
		if *i.Latitude < box.MinLat || *i.Latitude > box.MaxLat || *i.Longitude < box.MinLng || *i.Longitude > box.MaxLng {
			continue
		}
		out = append(out, *i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID > out[b].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeIssueRepo) UpdateStatus(_ context.Context, issue *model.Issue, entry *model.StatusHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.issues[issue.ID]
	if !ok {
		return apperror.NotFound("issue", issue.ID)
	}
	stored.Status = issue.Status
	entry.IssueID = issue.ID
	f.history[issue.ID] = append(f.history[issue.ID], *entry)
	return nil
}

func (f *fakeIssueRepo) History(_ context.Context, issueID string) ([]model.StatusHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.issues[issueID]; !ok {
		return nil, apperror.NotFound("issue", issueID)
	}
	return append([]model.StatusHistory{}, f.history[issueID]...), nil
}

func (f *fakeIssueRepo) HasUpvoted(_ context.Context, issueID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upvotes[issueID+"|"+userID], nil
}

func (f *fakeIssueRepo) Update(_ context.Context, issue *model.Issue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.issues[issue.ID]; !ok {
		return apperror.NotFound("issue", issue.ID)
	}
	cp := *issue
	f.issues[issue.ID] = &cp
	return nil
}

func (f *fakeIssueRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.issues[id]; !ok {
		return apperror.NotFound("issue", id)
	}
	delete(f.issues, id)
	return nil
}

func (f *fakeIssueRepo) ToggleUpvote(_ context.Context, issueID, userID string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[issueID]
	if !ok {
		return 0, false, apperror.NotFound("issue", issueID)
	}
	key := issueID + "|" + userID
	if f.upvotes[key] {
		delete(f.upvotes, key)
		issue.Upvotes--
		return issue.Upvotes, false, nil
	}
	f.upvotes[key] = true
	issue.Upvotes++
	return issue.Upvotes, true, nil
}

// fakeCommentRepo is an in-memory repository.CommentRepository backed by
// a fakeIssueRepo for the issue existence check.
type fakeCommentRepo struct {
	mu       sync.Mutex
	issues   *fakeIssueRepo
	comments map[string]*model.Comment
	nextID   int
}

var _ repository.CommentRepository = (*fakeCommentRepo)(nil)

func newFakeCommentRepo(issues *fakeIssueRepo) *fakeCommentRepo {
	return &fakeCommentRepo{issues: issues, comments: map[string]*model.Comment{}}
}

func (f *fakeCommentRepo) Create(ctx context.Context, c *model.Comment) error {
	if _, err := f.issues.GetByID(ctx, c.IssueID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c.ID = fmt.Sprintf("comment-%d", f.nextID)
	cp := *c
	f.comments[c.ID] = &cp
	return nil
}

func (f *fakeCommentRepo) GetByID(_ context.Context, id string) (*model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[id]
	if !ok {
		return nil, apperror.NotFound("comment", id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCommentRepo) ListByIssue(_ context.Context, issueID string, opts repository.ListOptions) (*repository.Page[model.Comment], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := &repository.Page[model.Comment]{Items: []model.Comment{}}
	for _, c := range f.comments {
		if c.IssueID == issueID {
			page.Items = append(page.Items, *c)
		}
	}
	page.Total = int64(len(page.Items))
	return page, nil
}

func (f *fakeCommentRepo) Delete(_ context.Context, c *model.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.comments, c.ID)
	return nil
}

// fakeStore is an in-memory storage.Store. failOn makes the upload of the
// named file fail.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
	deleted []string
	seq     int
}

var _ storage.Store = (*fakeStore)(nil)

const fakeStoreURL = "https://cdn.example.com/"

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Upload(_ context.Context, owner string, body []byte, filename, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if filename == f.failOn {
		return "", apperror.Storage("upload", errors.New("connection reset"))
	}
	ct, err := storage.ResolveContentType(filename, contentType)
	if err != nil {
		return "", err
	}
	f.seq++
	u := fmt.Sprintf("%sissues/%s/2026/01/02/%d.%s", fakeStoreURL, owner, f.seq, strings.TrimPrefix(ct, "image/"))
	f.objects[u] = body
	return u, nil
}

func (f *fakeStore) Delete(_ context.Context, u string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, u)
	delete(f.objects, u)
	return nil
}

func (f *fakeStore) Owner(u string) (string, bool) {
	key, ok := strings.CutPrefix(u, fakeStoreURL)
	if !ok {
		return "", false
	}
	return storage.KeyOwner(key)
}

func (f *fakeStore) Ping(context.Context) error { return nil }

// fakePublisher records events.
type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	return f.err
}

// fakeStatsRepo counts how often the database was asked.
type fakeStatsRepo struct {
	calls int
	stats *model.Stats
	err   error
}

func (f *fakeStatsRepo) Stats(context.Context) (*model.Stats, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

// fakeAnalyticsRepo returns a fixed dashboard and remembers the window.
type fakeAnalyticsRepo struct {
	since     time.Time
	analytics *model.Analytics
	err       error
}

func (f *fakeAnalyticsRepo) Analytics(_ context.Context, since time.Time) (*model.Analytics, error) {
	f.since = since
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.analytics
	return &cp, nil
}
