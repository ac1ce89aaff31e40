package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/events"
	"github.com/sakif/civicfix/internal/model"
	"github.com/sakif/civicfix/internal/repository"
	"github.com/sakif/civicfix/internal/storage"
)

const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 5000
	MaxAddressLength     = 500
	MaxMediaFiles        = 10
	MaxSearchLength      = 100
	MaxNotesLength       = 1000

	DefaultNearbyRadiusKm = 5.0
	MaxNearbyRadiusKm     = 100.0
	NearbyLimit           = 50

	kmPerDegree = 111.0
)

// IssueInput is the payload for creating an issue.
type IssueInput struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Priority    model.Priority `json:"priority"`
	Latitude    *float64       `json:"latitude"`
	Longitude   *float64       `json:"longitude"`
	Address     string         `json:"address"`
	// ImageURLs are URLs the reporter already got back from upload-media.
	ImageURLs []string `json:"image_urls"`
}

// IssueUpdate is a partial update. Nil fields are left unchanged.
type IssueUpdate struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Category    *string         `json:"category"`
	Priority    *model.Priority `json:"priority"`
	Latitude    *float64        `json:"latitude"`
	Longitude   *float64        `json:"longitude"`
	Address     *string         `json:"address"`
	ImageURLs   *[]string       `json:"image_urls"`
}

// MediaFile is one uploaded file, already read into memory.
type MediaFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// UpvoteResult is the state after a toggle.
type UpvoteResult struct {
	Upvotes     int  `json:"upvotes"`
	UserUpvoted bool `json:"user_upvoted"`
}

type IssueService struct {
	issues    repository.IssueRepository
	store     storage.Store
	events    events.Publisher
	sanitizer *Sanitizer
	logger    *slog.Logger
}

func NewIssueService(
	issues repository.IssueRepository,
	store storage.Store,
	publisher events.Publisher,
	sanitizer *Sanitizer,
	logger *slog.Logger,
) *IssueService {
	return &IssueService{
		issues:    issues,
		store:     store,
		events:    publisher,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// Create validates in, uploads media and then persists the issue.
//
// Ordering is upload first, persist second. If the n-th upload fails, the
// blobs already stored for this request are deleted before returning. If
// the insert fails after every upload succeeded, the blobs stay behind and
// are logged as orphans.
func (s *IssueService) Create(ctx context.Context, reporter *model.User, in IssueInput, media []MediaFile) (*model.Issue, error) {
	issue, err := s.buildIssue(reporter, in)
	if err != nil {
		return nil, err
	}
	if len(issue.ImageURLs)+len(media) > MaxMediaFiles {
		return nil, apperror.ValidationFailed("files",
			fmt.Sprintf("an issue can have at most %d images", MaxMediaFiles))
	}
	if err := s.checkMedia(issue, nil); err != nil {
		return nil, err
	}

	uploaded, err := s.uploadAll(ctx, reporter.ID, media)
	if err != nil {
		return nil, err
	}
	issue.ImageURLs = append(issue.ImageURLs, uploaded...)

	if err := s.issues.Create(ctx, issue); err != nil {
		if len(uploaded) > 0 {
			s.logger.Error("issue insert failed after upload, media orphaned",
				slog.Any("urls", uploaded),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}

	s.logger.Info("issue created",
		slog.String("id", issue.ID),
		slog.String("reporterID", reporter.ID),
		slog.Int("images", len(issue.ImageURLs)),
	)
	publish(ctx, s.events, s.logger, events.IssueCreated, issue)
	return issue, nil
}

// UploadMedia stores files without attaching them to an issue. The client
// passes the returned URLs in a later create or update.
func (s *IssueService) UploadMedia(ctx context.Context, user *model.User, media []MediaFile) ([]string, int64, error) {
	if len(media) == 0 {
		return nil, 0, apperror.ValidationFailed("files", "no files provided")
	}
	if len(media) > MaxMediaFiles {
		return nil, 0, apperror.ValidationFailed("files",
			fmt.Sprintf("at most %d files per upload", MaxMediaFiles))
	}

	urls, err := s.uploadAll(ctx, user.ID, media)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	for _, m := range media {
		total += int64(len(m.Body))
	}
	s.logger.Info("media uploaded",
		slog.String("userID", user.ID),
		slog.Int("files", len(urls)),
		slog.Int64("bytes", total),
	)
	return urls, total, nil
}

// uploadAll checks every file's type before storing any of them, then
// uploads in order into owner's prefix. A failure deletes what this call
// already stored.
func (s *IssueService) uploadAll(ctx context.Context, owner string, media []MediaFile) ([]string, error) {
	for _, m := range media {
		if len(m.Body) == 0 {
			return nil, apperror.ValidationFailed("files", fmt.Sprintf("file %q is empty", m.Filename))
		}
		if _, err := storage.ResolveContentType(m.Filename, m.ContentType); err != nil {
			return nil, err
		}
	}

	urls := make([]string, 0, len(media))
	for _, m := range media {
		u, err := s.store.Upload(ctx, owner, m.Body, m.Filename, m.ContentType)
		if err != nil {
			s.compensate(ctx, urls)
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, nil
}

// compensate deletes blobs stored earlier in a failed batch. It runs on a
// fresh context: the request context may be the thing that failed.
func (s *IssueService) compensate(ctx context.Context, urls []string) {
	ctx = context.WithoutCancel(ctx)
	for _, u := range urls {
		if err := s.store.Delete(ctx, u); err != nil {
			s.logger.Warn("compensating delete failed, media orphaned",
				slog.String("url", u),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *IssueService) buildIssue(reporter *model.User, in IssueInput) (*model.Issue, error) {
	issue := &model.Issue{
		Title:       s.sanitizer.Text(in.Title),
		Description: s.sanitizer.Text(in.Description),
		Category:    strings.TrimSpace(in.Category),
		Status:      model.StatusOpen,
		Priority:    in.Priority,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		Address:     s.sanitizer.Text(in.Address),
		ImageURLs:   model.StringList{},
		ReporterID:  reporter.ID,
	}
	if issue.Priority == "" {
		issue.Priority = model.PriorityMedium
	}
	for _, u := range in.ImageURLs {
		issue.ImageURLs = append(issue.ImageURLs, strings.TrimSpace(u))
	}

	if issue.Title == "" {
		return nil, apperror.ValidationFailed("title", "title is required")
	}
	if err := validateIssue(issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// validateIssue checks the fields shared by create and update.
func validateIssue(issue *model.Issue) error {
	if len(issue.Title) > MaxTitleLength {
		return apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}
	if len(issue.Description) > MaxDescriptionLength {
		return apperror.ValidationFailed("description",
			fmt.Sprintf("description must be %d characters or less", MaxDescriptionLength))
	}
	if len(issue.Address) > MaxAddressLength {
		return apperror.ValidationFailed("address",
			fmt.Sprintf("address must be %d characters or less", MaxAddressLength))
	}
	if !model.ValidCategory(issue.Category) {
		return apperror.ValidationFailed("category",
			"invalid category; must be one of: "+strings.Join(model.Categories, ", "))
	}
	if !issue.Priority.Valid() {
		return apperror.ValidationFailed("priority", "priority must be one of LOW, MEDIUM, HIGH, URGENT")
	}
	if (issue.Latitude == nil) != (issue.Longitude == nil) {
		return apperror.ValidationFailed("latitude", "latitude and longitude must be given together")
	}
	if issue.Latitude != nil && !validCoordinates(*issue.Latitude, *issue.Longitude) {
		return apperror.ValidationFailed("latitude", "invalid latitude or longitude coordinates")
	}
	if len(issue.ImageURLs) > MaxMediaFiles {
		return apperror.ValidationFailed("image_urls",
			fmt.Sprintf("an issue can have at most %d images", MaxMediaFiles))
	}
	return nil
}

// checkMedia accepts an image URL only if the store handed it out to the
// issue's reporter, or if the issue already carried it before this change.
func (s *IssueService) checkMedia(issue *model.Issue, prior model.StringList) error {
	for _, u := range issue.ImageURLs {
		if slices.Contains(prior, u) {
			continue
		}
		owner, ok := s.store.Owner(u)
		if !ok {
			return apperror.ValidationFailed("image_urls",
				fmt.Sprintf("%q was not uploaded through upload-media", u))
		}
		if owner != issue.ReporterID {
			return apperror.ValidationFailed("image_urls",
				fmt.Sprintf("%q was uploaded by another user", u))
		}
	}
	return nil
}

// ownedMedia returns the URLs of issue that live in its reporter's prefix.
// Anything else is never deleted on the issue's behalf.
func (s *IssueService) ownedMedia(issue *model.Issue) []string {
	var owned []string
	for _, u := range issue.ImageURLs {
		if owner, ok := s.store.Owner(u); ok && owner == issue.ReporterID {
			owned = append(owned, u)
		}
	}
	return owned
}

func validCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func (s *IssueService) Get(ctx context.Context, id string) (*model.Issue, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "issue ID is required")
	}
	return s.issues.GetByID(ctx, id)
}

// GetForViewer is Get plus whether viewer upvoted the issue. A nil viewer
// (anonymous request) always gets false.
func (s *IssueService) GetForViewer(ctx context.Context, viewer *model.User, id string) (*model.Issue, error) {
	issue, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	upvoted := false
	if viewer != nil {
		if upvoted, err = s.issues.HasUpvoted(ctx, issue.ID, viewer.ID); err != nil {
			return nil, err
		}
	}
	issue.UserUpvoted = &upvoted
	return issue, nil
}

// NearbyQuery is a circle around a point. RadiusKm <= 0 means the default.
type NearbyQuery struct {
	Latitude  float64
	Longitude float64
	RadiusKm  float64
}

// Nearby returns up to NearbyLimit issues, newest first, inside the
// bounding box of the circle. The box is an approximation: corners reach
// past the radius.
func (s *IssueService) Nearby(ctx context.Context, q NearbyQuery) ([]model.Issue, NearbyQuery, error) {
	if q.RadiusKm == 0 {
		q.RadiusKm = DefaultNearbyRadiusKm
	}
	if !validCoordinates(q.Latitude, q.Longitude) {
		return nil, q, apperror.ValidationFailed("latitude", "invalid latitude or longitude coordinates")
	}
	if math.IsNaN(q.RadiusKm) || q.RadiusKm <= 0 || q.RadiusKm > MaxNearbyRadiusKm {
		return nil, q, apperror.ValidationFailed("radius",
			fmt.Sprintf("radius must be greater than 0 and at most %g km", MaxNearbyRadiusKm))
	}

	issues, err := s.issues.Nearby(ctx, boundingBox(q), NearbyLimit)
	if err != nil {
		return nil, q, err
	}
	return issues, q, nil
}

// boundingBox converts the radius to degrees. A degree of longitude
// shrinks with cos(latitude); close to the poles the box spans every
// longitude. The box is not wrapped across the antimeridian.
func boundingBox(q NearbyQuery) repository.GeoBox {
	latRange := q.RadiusKm / kmPerDegree
	lngRange := 180.0
	if c := math.Cos(q.Latitude * math.Pi / 180); c > 0.01 {
		lngRange = min(q.RadiusKm/(kmPerDegree*c), 180)
	}
	return repository.GeoBox{
		MinLat: max(q.Latitude-latRange, -90),
		MaxLat: min(q.Latitude+latRange, 90),
		MinLng: max(q.Longitude-lngRange, -180),
		MaxLng: min(q.Longitude+lngRange, 180),
	}
}

// History returns the issue's status timeline, oldest first.
func (s *IssueService) History(ctx context.Context, id string) ([]model.StatusHistory, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "issue ID is required")
	}
	return s.issues.History(ctx, id)
}

// List returns a page of issues. Unknown status or category filters are
// validation errors rather than empty pages.
func (s *IssueService) List(ctx context.Context, opts repository.ListOptions) (*repository.Page[model.Issue], error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, apperror.ValidationFailed("status", fmt.Sprintf("unknown status %q", opts.Status))
	}
	if opts.Category != "" && !model.ValidCategory(opts.Category) {
		return nil, apperror.ValidationFailed("category", fmt.Sprintf("unknown category %q", opts.Category))
	}
	opts.Search = strings.TrimSpace(opts.Search)
	if len(opts.Search) > MaxSearchLength {
		return nil, apperror.ValidationFailed("search",
			fmt.Sprintf("search must be %d characters or less", MaxSearchLength))
	}
	return s.issues.List(ctx, opts.Normalize())
}

// Update applies a partial update. Only the reporter or an admin may edit.
func (s *IssueService) Update(ctx context.Context, actor *model.User, id string, in IssueUpdate) (*model.Issue, error) {
	issue, err := s.editable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	prior := slices.Clone(issue.ImageURLs)

	if in.Title != nil {
		issue.Title = s.sanitizer.Text(*in.Title)
		if issue.Title == "" {
			return nil, apperror.ValidationFailed("title", "title must not be empty")
		}
	}
	if in.Description != nil {
		issue.Description = s.sanitizer.Text(*in.Description)
	}
	if in.Category != nil {
		issue.Category = strings.TrimSpace(*in.Category)
	}
	if in.Priority != nil {
		issue.Priority = *in.Priority
	}
	if in.Latitude != nil || in.Longitude != nil {
		issue.Latitude, issue.Longitude = in.Latitude, in.Longitude
	}
	if in.Address != nil {
		issue.Address = s.sanitizer.Text(*in.Address)
	}
	if in.ImageURLs != nil {
		issue.ImageURLs = model.StringList{}
		for _, u := range *in.ImageURLs {
			issue.ImageURLs = append(issue.ImageURLs, strings.TrimSpace(u))
		}
	}
	if err := validateIssue(issue); err != nil {
		return nil, err
	}
	if err := s.checkMedia(issue, prior); err != nil {
		return nil, err
	}

	if err := s.issues.Update(ctx, issue); err != nil {
		return nil, err
	}
	s.logger.Info("issue updated", slog.String("id", issue.ID), slog.String("actorID", actor.ID))
	return issue, nil
}

// UpdateStatus moves an issue through its workflow and records the change,
// with optional notes, in the issue's history.
func (s *IssueService) UpdateStatus(ctx context.Context, actor *model.User, id string, status model.Status, notes string) (*model.Issue, error) {
	if !status.Valid() {
		return nil, apperror.ValidationFailed("status", fmt.Sprintf("invalid status %q", status))
	}
	notes = s.sanitizer.Text(notes)
	if len(notes) > MaxNotesLength {
		return nil, apperror.ValidationFailed("notes",
			fmt.Sprintf("notes must be %d characters or less", MaxNotesLength))
	}
	issue, err := s.editable(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	old := issue.Status
	issue.Status = status
	entry := &model.StatusHistory{
		OldStatus: &old,
		NewStatus: status,
		UpdatedBy: actor.ID,
		Notes:     notes,
	}
	if err := s.issues.UpdateStatus(ctx, issue, entry); err != nil {
		return nil, err
	}

	s.logger.Info("issue status changed",
		slog.String("id", issue.ID),
		slog.String("from", string(old)),
		slog.String("to", string(status)),
	)
	publish(ctx, s.events, s.logger, events.IssueStatusUpdated, map[string]any{
		"issue_id":   issue.ID,
		"old_status": old,
		"new_status": status,
		"changed_by": actor.ID,
	})
	return issue, nil
}

// Delete removes the issue with its comments and upvotes, then deletes the
// media its reporter uploaded, best effort.
func (s *IssueService) Delete(ctx context.Context, actor *model.User, id string) error {
	issue, err := s.editable(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.issues.Delete(ctx, issue.ID); err != nil {
		return err
	}

	owned := s.ownedMedia(issue)
	if skipped := len(issue.ImageURLs) - len(owned); skipped > 0 {
		s.logger.Warn("issue referenced media outside the reporter's prefix, left in place",
			slog.String("id", issue.ID),
			slog.Int("skipped", skipped),
		)
	}
	for _, u := range owned {
		if err := s.store.Delete(ctx, u); err != nil {
			s.logger.Warn("issue media not deleted", slog.String("url", u), slog.String("error", err.Error()))
		}
	}
	s.logger.Info("issue deleted", slog.String("id", issue.ID), slog.String("actorID", actor.ID))
	publish(ctx, s.events, s.logger, events.IssueDeleted, map[string]string{"issue_id": issue.ID})
	return nil
}

func (s *IssueService) ToggleUpvote(ctx context.Context, user *model.User, id string) (*UpvoteResult, error) {
	count, upvoted, err := s.issues.ToggleUpvote(ctx, id, user.ID)
	if err != nil {
		return nil, err
	}
	res := &UpvoteResult{Upvotes: count, UserUpvoted: upvoted}
	publish(ctx, s.events, s.logger, events.IssueUpvoted, map[string]any{
		"issue_id": id,
		"user_id":  user.ID,
		"upvotes":  count,
		"upvoted":  upvoted,
	})
	return res, nil
}

// editable loads the issue and checks actor may change it.
func (s *IssueService) editable(ctx context.Context, actor *model.User, id string) (*model.Issue, error) {
	issue, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canModify(actor, issue.ReporterID) {
		return nil, apperror.Forbidden("only the reporter or an admin can change this issue")
	}
	return issue, nil
}

func canModify(actor *model.User, ownerID string) bool {
	return actor != nil && (actor.IsAdmin() || actor.ID == ownerID)
}
