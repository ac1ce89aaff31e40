package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/civicfix/internal/auth"
	"github.com/sakif/civicfix/internal/config"
	"github.com/sakif/civicfix/internal/events"
	"github.com/sakif/civicfix/internal/handler"
	"github.com/sakif/civicfix/internal/model"
	"github.com/sakif/civicfix/internal/repository/gormstore"
	"github.com/sakif/civicfix/internal/service"
	"github.com/sakif/civicfix/internal/storage"
	"github.com/sakif/civicfix/internal/storage/storagetest"
)

const (
	testUserHeader = "X-Test-User"
	testMaxUpload  = 1 << 20
)

// testAPI wires the handlers to a real in-memory SQLite store and a fake S3
// endpoint. Authentication is replaced by asUser so tests pick the caller
// directly; token handling is covered in the auth package.
type testAPI struct {
	router http.Handler
	store  *gormstore.Store
	s3     *storagetest.FakeS3
	issues *service.IssueService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := gormstore.Open(ctx, "sqlite://file::memory:", config.PoolConfig{Size: 1, Timeout: 5 * time.Second}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	_, err = store.Migrate(ctx)
	require.NoError(t, err)

	fake := storagetest.NewFakeS3(t)
	blobs, err := storage.NewS3(ctx, fake.Config(), logger)
	require.NoError(t, err)

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789")
	require.NoError(t, err)
	sanitizer := service.NewSanitizer()

	authSvc := service.NewAuthService(store.Users(), tokens, auth.NewPasswordServiceForTest(bcrypt.MinCost), sanitizer, logger)
	userSvc := service.NewUserService(store.Users(), sanitizer, logger)
	issueSvc := service.NewIssueService(store.Issues(), blobs, events.Noop{}, sanitizer, logger)
	commentSvc := service.NewCommentService(store.Comments(), events.Noop{}, sanitizer, logger)
	statsSvc := service.NewStatsService(store, service.StatsTTL)
	analyticsSvc := service.NewAnalyticsService(store)

	authH := handler.NewAuthHandler(authSvc, nil, logger)
	userH := handler.NewUserHandler(userSvc, issueSvc, logger)
	issueH := handler.NewIssueHandler(issueSvc, testMaxUpload, logger)
	commentH := handler.NewCommentHandler(commentSvc, logger)
	systemH := handler.NewSystemHandler("test", store, blobs, store, statsSvc, logger)
	analyticsH := handler.NewAnalyticsHandler(analyticsSvc, logger)

	r := chi.NewRouter()
	r.Use(asUser(store))
	r.Get("/", systemH.HandleRoot)
	r.Get("/health", systemH.HandleHealth)
	r.Post("/init-db", systemH.HandleInitDB)
	r.Post("/auth/signup", authH.HandleSignup)
	r.Post("/auth/login-with-password", authH.HandleLoginWithPassword)
	r.Get("/auth/github/login", authH.HandleGitHubLogin)
	r.Get("/users/me", userH.HandleMe)
	r.Put("/users/me", userH.HandleUpdateMe)
	r.Get("/users/{id}/issues", userH.HandleUserIssues)
	r.Get("/issues", issueH.HandleList)
	r.Post("/issues", issueH.HandleCreate)
	r.Post("/issues/upload-media", issueH.HandleUploadMedia)
	r.Get("/issues/nearby", issueH.HandleNearby)
	r.Get("/issues/{id}", issueH.HandleGet)
	r.Get("/issues/{id}/history", issueH.HandleHistory)
	r.Put("/issues/{id}", issueH.HandleUpdate)
	r.Put("/issues/{id}/status", issueH.HandleUpdateStatus)
	r.Delete("/issues/{id}", issueH.HandleDelete)
	r.Post("/issues/{id}/upvote", issueH.HandleUpvote)
	r.Get("/issues/{id}/comments", commentH.HandleList)
	r.Post("/issues/{id}/comments", commentH.HandleCreate)
	r.Delete("/comments/{id}", commentH.HandleDelete)
	r.Get("/stats", systemH.HandleStats)
	r.Get("/categories", systemH.HandleCategories)
	r.Get("/status-options", systemH.HandleStatusOptions)
	r.Get("/priority-options", systemH.HandlePriorityOptions)
	r.Get("/analytics/summary", analyticsH.HandleSummary)

	return &testAPI{router: r, store: store, s3: fake, issues: issueSvc}
}

// asUser puts the user named by X-Test-User into the request context.
func asUser(store *gormstore.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := r.Header.Get(testUserHeader); id != "" {
				if u, err := store.Users().GetUserByID(r.Context(), id); err == nil {
					r = r.WithContext(auth.WithUser(r.Context(), u))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *testAPI) createUser(t *testing.T, email string, role model.Role) *model.User {
	t.Helper()
	u := &model.User{Email: email, Name: "User " + email, Role: role}
	require.NoError(t, a.store.Users().Create(context.Background(), u))
	return u
}

func (a *testAPI) createIssue(t *testing.T, reporter *model.User, title string) *model.Issue {
	t.Helper()
	issue, err := a.issues.Create(context.Background(), reporter, service.IssueInput{
		Title:    title,
		Category: "Pothole",
	}, nil)
	require.NoError(t, err)
	return issue
}

// do sends a JSON request (body may be nil) as user (may be nil).
func (a *testAPI) do(t *testing.T, method, path string, body any, user *model.User) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req.Header.Set(testUserHeader, user.ID)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

type upload struct {
	name        string
	contentType string
	body        []byte
}

// doMultipart sends fields and files as multipart/form-data.
func (a *testAPI) doMultipart(t *testing.T, path string, fields map[string]string, files []upload, user *model.User) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.name))
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if user != nil {
		req.Header.Set(testUserHeader, user.ID)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field"`
}

func jpeg(name string) upload {
	return upload{name: name, contentType: "image/jpeg", body: []byte("\xff\xd8\xff fake jpeg " + name)}
}
