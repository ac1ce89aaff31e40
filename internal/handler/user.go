package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/civicfix/internal/service"
)

// UserHandler serves the caller's profile and a user's reported issues.
type UserHandler struct {
	users  *service.UserService
	issues *service.IssueService
	logger *slog.Logger
}

func NewUserHandler(users *service.UserService, issues *service.IssueService, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		issues: issues,
		logger: logger,
	}
}

// HandleMe returns the authenticated user.
//
// HTTP: GET /api/v1/users/me
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// HandleUpdateMe edits name, phone and photo_url. Absent fields are kept.
//
// HTTP: PUT /api/v1/users/me
func (h *UserHandler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	var in service.ProfileUpdate
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	updated, err := h.users.UpdateProfile(r.Context(), user, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Profile updated successfully",
		"user":    updated,
	})
}

// HandleUserIssues lists the issues a user reported.
//
// HTTP: GET /api/v1/users/{id}/issues?page=1&per_page=20
func (h *UserHandler) HandleUserIssues(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	opts := listOptions(r)
	opts.ReporterID = user.ID
	page, err := h.issues.List(r.Context(), opts)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, paginated("issues", page, opts))
}
