package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/auth"
	"github.com/sakif/civicfix/internal/model"
	"github.com/sakif/civicfix/internal/service"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

// IssueHandler serves the issue endpoints.
type IssueHandler struct {
	issues    *service.IssueService
	maxUpload int64
	logger    *slog.Logger
}

// NewIssueHandler creates an IssueHandler. maxUpload caps multipart bodies.
func NewIssueHandler(issues *service.IssueService, maxUpload int64, logger *slog.Logger) *IssueHandler {
	return &IssueHandler{
		issues:    issues,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// HandleList returns one page of issues, newest first.
//
// HTTP: GET /api/v1/issues?page=1&per_page=20&status=OPEN&category=Pothole&search=road
func (h *IssueHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := listOptions(r)
	opts.Status = model.Status(strings.ToUpper(strings.TrimSpace(q.Get("status"))))
	opts.Category = strings.TrimSpace(q.Get("category"))
	opts.Search = strings.TrimSpace(q.Get("search"))

	page, err := h.issues.List(r.Context(), opts)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, paginated("issues", page, opts))
}

// HandleGet returns a single issue with user_upvoted for the caller, false
// when the request is anonymous.
//
// HTTP: GET /api/v1/issues/{id}
func (h *IssueHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	viewer, _ := auth.UserFromContext(r.Context())
	issue, err := h.issues.GetForViewer(r.Context(), viewer, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issue": issue})
}

// HandleNearby lists recent issues around a point. latitude/longitude may
// be shortened to lat/lng; radius is in km.
//
// HTTP: GET /api/v1/issues/nearby?latitude=23.81&longitude=90.41&radius=5
func (h *IssueHandler) HandleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		nq  service.NearbyQuery
		err error
	)
	if nq.Latitude, err = requiredFloat(q, "latitude", "lat"); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if nq.Longitude, err = requiredFloat(q, "longitude", "lng"); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if raw := strings.TrimSpace(q.Get("radius")); raw != "" {
		if nq.RadiusKm, err = strconv.ParseFloat(raw, 64); err != nil {
			writeError(w, h.logger, apperror.ValidationFailed("radius", "radius must be a number"))
			return
		}
	}

	issues, nq, err := h.issues.Nearby(r.Context(), nq)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"issues":    issues,
		"center":    map[string]float64{"latitude": nq.Latitude, "longitude": nq.Longitude},
		"radius_km": nq.RadiusKm,
		"count":     len(issues),
	})
}

// requiredFloat reads the first of names that is present.
func requiredFloat(q url.Values, names ...string) (float64, error) {
	for _, name := range names {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, apperror.ValidationFailed(names[0], fmt.Sprintf("%s must be a number", names[0]))
		}
		return f, nil
	}
	return 0, apperror.ValidationFailed(names[0], "latitude and longitude parameters are required")
}

// HandleHistory returns the status timeline, oldest first.
//
// HTTP: GET /api/v1/issues/{id}/history
func (h *IssueHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.issues.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// HandleCreate reports a new issue.
//
// HTTP: POST /api/v1/issues
//
// Accepts either a JSON body (with image_urls from a prior upload-media call)
// or a multipart form whose "files" parts are uploaded along with the issue.
func (h *IssueHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	var (
		in    service.IssueInput
		media []service.MediaFile
		err   error
	)
	if isMultipart(r) {
		in, media, err = h.readMultipartIssue(w, r)
	} else {
		err = decodeJSON(w, r, &in)
	}
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	issue, err := h.issues.Create(r.Context(), user, in, media)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Issue created successfully",
		"issue":   issue,
	})
}

// HandleUploadMedia stores files ahead of issue creation.
//
// HTTP: POST /api/v1/issues/upload-media (multipart, field "files")
func (h *IssueHandler) HandleUploadMedia(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	if !isMultipart(r) {
		writeError(w, h.logger, apperror.ValidationFailed("files", "expected multipart/form-data with a files field"))
		return
	}

	form, err := h.parseMultipart(w, r)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	media, err := readFiles(form.File["files"])
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	urls, total, err := h.issues.UploadMedia(r.Context(), user, media)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":    fmt.Sprintf("%d files uploaded successfully", len(urls)),
		"media_urls": urls,
		"total_size": total,
	})
}

// HandleUpdate applies a partial update.
//
// HTTP: PUT /api/v1/issues/{id}
func (h *IssueHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	var in service.IssueUpdate
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	issue, err := h.issues.Update(r.Context(), user, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Issue updated successfully",
		"issue":   issue,
	})
}

// HandleUpdateStatus changes the workflow status.
//
// HTTP: PUT /api/v1/issues/{id}/status  {"status": "IN_PROGRESS", "notes": "..."}
func (h *IssueHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
		Notes  string `json:"notes"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		writeError(w, h.logger, apperror.ValidationFailed("status", "status is required"))
		return
	}

	status := model.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	issue, err := h.issues.UpdateStatus(r.Context(), user, chi.URLParam(r, "id"), status, req.Notes)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Issue status updated to %s", status),
		"issue":   issue,
	})
}

// HandleDelete removes an issue with its comments, upvotes and media.
//
// HTTP: DELETE /api/v1/issues/{id}
func (h *IssueHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.issues.Delete(r.Context(), user, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Issue deleted successfully"})
}

// HandleUpvote toggles the caller's upvote.
//
// HTTP: POST /api/v1/issues/{id}/upvote
func (h *IssueHandler) HandleUpvote(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	res, err := h.issues.ToggleUpvote(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *IssueHandler) parseMultipart(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, err
	}
	return r.MultipartForm, nil
}

// readMultipartIssue reads the issue fields and files of a multipart create.
func (h *IssueHandler) readMultipartIssue(w http.ResponseWriter, r *http.Request) (service.IssueInput, []service.MediaFile, error) {
	var in service.IssueInput
	form, err := h.parseMultipart(w, r)
	if err != nil {
		return in, nil, err
	}

	in.Title = formValue(form, "title")
	in.Description = formValue(form, "description")
	in.Category = formValue(form, "category")
	in.Priority = model.Priority(strings.ToUpper(formValue(form, "priority")))
	in.Address = formValue(form, "address")
	in.ImageURLs = form.Value["image_urls"]

	if in.Latitude, err = formFloat(form, "latitude"); err != nil {
		return in, nil, err
	}
	if in.Longitude, err = formFloat(form, "longitude"); err != nil {
		return in, nil, err
	}

	media, err := readFiles(form.File["files"])
	return in, media, err
}

// writeUploadError answers 413 for bodies over the upload cap.
func (h *IssueHandler) writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: fmt.Sprintf("upload must be %d bytes or less", h.maxUpload),
			Code:  "payload_too_large",
		})
		return
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		err = apperror.ValidationFailed("files", "malformed multipart body")
	}
	writeError(w, h.logger, err)
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

func formValue(form *multipart.Form, key string) string {
	if vs := form.Value[key]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

func formFloat(form *multipart.Form, key string) (*float64, error) {
	raw := formValue(form, key)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperror.ValidationFailed(key, fmt.Sprintf("%s must be a number", key))
	}
	return &f, nil
}

func readFiles(headers []*multipart.FileHeader) ([]service.MediaFile, error) {
	media := make([]service.MediaFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("handler: opening upload %q: %w", fh.Filename, err)
		}
		body, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("handler: reading upload %q: %w", fh.Filename, err)
		}
		media = append(media, service.MediaFile{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Body:        body,
		})
	}
	return media, nil
}

// requireUser returns the authenticated caller. Routes behind
// auth.RequireAuth always have one; the check guards miswired routes.
func requireUser(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*model.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, logger, apperror.Unauthorized(apperror.CodeMissingToken, "authentication required"))
		return nil, false
	}
	return user, true
}
