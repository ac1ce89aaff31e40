package handler

// Every error response has the same shape:
//
//	{"error": "issue not found with id abc123", "code": "not_found"}
//
// "code" is stable and meant for programs; "error" is for people.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/repository"
)

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// maxJSONBody caps JSON request bodies. Media goes through multipart.
const maxJSONBody = 1 << 20

// writeJSON sends data as JSON. Headers and status must go out before the body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// headers are already sent; all we can do is log
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperror.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperror.ErrStorage):
		return http.StatusBadGateway
	case errors.Is(err, apperror.ErrDatabase):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status and writes the envelope.
//
// Infrastructure failures (storage, database, anything unrecognised) are
// logged with their cause; the client only sees the sanitised message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: "an internal error occurred", Code: "internal_error"}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		resp = ErrorResponse{Error: appErr.Message, Code: appErr.Code, Field: appErr.Field}
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.Int("status", status),
			slog.String("code", resp.Code),
			slog.String("error", err.Error()),
		)
	}
	if status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a JSON body into dst. Malformed or oversized bodies are
// validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperror.ValidationFailed("body", fmt.Sprintf("request body must be %d bytes or less", maxJSONBody))
		}
		return apperror.ValidationFailed("body", "request body must be valid JSON")
	}
	return nil
}

// listOptions reads ?page and ?per_page. Unparseable values fall back to
// the defaults; out-of-range values are clamped by Normalize.
func listOptions(r *http.Request) repository.ListOptions {
	q := r.URL.Query()
	opts := repository.ListOptions{
		Page:    queryInt(q.Get("page"), 1),
		PerPage: queryInt(q.Get("per_page"), repository.DefaultPerPage),
	}
	return opts.Normalize()
}

func queryInt(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return n
}

// pages is the number of pages needed for total items.
func pages(total int64, perPage int) int64 {
	if perPage <= 0 || total == 0 {
		return 0
	}
	return (total + int64(perPage) - 1) / int64(perPage)
}

// Paginated is the list envelope. Key names the items field.
func paginated[T any](key string, page *repository.Page[T], opts repository.ListOptions) map[string]any {
	items := page.Items
	if items == nil {
		items = []T{}
	}
	return map[string]any{
		key:        items,
		"total":    page.Total,
		"page":     opts.Page,
		"per_page": opts.PerPage,
		"pages":    pages(page.Total, opts.PerPage),
	}
}

// NotFound answers unknown routes with the error envelope.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "resource not found", Code: "not_found"})
}

func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		Error: fmt.Sprintf("method %s not allowed", r.Method),
		Code:  "method_not_allowed",
	})
}
