package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/service"
)

type AnalyticsHandler struct {
	analytics *service.AnalyticsService
	logger    *slog.Logger
}

func NewAnalyticsHandler(analytics *service.AnalyticsService, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, logger: logger}
}

// HandleSummary returns the admin dashboard.
//
// HTTP: GET /api/v1/analytics/summary?days=30
func (h *AnalyticsHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	days := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, h.logger, apperror.ValidationFailed("days", "days must be a positive whole number"))
			return
		}
		days = n
	}

	a, err := h.analytics.Summary(r.Context(), user, days)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
