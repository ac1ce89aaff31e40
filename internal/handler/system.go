package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/civicfix/internal/model"
	"github.com/sakif/civicfix/internal/repository"
	"github.com/sakif/civicfix/internal/service"
)

const healthTimeout = 5 * time.Second

// SystemHandler serves the service-level endpoints: root, health,
// init-db, stats and the enum lists clients build forms from.
type SystemHandler struct {
	version  string
	db       repository.Pinger
	storage  repository.Pinger
	migrator repository.Migrator
	stats    *service.StatsService
	logger   *slog.Logger
}

func NewSystemHandler(
	version string,
	db repository.Pinger,
	storage repository.Pinger,
	migrator repository.Migrator,
	stats *service.StatsService,
	logger *slog.Logger,
) *SystemHandler {
	return &SystemHandler{
		version:  version,
		db:       db,
		storage:  storage,
		migrator: migrator,
		stats:    stats,
		logger:   logger,
	}
}

// HandleRoot identifies the API.
//
// HTTP: GET /
func (h *SystemHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "CivicFix API",
		"version": h.version,
		"status":  "running",
	})
}

// HandleHealth pings the database and the object store. Any failure makes
// the whole service unhealthy (503) so load balancers stop routing to it.
//
// HTTP: GET /health
func (h *SystemHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	services := map[string]string{
		"db":      h.check(ctx, "db", h.db),
		"storage": h.check(ctx, "storage", h.storage),
	}

	status, code := "healthy", http.StatusOK
	for _, s := range services {
		if s != "healthy" {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"version":  h.version,
		"services": services,
	})
}

func (h *SystemHandler) check(ctx context.Context, name string, p repository.Pinger) string {
	if err := p.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", slog.String("service", name), slog.String("error", err.Error()))
		return "unhealthy"
	}
	return "healthy"
}

// HandleInitDB runs the idempotent migration.
//
// HTTP: POST /init-db
func (h *SystemHandler) HandleInitDB(w http.ResponseWriter, r *http.Request) {
	res, err := h.migrator.Migrate(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.stats.Invalidate()

	msg := "Database is up to date"
	if len(res.NewTables) > 0 || len(res.Applied) > 0 {
		msg = "Database initialized successfully"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    msg,
		"new_tables": res.NewTables,
		"applied":    res.Applied,
	})
}

// HandleStats returns platform-wide counts, cached briefly.
//
// HTTP: GET /api/v1/stats
func (h *SystemHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Get(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HTTP: GET /api/v1/categories
func (h *SystemHandler) HandleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": model.Categories})
}

// HTTP: GET /api/v1/status-options
func (h *SystemHandler) HandleStatusOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"statuses": model.StatusOptions})
}

// HTTP: GET /api/v1/priority-options
func (h *SystemHandler) HandlePriorityOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"priorities": model.PriorityOptions})
}
