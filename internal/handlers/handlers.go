// Package handlers exposes the JSON management API: job CRUD, run
// control, progress snapshots and an SSE event stream.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/jmhart/fansync/internal/config"
	"github.com/jmhart/fansync/internal/db"
	"github.com/jmhart/fansync/internal/mount"
	"github.com/jmhart/fansync/internal/rsync"
	"github.com/jmhart/fansync/internal/scheduler"
	"github.com/jmhart/fansync/internal/services"
)

// Handler holds all HTTP handlers
type Handler struct {
	db       *db.DB
	cfg      *config.Config
	executor rsync.ExecutorInterface
	service  *services.Service
	sched    *scheduler.Scheduler
	checker  mount.Checker
}

// New creates a new Handler
func New(database *db.DB, cfg *config.Config, executor rsync.ExecutorInterface, service *services.Service, sched *scheduler.Scheduler, checker mount.Checker) *Handler {
	return &Handler{
		db:       database,
		cfg:      cfg,
		executor: executor,
		service:  service,
		sched:    sched,
		checker:  checker,
	}
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/jobs", h.Jobs)
	mux.HandleFunc("/api/jobs/", h.JobRoutes)
	mux.HandleFunc("/api/status", h.Status)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
