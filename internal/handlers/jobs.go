package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmhart/fansync/internal/batch"
	"github.com/jmhart/fansync/internal/config"
	"github.com/jmhart/fansync/internal/db"
	"github.com/jmhart/fansync/internal/scan"
	"github.com/jmhart/fansync/internal/services"
)

// jobRequest is the create/update payload. Pointer fields distinguish
// "absent" from zero so updates can leave settings untouched.
type jobRequest struct {
	Name            string   `json:"name"`
	SourcePath      string   `json:"source_path"`
	DestPath        string   `json:"dest_path"`
	Direction       string   `json:"direction"`
	Parallelism     *int     `json:"parallelism"`
	RsyncArgs       *string  `json:"rsync_args"`
	ExcludePatterns []string `json:"exclude_patterns"`
	Schedule        *string  `json:"schedule"`
	Enabled         *bool    `json:"enabled"`
}

// JobView is the detail representation of a job
type JobView struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	SourcePath      string             `json:"source_path"`
	DestPath        string             `json:"dest_path"`
	Direction       db.Direction       `json:"direction"`
	Parallelism     int                `json:"parallelism"`
	RsyncArgs       string             `json:"rsync_args"`
	ExcludePatterns []string           `json:"exclude_patterns"`
	Schedule        string             `json:"schedule,omitempty"`
	Enabled         bool               `json:"enabled"`
	State           db.JobState        `json:"state"`
	ErrorKind       string             `json:"error_kind,omitempty"`
	Message         string             `json:"message,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	FinishedAt      *time.Time         `json:"finished_at,omitempty"`
	Assignments     []batch.Assignment `json:"assignments,omitempty"`
	Errors          []db.ItemError     `json:"errors,omitempty"`
	FilenameIssues  []scan.Issue       `json:"filename_issues,omitempty"`
	TotalFiles      uint64             `json:"total_files"`
	FilesDone       uint64             `json:"files_done"`
	TotalBytes      uint64             `json:"total_bytes"`
	BytesDone       uint64             `json:"bytes_done"`
	LastRunAt       *time.Time         `json:"last_run_at,omitempty"`
	LastRunStats    *db.RunStats       `json:"last_run_stats,omitempty"`
	RunCount        int                `json:"run_count"`
	TotalFilesSync  uint64             `json:"total_files_synced"`
	TotalBytesSync  uint64             `json:"total_bytes_transferred"`
	NextRunAt       *time.Time         `json:"next_run_at,omitempty"`
}

func jobView(j *db.Job) *JobView {
	return &JobView{
		ID:              j.ID,
		Name:            j.Name,
		SourcePath:      j.SourcePath,
		DestPath:        j.DestPath,
		Direction:       j.Direction,
		Parallelism:     j.Parallelism,
		RsyncArgs:       j.RsyncArgs,
		ExcludePatterns: j.ExcludePatterns,
		Schedule:        j.Schedule,
		Enabled:         j.Enabled,
		State:           j.State,
		ErrorKind:       j.ErrorKind,
		Message:         j.Message,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		FinishedAt:      j.FinishedAt,
		Assignments:     j.Assignments,
		Errors:          j.Errors,
		FilenameIssues:  j.FilenameIssues,
		TotalFiles:      j.TotalFiles,
		FilesDone:       j.FilesDone,
		TotalBytes:      j.TotalBytes,
		BytesDone:       j.BytesDone,
		LastRunAt:       j.LastRunAt,
		LastRunStats:    j.LastRunStats,
		RunCount:        j.RunCount,
		TotalFilesSync:  j.TotalFilesSynced,
		TotalBytesSync:  j.TotalBytesTransferred,
		NextRunAt:       j.NextRunAt,
	}
}

// Jobs handles GET and POST /api/jobs
func (h *Handler) Jobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.ListJobs(w, r)
	case http.MethodPost:
		h.CreateJob(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// ListJobs handles GET /api/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.db.ListJobs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []*db.Summary{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// CreateJob handles POST /api/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	job := &db.Job{
		ID:              uuid.NewString(),
		Name:            strings.TrimSpace(req.Name),
		SourcePath:      config.ExpandPath(req.SourcePath),
		DestPath:        config.ExpandPath(req.DestPath),
		Direction:       db.Direction(req.Direction),
		Parallelism:     h.cfg.DefaultParallelism,
		RsyncArgs:       h.cfg.DefaultRsyncArgs,
		ExcludePatterns: h.cfg.DefaultExcludes,
		Enabled:         true,
		State:           db.JobStateCreated,
	}
	if req.Direction == "" {
		job.Direction = db.DirectionPush
	}
	if req.Parallelism != nil {
		job.Parallelism = *req.Parallelism
	}
	if req.RsyncArgs != nil {
		job.RsyncArgs = *req.RsyncArgs
	}
	if req.ExcludePatterns != nil {
		job.ExcludePatterns = req.ExcludePatterns
	}
	if req.Schedule != nil {
		job.Schedule = strings.TrimSpace(*req.Schedule)
	}
	if req.Enabled != nil {
		job.Enabled = *req.Enabled
	}

	if err := services.ValidateConfig(job); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if job.Schedule != "" {
		next, err := h.sched.NextRun(job.Schedule, time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cron expression: "+err.Error())
			return
		}
		if job.Enabled {
			job.NextRunAt = &next
		}
	}

	if err := h.db.CreateJob(job); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create job: "+err.Error())
		return
	}
	if job.NextRunAt != nil {
		if err := h.db.SetNextRun(job.ID, *job.NextRunAt); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	created, err := h.db.GetJob(job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, jobView(created))
}

// JobRoutes handles routes under /api/jobs/{id}
func (h *Handler) JobRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// parts: ["api", "jobs", id, action?]
	if len(parts) < 3 || parts[2] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[2]

	if len(parts) >= 4 {
		switch parts[3] {
		case "start":
			if r.Method == http.MethodPost {
				h.StartJob(w, r, id)
				return
			}
		case "stop":
			if r.Method == http.MethodPost {
				h.StopJob(w, r, id)
				return
			}
		case "pause":
			if r.Method == http.MethodPost {
				h.PauseJob(w, r, id)
				return
			}
		case "resume":
			if r.Method == http.MethodPost {
				h.ResumeJob(w, r, id)
				return
			}
		case "dry-run":
			if r.Method == http.MethodPost {
				h.DryRunJob(w, r, id)
				return
			}
		case "progress":
			if r.Method == http.MethodGet {
				h.JobProgress(w, r, id)
				return
			}
		case "events":
			if r.Method == http.MethodGet {
				h.JobEventsSSE(w, r, id)
				return
			}
		}
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.GetJob(w, r, id)
	case http.MethodPut:
		h.UpdateJob(w, r, id)
	case http.MethodDelete:
		h.DeleteJob(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request, id string) {
	job, err := h.db.GetJob(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, jobView(job))
}

// UpdateJob handles PUT /api/jobs/{id}. Configuration is frozen while
// the job has live execution.
func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request, id string) {
	job, err := h.db.GetJob(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if h.service.Active(id) {
		writeError(w, http.StatusConflict, "job is running; stop it before editing")
		return
	}

	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.Name != "" {
		job.Name = strings.TrimSpace(req.Name)
	}
	if req.SourcePath != "" {
		job.SourcePath = config.ExpandPath(req.SourcePath)
	}
	if req.DestPath != "" {
		job.DestPath = config.ExpandPath(req.DestPath)
	}
	if req.Direction != "" {
		job.Direction = db.Direction(req.Direction)
	}
	if req.Parallelism != nil {
		job.Parallelism = *req.Parallelism
	}
	if req.RsyncArgs != nil {
		job.RsyncArgs = *req.RsyncArgs
	}
	if req.ExcludePatterns != nil {
		job.ExcludePatterns = req.ExcludePatterns
	}
	if req.Schedule != nil {
		job.Schedule = strings.TrimSpace(*req.Schedule)
	}
	if req.Enabled != nil {
		job.Enabled = *req.Enabled
	}

	if err := services.ValidateConfig(job); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job.NextRunAt = nil
	if job.Schedule != "" {
		next, err := h.sched.NextRun(job.Schedule, time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cron expression: "+err.Error())
			return
		}
		if job.Enabled {
			job.NextRunAt = &next
		}
	}

	if err := h.db.UpdateJobConfig(job); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update job: "+err.Error())
		return
	}

	updated, err := h.db.GetJob(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobView(updated))
}

// DeleteJob handles DELETE /api/jobs/{id}
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request, id string) {
	if h.service.Active(id) {
		writeError(w, http.StatusConflict, "job is running; stop it before deleting")
		return
	}
	if _, err := h.db.GetJob(id); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err := h.db.DeleteJob(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartJob handles POST /api/jobs/{id}/start
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.Start(id); err != nil {
		switch {
		case errors.Is(err, services.ErrJobActive):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusNotFound, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// StopJob handles POST /api/jobs/{id}/stop
func (h *Handler) StopJob(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.Cancel(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// PauseJob handles POST /api/jobs/{id}/pause
func (h *Handler) PauseJob(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.Pause(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// ResumeJob handles POST /api/jobs/{id}/resume
func (h *Handler) ResumeJob(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.Resume(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

// DryRunJob handles POST /api/jobs/{id}/dry-run
func (h *Handler) DryRunJob(w http.ResponseWriter, r *http.Request, id string) {
	result, err := h.service.DryRun(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrJobActive):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// JobProgress handles GET /api/jobs/{id}/progress. For idle jobs it
// falls back to the persisted counters.
func (h *Handler) JobProgress(w http.ResponseWriter, r *http.Request, id string) {
	if snap := h.service.GetProgress(id); snap != nil {
		writeJSON(w, http.StatusOK, snap)
		return
	}

	job, err := h.db.GetJob(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, persistedSnapshot(job))
}
