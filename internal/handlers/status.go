package handlers

import (
	"net/http"

	"github.com/jmhart/fansync/internal/mount"
)

// StatusResponse reports service health for the status endpoint.
type StatusResponse struct {
	Mount        mount.Status `json:"mount"`
	RsyncVersion string       `json:"rsync_version,omitempty"`
	Jobs         JobCounts    `json:"jobs"`
}

// JobCounts summarizes the job table.
type JobCounts struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Enabled int `json:"enabled"`
}

// Status handles GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// The mount check error is already reflected in the status struct.
	st, _ := h.checker.Check(h.cfg.MountPoint)

	resp := StatusResponse{Mount: st}
	if version, err := h.executor.Version(r.Context()); err == nil {
		resp.RsyncVersion = version
	}

	total, active, enabled, err := h.db.CountJobs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Jobs = JobCounts{Total: total, Active: active, Enabled: enabled}

	writeJSON(w, http.StatusOK, resp)
}
