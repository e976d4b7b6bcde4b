package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/jmhart/fansync/internal/db"
	"github.com/jmhart/fansync/internal/types"
)

// progressEvent is the SSE payload: the raw snapshot plus humanized
// totals so clients do not reimplement byte formatting.
type progressEvent struct {
	*types.ProgressSnapshot
	BytesDoneHuman  string `json:"bytes_done_human"`
	TotalBytesHuman string `json:"total_bytes_human"`
}

// JobEventsSSE handles GET /api/jobs/{id}/events
func (h *Handler) JobEventsSSE(w http.ResponseWriter, r *http.Request, id string) {
	job, err := h.db.GetJob(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SSE not supported")
		return
	}

	// Subscribe to updates
	updates := h.service.Subscribe(id)
	defer h.service.Unsubscribe(id, updates)

	// Send initial state
	snap := h.service.GetProgress(id)
	if snap == nil {
		snap = persistedSnapshot(job)
	}
	h.sendProgress(w, flusher, snap)

	if !h.service.Active(id) && db.JobState(snap.State).Terminal() {
		h.sendEvent(w, flusher, "complete", fmt.Sprintf(`{"state":%q}`, snap.State))
		return
	}

	// Listen for updates
	for {
		select {
		case <-r.Context().Done():
			return
		case update, ok := <-updates:
			if !ok {
				// Run wound down; report the persisted outcome.
				state := "completed"
				if j, err := h.db.GetJob(id); err == nil {
					state = string(j.State)
				}
				h.sendEvent(w, flusher, "complete", fmt.Sprintf(`{"state":%q}`, state))
				return
			}
			h.sendProgress(w, flusher, update)
			if db.JobState(update.State).Terminal() {
				h.sendEvent(w, flusher, "complete", fmt.Sprintf(`{"state":%q}`, update.State))
				return
			}
		}
	}
}

func (h *Handler) sendProgress(w http.ResponseWriter, flusher http.Flusher, snap *types.ProgressSnapshot) {
	data, _ := json.Marshal(progressEvent{
		ProgressSnapshot: snap,
		BytesDoneHuman:   humanize.Bytes(snap.BytesDone),
		TotalBytesHuman:  humanize.Bytes(snap.TotalBytes),
	})
	h.sendEvent(w, flusher, "progress", string(data))
}

func (h *Handler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// persistedSnapshot builds a snapshot from the job row for jobs with no
// live execution attached.
func persistedSnapshot(job *db.Job) *types.ProgressSnapshot {
	snap := &types.ProgressSnapshot{
		JobID:      job.ID,
		State:      string(job.State),
		TotalFiles: job.TotalFiles,
		FilesDone:  job.FilesDone,
		TotalBytes: job.TotalBytes,
		BytesDone:  job.BytesDone,
	}
	if job.TotalBytes > 0 {
		snap.Percent = float64(job.BytesDone) / float64(job.TotalBytes) * 100
	}
	return snap
}
