package types

// WorkerState is the lifecycle of one worker lane within a run.
type WorkerState string

const (
	WorkerPending  WorkerState = "pending"
	WorkerRunning  WorkerState = "running"
	WorkerPaused   WorkerState = "paused"
	WorkerStopped  WorkerState = "stopped"
	WorkerFinished WorkerState = "finished"
)

// WorkerProgress is the per-worker cell of a progress snapshot.
type WorkerProgress struct {
	CurrentItem string      `json:"current_item,omitempty"`
	ItemsDone   int         `json:"items_done"`
	ItemsTotal  int         `json:"items_total"`
	BytesDone   uint64      `json:"bytes_done"`
	Rate        string      `json:"rate,omitempty"`
	State       WorkerState `json:"state"`
}

// ProgressSnapshot is a consistent view of a running job's progress,
// recomputed on demand and pushed to SSE subscribers. Never persisted
// beyond the done counters checkpointed to the job record.
type ProgressSnapshot struct {
	JobID         string                 `json:"job_id"`
	State         string                 `json:"state"`
	Phase         string                 `json:"phase,omitempty"` // push or pull for bidirectional jobs
	TotalFiles    uint64                 `json:"total_files"`
	FilesDone     uint64                 `json:"files_done"`
	TotalBytes    uint64                 `json:"total_bytes"`
	BytesDone     uint64                 `json:"bytes_done"`
	Percent       float64                `json:"percent"`
	PerWorker     map[int]WorkerProgress `json:"per_worker,omitempty"`
	ActiveWorkers int                    `json:"active_workers"`
}
