package db

import (
	"time"

	"github.com/jmhart/fansync/internal/batch"
	"github.com/jmhart/fansync/internal/scan"
)

// JobState represents the lifecycle state of a job
type JobState string

const (
	JobStateCreated             JobState = "created"
	JobStateScanning            JobState = "scanning"
	JobStateRunning             JobState = "running"
	JobStatePaused              JobState = "paused"
	JobStateCompleted           JobState = "completed"
	JobStateCompletedWithErrors JobState = "completed_with_errors"
	JobStateFailed              JobState = "failed"
	JobStateCancelled           JobState = "cancelled"
)

// Terminal reports whether the state is an end state of the job lifecycle.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateCompletedWithErrors, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// Active reports whether a job in this state has live execution attached.
func (s JobState) Active() bool {
	switch s {
	case JobStateScanning, JobStateRunning, JobStatePaused:
		return true
	}
	return false
}

// Direction of a sync job.
type Direction string

const (
	DirectionPush          Direction = "push" // local source to remote-backed mount
	DirectionPull          Direction = "pull" // remote-backed mount to local
	DirectionBidirectional Direction = "bidirectional"
)

// ValidDirection reports whether d is a known direction.
func ValidDirection(d Direction) bool {
	switch d {
	case DirectionPush, DirectionPull, DirectionBidirectional:
		return true
	}
	return false
}

// Failure reasons recorded in the error_kind column.
const (
	FailReasonScan                = "scan_failed"
	FailReasonMountUnavailable    = "mount_unavailable"
	FailReasonSetup               = "setup_failed"
	FailReasonIncompleteOnRestart = "incomplete_on_restart"
)

// ItemError records one failed item transfer.
type ItemError struct {
	Worker  int    `json:"worker"`
	Item    string `json:"item"`
	Message string `json:"message"`
}

// RunStats summarizes one finished run.
type RunStats struct {
	DurationSeconds  float64 `json:"duration_seconds"`
	FilesSynced      uint64  `json:"files_synced"`
	BytesTransferred uint64  `json:"bytes_transferred"`
	FilesPerSecond   float64 `json:"files_per_second"`
	BytesPerSecond   float64 `json:"bytes_per_second"`
	Errors           int     `json:"errors"`
}

// Job is the persisted record with durable identity: configuration,
// lifecycle state, run artifacts and lifetime aggregates.
type Job struct {
	ID              string
	Name            string
	SourcePath      string
	DestPath        string
	Direction       Direction
	Parallelism     int
	RsyncArgs       string // space-separated flags for the copy tool
	ExcludePatterns []string
	Schedule        string // cron expression, empty = manual only
	Enabled         bool

	State      JobState
	ErrorKind  string // one of the FailReason constants when State is failed
	Message    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	// Run artifacts. Assignments are fixed once execution starts.
	Assignments    []batch.Assignment
	Errors         []ItemError
	FilenameIssues []scan.Issue

	TotalFiles uint64
	FilesDone  uint64
	TotalBytes uint64
	BytesDone  uint64

	LastRunAt    *time.Time
	LastRunStats *RunStats
	RunCount     int

	// Lifetime aggregates across runs.
	TotalFilesSynced      uint64
	TotalBytesTransferred uint64
	TotalRunSeconds       float64

	NextRunAt *time.Time
}

// Summary is the listing view of a job.
type Summary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SourcePath string     `json:"source_path"`
	DestPath   string     `json:"dest_path"`
	Direction  Direction  `json:"direction"`
	State      JobState   `json:"state"`
	Enabled    bool       `json:"enabled"`
	CreatedAt  time.Time  `json:"created_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	RunCount   int        `json:"run_count"`
}
