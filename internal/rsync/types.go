package rsync

// CopyOptions configure how the rsync binary is invoked for every item of
// a job.
type CopyOptions struct {
	Args     []string // base rsync flags, e.g. ["-a", "-z"]
	Excludes []string // patterns appended as --exclude flags
}

// CopyRequest describes one item transfer.
type CopyRequest struct {
	SourcePath string // absolute path of the item on the source side
	DestPath   string // absolute destination root
	ItemName   string // item name relative to the source root
	IsDir      bool
	Options    CopyOptions
}

// Progress is one parsed line of rsync --info=progress2 output.
type Progress struct {
	BytesTransferred uint64
	Percent          float64
	Rate             string // as printed by rsync, e.g. "12.34MB/s"
	ETA              string // e.g. "0:01:23"
}

// CopyResult is the outcome of a single item transfer. A non-zero exit is
// a per-item failure, not a Go error.
type CopyResult struct {
	ExitCode         int
	Errors           []string // rsync error lines captured from the stream
	BytesTransferred uint64   // last byte count reported by progress2
}

// Success reports whether the transfer completed cleanly.
func (r *CopyResult) Success() bool {
	return r.ExitCode == 0
}

// DryRunAction classifies one line of --itemize-changes output.
type DryRunAction string

const (
	ActionTransfer DryRunAction = "transfer" // new file or directory
	ActionUpdate   DryRunAction = "update"   // existing file would change
	ActionDelete   DryRunAction = "delete"
)

// DryRunFile is one file rsync would touch.
type DryRunFile struct {
	Path   string       `json:"path"`
	IsDir  bool         `json:"is_dir"`
	Action DryRunAction `json:"action"`
}

// DryRunResult summarizes what a transfer would do without doing it.
type DryRunResult struct {
	Files           []DryRunFile `json:"files"`
	FilesToTransfer int          `json:"files_to_transfer"`
	FilesToDelete   int          `json:"files_to_delete"`
	Errors          []string     `json:"errors,omitempty"`
}
