package rsync

import "context"

// ExecutorInterface defines the interface for rsync operations.
// This allows mocking the executor in tests.
type ExecutorInterface interface {
	// CheckInstalled verifies that rsync is installed and accessible
	CheckInstalled(ctx context.Context) error

	// Version returns the rsync version string
	Version(ctx context.Context) (string, error)

	// Copy transfers one item, streaming progress to progressChan
	Copy(ctx context.Context, req CopyRequest, progressChan chan<- Progress) (*CopyResult, error)

	// DryRun previews a transfer without modifying the destination
	DryRun(ctx context.Context, req CopyRequest) (*DryRunResult, error)
}

// Ensure Executor implements ExecutorInterface
var _ ExecutorInterface = (*Executor)(nil)
