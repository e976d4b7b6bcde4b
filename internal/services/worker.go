package services

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jmhart/fansync/internal/batch"
	"github.com/jmhart/fansync/internal/db"
	"github.com/jmhart/fansync/internal/rsync"
	"github.com/jmhart/fansync/internal/types"
)

// runWorker drains one worker's assignment strictly in order, one copy
// subprocess at a time. Items are never stolen by other workers, so the
// batching decision and progress attribution stay stable. A failed item
// is recorded and the worker moves on; only cancellation or a dead mount
// stops the lane early.
func (s *Service) runWorker(ctx context.Context, job *db.Job, run *jobRun, tracker *progressTracker, w int, assignment batch.Assignment, src, dst string) {
	tracker.workerStarted(w)
	s.maybeBroadcast(job.ID, run, db.JobStateRunning)

	finalState := types.WorkerFinished
	opts := copyOptions(job)

	for _, item := range assignment.Items {
		if run.stop.Load() {
			finalState = types.WorkerStopped
			break
		}

		// Idle here while paused; the gate also opens on cancellation.
		if run.gate.Paused() {
			tracker.workerPaused(w, true)
			err := run.gate.Wait(ctx)
			tracker.workerPaused(w, false)
			if err != nil || run.stop.Load() {
				finalState = types.WorkerStopped
				break
			}
		}

		// Fail fast if the mount died while earlier items were copying.
		if _, err := s.checker.Check(s.mountPoint); err != nil {
			tracker.itemFailed(w, item.RelPath, err.Error())
			run.mountLost.Store(true)
			run.stop.Store(true)
			finalState = types.WorkerStopped
			break
		}

		tracker.itemStarted(w, item.RelPath)
		s.maybeBroadcast(job.ID, run, db.JobStateRunning)

		progressChan := make(chan rsync.Progress, 16)
		forwardDone := make(chan struct{})
		go func() {
			defer close(forwardDone)
			for p := range progressChan {
				tracker.itemProgress(w, p.BytesTransferred, p.Rate)
				s.maybeBroadcast(job.ID, run, db.JobStateRunning)
			}
		}()

		result, copyErr := s.executor.Copy(ctx, rsync.CopyRequest{
			SourcePath: filepath.Join(src, item.RelPath),
			DestPath:   dst,
			ItemName:   item.RelPath,
			IsDir:      item.IsDir,
			Options:    opts,
		}, progressChan)
		close(progressChan)
		<-forwardDone

		switch {
		case run.stop.Load() || ctx.Err() != nil:
			// Terminated by cancellation: the item reached a terminal
			// per-item state but is not an error.
			finalState = types.WorkerStopped
		case copyErr != nil:
			tracker.itemFailed(w, item.RelPath, copyErr.Error())
			slog.Error("item copy could not run", "job", job.ID, "worker", w, "item", item.RelPath, "error", copyErr)
		case !result.Success():
			msg := fmt.Sprintf("rsync exited with code %d", result.ExitCode)
			if len(result.Errors) > 0 {
				msg = fmt.Sprintf("%s: %s", msg, result.Errors[0])
			}
			tracker.itemFailed(w, item.RelPath, msg)
			slog.Warn("item failed", "job", job.ID, "worker", w, "item", item.RelPath, "exit", result.ExitCode)
		default:
			tracker.itemCompleted(w, item.SizeBytes, item.FileCount)
		}
		s.maybeBroadcast(job.ID, run, db.JobStateRunning)

		if finalState == types.WorkerStopped {
			break
		}
	}

	tracker.workerFinished(w, finalState)
	s.broadcastState(job.ID, run, db.JobStateRunning)
	slog.Debug("worker finished", "job", job.ID, "worker", w, "state", finalState)
}
