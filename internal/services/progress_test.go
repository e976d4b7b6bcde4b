package services

import (
	"context"
	"testing"
	"time"

	"github.com/jmhart/fansync/internal/types"
)

func TestTrackerItemAccounting(t *testing.T) {
	tracker := newProgressTracker(10, 1000, []int{2, 1})

	tracker.workerStarted(0)
	tracker.workerStarted(1)

	tracker.itemStarted(0, "photos")
	tracker.itemProgress(0, 150, "10MB/s")

	snap := tracker.snapshot("job-1", "running", "push")
	if snap.BytesDone != 150 {
		t.Errorf("in-flight BytesDone = %d, want 150", snap.BytesDone)
	}
	if snap.PerWorker[0].CurrentItem != "photos" {
		t.Errorf("CurrentItem = %q", snap.PerWorker[0].CurrentItem)
	}
	if snap.ActiveWorkers != 2 {
		t.Errorf("ActiveWorkers = %d, want 2", snap.ActiveWorkers)
	}

	// Completion credits the scanned size, replacing the stream bytes
	tracker.itemCompleted(0, 400, 4)
	snap = tracker.snapshot("job-1", "running", "push")
	if snap.BytesDone != 400 {
		t.Errorf("BytesDone = %d, want 400", snap.BytesDone)
	}
	if snap.FilesDone != 4 {
		t.Errorf("FilesDone = %d, want 4", snap.FilesDone)
	}
	if snap.PerWorker[0].ItemsDone != 1 {
		t.Errorf("ItemsDone = %d, want 1", snap.PerWorker[0].ItemsDone)
	}
	if snap.PerWorker[0].CurrentItem != "" {
		t.Error("CurrentItem should be cleared after completion")
	}

	tracker.itemCompleted(1, 600, 6)
	snap = tracker.snapshot("job-1", "running", "push")
	if snap.BytesDone != 1000 || snap.FilesDone != 10 {
		t.Errorf("totals = %d bytes / %d files, want 1000 / 10", snap.BytesDone, snap.FilesDone)
	}
	if snap.Percent != 100 {
		t.Errorf("Percent = %f, want 100", snap.Percent)
	}
}

func TestTrackerItemFailed(t *testing.T) {
	tracker := newProgressTracker(2, 200, []int{2})
	tracker.workerStarted(0)

	tracker.itemStarted(0, "bad-item")
	tracker.itemFailed(0, "bad-item", "rsync exited with code 23")

	_, bytesDone, errs := tracker.counters()
	if bytesDone != 0 {
		t.Errorf("failed item must not credit bytes, got %d", bytesDone)
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
	if errs[0].Item != "bad-item" || errs[0].Worker != 0 {
		t.Errorf("error = %+v", errs[0])
	}

	snap := tracker.snapshot("j", "running", "")
	if snap.PerWorker[0].ItemsDone != 1 {
		t.Errorf("failed item still advances ItemsDone, got %d", snap.PerWorker[0].ItemsDone)
	}
}

func TestTrackerClampsOverrun(t *testing.T) {
	tracker := newProgressTracker(1, 100, []int{1})
	tracker.workerStarted(0)
	tracker.itemStarted(0, "grown-file")
	// The tool can report more bytes than the scan saw
	tracker.itemProgress(0, 250, "")

	snap := tracker.snapshot("j", "running", "")
	if snap.BytesDone != 100 {
		t.Errorf("BytesDone = %d, want clamped to 100", snap.BytesDone)
	}
	if snap.Percent != 100 {
		t.Errorf("Percent = %f, want 100", snap.Percent)
	}
}

func TestTrackerWorkerStates(t *testing.T) {
	tracker := newProgressTracker(4, 400, []int{2, 2})

	snap := tracker.snapshot("j", "running", "")
	if snap.PerWorker[0].State != types.WorkerPending {
		t.Errorf("initial state = %q, want pending", snap.PerWorker[0].State)
	}
	if snap.ActiveWorkers != 0 {
		t.Errorf("ActiveWorkers = %d, want 0", snap.ActiveWorkers)
	}

	tracker.workerStarted(0)
	tracker.workerPaused(0, true)
	snap = tracker.snapshot("j", "paused", "")
	if snap.PerWorker[0].State != types.WorkerPaused {
		t.Errorf("state = %q, want paused", snap.PerWorker[0].State)
	}
	// Paused workers still count as active
	if snap.ActiveWorkers != 1 {
		t.Errorf("ActiveWorkers = %d, want 1", snap.ActiveWorkers)
	}

	tracker.workerPaused(0, false)
	snap = tracker.snapshot("j", "running", "")
	if snap.PerWorker[0].State != types.WorkerRunning {
		t.Errorf("state = %q, want running", snap.PerWorker[0].State)
	}

	// Pause toggle on a pending worker is a no-op
	tracker.workerPaused(1, true)
	snap = tracker.snapshot("j", "running", "")
	if snap.PerWorker[1].State != types.WorkerPending {
		t.Errorf("pending worker state = %q after pause toggle", snap.PerWorker[1].State)
	}

	tracker.workerFinished(0, types.WorkerFinished)
	snap = tracker.snapshot("j", "running", "")
	if snap.PerWorker[0].State != types.WorkerFinished {
		t.Errorf("state = %q, want finished", snap.PerWorker[0].State)
	}
	if snap.ActiveWorkers != 0 {
		t.Errorf("ActiveWorkers = %d, want 0", snap.ActiveWorkers)
	}
}

func TestPauseGateOpenByDefault(t *testing.T) {
	g := newPauseGate()
	if g.Paused() {
		t.Error("new gate should be open")
	}
	if err := g.Wait(context.Background()); err != nil {
		t.Errorf("Wait on open gate = %v", err)
	}
}

func TestPauseGateBlocksAndResumes(t *testing.T) {
	g := newPauseGate()
	g.Pause()
	if !g.Paused() {
		t.Fatal("gate should be paused")
	}

	released := make(chan error, 1)
	go func() {
		released <- g.Wait(context.Background())
	}()

	select {
	case <-released:
		t.Fatal("Wait returned while gate was closed")
	case <-time.After(50 * time.Millisecond):
	}

	g.Resume()
	select {
	case err := <-released:
		if err != nil {
			t.Errorf("Wait = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Resume")
	}
}

func TestPauseGateWaitHonorsContext(t *testing.T) {
	g := newPauseGate()
	g.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := g.Wait(ctx); err == nil {
		t.Error("Wait should fail when the context is done")
	}
}

func TestPauseGateIdempotent(t *testing.T) {
	g := newPauseGate()
	g.Pause()
	g.Pause() // must not panic or deadlock
	g.Resume()
	g.Resume() // must not close twice

	if g.Paused() {
		t.Error("gate should be open")
	}
}
