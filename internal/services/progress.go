package services

import (
	"context"
	"sync"

	"github.com/jmhart/fansync/internal/db"
	"github.com/jmhart/fansync/internal/types"
)

// workerCell is the tracker's mutable per-worker record. One writer (the
// worker goroutine), guarded by the tracker mutex against snapshot reads.
type workerCell struct {
	state       types.WorkerState
	currentItem string
	itemsDone   int
	itemsTotal  int

	doneBytes    uint64 // sum of completed item sizes
	doneFiles    uint64 // sum of completed item file counts
	currentBytes uint64 // bytes reported for the in-flight item
	rate         string
}

// progressTracker aggregates per-item events from concurrently running
// workers into a consistent snapshot. Each completed item is counted
// exactly once; in-flight bytes come from the copy tool's progress stream.
type progressTracker struct {
	mu         sync.Mutex
	totalFiles uint64
	totalBytes uint64
	workers    []workerCell
	errors     []db.ItemError
}

func newProgressTracker(totalFiles, totalBytes uint64, workerItems []int) *progressTracker {
	t := &progressTracker{
		totalFiles: totalFiles,
		totalBytes: totalBytes,
		workers:    make([]workerCell, len(workerItems)),
	}
	for i, n := range workerItems {
		t.workers[i] = workerCell{state: types.WorkerPending, itemsTotal: n}
	}
	return t
}

func (t *progressTracker) workerStarted(w int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.workers[w].state = types.WorkerRunning
}

func (t *progressTracker) workerFinished(w int, state types.WorkerState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.workers[w].state = state
	t.workers[w].currentItem = ""
	t.workers[w].currentBytes = 0
	t.workers[w].rate = ""
}

func (t *progressTracker) workerPaused(w int, paused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case paused && t.workers[w].state == types.WorkerRunning:
		t.workers[w].state = types.WorkerPaused
	case !paused && t.workers[w].state == types.WorkerPaused:
		t.workers[w].state = types.WorkerRunning
	}
}

func (t *progressTracker) itemStarted(w int, item string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.workers[w].currentItem = item
	t.workers[w].currentBytes = 0
}

func (t *progressTracker) itemProgress(w int, bytes uint64, rate string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.workers[w].currentBytes = bytes
	t.workers[w].rate = rate
}

// itemCompleted credits the item's full scanned size so the aggregate
// never drifts from the totals regardless of what the tool reported.
func (t *progressTracker) itemCompleted(w int, sizeBytes, fileCount uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cell := &t.workers[w]
	cell.doneBytes += sizeBytes
	cell.doneFiles += fileCount
	cell.itemsDone++
	cell.currentItem = ""
	cell.currentBytes = 0
}

func (t *progressTracker) itemFailed(w int, item, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cell := &t.workers[w]
	cell.itemsDone++
	cell.currentItem = ""
	cell.currentBytes = 0
	t.errors = append(t.errors, db.ItemError{Worker: w, Item: item, Message: message})
}

// counters returns the durable progress numbers for checkpointing.
func (t *progressTracker) counters() (filesDone, bytesDone uint64, errs []db.ItemError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.workers {
		filesDone += t.workers[i].doneFiles
		bytesDone += t.workers[i].doneBytes
	}
	errs = make([]db.ItemError, len(t.errors))
	copy(errs, t.errors)
	return filesDone, bytesDone, errs
}

// snapshot produces a consistent view across all workers.
func (t *progressTracker) snapshot(jobID, state, phase string) *types.ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := &types.ProgressSnapshot{
		JobID:      jobID,
		State:      state,
		Phase:      phase,
		TotalFiles: t.totalFiles,
		TotalBytes: t.totalBytes,
		PerWorker:  make(map[int]types.WorkerProgress, len(t.workers)),
	}

	for i := range t.workers {
		cell := &t.workers[i]
		snap.FilesDone += cell.doneFiles
		snap.BytesDone += cell.doneBytes + cell.currentBytes
		if cell.state == types.WorkerRunning || cell.state == types.WorkerPaused {
			snap.ActiveWorkers++
		}
		snap.PerWorker[i] = types.WorkerProgress{
			CurrentItem: cell.currentItem,
			ItemsDone:   cell.itemsDone,
			ItemsTotal:  cell.itemsTotal,
			BytesDone:   cell.doneBytes + cell.currentBytes,
			Rate:        cell.rate,
			State:       cell.state,
		}
	}

	if snap.BytesDone > snap.TotalBytes {
		// The copy tool can report more bytes than the scan saw (files
		// grown since scanning); clamp so the invariant holds.
		snap.BytesDone = snap.TotalBytes
	}
	if snap.TotalBytes > 0 {
		snap.Percent = float64(snap.BytesDone) / float64(snap.TotalBytes) * 100
	}

	return snap
}

// pauseGate blocks workers between items while a job is paused. The
// in-flight item always drains first; pausing never interrupts a running
// subprocess.
type pauseGate struct {
	mu      sync.Mutex
	paused  bool
	resumed chan struct{} // closed while not paused
}

func newPauseGate() *pauseGate {
	ch := make(chan struct{})
	close(ch)
	return &pauseGate{resumed: ch}
}

func (g *pauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.resumed = make(chan struct{})
	}
}

func (g *pauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.resumed)
	}
}

func (g *pauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait blocks until the gate is open or ctx is done.
func (g *pauseGate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		ch := g.resumed
		paused := g.paused
		g.mu.Unlock()
		if !paused {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
