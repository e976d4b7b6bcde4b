// Package services drives sync job execution: the lifecycle state
// machine, the worker pool fanning items out to the copy tool, and
// aggregation of progress events into snapshots for the management
// surface.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"

	"github.com/jmhart/fansync/internal/batch"
	"github.com/jmhart/fansync/internal/db"
	"github.com/jmhart/fansync/internal/mount"
	"github.com/jmhart/fansync/internal/rsync"
	"github.com/jmhart/fansync/internal/scan"
	"github.com/jmhart/fansync/internal/types"
)

const (
	// checkpointInterval bounds how stale the persisted done counters can
	// be while a job runs.
	checkpointInterval = 5 * time.Second

	// broadcastThrottle limits how often byte-level progress is fanned out
	// to subscribers. State transitions always broadcast immediately.
	broadcastThrottle = 500 * time.Millisecond

	// MaxParallelism caps the per-job worker count.
	MaxParallelism = 32
)

var (
	// ErrJobActive is returned when an operation needs the job to be idle.
	ErrJobActive = errors.New("job is already running")

	// ErrJobNotActive is returned by pause/resume/cancel on idle jobs.
	ErrJobNotActive = errors.New("job is not running")
)

// subscriber wraps a channel with safe close handling
type subscriber struct {
	ch        chan *types.ProgressSnapshot
	closeOnce sync.Once
	closed    bool
}

func (sub *subscriber) close() {
	sub.closeOnce.Do(func() {
		sub.closed = true
		close(sub.ch)
	})
}

func (sub *subscriber) send(snap *types.ProgressSnapshot) bool {
	if sub.closed {
		return false
	}
	select {
	case sub.ch <- snap:
		return true
	default:
		return false
	}
}

// jobRun is the live execution attached to one running job.
type jobRun struct {
	cancel    context.CancelFunc
	gate      *pauseGate
	stop      atomic.Bool // cancel requested; workers stop between items
	mountLost atomic.Bool // a worker saw the mount die mid-run
	done      chan struct{}
	phase     atomic.Value // string: current phase ("push" or "pull")
	tracker   atomic.Value // *progressTracker, swapped per phase
}

func (r *jobRun) currentTracker() *progressTracker {
	t, _ := r.tracker.Load().(*progressTracker)
	return t
}

func (r *jobRun) currentPhase() string {
	p, _ := r.phase.Load().(string)
	return p
}

// Service owns job execution. It is the single writer of persisted job
// state; handlers go through it for anything that mutates a job.
type Service struct {
	db         *db.DB
	executor   rsync.ExecutorInterface
	checker    mount.Checker
	mountPoint string

	// Active runs and their cancellation functions
	mu     sync.RWMutex
	active map[string]*jobRun

	// SSE subscribers
	subMu       sync.RWMutex
	subscribers map[string][]*subscriber

	// Broadcast throttling per job
	throttleMu    sync.Mutex
	lastBroadcast map[string]time.Time
}

// New creates a sync service. mountPoint is the remote-backed path whose
// health gates every run.
func New(database *db.DB, executor rsync.ExecutorInterface, checker mount.Checker, mountPoint string) *Service {
	return &Service{
		db:            database,
		executor:      executor,
		checker:       checker,
		mountPoint:    mountPoint,
		active:        make(map[string]*jobRun),
		subscribers:   make(map[string][]*subscriber),
		lastBroadcast: make(map[string]time.Time),
	}
}

// Subscribe subscribes to progress updates for a job.
func (s *Service) Subscribe(jobID string) chan *types.ProgressSnapshot {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	sub := &subscriber{
		ch: make(chan *types.ProgressSnapshot, 10),
	}
	s.subscribers[jobID] = append(s.subscribers[jobID], sub)
	return sub.ch
}

// Unsubscribe removes a subscriber.
func (s *Service) Unsubscribe(jobID string, ch chan *types.ProgressSnapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	subs := s.subscribers[jobID]
	for i, sub := range subs {
		if sub.ch == ch {
			// Remove from slice first, then close safely
			s.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
			sub.close()
			break
		}
	}

	if len(s.subscribers[jobID]) == 0 {
		delete(s.subscribers, jobID)
	}
}

// broadcast sends a snapshot to all subscribers of a job.
func (s *Service) broadcast(jobID string, snap *types.ProgressSnapshot) {
	s.subMu.RLock()
	subs := make([]*subscriber, len(s.subscribers[jobID]))
	copy(subs, s.subscribers[jobID])
	s.subMu.RUnlock()

	for _, sub := range subs {
		sub.send(snap)
	}
}

// broadcastState pushes the current tracker snapshot unconditionally.
func (s *Service) broadcastState(jobID string, run *jobRun, state db.JobState) {
	if t := run.currentTracker(); t != nil {
		s.broadcast(jobID, t.snapshot(jobID, string(state), run.currentPhase()))
	}
}

// maybeBroadcast pushes a snapshot unless one went out very recently.
func (s *Service) maybeBroadcast(jobID string, run *jobRun, state db.JobState) {
	s.throttleMu.Lock()
	last := s.lastBroadcast[jobID]
	now := time.Now()
	ok := now.Sub(last) >= broadcastThrottle
	if ok {
		s.lastBroadcast[jobID] = now
	}
	s.throttleMu.Unlock()

	if ok {
		s.broadcastState(jobID, run, state)
	}
}

func (s *Service) closeSubscribers(jobID string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, sub := range s.subscribers[jobID] {
		sub.close()
	}
	delete(s.subscribers, jobID)

	s.throttleMu.Lock()
	delete(s.lastBroadcast, jobID)
	s.throttleMu.Unlock()
}

// ValidateConfig rejects invalid job parameters before any work starts.
func ValidateConfig(j *db.Job) error {
	if strings.TrimSpace(j.Name) == "" {
		return errors.New("job name is required")
	}
	if j.SourcePath == "" || j.DestPath == "" {
		return errors.New("source and destination paths are required")
	}
	if !db.ValidDirection(j.Direction) {
		return fmt.Errorf("invalid direction %q", j.Direction)
	}
	if j.Parallelism < 1 || j.Parallelism > MaxParallelism {
		return fmt.Errorf("parallelism must be between 1 and %d", MaxParallelism)
	}
	return nil
}

// Start launches a job run in the background. It fails if the job is
// unknown or already live.
func (s *Service) Start(jobID string) error {
	job, err := s.db.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("job not found: %w", err)
	}

	s.mu.Lock()
	if _, running := s.active[jobID]; running || job.State.Active() {
		s.mu.Unlock()
		return ErrJobActive
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &jobRun{
		cancel: cancel,
		gate:   newPauseGate(),
		done:   make(chan struct{}),
	}
	run.phase.Store("")
	s.active[jobID] = run
	s.mu.Unlock()

	go s.runJob(ctx, job, run)
	return nil
}

// Pause stops dispatch of not-yet-started items. Items already copying
// finish their current subprocess before the pause takes effect.
func (s *Service) Pause(jobID string) error {
	s.mu.RLock()
	run, ok := s.active[jobID]
	s.mu.RUnlock()
	if !ok {
		return ErrJobNotActive
	}

	run.gate.Pause()
	if err := s.db.SetJobState(jobID, db.JobStatePaused, "paused by operator"); err != nil {
		return err
	}
	slog.Info("job paused", "job", jobID)
	s.broadcastState(jobID, run, db.JobStatePaused)
	return nil
}

// Resume reopens dispatch for a paused job.
func (s *Service) Resume(jobID string) error {
	s.mu.RLock()
	run, ok := s.active[jobID]
	s.mu.RUnlock()
	if !ok {
		return ErrJobNotActive
	}

	run.gate.Resume()
	if err := s.db.SetJobState(jobID, db.JobStateRunning, ""); err != nil {
		return err
	}
	slog.Info("job resumed", "job", jobID)
	s.broadcastState(jobID, run, db.JobStateRunning)
	return nil
}

// Cancel stops a running job. Workers stop after their current item; the
// in-flight subprocess is sent SIGTERM and killed after a grace period.
// Items never started produce no error entries.
func (s *Service) Cancel(jobID string) error {
	s.mu.RLock()
	run, ok := s.active[jobID]
	s.mu.RUnlock()
	if !ok {
		return ErrJobNotActive
	}

	run.stop.Store(true)
	run.gate.Resume() // unblock workers idling at the pause gate
	run.cancel()
	slog.Info("job cancel requested", "job", jobID)
	return nil
}

// GetProgress returns the live snapshot for an active job, or nil when
// the job has no execution attached.
func (s *Service) GetProgress(jobID string) *types.ProgressSnapshot {
	s.mu.RLock()
	run, ok := s.active[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	tracker := run.currentTracker()
	if tracker == nil {
		return &types.ProgressSnapshot{JobID: jobID, State: string(db.JobStateScanning)}
	}

	job, err := s.db.GetJob(jobID)
	state := string(db.JobStateRunning)
	if err == nil {
		state = string(job.State)
	}
	return tracker.snapshot(jobID, state, run.currentPhase())
}

// Active reports whether a job currently has live execution.
func (s *Service) Active(jobID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.active[jobID]
	return ok
}

// DryRun previews what the job's first phase would transfer.
func (s *Service) DryRun(ctx context.Context, jobID string) (*rsync.DryRunResult, error) {
	job, err := s.db.GetJob(jobID)
	if err != nil {
		return nil, fmt.Errorf("job not found: %w", err)
	}
	if s.Active(jobID) {
		return nil, ErrJobActive
	}

	src, dst := phasePaths(job, "push")
	if job.Direction == db.DirectionPull {
		src, dst = phasePaths(job, "pull")
	}
	if _, err := s.checker.Check(src); err != nil {
		return nil, err
	}

	return s.executor.DryRun(ctx, rsync.CopyRequest{
		SourcePath: strings.TrimRight(src, "/"),
		DestPath:   strings.TrimRight(dst, "/"),
		Options:    copyOptions(job),
	})
}

// Shutdown cancels all active runs and waits for them to wind down.
func (s *Service) Shutdown() {
	s.mu.RLock()
	runs := make([]*jobRun, 0, len(s.active))
	for id, run := range s.active {
		run.stop.Store(true)
		run.gate.Resume()
		run.cancel()
		runs = append(runs, run)
		slog.Info("shutting down job", "job", id)
	}
	s.mu.RUnlock()

	for _, run := range runs {
		<-run.done
	}
}

// phaseResult is the outcome of one directional sub-run.
type phaseResult struct {
	state      db.JobState
	errorKind  string
	message    string
	totalFiles uint64
	totalBytes uint64
	filesDone  uint64
	bytesDone  uint64
	errors     []db.ItemError
}

// runJob drives a full job run: push phase, and for bidirectional jobs a
// pull phase when the push reached a completed state.
func (s *Service) runJob(ctx context.Context, job *db.Job, run *jobRun) {
	startedAt := time.Now()

	defer func() {
		s.mu.Lock()
		delete(s.active, job.ID)
		s.mu.Unlock()
		close(run.done)
		s.closeSubscribers(job.ID)
	}()

	if err := s.db.MarkJobStarted(job.ID); err != nil {
		slog.Error("failed to persist job start", "job", job.ID, "error", err)
		return
	}
	slog.Info("job started", "job", job.ID, "name", job.Name, "direction", job.Direction)

	phases := []string{"push"}
	switch job.Direction {
	case db.DirectionPull:
		phases = []string{"pull"}
	case db.DirectionBidirectional:
		phases = []string{"push", "pull"}
	}

	var (
		results              []phaseResult
		final                phaseResult
		planFiles, planBytes uint64
	)
	for i, phase := range phases {
		run.phase.Store(phase)
		res := s.runPhase(ctx, job, run, phase, planFiles, planBytes)
		planFiles += res.totalFiles
		planBytes += res.totalBytes
		results = append(results, res)
		final = res

		// The second phase of a bidirectional job only runs when the
		// first reached a completed state.
		if i < len(phases)-1 && res.state != db.JobStateCompleted && res.state != db.JobStateCompletedWithErrors {
			break
		}
	}

	// Combine phases into one run outcome.
	var allErrors []db.ItemError
	var filesDone, bytesDone uint64
	for _, res := range results {
		allErrors = append(allErrors, res.errors...)
		filesDone += res.filesDone
		bytesDone += res.bytesDone
	}

	state := final.state
	if state == db.JobStateCompleted && len(allErrors) > 0 {
		state = db.JobStateCompletedWithErrors
	}

	duration := time.Since(startedAt).Seconds()
	stats := &db.RunStats{
		DurationSeconds:  duration,
		FilesSynced:      filesDone,
		BytesTransferred: bytesDone,
		Errors:           len(allErrors),
	}
	if duration > 0 {
		stats.FilesPerSecond = float64(filesDone) / duration
		stats.BytesPerSecond = float64(bytesDone) / duration
	}

	message := final.message
	if message == "" {
		message = fmt.Sprintf("synced %d files (%s) in %.1fs",
			filesDone, humanize.Bytes(bytesDone), duration)
	}

	if err := s.db.FinishJob(job.ID, state, final.errorKind, message, stats, allErrors, filesDone, bytesDone); err != nil {
		slog.Error("failed to persist job result", "job", job.ID, "error", err)
	}

	slog.Info("job finished", "job", job.ID, "state", state,
		"files", filesDone, "bytes", humanize.Bytes(bytesDone),
		"errors", len(allErrors), "duration", fmt.Sprintf("%.1fs", duration))

	s.broadcastState(job.ID, run, state)
}

// runPhase executes one directional sub-run: health check, scan, batch,
// preflight, then the worker pool. baseFiles/baseBytes carry the planned
// totals of earlier phases so the persisted totals cover every phase the
// done counters count.
func (s *Service) runPhase(ctx context.Context, job *db.Job, run *jobRun, phase string, baseFiles, baseBytes uint64) phaseResult {
	src, dst := phasePaths(job, phase)

	// Fail fast before scanning if the remote-backed mount is unusable.
	if _, err := s.checker.Check(s.mountPoint); err != nil {
		return phaseResult{state: db.JobStateFailed, errorKind: db.FailReasonMountUnavailable, message: err.Error()}
	}
	if _, err := s.checker.Check(src); err != nil {
		return phaseResult{state: db.JobStateFailed, errorKind: db.FailReasonMountUnavailable,
			message: fmt.Sprintf("source not accessible: %v", err)}
	}

	result, err := scan.Scan(src, job.ExcludePatterns)
	if err != nil {
		return phaseResult{state: db.JobStateFailed, errorKind: db.FailReasonScan, message: err.Error()}
	}
	if len(result.Items) == 0 {
		// Nothing to do; the phase completes without ever entering the
		// worker pool.
		slog.Info("nothing to sync", "job", job.ID, "phase", phase, "source", src)
		return phaseResult{state: db.JobStateCompleted}
	}

	issues := scan.CheckFilenames(src, job.ExcludePatterns)
	if len(issues) > 0 {
		slog.Warn("problematic filenames found", "job", job.ID, "count", len(issues))
	}

	assignments, err := batch.Assign(result.Items, job.Parallelism)
	if err != nil {
		return phaseResult{state: db.JobStateFailed, errorKind: db.FailReasonSetup, message: err.Error()}
	}

	workerItems := make([]int, len(assignments))
	for i, a := range assignments {
		workerItems[i] = len(a.Items)
	}
	tracker := newProgressTracker(result.TotalFiles, result.TotalBytes, workerItems)
	run.tracker.Store(tracker)

	job.Assignments = assignments
	job.FilenameIssues = issues
	job.TotalFiles = baseFiles + result.TotalFiles
	job.TotalBytes = baseBytes + result.TotalBytes
	if err := s.db.SaveJobPlan(job.ID, job); err != nil {
		return phaseResult{state: db.JobStateFailed, errorKind: db.FailReasonSetup,
			message: fmt.Sprintf("failed to persist plan: %v", err)}
	}

	if err := preflightCreateDirs(src, dst, job.ExcludePatterns); err != nil {
		return phaseResult{state: db.JobStateFailed, errorKind: db.FailReasonSetup,
			message: fmt.Sprintf("destination not writable: %v", err)}
	}

	slog.Info("dispatching workers", "job", job.ID, "phase", phase,
		"items", len(result.Items), "workers", len(assignments),
		"total", humanize.Bytes(result.TotalBytes))
	s.broadcastState(job.ID, run, db.JobStateRunning)

	// Checkpoint the done counters on a bounded cadence so progress
	// survives a process restart.
	checkpointDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(checkpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-checkpointDone:
				return
			case <-ticker.C:
				filesDone, bytesDone, errs := tracker.counters()
				if err := s.db.UpdateJobProgress(job.ID, filesDone, bytesDone, errs); err != nil {
					slog.Error("progress checkpoint failed", "job", job.ID, "error", err)
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := range assignments {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			s.runWorker(ctx, job, run, tracker, w, assignments[w], src, dst)
		}(i)
	}
	wg.Wait()
	close(checkpointDone)

	filesDone, bytesDone, errs := tracker.counters()
	res := phaseResult{
		totalFiles: result.TotalFiles,
		totalBytes: result.TotalBytes,
		filesDone:  filesDone,
		bytesDone:  bytesDone,
		errors:     errs,
	}

	switch {
	case run.mountLost.Load():
		res.state = db.JobStateFailed
		res.errorKind = db.FailReasonMountUnavailable
		res.message = "mount became unavailable mid-run"
	case run.stop.Load():
		res.state = db.JobStateCancelled
		res.message = "cancelled by operator"
	case len(errs) > 0:
		res.state = db.JobStateCompletedWithErrors
	default:
		res.state = db.JobStateCompleted
	}
	return res
}

// phasePaths resolves the source and destination roots for a phase. Push
// copies the job's source to its destination; pull is the reverse.
func phasePaths(job *db.Job, phase string) (src, dst string) {
	src = strings.TrimRight(job.SourcePath, "/")
	dst = strings.TrimRight(job.DestPath, "/")
	if phase == "pull" {
		src, dst = dst, src
	}
	return src, dst
}

func copyOptions(job *db.Job) rsync.CopyOptions {
	return rsync.CopyOptions{
		Args:     strings.Fields(job.RsyncArgs),
		Excludes: job.ExcludePatterns,
	}
}

// preflightCreateDirs mirrors the source directory tree onto the
// destination before any worker starts, so concurrent rsyncs never race
// on parent creation. Failure to create the root is fatal; deeper
// failures surface later as item errors.
func preflightCreateDirs(src, dst string, excludes []string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skip := false
		for _, p := range excludes {
			if ok, _ := doublestar.Match(p, entry.Name()); ok {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if err := os.MkdirAll(filepath.Join(dst, entry.Name()), 0o755); err != nil {
			slog.Warn("failed to pre-create destination directory", "dir", entry.Name(), "error", err)
		}
	}
	return nil
}
