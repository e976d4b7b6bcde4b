// Package scheduler starts recurring sync jobs from their cron
// expressions. Jobs without a schedule are manual-only.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmhart/fansync/internal/db"
	"github.com/jmhart/fansync/internal/services"
)

// Scheduler manages scheduled jobs
type Scheduler struct {
	db      *db.DB
	service *services.Service
	parser  cron.Parser

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup // Tracks dispatch goroutines
}

// New creates a new scheduler
func New(database *db.DB, service *services.Service) *Scheduler {
	return &Scheduler{
		db:      database,
		service: service,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// NextRun computes the next fire time for a five-field cron expression.
func (s *Scheduler) NextRun(expression string, after time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(expression)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after), nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop stops the scheduler and waits for dispatch goroutines to finish.
// Jobs already started keep running; the sync service owns those.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)

	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	// Check immediately on start
	s.checkJobs(ctx)

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.checkJobs(ctx)
		}
	}
}

// checkJobs dispatches every enabled job whose next run time has passed.
func (s *Scheduler) checkJobs(ctx context.Context) {
	jobs, err := s.db.GetDueJobs(time.Now())
	if err != nil {
		slog.Error("scheduler: failed to get due jobs", "error", err)
		return
	}

	for _, job := range jobs {
		s.wg.Add(1)
		go s.runJob(ctx, job)
	}
}

// runJob starts one due job and advances its next run time.
func (s *Scheduler) runJob(ctx context.Context, job *db.Job) {
	defer s.wg.Done()

	if ctx.Err() != nil {
		return
	}

	// Advance the clock first so a stuck run cannot make the job fire
	// again on every tick.
	next, err := s.NextRun(job.Schedule, time.Now())
	if err != nil {
		slog.Error("scheduler: invalid cron expression", "job", job.ID, "schedule", job.Schedule, "error", err)
		return
	}
	if err := s.db.SetNextRun(job.ID, next); err != nil {
		slog.Error("scheduler: failed to update next run", "job", job.ID, "error", err)
	}

	if err := s.service.Start(job.ID); err != nil {
		if errors.Is(err, services.ErrJobActive) {
			slog.Info("scheduler: job still running, skipping this tick", "job", job.ID, "name", job.Name)
			return
		}
		slog.Error("scheduler: failed to start job", "job", job.ID, "error", err)
		return
	}

	slog.Info("scheduler: started job", "job", job.ID, "name", job.Name, "next_run", next)
}
