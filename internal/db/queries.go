package db

import (
	"database/sql"
	"encoding/json"
	"time"
)

const jobColumns = `id, name, source_path, dest_path, direction, parallelism,
	rsync_args, exclude_patterns, schedule, enabled,
	state, error_kind, message, created_at, updated_at, started_at, finished_at,
	assignments, errors, filename_issues,
	total_files, files_done, total_bytes, bytes_done,
	last_run_at, last_run_stats, run_count,
	total_files_synced, total_bytes_transferred, total_run_seconds, next_run_at`

// CreateJob inserts a new job record.
func (db *DB) CreateJob(j *Job) error {
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	if j.State == "" {
		j.State = JobStateCreated
	}

	excludes, _ := json.Marshal(j.ExcludePatterns)

	_, err := db.Exec(`
		INSERT INTO jobs (id, name, source_path, dest_path, direction, parallelism,
			rsync_args, exclude_patterns, schedule, enabled, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Name, j.SourcePath, j.DestPath, j.Direction, j.Parallelism,
		j.RsyncArgs, string(excludes), j.Schedule, j.Enabled, j.State, now, now,
	)
	return err
}

// GetJob retrieves a job by ID.
func (db *DB) GetJob(id string) (*Job, error) {
	row := db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobs returns summaries of all jobs, newest first.
func (db *DB) ListJobs() ([]*Summary, error) {
	rows, err := db.Query(`
		SELECT id, name, source_path, dest_path, direction, state, enabled,
			created_at, last_run_at, run_count
		FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Summary
	for rows.Next() {
		var s Summary
		var lastRunAt sql.NullTime
		if err := rows.Scan(&s.ID, &s.Name, &s.SourcePath, &s.DestPath, &s.Direction,
			&s.State, &s.Enabled, &s.CreatedAt, &lastRunAt, &s.RunCount); err != nil {
			return nil, err
		}
		if lastRunAt.Valid {
			s.LastRunAt = &lastRunAt.Time
		}
		jobs = append(jobs, &s)
	}
	return jobs, rows.Err()
}

// UpdateJobConfig persists the configurable columns of a job.
func (db *DB) UpdateJobConfig(j *Job) error {
	excludes, _ := json.Marshal(j.ExcludePatterns)
	// Timestamps are stored as text; keep them UTC so comparisons order
	// correctly.
	var nextRun *time.Time
	if j.NextRunAt != nil {
		u := j.NextRunAt.UTC()
		nextRun = &u
	}
	_, err := db.Exec(`
		UPDATE jobs SET name = ?, source_path = ?, dest_path = ?, direction = ?,
			parallelism = ?, rsync_args = ?, exclude_patterns = ?, schedule = ?,
			enabled = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		j.Name, j.SourcePath, j.DestPath, j.Direction,
		j.Parallelism, j.RsyncArgs, string(excludes), j.Schedule,
		j.Enabled, nextRun, time.Now().UTC(), j.ID,
	)
	return err
}

// DeleteJob removes a job record.
func (db *DB) DeleteJob(id string) error {
	_, err := db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	return err
}

// SetJobState records a state transition.
func (db *DB) SetJobState(id string, state JobState, message string) error {
	_, err := db.Exec(`UPDATE jobs SET state = ?, message = ?, updated_at = ? WHERE id = ?`,
		state, message, time.Now().UTC(), id)
	return err
}

// MarkJobStarted clears the previous run's artifacts and moves the job
// into the scanning state.
func (db *DB) MarkJobStarted(id string) error {
	now := time.Now().UTC()
	_, err := db.Exec(`
		UPDATE jobs SET state = ?, error_kind = '', message = '',
			started_at = ?, finished_at = NULL,
			assignments = '[]', errors = '[]', filename_issues = '[]',
			total_files = 0, files_done = 0, total_bytes = 0, bytes_done = 0,
			last_run_at = ?, updated_at = ?
		WHERE id = ?`,
		JobStateScanning, now, now, now, id)
	return err
}

// SaveJobPlan stores the batching outcome and moves the job to running.
// A pause that landed while the job was still scanning is preserved.
// Assignments are fixed from this point until the run finishes.
func (db *DB) SaveJobPlan(id string, j *Job) error {
	assignments, _ := json.Marshal(j.Assignments)
	issues, _ := json.Marshal(j.FilenameIssues)
	_, err := db.Exec(`
		UPDATE jobs SET state = CASE WHEN state = ? THEN state ELSE ? END,
			assignments = ?, filename_issues = ?,
			total_files = ?, total_bytes = ?, updated_at = ?
		WHERE id = ?`,
		JobStatePaused, JobStateRunning, string(assignments), string(issues),
		j.TotalFiles, j.TotalBytes, time.Now().UTC(), id)
	return err
}

// UpdateJobProgress checkpoints the done counters and any item errors so
// far. Called on a bounded cadence while the job runs.
func (db *DB) UpdateJobProgress(id string, filesDone, bytesDone uint64, itemErrors []ItemError) error {
	errs, _ := json.Marshal(itemErrors)
	_, err := db.Exec(`
		UPDATE jobs SET files_done = ?, bytes_done = ?, errors = ?, updated_at = ?
		WHERE id = ?`,
		filesDone, bytesDone, string(errs), time.Now().UTC(), id)
	return err
}

// FinishJob records the terminal state of a run along with its stats and
// rolls the lifetime aggregates forward.
func (db *DB) FinishJob(id string, state JobState, errorKind, message string, stats *RunStats, itemErrors []ItemError, filesDone, bytesDone uint64) error {
	now := time.Now().UTC()
	errs, _ := json.Marshal(itemErrors)

	var statsJSON any
	var filesSynced, bytesTransferred uint64
	var duration float64
	if stats != nil {
		b, _ := json.Marshal(stats)
		statsJSON = string(b)
		filesSynced = stats.FilesSynced
		bytesTransferred = stats.BytesTransferred
		duration = stats.DurationSeconds
	}

	_, err := db.Exec(`
		UPDATE jobs SET state = ?, error_kind = ?, message = ?, finished_at = ?,
			files_done = ?, bytes_done = ?, errors = ?,
			last_run_stats = ?, run_count = run_count + 1,
			total_files_synced = total_files_synced + ?,
			total_bytes_transferred = total_bytes_transferred + ?,
			total_run_seconds = total_run_seconds + ?,
			updated_at = ?
		WHERE id = ?`,
		state, errorKind, message, now,
		filesDone, bytesDone, string(errs),
		statsJSON, filesSynced, bytesTransferred, duration, now, id)
	return err
}

// ReconcileInterrupted fails any job left in a live state by a previous
// process: in-flight subprocess state cannot be resumed, so such jobs are
// reconciled to failed with reason incomplete_on_restart. Returns the
// number of jobs reconciled.
func (db *DB) ReconcileInterrupted() (int, error) {
	res, err := db.Exec(`
		UPDATE jobs SET state = ?, error_kind = ?,
			message = 'process restarted while job was running', finished_at = ?, updated_at = ?
		WHERE state IN (?, ?, ?)`,
		JobStateFailed, FailReasonIncompleteOnRestart, time.Now().UTC(), time.Now().UTC(),
		JobStateScanning, JobStateRunning, JobStatePaused)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetDueJobs returns enabled, scheduled jobs whose next run time has
// passed and which are not currently live.
func (db *DB) GetDueJobs(now time.Time) ([]*Job, error) {
	rows, err := db.Query(`SELECT `+jobColumns+` FROM jobs
		WHERE enabled = 1 AND schedule != '' AND next_run_at IS NOT NULL AND next_run_at <= ?
			AND state NOT IN (?, ?, ?)`,
		now.UTC(), JobStateScanning, JobStateRunning, JobStatePaused)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// SetNextRun updates the scheduler bookkeeping for a job.
func (db *DB) SetNextRun(id string, nextRun time.Time) error {
	_, err := db.Exec(`UPDATE jobs SET next_run_at = ?, updated_at = ? WHERE id = ?`,
		nextRun.UTC(), time.Now().UTC(), id)
	return err
}

// CountJobs returns job totals for the status endpoint.
func (db *DB) CountJobs() (total, active, enabled int, err error) {
	row := db.QueryRow(`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN state IN (?, ?, ?) THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN enabled = 1 THEN 1 ELSE 0 END), 0)
		FROM jobs`,
		JobStateScanning, JobStateRunning, JobStatePaused)
	err = row.Scan(&total, &active, &enabled)
	return
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row *sql.Row) (*Job, error) {
	return scanJobFrom(row)
}

func scanJobRow(rows *sql.Rows) (*Job, error) {
	return scanJobFrom(rows)
}

func scanJobFrom(row rowScanner) (*Job, error) {
	var j Job
	var excludes, assignments, errs, issues string
	var startedAt, finishedAt, lastRunAt, nextRunAt sql.NullTime
	var lastRunStats sql.NullString

	err := row.Scan(&j.ID, &j.Name, &j.SourcePath, &j.DestPath, &j.Direction, &j.Parallelism,
		&j.RsyncArgs, &excludes, &j.Schedule, &j.Enabled,
		&j.State, &j.ErrorKind, &j.Message, &j.CreatedAt, &j.UpdatedAt, &startedAt, &finishedAt,
		&assignments, &errs, &issues,
		&j.TotalFiles, &j.FilesDone, &j.TotalBytes, &j.BytesDone,
		&lastRunAt, &lastRunStats, &j.RunCount,
		&j.TotalFilesSynced, &j.TotalBytesTransferred, &j.TotalRunSeconds, &nextRunAt)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(excludes), &j.ExcludePatterns)
	json.Unmarshal([]byte(assignments), &j.Assignments)
	json.Unmarshal([]byte(errs), &j.Errors)
	json.Unmarshal([]byte(issues), &j.FilenameIssues)

	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Time
	}
	if lastRunAt.Valid {
		j.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		j.NextRunAt = &nextRunAt.Time
	}
	if lastRunStats.Valid && lastRunStats.String != "" {
		var stats RunStats
		if json.Unmarshal([]byte(lastRunStats.String), &stats) == nil {
			j.LastRunStats = &stats
		}
	}

	return &j, nil
}
