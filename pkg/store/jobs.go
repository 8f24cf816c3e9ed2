package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func (s *Store) upsertJobQuery() string {
	switch s.dialect {
	case "postgres":
		return `INSERT INTO jobs (id, status, progress_json, schedule, updated_at)
            VALUES ($1, $2, $3, $4, $5)
            ON CONFLICT (id) DO UPDATE SET
                status = $2, progress_json = $3, schedule = $4, updated_at = $5`
	case "mysql":
		return `INSERT INTO jobs (id, status, progress_json, schedule, updated_at)
            VALUES (?, ?, ?, ?, ?)
            ON DUPLICATE KEY UPDATE
                status = VALUES(status), progress_json = VALUES(progress_json),
                schedule = VALUES(schedule), updated_at = VALUES(updated_at)`
	default:
		return `INSERT INTO jobs (id, status, progress_json, schedule, updated_at)
            VALUES (?, ?, ?, ?, ?)
            ON CONFLICT (id) DO UPDATE SET
                status = excluded.status, progress_json = excluded.progress_json,
                schedule = excluded.schedule, updated_at = excluded.updated_at`
	}
}

// UpsertJob persists the current state of a long-running job so restarts and
// the control surface can observe it.
func (s *Store) UpsertJob(ctx context.Context, job *Job) error {
	job.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, s.upsertJobQuery(),
		job.ID, string(job.Status), job.Progress, job.Schedule, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob fetches a job record by id. Returns nil when the job has never run.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	query := s.rebind(`SELECT id, status, progress_json, schedule, updated_at
        FROM jobs WHERE id = ?`)

	var job Job
	var status string
	var progress, schedule sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &status, &progress, &schedule, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	job.Status = JobStatus(status)
	job.Progress = progress.String
	job.Schedule = schedule.String
	return &job, nil
}
