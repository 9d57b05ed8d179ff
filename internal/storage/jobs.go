// internal/storage/jobs.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mcp-meal-vision/internal/failure"
	"mcp-meal-vision/internal/models"
)

// SaveJob inserts or replaces the ledger row for a job.
func (s *SQLiteStorage) SaveJob(ctx context.Context, job models.JobRecord) error {
	if s.closed.Load() {
		return &failure.StoreUnavailable{Err: errClosed}
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = s.now()
	}

	query := `
        INSERT INTO analysis_jobs (id, photo_ref, captured_at, state, attempts, error_kind, message, record_id, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            state = excluded.state,
            attempts = excluded.attempts,
            error_kind = excluded.error_kind,
            message = excluded.message,
            record_id = excluded.record_id,
            updated_at = excluded.updated_at
    `
	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.PhotoRef, formatTime(job.CapturedAt), job.State, job.Attempts,
		job.ErrorKind, job.Message, job.RecordID, formatTime(job.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save job: %w", mapError(err, PermissionWriteMeals))
	}
	return nil
}

func (s *SQLiteStorage) GetJob(ctx context.Context, id string) (*models.JobRecord, error) {
	if s.closed.Load() {
		return nil, &failure.StoreUnavailable{Err: errClosed}
	}

	row := s.db.QueryRowContext(ctx, `
        SELECT id, photo_ref, captured_at, state, attempts, error_kind, message, record_id, updated_at
        FROM analysis_jobs
        WHERE id = ?
    `, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", mapError(err, PermissionReadMeals))
	}
	return job, nil
}

// ListJobs returns the most recently updated jobs first.
func (s *SQLiteStorage) ListJobs(ctx context.Context, limit int) ([]*models.JobRecord, error) {
	if s.closed.Load() {
		return nil, &failure.StoreUnavailable{Err: errClosed}
	}
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, photo_ref, captured_at, state, attempts, error_kind, message, record_id, updated_at
        FROM analysis_jobs
        ORDER BY updated_at DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", mapError(err, PermissionReadMeals))
	}
	defer rows.Close()

	var jobs []*models.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row scanner) (*models.JobRecord, error) {
	job := &models.JobRecord{}
	var capturedAtStr, updatedAtStr string

	err := row.Scan(&job.ID, &job.PhotoRef, &capturedAtStr, &job.State, &job.Attempts,
		&job.ErrorKind, &job.Message, &job.RecordID, &updatedAtStr)
	if err != nil {
		return nil, err
	}

	if job.CapturedAt, err = parseTime(capturedAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse captured_at: %w", err)
	}
	if job.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return job, nil
}
