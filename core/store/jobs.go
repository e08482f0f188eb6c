package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Analysis Jobs
// =============================================================================

// JobTypeVocabulary is the only job type the pipeline currently produces.
const JobTypeVocabulary = "vocabulary"

// ClaimJob creates or reopens the analysis job for a turn and returns it.
// Exactly one job row exists per turn. If the existing job is already
// completed, claimed is false and the caller must treat the delivery as a
// no-op; a failed job is reopened so redelivery can retry it.
func (s *Store) ClaimJob(ctx context.Context, turnID, jobType string, now time.Time) (job *AnalysisJob, claimed bool, err error) {
	existing, err := s.GetJobByTurn(ctx, turnID)
	if err != nil && err != ErrJobNotFound {
		return nil, false, err
	}

	if existing != nil {
		if existing.Status == JobCompleted {
			return existing, false, nil
		}
		if err := s.markJobProcessing(ctx, existing.ID); err != nil {
			return nil, false, err
		}
		existing.Status = JobProcessing
		return existing, true, nil
	}

	job = &AnalysisJob{
		ID:        uuid.New().String(),
		TurnID:    turnID,
		JobType:   jobType,
		Status:    JobProcessing,
		CreatedAt: now.UTC(),
	}

	// INSERT OR IGNORE guards the race where a concurrent delivery created
	// the row between the read above and this write.
	result, err := s.pool.Exec(ctx, `
		INSERT OR IGNORE INTO analysis_jobs (id, turn_id, job_type, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, job.ID, job.TurnID, job.JobType, job.Status, job.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Lost the race; re-read and decide again.
		return s.ClaimJob(ctx, turnID, jobType, now)
	}
	return job, true, nil
}

func (s *Store) markJobProcessing(ctx context.Context, id string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE analysis_jobs SET status = ?, completed_at = NULL, result = NULL WHERE id = ?
	`, JobProcessing, id)
	if err != nil {
		return fmt.Errorf("reopen job: %w", err)
	}
	return checkRowsAffected(result, ErrJobNotFound)
}

// CompleteJob marks the job completed with a result payload.
func (s *Store) CompleteJob(ctx context.Context, id, result string, at time.Time) error {
	res, err := s.pool.Exec(ctx, `
		UPDATE analysis_jobs SET status = ?, completed_at = ?, result = ? WHERE id = ?
	`, JobCompleted, at.UTC(), result, id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return checkRowsAffected(res, ErrJobNotFound)
}

// FailJob marks the job failed with the error captured in the result.
func (s *Store) FailJob(ctx context.Context, id, errMsg string, at time.Time) error {
	res, err := s.pool.Exec(ctx, `
		UPDATE analysis_jobs SET status = ?, completed_at = ?, result = ? WHERE id = ?
	`, JobFailed, at.UTC(), errMsg, id)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return checkRowsAffected(res, ErrJobNotFound)
}

// GetJobByTurn returns the analysis job for a turn.
func (s *Store) GetJobByTurn(ctx context.Context, turnID string) (*AnalysisJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, turn_id, job_type, status, created_at, completed_at, result
		FROM analysis_jobs WHERE turn_id = ?
	`, turnID)
	return scanJob(row)
}

// JobsByStatus returns jobs in the given status, oldest first. Used to spot
// stuck processing jobs.
func (s *Store) JobsByStatus(ctx context.Context, status JobStatus, limit int) ([]AnalysisJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, turn_id, job_type, status, created_at, completed_at, result
		FROM analysis_jobs WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []AnalysisJob
	for rows.Next() {
		var job AnalysisJob
		var completedAt sql.NullTime
		var result sql.NullString
		if err := rows.Scan(&job.ID, &job.TurnID, &job.JobType, &job.Status,
			&job.CreatedAt, &completedAt, &result); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if completedAt.Valid {
			job.CompletedAt = &completedAt.Time
		}
		job.Result = result.String
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row *sql.Row) (*AnalysisJob, error) {
	var job AnalysisJob
	var completedAt sql.NullTime
	var result sql.NullString

	err := row.Scan(&job.ID, &job.TurnID, &job.JobType, &job.Status,
		&job.CreatedAt, &completedAt, &result)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	job.Result = result.String
	return &job, nil
}
