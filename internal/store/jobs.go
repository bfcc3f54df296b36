package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/svgforge/pkg/models"
)

const jobColumns = `id, owner_id, prompt, style, model, privacy, status, idempotency_key, request_hash,
	credits_charged, credits_refunded, attempts_made, started_at, last_started_at, finished_at,
	error_code, error_message, result_id, claim_token, created_at, updated_at`

func scanJob(row pgx.Row) (*models.GenerationJob, error) {
	var j models.GenerationJob
	err := row.Scan(&j.ID, &j.OwnerID, &j.Prompt, &j.Style, &j.Model, &j.Private, &j.Status,
		&j.IdempotencyKey, &j.RequestHash, &j.CreditsCharged, &j.CreditsRefunded, &j.AttemptsMade,
		&j.StartedAt, &j.LastStartedAt, &j.FinishedAt, &j.ErrorCode, &j.ErrorMessage, &j.ResultID,
		&j.ClaimToken, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJob inserts a QUEUED job. A clash on (owner_id, idempotency_key) returns ErrDuplicateKey.
func (s *PostgresStore) CreateJob(ctx context.Context, job *models.GenerationJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO generation_jobs (id, owner_id, prompt, style, model, privacy, status,
		   idempotency_key, request_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.OwnerID, job.Prompt, job.Style, job.Model, job.Private, job.Status,
		job.IdempotencyKey, job.RequestHash, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	return s.getJob(ctx, "get job",
		`SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, id)
}

func (s *PostgresStore) GetJobForOwner(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.GenerationJob, error) {
	return s.getJob(ctx, "get job for owner",
		`SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1 AND owner_id = $2`, id, ownerID)
}

func (s *PostgresStore) GetJobByIdempotencyKey(ctx context.Context, ownerID uuid.UUID, key string) (*models.GenerationJob, error) {
	return s.getJob(ctx, "get job by idempotency key",
		`SELECT `+jobColumns+` FROM generation_jobs WHERE owner_id = $1 AND idempotency_key = $2`, ownerID, key)
}

func (s *PostgresStore) getJob(ctx context.Context, op, query string, args ...any) (*models.GenerationJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return j, nil
}

// ClaimJob makes the delivery holding token the owner of a job and moves it to RUNNING.
// The queue grants at most one live lease per job, so a RUNNING row held by another
// token belongs to a delivery whose lease expired; the newer lease takes it over and
// every later write carrying the old token is rejected.
// It reports false when the job already finished or token already holds it.
func (s *PostgresStore) ClaimJob(ctx context.Context, id uuid.UUID, token string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE generation_jobs SET
		   status = 'RUNNING',
		   claim_token = $2,
		   started_at = COALESCE(started_at, NOW()),
		   last_started_at = NOW(),
		   error_code = NULL,
		   error_message = NULL,
		   updated_at = NOW()
		 WHERE id = $1 AND status IN ('QUEUED', 'RUNNING') AND result_id IS NULL
		   AND claim_token IS DISTINCT FROM $2`, id, token)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RequeueJob returns a job held by token to QUEUED after a retryable failure of the
// given attempt. It reports false when token no longer holds the job.
func (s *PostgresStore) RequeueJob(ctx context.Context, id uuid.UUID, token string, attempt int, code, message string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE generation_jobs SET
		   status = 'QUEUED',
		   claim_token = NULL,
		   error_code = $3,
		   error_message = $4,
		   attempts_made = GREATEST(attempts_made, $5),
		   updated_at = NOW()
		 WHERE id = $1 AND status = 'RUNNING' AND claim_token = $2`, id, token, code, message, attempt)
	if err != nil {
		return false, fmt.Errorf("requeue job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseStalledJob returns a RUNNING job whose holder vanished to QUEUED, leaving
// attempts and error fields untouched. token is the vanished holder's; an empty
// token matches a row that records none. A row claimed since then is left alone.
func (s *PostgresStore) ReleaseStalledJob(ctx context.Context, id uuid.UUID, token string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE generation_jobs SET status = 'QUEUED', claim_token = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'RUNNING' AND result_id IS NULL
		   AND COALESCE(claim_token, '') = $2`, id, token)
	if err != nil {
		return false, fmt.Errorf("release stalled job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListRecoverableJobs returns non-terminal jobs that have not been touched since olderThan.
func (s *PostgresStore) ListRecoverableJobs(ctx context.Context, olderThan time.Time, limit int) ([]*models.GenerationJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM generation_jobs
		 WHERE (status = 'QUEUED' AND updated_at < $1)
		    OR (status = 'RUNNING' AND last_started_at < $1)
		 ORDER BY updated_at
		 LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list recoverable jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.GenerationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CompleteJob inserts the artifact and marks the job SUCCEEDED in one transaction.
// If the job is no longer RUNNING under token, nothing is written and ErrJobNotRunning
// is returned.
func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, token string, artifact *models.Artifact) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO artifacts (id, job_id, owner_id, prompt, style, model, privacy, svg, size_bytes, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			artifact.ID, artifact.JobID, artifact.OwnerID, artifact.Prompt, artifact.Style,
			artifact.Model, artifact.Private, artifact.SVG, artifact.SizeBytes, artifact.CreatedAt,
		); err != nil {
			if isDuplicateKeyError(err) {
				return ErrJobNotRunning
			}
			return fmt.Errorf("insert artifact: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE generation_jobs SET
			   status = 'SUCCEEDED',
			   finished_at = NOW(),
			   result_id = $2,
			   error_code = NULL,
			   error_message = NULL,
			   updated_at = NOW()
			 WHERE id = $1 AND status = 'RUNNING' AND result_id IS NULL AND claim_token = $3`,
			id, artifact.ID, token)
		if err != nil {
			return fmt.Errorf("mark job succeeded: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrJobNotRunning
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrJobNotRunning) {
			return ErrJobNotRunning
		}
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}
