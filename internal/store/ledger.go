package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ChargeJobCredit debits one credit from the job owner and flags the job as charged,
// both in one transaction. It returns the balance after the charge.
//
// ErrAlreadyCharged means the flag was already set and nothing changed.
// ErrInsufficientCredits means the owner's balance was zero and nothing changed.
func (s *PostgresStore) ChargeJobCredit(ctx context.Context, id uuid.UUID) (int, error) {
	var balance int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var ownerID uuid.UUID
		err := tx.QueryRow(ctx,
			`UPDATE generation_jobs SET credits_charged = TRUE, updated_at = NOW()
			 WHERE id = $1 AND NOT credits_charged
			 RETURNING owner_id`, id,
		).Scan(&ownerID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAlreadyCharged
		}
		if err != nil {
			return fmt.Errorf("flag job charged: %w", err)
		}

		err = tx.QueryRow(ctx,
			`UPDATE users SET credits = credits - 1, updated_at = NOW()
			 WHERE id = $1 AND credits > 0
			 RETURNING credits`, ownerID,
		).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInsufficientCredits
		}
		if err != nil {
			return fmt.Errorf("debit credits: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyCharged) || errors.Is(err, ErrInsufficientCredits) {
			return 0, err
		}
		return 0, fmt.Errorf("charge job credit: %w", err)
	}
	return balance, nil
}

// RefundAndFailJob marks a job held by token FAILED and, if it was charged, never
// refunded and never produced a result, returns the credit to its owner. All of it
// commits together. Repeating the call is safe: the refund happens at most once.
// ErrJobNotRunning means token does not hold the job and nothing changed.
func (s *PostgresStore) RefundAndFailJob(ctx context.Context, id uuid.UUID, token string, attempt int, code, message string) (bool, error) {
	var refunded bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var ownerID uuid.UUID
		err := tx.QueryRow(ctx,
			`UPDATE generation_jobs SET credits_refunded = TRUE, updated_at = NOW()
			 WHERE id = $1 AND claim_token = $2 AND status <> 'SUCCEEDED'
			   AND credits_charged AND NOT credits_refunded AND result_id IS NULL
			 RETURNING owner_id`, id, token,
		).Scan(&ownerID)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return fmt.Errorf("flag job refunded: %w", err)
		default:
			if _, err := tx.Exec(ctx,
				`UPDATE users SET credits = credits + 1, updated_at = NOW() WHERE id = $1`, ownerID,
			); err != nil {
				return fmt.Errorf("credit refund: %w", err)
			}
			refunded = true
		}

		tag, err := tx.Exec(ctx,
			`UPDATE generation_jobs SET
			   status = 'FAILED',
			   finished_at = COALESCE(finished_at, NOW()),
			   error_code = $3,
			   error_message = $4,
			   attempts_made = GREATEST(attempts_made, $5),
			   updated_at = NOW()
			 WHERE id = $1 AND claim_token = $2 AND status <> 'SUCCEEDED'`, id, token, code, message, attempt,
		)
		if err != nil {
			return fmt.Errorf("mark job failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrJobNotRunning
		}
		return nil
	})
	if errors.Is(err, ErrJobNotRunning) {
		return false, ErrJobNotRunning
	}
	if err != nil {
		return false, fmt.Errorf("refund and fail job: %w", err)
	}
	return refunded, nil
}
