// Package ledger couples credit movements to job state. The store performs the
// conditional updates; this package turns their outcomes into values the
// worker can branch on.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/svgforge/internal/classify"
	"github.com/kiranshivaraju/svgforge/internal/store"
	"github.com/kiranshivaraju/svgforge/pkg/models"
)

// CostPerJob is the number of credits a generation costs.
const CostPerJob = 1

// ChargeOutcome is the result of attempting to charge a job.
type ChargeOutcome int

const (
	// Charged means this call debited the owner's balance.
	Charged ChargeOutcome = iota
	// AlreadyCharged means an earlier delivery already paid for the job.
	AlreadyCharged
	// InsufficientFunds means the owner had no credits; nothing changed.
	InsufficientFunds
)

func (o ChargeOutcome) String() string {
	switch o {
	case Charged:
		return "charged"
	case AlreadyCharged:
		return "already_charged"
	case InsufficientFunds:
		return "insufficient_funds"
	default:
		return fmt.Sprintf("ChargeOutcome(%d)", int(o))
	}
}

type Ledger struct {
	store  store.Store
	logger *slog.Logger
}

func New(s store.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: s, logger: logger}
}

// Charge debits the job owner once per job. Neither AlreadyCharged nor
// InsufficientFunds is returned as an error.
func (l *Ledger) Charge(ctx context.Context, job *models.GenerationJob) (ChargeOutcome, error) {
	if job.CreditsCharged {
		return AlreadyCharged, nil
	}

	balance, err := l.store.ChargeJobCredit(ctx, job.ID)
	switch {
	case err == nil:
		job.CreditsCharged = true
		l.logger.Info("credits charged", "job_id", job.ID, "owner_id", job.OwnerID, "balance", balance)
		return Charged, nil
	case errors.Is(err, store.ErrAlreadyCharged):
		job.CreditsCharged = true
		return AlreadyCharged, nil
	case errors.Is(err, store.ErrInsufficientCredits):
		return InsufficientFunds, nil
	default:
		return 0, fmt.Errorf("charging job %s: %w", job.ID, err)
	}
}

// FailTerminal marks the job FAILED and returns the credit if it was charged
// and never produced a result. Only the delivery holding token may do so; any
// other gets store.ErrJobNotRunning. It is safe to call any number of times; at
// most one call reports refunded.
func (l *Ledger) FailTerminal(ctx context.Context, job *models.GenerationJob, token string, attempt int, c classify.Classification) (bool, error) {
	refunded, err := l.store.RefundAndFailJob(ctx, job.ID, token, attempt, string(c.Code), c.Message)
	if err != nil {
		return false, fmt.Errorf("failing job %s: %w", job.ID, err)
	}
	if refunded {
		l.logger.Info("credits refunded", "job_id", job.ID, "owner_id", job.OwnerID, "amount", CostPerJob)
	}
	return refunded, nil
}
