// Package worker runs generation jobs delivered by the queue. Every step that a
// redelivery can replay (claim, charge, persist, refund) is a conditional
// update, so processing the same lease twice has no further effect.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/svgforge/internal/cache"
	"github.com/kiranshivaraju/svgforge/internal/classify"
	"github.com/kiranshivaraju/svgforge/internal/ledger"
	"github.com/kiranshivaraju/svgforge/internal/queue"
	"github.com/kiranshivaraju/svgforge/internal/store"
	"github.com/kiranshivaraju/svgforge/pkg/models"
)

// PermanentError marks a failure that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the pool fails the job without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Sanitizer filters generated documents before they are stored.
type Sanitizer interface {
	Sanitize(raw string) (string, error)
}

// Invalidator deletes cache entries.
type Invalidator interface {
	Delete(ctx context.Context, key string) error
}

// Processor executes one delivery of a job.
type Processor struct {
	store           store.Store
	ledger          *ledger.Ledger
	generator       models.Generator
	sanitizer       Sanitizer
	cache           Invalidator
	logger          *slog.Logger
	generateTimeout time.Duration
	now             func() time.Time
}

func NewProcessor(
	s store.Store,
	l *ledger.Ledger,
	gen models.Generator,
	sanitizer Sanitizer,
	c Invalidator,
	logger *slog.Logger,
	generateTimeout time.Duration,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:           s,
		ledger:          l,
		generator:       gen,
		sanitizer:       sanitizer,
		cache:           c,
		logger:          logger,
		generateTimeout: generateTimeout,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Process runs the job named by lease. A nil return means the delivery is
// finished, including deliveries that found nothing to do. Any other error is
// for the queue: PermanentError fails the entry at once, queue.ErrLeaseLost
// means another delivery owns the job now, and anything else is retried while
// attempts remain.
//
// The lease token is recorded as the job's holder when the row is claimed. Every
// later write is conditional on it, so a delivery whose lease expired cannot
// change a row that a newer delivery has taken over.
func (p *Processor) Process(ctx context.Context, lease *queue.Lease) error {
	log := p.logger.With("job_id", lease.JobID, "attempt", lease.Attempt)

	job, err := p.store.GetJob(ctx, lease.JobID)
	if errors.Is(err, store.ErrNotFound) {
		log.Error("job row missing")
		return Permanent(fmt.Errorf("job %s not found", lease.JobID))
	}
	if err != nil {
		return p.fail(ctx, log, lease, nil, storageErr("loading job", err))
	}

	if job.Done() {
		log.Info("job already finished, skipping", "status", job.Status)
		return nil
	}

	claimed, err := p.store.ClaimJob(ctx, job.ID, lease.Token)
	if err != nil {
		return p.fail(ctx, log, lease, nil, storageErr("claiming job", err))
	}
	if !claimed {
		return p.missedClaim(ctx, log, lease)
	}
	log.Info("job claimed", "owner_id", job.OwnerID)

	outcome, err := p.ledger.Charge(ctx, job)
	if err != nil {
		return p.fail(ctx, log, lease, job, fmt.Errorf("%w: %w", classify.ErrStorage, err))
	}
	if outcome == ledger.InsufficientFunds {
		c := classify.Classify(classify.ErrInsufficientCredits)
		if _, err := p.ledger.FailTerminal(ctx, job, lease.Token, lease.Attempt, c); err != nil {
			log.Error("marking job failed", "error", err)
		}
		log.Warn("job failed", "error_code", c.Code)
		return Permanent(classify.ErrInsufficientCredits)
	}

	svg, err := p.generate(ctx, job)
	if err != nil {
		return p.fail(ctx, log, lease, job, err)
	}

	artifact := &models.Artifact{
		ID:        uuid.New(),
		JobID:     job.ID,
		OwnerID:   job.OwnerID,
		Prompt:    job.Prompt,
		Style:     job.Style,
		Model:     job.Model,
		Private:   job.Private,
		SVG:       svg,
		SizeBytes: len(svg),
		CreatedAt: p.now(),
	}
	err = p.store.CompleteJob(ctx, job.ID, lease.Token, artifact)
	if errors.Is(err, store.ErrJobNotRunning) {
		log.Warn("job no longer held by this delivery, result discarded")
		return nil
	}
	if err != nil {
		return p.fail(ctx, log, lease, job, storageErr("saving result", err))
	}
	log.Info("job succeeded", "artifact_id", artifact.ID, "size_bytes", artifact.SizeBytes)

	if !job.Private {
		if err := p.cache.Delete(ctx, cache.GalleryFirstPageKey()); err != nil {
			log.Warn("gallery cache invalidation failed",
				"error_code", classify.CacheUnavailable, "error", err)
		}
	}
	return nil
}

// missedClaim decides what a delivery that could not claim its job does. A
// finished job or one this lease already holds needs nothing more; anything
// else is left for a later attempt.
func (p *Processor) missedClaim(ctx context.Context, log *slog.Logger, lease *queue.Lease) error {
	job, err := p.store.GetJob(ctx, lease.JobID)
	if err != nil {
		return storageErr("reloading job", err)
	}
	switch {
	case job.Done():
		log.Info("job finished elsewhere, skipping", "status", job.Status)
		return nil
	case job.ClaimToken != nil && *job.ClaimToken == lease.Token:
		log.Info("job already held by this delivery, skipping")
		return nil
	default:
		log.Warn("job could not be claimed", "status", job.Status)
		return fmt.Errorf("job %s could not be claimed in status %s", job.ID, job.Status)
	}
}

func (p *Processor) generate(ctx context.Context, job *models.GenerationJob) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, p.generateTimeout)
	defer cancel()

	raw, err := p.generator.Generate(genCtx, job.Prompt, job.Style, job.Model)
	if err != nil {
		return "", fmt.Errorf("generating with %s: %w", p.generator.Name(), err)
	}
	svg, err := p.sanitizer.Sanitize(raw)
	if err != nil {
		return "", fmt.Errorf("sanitizing artifact: %w", err)
	}
	return svg, nil
}

// fail records a failed step of a delivery. job is nil when the row was never
// claimed, in which case the row is left for the next delivery or the sweep.
// Before the final attempt a claimed row goes back to QUEUED so the retry can
// claim it; on the final attempt the job is failed and any charge refunded.
func (p *Processor) fail(ctx context.Context, log *slog.Logger, lease *queue.Lease, job *models.GenerationJob, cause error) error {
	if errors.Is(context.Cause(ctx), queue.ErrLeaseLost) {
		log.Warn("lease lost, attempt abandoned", "error", cause)
		return fmt.Errorf("%w: %w", queue.ErrLeaseLost, cause)
	}

	c := classify.Classify(cause)
	log = log.With("error_code", c.Code)

	if job == nil {
		log.Warn("attempt failed before the job was claimed", "error", cause)
		return cause
	}

	if !lease.Final() && c.Code.Retryable() {
		requeued, err := p.store.RequeueJob(ctx, lease.JobID, lease.Token, lease.Attempt, string(c.Code), c.Message)
		if err != nil {
			log.Error("resetting job for retry", "error", err)
			return errors.Join(cause, storageErr("resetting job for retry", err))
		}
		if !requeued {
			log.Warn("job no longer held by this delivery", "error", cause)
			return cause
		}
		log.Warn("attempt failed, will retry", "error", cause)
		return cause
	}

	refunded, err := p.ledger.FailTerminal(ctx, job, lease.Token, lease.Attempt, c)
	if errors.Is(err, store.ErrJobNotRunning) {
		log.Warn("job no longer held by this delivery", "error", cause)
		return cause
	}
	if err != nil {
		log.Error("marking job failed", "error", err)
		return cause
	}
	log.Error("job failed", "error", cause, "refunded", refunded)
	return cause
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, classify.ErrStorage, err)
}
