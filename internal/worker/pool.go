package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/svgforge/internal/classify"
	"github.com/kiranshivaraju/svgforge/internal/config"
	"github.com/kiranshivaraju/svgforge/internal/queue"
	"github.com/kiranshivaraju/svgforge/internal/store"
	"github.com/kiranshivaraju/svgforge/pkg/models"
)

// Queue is the part of queue.Queue the pool drives.
type Queue interface {
	Dequeue(ctx context.Context) (*queue.Lease, error)
	Extend(ctx context.Context, lease *queue.Lease) error
	Complete(ctx context.Context, lease *queue.Lease) error
	Fail(ctx context.Context, lease *queue.Lease, reason string, permanent bool) (time.Duration, error)
	Stalled(ctx context.Context, limit int) ([]uuid.UUID, error)
	Requeue(ctx context.Context, jobID uuid.UUID) (string, bool, error)
	Redeliver(ctx context.Context, jobID uuid.UUID, attemptsMade int) (bool, error)
	State(ctx context.Context, jobID uuid.UUID) (queue.State, error)
}

// Handler processes one delivery.
type Handler interface {
	Process(ctx context.Context, lease *queue.Lease) error
}

type PoolConfig struct {
	Concurrency     int
	PollInterval    time.Duration
	LeaseTTL        time.Duration
	StalledInterval time.Duration
	SweepInterval   time.Duration
	SweepAge        time.Duration
	BatchSize       int
}

func PoolConfigFromConfig(cfg *config.Config) PoolConfig {
	return PoolConfig{
		Concurrency:     cfg.Worker.Concurrency,
		PollInterval:    cfg.Worker.PollInterval,
		LeaseTTL:        cfg.Queue.LeaseTTL,
		StalledInterval: cfg.Worker.StalledInterval,
		SweepInterval:   cfg.Worker.SweepInterval,
		SweepAge:        cfg.Worker.SweepAge,
		BatchSize:       100,
	}
}

// Pool runs Concurrency consumers plus the stalled-lease monitor and the
// orphan sweep.
type Pool struct {
	queue   Queue
	store   store.Store
	handler Handler
	cfg     PoolConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewPool(q Queue, s store.Store, h Handler, cfg PoolConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	return &Pool{queue: q, store: s, handler: h, cfg: cfg, logger: logger, now: time.Now}
}

// Run blocks until ctx is cancelled and every in-flight job has finished.
// Jobs already dequeued run to completion on a context detached from ctx.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.consume(ctx, id)
		}(i)
	}

	if p.cfg.StalledInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.every(ctx, p.cfg.StalledInterval, p.RecoverStalled)
		}()
	}
	if p.cfg.SweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.every(ctx, p.cfg.SweepInterval, p.Sweep)
		}()
	}

	p.logger.Info("worker pool started", "concurrency", p.cfg.Concurrency)
	wg.Wait()
	p.logger.Info("worker pool stopped")
	return nil
}

func (p *Pool) consume(ctx context.Context, id int) {
	log := p.logger.With("consumer", id)
	for ctx.Err() == nil {
		lease, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("dequeue failed", "error", err)
			}
			sleep(ctx, p.cfg.PollInterval)
			continue
		}
		if lease == nil {
			sleep(ctx, p.cfg.PollInterval)
			continue
		}
		p.handle(context.WithoutCancel(ctx), lease)
	}
}

// handle processes one lease and acknowledges it. Processing is cancelled with
// queue.ErrLeaseLost as the cause once the heartbeat finds the lease gone, and
// such a delivery is neither acknowledged nor failed.
func (p *Pool) handle(ctx context.Context, lease *queue.Lease) {
	log := p.logger.With("job_id", lease.JobID, "attempt", lease.Attempt)

	procCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	hbCtx, stop := context.WithCancel(procCtx)
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		p.heartbeat(hbCtx, lease, abort)
	}()

	err := p.process(procCtx, lease)
	stop()
	hb.Wait()

	if errors.Is(err, queue.ErrLeaseLost) {
		log.Warn("delivery abandoned after losing its lease", "error", err)
		return
	}
	if err == nil {
		if err := p.queue.Complete(ctx, lease); err != nil {
			log.Warn("ack failed", "error", err)
		}
		return
	}

	permanent := IsPermanent(err)
	reason := classify.Truncate(err.Error(), classify.MaxMessageBytes)
	delay, ferr := p.queue.Fail(ctx, lease, reason, permanent)
	switch {
	case ferr != nil:
		log.Warn("nack failed", "error", ferr)
	case delay > 0:
		log.Info("retry scheduled", "delay", delay)
	default:
		log.Info("queue entry failed", "permanent", permanent)
	}
}

func (p *Pool) process(ctx context.Context, lease *queue.Lease) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing job", "job_id", lease.JobID, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.handler.Process(ctx, lease)
}

func (p *Pool) heartbeat(ctx context.Context, lease *queue.Lease, abort context.CancelCauseFunc) {
	interval := p.cfg.LeaseTTL / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.Extend(ctx, lease); err != nil {
				if errors.Is(err, queue.ErrLeaseLost) {
					p.logger.Warn("lease lost while processing", "job_id", lease.JobID)
					abort(queue.ErrLeaseLost)
					return
				}
				p.logger.Warn("lease extension failed", "job_id", lease.JobID, "error", err)
			}
		}
	}
}

// RecoverStalled hands jobs whose lease expired back to the queue. Only after
// the queue entry moved does the row go back to QUEUED, and only if the expired
// lease still holds it; a stalled delivery does not use up an attempt.
func (p *Pool) RecoverStalled(ctx context.Context) {
	ids, err := p.queue.Stalled(ctx, p.cfg.BatchSize)
	if err != nil {
		p.logger.Error("listing stalled jobs", "error", err)
		return
	}
	for _, id := range ids {
		token, requeued, err := p.queue.Requeue(ctx, id)
		if err != nil {
			p.logger.Error("requeueing stalled job", "job_id", id, "error", err)
			continue
		}
		if !requeued {
			continue
		}
		released, err := p.store.ReleaseStalledJob(ctx, id, token)
		if err != nil {
			// The next delivery takes the row over regardless.
			p.logger.Error("releasing stalled job", "job_id", id, "error", err)
		}
		p.logger.Warn("stalled job requeued", "job_id", id, "row_released", released)
	}
}

// Sweep redelivers jobs the queue has lost track of: rows left QUEUED by a
// failed enqueue and rows stuck RUNNING without a live lease.
func (p *Pool) Sweep(ctx context.Context) {
	jobs, err := p.store.ListRecoverableJobs(ctx, p.now().Add(-p.cfg.SweepAge), p.cfg.BatchSize)
	if err != nil {
		p.logger.Error("listing recoverable jobs", "error", err)
		return
	}
	for _, job := range jobs {
		state, err := p.queue.State(ctx, job.ID)
		if err != nil {
			p.logger.Error("reading queue state", "job_id", job.ID, "error", err)
			continue
		}
		if state == queue.StateActive {
			continue
		}
		if job.Status == models.JobStatusRunning {
			holder := ""
			if job.ClaimToken != nil {
				holder = *job.ClaimToken
			}
			if _, err := p.store.ReleaseStalledJob(ctx, job.ID, holder); err != nil {
				p.logger.Error("releasing orphaned job", "job_id", job.ID, "error", err)
				continue
			}
		}
		redelivered, err := p.queue.Redeliver(ctx, job.ID, job.AttemptsMade)
		if err != nil {
			p.logger.Error("redelivering job", "job_id", job.ID, "error", err)
			continue
		}
		if redelivered {
			p.logger.Warn("orphaned job redelivered", "job_id", job.ID, "status", job.Status, "queue_state", string(state))
		}
	}
}

func (p *Pool) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
