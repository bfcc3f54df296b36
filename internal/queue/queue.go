// Package queue is a Redis-backed work queue for generation jobs. It carries job
// ids only; the job table is the source of truth, so a lost queue entry can be
// rebuilt by redelivering the id.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/svgforge/internal/config"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseLost is returned when a lease token no longer matches the entry,
// typically because the lease expired and the job was handed to another worker.
var ErrLeaseLost = errors.New("queue lease lost")

type State string

const (
	StateMissing   State = ""
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Options controls retry and retention.
type Options struct {
	Name               string
	MaxAttempts        int
	BackoffBase        time.Duration
	LeaseTTL           time.Duration
	CompletedRetention time.Duration
	CompletedKeep      int
	FailedRetention    time.Duration
	FailedKeep         int
}

func OptionsFromConfig(cfg config.QueueConfig) Options {
	return Options{
		Name:               cfg.Name,
		MaxAttempts:        cfg.MaxAttempts,
		BackoffBase:        cfg.BackoffBase,
		LeaseTTL:           cfg.LeaseTTL,
		CompletedRetention: cfg.CompletedRetention,
		CompletedKeep:      cfg.CompletedKeep,
		FailedRetention:    cfg.FailedRetention,
		FailedKeep:         cfg.FailedKeep,
	}
}

// Lease is a worker's temporary ownership of one delivery of a job.
type Lease struct {
	JobID       uuid.UUID
	Token       string
	Attempt     int
	MaxAttempts int
	ExpiresAt   time.Time
}

// Final reports whether a failure of this delivery exhausts the attempt budget.
func (l *Lease) Final() bool {
	return l.Attempt >= l.MaxAttempts
}

// Counts is the number of entries in each state.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Queue is safe for concurrent use by any number of producers and consumers,
// across processes.
type Queue struct {
	rdb  *redis.Client
	opts Options
	now  func() time.Time

	prefix    string
	wait      string
	delayed   string
	active    string
	completed string
	failed    string
}

func New(rdb *redis.Client, opts Options) *Queue {
	prefix := fmt.Sprintf("svgforge:queue:%s:", opts.Name)
	return &Queue{
		rdb:       rdb,
		opts:      opts,
		now:       time.Now,
		prefix:    prefix,
		wait:      prefix + "wait",
		delayed:   prefix + "delayed",
		active:    prefix + "active",
		completed: prefix + "completed",
		failed:    prefix + "failed",
	}
}

// WithClock replaces the time source. Intended for tests.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

func (q *Queue) MaxAttempts() int { return q.opts.MaxAttempts }

func (q *Queue) LeaseTTL() time.Duration { return q.opts.LeaseTTL }

func (q *Queue) jobPrefix() string { return q.prefix + "job:" }

func (q *Queue) jobKey(id string) string { return q.jobPrefix() + id }

func (q *Queue) nowMs() int64 { return q.now().UnixMilli() }

// Enqueue adds jobID to the wait list. If an entry for jobID already exists in
// any state, nothing changes and added is false.
func (q *Queue) Enqueue(ctx context.Context, jobID uuid.UUID) (bool, error) {
	id := jobID.String()
	n, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.wait},
		id, q.nowMs(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", id, err)
	}
	return n == 1, nil
}

// Dequeue leases the next ready job. Due delayed retries are promoted first.
// It returns nil, nil when nothing is ready.
func (q *Queue) Dequeue(ctx context.Context) (*Lease, error) {
	now := q.now()
	expires := now.Add(q.opts.LeaseTTL)
	token := uuid.NewString()

	res, err := dequeueScript.Run(ctx, q.rdb,
		[]string{q.wait, q.delayed, q.active},
		now.UnixMilli(), expires.UnixMilli(), token, q.jobPrefix(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("dequeue: unexpected reply %v", res)
	}

	idStr, _ := res[0].(string)
	jobID, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("dequeue: bad job id %q: %w", idStr, err)
	}
	attempts, _ := res[1].(int64)

	return &Lease{
		JobID:       jobID,
		Token:       token,
		Attempt:     int(attempts) + 1,
		MaxAttempts: q.opts.MaxAttempts,
		ExpiresAt:   expires,
	}, nil
}

// Extend pushes the lease expiry one TTL into the future.
func (q *Queue) Extend(ctx context.Context, lease *Lease) error {
	id := lease.JobID.String()
	expires := q.now().Add(q.opts.LeaseTTL)
	n, err := extendScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.active},
		lease.Token, expires.UnixMilli(), id,
	).Int()
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", id, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	lease.ExpiresAt = expires
	return nil
}

// Complete acknowledges a successful delivery and trims completed entries.
func (q *Queue) Complete(ctx context.Context, lease *Lease) error {
	id := lease.JobID.String()
	now := q.now()
	n, err := completeScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.active, q.completed},
		lease.Token, id, now.UnixMilli(),
		now.Add(-q.opts.CompletedRetention).UnixMilli(), q.opts.CompletedKeep, q.jobPrefix(),
	).Int()
	if err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Fail records a failed delivery. Unless permanent is set or the attempt budget
// is spent, the job is scheduled again after an exponential backoff
// (base, 2*base, 4*base, ...) and the delay is returned. A zero delay means the
// entry moved to the failed set.
func (q *Queue) Fail(ctx context.Context, lease *Lease, reason string, permanent bool) (time.Duration, error) {
	id := lease.JobID.String()
	now := q.now()
	perm := "0"
	if permanent {
		perm = "1"
	}
	n, err := failScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.active, q.delayed, q.failed},
		lease.Token, id, now.UnixMilli(), q.opts.MaxAttempts, q.opts.BackoffBase.Milliseconds(),
		perm, reason, now.Add(-q.opts.FailedRetention).UnixMilli(), q.opts.FailedKeep, q.jobPrefix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("fail %s: %w", id, err)
	}
	if n < 0 {
		return 0, ErrLeaseLost
	}
	return time.Duration(n) * time.Millisecond, nil
}

// Stalled lists jobs whose lease has expired.
func (q *Queue) Stalled(ctx context.Context, limit int) ([]uuid.UUID, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, q.active, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.nowMs(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list stalled: %w", err)
	}
	out := make([]uuid.UUID, 0, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// Requeue moves a stalled job back to the front of the wait list and returns the
// token of the lease that expired. It reports false if the lease is no longer
// expired or the job is not active.
func (q *Queue) Requeue(ctx context.Context, jobID uuid.UUID) (string, bool, error) {
	id := jobID.String()
	token, err := requeueScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.active, q.wait},
		id, q.nowMs(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("requeue %s: %w", id, err)
	}
	return token, true, nil
}

// Redeliver makes sure jobID will be delivered again: a missing entry is added
// and a completed or failed one is revived. attemptsMade is the number of
// attempts the job record has already used; the next lease continues from there
// so redelivery never grants a fresh budget.
func (q *Queue) Redeliver(ctx context.Context, jobID uuid.UUID, attemptsMade int) (bool, error) {
	id := jobID.String()
	n, err := redeliverScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.wait, q.completed, q.failed},
		id, q.nowMs(), attemptsMade,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redeliver %s: %w", id, err)
	}
	return n == 1, nil
}

// State returns the entry's state, or StateMissing if there is none.
func (q *Queue) State(ctx context.Context, jobID uuid.UUID) (State, error) {
	s, err := q.rdb.HGet(ctx, q.jobKey(jobID.String()), "state").Result()
	if errors.Is(err, redis.Nil) {
		return StateMissing, nil
	}
	if err != nil {
		return StateMissing, fmt.Errorf("queue state: %w", err)
	}
	return State(s), nil
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.rdb.Pipeline()
	wait := pipe.LLen(ctx, q.wait)
	delayed := pipe.ZCard(ctx, q.delayed)
	active := pipe.ZCard(ctx, q.active)
	completed := pipe.ZCard(ctx, q.completed)
	failed := pipe.ZCard(ctx, q.failed)
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("queue counts: %w", err)
	}
	return Counts{
		Waiting:   wait.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}
