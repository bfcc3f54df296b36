// Package intake accepts generation requests. It deduplicates by idempotency key,
// persists the job row and only then hands the job id to the queue.
package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/svgforge/internal/store"
	"github.com/kiranshivaraju/svgforge/pkg/models"
)

var (
	// ErrIdempotencyConflict means the key was already used with different parameters.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different parameters")
	ErrValidation          = errors.New("invalid generation request")
)

const (
	MaxPromptLength = 1000
	MaxKeyLength    = 128
)

// Enqueuer hands a persisted job to the work queue. Enqueue must treat an
// already-queued id as success.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID uuid.UUID) (bool, error)
}

// SubmitRequest is the semantic content of a generation request.
type SubmitRequest struct {
	OwnerID        uuid.UUID `validate:"-"`
	Prompt         string    `validate:"required,max=1000"`
	Style          string    `validate:"required,oneof=outline filled duotone flat isometric hand-drawn"`
	Model          string    `validate:"required,oneof=gemini-2.5-flash gemini-2.5-pro"`
	Private        bool
	IdempotencyKey string `validate:"omitempty,max=128,printascii"`
}

// ValidationError lists the fields that failed validation, keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, msg := range e.Fields {
		parts = append(parts, f+": "+msg)
	}
	return "invalid generation request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type Service struct {
	store    store.Store
	queue    Enqueuer
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewService(s store.Store, q Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    s,
		queue:    q,
		logger:   logger,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit creates a job for req, or returns the existing job when the idempotency
// key was seen before with the same parameters (isDuplicate is then true).
// Enqueue failures are logged and do not fail the call; the row stays QUEUED
// and the worker's orphan sweep delivers it later.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.GenerationJob, bool, error) {
	req = normalize(req)
	if err := s.check(req); err != nil {
		return nil, false, err
	}

	hash := RequestHash(req.Prompt, req.Style, req.Model, req.Private)

	if req.IdempotencyKey != "" {
		existing, err := s.store.GetJobByIdempotencyKey(ctx, req.OwnerID, req.IdempotencyKey)
		switch {
		case err == nil:
			return resolve(existing, hash)
		case !errors.Is(err, store.ErrNotFound):
			return nil, false, fmt.Errorf("looking up idempotency key: %w", err)
		}
	}

	now := s.now()
	job := &models.GenerationJob{
		ID:          uuid.New(),
		OwnerID:     req.OwnerID,
		Prompt:      req.Prompt,
		Style:       req.Style,
		Model:       req.Model,
		Private:     req.Private,
		Status:      models.JobStatusQueued,
		RequestHash: hash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		job.IdempotencyKey = &key
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		if !errors.Is(err, store.ErrDuplicateKey) || job.IdempotencyKey == nil {
			return nil, false, fmt.Errorf("creating job: %w", err)
		}
		// Lost the insert race; the winner's row decides.
		winner, err := s.store.GetJobByIdempotencyKey(ctx, req.OwnerID, req.IdempotencyKey)
		if err != nil {
			return nil, false, fmt.Errorf("re-reading job after duplicate insert: %w", err)
		}
		return resolve(winner, hash)
	}

	if _, err := s.queue.Enqueue(ctx, job.ID); err != nil {
		s.logger.Error("enqueue failed, job left for sweep", "job_id", job.ID, "error", err)
	} else {
		s.logger.Info("job submitted", "job_id", job.ID, "owner_id", job.OwnerID, "style", job.Style, "model", job.Model)
	}
	return job, false, nil
}

func resolve(existing *models.GenerationJob, hash string) (*models.GenerationJob, bool, error) {
	if existing.RequestHash != hash {
		return nil, false, ErrIdempotencyConflict
	}
	return existing, true, nil
}

func normalize(req SubmitRequest) SubmitRequest {
	req.Prompt = strings.TrimSpace(req.Prompt)
	req.Style = strings.ToLower(strings.TrimSpace(req.Style))
	req.Model = strings.TrimSpace(req.Model)
	if req.Model == "" {
		req.Model = models.ModelFlash
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	return req
}

func (s *Service) check(req SubmitRequest) error {
	fields := map[string]string{}
	if req.OwnerID == uuid.Nil {
		fields["owner_id"] = "is required"
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating request: %w", err)
		}
		for _, fe := range verrs {
			fields[fieldName(fe.Field())] = describe(fe)
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func fieldName(f string) string {
	switch f {
	case "IdempotencyKey":
		return "idempotency_key"
	default:
		return strings.ToLower(f)
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "printascii":
		return "must contain printable ASCII characters only"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// RequestHash fingerprints the semantic fields of a request: sha256 over their
// JSON encoding with sorted keys, hex encoded.
func RequestHash(prompt, style, model string, private bool) string {
	// encoding/json writes map keys in sorted order.
	canonical, _ := json.Marshal(map[string]any{
		"prompt":  prompt,
		"style":   style,
		"model":   model,
		"privacy": private,
	})
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
