package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/svgforge/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrJobNotRunning is returned when a transition that requires a RUNNING row finds none.
var ErrJobNotRunning = errors.New("job is not running")

var (
	ErrAlreadyCharged      = errors.New("job already charged")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// Store is the data access interface. All database operations go through here.
// Job mutations are conditional updates; replaying any of them is a no-op.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GrantCredits(ctx context.Context, id uuid.UUID, amount int) (*models.User, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateJob(ctx context.Context, job *models.GenerationJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	GetJobForOwner(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.GenerationJob, error)
	GetJobByIdempotencyKey(ctx context.Context, ownerID uuid.UUID, key string) (*models.GenerationJob, error)
	ClaimJob(ctx context.Context, id uuid.UUID, token string) (bool, error)
	RequeueJob(ctx context.Context, id uuid.UUID, token string, attempt int, code, message string) (bool, error)
	ReleaseStalledJob(ctx context.Context, id uuid.UUID, token string) (bool, error)
	ListRecoverableJobs(ctx context.Context, olderThan time.Time, limit int) ([]*models.GenerationJob, error)

	ChargeJobCredit(ctx context.Context, id uuid.UUID) (int, error)
	RefundAndFailJob(ctx context.Context, id uuid.UUID, token string, attempt int, code, message string) (bool, error)
	CompleteJob(ctx context.Context, id uuid.UUID, token string, artifact *models.Artifact) error

	GetArtifact(ctx context.Context, id uuid.UUID) (*models.Artifact, error)
	ListPublicArtifacts(ctx context.Context, page, limit int) ([]*models.Artifact, int, error)
}

// NormalizePage clamps pagination input to sane bounds.
func NormalizePage(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return page, limit
}
