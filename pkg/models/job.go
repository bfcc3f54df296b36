package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued    = "QUEUED"
	JobStatusRunning   = "RUNNING"
	JobStatusSucceeded = "SUCCEEDED"
	JobStatusFailed    = "FAILED"
)

// GenerationJob is the authoritative record of one generation request.
// Only conditional updates move it between states; the queue carries its ID and nothing else.
type GenerationJob struct {
	ID              uuid.UUID  `db:"id"               json:"id"`
	OwnerID         uuid.UUID  `db:"owner_id"         json:"-"`
	Prompt          string     `db:"prompt"           json:"prompt"`
	Style           string     `db:"style"            json:"style"`
	Model           string     `db:"model"            json:"model"`
	Private         bool       `db:"privacy"          json:"private"`
	Status          string     `db:"status"           json:"status"`
	IdempotencyKey  *string    `db:"idempotency_key"  json:"idempotency_key,omitempty"`
	RequestHash     string     `db:"request_hash"     json:"-"`
	CreditsCharged  bool       `db:"credits_charged"  json:"credits_charged"`
	CreditsRefunded bool       `db:"credits_refunded" json:"credits_refunded"`
	AttemptsMade    int        `db:"attempts_made"    json:"attempts_made"`
	StartedAt       *time.Time `db:"started_at"       json:"started_at,omitempty"`
	LastStartedAt   *time.Time `db:"last_started_at"  json:"last_started_at,omitempty"`
	FinishedAt      *time.Time `db:"finished_at"      json:"finished_at,omitempty"`
	ErrorCode       *string    `db:"error_code"       json:"error_code,omitempty"`
	ErrorMessage    *string    `db:"error_message"    json:"error_message,omitempty"`
	ResultID        *uuid.UUID `db:"result_id"        json:"result_id,omitempty"`
	ClaimToken      *string    `db:"claim_token"      json:"-"`
	CreatedAt       time.Time  `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"       json:"updated_at"`
}

// Terminal reports whether the job has reached SUCCEEDED or FAILED.
func (j *GenerationJob) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

// Done reports whether a delivery of this job has nothing left to do.
func (j *GenerationJob) Done() bool {
	return j.ResultID != nil || j.Terminal()
}
