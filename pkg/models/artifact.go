package models

import (
	"time"

	"github.com/google/uuid"
)

// Artifact is the sanitized SVG produced by a succeeded job.
type Artifact struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	JobID     uuid.UUID `db:"job_id"     json:"job_id"`
	OwnerID   uuid.UUID `db:"owner_id"   json:"-"`
	Prompt    string    `db:"prompt"     json:"prompt"`
	Style     string    `db:"style"      json:"style"`
	Model     string    `db:"model"      json:"model"`
	Private   bool      `db:"privacy"    json:"private"`
	SVG       string    `db:"svg"        json:"-"`
	SizeBytes int       `db:"size_bytes" json:"size_bytes"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
