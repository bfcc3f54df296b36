package models

import (
	"time"

	"github.com/google/uuid"
)

// User owns jobs, artifacts and API keys. Credits never go below zero;
// the only decrement is guarded by credits > 0.
type User struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Email     string    `db:"email"      json:"email"`
	Credits   int       `db:"credits"    json:"credits"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
