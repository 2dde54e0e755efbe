package db

import (
	"time"

	"github.com/google/uuid"
)

// Operator is a console user: a human who can sign in to the operator
// console via local email/password or OIDC.
type Operator struct {
	ID           uuid.UUID
	Email        string
	DisplayName  string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
