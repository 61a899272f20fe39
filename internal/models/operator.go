package models

import (
	"time"
)

// Operator represents an operations-team account allowed to act on the
// integration monitor (resolve alerts, request reprocessing). Operators are
// provisioned out of band by the seed-operator command, never self-registered.
type Operator struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Email          string    `json:"email" db:"email"`
	HashedPassword string    `json:"-" db:"hashed_password"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// LoginRequest is the credential payload for POST /api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the signed JWT back to the operator console.
type LoginResponse struct {
	Token      string `json:"token"`
	OperatorID string `json:"operator_id"`
}
