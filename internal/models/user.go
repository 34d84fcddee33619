package models

import (
	"strings"
	"time"
)

// User is the durable credential record. PasswordHash never holds plaintext,
// and soft-deleted rows stay in the table but are invisible to every lookup.
type User struct {
	ID           int64      `json:"id"`
	FirstName    string     `json:"first_name"`
	MiddleName   *string    `json:"middle_name,omitempty"`
	LastName     *string    `json:"last_name,omitempty"`
	Email        string     `json:"email"`
	PhoneNumber  string     `json:"phone_number"`
	DOB          *time.Time `json:"dob,omitempty"`
	PasswordHash string     `json:"-"`
	IsDeleted    bool       `json:"-"`
	CreatedBy    string     `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedBy    *string    `json:"updated_by,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// NormalizeEmail canonicalizes an email for lookups and uniqueness checks.
// Comparison is case-insensitive throughout.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
