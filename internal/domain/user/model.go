package user

import (
	"time"

	"github.com/google/uuid"
)

// User is a staff account. The password hash never leaves the package
// through serialization.
type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	LicenseID    string    `json:"license_id,omitempty"`
	Specialty    string    `json:"specialty,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
