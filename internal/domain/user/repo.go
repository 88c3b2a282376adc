package user

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows a user listing. Nil/zero fields mean no constraint.
type ListFilter struct {
	Search string
	Role   string
	Active *bool
}

type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	// GetByEmail expects a lowercased email.
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*User, int, error)
	Count(ctx context.Context) (int, error)
}
