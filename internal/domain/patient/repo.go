package patient

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows a patient listing. Nil/zero fields mean no constraint.
// Search matches the name always; it additionally matches email when it
// contains '@' and phone when it is all digits.
type ListFilter struct {
	Search string
	Active *bool
}

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error)
}
