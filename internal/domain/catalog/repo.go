package catalog

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows a test definition listing. Nil/zero fields mean no
// constraint.
type ListFilter struct {
	Search   string
	Category *Category
	Active   *bool
}

type Repository interface {
	Create(ctx context.Context, td *TestDefinition) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestDefinition, error)
	// Update re-saves the whole document, embedded lists included.
	Update(ctx context.Context, td *TestDefinition) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*TestDefinition, int, error)
}
