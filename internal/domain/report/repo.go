package report

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows a report listing. Nil/zero fields mean no constraint;
// the date range is open-ended on either side.
type ListFilter struct {
	FolioSearch string
	State       *State
	From        *time.Time
	To          *time.Time
	PatientID   *uuid.UUID
	TestID      *uuid.UUID
}

// StateCount is one row of the per-state aggregate.
type StateCount struct {
	State State `json:"state"`
	Count int   `json:"count"`
}

// TestVolume is one row of the most-performed-tests aggregate, grouped by
// the snapshotted test name so renamed definitions do not rewrite history.
type TestVolume struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Repository interface {
	// Create persists the report as a single unit. A folio collision at
	// insert time surfaces as a DuplicateKey error.
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	// GetByFolio expects an uppercased folio, with or without the '#'.
	GetByFolio(ctx context.Context, folio string) (*Report, error)
	ExistsByFolio(ctx context.Context, folio string) (bool, error)
	Update(ctx context.Context, r *Report) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Report, int, error)
	// ListByPatient returns a patient's reports newest first, optionally
	// hiding cancelled ones.
	ListByPatient(ctx context.Context, patientID uuid.UUID, includeCancelled bool, limit int) ([]*Report, error)
	CountByState(ctx context.Context, from, to *time.Time) ([]StateCount, error)
	TopTestsByVolume(ctx context.Context, from, to *time.Time, limit int) ([]TestVolume, error)
}
