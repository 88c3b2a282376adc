package patient

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labcore/labcore/internal/platform/apperror"
)

var emailRe = regexp.MustCompile(`^\S+@\S+\.\S+$`)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, p *Patient) error {
	if err := normalize(p); err != nil {
		return err
	}
	p.Active = true
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

// Patch carries optional edits to a patient record.
type Patch struct {
	Name             *string           `json:"name,omitempty"`
	BirthDate        *time.Time        `json:"birth_date,omitempty"`
	Gender           *Gender           `json:"gender,omitempty"`
	Phone            *string           `json:"phone,omitempty"`
	Email            *string           `json:"email,omitempty"`
	Address          *Address          `json:"address,omitempty"`
	EmergencyContact *EmergencyContact `json:"emergency_contact,omitempty"`
	Allergies        []string          `json:"allergies,omitempty"`
	Conditions       []string          `json:"conditions,omitempty"`
	Medications      []Medication      `json:"medications,omitempty"`
	Notes            *string           `json:"notes,omitempty"`
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, patch Patch) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.BirthDate != nil {
		p.BirthDate = *patch.BirthDate
	}
	if patch.Gender != nil {
		p.Gender = *patch.Gender
	}
	if patch.Phone != nil {
		p.Phone = *patch.Phone
	}
	if patch.Email != nil {
		p.Email = *patch.Email
	}
	if patch.Address != nil {
		p.Address = patch.Address
	}
	if patch.EmergencyContact != nil {
		p.EmergencyContact = patch.EmergencyContact
	}
	if patch.Allergies != nil {
		p.Allergies = patch.Allergies
	}
	if patch.Conditions != nil {
		p.Conditions = patch.Conditions
	}
	if patch.Medications != nil {
		p.Medications = patch.Medications
	}
	if patch.Notes != nil {
		p.Notes = *patch.Notes
	}

	if err := normalize(p); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Deactivate soft-deletes a patient. Existing reports keep their snapshots.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.setActive(ctx, id, false)
}

// Reactivate undoes a soft delete.
func (s *Service) Reactivate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.setActive(ctx, id, true)
}

func (s *Service) setActive(ctx context.Context, id uuid.UUID, active bool) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Active = active
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func normalize(p *Patient) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Phone = strings.TrimSpace(p.Phone)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))

	if p.Name == "" {
		return apperror.ValidationFailed("name is required")
	}
	if p.BirthDate.IsZero() {
		return apperror.ValidationFailed("birth date is required")
	}
	if p.BirthDate.After(time.Now()) {
		return apperror.ValidationFailed("birth date cannot be in the future")
	}
	if !ValidGender(p.Gender) {
		return apperror.ValidationFailed("invalid gender %q", p.Gender)
	}
	if p.Email != "" && !emailRe.MatchString(p.Email) {
		return apperror.ValidationFailed("invalid email %q", p.Email)
	}
	return nil
}
