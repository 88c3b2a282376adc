package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/labcore/labcore/internal/platform/apperror"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create validates and persists a new test definition. Embedded sub-tests
// and additional fields get their arena ids here.
func (s *Service) Create(ctx context.Context, td *TestDefinition) error {
	td.Name = strings.TrimSpace(td.Name)
	td.Code = strings.ToUpper(strings.TrimSpace(td.Code))
	if td.Name == "" {
		return apperror.ValidationFailed("name is required")
	}
	if td.Code == "" {
		return apperror.ValidationFailed("code is required")
	}
	if td.Category == "" {
		td.Category = CategoryOther
	}
	if !ValidCategory(td.Category) {
		return apperror.ValidationFailed("invalid category %q", td.Category)
	}
	if td.Turnaround != nil {
		switch td.Turnaround.Unit {
		case TurnaroundMinutes, TurnaroundHours, TurnaroundDays:
		case "":
			td.Turnaround.Unit = TurnaroundHours
		default:
			return apperror.ValidationFailed("invalid turnaround unit %q", td.Turnaround.Unit)
		}
	}

	for i := range td.SubTests {
		if err := normalizeSubTest(&td.SubTests[i]); err != nil {
			return err
		}
		td.SubTests[i].ID = uuid.New()
	}
	if err := checkSubTestKeys(td.SubTests); err != nil {
		return err
	}

	for i := range td.AdditionalFields {
		if err := normalizeField(&td.AdditionalFields[i]); err != nil {
			return err
		}
		td.AdditionalFields[i].ID = uuid.New()
	}
	if err := checkFieldKeys(td.AdditionalFields); err != nil {
		return err
	}

	td.Active = true
	return s.repo.Create(ctx, td)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*TestDefinition, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*TestDefinition, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

// Patch carries optional top-level edits. Embedded lists are edited through
// the sub-test and additional-field operations, never replaced wholesale.
type Patch struct {
	Name        *string     `json:"name,omitempty"`
	Code        *string     `json:"code,omitempty"`
	Description *string     `json:"description,omitempty"`
	Category    *Category   `json:"category,omitempty"`
	Method      *string     `json:"method,omitempty"`
	Technique   *string     `json:"technique,omitempty"`
	Turnaround  *Turnaround `json:"turnaround,omitempty"`
	Price       *float64    `json:"price,omitempty"`
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, patch Patch) (*TestDefinition, error) {
	td, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, apperror.ValidationFailed("name cannot be empty")
		}
		td.Name = name
	}
	if patch.Code != nil {
		code := strings.ToUpper(strings.TrimSpace(*patch.Code))
		if code == "" {
			return nil, apperror.ValidationFailed("code cannot be empty")
		}
		td.Code = code
	}
	if patch.Description != nil {
		td.Description = *patch.Description
	}
	if patch.Category != nil {
		if !ValidCategory(*patch.Category) {
			return nil, apperror.ValidationFailed("invalid category %q", *patch.Category)
		}
		td.Category = *patch.Category
	}
	if patch.Method != nil {
		td.Method = *patch.Method
	}
	if patch.Technique != nil {
		td.Technique = *patch.Technique
	}
	if patch.Turnaround != nil {
		td.Turnaround = patch.Turnaround
	}
	if patch.Price != nil {
		td.Price = *patch.Price
	}

	if err := s.repo.Update(ctx, td); err != nil {
		return nil, err
	}
	return td, nil
}

// Deactivate soft-deletes a definition. Historical reports keep referencing
// it, so definitions are never removed.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*TestDefinition, error) {
	td, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	td.Active = false
	if err := s.repo.Update(ctx, td); err != nil {
		return nil, err
	}
	return td, nil
}

func (s *Service) FormStructure(ctx context.Context, id uuid.UUID) (*FormStructure, error) {
	td, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	fs := td.FormStructure()
	return &fs, nil
}

// -- Sub-test operations --

func (s *Service) AddSubTest(ctx context.Context, testID uuid.UUID, spec SubTestSpec) (*TestDefinition, error) {
	td, err := s.repo.GetByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	if err := normalizeSubTest(&spec); err != nil {
		return nil, err
	}
	if td.SubTestByKey(spec.Key) != nil {
		return nil, apperror.ValidationFailed("duplicate sub-test key %q", spec.Key)
	}
	spec.ID = uuid.New()
	td.SubTests = append(td.SubTests, spec)
	if err := s.repo.Update(ctx, td); err != nil {
		return nil, err
	}
	return td, nil
}

// SubTestPatch carries optional edits to one sub-test. The arena id itself
// is immutable.
type SubTestPatch struct {
	Name      *string         `json:"name,omitempty"`
	Key       *string         `json:"key,omitempty"`
	Type      *SubTestType    `json:"type,omitempty"`
	Unit      *string         `json:"unit,omitempty"`
	Reference *ReferenceRange `json:"reference,omitempty"`
	Required  *bool           `json:"required,omitempty"`
	Order     *int            `json:"order,omitempty"`
}

func (s *Service) UpdateSubTest(ctx context.Context, testID, subTestID uuid.UUID, patch SubTestPatch) (*TestDefinition, error) {
	td, err := s.repo.GetByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	spec := td.SubTestByID(subTestID)
	if spec == nil {
		return nil, apperror.NotFound("sub-test %s not found", subTestID)
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, apperror.ValidationFailed("sub-test name cannot be empty")
		}
		spec.Name = name
	}
	if patch.Key != nil {
		key := strings.TrimSpace(*patch.Key)
		if key == "" {
			return nil, apperror.ValidationFailed("sub-test key cannot be empty")
		}
		if other := td.SubTestByKey(key); other != nil && other.ID != spec.ID {
			return nil, apperror.ValidationFailed("duplicate sub-test key %q", key)
		}
		spec.Key = key
	}
	if patch.Type != nil {
		if !ValidSubTestType(*patch.Type) {
			return nil, apperror.ValidationFailed("invalid sub-test type %q", *patch.Type)
		}
		spec.Type = *patch.Type
	}
	if patch.Unit != nil {
		spec.Unit = *patch.Unit
	}
	if patch.Reference != nil {
		spec.Reference = *patch.Reference
	}
	if patch.Required != nil {
		spec.Required = *patch.Required
	}
	if patch.Order != nil {
		spec.Order = *patch.Order
	}

	if err := s.repo.Update(ctx, td); err != nil {
		return nil, err
	}
	return td, nil
}

func (s *Service) RemoveSubTest(ctx context.Context, testID, subTestID uuid.UUID) (*TestDefinition, error) {
	td, err := s.repo.GetByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i := range td.SubTests {
		if td.SubTests[i].ID == subTestID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, apperror.NotFound("sub-test %s not found", subTestID)
	}
	td.SubTests = append(td.SubTests[:idx], td.SubTests[idx+1:]...)
	if err := s.repo.Update(ctx, td); err != nil {
		return nil, err
	}
	return td, nil
}

// -- Additional-field operations --

func (s *Service) AddField(ctx context.Context, testID uuid.UUID, spec AdditionalFieldSpec) (*TestDefinition, error) {
	td, err := s.repo.GetByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	if err := normalizeField(&spec); err != nil {
		return nil, err
	}
	if td.FieldByKey(spec.Key) != nil {
		return nil, apperror.ValidationFailed("duplicate field key %q", spec.Key)
	}
	spec.ID = uuid.New()
	td.AdditionalFields = append(td.AdditionalFields, spec)
	if err := s.repo.Update(ctx, td); err != nil {
		return nil, err
	}
	return td, nil
}

// FieldPatch carries optional edits to one additional field.
type FieldPatch struct {
	Name        *string        `json:"name,omitempty"`
	Key         *string        `json:"key,omitempty"`
	Type        *FieldType     `json:"type,omitempty"`
	Unit        *string        `json:"unit,omitempty"`
	Options     []SelectOption `json:"options,omitempty"`
	Default     *Value         `json:"default,omitempty"`
	Required    *bool          `json:"required,omitempty"`
	Placeholder *string        `json:"placeholder,omitempty"`
	Description *string        `json:"description,omitempty"`
	Order       *int           `json:"order,omitempty"`
}

func (s *Service) UpdateField(ctx context.Context, testID, fieldID uuid.UUID, patch FieldPatch) (*TestDefinition, error) {
	td, err := s.repo.GetByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	spec := td.FieldByID(fieldID)
	if spec == nil {
		return nil, apperror.NotFound("additional field %s not found", fieldID)
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, apperror.ValidationFailed("field name cannot be empty")
		}
		spec.Name = name
	}
	if patch.Key != nil {
		key := strings.TrimSpace(*patch.Key)
		if key == "" {
			return nil, apperror.ValidationFailed("field key cannot be empty")
		}
		if other := td.FieldByKey(key); other != nil && other.ID != spec.ID {
			return nil, apperror.ValidationFailed("duplicate field key %q", key)
		}
		spec.Key = key
	}
	if patch.Type != nil {
		if !ValidFieldType(*patch.Type) {
			return nil, apperror.ValidationFailed("invalid field type %q", *patch.Type)
		}
		spec.Type = *patch.Type
	}
	if patch.Unit != nil {
		spec.Unit = *patch.Unit
	}
	if patch.Options != nil {
		spec.Options = patch.Options
	}
	if patch.Default != nil {
		spec.Default = patch.Default
	}
	if patch.Required != nil {
		spec.Required = *patch.Required
	}
	if patch.Placeholder != nil {
		spec.Placeholder = *patch.Placeholder
	}
	if patch.Description != nil {
		spec.Description = *patch.Description
	}
	if patch.Order != nil {
		spec.Order = *patch.Order
	}

	if patch.Default != nil || patch.Type != nil {
		if spec.Default != nil {
			if err := spec.Default.CheckAgainstField(spec.Type); err != nil {
				return nil, err
			}
		}
	}

	if err := s.repo.Update(ctx, td); err != nil {
		return nil, err
	}
	return td, nil
}

func (s *Service) RemoveField(ctx context.Context, testID, fieldID uuid.UUID) (*TestDefinition, error) {
	td, err := s.repo.GetByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i := range td.AdditionalFields {
		if td.AdditionalFields[i].ID == fieldID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, apperror.NotFound("additional field %s not found", fieldID)
	}
	td.AdditionalFields = append(td.AdditionalFields[:idx], td.AdditionalFields[idx+1:]...)
	if err := s.repo.Update(ctx, td); err != nil {
		return nil, err
	}
	return td, nil
}

// -- validation helpers --

func normalizeSubTest(spec *SubTestSpec) error {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Key = strings.TrimSpace(spec.Key)
	if spec.Name == "" {
		return apperror.ValidationFailed("sub-test name is required")
	}
	if spec.Key == "" {
		return apperror.ValidationFailed("sub-test key is required")
	}
	if spec.Type == "" {
		spec.Type = SubTestPositiveNegative
	}
	if !ValidSubTestType(spec.Type) {
		return apperror.ValidationFailed("invalid sub-test type %q", spec.Type)
	}
	return nil
}

func normalizeField(spec *AdditionalFieldSpec) error {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Key = strings.TrimSpace(spec.Key)
	if spec.Name == "" {
		return apperror.ValidationFailed("field name is required")
	}
	if spec.Key == "" {
		return apperror.ValidationFailed("field key is required")
	}
	if spec.Type == "" {
		return apperror.ValidationFailed("field type is required")
	}
	if !ValidFieldType(spec.Type) {
		return apperror.ValidationFailed("invalid field type %q", spec.Type)
	}
	if spec.Default != nil {
		if err := spec.Default.CheckAgainstField(spec.Type); err != nil {
			return err
		}
	}
	return nil
}

func checkSubTestKeys(specs []SubTestSpec) error {
	seen := make(map[string]bool, len(specs))
	for _, sp := range specs {
		if seen[sp.Key] {
			return apperror.ValidationFailed("duplicate sub-test key %q", sp.Key)
		}
		seen[sp.Key] = true
	}
	return nil
}

func checkFieldKeys(specs []AdditionalFieldSpec) error {
	seen := make(map[string]bool, len(specs))
	for _, sp := range specs {
		if seen[sp.Key] {
			return apperror.ValidationFailed("duplicate field key %q", sp.Key)
		}
		seen[sp.Key] = true
	}
	return nil
}
