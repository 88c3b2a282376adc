package report

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labcore/labcore/internal/domain/catalog"
	"github.com/labcore/labcore/internal/domain/patient"
	"github.com/labcore/labcore/internal/platform/apperror"
)

// PatientSource resolves patients at snapshot time.
type PatientSource interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// DefinitionSource resolves test definitions at snapshot time.
type DefinitionSource interface {
	Get(ctx context.Context, id uuid.UUID) (*catalog.TestDefinition, error)
}

type Service struct {
	repo     Repository
	patients PatientSource
	tests    DefinitionSource
	folios   *FolioGenerator
}

func NewService(repo Repository, patients PatientSource, tests DefinitionSource) *Service {
	return &Service{
		repo:     repo,
		patients: patients,
		tests:    tests,
		folios:   NewFolioGenerator(repo),
	}
}

// ResultInput is one submitted sub-test value. The target spec is addressed
// by id when given, by key otherwise.
type ResultInput struct {
	SubTestID *uuid.UUID    `json:"sub_test_id,omitempty"`
	Key       string        `json:"key,omitempty"`
	Value     catalog.Value `json:"value"`
	IsNormal  *bool         `json:"is_normal,omitempty"`
	Notes     string        `json:"notes,omitempty"`
}

// FieldInput is one submitted additional-field value.
type FieldInput struct {
	FieldID *uuid.UUID    `json:"field_id,omitempty"`
	Key     string        `json:"key,omitempty"`
	Value   catalog.Value `json:"value"`
}

// CreateInput is everything a report creation takes.
type CreateInput struct {
	PatientID        uuid.UUID     `json:"patient_id"`
	TestID           uuid.UUID     `json:"test_id"`
	Results          []ResultInput `json:"results"`
	AdditionalValues []FieldInput  `json:"additional_values"`
	ScheduledDate    *time.Time    `json:"scheduled_date,omitempty"`
	Observations     string        `json:"observations,omitempty"`
	RequestedBy      string        `json:"requested_by,omitempty"`
	Tags             []string      `json:"tags,omitempty"`
	Urgent           bool          `json:"urgent"`
}

// Create resolves the patient and test definition, freezes their snapshot
// fields, validates the submitted values against the definition, mints a
// folio and persists the report in one step. Nothing is persisted when any
// validation fails.
func (s *Service) Create(ctx context.Context, in CreateInput, performedBy string) (*Report, error) {
	p, err := s.patients.Get(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	td, err := s.tests.Get(ctx, in.TestID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	scheduled := now
	if in.ScheduledDate != nil {
		scheduled = *in.ScheduledDate
	}

	results, err := mapResults(td, in.Results)
	if err != nil {
		return nil, err
	}
	values, err := mapFieldValues(td, in.AdditionalValues)
	if err != nil {
		return nil, err
	}

	requestedBy := strings.TrimSpace(in.RequestedBy)
	if requestedBy == "" {
		requestedBy = DefaultRequestedBy
	}

	r := &Report{
		PatientID:        p.ID,
		PatientSnapshot:  NewPatientSnapshot(p, scheduled),
		TestID:           td.ID,
		TestSnapshot:     NewTestSnapshot(td),
		ScheduledDate:    scheduled,
		Results:          results,
		AdditionalValues: values,
		Observations:     in.Observations,
		State:            StateCompleted,
		RequestedBy:      requestedBy,
		PerformedBy:      performedBy,
		Tags:             in.Tags,
		Urgent:           in.Urgent,
	}

	// The generator pre-checks folio uniqueness, but the unique index is
	// the source of truth: two concurrent creations can both pass the
	// pre-check, and the loser retries with a fresh folio.
	for attempt := 0; attempt < maxFolioAttempts; attempt++ {
		folio, err := s.folios.Generate(ctx)
		if err != nil {
			return nil, err
		}
		r.Folio = folio
		err = s.repo.Create(ctx, r)
		if err == nil {
			return r, nil
		}
		if !apperror.Is(err, apperror.CodeDuplicateKey) {
			return nil, err
		}
	}
	return nil, apperror.New(apperror.CodeFolioSpaceExhausted,
		"could not persist a unique folio after %d attempts", maxFolioAttempts)
}

// mapResults binds submitted values to the definition's sub-tests and
// checks required coverage and value types. The normality reading comes
// from the submitter when given, else from the spec's reference options.
func mapResults(td *catalog.TestDefinition, inputs []ResultInput) ([]ResultEntry, error) {
	entries := make([]ResultEntry, 0, len(inputs))
	covered := make(map[uuid.UUID]bool, len(inputs))

	for _, in := range inputs {
		var spec *catalog.SubTestSpec
		switch {
		case in.SubTestID != nil:
			spec = td.SubTestByID(*in.SubTestID)
		case in.Key != "":
			spec = td.SubTestByKey(in.Key)
		}
		if spec == nil {
			return nil, apperror.ValidationFailed("unknown sub-test %q", resultRef(in))
		}
		if covered[spec.ID] {
			return nil, apperror.ValidationFailed("duplicate result for sub-test %q", spec.Key)
		}
		if err := in.Value.CheckAgainst(spec.Type); err != nil {
			return nil, err
		}

		isNormal := in.IsNormal
		if isNormal == nil {
			if normal, ok := spec.Reference.OptionNormality(in.Value.String()); ok {
				isNormal = &normal
			}
		}

		covered[spec.ID] = true
		entries = append(entries, ResultEntry{
			SubTestID: spec.ID,
			Name:      spec.Name,
			Key:       spec.Key,
			Value:     in.Value,
			Unit:      spec.Unit,
			IsNormal:  isNormal,
			Notes:     in.Notes,
		})
	}

	for i := range td.SubTests {
		spec := &td.SubTests[i]
		if spec.Required && !covered[spec.ID] {
			return nil, apperror.ValidationFailed("missing result for required sub-test %q", spec.Key)
		}
	}
	return entries, nil
}

func mapFieldValues(td *catalog.TestDefinition, inputs []FieldInput) ([]FieldValue, error) {
	values := make([]FieldValue, 0, len(inputs))
	covered := make(map[uuid.UUID]bool, len(inputs))

	for _, in := range inputs {
		var spec *catalog.AdditionalFieldSpec
		switch {
		case in.FieldID != nil:
			spec = td.FieldByID(*in.FieldID)
		case in.Key != "":
			spec = td.FieldByKey(in.Key)
		}
		if spec == nil {
			return nil, apperror.ValidationFailed("unknown additional field %q", fieldRef(in))
		}
		if covered[spec.ID] {
			return nil, apperror.ValidationFailed("duplicate value for field %q", spec.Key)
		}
		if err := in.Value.CheckAgainstField(spec.Type); err != nil {
			return nil, err
		}

		covered[spec.ID] = true
		values = append(values, FieldValue{
			FieldID: spec.ID,
			Name:    spec.Name,
			Key:     spec.Key,
			Value:   in.Value,
			Unit:    spec.Unit,
		})
	}

	for i := range td.AdditionalFields {
		spec := &td.AdditionalFields[i]
		if spec.Required && !covered[spec.ID] {
			return nil, apperror.ValidationFailed("missing value for required field %q", spec.Key)
		}
	}
	return values, nil
}

func resultRef(in ResultInput) string {
	if in.SubTestID != nil {
		return in.SubTestID.String()
	}
	return in.Key
}

func fieldRef(in FieldInput) string {
	if in.FieldID != nil {
		return in.FieldID.String()
	}
	return in.Key
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Report, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByFolio looks a report up case-insensitively; folios are stored
// uppercase and the leading '#' is optional in the lookup key.
func (s *Service) GetByFolio(ctx context.Context, folio string) (*Report, error) {
	folio = strings.ToUpper(strings.TrimSpace(folio))
	folio = strings.TrimPrefix(folio, "#")
	if folio == "" {
		return nil, apperror.ValidationFailed("folio is required")
	}
	return s.repo.GetByFolio(ctx, "#"+folio)
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Report, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

// PatientHistory lists a patient's reports newest first, cancelled ones
// excluded.
func (s *Service) PatientHistory(ctx context.Context, patientID uuid.UUID, limit int) ([]*Report, error) {
	return s.repo.ListByPatient(ctx, patientID, false, limit)
}

// UpdatePatch carries the editable report fields. Folio, references and
// snapshots are not here on purpose.
type UpdatePatch struct {
	Results          []ResultInput `json:"results,omitempty"`
	AdditionalValues []FieldInput  `json:"additional_values,omitempty"`
	Observations     *string       `json:"observations,omitempty"`
	Interpretation   *string       `json:"interpretation,omitempty"`
	State            *State        `json:"state,omitempty"`
	DeliveryDate     *time.Time    `json:"delivery_date,omitempty"`
	Tags             []string      `json:"tags,omitempty"`
	Urgent           *bool         `json:"urgent,omitempty"`
}

// Update edits a report still in an editable state. Resubmitted results are
// validated against the current test definition, same as at creation.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch UpdatePatch) (*Report, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.State.Editable() {
		return nil, apperror.InvalidTransition("report %s is %s and can no longer be updated", r.Folio, r.State)
	}

	if patch.Results != nil || patch.AdditionalValues != nil {
		td, err := s.tests.Get(ctx, r.TestID)
		if err != nil {
			return nil, err
		}
		if patch.Results != nil {
			results, err := mapResults(td, patch.Results)
			if err != nil {
				return nil, err
			}
			r.Results = results
		}
		if patch.AdditionalValues != nil {
			values, err := mapFieldValues(td, patch.AdditionalValues)
			if err != nil {
				return nil, err
			}
			r.AdditionalValues = values
		}
	}

	if patch.Observations != nil {
		r.Observations = *patch.Observations
	}
	if patch.Interpretation != nil {
		r.Interpretation = *patch.Interpretation
	}
	if patch.State != nil {
		if !ValidState(*patch.State) {
			return nil, apperror.ValidationFailed("invalid state %q", *patch.State)
		}
		// Delivered and cancelled are only reachable through authorize and
		// cancel, which carry their own side effects.
		if !patch.State.Editable() {
			return nil, apperror.InvalidTransition("state %s cannot be set directly", *patch.State)
		}
		r.State = *patch.State
	}
	if patch.DeliveryDate != nil {
		r.DeliveryDate = patch.DeliveryDate
	}
	if patch.Tags != nil {
		r.Tags = patch.Tags
	}
	if patch.Urgent != nil {
		r.Urgent = *patch.Urgent
	}

	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Authorize signs a report off for delivery: it records the authorizer,
// moves the state to delivered and stamps the delivery date. Re-authorizing
// a delivered report overwrites the previous sign-off, last write wins.
// Cancelled reports cannot be authorized.
func (s *Service) Authorize(ctx context.Context, id uuid.UUID, authorizedBy string) (*Report, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.State == StateCancelled {
		return nil, apperror.InvalidTransition("report %s is cancelled", r.Folio)
	}

	now := time.Now()
	r.AuthorizedBy = authorizedBy
	r.State = StateDelivered
	r.DeliveryDate = &now

	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Cancel voids a report. All fields are kept for the audit trail; only the
// state changes, and never back out of cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Report, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.State == StateCancelled {
		return nil, apperror.InvalidTransition("report %s is already cancelled", r.Folio)
	}
	r.State = StateCancelled
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Stats is the aggregate view of report volume in a date range.
type Stats struct {
	Total    int          `json:"total"`
	ByState  []StateCount `json:"by_state"`
	TopTests []TestVolume `json:"top_tests"`
}

func (s *Service) Stats(ctx context.Context, from, to *time.Time) (*Stats, error) {
	byState, err := s.repo.CountByState(ctx, from, to)
	if err != nil {
		return nil, err
	}
	topTests, err := s.repo.TopTestsByVolume(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, sc := range byState {
		total += sc.Count
	}
	return &Stats{Total: total, ByState: byState, TopTests: topTests}, nil
}
