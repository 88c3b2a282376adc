package report

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/labcore/labcore/internal/domain/catalog"
	"github.com/labcore/labcore/internal/domain/patient"
	"github.com/labcore/labcore/internal/platform/apperror"
)

// -- Mock Repository --

type mockRepo struct {
	reports map[uuid.UUID]*Report
	// failInserts makes the next n inserts fail with DuplicateKey, the way
	// the unique index reports a folio lost to a concurrent writer.
	failInserts int
}

func newMockRepo() *mockRepo {
	return &mockRepo{reports: make(map[uuid.UUID]*Report)}
}

func (m *mockRepo) Create(_ context.Context, r *Report) error {
	if m.failInserts > 0 {
		m.failInserts--
		return apperror.DuplicateKey("folio %s already taken", r.Folio)
	}
	for _, existing := range m.reports {
		if existing.Folio == r.Folio {
			return apperror.DuplicateKey("folio %s already taken", r.Folio)
		}
	}
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = time.Now()
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Report, error) {
	r, ok := m.reports[id]
	if !ok {
		return nil, apperror.NotFound("report %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) GetByFolio(_ context.Context, folio string) (*Report, error) {
	for _, r := range m.reports {
		if r.Folio == folio {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("report %s not found", folio)
}

func (m *mockRepo) ExistsByFolio(_ context.Context, folio string) (bool, error) {
	for _, r := range m.reports {
		if r.Folio == folio {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) Update(_ context.Context, r *Report) error {
	if _, ok := m.reports[r.ID]; !ok {
		return apperror.NotFound("report %s not found", r.ID)
	}
	r.UpdatedAt = time.Now()
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *mockRepo) List(_ context.Context, filter ListFilter, limit, offset int) ([]*Report, int, error) {
	var result []*Report
	for _, r := range m.reports {
		if filter.State != nil && r.State != *filter.State {
			continue
		}
		if filter.PatientID != nil && r.PatientID != *filter.PatientID {
			continue
		}
		result = append(result, r)
	}
	return result, len(result), nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, includeCancelled bool, limit int) ([]*Report, error) {
	var result []*Report
	for _, r := range m.reports {
		if r.PatientID != patientID {
			continue
		}
		if !includeCancelled && r.State == StateCancelled {
			continue
		}
		result = append(result, r)
	}
	return result, nil
}

func (m *mockRepo) CountByState(_ context.Context, from, to *time.Time) ([]StateCount, error) {
	counts := map[State]int{}
	for _, r := range m.reports {
		if from != nil && r.ScheduledDate.Before(*from) {
			continue
		}
		if to != nil && r.ScheduledDate.After(*to) {
			continue
		}
		counts[r.State]++
	}
	var out []StateCount
	for state, count := range counts {
		out = append(out, StateCount{State: state, Count: count})
	}
	return out, nil
}

func (m *mockRepo) TopTestsByVolume(_ context.Context, from, to *time.Time, limit int) ([]TestVolume, error) {
	counts := map[string]int{}
	for _, r := range m.reports {
		counts[r.TestSnapshot.Name]++
	}
	var out []TestVolume
	for name, count := range counts {
		out = append(out, TestVolume{Name: name, Count: count})
	}
	return out, nil
}

// -- Mock sources --

type mockPatients struct {
	patients map[uuid.UUID]*patient.Patient
}

func (m *mockPatients) Get(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, apperror.NotFound("patient %s not found", id)
	}
	cp := *p
	return &cp, nil
}

type mockTests struct {
	defs map[uuid.UUID]*catalog.TestDefinition
}

func (m *mockTests) Get(_ context.Context, id uuid.UUID) (*catalog.TestDefinition, error) {
	td, ok := m.defs[id]
	if !ok {
		return nil, apperror.NotFound("test definition %s not found", id)
	}
	cp := *td
	return &cp, nil
}

type fixture struct {
	svc      *Service
	repo     *mockRepo
	patients *mockPatients
	tests    *mockTests
	patient  *patient.Patient
	def      *catalog.TestDefinition
}

// newFixture seeds one patient and a VIH definition with one required
// positive/negative sub-test and an optional numeric field.
func newFixture() *fixture {
	normal, abnormal := true, false
	p := &patient.Patient{
		ID:        uuid.New(),
		Name:      "Maria Lopez",
		BirthDate: time.Date(1990, 5, 12, 0, 0, 0, 0, time.UTC),
		Gender:    patient.GenderFemale,
		Phone:     "6141234567",
		Active:    true,
	}
	def := &catalog.TestDefinition{
		ID:       uuid.New(),
		Name:     "VIH",
		Code:     "VIH",
		Category: catalog.CategoryImmunology,
		Method:   "ELISA",
		SubTests: []catalog.SubTestSpec{
			{
				ID:   uuid.New(),
				Name: "VIH 1/2", Key: "vih",
				Type:     catalog.SubTestPositiveNegative,
				Required: true,
				Reference: catalog.ReferenceRange{Options: []catalog.ReferenceOption{
					{Value: "NO REACTIVO", IsNormal: &normal},
					{Value: "REACTIVO", IsNormal: &abnormal},
				}},
			},
		},
		AdditionalFields: []catalog.AdditionalFieldSpec{
			{ID: uuid.New(), Name: "Dilucion", Key: "dilucion", Type: catalog.FieldNumber},
		},
		Active: true,
	}
	repo := newMockRepo()
	patients := &mockPatients{patients: map[uuid.UUID]*patient.Patient{p.ID: p}}
	tests := &mockTests{defs: map[uuid.UUID]*catalog.TestDefinition{def.ID: def}}
	return &fixture{
		svc:      NewService(repo, patients, tests),
		repo:     repo,
		patients: patients,
		tests:    tests,
		patient:  p,
		def:      def,
	}
}

func (f *fixture) createInput() CreateInput {
	return CreateInput{
		PatientID: f.patient.ID,
		TestID:    f.def.ID,
		Results: []ResultInput{
			{Key: "vih", Value: catalog.StringValue("NO REACTIVO")},
		},
	}
}

// -- Tests --

func TestCreateReport(t *testing.T) {
	f := newFixture()
	r, err := f.svc.Create(context.Background(), f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !FolioPattern.MatchString(r.Folio) {
		t.Errorf("malformed folio %q", r.Folio)
	}
	if r.State != StateCompleted {
		t.Errorf("expected initial state %q, got %q", StateCompleted, r.State)
	}
	if r.RequestedBy != DefaultRequestedBy {
		t.Errorf("expected default requested_by, got %q", r.RequestedBy)
	}
	if r.PerformedBy != "lab-1" {
		t.Errorf("expected performed_by lab-1, got %q", r.PerformedBy)
	}
	if r.PatientSnapshot.Name != "Maria Lopez" || r.TestSnapshot.Code != "VIH" {
		t.Errorf("snapshot not captured: %+v %+v", r.PatientSnapshot, r.TestSnapshot)
	}
	if len(r.Results) != 1 || r.Results[0].SubTestID != f.def.SubTests[0].ID {
		t.Fatalf("result not bound to its spec: %+v", r.Results)
	}
	if r.Results[0].IsNormal == nil || !*r.Results[0].IsNormal {
		t.Error("NO REACTIVO should read as normal")
	}
	if r.HasAbnormalResults() {
		t.Error("expected no abnormal results")
	}
}

func TestCreateReport_AbnormalResult(t *testing.T) {
	f := newFixture()
	in := f.createInput()
	in.Results[0].Value = catalog.StringValue("REACTIVO")

	r, err := f.svc.Create(context.Background(), in, "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Results[0].IsNormal == nil || *r.Results[0].IsNormal {
		t.Error("REACTIVO should read as abnormal")
	}
	if !r.HasAbnormalResults() {
		t.Error("expected abnormal results flag")
	}
}

func TestCreateReport_CallerReadingWins(t *testing.T) {
	f := newFixture()
	in := f.createInput()
	abnormal := false
	in.Results[0].IsNormal = &abnormal

	r, err := f.svc.Create(context.Background(), in, "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Results[0].IsNormal == nil || *r.Results[0].IsNormal {
		t.Error("caller-supplied reading should win over the option table")
	}
}

func TestCreateReport_SnapshotImmutable(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Mutate the upstream masters after the report exists.
	f.patient.Name = "Maria Lopez de Garcia"
	f.def.Name = "VIH 4ta Generacion"

	got, err := f.svc.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PatientSnapshot.Name != "Maria Lopez" {
		t.Errorf("patient snapshot drifted: %q", got.PatientSnapshot.Name)
	}
	if got.TestSnapshot.Name != "VIH" {
		t.Errorf("test snapshot drifted: %q", got.TestSnapshot.Name)
	}
}

func TestCreateReport_MissingRequiredResult(t *testing.T) {
	f := newFixture()
	in := f.createInput()
	in.Results = nil

	_, err := f.svc.Create(context.Background(), in, "lab-1")
	if !apperror.Is(err, apperror.CodeValidationFailed) {
		t.Fatalf("expected validation_failed, got %v", err)
	}
	if len(f.repo.reports) != 0 {
		t.Error("rejected report must not be persisted")
	}
}

func TestCreateReport_UnknownSubTest(t *testing.T) {
	f := newFixture()
	in := f.createInput()
	in.Results = append(in.Results, ResultInput{Key: "glucosa", Value: catalog.NumberValue(90)})

	_, err := f.svc.Create(context.Background(), in, "lab-1")
	if !apperror.Is(err, apperror.CodeValidationFailed) {
		t.Errorf("expected validation_failed, got %v", err)
	}
	if len(f.repo.reports) != 0 {
		t.Error("rejected report must not be persisted")
	}
}

func TestCreateReport_ValueTypeMismatch(t *testing.T) {
	f := newFixture()
	in := f.createInput()
	in.Results[0].Value = catalog.NumberValue(1)

	_, err := f.svc.Create(context.Background(), in, "lab-1")
	if !apperror.Is(err, apperror.CodeValidationFailed) {
		t.Errorf("expected validation_failed, got %v", err)
	}
}

func TestCreateReport_PatientNotFound(t *testing.T) {
	f := newFixture()
	in := f.createInput()
	in.PatientID = uuid.New()

	_, err := f.svc.Create(context.Background(), in, "lab-1")
	if !apperror.Is(err, apperror.CodeNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestCreateReport_TestNotFound(t *testing.T) {
	f := newFixture()
	in := f.createInput()
	in.TestID = uuid.New()

	_, err := f.svc.Create(context.Background(), in, "lab-1")
	if !apperror.Is(err, apperror.CodeNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestCreateReport_AdditionalFieldValue(t *testing.T) {
	f := newFixture()
	in := f.createInput()
	in.AdditionalValues = []FieldInput{{Key: "dilucion", Value: catalog.NumberValue(1.5)}}

	r, err := f.svc.Create(context.Background(), in, "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.AdditionalValues) != 1 || r.AdditionalValues[0].FieldID != f.def.AdditionalFields[0].ID {
		t.Fatalf("field value not bound: %+v", r.AdditionalValues)
	}

	in.AdditionalValues[0].Value = catalog.StringValue("1.5")
	if _, err := f.svc.Create(context.Background(), in, "lab-1"); !apperror.Is(err, apperror.CodeValidationFailed) {
		t.Errorf("expected validation_failed for type mismatch, got %v", err)
	}
}

func TestCreateReport_FolioUnique(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		r, err := f.svc.Create(ctx, f.createInput(), "lab-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[r.Folio] {
			t.Fatalf("folio %q issued twice", r.Folio)
		}
		seen[r.Folio] = true
	}
}

func TestGetByFolio_CaseInsensitive(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bare := strings.ToLower(strings.TrimPrefix(r.Folio, "#"))
	for _, lookup := range []string{bare, strings.ToUpper(bare), r.Folio, strings.ToLower(r.Folio)} {
		got, err := f.svc.GetByFolio(ctx, lookup)
		if err != nil {
			t.Fatalf("lookup %q: unexpected error: %v", lookup, err)
		}
		if got.ID != r.ID {
			t.Errorf("lookup %q returned wrong report", lookup)
		}
	}
}

func TestAuthorizeReport(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := f.svc.Authorize(ctx, r.ID, "doc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != StateDelivered {
		t.Errorf("expected state delivered, got %q", out.State)
	}
	if out.DeliveryDate == nil {
		t.Error("expected delivery date to be stamped")
	}
	if out.AuthorizedBy != "doc-1" {
		t.Errorf("expected authorized_by doc-1, got %q", out.AuthorizedBy)
	}
}

func TestAuthorizeReport_LastWriteWins(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.svc.Authorize(ctx, r.ID, "doc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := f.svc.Authorize(ctx, r.ID, "doc-2")
	if err != nil {
		t.Fatalf("re-authorization should be allowed: %v", err)
	}
	if out.AuthorizedBy != "doc-2" {
		t.Errorf("expected authorized_by doc-2, got %q", out.AuthorizedBy)
	}
}

func TestAuthorizeReport_CancelledRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, r.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = f.svc.Authorize(ctx, r.ID, "doc-1")
	if !apperror.Is(err, apperror.CodeInvalidTransition) {
		t.Errorf("expected invalid_transition, got %v", err)
	}
}

func TestCancelReport(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := f.svc.Cancel(ctx, r.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != StateCancelled {
		t.Errorf("expected state cancelled, got %q", out.State)
	}
	// Audit trail is preserved.
	if len(out.Results) != 1 || out.Folio != r.Folio {
		t.Error("cancellation must not clear fields")
	}

	_, err = f.svc.Cancel(ctx, r.ID)
	if !apperror.Is(err, apperror.CodeInvalidTransition) {
		t.Errorf("expected invalid_transition, got %v", err)
	}
}

func TestUpdateReport(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	interp := "Sin anticuerpos detectables."
	state := StateInProgress
	out, err := f.svc.Update(ctx, r.ID, UpdatePatch{Interpretation: &interp, State: &state})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Interpretation != interp || out.State != StateInProgress {
		t.Errorf("patch not applied: %+v", out)
	}
	if out.Folio != r.Folio || out.PatientSnapshot != r.PatientSnapshot {
		t.Error("immutable fields changed on update")
	}
}

func TestUpdateReport_TerminalStatesRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	obs := "updated"
	delivered, err := f.svc.Create(ctx, f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Authorize(ctx, delivered.ID, "doc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Update(ctx, delivered.ID, UpdatePatch{Observations: &obs}); !apperror.Is(err, apperror.CodeInvalidTransition) {
		t.Errorf("delivered: expected invalid_transition, got %v", err)
	}

	cancelled, err := f.svc.Create(ctx, f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, cancelled.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Update(ctx, cancelled.ID, UpdatePatch{Observations: &obs}); !apperror.Is(err, apperror.CodeInvalidTransition) {
		t.Errorf("cancelled: expected invalid_transition, got %v", err)
	}
}

func TestUpdateReport_CannotSetTerminalStateDirectly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, target := range []State{StateDelivered, StateCancelled} {
		target := target
		_, err := f.svc.Update(ctx, r.ID, UpdatePatch{State: &target})
		if !apperror.Is(err, apperror.CodeInvalidTransition) {
			t.Errorf("state %q: expected invalid_transition, got %v", target, err)
		}
	}
}

func TestUpdateReport_RevalidatesResults(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = f.svc.Update(ctx, r.ID, UpdatePatch{
		Results: []ResultInput{{Key: "nope", Value: catalog.StringValue("X")}},
	})
	if !apperror.Is(err, apperror.CodeValidationFailed) {
		t.Errorf("expected validation_failed, got %v", err)
	}
}

func TestPatientHistory_ExcludesCancelled(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	kept, err := f.svc.Create(ctx, f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancelled, err := f.svc.Create(ctx, f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, cancelled.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	history, err := f.svc.PatientHistory(ctx, f.patient.ID, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 1 || history[0].ID != kept.ID {
		t.Errorf("expected only the active report, got %d entries", len(history))
	}

	// The general listing still returns cancelled reports.
	all, total, err := f.svc.List(ctx, ListFilter{}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(all) != 2 {
		t.Errorf("expected both reports in unfiltered listing, got %d", total)
	}
}

func TestCreateReport_RetriesOnInsertCollision(t *testing.T) {
	f := newFixture()
	// The generator pre-check cannot see a folio claimed between check and
	// insert; the unique index rejects the insert and a fresh folio is
	// minted.
	f.repo.failInserts = 2

	r, err := f.svc.Create(context.Background(), f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !FolioPattern.MatchString(r.Folio) {
		t.Errorf("malformed folio %q", r.Folio)
	}
	if len(f.repo.reports) != 1 {
		t.Errorf("expected exactly one persisted report, got %d", len(f.repo.reports))
	}
}

func TestStats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Create(ctx, f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Create(ctx, f.createInput(), "lab-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := f.svc.Stats(ctx, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("expected total 2, got %d", stats.Total)
	}
	byState := map[State]int{}
	for _, sc := range stats.ByState {
		byState[sc.State] = sc.Count
	}
	if byState[StateCompleted] != 1 || byState[StateCancelled] != 1 {
		t.Errorf("unexpected per-state counts: %+v", stats.ByState)
	}
	if len(stats.TopTests) != 1 || stats.TopTests[0].Name != "VIH" || stats.TopTests[0].Count != 2 {
		t.Errorf("unexpected top tests: %+v", stats.TopTests)
	}
}
