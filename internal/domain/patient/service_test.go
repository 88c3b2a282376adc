package patient

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/labcore/labcore/internal/platform/apperror"
)

// -- Mock Repository --

type mockRepo struct {
	patients map[uuid.UUID]*Patient
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, apperror.NotFound("patient %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return apperror.NotFound("patient %s not found", p.ID)
	}
	p.UpdatedAt = time.Now()
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) List(_ context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error) {
	var result []*Patient
	for _, p := range m.patients {
		if filter.Active != nil && p.Active != *filter.Active {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Search)) {
			continue
		}
		result = append(result, p)
	}
	return result, len(result), nil
}

func newTestService() *Service {
	return NewService(newMockRepo())
}

func validPatient() *Patient {
	return &Patient{
		Name:      "Maria Lopez",
		BirthDate: time.Date(1990, 5, 12, 0, 0, 0, 0, time.UTC),
		Gender:    GenderFemale,
		Phone:     "6141234567",
		Email:     "Maria.Lopez@Example.com",
	}
}

// -- Tests --

func TestCreatePatient(t *testing.T) {
	svc := newTestService()
	p := validPatient()
	if err := svc.Create(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Active {
		t.Error("expected new patient to be active")
	}
	if p.Email != "maria.lopez@example.com" {
		t.Errorf("expected lowercased email, got %q", p.Email)
	}
}

func TestCreatePatient_Validation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	p := validPatient()
	p.Name = "  "
	if err := svc.Create(ctx, p); !apperror.Is(err, apperror.CodeValidationFailed) {
		t.Errorf("blank name: expected validation_failed, got %v", err)
	}

	p = validPatient()
	p.BirthDate = time.Time{}
	if err := svc.Create(ctx, p); !apperror.Is(err, apperror.CodeValidationFailed) {
		t.Errorf("zero birth date: expected validation_failed, got %v", err)
	}

	p = validPatient()
	p.BirthDate = time.Now().AddDate(1, 0, 0)
	if err := svc.Create(ctx, p); !apperror.Is(err, apperror.CodeValidationFailed) {
		t.Errorf("future birth date: expected validation_failed, got %v", err)
	}

	p = validPatient()
	p.Gender = "unknown"
	if err := svc.Create(ctx, p); !apperror.Is(err, apperror.CodeValidationFailed) {
		t.Errorf("bad gender: expected validation_failed, got %v", err)
	}

	p = validPatient()
	p.Email = "not-an-email"
	if err := svc.Create(ctx, p); !apperror.Is(err, apperror.CodeValidationFailed) {
		t.Errorf("bad email: expected validation_failed, got %v", err)
	}
}

func TestAgeAt(t *testing.T) {
	p := &Patient{BirthDate: time.Date(1990, 5, 12, 0, 0, 0, 0, time.UTC)}

	cases := []struct {
		now  time.Time
		want int
	}{
		{time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC), 33},
		{time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC), 34},
		{time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), 34},
		{time.Date(1990, 6, 1, 0, 0, 0, 0, time.UTC), 0},
	}
	for _, tc := range cases {
		if got := p.AgeAt(tc.now); got != tc.want {
			t.Errorf("AgeAt(%s): expected %d, got %d", tc.now.Format("2006-01-02"), tc.want, got)
		}
	}
}

func TestUpdatePatient(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	p := validPatient()
	if err := svc.Create(ctx, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	phone := "6149876543"
	allergies := []string{"penicilina"}
	out, err := svc.Update(ctx, p.ID, Patch{Phone: &phone, Allergies: allergies})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Phone != phone {
		t.Errorf("expected phone %q, got %q", phone, out.Phone)
	}
	if len(out.Allergies) != 1 || out.Allergies[0] != "penicilina" {
		t.Errorf("allergies not applied: %v", out.Allergies)
	}
	if out.Name != p.Name {
		t.Errorf("untouched field changed: %q", out.Name)
	}
}

func TestUpdatePatient_RejectsInvalidPatch(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	p := validPatient()
	if err := svc.Create(ctx, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := Gender("unknown")
	_, err := svc.Update(ctx, p.ID, Patch{Gender: &bad})
	if !apperror.Is(err, apperror.CodeValidationFailed) {
		t.Errorf("expected validation_failed, got %v", err)
	}
}

func TestUpdatePatient_NotFound(t *testing.T) {
	svc := newTestService()
	name := "X"
	_, err := svc.Update(context.Background(), uuid.New(), Patch{Name: &name})
	if !apperror.Is(err, apperror.CodeNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestDeactivateReactivatePatient(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	p := validPatient()
	if err := svc.Create(ctx, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := svc.Deactivate(ctx, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Active {
		t.Error("expected inactive patient")
	}

	out, err = svc.Reactivate(ctx, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Active {
		t.Error("expected active patient")
	}
}

func TestListPatients_ActiveFilter(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	a := validPatient()
	if err := svc.Create(ctx, a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := validPatient()
	b.Name = "Juan Perez"
	b.Email = ""
	if err := svc.Create(ctx, b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Deactivate(ctx, b.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active := true
	items, total, err := svc.List(ctx, ListFilter{Active: &active}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != a.ID {
		t.Errorf("unexpected result: total=%d", total)
	}
}
