package report

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/labcore/labcore/internal/domain/catalog"
	"github.com/labcore/labcore/internal/domain/patient"
)

// State of a report in its lifecycle. Completed is the initial state:
// results are captured in one sitting, so there is no separate entry
// workflow. Delivered and cancelled are terminal for updates; no state is
// reachable from cancelled.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateDelivered  State = "delivered"
	StateCancelled  State = "cancelled"
)

func ValidState(s State) bool {
	switch s {
	case StatePending, StateInProgress, StateCompleted, StateDelivered, StateCancelled:
		return true
	}
	return false
}

// Editable reports whether the state still admits field updates.
func (s State) Editable() bool {
	switch s {
	case StatePending, StateInProgress, StateCompleted:
		return true
	}
	return false
}

// PatientSnapshot freezes the patient fields a printed report shows. Later
// edits to the patient record never reach issued reports.
type PatientSnapshot struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
	Phone  string `json:"phone,omitempty"`
}

// TestSnapshot freezes the test definition fields a printed report shows.
type TestSnapshot struct {
	Name      string `json:"name"`
	Code      string `json:"code"`
	Method    string `json:"method,omitempty"`
	Technique string `json:"technique,omitempty"`
}

// ResultEntry is one captured sub-test value. SubTestID binds to the spec's
// identity at capture time, not its live content.
type ResultEntry struct {
	SubTestID uuid.UUID     `json:"sub_test_id"`
	Name      string        `json:"name"`
	Key       string        `json:"key"`
	Value     catalog.Value `json:"value"`
	Unit      string        `json:"unit,omitempty"`
	IsNormal  *bool         `json:"is_normal,omitempty"`
	Notes     string        `json:"notes,omitempty"`
}

// FieldValue is one captured additional-field value.
type FieldValue struct {
	FieldID uuid.UUID     `json:"field_id"`
	Name    string        `json:"name"`
	Key     string        `json:"key"`
	Value   catalog.Value `json:"value"`
	Unit    string        `json:"unit,omitempty"`
}

// DefaultRequestedBy is used when no requesting physician is named.
const DefaultRequestedBy = "A QUIEN CORRESPONDA"

// Report is an issued lab result. Folio, references and snapshots are
// immutable once created; only results, narrative fields and lifecycle
// state may change afterwards.
type Report struct {
	ID               uuid.UUID       `json:"id"`
	Folio            string          `json:"folio"`
	PatientID        uuid.UUID       `json:"patient_id"`
	PatientSnapshot  PatientSnapshot `json:"patient_snapshot"`
	TestID           uuid.UUID       `json:"test_id"`
	TestSnapshot     TestSnapshot    `json:"test_snapshot"`
	ScheduledDate    time.Time       `json:"scheduled_date"`
	DeliveryDate     *time.Time      `json:"delivery_date,omitempty"`
	Results          []ResultEntry   `json:"results"`
	AdditionalValues []FieldValue    `json:"additional_values"`
	Observations     string          `json:"observations,omitempty"`
	Interpretation   string          `json:"interpretation,omitempty"`
	State            State           `json:"state"`
	RequestedBy      string          `json:"requested_by"`
	PerformedBy      string          `json:"performed_by"`
	AuthorizedBy     string          `json:"authorized_by,omitempty"`
	Tags             []string        `json:"tags,omitempty"`
	Urgent           bool            `json:"urgent"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// HasAbnormalResults is true iff any result was read as abnormal. Results
// without a reading do not count.
func (r *Report) HasAbnormalResults() bool {
	for _, res := range r.Results {
		if res.IsNormal != nil && !*res.IsNormal {
			return true
		}
	}
	return false
}

// MarshalJSON adds the derived abnormal-results flag.
func (r *Report) MarshalJSON() ([]byte, error) {
	type alias Report
	return json.Marshal(struct {
		*alias
		HasAbnormalResults bool `json:"has_abnormal_results"`
	}{(*alias)(r), r.HasAbnormalResults()})
}

// Summary is the compact listing row for a report.
type Summary struct {
	Folio   string    `json:"folio"`
	Patient string    `json:"patient"`
	Test    string    `json:"test"`
	Date    time.Time `json:"date"`
	State   State     `json:"state"`
}

func (r *Report) Summary() Summary {
	return Summary{
		Folio:   r.Folio,
		Patient: r.PatientSnapshot.Name,
		Test:    r.TestSnapshot.Name,
		Date:    r.ScheduledDate,
		State:   r.State,
	}
}

// NewPatientSnapshot copies the snapshotted patient fields as they are now.
func NewPatientSnapshot(p *patient.Patient, at time.Time) PatientSnapshot {
	return PatientSnapshot{
		Name:   p.Name,
		Age:    p.AgeAt(at),
		Gender: string(p.Gender),
		Phone:  p.Phone,
	}
}

// NewTestSnapshot copies the snapshotted test fields as they are now.
func NewTestSnapshot(td *catalog.TestDefinition) TestSnapshot {
	return TestSnapshot{
		Name:      td.Name,
		Code:      td.Code,
		Method:    td.Method,
		Technique: td.Technique,
	}
}
