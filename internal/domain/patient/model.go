package patient

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Gender of a patient.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

func ValidGender(g Gender) bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// Address is a postal address, all parts optional.
type Address struct {
	Street       string `json:"street,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
}

// EmergencyContact is who to call about a patient.
type EmergencyContact struct {
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Relation string `json:"relation,omitempty"`
}

// Medication is one drug a patient currently takes.
type Medication struct {
	Name   string `json:"name"`
	Dosage string `json:"dosage,omitempty"`
}

// Patient is a person the lab runs tests for. Patients are soft-deleted:
// deactivation hides them from default listings but reports keep their
// snapshots either way.
type Patient struct {
	ID               uuid.UUID         `json:"id"`
	Name             string            `json:"name"`
	BirthDate        time.Time         `json:"birth_date"`
	Gender           Gender            `json:"gender"`
	Phone            string            `json:"phone,omitempty"`
	Email            string            `json:"email,omitempty"`
	Address          *Address          `json:"address,omitempty"`
	EmergencyContact *EmergencyContact `json:"emergency_contact,omitempty"`
	Allergies        []string          `json:"allergies,omitempty"`
	Conditions       []string          `json:"conditions,omitempty"`
	Medications      []Medication      `json:"medications,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	Active           bool              `json:"active"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// AgeAt computes the patient's age in whole years at the given moment.
func (p *Patient) AgeAt(now time.Time) int {
	age := now.Year() - p.BirthDate.Year()
	if now.Month() < p.BirthDate.Month() ||
		(now.Month() == p.BirthDate.Month() && now.Day() < p.BirthDate.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// Age is AgeAt now.
func (p *Patient) Age() int {
	return p.AgeAt(time.Now())
}

// MarshalJSON adds the derived age so clients never compute it themselves.
func (p *Patient) MarshalJSON() ([]byte, error) {
	type alias Patient
	return json.Marshal(struct {
		*alias
		Age int `json:"age"`
	}{(*alias)(p), p.Age()})
}
