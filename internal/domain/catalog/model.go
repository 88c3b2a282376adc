package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labcore/labcore/internal/platform/apperror"
)

// Category classifies a test definition.
type Category string

const (
	CategoryToxicology        Category = "toxicology"
	CategoryHematology        Category = "hematology"
	CategoryClinicalChemistry Category = "clinical_chemistry"
	CategoryMicrobiology      Category = "microbiology"
	CategoryImmunology        Category = "immunology"
	CategoryOther             Category = "other"
)

func ValidCategory(c Category) bool {
	switch c {
	case CategoryToxicology, CategoryHematology, CategoryClinicalChemistry,
		CategoryMicrobiology, CategoryImmunology, CategoryOther:
		return true
	}
	return false
}

// SubTestType is the value type a sub-test result must carry.
type SubTestType string

const (
	SubTestSelect           SubTestType = "select"
	SubTestNumber           SubTestType = "number"
	SubTestText             SubTestType = "text"
	SubTestBoolean          SubTestType = "boolean"
	SubTestPositiveNegative SubTestType = "positive_negative"
)

func ValidSubTestType(t SubTestType) bool {
	switch t {
	case SubTestSelect, SubTestNumber, SubTestText, SubTestBoolean, SubTestPositiveNegative:
		return true
	}
	return false
}

// FieldType is the value type an additional field must carry.
type FieldType string

const (
	FieldNumber FieldType = "number"
	FieldText   FieldType = "text"
	FieldSelect FieldType = "select"
	FieldDate   FieldType = "date"
)

func ValidFieldType(t FieldType) bool {
	switch t {
	case FieldNumber, FieldText, FieldSelect, FieldDate:
		return true
	}
	return false
}

// ReferenceOption is one admissible result value with its clinical reading.
type ReferenceOption struct {
	Value    string `json:"value"`
	Label    string `json:"label,omitempty"`
	IsNormal *bool  `json:"is_normal,omitempty"`
}

// ReferenceRange holds the reference values of a sub-test: a numeric band,
// free text, an enumerated option set, or any combination.
type ReferenceRange struct {
	Min     *float64          `json:"min,omitempty"`
	Max     *float64          `json:"max,omitempty"`
	Text    string            `json:"text,omitempty"`
	Options []ReferenceOption `json:"options,omitempty"`
}

// OptionNormality looks up the is_normal reading for an exact option value.
// The second return is false when the value matches no option or the option
// carries no reading.
func (r ReferenceRange) OptionNormality(value string) (bool, bool) {
	for _, opt := range r.Options {
		if opt.Value == value {
			if opt.IsNormal == nil {
				return false, false
			}
			return *opt.IsNormal, true
		}
	}
	return false, false
}

// SubTestSpec is one measured parameter within a test definition. The ID is
// assigned at insertion and never changes or gets reused, so report results
// keep binding to the spec they were captured against even after edits.
type SubTestSpec struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Key       string         `json:"key"`
	Type      SubTestType    `json:"type"`
	Unit      string         `json:"unit,omitempty"`
	Reference ReferenceRange `json:"reference"`
	Required  bool           `json:"required"`
	Order     int            `json:"order"`
}

// SelectOption is one choice of a select-typed additional field.
type SelectOption struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// AdditionalFieldSpec is a supplementary value captured alongside sub-test
// results (e.g. an alcohol concentration reading). Same identity rules as
// SubTestSpec.
type AdditionalFieldSpec struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Key         string         `json:"key"`
	Type        FieldType      `json:"type"`
	Unit        string         `json:"unit,omitempty"`
	Options     []SelectOption `json:"options,omitempty"`
	Default     *Value         `json:"default,omitempty"`
	Required    bool           `json:"required"`
	Placeholder string         `json:"placeholder,omitempty"`
	Description string         `json:"description,omitempty"`
	Order       int            `json:"order"`
}

// TurnaroundUnit is the unit of a turnaround estimate.
type TurnaroundUnit string

const (
	TurnaroundMinutes TurnaroundUnit = "minutes"
	TurnaroundHours   TurnaroundUnit = "hours"
	TurnaroundDays    TurnaroundUnit = "days"
)

// Turnaround is the expected time to result.
type Turnaround struct {
	Value float64        `json:"value"`
	Unit  TurnaroundUnit `json:"unit"`
}

// TestDefinition is a reusable lab test template. Sub-tests and additional
// fields are embedded and persist with the parent as one document.
type TestDefinition struct {
	ID               uuid.UUID             `json:"id"`
	Name             string                `json:"name"`
	Code             string                `json:"code"`
	Description      string                `json:"description,omitempty"`
	Category         Category              `json:"category"`
	SubTests         []SubTestSpec         `json:"sub_tests"`
	AdditionalFields []AdditionalFieldSpec `json:"additional_fields"`
	Method           string                `json:"method,omitempty"`
	Technique        string                `json:"technique,omitempty"`
	Turnaround       *Turnaround           `json:"turnaround,omitempty"`
	Price            float64               `json:"price"`
	Active           bool                  `json:"active"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// SubTestByID returns the sub-test with the given arena id, or nil.
func (td *TestDefinition) SubTestByID(id uuid.UUID) *SubTestSpec {
	for i := range td.SubTests {
		if td.SubTests[i].ID == id {
			return &td.SubTests[i]
		}
	}
	return nil
}

// SubTestByKey returns the sub-test with the given machine key, or nil.
func (td *TestDefinition) SubTestByKey(key string) *SubTestSpec {
	for i := range td.SubTests {
		if td.SubTests[i].Key == key {
			return &td.SubTests[i]
		}
	}
	return nil
}

// FieldByID returns the additional field with the given arena id, or nil.
func (td *TestDefinition) FieldByID(id uuid.UUID) *AdditionalFieldSpec {
	for i := range td.AdditionalFields {
		if td.AdditionalFields[i].ID == id {
			return &td.AdditionalFields[i]
		}
	}
	return nil
}

// FieldByKey returns the additional field with the given key, or nil.
func (td *TestDefinition) FieldByKey(key string) *AdditionalFieldSpec {
	for i := range td.AdditionalFields {
		if td.AdditionalFields[i].Key == key {
			return &td.AdditionalFields[i]
		}
	}
	return nil
}

// FormStructure is the projection the intake form renders against. Lists are
// sorted ascending by display order; equal orders keep insertion order, so
// the result is identical across calls on an unmodified definition.
type FormStructure struct {
	ID               uuid.UUID             `json:"id"`
	Name             string                `json:"name"`
	Code             string                `json:"code"`
	Description      string                `json:"description,omitempty"`
	SubTests         []SubTestSpec         `json:"sub_tests"`
	AdditionalFields []AdditionalFieldSpec `json:"additional_fields"`
}

// FormStructure builds the ordered intake-form projection.
func (td *TestDefinition) FormStructure() FormStructure {
	subTests := make([]SubTestSpec, len(td.SubTests))
	copy(subTests, td.SubTests)
	sort.SliceStable(subTests, func(i, j int) bool {
		return subTests[i].Order < subTests[j].Order
	})

	fields := make([]AdditionalFieldSpec, len(td.AdditionalFields))
	copy(fields, td.AdditionalFields)
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].Order < fields[j].Order
	})

	return FormStructure{
		ID:               td.ID,
		Name:             td.Name,
		Code:             td.Code,
		Description:      td.Description,
		SubTests:         subTests,
		AdditionalFields: fields,
	}
}

// ValueKind tags the dynamic type held by a Value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
)

// Value is a dynamically typed result value: a string, a number or a bool,
// resolved against the declared type of the spec it answers at write time.
// It marshals as the bare JSON scalar.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
}

func StringValue(s string) Value  { return Value{Kind: KindString, Str: s} }
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func BoolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	default:
		return json.Marshal(v.Str)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case string:
		*v = StringValue(x)
	case float64:
		*v = NumberValue(x)
	case bool:
		*v = BoolValue(x)
	default:
		return fmt.Errorf("unsupported value type %T", raw)
	}
	return nil
}

// String renders the value the way it would appear on a printed report.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v.Num), "0"), ".")
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return v.Str
	}
}

// CheckAgainst validates the value against a sub-test's declared type.
func (v Value) CheckAgainst(t SubTestType) error {
	switch t {
	case SubTestNumber:
		if v.Kind != KindNumber {
			return apperror.ValidationFailed("expected a numeric value for type %q", t)
		}
	case SubTestBoolean:
		if v.Kind != KindBool {
			return apperror.ValidationFailed("expected a boolean value for type %q", t)
		}
	case SubTestSelect, SubTestText, SubTestPositiveNegative:
		if v.Kind != KindString {
			return apperror.ValidationFailed("expected a text value for type %q", t)
		}
	default:
		return apperror.ValidationFailed("unknown sub-test type %q", t)
	}
	return nil
}

// CheckAgainstField validates the value against an additional field's
// declared type. Dates are strings in YYYY-MM-DD form.
func (v Value) CheckAgainstField(t FieldType) error {
	switch t {
	case FieldNumber:
		if v.Kind != KindNumber {
			return apperror.ValidationFailed("expected a numeric value for type %q", t)
		}
	case FieldText, FieldSelect:
		if v.Kind != KindString {
			return apperror.ValidationFailed("expected a text value for type %q", t)
		}
	case FieldDate:
		if v.Kind != KindString {
			return apperror.ValidationFailed("expected a date value for type %q", t)
		}
		if _, err := time.Parse("2006-01-02", v.Str); err != nil {
			return apperror.ValidationFailed("invalid date %q, want YYYY-MM-DD", v.Str)
		}
	default:
		return apperror.ValidationFailed("unknown field type %q", t)
	}
	return nil
}
