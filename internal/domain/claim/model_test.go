package claim

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

const sampleClaim = `{
	"patient": {"first_name": "Jane", "last_name": "Doe", "date_of_birth": "1970-02-03", "gender": "F"},
	"provider": {"npi": "1234567893", "name": "Dermatology Associates", "taxonomy": "207N00000X"},
	"service_date": "2024-05-01",
	"place_of_service": "11",
	"diagnosis_codes": ["L57.0"],
	"procedures": [
		{"code": "99213", "description": "Office visit", "modifiers": [], "units": 1, "charge": 160},
		{"code": "17000", "description": "Destruction", "units": 1, "charge": "150.50"}
	]
}`

func TestDecode(t *testing.T) {
	c, err := Decode([]byte(sampleClaim))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Patient.FullName() != "Jane Doe" {
		t.Errorf("expected Jane Doe, got %q", c.Patient.FullName())
	}
	if len(c.Procedures) != 2 {
		t.Fatalf("expected 2 procedures, got %d", len(c.Procedures))
	}
	if c.Procedures[1].Modifiers == nil {
		t.Error("expected modifiers to be normalized to an empty slice")
	}
	if !c.Procedures[1].Charge.Equal(decimal.RequireFromString("150.50")) {
		t.Errorf("unexpected charge %s", c.Procedures[1].Charge)
	}
	if !c.Total().Equal(decimal.RequireFromString("310.50")) {
		t.Errorf("expected total 310.50, got %s", c.Total())
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty":         ``,
		"null":          `null`,
		"malformed":     `{"patient":`,
		"wrong type":    `{"diagnosis_codes": "L57.0"}`,
		"unknown field": `{"payer": "acme"}`,
		"bad gender":    `{"patient": {"gender": "female"}}`,
		"negative":      `{"procedures": [{"code": "17000", "units": -1}]}`,
		"neg charge":    `{"procedures": [{"code": "17000", "units": 1, "charge": -5}]}`,
	}
	for name, body := range tests {
		_, err := Decode([]byte(body))
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestDecode_MissingValuesAreAllowed(t *testing.T) {
	c, err := Decode([]byte(`{"procedures": [{"code": "17000"}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.DiagnosisCodes == nil || len(c.DiagnosisCodes) != 0 {
		t.Errorf("expected empty diagnosis codes, got %v", c.DiagnosisCodes)
	}
}

func TestClaim_MarshalChargeAsNumber(t *testing.T) {
	c := Claim{Procedures: []Procedure{{Code: "17000", Units: 1, Charge: decimal.NewFromInt(150)}}}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(data), `"charge":150`) {
		t.Errorf("expected numeric charge, got %s", data)
	}
}

func TestClone_IsDeep(t *testing.T) {
	c, _ := Decode([]byte(sampleClaim))
	clone := c.Clone()
	clone.Procedures[0].Modifiers = append(clone.Procedures[0].Modifiers, "25")
	clone.DiagnosisCodes[0] = "I10"
	if len(c.Procedures[0].Modifiers) != 0 {
		t.Error("expected original modifiers untouched")
	}
	if c.DiagnosisCodes[0] != "L57.0" {
		t.Error("expected original diagnosis codes untouched")
	}
}

func TestProcedure_HasModifier(t *testing.T) {
	p := Procedure{Modifiers: []string{" 25 ", "59"}}
	if !p.HasModifier("25") {
		t.Error("expected modifier 25")
	}
	if p.HasModifier("76") {
		t.Error("did not expect modifier 76")
	}
}

func TestProcedure_LineTotal(t *testing.T) {
	p := Procedure{Units: 3, Charge: decimal.NewFromInt(30)}
	if !p.LineTotal().Equal(decimal.NewFromInt(90)) {
		t.Errorf("expected 90, got %s", p.LineTotal())
	}
	p.Units = 0
	if !p.LineTotal().Equal(decimal.NewFromInt(30)) {
		t.Errorf("expected zero units to count as one, got %s", p.LineTotal())
	}
}
