// Package claim defines the CMS-1500 style claim passed between the billing
// engines and the patch operations used to amend it.
package claim

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// ErrInvalid is wrapped by every boundary decoding failure.
var ErrInvalid = errors.New("invalid claim")

var validGenders = map[string]bool{
	"M": true, "F": true, "X": true, "U": true,
}

type Patient struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth"`
	Gender      string `json:"gender"`
}

// FullName joins the first and last name.
func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

type Provider struct {
	NPI      string `json:"npi" yaml:"npi"`
	Name     string `json:"name" yaml:"name"`
	Taxonomy string `json:"taxonomy" yaml:"taxonomy"`
	Address  string `json:"address,omitempty" yaml:"address"`
	City     string `json:"city,omitempty" yaml:"city"`
	State    string `json:"state,omitempty" yaml:"state"`
	Zip      string `json:"zip,omitempty" yaml:"zip"`
}

type Procedure struct {
	Code                     string          `json:"code"`
	Description              string          `json:"description"`
	Modifiers                []string        `json:"modifiers"`
	Units                    int             `json:"units"`
	Charge                   decimal.Decimal `json:"charge"`
	PriorAuthorizationNumber string          `json:"prior_authorization_number,omitempty"`
}

// HasModifier reports whether mod is present on the line.
func (p Procedure) HasModifier(mod string) bool {
	for _, m := range p.Modifiers {
		if strings.EqualFold(strings.TrimSpace(m), mod) {
			return true
		}
	}
	return false
}

// LineTotal is charge multiplied by units. Zero units count as one.
func (p Procedure) LineTotal() decimal.Decimal {
	units := p.Units
	if units <= 0 {
		units = 1
	}
	return p.Charge.Mul(decimal.NewFromInt(int64(units)))
}

type Claim struct {
	Patient        Patient     `json:"patient"`
	Provider       Provider    `json:"provider"`
	ServiceDate    string      `json:"service_date"`
	PlaceOfService string      `json:"place_of_service"`
	DiagnosisCodes []string    `json:"diagnosis_codes"`
	Procedures     []Procedure `json:"procedures"`
}

// Total sums the line totals of every procedure.
func (c Claim) Total() decimal.Decimal {
	total := decimal.Zero
	for _, p := range c.Procedures {
		total = total.Add(p.LineTotal())
	}
	return total
}

// ProcedureCodes returns the procedure codes in line order.
func (c Claim) ProcedureCodes() []string {
	codes := make([]string, len(c.Procedures))
	for i, p := range c.Procedures {
		codes[i] = p.Code
	}
	return codes
}

// Clone returns a deep copy of the claim.
func (c Claim) Clone() Claim {
	out := c
	out.DiagnosisCodes = append([]string(nil), c.DiagnosisCodes...)
	out.Procedures = make([]Procedure, len(c.Procedures))
	for i, p := range c.Procedures {
		p.Modifiers = append([]string(nil), p.Modifiers...)
		out.Procedures[i] = p
	}
	return out.normalize()
}

// Check reports structural problems that make the claim unusable as typed
// data. Missing values are left to the validation rules.
func (c Claim) Check() error {
	var problems []string
	if c.Patient.Gender != "" && !validGenders[c.Patient.Gender] {
		problems = append(problems, fmt.Sprintf("patient.gender must be one of M, F, X, U, got %q", c.Patient.Gender))
	}
	for i, p := range c.Procedures {
		if p.Units < 0 {
			problems = append(problems, fmt.Sprintf("procedures[%d].units must not be negative", i))
		}
		if p.Charge.IsNegative() {
			problems = append(problems, fmt.Sprintf("procedures[%d].charge must not be negative", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Decode parses and checks a claim from JSON. Unknown fields are rejected.
func Decode(data []byte) (Claim, error) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return Claim{}, fmt.Errorf("%w: claim is required", ErrInvalid)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var c Claim
	if err := dec.Decode(&c); err != nil {
		return Claim{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	c = c.normalize()
	if err := c.Check(); err != nil {
		return Claim{}, err
	}
	return c, nil
}

func (c Claim) normalize() Claim {
	if c.DiagnosisCodes == nil {
		c.DiagnosisCodes = []string{}
	}
	if c.Procedures == nil {
		c.Procedures = []Procedure{}
	}
	for i := range c.Procedures {
		if c.Procedures[i].Modifiers == nil {
			c.Procedures[i].Modifiers = []string{}
		}
	}
	return c
}
