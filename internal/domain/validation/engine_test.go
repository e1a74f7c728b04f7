package validation

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/claimsense/claimsense/internal/domain/claim"
	"github.com/claimsense/claimsense/internal/domain/coding"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	rules, err := DefaultRules()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reg, err := coding.DefaultRegistry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return NewEngine(rules, coding.NewMapper(reg))
}

func proc(code string, modifiers ...string) claim.Procedure {
	if modifiers == nil {
		modifiers = []string{}
	}
	return claim.Procedure{Code: code, Description: code, Modifiers: modifiers, Units: 1, Charge: decimal.NewFromInt(100)}
}

func validClaim() claim.Claim {
	return claim.Claim{
		Patient:        claim.Patient{FirstName: "Jane", LastName: "Doe", DateOfBirth: "1970-02-03", Gender: "F"},
		Provider:       claim.Provider{NPI: "1234567893", Name: "Dermatology Associates", Taxonomy: "207N00000X"},
		ServiceDate:    "2024-05-01",
		PlaceOfService: "11",
		DiagnosisCodes: []string{"L57.0"},
		Procedures:     []claim.Procedure{proc("17000")},
	}
}

func issuesWithCode(r Result, code string) []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Code == code {
			out = append(out, is)
		}
	}
	return out
}

func TestValidate_ValidClaim(t *testing.T) {
	e := newTestEngine(t)
	r := e.Validate(validClaim())
	if !r.Valid {
		t.Errorf("expected valid claim, got issues %+v", r.Issues)
	}
	if r.Issues == nil {
		t.Error("expected empty, non-nil issues")
	}
	if r.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}
}

func TestValidate_MissingDiagnosisCodes(t *testing.T) {
	e := newTestEngine(t)
	c := validClaim()
	c.DiagnosisCodes = []string{}

	r := e.Validate(c)
	if r.Valid {
		t.Fatal("expected invalid claim")
	}
	found := false
	for _, is := range issuesWithCode(r, CodeMissingRequiredField) {
		if is.Field == "diagnosis_codes" {
			found = true
			if is.Message != "No diagnosis codes provided" {
				t.Errorf("unexpected message %q", is.Message)
			}
		}
	}
	if !found {
		t.Errorf("expected MISSING_REQUIRED_FIELD for diagnosis_codes, got %+v", r.Issues)
	}
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	e := newTestEngine(t)
	r := e.Validate(claim.Claim{})

	want := map[string]string{
		"provider.npi":          "Missing required provider field: npi",
		"provider.name":         "Missing required provider field: name",
		"provider.taxonomy":     "Missing required provider field: taxonomy",
		"patient.first_name":    "Missing required patient field: first_name",
		"patient.last_name":     "Missing required patient field: last_name",
		"patient.date_of_birth": "Missing required patient field: date_of_birth",
		"patient.gender":        "Missing required patient field: gender",
		"service_date":          "Missing service date",
		"place_of_service":      "Missing place of service",
		"diagnosis_codes":       "No diagnosis codes provided",
		"procedures":            "No procedure codes provided",
	}
	got := issuesWithCode(r, CodeMissingRequiredField)
	if len(got) != len(want) {
		t.Fatalf("expected %d issues, got %d: %+v", len(want), len(got), got)
	}
	for _, is := range got {
		if want[is.Field] != is.Message {
			t.Errorf("field %s: expected %q, got %q", is.Field, want[is.Field], is.Message)
		}
		if is.Severity != SeverityError {
			t.Errorf("field %s: expected error severity", is.Field)
		}
	}
}

func TestValidate_WhitespaceCountsAsMissing(t *testing.T) {
	e := newTestEngine(t)
	c := validClaim()
	c.Provider.NPI = "   "
	r := e.Validate(c)
	got := issuesWithCode(r, CodeMissingRequiredField)
	if len(got) != 1 || got[0].Field != "provider.npi" {
		t.Fatalf("expected provider.npi issue, got %+v", got)
	}
	if got[0].SuggestedFix != "Add provider npi" {
		t.Errorf("unexpected suggested fix %q", got[0].SuggestedFix)
	}
}

func TestValidate_InvalidCodes(t *testing.T) {
	e := newTestEngine(t)
	c := validClaim()
	c.Procedures = append(c.Procedures, proc("00000"))
	c.DiagnosisCodes = append(c.DiagnosisCodes, "Z99.999")

	r := e.Validate(c)
	cpt := issuesWithCode(r, CodeInvalidCPT)
	if len(cpt) != 1 || cpt[0].AffectedCodes[0] != "00000" || cpt[0].Field != "procedures[1].code" {
		t.Errorf("unexpected CPT issues %+v", cpt)
	}
	icd := issuesWithCode(r, CodeInvalidICD)
	if len(icd) != 1 || icd[0].Message != "Invalid ICD-10 code: Z99.999" {
		t.Errorf("unexpected ICD issues %+v", icd)
	}
}

func TestValidate_NCCIConflictEitherOrder(t *testing.T) {
	e := newTestEngine(t)
	orders := [][]string{{"20610", "96372"}, {"96372", "20610"}, {"20610", "96372", "20610"}}
	for _, codes := range orders {
		c := validClaim()
		c.Procedures = nil
		for _, code := range codes {
			c.Procedures = append(c.Procedures, proc(code))
		}
		r := e.Validate(c)
		got := issuesWithCode(r, CodeNCCIConflict)
		if len(got) != 1 {
			t.Errorf("%v: expected exactly one NCCI issue, got %d", codes, len(got))
			continue
		}
		if got[0].SuggestedFix != "Add appropriate modifier if services are distinct" {
			t.Errorf("%v: unexpected fix %q", codes, got[0].SuggestedFix)
		}
		if got[0].RuleReference != "NCCI Edit Table" {
			t.Errorf("%v: unexpected reference %q", codes, got[0].RuleReference)
		}
		if len(got[0].AffectedCodes) != 2 {
			t.Errorf("%v: expected both codes listed", codes)
		}
	}
}

func TestValidate_NCCIConflictNoModifier(t *testing.T) {
	e := newTestEngine(t)
	c := validClaim()
	c.Procedures = []claim.Procedure{proc("93010"), proc("93000")}
	got := issuesWithCode(e.Validate(c), CodeNCCIConflict)
	if len(got) != 1 {
		t.Fatalf("expected one NCCI issue, got %d", len(got))
	}
	if got[0].SuggestedFix != "Remove one of the conflicting codes" {
		t.Errorf("unexpected fix %q", got[0].SuggestedFix)
	}
	if got[0].AffectedCodes[0] != "93010" || got[0].AffectedCodes[1] != "93000" {
		t.Errorf("expected codes in claim order, got %v", got[0].AffectedCodes)
	}
}

func TestValidate_MissingModifier25(t *testing.T) {
	e := newTestEngine(t)
	c := validClaim()
	c.Procedures = []claim.Procedure{proc("99213"), proc("17000")}

	got := issuesWithCode(e.Validate(c), CodeMissingModifier25)
	if len(got) != 1 {
		t.Fatalf("expected one MISSING_MODIFIER_25 issue, got %d", len(got))
	}
	if got[0].AffectedCodes[0] != "99213" {
		t.Errorf("expected 99213, got %v", got[0].AffectedCodes)
	}
	if got[0].Message != "Modifier 25 required on E/M code 99213 when billed with minor procedure" {
		t.Errorf("unexpected message %q", got[0].Message)
	}
	if got[0].RuleReference != "CMS Claims Processing Manual, Chapter 12, Section 30.6.6" {
		t.Errorf("unexpected reference %q", got[0].RuleReference)
	}
	if got[0].Field != "procedures[0].modifiers" {
		t.Errorf("unexpected field %q", got[0].Field)
	}
}

func TestValidate_Modifier25PerLine(t *testing.T) {
	e := newTestEngine(t)
	c := validClaim()
	c.Procedures = []claim.Procedure{proc("99213"), proc("99214", "25"), proc("99212"), proc("11102")}
	got := issuesWithCode(e.Validate(c), CodeMissingModifier25)
	if len(got) != 2 {
		t.Fatalf("expected two issues, got %d", len(got))
	}
	if got[0].AffectedCodes[0] != "99213" || got[1].AffectedCodes[0] != "99212" {
		t.Errorf("unexpected affected codes %+v", got)
	}
}

func TestValidate_Modifier25NotTriggered(t *testing.T) {
	e := newTestEngine(t)

	withModifier := validClaim()
	withModifier.Procedures = []claim.Procedure{proc("99213", "25"), proc("17000")}
	if got := issuesWithCode(e.Validate(withModifier), CodeMissingModifier25); len(got) != 0 {
		t.Errorf("expected no issue with modifier present, got %+v", got)
	}

	visitOnly := validClaim()
	visitOnly.Procedures = []claim.Procedure{proc("99213")}
	if got := issuesWithCode(e.Validate(visitOnly), CodeMissingModifier25); len(got) != 0 {
		t.Errorf("expected no issue without minor procedure, got %+v", got)
	}
}

func TestValidate_PriorAuth(t *testing.T) {
	e := newTestEngine(t)
	c := validClaim()
	c.Procedures = []claim.Procedure{proc("72148")}
	got := issuesWithCode(e.Validate(c), CodeMissingPriorAuth)
	if len(got) != 1 {
		t.Fatalf("expected one prior auth issue, got %d", len(got))
	}
	if got[0].Message != "Prior authorization required for 72148: Advanced imaging requires prior authorization" {
		t.Errorf("unexpected message %q", got[0].Message)
	}

	c.Procedures[0].PriorAuthorizationNumber = "PA-1"
	if r := e.Validate(c); !r.Valid {
		t.Errorf("expected valid claim with prior auth, got %+v", r.Issues)
	}
}

func TestValidate_StableOrder(t *testing.T) {
	e := newTestEngine(t)
	c := validClaim()
	c.Provider.NPI = ""
	c.DiagnosisCodes = []string{"BAD"}
	c.Procedures = []claim.Procedure{proc("99213"), proc("20610"), proc("96372"), proc("70551")}

	r := e.Validate(c)
	want := []string{
		CodeMissingRequiredField,
		CodeInvalidICD,
		CodeNCCIConflict,
		CodeMissingModifier25,
		CodeMissingPriorAuth,
	}
	if len(r.Issues) != len(want) {
		t.Fatalf("expected %d issues, got %+v", len(want), r.Issues)
	}
	for i, code := range want {
		if r.Issues[i].Code != code {
			t.Errorf("position %d: expected %s, got %s", i, code, r.Issues[i].Code)
		}
	}
	if codes := r.ErrorCodes(); len(codes) != len(want) {
		t.Errorf("expected %d distinct error codes, got %v", len(want), codes)
	}
}

func TestValidate_ValidIffNoErrors(t *testing.T) {
	e := newTestEngine(t)
	claims := []claim.Claim{validClaim(), {}}
	c := validClaim()
	c.Procedures = []claim.Procedure{proc("99213"), proc("17000")}
	claims = append(claims, c)

	for i, c := range claims {
		r := e.Validate(c)
		if r.Valid != (r.Count(SeverityError) == 0) {
			t.Errorf("claim %d: valid=%v with %d errors", i, r.Valid, r.Count(SeverityError))
		}
	}

	warn := NewResult([]Issue{{Severity: SeverityWarning}, {Severity: SeverityInfo}}, e.now())
	if !warn.Valid {
		t.Error("expected warnings and info to keep the result valid")
	}
}

func TestIssueIDsAreUnique(t *testing.T) {
	e := newTestEngine(t)
	r := e.Validate(claim.Claim{})
	seen := make(map[string]bool)
	for _, is := range r.Issues {
		if seen[is.ID] {
			t.Errorf("duplicate issue id %s", is.ID)
		}
		seen[is.ID] = true
	}
}
