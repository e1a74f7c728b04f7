package validation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultRules(t *testing.T) {
	rs, err := DefaultRules()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.DefaultProvider.NPI == "" {
		t.Error("expected a default provider")
	}
	if rs.Modifier25.RequiredModifier != "25" {
		t.Errorf("expected modifier 25, got %q", rs.Modifier25.RequiredModifier)
	}
	if len(rs.PriorAuth) == 0 {
		t.Error("expected a prior authorization watchlist")
	}
}

func TestConflict_Symmetric(t *testing.T) {
	rs, err := DefaultRules()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, ok := rs.Conflict("20610", "96372")
	if !ok {
		t.Fatal("expected conflict")
	}
	b, ok := rs.Conflict("96372", "20610")
	if !ok {
		t.Fatal("expected reversed conflict")
	}
	if a != b {
		t.Errorf("expected the same entry, got %+v and %+v", a, b)
	}
	if _, ok := rs.Conflict("99213", "17000"); ok {
		t.Error("unexpected conflict")
	}
}

func TestCitationsFor(t *testing.T) {
	rs, err := DefaultRules()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := rs.CitationsFor([]string{CodeMissingModifier25, CodeInvalidCPT})
	if len(got) != 1 {
		t.Fatalf("expected one entry, got %v", got)
	}
	cites := got[CodeMissingModifier25]
	if len(cites) == 0 || !strings.Contains(cites[0].Source, "Section 30.6.6") {
		t.Errorf("unexpected citations %+v", cites)
	}
}

func TestParseRules_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown provider field", "required_fields:\n  provider: [fax]\n"},
		{"unknown patient field", "required_fields:\n  patient: [ssn]\n"},
		{"unknown claim field", "required_fields:\n  claim: [payer]\n"},
		{"identical pair", "ncci_pairs:\n  - column1: \"17000\"\n    column2: \"17000\"\n"},
		{"empty pair", "ncci_pairs:\n  - column1: \"17000\"\n"},
		{"missing modifier", "modifier_25:\n  evaluation_codes: [\"99213\"]\n"},
		{"bad yaml", "required_fields: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRules([]byte(tt.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadRules(t *testing.T) {
	rs, err := LoadRules("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rs.ConflictPairs) == 0 {
		t.Error("expected default rules for an empty path")
	}

	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := "ncci_pairs:\n  - column1: \"A1\"\n    column2: \"B2\"\n    description: test\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rs, err = LoadRules(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := rs.Conflict("B2", "A1"); !ok {
		t.Error("expected custom pair")
	}

	if _, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
