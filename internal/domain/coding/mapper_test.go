package coding

import (
	"math"
	"strings"
	"testing"
)

func newTestMapper(t *testing.T) *Mapper {
	t.Helper()
	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return NewMapper(reg)
}

func findCode(codes []MappedCode, code string) (MappedCode, bool) {
	for _, c := range codes {
		if c.Code == code {
			return c, true
		}
	}
	return MappedCode{}, false
}

func TestMapProcedure_KeywordMatch(t *testing.T) {
	m := newTestMapper(t)
	text := "cryotherapy of actinic keratosis"
	codes := m.MapProcedure(text, Entities{})

	got, ok := findCode(codes, "17000")
	if !ok {
		t.Fatalf("expected 17000 in %+v", codes)
	}
	if got.Source != SourceKeyword {
		t.Errorf("expected keyword source, got %s", got.Source)
	}
	want := float64(len("cryotherapy")) / float64(len(text)) * 1.2
	if math.Abs(got.Confidence-want) > 1e-9 {
		t.Errorf("expected confidence %f, got %f", want, got.Confidence)
	}
	if got.MatchedTerm != "cryotherapy" {
		t.Errorf("expected matched term cryotherapy, got %q", got.MatchedTerm)
	}
}

func TestMapProcedure_KeywordConfidenceCapped(t *testing.T) {
	m := newTestMapper(t)
	codes := m.MapProcedure("Cryotherapy", Entities{})
	if len(codes) != 1 {
		t.Fatalf("expected 1 code, got %d", len(codes))
	}
	if codes[0].Confidence != 0.99 {
		t.Errorf("expected confidence capped at 0.99, got %f", codes[0].Confidence)
	}
}

func TestMapProcedure_KeywordConfidenceLowerBound(t *testing.T) {
	m := newTestMapper(t)
	reg := m.Registry()
	texts := []string{
		"patient underwent shave biopsy of the left cheek",
		"knee injection performed under ultrasound guidance",
		"venipuncture for routine labs",
	}
	for _, text := range texts {
		codes := m.MapProcedure(text, Entities{})
		for _, entry := range reg.Entries(KindCPT) {
			for _, kw := range entry.Keywords {
				if !strings.Contains(strings.ToLower(text), kw) {
					continue
				}
				got, ok := findCode(codes, entry.Code)
				if !ok {
					if len(codes) == MaxResults {
						continue
					}
					t.Errorf("%q: expected %s for keyword %q", text, entry.Code, kw)
					continue
				}
				floor := math.Min(float64(len(kw))/float64(len(text)), 0.99)
				if got.Confidence < floor {
					t.Errorf("%q: confidence %f below %f", text, got.Confidence, floor)
				}
				break
			}
		}
	}
}

func TestMapProcedure_AtMostThreeSorted(t *testing.T) {
	m := newTestMapper(t)
	codes := m.MapProcedure("venipuncture, cbc, cmp, urinalysis and ecg", Entities{})
	if len(codes) != MaxResults {
		t.Fatalf("expected %d codes, got %d", MaxResults, len(codes))
	}
	for i := 1; i < len(codes); i++ {
		if codes[i].Confidence > codes[i-1].Confidence {
			t.Errorf("results not sorted: %+v", codes)
		}
	}
	if codes[0].Code != "36415" {
		t.Errorf("expected 36415 first, got %s", codes[0].Code)
	}
}

func TestMapProcedure_FuzzyFallback(t *testing.T) {
	m := newTestMapper(t)
	codes := m.MapProcedure("removal of skin tags", Entities{})
	if len(codes) == 0 {
		t.Fatal("expected fuzzy matches")
	}
	if codes[0].Code != "11200" {
		t.Errorf("expected 11200 first, got %s", codes[0].Code)
	}
	if codes[0].Source != SourceFuzzy {
		t.Errorf("expected fuzzy source, got %s", codes[0].Source)
	}
	if math.Abs(codes[0].Confidence-0.32) > 1e-9 {
		t.Errorf("expected confidence 0.32, got %f", codes[0].Confidence)
	}
}

func TestMapProcedure_Unmapped(t *testing.T) {
	m := newTestMapper(t)
	if codes := m.MapProcedure("xylophone tuning", Entities{}); len(codes) != 0 {
		t.Errorf("expected no codes, got %+v", codes)
	}
	if codes := m.MapProcedure("   ", Entities{LesionCount: 3}); len(codes) != 0 {
		t.Errorf("expected no codes for blank text, got %+v", codes)
	}
}

func TestMapProcedure_LesionTiers(t *testing.T) {
	m := newTestMapper(t)
	tests := []struct {
		count int
		want  string
	}{
		{1, "17000"},
		{2, "17003"},
		{14, "17003"},
		{15, "17004"},
		{40, "17004"},
	}
	for _, tt := range tests {
		codes := m.MapProcedure("skin check", Entities{LesionCount: tt.count})
		got, ok := findCode(codes, tt.want)
		if !ok {
			t.Errorf("count %d: expected %s in %+v", tt.count, tt.want, codes)
			continue
		}
		if got.Confidence != 0.95 || got.Source != SourceExact {
			t.Errorf("count %d: expected exact 0.95, got %s %f", tt.count, got.Source, got.Confidence)
		}
	}
}

func TestMapProcedure_LesionCodeNotDuplicated(t *testing.T) {
	m := newTestMapper(t)
	codes := m.MapProcedure("cryotherapy", Entities{LesionCount: 1})
	n := 0
	for _, c := range codes {
		if c.Code == "17000" {
			n++
		}
	}
	if n != 1 {
		t.Errorf("expected 17000 exactly once, got %d", n)
	}
	if codes[0].Source != SourceKeyword {
		t.Errorf("expected keyword match to be kept, got %s", codes[0].Source)
	}
}

func TestMapProcedure_VisitLevels(t *testing.T) {
	m := newTestMapper(t)
	tests := []struct {
		complexity  string
		patientType string
		want        string
	}{
		{"minimal", "established", "99211"},
		{"low complexity", "", "99212"},
		{"moderate", "established", "99213"},
		{"high", "established", "99214"},
		{"very high", "established", "99215"},
		{"moderate", "new patient", "99203"},
		{"high", "New", "99204"},
	}
	for _, tt := range tests {
		codes := m.MapProcedure("skin check", Entities{VisitComplexity: tt.complexity, PatientType: tt.patientType})
		got, ok := findCode(codes, tt.want)
		if !ok {
			t.Errorf("%s/%s: expected %s in %+v", tt.complexity, tt.patientType, tt.want, codes)
			continue
		}
		if got.Confidence != 0.90 {
			t.Errorf("%s/%s: expected 0.90, got %f", tt.complexity, tt.patientType, got.Confidence)
		}
		if got.MatchedTerm != "visit complexity: "+tt.complexity {
			t.Errorf("unexpected matched term %q", got.MatchedTerm)
		}
	}
}

func TestMapDiagnosis(t *testing.T) {
	m := newTestMapper(t)
	codes := m.MapDiagnosis("Actinic keratosis on forearm")
	if _, ok := findCode(codes, "L57.0"); !ok {
		t.Errorf("expected L57.0 in %+v", codes)
	}
	if codes := m.MapDiagnosis(""); len(codes) != 0 {
		t.Errorf("expected no codes, got %+v", codes)
	}
}

func TestMapEntities_FirstOccurrenceWins(t *testing.T) {
	m := newTestMapper(t)
	res := m.MapEntities(Entities{
		ProcedureName:        "cryotherapy",
		AdditionalProcedures: []string{"liquid nitrogen cryotherapy"},
		DiagnosisText:        "actinic keratosis",
		AdditionalDiagnoses:  []string{"hypertension", "actinic keratoses"},
	})

	n := 0
	for _, c := range res.CPTCodes {
		if c.Code == "17000" {
			n++
			if c.Confidence != 0.99 {
				t.Errorf("expected first occurrence confidence 0.99, got %f", c.Confidence)
			}
		}
	}
	if n != 1 {
		t.Errorf("expected 17000 once, got %d", n)
	}

	if len(res.ICDCodes) != 2 {
		t.Fatalf("expected 2 ICD codes, got %+v", res.ICDCodes)
	}
	if res.ICDCodes[0].Code != "L57.0" || res.ICDCodes[1].Code != "I10" {
		t.Errorf("unexpected ICD order: %+v", res.ICDCodes)
	}
}

func TestMapEntities_Empty(t *testing.T) {
	m := newTestMapper(t)
	res := m.MapEntities(Entities{})
	if res.CPTCodes == nil || res.ICDCodes == nil {
		t.Error("expected empty, non-nil slices")
	}
	if len(res.CPTCodes) != 0 || len(res.ICDCodes) != 0 {
		t.Errorf("expected no codes, got %+v", res)
	}
}

func TestIsValid(t *testing.T) {
	m := newTestMapper(t)
	tests := []struct {
		code string
		kind Kind
		want bool
	}{
		{"99213", KindCPT, true},
		{" 17000 ", KindCPT, true},
		{"L57.0", KindICD10, true},
		{"l57.0", KindICD10, true},
		{"99999", KindCPT, false},
		{"99213", KindICD10, false},
		{"99213", Kind("HCPCS"), false},
	}
	for _, tt := range tests {
		if got := m.IsValid(tt.code, tt.kind); got != tt.want {
			t.Errorf("IsValid(%q, %s) = %v, want %v", tt.code, tt.kind, got, tt.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if got := similarity("removal of skin tags", "removal of skin tags"); got != 1 {
		t.Errorf("expected 1, got %f", got)
	}
	if got := similarity("", "anything"); got != 0 {
		t.Errorf("expected 0, got %f", got)
	}
	if got := similarity("biopsy", "tangential biopsy"); got != 0.5 {
		t.Errorf("expected 0.5, got %f", got)
	}
}
