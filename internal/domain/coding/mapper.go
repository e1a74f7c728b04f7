// Package coding maps clinical text to CPT and ICD-10 billing codes.
package coding

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// MaxResults caps the candidates returned for a single piece of text.
	MaxResults = 3

	keywordBoost       = 1.2
	keywordCeiling     = 0.99
	fuzzyThreshold     = 0.3
	fuzzyWeight        = 0.8
	lesionConfidence   = 0.95
	visitConfidence    = 0.90
	defaultPatientType = PatientEstablished
)

// Mapper translates free text into ranked code candidates. It holds no
// mutable state and is safe for concurrent use.
type Mapper struct {
	reg *Registry
}

func NewMapper(reg *Registry) *Mapper {
	return &Mapper{reg: reg}
}

// Registry returns the code tables backing the mapper.
func (m *Mapper) Registry() *Registry {
	return m.reg
}

// IsValid reports whether code exists in the registry for kind.
func (m *Mapper) IsValid(code string, kind Kind) bool {
	_, ok := m.reg.Lookup(code, kind)
	return ok
}

// Lookup returns the registry entry for code.
func (m *Mapper) Lookup(code string, kind Kind) (CodeEntry, bool) {
	return m.reg.Lookup(code, kind)
}

// MapProcedure returns up to MaxResults CPT candidates for text. Lesion count,
// visit complexity and patient type from ent add tiered destruction and
// visit level codes when they are not already present.
func (m *Mapper) MapProcedure(text string, ent Entities) []MappedCode {
	search := strings.ToLower(strings.TrimSpace(text))
	if search == "" {
		return nil
	}

	results := m.match(search, m.reg.cpt)

	if ent.LesionCount > 0 {
		if code, ok := m.lesionCode(ent.LesionCount); ok && !containsCode(results, code.Code) {
			results = append(results, MappedCode{
				Code:        code.Code,
				Description: code.Description,
				Confidence:  lesionConfidence,
				Source:      SourceExact,
				MatchedTerm: fmt.Sprintf("lesion count: %d", ent.LesionCount),
			})
		}
	}

	if ent.VisitComplexity != "" {
		if code, ok := m.visitCode(ent.VisitComplexity, ent.PatientType); ok && !containsCode(results, code.Code) {
			results = append(results, MappedCode{
				Code:        code.Code,
				Description: code.Description,
				Confidence:  visitConfidence,
				Source:      SourceExact,
				MatchedTerm: "visit complexity: " + ent.VisitComplexity,
			})
		}
	}

	return rank(results)
}

// MapDiagnosis returns up to MaxResults ICD-10 candidates for text.
func (m *Mapper) MapDiagnosis(text string) []MappedCode {
	search := strings.ToLower(strings.TrimSpace(text))
	if search == "" {
		return nil
	}
	return rank(m.match(search, m.reg.icd))
}

// MapEntities maps the primary and additional procedure and diagnosis
// fields. When the same code is produced for more than one field, the first
// occurrence is kept.
func (m *Mapper) MapEntities(ent Entities) MappingResult {
	res := MappingResult{
		CPTCodes: []MappedCode{},
		ICDCodes: []MappedCode{},
		Entities: ent,
	}

	if ent.ProcedureName != "" {
		res.CPTCodes = appendUnique(res.CPTCodes, m.MapProcedure(ent.ProcedureName, ent))
	}
	for _, p := range ent.AdditionalProcedures {
		res.CPTCodes = appendUnique(res.CPTCodes, m.MapProcedure(p, Entities{}))
	}

	if ent.DiagnosisText != "" {
		res.ICDCodes = appendUnique(res.ICDCodes, m.MapDiagnosis(ent.DiagnosisText))
	}
	for _, d := range ent.AdditionalDiagnoses {
		res.ICDCodes = appendUnique(res.ICDCodes, m.MapDiagnosis(d))
	}

	return res
}

// match runs the keyword pass and falls back to the fuzzy pass when no
// keyword hit.
func (m *Mapper) match(search string, entries []CodeEntry) []MappedCode {
	var results []MappedCode
	searchLen := float64(utf8.RuneCountInString(search))

	for _, e := range entries {
		for _, kw := range e.Keywords {
			if !strings.Contains(search, kw) {
				continue
			}
			conf := math.Min(float64(utf8.RuneCountInString(kw))/searchLen*keywordBoost, keywordCeiling)
			results = append(results, MappedCode{
				Code:        e.Code,
				Description: e.Description,
				Confidence:  conf,
				Source:      SourceKeyword,
				MatchedTerm: kw,
			})
			break
		}
	}
	if len(results) > 0 {
		return results
	}

	for _, e := range entries {
		sim := similarity(search, strings.ToLower(e.Description))
		if sim > fuzzyThreshold {
			results = append(results, MappedCode{
				Code:        e.Code,
				Description: e.Description,
				Confidence:  sim * fuzzyWeight,
				Source:      SourceFuzzy,
			})
		}
	}
	return results
}

func (m *Mapper) lesionCode(count int) (CodeEntry, bool) {
	for _, t := range m.reg.lesionTiers {
		if t.contains(count) {
			return m.reg.Lookup(t.Code, KindCPT)
		}
	}
	return CodeEntry{}, false
}

func (m *Mapper) visitCode(complexity, patientType string) (CodeEntry, bool) {
	pt := defaultPatientType
	if strings.Contains(strings.ToLower(patientType), PatientNew) {
		pt = PatientNew
	}
	c := strings.ToLower(complexity)
	for _, rule := range m.reg.visitRules {
		if rule.PatientType != pt {
			continue
		}
		for _, kw := range rule.Keywords {
			if strings.Contains(c, kw) {
				return m.reg.Lookup(rule.Code, KindCPT)
			}
		}
	}
	return CodeEntry{}, false
}

// similarity is the share of words in a that equal, contain, or are contained
// in some word of b, over the larger word count.
func similarity(a, b string) float64 {
	wa := strings.Fields(a)
	wb := strings.Fields(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}

	matches := 0
	for _, x := range wa {
		for _, y := range wb {
			if x == y || strings.Contains(x, y) || strings.Contains(y, x) {
				matches++
				break
			}
		}
	}

	longest := len(wa)
	if len(wb) > longest {
		longest = len(wb)
	}
	return float64(matches) / float64(longest)
}

func rank(codes []MappedCode) []MappedCode {
	sort.SliceStable(codes, func(i, j int) bool {
		return codes[i].Confidence > codes[j].Confidence
	})
	if len(codes) > MaxResults {
		codes = codes[:MaxResults]
	}
	return codes
}

func containsCode(codes []MappedCode, code string) bool {
	for _, c := range codes {
		if c.Code == code {
			return true
		}
	}
	return false
}

func appendUnique(dst, src []MappedCode) []MappedCode {
	for _, c := range src {
		if !containsCode(dst, c.Code) {
			dst = append(dst, c)
		}
	}
	return dst
}
