package coding

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed codes.yaml
var defaultCodes []byte

// Registry holds the CPT and ICD-10 code tables along with the special-case
// tables used by the mapper. It is read-only after construction.
type Registry struct {
	cpt         []CodeEntry
	icd         []CodeEntry
	cptIndex    map[string]int
	icdIndex    map[string]int
	lesionTiers []LesionTier
	visitRules  []VisitRule
}

type registryFile struct {
	CPT         []entryFile  `yaml:"cpt"`
	ICD10       []entryFile  `yaml:"icd10"`
	LesionTiers []LesionTier `yaml:"lesion_tiers"`
	VisitLevels []VisitRule  `yaml:"visit_levels"`
}

type entryFile struct {
	Code        string   `yaml:"code"`
	Description string   `yaml:"description"`
	Category    string   `yaml:"category"`
	Keywords    []string `yaml:"keywords"`
	Fee         string   `yaml:"fee"`
}

// DefaultRegistry returns the registry compiled into the binary.
func DefaultRegistry() (*Registry, error) {
	return ParseRegistry(defaultCodes)
}

// LoadRegistry reads a registry file from disk. An empty path returns the
// default registry.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read code registry: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes and checks a YAML registry document.
func ParseRegistry(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode code registry: %w", err)
	}

	r := &Registry{
		cptIndex: make(map[string]int, len(f.CPT)),
		icdIndex: make(map[string]int, len(f.ICD10)),
	}

	var err error
	if r.cpt, err = buildEntries(f.CPT, r.cptIndex, KindCPT); err != nil {
		return nil, err
	}
	if r.icd, err = buildEntries(f.ICD10, r.icdIndex, KindICD10); err != nil {
		return nil, err
	}

	for _, t := range f.LesionTiers {
		if _, ok := r.cptIndex[normalizeCode(t.Code)]; !ok {
			return nil, fmt.Errorf("lesion tier references unknown CPT code %q", t.Code)
		}
		if t.Min < 1 || (t.Max != 0 && t.Max < t.Min) {
			return nil, fmt.Errorf("lesion tier for %s has invalid range %d-%d", t.Code, t.Min, t.Max)
		}
		t.Code = normalizeCode(t.Code)
		r.lesionTiers = append(r.lesionTiers, t)
	}

	for _, v := range f.VisitLevels {
		if _, ok := r.cptIndex[normalizeCode(v.Code)]; !ok {
			return nil, fmt.Errorf("visit level references unknown CPT code %q", v.Code)
		}
		if v.PatientType != PatientNew && v.PatientType != PatientEstablished {
			return nil, fmt.Errorf("visit level for %s has invalid patient_type %q", v.Code, v.PatientType)
		}
		v.Code = normalizeCode(v.Code)
		for i, kw := range v.Keywords {
			v.Keywords[i] = strings.ToLower(kw)
		}
		r.visitRules = append(r.visitRules, v)
	}

	return r, nil
}

func buildEntries(in []entryFile, index map[string]int, kind Kind) ([]CodeEntry, error) {
	out := make([]CodeEntry, 0, len(in))
	for _, e := range in {
		code := normalizeCode(e.Code)
		if code == "" {
			return nil, fmt.Errorf("%s entry with empty code", kind)
		}
		if _, dup := index[code]; dup {
			return nil, fmt.Errorf("duplicate %s code %s", kind, code)
		}

		fee := decimal.Zero
		if e.Fee != "" {
			var err error
			fee, err = decimal.NewFromString(e.Fee)
			if err != nil {
				return nil, fmt.Errorf("%s code %s: invalid fee %q: %w", kind, code, e.Fee, err)
			}
		}

		keywords := make([]string, 0, len(e.Keywords))
		for _, kw := range e.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				keywords = append(keywords, kw)
			}
		}

		index[code] = len(out)
		out = append(out, CodeEntry{
			Code:        code,
			Description: e.Description,
			Category:    e.Category,
			Keywords:    keywords,
			Fee:         fee,
		})
	}
	return out, nil
}

// Lookup returns the registry entry for code.
func (r *Registry) Lookup(code string, kind Kind) (CodeEntry, bool) {
	entries, index := r.table(kind)
	i, ok := index[normalizeCode(code)]
	if !ok {
		return CodeEntry{}, false
	}
	return entries[i], true
}

// Entries returns the registry rows for kind in file order.
func (r *Registry) Entries(kind Kind) []CodeEntry {
	entries, _ := r.table(kind)
	out := make([]CodeEntry, len(entries))
	copy(out, entries)
	return out
}

func (r *Registry) table(kind Kind) ([]CodeEntry, map[string]int) {
	switch kind {
	case KindCPT:
		return r.cpt, r.cptIndex
	case KindICD10:
		return r.icd, r.icdIndex
	}
	return nil, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
