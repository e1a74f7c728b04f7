package validation

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/claimsense/claimsense/internal/domain/claim"
)

//go:embed rules.yaml
var defaultRules []byte

// RuleSet is the static configuration consumed by the engine.
type RuleSet struct {
	RequiredFields  RequiredFields        `yaml:"required_fields" json:"required_fields"`
	ConflictPairs   []ConflictPair        `yaml:"ncci_pairs" json:"ncci_pairs"`
	Modifier25      ModifierRule          `yaml:"modifier_25" json:"modifier_25"`
	PriorAuth       []WatchlistEntry      `yaml:"prior_authorization" json:"prior_authorization"`
	DefaultProvider claim.Provider        `yaml:"default_provider" json:"default_provider"`
	Citations       map[string][]Citation `yaml:"policy_citations" json:"policy_citations"`

	conflicts  map[pairKey]ConflictPair
	evaluation map[string]bool
	minor      map[string]bool
	watchlist  map[string]WatchlistEntry
}

type RequiredFields struct {
	Provider []string `yaml:"provider" json:"provider"`
	Patient  []string `yaml:"patient" json:"patient"`
	Claim    []string `yaml:"claim" json:"claim"`
}

type ConflictPair struct {
	Column1         string `yaml:"column1" json:"column1"`
	Column2         string `yaml:"column2" json:"column2"`
	Description     string `yaml:"description" json:"description"`
	ModifierAllowed bool   `yaml:"modifier_allowed" json:"modifier_allowed"`
}

type ModifierRule struct {
	EvaluationCodes  []string `yaml:"evaluation_codes" json:"evaluation_codes"`
	MinorProcedures  []string `yaml:"minor_procedures" json:"minor_procedures"`
	RequiredModifier string   `yaml:"required_modifier" json:"required_modifier"`
	Reference        string   `yaml:"reference" json:"reference"`
}

type WatchlistEntry struct {
	Code        string `yaml:"code" json:"code"`
	Description string `yaml:"description" json:"description"`
	Reason      string `yaml:"reason" json:"reason"`
}

// Citation is a policy excerpt supporting a rule.
type Citation struct {
	Title  string `yaml:"title" json:"title"`
	Text   string `yaml:"text" json:"text"`
	Source string `yaml:"source" json:"source"`
	URL    string `yaml:"url" json:"url,omitempty"`
}

type pairKey struct{ a, b string }

func newPairKey(x, y string) pairKey {
	if x > y {
		x, y = y, x
	}
	return pairKey{x, y}
}

var providerFields = map[string]func(claim.Provider) string{
	"npi":      func(p claim.Provider) string { return p.NPI },
	"name":     func(p claim.Provider) string { return p.Name },
	"taxonomy": func(p claim.Provider) string { return p.Taxonomy },
	"address":  func(p claim.Provider) string { return p.Address },
	"city":     func(p claim.Provider) string { return p.City },
	"state":    func(p claim.Provider) string { return p.State },
	"zip":      func(p claim.Provider) string { return p.Zip },
}

var patientFields = map[string]func(claim.Patient) string{
	"first_name":    func(p claim.Patient) string { return p.FirstName },
	"last_name":     func(p claim.Patient) string { return p.LastName },
	"date_of_birth": func(p claim.Patient) string { return p.DateOfBirth },
	"gender":        func(p claim.Patient) string { return p.Gender },
}

var claimFields = map[string]bool{
	"service_date":     true,
	"place_of_service": true,
	"diagnosis_codes":  true,
	"procedures":       true,
}

// DefaultRules returns the rule set compiled into the binary.
func DefaultRules() (*RuleSet, error) {
	return ParseRules(defaultRules)
}

// LoadRules reads a rule file. An empty path returns the default rules.
func LoadRules(path string) (*RuleSet, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes a YAML rule document and builds its lookup tables.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if err := rs.index(); err != nil {
		return nil, err
	}
	return &rs, nil
}

func (rs *RuleSet) index() error {
	for _, f := range rs.RequiredFields.Provider {
		if _, ok := providerFields[f]; !ok {
			return fmt.Errorf("unknown required provider field %q", f)
		}
	}
	for _, f := range rs.RequiredFields.Patient {
		if _, ok := patientFields[f]; !ok {
			return fmt.Errorf("unknown required patient field %q", f)
		}
	}
	for _, f := range rs.RequiredFields.Claim {
		if !claimFields[f] {
			return fmt.Errorf("unknown required claim field %q", f)
		}
	}

	rs.conflicts = make(map[pairKey]ConflictPair, len(rs.ConflictPairs))
	for _, p := range rs.ConflictPairs {
		a, b := strings.TrimSpace(p.Column1), strings.TrimSpace(p.Column2)
		if a == "" || b == "" || a == b {
			return fmt.Errorf("invalid ncci pair %q/%q", p.Column1, p.Column2)
		}
		rs.conflicts[newPairKey(a, b)] = p
	}

	rs.evaluation = toSet(rs.Modifier25.EvaluationCodes)
	rs.minor = toSet(rs.Modifier25.MinorProcedures)
	if (len(rs.evaluation) > 0 || len(rs.minor) > 0) && strings.TrimSpace(rs.Modifier25.RequiredModifier) == "" {
		return fmt.Errorf("modifier_25.required_modifier is required")
	}

	rs.watchlist = make(map[string]WatchlistEntry, len(rs.PriorAuth))
	for _, w := range rs.PriorAuth {
		rs.watchlist[strings.TrimSpace(w.Code)] = w
	}
	return nil
}

// Conflict returns the conflict table entry for two codes in either order.
func (rs *RuleSet) Conflict(a, b string) (ConflictPair, bool) {
	p, ok := rs.conflicts[newPairKey(a, b)]
	return p, ok
}

// CitationsFor returns the policy citations for the given issue codes.
// Codes without citations are omitted.
func (rs *RuleSet) CitationsFor(codes []string) map[string][]Citation {
	out := make(map[string][]Citation)
	for _, c := range codes {
		if cites, ok := rs.Citations[c]; ok {
			out[c] = cites
		}
	}
	return out
}

func toSet(codes []string) map[string]bool {
	m := make(map[string]bool, len(codes))
	for _, c := range codes {
		if c = strings.TrimSpace(c); c != "" {
			m[c] = true
		}
	}
	return m
}
