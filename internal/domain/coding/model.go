package coding

import "github.com/shopspring/decimal"

// Kind distinguishes procedure codes from diagnosis codes.
type Kind string

const (
	KindCPT   Kind = "CPT"
	KindICD10 Kind = "ICD10"
)

// Source records which matching strategy produced a MappedCode.
type Source string

const (
	SourceExact   Source = "exact"
	SourceKeyword Source = "keyword"
	SourceFuzzy   Source = "fuzzy"
)

// Patient types used by the visit level rules.
const (
	PatientNew         = "new"
	PatientEstablished = "established"
)

// CodeEntry is a single registry row.
type CodeEntry struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Category    string          `json:"category,omitempty"`
	Keywords    []string        `json:"keywords,omitempty"`
	Fee         decimal.Decimal `json:"fee"`
}

// MappedCode is a candidate billing code for a piece of clinical text.
type MappedCode struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Source      Source  `json:"source"`
	MatchedTerm string  `json:"matched_term,omitempty"`
}

// Entities holds the clinical facts extracted from a note. Every field is
// optional.
type Entities struct {
	ProcedureName        string   `json:"procedure_name,omitempty"`
	DiagnosisText        string   `json:"diagnosis_text,omitempty"`
	BodySite             string   `json:"body_site,omitempty"`
	LesionCount          int      `json:"lesion_count,omitempty"`
	VisitComplexity      string   `json:"visit_complexity,omitempty"`
	PatientType          string   `json:"patient_type,omitempty"`
	AdditionalProcedures []string `json:"additional_procedures,omitempty"`
	AdditionalDiagnoses  []string `json:"additional_diagnoses,omitempty"`

	PatientFirstName   string `json:"patient_first_name,omitempty"`
	PatientLastName    string `json:"patient_last_name,omitempty"`
	PatientDateOfBirth string `json:"patient_date_of_birth,omitempty"`
	PatientGender      string `json:"patient_gender,omitempty"`
	ServiceDate        string `json:"service_date,omitempty"`
}

// MappingResult is the combined output of mapping all entity fields.
type MappingResult struct {
	CPTCodes []MappedCode `json:"cpt_codes"`
	ICDCodes []MappedCode `json:"icd_codes"`
	Entities Entities     `json:"entities"`
}

// LesionTier selects a destruction code by lesion count. Max of zero means
// the tier has no upper bound.
type LesionTier struct {
	Min  int    `yaml:"min"`
	Max  int    `yaml:"max"`
	Code string `yaml:"code"`
}

func (t LesionTier) contains(n int) bool {
	return n >= t.Min && (t.Max == 0 || n <= t.Max)
}

// VisitRule maps a visit complexity phrase to an evaluation and management
// code for one patient type.
type VisitRule struct {
	PatientType string   `yaml:"patient_type"`
	Keywords    []string `yaml:"keywords"`
	Code        string   `yaml:"code"`
}
