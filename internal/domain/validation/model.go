package validation

import "time"

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue codes.
const (
	CodeMissingRequiredField = "MISSING_REQUIRED_FIELD"
	CodeInvalidCPT           = "INVALID_CPT_CODE"
	CodeInvalidICD           = "INVALID_ICD_CODE"
	CodeNCCIConflict         = "NCCI_CONFLICT"
	CodeMissingModifier25    = "MISSING_MODIFIER_25"
	CodeMissingPriorAuth     = "MISSING_PRIOR_AUTH"
)

type Issue struct {
	ID            string   `json:"id"`
	Severity      Severity `json:"severity"`
	Code          string   `json:"code"`
	Message       string   `json:"message"`
	Field         string   `json:"field,omitempty"`
	SuggestedFix  string   `json:"suggested_fix,omitempty"`
	RuleReference string   `json:"rule_reference,omitempty"`
	AffectedCodes []string `json:"affected_codes,omitempty"`
}

type Result struct {
	Valid     bool      `json:"valid"`
	Issues    []Issue   `json:"issues"`
	Timestamp time.Time `json:"timestamp"`
}

// NewResult derives validity from the issue severities.
func NewResult(issues []Issue, at time.Time) Result {
	if issues == nil {
		issues = []Issue{}
	}
	r := Result{Issues: issues, Timestamp: at, Valid: true}
	for _, is := range issues {
		if is.Severity == SeverityError {
			r.Valid = false
			break
		}
	}
	return r
}

// Count returns the number of issues with the given severity.
func (r Result) Count(sev Severity) int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == sev {
			n++
		}
	}
	return n
}

// ErrorCodes lists the distinct codes of error-severity issues in order of
// first appearance.
func (r Result) ErrorCodes() []string {
	seen := make(map[string]bool)
	codes := []string{}
	for _, is := range r.Issues {
		if is.Severity != SeverityError || seen[is.Code] {
			continue
		}
		seen[is.Code] = true
		codes = append(codes, is.Code)
	}
	return codes
}
