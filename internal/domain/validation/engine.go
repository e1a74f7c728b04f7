// Package validation checks claims against payer and compliance rules.
package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/claimsense/claimsense/internal/domain/claim"
	"github.com/claimsense/claimsense/internal/domain/coding"
)

const (
	ncciReference      = "NCCI Edit Table"
	priorAuthReference = "Payer Prior Authorization Policy"
)

// CodeChecker reports whether a code exists in the code registry.
type CodeChecker interface {
	IsValid(code string, kind coding.Kind) bool
}

// Engine evaluates a claim against a RuleSet. It performs no I/O and is safe
// for concurrent use.
type Engine struct {
	rules *RuleSet
	codes CodeChecker
	now   func() time.Time
}

func NewEngine(rules *RuleSet, codes CodeChecker) *Engine {
	return &Engine{rules: rules, codes: codes, now: time.Now}
}

// Rules returns the rule set the engine was built with.
func (e *Engine) Rules() *RuleSet {
	return e.rules
}

// Validate runs every check and concatenates the issues in a fixed order:
// required fields, code validity, NCCI conflicts, modifier 25, prior
// authorization.
func (e *Engine) Validate(c claim.Claim) Result {
	var issues []Issue
	issues = append(issues, e.checkRequired(c)...)
	issues = append(issues, e.checkCodes(c)...)
	issues = append(issues, e.checkConflicts(c)...)
	issues = append(issues, e.checkModifier25(c)...)
	issues = append(issues, e.checkPriorAuth(c)...)
	return NewResult(issues, e.now().UTC())
}

func newIssue(code, message string) Issue {
	return Issue{
		ID:       "ISS-" + uuid.NewString(),
		Severity: SeverityError,
		Code:     code,
		Message:  message,
	}
}

// -- Required fields --

func (e *Engine) checkRequired(c claim.Claim) []Issue {
	var issues []Issue

	for _, f := range e.rules.RequiredFields.Provider {
		if strings.TrimSpace(providerFields[f](c.Provider)) == "" {
			is := newIssue(CodeMissingRequiredField, "Missing required provider field: "+f)
			is.Field = "provider." + f
			is.SuggestedFix = "Add provider " + f
			issues = append(issues, is)
		}
	}

	for _, f := range e.rules.RequiredFields.Patient {
		if strings.TrimSpace(patientFields[f](c.Patient)) == "" {
			is := newIssue(CodeMissingRequiredField, "Missing required patient field: "+f)
			is.Field = "patient." + f
			is.SuggestedFix = "Add patient " + f
			issues = append(issues, is)
		}
	}

	for _, f := range e.rules.RequiredFields.Claim {
		var msg, fix string
		switch f {
		case "service_date":
			if strings.TrimSpace(c.ServiceDate) != "" {
				continue
			}
			msg, fix = "Missing service date", "Add the date of service"
		case "place_of_service":
			if strings.TrimSpace(c.PlaceOfService) != "" {
				continue
			}
			msg, fix = "Missing place of service", "Add a place of service code (11 for office)"
		case "diagnosis_codes":
			if len(c.DiagnosisCodes) > 0 {
				continue
			}
			msg, fix = "No diagnosis codes provided", "Add at least one ICD-10 diagnosis code"
		case "procedures":
			if len(c.Procedures) > 0 {
				continue
			}
			msg, fix = "No procedure codes provided", "Add at least one CPT procedure code"
		}
		is := newIssue(CodeMissingRequiredField, msg)
		is.Field = f
		is.SuggestedFix = fix
		issues = append(issues, is)
	}

	return issues
}

// -- Code validity --

func (e *Engine) checkCodes(c claim.Claim) []Issue {
	var issues []Issue
	for i, p := range c.Procedures {
		if e.codes.IsValid(p.Code, coding.KindCPT) {
			continue
		}
		is := newIssue(CodeInvalidCPT, "Invalid CPT code: "+p.Code)
		is.Field = fmt.Sprintf("procedures[%d].code", i)
		is.SuggestedFix = "Use a valid CPT code from the approved list"
		is.AffectedCodes = []string{p.Code}
		issues = append(issues, is)
	}
	for i, d := range c.DiagnosisCodes {
		if e.codes.IsValid(d, coding.KindICD10) {
			continue
		}
		is := newIssue(CodeInvalidICD, "Invalid ICD-10 code: "+d)
		is.Field = fmt.Sprintf("diagnosis_codes[%d]", i)
		is.SuggestedFix = "Use a valid ICD-10 code from the approved list"
		is.AffectedCodes = []string{d}
		issues = append(issues, is)
	}
	return issues
}

// -- NCCI conflicts --

func (e *Engine) checkConflicts(c claim.Claim) []Issue {
	codes := distinctCodes(c.Procedures)

	var issues []Issue
	for i := 0; i < len(codes); i++ {
		for j := i + 1; j < len(codes); j++ {
			pair, ok := e.rules.Conflict(codes[i], codes[j])
			if !ok {
				continue
			}
			is := newIssue(CodeNCCIConflict, "NCCI conflict: "+pair.Description)
			is.Field = "procedures"
			is.RuleReference = ncciReference
			is.AffectedCodes = []string{codes[i], codes[j]}
			if pair.ModifierAllowed {
				is.SuggestedFix = "Add appropriate modifier if services are distinct"
			} else {
				is.SuggestedFix = "Remove one of the conflicting codes"
			}
			issues = append(issues, is)
		}
	}
	return issues
}

func distinctCodes(procs []claim.Procedure) []string {
	seen := make(map[string]bool, len(procs))
	var codes []string
	for _, p := range procs {
		code := strings.TrimSpace(p.Code)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}

// -- Modifier 25 --

func (e *Engine) checkModifier25(c claim.Claim) []Issue {
	rule := e.rules.Modifier25
	hasEval, hasMinor := false, false
	for _, p := range c.Procedures {
		code := strings.TrimSpace(p.Code)
		hasEval = hasEval || e.rules.evaluation[code]
		hasMinor = hasMinor || e.rules.minor[code]
	}
	if !hasEval || !hasMinor {
		return nil
	}

	var issues []Issue
	for i, p := range c.Procedures {
		code := strings.TrimSpace(p.Code)
		if !e.rules.evaluation[code] || p.HasModifier(rule.RequiredModifier) {
			continue
		}
		is := newIssue(CodeMissingModifier25,
			fmt.Sprintf("Modifier %s required on E/M code %s when billed with minor procedure", rule.RequiredModifier, code))
		is.Field = fmt.Sprintf("procedures[%d].modifiers", i)
		is.SuggestedFix = fmt.Sprintf("Add modifier %s to %s", rule.RequiredModifier, code)
		is.RuleReference = rule.Reference
		is.AffectedCodes = []string{code}
		issues = append(issues, is)
	}
	return issues
}

// -- Prior authorization --

func (e *Engine) checkPriorAuth(c claim.Claim) []Issue {
	var issues []Issue
	for i, p := range c.Procedures {
		code := strings.TrimSpace(p.Code)
		entry, ok := e.rules.watchlist[code]
		if !ok || strings.TrimSpace(p.PriorAuthorizationNumber) != "" {
			continue
		}
		is := newIssue(CodeMissingPriorAuth, fmt.Sprintf("Prior authorization required for %s: %s", code, entry.Reason))
		is.Field = fmt.Sprintf("procedures[%d].prior_authorization_number", i)
		is.SuggestedFix = "Obtain prior authorization and add the authorization number"
		is.RuleReference = priorAuthReference
		is.AffectedCodes = []string{code}
		issues = append(issues, is)
	}
	return issues
}
