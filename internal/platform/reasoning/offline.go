package reasoning

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/claimsense/claimsense/internal/domain/claim"
	"github.com/claimsense/claimsense/internal/domain/coding"
	"github.com/claimsense/claimsense/internal/domain/validation"
)

// Offline is a deterministic provider that reads labelled note headers
// ("Procedure: ...") and fixes the issues that have a mechanical remedy.
// It needs no network and is used in development and tests.
type Offline struct{}

func NewOffline() *Offline { return &Offline{} }

func (Offline) Name() string { return "offline" }

var (
	lesionPattern    = regexp.MustCompile(`(?i)\b(\d{1,3})\s+(?:[a-z]+\s+)?lesions?\b`)
	modifierField    = regexp.MustCompile(`^procedures\[(\d+)\]\.modifiers$`)
	dateLayouts      = []string{"2006-01-02", "01/02/2006", "1/2/2006", "January 2, 2006", "Jan 2, 2006"}
	labelledHeaderRe = regexp.MustCompile(`^\s*[-*]?\s*([A-Za-z][A-Za-z /]{1,40}?)\s*:\s*(.+?)\s*$`)
)

func (Offline) ExtractEntities(ctx context.Context, note string) (coding.Entities, error) {
	if err := ctx.Err(); err != nil {
		return coding.Entities{}, transient("extract_entities", 0, err)
	}

	var ent coding.Entities
	sc := bufio.NewScanner(strings.NewReader(note))
	for sc.Scan() {
		m := labelledHeaderRe.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		label, value := strings.ToLower(strings.TrimSpace(m[1])), m[2]
		switch label {
		case "procedure", "procedure performed", "procedures":
			setOnce(&ent.ProcedureName, value)
		case "diagnosis", "assessment", "impression":
			setOnce(&ent.DiagnosisText, value)
		case "body site", "site", "location":
			setOnce(&ent.BodySite, value)
		case "lesions", "lesion count", "number of lesions":
			fields := strings.Fields(value)
			if len(fields) == 0 || ent.LesionCount != 0 {
				continue
			}
			if n, err := strconv.Atoi(fields[0]); err == nil {
				ent.LesionCount = n
			}
		case "visit complexity", "complexity", "mdm", "medical decision making":
			setOnce(&ent.VisitComplexity, strings.ToLower(value))
		case "patient type", "visit type":
			switch v := strings.ToLower(value); {
			case strings.Contains(v, "new"):
				ent.PatientType = coding.PatientNew
			case strings.Contains(v, "established"):
				ent.PatientType = coding.PatientEstablished
			}
		case "additional procedures", "additional procedure":
			ent.AdditionalProcedures = append(ent.AdditionalProcedures, splitList(value)...)
		case "additional diagnoses", "additional diagnosis", "secondary diagnosis":
			ent.AdditionalDiagnoses = append(ent.AdditionalDiagnoses, splitList(value)...)
		case "patient", "patient name", "name":
			if ent.PatientFirstName == "" {
				ent.PatientFirstName, ent.PatientLastName = splitName(value)
			}
		case "dob", "date of birth":
			setOnce(&ent.PatientDateOfBirth, normalizeDate(value))
		case "gender", "sex":
			setOnce(&ent.PatientGender, normalizeGender(value))
		case "date of service", "service date", "dos", "date":
			setOnce(&ent.ServiceDate, normalizeDate(value))
		}
	}

	lower := strings.ToLower(note)
	if ent.LesionCount == 0 {
		if m := lesionPattern.FindStringSubmatch(note); m != nil {
			ent.LesionCount, _ = strconv.Atoi(m[1])
		}
	}
	if ent.PatientType == "" {
		switch {
		case strings.Contains(lower, "new patient"):
			ent.PatientType = coding.PatientNew
		case strings.Contains(lower, "established patient"):
			ent.PatientType = coding.PatientEstablished
		}
	}
	return ent, nil
}

// SuggestFixes proposes a patch for every missing modifier 25 issue. Other
// issues need clinical judgement and are left alone.
func (Offline) SuggestFixes(ctx context.Context, req FixRequest) ([]claim.Fix, error) {
	if err := ctx.Err(); err != nil {
		return nil, transient("suggest_fixes", 0, err)
	}

	fixes := []claim.Fix{}
	for _, is := range req.Issues {
		if is.Code != validation.CodeMissingModifier25 {
			continue
		}
		m := modifierField.FindStringSubmatch(is.Field)
		if m == nil {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		if idx >= len(req.Claim.Procedures) || req.Claim.Procedures[idx].HasModifier("25") {
			continue
		}
		value, _ := json.Marshal("25")
		fixes = append(fixes, claim.Fix{
			IssueID:     is.ID,
			Description: fmt.Sprintf("Append modifier 25 to %s", req.Claim.Procedures[idx].Code),
			Patches: []claim.PatchOp{{
				Op:    claim.OpAdd,
				Path:  fmt.Sprintf("/procedures/%d/modifiers/-", idx),
				Value: value,
			}},
			RuleCitation: is.RuleReference,
			Reasoning:    "The visit was billed with a minor procedure on the same date; modifier 25 marks it as separately identifiable.",
		})
	}
	return fixes, nil
}

func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = strings.TrimSpace(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitName(v string) (first, last string) {
	v = strings.TrimSpace(v)
	if i := strings.Index(v, ","); i >= 0 {
		return strings.TrimSpace(v[i+1:]), strings.TrimSpace(v[:i])
	}
	parts := strings.Fields(v)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], parts[len(parts)-1]
}

func normalizeDate(v string) string {
	v = strings.TrimSpace(v)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return v
}

func normalizeGender(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "m", "male":
		return "M"
	case "f", "female":
		return "F"
	case "x", "nonbinary", "non-binary":
		return "X"
	}
	return "U"
}
