package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/claimsense/claimsense/internal/domain/claim"
	"github.com/claimsense/claimsense/internal/domain/coding"
	"github.com/claimsense/claimsense/internal/domain/validation"
)

// Decision is the payer's verdict on a submitted claim.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
	DecisionPending  Decision = "pending"
)

const (
	// MinConfidence is the lowest mapped-code confidence kept on a built claim.
	MinConfidence = 0.5

	defaultPlaceOfService = "11"
	dateLayout            = "2006-01-02"
)

var defaultCharge = decimal.NewFromInt(100)

// MapRequest asks for codes for free text, structured entities, or both.
// Explicit text overrides the matching entity fields.
type MapRequest struct {
	ProcedureName string           `json:"procedure_name,omitempty"`
	DiagnosisText string           `json:"diagnosis_text,omitempty"`
	Entities      *coding.Entities `json:"entities,omitempty"`
}

type MappedCodes struct {
	CPTCodes []coding.MappedCode `json:"cpt_codes"`
	ICDCodes []coding.MappedCode `json:"icd_codes"`
}

type BuildRequest struct {
	Patient        claim.Patient              `json:"patient"`
	Provider       *claim.Provider            `json:"provider,omitempty"`
	ServiceDate    string                     `json:"service_date,omitempty"`
	PlaceOfService string                     `json:"place_of_service,omitempty"`
	MappedCodes    MappedCodes                `json:"mapped_codes"`
	Charges        map[string]decimal.Decimal `json:"charges,omitempty"`
}

// PayerResponse is the adjudication outcome of a submission.
type PayerResponse struct {
	ClaimID        string           `json:"claim_id"`
	Decision       Decision         `json:"decision"`
	Reason         string           `json:"reason"`
	ReasonCodes    []string         `json:"reason_codes"`
	AmountApproved *decimal.Decimal `json:"amount_approved,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// FixResult pairs a claim with its amended copy and the re-validation.
type FixResult struct {
	OriginalClaim claim.Claim        `json:"original_claim"`
	FixedClaim    claim.Claim        `json:"fixed_claim"`
	FixesApplied  []claim.Fix        `json:"fixes_applied"`
	FixesSkipped  []claim.SkippedFix `json:"fixes_skipped,omitempty"`
	Validation    validation.Result  `json:"validation"`
	Timestamp     time.Time          `json:"timestamp"`
}
