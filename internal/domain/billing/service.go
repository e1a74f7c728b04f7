// Package billing exposes the coding, validation, fixing and adjudication
// operations used by the HTTP API, the MCP tool server and the note pipeline.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/claimsense/claimsense/internal/domain/claim"
	"github.com/claimsense/claimsense/internal/domain/coding"
	"github.com/claimsense/claimsense/internal/domain/validation"
	"github.com/claimsense/claimsense/internal/platform/audit"
	"github.com/claimsense/claimsense/internal/platform/reasoning"
)

// ErrInvalidInput is wrapped by every request validation failure.
var ErrInvalidInput = errors.New("invalid input")

type Service struct {
	mapper   *coding.Mapper
	engine   *validation.Engine
	reasoner reasoning.Provider
	audit    audit.Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService wires the billing operations. recorder may be nil.
func NewService(mapper *coding.Mapper, engine *validation.Engine, reasoner reasoning.Provider, recorder audit.Recorder, logger zerolog.Logger) *Service {
	return &Service{
		mapper:   mapper,
		engine:   engine,
		reasoner: reasoner,
		audit:    recorder,
		logger:   logger.With().Str("component", "billing").Logger(),
		now:      time.Now,
	}
}

// -- Coding --

func (s *Service) MapCodes(req MapRequest) coding.MappingResult {
	var ent coding.Entities
	if req.Entities != nil {
		ent = *req.Entities
	}
	if strings.TrimSpace(req.ProcedureName) != "" {
		ent.ProcedureName = req.ProcedureName
	}
	if strings.TrimSpace(req.DiagnosisText) != "" {
		ent.DiagnosisText = req.DiagnosisText
	}
	return s.mapper.MapEntities(ent)
}

// ExtractEntities asks the reasoning provider to read a clinician note.
func (s *Service) ExtractEntities(ctx context.Context, note string) (coding.Entities, error) {
	if strings.TrimSpace(note) == "" {
		return coding.Entities{}, fmt.Errorf("%w: clinician_note is required", ErrInvalidInput)
	}
	return s.reasoner.ExtractEntities(ctx, note)
}

// -- Claims --

// BuildClaim assembles a claim from mapped codes. Codes at or below
// MinConfidence are dropped.
func (s *Service) BuildClaim(req BuildRequest) claim.Claim {
	rules := s.engine.Rules()
	c := claim.Claim{
		Patient:        req.Patient,
		Provider:       rules.DefaultProvider,
		ServiceDate:    strings.TrimSpace(req.ServiceDate),
		PlaceOfService: strings.TrimSpace(req.PlaceOfService),
		DiagnosisCodes: []string{},
		Procedures:     []claim.Procedure{},
	}
	if req.Provider != nil {
		c.Provider = *req.Provider
	}
	if c.ServiceDate == "" {
		c.ServiceDate = s.now().Format(dateLayout)
	}
	if c.PlaceOfService == "" {
		c.PlaceOfService = defaultPlaceOfService
	}

	for _, mc := range req.MappedCodes.ICDCodes {
		if mc.Confidence > MinConfidence {
			c.DiagnosisCodes = append(c.DiagnosisCodes, mc.Code)
		}
	}
	for _, mc := range req.MappedCodes.CPTCodes {
		if mc.Confidence <= MinConfidence {
			continue
		}
		c.Procedures = append(c.Procedures, claim.Procedure{
			Code:        mc.Code,
			Description: mc.Description,
			Modifiers:   []string{},
			Units:       1,
			Charge:      s.chargeFor(mc.Code, req.Charges),
		})
	}
	return c
}

func (s *Service) chargeFor(code string, overrides map[string]decimal.Decimal) decimal.Decimal {
	if v, ok := overrides[code]; ok {
		return v
	}
	if entry, ok := s.mapper.Lookup(code, coding.KindCPT); ok && entry.Fee.IsPositive() {
		return entry.Fee
	}
	return defaultCharge
}

// BuildFromEntities maps entities and builds a claim from the result, using
// the demographics found in the entities.
func (s *Service) BuildFromEntities(ent coding.Entities) (claim.Claim, coding.MappingResult) {
	mapping := s.mapper.MapEntities(ent)
	c := s.BuildClaim(BuildRequest{
		Patient: claim.Patient{
			FirstName:   ent.PatientFirstName,
			LastName:    ent.PatientLastName,
			DateOfBirth: ent.PatientDateOfBirth,
			Gender:      ent.PatientGender,
		},
		ServiceDate: ent.ServiceDate,
		MappedCodes: MappedCodes{CPTCodes: mapping.CPTCodes, ICDCodes: mapping.ICDCodes},
	})
	return c, mapping
}

func (s *Service) Validate(c claim.Claim) validation.Result {
	return s.engine.Validate(c)
}

// Adjudicate decides a claim from its validation result: any error denies
// it, warnings alone hold it for review, otherwise the full amount is
// approved.
func (s *Service) Adjudicate(c claim.Claim, result validation.Result) PayerResponse {
	resp := PayerResponse{
		ClaimID:     "CLM-" + uuid.NewString(),
		ReasonCodes: []string{},
		Timestamp:   s.now().UTC(),
	}
	switch {
	case result.Count(validation.SeverityError) > 0:
		resp.Decision = DecisionDenied
		resp.Reason = "Claim has validation errors"
		resp.ReasonCodes = result.ErrorCodes()
	case result.Count(validation.SeverityWarning) > 0:
		resp.Decision = DecisionPending
		resp.Reason = "Claim requires manual review"
	default:
		total := c.Total()
		resp.Decision = DecisionApproved
		resp.Reason = "Claim meets all requirements"
		resp.AmountApproved = &total
	}
	return resp
}

// SubmitClaim adjudicates c, validating it first when no result is given,
// and records the submission in the audit log.
func (s *Service) SubmitClaim(c claim.Claim, result *validation.Result) PayerResponse {
	var r validation.Result
	if result != nil {
		r = *result
	} else {
		r = s.engine.Validate(c)
	}
	resp := s.Adjudicate(c, r)

	details := map[string]any{
		"decision":     resp.Decision,
		"reason_codes": resp.ReasonCodes,
	}
	if resp.AmountApproved != nil {
		details["amount_approved"] = resp.AmountApproved.StringFixed(2)
	}
	s.record("submit_claim", resp.ClaimID, details)
	return resp
}

// FixClaim asks the reasoning provider to fix the given issues, or the
// issues found by validating c when none are given, applies the fixes to a
// copy and re-validates it. Nothing is submitted.
func (s *Service) FixClaim(ctx context.Context, c claim.Claim, issues []validation.Issue) (FixResult, error) {
	if len(issues) == 0 {
		issues = s.engine.Validate(c).Issues
	}

	fixes := []claim.Fix{}
	if len(issues) > 0 {
		suggested, err := s.SuggestFixes(ctx, c, issues)
		if err != nil {
			return FixResult{}, err
		}
		fixes = suggested
	}

	fixed, applied, skipped := claim.ApplyFixes(c, fixes)
	for _, sk := range skipped {
		s.logger.Warn().Str("issue_id", sk.Fix.IssueID).Str("reason", sk.Reason).Msg("fix skipped")
	}
	res := FixResult{
		OriginalClaim: c,
		FixedClaim:    fixed,
		FixesApplied:  applied,
		FixesSkipped:  skipped,
		Validation:    s.engine.Validate(fixed),
		Timestamp:     s.now().UTC(),
	}

	s.record("fix_claim", "", map[string]any{
		"issues":        len(issues),
		"fixes_applied": len(applied),
		"fixes_skipped": len(skipped),
		"valid":         res.Validation.Valid,
	})
	return res, nil
}

// SuggestFixes passes the issues and their policy citations to the
// reasoning provider.
func (s *Service) SuggestFixes(ctx context.Context, c claim.Claim, issues []validation.Issue) ([]claim.Fix, error) {
	codes := make([]string, 0, len(issues))
	for _, is := range issues {
		codes = append(codes, is.Code)
	}
	var citations []string
	for _, cites := range s.LookupPolicy(codes) {
		for _, ct := range cites {
			citations = append(citations, ct.Source+": "+ct.Text)
		}
	}

	fixes, err := s.reasoner.SuggestFixes(ctx, reasoning.FixRequest{Claim: c, Issues: issues, Citations: citations})
	if err != nil {
		return nil, fmt.Errorf("suggest fixes: %w", err)
	}
	return fixes, nil
}

// RepairClaim applies the provider's fixes for a failing claim and keeps the
// amended copy only when it has fewer errors than the original.
func (s *Service) RepairClaim(ctx context.Context, c claim.Claim, result validation.Result) (claim.Claim, validation.Result, error) {
	if result.Valid {
		return c, result, nil
	}
	fixes, err := s.SuggestFixes(ctx, c, result.Issues)
	if err != nil {
		return c, result, err
	}
	if len(fixes) == 0 {
		return c, result, nil
	}
	fixed, applied, _ := claim.ApplyFixes(c, fixes)
	if len(applied) == 0 {
		return c, result, nil
	}
	revalidated := s.engine.Validate(fixed)
	if revalidated.Count(validation.SeverityError) < result.Count(validation.SeverityError) {
		return fixed, revalidated, nil
	}
	return c, result, nil
}

// LookupPolicy returns the policy citations for the given issue codes.
func (s *Service) LookupPolicy(codes []string) map[string][]validation.Citation {
	return s.engine.Rules().CitationsFor(codes)
}

// Registry exposes the code tables, mainly for the CLI.
func (s *Service) Registry() *coding.Registry {
	return s.mapper.Registry()
}

func (s *Service) record(action, claimID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.Record(audit.Entry{
		Action:  action,
		ClaimID: claimID,
		Details: details,
		Actor:   audit.ActorSystem,
	}); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("audit record failed")
	}
}
