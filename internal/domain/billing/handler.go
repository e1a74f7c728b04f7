package billing

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/claimsense/claimsense/internal/domain/claim"
	"github.com/claimsense/claimsense/internal/domain/validation"
	"github.com/claimsense/claimsense/internal/platform/api"
	"github.com/claimsense/claimsense/internal/platform/reasoning"
)

// Reasoning failure codes.
const (
	CodeReasoningUnavailable = "REASONING_UNAVAILABLE"
	CodeReasoningFailed      = "REASONING_FAILED"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/map_codes", h.MapCodes)
	api.POST("/validate_claim", h.ValidateClaim)
	api.POST("/build_claim", h.BuildClaim)
	api.POST("/submit_claim", h.SubmitClaim)
	api.POST("/fix_claim", h.FixClaim)
	api.POST("/extract_entities", h.ExtractEntities)
	api.POST("/lookup_policy", h.LookupPolicy)
}

// -- Request bodies --

type claimRequest struct {
	Claim json.RawMessage `json:"claim"`
}

type submitRequest struct {
	Claim            json.RawMessage    `json:"claim"`
	ValidationResult *validation.Result `json:"validation_result,omitempty"`
}

type fixRequest struct {
	Claim            json.RawMessage    `json:"claim"`
	ValidationIssues []validation.Issue `json:"validation_issues,omitempty"`
}

type extractRequest struct {
	ClinicianNote string `json:"clinician_note"`
}

type policyRequest struct {
	IssueCodes []string `json:"issue_codes"`
}

// -- Handlers --

func (h *Handler) MapCodes(c echo.Context) error {
	var req MapRequest
	if err := c.Bind(&req); err != nil {
		return invalidJSON()
	}
	if strings.TrimSpace(req.ProcedureName) == "" && strings.TrimSpace(req.DiagnosisText) == "" && req.Entities == nil {
		return api.Fail(http.StatusBadRequest, api.CodeInvalidInput, "Provide procedure_name, diagnosis_text or entities")
	}
	return api.OK(c, http.StatusOK, h.svc.MapCodes(req))
}

func (h *Handler) ValidateClaim(c echo.Context) error {
	var req claimRequest
	if err := c.Bind(&req); err != nil {
		return invalidJSON()
	}
	cl, err := decodeClaim(req.Claim)
	if err != nil {
		return err
	}
	return api.OK(c, http.StatusOK, h.svc.Validate(cl))
}

func (h *Handler) BuildClaim(c echo.Context) error {
	var req BuildRequest
	if err := c.Bind(&req); err != nil {
		return invalidJSON()
	}
	if len(req.MappedCodes.CPTCodes) == 0 && len(req.MappedCodes.ICDCodes) == 0 {
		return api.Fail(http.StatusBadRequest, api.CodeInvalidInput, "mapped_codes is required")
	}
	built := h.svc.BuildClaim(req)
	if err := built.Check(); err != nil {
		return api.Fail(http.StatusBadRequest, api.CodeInvalidInput, err.Error())
	}
	return api.OK(c, http.StatusOK, built)
}

func (h *Handler) SubmitClaim(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return invalidJSON()
	}
	cl, err := decodeClaim(req.Claim)
	if err != nil {
		return err
	}
	return api.OK(c, http.StatusOK, h.svc.SubmitClaim(cl, req.ValidationResult))
}

func (h *Handler) FixClaim(c echo.Context) error {
	var req fixRequest
	if err := c.Bind(&req); err != nil {
		return invalidJSON()
	}
	cl, err := decodeClaim(req.Claim)
	if err != nil {
		return err
	}
	res, err := h.svc.FixClaim(c.Request().Context(), cl, req.ValidationIssues)
	if err != nil {
		return reasoningFailure(err)
	}
	return api.OK(c, http.StatusOK, res)
}

func (h *Handler) ExtractEntities(c echo.Context) error {
	var req extractRequest
	if err := c.Bind(&req); err != nil {
		return invalidJSON()
	}
	ent, err := h.svc.ExtractEntities(c.Request().Context(), req.ClinicianNote)
	if errors.Is(err, ErrInvalidInput) {
		return api.Fail(http.StatusBadRequest, api.CodeInvalidInput, "Missing or invalid clinician_note in request body")
	}
	if err != nil {
		return reasoningFailure(err)
	}
	return api.OK(c, http.StatusOK, ent)
}

func (h *Handler) LookupPolicy(c echo.Context) error {
	var req policyRequest
	if err := c.Bind(&req); err != nil {
		return invalidJSON()
	}
	if len(req.IssueCodes) == 0 {
		return api.Fail(http.StatusBadRequest, api.CodeInvalidInput, "issue_codes is required")
	}
	return api.OK(c, http.StatusOK, h.svc.LookupPolicy(req.IssueCodes))
}

// -- Helpers --

func decodeClaim(raw json.RawMessage) (claim.Claim, error) {
	cl, err := claim.Decode(raw)
	if err != nil {
		return claim.Claim{}, api.Fail(http.StatusBadRequest, api.CodeInvalidInput, err.Error())
	}
	return cl, nil
}

func invalidJSON() error {
	return api.Fail(http.StatusBadRequest, api.CodeInvalidInput, "Invalid JSON body")
}

func reasoningFailure(err error) error {
	if reasoning.IsTransient(err) {
		return api.Fail(http.StatusServiceUnavailable, CodeReasoningUnavailable, "Reasoning provider is temporarily unavailable").SetInternal(err)
	}
	return api.Fail(http.StatusBadGateway, CodeReasoningFailed, "Reasoning provider failed").SetInternal(err)
}
