package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/claimsense/claimsense/internal/domain/claim"
	"github.com/claimsense/claimsense/internal/domain/validation"
)

// RegisterMCP exposes the coding and claim tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerMapCodesTool(srv)
	s.registerValidateTool(srv)
	s.registerBuildTool(srv)
	s.registerSubmitTool(srv)
	s.registerLookupPolicyTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var claimProperty = map[string]any{"type": "object", "description": "Claim with patient, provider, service_date, place_of_service, diagnosis_codes and procedures"}

// addTool decodes the arguments into a fresh Req, runs fn and returns its
// result as JSON text. Decode and endpoint failures become tool errors.
func addTool[Req any](srv *mcp.Server, tool *mcp.Tool, fn func(context.Context, *Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r Req
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		resp, err := fn(ctx, &r)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

// --- map_codes ---

func (s *Service) registerMapCodesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "map_codes",
		Description: "Map a procedure name and diagnosis text (or extracted entities) to CPT and ICD-10 codes.",
		InputSchema: inputSchema(map[string]any{
			"procedure_name": map[string]any{"type": "string", "description": "Procedure performed"},
			"diagnosis_text": map[string]any{"type": "string", "description": "Primary diagnosis"},
			"entities":       map[string]any{"type": "object", "description": "Entities extracted from a clinician note"},
		}, nil),
	}
	addTool(srv, tool, func(_ context.Context, r *MapRequest) (any, error) {
		if r.ProcedureName == "" && r.DiagnosisText == "" && r.Entities == nil {
			return nil, errors.New("procedure_name, diagnosis_text or entities is required")
		}
		return s.MapCodes(*r), nil
	})
}

// --- validate_claim ---

type claimArgs struct {
	Claim            json.RawMessage    `json:"claim"`
	ValidationResult *validation.Result `json:"validation_result,omitempty"`
}

func (s *Service) registerValidateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "validate_claim",
		Description: "Check a claim for missing fields, invalid codes, NCCI conflicts, modifier 25 and prior authorization.",
		InputSchema: inputSchema(map[string]any{"claim": claimProperty}, []string{"claim"}),
	}
	addTool(srv, tool, func(_ context.Context, r *claimArgs) (any, error) {
		c, err := claim.Decode(r.Claim)
		if err != nil {
			return nil, err
		}
		return s.Validate(c), nil
	})
}

// --- build_claim ---

func (s *Service) registerBuildTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "build_claim",
		Description: "Assemble a claim from patient details and mapped codes. Codes with confidence at or below 0.5 are dropped.",
		InputSchema: inputSchema(map[string]any{
			"patient":          map[string]any{"type": "object"},
			"provider":         map[string]any{"type": "object"},
			"service_date":     map[string]any{"type": "string", "description": "YYYY-MM-DD, defaults to today"},
			"place_of_service": map[string]any{"type": "string", "description": "Defaults to 11"},
			"mapped_codes":     map[string]any{"type": "object", "description": "cpt_codes and icd_codes from map_codes"},
			"charges":          map[string]any{"type": "object", "description": "Charge overrides keyed by CPT code"},
		}, []string{"mapped_codes"}),
	}
	addTool(srv, tool, func(_ context.Context, r *BuildRequest) (any, error) {
		return s.BuildClaim(*r), nil
	})
}

// --- submit_claim ---

func (s *Service) registerSubmitTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "submit_claim",
		Description: "Submit a claim for adjudication. The claim is validated first unless a validation_result is given.",
		InputSchema: inputSchema(map[string]any{
			"claim":             claimProperty,
			"validation_result": map[string]any{"type": "object"},
		}, []string{"claim"}),
	}
	addTool(srv, tool, func(_ context.Context, r *claimArgs) (any, error) {
		c, err := claim.Decode(r.Claim)
		if err != nil {
			return nil, err
		}
		return s.SubmitClaim(c, r.ValidationResult), nil
	})
}

// --- lookup_policy ---

type policyArgs struct {
	IssueCodes []string `json:"issue_codes"`
}

func (s *Service) registerLookupPolicyTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lookup_policy",
		Description: "Return the payer policy citations behind validation issue codes.",
		InputSchema: inputSchema(map[string]any{
			"issue_codes": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		}, []string{"issue_codes"}),
	}
	addTool(srv, tool, func(_ context.Context, r *policyArgs) (any, error) {
		if len(r.IssueCodes) == 0 {
			return nil, errors.New("issue_codes is required")
		}
		return s.LookupPolicy(r.IssueCodes), nil
	})
}
