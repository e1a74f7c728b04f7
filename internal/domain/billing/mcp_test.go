package billing

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/claimsense/claimsense/internal/domain/validation"
)

func mcpTestSession(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	impl := &mcp.Implementation{Name: "billing-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	var text string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			text += tc.Text
		}
	}
	return text, res.IsError
}

func TestMCP_ListTools(t *testing.T) {
	session := mcpTestSession(t, newTestService(t, nil, nil))
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]bool{"map_codes": true, "validate_claim": true, "build_claim": true, "submit_claim": true, "lookup_policy": true}
	for _, tool := range res.Tools {
		delete(want, tool.Name)
	}
	if len(want) != 0 {
		t.Errorf("missing tools %v", want)
	}
}

func TestMCP_MapCodes(t *testing.T) {
	session := mcpTestSession(t, newTestService(t, nil, nil))
	text, isErr := callTool(t, session, "map_codes", map[string]any{"diagnosis_text": "actinic keratosis"})
	if isErr {
		t.Fatalf("unexpected tool error: %s", text)
	}
	var got struct {
		ICDCodes []struct{ Code string } `json:"icd_codes"`
	}
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.ICDCodes) == 0 || got.ICDCodes[0].Code != "L57.0" {
		t.Errorf("unexpected codes %+v", got.ICDCodes)
	}
}

func TestMCP_ValidateClaim(t *testing.T) {
	session := mcpTestSession(t, newTestService(t, nil, nil))
	text, isErr := callTool(t, session, "validate_claim", map[string]any{"claim": json.RawMessage(claimJSON)})
	if isErr {
		t.Fatalf("unexpected tool error: %s", text)
	}
	var got validation.Result
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Valid || len(got.Issues) != 1 {
		t.Errorf("expected one issue, got %+v", got)
	}
}

func TestMCP_ValidateClaim_BadClaim(t *testing.T) {
	session := mcpTestSession(t, newTestService(t, nil, nil))
	_, isErr := callTool(t, session, "validate_claim", map[string]any{"claim": map[string]any{"unknown": 1}})
	if !isErr {
		t.Error("expected tool error for an unknown claim field")
	}
}

func TestMCP_SubmitClaim(t *testing.T) {
	rec := &fakeRecorder{}
	session := mcpTestSession(t, newTestService(t, nil, rec))
	text, isErr := callTool(t, session, "submit_claim", map[string]any{"claim": json.RawMessage(claimJSON)})
	if isErr {
		t.Fatalf("unexpected tool error: %s", text)
	}
	var got PayerResponse
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Decision != DecisionDenied {
		t.Errorf("expected denied, got %+v", got)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.entries) != 1 {
		t.Errorf("expected submission audited, got %d entries", len(rec.entries))
	}
}

func TestMCP_LookupPolicy_RequiresCodes(t *testing.T) {
	session := mcpTestSession(t, newTestService(t, nil, nil))
	if _, isErr := callTool(t, session, "lookup_policy", map[string]any{}); !isErr {
		t.Error("expected tool error without issue codes")
	}
}
