package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/claimsense/claimsense/internal/domain/validation"
)

var testMCPImpl = &mcp.Implementation{Name: "reasoning-test", Version: "0.1.0"}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func unusedTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var res mcp.CallToolResult
	res.SetError(errors.New("not implemented"))
	return &res, nil
}

func mcpTestProvider(t *testing.T, extract, fixes mcp.ToolHandler) *MCPProvider {
	t.Helper()
	if extract == nil {
		extract = unusedTool
	}
	if fixes == nil {
		fixes = unusedTool
	}
	srv := mcp.NewServer(testMCPImpl, nil)
	schema := map[string]any{"type": "object"}
	srv.AddTool(&mcp.Tool{Name: ToolExtractEntities, Description: "extract", InputSchema: schema}, extract)
	srv.AddTool(&mcp.Tool{Name: ToolSuggestFixes, Description: "fix", InputSchema: schema}, fixes)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(testMCPImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	p := NewMCPProvider(session)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestMCP_ExtractEntities(t *testing.T) {
	var gotNote string
	extract := func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Note string `json:"clinician_note"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}
		gotNote = args.Note
		return textResult(`{"diagnosis_text":"actinic keratosis","lesion_count":2}`), nil
	}
	p := mcpTestProvider(t, extract, nil)

	ent, err := p.ExtractEntities(context.Background(), "AK x2 on scalp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotNote != "AK x2 on scalp" {
		t.Errorf("expected note forwarded, got %q", gotNote)
	}
	if ent.DiagnosisText != "actinic keratosis" || ent.LesionCount != 2 {
		t.Errorf("unexpected entities %+v", ent)
	}
}

func TestMCP_ToolErrorIsPermanent(t *testing.T) {
	extract := func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var res mcp.CallToolResult
		res.SetError(errors.New("model refused"))
		return &res, nil
	}
	p := mcpTestProvider(t, extract, nil)

	_, err := p.ExtractEntities(context.Background(), "note")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestMCP_SuggestFixes(t *testing.T) {
	fixes := func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args FixRequest
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}
		if len(args.Issues) != 1 {
			var res mcp.CallToolResult
			res.SetError(errors.New("expected one issue"))
			return &res, nil
		}
		return textResult(`[{"issue_id":"` + args.Issues[0].ID + `","description":"add modifier","patches":[]}]`), nil
	}
	p := mcpTestProvider(t, nil, fixes)

	got, err := p.SuggestFixes(context.Background(), FixRequest{
		Issues: []validation.Issue{{ID: "ISS-7", Code: validation.CodeMissingModifier25}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].IssueID != "ISS-7" {
		t.Errorf("unexpected fixes %+v", got)
	}
}

func TestMCP_ClosedSessionIsTransient(t *testing.T) {
	p := mcpTestProvider(t, nil, nil)
	p.Close()

	_, err := p.ExtractEntities(context.Background(), "note")
	if !IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}
