package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/claimsense/claimsense/internal/domain/claim"
	"github.com/claimsense/claimsense/internal/domain/coding"
)

// Tool names an MCP reasoning server must expose.
const (
	ToolExtractEntities = "extract_entities"
	ToolSuggestFixes    = "suggest_fixes"
)

var clientImpl = &mcp.Implementation{Name: "claimsense", Version: "0.1.0"}

// MCPProvider delegates reasoning to tools on a remote MCP server.
type MCPProvider struct {
	session *mcp.ClientSession
}

func NewMCPProvider(session *mcp.ClientSession) *MCPProvider {
	return &MCPProvider{session: session}
}

// DialMCP connects to a streamable HTTP MCP endpoint. The caller owns the
// returned provider and must Close it.
func DialMCP(ctx context.Context, endpoint string) (*MCPProvider, error) {
	client := mcp.NewClient(clientImpl, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: endpoint}, nil)
	if err != nil {
		return nil, transient("connect", 0, fmt.Errorf("connect to %s: %w", endpoint, err))
	}
	return NewMCPProvider(session), nil
}

func (p *MCPProvider) Name() string { return "mcp" }

func (p *MCPProvider) Close() error {
	return p.session.Close()
}

func (p *MCPProvider) ExtractEntities(ctx context.Context, note string) (coding.Entities, error) {
	text, err := p.call(ctx, ToolExtractEntities, map[string]any{"clinician_note": note})
	if err != nil {
		return coding.Entities{}, err
	}
	var ent coding.Entities
	if err := json.Unmarshal([]byte(text), &ent); err != nil {
		return coding.Entities{}, permanent(ToolExtractEntities, 0, fmt.Errorf("decode entities: %w", err))
	}
	return ent, nil
}

func (p *MCPProvider) SuggestFixes(ctx context.Context, req FixRequest) ([]claim.Fix, error) {
	text, err := p.call(ctx, ToolSuggestFixes, req)
	if err != nil {
		return nil, err
	}
	fixes, err := decodeFixes([]byte(text))
	if err != nil {
		return nil, permanent(ToolSuggestFixes, 0, err)
	}
	return fixes, nil
}

func (p *MCPProvider) call(ctx context.Context, tool string, args any) (string, error) {
	result, err := p.session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return "", transient(tool, 0, err)
	}
	if result.IsError {
		toolErr := result.GetError()
		if toolErr == nil {
			toolErr = errors.New(textOf(result))
		}
		return "", permanent(tool, 0, toolErr)
	}
	text := textOf(result)
	if text == "" {
		return "", permanent(tool, 0, errors.New("empty tool result"))
	}
	return text, nil
}

func textOf(result *mcp.CallToolResult) string {
	var b strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
