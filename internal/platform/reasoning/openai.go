package reasoning

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/claimsense/claimsense/internal/domain/claim"
	"github.com/claimsense/claimsense/internal/domain/coding"
)

var (
	//go:embed prompts/system.md
	systemPrompt string
	//go:embed prompts/extract.md
	extractPrompt string
	//go:embed prompts/fix.md
	fixPrompt string
)

// OpenAIConfig configures a chat-completions backend. RPS paces outbound
// calls; zero disables pacing.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	RPS     float64
	Timeout time.Duration
}

// OpenAIProvider talks to any OpenAI compatible chat-completions endpoint.
type OpenAIProvider struct {
	cfg     OpenAIConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewOpenAI(cfg OpenAIConfig, logger zerolog.Logger) *OpenAIProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	return &OpenAIProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger.With().Str("component", "reasoning").Str("provider", "openai").Logger(),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	Temperature    float32        `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) ExtractEntities(ctx context.Context, note string) (coding.Entities, error) {
	const op = "extract_entities"
	user := extractPrompt + "\n\n## Clinician Note to Process:\n" + note + "\n\nExtract the entities as JSON:"
	content, err := p.complete(ctx, op, user)
	if err != nil {
		return coding.Entities{}, err
	}
	var ent coding.Entities
	if err := json.Unmarshal([]byte(content), &ent); err != nil {
		return coding.Entities{}, permanent(op, 0, fmt.Errorf("decode entities: %w", err))
	}
	return ent, nil
}

func (p *OpenAIProvider) SuggestFixes(ctx context.Context, req FixRequest) ([]claim.Fix, error) {
	const op = "suggest_fixes"
	payload, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, permanent(op, 0, fmt.Errorf("encode context: %w", err))
	}
	user := fixPrompt + "\n\n## Context:\n" + string(payload) +
		"\n\nReturn a JSON object with a \"fixes\" property containing one fix per validation issue."
	content, err := p.complete(ctx, op, user)
	if err != nil {
		return nil, err
	}
	fixes, err := decodeFixes([]byte(content))
	if err != nil {
		return nil, permanent(op, 0, err)
	}
	return fixes, nil
}

func (p *OpenAIProvider) complete(ctx context.Context, op, user string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", transient(op, 0, err)
	}

	body, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
		Temperature:    0.1,
	})
	if err != nil {
		return "", permanent(op, 0, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", permanent(op, 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", transient(op, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		p.logger.Warn().
			Str("op", op).
			Int("status", resp.StatusCode).
			Dur("duration", time.Since(start)).
			Msg("completion request failed")
		err := fmt.Errorf("%s", strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", transient(op, resp.StatusCode, err)
		}
		return "", permanent(op, resp.StatusCode, err)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", permanent(op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", permanent(op, resp.StatusCode, errors.New("empty completion"))
	}

	p.logger.Debug().
		Str("op", op).
		Dur("duration", time.Since(start)).
		Int("tokens", out.Usage.TotalTokens).
		Str("finish_reason", out.Choices[0].FinishReason).
		Msg("completion received")
	return out.Choices[0].Message.Content, nil
}

// decodeFixes accepts {"fixes": [...]}, a bare array, or a single fix object.
func decodeFixes(data []byte) ([]claim.Fix, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var fixes []claim.Fix
		if err := json.Unmarshal(data, &fixes); err != nil {
			return nil, fmt.Errorf("decode fixes: %w", err)
		}
		return fixes, nil
	}

	var wrapped struct {
		Fixes []claim.Fix `json:"fixes"`
		claim.Fix
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode fixes: %w", err)
	}
	if wrapped.Fixes != nil {
		return wrapped.Fixes, nil
	}
	if wrapped.IssueID != "" {
		return []claim.Fix{wrapped.Fix}, nil
	}
	return []claim.Fix{}, nil
}
