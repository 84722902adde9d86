package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"gastos/internal/core"
)

const (
	anthropicAPI           = "https://api.anthropic.com/v1/messages"
	DefaultAnthropicModel  = "claude-sonnet-4-20250514"
	anthropicVersionHeader = "2023-06-01"
)

// Anthropic is a Capability backed by the Anthropic Messages API.
type Anthropic struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

var _ Capability = (*Anthropic)(nil)

func NewAnthropic(apiKey, model string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not set")
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &Anthropic{apiKey: apiKey, model: model, endpoint: anthropicAPI, client: http.DefaultClient}, nil
}

type apiRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	System      string       `json:"system,omitempty"`
	Temperature float64      `json:"temperature"`
	Messages    []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *Anthropic) Infer(ctx context.Context, text string, ref core.Date) (Inference, error) {
	raw, err := a.callAPI(ctx, buildPrompt(text, ref))
	if err != nil {
		return Inference{}, err
	}
	return parseInference(raw)
}

func (a *Anthropic) callAPI(ctx context.Context, prompt string) (string, error) {
	jsonBody, err := json.Marshal(apiRequest{
		Model:       a.model,
		MaxTokens:   256,
		System:      systemPrompt,
		Temperature: 0.1,
		Messages:    []apiMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersionHeader)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", core.NewInterpretationError(core.InvalidResponse, fmt.Errorf("unmarshal response: %w", err))
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("api error: %s", apiResp.Error.Message)
	}
	if len(apiResp.Content) == 0 {
		return "", core.NewInterpretationError(core.InvalidResponse, errors.New("empty response"))
	}
	return apiResp.Content[0].Text, nil
}
