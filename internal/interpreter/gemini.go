package interpreter

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"gastos/internal/core"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini is a Capability backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

var _ Capability = (*Gemini)(nil)

// NewGemini creates the client. An empty apiKey lets the SDK read
// GOOGLE_API_KEY / GEMINI_API_KEY from the environment.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Infer(ctx context.Context, text string, ref core.Date) (Inference, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: systemPrompt + "\n\n" + buildPrompt(text, ref)},
			},
		},
	}
	temperature := float32(0.1)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: 256,
	})
	if err != nil {
		return Inference{}, fmt.Errorf("generate content: %w", err)
	}
	raw := resp.Text()
	if raw == "" {
		return Inference{}, core.NewInterpretationError(core.InvalidResponse, fmt.Errorf("empty response from model"))
	}
	return parseInference(raw)
}
