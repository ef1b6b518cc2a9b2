package ranking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/angelmondragon/catermatch-backend/pkg/config"
)

// ErrGeneratorDisabled is returned by the disabled generator when no model is configured.
var ErrGeneratorDisabled = errors.New("ranking model is not configured")

// Generator sends a prompt to a generative model and returns its text response.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// GeminiGenerator calls the Gemini API with a JSON response contract.
type GeminiGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
}

func NewGeminiGenerator(ctx context.Context, cfg config.GeminiConfig) (*GeminiGenerator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiGenerator{client: client, model: model, temperature: cfg.Temperature}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g == nil || g.client == nil {
		return "", errors.New("gemini generator is not initialized")
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(g.temperature),
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(),
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || strings.TrimSpace(part.Text) == "" {
				continue
			}
			builder.WriteString(part.Text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", errors.New("gemini api returned empty response")
	}
	return output, nil
}

func (g *GeminiGenerator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

// responseSchema mirrors output_schema.json in the model's own schema dialect.
func responseSchema() *genai.Schema {
	text := &genai.Schema{Type: genai.TypeString}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"rankings": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"catererId": text,
						"score":     {Type: genai.TypeNumber, Minimum: genai.Ptr(0.0), Maximum: genai.Ptr(100.0)},
						"reasons":   {Type: genai.TypeArray, Items: text},
						"concerns":  {Type: genai.TypeArray, Items: text},
					},
					Required: []string{"catererId", "score", "reasons"},
				},
			},
			"summary": text,
		},
		Required: []string{"rankings", "summary"},
	}
}

// DisabledGenerator stands in when no model is configured.
type DisabledGenerator struct{}

func (DisabledGenerator) Generate(context.Context, string) (string, error) {
	return "", ErrGeneratorDisabled
}

func (DisabledGenerator) Model() string { return "" }
