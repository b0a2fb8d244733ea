// internal/geo/llm.go
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github-geo-collector/internal/ai"
	"github-geo-collector/internal/model"
)

const systemPrompt = `You standardize free-text locations taken from GitHub user profiles.
Return the most likely city, first-level region and the ISO 3166-1 alpha-3 country code.
Use "UNK" as country_code when the text is not a real place (jokes, "Earth", "remote", URLs) or is too ambiguous.
confidence is a number between 0 and 1. rationale is one short sentence.
Answer only with JSON.`

var llmSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"city":         map[string]any{"type": "string"},
		"region":       map[string]any{"type": "string"},
		"country_code": map[string]any{"type": "string"},
		"confidence":   map[string]any{"type": "number"},
		"rationale":    map[string]any{"type": "string"},
	},
	"required": []string{"city", "region", "country_code", "confidence", "rationale"},
}

type llmAnswer struct {
	City        string  `json:"city"`
	Region      string  `json:"region"`
	CountryCode string  `json:"country_code"`
	Confidence  float64 `json:"confidence"`
	Rationale   string  `json:"rationale"`
}

// LLMResolver asks a language model to standardize the location.
type LLMResolver struct {
	provider ai.Provider
}

var _ Resolver = (*LLMResolver)(nil)

func NewLLMResolver(provider ai.Provider) *LLMResolver {
	return &LLMResolver{provider: provider}
}

func (r *LLMResolver) Name() string {
	return "llm:" + r.provider.ModelName()
}

func (r *LLMResolver) Resolve(ctx context.Context, input string) (model.GeoRecord, error) {
	out, err := r.provider.Complete(ctx, systemPrompt, fmt.Sprintf("Location: %q", strings.TrimSpace(input)), llmSchema)
	if err != nil {
		return model.GeoRecord{}, err
	}

	answer, err := parseAnswer(out)
	if err != nil {
		return model.GeoRecord{}, err
	}
	return model.GeoRecord{
		Input:       input,
		City:        strings.TrimSpace(answer.City),
		Region:      strings.TrimSpace(answer.Region),
		CountryCode: NormalizeCountry(answer.CountryCode),
		Confidence:  clamp01(answer.Confidence),
		Rationale:   strings.TrimSpace(answer.Rationale),
		Source:      r.Name(),
	}, nil
}

// parseAnswer extracts the JSON object from a reply that may carry code fences or reasoning text.
func parseAnswer(out string) (llmAnswer, error) {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end < start {
		return llmAnswer{}, fmt.Errorf("no JSON object in model output: %.80q", out)
	}
	var a llmAnswer
	if err := json.Unmarshal([]byte(out[start:end+1]), &a); err != nil {
		return llmAnswer{}, fmt.Errorf("decode model output: %w", err)
	}
	return a, nil
}
