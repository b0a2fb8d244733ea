// internal/ai/ollama.go
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider abstracts the LLM backend used for structured completions.
type Provider interface {
	// ModelName returns the identifier of the model being used.
	ModelName() string

	// Complete sends a system and user prompt and returns the raw response text.
	// A non-nil schema asks the model to answer with JSON matching it.
	Complete(ctx context.Context, systemPrompt, userPrompt string, schema any) (string, error)
}

// OllamaConfig holds the configuration for an Ollama endpoint.
type OllamaConfig struct {
	BaseURL string // e.g. http://localhost:11434 or https://ollama.com
	Model   string // e.g. qwen3
	Token   string // Bearer token for Ollama Cloud (empty = no auth)
	Timeout time.Duration
}

// Ollama implements Provider using the Ollama REST API.
type Ollama struct {
	cfg        OllamaConfig
	httpClient *http.Client
}

var _ Provider = (*Ollama)(nil)

// NewOllama creates a new Ollama-backed provider.
func NewOllama(cfg OllamaConfig) *Ollama {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Ollama{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (o *Ollama) ModelName() string {
	return o.cfg.Model
}

func (o *Ollama) Complete(ctx context.Context, systemPrompt, userPrompt string, schema any) (string, error) {
	payload := map[string]any{
		"model": o.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"stream": false,
		"options": map[string]any{
			"temperature": 0,
		},
	}
	if schema != nil {
		payload["format"] = schema
	}

	body, err := o.post(ctx, "/api/chat", payload)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}

	var resp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("ollama chat decode: %w", err)
	}
	return resp.Message.Content, nil
}

// post is a helper for POST requests to the Ollama endpoint (with optional bearer token).
func (o *Ollama) post(ctx context.Context, path string, payload any) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+path, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.Token)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
