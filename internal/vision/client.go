// Package vision queries an external vision-language model with an optional
// screen frame and extracts structured JSON from its free-form replies.
package vision

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// ErrUnavailable is returned when every model in the fallback list failed.
var ErrUnavailable = errors.New("vision: all models unavailable")

// Client sends one multimodal query. A nil frame makes the query text-only.
// The models list is tried in order; empty falls back to the client default.
type Client interface {
	Query(ctx context.Context, frame []byte, prompt string, models ...string) (string, error)
}

// GeminiClient implements Client against the Gemini API.
type GeminiClient struct {
	client      *genai.Client
	models      []string
	temperature float32
	log         *zap.Logger
}

// NewGeminiClient builds a client with a default model fallback list
// (fast model first, then the capable one) and a low decoding temperature
// for structural outputs.
func NewGeminiClient(ctx context.Context, apiKey string, models []string, temperature float32, log *zap.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("vision: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("vision: create client: %w", err)
	}
	if len(models) == 0 {
		models = []string{"gemini-2.5-flash", "gemini-2.5-pro"}
	}
	if temperature <= 0 {
		temperature = 0.1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GeminiClient{client: client, models: models, temperature: temperature, log: log}, nil
}

// Query tries each model in order until one answers. The frame, when
// present, is attached in memory as a JPEG part; nothing touches disk on
// this path.
func (c *GeminiClient) Query(ctx context.Context, frame []byte, prompt string, models ...string) (string, error) {
	if len(models) == 0 {
		models = c.models
	}

	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if len(frame) > 0 {
		parts = append(parts, genai.NewPartFromBytes(frame, "image/jpeg"))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	temp := c.temperature
	cfg := &genai.GenerateContentConfig{Temperature: &temp}

	var lastErr error
	for _, model := range models {
		resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			c.log.Warn("model call failed, falling back",
				zap.String("model", model), zap.Error(err))
			lastErr = err
			continue
		}
		text := resp.Text()
		if text == "" {
			lastErr = fmt.Errorf("model %s returned empty response", model)
			continue
		}
		return text, nil
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
	}
	return "", ErrUnavailable
}
