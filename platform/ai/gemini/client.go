// Package gemini wraps the Gemini API for single-shot JSON generations.
// This is part of the platform layer and contains no business logic.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Config for the Gemini client.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
}

// Client generates JSON completions for a prompt.
type Client struct {
	client *genai.Client
	config Config
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{client: client, config: cfg}, nil
}

func (c *Client) Name() string {
	return c.config.Model
}

// GenerateJSON sends the system instruction and prompt and returns the raw
// JSON text of the first candidate.
func (c *Client) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("gemini client not configured")
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr(c.config.Temperature),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("gemini returned an empty response")
	}
	return stripFences(text), nil
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
