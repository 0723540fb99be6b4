// Package gemini adapts the Google generative-language API to chat.Generator.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	maxOutputTokens = 500
	temperature     = 0.7
)

// blocked are the harm categories refused at medium probability and above.
var blocked = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

type Config struct {
	APIKey   string
	Model    string
	Endpoint string // optional override; any path is dropped
}

type Client struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func New(ctx context.Context, cfg Config, extra ...option.ClientOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required for gemini")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for gemini")
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(baseEndpoint(cfg.Endpoint)))
	}
	opts = append(opts, extra...)

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	configure(model)

	return &Client{client: client, model: model}, nil
}

// baseEndpoint keeps scheme and host of a full generateContent URL; the
// client appends its own version and method path. Bare hosts pass through.
func baseEndpoint(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}

func configure(model *genai.GenerativeModel) {
	model.SetMaxOutputTokens(maxOutputTokens)
	model.SetTemperature(temperature)
	model.SafetySettings = make([]*genai.SafetySetting, 0, len(blocked))
	for _, c := range blocked {
		model.SafetySettings = append(model.SafetySettings, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockMediumAndAbove,
		})
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Generate returns the first text part of the first candidate. A reply
// withheld by the safety filter comes back as empty text, not an error.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		var be *genai.BlockedError
		if errors.As(err, &be) {
			return "", nil
		}
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return FirstText(resp), nil
}

func FirstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil || len(cand.Content.Parts) == 0 {
		return ""
	}
	if t, ok := cand.Content.Parts[0].(genai.Text); ok {
		return string(t)
	}
	return ""
}
