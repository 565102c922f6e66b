package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client wraps an OpenAI-compatible chat API for the two model calls the
// engine makes: text completion (element location) and vision completion
// (intervention detection).
type Client struct {
	api         openai.Client
	model       string
	visionModel string
	timeout     time.Duration
}

// Config holds client settings, usually sourced from the environment.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	VisionModel string
	Timeout     time.Duration
}

// NewClient creates a client. BaseURL may point at any OpenAI-compatible
// endpoint.
func NewClient(cfg Config) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	visionModel := cfg.VisionModel
	if visionModel == "" {
		visionModel = cfg.Model
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		api:         openai.NewClient(opts...),
		model:       cfg.Model,
		visionModel: visionModel,
		timeout:     timeout,
	}
}

// Complete sends a single user prompt and returns the raw response text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0.1),
		MaxTokens:   openai.Int(500),
	})
	if err != nil {
		return "", fmt.Errorf("llm completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteVision sends a prompt plus a base64 JPEG screenshot to the vision
// model and returns the raw response text.
func (c *Client) CompleteVision(ctx context.Context, prompt, screenshotB64 string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dataURL := fmt.Sprintf("data:image/jpeg;base64,%s", screenshotB64)
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.visionModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL,
				}),
			}),
		},
		Temperature: openai.Float(0.1),
		MaxTokens:   openai.Int(500),
	})
	if err != nil {
		return "", fmt.Errorf("llm vision completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
