package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultModel   = "gemini-2.5-flash-lite"
)

var (
	ErrEmptyResponse = errors.New("no response from AI")
	ErrMalformed     = errors.New("malformed AI response")
)

type Client struct {
	client *openai.Client
	model  string
}

func New(apiKey, baseURL, model string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(baseURL, "/")
	if model == "" {
		model = DefaultModel
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// WishRequest describes the occasion a wish is written for.
type WishRequest struct {
	EventType string `json:"event_type"`
	Relation  string `json:"relation,omitempty"`
	Title     string `json:"title"`
}

func (r WishRequest) details() string {
	var b strings.Builder
	if r.Relation != "" {
		fmt.Fprintf(&b, " for my %s", r.Relation)
	}
	if r.Title != "" {
		fmt.Fprintf(&b, " regarding %q", r.Title)
	}
	return b.String()
}

func wishPrompt(r WishRequest) string {
	return fmt.Sprintf("Generate 1 short, heartfelt %s wish%s. Keep it under 2 sentences. "+
		"Return only the wish text, no quotes or extra formatting.", r.EventType, r.details())
}

func suggestPrompt(r WishRequest, n int) string {
	return fmt.Sprintf("Generate %d short, heartfelt %s wishes%s. Keep each wish under 2 sentences. "+
		"Return as a JSON array of strings. Only return the JSON array, no other text.", n, r.EventType, r.details())
}

// Wish returns a single wish sentence with surrounding whitespace and quotes removed.
func (c *Client) Wish(ctx context.Context, req WishRequest) (string, error) {
	text, err := c.complete(ctx, wishPrompt(req), 0.8, 200)
	if err != nil {
		return "", err
	}
	wish := strings.Trim(strings.TrimSpace(text), "\"“”'")
	if wish == "" {
		return "", ErrEmptyResponse
	}
	return wish, nil
}

// SuggestWishes asks for n wishes returned as a JSON array of strings.
func (c *Client) SuggestWishes(ctx context.Context, req WishRequest, n int) ([]string, error) {
	if n <= 0 {
		n = 3
	}
	text, err := c.complete(ctx, suggestPrompt(req, n), 0.8, 500)
	if err != nil {
		return nil, err
	}
	return ParseWishList(text)
}

// ParseWishList extracts the first JSON array of strings from text. Models
// often wrap the array in prose or code fences.
func ParseWishList(text string) ([]string, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON array found", ErrMalformed)
	}

	var raw []string
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	wishes := make([]string, 0, len(raw))
	for _, w := range raw {
		if w = strings.TrimSpace(w); w != "" {
			wishes = append(wishes, w)
		}
	}
	if len(wishes) == 0 {
		return nil, fmt.Errorf("%w: empty array", ErrMalformed)
	}
	return wishes, nil
}

func (c *Client) complete(ctx context.Context, prompt string, temperature float32, maxTokens int) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to call AI API: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	return resp.Choices[0].Message.Content, nil
}
