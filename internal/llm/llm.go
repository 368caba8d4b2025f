package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/essayexam/internal/llm/prompts"
	"github.com/pavelanni/essayexam/internal/model"
)

const (
	// DefaultBaseURL is Gemini's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	// DefaultModel is the grading model used when none is configured.
	DefaultModel = "gemini-2.5-flash"

	// PlaceholderFeedback marks scores produced without a grading service.
	PlaceholderFeedback = "Ini adalah penilaian pura-pura karena kunci API tidak tersedia."

	noFeedback  = "Tidak ada umpan balik."
	temperature = 0.2
)

// gradeResponse is the JSON object the model is asked to return.
type gradeResponse struct {
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback"`
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Variant prompts.PromptVariant
	// Retries is how many times a failed call is repeated.
	Retries int
}

// Client grades answers through an OpenAI-compatible API.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
	retries int
}

// New creates a new LLM client.
func New(cfg Config) *Client {
	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = DefaultModel
	}
	variant := cfg.Variant
	if variant == "" {
		variant = prompts.PromptStandard
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: variant,
		retries: max(cfg.Retries, 0),
	}
}

// Grade scores answer against q on a 0-100 scale.
func (c *Client) Grade(ctx context.Context, q model.Question, answer string) (model.Grade, error) {
	prompt, err := prompts.BuildGradePrompt(c.variant, q, answer)
	if err != nil {
		return model.Grade{}, fmt.Errorf("build grading prompt: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		grade, err := c.gradeOnce(ctx, prompt)
		if err == nil {
			return grade, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		slog.Warn("grading attempt failed", "attempt", attempt+1, "error", err)
	}
	return model.Grade{}, lastErr
}

func (c *Client) gradeOnce(ctx context.Context, prompt string) (model.Grade, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: temperature,
	})
	if err != nil {
		return model.Grade{}, fmt.Errorf("LLM grading API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.Grade{}, errors.New("LLM returned no choices for grading")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	return parseGrade(raw)
}

func parseGrade(raw string) (model.Grade, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var result gradeResponse
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return model.Grade{}, fmt.Errorf("parse grading response: %w (raw: %s)", err, raw)
	}
	if result.Score == nil {
		return model.Grade{}, fmt.Errorf("grading response has no score (raw: %s)", raw)
	}
	feedback := strings.TrimSpace(result.Feedback)
	if feedback == "" {
		feedback = noFeedback
	}
	return model.Grade{Score: clamp(*result.Score), Feedback: feedback}, nil
}

func clamp(v float64) float64 {
	return min(max(v, 0), 100)
}

// Ping checks that the API is reachable with the configured key.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Placeholder grades without a service: every answer gets a random score
// between 60 and 100 and PlaceholderFeedback.
type Placeholder struct{}

// Grade returns a placeholder score.
func (Placeholder) Grade(_ context.Context, _ model.Question, _ string) (model.Grade, error) {
	return model.Grade{
		Score:    float64(60 + rand.IntN(41)),
		Feedback: PlaceholderFeedback,
	}, nil
}
