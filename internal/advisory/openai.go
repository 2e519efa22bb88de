// Package advisory produces short, plain-language advice for bets by asking
// an OpenAI-compatible chat completion endpoint.
package advisory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const systemPrompt = "You advise a leadership team on active strategic bets. " +
	"Answer in at most three short sentences. Name the single biggest risk and one next step."

var ErrNoChoices = errors.New("advisory: completion returned no choices")

type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	PerMinute float64
}

// OpenAI satisfies app.Generator. Calls are paced by a token bucket so a
// busy board cannot exhaust the account's quota.
type OpenAI struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewOpenAI(cfg Config, logger *slog.Logger) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("advisory: api key is required")
	}
	if cfg.PerMinute <= 0 {
		return nil, fmt.Errorf("advisory: per-minute rate must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	interval := time.Duration(float64(time.Minute) / cfg.PerMinute)
	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		logger:  logger,
	}, nil
}

func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("advisory: wait for rate limit: %w", err)
	}
	started := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		o.logger.Warn("advisory completion failed", "model", o.model, "error", err)
		return "", fmt.Errorf("advisory: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	o.logger.Debug("advisory completion",
		"model", o.model,
		"duration_ms", time.Since(started).Milliseconds(),
		"tokens", resp.Usage.TotalTokens,
	)
	return resp.Choices[0].Message.Content, nil
}
