package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kirillkom/docintake/internal/core/domain"
	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Client talks to any OpenAI compatible chat completions endpoint.
type Client struct {
	client sdk.Client
	model  string
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "openai.new", errors.New("api key is required"))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{client: sdk.NewClient(opts...), model: model}, nil
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, sdk.ChatCompletionNewParams{
		Model: c.model,
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage("You extract structured information from documents and reply with a single JSON object."),
			sdk.UserMessage(prompt),
		},
		Temperature: sdk.Float(0.2),
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.WrapError(domain.ErrModelResponseUnparseable, "openai.complete", errors.New("no choices in response"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classifyOpenAIError(err error) error {
	const op = "openai.complete"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return domain.WrapError(domain.ErrModelUnavailable, op, err)
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return domain.WrapError(domain.ErrModelQuotaExceeded, op, err)
	case apiErr.StatusCode >= 500, apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusNotFound:
		return domain.WrapError(domain.ErrModelUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
