package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kirillkom/docintake/internal/core/domain"
	"google.golang.org/genai"
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

type Client struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "gemini.new", errors.New("api key is required"))
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(
		ctx,
		c.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr(float32(0.2)),
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return "", classifyGeminiError(err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", domain.WrapError(domain.ErrModelResponseUnparseable, "gemini.complete", errors.New("empty response"))
	}
	return text, nil
}

func classifyGeminiError(err error) error {
	const op = "gemini.complete"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code, status := 0, ""
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code, status = apiErr.Code, apiErr.Status
	case errors.As(err, &apiErrPtr):
		code, status = apiErrPtr.Code, apiErrPtr.Status
	default:
		return domain.WrapError(domain.ErrModelUnavailable, op, err)
	}

	switch {
	case code == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED":
		return domain.WrapError(domain.ErrModelQuotaExceeded, op, err)
	case code >= 500 || code == http.StatusNotFound || code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.WrapError(domain.ErrModelUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
