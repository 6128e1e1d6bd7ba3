package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	baseURL    string
	model      string
	jsonMode   bool
	httpClient *http.Client
}

// New returns a client for a local Ollama server. Responses are requested in
// JSON mode since every prompt asks for a JSON object.
func New(baseURL, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		jsonMode:   true,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
	}
	if c.jsonMode {
		reqBody["format"] = "json"
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", classifyOllamaError("ollama.complete", err)
	}
	return strings.TrimSpace(response.Response), nil
}
