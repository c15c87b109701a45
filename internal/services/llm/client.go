package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelhook/internal/jsonscan"
	"reelhook/internal/services"
)

const (
	completionsPath    = "/api/v3/chat/completions"
	defaultHTTPTimeout = 120 * time.Second
	errorBodyLimit     = 500
)

// Config captures the runtime settings required to talk to the LLM.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// Client wraps an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs an LLM client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			Model:          strings.TrimSpace(cfg.Model),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Completion is the text extracted from a chat completion plus the decoded
// response payload it came from.
type Completion struct {
	Text    string
	Payload any
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generate issues one chat completion with the given prompts and temperature.
// Non-2xx responses are returned as *services.ServiceError without retrying.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (Completion, error) {
	if c.cfg.APIKey == "" {
		return Completion{}, services.Wrap(services.ErrConfiguration, "llm", "generate", "api key required", nil)
	}
	if strings.TrimSpace(userPrompt) == "" {
		return Completion{}, services.Wrap(services.ErrValidation, "llm", "generate", "user prompt required", nil)
	}
	encoded, err := json.Marshal(chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("llm request: encode body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+completionsPath, bytes.NewReader(encoded))
	if err != nil {
		return Completion{}, fmt.Errorf("llm request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Completion{}, &services.ServiceError{
			Service: "llm",
			Op:      "generate",
			Message: fmt.Sprintf("http error (timeout=%s)", c.httpClient.Timeout),
			Err:     err,
		}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, &services.ServiceError{Service: "llm", Op: "generate", Message: "read body", Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return Completion{}, &services.ServiceError{
			Service:    "llm",
			Op:         "generate",
			StatusCode: resp.StatusCode,
			Message:    services.Truncate(strings.TrimSpace(string(body)), errorBodyLimit),
			Marker:     services.StatusMarker(resp.StatusCode),
		}
	}

	payload, err := jsonscan.DecodeObject(body)
	if err != nil {
		return Completion{}, &services.ServiceError{
			Service: "llm",
			Op:      "generate",
			Message: "decode response (payload snippet: " + jsonscan.Snippet(string(body), 160) + ")",
			Marker:  services.ErrValidation,
			Err:     err,
		}
	}
	return Completion{Text: ExtractText(payload), Payload: payload}, nil
}
