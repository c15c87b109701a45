package videogen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reelhook/internal/fileutil"
	"reelhook/internal/jsonscan"
	"reelhook/internal/logging"
	"reelhook/internal/services"
)

const (
	tasksPath           = "/api/v3/contents/generations/tasks"
	defaultTimeout      = 600 * time.Second
	downloadTimeout     = 180 * time.Second
	attemptBodyLimit    = 220
	attemptsLimit       = 1200
	errorBodyLimit      = 500
	defaultPollInterval = 5
)

var (
	successStatuses = map[string]struct{}{"succeeded": {}, "success": {}, "completed": {}, "done": {}}
	failureStatuses = map[string]struct{}{"failed": {}, "error": {}, "canceled": {}, "cancelled": {}}
	urlKeys         = []string{"video_url", "url", "output_url", "file_url", "download_url"}
)

// Config captures video generation settings.
type Config struct {
	BaseURL             string
	APIKey              string
	Model               string
	TimeoutSeconds      int
	PollIntervalSeconds int
}

// Client talks to the video generation task API.
type Client struct {
	cfg          Config
	httpClient   *http.Client
	download     *http.Client
	logger       *slog.Logger
	pollInterval time.Duration
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for API and download calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
			c.download = client
		}
	}
}

// WithLogger attaches a logger for submit and poll diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPollInterval overrides the configured poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// NewClient constructs a video generation client.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = int(defaultTimeout / time.Second)
	}
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = defaultPollInterval
	}
	interval := time.Duration(max(1, cfg.PollIntervalSeconds)) * time.Second
	client := &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		download:     &http.Client{Timeout: downloadTimeout},
		logger:       logging.NewNop(),
		pollInterval: interval,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Request describes the clip to generate.
type Request struct {
	Prompt          string
	DurationSeconds int
	Width           int
	Height          int
}

// Submission is an accepted generation task.
type Submission struct {
	TaskID   string
	Payload  any
	Attempts []string
}

// PayloadVariants returns the request bodies Submit tries, richest first.
func (c *Client) PayloadVariants(req Request) []map[string]any {
	duration := max(1, req.DurationSeconds)
	width := max(1, req.Width)
	height := max(1, req.Height)
	size := fmt.Sprintf("%dx%d", width, height)
	content := []map[string]any{{"type": "text", "text": req.Prompt}}
	return []map[string]any{
		{"model": c.cfg.Model, "content": content, "duration": duration, "width": width, "height": height},
		{"model": c.cfg.Model, "content": content, "duration": duration, "size": size},
		{"model": c.cfg.Model, "content": content, "duration": duration},
		{"model": c.cfg.Model, "content": content},
		{"model": c.cfg.Model, "prompt": req.Prompt, "duration": duration, "resolution": size},
	}
}

// Submit creates a generation task and returns its id.
func (c *Client) Submit(ctx context.Context, req Request) (Submission, error) {
	if c.cfg.APIKey == "" {
		return Submission{}, services.Wrap(services.ErrConfiguration, "video", "submit", "api key required", nil)
	}
	var attempts []string
	for idx, payload := range c.PayloadVariants(req) {
		attempt := idx + 1
		code, body, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+tasksPath, payload)
		if err != nil {
			return Submission{}, err
		}
		if code >= http.StatusBadRequest {
			attempts = append(attempts, fmt.Sprintf("attempt=%d:http=%d:msg=%s", attempt, code, services.Truncate(string(body), attemptBodyLimit)))
			if code == http.StatusBadRequest || code == http.StatusUnprocessableEntity {
				c.logger.Debug("video submit shape rejected", logging.Int("attempt", attempt), logging.Int("http_status", code))
				continue
			}
			return Submission{}, &services.ServiceError{
				Service:    "video",
				Op:         "submit",
				StatusCode: code,
				Message:    services.Truncate(strings.TrimSpace(string(body)), errorBodyLimit),
				Attempts:   attempts,
				Marker:     services.StatusMarker(code),
			}
		}
		data, err := jsonscan.Decode(body)
		if err != nil {
			return Submission{}, &services.ServiceError{Service: "video", Op: "submit", StatusCode: code, Message: "decode response", Marker: services.ErrValidation, Err: err}
		}
		if taskID := jsonscan.FindString(data, "task_id", "id"); taskID != "" {
			return Submission{TaskID: taskID, Payload: data, Attempts: attempts}, nil
		}
		attempts = append(attempts, fmt.Sprintf("attempt=%d:http=%d:missing_task_id", attempt, code))
	}
	return Submission{}, &services.ServiceError{
		Service:  "video",
		Op:       "submit",
		Message:  "failed after payload fallbacks. " + services.Truncate(strings.Join(attempts, " | "), attemptsLimit),
		Attempts: attempts,
		Marker:   services.ErrShapeMismatch,
	}
}

// Poll fetches the task until it reaches a terminal status or the configured
// timeout elapses, and returns the terminal payload.
func (c *Client) Poll(ctx context.Context, taskID string) (any, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, services.Wrap(services.ErrValidation, "video", "poll", "task id required", nil)
	}
	endpoint := c.cfg.BaseURL + tasksPath + "/" + url.PathEscape(taskID)
	deadline := time.Now().Add(time.Duration(c.cfg.TimeoutSeconds) * time.Second)
	for {
		code, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		if code >= http.StatusBadRequest {
			return nil, &services.ServiceError{
				Service:    "video",
				Op:         "poll",
				StatusCode: code,
				Message:    services.Truncate(strings.TrimSpace(string(body)), errorBodyLimit),
				Marker:     services.StatusMarker(code),
			}
		}
		payload, err := jsonscan.Decode(body)
		if err != nil {
			return nil, &services.ServiceError{Service: "video", Op: "poll", StatusCode: code, Message: "decode response", Marker: services.ErrValidation, Err: err}
		}
		status := strings.ToLower(jsonscan.FindString(payload, "status", "state"))
		if _, ok := successStatuses[status]; ok {
			return payload, nil
		}
		if _, ok := failureStatuses[status]; ok {
			return nil, &services.ServiceError{
				Service: "video",
				Op:      "poll",
				Message: "generation failed: status=" + status,
				Marker:  services.ErrExternalTool,
			}
		}
		if time.Now().After(deadline) {
			return nil, &services.ServiceError{
				Service: "video",
				Op:      "poll",
				Message: fmt.Sprintf("generation timed out after %ds (task_id=%s, last status=%q)", c.cfg.TimeoutSeconds, taskID, status),
				Marker:  services.ErrTimeout,
			}
		}
		c.logger.Debug("video task pending", logging.String("task_id", taskID), logging.String("status", status))
		if err := sleep(ctx, c.pollInterval); err != nil {
			return nil, err
		}
	}
}

// VideoURL finds the downloadable URL in a terminal task payload.
func VideoURL(payload any) (string, error) {
	if value := jsonscan.FindString(payload, urlKeys...); value != "" {
		return value, nil
	}
	return "", &services.ServiceError{Service: "video", Op: "result", Message: "result missing downloadable URL", Marker: services.ErrValidation}
}

// Download streams rawURL to dest.
func (c *Client) Download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, "video", "download", "invalid url", err)
	}
	resp, err := c.download.Do(req)
	if err != nil {
		return &services.ServiceError{Service: "video", Op: "download", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return &services.ServiceError{Service: "video", Op: "download", StatusCode: resp.StatusCode, Marker: services.StatusMarker(resp.StatusCode)}
	}
	if err := fileutil.WriteStream(dest, resp.Body); err != nil {
		return fmt.Errorf("video download: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("video request: encode body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("video request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &services.ServiceError{
			Service: "video",
			Op:      strings.ToLower(method),
			Message: fmt.Sprintf("http error (timeout=%s)", c.httpClient.Timeout),
			Err:     err,
		}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &services.ServiceError{Service: "video", Op: "read body", Err: err}
	}
	return resp.StatusCode, body, nil
}

func sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
