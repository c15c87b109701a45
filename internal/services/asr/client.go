package asr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"reelhook/internal/jsonscan"
	"reelhook/internal/logging"
	"reelhook/internal/services"
)

const (
	flashPath  = "/api/v3/auc/bigmodel/recognize/flash"
	submitPath = "/api/v3/auc/bigmodel/submit"
	queryPath  = "/api/v3/auc/bigmodel/query"

	statusSuccess    = "20000000"
	statusProcessing = "20000001"
	statusSilence    = "20000003"

	defaultTimeout      = 120 * time.Second
	defaultPollInterval = time.Second
	minQueryDeadline    = 5 * time.Second
	traceLimit          = 1400
	errorBodyLimit      = 500
)

// FallbackResourceIDs are tried after the configured resource id.
var FallbackResourceIDs = []string{"volc.bigasr.auc_turbo", "volc.seedasr.auc", "volc.bigasr.auc"}

// Config captures credentials and endpoint settings for the ASR service.
type Config struct {
	BaseURL           string
	AppID             string
	AccessToken       string
	ResourceID        string
	BoostingTableName string
	TimeoutSeconds    int
}

// Client talks to the ASR flash and submit/query endpoints.
type Client struct {
	cfg          Config
	httpClient   *http.Client
	logger       *slog.Logger
	pollInterval time.Duration
	minDeadline  time.Duration
	newRequestID func() string
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

// WithLogger attaches a logger for per-attempt diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPollInterval overrides the 1s pause between standard-path queries.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// NewClient constructs an ASR client.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.AppID = strings.TrimSpace(cfg.AppID)
	cfg.AccessToken = strings.TrimSpace(cfg.AccessToken)
	cfg.ResourceID = strings.TrimSpace(cfg.ResourceID)
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logging.NewNop(),
		pollInterval: defaultPollInterval,
		minDeadline:  minQueryDeadline,
		newRequestID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Result is a successful recognition response.
type Result struct {
	ResourceID string
	Payload    *jsonscan.Fields
}

// CandidateResourceIDs returns the configured resource id followed by the
// fallbacks, without duplicates.
func (c *Client) CandidateResourceIDs() []string {
	candidates := make([]string, 0, len(FallbackResourceIDs)+1)
	if c.cfg.ResourceID != "" {
		candidates = append(candidates, c.cfg.ResourceID)
	}
	for _, id := range FallbackResourceIDs {
		if !slices.Contains(candidates, id) {
			candidates = append(candidates, id)
		}
	}
	return candidates
}

// Recognize transcribes the audio file at audioPath.
func (c *Client) Recognize(ctx context.Context, audioPath string) (Result, error) {
	if c.cfg.AppID == "" || c.cfg.AccessToken == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "asr", "recognize", "appid and access_token are required", nil)
	}
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrNotFound, "asr", "recognize", "read audio", err)
	}
	encoded := base64.StdEncoding.EncodeToString(audio)
	candidates := c.CandidateResourceIDs()
	var state attemptLog

	if result, ok, err := c.recognizeFlash(ctx, candidates, encoded, &state); err != nil || ok {
		return result, err
	}
	if result, ok, err := c.recognizeStandard(ctx, candidates, encoded, audioFormat(audioPath), &state); err != nil || ok {
		return result, err
	}

	marker := services.ErrPermission
	if state.timedOut {
		marker = services.ErrTimeout
	}
	return Result{}, &services.ServiceError{
		Service: "asr",
		Op:      "recognize",
		Message: fmt.Sprintf(
			"resource is not granted for current credentials. Tried resource_id(s): %s. Details: %s. "+
				"Use an ASR app/token with a granted resource id",
			strings.Join(candidates, ","),
			services.Truncate(strings.Join(state.trace, " | "), traceLimit),
		),
		Attempts: state.trace,
		Marker:   marker,
	}
}

func (c *Client) recognizeFlash(ctx context.Context, candidates []string, audio string, state *attemptLog) (Result, bool, error) {
	for _, resourceID := range candidates {
		body := requestBody(c.cfg, map[string]any{"data": audio})
		resp, err := c.post(ctx, flashPath, resourceID, c.newRequestID(), body)
		if err != nil {
			return Result{}, false, err
		}
		if resp.code >= http.StatusBadRequest {
			c.record(state, "flash", resourceID, resp)
			if resp.permissionDenied() {
				continue
			}
			return Result{}, false, resp.fatal("flash", "request failed")
		}
		if status := resp.statusCode(); status != "" && status != statusSuccess {
			c.record(state, "flash", resourceID, resp)
			if isPermissionMessage(resp.statusMessage()) {
				continue
			}
			return Result{}, false, resp.fatal("flash", "business error "+status+" "+resp.statusMessage())
		}
		if resp.payload == nil {
			return Result{}, false, resp.fatal("flash", "response is not a JSON object")
		}
		if code, ok := jsonscan.Path(resp.payload, "header", "code"); ok && code != nil {
			if value := jsonscan.Scalar(code); value != statusSuccess {
				message := jsonscan.Scalar(headerField(resp.payload, "message"))
				if isPermissionMessage(message) {
					c.record(state, "flash", resourceID, resp)
					continue
				}
				return Result{}, false, resp.fatal("flash", "business error "+value+" "+message)
			}
		}
		return Result{ResourceID: resourceID, Payload: resp.payload}, true, nil
	}
	return Result{}, false, nil
}

func (c *Client) recognizeStandard(ctx context.Context, candidates []string, audio, format string, state *attemptLog) (Result, bool, error) {
	wait := max(c.minDeadline, time.Duration(c.cfg.TimeoutSeconds)*time.Second)
	for _, resourceID := range candidates {
		requestID := c.newRequestID()
		body := requestBody(c.cfg, map[string]any{"data": audio, "format": format})
		submit, err := c.post(ctx, submitPath, resourceID, requestID, body)
		if err != nil {
			return Result{}, false, err
		}
		if submit.code >= http.StatusBadRequest {
			c.record(state, "submit", resourceID, submit)
			if submit.permissionDenied() {
				continue
			}
			return Result{}, false, submit.fatal("submit", "request failed")
		}
		if status := submit.statusCode(); status != "" && status != statusSuccess {
			c.record(state, "submit", resourceID, submit)
			if isPermissionMessage(submit.statusMessage()) {
				continue
			}
			return Result{}, false, submit.fatal("submit", "business error "+status+" "+submit.statusMessage())
		}

		result, done, err := c.query(ctx, resourceID, requestID, time.Now().Add(wait), state)
		if err != nil || done {
			return result, done, err
		}
	}
	return Result{}, false, nil
}

// query polls until a terminal status. It returns done=false when the
// candidate should be abandoned for the next one.
func (c *Client) query(ctx context.Context, resourceID, requestID string, deadline time.Time, state *attemptLog) (Result, bool, error) {
	for time.Now().Before(deadline) {
		resp, err := c.post(ctx, queryPath, resourceID, requestID, map[string]any{})
		if err != nil {
			return Result{}, false, err
		}
		if resp.code >= http.StatusBadRequest {
			c.record(state, "query", resourceID, resp)
			if resp.permissionDenied() {
				return Result{}, false, nil
			}
			return Result{}, false, resp.fatal("query", "request failed")
		}
		status := resp.statusCode()
		switch {
		case status == statusProcessing:
			if err := sleep(ctx, c.pollInterval); err != nil {
				return Result{}, false, err
			}
			continue
		case status == "" || status == statusSuccess || status == statusSilence:
			if resp.payload == nil {
				return Result{}, false, resp.fatal("query", "response is not a JSON object")
			}
			return Result{ResourceID: resourceID, Payload: resp.payload}, true, nil
		}
		c.record(state, "query", resourceID, resp)
		if isPermissionMessage(resp.statusMessage()) {
			return Result{}, false, nil
		}
		return Result{}, false, resp.fatal("query", "business error "+status+" "+resp.statusMessage())
	}
	state.timedOut = true
	entry := fmt.Sprintf("query:%s:timeout:reqid=%s", resourceID, requestID)
	state.trace = append(state.trace, entry)
	c.logger.Warn("asr query timed out", logging.String("resource_id", resourceID), logging.String("request_id", requestID))
	return Result{}, false, nil
}

func (c *Client) post(ctx context.Context, path, resourceID, requestID string, body any) (*response, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("asr request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("asr request: new request: %w", err)
	}
	req.Header.Set("X-Api-App-Key", c.cfg.AppID)
	req.Header.Set("X-Api-Access-Key", c.cfg.AccessToken)
	req.Header.Set("X-Api-Resource-Id", resourceID)
	req.Header.Set("X-Api-Request-Id", requestID)
	req.Header.Set("X-Api-Sequence", "-1")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &services.ServiceError{
			Service: "asr",
			Op:      strings.TrimPrefix(path, "/api/v3/auc/bigmodel/"),
			Message: fmt.Sprintf("http error (timeout=%s)", c.httpClient.Timeout),
			Err:     err,
		}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &services.ServiceError{Service: "asr", Op: "read body", Err: err}
	}
	out := &response{code: resp.StatusCode, header: resp.Header, body: data}
	out.payload, _ = jsonscan.DecodeObject(data)
	return out, nil
}

func (c *Client) record(state *attemptLog, stage, resourceID string, resp *response) {
	msg := resp.header.Get("X-Api-Message")
	if msg == "" {
		msg = services.Truncate(string(resp.body), 180)
	}
	entry := fmt.Sprintf("%s:%s:http=%d:status=%s:reqid=%s:msg=%s",
		stage, resourceID, resp.code, resp.header.Get("X-Api-Status-Code"), resp.reqID(), msg)
	state.trace = append(state.trace, entry)
	c.logger.Debug("asr attempt rejected",
		logging.String("attempt_stage", stage),
		logging.String("resource_id", resourceID),
		logging.Int("http_status", resp.code),
	)
}

type attemptLog struct {
	trace    []string
	timedOut bool
}

func requestBody(cfg Config, audio map[string]any) map[string]any {
	request := map[string]any{"model_name": "bigmodel"}
	if cfg.BoostingTableName != "" {
		request["boosting_table_name"] = cfg.BoostingTableName
	}
	return map[string]any{
		"user":    map[string]any{"uid": cfg.AppID},
		"audio":   audio,
		"request": request,
	}
}

func audioFormat(path string) string {
	if ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext != "" {
		return ext
	}
	return "wav"
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
