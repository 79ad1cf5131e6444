// Package taskapi talks to an asynchronous generation API that accepts a
// task and reports its state through a record endpoint.
package taskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genorch/internal/domain"
	"genorch/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("taskapi: api key is required")

// Options configures the task API client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client implements domain.Provider over HTTP.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

type createRequest struct {
	Model string         `json:"model"`
	Input map[string]any `json:"input"`
}

type envelope struct {
	Code    json.RawMessage `json:"code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type createData struct {
	TaskID      string `json:"taskId"`
	TaskIDSnake string `json:"task_id"`
}

var _ domain.Provider = (*Client)(nil)

// NewClient constructs a client with defaults for anything left empty.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.kie.ai/api/v1"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("taskapi: invalid base url: %w", err)
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// CreateTask submits a generation task and returns the provider task id.
func (c *Client) CreateTask(ctx context.Context, modelID string, input map[string]any) (string, error) {
	if !c.HasCredentials() {
		return "", &domain.ProviderError{Kind: domain.ProviderRejected, Message: "api key is required", Err: ErrMissingAPIKey}
	}
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return "", &domain.ProviderError{Kind: domain.ProviderRejected, Message: "model is required"}
	}
	if input == nil {
		input = map[string]any{}
	}
	body, err := json.Marshal(createRequest{Model: modelID, Input: input})
	if err != nil {
		return "", &domain.ProviderError{Kind: domain.ProviderRejected, Message: "encode request", Err: err}
	}
	env, err := c.do(ctx, http.MethodPost, c.baseURL+"/jobs/createTask", body)
	if err != nil {
		return "", err
	}
	var data createData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", &domain.ProviderError{Kind: domain.ProviderUnavailable, Message: "decode task id", Err: err}
		}
	}
	taskID := strings.TrimSpace(data.TaskID)
	if taskID == "" {
		taskID = strings.TrimSpace(data.TaskIDSnake)
	}
	if taskID == "" {
		return "", &domain.ProviderError{Kind: domain.ProviderUnavailable, Message: "response carried no task id"}
	}
	c.logger.Debug().
		Str("model", modelID).
		Str("task_id", taskID).
		Msg("taskapi: task created")
	return taskID, nil
}

// PollTask fetches the current record of a task. The raw document is
// returned for normalization.
func (c *Client) PollTask(ctx context.Context, taskID string) (json.RawMessage, error) {
	if !c.HasCredentials() {
		return nil, &domain.ProviderError{Kind: domain.ProviderRejected, Message: "api key is required", Err: ErrMissingAPIKey}
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, &domain.ProviderError{Kind: domain.ProviderRejected, Message: "task id is required"}
	}
	endpoint := c.baseURL + "/jobs/recordInfo?" + url.Values{"taskId": []string{taskID}}.Encode()
	env, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, &domain.ProviderError{Kind: domain.ProviderUnavailable, Message: "empty task record"}
	}
	return env.Data, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &domain.ProviderError{Kind: domain.ProviderRejected, Message: "build request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &domain.ProviderError{Kind: domain.ProviderUnavailable, Message: "http request", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &domain.ProviderError{Kind: domain.ProviderUnavailable, Status: resp.StatusCode, Message: "read response", Err: err}
	}
	c.logger.Debug().
		Str("method", method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("taskapi: call")

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 300 {
		perr := &domain.ProviderError{Kind: kindForStatus(resp.StatusCode), Status: resp.StatusCode}
		if decodeErr == nil && env.text() != "" {
			perr.Message = env.text()
			perr.Code = env.code()
		} else {
			perr.Message = strings.TrimSpace(string(raw))
		}
		return nil, perr
	}
	if decodeErr != nil {
		return nil, &domain.ProviderError{Kind: domain.ProviderUnavailable, Status: resp.StatusCode, Message: "decode response", Err: decodeErr}
	}
	// The API reports failures inside a 200 envelope as well.
	if code := env.code(); code != "" && code != "200" && code != "0" {
		perr := &domain.ProviderError{Kind: domain.ProviderRejected, Status: resp.StatusCode, Code: code, Message: env.text()}
		if n, err := strconv.Atoi(code); err == nil {
			perr.Status, perr.Kind = n, kindForStatus(n)
		}
		return nil, perr
	}
	return &env, nil
}

func (e envelope) code() string {
	raw := strings.TrimSpace(string(e.Code))
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Code, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return raw
}

func (e envelope) text() string {
	if msg := strings.TrimSpace(e.Msg); msg != "" {
		return msg
	}
	return strings.TrimSpace(e.Message)
}

func kindForStatus(status int) domain.ProviderErrorKind {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return domain.ProviderUnavailable
	case status >= 400:
		return domain.ProviderRejected
	default:
		return domain.ProviderUnavailable
	}
}
