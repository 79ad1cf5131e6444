package taskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"genorch/internal/domain"
	"genorch/internal/normalize"
)

func TestCreateTaskPayload(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/v1/jobs/createTask", http.StatusOK, map[string]any{
		"code": 200,
		"msg":  "success",
		"data": map[string]any{"taskId": "task-123"},
	})
	client := newTestClient(t, transport)

	taskID, err := client.CreateTask(context.Background(), "flux-kontext", map[string]any{"prompt": "a cat"})
	if err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}
	if taskID != "task-123" {
		t.Fatalf("taskID = %q, want task-123", taskID)
	}
	if got := transport.lastHeader.Get("Authorization"); got != "Bearer test-key" {
		t.Fatalf("Authorization = %q", got)
	}
	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["model"] != "flux-kontext" {
		t.Fatalf("model = %v", payload["model"])
	}
	if input := payload["input"].(map[string]any); input["prompt"] != "a cat" {
		t.Fatalf("input = %v", input)
	}
}

func TestCreateTaskErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     any
		wantKind error
	}{
		{name: "bad request", status: http.StatusBadRequest, body: map[string]any{"code": 400, "msg": "bad prompt"}, wantKind: domain.ErrProviderRejected},
		{name: "rate limited", status: http.StatusTooManyRequests, body: map[string]any{"msg": "slow down"}, wantKind: domain.ErrProviderUnavailable},
		{name: "server error", status: http.StatusBadGateway, body: "upstream down", wantKind: domain.ErrProviderUnavailable},
		{name: "envelope rejection", status: http.StatusOK, body: map[string]any{"code": 402, "msg": "credits exhausted"}, wantKind: domain.ErrProviderRejected},
		{name: "envelope outage", status: http.StatusOK, body: map[string]any{"code": "503", "msg": "busy"}, wantKind: domain.ErrProviderUnavailable},
		{name: "missing task id", status: http.StatusOK, body: map[string]any{"code": 200, "data": map[string]any{}}, wantKind: domain.ErrProviderUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			transport := &captureTransport{responses: map[string]responseStub{}}
			transport.setJSONResponse("/api/v1/jobs/createTask", tc.status, tc.body)
			client := newTestClient(t, transport)
			_, err := client.CreateTask(context.Background(), "m", nil)
			if !errors.Is(err, tc.wantKind) {
				t.Fatalf("expected %v, got %v", tc.wantKind, err)
			}
			var perr *domain.ProviderError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *domain.ProviderError, got %T", err)
			}
		})
	}
}

func TestCreateTaskWithoutKey(t *testing.T) {
	client, err := NewClient(Options{})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	_, err = client.CreateTask(context.Background(), "m", nil)
	if !errors.Is(err, ErrMissingAPIKey) || !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("expected missing key rejection, got %v", err)
	}
}

func TestPollTaskReturnsRecord(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/v1/jobs/recordInfo", http.StatusOK, map[string]any{
		"code": 200,
		"data": map[string]any{
			"taskId":     "task-123",
			"state":      "success",
			"resultJson": `{"resultUrls":["https://cdn.example.com/out.png"]}`,
		},
	})
	client := newTestClient(t, transport)

	raw, err := client.PollTask(context.Background(), "task-123")
	if err != nil {
		t.Fatalf("PollTask error: %v", err)
	}
	if got := transport.lastURL; !strings.Contains(got, "taskId=task-123") {
		t.Fatalf("poll url = %q", got)
	}
	res := normalize.PollResponse(raw)
	if res.State != domain.ResultSuccess || len(res.Outputs) != 1 || res.Outputs[0] != "https://cdn.example.com/out.png" {
		t.Fatalf("unexpected normalized result %+v", res)
	}
}

func TestPollTaskHonoursContext(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}, fail: errors.New("dial failed")}
	client := newTestClient(t, transport)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.PollTask(ctx, "t"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := client.PollTask(context.Background(), "t"); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected unavailable on transport error, got %v", err)
	}
}

func newTestClient(t *testing.T, transport http.RoundTripper) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIKey:     "test-key",
		BaseURL:    "https://api.example.com/api/v1/",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

type captureTransport struct {
	responses  map[string]responseStub
	fail       error
	lastBody   []byte
	lastHeader http.Header
	lastURL    string
}

type responseStub struct {
	status int
	header http.Header
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.lastHeader = req.Header.Clone()
	c.lastURL = req.URL.String()
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
	}
	if c.fail != nil {
		return nil, c.fail
	}
	if stub, ok := c.responses[req.URL.Path]; ok {
		return stub.toResponse(), nil
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader("not found")),
	}, nil
}

func (c *captureTransport) setJSONResponse(path string, status int, payload any) {
	var body []byte
	if s, ok := payload.(string); ok {
		body = []byte(s)
	} else {
		body, _ = json.Marshal(payload)
	}
	c.responses[path] = responseStub{
		status: status,
		header: http.Header{"Content-Type": []string{"application/json"}},
		body:   body,
	}
}

func (s responseStub) toResponse() *http.Response {
	return &http.Response{
		StatusCode: s.status,
		Header:     s.header.Clone(),
		Body:       io.NopCloser(bytes.NewReader(s.body)),
	}
}
