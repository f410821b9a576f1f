// Package client is the CLI-side HTTP client for the runner's /v1 surface:
// daemon-first discovery, bearer-token resolution, the REST calls, and an
// SSE reader for `run attach` (health polling, bearer auth header,
// line-buffered SSE scanner).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codex-d/runner/internal/apierr"
)

// Client is a thin HTTP client bound to one resolved runner endpoint.
type Client struct {
	BaseURL string
	Token   string

	httpClient *http.Client
}

// New builds a Client against an already-resolved base URL and token.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) authHeader() string {
	if c.Token == "" {
		return ""
	}
	return "Bearer " + c.Token
}

// do issues one request, returning the parsed apierr.Body on any non-2xx
// status so callers can render a structured error.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h := c.authHeader(); h != "" {
		req.Header.Set("Authorization", h)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var body apierr.Body
		if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
			return &apierr.Error{Kind: apierr.Kind(body.Error), Message: body.Message, Details: body.Details}
		}
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, string(data))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// HealthResponse mirrors GET /v1/health.
type HealthResponse struct {
	Status       string `json:"status"`
	CodexRuntime string `json:"codexRuntime"`
}

// Health checks GET /v1/health. A non-nil, non-401 error means the target
// is unreachable; a 401 (apierr.KindUnauthorized) means "reachable, wrong
// or missing token" — discovery treats that as proof of life.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var h HealthResponse
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// InfoResponse mirrors GET /v1/info.
type InfoResponse struct {
	BaseURL  string `json:"baseUrl"`
	Port     int    `json:"port"`
	RunnerID string `json:"runnerId"`
	Version  string `json:"version"`
}

func (c *Client) Info(ctx context.Context) (*InfoResponse, error) {
	var info InfoResponse
	if err := c.do(ctx, http.MethodGet, "/v1/info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Run is the wire shape of one run record, kept deliberately loose (a
// map-backed passthrough) since the CLI only needs to render fields, not
// validate the full run.Record schema the server owns.
type Run map[string]any

func (r Run) ID() string     { s, _ := r["id"].(string); return s }
func (r Run) Status() string { s, _ := r["status"].(string); return s }

// CreateRunRequest is the body of POST /v1/runs.
type CreateRunRequest struct {
	Cwd      string         `json:"cwd"`
	Prompt   string         `json:"prompt"`
	Kind     string         `json:"kind,omitempty"`
	Review   map[string]any `json:"review,omitempty"`
	Model    string         `json:"model,omitempty"`
	Effort   string         `json:"effort,omitempty"`
	Sandbox  string         `json:"sandbox,omitempty"`
	Approval string         `json:"approvalPolicy,omitempty"`
}

// CreateRunResponse is the body of POST /v1/runs and /v1/runs/{id}/resume.
type CreateRunResponse struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

func (c *Client) CreateRun(ctx context.Context, req CreateRunRequest) (*CreateRunResponse, error) {
	var resp CreateRunResponse
	if err := c.do(ctx, http.MethodPost, "/v1/runs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListRuns(ctx context.Context, cwd string, all bool) ([]Run, error) {
	path := fmt.Sprintf("/v1/runs?all=%t", all)
	if cwd != "" {
		path += "&cwd=" + cwd
	}
	var out struct {
		Runs []Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

func (c *Client) GetRun(ctx context.Context, id string) (Run, error) {
	var out Run
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+id, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Interrupt(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/runs/"+id+"/interrupt", nil, nil)
}

func (c *Client) Stop(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/runs/"+id+"/stop", nil, nil)
}

func (c *Client) Resume(ctx context.Context, id, prompt, effort string) (*CreateRunResponse, error) {
	var resp CreateRunResponse
	body := map[string]string{}
	if prompt != "" {
		body["prompt"] = prompt
	}
	if effort != "" {
		body["effort"] = effort
	}
	if err := c.do(ctx, http.MethodPost, "/v1/runs/"+id+"/resume", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Steer(ctx context.Context, id, prompt string) error {
	return c.do(ctx, http.MethodPost, "/v1/runs/"+id+"/steer", map[string]string{"prompt": prompt}, nil)
}

// MessageEntry mirrors httpapi.MessageEntry.
type MessageEntry struct {
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

func (c *Client) Messages(ctx context.Context, id string, count, tailEvents int) ([]MessageEntry, error) {
	path := fmt.Sprintf("/v1/runs/%s/messages?count=%d&tailEvents=%d", id, count, tailEvents)
	var out struct {
		Messages []MessageEntry `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// ThinkingSummaryEntry mirrors httpapi.ThinkingSummaryEntry.
type ThinkingSummaryEntry struct {
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt,omitempty"`
}

func (c *Client) ThinkingSummaries(ctx context.Context, id string, timestamps bool, tailEvents int) ([]ThinkingSummaryEntry, error) {
	path := fmt.Sprintf("/v1/runs/%s/thinking-summaries?timestamps=%t&tailEvents=%d", id, timestamps, tailEvents)
	var out struct {
		ThinkingSummaries []ThinkingSummaryEntry `json:"thinkingSummaries"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.ThinkingSummaries, nil
}

func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/shutdown", nil, nil)
}
