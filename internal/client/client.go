// ============================================================================
// jobwatch HTTP Client - protocol endpoints
// ============================================================================
//
// Package: internal/client
// File: client.go
// Purpose: Typed access to the server's request/response endpoints
//
// Endpoints:
//   POST /compile          submit-compile         → SubmitAck
//   GET  /console/output   poll-console           → ConsoleSnapshot
//   GET  /insights/data    poll-insights          → InsightsSnapshot
//   GET  /editor/content   fetch-initial-content  → EditorContent
//   POST /editor/content   update-content         → {status}
//   POST /file/save        save-file              → SaveResponse
//   GET  /status           bootstrap-status       → StatusResponse
//
// Error classes:
//   - transport errors (dial, timeout, non-2xx, undecodable body) are returned
//     as errors; callers treat them as retryable
//   - business failures travel inside a well-formed body (ack status, save
//     error, loader error) and are returned without an error
//
// ============================================================================

package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// Endpoint paths.
const (
	PathCompile       = "/compile"
	PathConsole       = "/console/output"
	PathInsights      = "/insights/data"
	PathEditorContent = "/editor/content"
	PathSave          = "/file/save"
	PathStatus        = "/status"
)

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d: %s", e.Code, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets a per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// Client talks to a jobwatch server.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Submit sends source content for compilation.
func (c *Client) Submit(ctx context.Context, content string) (types.SubmitAck, error) {
	var ack types.SubmitAck
	if err := c.do(ctx, http.MethodPost, PathCompile, types.CompileRequest{Content: content}, &ack, false); err != nil {
		return types.SubmitAck{}, fmt.Errorf("submit compile: %w", err)
	}
	return ack, nil
}

// Console fetches the full console transcript of the current job.
func (c *Client) Console(ctx context.Context) (types.ConsoleSnapshot, error) {
	var snap types.ConsoleSnapshot
	if err := c.do(ctx, http.MethodGet, PathConsole, nil, &snap, false); err != nil {
		return types.ConsoleSnapshot{}, fmt.Errorf("poll console: %w", err)
	}
	return snap, nil
}

// Insights fetches the full phase timeline and insight list.
func (c *Client) Insights(ctx context.Context) (types.InsightsSnapshot, error) {
	var snap types.InsightsSnapshot
	if err := c.do(ctx, http.MethodGet, PathInsights, nil, &snap, false); err != nil {
		return types.InsightsSnapshot{}, fmt.Errorf("poll insights: %w", err)
	}
	return snap, nil
}

// Content fetches the initial editor buffer.
func (c *Client) Content(ctx context.Context) (types.EditorContent, error) {
	var content types.EditorContent
	if err := c.do(ctx, http.MethodGet, PathEditorContent, nil, &content, false); err != nil {
		return types.EditorContent{}, fmt.Errorf("fetch content: %w", err)
	}
	return content, nil
}

// UpdateContent pushes the editor buffer to the server.
func (c *Client) UpdateContent(ctx context.Context, content string) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, PathEditorContent, types.CompileRequest{Content: content}, &resp, false); err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	return nil
}

// Save persists content under filename. A failed save with a readable body
// is returned as a SaveResponse, not an error.
func (c *Client) Save(ctx context.Context, req types.SaveRequest) (types.SaveResponse, error) {
	var resp types.SaveResponse
	if err := c.do(ctx, http.MethodPost, PathSave, req, &resp, true); err != nil {
		return types.SaveResponse{}, fmt.Errorf("save file: %w", err)
	}
	return resp, nil
}

// Status fetches the bootstrap status.
func (c *Client) Status(ctx context.Context) (types.StatusResponse, error) {
	var resp types.StatusResponse
	if err := c.do(ctx, http.MethodGet, PathStatus, nil, &resp, false); err != nil {
		return types.StatusResponse{}, fmt.Errorf("check status: %w", err)
	}
	return resp, nil
}

// do performs one request. With decodeErrorBody set, a non-2xx response
// whose body decodes into out is not treated as an error.
func (c *Client) do(ctx context.Context, method, path string, in, out any, decodeErrorBody bool) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErrorBody && json.Unmarshal(data, out) == nil {
			return nil
		}
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
