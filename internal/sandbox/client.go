package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vantagesec/vantage/internal/observability"
)

// Client talks to the sandbox provider's HTTP API and mints handles.
type Client struct {
	baseURL  string
	apiKey   string
	template string
	http     *http.Client
	logger   *observability.Logger
}

// NewClient creates a sandbox provider client.
func NewClient(baseURL, apiKey, template string, logger *observability.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		template: template,
		http:     &http.Client{Timeout: 60 * time.Second},
		logger:   logger,
	}
}

// Create boots a new sandbox from the configured template.
func (c *Client) Create(ctx context.Context) (Handle, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/sandboxes", map[string]any{
		"template": c.template,
	}, &resp)
	if err != nil {
		return nil, err
	}
	c.logger.Info(ctx, "sandbox created", "sandbox_id", resp.ID)
	return &httpHandle{client: c, id: resp.ID}, nil
}

// Resume reattaches to an existing sandbox by id, verifying it is alive.
func (c *Client) Resume(ctx context.Context, id string) (Handle, error) {
	if err := c.do(ctx, http.MethodGet, "/v1/sandboxes/"+id, nil, nil); err != nil {
		return nil, err
	}
	return &httpHandle{client: c, id: id}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sandbox: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("sandbox: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: sandbox not found", ErrUnavailable)
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sandbox: decode response: %w", err)
	}
	return nil
}

type httpHandle struct {
	client *Client
	id     string
}

func (h *httpHandle) ID() string { return h.id }

func (h *httpHandle) Exec(ctx context.Context, command string) (ExecResult, error) {
	var res ExecResult
	err := h.client.do(ctx, http.MethodPost, "/v1/sandboxes/"+h.id+"/exec", map[string]any{
		"command": command,
	}, &res)
	return res, err
}

func (h *httpHandle) ExecDetached(ctx context.Context, command string) error {
	return h.client.do(ctx, http.MethodPost, "/v1/sandboxes/"+h.id+"/exec", map[string]any{
		"command":  command,
		"detached": true,
	}, nil)
}

func (h *httpHandle) ReadFile(ctx context.Context, path string, startLine, endLine int) (string, error) {
	var resp struct {
		Content string `json:"content"`
	}
	body := map[string]any{"path": path}
	if startLine > 0 {
		body["start_line"] = startLine
	}
	if endLine > 0 {
		body["end_line"] = endLine
	}
	err := h.client.do(ctx, http.MethodPost, "/v1/sandboxes/"+h.id+"/files/read", body, &resp)
	return resp.Content, err
}

func (h *httpHandle) WriteFile(ctx context.Context, path, content string, append bool) error {
	return h.client.do(ctx, http.MethodPost, "/v1/sandboxes/"+h.id+"/files/write", map[string]any{
		"path":    path,
		"content": content,
		"append":  append,
	}, nil)
}

func (h *httpHandle) FileExists(ctx context.Context, path string) (bool, error) {
	var resp struct {
		Exists bool `json:"exists"`
	}
	err := h.client.do(ctx, http.MethodPost, "/v1/sandboxes/"+h.id+"/files/stat", map[string]any{
		"path": path,
	}, &resp)
	return resp.Exists, err
}

func (h *httpHandle) ExposePort(ctx context.Context, port int) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	err := h.client.do(ctx, http.MethodPost, "/v1/sandboxes/"+h.id+"/ports", map[string]any{
		"port": port,
	}, &resp)
	return resp.URL, err
}

func (h *httpHandle) Close(ctx context.Context) error {
	return h.client.do(ctx, http.MethodDelete, "/v1/sandboxes/"+h.id, nil, nil)
}
