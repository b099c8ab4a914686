// Package client is a Go client for the volley HTTP API and its websocket
// event stream.
//
// Usage:
//
//	c, err := client.New("http://localhost:8088", client.WithToken(tok))
//
//	st, err := c.Status(ctx)
//	fmt.Println(st.Last.Mode, st.Last.Snapshot.ID)
//
//	sub, err := c.Subscribe(ctx, "ticks", "node:home")
//	defer sub.Close()
//	for evt := range sub.Events() {
//	    fmt.Println(evt.Type, string(evt.Data))
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xraph/volley/api"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("volley/client: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client talks to one volley daemon.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger *slog.Logger
}

// New creates a client for the daemon at baseURL, e.g.
// "http://localhost:8088".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("volley/client: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("volley/client: unsupported scheme %q", u.Scheme)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Status returns the last tick report and the controller's memory.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var out api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Nodes returns the live capacity reading of every node.
func (c *Client) Nodes(ctx context.Context) ([]api.NodeResponse, error) {
	var out []api.NodeResponse
	if err := c.do(ctx, http.MethodGet, "/v1/nodes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Telemetry returns the open and last closed telemetry windows.
func (c *Client) Telemetry(ctx context.Context) (*api.TelemetryResponse, error) {
	var out api.TelemetryResponse
	if err := c.do(ctx, http.MethodGet, "/v1/telemetry", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Config returns the live tunables.
func (c *Client) Config(ctx context.Context) (*api.ConfigResponse, error) {
	var out api.ConfigResponse
	if err := c.do(ctx, http.MethodGet, "/v1/config", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateConfig changes the live tunables and returns the values in effect
// afterwards.
func (c *Client) UpdateConfig(ctx context.Context, req api.ConfigRequest) (*api.ConfigResponse, error) {
	var out api.ConfigResponse
	if err := c.do(ctx, http.MethodPut, "/v1/config", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("volley/client: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return fmt.Errorf("volley/client: %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("volley/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e api.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("volley/client: decode %s: %w", path, err)
	}
	return nil
}
