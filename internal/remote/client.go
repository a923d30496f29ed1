// Package remote is the CLI side of the HTTP API.
package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	DefaultURL   = "http://127.0.0.1:7862"
	quickTimeout = 5 * time.Second
	// A step can run an autonomous call and a probe exchange back to back;
	// a detox pass makes one call per segment.
	cycleTimeout = 30 * time.Minute
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Method string
	Path   string
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Msg)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == code
}

// Client talks to a running thoughtloop server.
type Client struct {
	quick     *http.Client
	slow      *http.Client
	serverURL string
}

// NewClient creates a client for url. An empty url falls back to
// THOUGHTLOOP_URL, then to http://127.0.0.1:7862.
func NewClient(url string) *Client {
	if url == "" {
		url = os.Getenv("THOUGHTLOOP_URL")
	}
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		quick:     &http.Client{Timeout: quickTimeout},
		slow:      &http.Client{Timeout: cycleTimeout},
		serverURL: url,
	}
}

// URL returns the server base URL.
func (c *Client) URL() string {
	return c.serverURL
}

// Get sends a GET request and decodes the JSON response into out.
func (c *Client) Get(path string, out any) error {
	return c.do(c.quick, http.MethodGet, path, nil, out)
}

// Post sends body as JSON and decodes the response into out. Either may be nil.
func (c *Client) Post(path string, body, out any) error {
	return c.do(c.quick, http.MethodPost, path, body, out)
}

// PostLong is Post without the short deadline, for calls that run a cycle.
func (c *Client) PostLong(path string, body, out any) error {
	return c.do(c.slow, http.MethodPost, path, body, out)
}

// Delete sends a DELETE request.
func (c *Client) Delete(path string) error {
	return c.do(c.quick, http.MethodDelete, path, nil, nil)
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy() bool {
	resp, err := c.quick.Get(c.serverURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.quick.CloseIdleConnections()
	c.slow.CloseIdleConnections()
}

func (c *Client) do(hc *http.Client, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.serverURL+path, rd)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(bytes.TrimSpace(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Msg: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	return nil
}
