package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmynk/kettle/internal/models"
)

// maxBodySize bounds how much of a response body is read.
const maxBodySize = 4 << 20

// Client talks to the server over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets a per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

// Response is a raw server response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Err returns a *StatusError for non-2xx responses and nil otherwise.
func (r *Response) Err() error {
	return checkStatus(r.StatusCode, r.Body)
}

// Send replays a queued request with its stored token and the request id as
// the idempotency key. The error is non-nil only when no response was
// received; callers classify the status themselves.
func (c *Client) Send(ctx context.Context, req *models.OutboxRequest) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.AuthToken)
	}
	if req.ID != "" {
		httpReq.Header.Set(HeaderIdempotencyKey, req.ID)
	}
	return c.do(httpReq)
}

// GetRoom performs the canonical read of one room.
func (c *Client) GetRoom(ctx context.Context, token string, roomID int64) (*RoomResponse, error) {
	var room RoomResponse
	if err := c.getJSON(ctx, token, RoomPath(roomID), &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// ListRooms returns the rooms the token's user belongs to.
func (c *Client) ListRooms(ctx context.Context, token string) ([]RoomSummary, error) {
	var resp RoomsResponse
	if err := c.getJSON(ctx, token, PathRooms, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// Health probes the server. Any 2xx counts as reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathHealth, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	return resp.Err()
}

func (c *Client) getJSON(ctx context.Context, token, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}
