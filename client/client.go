// Package client is a small HTTP client for the prism-events API, used by the
// load generator and the end-to-end tests.
package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"prism-events/domain"
)

const sseDataPrefix = "data:"

// Client wraps http.Client with helpers for the event and task endpoints.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// PostResult mirrors the POST /api/events response body.
type PostResult struct {
	RequestID string `json:"requestId"`
	Received  int    `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// StatusError is returned when the server answers with an unexpected status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// New creates a new Client. A nil httpClient uses http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: httpClient}
}

// PostEvents submits events in one request. A non-empty idempotencyKey is sent
// as the Idempotency-Key header.
func (c *Client) PostEvents(ctx context.Context, idempotencyKey string, events ...domain.Event) (PostResult, error) {
	var res PostResult
	body, err := sonic.Marshal(events)
	if err != nil {
		return res, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/events", bytes.NewReader(body))
	if err != nil {
		return res, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	err = c.do(req, http.StatusAccepted, &res)
	return res, err
}

// Tasks fetches the current task projection.
func (c *Client) Tasks(ctx context.Context) ([]domain.Task, error) {
	var out struct {
		Tasks []domain.Task `json:"tasks"`
	}
	if err := c.get(ctx, "/api/tasks", &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// Events fetches the full event history.
func (c *Client) Events(ctx context.Context) ([]domain.Event, error) {
	var out struct {
		Events []domain.Event `json:"events"`
		Count  int            `json:"count"`
	}
	if err := c.get(ctx, "/api/events", &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// Stream opens the task stream and calls fn for every pushed task list until
// ctx is done, the server closes the stream, or fn returns false.
func (c *Client) Stream(ctx context.Context, fn func([]domain.Task) bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/stream", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		var tasks []domain.Task
		if err := sonic.UnmarshalString(strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix)), &tasks); err != nil {
			return fmt.Errorf("decode stream payload: %w", err)
		}
		if !fn(tasks) {
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusOK, out)
}

func (c *Client) do(req *http.Request, want int, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	return sonic.ConfigStd.NewDecoder(resp.Body).Decode(out)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
