// Package client talks to a running Infinity Status server over its REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mescon/InfinityStatus/internal/activity"
	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/logger"
)

// Timer actions accepted by Action.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionReset   = "reset"
	ActionRestart = "restart"
)

// ErrUnknownAction is returned by Action for anything but start, stop, reset and restart.
var ErrUnknownAction = errors.New("unknown timer action")

// APIError is a non-2xx response carrying the server's error message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client is a REST client for one server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

// New returns a client for baseURL, which includes any base path (e.g. http://host:3095/timers).
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
	}
}

// BaseURL returns the server URL the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type timersResponse struct {
	Timers   []domain.TimerView `json:"timers"`
	SyncMode string             `json:"sync_mode"`
}

// Timers lists every timer and the server's sync mode.
func (c *Client) Timers(ctx context.Context) ([]domain.TimerView, string, error) {
	var resp timersResponse
	if err := c.do(ctx, http.MethodGet, "/api/timers", nil, &resp); err != nil {
		return nil, "", err
	}
	return resp.Timers, resp.SyncMode, nil
}

// Timer reads one timer.
func (c *Client) Timer(ctx context.Context, id string) (domain.TimerView, error) {
	var view domain.TimerView
	err := c.do(ctx, http.MethodGet, "/api/timers/"+id, nil, &view)
	return view, err
}

// Action applies start, stop, reset or restart to a timer.
func (c *Client) Action(ctx context.Context, id, action string) (domain.TimerView, error) {
	switch action {
	case ActionStart, ActionStop, ActionReset, ActionRestart:
	default:
		return domain.TimerView{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	var view domain.TimerView
	err := c.do(ctx, http.MethodPost, "/api/timers/"+id+"/"+action, nil, &view)
	return view, err
}

// SetDuration changes a timer's cycle length. The timer is left paused.
func (c *Client) SetDuration(ctx context.Context, id string, minutes, seconds int) (domain.TimerView, error) {
	body := map[string]int{"minutes": minutes, "seconds": seconds}
	var view domain.TimerView
	err := c.do(ctx, http.MethodPut, "/api/timers/"+id+"/duration", body, &view)
	return view, err
}

// Synchronize restarts every timer at the same instant.
func (c *Client) Synchronize(ctx context.Context) ([]domain.TimerView, error) {
	var resp timersResponse
	if err := c.do(ctx, http.MethodPost, "/api/timers/synchronize", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Timers, nil
}

// Activity returns the counter and log.
func (c *Client) Activity(ctx context.Context) (activity.Snapshot, error) {
	var snap activity.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/activity", nil, &snap)
	return snap, err
}

// Increment adds one to the counter.
func (c *Client) Increment(ctx context.Context) (activity.Snapshot, error) {
	var snap activity.Snapshot
	err := c.do(ctx, http.MethodPost, "/api/activity/increment", nil, &snap)
	return snap, err
}

// Decrement subtracts one from the counter.
func (c *Client) Decrement(ctx context.Context) (activity.Snapshot, error) {
	var snap activity.Snapshot
	err := c.do(ctx, http.MethodPost, "/api/activity/decrement", nil, &snap)
	return snap, err
}

// Log appends a free-form message to the activity log.
func (c *Client) Log(ctx context.Context, message string) (activity.Snapshot, error) {
	var snap activity.Snapshot
	err := c.do(ctx, http.MethodPost, "/api/activity/log", map[string]string{"message": message}, &snap)
	return snap, err
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var health map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/api/health", nil, &health)
	return health, err
}

// do sends the request and decodes a JSON response into out.
// GET requests are retried on transport errors and 5xx responses.
func (c *Client) do(ctx context.Context, method, endpoint string, bodyData, out interface{}) error {
	var payload []byte
	if bodyData != nil {
		var err error
		payload, err = json.Marshal(bodyData)
		if err != nil {
			return err
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}

		resp, err := c.send(ctx, method, endpoint, payload)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return err
			}
			logger.Debugf("Request %s %s failed (attempt %d/%d): %v", method, endpoint, attempt+1, attempts, err)
			continue
		}

		err = decodeResponse(resp, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status >= 500 {
			lastErr = err
			continue
		}
		return err
	}
	return lastErr
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			logger.Debugf("Failed to decode error body: %v", err)
		}
		return &APIError{Status: resp.StatusCode, Message: body.Error}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
