// Package syncclient is the HTTP client a point-of-sale device uses to talk
// to the till server.
package syncclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harper/till/internal/envelope"
)

// Sentinel errors for common HTTP error classes. The sync orchestrator
// stops a cycle on these rather than burning retry attempts.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// Client is an HTTP client for the till server.
type Client struct {
	BaseURL string
	Token   string
	StoreID string
	HTTP    *http.Client
}

// New creates a new sync client.
func New(baseURL, token, storeID string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		StoreID: storeID,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Wire types (mirrors internal/api/sync.go, independently defined) ---

// PushRequest is the body for POST /v1/stores/{store}/sync/push.
type PushRequest struct {
	StoreID  string              `json:"store_id"`
	DeviceID string              `json:"device_id"`
	Events   []envelope.Envelope `json:"events"`
}

// PushResult is one per-event outcome in a push response.
type PushResult struct {
	EventID string                `json:"event_id"`
	Status  envelope.ResultStatus `json:"status"`
	Data    json.RawMessage       `json:"data,omitempty"`
	Error   *ResultError          `json:"error,omitempty"`
}

// ResultError is the error detail attached to a failed event result.
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PushResponse is the response from a push request.
type PushResponse struct {
	Results    []PushResult `json:"results"`
	ServerTime string       `json:"server_time"`
}

// PullRequest is the body for POST /v1/stores/{store}/sync/pull.
type PullRequest struct {
	StoreID  string `json:"store_id"`
	DeviceID string `json:"device_id"`
	Cursor   string `json:"cursor"`
}

// PullRow is one changed entity in a pull response.
type PullRow struct {
	EntityID  string          `json:"entity_id"`
	UpdatedAt string          `json:"updated_at"`
	Snapshot  json.RawMessage `json:"snapshot"`
}

// PullTombstones lists entity ids deleted since the cursor.
type PullTombstones struct {
	Products   []string `json:"products"`
	Customers  []string `json:"customers"`
	Categories []string `json:"categories"`
}

// PullUpdates carries the changed rows of one pull window.
type PullUpdates struct {
	Products      []PullRow       `json:"products"`
	Customers     []PullRow       `json:"customers"`
	Categories    []PullRow       `json:"categories"`
	StoreSettings json.RawMessage `json:"store_settings"`
	Tombstones    PullTombstones  `json:"tombstones"`
}

// PullResponse is the response from a pull request.
type PullResponse struct {
	NewCursor string      `json:"new_cursor"`
	Updates   PullUpdates `json:"updates"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthCheck verifies the server is reachable.
func (c *Client) HealthCheck() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do("GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Push sends a batch of queued events and returns per-event results.
func (c *Client) Push(req *PushRequest) (*PushResponse, error) {
	var resp PushResponse
	path := fmt.Sprintf("/v1/stores/%s/sync/push", c.StoreID)
	if err := c.do("POST", path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches catalog and settings changes after the given cursor.
func (c *Client) Pull(deviceID, cursor string) (*PullResponse, error) {
	var resp PullResponse
	path := fmt.Sprintf("/v1/stores/%s/sync/pull", c.StoreID)
	req := PullRequest{StoreID: c.StoreID, DeviceID: deviceID, Cursor: cursor}
	if err := c.do("POST", path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func (c *Client) do(method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envl errorEnvelope
		if json.Unmarshal(respBody, &envl) == nil && envl.Error.Code != "" {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return fmt.Errorf("%w: %s", ErrUnauthorized, envl.Error.Message)
			case http.StatusForbidden:
				return fmt.Errorf("%w: %s", ErrForbidden, envl.Error.Message)
			case http.StatusNotFound:
				return fmt.Errorf("%w: %s", ErrNotFound, envl.Error.Message)
			default:
				e := envl.Error
				return &e
			}
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
