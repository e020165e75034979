// Package remote implements the HTTP client for the recording service API.
// The engine depends on it only through the per-operation-type dispatch
// contract; conflict responses surface as *types.ConflictError so the engine
// can distinguish version mismatches from ordinary failures.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/voxsync/voxsync/internal/types"
)

// DefaultTimeout bounds each individual remote dispatch. A timeout is an
// ordinary retryable failure, never a conflict.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response body is read.
const maxErrorBody = 64 << 10

// Client talks to the recording service REST API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a remote API client. timeout <= 0 selects DefaultTimeout.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Ping checks connectivity to the recording service.
func (c *Client) Ping(ctx context.Context) error {
	if c.baseURL == "" {
		return fmt.Errorf("remote URL not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}

	return nil
}

// CreateRecording uploads a new recording's metadata.
func (c *Client) CreateRecording(ctx context.Context, draft types.RecordingDraft) error {
	return c.send(ctx, http.MethodPost, "/api/v1/recordings", draft)
}

// UpdateRecording patches an existing recording, preconditioned on the
// version the client last saw.
func (c *Client) UpdateRecording(ctx context.Context, patch types.RecordingPatch) error {
	path := "/api/v1/recordings/" + url.PathEscape(patch.RecordingID)
	return c.send(ctx, http.MethodPatch, path, patch)
}

// DeleteRecording removes a recording, preconditioned on its version.
func (c *Client) DeleteRecording(ctx context.Context, del types.RecordingDelete) error {
	path := fmt.Sprintf("/api/v1/recordings/%s?version=%d", url.PathEscape(del.RecordingID), del.Version)
	return c.send(ctx, http.MethodDelete, path, nil)
}

// UpdateProfile patches the user profile.
func (c *Client) UpdateProfile(ctx context.Context, patch types.ProfilePatch) error {
	return c.send(ctx, http.MethodPatch, "/api/v1/profile", patch)
}

// CompleteTask marks a task as completed.
func (c *Client) CompleteTask(ctx context.Context, completion types.TaskCompletion) error {
	path := "/api/v1/tasks/" + url.PathEscape(completion.TaskID) + "/complete"
	return c.send(ctx, http.MethodPost, path, completion)
}

// send issues an authenticated JSON request and classifies the response:
// 2xx is success, 409/412 is a conflict carrying the server's snapshot,
// anything else is an ordinary failure.
func (c *Client) send(ctx context.Context, method, path string, body any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed {
		return &types.ConflictError{Snapshot: conflictSnapshot(data)}
	}

	return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
}

// conflictSnapshot extracts the server-side record from a conflict response.
// The service wraps it as {"current": {...}}; older deployments return the
// record bare, so fall back to the whole body.
func conflictSnapshot(body []byte) json.RawMessage {
	var wrapper struct {
		Current json.RawMessage `json:"current"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && len(wrapper.Current) > 0 {
		return wrapper.Current
	}
	return json.RawMessage(body)
}
