package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/brainbox/pkg/api"
	"github.com/cuemby/brainbox/pkg/controller"
	"github.com/cuemby/brainbox/pkg/metrics"
	"github.com/cuemby/brainbox/pkg/types"
)

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, e.Kind)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client wraps the BrainBox HTTP API for easy CLI usage
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at addr (host:port or URL)
func NewClient(addr string) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", addr, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server address %q: missing host", addr)
	}
	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{},
	}, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Push appends payload, encoded as JSON, to a session and returns its id
func (c *Client) Push(ctx context.Context, session, typ string, payload any) (int64, error) {
	var resp api.PushResponse
	path := "/command/" + url.PathEscape(session) + "/" + url.PathEscape(typ)
	if err := c.do(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// Updates returns the messages of a session after lastID. A positive wait
// long polls until a message arrives or the wait elapses.
func (c *Client) Updates(ctx context.Context, session string, lastID int64, wait time.Duration) ([]*types.BusMessage, error) {
	path := "/updates/" + url.PathEscape(session) + "/" + strconv.FormatInt(lastID, 10) + waitQuery(wait)
	var updates []api.Update
	if err := c.do(ctx, http.MethodGet, path, nil, &updates); err != nil {
		return nil, err
	}
	msgs := make([]*types.BusMessage, 0, len(updates))
	for _, u := range updates {
		msgs = append(msgs, &types.BusMessage{Session: session, ID: u.ID, Timestamp: u.Timestamp, Type: u.Type, Payload: u.Payload})
	}
	return msgs, nil
}

// Heartbit checks that the server answers
func (c *Client) Heartbit(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/heartbit", nil, nil)
}

// Submit admits a batch of tasks and returns their job ids in order
func (c *Client) Submit(ctx context.Context, tasks ...api.TaskRequest) ([]string, error) {
	var resp api.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/tasks", api.SubmitRequest{Tasks: tasks}, &resp); err != nil {
		return nil, err
	}
	return resp.JobIDs, nil
}

// GetJob returns a job. A positive wait blocks until the job is terminal or
// the wait elapses.
func (c *Client) GetJob(ctx context.Context, id string, wait time.Duration) (*types.Job, error) {
	var job types.Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id)+waitQuery(wait), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns every job, oldest first
func (c *Client) ListJobs(ctx context.Context) ([]*types.Job, error) {
	var jobs []*types.Job
	if err := c.do(ctx, http.MethodGet, "/jobs", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListDeciders returns every registered decider with its instances
func (c *Client) ListDeciders(ctx context.Context) ([]controller.DeciderStatus, error) {
	var statuses []controller.DeciderStatus
	if err := c.do(ctx, http.MethodGet, "/deciders", nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// Install installs a decider again. A failed install returns the recorded
// status together with an *APIError.
func (c *Client) Install(ctx context.Context, name string) (*api.InstallResponse, error) {
	var resp api.InstallResponse
	err := c.do(ctx, http.MethodPost, "/deciders/"+url.PathEscape(name)+"/install", nil, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadGateway {
		return &resp, err
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health returns the server's component health
func (c *Client) Health(ctx context.Context) (*metrics.HealthStatus, error) {
	var status metrics.HealthStatus
	if err := c.do(ctx, http.MethodGet, "/health", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func waitQuery(wait time.Duration) string {
	if wait <= 0 {
		return ""
	}
	return "?wait=" + url.QueryEscape(wait.String())
}

// do sends a JSON request and decodes the answer into out. On a non-2xx
// answer out is still filled when the body decodes into it.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var errResp api.ErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Kind = errResp.Kind
		}
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
