// Package forge provides a Go SDK for the forge-server HTTP API.
package forge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"atlasforge/internal/domain"
)

// Client talks to a forge-server instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new forge API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SubmitJob submits a job config and returns the created job.
func (c *Client) SubmitJob(ctx context.Context, cfg domain.JobConfig) (*domain.Job, error) {
	var job domain.Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs", cfg, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob retrieves a job's current state.
func (c *Client) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns the most recent jobs.
func (c *Client) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	path := fmt.Sprintf("/api/jobs?limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// CancelJob requests cancellation of a running job.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/jobs/"+id, nil, nil)
}

// Results retrieves up to limit result rows for a job.
func (c *Client) Results(ctx context.Context, id string, limit int) ([]domain.BranchResult, error) {
	var results []domain.BranchResult
	path := fmt.Sprintf("/api/jobs/%s/results?limit=%d", id, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Tickers lists the tickers available on the server.
func (c *Client) Tickers(ctx context.Context) ([]string, error) {
	var tickers []string
	if err := c.do(ctx, http.MethodGet, "/api/tickers", nil, &tickers); err != nil {
		return nil, err
	}
	return tickers, nil
}

// WatchProgress subscribes to a job's SSE progress stream and forwards
// events to fn until the job reaches a terminal status, the stream ends, or
// ctx is cancelled.
func (c *Client) WatchProgress(ctx context.Context, id string, fn func(domain.ProgressEvent)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/jobs/"+id+"/progress", nil)
	if err != nil {
		return err
	}

	// Streaming request: no client timeout.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("progress stream: status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event domain.ProgressEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}
		fn(event)
		if event.Status.Terminal() {
			return nil
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return scanner.Err()
}
