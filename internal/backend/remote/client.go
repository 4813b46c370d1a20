package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/seantiz/qexec/internal/model"
)

const (
	// DefaultPollInterval is the delay between job status requests.
	DefaultPollInterval = 50 * time.Millisecond

	// DefaultJobTimeout bounds how long a submitted job is awaited.
	DefaultJobTimeout = 5 * time.Minute

	requestTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// Client talks to a qexec HTTP service.
type Client struct {
	baseURL      string
	http         *http.Client
	pollInterval time.Duration
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         &http.Client{Timeout: requestTimeout},
		pollInterval: DefaultPollInterval,
	}
}

// Submit queues a job and returns its pending run record.
func (c *Client) Submit(ctx context.Context, req JobRequest) (*model.Run, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/jobs/async", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var run model.Run
	if err := c.do(httpReq, http.StatusAccepted, &run); err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	return &run, nil
}

// Get fetches the current run record of a job.
func (c *Client) Get(ctx context.Context, id string) (*model.Run, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/jobs/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("build get request: %w", err)
	}
	var run model.Run
	if err := c.do(httpReq, http.StatusOK, &run); err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &run, nil
}

// Wait polls a job until it reaches a terminal status.
func (c *Client) Wait(ctx context.Context, id string) (*model.Run, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		run, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if model.IsTerminal(run.Status) {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for job %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Run submits a job, waits for it, and returns its counts. A failed job is
// returned as an error carrying the remote message.
func (c *Client) Run(ctx context.Context, req JobRequest) (model.SampleResult, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultJobTimeout)
	defer cancel()

	pending, err := c.Submit(ctx, req)
	if err != nil {
		return model.SampleResult{}, err
	}
	run, err := c.Wait(ctx, pending.ID)
	if err != nil {
		return model.SampleResult{}, err
	}
	if run.Status == model.StatusFailed {
		return model.SampleResult{}, fmt.Errorf("remote job %s failed: %s", run.ID, run.Error)
	}
	return run.Result(), nil
}

func (c *Client) do(req *http.Request, wantStatus int, v any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var body struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if json.Unmarshal(raw, &body) == nil && body.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, body.Error)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
