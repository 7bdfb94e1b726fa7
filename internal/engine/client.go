// Package engine is the REST client for the remote backtest engine: job
// submission and commands, snapshot polling, and the chunked historical-bar
// feed. The engine is an external system; everything here is consumed as
// opaque request/response calls.
package engine

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
	"time"

	"github.com/google/uuid"
	"github.com/mumbaionweb/algoai-console/internal/models"
)

var (
	ErrUnauthorized = errors.New("engine rejected credential")
	ErrJobNotFound  = errors.New("job not found")
)

const defaultTimeout = 30 * time.Second

// Client talks to the engine's command API over HTTP
type Client struct {
	baseURL string
	wsURL   string
	token   string
	http    *http.Client
}

// NewClient creates a new engine Client. baseURL is the REST root, wsURL the
// websocket root (ws:// or wss://), token the bearer credential.
func NewClient(baseURL, wsURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		wsURL:   wsURL,
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// SubmitRequest describes one backtest to run
type SubmitRequest struct {
	Symbol         string                 `json:"symbol" binding:"required"`
	Strategy       string                 `json:"strategy" binding:"required"`
	StartDate      string                 `json:"start_date" binding:"required"`
	EndDate        string                 `json:"end_date" binding:"required"`
	Interval       string                 `json:"interval"`
	InitialCapital float64                `json:"initial_capital"`
	Params         map[string]interface{} `json:"params,omitempty"`
}

// SubmitJob creates a new backtest job and returns its initial snapshot.
// Each submission carries a fresh idempotency key so a retried request
// cannot start the job twice.
func (c *Client) SubmitJob(ctx context.Context, req *SubmitRequest) (*models.Job, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/backtests", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())

	var job models.Job
	if err := c.do(httpReq, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches the current snapshot of a job. This is the pull channel the
// progress client falls back to when the websocket is unavailable.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/backtests/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}

	var job models.Job
	if err := c.do(httpReq, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs fetches recent jobs from the engine
func (c *Client) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	u := c.baseURL + "/api/v1/backtests"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var jobs []models.Job
	if err := c.do(httpReq, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Ping reports whether the engine's API currently answers. A single-item
// list read doubles as the probe because the engine exposes no dedicated
// health route.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListJobs(ctx, 1)
	return err
}

// CancelJob requests cancellation of a running job
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	return c.command(ctx, jobID, "cancel")
}

// PauseJob requests the engine pause a running job
func (c *Client) PauseJob(ctx context.Context, jobID string) error {
	return c.command(ctx, jobID, "pause")
}

// ResumeJob requests the engine resume a paused job
func (c *Client) ResumeJob(ctx context.Context, jobID string) error {
	return c.command(ctx, jobID, "resume")
}

func (c *Client) command(ctx context.Context, jobID, action string) error {
	u := fmt.Sprintf("%s/api/v1/backtests/%s/%s", c.baseURL, url.PathEscape(jobID), action)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	return c.do(httpReq, nil)
}

// BarChunk is one page of a named interval series, tagged with the series
// name and point metadata so the assembler can track completion.
type BarChunk struct {
	Interval       string                 `json:"interval"`
	TotalPoints    int                    `json:"total_points"`
	ReturnedPoints int                    `json:"returned_points"`
	Bars           []models.HistoricalBar `json:"bars"`
}

// FetchBarChunk retrieves one page of historical bars for an interval series
// of a job's chart data. Callers page by advancing offset until the
// accumulated count reaches TotalPoints.
func (c *Client) FetchBarChunk(ctx context.Context, jobID, interval string, offset, limit int) (*BarChunk, error) {
	q := url.Values{}
	q.Set("interval", interval)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	u := fmt.Sprintf("%s/api/v1/backtests/%s/chart?%s", c.baseURL, url.PathEscape(jobID), q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var chunk BarChunk
	if err := c.do(httpReq, &chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// StreamURL builds the websocket endpoint for a job's progress stream.
// The credential rides in the query string because browser-style websocket
// clients cannot set headers, and the engine accepts both.
func (c *Client) StreamURL(jobID string) string {
	q := url.Values{}
	q.Set("token", c.token)
	return fmt.Sprintf("%s/ws/jobs/%s?%s", c.wsURL, url.PathEscape(jobID), q.Encode())
}

// do executes a request with the bearer credential and decodes the response
// into out (when non-nil). Auth failures map to ErrUnauthorized so callers
// can stop retrying; a missing job maps to ErrJobNotFound.
func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("engine request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrJobNotFound
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode engine response: %w", err)
	}
	return nil
}
