// Package stream tracks live backtest jobs: the progress subscription over
// the engine's websocket push channel with poll fallback, and reassembly of
// the chunked historical-bar feed into per-series chart data.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mumbaionweb/algoai-console/internal/engine"
	"github.com/mumbaionweb/algoai-console/internal/models"
)

const (
	defaultPollInterval     = 2 * time.Second
	defaultReconnectDelay   = 5 * time.Second
	defaultMaxReconnects    = 10
	defaultStallThreshold   = 3 * time.Minute
	defaultWatchdogInterval = 10 * time.Second

	// progress deltas at or below this are treated as noise, both by the
	// meaningful-change filter's stall baseline and by the stall watchdog
	stallEpsilon = 0.01
)

// JobAPI is the slice of the engine client the progress subscription needs
type JobAPI interface {
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	CancelJob(ctx context.Context, jobID string) error
	PauseJob(ctx context.Context, jobID string) error
	ResumeJob(ctx context.Context, jobID string) error
	StreamURL(jobID string) string
}

// Listener receives subscription events. OnJobUpdate fires only for
// snapshots that pass the meaningful-change filter; OnStallChange is
// advisory and never affects the job.
type Listener interface {
	OnJobUpdate(job *models.Job)
	OnStallChange(jobID string, stalled bool)
	OnStreamError(jobID string, err error)
}

// Config tunes one JobClient. Zero values select the defaults above.
type Config struct {
	PollInterval     time.Duration
	ReconnectDelay   time.Duration
	MaxReconnects    int
	StallThreshold   time.Duration
	WatchdogInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = defaultMaxReconnects
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = defaultStallThreshold
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = defaultWatchdogInterval
	}
	return c
}

// JobClient owns the live subscription for one job id at a time. Incoming
// snapshots are applied under a meaningful-change filter, progress is watched
// for stalls, and cancel/pause/resume are forwarded to the engine with an
// optimistic refresh afterwards.
//
// The current snapshot is an immutable value: every accepted message swaps in
// a fresh copy, so readers never observe a half-updated job.
type JobClient struct {
	api JobAPI
	cfg Config

	listener    Listener
	listenerMux sync.RWMutex

	mu               sync.RWMutex
	jobID            string
	snapshot         *models.Job
	stalled          bool
	baselineProgress float64
	baselineAt       time.Time

	sub *subscription
}

// subscription is one attach to a job's stream. Cancelling its context and
// waiting on done is the teardown handshake that guarantees the old
// subscription stops consuming before a new one starts.
type subscription struct {
	jobID  string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJobClient creates a new JobClient
func NewJobClient(api JobAPI, cfg Config) *JobClient {
	return &JobClient{
		api: api,
		cfg: cfg.withDefaults(),
	}
}

// SetListener sets the event listener
func (c *JobClient) SetListener(l Listener) {
	c.listenerMux.Lock()
	defer c.listenerMux.Unlock()
	c.listener = l
}

// Subscribe starts streaming snapshots for jobID. Any previous subscription,
// including one for the same id, is torn down synchronously first; at no
// point do two subscriptions consume concurrently.
func (c *JobClient) Subscribe(ctx context.Context, jobID string) {
	c.teardown()

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		jobID:  jobID,
		ctx:    subCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.jobID = jobID
	c.snapshot = nil
	c.stalled = false
	c.baselineProgress = 0
	c.baselineAt = time.Now()
	c.sub = sub
	c.mu.Unlock()

	go c.run(sub)
}

// Close tears down the active subscription, if any
func (c *JobClient) Close() {
	c.teardown()
}

func (c *JobClient) teardown() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.cancel()
		<-sub.done
	}
}

// JobID returns the id of the currently subscribed job, or "" before the
// first Subscribe
func (c *JobClient) JobID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jobID
}

// Snapshot returns the current job snapshot as a value copy, or nil before
// the first accepted message
func (c *JobClient) Snapshot() *models.Job {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.Clone()
}

// Stalled reports whether the advisory stall signal is raised
func (c *JobClient) Stalled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stalled
}

// Cancel asks the engine to cancel the subscribed job. The snapshot is
// refreshed afterwards even when the command fails, because the engine has
// been seen acknowledging commands for jobs that no longer accept them.
func (c *JobClient) Cancel(ctx context.Context) error {
	return c.command(ctx, c.api.CancelJob)
}

// Pause asks the engine to pause the subscribed job
func (c *JobClient) Pause(ctx context.Context) error {
	return c.command(ctx, c.api.PauseJob)
}

// Resume asks the engine to resume the subscribed job
func (c *JobClient) Resume(ctx context.Context) error {
	return c.command(ctx, c.api.ResumeJob)
}

func (c *JobClient) command(ctx context.Context, call func(context.Context, string) error) error {
	c.mu.RLock()
	jobID := c.jobID
	c.mu.RUnlock()
	if jobID == "" {
		return nil
	}

	err := call(ctx, jobID)

	// optimistic refresh regardless of the command outcome
	if snap, getErr := c.api.GetJob(ctx, jobID); getErr == nil {
		c.apply(snap)
	}

	return err
}

// run drives one subscription: websocket first, reconnects with a capped
// budget, then the poll fallback until the job reaches a terminal state.
func (c *JobClient) run(sub *subscription) {
	defer close(sub.done)
	defer sub.cancel()

	go c.watchdog(sub)

	attempts := 0
	for {
		if sub.ctx.Err() != nil {
			return
		}

		terminal, err := c.streamOnce(sub)
		if terminal || sub.ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrAuthRejected) {
			c.notifyError(sub.jobID, ErrAuthRejected)
			return
		}

		attempts++
		if attempts >= c.cfg.MaxReconnects {
			log.Printf("[JobStream] %s: websocket budget exhausted after %d attempts, falling back to polling", sub.jobID, attempts)
			break
		}
		log.Printf("[JobStream] %s: websocket dropped (%v), reconnect %d/%d", sub.jobID, err, attempts, c.cfg.MaxReconnects)

		select {
		case <-sub.ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}

	c.pollLoop(sub)
}

// authCloseCode is the engine's websocket close code for a rejected
// credential (4401, mirroring HTTP 401)
const authCloseCode = 4401

// streamFrame is one websocket message: a job snapshot, or an error the
// engine signals in-band instead of a snapshot
type streamFrame struct {
	models.Job
	Error string `json:"error"`
}

// streamOnce dials the push channel and consumes snapshots until the
// connection drops, the context ends, or the job goes terminal.
func (c *JobClient) streamOnce(sub *subscription) (terminal bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.DialContext(sub.ctx, c.api.StreamURL(sub.jobID), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return false, ErrAuthRejected
		}
		return false, err
	}
	defer conn.Close()

	// unblock ReadJSON when the subscription is torn down
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-sub.ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var frame streamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == authCloseCode {
				return false, ErrAuthRejected
			}
			return false, err
		}
		if frame.Error != "" {
			if frame.Error == "unauthorized" {
				return false, ErrAuthRejected
			}
			return false, fmt.Errorf("engine stream error: %s", frame.Error)
		}
		if frame.JobID == "" {
			// not a snapshot; never apply
			continue
		}
		if c.apply(&frame.Job) && frame.Status.IsTerminal() {
			return true, nil
		}
	}
}

// pollLoop is the pull fallback: periodic GetJob until terminal state. The
// websocket budget is already spent by the time this runs, so when polls
// fail MaxReconnects times in a row too, the subscription gives up and
// surfaces ErrTransportExhausted.
func (c *JobClient) pollLoop(sub *subscription) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-ticker.C:
		}

		job, err := c.api.GetJob(sub.ctx, sub.jobID)
		if err != nil {
			if errors.Is(err, engine.ErrUnauthorized) {
				c.notifyError(sub.jobID, ErrAuthRejected)
				return
			}
			failures++
			if failures >= c.cfg.MaxReconnects {
				log.Printf("[JobStream] %s: poll fallback gave up after %d consecutive failures", sub.jobID, failures)
				c.notifyError(sub.jobID, ErrTransportExhausted)
				return
			}
			log.Printf("[JobStream] %s: poll failed: %v", sub.jobID, err)
			continue
		}
		failures = 0

		c.apply(job)
		if job.Status.IsTerminal() {
			return
		}
	}
}

// apply runs the meaningful-change filter and, when the snapshot passes,
// swaps it in and notifies the listener. Returns whether it was applied.
// The filter is a correctness guard, not an optimization: every accepted
// update re-triggers downstream reconciliation, so echoing identical
// snapshots would recompute the whole ledger for nothing.
func (c *JobClient) apply(next *models.Job) bool {
	if next == nil {
		return false
	}

	c.mu.Lock()
	if c.jobID != "" && next.JobID != "" && next.JobID != c.jobID {
		// stale message from a previous subscription
		c.mu.Unlock()
		return false
	}
	if !meaningfulChange(c.snapshot, next) {
		c.mu.Unlock()
		return false
	}

	applied := next.Clone()
	c.snapshot = applied

	var stallCleared bool
	if math.Abs(next.Progress-c.baselineProgress) > stallEpsilon {
		c.baselineProgress = next.Progress
		c.baselineAt = time.Now()
		if c.stalled {
			c.stalled = false
			stallCleared = true
		}
	}
	jobID := c.jobID
	c.mu.Unlock()

	if stallCleared {
		c.notifyStall(jobID, false)
	}
	c.notifyUpdate(applied)
	return true
}

// meaningfulChange reports whether next differs from cur in status, progress,
// result presence, or error message
func meaningfulChange(cur, next *models.Job) bool {
	if cur == nil {
		return true
	}
	if cur.Status != next.Status {
		return true
	}
	if cur.Progress != next.Progress {
		return true
	}
	if (cur.Result == nil) != (next.Result == nil) {
		return true
	}
	return cur.ErrorMessage != next.ErrorMessage
}

// watchdog raises the advisory stall signal when a running job's progress
// has not moved beyond the epsilon for the configured threshold. It never
// cancels anything; the signal clears itself on the next real progress.
func (c *JobClient) watchdog(sub *subscription) {
	ticker := time.NewTicker(c.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		running := c.snapshot != nil && c.snapshot.Status == models.JobStatusRunning
		overdue := time.Since(c.baselineAt) >= c.cfg.StallThreshold
		raise := running && overdue && !c.stalled
		if raise {
			c.stalled = true
		}
		jobID := c.jobID
		c.mu.Unlock()

		if raise {
			log.Printf("[JobStream] %s: no progress for %v, flagging as possibly stalled", jobID, c.cfg.StallThreshold)
			c.notifyStall(jobID, true)
		}
	}
}

func (c *JobClient) notifyUpdate(job *models.Job) {
	c.listenerMux.RLock()
	l := c.listener
	c.listenerMux.RUnlock()
	if l != nil {
		l.OnJobUpdate(job)
	}
}

func (c *JobClient) notifyStall(jobID string, stalled bool) {
	c.listenerMux.RLock()
	l := c.listener
	c.listenerMux.RUnlock()
	if l != nil {
		l.OnStallChange(jobID, stalled)
	}
}

func (c *JobClient) notifyError(jobID string, err error) {
	c.listenerMux.RLock()
	l := c.listener
	c.listenerMux.RUnlock()
	if l != nil {
		l.OnStreamError(jobID, err)
	}
}
