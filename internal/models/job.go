package models

import "time"

// JobStatus is the lifecycle state of a backtest job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusResuming  JobStatus = "resuming"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status has no outgoing transitions
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is one snapshot of an asynchronous backtest run as reported by the
// engine. Result is present only when status is completed; ErrorMessage only
// when status is failed.
type Job struct {
	JobID        string          `json:"job_id"`
	Status       JobStatus       `json:"status"`
	Progress     float64         `json:"progress"`
	CurrentBar   *int            `json:"current_bar,omitempty"`
	TotalBars    *int            `json:"total_bars,omitempty"`
	Result       *BacktestResult `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    *time.Time      `json:"created_at,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	PausedAt     *time.Time      `json:"paused_at,omitempty"`
}

// Clone returns a value copy of the snapshot. The result payload is shared
// because it is treated as immutable once received.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	return &cp
}

// BacktestResult is the terminal payload of a completed job: scalar
// performance metrics, the raw transaction log, and optionally the engine's
// own authoritative position list.
type BacktestResult struct {
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRate        float64 `json:"win_rate"`
	NetPnL         float64 `json:"net_pnl"`
	ReturnPct      float64 `json:"return_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	InitialCapital float64 `json:"initial_capital"`
	FinalCapital   float64 `json:"final_capital"`

	Transactions []Transaction `json:"transactions,omitempty"`
	Positions    []Position    `json:"positions,omitempty"`
}
