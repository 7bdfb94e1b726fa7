package models

import (
	"time"

	"gorm.io/datatypes"
)

// JobRecord archives one observed backtest job so finished runs stay
// browsable after the live subscription is torn down. The live core never
// reads from it; it is written once per terminal transition.
type JobRecord struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"index;not null" json:"user_id"`
	JobID        string    `gorm:"uniqueIndex;size:64;not null" json:"job_id"`
	Symbol       string    `gorm:"size:30" json:"symbol"`
	Strategy     string    `gorm:"size:100" json:"strategy"`
	Status       JobStatus `gorm:"size:20;index" json:"status"`
	ErrorMessage string    `gorm:"size:500" json:"error_message,omitempty"`

	TotalTrades    int     `json:"total_trades"`
	PositionCount  int     `json:"position_count"`
	NetPnL         float64 `gorm:"type:decimal(20,8)" json:"net_pnl"`
	ReturnPct      float64 `gorm:"type:decimal(10,4)" json:"return_pct"`
	WinRate        float64 `gorm:"type:decimal(10,4)" json:"win_rate"`
	MaxDrawdownPct float64 `gorm:"type:decimal(10,4)" json:"max_drawdown_pct"`

	// ResultJSON is the raw terminal payload for replay
	ResultJSON datatypes.JSON `json:"-"`

	SubmittedAt time.Time  `gorm:"index" json:"submitted_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName specifies the table name for JobRecord model
func (JobRecord) TableName() string {
	return "job_records"
}
