package models

// TransactionType is the side of a ledger event
type TransactionType string

const (
	TransactionTypeBuy  TransactionType = "BUY"
	TransactionTypeSell TransactionType = "SELL"
)

// TransactionStatus describes where a transaction sits in its position lifecycle
type TransactionStatus string

const (
	TransactionStatusOpened TransactionStatus = "OPENED"
	TransactionStatusClosed TransactionStatus = "CLOSED"
)

// PositionType is the direction of the round-trip trade a transaction belongs to
type PositionType string

const (
	PositionTypeLong  PositionType = "LONG"
	PositionTypeShort PositionType = "SHORT"
)

// UnlinkedTradeID is the bucket for transactions the engine emitted without a trade id
const UnlinkedTradeID = "unlinked"

// Transaction represents one ledger event emitted by the backtest engine.
// Dates are ISO-8601 strings as received on the wire; empty string means absent.
// Optional numeric fields are pointers so absent can be told apart from zero.
type Transaction struct {
	TradeID      string            `json:"trade_id,omitempty"`
	Type         TransactionType   `json:"type"`
	Status       TransactionStatus `json:"status,omitempty"`
	Quantity     int               `json:"quantity"`
	EntryAction  TransactionType   `json:"entry_action,omitempty"`
	ExitAction   TransactionType   `json:"exit_action,omitempty"`
	EntryDate    string            `json:"entry_date,omitempty"`
	ExitDate     string            `json:"exit_date,omitempty"`
	Date         string            `json:"date,omitempty"`
	EntryPrice   *float64          `json:"entry_price,omitempty"`
	ExitPrice    *float64          `json:"exit_price,omitempty"`
	PositionType PositionType      `json:"position_type,omitempty"`

	PnL               *float64 `json:"pnl,omitempty"`
	PnLComm           *float64 `json:"pnl_comm,omitempty"`
	Brokerage         *float64 `json:"brokerage,omitempty"`
	PlatformFees      *float64 `json:"platform_fees,omitempty"`
	TransactionAmount *float64 `json:"transaction_amount,omitempty"`
	TotalAmount       *float64 `json:"total_amount,omitempty"`
}

// GroupKey returns the trade id bucket this transaction reconciles into
func (t Transaction) GroupKey() string {
	if t.TradeID == "" {
		return UnlinkedTradeID
	}
	return t.TradeID
}

// ReconcileDate is the ordering key used when grouping transactions into
// positions: exit_date, then entry_date, then the generic date, then empty.
// ISO-8601 strings compare correctly lexicographically, so no parsing is done.
func (t Transaction) ReconcileDate() string {
	if t.ExitDate != "" {
		return t.ExitDate
	}
	if t.EntryDate != "" {
		return t.EntryDate
	}
	return t.Date
}

// LedgerDate is the ordering key for the flat chronological view. BUY legs
// sort by entry_date, SELL legs by exit_date, each falling back through the
// other date and then the generic date.
func (t Transaction) LedgerDate() string {
	if t.Type == TransactionTypeSell {
		return firstNonEmpty(t.ExitDate, t.EntryDate, t.Date)
	}
	return firstNonEmpty(t.EntryDate, t.ExitDate, t.Date)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
