package models

// Position is one reconstructed round-trip trade, derived from a trade_id
// group of transactions. Positions are rebuilt from scratch on every
// reconciliation pass and never mutated in place.
type Position struct {
	TradeID      string          `json:"trade_id"`
	PositionType PositionType    `json:"position_type,omitempty"`
	EntryAction  TransactionType `json:"entry_action,omitempty"`
	ExitAction   TransactionType `json:"exit_action,omitempty"`
	EntryDate    string          `json:"entry_date,omitempty"`
	EntryPrice   *float64        `json:"entry_price,omitempty"`

	// TotalQuantity is the entry leg's quantity only. Summing the whole
	// group would double count entry and exit legs of the same shares.
	TotalQuantity int `json:"total_quantity"`

	TotalPnL               float64 `json:"total_pnl"`
	TotalPnLComm           float64 `json:"total_pnl_comm"`
	TotalBrokerage         float64 `json:"total_brokerage"`
	TotalPlatformFees      float64 `json:"total_platform_fees"`
	TotalTransactionAmount float64 `json:"total_transaction_amount"`
	TotalAmount            float64 `json:"total_amount"`

	IsClosed          bool `json:"is_closed"`
	RemainingQuantity int  `json:"remaining_quantity"`

	// Transactions retains the full group for drill-down views
	Transactions []Transaction `json:"transactions"`
}
