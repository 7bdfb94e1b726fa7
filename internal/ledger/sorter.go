package ledger

import (
	"sort"

	"github.com/mumbaionweb/algoai-console/internal/models"
	"github.com/shopspring/decimal"
)

// Totals are the grand sums of the financial fields across a transaction
// list. Absent fields contribute zero.
type Totals struct {
	PnL               float64 `json:"pnl"`
	PnLComm           float64 `json:"pnl_comm"`
	Brokerage         float64 `json:"brokerage"`
	PlatformFees      float64 `json:"platform_fees"`
	TransactionAmount float64 `json:"transaction_amount"`
	TotalAmount       float64 `json:"total_amount"`
}

// LedgerView is the flat chronological transaction view for display. It does
// not group by trade; drill-down grouping is Reconcile's job.
type LedgerView struct {
	Transactions []models.Transaction `json:"transactions"`
	Totals       Totals               `json:"totals"`
}

// Chronological sorts transactions ascending by their type-dependent ledger
// date (entry_date for BUY, exit_date for SELL, each with fallbacks), with a
// secondary tie-break on entry_date. The input slice is not modified, and
// sorting an already sorted list is a no-op.
func Chronological(transactions []models.Transaction) LedgerView {
	sorted := append([]models.Transaction(nil), transactions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].LedgerDate(), sorted[j].LedgerDate()
		if a != b {
			return a < b
		}
		return sorted[i].EntryDate < sorted[j].EntryDate
	})

	var pnl, pnlComm, brokerage, fees, txAmount, totalAmount decimal.Decimal
	for _, tx := range sorted {
		pnl = pnl.Add(fromPtr(tx.PnL))
		pnlComm = pnlComm.Add(fromPtr(tx.PnLComm))
		brokerage = brokerage.Add(fromPtr(tx.Brokerage))
		fees = fees.Add(fromPtr(tx.PlatformFees))
		txAmount = txAmount.Add(fromPtr(tx.TransactionAmount))
		totalAmount = totalAmount.Add(fromPtr(tx.TotalAmount))
	}

	view := LedgerView{Transactions: sorted}
	view.Totals.PnL, _ = pnl.Float64()
	view.Totals.PnLComm, _ = pnlComm.Float64()
	view.Totals.Brokerage, _ = brokerage.Float64()
	view.Totals.PlatformFees, _ = fees.Float64()
	view.Totals.TransactionAmount, _ = txAmount.Float64()
	view.Totals.TotalAmount, _ = totalAmount.Float64()
	return view
}
