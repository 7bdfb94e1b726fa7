// Package ledger turns the flat transaction log of a completed backtest into
// browsable views: reconstructed round-trip positions, the chronological
// ledger, and diagnostics for counters that disagree with the engine.
//
// Everything here is pure and best-effort: malformed or partial records
// degrade to zero/empty values instead of failing a whole reconciliation.
package ledger

import (
	"sort"

	"github.com/mumbaionweb/algoai-console/internal/models"
	"github.com/shopspring/decimal"
)

// Reconcile groups an unordered transaction log by trade id and rebuilds one
// Position per group. Output is deterministic for a given input and is sorted
// ascending by entry date, stable on ties.
func Reconcile(transactions []models.Transaction) []models.Position {
	groups := make(map[string][]models.Transaction)
	order := make([]string, 0)

	for _, tx := range transactions {
		key := tx.GroupKey()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], tx)
	}

	positions := make([]models.Position, 0, len(order))
	for _, key := range order {
		positions = append(positions, buildPosition(key, groups[key]))
	}

	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].EntryDate < positions[j].EntryDate
	})

	return positions
}

// buildPosition reconstructs one round-trip trade from a trade_id group.
func buildPosition(tradeID string, group []models.Transaction) models.Position {
	group = append([]models.Transaction(nil), group...)
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].ReconcileDate() < group[j].ReconcileDate()
	})

	entry := findEntry(group)

	pos := models.Position{
		TradeID:      tradeID,
		Transactions: group,
	}

	if entry != nil {
		pos.PositionType = entry.PositionType
		pos.EntryAction = entry.EntryAction
		pos.ExitAction = entry.ExitAction
		pos.EntryDate = entry.EntryDate
		pos.EntryPrice = entry.EntryPrice
		// Quantity of the entry leg only. Summing the whole group would
		// count the same shares once on open and again on close.
		pos.TotalQuantity = entry.Quantity
	}

	exitQty := 0
	for _, tx := range group {
		if isExit(tx) {
			exitQty += tx.Quantity
		}
	}

	var pnl, pnlComm, brokerage, fees, txAmount, totalAmount decimal.Decimal
	for _, tx := range group {
		pnl = pnl.Add(fromPtr(tx.PnL))
		pnlComm = pnlComm.Add(fromPtr(tx.PnLComm))
		brokerage = brokerage.Add(fromPtr(tx.Brokerage))
		fees = fees.Add(fromPtr(tx.PlatformFees))
		txAmount = txAmount.Add(fromPtr(tx.TransactionAmount))
		totalAmount = totalAmount.Add(fromPtr(tx.TotalAmount))
	}
	pos.TotalPnL, _ = pnl.Float64()
	pos.TotalPnLComm, _ = pnlComm.Float64()
	pos.TotalBrokerage, _ = brokerage.Float64()
	pos.TotalPlatformFees, _ = fees.Float64()
	pos.TotalTransactionAmount, _ = txAmount.Float64()
	pos.TotalAmount, _ = totalAmount.Float64()

	pos.IsClosed = pos.TotalQuantity == exitQty
	if remaining := pos.TotalQuantity - exitQty; remaining > 0 {
		pos.RemainingQuantity = remaining
	}

	return pos
}

// findEntry locates the leg that opened the position: status OPENED, or a
// transaction whose type matches its own entry_action and is not CLOSED.
// When nothing qualifies the first element after sorting is used, even if it
// is an exit leg; the engine has been observed emitting such groups and the
// ledger view prefers a lopsided position over a dropped one.
func findEntry(group []models.Transaction) *models.Transaction {
	for i := range group {
		tx := &group[i]
		if tx.Status == models.TransactionStatusOpened {
			return tx
		}
		if tx.Type == tx.EntryAction && tx.EntryAction != "" && tx.Status != models.TransactionStatusClosed {
			return tx
		}
	}
	if len(group) > 0 {
		return &group[0]
	}
	return nil
}

// isExit reports whether a transaction closes (part of) its position.
func isExit(tx models.Transaction) bool {
	if tx.Status == models.TransactionStatusClosed {
		return true
	}
	return tx.Type == tx.ExitAction && tx.ExitAction != "" && tx.Status != models.TransactionStatusOpened
}

func fromPtr(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*v)
}
