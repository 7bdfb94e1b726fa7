package ledger

import "github.com/mumbaionweb/algoai-console/internal/models"

// Diagnostic reports a disagreement between the engine's scalar trade counter
// and the position list. It is display-only: neither number is ever adjusted
// to match the other, and the mismatch never blocks rendering.
type Diagnostic struct {
	// Source is "engine" when the engine supplied its own position list,
	// "derived" when the comparison fell back to reconciled positions.
	Source          string `json:"source"`
	ReportedTrades  int    `json:"reported_trades"`
	PositionCount   int    `json:"position_count"`
	OpenPositions   int    `json:"open_positions"`
	ClosedPositions int    `json:"closed_positions"`
	UniqueTradeIDs  int    `json:"unique_trade_ids"`
}

// CheckTradeCount compares the engine's reported total_trades against the
// position list. The engine's own positions are authoritative when present;
// otherwise the client-derived positions are used and the comparison is on
// unique trade id cardinality. Returns nil when the counters agree.
func CheckTradeCount(result *models.BacktestResult, derived []models.Position) *Diagnostic {
	if result == nil {
		return nil
	}

	if len(result.Positions) > 0 {
		if len(result.Positions) == result.TotalTrades {
			return nil
		}
		d := describe(result.Positions)
		d.Source = "engine"
		d.ReportedTrades = result.TotalTrades
		return d
	}

	d := describe(derived)
	if d.UniqueTradeIDs == result.TotalTrades {
		return nil
	}
	d.Source = "derived"
	d.ReportedTrades = result.TotalTrades
	return d
}

func describe(positions []models.Position) *Diagnostic {
	d := &Diagnostic{PositionCount: len(positions)}
	seen := make(map[string]struct{})
	for _, p := range positions {
		if p.IsClosed {
			d.ClosedPositions++
		} else {
			d.OpenPositions++
		}
		if _, ok := seen[p.TradeID]; !ok {
			seen[p.TradeID] = struct{}{}
		}
	}
	d.UniqueTradeIDs = len(seen)
	return d
}
