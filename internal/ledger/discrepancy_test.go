package ledger_test

import (
	"testing"

	"github.com/mumbaionweb/algoai-console/internal/ledger"
	"github.com/mumbaionweb/algoai-console/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTradeCountEngineAuthoritativeMatch(t *testing.T) {
	result := &models.BacktestResult{
		TotalTrades: 2,
		Positions: []models.Position{
			{TradeID: "T1", IsClosed: true},
			{TradeID: "T2"},
		},
	}

	assert.Nil(t, ledger.CheckTradeCount(result, nil))
}

func TestCheckTradeCountEngineAuthoritativeMismatch(t *testing.T) {
	result := &models.BacktestResult{
		TotalTrades: 3,
		Positions: []models.Position{
			{TradeID: "T1", IsClosed: true},
			{TradeID: "T2"},
		},
	}

	d := ledger.CheckTradeCount(result, nil)
	require.NotNil(t, d)
	assert.Equal(t, "engine", d.Source)
	assert.Equal(t, 3, d.ReportedTrades)
	assert.Equal(t, 2, d.PositionCount)
	assert.Equal(t, 1, d.OpenPositions)
	assert.Equal(t, 1, d.ClosedPositions)
	assert.Equal(t, 2, d.UniqueTradeIDs)

	// the diagnostic reports, it never corrects
	assert.Equal(t, 3, result.TotalTrades)
	assert.Len(t, result.Positions, 2)
}

func TestCheckTradeCountFallsBackToDerivedPositions(t *testing.T) {
	result := &models.BacktestResult{TotalTrades: 2}
	derived := []models.Position{
		{TradeID: "T1", IsClosed: true},
		{TradeID: "T2", IsClosed: true},
		{TradeID: "unlinked"},
	}

	d := ledger.CheckTradeCount(result, derived)
	require.NotNil(t, d)
	assert.Equal(t, "derived", d.Source)
	assert.Equal(t, 2, d.ReportedTrades)
	assert.Equal(t, 3, d.UniqueTradeIDs)
	assert.Equal(t, 1, d.OpenPositions)
	assert.Equal(t, 2, d.ClosedPositions)
}

func TestCheckTradeCountDerivedMatch(t *testing.T) {
	result := &models.BacktestResult{TotalTrades: 1}
	derived := []models.Position{{TradeID: "T1", IsClosed: true}}

	assert.Nil(t, ledger.CheckTradeCount(result, derived))
}

func TestCheckTradeCountNilResult(t *testing.T) {
	assert.Nil(t, ledger.CheckTradeCount(nil, []models.Position{{TradeID: "T1"}}))
}
