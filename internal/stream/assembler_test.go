package stream_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mumbaionweb/algoai-console/internal/engine"
	"github.com/mumbaionweb/algoai-console/internal/models"
	"github.com/mumbaionweb/algoai-console/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bars(times ...string) []models.HistoricalBar {
	out := make([]models.HistoricalBar, len(times))
	for i, ts := range times {
		out[i] = models.HistoricalBar{Time: ts, Close: float64(i + 1)}
	}
	return out
}

func TestAssemblerAccumulatesChunksInOrder(t *testing.T) {
	a := stream.NewSeriesAssembler("day")
	a.Start("day")

	require.NoError(t, a.Apply("day", &engine.BarChunk{
		Interval: "day", TotalPoints: 4, ReturnedPoints: 2, Bars: bars("2024-01-01", "2024-01-02"),
	}))

	s, ok := a.Series("day")
	require.True(t, ok)
	assert.Equal(t, stream.SeriesPartial, s.State)
	assert.True(t, s.Loading)
	assert.Equal(t, 2, s.ReturnedPoints)
	assert.Equal(t, 4, s.TotalPoints)

	require.NoError(t, a.Apply("day", &engine.BarChunk{
		Interval: "day", TotalPoints: 4, ReturnedPoints: 2, Bars: bars("2024-01-03", "2024-01-04"),
	}))

	s, _ = a.Series("day")
	assert.Equal(t, stream.SeriesComplete, s.State)
	assert.False(t, s.Loading)
	require.Len(t, s.Bars, 4)
	assert.Equal(t, "2024-01-01", s.Bars[0].Time)
	assert.Equal(t, "2024-01-04", s.Bars[3].Time)
}

func TestAssemblerIntervalMismatch(t *testing.T) {
	a := stream.NewSeriesAssembler("day", "week")
	a.Start("day")
	a.Start("week")

	// the engine mislabels the week payload as day
	err := a.Apply("week", &engine.BarChunk{Interval: "day", TotalPoints: 2, Bars: bars("2024-01-01")})
	require.Error(t, err)

	var mismatch *stream.IntervalMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "week", mismatch.Requested)
	assert.Equal(t, "day", mismatch.Received)

	week, _ := a.Series("week")
	assert.Equal(t, stream.SeriesError, week.State)
	assert.Empty(t, week.Bars, "mislabeled data must not be substituted in")

	// the sibling series is unaffected
	require.NoError(t, a.Apply("day", &engine.BarChunk{Interval: "day", TotalPoints: 1, Bars: bars("2024-01-01")}))
	day, _ := a.Series("day")
	assert.Equal(t, stream.SeriesComplete, day.State)
	assert.Len(t, day.Bars, 1)
}

func TestAssemblerSeriesViewsAreCopies(t *testing.T) {
	a := stream.NewSeriesAssembler("day")
	require.NoError(t, a.Apply("day", &engine.BarChunk{Interval: "day", TotalPoints: 2, Bars: bars("2024-01-01", "2024-01-02")}))

	first, _ := a.Series("day")
	first.Bars[0].Close = -1

	second, _ := a.Series("day")
	assert.NotEqual(t, -1.0, second.Bars[0].Close, "mutating a view must not affect the buffer")
}

func TestAssemblerUnknownSeriesIgnored(t *testing.T) {
	a := stream.NewSeriesAssembler("day")
	require.NoError(t, a.Apply("month", &engine.BarChunk{Interval: "month", Bars: bars("2024-01-01")}))

	_, ok := a.Series("month")
	assert.False(t, ok)
}

func TestAssemblerEmptyChunkCompletesSeries(t *testing.T) {
	a := stream.NewSeriesAssembler("day")
	require.NoError(t, a.Apply("day", &engine.BarChunk{Interval: "day"}))

	s, _ := a.Series("day")
	assert.Equal(t, stream.SeriesComplete, s.State)
	assert.Empty(t, s.Bars)
}

// chartStub pages a fixed series and can mislabel or fail specific intervals
type chartStub struct {
	mu       sync.Mutex
	data     map[string][]models.HistoricalBar
	mislabel map[string]string
	failWith map[string]error
}

func (s *chartStub) FetchBarChunk(_ context.Context, _, interval string, offset, limit int) (*engine.BarChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failWith[interval]; err != nil {
		return nil, err
	}

	all := s.data[interval]
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	page := all[offset:end]

	tag := interval
	if relabeled, ok := s.mislabel[interval]; ok {
		tag = relabeled
	}
	return &engine.BarChunk{
		Interval:       tag,
		TotalPoints:    len(all),
		ReturnedPoints: len(page),
		Bars:           append([]models.HistoricalBar(nil), page...),
	}, nil
}

func TestLoadPagesAllSeriesToCompletion(t *testing.T) {
	stub := &chartStub{data: map[string][]models.HistoricalBar{
		"day":  bars("d1", "d2", "d3"),
		"week": bars("w1", "w2"),
	}}

	a := stream.NewSeriesAssembler("day", "week")
	a.Load(context.Background(), stub, "job-1", 1000)

	day, _ := a.Series("day")
	require.Equal(t, stream.SeriesComplete, day.State)
	assert.Len(t, day.Bars, 3)

	week, _ := a.Series("week")
	require.Equal(t, stream.SeriesComplete, week.State)
	assert.Len(t, week.Bars, 2)
}

func TestLoadMislabeledSeriesFailsAloneSiblingProceeds(t *testing.T) {
	stub := &chartStub{
		data: map[string][]models.HistoricalBar{
			"day":  bars("d1", "d2"),
			"week": bars("w1"),
		},
		mislabel: map[string]string{"week": "day"},
	}

	a := stream.NewSeriesAssembler("day", "week")
	a.Load(context.Background(), stub, "job-1", 1000)

	week, _ := a.Series("week")
	assert.Equal(t, stream.SeriesError, week.State)
	assert.Contains(t, week.Error, "interval mismatch")

	day, _ := a.Series("day")
	assert.Equal(t, stream.SeriesComplete, day.State)
	assert.Len(t, day.Bars, 2)
}

func TestLoadTransportErrorMarksSeries(t *testing.T) {
	stub := &chartStub{
		data:     map[string][]models.HistoricalBar{"day": bars("d1")},
		failWith: map[string]error{"day": errors.New("connection reset")},
	}

	a := stream.NewSeriesAssembler("day")
	a.Load(context.Background(), stub, "job-1", 100)

	day, _ := a.Series("day")
	assert.Equal(t, stream.SeriesError, day.State)
	assert.Contains(t, day.Error, "connection reset")
}

// endlessChart claims an enormous total and keeps returning full pages
type endlessChart struct{}

func (endlessChart) FetchBarChunk(_ context.Context, _, interval string, _, limit int) (*engine.BarChunk, error) {
	return &engine.BarChunk{
		Interval:       interval,
		TotalPoints:    1 << 30,
		ReturnedPoints: limit,
		Bars:           make([]models.HistoricalBar, limit),
	}, nil
}

func TestLoadBudgetExhaustionCompletesSeries(t *testing.T) {
	stub := &chartStub{data: map[string][]models.HistoricalBar{
		"day": bars("d1", "d2", "d3", "d4", "d5", "d6"),
	}}

	a := stream.NewSeriesAssembler("day")
	a.Load(context.Background(), stub, "job-1", 4)

	day, _ := a.Series("day")
	require.Equal(t, stream.SeriesComplete, day.State)
	assert.False(t, day.Loading)
	assert.Len(t, day.Bars, 4)
}

func TestLoadRunawayTotalStillTerminates(t *testing.T) {
	a := stream.NewSeriesAssembler("day")
	a.Load(context.Background(), endlessChart{}, "job-1", 0)

	day, _ := a.Series("day")
	require.Equal(t, stream.SeriesComplete, day.State)
	assert.False(t, day.Loading)
	assert.NotEmpty(t, day.Bars)
}
