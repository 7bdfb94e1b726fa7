package stream

import (
	"context"
	"log"
	"sync"

	"github.com/mumbaionweb/algoai-console/internal/engine"
	"github.com/mumbaionweb/algoai-console/internal/models"
)

// SeriesState is the per-series loading state
type SeriesState string

const (
	SeriesNotStarted SeriesState = "not_started"
	SeriesLoading    SeriesState = "loading"
	SeriesPartial    SeriesState = "partial"
	SeriesComplete   SeriesState = "complete"
	SeriesError      SeriesState = "error"
)

// Series is a point-in-time view of one interval series: its state, the bars
// accumulated so far, and the engine's point counters. Accessors hand out
// copies, never the internal buffer.
type Series struct {
	Interval       string                 `json:"interval"`
	State          SeriesState            `json:"state"`
	Loading        bool                   `json:"loading"`
	Error          string                 `json:"error,omitempty"`
	Bars           []models.HistoricalBar `json:"bars"`
	TotalPoints    int                    `json:"total_points"`
	ReturnedPoints int                    `json:"returned_points"`
}

// ChartAPI is the slice of the engine client the assembler pages through
type ChartAPI interface {
	FetchBarChunk(ctx context.Context, jobID, interval string, offset, limit int) (*engine.BarChunk, error)
}

const (
	chunkSize = 500

	// maxSeriesPoints caps one series' paging regardless of the caller's
	// budget, so an engine that keeps returning bars past a bogus
	// total_points cannot page forever
	maxSeriesPoints = 100000
)

// SeriesAssembler reassembles the engine's chunked historical-bar feed into
// ordered per-series sequences. Each requested interval progresses through
// not_started → loading → partial* → complete|error independently, so a
// failed series never blocks the others. A single-series request is just the
// one-element case of the same machine.
type SeriesAssembler struct {
	mu     sync.RWMutex
	series map[string]*seriesBuffer
	order  []string
}

type seriesBuffer struct {
	state    SeriesState
	err      error
	bars     []models.HistoricalBar
	total    int
	returned int
}

// NewSeriesAssembler creates an assembler for the named interval series
func NewSeriesAssembler(intervals ...string) *SeriesAssembler {
	a := &SeriesAssembler{series: make(map[string]*seriesBuffer)}
	for _, iv := range intervals {
		if _, dup := a.series[iv]; dup {
			continue
		}
		a.series[iv] = &seriesBuffer{state: SeriesNotStarted}
		a.order = append(a.order, iv)
	}
	return a
}

// Intervals returns the requested series names in request order
func (a *SeriesAssembler) Intervals() []string {
	return append([]string(nil), a.order...)
}

// Start marks a series as loading
func (a *SeriesAssembler) Start(interval string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if buf, ok := a.series[interval]; ok && buf.state == SeriesNotStarted {
		buf.state = SeriesLoading
	}
}

// Apply folds one chunk into the named series. The chunk's bars are copied
// defensively so concurrent series never share a buffer. A chunk tagged with
// a different interval than requested moves the series to the error state
// with an IntervalMismatchError instead of silently substituting data.
func (a *SeriesAssembler) Apply(interval string, chunk *engine.BarChunk) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf, ok := a.series[interval]
	if !ok {
		return nil
	}
	if buf.state == SeriesComplete || buf.state == SeriesError {
		return buf.err
	}

	if chunk.Interval != "" && chunk.Interval != interval {
		buf.state = SeriesError
		buf.err = &IntervalMismatchError{Requested: interval, Received: chunk.Interval}
		return buf.err
	}

	buf.bars = append(buf.bars, chunk.Bars...)
	if chunk.TotalPoints > 0 {
		buf.total = chunk.TotalPoints
	}
	if chunk.ReturnedPoints > 0 {
		buf.returned += chunk.ReturnedPoints
	} else {
		buf.returned += len(chunk.Bars)
	}

	if buf.total > 0 && len(buf.bars) >= buf.total {
		buf.state = SeriesComplete
	} else if len(chunk.Bars) == 0 {
		// engine has nothing more to return for this series
		buf.state = SeriesComplete
	} else {
		buf.state = SeriesPartial
	}
	return nil
}

// Complete marks a partially loaded series as finished. Used when the point
// budget is spent before the engine's reported total is reached; the bars
// gathered so far stand as the series rather than leaving it loading forever.
func (a *SeriesAssembler) Complete(interval string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if buf, ok := a.series[interval]; ok && buf.state != SeriesError {
		buf.state = SeriesComplete
	}
}

// Fail moves a series to the error state
func (a *SeriesAssembler) Fail(interval string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if buf, ok := a.series[interval]; ok {
		buf.state = SeriesError
		buf.err = err
	}
}

// Series returns a value snapshot of one series. The bar slice is a copy.
func (a *SeriesAssembler) Series(interval string) (Series, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	buf, ok := a.series[interval]
	if !ok {
		return Series{}, false
	}
	return buf.view(interval), true
}

// Snapshot returns value snapshots of every requested series, keyed by name
func (a *SeriesAssembler) Snapshot() map[string]Series {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]Series, len(a.series))
	for iv, buf := range a.series {
		out[iv] = buf.view(iv)
	}
	return out
}

func (b *seriesBuffer) view(interval string) Series {
	s := Series{
		Interval:       interval,
		State:          b.state,
		Loading:        b.state == SeriesLoading || b.state == SeriesPartial,
		Bars:           append([]models.HistoricalBar(nil), b.bars...),
		TotalPoints:    b.total,
		ReturnedPoints: b.returned,
	}
	if b.err != nil {
		s.Error = b.err.Error()
	}
	return s
}

// Load pages every requested series from the engine until each completes,
// errors, or spends its share of the point budget. Series load concurrently
// and independently; the first error per series is recorded on that series
// and does not interrupt the rest.
func (a *SeriesAssembler) Load(ctx context.Context, api ChartAPI, jobID string, maxPoints int) {
	budget := 0
	if maxPoints > 0 && len(a.order) > 0 {
		budget = maxPoints / len(a.order)
		if budget < 1 {
			budget = 1
		}
	}

	var wg sync.WaitGroup
	for _, interval := range a.order {
		wg.Add(1)
		go func(interval string) {
			defer wg.Done()
			a.loadSeries(ctx, api, jobID, interval, budget)
		}(interval)
	}
	wg.Wait()
}

func (a *SeriesAssembler) loadSeries(ctx context.Context, api ChartAPI, jobID, interval string, budget int) {
	a.Start(interval)

	if budget <= 0 || budget > maxSeriesPoints {
		budget = maxSeriesPoints
	}

	offset := 0
	for {
		if ctx.Err() != nil {
			a.Fail(interval, ctx.Err())
			return
		}

		limit := chunkSize
		if budget-offset < limit {
			limit = budget - offset
		}
		if limit <= 0 {
			// budget spent: the series is done with what it has
			a.Complete(interval)
			return
		}

		chunk, err := api.FetchBarChunk(ctx, jobID, interval, offset, limit)
		if err != nil {
			log.Printf("[Chart] %s/%s: chunk fetch failed: %v", jobID, interval, err)
			a.Fail(interval, err)
			return
		}

		if err := a.Apply(interval, chunk); err != nil {
			return
		}

		offset += len(chunk.Bars)

		s, _ := a.Series(interval)
		if s.State == SeriesComplete || s.State == SeriesError {
			return
		}
	}
}
