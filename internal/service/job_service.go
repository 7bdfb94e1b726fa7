package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/mumbaionweb/algoai-console/internal/engine"
	"github.com/mumbaionweb/algoai-console/internal/ledger"
	"github.com/mumbaionweb/algoai-console/internal/models"
	"github.com/mumbaionweb/algoai-console/internal/repository"
	"github.com/mumbaionweb/algoai-console/internal/stream"
)

var ErrNoResult = errors.New("job has no result yet")

// LedgerViews bundles everything the ledger endpoints serve for one
// completed job. Built once per result payload and treated as immutable.
type LedgerViews struct {
	Positions     []models.Position  `json:"positions"`
	Chronological ledger.LedgerView  `json:"chronological"`
	Diagnostic    *ledger.Diagnostic `json:"diagnostic,omitempty"`
}

// StatusView is a job snapshot plus the advisory stall flag
type StatusView struct {
	Job     *models.Job `json:"job"`
	Stalled bool        `json:"stalled,omitempty"`
}

// JobService orchestrates the live job subscription, the snapshot cache, the
// reconciliation pipeline, and the archive of finished runs. It is the
// stream.Listener for the progress client, so every meaningful snapshot
// flows through OnJobUpdate exactly once.
type JobService struct {
	engine  *engine.Client
	client  *stream.JobClient
	cache   *SnapshotCache
	jobRepo *repository.JobRecordRepository
	rootCtx context.Context

	mu      sync.RWMutex
	stalled map[string]bool
	ledgers map[string]*LedgerViews
	owners  map[string]uint
}

// NewJobService creates a new JobService. rootCtx bounds the background work
// triggered by stream events (cache writes, archiving).
func NewJobService(
	rootCtx context.Context,
	engineClient *engine.Client,
	jobClient *stream.JobClient,
	cache *SnapshotCache,
	jobRepo *repository.JobRecordRepository,
) *JobService {
	s := &JobService{
		engine:  engineClient,
		client:  jobClient,
		cache:   cache,
		jobRepo: jobRepo,
		rootCtx: rootCtx,
		stalled: make(map[string]bool),
		ledgers: make(map[string]*LedgerViews),
		owners:  make(map[string]uint),
	}
	jobClient.SetListener(s)
	return s
}

// Submit creates a job on the engine, records it in the archive, and starts
// streaming its progress.
func (s *JobService) Submit(ctx context.Context, userID uint, req *engine.SubmitRequest) (*models.Job, error) {
	job, err := s.engine.SubmitJob(ctx, req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.owners[job.JobID] = userID
	s.mu.Unlock()

	record := &models.JobRecord{
		UserID:      userID,
		JobID:       job.JobID,
		Symbol:      req.Symbol,
		Strategy:    req.Strategy,
		Status:      job.Status,
		SubmittedAt: time.Now(),
	}
	if err := s.jobRepo.Upsert(record); err != nil {
		log.Printf("[JobService] failed to archive submission %s: %v", job.JobID, err)
	}

	s.Watch(job.JobID)
	return job, nil
}

// Watch switches the live subscription to jobID. The previous subscription,
// if any, stops consuming before the new one starts.
func (s *JobService) Watch(jobID string) {
	s.client.Subscribe(s.rootCtx, jobID)
}

// Unwatch tears down the live subscription if jobID is the watched job, and
// drops the job's local state either way. Unwatching a job that is not the
// one being watched must not disturb the active subscription.
func (s *JobService) Unwatch(jobID string) {
	if s.client.JobID() == jobID {
		s.client.Close()
	}

	s.mu.Lock()
	delete(s.stalled, jobID)
	delete(s.ledgers, jobID)
	s.mu.Unlock()

	if err := s.cache.Drop(s.rootCtx, jobID); err != nil {
		log.Printf("[JobService] failed to drop cached snapshot %s: %v", jobID, err)
	}
}

// Status returns the freshest snapshot available: the live subscription
// first, then the redis cache, then a direct engine read.
func (s *JobService) Status(ctx context.Context, jobID string) (*StatusView, error) {
	s.mu.RLock()
	stalled := s.stalled[jobID]
	s.mu.RUnlock()

	if snap := s.client.Snapshot(); snap != nil && snap.JobID == jobID {
		return &StatusView{Job: snap, Stalled: stalled}, nil
	}

	if cached, err := s.cache.Get(ctx, jobID); err == nil && cached != nil {
		return &StatusView{Job: cached, Stalled: stalled}, nil
	}

	job, err := s.engine.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &StatusView{Job: job, Stalled: stalled}, nil
}

// List proxies the engine's recent jobs
func (s *JobService) List(ctx context.Context, limit int) ([]models.Job, error) {
	return s.engine.ListJobs(ctx, limit)
}

// Archive returns the caller's archived runs, newest first
func (s *JobService) Archive(userID uint, page, pageSize int) ([]models.JobRecord, int64, error) {
	return s.jobRepo.GetByUserIDPaginated(userID, page, pageSize)
}

// Cancel forwards a cancel to the engine. For the watched job the stream
// client handles it (including the optimistic refresh); for any other job
// the engine is called directly.
func (s *JobService) Cancel(ctx context.Context, jobID string) error {
	if s.isWatched(jobID) {
		return s.client.Cancel(ctx)
	}
	return s.engine.CancelJob(ctx, jobID)
}

// Pause forwards a pause to the engine
func (s *JobService) Pause(ctx context.Context, jobID string) error {
	if s.isWatched(jobID) {
		return s.client.Pause(ctx)
	}
	return s.engine.PauseJob(ctx, jobID)
}

// Resume forwards a resume to the engine
func (s *JobService) Resume(ctx context.Context, jobID string) error {
	if s.isWatched(jobID) {
		return s.client.Resume(ctx)
	}
	return s.engine.ResumeJob(ctx, jobID)
}

func (s *JobService) isWatched(jobID string) bool {
	snap := s.client.Snapshot()
	return snap != nil && snap.JobID == jobID
}

// Ledger returns the reconciled views for a completed job, building them on
// demand when the completion event was not observed live (restart, archive
// browsing).
func (s *JobService) Ledger(ctx context.Context, jobID string) (*LedgerViews, error) {
	s.mu.RLock()
	views := s.ledgers[jobID]
	s.mu.RUnlock()
	if views != nil {
		return views, nil
	}

	result, err := s.loadResult(ctx, jobID)
	if err != nil {
		return nil, err
	}

	views = buildLedgerViews(result)

	s.mu.Lock()
	s.ledgers[jobID] = views
	s.mu.Unlock()
	return views, nil
}

// Chart loads the requested interval series for a job's chart. Each series
// completes or fails independently; the returned map always covers every
// requested interval.
func (s *JobService) Chart(ctx context.Context, jobID string, intervals []string, maxPoints int) (map[string]stream.Series, error) {
	if len(intervals) == 0 {
		return nil, errors.New("at least one interval is required")
	}

	assembler := stream.NewSeriesAssembler(intervals...)
	assembler.Load(ctx, s.engine, jobID, maxPoints)
	return assembler.Snapshot(), nil
}

// loadResult finds a job's terminal payload: live snapshot, then archive,
// then the engine.
func (s *JobService) loadResult(ctx context.Context, jobID string) (*models.BacktestResult, error) {
	if snap := s.client.Snapshot(); snap != nil && snap.JobID == jobID && snap.Result != nil {
		return snap.Result, nil
	}

	if record, err := s.jobRepo.GetByJobID(jobID); err == nil && len(record.ResultJSON) > 0 {
		var result models.BacktestResult
		if err := json.Unmarshal(record.ResultJSON, &result); err == nil {
			return &result, nil
		}
	}

	job, err := s.engine.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Result == nil {
		return nil, ErrNoResult
	}
	return job.Result, nil
}

// buildLedgerViews runs the pure reconciliation pipeline over one result
func buildLedgerViews(result *models.BacktestResult) *LedgerViews {
	positions := ledger.Reconcile(result.Transactions)
	return &LedgerViews{
		Positions:     positions,
		Chronological: ledger.Chronological(result.Transactions),
		Diagnostic:    ledger.CheckTradeCount(result, positions),
	}
}

// OnJobUpdate implements stream.Listener: every accepted snapshot refreshes
// the cache, and a completed result triggers reconciliation plus archiving.
func (s *JobService) OnJobUpdate(job *models.Job) {
	if err := s.cache.Put(s.rootCtx, job); err != nil {
		log.Printf("[JobService] failed to cache snapshot %s: %v", job.JobID, err)
	}

	if !job.Status.IsTerminal() {
		return
	}

	var views *LedgerViews
	if job.Status == models.JobStatusCompleted && job.Result != nil {
		views = buildLedgerViews(job.Result)
		s.mu.Lock()
		s.ledgers[job.JobID] = views
		s.mu.Unlock()

		if views.Diagnostic != nil {
			log.Printf("[JobService] %s: engine reported %d trades but %d positions reconstructed",
				job.JobID, views.Diagnostic.ReportedTrades, views.Diagnostic.PositionCount)
		}
	}

	s.archive(job, views)
}

// OnStallChange implements stream.Listener
func (s *JobService) OnStallChange(jobID string, stalled bool) {
	s.mu.Lock()
	s.stalled[jobID] = stalled
	s.mu.Unlock()
}

// OnStreamError implements stream.Listener
func (s *JobService) OnStreamError(jobID string, err error) {
	log.Printf("[JobService] %s: subscription failed: %v", jobID, err)
}

func (s *JobService) archive(job *models.Job, views *LedgerViews) {
	s.mu.RLock()
	userID := s.owners[job.JobID]
	s.mu.RUnlock()

	record := &models.JobRecord{
		UserID:       userID,
		JobID:        job.JobID,
		Status:       job.Status,
		ErrorMessage: job.ErrorMessage,
		SubmittedAt:  time.Now(),
		CompletedAt:  job.CompletedAt,
	}
	if job.CreatedAt != nil {
		record.SubmittedAt = *job.CreatedAt
	}
	if job.Result != nil {
		record.TotalTrades = job.Result.TotalTrades
		record.NetPnL = job.Result.NetPnL
		record.ReturnPct = job.Result.ReturnPct
		record.WinRate = job.Result.WinRate
		record.MaxDrawdownPct = job.Result.MaxDrawdownPct
		if data, err := json.Marshal(job.Result); err == nil {
			record.ResultJSON = data
		}
	}
	if views != nil {
		record.PositionCount = len(views.Positions)
	}

	if err := s.jobRepo.Upsert(record); err != nil {
		log.Printf("[JobService] failed to archive %s: %v", job.JobID, err)
	}
}
