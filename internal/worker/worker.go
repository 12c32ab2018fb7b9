// Package worker implements the categorization worker pool: loops that
// drain the job queue, claim jobs via the compare-and-set transition in
// the Job Status Store, run the orchestrator, and write status back.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"gmaildispatch/internal/categorize"
	"gmaildispatch/internal/jobs"
	"gmaildispatch/internal/storage"
	"gmaildispatch/pkg/auth"
	"gmaildispatch/pkg/logger"
)

// pollInterval is not referenced by the worker loop: loop blocks in
// Queue.Wait, which re-checks the queue after every wakeup instead of
// sleeping.
const pollInterval = 100 * time.Millisecond

// CategorizeParams is the request_params payload for a "categorization"
// job, decoded from the opaque blob the dispatcher stored at submission.
type CategorizeParams struct {
	ForceRefresh bool `json:"force_refresh"`
	Year         *int `json:"year"`
}

// CategorizeResults is the results payload written back on success.
type CategorizeResults struct {
	Processed      int                  `json:"processed"`
	CategoryCounts map[string]int       `json:"category_counts"`
	EmailIDs       []string             `json:"email_ids"`
	Errors         []categorize.EmailError `json:"errors,omitempty"`
	Insights       categorize.Insights  `json:"insights"`
}

// Pool runs a fixed number of worker loops against a shared queue.
type Pool struct {
	queue        *jobs.Queue
	store        *jobs.Store
	orchestrator *categorize.Orchestrator
	factory      *storage.Factory
	tokens       *auth.TokenStore
	oauthConfig  *oauth2.Config
	log          *zap.Logger

	wg   sync.WaitGroup
	done chan struct{}
}

// NewPool constructs a worker pool. Call Start to launch its goroutines
// and Stop for graceful shutdown. tokens and oauthConfig may be nil in
// deployments that never submit "cleanup" jobs (categorization-only
// processing needs neither); runCleanup fails such jobs with a clear
// error instead of panicking.
func NewPool(queue *jobs.Queue, store *jobs.Store, orchestrator *categorize.Orchestrator, factory *storage.Factory, tokens *auth.TokenStore, oauthConfig *oauth2.Config) *Pool {
	return &Pool{
		queue:        queue,
		store:        store,
		orchestrator: orchestrator,
		factory:      factory,
		tokens:       tokens,
		oauthConfig:  oauthConfig,
		log:          logger.L().Named("worker.pool"),
		done:         make(chan struct{}),
	}
}

// Start launches n worker goroutines.
func (p *Pool) Start(n int) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("worker-%d", i)
		p.wg.Add(1)
		go p.loop(id)
	}
	p.log.Info("worker pool started", zap.Int("worker_count", n))
}

// Stop signals every worker loop to exit and waits for them to drain.
func (p *Pool) Stop() {
	close(p.done)
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

func (p *Pool) loop(workerID string) {
	defer p.wg.Done()
	log := logger.WorkerLogger(workerID)

	for {
		item, ok := p.queue.Wait(p.done)
		if !ok {
			return
		}
		p.process(log, item)
	}
}

func (p *Pool) process(log *zap.Logger, item jobs.Item) {
	job, err := p.store.Get(item.UserID, item.JobID)
	if err != nil {
		log.Error("failed to load job", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	if job == nil {
		log.Warn("dropping job missing from store", zap.String("job_id", item.JobID))
		return
	}
	if job.Status != "PENDING" {
		log.Debug("dropping job not in PENDING state", zap.String("job_id", item.JobID), zap.String("status", string(job.Status)))
		return
	}

	claimed, err := p.store.Claim(item.UserID, item.JobID)
	if err != nil {
		log.Error("failed to claim job", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	if !claimed {
		log.Debug("job already claimed by another worker", zap.String("job_id", item.JobID))
		return
	}

	log.Info("claimed job", zap.String("job_id", item.JobID), zap.String("job_type", job.JobType))

	switch job.JobType {
	case "categorization":
		p.runCategorization(log, item.UserID, item.JobID, job.RequestParams)
	case "cleanup":
		p.runCleanup(log, item.UserID, item.JobID, job.RequestParams)
	default:
		p.store.Fail(item.UserID, item.JobID, fmt.Errorf("unsupported job type %q", job.JobType))
	}
}

func (p *Pool) runCategorization(log *zap.Logger, userID, jobID string, requestParams []byte) {
	var params CategorizeParams
	if len(requestParams) > 0 {
		if err := json.Unmarshal(requestParams, &params); err != nil {
			p.store.Fail(userID, jobID, fmt.Errorf("invalid request params: %w", err))
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	batch, err := p.orchestrator.RunBatch(ctx, userID, categorize.BatchOptions{
		ForceRefresh: params.ForceRefresh,
		Year:         params.Year,
	})
	if err != nil {
		p.store.Fail(userID, jobID, err)
		return
	}

	results := CategorizeResults{
		Processed:      batch.Processed,
		CategoryCounts: batch.CategoryCounts,
		EmailIDs:       batch.EmailIDs,
		Errors:         batch.Errors,
		Insights:       batch.Insights,
	}
	payload, err := json.Marshal(results)
	if err != nil {
		p.store.Fail(userID, jobID, fmt.Errorf("marshaling results: %w", err))
		return
	}

	if err := p.store.Complete(userID, jobID, payload); err != nil {
		log.Error("failed to mark job completed", zap.String("job_id", jobID), zap.Error(err))
	}
}
