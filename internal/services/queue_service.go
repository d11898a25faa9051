package services

import (
	"container/heap"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"lexira-engine/internal/config"
	"lexira-engine/internal/models"
	"lexira-engine/internal/pkg/logger"
)

// QueueService admits, prioritizes, and executes research jobs. Admission
// runs the rate limiter and reserves quota before anything is queued, so a
// job in the queue has already paid its way in. A fixed worker pool dequeues
// by tier priority (FIFO within a priority) behind a token-bucket throttle;
// retryable failures go back to the queue with exponential backoff until
// attempts run out.
type QueueService struct {
	router      *RouterService
	usage       *UsageService
	rateLimiter *RateLimitService
	estimator   *CharTokenEstimator
	config      config.QueueConfig
	logger      *logger.Logger

	limiter *rate.Limiter

	mu      sync.Mutex
	waiting jobHeap
	jobs    map[string]*jobRecord
	seq     uint64

	notify   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	workers  sync.WaitGroup
	janitor  sync.WaitGroup
}

// jobRecord pairs a job with its quota transaction and per-job control state.
type jobRecord struct {
	job    *models.Job
	txnID  string
	cancel context.CancelFunc
	retry  *backoff.ExponentialBackOff
	timer  *time.Timer
}

func NewQueueService(
	router *RouterService,
	usage *UsageService,
	rateLimiter *RateLimitService,
	cfg config.QueueConfig,
	log *logger.Logger,
) *QueueService {
	service := &QueueService{
		router:      router,
		usage:       usage,
		rateLimiter: rateLimiter,
		estimator:   NewCharTokenEstimator(),
		config:      cfg,
		logger:      log,
		limiter:     rate.NewLimiter(rate.Limit(cfg.DequeuePerSecond), 1),
		jobs:        make(map[string]*jobRecord),
		notify:      make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
	heap.Init(&service.waiting)
	return service
}

// Start launches the worker pool and the retention janitor.
func (service *QueueService) Start() {
	for i := 0; i < service.config.Workers; i++ {
		service.workers.Add(1)
		go service.workerLoop(i)
	}

	service.janitor.Add(1)
	go service.retentionLoop()

	service.logger.Info("queue started",
		"workers", service.config.Workers,
		"max_attempts", service.config.MaxAttempts,
		"job_timeout", service.config.JobTimeout.String())
}

// Enqueue admits a query: classify, rate-limit, reserve quota, queue. A
// denied admission returns the error without creating a job; rate-limit
// denials carry a retry-after and are never retried internally.
func (service *QueueService) Enqueue(ctx context.Context, query models.Query) (*models.Job, error) {
	if strings.TrimSpace(query.Text) == "" {
		return nil, models.NewValidationError("EMPTY_QUERY", "query text is required")
	}
	if query.CallerID == "" {
		return nil, models.NewValidationError("MISSING_CALLER", "caller_id is required")
	}

	tier := service.router.Classify(query)

	turns := make([]string, 0, len(query.History)+1)
	for _, turn := range query.History {
		turns = append(turns, turn.Content)
	}
	turns = append(turns, query.Text)
	estimatedTokens := service.estimator.EstimateConversationTokens(turns)

	if decision := service.rateLimiter.Allow(query.CallerID, estimatedTokens); !decision.Allowed {
		return nil, decision.Err()
	}

	begin, err := service.usage.Begin(ctx, query.CallerID)
	if err != nil {
		return nil, err
	}
	if !begin.Allowed {
		return nil, models.NewQuotaError(fmt.Sprintf("daily quota of %d research requests reached", begin.DailyQuota)).
			WithMetadata("current_usage", begin.CurrentUsage).
			WithMetadata("daily_quota", begin.DailyQuota)
	}

	job := models.NewJob(query, tier, service.config.MaxAttempts)

	service.mu.Lock()
	service.seq++
	job.Seq = service.seq
	record := &jobRecord{job: job, txnID: begin.Transaction.ID}
	service.jobs[job.ID] = record
	heap.Push(&service.waiting, job)
	service.mu.Unlock()

	service.signal()

	service.logger.LogJob(job.ID, query.CallerID, "job enqueued", logger.Fields{
		"tier":     string(tier),
		"priority": job.Priority,
	}, nil)

	return job, nil
}

// Status returns the poll-facing snapshot of a job.
func (service *QueueService) Status(jobID string) (*models.JobStatus, error) {
	service.mu.Lock()
	record, ok := service.jobs[jobID]
	if !ok {
		service.mu.Unlock()
		return nil, models.ErrJobNotFound
	}
	job := record.job

	status := &models.JobStatus{
		JobID:    job.ID,
		State:    job.State,
		Tier:     job.Tier,
		Progress: job.Progress,
		Result:   job.Result,
	}
	if job.Err != nil {
		status.Error = job.Err.Message
		status.ErrorCode = job.Err.Code
		status.Category = job.Err.Category
		if job.Err.RetryAfter > 0 {
			status.RetryAfter = int(job.Err.RetryAfter.Seconds())
		}
	}
	service.mu.Unlock()
	return status, nil
}

// Cancel aborts a job. Waiting jobs are removed and their reservation
// released; active jobs get their context canceled and settle through the
// normal failure path. Terminal jobs cannot be canceled.
func (service *QueueService) Cancel(ctx context.Context, jobID string) error {
	service.mu.Lock()
	record, ok := service.jobs[jobID]
	if !ok {
		service.mu.Unlock()
		return models.ErrJobNotFound
	}
	job := record.job

	if job.IsTerminal() {
		service.mu.Unlock()
		return models.NewValidationError("JOB_TERMINAL", "job already finished")
	}

	if job.State == models.JobStateActive {
		cancel := record.cancel
		service.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}

	// Waiting: pull it out of the heap or defuse its retry timer.
	if record.timer != nil {
		record.timer.Stop()
		record.timer = nil
	}
	service.waiting.remove(jobID)
	job.MarkFailed(models.NewValidationError("JOB_CANCELED", "job canceled by caller"))
	txnID := record.txnID
	service.mu.Unlock()

	if err := service.usage.Rollback(ctx, txnID); err != nil {
		service.logger.Warn("rollback after cancel failed", "job_id", jobID, "error", err)
	}

	service.logger.LogJob(jobID, job.Query.CallerID, "job canceled", nil, nil)
	return nil
}

func (service *QueueService) Stats() map[string]interface{} {
	service.mu.Lock()
	defer service.mu.Unlock()

	counts := map[models.JobState]int{}
	for _, record := range service.jobs {
		counts[record.job.State]++
	}

	return map[string]interface{}{
		"queued":    service.waiting.Len(),
		"waiting":   counts[models.JobStateWaiting],
		"active":    counts[models.JobStateActive],
		"completed": counts[models.JobStateCompleted],
		"failed":    counts[models.JobStateFailed],
		"workers":   service.config.Workers,
	}
}

func (service *QueueService) signal() {
	select {
	case service.notify <- struct{}{}:
	default:
	}
}

func (service *QueueService) workerLoop(workerID int) {
	defer service.workers.Done()

	for {
		job := service.dequeue()
		if job == nil {
			return
		}

		if err := service.limiter.Wait(context.Background()); err != nil {
			return
		}

		service.runJob(workerID, job)
	}
}

// dequeue blocks until a job is available or the queue is stopping.
func (service *QueueService) dequeue() *models.Job {
	for {
		service.mu.Lock()
		if service.waiting.Len() > 0 {
			job := heap.Pop(&service.waiting).(*models.Job)
			job.MarkActive()
			service.mu.Unlock()
			service.signal() // more may be waiting for other workers
			return job
		}
		service.mu.Unlock()

		select {
		case <-service.stop:
			return nil
		case <-service.notify:
		}
	}
}

func (service *QueueService) runJob(workerID int, job *models.Job) {
	service.mu.Lock()
	record := service.jobs[job.ID]
	jobCtx, cancel := context.WithTimeout(context.Background(), service.config.JobTimeout)
	if record != nil {
		record.cancel = cancel
	}
	service.mu.Unlock()
	defer cancel()

	service.logger.LogJob(job.ID, job.Query.CallerID, "job started", logger.Fields{
		"worker":  workerID,
		"attempt": job.Attempts,
		"tier":    string(job.Tier),
	}, nil)

	result, err := service.router.Route(jobCtx, job.ID, job.Query, job.Tier)

	// A canceled job is terminal regardless of what the workflow reported:
	// the caller no longer wants the answer, so even a racing success or a
	// retryable collaborator error must not resurrect it.
	if jobCtx.Err() == context.Canceled {
		service.failJob(record, job, models.NewValidationError("JOB_CANCELED", "job canceled by caller").WithCause(err))
		return
	}

	if err == nil {
		service.completeJob(record, job, result)
		return
	}

	// A timed-out workflow would only time out again; fail it without
	// consuming the remaining attempts.
	if jobCtx.Err() == context.DeadlineExceeded {
		service.failJob(record, job, models.NewTimeoutError("JOB_TIMEOUT", fmt.Sprintf("job exceeded %s", service.config.JobTimeout)).WithCause(err))
		return
	}

	appErr := models.AsAppError(err)
	if models.IsRetryable(appErr) && !job.AttemptsExhausted() {
		service.scheduleRetry(record, job, appErr)
		return
	}

	service.failJob(record, job, appErr)
}

func (service *QueueService) completeJob(record *jobRecord, job *models.Job, result *models.ResearchResult) {
	service.mu.Lock()
	job.MarkCompleted(result)
	var txnID string
	if record != nil {
		txnID = record.txnID
		record.cancel = nil
	}
	service.mu.Unlock()

	// A cached answer did no paid work, so its reservation is returned
	// instead of committed.
	ctx := context.Background()
	var settleErr error
	if result.FromCache {
		settleErr = service.usage.Rollback(ctx, txnID)
	} else {
		settleErr = service.usage.Commit(ctx, txnID)
	}
	if settleErr != nil {
		service.logger.Error("usage settlement failed", "job_id", job.ID, "error", settleErr)
	}

	service.logger.LogJob(job.ID, job.Query.CallerID, "job completed", logger.Fields{
		"tier":        string(job.Tier),
		"from_cache":  result.FromCache,
		"tokens_used": result.TokensUsed,
	}, nil)
}

func (service *QueueService) scheduleRetry(record *jobRecord, job *models.Job, cause *models.AppError) {
	service.mu.Lock()

	if record.retry == nil {
		retry := backoff.NewExponentialBackOff()
		retry.InitialInterval = service.config.BaseRetryDelay
		retry.MaxInterval = service.config.MaxRetryDelay
		record.retry = retry
	}
	delay := record.retry.NextBackOff()

	job.Requeue(time.Now().Add(delay))
	record.cancel = nil
	record.timer = time.AfterFunc(delay, func() {
		service.mu.Lock()
		if record.job.State == models.JobStateWaiting {
			record.timer = nil
			heap.Push(&service.waiting, record.job)
			service.mu.Unlock()
			service.signal()
			return
		}
		service.mu.Unlock()
	})
	service.mu.Unlock()

	service.logger.LogJob(job.ID, job.Query.CallerID, "job retry scheduled", logger.Fields{
		"attempt":      job.Attempts,
		"max_attempts": job.MaxAttempts,
		"delay":        delay.String(),
		"cause":        cause.Code,
	}, nil)
}

// terminalFailure maps a dead collaborator failure onto the workflow_failed
// category the chat layer routes on. Admission, cancellation, and timeout
// categories pass through unchanged.
func terminalFailure(cause *models.AppError) *models.AppError {
	switch cause.Category {
	case models.CategoryExternal, models.CategoryInternal:
		return models.NewWorkflowError(cause.Code, cause.Message).WithCause(cause)
	}
	return cause
}

func (service *QueueService) failJob(record *jobRecord, job *models.Job, cause *models.AppError) {
	cause = terminalFailure(cause)

	service.mu.Lock()
	job.MarkFailed(cause)
	var txnID string
	if record != nil {
		txnID = record.txnID
		record.cancel = nil
	}
	service.mu.Unlock()

	if err := service.usage.Rollback(context.Background(), txnID); err != nil {
		service.logger.Error("rollback after failure failed", "job_id", job.ID, "error", err)
	}

	service.logger.LogJob(job.ID, job.Query.CallerID, "job failed", logger.Fields{
		"attempts": job.Attempts,
		"code":     cause.Code,
	}, cause)
}

func (service *QueueService) retentionLoop() {
	defer service.janitor.Done()

	interval := service.config.RetentionWindow / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-service.stop:
			return
		case <-ticker.C:
			service.evictFinished(time.Now().Add(-service.config.RetentionWindow))
		}
	}
}

// evictFinished drops terminal jobs whose results are past the retention
// window; a poll after that returns not-found.
func (service *QueueService) evictFinished(cutoff time.Time) {
	service.mu.Lock()
	removed := 0
	for id, record := range service.jobs {
		job := record.job
		if job.IsTerminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(service.jobs, id)
			removed++
		}
	}
	service.mu.Unlock()

	if removed > 0 {
		service.logger.Debug("retention sweep evicted finished jobs", "removed", removed)
	}
}

// Stop drains the pool: workers finish their current job and exit. Waiting
// jobs stay queued in memory and are lost with the process; their
// reservations are reclaimed by the usage sweep.
func (service *QueueService) Stop(ctx context.Context) error {
	service.stopOnce.Do(func() { close(service.stop) })

	done := make(chan struct{})
	go func() {
		service.workers.Wait()
		service.janitor.Wait()
		close(done)
	}()

	select {
	case <-done:
		service.logger.Info("queue stopped")
		return nil
	case <-ctx.Done():
		return models.NewTimeoutError("QUEUE_DRAIN_TIMEOUT", "queue did not drain before deadline").WithCause(ctx.Err())
	}
}

// jobHeap orders waiting jobs by tier priority, then FIFO by sequence.
type jobHeap []*models.Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x interface{}) {
	*h = append(*h, x.(*models.Job))
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}

func (h *jobHeap) remove(jobID string) {
	for i, job := range *h {
		if job.ID == jobID {
			heap.Remove(h, i)
			return
		}
	}
}
