package services

import (
	"container/heap"
	"context"
	"sync"
	"testing"
	"time"

	"lexira-engine/internal/config"
	"lexira-engine/internal/models"
)

type queueFixture struct {
	queue *QueueService
	usage *UsageService
	store *MemoryStore
	gen   *mockGenerator
}

func newTestQueue(t *testing.T, queueCfg config.QueueConfig, usageCfg config.UsageConfig, rateCfg config.RateLimitConfig) *queueFixture {
	t.Helper()
	gen := &mockGenerator{response: "a direct answer"}
	fixture := newQueueFixture(t, gen, queueCfg, usageCfg, rateCfg)
	fixture.gen = gen
	return fixture
}

func newQueueFixture(t *testing.T, gen Generator, queueCfg config.QueueConfig, usageCfg config.UsageConfig, rateCfg config.RateLimitConfig) *queueFixture {
	t.Helper()
	log := newTestLogger(t)
	store := NewMemoryStore()

	sum := &mockSummarizer{summary: "condensed"}
	search := &mockSearch{results: sparseResults()}
	extractor := &mockExtractor{}

	engine := NewWorkflowEngine(search, extractor, gen, sum, store, store, testWorkflowConfig(), log)
	classifier := NewRuleClassifier(NewCharTokenEstimator())
	cache := NewCacheService(store, config.CacheConfig{TTL: time.Hour}, log)
	router := NewRouterService(classifier, cache, engine, gen, testWorkflowConfig(), log)

	usage := NewUsageService(store, usageCfg, log)
	t.Cleanup(usage.Close)

	rateLimiter := NewRateLimitService(rateCfg, log)

	queue := NewQueueService(router, usage, rateLimiter, queueCfg, log)
	return &queueFixture{queue: queue, usage: usage, store: store}
}

// gatedGenerator blocks inside Generate until its context dies, signalling
// entry on started so tests can act while the job is mid-flight.
type gatedGenerator struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
}

func newGatedGenerator() *gatedGenerator {
	return &gatedGenerator{started: make(chan struct{}, 1)}
}

func (m *gatedGenerator) Generate(ctx context.Context, _ string, _ int) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	select {
	case m.started <- struct{}{}:
	default:
	}

	<-ctx.Done()
	return "", models.WrapExternalError("generation", ctx.Err())
}

func (m *gatedGenerator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func defaultQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		Workers:          2,
		MaxAttempts:      3,
		BaseRetryDelay:   5 * time.Millisecond,
		MaxRetryDelay:    50 * time.Millisecond,
		DequeuePerSecond: 1000,
		JobTimeout:       5 * time.Second,
		RetentionWindow:  time.Hour,
	}
}

func defaultUsageConfig() config.UsageConfig {
	return config.UsageConfig{DailyQuota: 50, TransactionTTL: time.Minute, SweepInterval: time.Hour}
}

func openRateConfig() config.RateLimitConfig {
	return config.RateLimitConfig{RequestsPerMinute: 100, RequestsPerHour: 1000, RequestsPerDay: 10000}
}

func waitForTerminal(t *testing.T, queue *QueueService, jobID string) *models.JobStatus {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		status, err := queue.Status(jobID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if status.State == models.JobStateCompleted || status.State == models.JobStateFailed {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state in time")
	return nil
}

func TestQueueRunsJobAndCommitsUsage(t *testing.T) {
	fixture := newTestQueue(t, defaultQueueConfig(), defaultUsageConfig(), openRateConfig())
	fixture.queue.Start()
	defer fixture.queue.Stop(context.Background())

	query := models.NewQuery("What is a tort?", "Zimbabwe", "caller-1", nil)
	job, err := fixture.queue.Enqueue(context.Background(), query)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Tier != models.TierBasic {
		t.Errorf("tier = %s, want basic", job.Tier)
	}

	status := waitForTerminal(t, fixture.queue, job.ID)
	if status.State != models.JobStateCompleted {
		t.Fatalf("state = %s (%s), want completed", status.State, status.Error)
	}
	if status.Result == nil || status.Result.Text != "a direct answer" {
		t.Fatalf("result = %+v", status.Result)
	}

	count, _ := fixture.usage.CurrentUsage(context.Background(), "caller-1")
	if count != 1 {
		t.Errorf("usage after completion = %d, want 1", count)
	}
}

func TestQueueCacheHitDoesNotConsumeQuota(t *testing.T) {
	fixture := newTestQueue(t, defaultQueueConfig(), defaultUsageConfig(), openRateConfig())
	fixture.queue.Start()
	defer fixture.queue.Stop(context.Background())

	query := models.NewQuery("What is a tort?", "Zimbabwe", "caller-1", nil)

	first, err := fixture.queue.Enqueue(context.Background(), query)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitForTerminal(t, fixture.queue, first.ID)

	second, err := fixture.queue.Enqueue(context.Background(), query)
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	status := waitForTerminal(t, fixture.queue, second.ID)
	if status.Result == nil || !status.Result.FromCache {
		t.Fatal("repeat query should be answered from cache")
	}

	count, _ := fixture.usage.CurrentUsage(context.Background(), "caller-1")
	if count != 1 {
		t.Errorf("cached answer consumed quota: usage = %d, want 1", count)
	}
}

func TestQueueRetriesTransientFailure(t *testing.T) {
	fixture := newTestQueue(t, defaultQueueConfig(), defaultUsageConfig(), openRateConfig())
	fixture.gen.failNext = 2
	fixture.queue.Start()
	defer fixture.queue.Stop(context.Background())

	query := models.NewQuery("What is a tort?", "", "caller-1", nil)
	job, err := fixture.queue.Enqueue(context.Background(), query)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	status := waitForTerminal(t, fixture.queue, job.ID)
	if status.State != models.JobStateCompleted {
		t.Fatalf("state = %s (%s), want completed after retries", status.State, status.Error)
	}
}

func TestQueueExhaustsAttemptsAndRollsBack(t *testing.T) {
	fixture := newTestQueue(t, defaultQueueConfig(), defaultUsageConfig(), openRateConfig())
	fixture.gen.failNext = 100
	fixture.queue.Start()
	defer fixture.queue.Stop(context.Background())

	query := models.NewQuery("What is a tort?", "", "caller-1", nil)
	job, err := fixture.queue.Enqueue(context.Background(), query)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	status := waitForTerminal(t, fixture.queue, job.ID)
	if status.State != models.JobStateFailed {
		t.Fatalf("state = %s, want failed", status.State)
	}
	if status.ErrorCode == "" {
		t.Error("failed job should surface an error code")
	}
	if status.Category != models.CategoryWorkflow {
		t.Errorf("category = %s, want workflow_failed", status.Category)
	}

	count, _ := fixture.usage.CurrentUsage(context.Background(), "caller-1")
	if count != 0 {
		t.Errorf("failed work must not consume quota, usage = %d", count)
	}
}

func TestQueueRateLimitDenialIsNotEnqueued(t *testing.T) {
	fixture := newTestQueue(t, defaultQueueConfig(), defaultUsageConfig(), config.RateLimitConfig{RequestsPerMinute: 1})

	query := models.NewQuery("What is a tort?", "", "caller-1", nil)
	if _, err := fixture.queue.Enqueue(context.Background(), query); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	_, err := fixture.queue.Enqueue(context.Background(), query)
	if err == nil {
		t.Fatal("second enqueue should be rate limited")
	}
	appErr := models.AsAppError(err)
	if appErr.Category != models.CategoryRateLimit {
		t.Errorf("category = %s, want rate_limited", appErr.Category)
	}
	if appErr.RetryAfter <= 0 {
		t.Error("rate limit denial should carry a retry-after")
	}
}

func TestQueueQuotaDenialAtAdmission(t *testing.T) {
	usageCfg := defaultUsageConfig()
	usageCfg.DailyQuota = 1
	fixture := newTestQueue(t, defaultQueueConfig(), usageCfg, openRateConfig())

	query := models.NewQuery("What is a tort?", "", "caller-1", nil)
	if _, err := fixture.queue.Enqueue(context.Background(), query); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	_, err := fixture.queue.Enqueue(context.Background(), query)
	if err == nil {
		t.Fatal("second enqueue should hit the quota")
	}
	if models.AsAppError(err).Category != models.CategoryQuota {
		t.Errorf("category = %s, want quota_exceeded", models.AsAppError(err).Category)
	}
}

func TestQueueCancelWaitingJobReleasesQuota(t *testing.T) {
	// Workers never started: the job stays queued until canceled.
	fixture := newTestQueue(t, defaultQueueConfig(), defaultUsageConfig(), openRateConfig())

	query := models.NewQuery("What is a tort?", "", "caller-1", nil)
	job, err := fixture.queue.Enqueue(context.Background(), query)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := fixture.queue.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	status, err := fixture.queue.Status(job.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != models.JobStateFailed || status.ErrorCode != "JOB_CANCELED" {
		t.Errorf("status = %s/%s, want failed/JOB_CANCELED", status.State, status.ErrorCode)
	}

	if fixture.usage.InFlightCount() != 0 {
		t.Error("canceled job must release its reservation")
	}

	if err := fixture.queue.Cancel(context.Background(), job.ID); err == nil {
		t.Error("canceling a terminal job should be rejected")
	}
}

func TestQueueCancelActiveJobIsTerminal(t *testing.T) {
	gen := newGatedGenerator()
	fixture := newQueueFixture(t, gen, defaultQueueConfig(), defaultUsageConfig(), openRateConfig())
	fixture.queue.Start()
	defer fixture.queue.Stop(context.Background())

	query := models.NewQuery("What is a tort?", "", "caller-1", nil)
	job, err := fixture.queue.Enqueue(context.Background(), query)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Wait until a worker is inside the generation call.
	select {
	case <-gen.started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never became active")
	}

	if err := fixture.queue.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	status := waitForTerminal(t, fixture.queue, job.ID)
	if status.State != models.JobStateFailed || status.ErrorCode != "JOB_CANCELED" {
		t.Fatalf("status = %s/%s, want failed/JOB_CANCELED", status.State, status.ErrorCode)
	}
	if gen.callCount() != 1 {
		t.Errorf("canceled job ran %d times, want 1 (no retry)", gen.callCount())
	}

	count, _ := fixture.usage.CurrentUsage(context.Background(), "caller-1")
	if count != 0 {
		t.Errorf("canceled job consumed quota: usage = %d, want 0", count)
	}
}

func TestQueueTimeoutFailsWithoutRetry(t *testing.T) {
	queueCfg := defaultQueueConfig()
	queueCfg.JobTimeout = 50 * time.Millisecond

	gen := newGatedGenerator()
	fixture := newQueueFixture(t, gen, queueCfg, defaultUsageConfig(), openRateConfig())
	fixture.queue.Start()
	defer fixture.queue.Stop(context.Background())

	query := models.NewQuery("What is a tort?", "", "caller-1", nil)
	job, err := fixture.queue.Enqueue(context.Background(), query)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	status := waitForTerminal(t, fixture.queue, job.ID)
	if status.State != models.JobStateFailed || status.ErrorCode != "JOB_TIMEOUT" {
		t.Fatalf("status = %s/%s, want failed/JOB_TIMEOUT", status.State, status.ErrorCode)
	}
	if status.Category != models.CategoryTimeout {
		t.Errorf("category = %s, want timeout", status.Category)
	}
	if gen.callCount() != 1 {
		t.Errorf("timed-out job ran %d times, want 1 (no retry)", gen.callCount())
	}

	count, _ := fixture.usage.CurrentUsage(context.Background(), "caller-1")
	if count != 0 {
		t.Errorf("timed-out job consumed quota: usage = %d, want 0", count)
	}
}

func TestQueueStatusUnknownJob(t *testing.T) {
	fixture := newTestQueue(t, defaultQueueConfig(), defaultUsageConfig(), openRateConfig())

	if _, err := fixture.queue.Status("missing"); err != models.ErrJobNotFound {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestJobHeapOrdering(t *testing.T) {
	var waiting jobHeap
	heap.Init(&waiting)

	makeJob := func(tier models.ComplexityTier, seq uint64) *models.Job {
		job := models.NewJob(models.NewQuery("q", "", "caller-1", nil), tier, 3)
		job.Seq = seq
		return job
	}

	deep := makeJob(models.TierDeep, 1)
	basicLate := makeJob(models.TierBasic, 3)
	basicEarly := makeJob(models.TierBasic, 2)
	drafting := makeJob(models.TierWorkflowDrafting, 0)

	heap.Push(&waiting, deep)
	heap.Push(&waiting, basicLate)
	heap.Push(&waiting, basicEarly)
	heap.Push(&waiting, drafting)

	order := []*models.Job{
		heap.Pop(&waiting).(*models.Job),
		heap.Pop(&waiting).(*models.Job),
		heap.Pop(&waiting).(*models.Job),
		heap.Pop(&waiting).(*models.Job),
	}

	if order[0] != basicEarly || order[1] != basicLate {
		t.Error("basic jobs must dequeue first, FIFO within the tier")
	}
	if order[2] != deep {
		t.Error("deep research dequeues after interactive tiers")
	}
	if order[3] != drafting {
		t.Error("drafting workflows dequeue last despite earliest arrival")
	}
}

func TestQueueStats(t *testing.T) {
	fixture := newTestQueue(t, defaultQueueConfig(), defaultUsageConfig(), openRateConfig())

	query := models.NewQuery("What is a tort?", "", "caller-1", nil)
	if _, err := fixture.queue.Enqueue(context.Background(), query); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	stats := fixture.queue.Stats()
	if stats["queued"].(int) != 1 {
		t.Errorf("queued = %v, want 1", stats["queued"])
	}
	if stats["workers"].(int) != 2 {
		t.Errorf("workers = %v, want 2", stats["workers"])
	}
}
