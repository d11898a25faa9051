package services

import (
	"context"
	"sync"
	"time"

	"lexira-engine/internal/config"
	"lexira-engine/internal/models"
	"lexira-engine/internal/pkg/logger"
)

// UsageService enforces per-caller daily quotas through an explicit
// begin/commit/rollback protocol. Quota is checked and reserved at Begin;
// Commit converts the reservation into a committed count and Rollback
// returns it. A background sweep force-rolls-back transactions whose owners
// crashed or timed out, so reservations cannot leak.
type UsageService struct {
	store  CounterStore
	config config.UsageConfig
	logger *logger.Logger

	mu       sync.Mutex
	inflight map[string]*models.UsageTransaction

	stopSweep chan struct{}
	sweepDone chan struct{}
	sweepOnce sync.Once
}

func NewUsageService(store CounterStore, cfg config.UsageConfig, log *logger.Logger) *UsageService {
	service := &UsageService{
		store:     store,
		config:    cfg,
		logger:    log,
		inflight:  make(map[string]*models.UsageTransaction),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go service.sweepLoop()
	return service
}

// Begin reserves one quota slot for the caller. When the caller is at quota
// no transaction is created and the job must not proceed.
func (service *UsageService) Begin(ctx context.Context, callerID string) (*models.BeginResult, error) {
	day := models.UsageDay(time.Now())

	allowed, committed, err := service.store.ReserveDaily(ctx, callerID, day, service.config.DailyQuota)
	if err != nil {
		return nil, err
	}
	if !allowed {
		service.logger.Info("daily quota reached",
			"caller_id", callerID,
			"current_usage", committed,
			"daily_quota", service.config.DailyQuota)
		return &models.BeginResult{
			Allowed:      false,
			CurrentUsage: committed,
			DailyQuota:   service.config.DailyQuota,
		}, nil
	}

	txn := models.NewUsageTransaction(callerID, service.config.TransactionTTL)

	service.mu.Lock()
	service.inflight[txn.ID] = txn
	service.mu.Unlock()

	service.logger.Debug("usage transaction started",
		"transaction_id", txn.ID,
		"caller_id", callerID,
		"expires_at", txn.ExpiresAt)

	return &models.BeginResult{
		Allowed:      true,
		Transaction:  txn,
		CurrentUsage: committed,
		DailyQuota:   service.config.DailyQuota,
	}, nil
}

// Commit settles the transaction and increments the caller's committed count
// for the current day. Idempotent: a settled transaction is a no-op. When the
// day rolled over since Begin, the old day's reservation is released and the
// new day's counter takes the increment.
func (service *UsageService) Commit(ctx context.Context, transactionID string) error {
	service.mu.Lock()
	txn, ok := service.inflight[transactionID]
	if !ok || txn.Settled() {
		service.mu.Unlock()
		return nil
	}
	txn.Committed = true
	delete(service.inflight, transactionID)
	service.mu.Unlock()

	commitDay := models.UsageDay(time.Now())
	committed, err := service.store.CommitDaily(ctx, txn.CallerID, txn.Day, commitDay)
	if err != nil {
		service.logger.Error("usage commit failed", "transaction_id", transactionID, "error", err)
		return err
	}

	service.logger.Debug("usage transaction committed",
		"transaction_id", transactionID,
		"caller_id", txn.CallerID,
		"committed_today", committed)
	return nil
}

// Rollback settles the transaction and releases its reservation. Idempotent;
// never touches the committed counter.
func (service *UsageService) Rollback(ctx context.Context, transactionID string) error {
	service.mu.Lock()
	txn, ok := service.inflight[transactionID]
	if !ok || txn.Settled() {
		service.mu.Unlock()
		return nil
	}
	txn.RolledBack = true
	delete(service.inflight, transactionID)
	service.mu.Unlock()

	if err := service.store.ReleaseDaily(ctx, txn.CallerID, txn.Day); err != nil {
		service.logger.Error("usage rollback failed", "transaction_id", transactionID, "error", err)
		return err
	}

	service.logger.Debug("usage transaction rolled back",
		"transaction_id", transactionID,
		"caller_id", txn.CallerID)
	return nil
}

// CurrentUsage reports the caller's committed count for today.
func (service *UsageService) CurrentUsage(ctx context.Context, callerID string) (int, error) {
	return service.store.GetDailyCount(ctx, callerID, models.UsageDay(time.Now()))
}

func (service *UsageService) InFlightCount() int {
	service.mu.Lock()
	defer service.mu.Unlock()
	return len(service.inflight)
}

func (service *UsageService) sweepLoop() {
	defer close(service.sweepDone)

	ticker := time.NewTicker(service.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-service.stopSweep:
			return
		case <-ticker.C:
			service.SweepExpired(context.Background())
		}
	}
}

// SweepExpired force-rolls-back every in-flight transaction past its expiry
// deadline. Returns the number reclaimed.
func (service *UsageService) SweepExpired(ctx context.Context) int {
	now := time.Now()

	service.mu.Lock()
	var expired []*models.UsageTransaction
	for id, txn := range service.inflight {
		if txn.Expired(now) {
			txn.RolledBack = true
			delete(service.inflight, id)
			expired = append(expired, txn)
		}
	}
	service.mu.Unlock()

	for _, txn := range expired {
		if err := service.store.ReleaseDaily(ctx, txn.CallerID, txn.Day); err != nil {
			service.logger.Error("sweep release failed",
				"transaction_id", txn.ID,
				"caller_id", txn.CallerID,
				"error", err)
			continue
		}
		service.logger.Warn("expired usage transaction force-rolled-back",
			"transaction_id", txn.ID,
			"caller_id", txn.CallerID,
			"started_at", txn.StartedAt)
	}

	return len(expired)
}

func (service *UsageService) Close() {
	service.sweepOnce.Do(func() {
		close(service.stopSweep)
		<-service.sweepDone
	})
}
