package services

import (
	"context"

	"lexira-engine/internal/models"
)

// CounterStore is the durable per-caller daily counter behind the usage
// transaction manager. Reserve/commit/release keeps quota enforcement
// race-free: Begin reserves an in-flight slot atomically against the store,
// Commit converts it to a committed count, Release returns it.
//
// The Redis adapter is the production implementation; the in-memory adapter
// serves single-instance deployments and tests. Swapping adapters is the only
// change needed for a distributed deployment.
type CounterStore interface {
	// ReserveDaily atomically checks committed+inflight against quota and
	// reserves one in-flight slot when allowed. Returns the committed count
	// observed at reservation time.
	ReserveDaily(ctx context.Context, callerID, day string, quota int) (allowed bool, committed int, err error)

	// CommitDaily releases the reservation made on reserveDay and increments
	// the committed count for commitDay. The two differ when the caller's day
	// rolled over between begin and commit.
	CommitDaily(ctx context.Context, callerID, reserveDay, commitDay string) (int, error)

	// ReleaseDaily returns a reserved slot without committing it.
	ReleaseDaily(ctx context.Context, callerID, day string) error

	GetDailyCount(ctx context.Context, callerID, day string) (int, error)
}

// CacheStore holds response cache entries. Staleness is the caller's concern;
// the store only persists and retrieves.
type CacheStore interface {
	GetEntry(ctx context.Context, key string) (*models.CacheEntry, bool, error)
	PutEntry(ctx context.Context, entry *models.CacheEntry) error
}

// RunStateStore snapshots workflow run state so polls can be answered after
// the owning worker is gone.
type RunStateStore interface {
	StoreRunState(ctx context.Context, run *models.WorkflowRun) error
	GetRunState(ctx context.Context, runID string) (*models.WorkflowRun, error)
}

// ProgressPublisher fans progress updates out to the chat layer.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, callerID string, update *models.ProgressUpdate) error
}
