package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageTransaction is the begin/commit/rollback unit enforcing a caller's
// daily quota. Exactly one of Committed/RolledBack may become true; a
// transaction past ExpiresAt with neither set is force-rolled-back by the
// manager's background sweep.
type UsageTransaction struct {
	ID         string    `json:"id"`
	CallerID   string    `json:"caller_id"`
	Day        string    `json:"day"`
	StartedAt  time.Time `json:"started_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Committed  bool      `json:"committed"`
	RolledBack bool      `json:"rolled_back"`
	Attempt    int       `json:"attempt"`
}

// UsageDay formats t as the day key used by the counter store.
func UsageDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func NewUsageTransaction(callerID string, ttl time.Duration) *UsageTransaction {
	now := time.Now()
	return &UsageTransaction{
		ID:        uuid.New().String(),
		CallerID:  callerID,
		Day:       UsageDay(now),
		StartedAt: now,
		ExpiresAt: now.Add(ttl),
		Attempt:   1,
	}
}

func (t *UsageTransaction) Settled() bool {
	return t.Committed || t.RolledBack
}

func (t *UsageTransaction) Expired(now time.Time) bool {
	return !t.Settled() && now.After(t.ExpiresAt)
}

// BeginResult is what the usage manager hands back from Begin.
type BeginResult struct {
	Allowed      bool              `json:"allowed"`
	Transaction  *UsageTransaction `json:"transaction,omitempty"`
	CurrentUsage int               `json:"current_usage"`
	DailyQuota   int               `json:"daily_quota"`
}
