package models

import "time"

// CacheEntry wraps a cached research result. Staleness is checked on read;
// stale entries are ignored rather than eagerly evicted.
type CacheEntry struct {
	Key      string          `json:"key"`
	Value    *ResearchResult `json:"value"`
	StoredAt time.Time       `json:"stored_at"`
	TTL      time.Duration   `json:"ttl"`
}

func (e *CacheEntry) Stale(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}
