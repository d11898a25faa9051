package services

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"lexira-engine/internal/config"
	"lexira-engine/internal/models"
	"lexira-engine/internal/pkg/logger"
)

// CacheService answers repeated queries before any paid work happens. Keys
// hash the normalized query text together with tier and jurisdiction so the
// same question at a different depth never collides.
type CacheService struct {
	store  CacheStore
	config config.CacheConfig
	logger *logger.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

func NewCacheService(store CacheStore, cfg config.CacheConfig, log *logger.Logger) *CacheService {
	return &CacheService{
		store:  store,
		config: cfg,
		logger: log,
	}
}

// CacheKey builds the deterministic lookup key. Normalization collapses case
// and internal whitespace; punctuation stays because "tort?" and "tort law"
// are different questions.
func CacheKey(queryText string, tier models.ComplexityTier, jurisdiction string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(queryText)), " ")
	material := fmt.Sprintf("%s|%s|%s", normalized, tier, strings.ToLower(jurisdiction))
	return fmt.Sprintf("%016x", xxhash.Sum64String(material))
}

// Get returns the cached result for (query, tier, jurisdiction), or nil on a
// miss. Stale entries count as misses and are left for storage expiry.
func (service *CacheService) Get(ctx context.Context, queryText string, tier models.ComplexityTier, jurisdiction string) (*models.ResearchResult, error) {
	key := CacheKey(queryText, tier, jurisdiction)

	entry, found, err := service.store.GetEntry(ctx, key)
	if err != nil {
		// Cache failures degrade to misses; the router pays for the work.
		service.logger.Warn("cache lookup failed, treating as miss", "key", key, "error", err)
		service.misses.Add(1)
		return nil, nil
	}
	if !found || entry.Stale(time.Now()) {
		service.misses.Add(1)
		return nil, nil
	}

	service.hits.Add(1)
	service.logger.Debug("cache hit", "key", key, "tier", string(tier))

	result := *entry.Value
	result.FromCache = true
	return &result, nil
}

func (service *CacheService) Put(ctx context.Context, queryText string, tier models.ComplexityTier, jurisdiction string, result *models.ResearchResult) error {
	entry := &models.CacheEntry{
		Key:      CacheKey(queryText, tier, jurisdiction),
		Value:    result,
		StoredAt: time.Now(),
		TTL:      service.config.TTL,
	}

	if err := service.store.PutEntry(ctx, entry); err != nil {
		service.logger.Warn("cache store failed", "key", entry.Key, "error", err)
		return err
	}
	return nil
}

func (service *CacheService) Stats() map[string]interface{} {
	hits := service.hits.Load()
	misses := service.misses.Load()
	total := hits + misses

	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return map[string]interface{}{
		"hits":     hits,
		"misses":   misses,
		"hit_rate": hitRate,
		"ttl":      service.config.TTL.String(),
	}
}
