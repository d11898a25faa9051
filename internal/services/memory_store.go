package services

import (
	"context"
	"sync"

	"lexira-engine/internal/models"
)

// MemoryStore is the in-process adapter for single-instance deployments and
// tests. It implements CounterStore, CacheStore, RunStateStore, and
// ProgressPublisher with the same semantics as the Redis adapter.
type MemoryStore struct {
	mu        sync.Mutex
	committed map[string]int
	inflight  map[string]int
	cache     map[string]models.CacheEntry
	runs      map[string]models.WorkflowRun
	updates   []models.ProgressUpdate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		committed: make(map[string]int),
		inflight:  make(map[string]int),
		cache:     make(map[string]models.CacheEntry),
		runs:      make(map[string]models.WorkflowRun),
	}
}

func counterMapKey(callerID, day string) string {
	return callerID + "|" + day
}

func (s *MemoryStore) ReserveDaily(_ context.Context, callerID, day string, quota int) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterMapKey(callerID, day)
	committed := s.committed[key]
	if committed+s.inflight[key] >= quota {
		return false, committed, nil
	}
	s.inflight[key]++
	return true, committed, nil
}

func (s *MemoryStore) CommitDaily(_ context.Context, callerID, reserveDay, commitDay string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reserveKey := counterMapKey(callerID, reserveDay)
	if s.inflight[reserveKey] > 0 {
		s.inflight[reserveKey]--
	}
	commitKey := counterMapKey(callerID, commitDay)
	s.committed[commitKey]++
	return s.committed[commitKey], nil
}

func (s *MemoryStore) ReleaseDaily(_ context.Context, callerID, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterMapKey(callerID, day)
	if s.inflight[key] > 0 {
		s.inflight[key]--
	}
	return nil
}

func (s *MemoryStore) GetDailyCount(_ context.Context, callerID, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed[counterMapKey(callerID, day)], nil
}

func (s *MemoryStore) GetEntry(_ context.Context, key string) (*models.CacheEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[key]
	if !ok {
		return nil, false, nil
	}
	copied := entry
	return &copied, true, nil
}

func (s *MemoryStore) PutEntry(_ context.Context, entry *models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[entry.Key] = *entry
	return nil
}

func (s *MemoryStore) StoreRunState(_ context.Context, run *models.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

func (s *MemoryStore) GetRunState(_ context.Context, runID string) (*models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, models.ErrRunNotFound.WithMetadata("run_id", runID)
	}
	copied := run
	return &copied, nil
}

func (s *MemoryStore) PublishProgress(_ context.Context, _ string, update *models.ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updates = append(s.updates, *update)
	if len(s.updates) > 1024 {
		s.updates = s.updates[len(s.updates)-1024:]
	}
	return nil
}

// Runs returns a copy of every stored run snapshot.
func (s *MemoryStore) Runs() []models.WorkflowRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.WorkflowRun, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	return out
}

// Updates returns a copy of the recorded progress updates, oldest first.
func (s *MemoryStore) Updates() []models.ProgressUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ProgressUpdate, len(s.updates))
	copy(out, s.updates)
	return out
}
