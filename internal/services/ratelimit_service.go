package services

import (
	"sync"
	"time"

	"lexira-engine/internal/config"
	"lexira-engine/internal/models"
	"lexira-engine/internal/pkg/logger"
)

// RateLimitService enforces sliding-window limits per caller: requests per
// minute/hour/day and estimated tokens per minute. Windows are timestamp
// slices trimmed on every check; a denied check reports the soonest time a
// slot frees up.
type RateLimitService struct {
	mu     sync.Mutex
	config config.RateLimitConfig
	logger *logger.Logger

	requests map[string][]int64
	tokens   map[string][]tokenSample

	now func() time.Time
}

type tokenSample struct {
	at     int64
	tokens int
}

// LimitDecision reports the outcome of a rate-limit check.
type LimitDecision struct {
	Allowed    bool
	Limit      int
	Current    int
	Window     string
	RetryAfter time.Duration
}

func NewRateLimitService(cfg config.RateLimitConfig, log *logger.Logger) *RateLimitService {
	return &RateLimitService{
		config:   cfg,
		logger:   log,
		requests: make(map[string][]int64),
		tokens:   make(map[string][]tokenSample),
		now:      time.Now,
	}
}

// Allow records the request when permitted. A zero limit disables that
// window. Denials are not recorded, so a throttled caller does not push its
// own retry window further out.
func (service *RateLimitService) Allow(callerID string, estimatedTokens int) LimitDecision {
	service.mu.Lock()
	defer service.mu.Unlock()

	now := service.now()
	ts := now.Unix()

	history := trimBefore(service.requests[callerID], ts-int64((24*time.Hour).Seconds()))
	service.requests[callerID] = history

	windows := []struct {
		name  string
		limit int
		span  time.Duration
	}{
		{"minute", service.config.RequestsPerMinute, time.Minute},
		{"hour", service.config.RequestsPerHour, time.Hour},
		{"day", service.config.RequestsPerDay, 24 * time.Hour},
	}

	for _, w := range windows {
		if w.limit <= 0 {
			continue
		}
		cutoff := ts - int64(w.span.Seconds())
		inWindow := countAfter(history, cutoff)
		if inWindow >= w.limit {
			retryAfter := retryAfterFor(history, cutoff, w.span, now)
			service.logger.Debug("rate limit exceeded",
				"caller_id", callerID,
				"window", w.name,
				"current", inWindow,
				"limit", w.limit)
			return LimitDecision{Limit: w.limit, Current: inWindow, Window: w.name, RetryAfter: retryAfter}
		}
	}

	if service.config.TokensPerMinute > 0 && estimatedTokens > 0 {
		samples := trimTokenSamples(service.tokens[callerID], ts-60)
		service.tokens[callerID] = samples

		used := 0
		for _, s := range samples {
			used += s.tokens
		}
		if used+estimatedTokens > service.config.TokensPerMinute {
			retryAfter := time.Minute
			if len(samples) > 0 {
				oldest := time.Unix(samples[0].at, 0)
				retryAfter = oldest.Add(time.Minute).Sub(now)
				if retryAfter < time.Second {
					retryAfter = time.Second
				}
			}
			return LimitDecision{
				Limit:      service.config.TokensPerMinute,
				Current:    used,
				Window:     "tokens_per_minute",
				RetryAfter: retryAfter,
			}
		}
		service.tokens[callerID] = append(samples, tokenSample{at: ts, tokens: estimatedTokens})
	}

	service.requests[callerID] = append(history, ts)
	return LimitDecision{Allowed: true}
}

// Err converts a denial into the caller-facing rate limit error.
func (d LimitDecision) Err() *models.AppError {
	return models.NewRateLimitError("rate limit exceeded", d.RetryAfter).
		WithMetadata("window", d.Window).
		WithMetadata("current", d.Current).
		WithMetadata("limit", d.Limit)
}

func trimBefore(in []int64, cutoff int64) []int64 {
	i := 0
	for i < len(in) && in[i] <= cutoff {
		i++
	}
	if i == 0 {
		return in
	}
	out := make([]int64, len(in)-i)
	copy(out, in[i:])
	return out
}

func countAfter(in []int64, cutoff int64) int {
	count := 0
	for i := len(in) - 1; i >= 0; i-- {
		if in[i] <= cutoff {
			break
		}
		count++
	}
	return count
}

func retryAfterFor(history []int64, cutoff int64, span time.Duration, now time.Time) time.Duration {
	for _, ts := range history {
		if ts > cutoff {
			freesAt := time.Unix(ts, 0).Add(span)
			retryAfter := freesAt.Sub(now)
			if retryAfter < time.Second {
				retryAfter = time.Second
			}
			return retryAfter
		}
	}
	return span
}

func trimTokenSamples(in []tokenSample, cutoff int64) []tokenSample {
	i := 0
	for i < len(in) && in[i].at <= cutoff {
		i++
	}
	if i == 0 {
		return in
	}
	out := make([]tokenSample, len(in)-i)
	copy(out, in[i:])
	return out
}
