package services

import (
	"testing"
	"time"

	"lexira-engine/internal/config"
	"lexira-engine/internal/models"
)

func newTestRateLimiter(t *testing.T, cfg config.RateLimitConfig) (*RateLimitService, *time.Time) {
	t.Helper()
	service := NewRateLimitService(cfg, newTestLogger(t))
	current := time.Now()
	service.now = func() time.Time { return current }
	return service, &current
}

func TestRateLimitMinuteWindow(t *testing.T) {
	service, clock := newTestRateLimiter(t, config.RateLimitConfig{RequestsPerMinute: 3})

	for i := 0; i < 3; i++ {
		if decision := service.Allow("caller-1", 0); !decision.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	decision := service.Allow("caller-1", 0)
	if decision.Allowed {
		t.Fatal("fourth request in the minute should be denied")
	}
	if decision.Window != "minute" {
		t.Errorf("denied window = %s, want minute", decision.Window)
	}
	if decision.RetryAfter <= 0 || decision.RetryAfter > time.Minute {
		t.Errorf("retry-after = %s, want within the minute", decision.RetryAfter)
	}

	// Denials are not recorded, so the window clears on schedule.
	*clock = clock.Add(61 * time.Second)
	if decision := service.Allow("caller-1", 0); !decision.Allowed {
		t.Error("request after the window slid should be allowed")
	}
}

func TestRateLimitPerCallerIsolation(t *testing.T) {
	service, _ := newTestRateLimiter(t, config.RateLimitConfig{RequestsPerMinute: 1})

	if decision := service.Allow("caller-1", 0); !decision.Allowed {
		t.Fatal("first caller should be allowed")
	}
	if decision := service.Allow("caller-2", 0); !decision.Allowed {
		t.Error("second caller must not be throttled by the first")
	}
}

func TestRateLimitTokenWindow(t *testing.T) {
	service, clock := newTestRateLimiter(t, config.RateLimitConfig{
		RequestsPerMinute: 100,
		TokensPerMinute:   1000,
	})

	if decision := service.Allow("caller-1", 800); !decision.Allowed {
		t.Fatal("first token spend should be allowed")
	}

	decision := service.Allow("caller-1", 300)
	if decision.Allowed {
		t.Fatal("spend past the token window should be denied")
	}
	if decision.Window != "tokens_per_minute" {
		t.Errorf("denied window = %s", decision.Window)
	}

	*clock = clock.Add(61 * time.Second)
	if decision := service.Allow("caller-1", 300); !decision.Allowed {
		t.Error("token window should slide clear")
	}
}

func TestRateLimitZeroLimitDisablesWindow(t *testing.T) {
	service, _ := newTestRateLimiter(t, config.RateLimitConfig{})

	for i := 0; i < 50; i++ {
		if decision := service.Allow("caller-1", 1000); !decision.Allowed {
			t.Fatal("all-zero config must not throttle")
		}
	}
}

func TestLimitDecisionErr(t *testing.T) {
	decision := LimitDecision{Limit: 10, Current: 10, Window: "minute", RetryAfter: 30 * time.Second}
	err := decision.Err()

	if err.Category != models.CategoryRateLimit {
		t.Errorf("category = %s, want rate_limited", err.Category)
	}
	if err.RetryAfter != 30*time.Second {
		t.Errorf("retry-after = %s", err.RetryAfter)
	}
	if models.IsRetryable(err) {
		t.Error("rate limit denials are surfaced, never retried internally")
	}
}
