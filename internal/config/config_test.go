package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "test-gemini-key")
	t.Setenv("SEARCH_API_KEY", "test-search-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTP.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.HTTP.Port)
	}
	if cfg.Queue.Workers != 5 {
		t.Errorf("workers = %d, want 5", cfg.Queue.Workers)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", cfg.Queue.MaxAttempts)
	}
	if cfg.Usage.DailyQuota != 50 {
		t.Errorf("daily quota = %d, want 50", cfg.Usage.DailyQuota)
	}
	if cfg.Workflow.MaxDeepDives != 3 {
		t.Errorf("max deep dives = %d, want 3", cfg.Workflow.MaxDeepDives)
	}
	if cfg.Workflow.GapThreshold != 2 {
		t.Errorf("gap threshold = %d, want 2", cfg.Workflow.GapThreshold)
	}
	if cfg.Workflow.SummarizeThreshold != 0.6 {
		t.Errorf("summarize threshold = %f, want 0.6", cfg.Workflow.SummarizeThreshold)
	}
	if cfg.Cache.TTL != 6*time.Hour {
		t.Errorf("cache TTL = %s, want 6h", cfg.Cache.TTL)
	}
}

func TestSweepIntervalDerivedFromTTL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("USAGE_TRANSACTION_TTL", "20m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Usage.SweepInterval != 5*time.Minute {
		t.Errorf("sweep interval = %s, want ttl/4 = 5m", cfg.Usage.SweepInterval)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("QUEUE_WORKERS", "8")
	t.Setenv("WORKFLOW_DEEP_BUDGET", "200000")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Queue.Workers != 8 {
		t.Errorf("workers = %d, want 8", cfg.Queue.Workers)
	}
	if cfg.Workflow.DeepBudget != 200000 {
		t.Errorf("deep budget = %d, want 200000", cfg.Workflow.DeepBudget)
	}
	if !cfg.IsProduction() {
		t.Error("production environment not detected")
	}
}

func TestLoadRejectsMissingKeys(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("SEARCH_API_KEY", "test-search-key")

	if _, err := Load(); err == nil {
		t.Error("missing GEMINI_API_KEY must fail validation")
	}

	t.Setenv("GEMINI_API_KEY", "test-gemini-key")
	t.Setenv("SEARCH_API_KEY", "")
	if _, err := Load(); err == nil {
		t.Error("missing SEARCH_API_KEY must fail validation")
	}
}

func TestLoadRejectsInvalidThreshold(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WORKFLOW_SUMMARIZE_THRESHOLD", "1.5")

	if _, err := Load(); err == nil {
		t.Error("out-of-range summarize threshold must fail validation")
	}
}

func TestInvalidEnvValuesFallBack(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("QUEUE_WORKERS", "not-a-number")
	t.Setenv("CACHE_TTL", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Queue.Workers != 5 {
		t.Errorf("unparsable workers should fall back to 5, got %d", cfg.Queue.Workers)
	}
	if cfg.Cache.TTL != 6*time.Hour {
		t.Errorf("unparsable TTL should fall back to 6h, got %s", cfg.Cache.TTL)
	}
}
