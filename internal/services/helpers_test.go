package services

import (
	"testing"

	"lexira-engine/internal/config"
	"lexira-engine/internal/pkg/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(config.LogConfig{Level: "error", Format: "json", Output: "stdout"})
	if err != nil {
		t.Fatalf("test logger: %v", err)
	}
	return log
}

func testWorkflowConfig() config.WorkflowConfig {
	return config.WorkflowConfig{
		GapThreshold:       2,
		MaxDeepDives:       3,
		SummarizeThreshold: 0.6,
		DirectBudget:       2000,
		StandardBudget:     8000,
		DeepBudget:         100000,
		DeepDiveBudget:     5000,
	}
}
