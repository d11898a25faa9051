package services

import "strings"

// TokenEstimator approximates token counts for budget tracking. The default
// implementation uses a characters-per-token ratio; accurate enough for
// summarization thresholds, not for billing.
type TokenEstimator interface {
	EstimateTokens(text string) int
}

type CharTokenEstimator struct {
	CharsPerToken int
}

func NewCharTokenEstimator() *CharTokenEstimator {
	return &CharTokenEstimator{CharsPerToken: 4}
}

func (e *CharTokenEstimator) ratio() int {
	if e.CharsPerToken <= 0 {
		return 4
	}
	return e.CharsPerToken
}

func (e *CharTokenEstimator) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	count := len(text) / e.ratio()
	if count == 0 {
		count = 1
	}
	return count
}

// EstimateConversationTokens includes a small per-turn overhead for role
// markers and separators.
func (e *CharTokenEstimator) EstimateConversationTokens(turns []string) int {
	total := 0
	for _, turn := range turns {
		total += 4
		total += e.EstimateTokens(turn)
	}
	return total
}

// TruncateToTokens cuts text to approximately maxTokens, breaking on the last
// whitespace inside the window so a citation is not cut mid-reference.
func (e *CharTokenEstimator) TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	maxChars := maxTokens * e.ratio()
	if len(text) <= maxChars {
		return text
	}
	cut := text[:maxChars]
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > maxChars/2 {
		cut = cut[:idx]
	}
	return cut
}
