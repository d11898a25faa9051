package services

import (
	"regexp"
	"strings"

	"lexira-engine/internal/models"
)

// Classifier maps a query to its complexity tier. Implementations must be
// pure and total: same input, same tier, never an error. The rule-based
// implementation below can be swapped for a model-backed one without touching
// the router or workflow engine.
type Classifier interface {
	Classify(query models.Query) models.ComplexityTier
}

type RuleClassifier struct {
	estimator TokenEstimator

	draftingPattern *regexp.Regexp
	reviewPattern   *regexp.Regexp
	caselawPattern  *regexp.Regexp
	basicPattern    *regexp.Regexp
}

func NewRuleClassifier(estimator TokenEstimator) *RuleClassifier {
	return &RuleClassifier{
		estimator:       estimator,
		draftingPattern: regexp.MustCompile(`(?i)\b(draft|prepare|write)\b.*\b(contract|agreement|clause|memorandum|letter|affidavit|will|deed|notice)\b`),
		reviewPattern:   regexp.MustCompile(`(?i)\b(review|check|vet|assess)\b.*\b(contract|agreement|clause|document|terms)\b`),
		caselawPattern:  regexp.MustCompile(`(?i)\b(compare|contrast|distinguish)\b.*\b(case|cases|precedent|judgment|judgments|ruling)\b|\bcomparative analysis\b`),
		basicPattern:    regexp.MustCompile(`(?i)^\s*(what is|what are|define|who is|meaning of|definition of)\b`),
	}
}

// Rule groups are evaluated in fixed priority; the first match wins.
// Nothing here can fail: unmatched input falls through to the default tier.
func (c *RuleClassifier) Classify(query models.Query) models.ComplexityTier {
	text := strings.TrimSpace(query.Text)
	lower := strings.ToLower(text)

	// Group 1: workflow-intent indicators win outright.
	if c.draftingPattern.MatchString(text) {
		return models.TierWorkflowDrafting
	}
	if c.reviewPattern.MatchString(text) {
		return models.TierWorkflowReview
	}
	if c.caselawPattern.MatchString(text) {
		return models.TierWorkflowCaselaw
	}

	// Group 2: explicit depth indicators.
	if hasAny(lower, depthIndicators) {
		if hasAny(lower, multiSourceIndicators) || c.estimator.EstimateTokens(text) > 40 {
			return models.TierDeep
		}
		return models.TierAdvanced
	}

	// Group 3: multi-source research indicators.
	if hasAny(lower, multiSourceIndicators) {
		return models.TierMedium
	}

	// Group 4: short factual lookups.
	if c.basicPattern.MatchString(text) && c.estimator.EstimateTokens(text) <= 25 {
		return models.TierBasic
	}

	// Default: general explanatory phrasing.
	return models.TierLight
}

var depthIndicators = []string{
	"comprehensive",
	"exhaustive",
	"in-depth",
	"in depth",
	"thorough",
	"complete analysis",
	"everything about",
	"full picture",
}

var multiSourceIndicators = []string{
	"analyze",
	"analyse",
	"analysis",
	"find cases about",
	"find cases on",
	"overview of",
	"research",
	"compare",
	"summary of the law",
	"position of the law",
	"legal framework",
}

func hasAny(text string, indicators []string) bool {
	for _, indicator := range indicators {
		if strings.Contains(text, indicator) {
			return true
		}
	}
	return false
}
