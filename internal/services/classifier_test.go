package services

import (
	"testing"

	"lexira-engine/internal/models"
)

func classify(t *testing.T, text string) models.ComplexityTier {
	t.Helper()
	classifier := NewRuleClassifier(NewCharTokenEstimator())
	return classifier.Classify(models.NewQuery(text, "Zimbabwe", "caller-1", nil))
}

func TestClassifierTiers(t *testing.T) {
	cases := []struct {
		text string
		want models.ComplexityTier
	}{
		{"What is a tort?", models.TierBasic},
		{"What are the elements of negligence?", models.TierBasic},
		{"Define consideration in contract law", models.TierBasic},
		{"Explain how adverse possession works", models.TierLight},
		{"How does a company register a trademark?", models.TierLight},
		{"Overview of employment law in Zimbabwe", models.TierMedium},
		{"Find cases about unfair dismissal", models.TierMedium},
		{"What is the legal framework for mining rights?", models.TierMedium},
		{"Thorough treatment of constitutional property protections", models.TierAdvanced},
		{"Comprehensive analysis of Zimbabwe property law", models.TierDeep},
		{"In-depth research on cross-border insolvency", models.TierDeep},
		{"Draft a lease agreement for commercial premises", models.TierWorkflowDrafting},
		{"Prepare an affidavit for the High Court", models.TierWorkflowDrafting},
		{"Review this employment contract for risky terms", models.TierWorkflowReview},
		{"Compare the judgments in these two dismissal cases", models.TierWorkflowCaselaw},
		{"Comparative analysis of delict and negligence", models.TierWorkflowCaselaw},
	}

	for _, tc := range cases {
		if got := classify(t, tc.text); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestClassifierWorkflowIntentWinsOverDepth(t *testing.T) {
	// Depth wording must not leak a drafting request into deep research.
	got := classify(t, "Draft a comprehensive shareholder agreement")
	if got != models.TierWorkflowDrafting {
		t.Errorf("got %s, want workflow_drafting", got)
	}
}

func TestClassifierIsPure(t *testing.T) {
	classifier := NewRuleClassifier(NewCharTokenEstimator())
	query := models.NewQuery("Overview of water rights", "Zimbabwe", "caller-1", nil)

	first := classifier.Classify(query)
	for i := 0; i < 50; i++ {
		if got := classifier.Classify(query); got != first {
			t.Fatalf("classification changed between calls: %s then %s", first, got)
		}
	}
}

func TestClassifierIsTotal(t *testing.T) {
	classifier := NewRuleClassifier(NewCharTokenEstimator())
	inputs := []string{
		"",
		"   ",
		"?",
		"asdf qwerty zxcv",
		"ЗАКОН О ТРУДЕ",
		"a very long query " + string(make([]byte, 100)),
	}
	for _, input := range inputs {
		tier := classifier.Classify(models.NewQuery(input, "", "caller-1", nil))
		if !tier.Valid() {
			t.Errorf("Classify(%q) returned tier outside the closed set: %s", input, tier)
		}
	}
}

func TestClassifierLongBasicQuestionDemoted(t *testing.T) {
	long := "What is the meaning of the doctrine of subrogation as applied by insurers " +
		"when they step into the shoes of the insured party after paying out a claim, and " +
		"how have the courts treated attempts to contract out of that doctrine over the years?"
	if got := classify(t, long); got == models.TierBasic {
		t.Error("long questions must not classify as basic")
	}
}
