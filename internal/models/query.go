package models

import (
	"time"
)

// MaxHistoryTurns bounds the conversation window carried with a query.
const MaxHistoryTurns = 10

type ConversationTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Query is the immutable unit of work created at ingress. It is never
// mutated after construction; the classifier and workflow engine only read it.
type Query struct {
	Text         string             `json:"text"`
	Jurisdiction string             `json:"jurisdiction"`
	CallerID     string             `json:"caller_id"`
	History      []ConversationTurn `json:"history,omitempty"`
	SubmittedAt  time.Time          `json:"submitted_at"`
}

func NewQuery(text, jurisdiction, callerID string, history []ConversationTurn) Query {
	if len(history) > MaxHistoryTurns {
		history = history[len(history)-MaxHistoryTurns:]
	}
	return Query{
		Text:         text,
		Jurisdiction: jurisdiction,
		CallerID:     callerID,
		History:      history,
		SubmittedAt:  time.Now(),
	}
}

type ComplexityTier string

const (
	TierBasic            ComplexityTier = "basic"
	TierLight            ComplexityTier = "light"
	TierMedium           ComplexityTier = "medium"
	TierAdvanced         ComplexityTier = "advanced"
	TierDeep             ComplexityTier = "deep"
	TierWorkflowReview   ComplexityTier = "workflow_review"
	TierWorkflowCaselaw  ComplexityTier = "workflow_caselaw"
	TierWorkflowDrafting ComplexityTier = "workflow_drafting"
)

// AllTiers is the closed set; the classifier never returns anything else.
var AllTiers = []ComplexityTier{
	TierBasic,
	TierLight,
	TierMedium,
	TierAdvanced,
	TierDeep,
	TierWorkflowReview,
	TierWorkflowCaselaw,
	TierWorkflowDrafting,
}

// Priority returns the queue priority for a tier. Lower values dequeue
// first so fast queries are never starved behind long-running research.
func (t ComplexityTier) Priority() int {
	switch t {
	case TierBasic:
		return 0
	case TierLight:
		return 1
	case TierMedium:
		return 2
	case TierAdvanced:
		return 3
	case TierDeep:
		return 4
	case TierWorkflowReview:
		return 5
	case TierWorkflowCaselaw:
		return 5
	case TierWorkflowDrafting:
		return 6
	default:
		return 2
	}
}

func (t ComplexityTier) Valid() bool {
	for _, known := range AllTiers {
		if t == known {
			return true
		}
	}
	return false
}
