package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

type StageStatus string

const (
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
)

type StageKind string

const (
	StageKindSearch      StageKind = "search"
	StageKindExtract     StageKind = "extract"
	StageKindGapAnalysis StageKind = "gap_analysis"
	StageKindDeepDive    StageKind = "deep_dive"
	StageKindEnhance     StageKind = "enhance"
	StageKindSynthesize  StageKind = "synthesize"
	StageKindDraft       StageKind = "draft"
	StageKindReview      StageKind = "review"
)

type Citation struct {
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Score float64 `json:"score,omitempty"`
}

// Stage is one executed step of a WorkflowRun. Stage records are append-only;
// a retried workflow gets a fresh run, never a rewritten stage.
type Stage struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Kind       StageKind   `json:"kind"`
	Status     StageStatus `json:"status"`
	InputRef   string      `json:"input_ref,omitempty"`
	Output     string      `json:"output,omitempty"`
	TokenCost  int         `json:"token_cost"`
	Summarized bool        `json:"summarized,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartTime  time.Time   `json:"start_time"`
	EndTime    time.Time   `json:"end_time"`
}

// WorkflowRun is one execution instance of a named workflow, owned
// exclusively by the workflow engine for its lifetime.
type WorkflowRun struct {
	ID           string      `json:"id"`
	WorkflowName string      `json:"workflow_name"`
	Query        Query       `json:"query"`
	Status       RunStatus   `json:"status"`
	Stages       []Stage     `json:"stages"`
	Findings     string      `json:"findings,omitempty"`
	Citations    []Citation  `json:"citations,omitempty"`
	Budget       TokenBudget `json:"budget"`
	Summarized   bool        `json:"summarized"`
	StartTime    time.Time   `json:"start_time"`
	EndTime      *time.Time  `json:"end_time,omitempty"`
}

func NewWorkflowRun(workflowName string, query Query, budget TokenBudget) *WorkflowRun {
	return &WorkflowRun{
		ID:           uuid.New().String(),
		WorkflowName: workflowName,
		Query:        query,
		Status:       RunStatusPending,
		Stages:       []Stage{},
		Budget:       budget,
		StartTime:    time.Now(),
	}
}

func (r *WorkflowRun) AppendStage(stage Stage) {
	r.Stages = append(r.Stages, stage)
}

func (r *WorkflowRun) MarkRunning() {
	r.Status = RunStatusRunning
}

func (r *WorkflowRun) MarkSuccess() {
	r.Status = RunStatusSuccess
	now := time.Now()
	r.EndTime = &now
}

func (r *WorkflowRun) MarkFailed() {
	r.Status = RunStatusFailed
	now := time.Now()
	r.EndTime = &now
}

func (r *WorkflowRun) Duration() time.Duration {
	if r.EndTime != nil {
		return r.EndTime.Sub(r.StartTime)
	}
	return time.Since(r.StartTime)
}

func (r *WorkflowRun) AddCitations(citations []Citation) {
	seen := make(map[string]bool, len(r.Citations))
	for _, c := range r.Citations {
		seen[c.URL] = true
	}
	for _, c := range citations {
		if c.URL == "" || !seen[c.URL] {
			r.Citations = append(r.Citations, c)
			seen[c.URL] = true
		}
	}
}

// WorkflowResult is what a completed run hands back to the router.
type WorkflowResult struct {
	Text                   string        `json:"text"`
	Citations              []Citation    `json:"citations,omitempty"`
	TokensUsed             int           `json:"tokens_used"`
	SummarizationTriggered bool          `json:"summarization_triggered"`
	WorkflowName           string        `json:"workflow_name"`
	StageCount             int           `json:"stage_count"`
	Duration               time.Duration `json:"duration"`
}

type UpdateType string

const (
	UpdateTypeRunStarted     UpdateType = "run_started"
	UpdateTypeStageStarted   UpdateType = "stage_started"
	UpdateTypeStageCompleted UpdateType = "stage_completed"
	UpdateTypeStageFailed    UpdateType = "stage_failed"
	UpdateTypeRunCompleted   UpdateType = "run_completed"
	UpdateTypeRunFailed      UpdateType = "run_failed"
)

// ProgressUpdate is the event published while a run executes, consumed by
// the chat layer over a Redis stream and by the queue over a channel.
type ProgressUpdate struct {
	RunID     string                 `json:"run_id"`
	JobID     string                 `json:"job_id,omitempty"`
	Type      UpdateType             `json:"type"`
	Stage     string                 `json:"stage,omitempty"`
	Message   string                 `json:"message"`
	Progress  float64                `json:"progress"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
