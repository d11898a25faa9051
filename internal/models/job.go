package models

import (
	"time"

	"github.com/google/uuid"
)

type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Job is a queued unit of work. State transitions are monotonic:
// waiting -> active -> completed|failed, with failed -> waiting allowed only
// while attempts remain.
type Job struct {
	ID             string          `json:"id"`
	Query          Query           `json:"query"`
	Tier           ComplexityTier  `json:"tier"`
	Priority       int             `json:"priority"`
	State          JobState        `json:"state"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	NextEligibleAt time.Time       `json:"next_eligible_at,omitempty"`
	Progress       float64         `json:"progress"`
	Result         *ResearchResult `json:"result,omitempty"`
	Err            *AppError       `json:"-"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`

	// Seq preserves FIFO order among jobs of equal priority.
	Seq uint64 `json:"-"`
}

func NewJob(query Query, tier ComplexityTier, maxAttempts int) *Job {
	return &Job{
		ID:          uuid.New().String(),
		Query:       query,
		Tier:        tier,
		Priority:    tier.Priority(),
		State:       JobStateWaiting,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now(),
	}
}

func (j *Job) MarkActive() {
	j.State = JobStateActive
	j.Attempts++
	now := time.Now()
	j.StartedAt = &now
}

func (j *Job) MarkCompleted(result *ResearchResult) {
	j.State = JobStateCompleted
	j.Result = result
	j.Progress = 1.0
	now := time.Now()
	j.FinishedAt = &now
}

func (j *Job) MarkFailed(err *AppError) {
	j.State = JobStateFailed
	j.Err = err
	now := time.Now()
	j.FinishedAt = &now
}

// Requeue moves a failed attempt back to waiting with a retry deadline.
func (j *Job) Requeue(nextEligible time.Time) {
	j.State = JobStateWaiting
	j.NextEligibleAt = nextEligible
}

func (j *Job) AttemptsExhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

func (j *Job) IsTerminal() bool {
	return j.State == JobStateCompleted || j.State == JobStateFailed
}

// JobStatus is the poll-facing snapshot of a job.
type JobStatus struct {
	JobID      string          `json:"job_id"`
	State      JobState        `json:"state"`
	Tier       ComplexityTier  `json:"tier"`
	Progress   float64         `json:"progress"`
	Result     *ResearchResult `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Category   ErrorCategory   `json:"error_category,omitempty"`
	RetryAfter int             `json:"retry_after_seconds,omitempty"`
}

// ResearchResult is the final answer surfaced to the chat layer.
type ResearchResult struct {
	Text                   string         `json:"text"`
	Citations              []Citation     `json:"citations,omitempty"`
	Tier                   ComplexityTier `json:"tier"`
	WorkflowName           string         `json:"workflow_name,omitempty"`
	TokensUsed             int            `json:"tokens_used"`
	SummarizationTriggered bool           `json:"summarization_triggered,omitempty"`
	FromCache              bool           `json:"from_cache,omitempty"`
	Duration               time.Duration  `json:"duration_ms"`
}
