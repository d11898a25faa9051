package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lexira-engine/internal/config"
	"lexira-engine/internal/models"
	"lexira-engine/internal/pkg/logger"
)

// Named workflows. Each maps to a stage graph below; the router picks the
// name from the classified tier.
const (
	WorkflowQuickAnswer      = "quick-answer"
	WorkflowStandardResearch = "standard-research"
	WorkflowDeepResearch     = "deep-research"
	WorkflowCaselawReview    = "caselaw-review"
	WorkflowDocumentDrafting = "document-drafting"
	WorkflowDocumentReview   = "document-review"
)

// StageSpec is one node of a workflow definition. Critical stages abort the
// run on failure; non-critical ones are recorded and skipped past.
type StageSpec struct {
	Name     string
	Kind     models.StageKind
	Critical bool
}

var workflowDefs = map[string][]StageSpec{
	WorkflowQuickAnswer: {
		{Name: "search_sources", Kind: models.StageKindSearch, Critical: false},
		{Name: "compose_answer", Kind: models.StageKindSynthesize, Critical: true},
	},
	WorkflowStandardResearch: {
		{Name: "search_sources", Kind: models.StageKindSearch, Critical: true},
		{Name: "extract_documents", Kind: models.StageKindExtract, Critical: false},
		{Name: "compose_answer", Kind: models.StageKindSynthesize, Critical: true},
	},
	WorkflowDeepResearch: {
		{Name: "search_sources", Kind: models.StageKindSearch, Critical: true},
		{Name: "extract_documents", Kind: models.StageKindExtract, Critical: false},
		{Name: "analyze_gaps", Kind: models.StageKindGapAnalysis, Critical: false},
		{Name: "compose_answer", Kind: models.StageKindSynthesize, Critical: true},
	},
	WorkflowCaselawReview: {
		{Name: "search_caselaw", Kind: models.StageKindSearch, Critical: true},
		{Name: "extract_judgments", Kind: models.StageKindExtract, Critical: false},
		{Name: "compare_authorities", Kind: models.StageKindSynthesize, Critical: true},
	},
	WorkflowDocumentDrafting: {
		{Name: "search_precedents", Kind: models.StageKindSearch, Critical: false},
		{Name: "draft_document", Kind: models.StageKindDraft, Critical: true},
		{Name: "review_draft", Kind: models.StageKindReview, Critical: false},
	},
	WorkflowDocumentReview: {
		{Name: "search_authorities", Kind: models.StageKindSearch, Critical: false},
		{Name: "review_document", Kind: models.StageKindReview, Critical: true},
	},
}

// WorkflowForTier maps a classified tier to the workflow the engine runs for
// it. Basic queries never reach the engine; the router answers them with a
// single generation call.
func WorkflowForTier(tier models.ComplexityTier) string {
	switch tier {
	case models.TierLight:
		return WorkflowQuickAnswer
	case models.TierMedium:
		return WorkflowStandardResearch
	case models.TierAdvanced, models.TierDeep:
		return WorkflowDeepResearch
	case models.TierWorkflowCaselaw:
		return WorkflowCaselawReview
	case models.TierWorkflowDrafting:
		return WorkflowDocumentDrafting
	case models.TierWorkflowReview:
		return WorkflowDocumentReview
	default:
		return WorkflowStandardResearch
	}
}

// WorkflowEngine executes named workflows against the external collaborators.
// A run is owned by exactly one Execute call for its lifetime; stage records
// are append-only and the budget is charged once per completed stage.
type WorkflowEngine struct {
	search     SearchProvider
	extractor  Extractor
	generator  Generator
	summarizer Summarizer
	estimator  *CharTokenEstimator
	runStore   RunStateStore
	publisher  ProgressPublisher
	config     config.WorkflowConfig
	logger     *logger.Logger

	mu     sync.Mutex
	active map[string]*models.WorkflowRun
}

func NewWorkflowEngine(
	search SearchProvider,
	extractor Extractor,
	generator Generator,
	summarizer Summarizer,
	runStore RunStateStore,
	publisher ProgressPublisher,
	cfg config.WorkflowConfig,
	log *logger.Logger,
) *WorkflowEngine {
	return &WorkflowEngine{
		search:     search,
		extractor:  extractor,
		generator:  generator,
		summarizer: summarizer,
		estimator:  NewCharTokenEstimator(),
		runStore:   runStore,
		publisher:  publisher,
		config:     cfg,
		logger:     log,
		active:     make(map[string]*models.WorkflowRun),
	}
}

// BudgetFor returns the token ceiling a workflow runs under.
func (engine *WorkflowEngine) BudgetFor(workflowName string) int {
	switch workflowName {
	case WorkflowQuickAnswer:
		return engine.config.DirectBudget
	case WorkflowDeepResearch:
		return engine.config.DeepBudget
	default:
		return engine.config.StandardBudget
	}
}

func (engine *WorkflowEngine) ActiveRuns() int {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return len(engine.active)
}

// runContext carries the intermediate artifacts stages hand to each other.
type runContext struct {
	run   *models.WorkflowRun
	jobID string

	searchResults []SearchResult
	docs          []ExtractedDoc
	gaps          []string
	draft         string
}

// Execute runs the named workflow to completion. The returned result carries
// the final text, deduplicated citations, and budget accounting; a failed
// critical stage fails the whole run.
func (engine *WorkflowEngine) Execute(ctx context.Context, workflowName, jobID string, query models.Query) (*models.WorkflowResult, error) {
	def, ok := workflowDefs[workflowName]
	if !ok {
		return nil, models.NewValidationError("UNKNOWN_WORKFLOW", fmt.Sprintf("no workflow named %q", workflowName))
	}

	budget := models.NewTokenBudget(engine.BudgetFor(workflowName), engine.config.SummarizeThreshold)
	run := models.NewWorkflowRun(workflowName, query, budget)
	run.MarkRunning()

	engine.mu.Lock()
	engine.active[run.ID] = run
	engine.mu.Unlock()
	defer func() {
		engine.mu.Lock()
		delete(engine.active, run.ID)
		engine.mu.Unlock()
	}()

	rc := &runContext{run: run, jobID: jobID}

	engine.logger.LogWorkflow(run.ID, query.CallerID, "workflow started", 0, nil)
	engine.publish(ctx, rc, models.UpdateTypeRunStarted, "", fmt.Sprintf("starting %s", workflowName), 0)
	engine.snapshot(ctx, run)

	total := len(def)
	for i, spec := range def {
		if ctx.Err() != nil {
			engine.failRun(ctx, rc, models.NewTimeoutError("WORKFLOW_CANCELED", "workflow canceled").WithCause(ctx.Err()))
			return nil, models.NewTimeoutError("WORKFLOW_CANCELED", "workflow canceled").WithCause(ctx.Err())
		}

		progress := float64(i) / float64(total)
		engine.publish(ctx, rc, models.UpdateTypeStageStarted, spec.Name, fmt.Sprintf("running %s", spec.Name), progress)

		stage, err := engine.runStage(ctx, rc, spec)
		run.AppendStage(stage)
		engine.snapshot(ctx, run)

		if err != nil {
			engine.publish(ctx, rc, models.UpdateTypeStageFailed, spec.Name, err.Error(), progress)
			if spec.Critical {
				engine.failRun(ctx, rc, err)
				return nil, err
			}
			engine.logger.Warn("non-critical stage failed, continuing",
				"run_id", run.ID,
				"stage", spec.Name,
				"error", err.Error())
			continue
		}
		engine.publish(ctx, rc, models.UpdateTypeStageCompleted, spec.Name, fmt.Sprintf("%s completed", spec.Name), float64(i+1)/float64(total))
	}

	run.MarkSuccess()
	engine.snapshot(ctx, run)
	engine.publish(ctx, rc, models.UpdateTypeRunCompleted, "", "workflow completed", 1)
	engine.logger.LogWorkflow(run.ID, query.CallerID, "workflow completed", run.Duration(), nil)

	return &models.WorkflowResult{
		Text:                   run.Findings,
		Citations:              run.Citations,
		TokensUsed:             run.Budget.Used,
		SummarizationTriggered: run.Summarized,
		WorkflowName:           workflowName,
		StageCount:             len(run.Stages),
		Duration:               run.Duration(),
	}, nil
}

func (engine *WorkflowEngine) failRun(ctx context.Context, rc *runContext, cause error) {
	rc.run.MarkFailed()
	engine.snapshot(ctx, rc.run)
	engine.publish(ctx, rc, models.UpdateTypeRunFailed, "", cause.Error(), 1)
	engine.logger.LogWorkflow(rc.run.ID, rc.run.Query.CallerID, "workflow failed", rc.run.Duration(), cause)
}

func (engine *WorkflowEngine) runStage(ctx context.Context, rc *runContext, spec StageSpec) (models.Stage, error) {
	stage := models.Stage{
		ID:        uuid.New().String(),
		Name:      spec.Name,
		Kind:      spec.Kind,
		Status:    models.StageStatusRunning,
		StartTime: time.Now(),
	}

	var output string
	var err error

	switch spec.Kind {
	case models.StageKindSearch:
		output, err = engine.stageSearch(ctx, rc)
	case models.StageKindExtract:
		output, err = engine.stageExtract(ctx, rc)
	case models.StageKindGapAnalysis:
		output, err = engine.stageGapAnalysis(ctx, rc)
	case models.StageKindSynthesize:
		output, err = engine.stageSynthesize(ctx, rc)
	case models.StageKindDraft:
		output, err = engine.stageDraft(ctx, rc)
	case models.StageKindReview:
		output, err = engine.stageReview(ctx, rc)
	default:
		err = models.NewInternalError("UNKNOWN_STAGE_KIND", fmt.Sprintf("no runner for stage kind %q", spec.Kind))
	}

	stage.EndTime = time.Now()

	if err != nil {
		stage.Status = models.StageStatusFailed
		stage.Error = err.Error()
		return stage, err
	}

	output = engine.chargeOutput(ctx, rc, &stage, output)
	stage.Output = output
	stage.Status = models.StageStatusCompleted
	return stage, nil
}

// chargeOutput applies budget accounting to a completed stage's output.
// Output that would cross the summarization trigger is condensed first; what
// still does not fit the remaining allocation is truncated. The clamp in
// Charge guarantees Used never exceeds Allocated.
func (engine *WorkflowEngine) chargeOutput(ctx context.Context, rc *runContext, stage *models.Stage, output string) string {
	cost := engine.estimator.EstimateTokens(output)

	if cost > 0 && rc.run.Budget.WouldExceedThreshold(cost) {
		target := rc.run.Budget.TriggerPoint() - rc.run.Budget.Used
		if target < 256 {
			target = 256
		}
		summarized, err := engine.summarizer.Summarize(ctx, output, target)
		if err != nil {
			engine.logger.Warn("summarization failed, truncating instead",
				"run_id", rc.run.ID,
				"stage", stage.Name,
				"error", err)
		} else if summarized != output {
			output = summarized
			stage.Summarized = true
			rc.run.Summarized = true
			cost = engine.estimator.EstimateTokens(output)
		}
	}

	if remaining := rc.run.Budget.Remaining(); cost > remaining {
		output = engine.estimator.TruncateToTokens(output, remaining)
		cost = engine.estimator.EstimateTokens(output)
	}

	stage.TokenCost = rc.run.Budget.Charge(cost)
	return output
}

func (engine *WorkflowEngine) stageSearch(ctx context.Context, rc *runContext) (string, error) {
	results, err := engine.search.Search(ctx, rc.run.Query.Text, rc.run.Query.Jurisdiction, 0)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", models.NewExternalError("SEARCH_NO_RESULTS", "no sources found for query")
	}

	rc.searchResults = results

	citations := make([]models.Citation, 0, len(results))
	var b strings.Builder
	for i, r := range results {
		citations = append(citations, models.Citation{Title: r.Title, URL: r.URL, Score: r.Score})
		fmt.Fprintf(&b, "[%d] %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Snippet)
	}
	rc.run.AddCitations(citations)

	return b.String(), nil
}

func (engine *WorkflowEngine) stageExtract(ctx context.Context, rc *runContext) (string, error) {
	urls := make([]string, 0, len(rc.searchResults))
	for _, r := range rc.searchResults {
		urls = append(urls, r.URL)
	}
	if len(urls) == 0 {
		return "", models.NewInternalError("EXTRACT_NO_SOURCES", "extract stage reached without search results")
	}

	docs, err := engine.extractor.Extract(ctx, urls)
	if err != nil {
		return "", err
	}
	rc.docs = docs

	var b strings.Builder
	for _, doc := range docs {
		if !doc.Success {
			continue
		}
		fmt.Fprintf(&b, "SOURCE: %s (%s)\n%s\n\n", doc.Title, doc.URL, doc.FullText)
	}
	return b.String(), nil
}

// stageGapAnalysis inspects the collected material for coverage gaps and
// branches: above the gap threshold it fans out concurrent deep dives, at or
// below it runs a single enhancement pass. The branch stages are appended to
// the run by this stage's runner.
func (engine *WorkflowEngine) stageGapAnalysis(ctx context.Context, rc *runContext) (string, error) {
	rc.gaps = engine.identifyGaps(rc)

	summary := fmt.Sprintf("identified %d coverage gaps", len(rc.gaps))
	if len(rc.gaps) > 0 {
		summary += ": " + strings.Join(rc.gaps, "; ")
	}

	engine.logger.Info("gap analysis complete",
		"run_id", rc.run.ID,
		"gap_count", len(rc.gaps),
		"threshold", engine.config.GapThreshold)

	if len(rc.gaps) > engine.config.GapThreshold {
		engine.runDeepDives(ctx, rc)
	} else {
		engine.runEnhance(ctx, rc)
	}
	return summary, nil
}

// identifyGaps applies coverage heuristics over what the run has gathered so
// far. Each hit produces a focused follow-up query for a deep-dive branch.
func (engine *WorkflowEngine) identifyGaps(rc *runContext) []string {
	query := rc.run.Query
	var gaps []string

	material := collectedMaterial(rc)
	lower := strings.ToLower(material)

	if query.Jurisdiction != "" && !strings.Contains(lower, strings.ToLower(query.Jurisdiction)) {
		gaps = append(gaps, fmt.Sprintf("%s: position under %s law specifically", query.Text, query.Jurisdiction))
	}

	citationMarkers := strings.Count(material, " v ") + strings.Count(material, " v. ") + strings.Count(lower, "act ") + strings.Count(lower, "section ")
	if citationMarkers < 3 {
		gaps = append(gaps, fmt.Sprintf("%s: leading cases and statutory authority", query.Text))
	}

	successfulDocs := 0
	for _, doc := range rc.docs {
		if doc.Success {
			successfulDocs++
		}
	}
	if successfulDocs < 2 {
		gaps = append(gaps, fmt.Sprintf("%s: additional primary sources", query.Text))
	}

	if engine.estimator.EstimateTokens(material) < 500 {
		gaps = append(gaps, fmt.Sprintf("%s: detailed treatment and exceptions", query.Text))
	}

	if !strings.Contains(lower, "recent") && !strings.Contains(lower, "amend") && !strings.Contains(lower, "2024") && !strings.Contains(lower, "2025") {
		gaps = append(gaps, fmt.Sprintf("%s: recent amendments and current developments", query.Text))
	}

	return gaps
}

type diveOutcome struct {
	gap       string
	stage     models.Stage
	output    string
	citations []models.Citation
	err       error
}

// runDeepDives fans out up to MaxDeepDives concurrent branches, one per gap,
// each under its own sub-budget. Branches settle independently: failures are
// recorded as failed stages and the run proceeds with whatever succeeded.
func (engine *WorkflowEngine) runDeepDives(ctx context.Context, rc *runContext) {
	gaps := rc.gaps
	if len(gaps) > engine.config.MaxDeepDives {
		gaps = gaps[:engine.config.MaxDeepDives]
	}

	subBudget := rc.run.Budget.SubBudget(len(gaps), engine.config.DeepDiveBudget)

	outcomes := make([]diveOutcome, len(gaps))
	var wg sync.WaitGroup
	for i, gap := range gaps {
		wg.Add(1)
		go func(index int, gapQuery string) {
			defer wg.Done()
			outcomes[index] = engine.runOneDive(ctx, rc, index, gapQuery, subBudget)
		}(i, gap)
	}
	wg.Wait()

	succeeded := 0
	for _, outcome := range outcomes {
		stage := outcome.stage
		if outcome.err != nil {
			stage.Status = models.StageStatusFailed
			stage.Error = outcome.err.Error()
			rc.run.AppendStage(stage)
			engine.logger.Warn("deep dive branch failed",
				"run_id", rc.run.ID,
				"gap", outcome.gap,
				"error", outcome.err.Error())
			continue
		}
		output := engine.chargeOutput(ctx, rc, &stage, outcome.output)
		stage.Output = output
		stage.Status = models.StageStatusCompleted
		rc.run.AppendStage(stage)
		rc.run.AddCitations(outcome.citations)
		succeeded++
	}

	engine.logger.Info("deep dives settled",
		"run_id", rc.run.ID,
		"branches", len(gaps),
		"succeeded", succeeded)
}

func (engine *WorkflowEngine) runOneDive(ctx context.Context, rc *runContext, index int, gapQuery string, budget models.TokenBudget) diveOutcome {
	outcome := diveOutcome{
		gap: gapQuery,
		stage: models.Stage{
			ID:        uuid.New().String(),
			Name:      fmt.Sprintf("deep_dive_%d", index+1),
			Kind:      models.StageKindDeepDive,
			Status:    models.StageStatusRunning,
			InputRef:  gapQuery,
			StartTime: time.Now(),
		},
	}
	defer func() { outcome.stage.EndTime = time.Now() }()

	results, err := engine.search.Search(ctx, gapQuery, rc.run.Query.Jurisdiction, 5)
	if err != nil {
		outcome.err = err
		return outcome
	}

	var sources strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sources, "[%d] %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Snippet)
	}

	prompt := fmt.Sprintf(`You are researching a specific aspect of a legal question.

FOCUS: %s
JURISDICTION: %s

SOURCES:
%s
Write a focused analysis of this aspect. Cite sources by title and keep all case names, citations, and statutory references exact.`,
		gapQuery, rc.run.Query.Jurisdiction, sources.String())

	text, err := engine.generator.Generate(ctx, prompt, budget.Allocated)
	if err != nil {
		outcome.err = err
		return outcome
	}

	for _, r := range results {
		outcome.citations = append(outcome.citations, models.Citation{Title: r.Title, URL: r.URL, Score: r.Score})
	}

	outcome.output = text
	return outcome
}

// runEnhance is the at-or-below-threshold branch: one generation pass that
// deepens the existing material instead of fetching more.
func (engine *WorkflowEngine) runEnhance(ctx context.Context, rc *runContext) {
	stage := models.Stage{
		ID:        uuid.New().String(),
		Name:      "enhance_findings",
		Kind:      models.StageKindEnhance,
		Status:    models.StageStatusRunning,
		StartTime: time.Now(),
	}

	prompt := fmt.Sprintf(`Deepen the following legal research material. Add analysis, connect the authorities, and flag open issues. Do not invent sources.

QUESTION: %s
JURISDICTION: %s

MATERIAL:
%s`, rc.run.Query.Text, rc.run.Query.Jurisdiction, collectedMaterial(rc))

	output, err := engine.generator.Generate(ctx, prompt, rc.run.Budget.Remaining())
	stage.EndTime = time.Now()

	if err != nil {
		stage.Status = models.StageStatusFailed
		stage.Error = err.Error()
		rc.run.AppendStage(stage)
		engine.logger.Warn("enhance stage failed, continuing with raw material",
			"run_id", rc.run.ID,
			"error", err.Error())
		return
	}

	output = engine.chargeOutput(ctx, rc, &stage, output)
	stage.Output = output
	stage.Status = models.StageStatusCompleted
	rc.run.AppendStage(stage)
}

func (engine *WorkflowEngine) stageSynthesize(ctx context.Context, rc *runContext) (string, error) {
	instructions := "Answer the question thoroughly. Structure the answer, cite sources by title, and keep every case name, citation, statutory reference, date, and amount exact."
	if rc.run.WorkflowName == WorkflowCaselawReview {
		instructions = "Compare and contrast the authorities: facts, holdings, reasoning, and how later cases treat earlier ones. Keep every case name and citation exact, and state which line of authority prevails."
	}

	prompt := fmt.Sprintf(`You are a legal research assistant.

QUESTION: %s
JURISDICTION: %s
%s
RESEARCH MATERIAL:
%s

%s`, rc.run.Query.Text, rc.run.Query.Jurisdiction, conversationContext(rc.run.Query), collectedMaterial(rc), instructions)

	text, err := engine.generator.Generate(ctx, prompt, rc.run.Budget.Remaining())
	if err != nil {
		return "", err
	}
	rc.run.Findings = text
	return text, nil
}

func (engine *WorkflowEngine) stageDraft(ctx context.Context, rc *runContext) (string, error) {
	var precedents strings.Builder
	for i, r := range rc.searchResults {
		fmt.Fprintf(&precedents, "[%d] %s: %s\n", i+1, r.Title, r.Snippet)
	}

	prompt := fmt.Sprintf(`Draft the legal document requested below. Use formal drafting conventions for the jurisdiction, number the clauses, and leave bracketed placeholders for facts not provided.

REQUEST: %s
JURISDICTION: %s
%s
RELEVANT PRECEDENTS:
%s`, rc.run.Query.Text, rc.run.Query.Jurisdiction, conversationContext(rc.run.Query), precedents.String())

	text, err := engine.generator.Generate(ctx, prompt, rc.run.Budget.Remaining())
	if err != nil {
		return "", err
	}
	rc.draft = text
	rc.run.Findings = text
	return text, nil
}

func (engine *WorkflowEngine) stageReview(ctx context.Context, rc *runContext) (string, error) {
	subject := rc.draft
	reviewing := "the draft above"
	if subject == "" {
		// document-review: the document under review arrives in the query.
		subject = rc.run.Query.Text
		reviewing = "the document provided"
	}

	var authorities strings.Builder
	for i, r := range rc.searchResults {
		fmt.Fprintf(&authorities, "[%d] %s: %s\n", i+1, r.Title, r.Snippet)
	}

	prompt := fmt.Sprintf(`Review %s for legal soundness in %s. Identify risky clauses, missing protections, compliance issues, and ambiguities. Reference the authorities where relevant and keep citations exact.

DOCUMENT:
%s

AUTHORITIES:
%s`, reviewing, rc.run.Query.Jurisdiction, subject, authorities.String())

	text, err := engine.generator.Generate(ctx, prompt, rc.run.Budget.Remaining())
	if err != nil {
		return "", err
	}

	if rc.draft != "" {
		rc.run.Findings = rc.draft + "\n\n---\nREVIEW NOTES:\n" + text
	} else {
		rc.run.Findings = text
	}
	return text, nil
}

// collectedMaterial concatenates completed stage outputs in execution order,
// so synthesis always sees the post-summarization versions the budget paid for.
func collectedMaterial(rc *runContext) string {
	var b strings.Builder
	for _, stage := range rc.run.Stages {
		if stage.Status != models.StageStatusCompleted || stage.Output == "" {
			continue
		}
		if stage.Kind == models.StageKindSynthesize || stage.Kind == models.StageKindDraft || stage.Kind == models.StageKindReview {
			continue
		}
		b.WriteString(stage.Output)
		b.WriteString("\n\n")
	}
	return b.String()
}

func conversationContext(query models.Query) string {
	if len(query.History) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("CONVERSATION SO FAR:\n")
	for _, turn := range query.History {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	return b.String()
}

func (engine *WorkflowEngine) publish(ctx context.Context, rc *runContext, updateType models.UpdateType, stageName, message string, progress float64) {
	if engine.publisher == nil {
		return
	}
	update := &models.ProgressUpdate{
		RunID:     rc.run.ID,
		JobID:     rc.jobID,
		Type:      updateType,
		Stage:     stageName,
		Message:   message,
		Progress:  progress,
		Timestamp: time.Now(),
	}
	if err := engine.publisher.PublishProgress(ctx, rc.run.Query.CallerID, update); err != nil {
		engine.logger.Debug("progress publish failed", "run_id", rc.run.ID, "error", err)
	}
}

func (engine *WorkflowEngine) snapshot(ctx context.Context, run *models.WorkflowRun) {
	if engine.runStore == nil {
		return
	}
	if err := engine.runStore.StoreRunState(ctx, run); err != nil {
		engine.logger.Debug("run state snapshot failed", "run_id", run.ID, "error", err)
	}
}
