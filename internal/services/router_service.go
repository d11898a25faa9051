package services

import (
	"context"
	"fmt"
	"time"

	"lexira-engine/internal/config"
	"lexira-engine/internal/models"
	"lexira-engine/internal/pkg/logger"
)

// RouterService turns a classified query into an answer: cache first, then a
// direct generation for basic lookups, a workflow run for everything else.
// Successful results are cached on the way out; failures never are.
type RouterService struct {
	classifier Classifier
	cache      *CacheService
	engine     *WorkflowEngine
	generator  Generator
	config     config.WorkflowConfig
	logger     *logger.Logger
}

func NewRouterService(
	classifier Classifier,
	cache *CacheService,
	engine *WorkflowEngine,
	generator Generator,
	cfg config.WorkflowConfig,
	log *logger.Logger,
) *RouterService {
	return &RouterService{
		classifier: classifier,
		cache:      cache,
		engine:     engine,
		generator:  generator,
		config:     cfg,
		logger:     log,
	}
}

// Classify exposes the tier decision so the queue can prioritize before the
// job runs. Pure: same query, same tier.
func (service *RouterService) Classify(query models.Query) models.ComplexityTier {
	return service.classifier.Classify(query)
}

// Route executes the query under its tier and returns the final result.
func (service *RouterService) Route(ctx context.Context, jobID string, query models.Query, tier models.ComplexityTier) (*models.ResearchResult, error) {
	startTime := time.Now()

	if cached, _ := service.cache.Get(ctx, query.Text, tier, query.Jurisdiction); cached != nil {
		service.logger.Info("answered from cache",
			"job_id", jobID,
			"caller_id", query.CallerID,
			"tier", string(tier))
		return cached, nil
	}

	var result *models.ResearchResult
	var err error

	if tier == models.TierBasic {
		result, err = service.answerDirect(ctx, query, tier)
	} else {
		result, err = service.runWorkflow(ctx, jobID, query, tier)
	}
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(startTime)

	if cacheErr := service.cache.Put(ctx, query.Text, tier, query.Jurisdiction, result); cacheErr != nil {
		service.logger.Warn("result not cached", "job_id", jobID, "error", cacheErr)
	}

	return result, nil
}

// answerDirect handles basic lookups with a single generation call; no
// retrieval, no workflow machinery.
func (service *RouterService) answerDirect(ctx context.Context, query models.Query, tier models.ComplexityTier) (*models.ResearchResult, error) {
	prompt := fmt.Sprintf(`You are a legal research assistant. Answer the question below concisely and accurately. If the answer depends on jurisdiction, answer for %s.
%s
QUESTION: %s`, orGeneral(query.Jurisdiction), conversationContext(query), query.Text)

	text, err := service.generator.Generate(ctx, prompt, service.config.DirectBudget)
	if err != nil {
		return nil, err
	}

	return &models.ResearchResult{
		Text:       text,
		Tier:       tier,
		TokensUsed: NewCharTokenEstimator().EstimateTokens(text),
	}, nil
}

func (service *RouterService) runWorkflow(ctx context.Context, jobID string, query models.Query, tier models.ComplexityTier) (*models.ResearchResult, error) {
	workflowName := WorkflowForTier(tier)

	workflowResult, err := service.engine.Execute(ctx, workflowName, jobID, query)
	if err != nil {
		return nil, err
	}

	return &models.ResearchResult{
		Text:                   workflowResult.Text,
		Citations:              workflowResult.Citations,
		Tier:                   tier,
		WorkflowName:           workflowResult.WorkflowName,
		TokensUsed:             workflowResult.TokensUsed,
		SummarizationTriggered: workflowResult.SummarizationTriggered,
	}, nil
}

func orGeneral(jurisdiction string) string {
	if jurisdiction == "" {
		return "the general common-law position"
	}
	return jurisdiction
}
