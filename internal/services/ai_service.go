package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"lexira-engine/internal/config"
	"lexira-engine/internal/models"
	"lexira-engine/internal/pkg/logger"
)

// Generator is the text-completion collaborator.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxOutputTokens int) (string, error)
}

// Summarizer condenses oversized stage output while keeping citations, case
// names, statutory references, dates, and amounts verbatim.
type Summarizer interface {
	Summarize(ctx context.Context, text string, targetTokens int) (string, error)
}

// GeminiService implements both collaborators over the Gemini API with the
// same retry/escalating-delay loop for each call.
type GeminiService struct {
	client *genai.Client
	config config.GeminiConfig
	logger *logger.Logger
}

func NewGeminiService(cfg config.GeminiConfig, log *logger.Logger) (*GeminiService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Gemini API key required")
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	service := &GeminiService{
		client: client,
		config: cfg,
		logger: log,
	}

	log.Info("AI service initialized",
		"model", cfg.Model,
		"max_tokens", cfg.MaxTokens,
		"temperature", cfg.Temperature)

	return service, nil
}

func (service *GeminiService) Generate(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	startTime := time.Now()

	if maxOutputTokens <= 0 || maxOutputTokens > service.config.MaxTokens {
		maxOutputTokens = service.config.MaxTokens
	}

	text, err := service.generateWithRetry(ctx, prompt, maxOutputTokens)

	service.logger.LogService("gemini", "generate", time.Since(startTime), map[string]interface{}{
		"prompt_length":     len(prompt),
		"max_output_tokens": maxOutputTokens,
		"response_length":   len(text),
	}, err)

	if err != nil {
		return "", err
	}
	return text, nil
}

func (service *GeminiService) Summarize(ctx context.Context, text string, targetTokens int) (string, error) {
	startTime := time.Now()

	prompt := fmt.Sprintf(`Summarize the following legal research findings to roughly %d tokens.
Preserve verbatim: all case names and citations, statutory references, section numbers, dates, and monetary amounts.
Drop repetition and commentary first; keep the legal substance.

FINDINGS:
%s`, targetTokens, text)

	summary, err := service.generateWithRetry(ctx, prompt, targetTokens+targetTokens/4)

	service.logger.LogService("gemini", "summarize", time.Since(startTime), map[string]interface{}{
		"input_length":  len(text),
		"target_tokens": targetTokens,
		"output_length": len(summary),
	}, err)

	if err != nil {
		return "", err
	}

	// A summary longer than its input defeats the budget; fall back to the
	// original and let the engine truncate instead.
	if len(summary) >= len(text) {
		return text, nil
	}
	return summary, nil
}

func (service *GeminiService) generateWithRetry(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	var text string
	var err error

	for attempt := 1; attempt <= service.config.MaxRetries; attempt++ {
		text, err = service.makeGenerationRequest(ctx, prompt, maxOutputTokens)
		if err == nil {
			return text, nil
		}

		if attempt < service.config.MaxRetries {
			service.logger.WithFields(logger.Fields{
				"attempt":     attempt,
				"max_retries": service.config.MaxRetries,
				"error":       err,
			}).Warn("generation attempt failed")

			select {
			case <-time.After(service.config.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return "", models.NewTimeoutError("GEMINI_TIMEOUT", "content generation timed out").WithCause(ctx.Err())
			}
		}
	}

	return "", models.WrapExternalError("GEMINI", err)
}

func (service *GeminiService) makeGenerationRequest(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, service.config.Timeout)
	defer cancel()

	temperature := float32(service.config.Temperature)
	genConfig := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(maxOutputTokens),
	}

	result, err := service.client.Models.GenerateContent(genCtx, service.config.Model, genai.Text(prompt), genConfig)
	if err != nil {
		return "", fmt.Errorf("generation request failed: %w", err)
	}
	if len(result.Candidates) == 0 {
		return "", fmt.Errorf("no response candidates generated")
	}

	candidate := result.Candidates[0]
	text := ""
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			text += part.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

func (service *GeminiService) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := service.client.Models.GenerateContent(checkCtx, service.config.Model, genai.Text("ping"), nil)
	if err != nil {
		return fmt.Errorf("gemini health check failed: %w", err)
	}
	if len(result.Candidates) == 0 {
		return fmt.Errorf("gemini health check returned no candidates")
	}
	return nil
}
