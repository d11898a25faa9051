package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"lexira-engine/internal/config"
	"lexira-engine/internal/models"
	"lexira-engine/internal/pkg/logger"
)

// SearchResult is one ranked snippet from the legal search collaborator.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// SearchProvider is the retrieval collaborator. Ranking internals are out of
// scope; the engine only consumes ordered snippets.
type SearchProvider interface {
	Search(ctx context.Context, query, jurisdiction string, maxResults int) ([]SearchResult, error)
}

// SearchService talks to the corpus search API over HTTP with a circuit
// breaker, so a flapping upstream sheds load fast instead of tying up
// workers in timeouts.
type SearchService struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	config     config.SearchConfig
	logger     *logger.Logger
}

func NewSearchService(cfg config.SearchConfig, log *logger.Logger) *SearchService {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "legal-search",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("search circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	})

	return &SearchService{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		config:     cfg,
		logger:     log,
	}
}

type searchAPIResponse struct {
	Results []SearchResult `json:"results"`
}

func (service *SearchService) Search(ctx context.Context, query, jurisdiction string, maxResults int) ([]SearchResult, error) {
	startTime := time.Now()

	if maxResults <= 0 || maxResults > service.config.MaxResults {
		maxResults = service.config.MaxResults
	}

	result, err := service.breaker.Execute(func() (interface{}, error) {
		return service.doSearch(ctx, query, jurisdiction, maxResults)
	})
	if err != nil {
		service.logger.LogService("search", "search", time.Since(startTime), map[string]interface{}{
			"query_length": len(query),
			"jurisdiction": jurisdiction,
		}, err)
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, models.NewExternalError("SEARCH_UNAVAILABLE", "search service circuit open").WithCause(err)
		}
		return nil, models.WrapExternalError("SEARCH", err)
	}

	results := result.([]SearchResult)
	service.logger.LogService("search", "search", time.Since(startTime), map[string]interface{}{
		"query_length": len(query),
		"jurisdiction": jurisdiction,
		"result_count": len(results),
	}, nil)

	return results, nil
}

func (service *SearchService) doSearch(ctx context.Context, query, jurisdiction string, maxResults int) ([]SearchResult, error) {
	endpoint := fmt.Sprintf("%s/search?%s", service.config.BaseURL, url.Values{
		"q":            {query},
		"jurisdiction": {jurisdiction},
		"limit":        {strconv.Itoa(maxResults)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+service.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := service.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	var payload searchAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	if len(payload.Results) > maxResults {
		payload.Results = payload.Results[:maxResults]
	}
	return payload.Results, nil
}

func (service *SearchService) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, service.config.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := service.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("search health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("search health check returned status %d", resp.StatusCode)
	}
	return nil
}
