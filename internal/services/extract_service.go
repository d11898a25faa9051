package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"lexira-engine/internal/config"
	"lexira-engine/internal/models"
	"lexira-engine/internal/pkg/logger"
)

// ExtractedDoc is one fetched source with its full text.
type ExtractedDoc struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	FullText  string    `json:"full_text"`
	FetchedAt time.Time `json:"fetched_at"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Extractor fetches full document text for a set of source URLs.
type Extractor interface {
	Extract(ctx context.Context, urls []string) ([]ExtractedDoc, error)
}

// ExtractService pulls full text from source pages. Individual fetch
// failures are recorded per document, never fatal: research degrades to the
// snippets it already has.
type ExtractService struct {
	collector *colly.Collector
	config    config.SearchConfig
	logger    *logger.Logger
	slots     chan struct{}
}

func NewExtractService(cfg config.SearchConfig, log *logger.Logger) (*ExtractService, error) {
	collector := colly.NewCollector(
		colly.UserAgent("Lexira-Research-Engine/1.0 (+https://lexira.example.com/bot)"),
	)

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.ExtractParallel,
		Delay:       500 * time.Millisecond,
	}); err != nil {
		return nil, fmt.Errorf("configure extract limits: %w", err)
	}

	collector.SetRequestTimeout(cfg.ExtractTimeout)

	parallel := cfg.ExtractParallel
	if parallel <= 0 {
		parallel = 3
	}

	service := &ExtractService{
		collector: collector,
		config:    cfg,
		logger:    log,
		slots:     make(chan struct{}, parallel),
	}

	log.Info("extract service initialized",
		"parallelism", parallel,
		"timeout", cfg.ExtractTimeout.String())

	return service, nil
}

func (service *ExtractService) Extract(ctx context.Context, urls []string) ([]ExtractedDoc, error) {
	startTime := time.Now()

	docs := make([]ExtractedDoc, len(urls))
	var wg sync.WaitGroup

	for i, target := range urls {
		wg.Add(1)
		go func(index int, targetURL string) {
			defer wg.Done()

			select {
			case service.slots <- struct{}{}:
				defer func() { <-service.slots }()
			case <-ctx.Done():
				docs[index] = ExtractedDoc{URL: targetURL, Error: "extract canceled", FetchedAt: time.Now()}
				return
			}

			docs[index] = service.extractOne(targetURL)
		}(i, target)
	}
	wg.Wait()

	successful := 0
	for _, doc := range docs {
		if doc.Success {
			successful++
		}
	}

	service.logger.LogService("extract", "extract_batch", time.Since(startTime), map[string]interface{}{
		"requested":  len(urls),
		"successful": successful,
	}, nil)

	if successful == 0 && len(urls) > 0 {
		return docs, models.NewExternalError("EXTRACT_ALL_FAILED", "no sources could be fetched")
	}
	return docs, nil
}

func (service *ExtractService) extractOne(targetURL string) ExtractedDoc {
	doc := ExtractedDoc{URL: targetURL, FetchedAt: time.Now()}

	parsed, err := url.Parse(targetURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		doc.Error = fmt.Sprintf("invalid source URL: %s", targetURL)
		return doc
	}

	c := service.collector.Clone()

	c.OnHTML("html", func(e *colly.HTMLElement) {
		doc.Title = strings.TrimSpace(e.DOM.Find("title").First().Text())
		doc.FullText = extractBodyText(e.DOM)
		doc.Success = doc.FullText != ""
	})

	c.OnError(func(r *colly.Response, visitErr error) {
		doc.Error = visitErr.Error()
	})

	if err := c.Visit(targetURL); err != nil {
		doc.Error = err.Error()
		return doc
	}
	c.Wait()

	if !doc.Success && doc.Error == "" {
		doc.Error = "no extractable content"
	}
	return doc
}

// extractBodyText prefers article-shaped containers before falling back to
// paragraph text; navigation and script noise is dropped with the selection.
func extractBodyText(dom *goquery.Selection) string {
	selectors := []string{"article", "main", ".judgment-body", ".content", "#content"}
	for _, selector := range selectors {
		if node := dom.Find(selector).First(); node.Length() > 0 {
			if text := collapseWhitespace(node.Text()); len(text) > 200 {
				return text
			}
		}
	}

	var paragraphs []string
	dom.Find("p").Each(func(_ int, p *goquery.Selection) {
		if text := strings.TrimSpace(p.Text()); len(text) > 40 {
			paragraphs = append(paragraphs, text)
		}
	})
	return strings.Join(paragraphs, "\n\n")
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
