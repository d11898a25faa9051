package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"lexira-engine/internal/models"
	"lexira-engine/internal/pkg/logger"
)

// ResearchQueue is what the HTTP layer needs from the queue. Defined here so
// handler tests can mock it.
type ResearchQueue interface {
	Enqueue(ctx context.Context, query models.Query) (*models.Job, error)
	Status(jobID string) (*models.JobStatus, error)
	Cancel(ctx context.Context, jobID string) error
	Stats() map[string]interface{}
}

type HealthCheck func(ctx context.Context) error

type StatsSource func() map[string]interface{}

type ResearchHandler struct {
	queue   ResearchQueue
	health  map[string]HealthCheck
	stats   map[string]StatsSource
	logger  *logger.Logger
	started time.Time
}

func NewResearchHandler(queue ResearchQueue, health map[string]HealthCheck, stats map[string]StatsSource, log *logger.Logger) *ResearchHandler {
	return &ResearchHandler{
		queue:   queue,
		health:  health,
		stats:   stats,
		logger:  log,
		started: time.Now(),
	}
}

func (handler *ResearchHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/research", handler.SubmitResearch)
		api.GET("/research/:id", handler.GetResearchStatus)
		api.DELETE("/research/:id", handler.CancelResearch)
	}
	router.GET("/health", handler.Health)
	router.GET("/stats", handler.Stats)
}

type submitRequest struct {
	Query        string                    `json:"query" binding:"required"`
	Jurisdiction string                    `json:"jurisdiction"`
	CallerID     string                    `json:"caller_id" binding:"required"`
	History      []models.ConversationTurn `json:"history"`
}

type submitResponse struct {
	JobID    string `json:"job_id"`
	State    string `json:"state"`
	Tier     string `json:"tier"`
	Priority int    `json:"priority"`
}

// SubmitResearch admits a query and returns the job id to poll. Admission
// denials (rate limit, quota) come back immediately with the matching status.
func (handler *ResearchHandler) SubmitResearch(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.writeError(c, models.NewValidationError("INVALID_REQUEST", err.Error()))
		return
	}

	query := models.NewQuery(req.Query, req.Jurisdiction, req.CallerID, req.History)

	job, err := handler.queue.Enqueue(c.Request.Context(), query)
	if err != nil {
		handler.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, submitResponse{
		JobID:    job.ID,
		State:    string(job.State),
		Tier:     string(job.Tier),
		Priority: job.Priority,
	})
}

func (handler *ResearchHandler) GetResearchStatus(c *gin.Context) {
	status, err := handler.queue.Status(c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "JOB_NOT_FOUND", "message": "no such job"}})
			return
		}
		handler.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (handler *ResearchHandler) CancelResearch(c *gin.Context) {
	err := handler.queue.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "JOB_NOT_FOUND", "message": "no such job"}})
			return
		}
		handler.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": c.Param("id"), "canceled": true})
}

// Health fans out to collaborator checks. Any failure turns the whole
// response 503 with the failing components named.
func (handler *ResearchHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	components := gin.H{}
	healthy := true
	for name, check := range handler.health {
		if err := check(ctx); err != nil {
			components[name] = gin.H{"status": "unhealthy", "error": err.Error()}
			healthy = false
			continue
		}
		components[name] = gin.H{"status": "healthy"}
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":     overall,
		"uptime":     time.Since(handler.started).String(),
		"components": components,
	})
}

func (handler *ResearchHandler) Stats(c *gin.Context) {
	stats := gin.H{"queue": handler.queue.Stats()}
	for name, source := range handler.stats {
		stats[name] = source()
	}
	c.JSON(http.StatusOK, stats)
}

// writeError maps the typed error model onto HTTP statuses and the wire
// error shape the chat layer consumes.
func (handler *ResearchHandler) writeError(c *gin.Context, err error) {
	appErr := models.AsAppError(err)

	status := http.StatusInternalServerError
	switch appErr.Category {
	case models.CategoryValidation:
		status = http.StatusBadRequest
	case models.CategoryRateLimit, models.CategoryQuota:
		status = http.StatusTooManyRequests
	case models.CategoryTimeout:
		status = http.StatusGatewayTimeout
	case models.CategoryExternal:
		status = http.StatusBadGateway
	}

	body := gin.H{
		"category": string(appErr.Category),
		"code":     appErr.Code,
		"message":  appErr.Message,
	}
	if appErr.RetryAfter > 0 {
		seconds := int(appErr.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		body["retry_after_seconds"] = seconds
		c.Header("Retry-After", strconv.Itoa(seconds))
	}
	if len(appErr.Metadata) > 0 {
		body["details"] = appErr.Metadata
	}

	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed",
			"path", c.FullPath(),
			"code", appErr.Code,
			"error", appErr.Message)
	}

	c.JSON(status, gin.H{"error": body})
}
