package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"lexira-engine/internal/config"
	"lexira-engine/internal/handlers"
	"lexira-engine/internal/pkg/logger"
	"lexira-engine/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}

	log.Info("starting lexira engine",
		"environment", cfg.Environment,
		"port", cfg.HTTP.Port)

	// Stores: Redis in production, in-memory fallback when it is unreachable
	// in development. Production fails hard so a misconfigured deployment
	// never silently loses quota accounting.
	var (
		counterStore services.CounterStore
		cacheStore   services.CacheStore
		runStore     services.RunStateStore
		publisher    services.ProgressPublisher
		redisService *services.RedisService
	)
	redisService, err = services.NewRedisService(cfg.Redis, log)
	if err != nil {
		if cfg.IsProduction() {
			log.Error("Redis required in production", "error", err)
			os.Exit(1)
		}
		log.Warn("Redis unavailable, using in-memory stores", "error", err)
		memory := services.NewMemoryStore()
		counterStore, cacheStore, runStore, publisher = memory, memory, memory, memory
	} else {
		counterStore, cacheStore, runStore, publisher = redisService, redisService, redisService, redisService
		defer redisService.Close()
	}

	gemini, err := services.NewGeminiService(cfg.Gemini, log)
	if err != nil {
		log.Error("Gemini init failed", "error", err)
		os.Exit(1)
	}

	search := services.NewSearchService(cfg.Search, log)

	extractor, err := services.NewExtractService(cfg.Search, log)
	if err != nil {
		log.Error("extract init failed", "error", err)
		os.Exit(1)
	}

	estimator := services.NewCharTokenEstimator()
	classifier := services.NewRuleClassifier(estimator)
	cache := services.NewCacheService(cacheStore, cfg.Cache, log)
	rateLimiter := services.NewRateLimitService(cfg.RateLimit, log)

	usage := services.NewUsageService(counterStore, cfg.Usage, log)
	defer usage.Close()

	engine := services.NewWorkflowEngine(search, extractor, gemini, gemini, runStore, publisher, cfg.Workflow, log)
	router := services.NewRouterService(classifier, cache, engine, gemini, cfg.Workflow, log)

	queue := services.NewQueueService(router, usage, rateLimiter, cfg.Queue, log)
	queue.Start()

	health := map[string]handlers.HealthCheck{
		"gemini": gemini.HealthCheck,
		"search": search.HealthCheck,
	}
	if redisService != nil {
		health["redis"] = redisService.HealthCheck
	}

	stats := map[string]handlers.StatsSource{
		"cache": cache.Stats,
		"workflows": func() map[string]interface{} {
			return map[string]interface{}{
				"active":             engine.ActiveRuns(),
				"usage_transactions": usage.InFlightCount(),
			}
		},
	}

	handler := handlers.NewResearchHandler(queue, health, stats, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engineHTTP := gin.New()
	engineHTTP.Use(gin.Recovery())
	handler.RegisterRoutes(engineHTTP)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      engineHTTP,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", "error", err)
	}
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error("queue drain failed", "error", err)
	}

	log.Info("lexira engine stopped")
}
