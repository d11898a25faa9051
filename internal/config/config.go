package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	HTTP      HTTPConfig
	Redis     RedisConfig
	Gemini    GeminiConfig
	Search    SearchConfig
	Queue     QueueConfig
	Usage     UsageConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Workflow  WorkflowConfig
	Log       LogConfig
}

type HTTPConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	StreamsURL   string
	MemoryURL    string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type GeminiConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

type SearchConfig struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	MaxResults       int
	BreakerFailures  uint32
	BreakerCooldown  time.Duration
	ExtractParallel  int
	ExtractTimeout   time.Duration
}

type QueueConfig struct {
	Workers          int
	MaxAttempts      int
	BaseRetryDelay   time.Duration
	MaxRetryDelay    time.Duration
	DequeuePerSecond float64
	JobTimeout       time.Duration
	RetentionWindow  time.Duration
}

type UsageConfig struct {
	DailyQuota     int
	TransactionTTL time.Duration
	SweepInterval  time.Duration
}

type RateLimitConfig struct {
	RequestsPerMinute int
	RequestsPerHour   int
	RequestsPerDay    int
	TokensPerMinute   int
}

type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

type WorkflowConfig struct {
	GapThreshold       int
	MaxDeepDives       int
	SummarizeThreshold float64
	DirectBudget       int
	StandardBudget     int
	DeepBudget         int
	DeepDiveBudget     int
}

type LogConfig struct {
	Level      string
	Format     string
	Output     string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func Load() (*Config, error) {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		HTTP: HTTPConfig{
			Port:         getEnvInt("PORT", 8080),
			ReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			StreamsURL:   getEnv("REDIS_STREAMS_URL", "redis://localhost:6379/0"),
			MemoryURL:    getEnv("REDIS_MEMORY_URL", "redis://localhost:6379/1"),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Gemini: GeminiConfig{
			APIKey:      os.Getenv("GEMINI_API_KEY"),
			Model:       getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			MaxTokens:   getEnvInt("GEMINI_MAX_TOKENS", 8192),
			Temperature: getEnvFloat("GEMINI_TEMPERATURE", 0.3),
			Timeout:     getEnvDuration("GEMINI_TIMEOUT", 60*time.Second),
			MaxRetries:  getEnvInt("GEMINI_MAX_RETRIES", 3),
			RetryDelay:  getEnvDuration("GEMINI_RETRY_DELAY", 2*time.Second),
		},
		Search: SearchConfig{
			BaseURL:         getEnv("SEARCH_API_URL", "https://api.legalsearch.example.com/v1"),
			APIKey:          os.Getenv("SEARCH_API_KEY"),
			Timeout:         getEnvDuration("SEARCH_TIMEOUT", 20*time.Second),
			MaxResults:      getEnvInt("SEARCH_MAX_RESULTS", 10),
			BreakerFailures: uint32(getEnvInt("SEARCH_BREAKER_FAILURES", 5)),
			BreakerCooldown: getEnvDuration("SEARCH_BREAKER_COOLDOWN", 30*time.Second),
			ExtractParallel: getEnvInt("EXTRACT_PARALLELISM", 3),
			ExtractTimeout:  getEnvDuration("EXTRACT_TIMEOUT", 30*time.Second),
		},
		Queue: QueueConfig{
			Workers:          getEnvInt("QUEUE_WORKERS", 5),
			MaxAttempts:      getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
			BaseRetryDelay:   getEnvDuration("QUEUE_BASE_RETRY_DELAY", 2*time.Second),
			MaxRetryDelay:    getEnvDuration("QUEUE_MAX_RETRY_DELAY", 60*time.Second),
			DequeuePerSecond: getEnvFloat("QUEUE_DEQUEUE_PER_SECOND", 10),
			JobTimeout:       getEnvDuration("QUEUE_JOB_TIMEOUT", 5*time.Minute),
			RetentionWindow:  getEnvDuration("QUEUE_RETENTION_WINDOW", 30*time.Minute),
		},
		Usage: UsageConfig{
			DailyQuota:     getEnvInt("USAGE_DAILY_QUOTA", 50),
			TransactionTTL: getEnvDuration("USAGE_TRANSACTION_TTL", 10*time.Minute),
			SweepInterval:  getEnvDuration("USAGE_SWEEP_INTERVAL", 0),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("RATE_REQUESTS_PER_MINUTE", 10),
			RequestsPerHour:   getEnvInt("RATE_REQUESTS_PER_HOUR", 100),
			RequestsPerDay:    getEnvInt("RATE_REQUESTS_PER_DAY", 500),
			TokensPerMinute:   getEnvInt("RATE_TOKENS_PER_MINUTE", 100000),
		},
		Cache: CacheConfig{
			TTL:        getEnvDuration("CACHE_TTL", 6*time.Hour),
			MaxEntries: getEnvInt("CACHE_MAX_ENTRIES", 10000),
		},
		Workflow: WorkflowConfig{
			GapThreshold:       getEnvInt("WORKFLOW_GAP_THRESHOLD", 2),
			MaxDeepDives:       getEnvInt("WORKFLOW_MAX_DEEP_DIVES", 3),
			SummarizeThreshold: getEnvFloat("WORKFLOW_SUMMARIZE_THRESHOLD", 0.6),
			DirectBudget:       getEnvInt("WORKFLOW_DIRECT_BUDGET", 2000),
			StandardBudget:     getEnvInt("WORKFLOW_STANDARD_BUDGET", 8000),
			DeepBudget:         getEnvInt("WORKFLOW_DEEP_BUDGET", 100000),
			DeepDiveBudget:     getEnvInt("WORKFLOW_DEEP_DIVE_BUDGET", 5000),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			FilePath:   getEnv("LOG_FILE_PATH", "logs/engine.log"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 14),
		},
	}

	if cfg.Usage.SweepInterval <= 0 {
		cfg.Usage.SweepInterval = cfg.Usage.TransactionTTL / 4
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.Search.APIKey == "" {
		return fmt.Errorf("SEARCH_API_KEY is required")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("QUEUE_WORKERS must be positive, got %d", c.Queue.Workers)
	}
	if c.Usage.DailyQuota <= 0 {
		return fmt.Errorf("USAGE_DAILY_QUOTA must be positive, got %d", c.Usage.DailyQuota)
	}
	if c.Workflow.SummarizeThreshold <= 0 || c.Workflow.SummarizeThreshold > 1 {
		return fmt.Errorf("WORKFLOW_SUMMARIZE_THRESHOLD must be in (0,1], got %f", c.Workflow.SummarizeThreshold)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
