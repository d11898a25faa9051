package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lexira-engine/internal/config"
	"lexira-engine/internal/models"
	"lexira-engine/internal/pkg/logger"
)

// RedisService backs the durable counter store, the response cache, workflow
// run snapshots, and the per-caller progress stream. Streams and memory use
// separate clients so a slow stream consumer cannot starve counter updates.
type RedisService struct {
	streams *redis.Client
	memory  *redis.Client
	logger  *logger.Logger
	config  config.RedisConfig
}

// reserveScript checks committed+inflight against the quota and reserves one
// in-flight slot in the same atomic step. KEYS[1]=committed, KEYS[2]=inflight;
// ARGV[1]=quota, ARGV[2]=ttl seconds.
var reserveScript = redis.NewScript(`
local committed = tonumber(redis.call('GET', KEYS[1]) or '0')
local inflight = tonumber(redis.call('GET', KEYS[2]) or '0')
if committed + inflight >= tonumber(ARGV[1]) then
  return {0, committed}
end
redis.call('INCR', KEYS[2])
redis.call('EXPIRE', KEYS[2], ARGV[2])
return {1, committed}
`)

// releaseScript decrements an in-flight counter without going below zero.
var releaseScript = redis.NewScript(`
local inflight = tonumber(redis.call('GET', KEYS[1]) or '0')
if inflight > 0 then
  redis.call('DECR', KEYS[1])
end
return inflight
`)

func NewRedisService(cfg config.RedisConfig, log *logger.Logger) (*RedisService, error) {
	streamsOpt, err := redis.ParseURL(cfg.StreamsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis streams URL: %w", err)
	}

	memoryOpt, err := redis.ParseURL(cfg.MemoryURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis memory URL: %w", err)
	}

	configureRedisOptions(streamsOpt, cfg)
	configureRedisOptions(memoryOpt, cfg)

	service := &RedisService{
		streams: redis.NewClient(streamsOpt),
		memory:  redis.NewClient(memoryOpt),
		logger:  log,
		config:  cfg,
	}

	if err := service.testConnection(); err != nil {
		return nil, fmt.Errorf("connection to Redis failed: %w", err)
	}

	log.Info("Redis service initialized",
		"streams_url", cfg.StreamsURL,
		"memory_url", cfg.MemoryURL,
		"pool_size", cfg.PoolSize)

	return service, nil
}

func configureRedisOptions(opt *redis.Options, cfg config.RedisConfig) {
	opt.PoolSize = cfg.PoolSize
	opt.DialTimeout = cfg.DialTimeout
	opt.ReadTimeout = cfg.ReadTimeout
	opt.WriteTimeout = cfg.WriteTimeout
}

func (service *RedisService) testConnection() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := service.streams.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("streams ping failed: %w", err)
	}
	if err := service.memory.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("memory ping failed: %w", err)
	}
	return nil
}

func committedKey(callerID, day string) string {
	return fmt.Sprintf("usage:%s:%s:committed", callerID, day)
}

func inflightKey(callerID, day string) string {
	return fmt.Sprintf("usage:%s:%s:inflight", callerID, day)
}

func (service *RedisService) ReserveDaily(ctx context.Context, callerID, day string, quota int) (bool, int, error) {
	startTime := time.Now()

	// Counters live 48h so yesterday's keys survive a midnight commit.
	result, err := reserveScript.Run(ctx, service.memory,
		[]string{committedKey(callerID, day), inflightKey(callerID, day)},
		quota, int((48 * time.Hour).Seconds()),
	).Int64Slice()
	if err != nil {
		service.logger.LogService("redis", "reserve_daily", time.Since(startTime), map[string]interface{}{
			"caller_id": callerID,
			"day":       day,
		}, err)
		return false, 0, models.NewExternalError("COUNTER_RESERVE_FAILED", "failed to reserve daily slot").WithCause(err)
	}
	if len(result) != 2 {
		return false, 0, models.NewInternalError("COUNTER_RESERVE_MALFORMED", "unexpected reserve script reply")
	}

	allowed := result[0] == 1
	committed := int(result[1])

	service.logger.LogService("redis", "reserve_daily", time.Since(startTime), map[string]interface{}{
		"caller_id": callerID,
		"day":       day,
		"allowed":   allowed,
		"committed": committed,
	}, nil)

	return allowed, committed, nil
}

func (service *RedisService) CommitDaily(ctx context.Context, callerID, reserveDay, commitDay string) (int, error) {
	startTime := time.Now()

	if err := releaseScript.Run(ctx, service.memory, []string{inflightKey(callerID, reserveDay)}).Err(); err != nil {
		return 0, models.NewExternalError("COUNTER_COMMIT_FAILED", "failed to release reservation").WithCause(err)
	}

	pipe := service.memory.Pipeline()
	incr := pipe.Incr(ctx, committedKey(callerID, commitDay))
	pipe.Expire(ctx, committedKey(callerID, commitDay), 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		service.logger.LogService("redis", "commit_daily", time.Since(startTime), map[string]interface{}{
			"caller_id": callerID,
		}, err)
		return 0, models.NewExternalError("COUNTER_COMMIT_FAILED", "failed to increment daily count").WithCause(err)
	}

	service.logger.LogService("redis", "commit_daily", time.Since(startTime), map[string]interface{}{
		"caller_id": callerID,
		"day":       commitDay,
		"committed": incr.Val(),
	}, nil)

	return int(incr.Val()), nil
}

func (service *RedisService) ReleaseDaily(ctx context.Context, callerID, day string) error {
	err := releaseScript.Run(ctx, service.memory, []string{inflightKey(callerID, day)}).Err()
	if err != nil {
		return models.NewExternalError("COUNTER_RELEASE_FAILED", "failed to release daily slot").WithCause(err)
	}
	return nil
}

func (service *RedisService) GetDailyCount(ctx context.Context, callerID, day string) (int, error) {
	count, err := service.memory.Get(ctx, committedKey(callerID, day)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, models.NewExternalError("COUNTER_GET_FAILED", "failed to read daily count").WithCause(err)
	}
	return count, nil
}

func cacheKeyName(key string) string {
	return fmt.Sprintf("cache:response:%s", key)
}

func (service *RedisService) GetEntry(ctx context.Context, key string) (*models.CacheEntry, bool, error) {
	payload, err := service.memory.Get(ctx, cacheKeyName(key)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, models.NewExternalError("CACHE_GET_FAILED", "failed to read cache entry").WithCause(err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return nil, false, models.NewInternalError("CACHE_DECODE_FAILED", "failed to decode cache entry").WithCause(err)
	}
	return &entry, true, nil
}

func (service *RedisService) PutEntry(ctx context.Context, entry *models.CacheEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return models.NewInternalError("CACHE_ENCODE_FAILED", "failed to encode cache entry").WithCause(err)
	}

	// Redis expiry doubles the in-entry TTL so staleness decisions stay with
	// the cache service while storage still reclaims dead entries.
	if err := service.memory.Set(ctx, cacheKeyName(entry.Key), payload, 2*entry.TTL).Err(); err != nil {
		return models.NewExternalError("CACHE_PUT_FAILED", "failed to store cache entry").WithCause(err)
	}
	return nil
}

func runStateKey(runID string) string {
	return fmt.Sprintf("workflow:%s:state", runID)
}

func (service *RedisService) StoreRunState(ctx context.Context, run *models.WorkflowRun) error {
	startTime := time.Now()

	stateJSON, err := json.Marshal(run)
	if err != nil {
		return models.NewInternalError("SERIALIZATION_FAILED", "failed to serialize run state").WithCause(err)
	}

	if err := service.memory.Set(ctx, runStateKey(run.ID), stateJSON, 6*time.Hour).Err(); err != nil {
		service.logger.LogService("redis", "store_run_state", time.Since(startTime), map[string]interface{}{
			"run_id": run.ID,
		}, err)
		return models.NewExternalError("RUN_STATE_STORE_FAILED", "failed to store run state").WithCause(err)
	}
	return nil
}

func (service *RedisService) GetRunState(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	stateJSON, err := service.memory.Get(ctx, runStateKey(runID)).Result()
	if err == redis.Nil {
		return nil, models.ErrRunNotFound.WithMetadata("run_id", runID)
	}
	if err != nil {
		return nil, models.NewExternalError("RUN_STATE_GET_FAILED", "failed to get run state").WithCause(err)
	}

	var run models.WorkflowRun
	if err := json.Unmarshal([]byte(stateJSON), &run); err != nil {
		return nil, models.NewInternalError("DESERIALIZATION_FAILED", "failed to decode run state").WithCause(err)
	}
	return &run, nil
}

func (service *RedisService) PublishProgress(ctx context.Context, callerID string, update *models.ProgressUpdate) error {
	streamName := fmt.Sprintf("caller:%s:progress", callerID)

	values := map[string]interface{}{
		"type":      string(update.Type),
		"run_id":    update.RunID,
		"job_id":    update.JobID,
		"stage":     update.Stage,
		"message":   update.Message,
		"progress":  fmt.Sprintf("%.2f", update.Progress),
		"timestamp": update.Timestamp.Format(time.RFC3339),
	}
	if update.Data != nil {
		dataJSON, err := json.Marshal(update.Data)
		if err == nil {
			values["data"] = string(dataJSON)
		} else {
			service.logger.WithError(err).Warn("failed to marshal progress data")
		}
	}

	messageID, err := service.streams.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		Values: values,
		MaxLen: 1024,
	}).Result()
	if err != nil {
		return models.NewExternalError("PROGRESS_PUBLISH_FAILED", "failed to publish progress update").WithCause(err)
	}

	service.logger.WithFields(logger.Fields{
		"stream_name": streamName,
		"message_id":  messageID,
		"run_id":      update.RunID,
		"stage":       update.Stage,
	}).Debug("published progress update")

	return nil
}

func (service *RedisService) HealthCheck(ctx context.Context) error {
	if err := service.memory.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("memory connection unhealthy: %w", err)
	}
	if err := service.streams.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("streams connection unhealthy: %w", err)
	}
	return nil
}

func (service *RedisService) Close() error {
	service.logger.Info("closing Redis service")

	var errs []error
	if err := service.streams.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close streams failed: %w", err))
	}
	if err := service.memory.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close memory failed: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("error closing Redis connections: %v", errs)
	}
	return nil
}
