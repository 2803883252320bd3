// Package app wires the components shared by the server and worker binaries.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/cache"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/config"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/db"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/jobs"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/metrics"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/platform"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/platform/tiktok"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/platform/youtube"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/queue"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/scheduler"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/service/quota"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/service/trending"
	"github.com/hoangnguyen-kms/TrendVault-sub001/pkg/logger"
)

const (
	quotaKeyPrefix        = "quota:youtube"
	quotaThresholdPercent = 90
)

// Stack holds the long-lived clients of one process.
type Stack struct {
	Config    *config.Config
	Log       *zap.Logger
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Cache     *cache.Cache
	Platforms *platform.Registry
	Trending  *trending.Service
	Metrics   *metrics.Metrics
	Hooks     *queue.Hooks
	Queue     queue.Backend

	closers []func()
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	return logger.New(logger.Config{Level: cfg.Level, Format: cfg.Format, File: cfg.File})
}

// New connects to Postgres and Redis and builds the trending stack and queue
// backend. Collectors are registered with reg.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, reg prometheus.Registerer) (*Stack, error) {
	s := &Stack{Config: cfg, Log: log}

	pool, err := db.NewPool(ctx, db.FromAppConfig(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s.Pool = pool
	s.closers = append(s.closers, func() { db.Close(pool) })

	rdb, err := cache.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Redis = rdb
	s.closers = append(s.closers, func() { _ = rdb.Close() })

	s.Cache = cache.New(cache.NewRedisBackend(rdb), cache.Options{
		Namespace: cfg.Cache.Namespace,
		OpTimeout: cfg.Cache.OpTimeout,
	}, log)

	quotas := quota.NewManager(quota.NewRedisStore(rdb, quotaKeyPrefix), cfg.YouTube.DailyQuota, quotaThresholdPercent, log)
	s.Platforms, err = NewRegistry(ctx, cfg, quotas, log)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Metrics = metrics.New(reg)
	s.Trending = trending.NewService(s.Platforms, s.Cache, TrendingConfig(cfg), log, trending.WithRecorder(s.Metrics))

	s.Hooks = queue.NewHooks(log)
	s.Hooks.Register(s.Metrics.ObserveJob)

	s.Queue, err = NewQueueBackend(cfg, s.Hooks, log)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = s.Queue.Close() })

	log.Info("runtime initialized",
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.Int("platforms", len(s.Platforms.Platforms())),
		zap.Int32("db_max_conns", pool.Config().MaxConns))
	return s, nil
}

// Close releases every client in reverse order of creation.
func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// NewRegistry builds the adapter registry. Disabled adapters are registered
// and report themselves unavailable.
func NewRegistry(ctx context.Context, cfg *config.Config, guard youtube.QuotaGuard, log *zap.Logger) (*platform.Registry, error) {
	yt, err := youtube.New(ctx, youtube.Config{
		Enabled:  cfg.YouTube.Enabled,
		APIKey:   cfg.YouTube.APIKey,
		Endpoint: cfg.YouTube.Endpoint,
	}, guard, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube adapter: %w", err)
	}
	tt := tiktok.New(tiktok.Config{
		Enabled: cfg.TikTok.Enabled,
		BaseURL: cfg.TikTok.BaseURL,
		Token:   cfg.TikTok.Token,
		Timeout: cfg.Trending.FetchTimeout,
	}, log)
	return platform.NewRegistry(yt, tt)
}

// NewQueueBackend builds the configured queue backend.
func NewQueueBackend(cfg *config.Config, hooks *queue.Hooks, log *zap.Logger) (queue.Backend, error) {
	switch cfg.Queue.Backend {
	case "memory":
		log.Warn("using in-memory queue, jobs are lost on exit and not shared between processes")
		return queue.NewMemoryBroker(hooks, log), nil
	case "asynq", "":
		b, err := queue.NewAsynqBackend(queue.AsynqOptions{
			RedisURL:        cfg.Redis.URL,
			SyncInterval:    cfg.Queue.SyncInterval,
			PruneInterval:   cfg.Queue.PruneInterval,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, hooks, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create queue backend: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// TrendingConfig maps the cache and trending sections onto the service config.
func TrendingConfig(cfg *config.Config) trending.Config {
	return trending.Config{
		LockTTL:      cfg.Cache.LockTTL,
		DataTTL:      cfg.Cache.DataTTL,
		MetaTTL:      cfg.Cache.MetaTTL,
		FetchTimeout: cfg.Trending.FetchTimeout,
		MaxResults:   cfg.Trending.MaxResults,
	}
}

// QueueOptions are the delivery options of every job this process enqueues.
func QueueOptions(cfg config.QueueConfig) queue.Options {
	return queue.Options{
		Attempts: cfg.Attempts,
		Backoff: queue.BackoffPolicy{
			Kind: queue.BackoffExponential,
			Base: cfg.BackoffBase,
			Max:  cfg.BackoffMax,
		},
		Retention: queue.RetentionPolicy{
			KeepCompleted: cfg.KeepCompleted,
			KeepFailed:    cfg.KeepFailed,
		},
	}
}

// WorkerConfigs returns one worker per queue.
func WorkerConfigs(cfg config.QueueConfig) []queue.WorkerConfig {
	retention := QueueOptions(cfg).Retention
	worker := func(name string, wc config.WorkerConfig) queue.WorkerConfig {
		return queue.WorkerConfig{
			Queue:       name,
			Concurrency: wc.Concurrency,
			RateLimit:   queue.RateLimit{Max: wc.RateLimitMax, Window: wc.RateLimitWindow},
			Retention:   retention,
		}
	}
	return []queue.WorkerConfig{
		worker(jobs.QueueTrending, cfg.Trending),
		worker(jobs.QueueStats, cfg.Stats),
		worker(jobs.QueueMaintenance, cfg.Maintenance),
		worker(jobs.QueueSync, cfg.Sync),
		worker(jobs.QueuePipeline, cfg.Pipeline),
	}
}

// SchedulerConfig maps the trending, schedule and queue sections onto the scheduler config.
func SchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Regions:         cfg.Trending.Regions,
		RefreshInterval: cfg.Trending.RefreshInterval,
		Cadences: scheduler.Cadences{
			ChannelMetadata: cfg.Schedule.ChannelMetadata,
			VideoLists:      cfg.Schedule.VideoLists,
			StatsRecent:     cfg.Schedule.StatsRecent,
			StatsFull:       cfg.Schedule.StatsFull,
			StatsAggregate:  cfg.Schedule.StatsAggregate,
			Partitions:      cfg.Schedule.Partitions,
		},
		Defaults: QueueOptions(cfg.Queue),
	}
}
