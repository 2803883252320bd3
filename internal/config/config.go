// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TRENDVAULT_CACHE_LOCKTTL.
const EnvPrefix = "TRENDVAULT"

// Config holds all configuration for the application.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Logging   LoggingConfig
	Cache     CacheConfig
	Trending  TrendingConfig
	YouTube   YouTubeConfig
	TikTok    TikTokConfig
	Queue     QueueConfig
	Schedule  ScheduleConfig
	Partition PartitionConfig
	Storage   StorageConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	// MetricsPort is where the worker serves /metrics; 0 disables it.
	MetricsPort int `validate:"min=0,max=65535"`
}

// DatabaseConfig contains database connection configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type DatabaseConfig struct {
	Host           string `validate:"required"`
	Name           string `validate:"required"`
	User           string
	Password       string
	SSLMode        string
	Port           int `validate:"min=1,max=65535"`
	MaxConnections int `validate:"min=1"`
	MinConnections int `validate:"min=0"`
	MaxIdleTime    time.Duration
	MaxLifetime    time.Duration
}

// RedisConfig points at the Redis instance shared by the cache, lock and queue.
type RedisConfig struct {
	URL string `validate:"required"`
}

// RabbitMQConfig contains RabbitMQ connection and exchange configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type RabbitMQConfig struct {
	Enabled          bool
	Host             string
	User             string
	Password         string
	Exchange         string `validate:"required_if=Enabled true"`
	UploadRoutingKey string
	Port             int
	PublishTimeout   time.Duration
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `validate:"omitempty,oneof=debug info warn error"`
	Format string `validate:"omitempty,oneof=json console"`
	File   string
}

// CacheConfig controls the trending cache and the refresh lock.
type CacheConfig struct {
	Namespace string        `validate:"required"`
	LockTTL   time.Duration `validate:"gt=0"`
	DataTTL   time.Duration `validate:"gt=0"`
	MetaTTL   time.Duration `validate:"gtfield=DataTTL"`
	OpTimeout time.Duration `validate:"gt=0"`
}

// TrendingConfig controls what is refreshed and how often.
type TrendingConfig struct {
	Regions         []string      `validate:"min=1,dive,len=2"`
	MaxResults      int           `validate:"min=1,max=200"`
	FetchTimeout    time.Duration `validate:"gt=0"`
	RefreshInterval time.Duration `validate:"gt=0"`
}

// YouTubeConfig configures the YouTube Data API adapter.
type YouTubeConfig struct {
	Enabled    bool
	APIKey     string
	Endpoint   string
	DailyQuota int64 `validate:"min=0"`
}

// TikTokConfig configures the TikTok trending feed adapter.
type TikTokConfig struct {
	Enabled bool
	BaseURL string `validate:"required_if=Enabled true"`
	Token   string
}

// WorkerConfig configures one queue's worker.
type WorkerConfig struct {
	Concurrency     int `validate:"min=1"`
	RateLimitMax    int `validate:"min=0"`
	RateLimitWindow time.Duration
}

// QueueConfig controls the job queue backend and retry behavior.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type QueueConfig struct {
	Backend       string        `validate:"oneof=asynq memory"`
	Attempts      int           `validate:"min=1"`
	BackoffBase   time.Duration `validate:"gt=0"`
	BackoffMax    time.Duration `validate:"gtefield=BackoffBase"`
	KeepCompleted int           `validate:"min=0"`
	KeepFailed    int           `validate:"min=0"`
	PruneInterval time.Duration
	SyncInterval  time.Duration

	Trending    WorkerConfig
	Stats       WorkerConfig
	Maintenance WorkerConfig
	Sync        WorkerConfig
	Pipeline    WorkerConfig
}

// ScheduleConfig holds the cron cadences of the operational jobs.
type ScheduleConfig struct {
	ChannelMetadata string `validate:"required"`
	VideoLists      string `validate:"required"`
	StatsRecent     string `validate:"required"`
	StatsFull       string `validate:"required"`
	StatsAggregate  string `validate:"required"`
	Partitions      string `validate:"required"`
	// RecentWindow is how far back a video's publish time may be to count as recent.
	RecentWindow time.Duration `validate:"gt=0"`
}

// PartitionConfig configures the statistics partition manager.
type PartitionConfig struct {
	Table     string `validate:"required"`
	Lookahead int    `validate:"min=0,max=24"`
}

// StorageConfig configures the S3-compatible store used by the download pipeline.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type StorageConfig struct {
	Enabled          bool
	Bucket           string `validate:"required_if=Enabled true"`
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	UsePathStyle     bool
	MaxDownloadBytes int64 `validate:"min=0"`
	DownloadTimeout  time.Duration
}

// Load loads configuration from .env files, config.yaml and environment variables.
func Load() (*Config, error) {
	// .env is optional; real environment variables take precedence over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i, r := range cfg.Trending.Regions {
		cfg.Trending.Regions[i] = strings.ToUpper(strings.TrimSpace(r))
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct-level constraints on a loaded config.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	// A refresh must finish inside its lock, or a second refresher can take over mid-fetch.
	if cfg.Cache.LockTTL <= cfg.Trending.FetchTimeout {
		return fmt.Errorf("invalid config: cache lock ttl %s must exceed trending fetch timeout %s",
			cfg.Cache.LockTTL, cfg.Trending.FetchTimeout)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdowntimeout", 30*time.Second)
	v.SetDefault("server.metricsport", 9091)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "trendvault")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxconnections", 10)
	v.SetDefault("database.minconnections", 2)
	v.SetDefault("database.maxidletime", 10*time.Minute)
	v.SetDefault("database.maxlifetime", 1*time.Hour)

	// Redis
	v.SetDefault("redis.url", "redis://localhost:6379/0")

	// RabbitMQ
	v.SetDefault("rabbitmq.enabled", false)
	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("rabbitmq.exchange", "trendvault.jobs")
	v.SetDefault("rabbitmq.uploadroutingkey", "upload.requested")
	v.SetDefault("rabbitmq.publishtimeout", 5*time.Second)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	// Cache
	v.SetDefault("cache.namespace", "trending")
	v.SetDefault("cache.lockttl", 300*time.Second)
	v.SetDefault("cache.datattl", 2*time.Hour)
	v.SetDefault("cache.metattl", 7*24*time.Hour)
	v.SetDefault("cache.optimeout", 2*time.Second)

	// Trending
	v.SetDefault("trending.regions", []string{"US", "GB", "VN"})
	v.SetDefault("trending.maxresults", 50)
	v.SetDefault("trending.fetchtimeout", 30*time.Second)
	v.SetDefault("trending.refreshinterval", 30*time.Minute)

	// Platforms
	v.SetDefault("youtube.enabled", true)
	v.SetDefault("youtube.apikey", "")
	v.SetDefault("youtube.endpoint", "")
	v.SetDefault("youtube.dailyquota", 10000)
	v.SetDefault("tiktok.enabled", false)
	v.SetDefault("tiktok.baseurl", "")
	v.SetDefault("tiktok.token", "")

	// Queue
	v.SetDefault("queue.backend", "asynq")
	v.SetDefault("queue.attempts", 3)
	v.SetDefault("queue.backoffbase", 30*time.Second)
	v.SetDefault("queue.backoffmax", 10*time.Minute)
	v.SetDefault("queue.keepcompleted", 100)
	v.SetDefault("queue.keepfailed", 500)
	v.SetDefault("queue.pruneinterval", 5*time.Minute)
	v.SetDefault("queue.syncinterval", 1*time.Minute)
	setWorkerDefaults(v, "trending", 2, 10, time.Minute)
	setWorkerDefaults(v, "stats", 2, 0, 0)
	setWorkerDefaults(v, "maintenance", 1, 0, 0)
	setWorkerDefaults(v, "sync", 2, 30, time.Minute)
	setWorkerDefaults(v, "pipeline", 3, 5, time.Minute)

	// Schedule
	v.SetDefault("schedule.channelmetadata", "0 */6 * * *")
	v.SetDefault("schedule.videolists", "0 */2 * * *")
	v.SetDefault("schedule.statsrecent", "0 * * * *")
	v.SetDefault("schedule.statsfull", "0 3 * * *")
	v.SetDefault("schedule.statsaggregate", "30 3 * * *")
	v.SetDefault("schedule.partitions", "0 1 * * *")
	v.SetDefault("schedule.recentwindow", 48*time.Hour)

	// Partition
	v.SetDefault("partition.table", "video_stats_snapshots")
	v.SetDefault("partition.lookahead", 2)

	// Storage
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.usepathstyle", true)
	v.SetDefault("storage.maxdownloadbytes", 512*1024*1024)
	v.SetDefault("storage.downloadtimeout", 10*time.Minute)
}

func setWorkerDefaults(v *viper.Viper, queue string, concurrency, rateMax int, rateWindow time.Duration) {
	v.SetDefault("queue."+queue+".concurrency", concurrency)
	v.SetDefault("queue."+queue+".ratelimitmax", rateMax)
	v.SetDefault("queue."+queue+".ratelimitwindow", rateWindow)
}
