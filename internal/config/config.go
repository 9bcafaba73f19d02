package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
	"github.com/goccy/go-yaml"

	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/log"
)

type (
	// Config holds configuration settings for the engine and its adapters
	Config struct {
		// API Server
		APIHost     string `yaml:"api_host"`
		APIPort     int    `yaml:"api_port"`
		LogLevel    string `yaml:"log_level"`
		Environment string `yaml:"environment"`
		ExecutorID  string `yaml:"executor_id"`

		// Stores & Artifacts
		Store     StoreConfig    `yaml:"store"`
		Artifacts ArtifactConfig `yaml:"artifacts"`
		FlowsDir  string         `yaml:"flows_dir"`

		// Retry defaults applied to nodes that declare a retry budget
		Retry RetryConfig `yaml:"retry"`

		// Retention of finished executions
		Archive ArchiveConfig `yaml:"archive"`

		// Engine
		MaxConcurrency     int           `yaml:"max_concurrency"`
		NodeTimeout        int64         `yaml:"node_timeout"`
		CancelGrace        int64         `yaml:"cancel_grace"`
		PersistRetries     int           `yaml:"persist_retries"`
		ExecutionCacheSize int           `yaml:"execution_cache_size"`
		ShutdownTimeout    time.Duration `yaml:"-"`
	}

	// StoreConfig selects and configures the execution store
	StoreConfig struct {
		Type   string       `yaml:"type"`
		Redis  RedisConfig  `yaml:"redis"`
		Badger BadgerConfig `yaml:"badger"`
	}

	// RedisConfig configures the Redis execution store
	RedisConfig struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		Prefix   string `yaml:"prefix"`
		DB       int    `yaml:"db"`
	}

	// BadgerConfig configures the embedded Badger execution store. An
	// empty path keeps the database in memory
	BadgerConfig struct {
		Path string `yaml:"path"`
	}

	// ArtifactConfig configures the blob bucket holding artifact content
	ArtifactConfig struct {
		BucketURL string `yaml:"bucket_url"`
		Prefix    string `yaml:"prefix"`
	}

	// ArchiveConfig controls moving finished executions out of the
	// execution store. An empty bucket URL disables archiving
	ArchiveConfig struct {
		BucketURL     string `yaml:"bucket_url"`
		Prefix        string `yaml:"prefix"`
		MaxAge        int64  `yaml:"max_age"`
		SweepInterval int64  `yaml:"sweep_interval"`
		BatchSize     int    `yaml:"batch_size"`
	}

	// RetryConfig holds backoff defaults in milliseconds
	RetryConfig struct {
		InitBackoff int64  `yaml:"initial_backoff"`
		MaxBackoff  int64  `yaml:"max_backoff"`
		BackoffType string `yaml:"backoff_type"`
	}
)

const (
	StoreMemory  = "memory"
	StoreRedis   = "redis"
	StoreBadger  = "badger"
	StoreTimebox = "timebox"
)

const (
	Second int64 = 1000
	Minute       = Second * 60

	DefaultNodeTimeout     = 30 * Second
	DefaultCancelGrace     = 2 * Second
	DefaultShutdownTimeout = 10 * time.Second

	DefaultAPIPort        = 8080
	DefaultAPIHost        = "0.0.0.0"
	DefaultEnvironment    = "dev"
	MaxTCPPort            = 65535
	DefaultMaxConcurrency = 10
	DefaultPersistRetries = 3
	DefaultCacheSize      = 4096

	DefaultRedisEndpoint = "localhost:6379"
	DefaultRedisPrefix   = "ghostflow"
	DefaultRedisDB       = 0

	DefaultArtifactBucket = "mem://"
	DefaultArtifactPrefix = "artifacts"

	DefaultArchivePrefix        = "archive"
	DefaultArchiveMaxAge        = 24 * 60 * Minute
	DefaultArchiveSweepInterval = 60 * Minute
	DefaultArchiveBatchSize     = 100

	DefaultRetryInitBackoff = 1000
	DefaultMaxRetryBackoff  = 60000
	DefaultRetryBackoffType = api.BackoffTypeExponential

	MaxConcurrency      = 10_000
	MaxPersistRetries   = 100
	MaxCacheSize        = 1_000_000
	MaxNodeTimeout      = 365 * 24 * 60 * Minute
	MaxCancelGrace      = 10 * Minute
	MaxRetryInitBackoff = 24 * 60 * Minute
	MaxRetryMaxBackoff  = MaxRetryInitBackoff
	MaxArchiveMaxAge    = 365 * 24 * 60 * Minute
	MaxArchiveInterval  = 24 * 60 * Minute
	MaxArchiveBatchSize = 10_000
)

var (
	ErrInvalidAPIPort        = errors.New("invalid API port")
	ErrInvalidLogLevel       = errors.New("invalid log level")
	ErrInvalidNodeTimeout    = errors.New("node timeout must be positive")
	ErrInvalidConcurrency    = errors.New("max concurrency must be positive")
	ErrInvalidCancelGrace    = errors.New("cancel grace cannot be negative")
	ErrInvalidPersistRetries = errors.New(
		"persist retries cannot be negative",
	)
	ErrInvalidCacheSize = errors.New(
		"execution cache size cannot be negative",
	)
	ErrInvalidRetryInitBackoff = errors.New(
		"retry initial backoff must be positive",
	)
	ErrInvalidRetryMaxBackoff = errors.New(
		"retry max backoff must be positive",
	)
	ErrRetryMaxBackoffTooSmall = errors.New(
		"retry max backoff must be >= retry initial backoff",
	)
	ErrInvalidRetryBackoffType = errors.New("invalid retry backoff type")
	ErrInvalidStoreType        = errors.New("invalid store type")
	ErrRedisAddrRequired       = errors.New("redis address required")
	ErrArtifactBucketRequired  = errors.New("artifact bucket URL required")
	ErrReadConfigFile          = errors.New("failed to read config file")
	ErrInvalidArchiveMaxAge    = errors.New("archive max age must be positive")
	ErrInvalidArchiveInterval  = errors.New(
		"archive sweep interval must be positive",
	)
	ErrInvalidArchiveBatch = errors.New("archive batch size must be positive")
)

// NewDefaultConfig creates a configuration with sensible defaults for all
// engine settings, stores, and retry behavior
func NewDefaultConfig() *Config {
	host, _ := os.Hostname()
	return &Config{
		APIPort:     DefaultAPIPort,
		APIHost:     DefaultAPIHost,
		LogLevel:    "info",
		Environment: DefaultEnvironment,
		ExecutorID:  host,
		Store: StoreConfig{
			Type: StoreMemory,
			Redis: RedisConfig{
				Addr:   DefaultRedisEndpoint,
				Prefix: DefaultRedisPrefix,
				DB:     DefaultRedisDB,
			},
		},
		Artifacts: ArtifactConfig{
			BucketURL: DefaultArtifactBucket,
			Prefix:    DefaultArtifactPrefix,
		},
		Archive: ArchiveConfig{
			Prefix:        DefaultArchivePrefix,
			MaxAge:        DefaultArchiveMaxAge,
			SweepInterval: DefaultArchiveSweepInterval,
			BatchSize:     DefaultArchiveBatchSize,
		},
		Retry: RetryConfig{
			InitBackoff: DefaultRetryInitBackoff,
			MaxBackoff:  DefaultMaxRetryBackoff,
			BackoffType: DefaultRetryBackoffType,
		},
		MaxConcurrency:     DefaultMaxConcurrency,
		NodeTimeout:        DefaultNodeTimeout,
		CancelGrace:        DefaultCancelGrace,
		PersistRetries:     DefaultPersistRetries,
		ExecutionCacheSize: DefaultCacheSize,
		ShutdownTimeout:    DefaultShutdownTimeout,
	}
}

// LoadFromFile merges settings from a YAML file over the current values.
// Only fields present with non-zero values in the file override
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReadConfigFile, err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrReadConfigFile, path, err)
	}
	return mergo.Merge(c, fileCfg, mergo.WithOverride)
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed
func (c *Config) LoadFromEnv() error {
	loadEnvString("API_HOST", &c.APIHost)
	loadEnvString("LOG_LEVEL", &c.LogLevel)
	loadEnvString("ENVIRONMENT", &c.Environment)
	loadEnvString("EXECUTOR_ID", &c.ExecutorID)
	loadEnvString("RETRY_BACKOFF_TYPE", &c.Retry.BackoffType)
	loadEnvString("STORE_TYPE", &c.Store.Type)
	loadEnvString("FLOWS_DIR", &c.FlowsDir)
	loadEnvString("ARTIFACT_BUCKET_URL", &c.Artifacts.BucketURL)
	loadEnvString("ARTIFACT_PREFIX", &c.Artifacts.Prefix)
	loadEnvString("ARCHIVE_BUCKET_URL", &c.Archive.BucketURL)
	loadEnvString("ARCHIVE_PREFIX", &c.Archive.Prefix)
	loadStoreConfigFromEnv(&c.Store)

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"MAX_CONCURRENCY", &c.MaxConcurrency, 0, MaxConcurrency,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"NODE_TIMEOUT", &c.NodeTimeout, 0, MaxNodeTimeout,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"CANCEL_GRACE", &c.CancelGrace, -1, MaxCancelGrace,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"PERSIST_RETRIES", &c.PersistRetries, -1, MaxPersistRetries,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"EXECUTION_CACHE_SIZE", &c.ExecutionCacheSize, -1, MaxCacheSize,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RETRY_INITIAL_BACKOFF", &c.Retry.InitBackoff, 0, MaxRetryInitBackoff,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RETRY_MAX_BACKOFF", &c.Retry.MaxBackoff, 0, MaxRetryMaxBackoff,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"ARCHIVE_MAX_AGE", &c.Archive.MaxAge, 0, MaxArchiveMaxAge,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"ARCHIVE_SWEEP_INTERVAL", &c.Archive.SweepInterval, 0,
		MaxArchiveInterval,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"ARCHIVE_BATCH", &c.Archive.BatchSize, 0, MaxArchiveBatchSize,
	); err != nil {
		return err
	}
	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}
	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: %s", ErrInvalidLogLevel, c.LogLevel)
	}
	if c.MaxConcurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.NodeTimeout <= 0 {
		return ErrInvalidNodeTimeout
	}
	if c.CancelGrace < 0 {
		return ErrInvalidCancelGrace
	}
	if c.PersistRetries < 0 {
		return ErrInvalidPersistRetries
	}
	if c.ExecutionCacheSize < 0 {
		return ErrInvalidCacheSize
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if err := c.Archive.Validate(); err != nil {
		return err
	}
	return c.validateStores()
}

// Validate checks the retry defaults
func (r *RetryConfig) Validate() error {
	if r.InitBackoff <= 0 {
		return ErrInvalidRetryInitBackoff
	}
	if r.MaxBackoff <= 0 {
		return ErrInvalidRetryMaxBackoff
	}
	if r.MaxBackoff < r.InitBackoff {
		return ErrRetryMaxBackoffTooSmall
	}
	switch r.BackoffType {
	case api.BackoffTypeFixed, api.BackoffTypeLinear,
		api.BackoffTypeExponential:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidRetryBackoffType, r.BackoffType)
	}
}

// Enabled reports whether finished executions should be archived
func (a *ArchiveConfig) Enabled() bool {
	return a.BucketURL != ""
}

// Validate checks the archive settings. Disabled archiving is always valid
func (a *ArchiveConfig) Validate() error {
	if !a.Enabled() {
		return nil
	}
	if a.MaxAge <= 0 {
		return ErrInvalidArchiveMaxAge
	}
	if a.SweepInterval <= 0 {
		return ErrInvalidArchiveInterval
	}
	if a.BatchSize <= 0 {
		return ErrInvalidArchiveBatch
	}
	return nil
}

// MaxAgeDuration returns how long a finished execution is kept before it
// is archived
func (a *ArchiveConfig) MaxAgeDuration() time.Duration {
	return time.Duration(a.MaxAge) * time.Millisecond
}

// SweepIntervalDuration returns the time between archive sweeps
func (a *ArchiveConfig) SweepIntervalDuration() time.Duration {
	return time.Duration(a.SweepInterval) * time.Millisecond
}

// NodeTimeoutDuration returns the default per-node timeout
func (c *Config) NodeTimeoutDuration() time.Duration {
	return time.Duration(c.NodeTimeout) * time.Millisecond
}

// CancelGraceDuration returns how long in-flight nodes may take to return
// partial output after cancellation
func (c *Config) CancelGraceDuration() time.Duration {
	return time.Duration(c.CancelGrace) * time.Millisecond
}

func (c *Config) validateStores() error {
	switch c.Store.Type {
	case StoreMemory, StoreBadger:
	case StoreRedis, StoreTimebox:
		if c.Store.Redis.Addr == "" {
			return ErrRedisAddrRequired
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStoreType, c.Store.Type)
	}
	if c.Artifacts.BucketURL == "" {
		return ErrArtifactBucketRequired
	}
	return nil
}

func loadStoreConfigFromEnv(s *StoreConfig) {
	loadEnvString("REDIS_ADDR", &s.Redis.Addr)
	loadEnvString("REDIS_PASSWORD", &s.Redis.Password)
	loadEnvString("REDIS_PREFIX", &s.Redis.Prefix)
	loadEnvString("BADGER_PATH", &s.Badger.Path)
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil && db >= 0 {
			s.Redis.DB = db
		}
	}
}

func loadEnvString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]. Returns an error if
// the value cannot be parsed or falls outside the valid range
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}
