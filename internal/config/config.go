package config

import (
	"errors"
	"time"
)

// Config represents the tenant controller configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	State     StateConfig     `mapstructure:"state"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Tenants   TenantsConfig   `mapstructure:"tenants"`
	Assets    AssetsConfig    `mapstructure:"assets"`
	Watcher   WatcherConfig   `mapstructure:"watcher"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Migration MigrationConfig `mapstructure:"migration"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig represents HTTP API server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig represents PostgreSQL state store configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MinConnections int    `mapstructure:"min_connections"`
}

// RedisConfig represents Redis apply cache configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StateConfig selects the state store backend
type StateConfig struct {
	Driver string `mapstructure:"driver"`
}

// CacheConfig selects the apply cache backend and its TTL
type CacheConfig struct {
	Driver   string        `mapstructure:"driver"`
	ApplyTTL time.Duration `mapstructure:"apply_ttl"`
}

// TenantsConfig describes how tenants are laid out on the host
type TenantsConfig struct {
	ContainerPrefix string `mapstructure:"container_prefix"`
	DeploymentsRoot string `mapstructure:"deployments_root"`
	EnvFilename     string `mapstructure:"env_filename"`
	AssetDir        string `mapstructure:"asset_dir"`
	DataDir         string `mapstructure:"data_dir"`
}

// AssetsConfig represents asset pipeline configuration. The *Dir fields are
// paths inside the tenant container where variants are injected.
type AssetsConfig struct {
	StaticDir      string        `mapstructure:"static_dir"`
	BuildDir       string        `mapstructure:"build_dir"`
	BuildStaticDir string        `mapstructure:"build_static_dir"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	FetchMaxBytes  int64         `mapstructure:"fetch_max_bytes"`
	ApplyTimeout   time.Duration `mapstructure:"apply_timeout"`
}

// WatcherConfig represents event watcher and reconcile dispatcher configuration
type WatcherConfig struct {
	QueueSize  int           `mapstructure:"queue_size"`
	Workers    int           `mapstructure:"workers"`
	BackoffMin time.Duration `mapstructure:"backoff_min"`
	BackoffMax time.Duration `mapstructure:"backoff_max"`
}

// RuntimeConfig represents container runtime timeouts
type RuntimeConfig struct {
	CallTimeout        time.Duration `mapstructure:"call_timeout"`
	StopTimeout        time.Duration `mapstructure:"stop_timeout"`
	HealthWaitTimeout  time.Duration `mapstructure:"health_wait_timeout"`
	HealthPollInterval time.Duration `mapstructure:"health_poll_interval"`
}

// MigrationConfig represents storage migration configuration
type MigrationConfig struct {
	BackupRoot      string  `mapstructure:"backup_root"`
	CopyConcurrency int     `mapstructure:"copy_concurrency"`
	SpaceFactor     float64 `mapstructure:"space_factor"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// RateLimitConfig represents API rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server.host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if !isValidStateDriver(c.State.Driver) {
		return errors.New("state.driver must be one of: postgres, memory")
	}
	if c.State.Driver == "postgres" {
		if c.Database.Host == "" {
			return errors.New("database.host is required")
		}
		if c.Database.Database == "" {
			return errors.New("database.database is required")
		}
		if c.Database.User == "" {
			return errors.New("database.user is required")
		}
	}
	if !isValidCacheDriver(c.Cache.Driver) {
		return errors.New("cache.driver must be one of: redis, memory")
	}
	if c.Cache.Driver == "redis" && c.Redis.Host == "" {
		return errors.New("redis.host is required")
	}
	if c.Cache.ApplyTTL <= 0 {
		return errors.New("cache.apply_ttl must be positive")
	}
	if c.Tenants.ContainerPrefix == "" {
		return errors.New("tenants.container_prefix is required")
	}
	if c.Tenants.DeploymentsRoot == "" {
		return errors.New("tenants.deployments_root is required")
	}
	if c.Tenants.EnvFilename == "" {
		return errors.New("tenants.env_filename is required")
	}
	if c.Assets.FetchMaxBytes <= 0 {
		return errors.New("assets.fetch_max_bytes must be positive")
	}
	if c.Watcher.QueueSize <= 0 {
		return errors.New("watcher.queue_size must be positive")
	}
	if c.Watcher.Workers <= 0 {
		return errors.New("watcher.workers must be positive")
	}
	if c.Watcher.BackoffMin > c.Watcher.BackoffMax {
		return errors.New("watcher.backoff_min must not exceed watcher.backoff_max")
	}
	if c.Migration.BackupRoot == "" {
		return errors.New("migration.backup_root is required")
	}
	if c.Migration.CopyConcurrency <= 0 {
		return errors.New("migration.copy_concurrency must be positive")
	}
	if c.Migration.SpaceFactor < 1 {
		return errors.New("migration.space_factor must be at least 1")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return errors.New("ratelimit.requests_per_second must be positive")
		}
		if c.RateLimit.Burst <= 0 {
			return errors.New("ratelimit.burst must be positive")
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// isValidStateDriver checks if the state store driver is valid
func isValidStateDriver(driver string) bool {
	switch driver {
	case "postgres", "memory":
		return true
	default:
		return false
	}
}

// isValidCacheDriver checks if the apply cache driver is valid
func isValidCacheDriver(driver string) bool {
	switch driver {
	case "redis", "memory":
		return true
	default:
		return false
	}
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8090,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    3 * time.Minute,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "tenantd",
			User:           "tenantd",
			Password:       "",
			MaxConnections: 10,
			MinConnections: 2,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			Password: "",
			DB:       0,
		},
		State: StateConfig{
			Driver: "postgres",
		},
		Cache: CacheConfig{
			Driver:   "redis",
			ApplyTTL: 24 * time.Hour,
		},
		Tenants: TenantsConfig{
			ContainerPrefix: "openwebui-",
			DeploymentsRoot: "/srv/tenants",
			EnvFilename:     "tenant.env",
			AssetDir:        "assets",
			DataDir:         "data",
		},
		Assets: AssetsConfig{
			StaticDir:      "/app/backend/open_webui/static",
			BuildDir:       "/app/build",
			BuildStaticDir: "/app/build/static",
			FetchTimeout:   30 * time.Second,
			FetchMaxBytes:  10 << 20,
			ApplyTimeout:   2 * time.Minute,
		},
		Watcher: WatcherConfig{
			QueueSize:  256,
			Workers:    4,
			BackoffMin: 1 * time.Second,
			BackoffMax: 30 * time.Second,
		},
		Runtime: RuntimeConfig{
			CallTimeout:        30 * time.Second,
			StopTimeout:        30 * time.Second,
			HealthWaitTimeout:  2 * time.Minute,
			HealthPollInterval: 2 * time.Second,
		},
		Migration: MigrationConfig{
			BackupRoot:      "/srv/tenants/.migration-backups",
			CopyConcurrency: 4,
			SpaceFactor:     2.0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9095,
			Path:    "/metrics",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
