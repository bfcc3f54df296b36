package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the svgforge server and worker processes.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Generator GeneratorConfig
	API       APIConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type LogConfig struct {
	Level  string
	Format string
}

// QueueConfig controls retry and retention of the generation queue.
type QueueConfig struct {
	Name               string
	MaxAttempts        int
	BackoffBase        time.Duration
	LeaseTTL           time.Duration
	CompletedRetention time.Duration
	CompletedKeep      int
	FailedRetention    time.Duration
	FailedKeep         int
}

type WorkerConfig struct {
	Concurrency     int
	PollInterval    time.Duration
	GenerateTimeout time.Duration
	StalledInterval time.Duration
	SweepInterval   time.Duration
	SweepAge        time.Duration
}

type GeneratorConfig struct {
	Provider     string
	GeminiAPIKey string
}

type APIConfig struct {
	GalleryCacheTTL    time.Duration
	GalleryPageSize    int
	RateLimitPerMinute int
}

const maxConcurrency = 32

var validProviders = map[string]bool{
	"gemini":    true,
	"synthetic": true,
}

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetInt("SVGFORGE_PORT"),
			Env:  v.GetString("SVGFORGE_ENV"),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("DATABASE_URL"),
			MaxConns:        v.GetInt("DATABASE_MAX_CONNS"),
			MinConns:        v.GetInt("DATABASE_MIN_CONNS"),
			ConnMaxLifetime: v.GetDuration("DATABASE_CONN_MAX_LIFETIME"),
		},
		Redis: RedisConfig{
			URL: v.GetString("REDIS_URL"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("LOG_LEVEL")),
			Format: strings.ToLower(v.GetString("LOG_FORMAT")),
		},
		Queue: QueueConfig{
			Name:               v.GetString("QUEUE_NAME"),
			MaxAttempts:        v.GetInt("QUEUE_MAX_ATTEMPTS"),
			BackoffBase:        v.GetDuration("QUEUE_BACKOFF_BASE"),
			LeaseTTL:           v.GetDuration("QUEUE_LEASE_TTL"),
			CompletedRetention: v.GetDuration("QUEUE_COMPLETED_RETENTION"),
			CompletedKeep:      v.GetInt("QUEUE_COMPLETED_KEEP"),
			FailedRetention:    v.GetDuration("QUEUE_FAILED_RETENTION"),
			FailedKeep:         v.GetInt("QUEUE_FAILED_KEEP"),
		},
		Worker: WorkerConfig{
			Concurrency:     v.GetInt("WORKER_CONCURRENCY"),
			PollInterval:    v.GetDuration("WORKER_POLL_INTERVAL"),
			GenerateTimeout: v.GetDuration("WORKER_GENERATE_TIMEOUT"),
			StalledInterval: v.GetDuration("WORKER_STALLED_INTERVAL"),
			SweepInterval:   v.GetDuration("WORKER_SWEEP_INTERVAL"),
			SweepAge:        v.GetDuration("WORKER_SWEEP_AGE"),
		},
		Generator: GeneratorConfig{
			Provider:     strings.ToLower(v.GetString("GENERATOR_PROVIDER")),
			GeminiAPIKey: v.GetString("GEMINI_API_KEY"),
		},
		API: APIConfig{
			GalleryCacheTTL:    v.GetDuration("GALLERY_CACHE_TTL"),
			GalleryPageSize:    v.GetInt("GALLERY_PAGE_SIZE"),
			RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SVGFORGE_PORT", 8080)
	v.SetDefault("SVGFORGE_ENV", "development")
	v.SetDefault("DATABASE_MAX_CONNS", 25)
	v.SetDefault("DATABASE_MIN_CONNS", 2)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("QUEUE_NAME", "generation")
	v.SetDefault("QUEUE_MAX_ATTEMPTS", 3)
	v.SetDefault("QUEUE_BACKOFF_BASE", 5*time.Second)
	v.SetDefault("QUEUE_LEASE_TTL", 2*time.Minute)
	v.SetDefault("QUEUE_COMPLETED_RETENTION", time.Hour)
	v.SetDefault("QUEUE_COMPLETED_KEEP", 1000)
	v.SetDefault("QUEUE_FAILED_RETENTION", 7*24*time.Hour)
	v.SetDefault("QUEUE_FAILED_KEEP", 10000)
	v.SetDefault("WORKER_CONCURRENCY", 2)
	v.SetDefault("WORKER_POLL_INTERVAL", time.Second)
	v.SetDefault("WORKER_GENERATE_TIMEOUT", 90*time.Second)
	v.SetDefault("WORKER_STALLED_INTERVAL", 30*time.Second)
	v.SetDefault("WORKER_SWEEP_INTERVAL", time.Minute)
	v.SetDefault("WORKER_SWEEP_AGE", 5*time.Minute)
	v.SetDefault("GENERATOR_PROVIDER", "gemini")
	v.SetDefault("GALLERY_CACHE_TTL", time.Minute)
	v.SetDefault("GALLERY_PAGE_SIZE", 24)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 60)
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SVGFORGE_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("DATABASE_MAX_CONNS must be positive, got %d", c.Database.MaxConns)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of json, console; got %q", c.Log.Format)
	}

	if c.Queue.Name == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.BackoffBase <= 0 {
		return fmt.Errorf("QUEUE_BACKOFF_BASE must be positive")
	}
	if c.Queue.LeaseTTL < time.Second {
		return fmt.Errorf("QUEUE_LEASE_TTL must be at least 1s, got %s", c.Queue.LeaseTTL)
	}

	if c.Worker.Concurrency < 1 || c.Worker.Concurrency > maxConcurrency {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and %d, got %d", maxConcurrency, c.Worker.Concurrency)
	}
	if c.Worker.SweepAge <= c.Queue.LeaseTTL {
		return fmt.Errorf("WORKER_SWEEP_AGE (%s) must exceed QUEUE_LEASE_TTL (%s)", c.Worker.SweepAge, c.Queue.LeaseTTL)
	}

	if !validProviders[c.Generator.Provider] {
		return fmt.Errorf("GENERATOR_PROVIDER must be one of gemini, synthetic; got %q", c.Generator.Provider)
	}

	return nil
}

// ValidateWorker checks the settings that only the worker process needs.
func (c *Config) ValidateWorker() error {
	if c.Generator.Provider == "gemini" && c.Generator.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when GENERATOR_PROVIDER is gemini")
	}
	if c.Worker.GenerateTimeout <= 0 {
		return fmt.Errorf("WORKER_GENERATE_TIMEOUT must be positive")
	}
	return nil
}
