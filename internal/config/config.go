// Package config loads ctiwatch settings from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all ctiwatch configuration.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Store      StoreConfig      `yaml:"store"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Feeds      FeedsConfig      `yaml:"feeds"`
	Reputation ReputationConfig `yaml:"reputation"`
	API        APIConfig        `yaml:"api"`
	Notify     NotifyConfig     `yaml:"notify"`
}

type LoggingConfig struct {
	Level       string `yaml:"level" env:"LOG_LEVEL"`
	Format      string `yaml:"format" env:"LOG_FORMAT"`
	Environment string `yaml:"environment" env:"CTIWATCH_ENV"`
}

// StoreConfig selects the persistence driver: postgres, bolt or memory.
type StoreConfig struct {
	Driver      string `yaml:"driver" env:"STORE_DRIVER"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	BoltPath    string `yaml:"bolt_path" env:"BOLT_PATH"`
}

type IngestConfig struct {
	IntervalMinutes     int `yaml:"interval_minutes" env:"INGEST_INTERVAL_MINUTES"`
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" env:"FETCH_TIMEOUT_SECONDS"`
	MaxRecordsPerFeed   int `yaml:"max_records_per_feed" env:"MAX_RECORDS_PER_FEED"`
	Concurrency         int `yaml:"concurrency" env:"INGEST_CONCURRENCY"`
}

// FeedsConfig carries feed credentials. An empty key disables its feed.
type FeedsConfig struct {
	OTXAPIKey        string `yaml:"otx_api_key" env:"OTX_API_KEY"`
	OTXMaxPages      int    `yaml:"otx_max_pages" env:"OTX_MAX_PAGES"`
	AbuseIPDBKey     string `yaml:"abuseipdb_key" env:"ABUSEIPDB_KEY"`
	ThreatFoxAuthKey string `yaml:"threatfox_auth_key" env:"THREATFOX_AUTH_KEY"`
}

type ReputationConfig struct {
	VirusTotalAPIKey string `yaml:"virustotal_api_key" env:"VIRUSTOTAL_API_KEY"`
	RedisAddr        string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword    string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB          int    `yaml:"redis_db" env:"REDIS_DB"`
	CacheTTLMinutes  int    `yaml:"cache_ttl_minutes" env:"REPUTATION_CACHE_TTL_MINUTES"`
}

type APIConfig struct {
	Port             string `yaml:"port" env:"REST_API_PORT"`
	AuthToken        string `yaml:"auth_token" env:"REST_API_AUTH_TOKEN"`
	GRPCListenAddr   string `yaml:"grpc_listen_addr" env:"GRPC_LISTEN_ADDR"`
	DefaultPageSize  int    `yaml:"default_page_size" env:"DEFAULT_PAGE_SIZE"`
	MaxPageSize      int    `yaml:"max_page_size" env:"MAX_PAGE_SIZE"`
	MaxExportRecords int    `yaml:"max_export_records" env:"MAX_EXPORT_RECORDS"`
	EnableExport     bool   `yaml:"enable_export" env:"ENABLE_EXPORT"`
}

type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url" env:"SLACK_WEBHOOK_URL"`
	SentryDSN       string `yaml:"sentry_dsn" env:"SENTRY_DSN"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "development",
		},
		Store: StoreConfig{
			Driver:   "postgres",
			BoltPath: "ctiwatch.db",
		},
		Ingest: IngestConfig{
			IntervalMinutes:     30,
			FetchTimeoutSeconds: 30,
			MaxRecordsPerFeed:   500,
			Concurrency:         1,
		},
		Feeds: FeedsConfig{
			OTXMaxPages: 5,
		},
		Reputation: ReputationConfig{
			CacheTTLMinutes: 60,
		},
		API: APIConfig{
			Port:             "8080",
			GRPCListenAddr:   "localhost:50051",
			DefaultPageSize:  100,
			MaxPageSize:      1000,
			MaxExportRecords: 10000,
			EnableExport:     true,
		},
	}
}

// Load builds the configuration. A .env file in the working directory is
// read first if present; CTIWATCH_CONFIG may name a YAML file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := DefaultConfig()

	if path := os.Getenv("CTIWATCH_CONFIG"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// loadEnv binds each section separately; fields whose variable is unset
// keep their current value.
func (c *Config) loadEnv() error {
	sections := []interface{}{
		&c.Logging,
		&c.Store,
		&c.Ingest,
		&c.Feeds,
		&c.Reputation,
		&c.API,
		&c.Notify,
	}
	for _, section := range sections {
		if _, err := env.UnmarshalFromEnviron(section); err != nil {
			return fmt.Errorf("failed to bind environment: %w", err)
		}
	}
	return nil
}

// Validate rejects settings the binaries cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case "bolt":
		if c.Store.BoltPath == "" {
			return errors.New("BOLT_PATH is required when STORE_DRIVER=bolt")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	if c.Ingest.IntervalMinutes <= 0 {
		return fmt.Errorf("INGEST_INTERVAL_MINUTES must be positive, got %d", c.Ingest.IntervalMinutes)
	}
	if c.Ingest.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT_SECONDS must be positive, got %d", c.Ingest.FetchTimeoutSeconds)
	}
	if c.Ingest.MaxRecordsPerFeed <= 0 {
		return fmt.Errorf("MAX_RECORDS_PER_FEED must be positive, got %d", c.Ingest.MaxRecordsPerFeed)
	}
	if c.Ingest.Concurrency <= 0 {
		return fmt.Errorf("INGEST_CONCURRENCY must be positive, got %d", c.Ingest.Concurrency)
	}
	if c.API.DefaultPageSize <= 0 || c.API.MaxPageSize <= 0 {
		return errors.New("page sizes must be positive")
	}
	if c.API.DefaultPageSize > c.API.MaxPageSize {
		return fmt.Errorf("DEFAULT_PAGE_SIZE (%d) exceeds MAX_PAGE_SIZE (%d)", c.API.DefaultPageSize, c.API.MaxPageSize)
	}
	if c.Reputation.CacheTTLMinutes <= 0 {
		return fmt.Errorf("REPUTATION_CACHE_TTL_MINUTES must be positive, got %d", c.Reputation.CacheTTLMinutes)
	}
	if c.API.MaxExportRecords <= 0 {
		return fmt.Errorf("MAX_EXPORT_RECORDS must be positive, got %d", c.API.MaxExportRecords)
	}
	return nil
}

func (c IngestConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

func (c IngestConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func (c ReputationConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}
