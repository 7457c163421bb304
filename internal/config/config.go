// Package config provides centralized configuration for census-etl.
// Values are layered: struct defaults, then an optional YAML file, then
// environment variables (a .env file is honoured), then CLI flags applied by
// the caller. Validate fails fast on misconfiguration.
package config

import (
	"time"

	"github.com/Sternrassler/census-etl/pkg/census"
	"github.com/Sternrassler/census-etl/pkg/client"
	"github.com/Sternrassler/census-etl/pkg/ratelimit"
)

// Config holds all configuration.
type Config struct {
	Census  CensusConfig    `yaml:"census"`
	Fetch   FetchConfig     `yaml:"fetch"`
	Retry   RetryConfig     `yaml:"retry"`
	Rate    RateLimitConfig `yaml:"rate_limit"`
	Redis   RedisConfig     `yaml:"redis"`
	Output  OutputConfig    `yaml:"output"`
	Server  ServerConfig    `yaml:"server"`
	Logging LoggingConfig   `yaml:"logging"`
}

// CensusConfig selects the dataset and the geography.
type CensusConfig struct {
	// APIKey is the Census Data API key (required)
	APIKey string `yaml:"api_key" env:"CENSUS_KEY" envAlt:"CENSUS_API_KEY"`

	// BaseURL is the API root (default: https://api.census.gov/data)
	BaseURL string `yaml:"base_url" env:"CENSUS_BASE_URL" default:"https://api.census.gov/data"`

	// Year is the data vintage (default: 2016)
	Year int `yaml:"year" env:"CENSUS_YEAR" default:"2016"`

	// Dataset is the dataset path below the year (default: acs/acs5)
	Dataset string `yaml:"dataset" env:"CENSUS_DATASET" default:"acs/acs5"`

	// States limits the run to these states (FIPS, abbreviation or name; default: all)
	States []string `yaml:"states" env:"CENSUS_STATES"`

	// IncludePuertoRico adds Puerto Rico to the default state list (default: false)
	IncludePuertoRico bool `yaml:"include_puerto_rico" env:"CENSUS_INCLUDE_PR" default:"false"`

	// Timeout applies to each HTTP request (default: 60s)
	Timeout time.Duration `yaml:"timeout" env:"CENSUS_TIMEOUT" default:"60s"`

	// UserAgent is sent with every request
	UserAgent string `yaml:"user_agent" env:"CENSUS_USER_AGENT" default:"census-etl/0.1.0"`
}

// FetchConfig controls the group pipeline.
type FetchConfig struct {
	// Groups limits the run to these variable groups (default: every group)
	Groups []string `yaml:"groups" env:"ETL_GROUPS"`

	// Concurrency is the number of groups processed in parallel (default: 4)
	Concurrency int `yaml:"concurrency" env:"ETL_CONCURRENCY" default:"4"`

	// MaxVariablesPerQuery splits large groups (default: 50, the API limit)
	MaxVariablesPerQuery int `yaml:"max_variables_per_query" env:"ETL_MAX_VARIABLES_PER_QUERY" default:"50"`

	// FailFast stops a group at its first failed unit (default: false)
	FailFast bool `yaml:"fail_fast" env:"ETL_FAIL_FAST" default:"false"`

	// AllowPartial writes tables of groups with failed units (default: false)
	AllowPartial bool `yaml:"allow_partial" env:"ETL_ALLOW_PARTIAL" default:"false"`

	// GroupTimeout bounds one group (default: 0, no limit)
	GroupTimeout time.Duration `yaml:"group_timeout" env:"ETL_GROUP_TIMEOUT" default:"0s"`
}

// Retry profiles.
const (
	RetryProfileExponential = "exponential"
	RetryProfileFixed       = "fixed"
)

// RetryConfig holds the request retry policy.
type RetryConfig struct {
	// Profile is exponential (backoff with jitter) or fixed (constant interval) (default: exponential)
	Profile string `yaml:"profile" env:"RETRY_PROFILE" default:"exponential"`

	// MaxAttempts includes the first request (default: 5)
	MaxAttempts int `yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS" default:"5"`

	// InitialBackoff is the first wait, and every wait for the fixed profile (default: 3s)
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"RETRY_INITIAL_BACKOFF" default:"3s"`

	// MaxBackoff caps a single wait (default: 60s)
	MaxBackoff time.Duration `yaml:"max_backoff" env:"RETRY_MAX_BACKOFF" default:"60s"`

	// Multiplier grows the wait per attempt (default: 2)
	Multiplier float64 `yaml:"multiplier" env:"RETRY_MULTIPLIER" default:"2"`

	// Jitter randomises each wait by ±Jitter (default: 0.2)
	Jitter float64 `yaml:"jitter" env:"RETRY_JITTER" default:"0.2"`
}

// RateLimitConfig paces requests.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate, 0 disables pacing (default: 5)
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"RATE_LIMIT_RPS" default:"5"`

	// Burst is the number of back to back requests (default: 5)
	Burst int `yaml:"burst" env:"RATE_LIMIT_BURST" default:"5"`

	// MaxPause caps a pause opened by a 429 (default: 2m)
	MaxPause time.Duration `yaml:"max_pause" env:"RATE_LIMIT_MAX_PAUSE" default:"2m"`
}

// RedisConfig enables the response cache and the shared pause window.
type RedisConfig struct {
	// Addr is host:port of the Redis server (default: empty, disabled)
	Addr string `yaml:"addr" env:"REDIS_ADDR" envAlt:"REDIS_URL"`

	// DB is the Redis database number (default: 0)
	DB int `yaml:"db" env:"REDIS_DB" default:"0"`

	// CacheTTL is how long responses stay cached (default: 24h)
	CacheTTL time.Duration `yaml:"cache_ttl" env:"REDIS_CACHE_TTL" default:"24h"`
}

// Enabled reports whether Redis is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// OutputConfig selects the sink.
type OutputConfig struct {
	// Sink is csv, postgres, memory or none (default: csv)
	Sink string `yaml:"sink" env:"ETL_SINK" default:"csv"`

	// Dir receives CSV files (default: ./out)
	Dir string `yaml:"dir" env:"ETL_OUTPUT_DIR" default:"./out"`

	// DatabaseURL is the PostgreSQL connection string (required for the postgres sink)
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the connection pool size (default: 4)
	MaxConns int `yaml:"max_conns" env:"DB_MAX_CONNS" default:"4"`
}

// ServerConfig holds the status server settings.
type ServerConfig struct {
	// Addr is the listen address of the status server (default: empty, disabled)
	Addr string `yaml:"addr" env:"STATUS_ADDR"`

	// ShutdownTimeout bounds graceful shutdown (default: 10s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"STATUS_SHUTDOWN_TIMEOUT" default:"10s"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error (default: info)
	Level string `yaml:"level" env:"LOG_LEVEL" default:"info"`

	// Pretty enables human-readable console output (default: false)
	Pretty bool `yaml:"pretty" env:"LOG_PRETTY" default:"false"`
}

// Dataset returns the configured dataset.
func (c *Config) Dataset() census.Dataset {
	return census.Dataset{Year: c.Census.Year, Name: c.Census.Dataset}
}

// States resolves the configured state selection.
func (c *Config) States() ([]census.State, error) {
	return census.ResolveStates(c.Census.States, c.Census.IncludePuertoRico)
}

// ClientRetry converts the retry settings for the API client.
func (c *Config) ClientRetry() client.RetryConfig {
	if c.Retry.Profile == RetryProfileFixed {
		return client.FixedRetryConfig(c.Retry.InitialBackoff, c.Retry.MaxAttempts)
	}
	return client.RetryConfig{
		MaxAttempts:       c.Retry.MaxAttempts,
		InitialBackoff:    c.Retry.InitialBackoff,
		MaxBackoff:        c.Retry.MaxBackoff,
		BackoffMultiplier: c.Retry.Multiplier,
		Jitter:            c.Retry.Jitter,
	}
}

// ClientRateLimit converts the pacing settings for the API client.
func (c *Config) ClientRateLimit() ratelimit.Config {
	return ratelimit.Config{
		RequestsPerSecond: c.Rate.RequestsPerSecond,
		Burst:             c.Rate.Burst,
		MaxPause:          c.Rate.MaxPause,
	}
}

// FetcherConfig converts the fetch settings for the group fetcher.
func (c *Config) FetcherConfig() census.FetcherConfig {
	return census.FetcherConfig{
		MaxVariablesPerQuery: c.Fetch.MaxVariablesPerQuery,
		FailFast:             c.Fetch.FailFast,
	}
}
