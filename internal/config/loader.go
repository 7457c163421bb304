package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/census-etl/pkg/sink"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// ErrMissingAPIKey is returned by Validate when no API key is configured.
var ErrMissingAPIKey = errors.New("census api key is required (set CENSUS_KEY)")

// Defaults returns a configuration holding only the default values.
func Defaults() *Config {
	cfg := &Config{}
	// Default tags are static; a bad one is a programming error caught by tests
	if err := walk(reflect.ValueOf(cfg).Elem(), applyDefault); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Read layers defaults, the YAML file at path (optional) and the
// environment. It does not validate, so callers can apply flags first.
func Read(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config load: parse %s: %w", path, err)
		}
	}

	if err := walk(reflect.ValueOf(cfg).Elem(), applyEnv); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	return cfg, nil
}

// Load reads and validates the configuration.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads the given .env files that exist. Variables already set
// in the environment win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// walk calls fn for every tagged leaf field, recursing into nested structs.
func walk(v reflect.Value, fn func(reflect.StructField, reflect.Value) error) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct {
			if err := walk(fieldVal, fn); err != nil {
				return err
			}
			continue
		}

		if err := fn(field, fieldVal); err != nil {
			return err
		}
	}

	return nil
}

func applyDefault(field reflect.StructField, fieldVal reflect.Value) error {
	value, ok := field.Tag.Lookup("default")
	if !ok || value == "" {
		return nil
	}
	if err := setField(fieldVal, value); err != nil {
		return fmt.Errorf("invalid default for %s=%q: %w", field.Name, value, err)
	}
	return nil
}

func applyEnv(field reflect.StructField, fieldVal reflect.Value) error {
	envName := field.Tag.Get("env")
	if envName == "" {
		return nil
	}

	// Try primary env var, then alternate
	value := os.Getenv(envName)
	if value == "" {
		if envAlt := field.Tag.Get("envAlt"); envAlt != "" {
			value = os.Getenv(envAlt)
		}
	}
	if value == "" {
		return nil
	}

	if err := setField(fieldVal, value); err != nil {
		return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
	}
	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		field.Set(reflect.ValueOf(SplitList(value)))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// Validate checks that the configuration is usable and reports every problem.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// Census validation
	if strings.TrimSpace(c.Census.APIKey) == "" {
		errs = append(errs, ErrMissingAPIKey)
	}
	if c.Census.Year < 2009 {
		add("CENSUS_YEAR (%d) must be 2009 or later", c.Census.Year)
	}
	if strings.Trim(c.Census.Dataset, "/") == "" {
		add("CENSUS_DATASET must not be empty")
	}
	if c.Census.Timeout <= 0 {
		add("CENSUS_TIMEOUT must be positive")
	}
	if _, err := c.States(); err != nil {
		add("CENSUS_STATES: %v", err)
	}

	// Fetch validation
	if c.Fetch.Concurrency <= 0 {
		add("ETL_CONCURRENCY must be positive")
	}
	if c.Fetch.MaxVariablesPerQuery <= 0 || c.Fetch.MaxVariablesPerQuery > 50 {
		add("ETL_MAX_VARIABLES_PER_QUERY (%d) must be 1-50", c.Fetch.MaxVariablesPerQuery)
	}
	if c.Fetch.GroupTimeout < 0 {
		add("ETL_GROUP_TIMEOUT must be non-negative")
	}

	// Retry validation
	switch c.Retry.Profile {
	case RetryProfileExponential, RetryProfileFixed:
		if err := c.ClientRetry().Validate(); err != nil {
			add("retry: %v", err)
		}
	default:
		add("RETRY_PROFILE (%q) must be one of: exponential, fixed", c.Retry.Profile)
	}

	// Rate limit validation
	if c.Rate.RequestsPerSecond < 0 {
		add("RATE_LIMIT_RPS must be non-negative")
	}

	// Output validation
	kind, err := sink.ParseKind(c.Output.Sink)
	if err != nil {
		add("ETL_SINK: %v", err)
	}
	if kind == sink.KindPostgres && c.Output.DatabaseURL == "" {
		add("DATABASE_URL is required for the postgres sink")
	}
	if kind == sink.KindCSV && c.Output.Dir == "" {
		add("ETL_OUTPUT_DIR is required for the csv sink")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		add("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// String returns a safe string representation of the config for logging.
// Secrets are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Census: {APIKey: %s, Dataset: %q, Year: %d, States: %v}, ",
		mask(c.Census.APIKey), c.Census.Dataset, c.Census.Year, c.Census.States))
	b.WriteString(fmt.Sprintf("Fetch: {Concurrency: %d, Groups: %d, AllowPartial: %v}, ",
		c.Fetch.Concurrency, len(c.Fetch.Groups), c.Fetch.AllowPartial))
	b.WriteString(fmt.Sprintf("Retry: {Profile: %q, MaxAttempts: %d, InitialBackoff: %s}, ",
		c.Retry.Profile, c.Retry.MaxAttempts, c.Retry.InitialBackoff))
	b.WriteString(fmt.Sprintf("Output: {Sink: %q, Dir: %q, DatabaseURL: %s}, ",
		c.Output.Sink, c.Output.Dir, mask(c.Output.DatabaseURL)))
	b.WriteString(fmt.Sprintf("Redis: {Addr: %q}", c.Redis.Addr))
	b.WriteString("}")
	return b.String()
}

func mask(secret string) string {
	if secret == "" {
		return "[UNSET]"
	}
	return "[MASKED]"
}
