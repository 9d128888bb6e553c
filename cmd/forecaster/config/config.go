// Package config provides configuration parsing for the forecaster service.
//
// Service settings (listen address, logging, storage, TLS) come from
// command-line flags with environment variable fallbacks, flags taking
// precedence. What to forecast is described per series:
//
//   - with --pipeline-file, a YAML file lists any number of series with their
//     adapter, features, split, model and output settings;
//   - without it, a single series is built from flags and ADAPTER_*
//     environment variables.
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
//
// Example usage:
//
//	cfg := config.ParseFlags()
//	series, err := config.LoadSeries(cfg)
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/lagcast/pkg/tls"
)

// Config holds all forecaster configuration.
type Config struct {
	Listen        string
	LogFormat     string
	LogLevel      string
	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	TLS           tls.Config
	PipelineFile  string

	Series         string
	Adapter        string
	AdapterConfig  map[string]string
	DateColumn     string
	TargetColumn   string
	GroupColumns   string
	Lags           string
	Period         time.Duration
	Horizon        int
	Window         time.Duration
	Interval       time.Duration
	ValSteps       int
	TestSteps      int
	Quantiles      string
	IntervalMethod string
	Alpha          float64
	Model          string
	BYOMURL        string
	Trials         int
	Seed           int64
	Metric         string
}

// ParseFlags parses command-line flags and environment variables into a
// Config and exits on invalid input.
func ParseFlags() *Config {
	cfg, err := parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8081"), "HTTP listen address")

	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	fs.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Storage backend: memory or redis")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	fs.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 48*time.Hour), "Redis snapshot TTL")

	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable mTLS for the HTTP server")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	fs.StringVar(&cfg.PipelineFile, "pipeline-file", getEnv("PIPELINE_FILE", ""), "YAML file describing the series to forecast")

	fs.StringVar(&cfg.Series, "series", getEnv("SERIES", ""), "Series name (single-series mode)")
	fs.StringVar(&cfg.Adapter, "adapter", getEnv("ADAPTER", ""), "Adapter type: prometheus, victoriametrics, http, or csv")
	fs.StringVar(&cfg.DateColumn, "date-column", getEnv("DATE_COLUMN", "ts"), "Date column name")
	fs.StringVar(&cfg.TargetColumn, "target-column", getEnv("TARGET_COLUMN", "value"), "Target column name")
	fs.StringVar(&cfg.GroupColumns, "group-columns", getEnv("GROUP_COLUMNS", ""), "Comma-separated group columns")
	fs.StringVar(&cfg.Lags, "lags", getEnv("LAGS", "1"), "Comma-separated target lags")
	fs.DurationVar(&cfg.Period, "period", getEnvDuration("PERIOD", 24*time.Hour), "Spacing between forecast steps")
	fs.IntVar(&cfg.Horizon, "horizon", getEnvInt("HORIZON", 14), "Number of steps to forecast")
	fs.DurationVar(&cfg.Window, "window", getEnvDuration("WINDOW", 2*365*24*time.Hour), "Historical window to collect")
	fs.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", 24*time.Hour), "Refit and forecast interval")
	fs.IntVar(&cfg.ValSteps, "val-steps", getEnvInt("VAL_STEPS", 0), "Validation split length in steps (default: horizon)")
	fs.IntVar(&cfg.TestSteps, "test-steps", getEnvInt("TEST_STEPS", 0), "Test split length in steps (default: horizon)")
	fs.StringVar(&cfg.Quantiles, "quantiles", getEnv("QUANTILES", "p90"), "Comma-separated quantile levels (p90, 0.8)")
	fs.StringVar(&cfg.IntervalMethod, "interval-method", getEnv("INTERVAL_METHOD", ""), "Prediction interval: bootstrap, rmse, or empty to skip")
	fs.Float64Var(&cfg.Alpha, "alpha", getEnvFloat("ALPHA", 0.1), "Prediction interval significance level")
	fs.StringVar(&cfg.Model, "model", getEnv("MODEL", "gbrt"), "Regressor: gbrt or byom")
	fs.StringVar(&cfg.BYOMURL, "byom-url", getEnv("BYOM_URL", ""), "BYOM service URL (required when model=byom)")
	fs.IntVar(&cfg.Trials, "trials", getEnvInt("TRIALS", 0), "Hyperparameter search trials (0 fits the defaults)")
	fs.Int64Var(&cfg.Seed, "seed", int64(getEnvInt("SEED", 42)), "Random seed")
	fs.StringVar(&cfg.Metric, "metric", getEnv("METRIC", "wape"), "Early stopping metric: wape, smape, or rmse")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.AdapterConfig = parseAdapterConfig()

	if cfg.PipelineFile == "" {
		if cfg.Series == "" {
			return nil, fmt.Errorf("--series is required without --pipeline-file")
		}
		if cfg.Adapter == "" {
			return nil, fmt.Errorf("--adapter is required without --pipeline-file")
		}
	}
	if cfg.Storage != "memory" && cfg.Storage != "redis" {
		return nil, fmt.Errorf("invalid storage %q (must be memory or redis)", cfg.Storage)
	}
	if err := cfg.TLS.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseAdapterConfig collects ADAPTER_* environment variables into a map
// keyed by lower camel case names (ADAPTER_VALUE_PATH becomes valuePath).
func parseAdapterConfig() map[string]string {
	config := make(map[string]string)
	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, "ADAPTER_") || len(name) == len("ADAPTER_") {
			continue
		}
		config[toLowerCamelCase(strings.TrimPrefix(name, "ADAPTER_"))] = value
	}
	return config
}

func toLowerCamelCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i > 0 && b.Len() > 0 {
			p = strings.ToUpper(p[:1]) + p[1:]
		}
		b.WriteString(p)
	}
	return b.String()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, part := range splitList(s) {
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
