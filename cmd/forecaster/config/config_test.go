package config

import (
	"flag"
	"io"
	"os"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "environment variable set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "from-env",
			want:         "from-env",
		},
		{
			name:         "environment variable not set",
			key:          "NONEXISTENT_VAR",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := getEnv(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetEnvTyped(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "not-a-number")
	t.Setenv("TEST_FLOAT", "0.05")
	t.Setenv("TEST_DURATION", "168h")
	t.Setenv("TEST_BAD_DURATION", "weekly")
	t.Setenv("TEST_BOOL", "1")

	if got := getEnvInt("TEST_INT", 10); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}
	if got := getEnvInt("TEST_BAD_INT", 10); got != 10 {
		t.Errorf("getEnvInt(invalid) = %d, want default 10", got)
	}
	if got := getEnvFloat("TEST_FLOAT", 0.1); got != 0.05 {
		t.Errorf("getEnvFloat() = %v, want 0.05", got)
	}
	if got := getEnvDuration("TEST_DURATION", time.Hour); got != 7*24*time.Hour {
		t.Errorf("getEnvDuration() = %v, want 168h", got)
	}
	if got := getEnvDuration("TEST_BAD_DURATION", time.Hour); got != time.Hour {
		t.Errorf("getEnvDuration(invalid) = %v, want default 1h", got)
	}
	if got := getEnvBool("TEST_BOOL", false); !got {
		t.Error("getEnvBool() = false, want true")
	}
	if got := getEnvBool("NONEXISTENT_BOOL", true); !got {
		t.Error("getEnvBool(unset) = false, want default true")
	}
}

func TestToLowerCamelCase(t *testing.T) {
	tests := map[string]string{
		"QUERY":            "query",
		"VALUE_PATH":       "valuePath",
		"TIMESTAMP_COLUMN": "timestampColumn",
		"GROUP_BY":         "groupBy",
		"_URL":             "url",
	}
	for in, want := range tests {
		if got := toLowerCamelCase(in); got != want {
			t.Errorf("toLowerCamelCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConfig_Defaults(t *testing.T) {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	t.Setenv("ADAPTER_PATH", "/data/sales.csv")

	os.Args = []string{
		"cmd",
		"-series=sales",
		"-adapter=csv",
	}

	cfg := ParseFlags()

	if cfg.Listen != ":8081" {
		t.Errorf("Listen = %q, want %q", cfg.Listen, ":8081")
	}
	if cfg.Period != 24*time.Hour {
		t.Errorf("Period = %v, want 24h", cfg.Period)
	}
	if cfg.Horizon != 14 {
		t.Errorf("Horizon = %d, want 14", cfg.Horizon)
	}
	if cfg.Interval != 24*time.Hour {
		t.Errorf("Interval = %v, want 24h", cfg.Interval)
	}
	if cfg.Model != "gbrt" || cfg.Seed != 42 || cfg.Metric != "wape" {
		t.Errorf("model defaults = %q/%d/%q", cfg.Model, cfg.Seed, cfg.Metric)
	}
	if cfg.Storage != "memory" {
		t.Errorf("Storage = %q, want memory", cfg.Storage)
	}
	if cfg.LogFormat != "text" || cfg.LogLevel != "info" {
		t.Errorf("log = %q/%q, want text/info", cfg.LogFormat, cfg.LogLevel)
	}
	if cfg.AdapterConfig["path"] != "/data/sales.csv" {
		t.Errorf("AdapterConfig = %v", cfg.AdapterConfig)
	}
}

func TestParse_CustomValues(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parse(fs, []string{
		"-series=sales-weekly",
		"-adapter=prometheus",
		"-listen=:9090",
		"-period=168h",
		"-horizon=8",
		"-lags=1,2,52",
		"-group-columns=store,sku",
		"-trials=25",
		"-storage=redis",
		"-log-format=json",
		"-log-level=debug",
	})
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}

	if cfg.Listen != ":9090" || cfg.Series != "sales-weekly" {
		t.Errorf("Listen/Series = %q/%q", cfg.Listen, cfg.Series)
	}
	if cfg.Period != 7*24*time.Hour || cfg.Horizon != 8 {
		t.Errorf("Period/Horizon = %v/%d", cfg.Period, cfg.Horizon)
	}
	if cfg.Lags != "1,2,52" || cfg.GroupColumns != "store,sku" || cfg.Trials != 25 {
		t.Errorf("pipeline flags = %q %q %d", cfg.Lags, cfg.GroupColumns, cfg.Trials)
	}
	if cfg.Storage != "redis" || cfg.LogFormat != "json" || cfg.LogLevel != "debug" {
		t.Errorf("service flags = %q %q %q", cfg.Storage, cfg.LogFormat, cfg.LogLevel)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing series", []string{"-adapter=csv"}},
		{"missing adapter", []string{"-series=sales"}},
		{"bad storage", []string{"-series=sales", "-adapter=csv", "-storage=etcd"}},
		{"tls without files", []string{"-series=sales", "-adapter=csv", "-tls-enabled"}},
		{"unknown flag", []string{"-workload=x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			if _, err := parse(fs, tt.args); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParse_PipelineFileSkipsSeriesFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parse(fs, []string{"-pipeline-file=/etc/lagcast/pipeline.yaml"})
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}
	if cfg.PipelineFile != "/etc/lagcast/pipeline.yaml" {
		t.Errorf("PipelineFile = %q", cfg.PipelineFile)
	}
}
