package adapters

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// New creates an adapter from its kind and a flat configuration map, as
// found in the pipeline file.
//
// Supported kinds and keys:
//   - "prometheus", "victoriametrics": url, query, groupBy (comma list), valueColumn
//   - "http": url, method, headers (JSON), body, valuePath, valueColumn,
//     timestampPath, timestampFormat, columns (JSON), templateVars (JSON)
//   - "csv": path, timestampColumn, comma
func New(kind string, config map[string]string, stepSeconds int) (Adapter, error) {
	switch kind {
	case "prometheus":
		return newPrometheus(config, stepSeconds)
	case "victoriametrics":
		return newVictoriaMetrics(config, stepSeconds)
	case "http":
		return newHTTP(config, stepSeconds)
	case "csv":
		return newCSV(config)
	default:
		return nil, fmt.Errorf("unknown adapter kind: %s (must be prometheus, victoriametrics, http, or csv)", kind)
	}
}

func newPrometheus(config map[string]string, stepSeconds int) (Adapter, error) {
	query := config["query"]
	if query == "" {
		return nil, fmt.Errorf("prometheus adapter requires 'query' config")
	}
	url := config["url"]
	if url == "" {
		url = "http://localhost:9090"
	}
	return &PrometheusAdapter{
		ServerURL:   url,
		Query:       query,
		StepSeconds: stepSeconds,
		GroupBy:     splitList(config["groupBy"]),
		ValueColumn: config["valueColumn"],
	}, nil
}

func newVictoriaMetrics(config map[string]string, stepSeconds int) (Adapter, error) {
	query := config["query"]
	if query == "" {
		return nil, fmt.Errorf("victoriametrics adapter requires 'query' config")
	}
	url := config["url"]
	if url == "" {
		url = "http://localhost:8428"
	}
	return &VictoriaMetricsAdapter{
		ServerURL:   url,
		Query:       query,
		StepSeconds: stepSeconds,
		GroupBy:     splitList(config["groupBy"]),
		ValueColumn: config["valueColumn"],
	}, nil
}

func newHTTP(config map[string]string, stepSeconds int) (Adapter, error) {
	url := config["url"]
	if url == "" {
		return nil, fmt.Errorf("http adapter requires 'url' config")
	}
	if config["valuePath"] == "" || config["timestampPath"] == "" {
		return nil, fmt.Errorf("http adapter requires 'valuePath' and 'timestampPath' config")
	}

	a := &HTTPAdapter{
		URL:             url,
		Method:          config["method"],
		Body:            config["body"],
		ValuePath:       config["valuePath"],
		ValueColumn:     config["valueColumn"],
		TimestampPath:   config["timestampPath"],
		TimestampFormat: config["timestampFormat"],
		StepSeconds:     stepSeconds,
	}
	if a.Method == "" {
		a.Method = "GET"
	}
	if a.TimestampFormat == "" {
		a.TimestampFormat = "rfc3339"
	}

	for key, dst := range map[string]*map[string]string{
		"headers":      &a.Headers,
		"templateVars": &a.TemplateVars,
		"columns":      &a.Columns,
	} {
		raw := config[key]
		if raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return nil, fmt.Errorf("invalid '%s' JSON: %w", key, err)
		}
	}

	if err := a.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http adapter: %w", err)
	}
	return a, nil
}

func newCSV(config map[string]string) (Adapter, error) {
	path := config["path"]
	if path == "" {
		return nil, fmt.Errorf("csv adapter requires 'path' config")
	}
	a := &CSVAdapter{
		Path:            path,
		TimestampColumn: config["timestampColumn"],
	}
	if sep := config["comma"]; sep != "" {
		r, size := utf8.DecodeRuneInString(sep)
		if size != len(sep) {
			return nil, fmt.Errorf("csv adapter 'comma' must be a single character, got %q", sep)
		}
		a.Comma = r
	}
	return a, nil
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
