package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPAdapter calls any JSON API and extracts a series with gjson paths.
//
// TimestampPath and ValuePath must resolve to arrays of the same length.
// Columns adds further parallel arrays as extra columns, which is how
// covariates (promotions, prices) and group keys (store, sku) reach the
// frame. Numbers become numeric cells, null becomes a missing value, and
// anything else is kept as a string.
//
// Body and header values are Go templates with the variables
// {{.WindowSeconds}}, {{.Start}}, {{.End}}, {{.Step}}, {{.StartRFC3339}},
// {{.EndRFC3339}} plus everything in TemplateVars.
//
//	adapter := &HTTPAdapter{
//	    URL:           "https://erp.example.com/api/sales",
//	    Method:        "POST",
//	    Headers:       map[string]string{"Authorization": "Bearer {{.Token}}"},
//	    Body:          `{"from": "{{.StartRFC3339}}", "to": "{{.EndRFC3339}}"}`,
//	    TimestampPath: "rows.#.week",
//	    ValuePath:     "rows.#.units",
//	    ValueColumn:   "sales",
//	    Columns:       map[string]string{"store": "rows.#.store", "promo": "rows.#.promo"},
//	}
type HTTPAdapter struct {
	// URL is the endpoint to call (required).
	URL string

	// Method defaults to GET.
	Method string

	// Headers may use template variables like {{.Token}}.
	Headers map[string]string

	// Body is the request body template.
	Body string

	// ValuePath is the gjson path of the values, e.g. "data.#.value".
	ValuePath string

	// ValueColumn names the value column ("value" when empty).
	ValueColumn string

	// TimestampPath is the gjson path of the timestamps.
	TimestampPath string

	// TimestampFormat is "rfc3339" (default), "unix" or "unix_milli".
	TimestampFormat string

	// Columns maps extra column names to gjson paths.
	Columns map[string]string

	// StepSeconds is passed to templates as {{.Step}} (60s when <= 0).
	StepSeconds int

	// HTTPClient is optional; a client with a 10s timeout is used when nil.
	HTTPClient *http.Client

	// TemplateVars are extra template variables such as tokens.
	TemplateVars map[string]string
}

func (h *HTTPAdapter) Name() string { return "http" }

// Collect implements Adapter.
func (h *HTTPAdapter) Collect(ctx context.Context, windowSeconds int) (*DataFrame, error) {
	if err := h.ValidateConfig(); err != nil {
		return &DataFrame{}, fmt.Errorf("http adapter: %w", err)
	}

	respBody, err := h.fetch(ctx, windowSeconds)
	if err != nil {
		return &DataFrame{}, err
	}

	timestamps := gjson.GetBytes(respBody, h.TimestampPath)
	if !timestamps.Exists() {
		return &DataFrame{}, fmt.Errorf("timestamp path %q not found in response", h.TimestampPath)
	}
	tsArray := timestamps.Array()

	paths := map[string]string{valueColumn(h.ValueColumn): h.ValuePath}
	for col, path := range h.Columns {
		paths[col] = path
	}

	columns := make(map[string][]gjson.Result, len(paths))
	for col, path := range paths {
		res := gjson.GetBytes(respBody, path)
		if !res.Exists() {
			return &DataFrame{}, fmt.Errorf("path %q for column %q not found in response", path, col)
		}
		arr := res.Array()
		if len(arr) != len(tsArray) {
			return &DataFrame{}, fmt.Errorf("column %q has %d values, want %d (one per timestamp)", col, len(arr), len(tsArray))
		}
		columns[col] = arr
	}

	rows := make([]Row, 0, len(tsArray))
	for i := range tsArray {
		ts, err := h.parseTimestamp(tsArray[i])
		if err != nil {
			return &DataFrame{}, fmt.Errorf("parse timestamp[%d]: %w", i, err)
		}
		row := Row{DefaultTimestampColumn: ts}
		for col, arr := range columns {
			row[col] = cellValue(arr[i])
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i][DefaultTimestampColumn].(time.Time).Before(rows[j][DefaultTimestampColumn].(time.Time))
	})

	return &DataFrame{Rows: rows}, nil
}

func (h *HTTPAdapter) fetch(ctx context.Context, windowSeconds int) ([]byte, error) {
	step := h.StepSeconds
	if step <= 0 {
		step = 60
	}

	now := time.Now().UTC().Truncate(time.Second)
	start := now.Add(-time.Duration(windowSeconds) * time.Second)

	templateData := map[string]any{
		"WindowSeconds": windowSeconds,
		"Start":         start.Unix(),
		"End":           now.Unix(),
		"Step":          step,
		"StartRFC3339":  start.Format(time.RFC3339),
		"EndRFC3339":    now.Format(time.RFC3339),
	}
	for k, v := range h.TemplateVars {
		templateData[k] = v
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if h.Body != "" {
		rendered, err := renderTemplate(h.Body, templateData)
		if err != nil {
			return nil, fmt.Errorf("render body template: %w", err)
		}
		bodyReader = strings.NewReader(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, templateData)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

func cellValue(r gjson.Result) any {
	switch r.Type {
	case gjson.Number:
		return r.Float()
	case gjson.Null:
		return nil
	default:
		return r.String()
	}
}

func (h *HTTPAdapter) parseTimestamp(value gjson.Result) (time.Time, error) {
	switch h.TimestampFormat {
	case "", "rfc3339":
		return time.Parse(time.RFC3339, value.String())
	case "unix":
		return time.Unix(int64(value.Float()), 0).UTC(), nil
	case "unix_milli":
		return time.UnixMilli(int64(value.Float())).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", h.TimestampFormat)
	}
}

func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ValidateConfig checks the required fields and the timestamp format.
func (h *HTTPAdapter) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if h.ValuePath == "" {
		return errors.New("valuePath is required")
	}
	if h.TimestampPath == "" {
		return errors.New("timestampPath is required")
	}
	switch h.TimestampFormat {
	case "", "rfc3339", "unix", "unix_milli":
	default:
		return fmt.Errorf("invalid timestampFormat: %s (must be rfc3339, unix, or unix_milli)", h.TimestampFormat)
	}
	for col, path := range h.Columns {
		if col == "" || path == "" {
			return fmt.Errorf("column %q: name and path are required", col)
		}
		if col == DefaultTimestampColumn || col == valueColumn(h.ValueColumn) {
			return fmt.Errorf("column %q collides with the timestamp or value column", col)
		}
	}
	return nil
}
