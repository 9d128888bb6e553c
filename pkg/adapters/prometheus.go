package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// PrometheusAdapter fetches history from the Prometheus HTTP API with a
// /api/v1/query_range call. Rows have the form
//
//	{"ts": time.Time, "<ValueColumn>": float64, "<label>": string...}
//
// Series sharing a timestamp and the same GroupBy label values are summed,
// so without GroupBy all series collapse into one.
type PrometheusAdapter struct {
	// ServerURL is the base URL, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Query is the PromQL expression to evaluate.
	Query string
	// StepSeconds is the resolution (60s when <= 0).
	StepSeconds int
	// GroupBy lists labels that identify separate series, e.g. ["store"].
	GroupBy []string
	// ValueColumn names the value column ("value" when empty).
	ValueColumn string
	// HTTPClient is optional; a client with a 10s timeout is used when nil.
	HTTPClient *http.Client
}

func (p *PrometheusAdapter) Name() string { return "prometheus" }

// Collect implements Adapter.
func (p *PrometheusAdapter) Collect(ctx context.Context, windowSeconds int) (*DataFrame, error) {
	if p.ServerURL == "" || p.Query == "" {
		return &DataFrame{}, errors.New("prometheus adapter: ServerURL and Query are required")
	}
	q := rangeQuery{
		source:    "prometheus",
		serverURL: p.ServerURL,
		query:     p.Query,
		step:      p.StepSeconds,
		client:    p.HTTPClient,
	}
	series, err := q.run(ctx, windowSeconds)
	if err != nil {
		return &DataFrame{}, err
	}
	rows, err := AggregateRangeResult(series, p.GroupBy, p.ValueColumn)
	if err != nil {
		return &DataFrame{}, err
	}
	return &DataFrame{Rows: rows}, nil
}

// rangeQuery is a query_range call against a Prometheus-compatible API.
type rangeQuery struct {
	source    string
	serverURL string
	query     string
	step      int
	client    *http.Client
}

func (q rangeQuery) run(ctx context.Context, windowSeconds int) ([]PrometheusRangeSerie, error) {
	step := q.step
	if step <= 0 {
		step = 60
	}
	if windowSeconds <= 0 {
		return nil, fmt.Errorf("%s adapter: window must be positive, got %d", q.source, windowSeconds)
	}
	end := AlignTimestamp(time.Now().UTC(), step)
	start := end.Add(-time.Duration(windowSeconds) * time.Second)

	u, err := url.Parse(q.serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/query_range"

	params := u.Query()
	params.Set("query", q.query)
	params.Set("start", strconv.FormatInt(start.Unix(), 10))
	params.Set("end", strconv.FormatInt(end.Unix(), 10))
	params.Set("step", strconv.Itoa(step))
	u.RawQuery = params.Encode()

	cli := q.client
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", q.source, resp.StatusCode)
	}

	var pr PrometheusRangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", q.source, err)
	}
	if pr.Status != "success" {
		return nil, fmt.Errorf("%s status: %s", q.source, pr.Status)
	}
	return pr.Data.Result, nil
}

// PrometheusRangeResponse is the query_range response body.
type PrometheusRangeResponse struct {
	Status string              `json:"status"`
	Data   PrometheusRangeData `json:"data"`
}

// PrometheusRangeData contains the result of a range query.
type PrometheusRangeData struct {
	ResultType string                 `json:"resultType"`
	Result     []PrometheusRangeSerie `json:"result"`
}

// PrometheusRangeSerie is a single series in the result.
type PrometheusRangeSerie struct {
	Metric map[string]string `json:"metric"`
	// Values is an array of [ <unix_time_float>, "<value_string>" ]
	Values [][]any `json:"values"`
}

// AggregateRangeResult turns range series into rows sorted by timestamp and
// then by label values. Values at the same timestamp with the same groupBy
// labels are summed.
func AggregateRangeResult(series []PrometheusRangeSerie, groupBy []string, valueCol string) ([]Row, error) {
	valueCol = valueColumn(valueCol)

	type key struct {
		ts     int64
		labels string
	}
	acc := make(map[key]float64)
	labelValues := make(map[string][]string)

	for _, s := range series {
		values := make([]string, len(groupBy))
		for i, l := range groupBy {
			values[i] = s.Metric[l]
		}
		labels := strings.Join(values, "\x1f")
		labelValues[labels] = values

		for _, pair := range s.Values {
			if len(pair) != 2 {
				return nil, fmt.Errorf("invalid value pair length: %d", len(pair))
			}
			ts, err := parseSampleTime(pair[0])
			if err != nil {
				return nil, err
			}
			val, err := parseSampleValue(pair[1])
			if err != nil {
				return nil, err
			}
			acc[key{ts, labels}] += val
		}
	}

	keys := make([]key, 0, len(acc))
	for k := range acc {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ts != keys[j].ts {
			return keys[i].ts < keys[j].ts
		}
		return keys[i].labels < keys[j].labels
	})

	rows := make([]Row, 0, len(keys))
	for _, k := range keys {
		row := Row{
			DefaultTimestampColumn: time.Unix(k.ts, 0).UTC(),
			valueCol:               acc[k],
		}
		for i, l := range groupBy {
			row[l] = labelValues[k.labels][i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseSampleTime(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("parse timestamp: %w", err)
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("unexpected timestamp type %T", v)
	}
}

func parseSampleValue(v any) (float64, error) {
	switch val := v.(type) {
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("parse value: %w", err)
		}
		return f, nil
	case float64:
		return val, nil
	case json.Number:
		return val.Float64()
	default:
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
}
