package adapters

import (
	"context"
	"errors"
	"net/http"
)

// VictoriaMetricsAdapter fetches history from VictoriaMetrics through its
// Prometheus-compatible query_range API. Rows and grouping are the same as
// PrometheusAdapter's.
type VictoriaMetricsAdapter struct {
	// ServerURL is the base URL, e.g. http://victoria-metrics:8428
	ServerURL string
	// Query is the MetricsQL/PromQL expression to evaluate.
	Query string
	// StepSeconds is the resolution (60s when <= 0).
	StepSeconds int
	// GroupBy lists labels that identify separate series.
	GroupBy []string
	// ValueColumn names the value column ("value" when empty).
	ValueColumn string
	// HTTPClient is optional; a client with a 10s timeout is used when nil.
	HTTPClient *http.Client
}

func (v *VictoriaMetricsAdapter) Name() string { return "victoria-metrics" }

// Collect implements Adapter.
func (v *VictoriaMetricsAdapter) Collect(ctx context.Context, windowSeconds int) (*DataFrame, error) {
	if v.ServerURL == "" || v.Query == "" {
		return &DataFrame{}, errors.New("victoria metrics adapter: ServerURL and Query are required")
	}
	q := rangeQuery{
		source:    "victoria-metrics",
		serverURL: v.ServerURL,
		query:     v.Query,
		step:      v.StepSeconds,
		client:    v.HTTPClient,
	}
	series, err := q.run(ctx, windowSeconds)
	if err != nil {
		return &DataFrame{}, err
	}
	rows, err := AggregateRangeResult(series, v.GroupBy, v.ValueColumn)
	if err != nil {
		return &DataFrame{}, err
	}
	return &DataFrame{Rows: rows}, nil
}
