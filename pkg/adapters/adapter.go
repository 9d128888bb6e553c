// Package adapters pulls historical observations from external systems and
// returns them as row-oriented DataFrames ready to become a frame.Table.
//
// Available adapters:
//   - PrometheusAdapter: range queries against the Prometheus HTTP API
//   - VictoriaMetricsAdapter: the same queries against VictoriaMetrics
//   - HTTPAdapter: any JSON API, with values extracted by gjson paths
//   - CSVAdapter: a local CSV file, e.g. an exported warehouse table
//
// Adapters only fetch and shape data. Feature engineering and forecasting
// happen in the features and forecast packages.
package adapters

import (
	"context"
	"time"

	"github.com/HatiCode/lagcast/pkg/frame"
)

const (
	// DefaultTimestampColumn names the timestamp of every row.
	DefaultTimestampColumn = "ts"
	// DefaultValueColumn names the observed value when an adapter is not
	// told otherwise.
	DefaultValueColumn = "value"
)

// Row is a single observation, e.g.
// {"ts": time.Time, "value": 312.4, "store": "north"}.
type Row map[string]any

// DataFrame is the tabular result of a collection.
type DataFrame struct {
	Rows []Row
}

// Table converts the rows into a frame.Table, parsing timeColumns as
// timestamps. Values that do not parse are returned as coercions.
func (df *DataFrame) Table(timeColumns ...string) (*frame.Table, []frame.Coercion) {
	records := make([]map[string]any, len(df.Rows))
	for i, r := range df.Rows {
		records[i] = r
	}
	return frame.FromRecords(records, timeColumns...)
}

// Adapter is implemented by every data source.
//
// Collect is synchronous and must respect context cancellation and
// deadlines.
type Adapter interface {
	// Collect fetches the observations of the last windowSeconds. Sources
	// that hold a bounded history (CSV) return everything for a
	// non-positive window; range queries reject it.
	Collect(ctx context.Context, windowSeconds int) (*DataFrame, error)

	// Name returns a short identifier such as "prometheus" or "csv".
	Name() string
}

// AlignTimestamp truncates ts to a multiple of stepSec.
func AlignTimestamp(ts time.Time, stepSec int) time.Time {
	if stepSec <= 0 {
		return ts
	}
	return ts.Truncate(time.Duration(stepSec) * time.Second)
}

func valueColumn(name string) string {
	if name == "" {
		return DefaultValueColumn
	}
	return name
}
