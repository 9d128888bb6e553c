package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HatiCode/lagcast/pkg/frame"
)

const groupedResponse = `{
    "status":"success",
    "data":{
        "resultType":"matrix",
        "result":[
            { "metric":{"store":"south","sku":"a"}, "values":[ [ 1700000000, "5" ], [ 1700086400, "6" ] ] },
            { "metric":{"store":"north","sku":"a"}, "values":[ [ 1700000000, "1" ], [ 1700086400, "2" ] ] },
            { "metric":{"store":"north","sku":"b"}, "values":[ [ 1700000000, "10" ] ] }
        ]
    }
}`

func TestPrometheusAdapter_GroupBy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query_range" {
			t.Errorf("path = %s, want /api/v1/query_range", r.URL.Path)
		}
		if q := r.URL.Query().Get("query"); q != "units_sold" {
			t.Errorf("query = %q", q)
		}
		fmt.Fprint(w, groupedResponse)
	}))
	defer server.Close()

	ad := &PrometheusAdapter{
		ServerURL:   server.URL,
		Query:       "units_sold",
		StepSeconds: 86400,
		GroupBy:     []string{"store"},
		ValueColumn: "sales",
	}
	df, err := ad.Collect(context.Background(), 7*86400)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}

	want := []struct {
		ts    int64
		store string
		sales float64
	}{
		{1700000000, "north", 11},
		{1700000000, "south", 5},
		{1700086400, "north", 2},
		{1700086400, "south", 6},
	}
	if len(df.Rows) != len(want) {
		t.Fatalf("got %d rows, want %d: %v", len(df.Rows), len(want), df.Rows)
	}
	for i, w := range want {
		row := df.Rows[i]
		if !row["ts"].(time.Time).Equal(time.Unix(w.ts, 0)) || row["store"] != w.store || row["sales"] != w.sales {
			t.Errorf("row %d = %v, want %+v", i, row, w)
		}
		if _, ok := row["sku"]; ok {
			t.Errorf("row %d carries ungrouped label sku", i)
		}
	}
}

func TestPrometheusAdapter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		window  int
		wantErr bool
	}{
		{"server error", http.StatusInternalServerError, "", 60, true},
		{"error status", http.StatusOK, `{"status":"error","data":{}}`, 60, true},
		{"bad json", http.StatusOK, `{`, 60, true},
		{"bad value", http.StatusOK, `{"status":"success","data":{"result":[{"metric":{},"values":[[1700000000,"x"]]}]}}`, 60, true},
		{"short pair", http.StatusOK, `{"status":"success","data":{"result":[{"metric":{},"values":[[1700000000]]}]}}`, 60, true},
		{"zero window", http.StatusOK, `{"status":"success","data":{"result":[]}}`, 0, true},
		{"empty result", http.StatusOK, `{"status":"success","data":{"result":[]}}`, 60, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			ad := &PrometheusAdapter{ServerURL: server.URL, Query: "q"}
			_, err := ad.Collect(context.Background(), tt.window)
			if (err != nil) != tt.wantErr {
				t.Errorf("Collect() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDataFrame_Table(t *testing.T) {
	series := []PrometheusRangeSerie{
		{Metric: map[string]string{"store": "north"}, Values: [][]any{{float64(1700000000), "3"}}},
		{Metric: map[string]string{"store": "south"}, Values: [][]any{{float64(1700000000), "4"}}},
	}
	rows, err := AggregateRangeResult(series, []string{"store"}, "")
	if err != nil {
		t.Fatal(err)
	}
	df := &DataFrame{Rows: rows}

	tbl, coercions := df.Table(DefaultTimestampColumn)
	if len(coercions) != 0 {
		t.Fatalf("unexpected coercions: %v", coercions)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl.Len())
	}
	col, ok := tbl.Column(DefaultValueColumn)
	if !ok {
		t.Fatal("value column missing")
	}
	if col.Kind != frame.Float || col.Floats[0] != 3 || col.Floats[1] != 4 {
		t.Errorf("value column = %+v", col)
	}
	ts, _ := tbl.Column(DefaultTimestampColumn)
	if ts.Kind != frame.Time || !ts.Times[0].Equal(time.Unix(1700000000, 0)) {
		t.Errorf("ts column = %+v", ts)
	}
	store, _ := tbl.Column("store")
	if store.Kind != frame.String || store.Strings[1] != "south" {
		t.Errorf("store column = %+v", store)
	}
}

func TestAlignTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 5, 13, 47, 12, 0, time.UTC)
	if got := AlignTimestamp(ts, 3600); !got.Equal(time.Date(2024, 3, 5, 13, 0, 0, 0, time.UTC)) {
		t.Errorf("AlignTimestamp(3600) = %v", got)
	}
	if got := AlignTimestamp(ts, 0); !got.Equal(ts) {
		t.Errorf("AlignTimestamp(0) = %v, want unchanged", got)
	}
}
