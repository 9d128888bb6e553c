package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HatiCode/lagcast/cmd/forecaster/config"
	"github.com/HatiCode/lagcast/cmd/forecaster/metrics"
	fmodels "github.com/HatiCode/lagcast/cmd/forecaster/models"
	"github.com/HatiCode/lagcast/pkg/adapters"
	"github.com/HatiCode/lagcast/pkg/registry"
	"github.com/HatiCode/lagcast/pkg/storage"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeSalesCSV writes n daily rows per store with a weekly pattern.
func writeSalesCSV(t *testing.T, n int, stores ...string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("date,store,sales,promo\n")
	for _, s := range stores {
		for i := 0; i < n; i++ {
			d := day0.AddDate(0, 0, i)
			promo := 0
			if i%7 == 5 {
				promo = 1
			}
			fmt.Fprintf(&b, "%s,%s,%d,%d\n", d.Format(time.DateOnly), s, 20+3*(i%7)+10*promo, promo)
		}
	}
	path := filepath.Join(t.TempDir(), "sales.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func salesSeries(t *testing.T, path string) config.SeriesConfig {
	t.Helper()
	yaml := fmt.Sprintf(`
series:
  - name: sales
    adapter:
      kind: csv
      config: {path: %q}
    period: 24h
    horizon: 7
    features:
      dateColumn: date
      targetColumn: sales
      groupColumns: [store]
      lags: [1, 7]
      futureCovariates: [promo]
      dateFeatures: [{name: weekday}]
    split: {valSteps: 7, testSteps: 7}
    quantiles: [p90]
    predictionInterval: {method: rmse, alpha: 0.2}
    model:
      params: {nEstimators: 30, minChildSamples: 3}
`, path)
	series, err := config.ParsePipeline([]byte(yaml))
	if err != nil {
		t.Fatalf("ParsePipeline() error = %v", err)
	}
	return series[0]
}

func newTestForecaster(t *testing.T, sc config.SeriesConfig, store *storage.MemoryStore) *Forecaster {
	t.Helper()
	adapter, err := buildAdapter(sc, nil)
	if err != nil {
		t.Fatalf("buildAdapter() error = %v", err)
	}
	factory, params := fmodels.New(sc, nil, quietLogger())
	m := metrics.NewWith(prometheus.NewRegistry(), sc.Name, adapter.Name(), sc.Model.Kind)
	return NewSeriesForecaster(sc, adapter, factory, params, store, store, quietLogger(), m)
}

func TestNewSeriesForecaster_NilLogger(t *testing.T) {
	sc := config.SeriesConfig{Name: "sales"}
	f := NewSeriesForecaster(sc, &adapters.CSVAdapter{}, nil, nil, storage.NewMemoryStore(), nil, nil, nil)

	if f.logger == nil {
		t.Error("logger should not be nil when nil is passed")
	}
	if f.Name() != "sales" {
		t.Errorf("Name() = %q, want sales", f.Name())
	}
}

func TestForecaster_Tick(t *testing.T) {
	path := writeSalesCSV(t, 70, "north", "south")
	sc := salesSeries(t, path)
	store := storage.NewMemoryStore()
	f := newTestForecaster(t, sc, store)
	generated := time.Date(2024, 3, 11, 6, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return generated }

	if err := f.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	snap, found, err := store.GetLatest(context.Background(), "sales")
	if err != nil || !found {
		t.Fatalf("GetLatest() = %v, %v", found, err)
	}
	if snap.Model != "gbrt" || snap.Target != "sales" || snap.StepSeconds != 86400 {
		t.Errorf("snapshot header = %+v", snap)
	}
	if !snap.GeneratedAt.Equal(generated) {
		t.Errorf("GeneratedAt = %v, want %v", snap.GeneratedAt, generated)
	}

	// 7 steps for each of the two stores.
	if len(snap.Values) != 14 || len(snap.Dates) != 14 {
		t.Fatalf("len(Values) = %d, len(Dates) = %d, want 14", len(snap.Values), len(snap.Dates))
	}
	firstStep := day0.AddDate(0, 0, 70)
	lastStep := firstStep.AddDate(0, 0, 6)
	for i, d := range snap.Dates {
		if d.Before(firstStep) || d.After(lastStep) {
			t.Errorf("Dates[%d] = %v outside the horizon", i, d)
		}
		if math.IsNaN(snap.Values[i]) || math.IsInf(snap.Values[i], 0) {
			t.Errorf("Values[%d] = %v", i, snap.Values[i])
		}
	}
	if stores := snap.Groups["store"]; len(stores) != 14 {
		t.Errorf("Groups = %v", snap.Groups)
	}

	for _, band := range []string{"sales_0.1th_pc", "sales_0.9th_pc", "sales_lower_pi", "sales_upper_pi"} {
		if len(snap.Bands[band]) != 14 {
			t.Errorf("band %s has %d values, want 14", band, len(snap.Bands[band]))
		}
	}
	if hi, lo := snap.Bands["sales_0.9th_pc"][0], snap.Bands["sales_0.1th_pc"][0]; hi < lo {
		t.Errorf("upper quantile %v below lower %v", hi, lo)
	}
	if math.IsNaN(snap.ValidationRMSE) || snap.ValidationRMSE < 0 {
		t.Errorf("ValidationRMSE = %v", snap.ValidationRMSE)
	}
	if snap.TestWAPE == nil {
		t.Error("TestWAPE = nil, want a score")
	}

	model, meta, err := registry.New().Load(context.Background(), store, "sales")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if model.Name() != "gbrt" || meta.Params.NEstimators != 30 {
		t.Errorf("published model = %s, params = %+v", model.Name(), meta.Params)
	}
	if len(meta.Features) == 0 {
		t.Error("published metadata has no features")
	}
}

func TestForecaster_Tick_WithSearch(t *testing.T) {
	path := writeSalesCSV(t, 70, "north")
	sc := salesSeries(t, path)
	sc.Features.GroupColumns = nil
	sc.Model.Trials = 3
	sc.PredictionInterval.Method = ""
	sc.Quantiles, sc.QuantileLevels = nil, nil

	store := storage.NewMemoryStore()
	f := newTestForecaster(t, sc, store)

	if err := f.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	snap, _, _ := store.GetLatest(context.Background(), "sales")
	if len(snap.Values) != 7 {
		t.Errorf("len(Values) = %d, want 7", len(snap.Values))
	}
	if len(snap.Bands) != 0 || len(snap.Groups) != 0 {
		t.Errorf("Bands/Groups = %v/%v, want none", snap.Bands, snap.Groups)
	}
}

func TestForecaster_Tick_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		sc := salesSeries(t, filepath.Join(t.TempDir(), "missing.csv"))
		f := newTestForecaster(t, sc, storage.NewMemoryStore())
		err := f.Tick(context.Background())
		if err == nil || !strings.Contains(err.Error(), "collect") {
			t.Errorf("Tick() error = %v, want collect error", err)
		}
	})

	t.Run("history too short", func(t *testing.T) {
		sc := salesSeries(t, writeSalesCSV(t, 10, "north"))
		store := storage.NewMemoryStore()
		f := newTestForecaster(t, sc, store)
		err := f.Tick(context.Background())
		if err == nil || !strings.Contains(err.Error(), "fit") {
			t.Errorf("Tick() error = %v, want fit error", err)
		}
		if _, found, _ := store.GetLatest(context.Background(), "sales"); found {
			t.Error("a failed tick must not store a snapshot")
		}
	})
}

func TestForecaster_Run_ContextCancellation(t *testing.T) {
	sc := salesSeries(t, filepath.Join(t.TempDir(), "missing.csv"))
	sc.Every = time.Hour
	f := newTestForecaster(t, sc, storage.NewMemoryStore())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancellation")
	}
}

func TestDateRange(t *testing.T) {
	df := &adapters.DataFrame{Rows: []adapters.Row{
		{"date": "2024-01-03", "v": 1.0},
		{"date": nil, "v": 2.0},
		{"date": "2024-01-01", "v": 3.0},
	}}
	tbl, _ := df.Table("date")
	first, last, err := dateRange(tbl, "date")
	if err != nil {
		t.Fatal(err)
	}
	if !first.Equal(day0) || !last.Equal(day0.AddDate(0, 0, 2)) {
		t.Errorf("dateRange() = %v, %v", first, last)
	}
}

func TestQuantileLabels(t *testing.T) {
	got := quantileLabels([]float64{0.9, 0.975})
	if len(got) != 2 || got[0] != "p90" || got[1] != "p97.5" {
		t.Errorf("quantileLabels() = %v, want [p90 p97.5]", got)
	}
	if got := quantileLabels(nil); len(got) != 0 {
		t.Errorf("quantileLabels(nil) = %v, want empty", got)
	}
}
