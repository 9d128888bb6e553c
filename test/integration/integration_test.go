//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/HatiCode/lagcast/cmd/forecaster/router"
	"github.com/HatiCode/lagcast/pkg/client"
	"github.com/HatiCode/lagcast/pkg/features"
	"github.com/HatiCode/lagcast/pkg/forecast"
	"github.com/HatiCode/lagcast/pkg/frame"
	"github.com/HatiCode/lagcast/pkg/models"
	"github.com/HatiCode/lagcast/pkg/registry"
	"github.com/HatiCode/lagcast/pkg/split"
	"github.com/HatiCode/lagcast/pkg/storage"
	"github.com/HatiCode/lagcast/pkg/tls"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func newRedisStore(t *testing.T) *storage.RedisStore {
	t.Helper()
	ctx := context.Background()

	container, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	store, err := storage.NewRedisStore(strings.TrimPrefix(endpoint, "redis://"), "", 0, time.Hour)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// dailyDemand returns n days of demand with a weekly cycle on a rising base.
func dailyDemand(t *testing.T, n int) *frame.Table {
	t.Helper()
	dates := make([]time.Time, n)
	demand := make([]float64, n)
	for i := range dates {
		dates[i] = day0.Add(time.Duration(i) * day)
		demand[i] = 200 + float64(i) + 40*math.Sin(2*math.Pi*float64(i%7)/7)
	}
	tbl := frame.New()
	if err := tbl.SetTimes("date", dates); err != nil {
		t.Fatal(err)
	}
	if err := tbl.SetFloats("demand", demand); err != nil {
		t.Fatal(err)
	}
	return tbl
}

// TestForecastServeAndFetch fits a forecast, stores it and its model in
// Redis, serves it over the HTTP API and reads it back with the client.
func TestForecastServeAndFetch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newRedisStore(t)

	const n, horizon = 120, 7
	tbl := dailyDemand(t, n)
	cfg := features.Config{
		DateColumn:   "date",
		TargetColumn: "demand",
		Lags:         []int{1, 7},
		DateFeatures: []features.DateFeature{{Name: "weekday"}},
	}
	fc, err := forecast.New(cfg, models.GBRTFactory, forecast.WithLogger(logger), forecast.WithSeed(7))
	if err != nil {
		t.Fatalf("forecast.New() error = %v", err)
	}
	b := split.Boundaries{
		TrainStart: day0,
		ValStart:   day0.Add(90 * day),
		TestStart:  day0.Add(105 * day),
	}
	if err := fc.Fit(ctx, tbl, b, &models.Params{NEstimators: 40, MinChildSamples: 3}); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	start := day0.Add(n * day)
	extended, err := forecast.ExtendHorizon(tbl, fc.Config(), start, day, horizon)
	if err != nil {
		t.Fatalf("ExtendHorizon() error = %v", err)
	}
	out, err := fc.Predict(ctx, extended, start, day, horizon, nil)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	dates, err := out.Times("date")
	if err != nil {
		t.Fatal(err)
	}
	values, err := out.Floats(forecast.ForecastColumn("demand"))
	if err != nil {
		t.Fatal(err)
	}

	wape := fc.TestWAPE()
	snapshot := storage.Snapshot{
		Series:         "demand",
		Target:         "demand",
		Model:          "gbrt",
		GeneratedAt:    time.Now(),
		StepSeconds:    int(day.Seconds()),
		Dates:          dates,
		Values:         values,
		ValidationRMSE: fc.ValidationRMSE(),
		TestWAPE:       &wape,
	}
	if err := store.Put(ctx, snapshot); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	reg := registry.New()
	if _, err := reg.Publish(ctx, store, "demand", fc.Model(), registry.Metadata{
		Params:         fc.Params(),
		Features:       fc.Features(),
		ValidationRMSE: fc.ValidationRMSE(),
		TestWAPE:       wape,
	}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	srv := httptest.NewServer(router.SetupRoutes(store, store, time.Hour, logger))
	defer srv.Close()

	t.Run("health pings redis", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status code = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("client reads forecast", func(t *testing.T) {
		c, err := client.New(srv.URL, tls.Config{}, logger)
		if err != nil {
			t.Fatal(err)
		}
		got, err := c.Current(ctx, "demand")
		if err != nil {
			t.Fatalf("Current() error = %v", err)
		}
		if got.Stale {
			t.Error("fresh forecast reported stale")
		}
		if len(got.Values) != horizon || !got.Dates[0].Equal(start) {
			t.Fatalf("got %d values starting %v", len(got.Values), got.Dates)
		}
		for i, v := range got.Values {
			if math.IsNaN(v) || v < 100 || v > 500 {
				t.Errorf("value[%d] = %v out of range", i, v)
			}
		}
		if peak := got.Peak(2 * day); math.IsNaN(peak) || peak < got.Values[0] {
			t.Errorf("Peak() = %v", peak)
		}
	})

	t.Run("model round trips", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/models/current?series=demand")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var body struct {
			Kind     string            `json:"kind"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Kind != "gbrt" || body.Metadata["features"] == "" {
			t.Errorf("model response = %+v", body)
		}

		model, meta, err := reg.Load(ctx, store, "demand")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if meta.Params.NEstimators != 40 {
			t.Errorf("NEstimators = %d, want 40", meta.Params.NEstimators)
		}
		if model.Name() != "gbrt" {
			t.Errorf("model kind = %q", model.Name())
		}
	})
}
