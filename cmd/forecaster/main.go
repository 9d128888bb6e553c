// Command forecaster implements the lagcast forecast engine.
//
// For every configured series the forecaster runs a loop that:
//  1. Collects the history window from a data adapter
//  2. Derives lag, covariate, calendar, Fourier and trend features
//  3. Fits a regressor on the train split with early stopping on the
//     validation split, optionally after a hyperparameter search
//  4. Forecasts the horizon recursively and attaches quantile and
//     prediction-interval bands
//  5. Stores the forecast snapshot and publishes the fitted model
//
// The forecaster serves an HTTP API on port 8081 (configurable) providing:
//   - GET /forecast/current?series=<name> - Retrieve latest forecast snapshot
//   - GET /models/current?series=<name> - Describe the latest published model
//   - GET /healthz - Health check endpoint
//   - GET /metrics - Prometheus metrics endpoint
//
// Usage:
//
//	forecaster -pipeline-file=/etc/lagcast/pipeline.yaml
//
//	ADAPTER_PATH=/data/sales.csv forecaster \
//	  -series=sales -adapter=csv \
//	  -date-column=date -target-column=sales \
//	  -lags=1,7,14 -period=24h -horizon=14 -trials=30
//
// Environment variables:
//
//	PIPELINE_FILE  - YAML file describing the series to forecast
//	SERIES         - Series name (single-series mode)
//	ADAPTER        - Adapter type: prometheus, victoriametrics, http, csv
//	ADAPTER_*      - Adapter settings (ADAPTER_QUERY, ADAPTER_PATH, ...)
//	PERIOD         - Spacing between forecast steps (default: 24h)
//	HORIZON        - Number of steps to forecast (default: 14)
//	INTERVAL       - Refit and forecast interval (default: 24h)
//	TRIALS         - Hyperparameter search trials (default: 0)
//	STORAGE        - Storage backend: memory, redis (default: memory)
//	LOG_LEVEL      - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT     - Logging format: text, json (default: text)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/HatiCode/lagcast/cmd/forecaster/config"
	"github.com/HatiCode/lagcast/cmd/forecaster/logger"
	"github.com/HatiCode/lagcast/cmd/forecaster/metrics"
	"github.com/HatiCode/lagcast/cmd/forecaster/models"
	"github.com/HatiCode/lagcast/cmd/forecaster/router"
	"github.com/HatiCode/lagcast/cmd/forecaster/store"
	"github.com/HatiCode/lagcast/pkg/adapters"
	"github.com/HatiCode/lagcast/pkg/httpx"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	series, err := config.LoadSeries(cfg)
	if err != nil {
		logger.Error("invalid series configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("starting lagcast forecaster",
		"version", version,
		"series", len(series),
		"storage", cfg.Storage,
	)

	backend, err := store.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	client, err := httpx.NewClient(cfg.TLS, 30*time.Second)
	if err != nil {
		logger.Error("failed to create HTTP client", "error", err)
		os.Exit(1)
	}

	forecasters := make([]*Forecaster, 0, len(series))
	var minInterval time.Duration
	for _, sc := range series {
		adapter, err := buildAdapter(sc, client)
		if err != nil {
			logger.Error("failed to create adapter", "series", sc.Name, "error", err)
			os.Exit(1)
		}
		factory, params := models.New(sc, client, logger)
		m := metrics.New(sc.Name, adapter.Name(), sc.Model.Kind)

		forecasters = append(forecasters, NewSeriesForecaster(sc, adapter, factory, params, backend, backend, logger, m))
		if minInterval == 0 || sc.Every < minInterval {
			minInterval = sc.Every
		}
	}

	staleAfter := 2 * minInterval // Snapshot is stale if older than 2x the interval
	mux := router.SetupRoutes(backend, backend, staleAfter, logger)
	handler := httpx.Chain(mux, httpx.Recovery(logger), httpx.Logging(logger))
	httpServer := httpx.NewServer(cfg.Listen, handler, logger)
	if cfg.TLS.Enabled {
		if err := httpServer.EnableTLS(cfg.TLS); err != nil {
			logger.Error("failed to configure TLS", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var wg sync.WaitGroup
	for _, f := range forecasters {
		wg.Add(1)
		go func(f *Forecaster) {
			defer wg.Done()
			if err := f.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("forecast loop failed", "series", f.Name(), "error", err)
			}
		}(f)
	}

	serverErr := httpServer.Run(ctx, 10*time.Second)
	if serverErr != nil {
		logger.Error("server failed", "error", serverErr)
	}

	logger.Info("shutting down")
	stop()
	wg.Wait()

	if serverErr != nil {
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// buildAdapter creates the adapter of a series. Range queries use the
// series period as their step. Remote adapters share client.
func buildAdapter(sc config.SeriesConfig, client *http.Client) (adapters.Adapter, error) {
	a, err := adapters.New(sc.Adapter.Kind, sc.Adapter.Config, int(sc.Period.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("series %s: %w", sc.Name, err)
	}
	if client == nil {
		return a, nil
	}
	switch a := a.(type) {
	case *adapters.PrometheusAdapter:
		a.HTTPClient = client
	case *adapters.VictoriaMetricsAdapter:
		a.HTTPClient = client
	case *adapters.HTTPAdapter:
		a.HTTPClient = client
	}
	return a, nil
}
