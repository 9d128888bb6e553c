// Package main implements the core forecast loop orchestration.
//
// This file contains the Forecaster type which orchestrates the pipeline of
// one series:
//
//	collect → resolve split → fit (or search) → interval → extend → predict → store → publish
//
// The Forecaster runs continuously via Run(), executing Tick() at regular
// intervals. Each tick refits the model on the latest history and replaces
// the stored snapshot and the published model artifact.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/HatiCode/lagcast/cmd/forecaster/config"
	"github.com/HatiCode/lagcast/cmd/forecaster/metrics"
	"github.com/HatiCode/lagcast/pkg/adapters"
	"github.com/HatiCode/lagcast/pkg/forecast"
	"github.com/HatiCode/lagcast/pkg/frame"
	"github.com/HatiCode/lagcast/pkg/intervals"
	"github.com/HatiCode/lagcast/pkg/models"
	"github.com/HatiCode/lagcast/pkg/registry"
	"github.com/HatiCode/lagcast/pkg/scoring"
	"github.com/HatiCode/lagcast/pkg/split"
	"github.com/HatiCode/lagcast/pkg/storage"
	"github.com/HatiCode/lagcast/pkg/tuning"
)

// Forecaster orchestrates the refit and forecast loop of one series.
type Forecaster struct {
	series    config.SeriesConfig
	adapter   adapters.Adapter
	factory   models.Factory
	params    *models.Params
	store     storage.Store
	artifacts storage.ArtifactStore
	registry  *registry.Registry
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewSeriesForecaster creates a Forecaster for one series. artifacts and m
// may be nil to skip publishing and instrumentation.
func NewSeriesForecaster(
	series config.SeriesConfig,
	adapter adapters.Adapter,
	factory models.Factory,
	params *models.Params,
	store storage.Store,
	artifacts storage.ArtifactStore,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Forecaster {
	if logger == nil {
		logger = slog.Default()
	}

	return &Forecaster{
		series:    series,
		adapter:   adapter,
		factory:   factory,
		params:    params,
		store:     store,
		artifacts: artifacts,
		registry:  registry.New(),
		logger:    logger.With("series", series.Name),
		metrics:   m,
		now:       time.Now,
	}
}

// Name returns the series name.
func (f *Forecaster) Name() string {
	return f.series.Name
}

// Run executes the forecast loop at the series interval.
// Blocks until context is canceled.
func (f *Forecaster) Run(ctx context.Context) error {
	f.logger.Info("starting forecast loop",
		"interval", f.series.Every,
		"window", f.series.Window,
		"quantiles", quantileLabels(f.series.QuantileLevels),
	)

	ticker := time.NewTicker(f.series.Every)
	defer ticker.Stop()

	if err := f.Tick(ctx); err != nil {
		f.logger.Error("initial forecast tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("forecast loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := f.Tick(ctx); err != nil {
				f.logger.Error("forecast tick failed", "error", err)
			}
		}
	}
}

// Tick performs one refit and forecast cycle.
// Exported for testing purposes.
func (f *Forecaster) Tick(ctx context.Context) error {
	start := f.now()
	f.logger.Debug("starting forecast tick")

	tbl, collectDuration, err := f.collect(ctx)
	if err != nil {
		f.recordError("adapter", "collect_failed")
		return fmt.Errorf("collect: %w", err)
	}

	first, last, err := dateRange(tbl, f.series.Features.DateColumn)
	if err != nil {
		f.recordError("features", "no_dates")
		return fmt.Errorf("collect: %w", err)
	}
	bounds := f.series.Split.Resolve(first, last, f.series.Period)

	fc, fitDuration, err := f.fit(ctx, tbl, bounds)
	if err != nil {
		f.recordError("model", "fit_failed")
		return fmt.Errorf("fit: %w", err)
	}

	if method := f.series.PredictionInterval.Method; method != "" {
		band, err := fc.PredictionInterval(ctx, forecast.IntervalMethod(method), f.series.PredictionInterval.Alpha)
		if err != nil {
			f.recordError("model", "interval_failed")
			return fmt.Errorf("prediction interval: %w", err)
		}
		f.logger.Debug("estimated prediction interval", "method", method, "lower", band.Lower, "upper", band.Upper)
	}

	out, predictDuration, err := f.predict(ctx, fc, tbl, last.Add(f.series.Period))
	if err != nil {
		f.recordError("model", "predict_failed")
		return fmt.Errorf("predict: %w", err)
	}

	snapshot, err := f.snapshot(fc, out)
	if err != nil {
		f.recordError("store", "snapshot_failed")
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := f.store.Put(ctx, snapshot); err != nil {
		f.recordError("store", "put_failed")
		return fmt.Errorf("store: %w", err)
	}

	if f.artifacts != nil {
		meta := registry.Metadata{
			Params:         fc.Params(),
			Features:       fc.Features(),
			ValidationRMSE: fc.ValidationRMSE(),
			TestWAPE:       fc.TestWAPE(),
		}
		if _, err := f.registry.Publish(ctx, f.artifacts, f.series.Name, fc.Model(), meta); err != nil {
			f.recordError("registry", "publish_failed")
			return fmt.Errorf("publish: %w", err)
		}
	}

	if f.metrics != nil {
		f.metrics.SetScores(fc.ValidationRMSE(), fc.TestWAPE())
		f.metrics.SetForecastAge(0)
		if len(snapshot.Values) > 0 {
			f.metrics.SetPredictedValue(snapshot.Values[0])
		}
	}

	f.logger.Info("forecast tick complete",
		"model", snapshot.Model,
		"forecast_points", len(snapshot.Values),
		"validation_rmse", fc.ValidationRMSE(),
		"test_wape", fc.TestWAPE(),
		"collect_ms", collectDuration.Milliseconds(),
		"fit_ms", fitDuration.Milliseconds(),
		"predict_ms", predictDuration.Milliseconds(),
		"total_ms", f.now().Sub(start).Milliseconds(),
	)

	return nil
}

// collect retrieves the history window from the adapter as a table.
func (f *Forecaster) collect(ctx context.Context) (*frame.Table, time.Duration, error) {
	start := time.Now()

	df, err := f.adapter.Collect(ctx, int(f.series.Window.Seconds()))
	if err != nil {
		return nil, 0, err
	}
	if len(df.Rows) == 0 {
		return nil, 0, fmt.Errorf("%s adapter returned no rows", f.adapter.Name())
	}

	tbl, coercions := df.Table(f.series.Features.DateColumn)
	if len(coercions) > 0 {
		f.logger.Warn("coerced values to null",
			"count", len(coercions),
			"first", coercions[0].String(),
		)
	}

	duration := time.Since(start)
	if f.metrics != nil {
		f.metrics.RecordCollect(duration.Seconds())
	}

	f.logger.Info("collected history",
		"adapter", f.adapter.Name(),
		"rows", tbl.Len(),
		"window_seconds", int(f.series.Window.Seconds()),
		"duration_ms", duration.Milliseconds(),
	)

	return tbl, duration, nil
}

// fit trains a fresh forecaster, searching hyperparameters when trials are
// configured.
func (f *Forecaster) fit(ctx context.Context, tbl *frame.Table, b split.Boundaries) (*forecast.Forecaster, time.Duration, error) {
	start := time.Now()
	m := f.series.Model

	metric, err := scoring.ByName(m.Metric)
	if err != nil {
		return nil, 0, err
	}
	study := tuning.NewStudy(m.Seed, f.logger)
	if f.params != nil {
		study.Base = *f.params
	}

	fc, err := forecast.New(f.series.Features, f.factory,
		forecast.WithLogger(f.logger),
		forecast.WithSeed(m.Seed),
		forecast.WithMetric(m.Metric, metric),
		forecast.WithStudy(study),
	)
	if err != nil {
		return nil, 0, err
	}

	if m.Trials > 0 {
		res, err := fc.FitOptimize(ctx, tbl, b, m.Trials)
		if f.metrics != nil {
			f.metrics.AddTrials(len(res.Trials))
		}
		if err != nil {
			return nil, 0, err
		}
		f.logger.Info("hyperparameter search complete",
			"trials", len(res.Trials),
			"best_value", res.Best.Value,
		)
	} else if err := fc.Fit(ctx, tbl, b, f.params); err != nil {
		return nil, 0, err
	}

	duration := time.Since(start)
	if f.metrics != nil {
		f.metrics.RecordFit(duration.Seconds())
	}
	f.logger.Debug("fitted model",
		"train_start", b.TrainStart,
		"val_start", b.ValStart,
		"test_start", b.TestStart,
		"duration_ms", duration.Milliseconds(),
	)
	return fc, duration, nil
}

// quantileLabels renders levels in p-notation for logs.
func quantileLabels(levels []float64) []string {
	out := make([]string, len(levels))
	for i, q := range levels {
		out[i] = intervals.FormatQuantileLevel(q)
	}
	return out
}

// predict forecasts the horizon following the latest observation, holding
// covariates at their last observed values. Future covariate leads need rows
// past the horizon, so the table is extended by the largest lead as well.
func (f *Forecaster) predict(ctx context.Context, fc *forecast.Forecaster, tbl *frame.Table, start time.Time) (*frame.Table, time.Duration, error) {
	began := time.Now()

	cfg := fc.Config()
	steps := f.series.Horizon
	if len(cfg.FutureCovariates) > 0 {
		steps += slices.Max(cfg.CovariateLeads)
	}
	extended, err := forecast.ExtendHorizon(tbl, cfg, start, f.series.Period, steps)
	if err != nil {
		return nil, 0, err
	}
	out, err := fc.Predict(ctx, extended, start, f.series.Period, f.series.Horizon, f.series.QuantileLevels)
	if err != nil {
		return nil, 0, err
	}

	duration := time.Since(began)
	if f.metrics != nil {
		f.metrics.RecordPredict(duration.Seconds())
	}
	f.logger.Debug("predicted forecast",
		"rows", out.Len(),
		"duration_ms", duration.Milliseconds(),
	)
	return out, duration, nil
}

// snapshot converts the Predict output into a stored snapshot.
func (f *Forecaster) snapshot(fc *forecast.Forecaster, out *frame.Table) (storage.Snapshot, error) {
	cfg := fc.Config()

	dates, err := out.Times(cfg.DateColumn)
	if err != nil {
		return storage.Snapshot{}, err
	}
	values, err := out.Floats(forecast.ForecastColumn(cfg.TargetColumn))
	if err != nil {
		return storage.Snapshot{}, err
	}

	s := storage.Snapshot{
		Series:         f.series.Name,
		Target:         cfg.TargetColumn,
		Model:          fc.Model().Name(),
		GeneratedAt:    f.now().UTC(),
		StepSeconds:    int(f.series.Period.Seconds()),
		Dates:          dates,
		Values:         values,
		ValidationRMSE: fc.ValidationRMSE(),
	}
	if wape := fc.TestWAPE(); !math.IsNaN(wape) {
		s.TestWAPE = &wape
	}

	if len(cfg.GroupColumns) > 0 {
		s.Groups = make(map[string][]string, len(cfg.GroupColumns))
		for _, g := range cfg.GroupColumns {
			values, err := out.Strings(g)
			if err != nil {
				return storage.Snapshot{}, err
			}
			s.Groups[g] = values
		}
	}

	var bands []string
	for _, q := range f.series.QuantileLevels {
		lower, upper := intervals.QuantileColumns(cfg.TargetColumn, q)
		bands = append(bands, lower, upper)
	}
	if f.series.PredictionInterval.Method != "" {
		bands = append(bands, cfg.TargetColumn+"_lower_pi", cfg.TargetColumn+"_upper_pi")
	}
	for _, name := range bands {
		if !out.Has(name) {
			continue
		}
		values, err := out.Floats(name)
		if err != nil {
			return storage.Snapshot{}, err
		}
		if s.Bands == nil {
			s.Bands = make(map[string][]float64)
		}
		s.Bands[name] = values
	}
	return s, nil
}

func (f *Forecaster) recordError(component, reason string) {
	if f.metrics != nil {
		f.metrics.RecordError(component, reason)
	}
}

// dateRange returns the earliest and latest non-null dates of the table.
func dateRange(tbl *frame.Table, dateColumn string) (first, last time.Time, err error) {
	last, err = forecast.LastDate(tbl, dateColumn)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	dates, _ := tbl.Times(dateColumn)
	first = last
	for _, d := range dates {
		if !d.IsZero() && d.Before(first) {
			first = d
		}
	}
	return first, last, nil
}
