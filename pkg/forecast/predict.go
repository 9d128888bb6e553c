package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/HatiCode/lagcast/pkg/features"
	"github.com/HatiCode/lagcast/pkg/frame"
	"github.com/HatiCode/lagcast/pkg/intervals"
	"github.com/HatiCode/lagcast/pkg/tserrors"
)

// ForecastColumn returns the name of the point forecast column.
func ForecastColumn(target string) string {
	return target + "_forecast"
}

// Predict forecasts horizon steps spaced period apart, starting at start.
//
// tbl must already hold a row for every step date (and group), with the
// target left null and any future covariates filled in. Steps run strictly
// in order: each step re-derives the features from a private copy of tbl in
// which the earlier steps' forecasts have replaced the target, so lag
// features see forecasts rather than missing values.
//
// The result has one row per step and group with the date, the group
// columns, {target}_forecast, and for every quantile level q the pair
// {target}_{1-q}th_pc and {target}_{q}th_pc holding the forecast minus and
// plus z(q) times the validation RMSE.
func (f *Forecaster) Predict(ctx context.Context, tbl *frame.Table, start time.Time, period time.Duration, horizon int, quantiles []float64) (*frame.Table, error) {
	if !f.Fitted() {
		return nil, fmt.Errorf("%w: predict called before fit", tserrors.ErrModelState)
	}
	if horizon < 1 {
		return nil, fmt.Errorf("horizon must be >= 1, got %d", horizon)
	}
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %s", period)
	}
	if tbl == nil {
		return nil, fmt.Errorf("%w: table is nil", tserrors.ErrInputSchema)
	}

	bands, err := f.quantileBands(quantiles)
	if err != nil {
		return nil, err
	}

	work := tbl.Clone()
	for _, g := range f.cfg.GroupColumns {
		if err := work.CoerceStrings(g); err != nil {
			return nil, fmt.Errorf("%w: group column %q: %v", tserrors.ErrInputSchema, g, err)
		}
	}
	target, ok := work.Column(f.cfg.TargetColumn)
	if !ok || target.Kind != frame.Float {
		return nil, fmt.Errorf("%w: target column %q not found or not numeric", tserrors.ErrInputSchema, f.cfg.TargetColumn)
	}

	out := newResult(f.cfg, bands, f.band)
	for i := 0; i < horizon; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		date := start.Add(time.Duration(i) * period)

		ds, err := f.prepare(work)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		rows := ds.Where(func(j int) bool { return ds.Dates[j].Equal(date) })
		if len(rows) == 0 {
			return nil, fmt.Errorf("%w: no complete feature row for %s", tserrors.ErrInputSchema, date.Format(time.RFC3339))
		}
		step := ds.Subset(rows)

		pred, err := f.model.Predict(ctx, step.X)
		if err != nil {
			return nil, fmt.Errorf("step %d: predict: %w", i+1, err)
		}
		if len(pred) != len(rows) {
			return nil, fmt.Errorf("step %d: model returned %d predictions for %d rows", i+1, len(pred), len(rows))
		}
		pred = step.Retrend(pred)

		for k, row := range step.Rows {
			target.Floats[row] = pred[k]
			if err := out.add(work, row, date, pred[k]); err != nil {
				return nil, err
			}
		}
		f.logger.Debug("forecast step", "step", i+1, "date", date.Format(time.DateOnly), "rows", len(rows))
	}

	return out.table()
}

func (f *Forecaster) prepare(tbl *frame.Table) (*features.Dataset, error) {
	b, err := features.NewBuilder(tbl, f.cfg, f.logger)
	if err != nil {
		return nil, err
	}
	b.UseCategories(f.categories)
	return b.Prepare()
}

type quantileBand struct {
	lower, upper string
	band         intervals.Band
}

func (f *Forecaster) quantileBands(quantiles []float64) ([]quantileBand, error) {
	var out []quantileBand
	seen := make(map[string]bool)
	for _, q := range quantiles {
		if err := intervals.CheckBandLevel(q); err != nil {
			return nil, fmt.Errorf("%w: %v", tserrors.ErrInputSchema, err)
		}
		band, err := intervals.NormalBand(f.valRMSE, q)
		if err != nil {
			return nil, fmt.Errorf("quantile %v: %w", q, err)
		}
		lower, upper := intervals.QuantileColumns(f.cfg.TargetColumn, q)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, quantileBand{lower: lower, upper: upper, band: band})
	}
	return out, nil
}

// result accumulates the Predict output column by column.
type result struct {
	cfg      features.Config
	bands    []quantileBand
	pi       *intervals.Band
	dates    []time.Time
	groups   [][]string
	forecast []float64
	lower    [][]float64
	upper    [][]float64
	piLower  []float64
	piUpper  []float64
}

func newResult(cfg features.Config, bands []quantileBand, pi *intervals.Band) *result {
	return &result{
		cfg:    cfg,
		bands:  bands,
		pi:     pi,
		groups: make([][]string, len(cfg.GroupColumns)),
		lower:  make([][]float64, len(bands)),
		upper:  make([][]float64, len(bands)),
	}
}

func (r *result) add(work *frame.Table, row int, date time.Time, forecast float64) error {
	r.dates = append(r.dates, date)
	for g, name := range r.cfg.GroupColumns {
		values, err := work.Strings(name)
		if err != nil {
			return err
		}
		r.groups[g] = append(r.groups[g], values[row])
	}
	r.forecast = append(r.forecast, forecast)
	for q, b := range r.bands {
		lo, hi := b.band.Apply(forecast)
		r.lower[q] = append(r.lower[q], lo)
		r.upper[q] = append(r.upper[q], hi)
	}
	if r.pi != nil {
		lo, hi := r.pi.Apply(forecast)
		r.piLower = append(r.piLower, lo)
		r.piUpper = append(r.piUpper, hi)
	}
	return nil
}

func (r *result) table() (*frame.Table, error) {
	out := frame.New()
	if err := out.SetTimes(r.cfg.DateColumn, r.dates); err != nil {
		return nil, err
	}
	for g, name := range r.cfg.GroupColumns {
		if err := out.SetStrings(name, r.groups[g]); err != nil {
			return nil, err
		}
	}
	target := r.cfg.TargetColumn
	if err := out.SetFloats(ForecastColumn(target), r.forecast); err != nil {
		return nil, err
	}
	for q, b := range r.bands {
		if err := out.SetFloats(b.lower, r.lower[q]); err != nil {
			return nil, err
		}
		if err := out.SetFloats(b.upper, r.upper[q]); err != nil {
			return nil, err
		}
	}
	if r.pi != nil {
		if err := out.SetFloats(target+"_lower_pi", r.piLower); err != nil {
			return nil, err
		}
		if err := out.SetFloats(target+"_upper_pi", r.piUpper); err != nil {
			return nil, err
		}
	}
	return out, nil
}
