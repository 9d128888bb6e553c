package features

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/HatiCode/lagcast/pkg/frame"
	"github.com/HatiCode/lagcast/pkg/tserrors"
)

// Builder derives features from a private copy of a source table. The
// caller's table is never modified.
type Builder struct {
	cfg    Config
	tbl    *frame.Table
	rows   []int
	levels map[string][]string
	logger *slog.Logger
}

// NewBuilder validates cfg against tbl, deep-copies the table, coerces the
// date column to timestamps and the group columns to categories, and sorts
// the copy by date.
//
// Values that cannot be coerced become nulls and are logged at WARN level.
// Rows with a null date are dropped.
func NewBuilder(tbl *frame.Table, cfg Config, logger *slog.Logger) (*Builder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tbl == nil {
		return nil, fmt.Errorf("%w: table is nil", tserrors.ErrInputSchema)
	}

	for _, name := range requiredColumns(cfg) {
		if !tbl.Has(name) {
			return nil, fmt.Errorf("%w: column %q not found", tserrors.ErrInputSchema, name)
		}
	}
	if _, err := tbl.Floats(cfg.TargetColumn); err != nil {
		return nil, fmt.Errorf("target column: %w", err)
	}

	work := tbl.Clone()
	coercions, err := work.CoerceTimes(cfg.DateColumn)
	if err != nil {
		return nil, err
	}
	logCoercions(logger, coercions)

	for _, g := range cfg.GroupColumns {
		if err := work.CoerceStrings(g); err != nil {
			logger.Warn("group column could not be made categorical", "column", g, "error", err)
		}
	}

	dates, err := work.Times(cfg.DateColumn)
	if err != nil {
		return nil, err
	}
	valid := make([]int, 0, len(dates))
	for i, d := range dates {
		if !d.IsZero() {
			valid = append(valid, i)
		}
	}
	if dropped := len(dates) - len(valid); dropped > 0 {
		logger.Warn("dropping rows with unparseable dates", "column", cfg.DateColumn, "rows", dropped)
	}

	order := frame.StableOrder(len(valid), func(a, b int) bool {
		return dates[valid[a]].Before(dates[valid[b]])
	})
	rows := make([]int, len(order))
	for i, o := range order {
		rows[i] = valid[o]
	}

	return &Builder{
		cfg:    cfg,
		tbl:    work.Take(rows),
		rows:   rows,
		logger: logger,
	}, nil
}

// Config returns the effective configuration with defaults applied.
func (b *Builder) Config() Config {
	return b.cfg
}

// UseCategories fixes the category levels used to encode string columns, so
// codes stay stable between the dataset a model was trained on and later
// datasets. Values missing from the levels are encoded as NaN.
func (b *Builder) UseCategories(levels map[string][]string) {
	b.levels = levels
}

func requiredColumns(cfg Config) []string {
	cols := []string{cfg.DateColumn, cfg.TargetColumn}
	cols = append(cols, cfg.GroupColumns...)
	cols = append(cols, cfg.StaticCovariates...)
	cols = append(cols, cfg.PastCovariates...)
	cols = append(cols, cfg.FutureCovariates...)
	return cols
}

func logCoercions(logger *slog.Logger, coercions []frame.Coercion) {
	if len(coercions) == 0 {
		return
	}
	logger.Warn("values could not be coerced and were set to null",
		"count", len(coercions),
		"first", coercions[0].String(),
	)
	for _, c := range coercions {
		logger.Debug("coercion failed", "column", c.Column, "row", c.Row, "value", c.Value, "reason", c.Reason)
	}
}

// Prepare runs the feature pipeline and returns the flattened dataset. It
// may be called repeatedly; each call works on a fresh copy.
func (b *Builder) Prepare() (*Dataset, error) {
	work := b.tbl.Clone()
	derived := []string{b.cfg.DateColumn}

	for _, df := range b.cfg.DateFeatures {
		before := work.Names()
		if err := applyDateFeature(work, b.cfg.DateColumn, df); err != nil {
			return nil, err
		}
		derived = append(derived, added(before, work.Names())...)
	}

	groups, err := b.groupIndex(work)
	if err != nil {
		return nil, err
	}

	names, err := b.addTargetLags(work, groups)
	if err != nil {
		return nil, err
	}
	derived = append(derived, names...)

	var drop []string
	if len(b.cfg.PastCovariates) > 0 {
		names, err := addShifted(work, groups, b.cfg.PastCovariates, b.cfg.CovariateLags, "lag", 1)
		if err != nil {
			return nil, err
		}
		derived = append(derived, names...)
		drop = append(drop, b.cfg.PastCovariates...)
	}
	if len(b.cfg.FutureCovariates) > 0 {
		names, err := addShifted(work, groups, b.cfg.FutureCovariates, b.cfg.CovariateLeads, "lead", -1)
		if err != nil {
			return nil, err
		}
		derived = append(derived, names...)
		drop = append(drop, b.cfg.FutureCovariates...)
	}

	if len(b.cfg.SeasonalPeriods) > 0 {
		names, err := addFourier(work, b.cfg.SeasonalPeriods, b.cfg.SeasonalOrder)
		if err != nil {
			return nil, err
		}
		derived = append(derived, names...)
	}

	if b.cfg.SeasonalTrend {
		if err := addTrend(work, b.cfg.TargetColumn, b.cfg.TrendOrder); err != nil {
			return nil, err
		}
		derived = append(derived, TrendColumn)
	}

	work.Drop(uniq(drop)...)
	b.logger.Debug("derived feature columns", "count", len(derived), "dropped", len(drop))

	keep := completeRows(work, b.cfg.TargetColumn)
	if len(keep) < work.Len() {
		b.logger.Debug("dropped rows with unresolved features", "rows", work.Len()-len(keep))
	}
	flat := work.Take(keep)
	source := make([]int, len(keep))
	for i, k := range keep {
		source[i] = b.rows[k]
	}

	return b.flatten(flat, source)
}

// groupIndex returns the row positions of each group in date order. Without
// group columns there is a single group holding every row.
func (b *Builder) groupIndex(tbl *frame.Table) ([][]int, error) {
	n := tbl.Len()
	if len(b.cfg.GroupColumns) == 0 {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return [][]int{all}, nil
	}

	keys := make([][]string, len(b.cfg.GroupColumns))
	for j, g := range b.cfg.GroupColumns {
		vals, err := tbl.Strings(g)
		if err != nil {
			return nil, fmt.Errorf("group column: %w", err)
		}
		keys[j] = vals
	}

	index := make(map[string]int)
	var groups [][]int
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.Reset()
		for j := range keys {
			if j > 0 {
				sb.WriteByte(0x1f)
			}
			sb.WriteString(keys[j][i])
		}
		k := sb.String()
		g, ok := index[k]
		if !ok {
			g = len(groups)
			index[k] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups, nil
}

func (b *Builder) addTargetLags(tbl *frame.Table, groups [][]int) ([]string, error) {
	target, err := tbl.Floats(b.cfg.TargetColumn)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, lag := range b.cfg.Lags {
		lagged := nanSlice(len(target))
		rolled := nanSlice(len(target))
		for _, pos := range groups {
			for k, row := range pos {
				if k >= lag {
					lagged[row] = target[pos[k-lag]]
					rolled[row] = trailingMean(target, pos, k, lag)
				}
			}
		}

		lagName := fmt.Sprintf("%s_lag_%d", b.cfg.TargetColumn, lag)
		rollName := fmt.Sprintf("%s_roll_%d", b.cfg.TargetColumn, lag)
		if err := tbl.SetFloats(lagName, lagged); err != nil {
			return nil, err
		}
		if err := tbl.SetFloats(rollName, rolled); err != nil {
			return nil, err
		}
		names = append(names, lagName, rollName)
	}
	return names, nil
}

// trailingMean averages the window values strictly before position k in the
// group. Any null in the window yields NaN.
func trailingMean(values []float64, pos []int, k, window int) float64 {
	var sum float64
	for j := 1; j <= window; j++ {
		v := values[pos[k-j]]
		if math.IsNaN(v) {
			return math.NaN()
		}
		sum += v
	}
	return sum / float64(window)
}

// addShifted adds {col}_{suffix}_{offset} for every column and offset.
// direction 1 looks back (lag), -1 looks ahead (lead).
func addShifted(tbl *frame.Table, groups [][]int, cols []string, offsets []int, suffix string, direction int) ([]string, error) {
	var names []string
	for _, col := range cols {
		src, ok := tbl.Column(col)
		if !ok {
			return nil, fmt.Errorf("%w: covariate %q not found", tserrors.ErrInputSchema, col)
		}
		for _, off := range offsets {
			idx := make([]int, tbl.Len())
			for i := range idx {
				idx[i] = -1
			}
			for _, pos := range groups {
				for k, row := range pos {
					from := k - direction*off
					if from >= 0 && from < len(pos) {
						idx[row] = pos[from]
					}
				}
			}
			shifted := shiftColumn(src, idx)
			shifted.Name = fmt.Sprintf("%s_%s_%d", col, suffix, off)
			if err := tbl.Set(shifted); err != nil {
				return nil, err
			}
			names = append(names, shifted.Name)
		}
	}
	return names, nil
}

// shiftColumn gathers src at idx. A negative index produces a null.
func shiftColumn(src *frame.Column, idx []int) *frame.Column {
	out := &frame.Column{Kind: src.Kind}
	switch src.Kind {
	case frame.Time:
		out.Times = make([]time.Time, len(idx))
		for i, j := range idx {
			if j >= 0 {
				out.Times[i] = src.Times[j]
			}
		}
	case frame.String:
		out.Strings = make([]string, len(idx))
		for i, j := range idx {
			if j >= 0 {
				out.Strings[i] = src.Strings[j]
			}
		}
	default:
		out.Floats = nanSlice(len(idx))
		for i, j := range idx {
			if j >= 0 {
				out.Floats[i] = src.Floats[j]
			}
		}
	}
	return out
}

// addFourier appends sin and cos harmonics 1..order for each period, using
// the 1-based row position as the time index.
func addFourier(tbl *frame.Table, periods []int, order int) ([]string, error) {
	n := tbl.Len()
	var names []string
	for _, p := range periods {
		for k := 1; k <= order; k++ {
			sin := make([]float64, n)
			cos := make([]float64, n)
			for i := 0; i < n; i++ {
				arg := 2 * math.Pi * float64(k) * float64(i+1) / float64(p)
				sin[i] = math.Sin(arg)
				cos[i] = math.Cos(arg)
			}
			sinName := "fourier_sin_" + strconv.Itoa(p) + "_" + strconv.Itoa(k)
			cosName := "fourier_cos_" + strconv.Itoa(p) + "_" + strconv.Itoa(k)
			if err := tbl.SetFloats(sinName, sin); err != nil {
				return nil, err
			}
			if err := tbl.SetFloats(cosName, cos); err != nil {
				return nil, err
			}
			names = append(names, sinName, cosName)
		}
	}
	return names, nil
}

// addTrend fits target ~ b0 + b1*t^order by least squares over rows with a
// positive target, stores the fitted trend for every row, and divides the
// target by it.
func addTrend(tbl *frame.Table, targetCol string, order int) error {
	target, err := tbl.Floats(targetCol)
	if err != nil {
		return err
	}

	var ts, ys []float64
	for i, y := range target {
		if y > 0 {
			ts = append(ts, math.Pow(float64(i+1), float64(order)))
			ys = append(ys, y)
		}
	}
	if len(ys) < 2 {
		return fmt.Errorf("%w: trend needs at least 2 positive target values, got %d",
			tserrors.ErrNumericDegeneracy, len(ys))
	}

	design := mat.NewDense(len(ys), 2, nil)
	for i, t := range ts {
		design.Set(i, 0, 1)
		design.Set(i, 1, t)
	}
	var beta mat.VecDense
	if err := beta.SolveVec(design, mat.NewVecDense(len(ys), ys)); err != nil {
		return fmt.Errorf("%w: trend fit: %v", tserrors.ErrNumericDegeneracy, err)
	}

	trend := make([]float64, len(target))
	detrended := make([]float64, len(target))
	for i := range target {
		trend[i] = beta.AtVec(0) + beta.AtVec(1)*math.Pow(float64(i+1), float64(order))
		if trend[i] == 0 {
			return fmt.Errorf("%w: trend is zero at row %d", tserrors.ErrNumericDegeneracy, i)
		}
		detrended[i] = target[i] / trend[i]
	}

	if err := tbl.SetFloats(TrendColumn, trend); err != nil {
		return err
	}
	return tbl.SetFloats(targetCol, detrended)
}

// completeRows returns the rows with no null in any column except target.
// A null target is kept so that rows awaiting a forecast survive.
func completeRows(tbl *frame.Table, target string) []int {
	var cols []*frame.Column
	for _, name := range tbl.Names() {
		if name == target {
			continue
		}
		c, _ := tbl.Column(name)
		cols = append(cols, c)
	}

	keep := make([]int, 0, tbl.Len())
rows:
	for i := 0; i < tbl.Len(); i++ {
		for _, c := range cols {
			if c.IsNull(i) {
				continue rows
			}
		}
		keep = append(keep, i)
	}
	return keep
}

func (b *Builder) flatten(tbl *frame.Table, source []int) (*Dataset, error) {
	ds := &Dataset{
		Index:      frame.New(),
		Rows:       source,
		Categories: make(map[string][]string),
	}

	var err error
	if ds.Y, err = tbl.Floats(b.cfg.TargetColumn); err != nil {
		return nil, err
	}
	if ds.Dates, err = tbl.Times(b.cfg.DateColumn); err != nil {
		return nil, err
	}
	if tbl.Has(TrendColumn) {
		if ds.Trend, err = tbl.Floats(TrendColumn); err != nil {
			return nil, err
		}
	}

	var columns [][]float64
	for _, name := range tbl.Names() {
		c, _ := tbl.Column(name)
		switch {
		case name == b.cfg.TargetColumn || name == TrendColumn:
			continue
		case c.Kind == frame.Time:
			if err := ds.Index.Set(c); err != nil {
				return nil, err
			}
			continue
		case c.Kind == frame.String:
			levels, ok := b.levels[name]
			if !ok {
				levels = sortedLevels(c.Strings)
			}
			ds.Categories[name] = levels
			columns = append(columns, encode(c.Strings, levels))
		default:
			columns = append(columns, c.Floats)
		}
		ds.Features = append(ds.Features, name)
	}

	ds.X = make([][]float64, tbl.Len())
	for i := range ds.X {
		row := make([]float64, len(columns))
		for j, col := range columns {
			row[j] = col[i]
		}
		ds.X[i] = row
	}
	return ds, nil
}

func sortedLevels(values []string) []string {
	seen := make(map[string]bool)
	var levels []string
	for _, v := range values {
		if v != "" && !seen[v] {
			seen[v] = true
			levels = append(levels, v)
		}
	}
	sort.Strings(levels)
	return levels
}

func encode(values, levels []string) []float64 {
	code := make(map[string]float64, len(levels))
	for i, l := range levels {
		code[l] = float64(i)
	}
	out := make([]float64, len(values))
	for i, v := range values {
		c, ok := code[v]
		if !ok {
			c = math.NaN()
		}
		out[i] = c
	}
	return out
}

func added(before, after []string) []string {
	had := make(map[string]bool, len(before))
	for _, n := range before {
		had[n] = true
	}
	var out []string
	for _, n := range after {
		if !had[n] {
			out = append(out, n)
		}
	}
	return out
}

func uniq(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
