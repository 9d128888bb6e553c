package forecast

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/HatiCode/lagcast/pkg/features"
	"github.com/HatiCode/lagcast/pkg/frame"
	"github.com/HatiCode/lagcast/pkg/tserrors"
)

// LastDate returns the latest non-null date in the table.
func LastDate(tbl *frame.Table, dateColumn string) (time.Time, error) {
	dates, err := tbl.Times(dateColumn)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", tserrors.ErrInputSchema, err)
	}
	var last time.Time
	for _, d := range dates {
		if d.After(last) {
			last = d
		}
	}
	if last.IsZero() {
		return time.Time{}, fmt.Errorf("%w: column %q has no dates", tserrors.ErrInputSchema, dateColumn)
	}
	return last, nil
}

// ExtendHorizon returns a copy of tbl holding a row for every step date and
// group that Predict will visit. Missing rows get a null target and carry
// the group's latest values for every other column, so covariates are held
// at their last observation. Column kinds of tbl are preserved. Dates are
// matched by instant, so existing rows in any location are reused.
func ExtendHorizon(tbl *frame.Table, cfg features.Config, start time.Time, period time.Duration, horizon int) (*frame.Table, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("horizon must be >= 1, got %d", horizon)
	}
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %s", period)
	}
	if tbl == nil || tbl.Len() == 0 {
		return nil, fmt.Errorf("%w: cannot extend an empty table", tserrors.ErrInputSchema)
	}
	if _, err := tbl.Times(cfg.DateColumn); err != nil {
		return nil, fmt.Errorf("%w: %v", tserrors.ErrInputSchema, err)
	}

	records := tbl.Records()

	type group struct {
		last  map[string]any
		date  time.Time
		dates map[time.Time]bool
	}
	groups := make(map[string]*group)
	var keys []string
	for _, rec := range records {
		key := groupKey(rec, cfg.GroupColumns)
		g, ok := groups[key]
		if !ok {
			g = &group{dates: make(map[time.Time]bool)}
			groups[key] = g
			keys = append(keys, key)
		}
		d, _ := rec[cfg.DateColumn].(time.Time)
		g.dates[d.UTC()] = true
		if g.last == nil || !d.Before(g.date) {
			g.last, g.date = rec, d
		}
	}
	sort.Strings(keys)

	added := 0
	for i := 0; i < horizon; i++ {
		date := start.Add(time.Duration(i) * period).UTC()
		for _, key := range keys {
			g := groups[key]
			if g.dates[date] {
				continue
			}
			rec := make(map[string]any, len(g.last))
			for k, v := range g.last {
				rec[k] = v
			}
			rec[cfg.DateColumn] = date
			rec[cfg.TargetColumn] = nil
			records = append(records, rec)
			g.dates[date] = true
			added++
		}
	}
	if added == 0 {
		return tbl.Clone(), nil
	}

	var timeColumns []string
	for _, name := range tbl.Names() {
		if c, _ := tbl.Column(name); c.Kind == frame.Time {
			timeColumns = append(timeColumns, name)
		}
	}
	out, coercions := frame.FromRecords(records, timeColumns...)
	if len(coercions) > 0 {
		return nil, fmt.Errorf("%w: extending horizon: %d values could not be coerced, first: %s",
			tserrors.ErrInputSchema, len(coercions), coercions[0])
	}
	for _, name := range tbl.Names() {
		c, _ := tbl.Column(name)
		if c.Kind == frame.String {
			if err := out.CoerceStrings(name); err != nil {
				return nil, err
			}
		}
	}
	return out.Select(tbl.Names()...)
}

func groupKey(rec map[string]any, groupColumns []string) string {
	if len(groupColumns) == 0 {
		return ""
	}
	parts := make([]string, len(groupColumns))
	for i, g := range groupColumns {
		parts[i] = fmt.Sprint(rec[g])
	}
	return strings.Join(parts, "\x1f")
}
