package features

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/HatiCode/lagcast/pkg/calendar"
	"github.com/HatiCode/lagcast/pkg/frame"
	"github.com/HatiCode/lagcast/pkg/tserrors"
)

// Extractor derives a numeric calendar attribute from a timestamp.
type Extractor func(t time.Time) float64

const (
	weekOfMonth        = "week_of_month"
	isFirstWeekOfMonth = "is_first_week_of_month"
	isLastWeekOfMonth  = "is_last_week_of_month"
)

var extractorNames = []string{
	"day", "dayofweek", "dayofyear", "days_in_month", "hour",
	"is_month_end", "is_month_start", "is_quarter_end", "is_quarter_start",
	"is_year_end", "is_year_start", "minute", "month", "quarter", "second",
	"week", "weekday", "weekofyear", "year",
}

// LookupExtractor returns the extractor registered under name. Names are
// case-insensitive and "daysinmonth" is accepted for days_in_month.
func LookupExtractor(name string) (Extractor, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "year":
		return func(t time.Time) float64 { return float64(t.Year()) }, true
	case "month":
		return func(t time.Time) float64 { return float64(t.Month()) }, true
	case "day":
		return func(t time.Time) float64 { return float64(t.Day()) }, true
	case "hour":
		return func(t time.Time) float64 { return float64(t.Hour()) }, true
	case "minute":
		return func(t time.Time) float64 { return float64(t.Minute()) }, true
	case "second":
		return func(t time.Time) float64 { return float64(t.Second()) }, true
	case "dayofweek", "weekday":
		return dayOfWeek, true
	case "dayofyear":
		return func(t time.Time) float64 { return float64(t.YearDay()) }, true
	case "quarter":
		return func(t time.Time) float64 { return float64((int(t.Month())-1)/3 + 1) }, true
	case "week", "weekofyear":
		return isoWeek, true
	case "days_in_month", "daysinmonth":
		return func(t time.Time) float64 { return float64(daysIn(t)) }, true
	case "is_month_start":
		return func(t time.Time) float64 { return boolFloat(t.Day() == 1) }, true
	case "is_month_end":
		return func(t time.Time) float64 { return boolFloat(t.Day() == daysIn(t)) }, true
	case "is_quarter_start":
		return func(t time.Time) float64 {
			return boolFloat(t.Day() == 1 && (int(t.Month())-1)%3 == 0)
		}, true
	case "is_quarter_end":
		return func(t time.Time) float64 {
			return boolFloat(t.Day() == daysIn(t) && int(t.Month())%3 == 0)
		}, true
	case "is_year_start":
		return func(t time.Time) float64 { return boolFloat(t.YearDay() == 1) }, true
	case "is_year_end":
		return func(t time.Time) float64 {
			return boolFloat(t.Month() == time.December && t.Day() == 31)
		}, true
	default:
		return nil, false
	}
}

// ExtractorNames lists the registered extractor names in sorted order.
func ExtractorNames() []string {
	return append([]string(nil), extractorNames...)
}

func dayOfWeek(t time.Time) float64 {
	return float64((int(t.Weekday()) + 6) % 7)
}

func isoWeek(t time.Time) float64 {
	_, w := t.ISOWeek()
	return float64(w)
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func isComposite(name string) bool {
	switch name {
	case weekOfMonth, isFirstWeekOfMonth, isLastWeekOfMonth:
		return true
	}
	return false
}

// applyDateFeature adds one configured date feature column to tbl.
func applyDateFeature(tbl *frame.Table, dateCol string, df DateFeature) error {
	dates, err := tbl.Times(dateCol)
	if err != nil {
		return err
	}

	switch df.Name {
	case weekOfMonth:
		return addWeekOfMonth(tbl, dates)
	case isFirstWeekOfMonth, isLastWeekOfMonth:
		if !tbl.Has(weekOfMonth) {
			if err := addWeekOfMonth(tbl, dates); err != nil {
				return err
			}
		}
		return addWeekOfMonthFlag(tbl, df.Name)
	}

	extract, ok := LookupExtractor(df.extractor())
	if !ok {
		return fmt.Errorf("%w: unknown date extractor %q", tserrors.ErrInputSchema, df.extractor())
	}
	out := make([]float64, len(dates))
	for i, d := range dates {
		out[i] = extract(d)
	}
	return tbl.SetFloats(df.Name, out)
}

type monthKey struct {
	year, month float64
}

// addWeekOfMonth ranks each row's week start within its (year, month). The
// year and month columns must already exist.
func addWeekOfMonth(tbl *frame.Table, dates []time.Time) error {
	years, month, err := yearMonth(tbl)
	if err != nil {
		return fmt.Errorf("week_of_month: %w", err)
	}

	weekStart := make([]time.Time, len(dates))
	for i, d := range dates {
		weekStart[i] = calendar.WeekStart(d)
	}
	if err := tbl.SetTimes(WeekStartColumn, weekStart); err != nil {
		return err
	}

	weeks := make(map[monthKey][]time.Time)
	for i := range dates {
		k := monthKey{years[i], month[i]}
		if !containsTime(weeks[k], weekStart[i]) {
			weeks[k] = append(weeks[k], weekStart[i])
		}
	}
	for k := range weeks {
		ws := weeks[k]
		sort.SliceStable(ws, func(a, b int) bool { return ws[a].Before(ws[b]) })
	}

	out := make([]float64, len(dates))
	for i := range dates {
		ws := weeks[monthKey{years[i], month[i]}]
		out[i] = float64(indexTime(ws, weekStart[i]) + 1)
	}
	return tbl.SetFloats(weekOfMonth, out)
}

func addWeekOfMonthFlag(tbl *frame.Table, name string) error {
	years, month, err := yearMonth(tbl)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	wom, err := tbl.Floats(weekOfMonth)
	if err != nil {
		return err
	}

	maxWeek := make(map[monthKey]float64)
	for i := range wom {
		k := monthKey{years[i], month[i]}
		maxWeek[k] = math.Max(maxWeek[k], wom[i])
	}

	out := make([]float64, len(wom))
	for i := range wom {
		want := 1.0
		if name == isLastWeekOfMonth {
			want = maxWeek[monthKey{years[i], month[i]}]
		}
		out[i] = boolFloat(wom[i] == want)
	}
	return tbl.SetFloats(name, out)
}

func yearMonth(tbl *frame.Table) ([]float64, []float64, error) {
	if !tbl.Has("year") || !tbl.Has("month") {
		return nil, nil, fmt.Errorf("%w: year and month date features must be configured first", tserrors.ErrInputSchema)
	}
	years, err := tbl.Floats("year")
	if err != nil {
		return nil, nil, err
	}
	months, err := tbl.Floats("month")
	if err != nil {
		return nil, nil, err
	}
	return years, months, nil
}

func containsTime(ts []time.Time, t time.Time) bool {
	return indexTime(ts, t) >= 0
}

func indexTime(ts []time.Time, t time.Time) int {
	for i, v := range ts {
		if v.Equal(t) {
			return i
		}
	}
	return -1
}
