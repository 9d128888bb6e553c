// Package calendar builds a daily date spine annotated with calendar,
// fiscal-calendar and holiday attributes.
//
// The spine is meant to be joined onto business time series so that models
// can use fiscal periods and holidays as features. Output is deterministic:
// the same arguments always produce the same table.
//
// Columns produced (one row per calendar day):
//   - date, week_start_date (Monday of the week ending Sunday)
//   - weekday, day_of_week (Monday=0), day_of_year, week_of_year (ISO)
//   - month_of_year, month_name, quarter_of_year, half_of_year, year
//   - financial_day_of_year, financial_week_of_year, financial_month_of_year,
//     financial_quarter_of_year, financial_half_of_year, financial_year
//   - is_bank_holiday (only when a holiday table is supplied)
//
// The financial year is labelled by the calendar year it ends in, so with a
// fiscal start month of April, 2021-04-01 belongs to financial year 2022.
package calendar

import (
	"fmt"
	"time"

	"github.com/HatiCode/lagcast/pkg/frame"
	"github.com/HatiCode/lagcast/pkg/tserrors"
)

const day = 24 * time.Hour

type options struct {
	trimPartialYears bool
}

// Option configures Build.
type Option func(*options)

// WithPartialYearsTrimmed drops the first and last financial year present in
// the range. Those years are usually partial, which makes their financial
// day-of-year and week-of-year counts start or stop mid-year.
func WithPartialYearsTrimmed() Option {
	return func(o *options) { o.trimPartialYears = true }
}

// Build generates one row per calendar day in [start, end]. fyStartMonth is
// the first month of the financial year (1-12). holidays maps a date to
// whether it is a holiday; dates missing from the map are not holidays. A nil
// map omits the is_bank_holiday column.
func Build(start, end time.Time, fyStartMonth int, holidays map[time.Time]bool, opts ...Option) (*frame.Table, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	start = truncateDay(start)
	end = truncateDay(end)

	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %s is before start date %s",
			tserrors.ErrInputOrdering, end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	if fyStartMonth < 1 || fyStartMonth > 12 {
		return nil, fmt.Errorf("fiscal year start month %d out of range [1, 12]", fyStartMonth)
	}

	n := int(end.Sub(start)/day) + 1
	s := newSpine(n)

	for i := 0; i < n; i++ {
		d := start.AddDate(0, 0, i)
		s.fill(i, d, fyStartMonth)
	}

	s.rankFinancialDays()
	s.rankFinancialWeeks()

	keep := make([]int, 0, n)
	minFY, maxFY := s.financialYear[0], s.financialYear[n-1]
	for i := 0; i < n; i++ {
		if o.trimPartialYears && (s.financialYear[i] == minFY || s.financialYear[i] == maxFY) {
			continue
		}
		keep = append(keep, i)
	}

	tbl, err := s.table(holidays)
	if err != nil {
		return nil, err
	}
	if len(keep) == n {
		return tbl, nil
	}
	return tbl.Take(keep), nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeekStart returns the Monday that starts the week containing t.
func WeekStart(t time.Time) time.Time {
	d := truncateDay(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// FinancialYear returns the financial year t belongs to, labelled by the
// calendar year in which that financial year ends.
func FinancialYear(t time.Time, fyStartMonth int) int {
	if fyStartMonth == 1 {
		return t.Year()
	}
	if int(t.Month()) >= fyStartMonth {
		return t.Year() + 1
	}
	return t.Year()
}

// FinancialMonth returns the 1-based month index within the financial year.
func FinancialMonth(t time.Time, fyStartMonth int) int {
	return ((int(t.Month()) + (12 - fyStartMonth)) % 12) + 1
}

type spine struct {
	date, weekStart                           []time.Time
	weekday, monthName                        []string
	dayOfWeek, dayOfYear, weekOfYear          []float64
	month, quarter, half, year                []float64
	financialDay, financialWeek               []float64
	financialMonth, financialQuarter, finHalf []float64
	financialYear                             []int
}

func newSpine(n int) *spine {
	return &spine{
		date:             make([]time.Time, n),
		weekStart:        make([]time.Time, n),
		weekday:          make([]string, n),
		monthName:        make([]string, n),
		dayOfWeek:        make([]float64, n),
		dayOfYear:        make([]float64, n),
		weekOfYear:       make([]float64, n),
		month:            make([]float64, n),
		quarter:          make([]float64, n),
		half:             make([]float64, n),
		year:             make([]float64, n),
		financialDay:     make([]float64, n),
		financialWeek:    make([]float64, n),
		financialMonth:   make([]float64, n),
		financialQuarter: make([]float64, n),
		finHalf:          make([]float64, n),
		financialYear:    make([]int, n),
	}
}

func (s *spine) fill(i int, d time.Time, fy int) {
	m := int(d.Month())
	_, isoWeek := d.ISOWeek()
	fm := FinancialMonth(d, fy)

	s.date[i] = d
	s.weekStart[i] = WeekStart(d)
	s.weekday[i] = d.Weekday().String()
	s.dayOfWeek[i] = float64((int(d.Weekday()) + 6) % 7)
	s.dayOfYear[i] = float64(d.YearDay())
	s.weekOfYear[i] = float64(isoWeek)
	s.month[i] = float64(m)
	s.monthName[i] = d.Month().String()
	s.quarter[i] = float64((m-1)/3 + 1)
	s.half[i] = halfOf(m)
	s.year[i] = float64(d.Year())
	s.financialMonth[i] = float64(fm)
	s.financialQuarter[i] = float64((fm-1)/3 + 1)
	s.finHalf[i] = halfOf(fm)
	s.financialYear[i] = FinancialYear(d, fy)
}

func halfOf(month int) float64 {
	if month < 7 {
		return 1
	}
	return 2
}

// rankFinancialDays numbers days within each financial year in date order.
func (s *spine) rankFinancialDays() {
	order := frame.StableOrder(len(s.date), func(a, b int) bool {
		if s.financialYear[a] != s.financialYear[b] {
			return s.financialYear[a] < s.financialYear[b]
		}
		return s.date[a].Before(s.date[b])
	})

	count := 0
	prevFY := 0
	for k, i := range order {
		if k == 0 || s.financialYear[i] != prevFY {
			count = 0
			prevFY = s.financialYear[i]
		}
		count++
		s.financialDay[i] = float64(count)
	}
}

// rankFinancialWeeks numbers weeks within each financial year. A week that
// straddles two financial years belongs to the earlier one.
func (s *spine) rankFinancialWeeks() {
	weekFY := make(map[time.Time]int)
	var weeks []time.Time
	for i, ws := range s.weekStart {
		fy, ok := weekFY[ws]
		if !ok {
			weeks = append(weeks, ws)
			weekFY[ws] = s.financialYear[i]
			continue
		}
		if s.financialYear[i] < fy {
			weekFY[ws] = s.financialYear[i]
		}
	}

	order := frame.StableOrder(len(weeks), func(a, b int) bool {
		fa, fb := weekFY[weeks[a]], weekFY[weeks[b]]
		if fa != fb {
			return fa < fb
		}
		return weeks[a].Before(weeks[b])
	})

	rank := make(map[time.Time]int, len(weeks))
	count := 0
	prevFY := 0
	for k, w := range order {
		fy := weekFY[weeks[w]]
		if k == 0 || fy != prevFY {
			count = 0
			prevFY = fy
		}
		count++
		rank[weeks[w]] = count
	}

	for i, ws := range s.weekStart {
		s.financialWeek[i] = float64(rank[ws])
	}
}

func (s *spine) table(holidays map[time.Time]bool) (*frame.Table, error) {
	fyears := make([]float64, len(s.financialYear))
	for i, fy := range s.financialYear {
		fyears[i] = float64(fy)
	}

	t := frame.New()
	cols := []*frame.Column{
		{Name: "date", Kind: frame.Time, Times: s.date},
		{Name: "week_start_date", Kind: frame.Time, Times: s.weekStart},
		{Name: "weekday", Kind: frame.String, Strings: s.weekday},
		{Name: "day_of_week", Kind: frame.Float, Floats: s.dayOfWeek},
		{Name: "day_of_year", Kind: frame.Float, Floats: s.dayOfYear},
		{Name: "week_of_year", Kind: frame.Float, Floats: s.weekOfYear},
		{Name: "month_of_year", Kind: frame.Float, Floats: s.month},
		{Name: "month_name", Kind: frame.String, Strings: s.monthName},
		{Name: "quarter_of_year", Kind: frame.Float, Floats: s.quarter},
		{Name: "half_of_year", Kind: frame.Float, Floats: s.half},
		{Name: "year", Kind: frame.Float, Floats: s.year},
		{Name: "financial_day_of_year", Kind: frame.Float, Floats: s.financialDay},
		{Name: "financial_week_of_year", Kind: frame.Float, Floats: s.financialWeek},
		{Name: "financial_month_of_year", Kind: frame.Float, Floats: s.financialMonth},
		{Name: "financial_quarter_of_year", Kind: frame.Float, Floats: s.financialQuarter},
		{Name: "financial_half_of_year", Kind: frame.Float, Floats: s.finHalf},
		{Name: "financial_year", Kind: frame.Float, Floats: fyears},
	}

	if holidays != nil {
		normalized := make(map[time.Time]bool, len(holidays))
		for d, v := range holidays {
			normalized[truncateDay(d)] = v
		}
		flags := make([]float64, len(s.date))
		for i, d := range s.date {
			if normalized[d] {
				flags[i] = 1
			}
		}
		cols = append(cols, &frame.Column{Name: "is_bank_holiday", Kind: frame.Float, Floats: flags})
	}

	for _, c := range cols {
		if err := t.Set(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}
