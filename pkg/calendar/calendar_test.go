package calendar

import (
	"errors"
	"testing"
	"time"

	"github.com/HatiCode/lagcast/pkg/tserrors"
)

func date(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func indexOf(ts []time.Time, d time.Time) int {
	for i, t := range ts {
		if t.Equal(d) {
			return i
		}
	}
	return -1
}

func TestBuild_FullYear(t *testing.T) {
	tbl, err := Build(date("2021-01-01"), date("2021-12-31"), 4, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if tbl.Len() != 365 {
		t.Fatalf("rows = %d, want 365", tbl.Len())
	}

	dates, _ := tbl.Times("date")
	for i := 1; i < len(dates); i++ {
		if dates[i].Sub(dates[i-1]) != 24*time.Hour {
			t.Fatalf("dates not contiguous at %d: %s -> %s", i, dates[i-1], dates[i])
		}
	}

	fy, _ := tbl.Floats("financial_year")
	march31 := indexOf(dates, date("2021-03-31"))
	april1 := indexOf(dates, date("2021-04-01"))
	dec31 := indexOf(dates, date("2021-12-31"))

	if fy[march31] != 2021 {
		t.Errorf("financial_year(2021-03-31) = %v, want 2021", fy[march31])
	}
	if fy[april1] != 2022 {
		t.Errorf("financial_year(2021-04-01) = %v, want 2022", fy[april1])
	}
	if fy[dec31] != fy[april1] {
		t.Errorf("financial_year should be constant from April to December, got %v and %v", fy[april1], fy[dec31])
	}

	fm, _ := tbl.Floats("financial_month_of_year")
	if fm[april1] != 1 {
		t.Errorf("financial_month_of_year(April) = %v, want 1", fm[april1])
	}
	if fm[march31] != 12 {
		t.Errorf("financial_month_of_year(March) = %v, want 12", fm[march31])
	}

	fq, _ := tbl.Floats("financial_quarter_of_year")
	if fq[dec31] != 3 {
		t.Errorf("financial_quarter_of_year(December) = %v, want 3", fq[dec31])
	}

	fd, _ := tbl.Floats("financial_day_of_year")
	if fd[april1] != 1 {
		t.Errorf("financial_day_of_year(2021-04-01) = %v, want 1", fd[april1])
	}
	if fd[dec31] != 275 {
		t.Errorf("financial_day_of_year(2021-12-31) = %v, want 275", fd[dec31])
	}
}

func TestBuild_CalendarAttributes(t *testing.T) {
	tbl, err := Build(date("2024-02-26"), date("2024-03-03"), 1, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	weekday, _ := tbl.Strings("weekday")
	dow, _ := tbl.Floats("day_of_week")
	ws, _ := tbl.Times("week_start_date")
	half, _ := tbl.Floats("half_of_year")
	quarter, _ := tbl.Floats("quarter_of_year")

	if weekday[0] != "Monday" || dow[0] != 0 {
		t.Errorf("2024-02-26 weekday = %s/%v, want Monday/0", weekday[0], dow[0])
	}
	if weekday[6] != "Sunday" || dow[6] != 6 {
		t.Errorf("2024-03-03 weekday = %s/%v, want Sunday/6", weekday[6], dow[6])
	}
	for i := range ws {
		if !ws[i].Equal(date("2024-02-26")) {
			t.Errorf("week_start_date[%d] = %s, want 2024-02-26", i, ws[i])
		}
	}
	if half[0] != 1 || quarter[0] != 1 {
		t.Errorf("half/quarter = %v/%v, want 1/1", half[0], quarter[0])
	}
}

func TestBuild_FinancialWeeks(t *testing.T) {
	tbl, err := Build(date("2023-03-20"), date("2023-04-16"), 4, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	dates, _ := tbl.Times("date")
	fw, _ := tbl.Floats("financial_week_of_year")

	// The week of 2023-03-27 straddles the year boundary and stays in the earlier year.
	straddle := indexOf(dates, date("2023-04-01"))
	firstFull := indexOf(dates, date("2023-04-03"))
	if fw[straddle] != 2 {
		t.Errorf("financial_week_of_year(2023-04-01) = %v, want 2", fw[straddle])
	}
	if fw[firstFull] != 1 {
		t.Errorf("financial_week_of_year(2023-04-03) = %v, want 1", fw[firstFull])
	}
}

func TestBuild_Holidays(t *testing.T) {
	holidays := map[time.Time]bool{
		date("2024-12-25"): true,
		date("2024-12-26"): false,
	}

	tbl, err := Build(date("2024-12-24"), date("2024-12-27"), 4, holidays)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	flags, err := tbl.Floats("is_bank_holiday")
	if err != nil {
		t.Fatalf("is_bank_holiday missing: %v", err)
	}
	want := []float64{0, 1, 0, 0}
	for i := range want {
		if flags[i] != want[i] {
			t.Errorf("is_bank_holiday[%d] = %v, want %v", i, flags[i], want[i])
		}
	}

	noHol, _ := Build(date("2024-12-24"), date("2024-12-27"), 4, nil)
	if noHol.Has("is_bank_holiday") {
		t.Error("is_bank_holiday should be absent without a holiday table")
	}
}

func TestBuild_TrimPartialYears(t *testing.T) {
	tbl, err := Build(date("2020-01-01"), date("2022-12-31"), 4, nil, WithPartialYearsTrimmed())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	fy, _ := tbl.Floats("financial_year")
	for i, v := range fy {
		if v == 2020 || v == 2023 {
			t.Fatalf("row %d kept partial financial year %v", i, v)
		}
	}
	// FY2021 (Apr 2020 - Mar 2021) and FY2022 (Apr 2021 - Mar 2022), 365 days each.
	if tbl.Len() != 730 {
		t.Errorf("rows = %d, want 730", tbl.Len())
	}

	fd, _ := tbl.Floats("financial_day_of_year")
	if fd[0] != 1 {
		t.Errorf("first financial_day_of_year = %v, want 1", fd[0])
	}
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(date("2024-02-01"), date("2024-01-01"), 4, nil)
	if !errors.Is(err, tserrors.ErrInputOrdering) {
		t.Errorf("end before start error = %v, want ErrInputOrdering", err)
	}

	if _, err := Build(date("2024-01-01"), date("2024-01-31"), 13, nil); err == nil {
		t.Error("expected error for fiscal start month 13")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	a, _ := Build(date("2022-01-01"), date("2022-03-01"), 7, nil)
	b, _ := Build(date("2022-01-01"), date("2022-03-01"), 7, nil)

	for _, name := range a.Names() {
		ca, _ := a.Column(name)
		cb, _ := b.Column(name)
		for i := 0; i < a.Len(); i++ {
			switch {
			case ca.Floats != nil && ca.Floats[i] != cb.Floats[i],
				ca.Strings != nil && ca.Strings[i] != cb.Strings[i],
				ca.Times != nil && !ca.Times[i].Equal(cb.Times[i]):
				t.Fatalf("column %s row %d differs between runs", name, i)
			}
		}
	}
}
