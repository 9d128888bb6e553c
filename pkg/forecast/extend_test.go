package forecast

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/HatiCode/lagcast/pkg/frame"
	"github.com/HatiCode/lagcast/pkg/tserrors"
)

func groupedHistory(t *testing.T) *frame.Table {
	t.Helper()
	tbl, _ := frame.FromRecords([]map[string]any{
		{"date": week0, "store": "north", "sales": 10.0, "promo": 1.0},
		{"date": week0.Add(week), "store": "north", "sales": 12.0, "promo": 0.0},
		{"date": week0, "store": "south", "sales": 5.0, "promo": 1.0},
		{"date": week0.Add(week), "store": "south", "sales": 6.0, "promo": 1.0},
		{"date": week0.Add(2 * week), "store": "south", "sales": 7.0, "promo": 0.0},
	}, "date")
	return tbl
}

func TestLastDate(t *testing.T) {
	last, err := LastDate(groupedHistory(t), "date")
	if err != nil {
		t.Fatal(err)
	}
	if !last.Equal(week0.Add(2 * week)) {
		t.Errorf("LastDate() = %v", last)
	}

	if _, err := LastDate(frame.New(), "date"); !errors.Is(err, tserrors.ErrInputSchema) {
		t.Errorf("LastDate(empty) error = %v, want ErrInputSchema", err)
	}
}

func TestExtendHorizon(t *testing.T) {
	tbl := groupedHistory(t)
	cfg := salesConfig()
	cfg.GroupColumns = []string{"store"}

	start := week0.Add(2 * week)
	out, err := ExtendHorizon(tbl, cfg, start, week, 2)
	if err != nil {
		t.Fatalf("ExtendHorizon() error = %v", err)
	}

	// north gains weeks 2 and 3, south only week 3.
	if out.Len() != 8 {
		t.Fatalf("Len() = %d, want 8", out.Len())
	}
	if tbl.Len() != 5 {
		t.Error("ExtendHorizon modified the input table")
	}

	dates, _ := out.Times("date")
	stores, err := out.Strings("store")
	if err != nil {
		t.Fatalf("store column kind changed: %v", err)
	}
	sales, _ := out.Floats("sales")
	promo, _ := out.Floats("promo")

	type key struct {
		store string
		date  time.Time
	}
	seen := make(map[key]int)
	for i := range dates {
		seen[key{stores[i], dates[i]}]++
		if dates[i].After(week0.Add(week)) && !(stores[i] == "south" && dates[i].Equal(start)) {
			if !math.IsNaN(sales[i]) {
				t.Errorf("row %d (%s %s): target = %v, want null", i, stores[i], dates[i], sales[i])
			}
		}
		if stores[i] == "north" && dates[i].After(week0.Add(week)) && promo[i] != 0 {
			t.Errorf("row %d: promo = %v, want carried-forward 0", i, promo[i])
		}
	}
	for _, k := range []key{
		{"north", start}, {"north", start.Add(week)}, {"south", start}, {"south", start.Add(week)},
	} {
		if seen[k] != 1 {
			t.Errorf("%v appears %d times, want 1", k, seen[k])
		}
	}
	if names := out.Names(); len(names) != len(tbl.Names()) {
		t.Errorf("Names() = %v, want %v", names, tbl.Names())
	}
}

func TestExtendHorizon_Errors(t *testing.T) {
	cfg := salesConfig()
	if _, err := ExtendHorizon(frame.New(), cfg, week0, week, 1); !errors.Is(err, tserrors.ErrInputSchema) {
		t.Errorf("empty table error = %v, want ErrInputSchema", err)
	}
	if _, err := ExtendHorizon(groupedHistory(t), cfg, week0, week, 0); err == nil {
		t.Error("expected error for zero horizon")
	}
	if _, err := ExtendHorizon(groupedHistory(t), cfg, week0, 0, 1); err == nil {
		t.Error("expected error for zero period")
	}
}

func TestExtendHorizon_ThenPredict(t *testing.T) {
	m := &lagModel{}
	f, err := New(salesConfig(), lagFactory(m), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	tbl := weeklySales(t, 60, 0)
	if err := f.Fit(context.Background(), tbl, weeklyBoundaries(), nil); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	last, err := LastDate(tbl, "date")
	if err != nil {
		t.Fatal(err)
	}
	start := last.Add(week)
	extended, err := ExtendHorizon(tbl, f.Config(), start, week, 4)
	if err != nil {
		t.Fatalf("ExtendHorizon() error = %v", err)
	}
	out, err := f.Predict(context.Background(), extended, start, week, 4, nil)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	forecast, _ := out.Floats("sales_forecast")
	if len(forecast) != 4 || forecast[3] != 10+2*59.0+4 {
		t.Errorf("forecast = %v", forecast)
	}
}

func TestExtendHorizon_ExistingRowsInOtherLocation(t *testing.T) {
	zone := time.FixedZone("UTC0", 0)
	tbl := weeklySales(t, 60, 3)
	dates, _ := tbl.Times("date")
	local := make([]time.Time, len(dates))
	for i, d := range dates {
		local[i] = d.In(zone)
	}
	if err := tbl.SetTimes("date", local); err != nil {
		t.Fatal(err)
	}

	f, err := New(salesConfig(), lagFactory(&lagModel{}), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Fit(context.Background(), tbl, weeklyBoundaries(), nil); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	start := week0.Add(60 * week)
	extended, err := ExtendHorizon(tbl, f.Config(), start, week, 3)
	if err != nil {
		t.Fatalf("ExtendHorizon() error = %v", err)
	}
	if extended.Len() != 63 {
		t.Fatalf("Len() = %d, want 63 with no duplicate step rows", extended.Len())
	}
	out, err := f.Predict(context.Background(), extended, start, week, 3, nil)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if out.Len() != 3 {
		t.Errorf("got %d rows, want 3", out.Len())
	}
}

func TestExtendHorizon_KeepsTimeColumns(t *testing.T) {
	tbl, _ := frame.FromRecords([]map[string]any{
		{"date": week0, "launched": week0.Add(-week), "sales": 10.0},
		{"date": week0.Add(week), "launched": week0.Add(-week), "sales": 12.0},
	}, "date", "launched")

	out, err := ExtendHorizon(tbl, salesConfig(), week0.Add(2*week), week, 1)
	if err != nil {
		t.Fatalf("ExtendHorizon() error = %v", err)
	}
	launched, err := out.Times("launched")
	if err != nil {
		t.Fatalf("launched column kind changed: %v", err)
	}
	if !launched[2].Equal(week0.Add(-week)) {
		t.Errorf("launched[2] = %v, want carried forward", launched[2])
	}
}
