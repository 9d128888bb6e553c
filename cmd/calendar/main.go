// Command calendar writes a daily calendar spine as CSV.
//
// Each row carries calendar and financial-calendar attributes of one day in
// [start, end], plus is_bank_holiday when a holiday file is given.
//
// Usage:
//
//	calendar -start=2021-01-01 -end=2021-12-31 -fy-start-month=4 \
//	  -holidays=bank_holidays.csv > calendar.csv
//
// The holiday file has a date column and optionally a holiday column whose
// values parse as booleans. Without the holiday column every listed date is
// a holiday.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/HatiCode/lagcast/pkg/adapters"
	"github.com/HatiCode/lagcast/pkg/calendar"
	"github.com/HatiCode/lagcast/pkg/frame"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(context.Background(), os.Args[1:], os.Stdout, logger); err != nil {
		logger.Error("calendar failed", "error", err)
		os.Exit(1)
	}
}

type options struct {
	start, end    string
	fyStartMonth  int
	holidays      string
	dateColumn    string
	holidayColumn string
	trim          bool
	out           string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("calendar", flag.ContinueOnError)
	fs.StringVar(&o.start, "start", "", "First day (YYYY-MM-DD, required)")
	fs.StringVar(&o.end, "end", "", "Last day (YYYY-MM-DD, required)")
	fs.IntVar(&o.fyStartMonth, "fy-start-month", 4, "First month of the financial year (1-12)")
	fs.StringVar(&o.holidays, "holidays", "", "CSV file of holiday dates")
	fs.StringVar(&o.dateColumn, "holiday-date-column", "date", "Date column of the holiday file")
	fs.StringVar(&o.holidayColumn, "holiday-column", "is_bank_holiday", "Boolean column of the holiday file; optional")
	fs.BoolVar(&o.trim, "trim-partial-years", false, "Drop the first and last financial years")
	fs.StringVar(&o.out, "out", "", "Output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.start == "" || o.end == "" {
		return o, fmt.Errorf("-start and -end are required")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout io.Writer, logger *slog.Logger) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}
	start, err := time.Parse(time.DateOnly, o.start)
	if err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}
	end, err := time.Parse(time.DateOnly, o.end)
	if err != nil {
		return fmt.Errorf("invalid -end: %w", err)
	}

	var holidays map[time.Time]bool
	if o.holidays != "" {
		holidays, err = loadHolidays(ctx, o.holidays, o.dateColumn, o.holidayColumn)
		if err != nil {
			return err
		}
		logger.Info("loaded holidays", "file", o.holidays, "dates", len(holidays))
	}

	var opts []calendar.Option
	if o.trim {
		opts = append(opts, calendar.WithPartialYearsTrimmed())
	}
	tbl, err := calendar.Build(start, end, o.fyStartMonth, holidays, opts...)
	if err != nil {
		return err
	}

	w := stdout
	if o.out != "" {
		f, err := os.Create(o.out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := tbl.WriteCSV(w); err != nil {
		return fmt.Errorf("write calendar: %w", err)
	}
	logger.Info("wrote calendar", "rows", tbl.Len(), "start", o.start, "end", o.end)
	return nil
}

func loadHolidays(ctx context.Context, path, dateColumn, holidayColumn string) (map[time.Time]bool, error) {
	src := &adapters.CSVAdapter{Path: path}
	df, err := src.Collect(ctx, 0)
	if err != nil {
		return nil, err
	}

	holidays := make(map[time.Time]bool, len(df.Rows))
	for i, row := range df.Rows {
		d, err := frame.ParseTime(row[dateColumn])
		if err != nil {
			return nil, fmt.Errorf("holidays row %d: %w", i+1, err)
		}
		isHoliday := true
		if v, ok := row[holidayColumn].(string); ok && v != "" {
			isHoliday, err = strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("holidays row %d: column %s: %w", i+1, holidayColumn, err)
			}
		}
		holidays[d.UTC().Truncate(24*time.Hour)] = isHoliday
	}
	return holidays, nil
}
