package adapters

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/HatiCode/lagcast/pkg/frame"
)

// CSVAdapter reads a local CSV file with a header row. Every cell is
// returned as a string; numeric columns are recognised when the rows become
// a frame.Table. Blank cells are missing values.
//
// When TimestampColumn is set and the window is positive, rows older than
// now minus the window (or with an unparseable timestamp) are dropped.
type CSVAdapter struct {
	// Path of the file (required).
	Path string
	// TimestampColumn is used for window filtering; optional.
	TimestampColumn string
	// Comma is the field separator (',' when zero).
	Comma rune

	now func() time.Time
}

func (c *CSVAdapter) Name() string { return "csv" }

// Collect implements Adapter.
func (c *CSVAdapter) Collect(ctx context.Context, windowSeconds int) (*DataFrame, error) {
	if c.Path == "" {
		return &DataFrame{}, errors.New("csv adapter: Path is required")
	}
	f, err := os.Open(c.Path)
	if err != nil {
		return &DataFrame{}, fmt.Errorf("csv adapter: %w", err)
	}
	defer f.Close()

	rows, err := c.read(ctx, f)
	if err != nil {
		return &DataFrame{}, fmt.Errorf("csv adapter: %s: %w", c.Path, err)
	}

	if c.TimestampColumn == "" || windowSeconds <= 0 {
		return &DataFrame{Rows: rows}, nil
	}

	now := time.Now
	if c.now != nil {
		now = c.now
	}
	cutoff := now().UTC().Add(-time.Duration(windowSeconds) * time.Second)
	kept := rows[:0]
	for _, r := range rows {
		ts, err := frame.ParseTime(r[c.TimestampColumn])
		if err != nil || ts.Before(cutoff) {
			continue
		}
		kept = append(kept, r)
	}
	return &DataFrame{Rows: kept}, nil
}

func (c *CSVAdapter) read(ctx context.Context, r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	if c.Comma != 0 {
		cr.Comma = c.Comma
	}
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if c.TimestampColumn != "" && !slices.Contains(header, c.TimestampColumn) {
		return nil, fmt.Errorf("timestamp column %q not in header", c.TimestampColumn)
	}

	var rows []Row
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(Row, len(header))
		for i, name := range header {
			if rec[i] == "" {
				row[name] = nil
				continue
			}
			row[name] = rec[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}
