package features

import (
	"time"

	"github.com/HatiCode/lagcast/pkg/frame"
)

// Dataset is the flattened output of Builder.Prepare. X, Y, Dates, Rows and
// the Index columns are row-aligned.
type Dataset struct {
	// Features names the columns of X.
	Features []string
	X        [][]float64
	// Y is the target, divided by Trend when a seasonal trend is configured.
	// It may hold NaN for rows whose target is not yet known.
	Y     []float64
	Dates []time.Time
	// Index holds the timestamp columns (the date column and, when derived,
	// week_start_date).
	Index *frame.Table
	// Trend is the fitted trend per row, or nil.
	Trend []float64
	// Rows maps each dataset row to its row in the caller's table.
	Rows []int
	// Categories lists the levels used to encode each string feature.
	Categories map[string][]string
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.Y)
}

// Subset returns the rows at idx as a new dataset. Row slices of X are
// shared with d.
func (d *Dataset) Subset(idx []int) *Dataset {
	out := &Dataset{
		Features:   d.Features,
		X:          make([][]float64, len(idx)),
		Y:          make([]float64, len(idx)),
		Dates:      make([]time.Time, len(idx)),
		Index:      d.Index.Take(idx),
		Rows:       make([]int, len(idx)),
		Categories: d.Categories,
	}
	if d.Trend != nil {
		out.Trend = make([]float64, len(idx))
	}
	for i, j := range idx {
		out.X[i] = d.X[j]
		out.Y[i] = d.Y[j]
		out.Dates[i] = d.Dates[j]
		out.Rows[i] = d.Rows[j]
		if d.Trend != nil {
			out.Trend[i] = d.Trend[j]
		}
	}
	return out
}

// Where returns the positions of rows matching keep.
func (d *Dataset) Where(keep func(i int) bool) []int {
	var idx []int
	for i := range d.Y {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	return idx
}

// Retrend multiplies values by the trend at each row. Without a trend it
// returns values unchanged.
func (d *Dataset) Retrend(values []float64) []float64 {
	if d.Trend == nil {
		return values
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v * d.Trend[i]
	}
	return out
}
