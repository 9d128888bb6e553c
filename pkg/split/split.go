// Package split partitions a flattened dataset into time-ordered train,
// validation and test subsets.
//
// Membership is half-open: train is [TrainStart, ValStart), validation is
// [ValStart, TestStart) and test is [TestStart, +inf). Rows dated before
// TrainStart belong to no split. When the dataset index carries
// week_start_date, rows are compared by the start of their week rather than
// their own date, so a week is never divided between two splits.
package split

import (
	"fmt"
	"time"

	"github.com/HatiCode/lagcast/pkg/features"
	"github.com/HatiCode/lagcast/pkg/tserrors"
)

// Boundaries are the three cutoffs of a split.
type Boundaries struct {
	TrainStart time.Time `yaml:"trainStart"`
	ValStart   time.Time `yaml:"valStart"`
	TestStart  time.Time `yaml:"testStart"`
}

// Validate reports an ErrInputOrdering unless TrainStart < ValStart < TestStart.
func (b Boundaries) Validate() error {
	if !b.TrainStart.Before(b.ValStart) {
		return fmt.Errorf("%w: train start %s must be before validation start %s",
			tserrors.ErrInputOrdering, b.TrainStart.Format(time.RFC3339), b.ValStart.Format(time.RFC3339))
	}
	if !b.ValStart.Before(b.TestStart) {
		return fmt.Errorf("%w: validation start %s must be before test start %s",
			tserrors.ErrInputOrdering, b.ValStart.Format(time.RFC3339), b.TestStart.Format(time.RFC3339))
	}
	return nil
}

// Result holds the three subsets.
type Result struct {
	Train *features.Dataset
	Val   *features.Dataset
	Test  *features.Dataset
}

// Split assigns every dataset row to at most one subset.
func Split(ds *features.Dataset, b Boundaries) (Result, error) {
	if err := b.Validate(); err != nil {
		return Result{}, err
	}

	keys, err := splitKeys(ds)
	if err != nil {
		return Result{}, err
	}

	var train, val, test []int
	for i, k := range keys {
		switch {
		case k.Before(b.TrainStart):
		case k.Before(b.ValStart):
			train = append(train, i)
		case k.Before(b.TestStart):
			val = append(val, i)
		default:
			test = append(test, i)
		}
	}

	return Result{
		Train: ds.Subset(train),
		Val:   ds.Subset(val),
		Test:  ds.Subset(test),
	}, nil
}

func splitKeys(ds *features.Dataset) ([]time.Time, error) {
	if ds.Index != nil && ds.Index.Has(features.WeekStartColumn) {
		return ds.Index.Times(features.WeekStartColumn)
	}
	if len(ds.Dates) != ds.Len() {
		return nil, fmt.Errorf("%w: dataset has %d dates for %d rows", tserrors.ErrInputSchema, len(ds.Dates), ds.Len())
	}
	return ds.Dates, nil
}
