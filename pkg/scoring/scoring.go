// Package scoring implements the forecast accuracy metrics used for early
// stopping, hyperparameter search and reporting.
//
// WAPE and SMAPE ignore pairs where both the actual and the predicted value
// are exactly zero, so appending (0, 0) pairs never changes their value.
// All functions return tserrors.ErrNumericDegeneracy instead of NaN or Inf
// when the metric is undefined.
package scoring

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/HatiCode/lagcast/pkg/tserrors"
)

// Result is the outcome of an evaluation metric.
type Result struct {
	Name           string
	Value          float64
	HigherIsBetter bool
}

// Better reports whether r improves on other.
func (r Result) Better(other Result) bool {
	if r.HigherIsBetter {
		return r.Value > other.Value
	}
	return r.Value < other.Value
}

// Metric is a pluggable evaluation callback.
type Metric func(yTrue, yPred []float64) (Result, error)

func checkLengths(yTrue, yPred []float64) error {
	if len(yTrue) != len(yPred) {
		return fmt.Errorf("length mismatch: %d actual values, %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return fmt.Errorf("%w: no values to score", tserrors.ErrNumericDegeneracy)
	}
	return nil
}

// WAPE returns the weighted absolute percentage error:
// sum(|actual - predicted|) / sum(|actual|).
func WAPE(yTrue, yPred []float64) (float64, error) {
	if err := checkLengths(yTrue, yPred); err != nil {
		return 0, err
	}

	var num, denom float64
	for i := range yTrue {
		if yTrue[i] == 0 && yPred[i] == 0 {
			continue
		}
		num += math.Abs(yTrue[i] - yPred[i])
		denom += math.Abs(yTrue[i])
	}
	if denom == 0 {
		return 0, fmt.Errorf("%w: wape denominator is zero", tserrors.ErrNumericDegeneracy)
	}
	return num / denom, nil
}

// SMAPE returns the symmetric mean absolute percentage error in percent. The
// mean is taken over all pairs, including masked (0, 0) pairs.
func SMAPE(yTrue, yPred []float64) (float64, error) {
	if err := checkLengths(yTrue, yPred); err != nil {
		return 0, err
	}

	var sum float64
	for i := range yTrue {
		if yTrue[i] == 0 && yPred[i] == 0 {
			continue
		}
		denom := (math.Abs(yPred[i]) + math.Abs(yTrue[i])) / 2
		sum += math.Abs(yPred[i]-yTrue[i]) / denom
	}
	return 100 * sum / float64(len(yTrue)), nil
}

// RMSE returns the root mean squared error.
func RMSE(yTrue, yPred []float64) (float64, error) {
	if err := checkLengths(yTrue, yPred); err != nil {
		return 0, err
	}
	return floats.Distance(yTrue, yPred, 2) / math.Sqrt(float64(len(yTrue))), nil
}

// MAE returns the mean absolute error.
func MAE(yTrue, yPred []float64) (float64, error) {
	if err := checkLengths(yTrue, yPred); err != nil {
		return 0, err
	}
	return floats.Distance(yTrue, yPred, 1) / float64(len(yTrue)), nil
}

// WAPEEval is the WAPE evaluation callback. Lower is better.
func WAPEEval(yTrue, yPred []float64) (Result, error) {
	v, err := WAPE(yTrue, yPred)
	if err != nil {
		return Result{}, err
	}
	return Result{Name: "WAPE", Value: v}, nil
}

// SMAPEEval is the SMAPE evaluation callback. Lower is better.
func SMAPEEval(yTrue, yPred []float64) (Result, error) {
	v, err := SMAPE(yTrue, yPred)
	if err != nil {
		return Result{}, err
	}
	return Result{Name: "SMAPE", Value: v}, nil
}

// RMSEEval is the RMSE evaluation callback. Lower is better.
func RMSEEval(yTrue, yPred []float64) (Result, error) {
	v, err := RMSE(yTrue, yPred)
	if err != nil {
		return Result{}, err
	}
	return Result{Name: "RMSE", Value: v}, nil
}

// ByName resolves a metric name (wape, smape, rmse) to its callback.
func ByName(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "wape":
		return WAPEEval, nil
	case "smape":
		return SMAPEEval, nil
	case "rmse":
		return RMSEEval, nil
	default:
		return nil, fmt.Errorf("unknown metric %q (must be wape, smape, or rmse)", name)
	}
}
