// Package tserrors defines the error classes shared by the lagcast pipeline.
//
// Every failure returned by the feature engine, splitter, interval estimators
// and forecaster wraps exactly one of these sentinels, so callers can branch
// with errors.Is:
//
//	if errors.Is(err, tserrors.ErrInputSchema) {
//	    // fix the input table
//	}
//
// None of these errors are retried internally.
package tserrors

import "errors"

var (
	// ErrInputSchema reports a referenced column that does not exist, or a
	// derived column whose prerequisites are missing.
	ErrInputSchema = errors.New("input schema error")

	// ErrInputOrdering reports date ranges or split boundaries that are not
	// strictly increasing.
	ErrInputOrdering = errors.New("input ordering error")

	// ErrNumericDegeneracy reports an empty residual set or a zero denominator.
	ErrNumericDegeneracy = errors.New("numeric degeneracy")

	// ErrModelState reports an operation that requires a fitted model.
	ErrModelState = errors.New("model state error")
)
