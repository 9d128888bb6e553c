// Package models provides the regression models the forecaster trains.
//
// Every model implements Regressor. The forecaster depends only on that
// interface, so any model family can be plugged in:
//   - GBRT: in-process gradient-boosted regression trees (gbdt or goss)
//   - BYOMRegressor: delegates fit and predict to an external HTTP service
package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/HatiCode/lagcast/pkg/scoring"
)

// Regressor is a fittable, predictable regression model.
type Regressor interface {
	// Name returns the model kind, used as the registry tag.
	Name() string

	// Fit trains the model on X and y. When opts carries an evaluation set
	// and EarlyStoppingRounds > 0, training stops once opts.Metric has not
	// improved on the evaluation set for that many rounds.
	Fit(ctx context.Context, X [][]float64, y []float64, opts FitOptions) error

	// Predict returns one prediction per row of X.
	Predict(ctx context.Context, X [][]float64) ([]float64, error)
}

// FitOptions carries the evaluation set and stopping rule for Fit.
type FitOptions struct {
	EvalX               [][]float64
	EvalY               []float64
	Metric              scoring.Metric
	MetricName          string
	EarlyStoppingRounds int
	// Features names the columns of X.
	Features []string
}

// Params are the hyperparameters of a boosted-tree model.
type Params struct {
	BoostingType    string  `json:"boosting_type" yaml:"boostingType"`
	NumLeaves       int     `json:"num_leaves" yaml:"numLeaves"`
	MaxDepth        int     `json:"max_depth" yaml:"maxDepth"`
	LearningRate    float64 `json:"learning_rate" yaml:"learningRate"`
	NEstimators     int     `json:"n_estimators" yaml:"nEstimators"`
	MinChildWeight  float64 `json:"min_child_weight" yaml:"minChildWeight"`
	MinChildSamples int     `json:"min_child_samples" yaml:"minChildSamples"`
	ColsampleByTree float64 `json:"colsample_bytree" yaml:"colsampleByTree"`
	RegLambda       float64 `json:"reg_lambda" yaml:"regLambda"`
	RegAlpha        float64 `json:"reg_alpha" yaml:"regAlpha"`
	Seed            int64   `json:"seed" yaml:"seed"`
}

const (
	BoostingGBDT = "gbdt"
	BoostingGOSS = "goss"
)

// DefaultParams returns the parameters used when fitting without a search.
func DefaultParams() Params {
	return Params{
		BoostingType:    BoostingGBDT,
		NumLeaves:       31,
		MaxDepth:        -1,
		LearningRate:    0.1,
		NEstimators:     100,
		MinChildWeight:  1e-3,
		MinChildSamples: 5,
		ColsampleByTree: 1,
		Seed:            42,
	}
}

// Validate checks the parameters are usable.
func (p Params) Validate() error {
	switch strings.ToLower(p.BoostingType) {
	case BoostingGBDT, BoostingGOSS:
	default:
		return fmt.Errorf("unknown boosting type %q (must be gbdt or goss)", p.BoostingType)
	}
	if p.NumLeaves < 2 {
		return fmt.Errorf("num_leaves must be >= 2, got %d", p.NumLeaves)
	}
	if p.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0, got %v", p.LearningRate)
	}
	if p.NEstimators < 1 {
		return fmt.Errorf("n_estimators must be >= 1, got %d", p.NEstimators)
	}
	if p.MinChildWeight < 0 || p.MinChildSamples < 0 {
		return fmt.Errorf("min_child_weight and min_child_samples must be >= 0")
	}
	if p.ColsampleByTree <= 0 || p.ColsampleByTree > 1 {
		return fmt.Errorf("colsample_bytree must be in (0, 1], got %v", p.ColsampleByTree)
	}
	if p.RegLambda < 0 || p.RegAlpha < 0 {
		return fmt.Errorf("reg_lambda and reg_alpha must be >= 0")
	}
	return nil
}

// Factory builds an untrained regressor from hyperparameters.
type Factory func(p Params) (Regressor, error)
