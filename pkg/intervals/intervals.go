// Package intervals estimates prediction-interval bands from validation
// residuals.
//
// A Band is a pair of constant offsets to add to a point forecast: Lower is
// at most zero and Upper at least zero for residuals centred on zero. Bands
// do not vary by row.
package intervals

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/HatiCode/lagcast/pkg/tserrors"
)

const (
	// DefaultResamples is the number of bootstrap resamples.
	DefaultResamples = 100

	// DefaultAlpha is the significance level of the interval.
	DefaultAlpha = 0.05
)

// Predictor produces point forecasts for a feature matrix.
type Predictor interface {
	Predict(ctx context.Context, X [][]float64) ([]float64, error)
}

// Band holds the offsets that turn a point forecast into an interval.
type Band struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Apply returns the interval around forecast.
func (b Band) Apply(forecast float64) (lower, upper float64) {
	return forecast + b.Lower, forecast + b.Upper
}

// Residuals returns y - model(X).
func Residuals(ctx context.Context, model Predictor, X [][]float64, y []float64) ([]float64, error) {
	if len(X) == 0 || len(y) == 0 {
		return nil, fmt.Errorf("%w: validation set is empty", tserrors.ErrNumericDegeneracy)
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("validation set has %d rows and %d targets", len(X), len(y))
	}
	pred, err := model.Predict(ctx, X)
	if err != nil {
		return nil, fmt.Errorf("predict validation set: %w", err)
	}
	if len(pred) != len(y) {
		return nil, fmt.Errorf("model returned %d predictions for %d rows", len(pred), len(y))
	}
	res := make([]float64, len(y))
	floats.SubTo(res, y, pred)
	return res, nil
}

// BootstrapConfig controls Bootstrap.
type BootstrapConfig struct {
	// Resamples defaults to DefaultResamples.
	Resamples int
	// Alpha defaults to DefaultAlpha.
	Alpha float64
	// Rand is the resampling source. It must not be shared with concurrent
	// callers. A nil Rand uses a source seeded with 42.
	Rand *rand.Rand
}

// Bootstrap resamples the validation residuals with replacement, takes the
// alpha/2 and 1-alpha/2 empirical quantiles of each resample, and averages
// them into the band.
func Bootstrap(ctx context.Context, model Predictor, X [][]float64, y []float64, cfg BootstrapConfig) (Band, error) {
	res, err := Residuals(ctx, model, X, y)
	if err != nil {
		return Band{}, err
	}
	return BootstrapResiduals(res, cfg)
}

// BootstrapResiduals is Bootstrap over precomputed residuals.
func BootstrapResiduals(residuals []float64, cfg BootstrapConfig) (Band, error) {
	if len(residuals) == 0 {
		return Band{}, fmt.Errorf("%w: no residuals to resample", tserrors.ErrNumericDegeneracy)
	}
	if cfg.Resamples <= 0 {
		cfg.Resamples = DefaultResamples
	}
	if cfg.Alpha == 0 {
		cfg.Alpha = DefaultAlpha
	}
	if cfg.Alpha < 0 || cfg.Alpha >= 1 {
		return Band{}, fmt.Errorf("alpha %v out of range (0, 1)", cfg.Alpha)
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(42))
	}

	sample := make([]float64, len(residuals))
	var lower, upper float64
	for r := 0; r < cfg.Resamples; r++ {
		for i := range sample {
			sample[i] = residuals[rng.Intn(len(residuals))]
		}
		sort.Float64s(sample)
		lower += stat.Quantile(cfg.Alpha/2, stat.LinInterp, sample, nil)
		upper += stat.Quantile(1-cfg.Alpha/2, stat.LinInterp, sample, nil)
	}

	n := float64(cfg.Resamples)
	return Band{Lower: lower / n, Upper: upper / n}, nil
}

// RMSENormal returns the symmetric band z*RMSE around zero, with z the
// standard normal quantile at alpha taken in absolute value.
func RMSENormal(ctx context.Context, model Predictor, X [][]float64, y []float64, alpha float64) (Band, error) {
	res, err := Residuals(ctx, model, X, y)
	if err != nil {
		return Band{}, err
	}
	return RMSENormalResiduals(res, alpha)
}

// RMSENormalResiduals is RMSENormal over precomputed residuals.
func RMSENormalResiduals(residuals []float64, alpha float64) (Band, error) {
	if len(residuals) == 0 {
		return Band{}, fmt.Errorf("%w: no residuals", tserrors.ErrNumericDegeneracy)
	}
	rmse := floats.Norm(residuals, 2) / math.Sqrt(float64(len(residuals)))
	return NormalBand(rmse, alpha)
}

// NormalBand scales rmse by the absolute standard normal quantile at alpha.
func NormalBand(rmse, alpha float64) (Band, error) {
	if alpha <= 0 || alpha >= 1 {
		return Band{}, fmt.Errorf("alpha %v out of range (0, 1)", alpha)
	}
	if math.IsNaN(rmse) || math.IsInf(rmse, 0) {
		return Band{}, fmt.Errorf("%w: rmse is %v", tserrors.ErrNumericDegeneracy, rmse)
	}
	z := math.Abs(distuv.UnitNormal.Quantile(alpha))
	return Band{Lower: -z * rmse, Upper: z * rmse}, nil
}
