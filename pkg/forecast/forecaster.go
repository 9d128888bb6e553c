// Package forecast trains a regression model on lagged features and rolls it
// forward to produce multi-step forecasts.
//
// A Forecaster is either unfit or fit. Fit and FitOptimize move it to fit and
// replace any earlier model together with its validation statistics; a
// failed fit leaves it unfit. Predict and PredictionInterval require a fit
// model and return tserrors.ErrModelState otherwise.
//
// A Forecaster is not safe for concurrent use.
package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/HatiCode/lagcast/pkg/features"
	"github.com/HatiCode/lagcast/pkg/frame"
	"github.com/HatiCode/lagcast/pkg/intervals"
	"github.com/HatiCode/lagcast/pkg/models"
	"github.com/HatiCode/lagcast/pkg/scoring"
	"github.com/HatiCode/lagcast/pkg/split"
	"github.com/HatiCode/lagcast/pkg/tserrors"
	"github.com/HatiCode/lagcast/pkg/tuning"
)

// EarlyStoppingRounds is the patience used when training against the
// validation split.
const EarlyStoppingRounds = 100

// Forecaster fits and applies a model for one feature configuration.
type Forecaster struct {
	cfg        features.Config
	factory    models.Factory
	metric     scoring.Metric
	metricName string
	seed       int64
	study      *tuning.Study
	logger     *slog.Logger

	model      models.Regressor
	params     models.Params
	features   []string
	categories map[string][]string
	val        *features.Dataset
	valRMSE    float64
	testWAPE   float64
	band       *intervals.Band
}

// Option configures a Forecaster.
type Option func(*Forecaster)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Forecaster) { f.logger = l }
}

// WithMetric sets the early-stopping metric. name is passed to remote models.
func WithMetric(name string, m scoring.Metric) Option {
	return func(f *Forecaster) {
		f.metricName = name
		f.metric = m
	}
}

// WithSeed seeds the hyperparameter search and bootstrap resampling.
func WithSeed(seed int64) Option {
	return func(f *Forecaster) { f.seed = seed }
}

// WithStudy replaces the hyperparameter search used by FitOptimize.
func WithStudy(s *tuning.Study) Option {
	return func(f *Forecaster) { f.study = s }
}

// New returns an unfit Forecaster. factory builds the model for every fit
// and every search trial.
func New(cfg features.Config, factory models.Factory, opts ...Option) (*Forecaster, error) {
	if factory == nil {
		return nil, fmt.Errorf("model factory is required")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feature config: %w", err)
	}

	f := &Forecaster{
		cfg:        cfg,
		factory:    factory,
		metric:     scoring.WAPEEval,
		metricName: "wape",
		seed:       42,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.study == nil {
		f.study = tuning.NewStudy(f.seed, f.logger)
	}
	return f, nil
}

// Config returns the feature configuration with defaults applied.
func (f *Forecaster) Config() features.Config {
	return f.cfg
}

// Fitted reports whether a model is available.
func (f *Forecaster) Fitted() bool {
	return f.model != nil
}

// Model returns the fitted model, or nil.
func (f *Forecaster) Model() models.Regressor {
	return f.model
}

// Params returns the hyperparameters of the fitted model.
func (f *Forecaster) Params() models.Params {
	return f.params
}

// ValidationRMSE returns the RMSE of the last fit on the validation split,
// on the original target scale.
func (f *Forecaster) ValidationRMSE() float64 {
	return f.valRMSE
}

// TestWAPE returns the WAPE of the last fit on the test split, or NaN when
// the test split was empty.
func (f *Forecaster) TestWAPE() float64 {
	return f.testWAPE
}

// Features returns the feature names the fitted model expects.
func (f *Forecaster) Features() []string {
	return f.features
}

// splits holds the prepared, known-target subsets of one table.
type splits struct {
	features   []string
	categories map[string][]string
	train      *features.Dataset
	val        *features.Dataset
	test       *features.Dataset
}

func (f *Forecaster) prepareSplits(tbl *frame.Table, b split.Boundaries) (*splits, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	builder, err := features.NewBuilder(tbl, f.cfg, f.logger)
	if err != nil {
		return nil, err
	}
	ds, err := builder.Prepare()
	if err != nil {
		return nil, err
	}
	parts, err := split.Split(ds, b)
	if err != nil {
		return nil, err
	}

	s := &splits{
		features:   ds.Features,
		categories: ds.Categories,
		train:      known(parts.Train),
		val:        known(parts.Val),
		test:       known(parts.Test),
	}
	if s.train.Len() == 0 {
		return nil, fmt.Errorf("%w: no training rows in [%s, %s)", tserrors.ErrNumericDegeneracy,
			b.TrainStart.Format(time.DateOnly), b.ValStart.Format(time.DateOnly))
	}
	if s.val.Len() == 0 {
		return nil, fmt.Errorf("%w: no validation rows in [%s, %s)", tserrors.ErrNumericDegeneracy,
			b.ValStart.Format(time.DateOnly), b.TestStart.Format(time.DateOnly))
	}
	f.logger.Debug("prepared splits",
		"features", len(s.features),
		"train", s.train.Len(),
		"val", s.val.Len(),
		"test", s.test.Len(),
	)
	return s, nil
}

// known drops rows whose target is not yet observed.
func known(ds *features.Dataset) *features.Dataset {
	return ds.Subset(ds.Where(func(i int) bool { return !math.IsNaN(ds.Y[i]) }))
}

// Fit prepares tbl, splits it at b, and trains a model with early stopping
// on the validation split. A nil params uses models.DefaultParams.
func (f *Forecaster) Fit(ctx context.Context, tbl *frame.Table, b split.Boundaries, params *models.Params) error {
	f.reset()

	s, err := f.prepareSplits(tbl, b)
	if err != nil {
		return err
	}

	p := models.DefaultParams()
	if params != nil {
		p = *params
	}
	model, err := f.train(ctx, s, p)
	if err != nil {
		return err
	}

	valPred, err := model.Predict(ctx, s.val.X)
	if err != nil {
		return fmt.Errorf("predict validation split: %w", err)
	}
	valRMSE, err := scoring.RMSE(s.val.Retrend(s.val.Y), s.val.Retrend(valPred))
	if err != nil {
		return fmt.Errorf("validation rmse: %w", err)
	}

	testWAPE := math.NaN()
	if s.test.Len() > 0 {
		testPred, err := model.Predict(ctx, s.test.X)
		if err != nil {
			return fmt.Errorf("predict test split: %w", err)
		}
		testWAPE, err = scoring.WAPE(s.test.Retrend(s.test.Y), s.test.Retrend(testPred))
		if err != nil {
			return fmt.Errorf("test wape: %w", err)
		}
	} else {
		f.logger.Warn("test split is empty, test WAPE not computed",
			"test_start", b.TestStart.Format(time.DateOnly))
	}

	f.model = model
	f.params = p
	f.features = s.features
	f.categories = s.categories
	f.val = s.val
	f.valRMSE = valRMSE
	f.testWAPE = testWAPE

	f.logger.Info("model fitted",
		"model", model.Name(),
		"train_rows", s.train.Len(),
		"val_rmse", valRMSE,
		"test_wape", testWAPE,
	)
	return nil
}

func (f *Forecaster) train(ctx context.Context, s *splits, p models.Params) (models.Regressor, error) {
	model, err := f.factory(p)
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	err = model.Fit(ctx, s.train.X, s.train.Y, models.FitOptions{
		EvalX:               s.val.X,
		EvalY:               s.val.Y,
		Metric:              f.metric,
		MetricName:          f.metricName,
		EarlyStoppingRounds: EarlyStoppingRounds,
		Features:            s.features,
	})
	if err != nil {
		return nil, fmt.Errorf("fit %s: %w", model.Name(), err)
	}
	return model, nil
}

// FitOptimize searches hyperparameters by validation WAPE, then fits with
// the best candidate. The search is bounded by nTrials and the study's
// wall-clock budget.
func (f *Forecaster) FitOptimize(ctx context.Context, tbl *frame.Table, b split.Boundaries, nTrials int) (tuning.Result, error) {
	f.reset()

	s, err := f.prepareSplits(tbl, b)
	if err != nil {
		return tuning.Result{}, err
	}
	yVal := s.val.Retrend(s.val.Y)

	objective := func(ctx context.Context, p models.Params) (float64, error) {
		model, err := f.train(ctx, s, p)
		if err != nil {
			return 0, err
		}
		pred, err := model.Predict(ctx, s.val.X)
		if err != nil {
			return 0, err
		}
		return scoring.WAPE(yVal, s.val.Retrend(pred))
	}

	res, err := f.study.Optimize(ctx, objective, nTrials)
	if err != nil {
		return res, fmt.Errorf("hyperparameter search: %w", err)
	}
	best := res.Best.Params
	if err := f.Fit(ctx, tbl, b, &best); err != nil {
		return res, err
	}
	return res, nil
}

func (f *Forecaster) reset() {
	f.model = nil
	f.params = models.Params{}
	f.features = nil
	f.categories = nil
	f.val = nil
	f.valRMSE = math.NaN()
	f.testWAPE = math.NaN()
	f.band = nil
}

// IntervalMethod selects an interval estimator.
type IntervalMethod string

const (
	IntervalBootstrap IntervalMethod = "bootstrap"
	IntervalRMSE      IntervalMethod = "rmse"
)

// PredictionInterval estimates a band from the validation residuals of the
// fitted model, on the original target scale. The band is kept and attached
// to later Predict output as {target}_lower_pi and {target}_upper_pi until
// the next fit.
func (f *Forecaster) PredictionInterval(ctx context.Context, method IntervalMethod, alpha float64) (intervals.Band, error) {
	if !f.Fitted() {
		return intervals.Band{}, fmt.Errorf("%w: prediction interval requested before fit", tserrors.ErrModelState)
	}

	pred, err := f.model.Predict(ctx, f.val.X)
	if err != nil {
		return intervals.Band{}, fmt.Errorf("predict validation split: %w", err)
	}
	y := f.val.Retrend(f.val.Y)
	pred = f.val.Retrend(pred)
	residuals := make([]float64, len(y))
	for i := range y {
		residuals[i] = y[i] - pred[i]
	}

	var band intervals.Band
	switch method {
	case IntervalBootstrap:
		band, err = intervals.BootstrapResiduals(residuals, intervals.BootstrapConfig{
			Alpha: alpha,
			Rand:  rand.New(rand.NewSource(f.seed)),
		})
	case IntervalRMSE:
		band, err = intervals.RMSENormalResiduals(residuals, alpha)
	default:
		return intervals.Band{}, fmt.Errorf("unknown interval method %q", method)
	}
	if err != nil {
		return intervals.Band{}, err
	}
	f.band = &band
	return band, nil
}
