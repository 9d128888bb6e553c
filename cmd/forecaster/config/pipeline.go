package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HatiCode/lagcast/pkg/features"
	"github.com/HatiCode/lagcast/pkg/intervals"
	"github.com/HatiCode/lagcast/pkg/models"
	"github.com/HatiCode/lagcast/pkg/scoring"
	"github.com/HatiCode/lagcast/pkg/split"
)

// Pipeline is the root of the pipeline file.
//
//	series:
//	  - name: sales-north
//	    adapter:
//	      kind: csv
//	      config: {path: /data/sales.csv, timestampColumn: date}
//	    period: 168h
//	    horizon: 8
//	    features:
//	      dateColumn: date
//	      targetColumn: sales
//	      groupColumns: [store]
//	      lags: [1, 2, 4, 52]
//	    split: {valSteps: 12, testSteps: 8}
//	    quantiles: [p90, "0.75"]
//	    model: {kind: gbrt, trials: 30}
type Pipeline struct {
	Series []SeriesConfig `yaml:"series"`
}

// SeriesConfig describes one series: where it comes from, how it is
// featurized and split, which model fits it, and what the forecast holds.
type SeriesConfig struct {
	Name     string          `yaml:"name"`
	Adapter  AdapterConfig   `yaml:"adapter"`
	Window   time.Duration   `yaml:"window"`
	Period   time.Duration   `yaml:"period"`
	Horizon  int             `yaml:"horizon"`
	Every    time.Duration   `yaml:"interval"`
	Features features.Config `yaml:"features"`
	Split    SplitConfig     `yaml:"split"`
	Model    ModelConfig     `yaml:"model"`

	// Quantiles accepts p-notation or decimals; QuantileLevels holds the
	// parsed values after validation.
	Quantiles      []string  `yaml:"quantiles"`
	QuantileLevels []float64 `yaml:"-"`

	PredictionInterval BandConfig `yaml:"predictionInterval"`
}

// AdapterConfig selects and configures a data adapter.
type AdapterConfig struct {
	Kind   string            `yaml:"kind"`
	Config map[string]string `yaml:"config"`
}

// SplitConfig gives the split boundaries either as fixed dates or as step
// counts measured back from the latest observation.
type SplitConfig struct {
	TrainStart time.Time `yaml:"trainStart"`
	ValStart   time.Time `yaml:"valStart"`
	TestStart  time.Time `yaml:"testStart"`

	ValSteps  int `yaml:"valSteps"`
	TestSteps int `yaml:"testSteps"`
}

// Fixed reports whether the boundaries are given as dates.
func (s SplitConfig) Fixed() bool {
	return !s.ValStart.IsZero() || !s.TestStart.IsZero()
}

// Resolve returns the boundaries for data spanning first to last. Relative
// splits place the test split on the last TestSteps periods and the
// validation split on the ValSteps periods before it.
func (s SplitConfig) Resolve(first, last time.Time, period time.Duration) split.Boundaries {
	if s.Fixed() {
		return split.Boundaries{TrainStart: s.TrainStart, ValStart: s.ValStart, TestStart: s.TestStart}
	}
	testStart := last.Add(-time.Duration(s.TestSteps-1) * period)
	return split.Boundaries{
		TrainStart: first,
		ValStart:   testStart.Add(-time.Duration(s.ValSteps) * period),
		TestStart:  testStart,
	}
}

// ModelConfig selects the regressor and the search budget.
type ModelConfig struct {
	Kind     string  `yaml:"kind"`
	Endpoint string  `yaml:"endpoint"`
	Trials   int     `yaml:"trials"`
	Seed     int64   `yaml:"seed"`
	Metric   string  `yaml:"metric"`
	Params   *Params `yaml:"params"`
}

// Params decodes onto models.DefaultParams, so an override only needs the
// fields it changes.
type Params models.Params

func (p *Params) UnmarshalYAML(value *yaml.Node) error {
	base := models.DefaultParams()
	if err := value.Decode(&base); err != nil {
		return err
	}
	*p = Params(base)
	return nil
}

// BandConfig enables a prediction interval around the forecast.
type BandConfig struct {
	Method string  `yaml:"method"`
	Alpha  float64 `yaml:"alpha"`
}

var seriesNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_.-]{0,251}[a-zA-Z0-9])?$`)

// LoadSeries returns the validated series to run, from the pipeline file
// when one is configured and from flags otherwise.
func LoadSeries(cfg *Config) ([]SeriesConfig, error) {
	if cfg.PipelineFile != "" {
		return LoadPipelineFile(cfg.PipelineFile)
	}

	lags, err := parseInts(cfg.Lags)
	if err != nil {
		return nil, fmt.Errorf("lags: %w", err)
	}
	s := SeriesConfig{
		Name:    cfg.Series,
		Adapter: AdapterConfig{Kind: cfg.Adapter, Config: cfg.AdapterConfig},
		Window:  cfg.Window,
		Period:  cfg.Period,
		Horizon: cfg.Horizon,
		Every:   cfg.Interval,
		Features: features.Config{
			DateColumn:   cfg.DateColumn,
			TargetColumn: cfg.TargetColumn,
			GroupColumns: splitList(cfg.GroupColumns),
			Lags:         lags,
		},
		Split:              SplitConfig{ValSteps: cfg.ValSteps, TestSteps: cfg.TestSteps},
		Quantiles:          splitList(cfg.Quantiles),
		PredictionInterval: BandConfig{Method: cfg.IntervalMethod, Alpha: cfg.Alpha},
		Model: ModelConfig{
			Kind:     cfg.Model,
			Endpoint: cfg.BYOMURL,
			Trials:   cfg.Trials,
			Seed:     cfg.Seed,
			Metric:   cfg.Metric,
		},
	}
	if err := validateSeries(&s, 0); err != nil {
		return nil, err
	}
	return []SeriesConfig{s}, nil
}

// LoadPipelineFile reads and validates a pipeline file. Unknown keys are
// rejected.
func LoadPipelineFile(path string) ([]SeriesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	return ParsePipeline(data)
}

// ParsePipeline decodes and validates pipeline YAML.
func ParsePipeline(data []byte) ([]SeriesConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Pipeline
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}
	if len(p.Series) == 0 {
		return nil, fmt.Errorf("pipeline defines no series")
	}

	seen := make(map[string]bool, len(p.Series))
	for i := range p.Series {
		s := &p.Series[i]
		if err := validateSeries(s, i); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("series %q: duplicate name", s.Name)
		}
		seen[s.Name] = true
	}
	return p.Series, nil
}

func validateSeries(s *SeriesConfig, index int) error {
	if s.Name == "" {
		return fmt.Errorf("series[%d]: name cannot be empty", index)
	}
	if !seriesNameRegex.MatchString(s.Name) {
		return fmt.Errorf("series[%d]: invalid name %q (must be alphanumeric with dash/underscore/dot, 1-253 chars)", index, s.Name)
	}

	switch s.Adapter.Kind {
	case "":
		return fmt.Errorf("series %q: adapter kind cannot be empty", s.Name)
	case "prometheus", "victoriametrics", "http", "csv":
	default:
		return fmt.Errorf("series %q: invalid adapter %q (must be prometheus, victoriametrics, http, or csv)", s.Name, s.Adapter.Kind)
	}

	if s.Period <= 0 {
		return fmt.Errorf("series %q: period must be > 0", s.Name)
	}
	if s.Horizon < 1 {
		return fmt.Errorf("series %q: horizon must be >= 1", s.Name)
	}
	if s.Every <= 0 {
		s.Every = 24 * time.Hour
	}
	if s.Window <= 0 && s.Adapter.Kind != "csv" {
		s.Window = 2 * 365 * 24 * time.Hour
	}

	s.Features = s.Features.WithDefaults()
	if err := s.Features.Validate(); err != nil {
		return fmt.Errorf("series %q: features: %w", s.Name, err)
	}

	if s.Split.Fixed() {
		b := s.Split.Resolve(time.Time{}, time.Time{}, s.Period)
		if err := b.Validate(); err != nil {
			return fmt.Errorf("series %q: split: %w", s.Name, err)
		}
	} else {
		if s.Split.ValSteps == 0 {
			s.Split.ValSteps = s.Horizon
		}
		if s.Split.TestSteps == 0 {
			s.Split.TestSteps = s.Horizon
		}
		if s.Split.ValSteps < 1 || s.Split.TestSteps < 1 {
			return fmt.Errorf("series %q: split: valSteps and testSteps must be >= 1", s.Name)
		}
	}

	s.QuantileLevels = nil
	if len(s.Quantiles) > 0 {
		levels, err := intervals.ParseQuantileList(strings.Join(s.Quantiles, ","))
		if err != nil {
			return fmt.Errorf("series %q: quantile: %w", s.Name, err)
		}
		s.QuantileLevels = levels
	}

	switch s.PredictionInterval.Method {
	case "", "bootstrap", "rmse":
	default:
		return fmt.Errorf("series %q: invalid prediction interval method %q (must be bootstrap or rmse)", s.Name, s.PredictionInterval.Method)
	}
	if s.PredictionInterval.Alpha == 0 {
		s.PredictionInterval.Alpha = 0.1
	}
	if s.PredictionInterval.Alpha <= 0 || s.PredictionInterval.Alpha >= 1 {
		return fmt.Errorf("series %q: prediction interval alpha must be in (0, 1)", s.Name)
	}

	m := &s.Model
	if m.Kind == "" {
		m.Kind = "gbrt"
	}
	if m.Kind != "gbrt" && m.Kind != "byom" {
		return fmt.Errorf("series %q: invalid model %q (must be gbrt or byom)", s.Name, m.Kind)
	}
	if m.Kind == "byom" && m.Endpoint == "" {
		return fmt.Errorf("series %q: endpoint is required when model=byom", s.Name)
	}
	if m.Trials < 0 {
		return fmt.Errorf("series %q: trials cannot be negative", s.Name)
	}
	if m.Seed == 0 {
		m.Seed = 42
	}
	if m.Metric == "" {
		m.Metric = "wape"
	}
	if _, err := scoring.ByName(m.Metric); err != nil {
		return fmt.Errorf("series %q: %w", s.Name, err)
	}
	if m.Params != nil {
		if err := models.Params(*m.Params).Validate(); err != nil {
			return fmt.Errorf("series %q: params: %w", s.Name, err)
		}
	}

	return nil
}
