// Package features turns a raw time-indexed table into a flattened,
// leakage-free supervised learning dataset.
//
// A Builder takes an entity/date/target table and derives, in order:
//   - calendar features from named date extractors
//   - target lags ({target}_lag_L) and lagged rolling means ({target}_roll_L)
//   - covariate lags ({cov}_lag_L) and leads ({cov}_lead_L)
//   - Fourier harmonics (fourier_sin_P_k, fourier_cos_P_k) over the row index
//   - a multiplicative trend fitted on positive target values
//
// Lags and leads are row offsets computed within each group after a stable
// sort by date, so they never cross group boundaries. Boundary rows whose
// derived values are unresolved are dropped from the output.
package features

import (
	"fmt"
	"strings"
)

const (
	// DefaultSeasonalOrder is the number of harmonics per seasonal period
	// when periods are configured without an order.
	DefaultSeasonalOrder = 4

	// DefaultTrendOrder is the trend polynomial power when a seasonal trend
	// is requested without an order.
	DefaultTrendOrder = 1

	// TrendColumn holds the fitted trend before it is split off the dataset.
	TrendColumn = "trend"

	// WeekStartColumn holds the Monday starting each row's week.
	WeekStartColumn = "week_start_date"
)

// DateFeature maps an output column to a date extractor. Extractor defaults
// to Name. The composite names week_of_month, is_first_week_of_month and
// is_last_week_of_month are resolved specially and ignore Extractor.
type DateFeature struct {
	Name      string `yaml:"name"`
	Extractor string `yaml:"extractor"`
}

// Config describes which features to derive from a table.
type Config struct {
	DateColumn   string   `yaml:"dateColumn"`
	TargetColumn string   `yaml:"targetColumn"`
	GroupColumns []string `yaml:"groupColumns"`
	Lags         []int    `yaml:"lags"`

	StaticCovariates []string `yaml:"staticCovariates"`
	PastCovariates   []string `yaml:"pastCovariates"`
	CovariateLags    []int    `yaml:"covariateLags"`
	FutureCovariates []string `yaml:"futureCovariates"`
	CovariateLeads   []int    `yaml:"covariateLeads"`

	DateFeatures []DateFeature `yaml:"dateFeatures"`

	SeasonalPeriods []int `yaml:"seasonalPeriods"`
	SeasonalOrder   int   `yaml:"seasonalOrder"`
	SeasonalTrend   bool  `yaml:"seasonalTrend"`
	TrendOrder      int   `yaml:"trendOrder"`
}

// WithDefaults returns a copy of c with unset options filled in.
func (c Config) WithDefaults() Config {
	if len(c.Lags) == 0 {
		c.Lags = []int{1}
	}
	if len(c.CovariateLags) == 0 {
		c.CovariateLags = []int{1}
	}
	if len(c.CovariateLeads) == 0 {
		c.CovariateLeads = []int{1}
	}
	if len(c.SeasonalPeriods) > 0 && c.SeasonalOrder == 0 {
		c.SeasonalOrder = DefaultSeasonalOrder
	}
	if c.SeasonalTrend && c.TrendOrder == 0 {
		c.TrendOrder = DefaultTrendOrder
	}
	return c
}

// Validate checks that the configuration is usable. It does not look at any
// table; column existence is checked by NewBuilder.
func (c Config) Validate() error {
	if c.DateColumn == "" {
		return fmt.Errorf("date column is required")
	}
	if c.TargetColumn == "" {
		return fmt.Errorf("target column is required")
	}
	if c.DateColumn == c.TargetColumn {
		return fmt.Errorf("date and target column must differ, both are %q", c.DateColumn)
	}
	if err := positive("lag", c.Lags); err != nil {
		return err
	}
	if err := positive("covariate lag", c.CovariateLags); err != nil {
		return err
	}
	if err := positive("covariate lead", c.CovariateLeads); err != nil {
		return err
	}
	if err := positive("seasonal period", c.SeasonalPeriods); err != nil {
		return err
	}
	if c.SeasonalOrder < 0 {
		return fmt.Errorf("seasonal order must be >= 0, got %d", c.SeasonalOrder)
	}
	if c.TrendOrder < 0 {
		return fmt.Errorf("trend order must be >= 0, got %d", c.TrendOrder)
	}

	seen := make(map[string]bool, len(c.DateFeatures))
	for _, df := range c.DateFeatures {
		if df.Name == "" {
			return fmt.Errorf("date feature name cannot be empty")
		}
		if seen[df.Name] {
			return fmt.Errorf("duplicate date feature %q", df.Name)
		}
		seen[df.Name] = true
		if isComposite(df.Name) {
			continue
		}
		if _, ok := LookupExtractor(df.extractor()); !ok {
			return fmt.Errorf("unknown date extractor %q for feature %q (known: %s)",
				df.extractor(), df.Name, strings.Join(ExtractorNames(), ", "))
		}
	}
	return nil
}

func (d DateFeature) extractor() string {
	if d.Extractor == "" {
		return d.Name
	}
	return d.Extractor
}

func positive(what string, values []int) error {
	for _, v := range values {
		if v <= 0 {
			return fmt.Errorf("%s must be > 0, got %d", what, v)
		}
	}
	return nil
}
