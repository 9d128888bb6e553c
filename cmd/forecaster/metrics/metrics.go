// Package metrics provides Prometheus metrics instrumentation for the forecaster.
//
// It exposes the duration of each pipeline stage (collect, fit, predict), the
// quality of the latest fit, the age of the latest forecast and error
// tracking. All metrics are exposed via the /metrics HTTP endpoint.
//
// Metrics exposed:
//   - lagcast_adapter_collect_seconds: Histogram of data collection duration
//   - lagcast_model_fit_seconds: Histogram of fit (or search) duration
//   - lagcast_model_predict_seconds: Histogram of forecast duration
//   - lagcast_validation_rmse: Gauge of the latest validation RMSE
//   - lagcast_test_wape: Gauge of the latest test WAPE
//   - lagcast_forecast_age_seconds: Gauge of the current forecast age
//   - lagcast_predicted_value: Gauge of the first forecast step
//   - lagcast_tuning_trials_total: Counter of completed search trials
//   - lagcast_errors_total: Counter of errors by component and reason
//
// All metrics carry the series label.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for one series.
type Metrics struct {
	AdapterCollectSeconds prometheus.Histogram
	ModelFitSeconds       prometheus.Histogram
	ModelPredictSeconds   prometheus.Histogram
	ValidationRMSE        prometheus.Gauge
	TestWAPE              prometheus.Gauge
	ForecastAgeSeconds    prometheus.Gauge
	PredictedValue        prometheus.Gauge
	TuningTrialsTotal     prometheus.Counter
	ErrorsTotal           *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics for series with the
// default registerer.
func New(series, adapter, model string) *Metrics {
	return NewWith(prometheus.DefaultRegisterer, series, adapter, model)
}

// NewWith registers the metrics with reg.
func NewWith(reg prometheus.Registerer, series, adapter, model string) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"series": series}

	return &Metrics{
		AdapterCollectSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "lagcast_adapter_collect_seconds",
			Help: "Time spent collecting history from the adapter",
			ConstLabels: prometheus.Labels{
				"adapter": adapter,
				"series":  series,
			},
			Buckets: prometheus.DefBuckets,
		}),

		ModelFitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "lagcast_model_fit_seconds",
			Help: "Time spent fitting the model, including any hyperparameter search",
			ConstLabels: prometheus.Labels{
				"model":  model,
				"series": series,
			},
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600},
		}),

		ModelPredictSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "lagcast_model_predict_seconds",
			Help: "Time spent producing the forecast",
			ConstLabels: prometheus.Labels{
				"model":  model,
				"series": series,
			},
			Buckets: prometheus.DefBuckets,
		}),

		ValidationRMSE: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "lagcast_validation_rmse",
			Help:        "Validation RMSE of the latest fit, on the original target scale",
			ConstLabels: labels,
		}),

		TestWAPE: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "lagcast_test_wape",
			Help:        "Test WAPE of the latest fit (NaN without test rows)",
			ConstLabels: labels,
		}),

		ForecastAgeSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "lagcast_forecast_age_seconds",
			Help:        "Age of the current forecast in seconds",
			ConstLabels: labels,
		}),

		PredictedValue: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "lagcast_predicted_value",
			Help:        "First step of the current forecast",
			ConstLabels: labels,
		}),

		TuningTrialsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name:        "lagcast_tuning_trials_total",
			Help:        "Total number of completed hyperparameter search trials",
			ConstLabels: labels,
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "lagcast_errors_total",
			Help:        "Total number of errors by component and reason",
			ConstLabels: labels,
		}, []string{"component", "reason"}),
	}
}

// RecordCollect records the time spent collecting history.
func (m *Metrics) RecordCollect(seconds float64) {
	m.AdapterCollectSeconds.Observe(seconds)
}

// RecordFit records the time spent fitting.
func (m *Metrics) RecordFit(seconds float64) {
	m.ModelFitSeconds.Observe(seconds)
}

// RecordPredict records the time spent predicting.
func (m *Metrics) RecordPredict(seconds float64) {
	m.ModelPredictSeconds.Observe(seconds)
}

// SetScores sets the validation RMSE and test WAPE of the latest fit.
func (m *Metrics) SetScores(validationRMSE, testWAPE float64) {
	m.ValidationRMSE.Set(validationRMSE)
	m.TestWAPE.Set(testWAPE)
}

// SetForecastAge sets the current forecast age.
func (m *Metrics) SetForecastAge(seconds float64) {
	m.ForecastAgeSeconds.Set(seconds)
}

// SetPredictedValue sets the first forecast step.
func (m *Metrics) SetPredictedValue(value float64) {
	m.PredictedValue.Set(value)
}

// AddTrials counts completed search trials.
func (m *Metrics) AddTrials(n int) {
	m.TuningTrialsTotal.Add(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
