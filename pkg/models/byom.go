package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// BYOMRegressor delegates training and prediction to an external HTTP
// service, so any model family (LightGBM, XGBoost, a neural network) can be
// plugged in behind the Regressor contract.
//
// The service must implement:
//
//	POST {endpoint}/fit      body: byomFitRequest    -> 2xx
//	POST {endpoint}/predict  body: byomPredictRequest -> {"values": [...]}
//
// The predictions are read from the response with a gjson path, "values" by
// default, so services with a different envelope can be used as-is.
type BYOMRegressor struct {
	endpoint   string
	valuesPath string
	params     Params
	client     *http.Client
	features   []string
	fitted     bool
}

type byomFitRequest struct {
	Features            []string    `json:"features"`
	X                   [][]float64 `json:"x"`
	Y                   []float64   `json:"y"`
	EvalX               [][]float64 `json:"evalX,omitempty"`
	EvalY               []float64   `json:"evalY,omitempty"`
	EvalMetric          string      `json:"evalMetric,omitempty"`
	EarlyStoppingRounds int         `json:"earlyStoppingRounds,omitempty"`
	Params              Params      `json:"params"`
}

type byomPredictRequest struct {
	Features []string    `json:"features"`
	X        [][]float64 `json:"x"`
}

// BYOMOption configures a BYOMRegressor.
type BYOMOption func(*BYOMRegressor)

// WithValuesPath sets the gjson path of the prediction array in the
// /predict response.
func WithValuesPath(path string) BYOMOption {
	return func(m *BYOMRegressor) { m.valuesPath = path }
}

// WithHTTPClient replaces the default client, e.g. with an mTLS client.
func WithHTTPClient(c *http.Client) BYOMOption {
	return func(m *BYOMRegressor) { m.client = c }
}

// NewBYOMRegressor creates a regressor backed by the service at endpoint.
func NewBYOMRegressor(endpoint string, params Params, opts ...BYOMOption) *BYOMRegressor {
	m := &BYOMRegressor{
		endpoint:   strings.TrimRight(endpoint, "/"),
		valuesPath: "values",
		params:     params,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BYOMFactory returns a Factory producing regressors for endpoint.
func BYOMFactory(endpoint string, opts ...BYOMOption) Factory {
	return func(p Params) (Regressor, error) {
		if endpoint == "" {
			return nil, fmt.Errorf("byom: endpoint is required")
		}
		return NewBYOMRegressor(endpoint, p, opts...), nil
	}
}

// Name implements Regressor.
func (m *BYOMRegressor) Name() string {
	return "byom"
}

// Endpoint returns the service base URL.
func (m *BYOMRegressor) Endpoint() string {
	return m.endpoint
}

// Fit implements Regressor. The evaluation metric is sent by name; the
// service is responsible for early stopping.
func (m *BYOMRegressor) Fit(ctx context.Context, X [][]float64, y []float64, opts FitOptions) error {
	if len(X) == 0 {
		return fmt.Errorf("byom: training set cannot be empty")
	}
	if len(X) != len(y) {
		return fmt.Errorf("byom: %d rows and %d targets", len(X), len(y))
	}

	req := byomFitRequest{
		Features:            opts.Features,
		X:                   X,
		Y:                   y,
		EvalX:               opts.EvalX,
		EvalY:               opts.EvalY,
		EvalMetric:          strings.ToLower(opts.MetricName),
		EarlyStoppingRounds: opts.EarlyStoppingRounds,
		Params:              m.params,
	}

	if _, err := m.post(ctx, "/fit", req); err != nil {
		return err
	}
	m.features = opts.Features
	m.fitted = true
	return nil
}

// Predict implements Regressor.
func (m *BYOMRegressor) Predict(ctx context.Context, X [][]float64) ([]float64, error) {
	if !m.fitted {
		return nil, fmt.Errorf("byom: model is not fitted")
	}
	if len(X) == 0 {
		return nil, fmt.Errorf("byom: features cannot be empty")
	}

	body, err := m.post(ctx, "/predict", byomPredictRequest{Features: m.features, X: X})
	if err != nil {
		return nil, err
	}

	result := gjson.GetBytes(body, m.valuesPath)
	if !result.IsArray() {
		return nil, fmt.Errorf("byom: response has no array at %q", m.valuesPath)
	}
	items := result.Array()
	if len(items) != len(X) {
		return nil, fmt.Errorf("byom: expected %d predictions, got %d", len(X), len(items))
	}

	values := make([]float64, len(items))
	for i, item := range items {
		if item.Type != gjson.Number {
			return nil, fmt.Errorf("byom: prediction %d is not a number: %s", i, item.Raw)
		}
		values[i] = item.Float()
	}
	return values, nil
}

func (m *BYOMRegressor) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("byom: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("byom: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("byom: http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("byom: http %d: %s", resp.StatusCode, string(bodyBytes))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("byom: read response: %w", err)
	}
	return data, nil
}

type byomState struct {
	Endpoint   string   `json:"endpoint"`
	ValuesPath string   `json:"values_path"`
	Params     Params   `json:"params"`
	Features   []string `json:"features,omitempty"`
}

// MarshalJSON encodes the service reference. The model itself lives in the
// external service.
func (m *BYOMRegressor) MarshalJSON() ([]byte, error) {
	return json.Marshal(byomState{m.endpoint, m.valuesPath, m.params, m.features})
}

// UnmarshalJSON restores a reference to a model the service has already
// fitted, so Predict can be called without a new Fit.
func (m *BYOMRegressor) UnmarshalJSON(data []byte) error {
	var st byomState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	if st.Endpoint == "" {
		return fmt.Errorf("byom: endpoint is required")
	}
	restored := NewBYOMRegressor(st.Endpoint, st.Params)
	if st.ValuesPath != "" {
		restored.valuesPath = st.ValuesPath
	}
	if m.client != nil {
		restored.client = m.client
	}
	restored.features = st.Features
	restored.fitted = true
	*m = *restored
	return nil
}
