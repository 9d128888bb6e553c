// Package client reads forecasts from a running forecaster over its HTTP API.
//
// Consumers such as autoscalers or planning jobs call Current to fetch the
// latest snapshot of a series, and Peak to reduce it to the largest value
// expected within a lead time.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HatiCode/lagcast/pkg/httpx"
	"github.com/HatiCode/lagcast/pkg/storage"
	"github.com/HatiCode/lagcast/pkg/tls"
)

// Forecast is a snapshot as served by the forecaster.
type Forecast struct {
	storage.Snapshot
	// Stale is set when the forecaster flagged the snapshot as older than
	// twice its refresh interval.
	Stale bool
}

// Client fetches forecasts from one forecaster.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client for the forecaster at baseURL, using mTLS when
// tlsCfg is enabled.
func New(baseURL string, tlsCfg tls.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid forecaster URL %q: %w", baseURL, err)
	}

	httpClient, err := httpx.NewClient(tlsCfg, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("create HTTP client: %w", err)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}, nil
}

type wireForecast struct {
	Series         string                `json:"series"`
	Target         string                `json:"target"`
	Model          string                `json:"model"`
	GeneratedAt    time.Time             `json:"generatedAt"`
	StepSeconds    int                   `json:"stepSeconds"`
	Dates          []time.Time           `json:"dates"`
	Values         []*float64            `json:"values"`
	Groups         map[string][]string   `json:"groups"`
	Bands          map[string][]*float64 `json:"bands"`
	ValidationRMSE *float64              `json:"validationRmse"`
	TestWAPE       *float64              `json:"testWape"`
}

// Current fetches the latest forecast of series. Null values decode as NaN.
func (c *Client) Current(ctx context.Context, series string) (*Forecast, error) {
	u := fmt.Sprintf("%s/forecast/current?series=%s", c.baseURL, url.QueryEscape(series))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch forecast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e httpx.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return nil, fmt.Errorf("forecaster returned status %d: %s", resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("forecaster returned status %d", resp.StatusCode)
	}

	var w wireForecast
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return nil, fmt.Errorf("failed to decode forecast: %w", err)
	}

	f := &Forecast{
		Snapshot: storage.Snapshot{
			Series:         w.Series,
			Target:         w.Target,
			Model:          w.Model,
			GeneratedAt:    w.GeneratedAt,
			StepSeconds:    w.StepSeconds,
			Dates:          w.Dates,
			Values:         fromNullable(w.Values),
			Groups:         w.Groups,
			ValidationRMSE: math.NaN(),
			TestWAPE:       w.TestWAPE,
		},
		Stale: resp.Header.Get("X-Lagcast-Stale") == "true",
	}
	if w.ValidationRMSE != nil {
		f.ValidationRMSE = *w.ValidationRMSE
	}
	if len(w.Bands) > 0 {
		f.Bands = make(map[string][]float64, len(w.Bands))
		for name, values := range w.Bands {
			f.Bands[name] = fromNullable(values)
		}
	}

	c.logger.Debug("fetched forecast",
		"series", series,
		"points", len(f.Values),
		"stale", f.Stale,
	)
	return f, nil
}

// Peak returns the largest forecast value among the steps dated within lead
// of the first step, so a consumer provisions for the highest load it will
// see before the next refresh. Missing values are skipped; NaN is returned
// when no value is available. Grouped forecasts are reduced across groups.
func (f *Forecast) Peak(lead time.Duration) float64 {
	if len(f.Dates) == 0 || len(f.Dates) != len(f.Values) {
		return math.NaN()
	}
	first := f.Dates[0]
	for _, d := range f.Dates {
		if d.Before(first) {
			first = d
		}
	}
	if lead < 0 {
		lead = 0
	}
	end := first.Add(lead)

	peak := math.NaN()
	for i, d := range f.Dates {
		if d.After(end) || math.IsNaN(f.Values[i]) {
			continue
		}
		if math.IsNaN(peak) || f.Values[i] > peak {
			peak = f.Values[i]
		}
	}
	return peak
}

func fromNullable(values []*float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	return out
}
