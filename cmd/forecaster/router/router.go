// Package router configures HTTP routes for the forecaster's HTTP API.
//
// Routes configured:
//   - GET /forecast/current?series=<name> - Retrieve the latest forecast snapshot
//   - GET /models/current?series=<name> - Describe the latest published model
//   - GET /healthz - Health check endpoint (503 when the store is unreachable)
//   - GET /metrics - Prometheus metrics endpoint
//
// Snapshots older than the stale threshold carry an X-Lagcast-Stale header.
// Missing forecast values (NaN) are encoded as JSON null.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/lagcast/pkg/httpx"
	"github.com/HatiCode/lagcast/pkg/storage"
)

// StaleHeader marks snapshots older than the stale threshold.
const StaleHeader = "X-Lagcast-Stale"

var seriesNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_.-]{0,251}[a-zA-Z0-9])?$`)

// SetupRoutes configures HTTP endpoints for the forecaster.
func SetupRoutes(store storage.Store, artifacts storage.ArtifactStore, staleAfter time.Duration, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/healthz", httpx.HealthHandler(healthCheck(store)))
	mux.HandleFunc("/forecast/current", handleGetSnapshot(store, staleAfter, logger))
	if artifacts != nil {
		mux.HandleFunc("/models/current", handleGetModel(artifacts, logger))
	}
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// healthCheck pings stores that support it, such as Redis.
func healthCheck(store storage.Store) func(context.Context) error {
	p, ok := store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("store unreachable: %w", err)
		}
		return nil
	}
}

// seriesParam returns the validated series query parameter, writing a 400
// response when it is missing or malformed.
func seriesParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	series := r.URL.Query().Get("series")
	if series == "" {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "series parameter required")
		return "", false
	}
	if !seriesNameRegex.MatchString(series) {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid series name format")
		return "", false
	}
	return series, true
}

type snapshotResponse struct {
	Series         string                `json:"series"`
	Target         string                `json:"target"`
	Model          string                `json:"model"`
	GeneratedAt    string                `json:"generatedAt"`
	StepSeconds    int                   `json:"stepSeconds"`
	Dates          []string              `json:"dates"`
	Values         []*float64            `json:"values"`
	Groups         map[string][]string   `json:"groups,omitempty"`
	Bands          map[string][]*float64 `json:"bands,omitempty"`
	ValidationRMSE *float64              `json:"validationRmse"`
	TestWAPE       *float64              `json:"testWape"`
}

// handleGetSnapshot returns a handler for GET /forecast/current?series=<name>.
func handleGetSnapshot(store storage.Store, staleAfter time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		series, ok := seriesParam(w, r)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		snapshot, found, err := store.GetLatest(ctx, series)
		if err != nil {
			logger.Error("failed to get snapshot", "series", series, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("snapshot not found for series %q", series))
			return
		}

		if time.Since(snapshot.GeneratedAt) > staleAfter {
			w.Header().Set(StaleHeader, "true")
		}

		resp := snapshotResponse{
			Series:         snapshot.Series,
			Target:         snapshot.Target,
			Model:          snapshot.Model,
			GeneratedAt:    snapshot.GeneratedAt.Format(time.RFC3339),
			StepSeconds:    snapshot.StepSeconds,
			Dates:          make([]string, len(snapshot.Dates)),
			Values:         nullable(snapshot.Values),
			Groups:         snapshot.Groups,
			ValidationRMSE: nullableValue(snapshot.ValidationRMSE),
		}
		for i, d := range snapshot.Dates {
			resp.Dates[i] = d.UTC().Format(time.RFC3339)
		}
		if len(snapshot.Bands) > 0 {
			resp.Bands = make(map[string][]*float64, len(snapshot.Bands))
			for name, values := range snapshot.Bands {
				resp.Bands[name] = nullable(values)
			}
		}
		if snapshot.TestWAPE != nil {
			resp.TestWAPE = nullableValue(*snapshot.TestWAPE)
		}

		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handleGetModel returns a handler for GET /models/current?series=<name>.
// The serialized model itself is not returned.
func handleGetModel(artifacts storage.ArtifactStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		series, ok := seriesParam(w, r)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		a, found, err := artifacts.GetArtifact(ctx, series)
		if err != nil {
			logger.Error("failed to get artifact", "series", series, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("no model published for series %q", series))
			return
		}

		resp := map[string]any{
			"name":      a.Name,
			"kind":      a.Kind,
			"createdAt": a.CreatedAt.Format(time.RFC3339),
			"metadata":  a.Metadata,
			"sizeBytes": len(a.Data),
		}
		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func nullable(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i := range values {
		out[i] = nullableValue(values[i])
	}
	return out
}

func nullableValue(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
