package models

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/HatiCode/lagcast/cmd/forecaster/config"
	"github.com/HatiCode/lagcast/pkg/models"
)

func TestNew(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	override := config.Params(models.DefaultParams())
	override.NEstimators = 25

	tests := []struct {
		name       string
		model      config.ModelConfig
		wantKind   string
		wantParams bool
	}{
		{"default is gbrt", config.ModelConfig{}, "gbrt", false},
		{"gbrt with override", config.ModelConfig{Kind: "gbrt", Params: &override}, "gbrt", true},
		{"byom", config.ModelConfig{Kind: "byom", Endpoint: "http://model:8000"}, "byom", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := config.SeriesConfig{Name: "sales", Model: tt.model}
			factory, params := New(sc, &http.Client{Timeout: time.Second}, logger)

			if (params != nil) != tt.wantParams {
				t.Fatalf("params = %v, want set: %v", params, tt.wantParams)
			}
			if params != nil && params.NEstimators != 25 {
				t.Errorf("NEstimators = %d, want 25", params.NEstimators)
			}

			r, err := factory(models.DefaultParams())
			if err != nil {
				t.Fatalf("factory() error = %v", err)
			}
			if r.Name() != tt.wantKind {
				t.Errorf("regressor = %q, want %q", r.Name(), tt.wantKind)
			}
		})
	}
}
