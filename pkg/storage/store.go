// Package storage keeps the latest forecast per series and the published
// model artifacts.
package storage

import (
	"context"
	"fmt"
	"time"
)

// Snapshot is one forecast run for a series.
type Snapshot struct {
	Series      string    `json:"series"`
	Target      string    `json:"target"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generatedAt"`
	StepSeconds int       `json:"stepSeconds"`

	Dates  []time.Time `json:"dates"`
	Values []float64   `json:"values"`

	// Groups holds the group column values of each row for grouped series,
	// keyed by column name.
	Groups map[string][]string `json:"groups,omitempty"`

	// Bands holds the interval columns keyed by column name
	// (e.g. sales_0.1th_pc). Each slice matches Values in length.
	Bands map[string][]float64 `json:"bands,omitempty"`

	ValidationRMSE float64 `json:"validationRmse"`
	// TestWAPE is nil when the model had no test rows.
	TestWAPE *float64 `json:"testWape,omitempty"`
}

// Store keeps the latest snapshot per series.
type Store interface {
	Put(ctx context.Context, snapshot Snapshot) error
	GetLatest(ctx context.Context, series string) (Snapshot, bool, error)
}

// Artifact is a serialized model with its metadata.
type Artifact struct {
	Name      string            `json:"name"`
	Kind      string            `json:"kind"`
	CreatedAt time.Time         `json:"createdAt"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Data      []byte            `json:"data"`
}

// ArtifactStore keeps the latest artifact per name.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, artifact Artifact) error
	GetArtifact(ctx context.Context, name string) (Artifact, bool, error)
}

// validateName restricts keys to alphanumerics, hyphens, underscores and dots.
func validateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name required", kind)
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.') {
			return fmt.Errorf("invalid %s name %q: only alphanumeric, hyphens, underscores and dots allowed", kind, name)
		}
	}
	return nil
}
