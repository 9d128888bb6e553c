// Package registry publishes fitted models to an artifact store and loads
// them back.
//
// Each model kind has a Codec registered under its Regressor.Name tag. The
// table is filled when the Registry is created; publishing a model whose
// kind has no codec is an error.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/lagcast/pkg/models"
	"github.com/HatiCode/lagcast/pkg/storage"
)

// Codec serializes one model kind.
type Codec struct {
	Encode func(m models.Regressor) ([]byte, error)
	Decode func(data []byte) (models.Regressor, error)
}

// Metadata describes a published model.
type Metadata struct {
	Kind           string
	Params         models.Params
	Features       []string
	ValidationRMSE float64
	TestWAPE       float64
}

// Registry maps model kinds to codecs.
type Registry struct {
	codecs map[string]Codec
	now    func() time.Time
}

// New returns a registry with the gbrt and byom codecs.
func New() *Registry {
	r := &Registry{
		codecs: make(map[string]Codec),
		now:    time.Now,
	}
	r.Register("gbrt", jsonCodec(func() models.Regressor { return &models.GBRT{} }))
	r.Register("byom", jsonCodec(func() models.Regressor { return &models.BYOMRegressor{} }))
	return r
}

// jsonCodec encodes models that implement json.Marshaler and
// json.Unmarshaler through their pointer type.
func jsonCodec(newModel func() models.Regressor) Codec {
	return Codec{
		Encode: func(m models.Regressor) ([]byte, error) {
			return json.Marshal(m)
		},
		Decode: func(data []byte) (models.Regressor, error) {
			m := newModel()
			if err := json.Unmarshal(data, m); err != nil {
				return nil, err
			}
			return m, nil
		},
	}
}

// Register adds or replaces the codec for kind.
func (r *Registry) Register(kind string, c Codec) {
	r.codecs[kind] = c
}

// Kinds lists the registered kinds in order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.codecs))
	for k := range r.codecs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Publish encodes model and writes it to sink under name.
func (r *Registry) Publish(ctx context.Context, sink storage.ArtifactStore, name string, model models.Regressor, meta Metadata) (storage.Artifact, error) {
	if model == nil {
		return storage.Artifact{}, fmt.Errorf("publish %s: model is nil", name)
	}
	kind := model.Name()
	codec, ok := r.codecs[kind]
	if !ok {
		return storage.Artifact{}, fmt.Errorf("publish %s: no codec for model kind %q (known: %s)",
			name, kind, strings.Join(r.Kinds(), ", "))
	}

	data, err := codec.Encode(model)
	if err != nil {
		return storage.Artifact{}, fmt.Errorf("publish %s: encode %s model: %w", name, kind, err)
	}
	meta.Kind = kind
	md, err := meta.encode()
	if err != nil {
		return storage.Artifact{}, fmt.Errorf("publish %s: %w", name, err)
	}

	a := storage.Artifact{
		Name:      name,
		Kind:      kind,
		CreatedAt: r.now().UTC(),
		Metadata:  md,
		Data:      data,
	}
	if err := sink.PutArtifact(ctx, a); err != nil {
		return storage.Artifact{}, fmt.Errorf("publish %s: %w", name, err)
	}
	return a, nil
}

// Load reads the artifact name from src and decodes it with the codec of its
// kind.
func (r *Registry) Load(ctx context.Context, src storage.ArtifactStore, name string) (models.Regressor, Metadata, error) {
	a, found, err := src.GetArtifact(ctx, name)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("load %s: %w", name, err)
	}
	if !found {
		return nil, Metadata{}, fmt.Errorf("load %s: artifact not found", name)
	}
	codec, ok := r.codecs[a.Kind]
	if !ok {
		return nil, Metadata{}, fmt.Errorf("load %s: no codec for model kind %q", name, a.Kind)
	}
	model, err := codec.Decode(a.Data)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("load %s: decode %s model: %w", name, a.Kind, err)
	}
	meta, err := decodeMetadata(a.Metadata)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("load %s: %w", name, err)
	}
	meta.Kind = a.Kind
	return model, meta, nil
}

const (
	keyParams   = "params"
	keyFeatures = "features"
	keyValRMSE  = "validation_rmse"
	keyTestWAPE = "test_wape"
)

func (m Metadata) encode() (map[string]string, error) {
	params, err := json.Marshal(m.Params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	features, err := json.Marshal(m.Features)
	if err != nil {
		return nil, fmt.Errorf("encode features: %w", err)
	}
	md := map[string]string{
		keyParams:   string(params),
		keyFeatures: string(features),
		keyValRMSE:  formatFloat(m.ValidationRMSE),
		keyTestWAPE: formatFloat(m.TestWAPE),
	}
	return md, nil
}

func decodeMetadata(md map[string]string) (Metadata, error) {
	var m Metadata
	if p := md[keyParams]; p != "" {
		if err := json.Unmarshal([]byte(p), &m.Params); err != nil {
			return m, fmt.Errorf("decode params: %w", err)
		}
	}
	if f := md[keyFeatures]; f != "" {
		if err := json.Unmarshal([]byte(f), &m.Features); err != nil {
			return m, fmt.Errorf("decode features: %w", err)
		}
	}
	var err error
	if m.ValidationRMSE, err = parseFloat(md[keyValRMSE]); err != nil {
		return m, fmt.Errorf("decode %s: %w", keyValRMSE, err)
	}
	if m.TestWAPE, err = parseFloat(md[keyTestWAPE]); err != nil {
		return m, fmt.Errorf("decode %s: %w", keyTestWAPE, err)
	}
	return m, nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
