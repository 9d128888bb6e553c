package models

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/HatiCode/lagcast/pkg/scoring"
)

// stepData returns y = 10 when x0 <= 0.5 and y = 20 otherwise, plus noise
// features.
func stepData(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range X {
		x0 := rng.Float64()
		X[i] = []float64{x0, rng.Float64(), rng.Float64()}
		if x0 <= 0.5 {
			y[i] = 10
		} else {
			y[i] = 20
		}
	}
	return X, y
}

func TestGBRT_FitsStepFunction(t *testing.T) {
	X, y := stepData(400, 1)
	p := DefaultParams()
	p.NEstimators = 60

	m, err := NewGBRT(p)
	if err != nil {
		t.Fatalf("NewGBRT() error = %v", err)
	}
	if err := m.Fit(context.Background(), X, y, FitOptions{}); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	pred, err := m.Predict(context.Background(), [][]float64{{0.1, 0.5, 0.5}, {0.9, 0.5, 0.5}})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if math.Abs(pred[0]-10) > 0.5 || math.Abs(pred[1]-20) > 0.5 {
		t.Errorf("predictions = %v, want close to [10 20]", pred)
	}
}

func TestGBRT_EarlyStopping(t *testing.T) {
	X, y := stepData(300, 2)
	evalX, evalY := stepData(100, 3)

	p := DefaultParams()
	p.NEstimators = 500
	p.LearningRate = 0.3

	m, _ := NewGBRT(p)
	err := m.Fit(context.Background(), X, y, FitOptions{
		EvalX:               evalX,
		EvalY:               evalY,
		Metric:              scoring.WAPEEval,
		EarlyStoppingRounds: 5,
	})
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if m.BestIteration() == 0 {
		t.Fatal("best iteration not recorded")
	}
	if m.Trees() != m.BestIteration() {
		t.Errorf("kept %d trees, want best iteration %d", m.Trees(), m.BestIteration())
	}
	if m.Trees() >= p.NEstimators {
		t.Errorf("early stopping did not trigger: %d trees", m.Trees())
	}
}

func TestGBRT_EarlyStoppingHigherIsBetter(t *testing.T) {
	X, y := stepData(200, 4)
	evalX, evalY := stepData(50, 5)

	scores := []float64{0.2, 0.6, 0.9, 0.7, 0.8, 0.5, 0.95}
	round := 0
	accuracy := func(_, _ []float64) (scoring.Result, error) {
		v := scores[min(round, len(scores)-1)]
		round++
		return scoring.Result{Name: "accuracy", Value: v, HigherIsBetter: true}, nil
	}

	p := DefaultParams()
	p.NEstimators = 50
	m, _ := NewGBRT(p)
	err := m.Fit(context.Background(), X, y, FitOptions{
		EvalX:               evalX,
		EvalY:               evalY,
		Metric:              accuracy,
		EarlyStoppingRounds: 3,
	})
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if m.BestIteration() != 3 {
		t.Errorf("best iteration = %d, want 3", m.BestIteration())
	}
	if m.Trees() != 3 {
		t.Errorf("kept %d trees, want 3", m.Trees())
	}
	if round != 6 {
		t.Errorf("evaluated %d rounds, want 6", round)
	}
}

func TestGBRT_GOSSAndColumnSampling(t *testing.T) {
	X, y := stepData(500, 4)
	p := DefaultParams()
	p.BoostingType = "GOSS"
	p.NEstimators = 40
	p.LearningRate = 0.2
	p.ColsampleByTree = 0.5
	p.MaxDepth = 3
	p.RegLambda = 1
	p.RegAlpha = 0.5

	m, err := NewGBRT(p)
	if err != nil {
		t.Fatalf("NewGBRT() error = %v", err)
	}
	if err := m.Fit(context.Background(), X, y, FitOptions{}); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	pred, _ := m.Predict(context.Background(), X)
	wape, err := scoring.WAPE(y, pred)
	if err != nil {
		t.Fatal(err)
	}
	if wape > 0.2 {
		t.Errorf("training WAPE = %v, want < 0.2", wape)
	}
}

func TestGBRT_Deterministic(t *testing.T) {
	X, y := stepData(200, 5)
	p := DefaultParams()
	p.BoostingType = BoostingGOSS
	p.ColsampleByTree = 0.6
	p.NEstimators = 30

	fit := func() []float64 {
		m, _ := NewGBRT(p)
		if err := m.Fit(context.Background(), X, y, FitOptions{}); err != nil {
			t.Fatal(err)
		}
		out, _ := m.Predict(context.Background(), X[:10])
		return out
	}
	a, b := fit(), fit()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed gave different predictions at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestGBRT_MissingValuesGoLeft(t *testing.T) {
	X := [][]float64{{1}, {2}, {3}, {10}, {11}, {12}}
	y := []float64{1, 1, 1, 5, 5, 5}
	p := DefaultParams()
	p.MinChildSamples = 1
	p.NEstimators = 50

	m, _ := NewGBRT(p)
	if err := m.Fit(context.Background(), X, y, FitOptions{}); err != nil {
		t.Fatal(err)
	}
	pred, _ := m.Predict(context.Background(), [][]float64{{math.NaN()}, {1}})
	if math.Abs(pred[0]-pred[1]) > 1e-9 {
		t.Errorf("NaN prediction %v should match the left-most leaf %v", pred[0], pred[1])
	}
}

func TestGBRT_JSONRoundTrip(t *testing.T) {
	X, y := stepData(100, 6)
	m, _ := NewGBRT(DefaultParams())
	if err := m.Fit(context.Background(), X, y, FitOptions{Features: []string{"a", "b", "c"}}); err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var restored GBRT
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	want, _ := m.Predict(context.Background(), X[:5])
	got, err := restored.Predict(context.Background(), X[:5])
	if err != nil {
		t.Fatalf("restored Predict() error = %v", err)
	}
	for i := range want {
		if want[i] != got[i] {
			t.Errorf("row %d: restored %v, original %v", i, got[i], want[i])
		}
	}
}

func TestGBRT_Errors(t *testing.T) {
	m, _ := NewGBRT(DefaultParams())
	if _, err := m.Predict(context.Background(), [][]float64{{1}}); err == nil {
		t.Error("expected error predicting with an untrained model")
	}
	if err := m.Fit(context.Background(), nil, nil, FitOptions{}); err == nil {
		t.Error("expected error fitting an empty set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	X, y := stepData(20, 7)
	if err := m.Fit(ctx, X, y, FitOptions{}); err == nil {
		t.Error("expected context error")
	}
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"boosting", func(p *Params) { p.BoostingType = "dart" }},
		{"leaves", func(p *Params) { p.NumLeaves = 1 }},
		{"learning rate", func(p *Params) { p.LearningRate = 0 }},
		{"estimators", func(p *Params) { p.NEstimators = 0 }},
		{"colsample", func(p *Params) { p.ColsampleByTree = 1.5 }},
		{"lambda", func(p *Params) { p.RegLambda = -1 }},
	}

	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
