package models

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBYOMRegressor_Name(t *testing.T) {
	model := NewBYOMRegressor("http://localhost:8082", DefaultParams())
	if model.Name() != "byom" {
		t.Errorf("expected name 'byom', got %q", model.Name())
	}
}

func TestBYOMRegressor_FitAndPredict(t *testing.T) {
	var fitReq byomFitRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}

		switch r.URL.Path {
		case "/fit":
			if err := json.NewDecoder(r.Body).Decode(&fitReq); err != nil {
				t.Errorf("failed to decode fit request: %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case "/predict":
			var req byomPredictRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("failed to decode predict request: %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			values := make([]float64, len(req.X))
			for i, row := range req.X {
				values[i] = row[0] * 2
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"values": values})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	model := NewBYOMRegressor(server.URL+"/", DefaultParams())
	ctx := context.Background()

	err := model.Fit(ctx, [][]float64{{1}, {2}}, []float64{2, 4}, FitOptions{
		Features:            []string{"sales_lag_1"},
		EvalX:               [][]float64{{3}},
		EvalY:               []float64{6},
		MetricName:          "WAPE",
		EarlyStoppingRounds: 100,
	})
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if len(fitReq.Y) != 2 || fitReq.EvalMetric != "wape" || fitReq.EarlyStoppingRounds != 100 {
		t.Errorf("unexpected fit request: %+v", fitReq)
	}
	if fitReq.Params.NumLeaves != DefaultParams().NumLeaves {
		t.Errorf("params not forwarded: %+v", fitReq.Params)
	}

	pred, err := model.Predict(ctx, [][]float64{{5}, {7}})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if len(pred) != 2 || pred[0] != 10 || pred[1] != 14 {
		t.Errorf("predictions = %v, want [10 14]", pred)
	}
}

func TestBYOMRegressor_CustomValuesPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/predict" {
			_, _ = w.Write([]byte(`{"result":{"forecast":[1.5,2.5]}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	model := NewBYOMRegressor(server.URL, DefaultParams(), WithValuesPath("result.forecast"))
	ctx := context.Background()
	if err := model.Fit(ctx, [][]float64{{1}}, []float64{1}, FitOptions{}); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	pred, err := model.Predict(ctx, [][]float64{{1}, {2}})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if pred[0] != 1.5 || pred[1] != 2.5 {
		t.Errorf("predictions = %v, want [1.5 2.5]", pred)
	}
}

func TestBYOMRegressor_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fit":
			w.WriteHeader(http.StatusOK)
		default:
			_, _ = w.Write([]byte(`{"values":[1]}`))
		}
	}))
	defer server.Close()

	ctx := context.Background()
	model := NewBYOMRegressor(server.URL, DefaultParams())

	if _, err := model.Predict(ctx, [][]float64{{1}}); err == nil {
		t.Error("expected error predicting before fit")
	}
	if err := model.Fit(ctx, nil, nil, FitOptions{}); err == nil {
		t.Error("expected error for empty training set")
	}
	if err := model.Fit(ctx, [][]float64{{1}}, []float64{1}, FitOptions{}); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if _, err := model.Predict(ctx, [][]float64{{1}, {2}}); err == nil {
		t.Error("expected error for prediction count mismatch")
	}
}

func TestBYOMRegressor_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer server.Close()

	model := NewBYOMRegressor(server.URL, DefaultParams())
	if err := model.Fit(context.Background(), [][]float64{{1}}, []float64{1}, FitOptions{}); err == nil {
		t.Error("expected error for HTTP 500")
	}
}

func TestBYOMFactory(t *testing.T) {
	if _, err := BYOMFactory("")(DefaultParams()); err == nil {
		t.Error("expected error for empty endpoint")
	}
	r, err := BYOMFactory("http://model:8080")(DefaultParams())
	if err != nil {
		t.Fatalf("factory error: %v", err)
	}
	if r.Name() != "byom" {
		t.Errorf("Name() = %q", r.Name())
	}
}

func TestBYOMRegressor_JSONRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"out":[3]}`))
	}))
	defer server.Close()

	model := NewBYOMRegressor(server.URL, DefaultParams(), WithValuesPath("out"))
	if err := model.Fit(context.Background(), [][]float64{{1}}, []float64{1}, FitOptions{Features: []string{"a"}}); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(model)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var restored BYOMRegressor
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if restored.Endpoint() != server.URL {
		t.Errorf("Endpoint() = %q, want %q", restored.Endpoint(), server.URL)
	}
	pred, err := restored.Predict(context.Background(), [][]float64{{1}})
	if err != nil {
		t.Fatalf("restored Predict() error = %v", err)
	}
	if pred[0] != 3 {
		t.Errorf("prediction = %v, want 3", pred[0])
	}

	if err := json.Unmarshal([]byte(`{"values_path":"x"}`), &restored); err == nil {
		t.Error("expected error without endpoint")
	}
}
