package main

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"

	"github.com/miradorstack/river-quality/internal/features"
	"github.com/miradorstack/river-quality/internal/models"
	"github.com/miradorstack/river-quality/internal/predictor"
)

func writeArtifact(t *testing.T, dir, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", name, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestMockServesRemoteProtocol(t *testing.T) {
	dir := t.TempDir()
	zeros := make([]float64, features.Count)
	ones := make([]float64, features.Count)
	for i := range ones {
		ones[i] = 1
	}
	coef := make([]float64, features.Count)
	coef[features.PH] = 2

	set, err := loadModelSet(
		writeArtifact(t, dir, "pre.json", map[string]any{
			"feature_names_in": features.Names(),
			"n_features_in":    features.Count,
			"steps": []map[string]any{
				{"kind": "impute", "statistics": zeros},
				{"kind": "scale", "mean": zeros, "scale": ones},
			},
		}),
		writeArtifact(t, dir, "reg.json", map[string]any{"kind": "linear", "coef": coef, "intercept": 1}),
		writeArtifact(t, dir, "clf.json", map[string]any{"kind": "logistic", "coef": zeros, "intercept": 0}),
	)
	if err != nil {
		t.Fatalf("load model set: %v", err)
	}

	srv := httptest.NewServer(newMux(set))
	defer srv.Close()

	adapter, err := predictor.LoadRemote(context.Background(), predictor.RemoteConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("connect adapter: %v", err)
	}

	ph := 7.0
	vec, err := features.NewEngineer().Build(models.WaterSample{Name: "RiverX", PH: &ph})
	if err != nil {
		t.Fatalf("build vector: %v", err)
	}
	out, err := adapter.Predict(context.Background(), vec)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if math.Abs(out.QualityScore-15) > 1e-9 {
		t.Fatalf("expected score 15, got %v", out.QualityScore)
	}
	if out.Probability != 0.5 || out.Class != 0 {
		t.Fatalf("unexpected classification %+v", out)
	}
}

func TestMockRejectsGet(t *testing.T) {
	srv := httptest.NewServer(newMux(&modelSet{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/regressor/predict")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
