package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/miradorstack/river-quality/internal/config"
	"github.com/miradorstack/river-quality/internal/engine"
	"github.com/miradorstack/river-quality/internal/models"
)

func ptr(v float64) *float64 { return &v }

func strPtr(s string) *string { return &s }

type serviceStub struct {
	results map[string]models.PredictionResult
	err     error
	asked   []string
}

func (s *serviceStub) Predict(ctx context.Context, riverName string) (models.PredictionResult, error) {
	s.asked = append(s.asked, riverName)
	if s.err != nil {
		return models.PredictionResult{}, s.err
	}
	result, ok := s.results[riverName]
	if !ok {
		return models.PredictionResult{}, fmt.Errorf("%w: %q", engine.ErrRiverNotFound, riverName)
	}
	return result, nil
}

func (s *serviceStub) Rivers() []models.RiverOption {
	return []models.RiverOption{
		{Name: "RiverX", Station: strPtr("Upstream")},
		{Name: "Alpha"},
	}
}

func newStub() *serviceStub {
	return &serviceStub{results: map[string]models.PredictionResult{
		"RiverX": {
			RiverName:             "RiverX",
			Station:               strPtr("Upstream"),
			InputParameters:       models.InputParameters{PH: ptr(7.2), Hardness: ptr(150)},
			QualityScore:          71.5,
			PotabilityProbability: 0.8,
			PotabilityLabel:       models.LabelPotable,
		},
		"Sava River": {RiverName: "Sava River", PotabilityLabel: models.LabelNotPotable},
	}}
}

func newTestRouter(service PredictionService, cfg config.HTTPConfig) http.Handler {
	return NewRouter(nil, NewHandler(nil, service, cfg.IndexPath), cfg)
}

func defaultHTTPConfig() config.HTTPConfig {
	return config.HTTPConfig{CORSAllowedOrigins: []string{"*"}}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestRiversEndpoint(t *testing.T) {
	rec := get(t, newTestRouter(newStub(), defaultHTTPConfig()), "/rivers")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := `[{"name":"RiverX","station":"Upstream"},{"name":"Alpha","station":null}]`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Fatalf("unexpected body:\n got %s\nwant %s", got, want)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestPredictEndpoint(t *testing.T) {
	rec := get(t, newTestRouter(newStub(), defaultHTTPConfig()), "/predict/RiverX")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["river_name"] != "RiverX" || body["station"] != "Upstream" || body["potability_label"] != "potable" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["quality_score"] != 71.5 || body["potability_probability"] != 0.8 {
		t.Fatalf("unexpected scores %v", body)
	}
	params, ok := body["input_parameters"].(map[string]any)
	if !ok {
		t.Fatalf("missing input_parameters in %v", body)
	}
	for _, key := range []string{"ph", "hardness", "solids", "sulphates", "conductivity", "turbidity", "trichloromethane", "chloroamine", "organic_carbon", "chloride", "fluoride", "iron"} {
		if _, present := params[key]; !present {
			t.Fatalf("input_parameters missing %q", key)
		}
	}
	if params["ph"] != 7.2 || params["solids"] != nil {
		t.Fatalf("unexpected input parameters %v", params)
	}
}

func TestPredictEscapedName(t *testing.T) {
	stub := newStub()
	rec := get(t, newTestRouter(stub, defaultHTTPConfig()), "/predict/Sava%20River")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if stub.asked[0] != "Sava River" {
		t.Fatalf("expected decoded name, got %q", stub.asked[0])
	}
}

func TestPredictNotFound(t *testing.T) {
	rec := get(t, newTestRouter(newStub(), defaultHTTPConfig()), "/predict/Nowhere")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	want := `{"detail":"River 'Nowhere' not found"}`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Fatalf("unexpected body %s", got)
	}
}

func TestPredictInternalError(t *testing.T) {
	stub := newStub()
	stub.err = errors.New("model exploded")
	rec := get(t, newTestRouter(stub, defaultHTTPConfig()), "/predict/RiverX")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "exploded") {
		t.Fatalf("internal error details leaked: %s", rec.Body.String())
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Detail == "" {
		t.Fatalf("expected detail body, got %s (%v)", rec.Body.String(), err)
	}
}

type panickingService struct{}

func (panickingService) Predict(context.Context, string) (models.PredictionResult, error) {
	panic("nil model")
}

func (panickingService) Rivers() []models.RiverOption { return nil }

func TestPanicReturnsJSONDetail(t *testing.T) {
	rec := get(t, newTestRouter(panickingService{}, defaultHTTPConfig()), "/predict/RiverX")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON content type, got %q", ct)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Detail != "Internal Server Error" {
		t.Fatalf("expected detail body, got %s (%v)", rec.Body.String(), err)
	}
}

func TestRecovererRepanicsOnAbort(t *testing.T) {
	h := NewHandler(nil, newStub(), "")
	aborting := h.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rvr := recover(); rvr != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", rvr)
		}
	}()
	aborting.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestIndexEmbedded(t *testing.T) {
	rec := get(t, newTestRouter(newStub(), defaultHTTPConfig()), "/")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "River Water Quality") {
		t.Fatalf("unexpected page body")
	}
}

func TestIndexOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.html")
	if err := os.WriteFile(path, []byte("<h1>custom</h1>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	cfg := defaultHTTPConfig()
	cfg.IndexPath = path

	rec := get(t, newTestRouter(newStub(), cfg), "/")
	if rec.Body.String() != "<h1>custom</h1>" {
		t.Fatalf("expected override page, got %q", rec.Body.String())
	}

	cfg.IndexPath = filepath.Join(t.TempDir(), "missing.html")
	if rec := get(t, newTestRouter(newStub(), cfg), "/"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unreadable override, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	rec := get(t, newTestRouter(newStub(), defaultHTTPConfig()), "/healthz")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected healthz response %d %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	cfg := defaultHTTPConfig()
	cfg.RateLimitRequests = 2
	cfg.RateLimitWindow = time.Minute
	router := newTestRouter(newStub(), cfg)

	for i := 0; i < 2; i++ {
		if rec := get(t, router, "/rivers"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	if rec := get(t, router, "/rivers"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec := get(t, router, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("healthz should not be rate limited, got %d", rec.Code)
	}
}

func TestRateLimitIgnoresForwardedHeaders(t *testing.T) {
	cfg := defaultHTTPConfig()
	cfg.RateLimitRequests = 2
	cfg.RateLimitWindow = time.Minute

	send := func(router http.Handler, i int) int {
		req := httptest.NewRequest(http.MethodGet, "/rivers", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	untrusted := newTestRouter(newStub(), cfg)
	for i := 0; i < 2; i++ {
		if code := send(untrusted, i); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := send(untrusted, 2); code != http.StatusTooManyRequests {
		t.Fatalf("expected forged X-Forwarded-For to be ignored, got %d", code)
	}

	cfg.TrustProxyHeaders = true
	trusted := newTestRouter(newStub(), cfg)
	for i := 0; i < 3; i++ {
		if code := send(trusted, i); code != http.StatusOK {
			t.Fatalf("request %d behind trusted proxy: expected 200, got %d", i, code)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := defaultHTTPConfig()
	cfg.CORSAllowedOrigins = []string{"https://rivers.example"}
	router := newTestRouter(newStub(), cfg)

	req := httptest.NewRequest(http.MethodOptions, "/rivers", nil)
	req.Header.Set("Origin", "https://rivers.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://rivers.example" {
		t.Fatalf("expected allowed origin header, got %q", got)
	}
}

func TestUnknownRoute(t *testing.T) {
	if rec := get(t, newTestRouter(newStub(), defaultHTTPConfig()), "/predict/"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing river segment, got %d", rec.Code)
	}
}
