package main

import (
	"context"
	"flag"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/miradorstack/river-quality/internal/predictor"
)

type rowsRequest struct {
	Rows [][]*float64 `json:"rows"`
}

type modelSet struct {
	preprocessor *predictor.Preprocessor
	regressor    predictor.Regressor
	classifier   predictor.Classifier
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	prePath := flag.String("preprocessor", "artifacts/preprocessor.json", "preprocessor artifact")
	regPath := flag.String("regressor", "artifacts/regressor.json", "regressor artifact")
	clfPath := flag.String("classifier", "artifacts/classifier.json", "classifier artifact")
	flag.Parse()

	logger := log.New(log.Writer(), "models-mock ", log.LstdFlags|log.Lmicroseconds)

	set, err := loadModelSet(*prePath, *regPath, *clfPath)
	if err != nil {
		logger.Fatalf("load artifacts: %v", err)
	}

	srv := &http.Server{
		Addr:    *addr,
		Handler: logRequests(logger, newMux(set)),
	}

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func loadModelSet(prePath, regPath, clfPath string) (*modelSet, error) {
	pre, err := predictor.LoadPreprocessor(prePath)
	if err != nil {
		return nil, err
	}
	reg, err := predictor.LoadRegressor(regPath)
	if err != nil {
		return nil, err
	}
	clf, err := predictor.LoadClassifier(clfPath)
	if err != nil {
		return nil, err
	}
	return &modelSet{preprocessor: pre, regressor: reg, classifier: clf}, nil
}

func newMux(set *modelSet) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/preprocessor/features", func(w http.ResponseWriter, r *http.Request) {
		names := set.preprocessor.FeatureNamesIn()
		if names == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"feature_names_in": names})
	})

	mux.HandleFunc("/v1/preprocessor/transform", rowsHandler(func(ctx context.Context, row []float64) (any, error) {
		return set.preprocessor.Transform(ctx, row)
	}, func(out []any) any { return map[string]any{"rows": out} }))

	mux.HandleFunc("/v1/regressor/predict", rowsHandler(func(ctx context.Context, row []float64) (any, error) {
		return set.regressor.Predict(ctx, row)
	}, func(out []any) any { return map[string]any{"predictions": out} }))

	mux.HandleFunc("/v1/classifier/predict", rowsHandler(func(ctx context.Context, row []float64) (any, error) {
		return set.classifier.Predict(ctx, row)
	}, func(out []any) any { return map[string]any{"labels": out} }))

	mux.HandleFunc("/v1/classifier/predict_proba", rowsHandler(func(ctx context.Context, row []float64) (any, error) {
		p, err := set.classifier.PredictProbability(ctx, row)
		if err != nil {
			return nil, err
		}
		return []float64{1 - p, p}, nil
	}, func(out []any) any { return map[string]any{"probabilities": out} }))

	return mux
}

// rowsHandler decodes a batch of rows (nulls become NaN), applies fn to each and wraps the results.
func rowsHandler(fn func(context.Context, []float64) (any, error), wrap func([]any) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req rowsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload: "+err.Error(), http.StatusBadRequest)
			return
		}
		out := make([]any, 0, len(req.Rows))
		for _, encoded := range req.Rows {
			row := make([]float64, len(encoded))
			for i, v := range encoded {
				if v == nil {
					row[i] = math.NaN()
					continue
				}
				row[i] = *v
			}
			result, err := fn(r.Context(), row)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			out = append(out, result)
		}
		writeJSON(w, wrap(out))
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
