package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/miradorstack/river-quality/internal/engine"
	"github.com/miradorstack/river-quality/internal/models"
)

// PredictionService is the behaviour the HTTP handlers need from the service layer.
type PredictionService interface {
	Predict(ctx context.Context, riverName string) (models.PredictionResult, error)
	Rivers() []models.RiverOption
}

// Handler serves the public HTTP API.
type Handler struct {
	logger    *slog.Logger
	service   PredictionService
	indexPath string
}

// NewHandler constructs the HTTP handlers. A non-empty indexPath overrides the embedded page.
func NewHandler(logger *slog.Logger, service PredictionService, indexPath string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, indexPath: indexPath}
}

type errorBody struct {
	Detail string `json:"detail"`
}

// Rivers lists the selectable rivers in catalog order.
func (h *Handler) Rivers(w http.ResponseWriter, r *http.Request) {
	rivers := h.service.Rivers()
	if rivers == nil {
		rivers = []models.RiverOption{}
	}
	h.writeJSON(w, http.StatusOK, rivers)
}

// Predict returns the prediction for the river named in the path.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	name := riverParam(r)

	result, err := h.service.Predict(r.Context(), name)
	switch {
	case errors.Is(err, engine.ErrRiverNotFound):
		h.writeJSON(w, http.StatusNotFound, errorBody{Detail: fmt.Sprintf("River '%s' not found", name)})
	case err != nil:
		h.writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "Internal Server Error"})
	default:
		h.writeJSON(w, http.StatusOK, result)
	}
}

// Index serves the browser page.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	page := defaultIndex
	if h.indexPath != "" {
		data, err := os.ReadFile(h.indexPath)
		if err != nil {
			h.logger.Error("read index page", slog.String("path", h.indexPath), slog.Any("error", err))
			h.writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "Internal Server Error"})
			return
		}
		page = data
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Recoverer turns a panic in a downstream handler into the same 500 body the handlers send.
func (h *Handler) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}
			h.logger.Error("handler panic",
				slog.String("request_id", chimiddleware.GetReqID(r.Context())),
				slog.String("path", r.URL.Path),
				slog.Any("panic", rvr),
				slog.String("stack", string(debug.Stack())),
			)
			h.writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "Internal Server Error"})
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encode response", slog.Any("error", err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"Internal Server Error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// riverParam returns the decoded river name. chi matches on the raw path when it carries
// escapes, so the segment is unescaped only in that case.
func riverParam(r *http.Request) string {
	name := chi.URLParam(r, "river_name")
	if r.URL.RawPath == "" {
		return name
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}
