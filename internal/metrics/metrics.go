package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels completed predictions.
	OutcomeSuccess = "success"
	// OutcomeNotFound labels predictions for rivers missing from the catalog.
	OutcomeNotFound = "not_found"
	// OutcomeError labels failed predictions (feature derivation or model issues).
	OutcomeError = "error"

	// BreakerSuccess labels model server calls that went through.
	BreakerSuccess = "success"
	// BreakerFailure labels model server calls that failed.
	BreakerFailure = "failure"
	// BreakerRejected labels calls short-circuited by an open breaker.
	BreakerRejected = "rejected"
	// BreakerCanceled labels calls abandoned by the caller before the model server answered.
	BreakerCanceled = "canceled"
)

var (
	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "river_quality",
			Name:      "predictions_total",
			Help:      "Total number of predictions handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	predictionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "river_quality",
			Name:      "prediction_seconds",
			Help:      "Prediction latency in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "river_quality",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, partitioned by route pattern and status code.",
		},
		[]string{"route", "code"},
	)

	catalogRivers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "river_quality",
			Name:      "catalog_rivers",
			Help:      "Number of rivers loaded into the catalog.",
		},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "river_quality",
			Name:      "model_breaker_state",
			Help:      "Model server circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)

	breakerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "river_quality",
			Name:      "model_breaker_requests_total",
			Help:      "Model server calls through the circuit breaker, partitioned by result.",
		},
		[]string{"name", "result"},
	)
)

// Register attaches river-quality collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		predictionsTotal,
		predictionDurationSeconds,
		httpRequestsTotal,
		catalogRivers,
		breakerState,
		breakerRequestsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObservePrediction records a prediction duration and outcome label.
func ObservePrediction(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError && label != OutcomeNotFound {
		label = OutcomeSuccess
	}
	predictionsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	predictionDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest counts one served request.
func ObserveHTTPRequest(route, code string) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestsTotal.WithLabelValues(route, code).Inc()
}

// SetCatalogSize publishes the loaded catalog size.
func SetCatalogSize(n int) {
	catalogRivers.Set(float64(n))
}

// SetBreakerState publishes a circuit breaker state transition.
func SetBreakerState(name string, state float64) {
	breakerState.WithLabelValues(name).Set(state)
}

// ObserveBreakerRequest counts one call through a circuit breaker.
func ObserveBreakerRequest(name, result string) {
	breakerRequestsTotal.WithLabelValues(name, result).Inc()
}
