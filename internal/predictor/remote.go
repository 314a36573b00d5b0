package predictor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/miradorstack/river-quality/internal/metrics"
)

const (
	featuresPath     = "/v1/preprocessor/features"
	transformPath    = "/v1/preprocessor/transform"
	regressPath      = "/v1/regressor/predict"
	classifyPath     = "/v1/classifier/predict"
	classifyProbPath = "/v1/classifier/predict_proba"
)

// RemoteConfig configures access to a model server that hosts the three trained models.
type RemoteConfig struct {
	BaseURL         string
	Timeout         time.Duration
	BreakerName     string
	BreakerRequests uint32
	BreakerInterval time.Duration
	BreakerTimeout  time.Duration
	BreakerRatio    float64
	BreakerMinCalls uint32
}

// RequestError is a non-5xx rejection from the model server, such as an unsupported value.
// It fails the request but does not count against the circuit breaker.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("model server rejected request: %d %s", e.Status, e.Body)
}

// abortedError marks a call that failed because the caller's context ended, not because the
// model server misbehaved. It is never counted against the circuit breaker.
type abortedError struct{ err error }

func (e *abortedError) Error() string { return e.err.Error() }

func (e *abortedError) Unwrap() error { return e.err }

// RemoteClient talks to the model server. Every call goes through one circuit breaker so that
// an unavailable server fails requests fast instead of piling them up.
type RemoteClient struct {
	baseURL      string
	httpClient   *http.Client
	breaker      *gobreaker.CircuitBreaker[[]byte]
	featureNames []string
}

// NewRemoteClient creates a client and fetches the feature order the remote preprocessor was fit with.
func NewRemoteClient(ctx context.Context, cfg RemoteConfig) (*RemoteClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("model server base URL not configured")
	}
	normaliseRemote(&cfg)

	c := &RemoteClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	c.breaker = newBreaker(cfg)

	names, err := c.fetchFeatureNames(ctx)
	if err != nil {
		return nil, err
	}
	c.featureNames = names
	return c, nil
}

func normaliseRemote(cfg *RemoteConfig) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BreakerName == "" {
		cfg.BreakerName = "model-server"
	}
	if cfg.BreakerRequests == 0 {
		cfg.BreakerRequests = 3
	}
	if cfg.BreakerInterval <= 0 {
		cfg.BreakerInterval = time.Minute
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerRatio <= 0 || cfg.BreakerRatio > 1 {
		cfg.BreakerRatio = 0.6
	}
	if cfg.BreakerMinCalls == 0 {
		cfg.BreakerMinCalls = 10
	}
}

func newBreaker(cfg RemoteConfig) *gobreaker.CircuitBreaker[[]byte] {
	metrics.SetBreakerState(cfg.BreakerName, float64(gobreaker.StateClosed))
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: cfg.BreakerRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinCalls {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerRatio
		},
		IsSuccessful: func(err error) bool {
			var (
				reqErr  *RequestError
				aborted *abortedError
			)
			return err == nil || errors.As(err, &reqErr) || errors.As(err, &aborted)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(name, float64(to))
		},
	})
}

// Preprocessor returns a Transformer backed by the model server.
func (c *RemoteClient) Preprocessor() Transformer { return remoteTransformer{c} }

// Regressor returns a Regressor backed by the model server.
func (c *RemoteClient) Regressor() Regressor { return remoteRegressor{c} }

// Classifier returns a Classifier backed by the model server.
func (c *RemoteClient) Classifier() Classifier { return remoteClassifier{c} }

// LoadRemote connects to the model server and builds an Adapter from it.
func LoadRemote(ctx context.Context, cfg RemoteConfig) (*Adapter, error) {
	c, err := NewRemoteClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewAdapter(c.Preprocessor(), c.Regressor(), c.Classifier())
}

type rowsPayload struct {
	Rows [][]*float64 `json:"rows"`
}

type remoteTransformer struct{ c *RemoteClient }

func (t remoteTransformer) FeatureNamesIn() []string {
	if t.c.featureNames == nil {
		return nil
	}
	return append([]string(nil), t.c.featureNames...)
}

func (t remoteTransformer) Transform(ctx context.Context, row []float64) ([]float64, error) {
	var resp struct {
		Rows [][]*float64 `json:"rows"`
	}
	if err := t.c.call(ctx, transformPath, singleRow(row), &resp); err != nil {
		return nil, err
	}
	if len(resp.Rows) != 1 {
		return nil, fmt.Errorf("%w: transform returned %d rows", ErrDimension, len(resp.Rows))
	}
	out := make([]float64, len(resp.Rows[0]))
	for i, v := range resp.Rows[0] {
		if v == nil {
			return nil, fmt.Errorf("%w at column %d", ErrNonFinite, i)
		}
		out[i] = *v
	}
	return out, nil
}

type remoteRegressor struct{ c *RemoteClient }

func (r remoteRegressor) Predict(ctx context.Context, row []float64) (float64, error) {
	var resp struct {
		Predictions []float64 `json:"predictions"`
	}
	if err := r.c.call(ctx, regressPath, singleRow(row), &resp); err != nil {
		return 0, err
	}
	if len(resp.Predictions) != 1 {
		return 0, fmt.Errorf("%w: regressor returned %d predictions", ErrDimension, len(resp.Predictions))
	}
	return resp.Predictions[0], nil
}

type remoteClassifier struct{ c *RemoteClient }

func (r remoteClassifier) Predict(ctx context.Context, row []float64) (int, error) {
	var resp struct {
		Labels []int `json:"labels"`
	}
	if err := r.c.call(ctx, classifyPath, singleRow(row), &resp); err != nil {
		return 0, err
	}
	if len(resp.Labels) != 1 {
		return 0, fmt.Errorf("%w: classifier returned %d labels", ErrDimension, len(resp.Labels))
	}
	return resp.Labels[0], nil
}

// PredictProbability returns the class-1 column of the server's probability matrix.
func (r remoteClassifier) PredictProbability(ctx context.Context, row []float64) (float64, error) {
	var resp struct {
		Probabilities [][]float64 `json:"probabilities"`
	}
	if err := r.c.call(ctx, classifyProbPath, singleRow(row), &resp); err != nil {
		return 0, err
	}
	if len(resp.Probabilities) != 1 || len(resp.Probabilities[0]) != 2 {
		return 0, fmt.Errorf("%w: expected one row of two class probabilities", ErrDimension)
	}
	return resp.Probabilities[0][1], nil
}

func singleRow(row []float64) rowsPayload {
	encoded := make([]*float64, len(row))
	for i, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		value := v
		encoded[i] = &value
	}
	return rowsPayload{Rows: [][]*float64{encoded}}
}

func (c *RemoteClient) fetchFeatureNames(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolvePath(featuresPath), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model server features request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model server features returned %s", resp.Status)
	}
	var body struct {
		FeatureNames []string `json:"feature_names_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	if body.FeatureNames == nil {
		body.FeatureNames = []string{}
	}
	return body.FeatureNames, nil
}

func (c *RemoteClient) call(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	raw, err := c.breaker.Execute(func() ([]byte, error) {
		data, err := c.post(ctx, c.resolvePath(endpoint), body)
		if err != nil && ctx.Err() != nil {
			return nil, &abortedError{err: err}
		}
		return data, err
	})
	if err != nil {
		var aborted *abortedError
		switch {
		case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.ObserveBreakerRequest(c.breaker.Name(), metrics.BreakerRejected)
		case errors.As(err, &aborted):
			metrics.ObserveBreakerRequest(c.breaker.Name(), metrics.BreakerCanceled)
		default:
			metrics.ObserveBreakerRequest(c.breaker.Name(), metrics.BreakerFailure)
		}
		return fmt.Errorf("model server %s: %w", endpoint, err)
	}
	metrics.ObserveBreakerRequest(c.breaker.Name(), metrics.BreakerSuccess)

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func (c *RemoteClient) post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return data, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("model server returned %s", resp.Status)
	default:
		return nil, &RequestError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
}

func (c *RemoteClient) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}
