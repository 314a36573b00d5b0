package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Model backends.
const (
	BackendFile   = "file"
	BackendRemote = "remote"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config captures the settings required to boot the prediction service.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Catalog CatalogConfig `yaml:"catalog"`
	Models  ModelsConfig  `yaml:"models"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls listener behaviour. An empty GRPCAddress disables the gRPC health listener.
type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	ReadTimeout     time.Duration `yaml:"readTimeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" validate:"gte=0"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" validate:"gte=0"`
}

// CatalogConfig points at the river dataset (.json, or a sqlite database with a rivers table).
type CatalogConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// ModelsConfig selects where the trained models come from.
type ModelsConfig struct {
	Backend          string            `yaml:"backend" validate:"oneof=file remote"`
	PreprocessorPath string            `yaml:"preprocessorPath" validate:"required_if=Backend file"`
	RegressorPath    string            `yaml:"regressorPath" validate:"required_if=Backend file"`
	ClassifierPath   string            `yaml:"classifierPath" validate:"required_if=Backend file"`
	Remote           RemoteModelConfig `yaml:"remote"`
}

// RemoteModelConfig configures the model server client and its circuit breaker.
type RemoteModelConfig struct {
	BaseURL string        `yaml:"baseURL" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker guarding the model server.
type BreakerConfig struct {
	MaxRequests  uint32        `yaml:"maxRequests"`
	Interval     time.Duration `yaml:"interval" validate:"gte=0"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	FailureRatio float64       `yaml:"failureRatio" validate:"gte=0,lte=1"`
	MinRequests  uint32        `yaml:"minRequests"`
}

// HTTPConfig controls the public API surface.
type HTTPConfig struct {
	CORSAllowedOrigins []string      `yaml:"corsAllowedOrigins"`
	RateLimitRequests  int           `yaml:"rateLimitRequests" validate:"gte=0"`
	RateLimitWindow    time.Duration `yaml:"rateLimitWindow" validate:"gte=0"`
	IndexPath          string        `yaml:"indexPath"`
	// TrustProxyHeaders takes the client address from X-Forwarded-For/X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool `yaml:"trustProxyHeaders"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("RIVER_QUALITY_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the cross-field rules of the model backend.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Models.Backend == BackendRemote && c.Models.Remote.BaseURL == "" {
		return fmt.Errorf("invalid config: models.remote.baseURL is required for the remote backend")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8000",
			MetricsAddress:  ":2112",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			GracefulTimeout: 10 * time.Second,
		},
		Catalog: CatalogConfig{Path: "data/rivers.json"},
		Models: ModelsConfig{
			Backend:          BackendFile,
			PreprocessorPath: "artifacts/preprocessor.json",
			RegressorPath:    "artifacts/regressor.json",
			ClassifierPath:   "artifacts/classifier.json",
			Remote: RemoteModelConfig{
				Timeout: 5 * time.Second,
				Breaker: BreakerConfig{
					MaxRequests:  3,
					Interval:     time.Minute,
					Timeout:      30 * time.Second,
					FailureRatio: 0.6,
					MinRequests:  10,
				},
			},
		},
		HTTP: HTTPConfig{
			CORSAllowedOrigins: []string{"*"},
			RateLimitRequests:  100,
			RateLimitWindow:    time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RIVER_QUALITY_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v, ok := os.LookupEnv("RIVER_QUALITY_METRICS_ADDRESS"); ok {
		cfg.Server.MetricsAddress = v
	}
	if v, ok := os.LookupEnv("RIVER_QUALITY_GRPC_ADDRESS"); ok {
		cfg.Server.GRPCAddress = v
	}
	if v := os.Getenv("RIVER_QUALITY_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("RIVER_QUALITY_MODELS_BACKEND"); v != "" {
		cfg.Models.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("RIVER_QUALITY_PREPROCESSOR_PATH"); v != "" {
		cfg.Models.PreprocessorPath = v
	}
	if v := os.Getenv("RIVER_QUALITY_REGRESSOR_PATH"); v != "" {
		cfg.Models.RegressorPath = v
	}
	if v := os.Getenv("RIVER_QUALITY_CLASSIFIER_PATH"); v != "" {
		cfg.Models.ClassifierPath = v
	}
	if v := os.Getenv("RIVER_QUALITY_MODEL_SERVER_URL"); v != "" {
		cfg.Models.Remote.BaseURL = v
	}
	if v := os.Getenv("RIVER_QUALITY_MODEL_SERVER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Models.Remote.Timeout = d
		}
	}
	if v := os.Getenv("RIVER_QUALITY_CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.CORSAllowedOrigins = splitList(v)
	}
	if v := os.Getenv("RIVER_QUALITY_RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimitRequests = n
		}
	}
	if v := os.Getenv("RIVER_QUALITY_RATE_LIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.RateLimitWindow = d
		}
	}
	if v := os.Getenv("RIVER_QUALITY_INDEX_PATH"); v != "" {
		cfg.HTTP.IndexPath = v
	}
	if v := os.Getenv("RIVER_QUALITY_TRUST_PROXY_HEADERS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.HTTP.TrustProxyHeaders = b
		}
	}
	if v := os.Getenv("RIVER_QUALITY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("RIVER_QUALITY_LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
