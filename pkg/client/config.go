package client

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/eteran/jss/pkg/metrics"
)

const (
	DefaultBaseURL         = "http://storage.jcloud.com"
	DefaultPartSize        = 2 * 1024 * 1024
	DefaultPartConcurrency = 4
)

type Config struct {
	BaseURL            string
	HTTPClient         *http.Client
	PartSize           int
	PartConcurrency    int
	AbortOnPartFailure bool
	Logger             *slog.Logger
	Metrics            *metrics.Metrics
	Now                func() time.Time

	// BeforeSend hooks run, in order, on a copy of every outgoing request
	// before it is signed. Headers they add are covered by the signature.
	BeforeSend []BeforeSendFunc
}

type ConfigOption func(*Config)

func WithBaseURL(baseURL string) ConfigOption {
	return func(cfg *Config) {
		cfg.BaseURL = baseURL
	}
}

// WithHTTPClient sets the client used to send requests. Its transport is
// wrapped, the client itself is not modified.
func WithHTTPClient(client *http.Client) ConfigOption {
	return func(cfg *Config) {
		cfg.HTTPClient = client
	}
}

func WithPartSize(size int) ConfigOption {
	return func(cfg *Config) {
		cfg.PartSize = size
	}
}

// WithPartConcurrency bounds how many parts of one multipart upload may be
// in flight at once.
func WithPartConcurrency(n int) ConfigOption {
	return func(cfg *Config) {
		cfg.PartConcurrency = n
	}
}

// WithAbortOnPartFailure selects what a multipart upload does when a part
// fails. When true (the default) the upload is aborted on the first failure.
// When false the failed parts are left out and the upload is completed with
// the remaining ones.
func WithAbortOnPartFailure(abort bool) ConfigOption {
	return func(cfg *Config) {
		cfg.AbortOnPartFailure = abort
	}
}

func WithLogger(logger *slog.Logger) ConfigOption {
	return func(cfg *Config) {
		cfg.Logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) ConfigOption {
	return func(cfg *Config) {
		cfg.Metrics = m
	}
}

func WithClock(now func() time.Time) ConfigOption {
	return func(cfg *Config) {
		cfg.Now = now
	}
}

func WithBeforeSend(hook BeforeSendFunc) ConfigOption {
	return func(cfg *Config) {
		cfg.BeforeSend = append(cfg.BeforeSend, hook)
	}
}

// NewConfig returns a Config with defaults applied before opts.
func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{
		BaseURL:            DefaultBaseURL,
		PartSize:           DefaultPartSize,
		PartConcurrency:    DefaultPartConcurrency,
		AbortOnPartFailure: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = DefaultPartSize
	}
	if cfg.PartConcurrency <= 0 {
		cfg.PartConcurrency = DefaultPartConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}
