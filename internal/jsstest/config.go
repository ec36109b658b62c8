package jsstest

import (
	"context"

	"github.com/eteran/jss/pkg/auth"
	"github.com/eteran/jss/pkg/metrics"
)

const (
	DefaultAccessKey = "jssadmin"
	DefaultSecretKey = "jssadmin-secret"
)

// PartHook is called before a part upload is stored. A non-nil error fails
// the part with a 500 response.
type PartHook func(ctx context.Context, uploadID string, partNumber int) error

type Config struct {
	DataDir       string
	Location      string
	Credential    auth.Credential
	Authenticator auth.AuthEngine
	Metrics       *metrics.Metrics
	PartHook      PartHook
}

type ConfigOption func(*Config)

func WithDataDir(dataDir string) ConfigOption {
	return func(cfg *Config) {
		cfg.DataDir = dataDir
	}
}

func WithLocation(location string) ConfigOption {
	return func(cfg *Config) {
		cfg.Location = location
	}
}

// WithCredential sets the only credential the default authenticator accepts.
func WithCredential(cred auth.Credential) ConfigOption {
	return func(cfg *Config) {
		cfg.Credential = cred
	}
}

func WithAuthEngine(authenticator auth.AuthEngine) ConfigOption {
	return func(cfg *Config) {
		cfg.Authenticator = authenticator
	}
}

func WithMetrics(m *metrics.Metrics) ConfigOption {
	return func(cfg *Config) {
		cfg.Metrics = m
	}
}

func WithPartHook(hook PartHook) ConfigOption {
	return func(cfg *Config) {
		cfg.PartHook = hook
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{
		Credential: auth.Credential{
			AccessKey: DefaultAccessKey,
			SecretKey: DefaultSecretKey,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
