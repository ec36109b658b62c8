package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/eteran/jss/pkg/client"

	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvAccessKey = "ACCESS_KEY"
	EnvSecretKey = "SECRET_KEY"
	EnvEndpoint  = "JSS_ENDPOINT"
)

const DefaultLogLevel = "info"

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Config holds the settings of the command line tools. Values are layered:
// defaults, then the YAML file, then the environment, then flags.
type Config struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"`
	LogLevel  string `yaml:"log_level"`

	Multipart MultipartConfig `yaml:"multipart"`
}

type MultipartConfig struct {
	PartSize           int  `yaml:"part_size"`
	Concurrency        int  `yaml:"concurrency"`
	AbortOnPartFailure bool `yaml:"abort_on_part_failure"`
}

func Default() Config {
	return Config{
		Endpoint: client.DefaultBaseURL,
		LogLevel: DefaultLogLevel,
		Multipart: MultipartConfig{
			PartSize:           client.DefaultPartSize,
			Concurrency:        client.DefaultPartConcurrency,
			AbortOnPartFailure: true,
		},
	}
}

// LoadFile reads the YAML file at path on top of the defaults. The result
// is not validated, since credentials commonly arrive later from the
// environment or flags.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}

	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
	}

	return cfg, nil
}

// Load returns the defaults overlaid with the file at path, if path is not
// empty, and then with the environment.
func Load(path string, lookupEnv func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(lookupEnv)
	return cfg, nil
}

// ApplyEnv overrides fields whose environment variable is set and non-empty.
func (c *Config) ApplyEnv(lookupEnv func(string) (string, bool)) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	if v, ok := lookupEnv(EnvAccessKey); ok && v != "" {
		c.AccessKey = v
	}
	if v, ok := lookupEnv(EnvSecretKey); ok && v != "" {
		c.SecretKey = v
	}
	if v, ok := lookupEnv(EnvEndpoint); ok && v != "" {
		c.Endpoint = v
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.AccessKey == "" || c.SecretKey == "" {
		errs = append(errs, fmt.Errorf("config validation: access_key and secret_key are required (flags --appkey/--appsecret or env %s/%s)", EnvAccessKey, EnvSecretKey))
	}
	if u, err := url.Parse(c.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("config validation: endpoint must be an absolute URL, got %q", c.Endpoint))
	}
	if _, ok := allowedLogLevels[strings.ToLower(c.LogLevel)]; !ok {
		errs = append(errs, fmt.Errorf("config validation: log_level must be one of [debug info warn error], got %q", c.LogLevel))
	}
	if c.Multipart.PartSize <= 0 {
		errs = append(errs, errors.New("config validation: multipart.part_size must be > 0"))
	}
	if c.Multipart.Concurrency <= 0 {
		errs = append(errs, errors.New("config validation: multipart.concurrency must be > 0"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ClientOptions translates c into options for client.New.
func (c Config) ClientOptions() []client.ConfigOption {
	return []client.ConfigOption{
		client.WithBaseURL(c.Endpoint),
		client.WithPartSize(c.Multipart.PartSize),
		client.WithPartConcurrency(c.Multipart.Concurrency),
		client.WithAbortOnPartFailure(c.Multipart.AbortOnPartFailure),
	}
}

// String renders c as YAML with the secret key masked.
func (c Config) String() string {
	masked := c
	if masked.SecretKey != "" {
		masked.SecretKey = "[REDACTED]"
	}
	out, err := yaml.Marshal(masked)
	if err != nil {
		return "config: " + strconv.Quote(err.Error())
	}
	return string(out)
}
