package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"neurosdk/pkg/api"

	"github.com/BurntSushi/toml"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvURL      = "NEURO_SDK_WS_URL"
	EnvGame     = "NEURO_SDK_GAME"
	EnvLogLevel = "NEURO_SDK_LOG_LEVEL"
)

// Config defines the SDK runtime configuration.
// It can be loaded from a .json, .toml or .yaml file; keys use snake_case
// in every format.
type Config struct {
	// Game is sent as the "game" field of every outbound envelope.
	Game string `json:"game"`
	// URL is the websocket endpoint of the controller.
	URL string `json:"url"`
	// HandshakeTimeoutMs bounds the websocket opening handshake.
	HandshakeTimeoutMs int `json:"handshake_timeout_ms"`
	// WriteTimeoutMs bounds a single frame write.
	WriteTimeoutMs int `json:"write_timeout_ms"`
	// SendBuffer is the size of the per-connection outbound queue.
	SendBuffer int `json:"send_buffer"`
	// ForceTimeoutMs is the default deadline for forced actions. Zero waits
	// indefinitely.
	ForceTimeoutMs int `json:"force_timeout_ms"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
	// Features lists the proposed protocol extensions to enable,
	// e.g. "RE_REGISTER_ALL" or "SHUTDOWN".
	Features []string `json:"features"`
	// ActionsFile is an optional action manifest registered at startup.
	ActionsFile string `json:"actions_file"`
	// ListenAddr is where the mock controller accepts connections.
	ListenAddr string `json:"listen_addr"`
	// MetricsAddr exposes prometheus metrics when set.
	MetricsAddr string `json:"metrics_addr"`
}

// DefaultConfig returns a Config initialized with safe default values.
func DefaultConfig() *Config {
	return &Config{
		URL:                "ws://localhost:8000",
		HandshakeTimeoutMs: 10000,
		WriteTimeoutMs:     5000,
		SendBuffer:         100,
		LogLevel:           "info",
		ListenAddr:         "localhost:8000",
	}
}

var knownFeatures = []api.Feature{api.FeatureReregisterAll, api.FeatureShutdown}

// Validate ensures the configuration is usable before anything connects.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.URL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("url: %w", err))
	case u.Scheme != "ws" && u.Scheme != "wss":
		errs = append(errs, fmt.Errorf("url %q: scheme must be ws or wss", c.URL))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("url %q: missing host", c.URL))
	}

	if c.HandshakeTimeoutMs < 0 || c.WriteTimeoutMs < 0 || c.ForceTimeoutMs < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}

	for _, f := range c.Features {
		if !slices.Contains(knownFeatures, api.Feature(f)) {
			errs = append(errs, fmt.Errorf("unknown feature %q", f))
		}
	}
	return errors.Join(errs...)
}

// EnabledFeatures returns Features as protocol features.
func (c *Config) EnabledFeatures() []api.Feature {
	out := make([]api.Feature, 0, len(c.Features))
	for _, f := range c.Features {
		out = append(out, api.Feature(f))
	}
	return out
}

func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

func (c *Config) ForceTimeout() time.Duration {
	return time.Duration(c.ForceTimeoutMs) * time.Millisecond
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvURL); v != "" {
		c.URL = v
	}
	if v := os.Getenv(EnvGame); v != "" {
		c.Game = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Load reads the configuration file at path on top of DefaultConfig, applies
// environment overrides and validates the result. An empty path loads the
// defaults only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := readDocument(path)
		if err != nil {
			return nil, err
		}
		if err := decode(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// readDocument parses a file into a generic map, choosing the decoder from
// the file extension.
func readDocument(path string) (map[string]any, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	doc := make(map[string]any)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, &doc)
	case ".toml":
		err = toml.Unmarshal(file, &doc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(file, &doc)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return doc, nil
}

// decode maps a generic document onto target using the json tag names, so
// one set of tags serves every file format.
func decode(doc map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      target,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(doc)
}
