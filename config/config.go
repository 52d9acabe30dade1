// Package config loads application configuration with multi-source priority:
// environment variables override an optional config file, which overrides
// defaults. The resulting Config is built once in main and passed to the
// components that need it; nothing else reads the environment.
package config

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingListenAddr indicates the listen address is empty.
	ErrMissingListenAddr = errors.New("missing listen address")

	// ErrMissingDataDir indicates the data directory is empty.
	ErrMissingDataDir = errors.New("missing data directory")

	// ErrInvalidStreamTimeout indicates the upstream stream timeout is not positive.
	ErrInvalidStreamTimeout = errors.New("invalid stream timeout")

	// ErrUnknownDefaultModel indicates the default model key is not in the catalog.
	ErrUnknownDefaultModel = errors.New("unknown default model")
)

// ModelInfo is one entry of the model catalog shown to clients.
type ModelInfo struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// catalog is the fixed set of Dify-backed models, in display order.
// Each model resolves its API key from DIFY_API_KEY_<KEY>, falling back
// to the shared DIFY_API_KEY.
var catalog = []ModelInfo{
	{Key: "seisan", Label: "生産モデル 1.04"},
	{Key: "hozen", Label: "保全モデル 1.04"},
	{Key: "sefety", Label: "安全モデル 1.01"},
	{Key: "ems", Label: "環境/EMSモデル 1.02"},
	{Key: "genka", Label: "原価・経営モデル 1.01"},
	{Key: "jinji", Label: "人事制度モデル 1.03"},
	{Key: "iatf", Label: "IATFモデル 1.04"},
	{Key: "security", Label: "情報セキュリティーモデル 1.02"},
}

// Config stores the process-wide configuration.
type Config struct {
	ListenAddr    string
	DataDir       string
	SessionSecret string

	// UpstreamBase is the Dify API base URL, without a trailing slash.
	UpstreamBase string
	// UpstreamAPIKey is the shared fallback bearer key.
	UpstreamAPIKey string
	// ModelAPIKeys holds per-model bearer keys, keyed by model key.
	ModelAPIKeys map[string]string

	DefaultModel  string
	Models        []ModelInfo
	StreamTimeout time.Duration
}

// Load builds a Config from defaults, an optional ./config.yaml and
// environment variables (highest priority).
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":5200")
	v.SetDefault("data_dir", "data")
	v.SetDefault("session_secret", "dev-secret-change-me")
	v.SetDefault("default_model", "seisan")
	v.SetDefault("stream_timeout", "180s")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	v.BindEnv("listen_addr", "LISTEN_ADDR")
	v.BindEnv("data_dir", "DATA_DIR")
	v.BindEnv("session_secret", "SESSION_SECRET")
	v.BindEnv("upstream_base", "DIFY_API_BASE")
	v.BindEnv("upstream_api_key", "DIFY_API_KEY")
	v.BindEnv("stream_timeout", "STREAM_TIMEOUT")
	for _, m := range catalog {
		v.BindEnv("model_api_keys."+m.Key, "DIFY_API_KEY_"+strings.ToUpper(m.Key))
	}

	cfg := &Config{
		ListenAddr:     v.GetString("listen_addr"),
		DataDir:        v.GetString("data_dir"),
		SessionSecret:  v.GetString("session_secret"),
		UpstreamBase:   strings.TrimRight(strings.TrimSpace(v.GetString("upstream_base")), "/"),
		UpstreamAPIKey: strings.TrimSpace(v.GetString("upstream_api_key")),
		ModelAPIKeys:   make(map[string]string, len(catalog)),
		DefaultModel:   v.GetString("default_model"),
		Models:         catalog,
		StreamTimeout:  v.GetDuration("stream_timeout"),
	}
	for _, m := range catalog {
		if k := strings.TrimSpace(v.GetString("model_api_keys." + m.Key)); k != "" {
			cfg.ModelAPIKeys[m.Key] = k
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate performs range checks on the loaded configuration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return ErrMissingListenAddr
	}
	if c.DataDir == "" {
		return ErrMissingDataDir
	}
	if c.StreamTimeout <= 0 {
		return ErrInvalidStreamTimeout
	}
	if !c.IsModel(c.DefaultModel) {
		return ErrUnknownDefaultModel
	}
	return nil
}

// UsersDir returns the directory holding one subdirectory per user.
func (c *Config) UsersDir() string {
	return filepath.Join(c.DataDir, "users")
}

// NoticePath returns the path of the shared broadcast notice file.
func (c *Config) NoticePath() string {
	return filepath.Join(c.DataDir, "notice.txt")
}

// IsModel reports whether key is in the catalog.
func (c *Config) IsModel(key string) bool {
	for _, m := range c.Models {
		if m.Key == key {
			return true
		}
	}
	return false
}

// APIKeyFor resolves the bearer key for a model, falling back to the
// shared key when no per-model key is configured.
func (c *Config) APIKeyFor(modelKey string) string {
	if k := c.ModelAPIKeys[modelKey]; k != "" {
		return k
	}
	return c.UpstreamAPIKey
}
