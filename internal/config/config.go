package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vango-dev/urlsync/internal/errors"
)

const (
	// ConfigFileName is looked up in the working directory when no path is
	// given.
	ConfigFileName = "urlsync.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "URLSYNC_"

	// DefaultAddr is the default listen address for serve.
	DefaultAddr = "localhost:8080"

	// DefaultMinInterval is the base gap between URL updates.
	DefaultMinInterval = 50 * time.Millisecond

	// DefaultRateLimitFactor matches browser bindings.
	DefaultRateLimitFactor = 2.0

	// DefaultMetricsPath is where Prometheus metrics are served.
	DefaultMetricsPath = "/metrics"
)

// Config is the urlsync.yaml configuration.
type Config struct {
	Sync    SyncConfig    `yaml:"sync"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`

	configPath string
	root       *yaml.Node
}

// SyncConfig tunes the flush scheduler.
type SyncConfig struct {
	// MinInterval is the base gap between flushes (e.g. "50ms").
	MinInterval time.Duration `yaml:"min_interval"`

	// RateLimitFactor multiplies MinInterval. Zero means the adapter's own
	// factor.
	RateLimitFactor float64 `yaml:"rate_limit_factor"`
}

// ServerConfig configures the websocket binding server.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`

	// AllowedOrigins lists extra origins accepted on /ws. Same-origin
	// requests are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// MetricsConfig configures Prometheus collection.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Sync: SyncConfig{
			MinInterval: DefaultMinInterval,
		},
		Server: ServerConfig{
			Addr:            DefaultAddr,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			WriteTimeout:    10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      DefaultMetricsPath,
			Namespace: "urlsync",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file,
// then .env, then URLSYNC_* variables. An empty path loads ConfigFileName
// from the working directory if it exists.
func Load(path string) (*Config, error) {
	var cfg *Config
	switch {
	case path != "":
		c, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	case Exists(ConfigFileName):
		c, err := LoadFile(ConfigFileName)
		if err != nil {
			return nil, err
		}
		cfg = c
	default:
		cfg = New()
	}

	// .env is optional.
	godotenv.Load()

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads configuration from path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("U001").
				WithDetail("No config file at " + path).
				WithSuggestion("Pass --config with the path to " + ConfigFileName + ", or omit it to use defaults")
		}
		return nil, errors.New("U001").Wrap(err)
	}
	return Parse(path, data)
}

// Parse decodes YAML data. path is used for error locations only.
func Parse(path string, data []byte) (*Config, error) {
	cfg := New()
	cfg.configPath = path

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, yamlError(path, err)
	}
	if len(root.Content) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, yamlError(path, err)
		}
		cfg.root = &root
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// yamlError converts a yaml.v3 error into a located U002 error.
func yamlError(path string, err error) error {
	e := errors.New("U002").Wrap(err).
		WithSuggestion("Check the field names and that durations look like 50ms or 2s")
	if line := yamlErrorLine(err); line > 0 {
		e.WithLocation(path, line, 0)
	}
	return e
}

// yamlErrorLine extracts the first "line N" from a yaml.v3 error message.
func yamlErrorLine(err error) int {
	msg := err.Error()
	i := strings.Index(msg, "line ")
	if i < 0 {
		return 0
	}
	rest := msg[i+len("line "):]
	end := strings.IndexFunc(rest, func(r rune) bool { return r < '0' || r > '9' })
	if end < 0 {
		end = len(rest)
	}
	n, _ := strconv.Atoi(rest[:end])
	return n
}

// node returns the YAML value node at the given mapping path, or nil.
func (c *Config) node(path ...string) *yaml.Node {
	if c.root == nil || len(c.root.Content) == 0 {
		return nil
	}
	n := c.root.Content[0]
	for _, key := range path {
		if n.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == key {
				next = n.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil
		}
		n = next
	}
	return n
}

// ApplyEnv overrides fields from URLSYNC_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPrefix + "MIN_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("MIN_INTERVAL", v, err)
		}
		c.Sync.MinInterval = d
	}
	if v, ok := lookup(EnvPrefix + "RATE_LIMIT_FACTOR"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError("RATE_LIMIT_FACTOR", v, err)
		}
		c.Sync.RateLimitFactor = f
	}
	if v, ok := lookup(EnvPrefix + "ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvPrefix + "LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	if v, ok := lookup(EnvPrefix + "METRICS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("METRICS", v, err)
		}
		c.Metrics.Enabled = b
	}
	return nil
}

func envError(name, value string, err error) error {
	return errors.New("U004").
		WithDetail(fmt.Sprintf("%s%s=%q could not be parsed.", EnvPrefix, name, value)).
		Wrap(err)
}

// applyDefaults fills zero values left by a partial file.
func (c *Config) applyDefaults() {
	if c.Sync.MinInterval == 0 {
		c.Sync.MinInterval = DefaultMinInterval
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.ReadBufferSize == 0 {
		c.Server.ReadBufferSize = 1024
	}
	if c.Server.WriteBufferSize == 0 {
		c.Server.WriteBufferSize = 1024
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "urlsync"
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Sync.MinInterval < 0 {
		return c.invalid("min_interval must not be negative", "sync", "min_interval")
	}
	if c.Sync.RateLimitFactor < 0 {
		return c.invalid("rate_limit_factor must not be negative", "sync", "rate_limit_factor")
	}
	if c.Server.WriteTimeout < 0 {
		return c.invalid("write_timeout must not be negative", "server", "write_timeout")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return c.invalid(err.Error(), "log", "level")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return c.invalid(fmt.Sprintf("log format %q is not text or json", c.Log.Format), "log", "format")
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return c.invalid("metrics path must start with /", "metrics", "path")
	}
	return nil
}

func (c *Config) invalid(detail string, path ...string) error {
	e := errors.New("U003").WithDetail(detail)
	if n := c.node(path...); n != nil {
		e.WithNode(c.configPath, n)
	}
	return e
}

// Path returns the file the config was loaded from, if any.
func (c *Config) Path() string {
	return c.configPath
}

// Exists reports whether path is an existing file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level %q is not debug, info, warn or error", s)
	}
	return level, nil
}

// NewLogger builds the slog logger described by Log.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
