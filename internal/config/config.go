// Package config loads the timeline server configuration. Later layers win:
// built-in defaults, an optional YAML file, TIMELINE_* environment
// variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/dukerupert/timeline/internal/layout"
	"github.com/dukerupert/timeline/internal/logging"
	"github.com/dukerupert/timeline/internal/rangecache"
	"github.com/dukerupert/timeline/internal/recurrence"
)

type Config struct {
	Addr       string           `yaml:"addr"`
	DBPath     string           `yaml:"db_path"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"`
	HTTP       HTTPConfig       `yaml:"http"`
	Cache      CacheConfig      `yaml:"cache"`
	Layout     LayoutConfig     `yaml:"layout"`
	Recurrence RecurrenceConfig `yaml:"recurrence"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
}

type HTTPConfig struct {
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type LayoutConfig struct {
	MinWidth float64                          `yaml:"min_width"`
	MaxSpan  time.Duration                    `yaml:"max_span"`
	Scales   map[layout.View]layout.ViewScale `yaml:"scales"`
}

type RecurrenceConfig struct {
	SafetyCap int `yaml:"safety_cap"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type WebSocketConfig struct {
	OriginPatterns []string `yaml:"origin_patterns"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:      ":8080",
		DBPath:    "timeline.db",
		LogLevel:  "info",
		LogFormat: "text",
		HTTP: HTTPConfig{
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			TTL:           rangecache.DefaultTTL,
			SweepInterval: time.Minute,
		},
		Layout: LayoutConfig{
			MinWidth: layout.DefaultMinWidth,
			MaxSpan:  layout.DefaultMaxSpan,
			Scales:   layout.DefaultScales(),
		},
		Recurrence: RecurrenceConfig{SafetyCap: recurrence.MaxSteps},
		RateLimit:  RateLimitConfig{Requests: 120, Window: time.Minute},
	}
}

// Load builds the configuration from args (without the program name) and
// the process environment. It returns pflag.ErrHelp when --help was given.
func Load(args []string) (*Config, error) {
	return load(args, os.Getenv)
}

func load(args []string, getenv func(string) string) (*Config, error) {
	flags := pflag.NewFlagSet("timeline", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML config file (env TIMELINE_CONFIG)")
	addr := flags.String("addr", "", "listen address, e.g. :8080")
	dbPath := flags.String("db", "", "path to the SQLite database")
	logLevel := flags.String("log-level", "", "debug, info, warn or error")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if rest := flags.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg := Default()

	path := *configPath
	if path == "" {
		path = getenv("TIMELINE_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	if flags.Changed("addr") {
		cfg.Addr = *addr
	}
	if flags.Changed("db") {
		cfg.DBPath = *dbPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	// Scales in the file replace individual views, not the whole table.
	scales := c.Layout.Scales
	c.Layout.Scales = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	for v, sc := range c.Layout.Scales {
		scales[v] = sc
	}
	c.Layout.Scales = scales
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	var errs []error

	if port := getenv("TIMELINE_PORT"); port != "" {
		c.Addr = ":" + port
	}
	if v := getenv("TIMELINE_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := getenv("TIMELINE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("TIMELINE_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := getenv("TIMELINE_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TIMELINE_CACHE_TTL: %w", err))
		} else {
			c.Cache.TTL = d
		}
	}
	if v := getenv("TIMELINE_RECURRENCE_SAFETY_CAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TIMELINE_RECURRENCE_SAFETY_CAP: %w", err))
		} else {
			c.Recurrence.SafetyCap = n
		}
	}

	return errors.Join(errs...)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("invalid log_level: %q", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("invalid log_format: %q", c.LogFormat))
	}

	positive := []struct {
		name  string
		value time.Duration
	}{
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.idle_timeout", c.HTTP.IdleTimeout},
		{"http.shutdown_timeout", c.HTTP.ShutdownTimeout},
		{"cache.ttl", c.Cache.TTL},
		{"cache.sweep_interval", c.Cache.SweepInterval},
		{"layout.max_span", c.Layout.MaxSpan},
		{"rate_limit.window", c.RateLimit.Window},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}

	if c.Layout.MinWidth <= 0 {
		errs = append(errs, errors.New("layout.min_width must be positive"))
	}
	for v, sc := range c.Layout.Scales {
		if parsed, err := layout.ParseView(string(v)); err != nil || parsed != v {
			errs = append(errs, fmt.Errorf("layout.scales: unknown view %q", v))
			continue
		}
		if sc.BaseWidth <= 0 || sc.MinPixelsPerMinute <= 0 {
			errs = append(errs, fmt.Errorf("layout.scales.%s: base_width and min_pixels_per_minute must be positive", v))
		}
	}
	if c.Recurrence.SafetyCap < 1 {
		errs = append(errs, errors.New("recurrence.safety_cap must be at least 1"))
	}
	if c.RateLimit.Requests < 1 {
		errs = append(errs, errors.New("rate_limit.requests must be at least 1"))
	}

	return errors.Join(errs...)
}
