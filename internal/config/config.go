// Package config loads icsrisk settings from defaults, an optional YAML file
// and ICSRISK_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ppiankov/icsrisk/internal/model"
)

// EnvPrefix is prepended to every environment override, e.g.
// ICSRISK_ENGINE_ITERATIONS.
const EnvPrefix = "ICSRISK"

// LogConfig selects logger verbosity and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// EngineConfig holds run defaults and hard caps applied to every request.
type EngineConfig struct {
	Iterations    int    `mapstructure:"iterations" yaml:"iterations"`
	Hours         int    `mapstructure:"hours" yaml:"hours"`
	Seed          uint64 `mapstructure:"seed" yaml:"seed"`
	MaxIterations int    `mapstructure:"max_iterations" yaml:"max_iterations"`
	MaxHours      int    `mapstructure:"max_hours" yaml:"max_hours"`
	Workers       int    `mapstructure:"workers" yaml:"workers"`
}

// CatalogueConfig points at an alternative requirement catalogue.
type CatalogueConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// RateLimit caps how often one client may call one RPC method. Zero values
// mean no limit.
type RateLimit struct {
	MaxRequests int           `mapstructure:"max_requests" yaml:"max_requests"`
	Window      time.Duration `mapstructure:"window" yaml:"window"`
}

// Enabled reports whether the limit applies.
func (l RateLimit) Enabled() bool {
	return l.MaxRequests > 0 && l.Window > 0
}

// ServerConfig configures the gRPC listener and metrics endpoint. RateLimits
// is keyed by method name, with "*" covering methods not listed.
type ServerConfig struct {
	Port        int                  `mapstructure:"port" yaml:"port"`
	MetricsAddr string               `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	RateLimits  map[string]RateLimit `mapstructure:"rate_limits" yaml:"rate_limits"`
}

// StoreConfig locates the assessment history database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// AuditConfig locates the assessment ledger.
type AuditConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// DaemonConfig holds the batch daemon's directories.
type DaemonConfig struct {
	Inbox  string `mapstructure:"inbox" yaml:"inbox"`
	Outbox string `mapstructure:"outbox" yaml:"outbox"`
	State  string `mapstructure:"state" yaml:"state"`
}

// WebhookConfig is one alert destination.
type WebhookConfig struct {
	URL     string            `mapstructure:"url" yaml:"url"`
	Format  string            `mapstructure:"format" yaml:"format"` // generic, slack, pagerduty
	Events  []string          `mapstructure:"events" yaml:"events"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
}

// AlertsConfig holds the thresholds that turn an assessment into alert
// events, and where to send them.
type AlertsConfig struct {
	PCompromised float64         `mapstructure:"p_compromised" yaml:"p_compromised"`
	P90          float64         `mapstructure:"p90" yaml:"p90"`
	TargetSL     int             `mapstructure:"target_sl" yaml:"target_sl"`
	Webhooks     []WebhookConfig `mapstructure:"webhooks" yaml:"webhooks"`
}

// Config is the full application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Catalogue CatalogueConfig `mapstructure:"catalogue" yaml:"catalogue"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Audit     AuditConfig     `mapstructure:"audit" yaml:"audit"`
	Daemon    DaemonConfig    `mapstructure:"daemon" yaml:"daemon"`
	Alerts    AlertsConfig    `mapstructure:"alerts" yaml:"alerts"`
}

// DefaultConfig returns the built-in configuration. Paths are home-relative
// and expanded by Load.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "console"},
		Engine: EngineConfig{
			Iterations:    10000,
			Hours:         24,
			MaxIterations: 1000000,
			MaxHours:      8760,
			Workers:       4,
		},
		Server: ServerConfig{Port: 9090, MetricsAddr: "127.0.0.1:9091"},
		Store:  StoreConfig{Path: "~/.icsrisk/history.db"},
		Audit:  AuditConfig{Path: "~/.icsrisk/audit.jsonl"},
		Daemon: DaemonConfig{
			Inbox:  "~/.icsrisk/inbox",
			Outbox: "~/.icsrisk/outbox",
			State:  "~/.icsrisk/state",
		},
		Alerts: AlertsConfig{PCompromised: 0.5, P90: 50, TargetSL: 1},
	}
}

// DefaultPath returns ~/.icsrisk/config.yaml, or "" if there is no home.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".icsrisk", "config.yaml")
}

// Load reads configuration. Empty path falls back to DefaultPath. A missing
// file yields defaults; a malformed file is an error. Environment variables
// override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("engine.iterations", d.Engine.Iterations)
	v.SetDefault("engine.hours", d.Engine.Hours)
	v.SetDefault("engine.seed", d.Engine.Seed)
	v.SetDefault("engine.max_iterations", d.Engine.MaxIterations)
	v.SetDefault("engine.max_hours", d.Engine.MaxHours)
	v.SetDefault("engine.workers", d.Engine.Workers)

	v.SetDefault("catalogue.path", d.Catalogue.Path)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.metrics_addr", d.Server.MetricsAddr)

	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("audit.path", d.Audit.Path)

	v.SetDefault("daemon.inbox", d.Daemon.Inbox)
	v.SetDefault("daemon.outbox", d.Daemon.Outbox)
	v.SetDefault("daemon.state", d.Daemon.State)

	v.SetDefault("alerts.p_compromised", d.Alerts.PCompromised)
	v.SetDefault("alerts.p90", d.Alerts.P90)
	v.SetDefault("alerts.target_sl", d.Alerts.TargetSL)
}

// Validate checks ranges that would otherwise surface as engine errors on
// every request.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return model.Invalid("log.level", "must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return model.Invalid("log.format", "must be json or console, got %q", c.Log.Format)
	}

	e := c.Engine
	if e.Iterations < 1 {
		return model.Invalid("engine.iterations", "must be >= 1, got %d", e.Iterations)
	}
	if e.Hours < 0 {
		return model.Invalid("engine.hours", "must be >= 0, got %d", e.Hours)
	}
	if e.MaxIterations < e.Iterations {
		return model.Invalid("engine.max_iterations", "must be >= engine.iterations (%d), got %d", e.Iterations, e.MaxIterations)
	}
	if e.MaxHours < e.Hours {
		return model.Invalid("engine.max_hours", "must be >= engine.hours (%d), got %d", e.Hours, e.MaxHours)
	}
	if e.Workers < 1 {
		return model.Invalid("engine.workers", "must be >= 1, got %d", e.Workers)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return model.Invalid("server.port", "must be within 0..65535, got %d", c.Server.Port)
	}
	for method, l := range c.Server.RateLimits {
		if l.MaxRequests < 0 || l.Window < 0 {
			return model.Invalid("server.rate_limits."+method, "max_requests and window must not be negative")
		}
	}

	return c.Alerts.validate()
}

// Alert event names accepted in webhook events lists.
const (
	EventCompromiseLikely = "compromise_likely"
	EventHighResidualRisk = "high_residual_risk"
	EventBelowTargetSL    = "below_target_sl"
	EventAssessment       = "assessment"
)

func (a AlertsConfig) validate() error {
	if a.PCompromised < 0 || a.PCompromised > 1 {
		return model.Invalid("alerts.p_compromised", "must be within 0..1, got %v", a.PCompromised)
	}
	if a.P90 < 0 || a.P90 > 100 {
		return model.Invalid("alerts.p90", "must be within 0..100, got %v", a.P90)
	}
	if a.TargetSL < 0 || a.TargetSL > 2 {
		return model.Invalid("alerts.target_sl", "must be 0, 1 or 2, got %d", a.TargetSL)
	}
	for i, w := range a.Webhooks {
		field := fmt.Sprintf("alerts.webhooks[%d]", i)
		u, err := url.Parse(w.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return model.Invalid(field+".url", "must be an http(s) URL, got %q", w.URL)
		}
		switch w.Format {
		case "", "generic", "slack", "pagerduty":
		default:
			return model.Invalid(field+".format", "must be generic, slack or pagerduty, got %q", w.Format)
		}
		if len(w.Events) == 0 {
			return model.Invalid(field+".events", "must list at least one event")
		}
		for _, e := range w.Events {
			switch e {
			case EventCompromiseLikely, EventHighResidualRisk, EventBelowTargetSL, EventAssessment:
			default:
				return model.Invalid(field+".events", "unknown event %q", e)
			}
		}
	}
	return nil
}

func (c *Config) expandPaths() {
	for _, p := range []*string{
		&c.Catalogue.Path,
		&c.Store.Path,
		&c.Audit.Path,
		&c.Daemon.Inbox,
		&c.Daemon.Outbox,
		&c.Daemon.State,
	} {
		*p = ExpandHome(*p)
	}
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// DefaultConfigYAML returns a commented YAML file for init-config.
func DefaultConfigYAML() string {
	return `# icsrisk configuration
# Generated by: icsrisk init-config
#
# Every key can be overridden from the environment with the ICSRISK_ prefix,
# dots replaced by underscores (engine.iterations -> ICSRISK_ENGINE_ITERATIONS).

# Logger verbosity (debug | info | warn | error) and encoding (console | json).
# Logs go to stderr; command output goes to stdout.
log:
  level: info
  format: console

# Engine defaults used when a request leaves a value unset, and hard caps
# applied to every request. seed: 0 draws from the process-wide source;
# any other value makes Monte Carlo runs reproducible.
engine:
  iterations: 10000
  hours: 24
  seed: 0
  max_iterations: 1000000
  max_hours: 8760
  workers: 4

# Alternative IEC 62443 requirement catalogue (YAML). Empty uses the built-in
# IEC 62443-3-3 catalogue. icsrisk serve reloads this file when it changes.
catalogue:
  path: ""

# gRPC listener and Prometheus endpoint for icsrisk serve.
# Empty metrics_addr disables the endpoint. rate_limits caps calls per client
# address for each method ("*" covers methods not listed), e.g.
#   rate_limits:
#     Assess: {max_requests: 10, window: 1m}
#     "*": {max_requests: 100, window: 1m}
server:
  port: 9090
  metrics_addr: 127.0.0.1:9091

# Assessment history (SQLite) and hash-chained audit ledger.
store:
  path: ~/.icsrisk/history.db
audit:
  path: ~/.icsrisk/audit.jsonl

# Batch daemon directories. Drop request JSON into inbox; results appear in outbox.
daemon:
  inbox: ~/.icsrisk/inbox
  outbox: ~/.icsrisk/outbox
  state: ~/.icsrisk/state

# Webhook alerts raised after each assessment. Events:
#   compromise_likely   final P(Compromised) >= p_compromised
#   high_residual_risk  Monte Carlo P90 >= p90 (0-100 scale)
#   below_target_sl     overall security level < target_sl
#   assessment          every completed assessment
# Formats: generic (event JSON), slack, pagerduty.
alerts:
  p_compromised: 0.5
  p90: 50
  target_sl: 1
  # webhooks:
  # - url: https://hooks.slack.com/services/...
  #   format: slack
  #   events: [compromise_likely, below_target_sl]
`
}
