// Copyright 2025 James Ross
// Package config loads the engine's configuration file (§6): an immutable
// value built once at startup and threaded through every constructor,
// never a process-wide mutable singleton (§9 DESIGN NOTES).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TracingConfig controls the optional OpenTelemetry span emission around
// query resolution and dispatch (§2 ambient additions).
type TracingConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	Endpoint string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ObservabilityConfig controls structured logging, Prometheus metrics, and
// the admin HTTP surface (/metrics, /healthz, /readyz).
type ObservabilityConfig struct {
	LogLevel    string        `mapstructure:"log_level"`
	MetricsPort int           `mapstructure:"metrics_port"`
	Tracing     TracingConfig `mapstructure:"tracing"`

	// AdminHTTPEnabled starts the /metrics, /healthz, /readyz, /runs/{id}
	// surface (§6). Off by default: a one-shot CLI invocation has no
	// caller for it unless a wrapping scheduler polls run status.
	AdminHTTPEnabled bool `mapstructure:"admin_http_enabled"`
}

// AuditConfig controls the optional run/command/host-result persistence
// store (§3 "Ambient data").
type AuditConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	DBPath          string `mapstructure:"db_path"`
	CompressOutputs bool   `mapstructure:"compress_outputs"`
}

// EventsConfig controls the optional NATS JetStream publisher for run
// lifecycle events.
type EventsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// Config is the top-level configuration document (§6): a key/value file
// with per-backend subsections plus the ambient stack's settings.
type Config struct {
	// LogFile is required: the path the rotating log sink writes to.
	LogFile string `mapstructure:"log_file"`

	// DefaultBackend, if set, is tried against the whole query string
	// before falling back to the top-level grammar (§4.7).
	DefaultBackend string `mapstructure:"default_backend"`

	// Transport names the configured transport implementation ("local" is
	// the only one built in; §1 treats the real SSH-like fan-out as an
	// external collaborator).
	Transport string `mapstructure:"transport"`

	// Backends holds each backend's raw configuration subsection, keyed by
	// backend name (not prefix), decoded further by each backend's own
	// Constructor.
	Backends map[string]map[string]interface{} `mapstructure:"backends"`

	// Aliases is the top-level alias table (§3): name -> query fragment.
	Aliases map[string]string `mapstructure:"aliases"`

	GlobalTimeout    time.Duration `mapstructure:"global_timeout"`
	SuccessThreshold float64       `mapstructure:"success_threshold"`

	Observability ObservabilityConfig `mapstructure:"observability"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Events        EventsConfig        `mapstructure:"events"`
}

func defaultConfig() *Config {
	return &Config{
		LogFile:          "/var/log/cumin/cumin.log",
		Transport:        "local",
		Backends:         map[string]map[string]interface{}{},
		Aliases:          map[string]string{},
		GlobalTimeout:    0,
		SuccessThreshold: 1.0,
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			MetricsPort: 9090,
			Tracing:     TracingConfig{Enabled: false, SampleRatio: 0.1},
			AdminHTTPEnabled: false,
		},
		Audit: AuditConfig{
			Enabled:         false,
			DBPath:          "./cumin-audit.db",
			CompressOutputs: true,
		},
		Events: EventsConfig{
			Enabled: false,
			Subject: "cumin.runs",
		},
	}
}

// Load reads configuration from the YAML file at path plus any sibling
// "<backend>_aliases.yaml" files (§6), applies environment overrides, and
// validates the result. It never mutates a shared global: every call
// returns an independent value.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CUMIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("log_file", def.LogFile)
	v.SetDefault("transport", def.Transport)
	v.SetDefault("global_timeout", def.GlobalTimeout)
	v.SetDefault("success_threshold", def.SuccessThreshold)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.sample_ratio", def.Observability.Tracing.SampleRatio)
	v.SetDefault("observability.admin_http_enabled", def.Observability.AdminHTTPEnabled)
	v.SetDefault("audit.enabled", def.Audit.Enabled)
	v.SetDefault("audit.db_path", def.Audit.DBPath)
	v.SetDefault("audit.compress_outputs", def.Audit.CompressOutputs)
	v.SetDefault("events.enabled", def.Events.Enabled)
	v.SetDefault("events.subject", def.Events.Subject)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Backends == nil {
		cfg.Backends = map[string]map[string]interface{}{}
	}
	if cfg.Aliases == nil {
		cfg.Aliases = map[string]string{}
	}

	if err := loadSiblingAliasFiles(path, &cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadSiblingAliasFiles auto-loads "<backend>_aliases.yaml" files sitting
// next to the main config file into config.Backends[<backend>]["aliases"]
// (§6). A missing sibling file is not an error; a malformed one is.
func loadSiblingAliasFiles(mainPath string, cfg *Config) error {
	dir := filepath.Dir(mainPath)
	for name := range cfg.Backends {
		siblingAliases, err := readAliasSibling(dir, name)
		if err != nil {
			return err
		}
		if siblingAliases == nil {
			continue
		}
		cfg.Backends[name]["aliases"] = siblingAliases
	}
	// The top-level grammar also has a well-known sibling for convenience.
	if top, err := readAliasSibling(dir, "top"); err != nil {
		return err
	} else if top != nil {
		for k, v := range top {
			if s, ok := v.(string); ok {
				cfg.Aliases[k] = s
			}
		}
	}
	return nil
}

func readAliasSibling(dir, name string) (map[string]interface{}, error) {
	path := filepath.Join(dir, name+"_aliases.yaml")
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	av := viper.New()
	av.SetConfigFile(path)
	av.SetConfigType("yaml")
	if err := av.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return av.AllSettings(), nil
}

// Validate checks config constraints and returns an error on invalid
// settings.
func Validate(cfg *Config) error {
	if cfg.LogFile == "" {
		return fmt.Errorf("log_file is required")
	}
	if cfg.SuccessThreshold < 0 || cfg.SuccessThreshold > 1 {
		return fmt.Errorf("success_threshold must be in [0,1]")
	}
	if cfg.GlobalTimeout < 0 {
		return fmt.Errorf("global_timeout must be >= 0")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	if cfg.Transport == "" {
		return fmt.Errorf("transport must be set")
	}
	return nil
}
