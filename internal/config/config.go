// Package config loads the service configuration from a YAML file and
// TA_ environment variables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is read when no config path is given.
const DefaultPath = "config.yaml"

// EnvPrefix marks environment variables that override file values.
// TA_SERVER__PORT=9000 sets server.port.
const EnvPrefix = "TA_"

type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Tracing       TracingConfig       `koanf:"tracing"`
	Filter        FilterConfig        `koanf:"filter"`
	Correlation   CorrelationConfig   `koanf:"correlation"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Pipelines     []PipelineConfig    `koanf:"pipelines"`
}

type ServerConfig struct {
	Port    int            `koanf:"port"`
	Timeout string         `koanf:"timeout"` // Duration string like "30s"
	APIKeys []APIKeyConfig `koanf:"api_keys"`
}

type APIKeyConfig struct {
	KeyHash     string `koanf:"key_hash"` // hex SHA-256 of the bearer token
	Description string `koanf:"description"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error
	Format string `koanf:"format"` // json or text
}

type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// FilterConfig holds the system valves of the filter.
type FilterConfig struct {
	// SystemTimezone is the fallback zone; empty means the host zone.
	SystemTimezone string `koanf:"system_timezone"`
	// Priority orders the annotation stage among other stages.
	Priority int `koanf:"priority"`
	// CountTokens logs the token cost of each annotation at debug level.
	CountTokens bool `koanf:"count_tokens"`
}

type CorrelationConfig struct {
	Backend       string       `koanf:"backend"` // memory or sqlite
	Capacity      int          `koanf:"capacity"`
	TTL           string       `koanf:"ttl"`
	ConsumeOnRead bool         `koanf:"consume_on_read"`
	SQLite        SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type NotificationsConfig struct {
	Log      bool           `koanf:"log"`
	Webhook  WebhookConfig  `koanf:"webhook"`
	RabbitMQ RabbitMQConfig `koanf:"rabbitmq"`
}

type WebhookConfig struct {
	URL          string            `koanf:"url"`
	Timeout      string            `koanf:"timeout"`
	Retries      int               `koanf:"retries"`
	Headers      map[string]string `koanf:"headers"`
	BlockPrivate bool              `koanf:"block_private"`
}

type RabbitMQConfig struct {
	URL        string `koanf:"url"`
	Exchange   string `koanf:"exchange"`
	RoutingKey string `koanf:"routing_key"`
}

// PipelineConfig is one filter pipeline exposed at /{id}/filter/....
type PipelineConfig struct {
	ID string `koanf:"id"`
	// Priority overrides filter.priority for this pipeline.
	Priority *int                  `koanf:"priority"`
	Stages   []PipelineStageConfig `koanf:"stages"`
}

// PipelineStageConfig configures an external webhook stage.
type PipelineStageConfig struct {
	Name    string            `koanf:"name"`
	Type    string            `koanf:"type"` // pre or post
	Order   int               `koanf:"order"`
	URL     string            `koanf:"url"`
	Timeout string            `koanf:"timeout"`
	Retries int               `koanf:"retries"`
	OnError string            `koanf:"on_error"` // allow or fail
	Headers map[string]string `koanf:"headers"`

	// BlockPrivate refuses private, loopback and link-local destinations.
	BlockPrivate bool `koanf:"block_private"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (DefaultPath when empty), then applies TA_ environment
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Notifications.RabbitMQ.URL = substituteEnvVars(cfg.Notifications.RabbitMQ.URL)
	for name, v := range cfg.Notifications.Webhook.Headers {
		cfg.Notifications.Webhook.Headers[name] = substituteEnvVars(v)
	}
	for i := range cfg.Pipelines {
		for j := range cfg.Pipelines[i].Stages {
			headers := cfg.Pipelines[i].Stages[j].Headers
			for name, v := range headers {
				headers[name] = substituteEnvVars(v)
			}
		}
	}

	if len(cfg.Pipelines) == 0 {
		cfg.Pipelines = []PipelineConfig{{ID: "time_awareness"}}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":          8080,
		"server.timeout":       "30s",
		"logging.level":        "info",
		"logging.format":       "json",
		"tracing.service_name": "time-awareness",
		"filter.priority":      -10,
		"correlation.backend":  "memory",
		"correlation.capacity": 1024,
		"correlation.ttl":      "10m",
		"notifications.log":    true,
	}
	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}
}

// Validate checks values Load cannot default.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format: unknown format %q (valid: json, text)", c.Logging.Format)
	}

	switch c.Correlation.Backend {
	case "memory":
	case "sqlite":
		if c.Correlation.SQLite.Path == "" {
			return fmt.Errorf("correlation.sqlite.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("correlation.backend: unknown backend %q (valid: memory, sqlite)", c.Correlation.Backend)
	}

	for _, d := range []struct{ key, value string }{
		{"server.timeout", c.Server.Timeout},
		{"correlation.ttl", c.Correlation.TTL},
		{"notifications.webhook.timeout", c.Notifications.Webhook.Timeout},
	} {
		if _, err := ParseDuration(d.value, 0); err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
	}

	seen := make(map[string]bool, len(c.Pipelines))
	for _, p := range c.Pipelines {
		if p.ID == "" {
			return fmt.Errorf("pipelines: id is required")
		}
		if seen[p.ID] {
			return fmt.Errorf("pipelines: duplicate id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// PriorityFor returns the annotation stage order for a pipeline.
func (c *Config) PriorityFor(p PipelineConfig) int {
	if p.Priority != nil {
		return *p.Priority
	}
	return c.Filter.Priority
}

// ParseDuration parses s, returning def for an empty string. A negative
// duration is allowed and means "disabled" where the caller supports it.
func ParseDuration(s string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
