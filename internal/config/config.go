// Package config provides configuration loading for the gated daemon.
//
// Configuration is read from a YAML file, then overridden by GATED_*
// environment variables. Defaults are applied in code and the final result
// is validated before the daemon starts. Secret-bearing fields use the
// Secret type so they cannot leak through logs or serialization.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete gated daemon configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	GitHub    GitHubConfig    `koanf:"github"`
	Policy    PolicyConfig    `koanf:"policy"`
	Queue     QueueConfig     `koanf:"queue"`
	Archive   ArchiveConfig   `koanf:"archive"`
	Events    EventsConfig    `koanf:"events"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig selects log level and output format. The logging package
// owns the full encoder configuration; these are the operator-facing knobs.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds the OTLP export knobs. The telemetry package builds
// its providers from these plus the build-time service version.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Protocol   string  `koanf:"protocol"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// GitHubConfig holds credentials for webhook intake and status emission.
type GitHubConfig struct {
	// Token authenticates check-run, comment, and label writes. Required
	// when Emit is true.
	Token Secret `koanf:"token"`

	// WebhookSecret signs inbound deliveries. Always required: unsigned
	// webhooks are rejected, never trusted.
	WebhookSecret Secret `koanf:"webhook_secret"`

	// Emit enables writing gate results back to GitHub. Off, the daemon
	// still archives receipts and publishes events.
	Emit bool `koanf:"emit"`
}

// PolicyConfig locates the pipeline policy.
type PolicyConfig struct {
	// Path to the policy YAML. Empty means the built-in default policy.
	Path string `koanf:"path"`

	// DefaultTier is used when a review unit does not select one.
	DefaultTier string `koanf:"default_tier"`

	// Watch reloads the policy when the file changes.
	Watch bool `koanf:"watch"`
}

// QueueConfig sizes the intake worker pool.
type QueueConfig struct {
	Workers int `koanf:"workers"`
	Depth   int `koanf:"depth"`
}

// ArchiveConfig locates the run archive.
type ArchiveConfig struct {
	// Path to the SQLite database file. Empty means the default under the
	// user's data directory.
	Path string `koanf:"path"`

	// Retention prunes archived runs older than this. Zero keeps forever.
	Retention Duration `koanf:"retention"`
}

// EventsConfig controls NATS event publishing.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`

	// Embedded starts an in-process NATS server instead of connecting out.
	Embedded     bool   `koanf:"embedded"`
	EmbeddedHost string `koanf:"embedded_host"`
	EmbeddedPort int    `koanf:"embedded_port"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Policy.DefaultTier == "" {
		cfg.Policy.DefaultTier = "pr-fast"
	}

	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.Depth == 0 {
		cfg.Queue.Depth = 64
	}

	if cfg.Events.URL == "" {
		cfg.Events.URL = "nats://127.0.0.1:4222"
	}
	if cfg.Events.EmbeddedHost == "" {
		cfg.Events.EmbeddedHost = "127.0.0.1"
	}
	if cfg.Events.EmbeddedPort == 0 {
		cfg.Events.EmbeddedPort = 4222
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("server shutdown timeout must be positive")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry endpoint is required when telemetry is enabled")
		}
		switch c.Telemetry.Protocol {
		case "grpc", "http/protobuf":
		default:
			return fmt.Errorf("telemetry protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
		}
		// Plaintext export is allowed only toward local collectors.
		if c.Telemetry.Insecure && !isLocalEndpoint(c.Telemetry.Endpoint) {
			return errors.New("insecure telemetry export to a remote endpoint is not allowed; use TLS or a local collector")
		}
	}

	if !c.GitHub.WebhookSecret.IsSet() {
		return errors.New("github.webhook_secret is required: unsigned webhook deliveries are never accepted")
	}
	if c.GitHub.Emit && !c.GitHub.Token.IsSet() {
		return errors.New("github.token is required when github.emit is enabled")
	}

	if c.Policy.DefaultTier == "" {
		return errors.New("policy default_tier cannot be empty")
	}

	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue workers must be >= 1, got %d", c.Queue.Workers)
	}
	if c.Queue.Depth < 1 {
		return fmt.Errorf("queue depth must be >= 1, got %d", c.Queue.Depth)
	}

	if c.Archive.Retention.Duration() < 0 {
		return errors.New("archive retention cannot be negative")
	}

	if c.Events.Enabled && !c.Events.Embedded && c.Events.URL == "" {
		return errors.New("events url is required when events are enabled without an embedded server")
	}
	if c.Events.Embedded && (c.Events.EmbeddedPort < -1 || c.Events.EmbeddedPort > 65535) {
		return fmt.Errorf("invalid embedded events port: %d", c.Events.EmbeddedPort)
	}

	return nil
}

// isLocalEndpoint checks if the endpoint is a local address.
func isLocalEndpoint(endpoint string) bool {
	host := endpoint

	// Bracketed IPv6 like [::1]:4317
	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]:"); idx != -1 {
			host = host[1:idx]
		} else if strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	} else if strings.Count(host, ":") == 1 {
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}
	}

	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(endpoint, "::1")
}
