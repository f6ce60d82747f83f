// Package config handles loading and validating Karakana configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// DefaultRuntimeBinary is the sandbox CLI invoked for every container
// operation.
const DefaultRuntimeBinary = "dock-route"

// Config is the root configuration for Karakana.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Workspace root. Default: ~/.karakana/workspace. Override: KARAKANA_WORKSPACE env var.
	Runtime       RuntimeConfig        `json:"runtime" yaml:"runtime"`
	Server        ServerConfig         `json:"server" yaml:"server"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"` // nil = SQLite default (derived from workspace)
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Janitor       *JanitorConfig       `json:"janitor,omitempty" yaml:"janitor,omitempty"`             // nil = idle cleanup disabled
}

// RuntimeConfig configures the external sandbox CLI and its timeouts.
type RuntimeConfig struct {
	Binary                   string `json:"binary" yaml:"binary"`                                           // Default: "dock-route". Override: KARAKANA_RUNTIME_BIN env var.
	HostCommandTimeoutS      int    `json:"host_command_timeout_s" yaml:"host_command_timeout_s"`           // Default: 30.
	ContainerCommandTimeoutS int    `json:"container_command_timeout_s" yaml:"container_command_timeout_s"` // Default: 300.
	ControlTimeoutS          int    `json:"control_timeout_s" yaml:"control_timeout_s"`                     // start/stop/restart. Default: 60.
	DeployTimeoutS           int    `json:"deploy_timeout_s" yaml:"deploy_timeout_s"`                       // Default: 300.
}

// RuntimeBinary returns the configured CLI binary name or path.
func (r RuntimeConfig) RuntimeBinary() string {
	if r.Binary != "" {
		return r.Binary
	}
	return DefaultRuntimeBinary
}

// HostCommandTimeout returns the host command timeout as a duration.
func (r RuntimeConfig) HostCommandTimeout() time.Duration {
	if r.HostCommandTimeoutS > 0 {
		return time.Duration(r.HostCommandTimeoutS) * time.Second
	}
	return 30 * time.Second
}

// ContainerCommandTimeout returns the container command timeout as a duration.
func (r RuntimeConfig) ContainerCommandTimeout() time.Duration {
	if r.ContainerCommandTimeoutS > 0 {
		return time.Duration(r.ContainerCommandTimeoutS) * time.Second
	}
	return 5 * time.Minute
}

// ControlTimeout returns the start/stop/restart timeout as a duration.
func (r RuntimeConfig) ControlTimeout() time.Duration {
	if r.ControlTimeoutS > 0 {
		return time.Duration(r.ControlTimeoutS) * time.Second
	}
	return time.Minute
}

// DeployTimeout returns the deploy timeout as a duration.
func (r RuntimeConfig) DeployTimeout() time.Duration {
	if r.DeployTimeoutS > 0 {
		return time.Duration(r.DeployTimeoutS) * time.Second
	}
	return 5 * time.Minute
}

// ServerConfig configures the HTTP/WebSocket server.
type ServerConfig struct {
	ListenAddr          string `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	MaxRequestSizeBytes int64  `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
}

// Addr returns the listen address with a default of ":8080".
func (s ServerConfig) Addr() string {
	if s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8080"
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the workspace.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from workspace.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Override: KARAKANA_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ProvidersConfig selects the reasoning engine backend.
type ProvidersConfig struct {
	Default   string          `json:"default" yaml:"default"`                       // "anthropic" or "openai". Empty = "anthropic".
	Fallback  []string        `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Fallback providers tried in order when default fails.
	Anthropic AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai" yaml:"openai"`
}

type AnthropicConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"` // Override: ANTHROPIC_API_KEY env var.
	Model  string `json:"model" yaml:"model"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"` // Override: OPENAI_API_KEY env var.
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com.
}

// ToolsConfig configures individual tool settings.
type ToolsConfig struct {
	File FileToolConfig `json:"file" yaml:"file"`
}

// FileToolConfig restricts file tool behavior.
type FileToolConfig struct {
	MaxFileSizeBytes int64 `json:"max_file_size_bytes" yaml:"max_file_size_bytes"` // Default: 10 MB.
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "karakana"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeDB      bool `json:"include_db" yaml:"include_db"`
	IncludeRuntime bool `json:"include_runtime" yaml:"include_runtime"` // Probe the sandbox CLI with "list containers".
}

// JanitorConfig configures the idle-sandbox sweep.
type JanitorConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Schedule     string `json:"schedule" yaml:"schedule"`               // 5-field cron. Default: "*/30 * * * *".
	IdleAfterMin int    `json:"idle_after_min" yaml:"idle_after_min"`   // Stop sandboxes idle longer than this. Default: 120.
	Remove       bool   `json:"remove" yaml:"remove"`                   // Remove instead of stop. Default: false.
}

// CronSchedule returns the sweep schedule with its default.
func (j *JanitorConfig) CronSchedule() string {
	if j != nil && j.Schedule != "" {
		return j.Schedule
	}
	return "*/30 * * * *"
}

// IdleAfter returns the idle cutoff as a duration.
func (j *JanitorConfig) IdleAfter() time.Duration {
	if j != nil && j.IdleAfterMin > 0 {
		return time.Duration(j.IdleAfterMin) * time.Minute
	}
	return 2 * time.Hour
}

// DefaultConfigPath returns the default config file path (~/.karakana/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/karakana.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".karakana", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Provider API keys can be set in the config file or
// overridden by environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads the config at path, falling back to defaults plus
// environment overrides when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err == nil {
		if _, statErr := os.Stat(resolved); statErr == nil {
			return Load(path)
		}
	}

	cfg := &Config{}
	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variables over config values.
func (c *Config) applyEnvOverrides() {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		c.Providers.Anthropic.APIKey = envKey
	}
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		c.Providers.OpenAI.APIKey = envKey
	}
	if envWS := os.Getenv("KARAKANA_WORKSPACE"); envWS != "" {
		c.Workspace = envWS
	}
	if envBin := os.Getenv("KARAKANA_RUNTIME_BIN"); envBin != "" {
		c.Runtime.Binary = envBin
	}
	if envDSN := os.Getenv("KARAKANA_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = envDSN
	}
}

func (c *Config) validate() error {
	if c.Providers.Default == "" {
		c.Providers.Default = "anthropic"
	}
	if err := c.validateProvider(c.Providers.Default); err != nil {
		return err
	}
	for _, name := range c.Providers.Fallback {
		if err := c.validateProvider(name); err != nil {
			return fmt.Errorf("fallback provider: %w", err)
		}
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
		if c.Storage.Driver == "postgres" && (c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "") {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set KARAKANA_DB_DSN env var)")
		}
	}
	if c.Tools.File.MaxFileSizeBytes < 0 {
		return fmt.Errorf("tools.file.max_file_size_bytes must not be negative")
	}
	return nil
}

// validateProvider checks that the named LLM provider is supported.
// API key presence is checked where the provider is actually built, so
// commands that never talk to an LLM work without keys.
func (c *Config) validateProvider(name string) error {
	switch name {
	case "anthropic", "openai":
		return nil
	default:
		return fmt.Errorf("provider %q is not supported (use anthropic or openai)", name)
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
