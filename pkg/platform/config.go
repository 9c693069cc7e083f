// Package platform wires the job orchestrator, its storage and its
// transports from a single configuration file.
package platform

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/txn2/mcp-lakejobs/pkg/database"
	"github.com/txn2/mcp-lakejobs/pkg/engine/duckdb"
	"github.com/txn2/mcp-lakejobs/pkg/store"
)

// CurrentConfigVersion is the only supported config API version.
const CurrentConfigVersion = "v1"

// Transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config holds the complete server configuration.
type Config struct {
	APIVersion string                      `yaml:"apiVersion"`
	Server     ServerConfig                `yaml:"server"`
	Stores     map[string]store.Descriptor `yaml:"stores"`
	Database   database.Config             `yaml:"database"`
	Engine     EngineConfig                `yaml:"engine"`
	Sink       SinkConfig                  `yaml:"sink"`
	Jobs       JobsConfig                  `yaml:"jobs"`
	Metrics    MetricsConfig               `yaml:"metrics"`
	Runs       RunsConfig                  `yaml:"runs"`
}

// ServerConfig configures the MCP server and its transport.
type ServerConfig struct {
	Name            string        `yaml:"name"`
	Version         string        `yaml:"version"`
	Transport       string        `yaml:"transport"` // "stdio", "http"
	Address         string        `yaml:"address"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"` // "text", "json"
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// EngineConfig configures the embedded query engine.
type EngineConfig struct {
	// PreviewRows is the number of rows a dry run returns.
	PreviewRows int `yaml:"preview_rows"`

	DuckDB duckdb.Config `yaml:",inline"`
}

// SinkConfig configures how results are written.
type SinkConfig struct {
	MaxRowsPerFile int `yaml:"max_rows_per_file"`
}

// JobsConfig configures job admission.
type JobsConfig struct {
	// MaxConcurrent caps in-flight jobs; 0 means unlimited.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RunsConfig configures job run history.
type RunsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RetentionDays   int           `yaml:"retention_days"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// MemoryCapacity bounds the in-memory history used without a database.
	MemoryCapacity int `yaml:"memory_capacity"`
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the operator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration, expanding ${VAR} references and
// applying defaults.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.APIVersion == "" {
		cfg.APIVersion = CurrentConfigVersion
	}
	if cfg.Server.Name == "" {
		cfg.Server.Name = "mcp-lakejobs"
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = TransportStdio
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = "text"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Engine.PreviewRows == 0 {
		cfg.Engine.PreviewRows = 10
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Runs.RetentionDays == 0 {
		cfg.Runs.RetentionDays = 90
	}
	if cfg.Runs.CleanupInterval == 0 {
		cfg.Runs.CleanupInterval = time.Hour
	}
	if cfg.Runs.MemoryCapacity == 0 {
		cfg.Runs.MemoryCapacity = 1000
	}
}

var supportedSchemes = map[string]bool{
	store.SchemeFile:   true,
	store.SchemeS3:     true,
	store.SchemeMemory: true,
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.APIVersion != CurrentConfigVersion {
		errs = append(errs, fmt.Sprintf("unsupported apiVersion %q (want %q)", c.APIVersion, CurrentConfigVersion))
	}
	if c.Server.Transport != TransportStdio && c.Server.Transport != TransportHTTP {
		errs = append(errs, fmt.Sprintf("server.transport must be %q or %q", TransportStdio, TransportHTTP))
	}
	if c.Server.LogFormat != "text" && c.Server.LogFormat != "json" {
		errs = append(errs, "server.log_format must be text or json")
	}
	if _, err := ParseLogLevel(c.Server.LogLevel); err != nil {
		errs = append(errs, err.Error())
	}

	if len(c.Stores) == 0 {
		errs = append(errs, "at least one store is required")
	}
	names := make([]string, 0, len(c.Stores))
	for name := range c.Stores {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d := c.Stores[name]
		if d.Path == "" {
			errs = append(errs, fmt.Sprintf("stores.%s.path is required", name))
			continue
		}
		if !supportedSchemes[d.Scheme()] {
			errs = append(errs, fmt.Sprintf("stores.%s.path has unsupported scheme %q", name, d.Scheme()))
		}
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, "database: "+err.Error())
	}
	if c.Database.Driver != "" && c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required when database.driver is set")
	}
	if c.Engine.PreviewRows < 0 {
		errs = append(errs, "engine.preview_rows must not be negative")
	}
	if c.Sink.MaxRowsPerFile < 0 {
		errs = append(errs, "sink.max_rows_per_file must not be negative")
	}
	if c.Jobs.MaxConcurrent < 0 {
		errs = append(errs, "jobs.max_concurrent must not be negative")
	}
	if c.Runs.CleanupInterval < 0 {
		errs = append(errs, "runs.cleanup_interval must not be negative")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseLogLevel maps a config log level to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", s)
	}
	return level, nil
}
