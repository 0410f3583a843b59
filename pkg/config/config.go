// Package config loads toloka-clearml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAPIHost       = "https://api.clear.ml"
	defaultFilesHost     = "https://files.clear.ml"
	defaultTimeout       = 60 * time.Second
	defaultRetentionDays = 90
	defaultMaxOpenConns  = 5
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
)

// Config holds the complete configuration.
type Config struct {
	ClearML  ClearMLConfig  `yaml:"clearml"`
	Database DatabaseConfig `yaml:"database"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ClearMLConfig configures the ClearML dataset store.
type ClearMLConfig struct {
	APIHost   string        `yaml:"api_host"`
	FilesHost string        `yaml:"files_host"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	TaskID    string        `yaml:"task_id"`   // current run; fetch aliases are recorded on it
	CacheDir  string        `yaml:"cache_dir"` // local copies are materialized under it
	Timeout   time.Duration `yaml:"timeout"`
}

// DatabaseConfig configures the audit database connection.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// AuditConfig configures audit logging.
type AuditConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Load loads configuration from a YAML file. An empty path yields the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		// #nosec G304 -- path is from CLI args, controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		data = []byte(expandEnvVars(string(data)))

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyEnv overlays the standard ClearML SDK environment variables.
func applyEnv(cfg *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{"CLEARML_API_HOST", &cfg.ClearML.APIHost},
		{"CLEARML_FILES_HOST", &cfg.ClearML.FilesHost},
		{"CLEARML_API_ACCESS_KEY", &cfg.ClearML.AccessKey},
		{"CLEARML_API_SECRET_KEY", &cfg.ClearML.SecretKey},
		{"CLEARML_TASK_ID", &cfg.ClearML.TaskID},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.ClearML.APIHost == "" {
		cfg.ClearML.APIHost = defaultAPIHost
	}
	if cfg.ClearML.FilesHost == "" {
		cfg.ClearML.FilesHost = defaultFilesHost
	}
	cfg.ClearML.APIHost = strings.TrimRight(cfg.ClearML.APIHost, "/")
	cfg.ClearML.FilesHost = strings.TrimRight(cfg.ClearML.FilesHost, "/")
	if cfg.ClearML.CacheDir == "" {
		cfg.ClearML.CacheDir = defaultCacheDir()
	}
	if cfg.ClearML.Timeout == 0 {
		cfg.ClearML.Timeout = defaultTimeout
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = defaultRetentionDays
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaultLogFormat
	}
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "clearml", "cache", "datasets")
	}
	return filepath.Join(home, ".clearml", "cache", "datasets")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.ClearML.AccessKey == "" {
		errs = append(errs, "clearml.access_key is required")
	}
	if c.ClearML.SecretKey == "" {
		errs = append(errs, "clearml.secret_key is required")
	}
	if c.Audit.Enabled && c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required when audit is enabled")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be text or json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
