// Package config loads application configuration: built-in defaults, an
// optional YAML file, then environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cesargomez89/tubecrate/internal/constants"
)

// Config holds all application configuration
type Config struct {
	DataDir           string        `yaml:"data_dir"`
	Port              string        `yaml:"port"`
	Concurrency       int           `yaml:"concurrency"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
	QuotaBudget       int           `yaml:"quota_budget"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	RetryCeiling      int           `yaml:"retry_ceiling"`
	BackupRetention   time.Duration `yaml:"backup_retention"`
	AnnotateModel     string        `yaml:"annotate_model"`
	AnnotateLimit     int           `yaml:"annotate_limit"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`

	// OpenAIKey comes from the environment only; it never lives in the file.
	OpenAIKey string `yaml:"-"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "tubecrate", "config.yml")
	}
	return "config.yml"
}

func defaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "tubecrate")
}

func defaults() *Config {
	return &Config{
		DataDir:           defaultDataDir(),
		Port:              constants.DefaultPort,
		Concurrency:       constants.DefaultConcurrency,
		HTTPTimeout:       constants.DefaultHTTPTimeout,
		QuotaBudget:       constants.DefaultQuotaBudget,
		RequestsPerSecond: constants.DefaultRequestsPerSecond,
		RetryCeiling:      constants.DefaultRetryCeiling,
		BackupRetention:   constants.DefaultBackupRetention,
		AnnotateModel:     constants.DefaultModel,
		AnnotateLimit:     constants.DefaultAnnotateLimit,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load builds the configuration from defaults, the YAML file at path and the
// environment. A missing file is fine when path is empty (the default
// location is tried); a path the caller asked for explicitly must exist.
func Load(path string) (*Config, error) {
	cfg := defaults()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// defaults only
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.DataDir, "TUBECRATE_DATA_DIR")
	setString(&c.Port, "TUBECRATE_PORT")
	setInt(&c.Concurrency, "TUBECRATE_CONCURRENCY")
	setInt(&c.QuotaBudget, "TUBECRATE_QUOTA_BUDGET")
	setInt(&c.RetryCeiling, "TUBECRATE_RETRY_CEILING")
	setDuration(&c.HTTPTimeout, "TUBECRATE_HTTP_TIMEOUT")
	setDuration(&c.BackupRetention, "TUBECRATE_BACKUP_RETENTION")
	setString(&c.AnnotateModel, "TUBECRATE_ANNOTATE_MODEL")
	setString(&c.LogLevel, "TUBECRATE_LOG_LEVEL")
	setString(&c.LogFormat, "TUBECRATE_LOG_FORMAT")
	setString(&c.OpenAIKey, "OPENAI_API_KEY")
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	var errs []string

	if c.DataDir == "" {
		errs = append(errs, "data_dir cannot be empty")
	}

	if c.Port == "" {
		errs = append(errs, "port cannot be empty")
	} else if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("port must be a valid number, got: %s", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("port must be between 1 and 65535, got: %d", port))
	}

	if c.Concurrency < 1 {
		errs = append(errs, fmt.Sprintf("concurrency must be at least 1, got: %d", c.Concurrency))
	}

	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("http_timeout must be positive, got: %s", c.HTTPTimeout))
	}

	if c.QuotaBudget < 0 {
		errs = append(errs, fmt.Sprintf("quota_budget must not be negative, got: %d", c.QuotaBudget))
	}

	if c.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Sprintf("requests_per_second must not be negative, got: %g", c.RequestsPerSecond))
	}

	if c.RetryCeiling < 1 {
		errs = append(errs, fmt.Sprintf("retry_ceiling must be at least 1, got: %d", c.RetryCeiling))
	}

	if c.AnnotateModel == "" {
		errs = append(errs, "annotate_model cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Sprintf("log_level must be one of: debug, info, warn, error, got: %s", c.LogLevel))
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.LogFormat] {
		errs = append(errs, fmt.Sprintf("log_format must be one of: text, json, got: %s", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
