// Package config provides YAML-based configuration for the trace filter server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// AppConfig is the root configuration document.
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Processing ProcessingConfig `yaml:"processing"`
	Logging    LoggingConfig    `yaml:"logging"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `yaml:"port"`
	BindAddress  string `yaml:"bind_address"`
	EnableCORS   bool   `yaml:"enable_cors"`
	AllowOrigins string `yaml:"allow_origins"`
	ReadTimeout  int    `yaml:"read_timeout_seconds"`
	WriteTimeout int    `yaml:"write_timeout_seconds"`
	IdleTimeout  int    `yaml:"idle_timeout_seconds"`
	BodyLimit    string `yaml:"body_limit"`

	// ShowErrorDetails includes the cause of server errors in responses.
	ShowErrorDetails bool `yaml:"show_error_details"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `yaml:"data_directory"`
	UploadsDirectory string `yaml:"uploads_directory"`
	IndexDirectory   string `yaml:"index_directory"`
}

// ProcessingConfig contains filter session settings
type ProcessingConfig struct {
	MaxSessions            int    `yaml:"max_sessions"`
	SessionTimeoutMinutes  int    `yaml:"session_timeout_minutes"`
	CleanupIntervalMinutes int    `yaml:"cleanup_interval_minutes"`
	EmptyText              string `yaml:"empty_text"`
	MaxReportedErrors      int    `yaml:"max_reported_errors"`
	EnableFrameIndex       bool   `yaml:"enable_frame_index"`
	EnableCompression      bool   `yaml:"enable_compression"`
	CompressionLevel       int    `yaml:"compression_level"`
}

// LoggingConfig contains log output settings
type LoggingConfig struct {
	Level                string `yaml:"level"`
	PrettyPrint          bool   `yaml:"pretty_print"`
	EnableRequestLogging bool   `yaml:"enable_request_logging"`
}

// RuntimeConfig contains Go runtime settings
type RuntimeConfig struct {
	// GoMaxProcs overrides the container-aware GOMAXPROCS when positive.
	GoMaxProcs int `yaml:"go_max_procs"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "256M",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			IndexDirectory:   "./data/index",
		},
		Processing: ProcessingConfig{
			MaxSessions:            10,
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
			EmptyText:              "clear",
			MaxReportedErrors:      1000,
			EnableFrameIndex:       true,
			EnableCompression:      true,
			CompressionLevel:       5,
		},
		Logging: LoggingConfig{
			Level:                "info",
			PrettyPrint:          true,
			EnableRequestLogging: true,
		},
	}
}

// LoadConfig loads configuration from a YAML file, writing the defaults
// there first if the file does not exist.
func LoadConfig(configPath string) (*AppConfig, error) {
	var cfg *AppConfig

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
		if err := cfg.Save(configPath); err != nil {
			return nil, errors.Wrap(err, "failed to create default config")
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}

		cfg = DefaultConfig()
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	cfg.applyEnvironmentOverrides()
	cfg.resolvePaths(filepath.Dir(configPath))

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *AppConfig) Save(configPath string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	header := []byte("# CANopen trace filter configuration\n# This file is auto-generated on first run\n\n")
	if err := os.WriteFile(configPath, append(header, out...), 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	return nil
}

// Validate checks value ranges and enumerations.
func (c *AppConfig) Validate() error {
	if err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Server.ReadTimeout, validation.Min(0)),
		validation.Field(&c.Server.WriteTimeout, validation.Min(0)),
		validation.Field(&c.Server.IdleTimeout, validation.Min(0)),
		validation.Field(&c.Server.BodyLimit, validation.Required),
	); err != nil {
		return errors.Wrap(err, "server")
	}
	if err := validation.ValidateStruct(&c.Storage,
		validation.Field(&c.Storage.DataDirectory, validation.Required),
		validation.Field(&c.Storage.UploadsDirectory, validation.Required),
		validation.Field(&c.Storage.IndexDirectory, validation.When(c.Processing.EnableFrameIndex, validation.Required)),
	); err != nil {
		return errors.Wrap(err, "storage")
	}
	if err := validation.ValidateStruct(&c.Processing,
		validation.Field(&c.Processing.MaxSessions, validation.Required, validation.Min(1)),
		validation.Field(&c.Processing.SessionTimeoutMinutes, validation.Required, validation.Min(1)),
		validation.Field(&c.Processing.CleanupIntervalMinutes, validation.Required, validation.Min(1)),
		validation.Field(&c.Processing.EmptyText, validation.Required, validation.In("keep", "clear")),
		validation.Field(&c.Processing.MaxReportedErrors, validation.Min(-1)),
		validation.Field(&c.Processing.CompressionLevel, validation.Min(-1), validation.Max(9)),
	); err != nil {
		return errors.Wrap(err, "processing")
	}
	if err := validation.ValidateStruct(&c.Logging,
		validation.Field(&c.Logging.Level, validation.In("trace", "debug", "info", "warn", "error", "fatal", "disabled")),
	); err != nil {
		return errors.Wrap(err, "logging")
	}
	if err := validation.ValidateStruct(&c.Runtime,
		validation.Field(&c.Runtime.GoMaxProcs, validation.Min(0)),
	); err != nil {
		return errors.Wrap(err, "runtime")
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "uploads")
		c.Storage.IndexDirectory = filepath.Join(dataDir, "index")
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.IndexDirectory,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{c.Storage.DataDirectory, c.Storage.UploadsDirectory}
	if c.Processing.EnableFrameIndex {
		dirs = append(dirs, c.Storage.IndexDirectory)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}
	return nil
}
