// Package config loads the server configuration with viper and transform
// definitions from YAML files.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/adfharrison1/go-pivot/pkg/storage"
)

// Defaults
const (
	DefaultPort            = 8080
	DefaultShutdownTimeout = 30 * time.Second
	DefaultDataFile        = "go-pivot_data.gpiv"
	DefaultPartitions      = storage.DefaultPartitions
	DefaultBreakerLimit    = "256MiB"
	DefaultTickInterval    = time.Second
)

// Config is the top-level configuration of the server.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Transforms TransformsConfig `mapstructure:"transforms"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig holds the document store settings.
type StorageConfig struct {
	DataFile       string        `mapstructure:"data_file"`
	Partitions     int           `mapstructure:"partitions"`
	BackgroundSave time.Duration `mapstructure:"background_save"`
	// BreakerLimit is a human size such as "256MiB", empty or "0" disables it
	BreakerLimit string `mapstructure:"breaker_limit"`
}

// SchedulerConfig holds the transform scheduler settings.
type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	Node         string        `mapstructure:"node"`
}

// TransformsConfig names YAML files or directories with transform
// definitions created at startup.
type TransformsConfig struct {
	Paths     []string `mapstructure:"paths"`
	AutoStart bool     `mapstructure:"auto_start"`
}

// LogConfig holds the logger settings.
type LogConfig struct {
	Debug bool `mapstructure:"debug"`
	Human bool `mapstructure:"human"`
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	if c.Storage.Partitions < 1 {
		return fmt.Errorf("storage.partitions must be at least 1, got %d", c.Storage.Partitions)
	}
	if c.Storage.BackgroundSave < 0 {
		return errors.New("storage.background_save cannot be negative")
	}
	if _, err := c.BreakerLimitBytes(); err != nil {
		return err
	}
	if c.Scheduler.TickInterval <= 0 {
		return errors.New("scheduler.tick_interval must be positive")
	}
	return nil
}

// BreakerLimitBytes parses the breaker limit.
func (c *Config) BreakerLimitBytes() (int64, error) {
	return storage.ParseBreakerLimit(c.Storage.BreakerLimit)
}

// StorageOptions converts the storage settings to engine options.
func (c *Config) StorageOptions() ([]storage.StorageOption, error) {
	limit, err := c.BreakerLimitBytes()
	if err != nil {
		return nil, err
	}
	opts := []storage.StorageOption{
		storage.WithPartitions(c.Storage.Partitions),
		storage.WithBreakerLimit(limit),
	}
	if c.Storage.DataFile != "" {
		opts = append(opts, storage.WithDataFile(c.Storage.DataFile))
	}
	if c.Storage.BackgroundSave > 0 {
		opts = append(opts, storage.WithBackgroundSave(c.Storage.BackgroundSave))
	}
	return opts, nil
}
