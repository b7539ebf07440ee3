package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = "go-pivot"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix, GOPIVOT_SERVER_PORT sets
// server.port.
const envPrefix = "GOPIVOT"

// Load reads configuration from file, env vars and defaults. An empty path
// searches the working directory and $HOME. A missing config file is not an
// error.
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller supplied viper instance, so command line
// flags bound to it take precedence.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)

	v.SetDefault("storage.data_file", DefaultDataFile)
	v.SetDefault("storage.partitions", DefaultPartitions)
	v.SetDefault("storage.background_save", 0)
	v.SetDefault("storage.breaker_limit", DefaultBreakerLimit)

	v.SetDefault("scheduler.tick_interval", DefaultTickInterval)
	v.SetDefault("scheduler.node", "")

	v.SetDefault("transforms.paths", []string{})
	v.SetDefault("transforms.auto_start", false)

	v.SetDefault("log.debug", false)
	v.SetDefault("log.human", false)
}
