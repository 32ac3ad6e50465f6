package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the controller configuration
type Config struct {
	Cluster    ClusterConfig    `mapstructure:"cluster"`
	Federation FederationConfig `mapstructure:"federation"`
	State      StateConfig      `mapstructure:"state"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ClusterConfig identifies the local cluster and its control plane endpoint
type ClusterConfig struct {
	Name        string `mapstructure:"name"`
	ControlHost string `mapstructure:"control_host"`
	ControlPort int    `mapstructure:"control_port"`
}

// FederationConfig contains federation-related configuration
type FederationConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	StopWait       time.Duration `mapstructure:"stop_wait"`
	// FedFile is the federation definition file watched for membership
	// updates. Empty disables the file-based accounting source.
	FedFile string `mapstructure:"fed_file"`
}

// StateConfig controls durable state persistence
type StateConfig struct {
	SaveLocation string `mapstructure:"save_location"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// DebugFederation enables verbose open/close/ping traces regardless
	// of Level.
	DebugFederation bool `mapstructure:"debug_federation"`
}

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/fedmgr")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("FEDMGR")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("cluster.name", "")
	viper.SetDefault("cluster.control_host", "localhost")
	viper.SetDefault("cluster.control_port", 6817)

	viper.SetDefault("federation.ping_interval", "5s")
	viper.SetDefault("federation.dial_timeout", "5s")
	viper.SetDefault("federation.request_timeout", "10s")
	viper.SetDefault("federation.stop_wait", "2s")
	viper.SetDefault("federation.fed_file", "")

	viper.SetDefault("state.save_location", "./state")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.debug_federation", false)
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Cluster.Name == "" {
		return fmt.Errorf("cluster.name is required")
	}

	if config.Cluster.ControlPort < 1 || config.Cluster.ControlPort > 65535 {
		return fmt.Errorf("cluster.control_port must be between 1 and 65535")
	}

	if config.Federation.PingInterval <= 0 {
		return fmt.Errorf("federation.ping_interval must be positive")
	}

	config.State.SaveLocation = filepath.Clean(config.State.SaveLocation)
	if config.Federation.FedFile != "" {
		config.Federation.FedFile = filepath.Clean(config.Federation.FedFile)
	}

	return nil
}
