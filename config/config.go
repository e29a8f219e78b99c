// Package config loads application configuration from config files and
// environment variables, with sensible local-development defaults.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Scheduler SchedulerConfig
	LogMode   string // "production" or "development"
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

// DatabaseConfig holds SQLite configuration.
type DatabaseConfig struct {
	Path string
}

// SchedulerConfig controls the monthly budget reset scheduler.
type SchedulerConfig struct {
	Enabled       bool
	CheckInterval time.Duration
}

// Load loads configuration from config files and environment variables.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("reward")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine, environment variables and
		// defaults still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default values for configuration.
func setDefaults() {
	viper.SetDefault("Server.Port", "8080")
	viper.SetDefault("Server.AllowedOrigins", []string{"http://localhost:3000"})
	viper.SetDefault("Database.Path", "./data/rewards.db")
	viper.SetDefault("Scheduler.Enabled", true)
	viper.SetDefault("Scheduler.CheckInterval", time.Hour)
	viper.SetDefault("LogMode", "development")
}
