// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	HTTPAddr         string        `mapstructure:"HTTP_ADDR"`
	DBURL            string        `mapstructure:"DB_URL"`
	GithubToken      string        `mapstructure:"GITHUB_TOKEN"`
	GithubOwner      string        `mapstructure:"GITHUB_OWNER"`
	GithubRepo       string        `mapstructure:"GITHUB_REPO"`
	DefaultBranch    string        `mapstructure:"GITHUB_DEFAULT_BRANCH"`
	WebhookSecret    string        `mapstructure:"WEBHOOK_SECRET"`
	SyncInterval     time.Duration `mapstructure:"SYNC_INTERVAL"`
	FetchConcurrency int           `mapstructure:"FETCH_CONCURRENCY"`
	DocExtensions    []string      `mapstructure:"DOC_EXTENSIONS"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("GITHUB_DEFAULT_BRANCH", "main")
	viper.SetDefault("SYNC_INTERVAL", "1h")
	viper.SetDefault("FETCH_CONCURRENCY", 5)
	viper.SetDefault("DOC_EXTENSIONS", []string{".md", ".mdx", ".markdown"})

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.FetchConcurrency <= 0 {
		return nil, errors.New("FETCH_CONCURRENCY must be a positive integer")
	}

	return &cfg, nil
}
