package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper for env vars
	v.SetEnvPrefix("BOXKEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Determine config file path
	if configPath == "" {
		configPath = os.Getenv("BOXKEEP_CONFIG")
	}
	if configPath == "" {
		// Try default locations
		defaultPaths := []string{"config.yaml", "config.yml", "/app/config.yaml"}
		for _, p := range defaultPaths {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}

	// Read config file if found
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}
	// If no file found, continue with defaults and env vars

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for all configuration options
func setDefaults(v *viper.Viper) {
	// General defaults
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.test_run", false)
	v.SetDefault("general.timer", 1*time.Minute)
	v.SetDefault("general.owner_id", "default")
	v.SetDefault("general.ssl_verification", true)
	v.SetDefault("general.request_timeout", 30*time.Second)

	// Storage defaults
	v.SetDefault("storage.path", "boxkeep.db")
	v.SetDefault("storage.in_memory", false)

	// Mail defaults
	v.SetDefault("mail.backend", "gateway")
	v.SetDefault("mail.imap.port", "993")
	v.SetDefault("mail.imap.tls", true)
	v.SetDefault("mail.imap.archive_mailbox", "Archive")
	v.SetDefault("mail.imap.trash_mailbox", "Trash")

	// Resilience defaults
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.base_delay", 1*time.Second)
	v.SetDefault("resilience.max_delay", 30*time.Second)
	v.SetDefault("resilience.backoff_factor", 2.0)
	v.SetDefault("resilience.requests_per_second", 0.0) // 0 = unlimited
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout", 60*time.Second)

	// Cache defaults
	v.SetDefault("cache.message_lists.ttl", 5*time.Minute)
	v.SetDefault("cache.message_lists.max_entries", 200)
	v.SetDefault("cache.analytics.ttl", 15*time.Minute)
	v.SetDefault("cache.analytics.max_entries", 100)
	v.SetDefault("cache.counts.ttl", 2*time.Minute)
	v.SetDefault("cache.counts.max_entries", 100)
	v.SetDefault("cache.labels.ttl", 1*time.Hour)
	v.SetDefault("cache.labels.max_entries", 50)
	v.SetDefault("cache.sweep_every", 5*time.Minute)
}
