package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks the configuration for errors and inconsistencies
func (c *Config) Validate() error {
	if err := c.validateGeneral(); err != nil {
		return fmt.Errorf("general config: %w", err)
	}
	if err := c.validateMail(); err != nil {
		return fmt.Errorf("mail config: %w", err)
	}
	if err := c.validateResilience(); err != nil {
		return fmt.Errorf("resilience config: %w", err)
	}
	if err := c.validateCache(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage: path is required unless in_memory is set")
	}
	return nil
}

func (c *Config) validateGeneral() error {
	// Validate log level
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !isValidChoice(c.General.LogLevel, validLogLevels) {
		return fmt.Errorf("log_level must be one of: %s", strings.Join(validLogLevels, ", "))
	}

	// Validate timer
	if c.General.Timer < 10*time.Second {
		return fmt.Errorf("timer must be at least 10 seconds")
	}
	if c.General.Timer > 24*time.Hour {
		return fmt.Errorf("timer must not exceed 24 hours")
	}

	// Validate request timeout
	if c.General.RequestTimeout < 1*time.Second {
		return fmt.Errorf("request_timeout must be at least 1 second")
	}
	if c.General.RequestTimeout > 5*time.Minute {
		return fmt.Errorf("request_timeout must not exceed 5 minutes")
	}

	if c.General.OwnerID == "" {
		return fmt.Errorf("owner_id must not be empty")
	}

	return nil
}

func (c *Config) validateMail() error {
	switch c.Mail.Backend {
	case "gateway":
		gw := c.Mail.Gateway
		if gw.URL == "" {
			return fmt.Errorf("gateway: URL is required")
		}
		if !strings.HasPrefix(gw.URL, "http://") && !strings.HasPrefix(gw.URL, "https://") {
			return fmt.Errorf("gateway: URL must start with http:// or https://")
		}
		if gw.Token == "" {
			return fmt.Errorf("gateway: token is required")
		}
	case "imap":
		im := c.Mail.IMAP
		if im.Host == "" {
			return fmt.Errorf("imap: host is required")
		}
		if im.Username == "" {
			return fmt.Errorf("imap: username is required")
		}
		if im.Password == "" {
			return fmt.Errorf("imap: password is required")
		}
	default:
		return fmt.Errorf("backend must be one of: gateway, imap")
	}
	return nil
}

func (c *Config) validateResilience() error {
	r := c.Resilience
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if r.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be positive")
	}
	if r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("max_delay cannot be less than base_delay")
	}
	if r.BackoffFactor < 1.0 {
		return fmt.Errorf("backoff_factor must be at least 1.0")
	}
	if r.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second cannot be negative")
	}
	if r.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be at least 1")
	}
	if r.ResetTimeout <= 0 {
		return fmt.Errorf("reset_timeout must be positive")
	}
	return nil
}

func (c *Config) validateCache() error {
	namespaces := map[string]CacheNamespaceConfig{
		"message_lists": c.Cache.MessageLists,
		"analytics":     c.Cache.Analytics,
		"counts":        c.Cache.Counts,
		"labels":        c.Cache.Labels,
	}
	for name, ns := range namespaces {
		if ns.TTL <= 0 {
			return fmt.Errorf("%s: ttl must be positive", name)
		}
		if ns.MaxEntries < 1 {
			return fmt.Errorf("%s: max_entries must be at least 1", name)
		}
	}
	if c.Cache.SweepEvery <= 0 {
		return fmt.Errorf("sweep_every must be positive")
	}
	return nil
}

// isValidChoice checks if a value is in a list of valid choices
func isValidChoice(value string, choices []string) bool {
	value = strings.ToLower(value)
	for _, choice := range choices {
		if value == choice {
			return true
		}
	}
	return false
}
