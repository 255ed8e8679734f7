package config

import "time"

// Config represents the complete application configuration
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Mail       MailConfig       `mapstructure:"mail"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Cache      CacheConfig      `mapstructure:"cache"`
}

// GeneralConfig contains global application settings
type GeneralConfig struct {
	LogLevel        string        `mapstructure:"log_level"`
	TestRun         bool          `mapstructure:"test_run"`
	Timer           time.Duration `mapstructure:"timer"`
	OwnerID         string        `mapstructure:"owner_id"`
	SSLVerification bool          `mapstructure:"ssl_verification"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// StorageConfig contains database settings
type StorageConfig struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// MailConfig selects and configures the mail backend
type MailConfig struct {
	Backend string        `mapstructure:"backend"` // "gateway" or "imap"
	Gateway GatewayConfig `mapstructure:"gateway"`
	IMAP    IMAPConfig    `mapstructure:"imap"`
}

// GatewayConfig represents the HTTP mail-gateway backend
type GatewayConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// IMAPConfig represents the plain-IMAP backend
type IMAPConfig struct {
	Host           string `mapstructure:"host"`
	Port           string `mapstructure:"port"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	TLS            bool   `mapstructure:"tls"`
	ArchiveMailbox string `mapstructure:"archive_mailbox"`
	TrashMailbox   string `mapstructure:"trash_mailbox"`
}

// ResilienceConfig contains retry, rate-limit and circuit-breaker settings
type ResilienceConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	BackoffFactor     float64       `mapstructure:"backoff_factor"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	FailureThreshold  int           `mapstructure:"failure_threshold"`
	ResetTimeout      time.Duration `mapstructure:"reset_timeout"`
}

// CacheConfig contains per-namespace TTL and capacity settings
type CacheConfig struct {
	MessageLists CacheNamespaceConfig `mapstructure:"message_lists"`
	Analytics    CacheNamespaceConfig `mapstructure:"analytics"`
	Counts       CacheNamespaceConfig `mapstructure:"counts"`
	Labels       CacheNamespaceConfig `mapstructure:"labels"`
	SweepEvery   time.Duration        `mapstructure:"sweep_every"`
}

// CacheNamespaceConfig represents one cache namespace
type CacheNamespaceConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}
