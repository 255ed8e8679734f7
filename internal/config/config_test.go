package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalGateway = `
mail:
  backend: gateway
  gateway:
    url: https://mail.example.com
    token: secret
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalGateway))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.General.LogLevel)
	assert.Equal(t, time.Minute, cfg.General.Timer)
	assert.Equal(t, "default", cfg.General.OwnerID)
	assert.Equal(t, "boxkeep.db", cfg.Storage.Path)
	assert.Equal(t, 3, cfg.Resilience.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Resilience.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Resilience.MaxDelay)
	assert.Equal(t, 2.0, cfg.Resilience.BackoffFactor)
	assert.Equal(t, 5, cfg.Resilience.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Resilience.ResetTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Cache.MessageLists.TTL)
	assert.Equal(t, 200, cfg.Cache.MessageLists.MaxEntries)
	assert.Equal(t, time.Hour, cfg.Cache.Labels.TTL)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
general:
  log_level: debug
  test_run: true
  timer: 30s
  owner_id: alice
storage:
  in_memory: true
mail:
  backend: imap
  imap:
    host: mail.example.com
    username: alice
    password: hunter2
resilience:
  max_attempts: 5
  requests_per_second: 2.5
cache:
  counts:
    ttl: 90s
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.General.LogLevel)
	assert.True(t, cfg.General.TestRun)
	assert.Equal(t, 30*time.Second, cfg.General.Timer)
	assert.Equal(t, "alice", cfg.General.OwnerID)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, "imap", cfg.Mail.Backend)
	assert.Equal(t, "993", cfg.Mail.IMAP.Port)
	assert.Equal(t, "Archive", cfg.Mail.IMAP.ArchiveMailbox)
	assert.Equal(t, 5, cfg.Resilience.MaxAttempts)
	assert.Equal(t, 2.5, cfg.Resilience.RequestsPerSecond)
	assert.Equal(t, 90*time.Second, cfg.Cache.Counts.TTL)
}

func TestLoadValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no backend config",
			yaml:    "general:\n  log_level: info\n",
			wantErr: "gateway: URL is required",
		},
		{
			name: "bad gateway url",
			yaml: `
mail:
  backend: gateway
  gateway:
    url: mail.example.com
    token: secret
`,
			wantErr: "must start with http:// or https://",
		},
		{
			name: "unknown backend",
			yaml: `
mail:
  backend: pop3
`,
			wantErr: "backend must be one of",
		},
		{
			name: "imap missing credentials",
			yaml: `
mail:
  backend: imap
  imap:
    host: mail.example.com
`,
			wantErr: "username is required",
		},
		{
			name: "timer too short",
			yaml: minimalGateway + `
general:
  timer: 1s
`,
			wantErr: "timer must be at least",
		},
		{
			name: "bad log level",
			yaml: minimalGateway + `
general:
  log_level: trace
`,
			wantErr: "log_level must be one of",
		},
		{
			name: "max_delay below base_delay",
			yaml: minimalGateway + `
resilience:
  base_delay: 10s
  max_delay: 5s
`,
			wantErr: "max_delay cannot be less than base_delay",
		},
		{
			name: "backoff factor below one",
			yaml: minimalGateway + `
resilience:
  backoff_factor: 0.5
`,
			wantErr: "backoff_factor must be at least 1.0",
		},
		{
			name: "zero cache capacity",
			yaml: minimalGateway + `
cache:
  labels:
    max_entries: 0
`,
			wantErr: "max_entries must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
