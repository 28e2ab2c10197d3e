package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scorepeers/settlement/internal/domain"
)

const sampleTOML = `
mode = "server"
log_level = "debug"

[postgres]
host = "db.internal"
database = "contests"

[settlement]
lock_ttl = "45s"
tx_timeout = "15s"

[lifecycle]
sweep_interval = "30s"
auto_refund = false

[[auth.admins]]
id = "alice"
api_key = "from-file"
capabilities = ["contest:settle", "contest:refund", "audit:read"]

[[auth.admins]]
id = "bob"
capabilities = ["prop:outcome"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, 45*time.Second, cfg.Settlement.LockTTL.Duration)
	assert.Equal(t, 10*time.Second, cfg.Settlement.LockWait.Duration)
	assert.Equal(t, 30*time.Second, cfg.Lifecycle.SweepInterval.Duration)
	assert.False(t, cfg.Lifecycle.AutoRefund)
	require.Len(t, cfg.Auth.Admins, 2)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCOREPEERS_MODE", "worker")
	t.Setenv("SCOREPEERS_REDIS_ADDR", "redis:6380")
	t.Setenv("SCOREPEERS_SETTLEMENT_LOCK_WAIT", "3s")
	t.Setenv("SCOREPEERS_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("SCOREPEERS_AUTH_API_KEYS", "bob=env-key,mallory=ignored")
	t.Setenv("DATABASE_URL", "postgres://alias")
	t.Setenv("SCOREPEERS_POSTGRES_DSN", "postgres://primary")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "worker", cfg.Mode)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 3*time.Second, cfg.Settlement.LockWait.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "postgres://primary", cfg.Postgres.DSN)

	assert.Equal(t, map[string]string{"from-file": "alice", "env-key": "bob"}, cfg.Auth.APIKeys())
	assert.Equal(t, []domain.Capability{domain.CapabilityRecordOutcome}, cfg.Auth.Grants()["bob"])
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "trade" }, `unknown mode "trade"`},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log_level"},
		{"lock shorter than tx", func(c *Config) { c.Settlement.LockTTL.Duration = time.Second }, "lock_ttl must exceed tx_timeout"},
		{"s3 without key", func(c *Config) { c.S3.Enabled = true }, "receipts: one of raw_key"},
		{"archive without s3", func(c *Config) { c.Archive.Enabled = true }, "archive: requires s3.enabled"},
		{"encrypted key without password", func(c *Config) { c.Receipts.EncryptedKeyPath = "/k.json" }, "key_password is required"},
		{"reserved admin id", func(c *Config) {
			c.Auth.Admins = []AdminConfig{{ID: domain.SystemActor, APIKey: "k"}}
		}, "is reserved"},
		{"duplicate admin", func(c *Config) {
			c.Auth.Admins = []AdminConfig{{ID: "a", APIKey: "k1"}, {ID: "a", APIKey: "k2"}}
		}, `duplicate id "a"`},
		{"shared key", func(c *Config) {
			c.Auth.Admins = []AdminConfig{{ID: "a", APIKey: "k"}, {ID: "b", APIKey: "k"}}
		}, "api_key shared"},
		{"unknown capability", func(c *Config) {
			c.Auth.Admins = []AdminConfig{{ID: "a", Capabilities: []string{"contest:delete"}}}
		}, `unknown capability "contest:delete"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.Receipts.Passphrase = "correct horse"
	cfg.Notify.TelegramToken = "tg"
	cfg.Auth.Admins = []AdminConfig{{ID: "alice", APIKey: "key-1", Capabilities: []string{"contest:settle"}}}

	out := RedactedConfig(&cfg)

	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Receipts.Passphrase)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "***", out.Auth.Admins[0].APIKey)
	assert.Empty(t, out.Receipts.RawKey)

	assert.Equal(t, "key-1", cfg.Auth.Admins[0].APIKey)
	assert.Equal(t, "pg-secret", cfg.Postgres.Password)
}
