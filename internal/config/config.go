// Package config defines the top-level configuration for the settlement
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/scorepeers/settlement/internal/crypto"
	"github.com/scorepeers/settlement/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SCOREPEERS_* environment variables.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Receipts   ReceiptsConfig   `toml:"receipts"`
	Settlement SettlementConfig `toml:"settlement"`
	Lifecycle  LifecycleConfig  `toml:"lifecycle"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Auth       AuthConfig       `toml:"auth"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN              string   `toml:"dsn"`
	Host             string   `toml:"host"`
	Port             int      `toml:"port"`
	Database         string   `toml:"database"`
	User             string   `toml:"user"`
	Password         string   `toml:"password"`
	SSLMode          string   `toml:"ssl_mode"`
	PoolMaxConns     int      `toml:"pool_max_conns"`
	PoolMinConns     int      `toml:"pool_min_conns"`
	StatementTimeout duration `toml:"statement_timeout"`
	RunMigrations    bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	CacheTTL     duration `toml:"cache_ttl"`
	StreamMaxLen int      `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters. Receipts and the
// ledger archive both need it.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ReceiptsConfig names the source of the receipt signing key. The first
// configured of raw_key, encrypted_key_path and passphrase wins.
type ReceiptsConfig struct {
	RawKey           string `toml:"raw_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	Passphrase       string `toml:"passphrase"`
	Salt             string `toml:"salt"`
}

// KeyConfig converts to the crypto package's key source.
func (r ReceiptsConfig) KeyConfig() crypto.KeyConfig {
	return crypto.KeyConfig{
		RawKey:           r.RawKey,
		EncryptedKeyPath: r.EncryptedKeyPath,
		KeyPassword:      r.KeyPassword,
		Passphrase:       r.Passphrase,
		Salt:             r.Salt,
	}
}

func (r ReceiptsConfig) configured() bool {
	return r.RawKey != "" || r.EncryptedKeyPath != "" || r.Passphrase != ""
}

// SettlementConfig bounds the settlement transaction.
type SettlementConfig struct {
	LockTTL   duration `toml:"lock_ttl"`
	LockWait  duration `toml:"lock_wait"`
	LockPoll  duration `toml:"lock_poll"`
	TxTimeout duration `toml:"tx_timeout"`
}

// LifecycleConfig drives the contest sweeper.
type LifecycleConfig struct {
	Enabled       bool     `toml:"enabled"`
	SweepInterval duration `toml:"sweep_interval"`
	AutoRefund    bool     `toml:"auto_refund"`
	BatchSize     int      `toml:"batch_size"`
	RealertAfter  duration `toml:"realert_after"`
}

// ArchiveConfig drives the ledger export to object storage.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
	BatchSize     int    `toml:"batch_size"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is the number of mutating requests a caller may make per
	// RateWindow. Zero disables the limiter.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// AdminConfig is one privileged operator.
type AdminConfig struct {
	ID           string   `toml:"id"`
	APIKey       string   `toml:"api_key"`
	Capabilities []string `toml:"capabilities"`
}

// AuthConfig lists the operators allowed to call privileged endpoints.
type AuthConfig struct {
	Admins []AdminConfig `toml:"admins"`
}

// APIKeys maps each configured key to its admin ID.
func (a AuthConfig) APIKeys() map[string]string {
	out := make(map[string]string, len(a.Admins))
	for _, adm := range a.Admins {
		if adm.APIKey != "" {
			out[adm.APIKey] = adm.ID
		}
	}
	return out
}

// Grants returns the capability table for the authorizer.
func (a AuthConfig) Grants() map[string][]domain.Capability {
	out := make(map[string][]domain.Capability, len(a.Admins))
	for _, adm := range a.Admins {
		for _, c := range adm.Capabilities {
			out[adm.ID] = append(out[adm.ID], domain.Capability(c))
		}
	}
	return out
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:             "localhost",
			Port:             5432,
			Database:         "scorepeers",
			User:             "postgres",
			SSLMode:          "disable",
			PoolMaxConns:     10,
			PoolMinConns:     2,
			StatementTimeout: duration{15 * time.Second},
			RunMigrations:    true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			CacheTTL:     duration{5 * time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "scorepeers-settlement",
			ForcePathStyle: true,
		},
		Receipts: ReceiptsConfig{
			Salt: "scorepeers-receipts",
		},
		Settlement: SettlementConfig{
			LockTTL:   duration{30 * time.Second},
			LockWait:  duration{10 * time.Second},
			LockPoll:  duration{100 * time.Millisecond},
			TxTimeout: duration{20 * time.Second},
		},
		Lifecycle: LifecycleConfig{
			Enabled:       true,
			SweepInterval: duration{time.Minute},
			AutoRefund:    true,
			BatchSize:     100,
			RealertAfter:  duration{24 * time.Hour},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 * * *",
			BatchSize:     5000,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   60,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"contest.settled", "contest.refunded", "settlement.failed", "contest.manual_verification", "contest.unfilled"},
		},
		Mode:     ModeFull,
		LogLevel: "info",
	}
}

// Operating modes.
const (
	ModeServer = "server" // HTTP API and WebSocket hub
	ModeWorker = "worker" // lifecycle sweeper and ledger archiver
	ModeFull   = "full"
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeServer: true,
	ModeWorker: true,
	ModeFull:   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validCapabilities = map[domain.Capability]bool{
	domain.CapabilitySettle:         true,
	domain.CapabilityRefund:         true,
	domain.CapabilityManageContests: true,
	domain.CapabilityRecordOutcome:  true,
	domain.CapabilityReadAudit:      true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if !c.Receipts.configured() {
			errs = append(errs, "receipts: one of raw_key, encrypted_key_path or passphrase is required when s3 is enabled")
		}
	}
	if c.Receipts.EncryptedKeyPath != "" && c.Receipts.KeyPassword == "" {
		errs = append(errs, "receipts: key_password is required when encrypted_key_path is set")
	}
	if c.Archive.Enabled && !c.S3.Enabled {
		errs = append(errs, "archive: requires s3.enabled")
	}
	if c.Archive.Enabled && c.Archive.RetentionDays < 1 {
		errs = append(errs, "archive: retention_days must be >= 1")
	}

	// Settlement
	if c.Settlement.LockTTL.Duration <= c.Settlement.TxTimeout.Duration {
		errs = append(errs, "settlement: lock_ttl must exceed tx_timeout")
	}
	if c.Settlement.LockWait.Duration <= 0 || c.Settlement.LockPoll.Duration <= 0 {
		errs = append(errs, "settlement: lock_wait and lock_poll must be > 0")
	}

	// Lifecycle
	if c.Lifecycle.Enabled && c.Lifecycle.SweepInterval.Duration < time.Second {
		errs = append(errs, "lifecycle: sweep_interval must be >= 1s")
	}

	// Server
	if c.Server.Enabled && mode != "worker" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Auth
	seenIDs := map[string]bool{}
	seenKeys := map[string]bool{}
	for i, adm := range c.Auth.Admins {
		switch {
		case adm.ID == "":
			errs = append(errs, fmt.Sprintf("auth: admins[%d]: id must not be empty", i))
		case adm.ID == domain.SystemActor:
			errs = append(errs, fmt.Sprintf("auth: admins[%d]: id %q is reserved", i, adm.ID))
		case seenIDs[adm.ID]:
			errs = append(errs, fmt.Sprintf("auth: admins[%d]: duplicate id %q", i, adm.ID))
		}
		seenIDs[adm.ID] = true
		if adm.APIKey != "" {
			if seenKeys[adm.APIKey] {
				errs = append(errs, fmt.Sprintf("auth: admins[%d]: api_key shared with another admin", i))
			}
			seenKeys[adm.APIKey] = true
		}
		for _, name := range adm.Capabilities {
			if !validCapabilities[domain.Capability(name)] {
				errs = append(errs, fmt.Sprintf("auth: admins[%d]: unknown capability %q", i, name))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
