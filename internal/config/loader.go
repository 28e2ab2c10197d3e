package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SCOREPEERS_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SCOREPEERS_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias, loses to the prefixed name
	setStr(&cfg.Postgres.DSN, "SCOREPEERS_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SCOREPEERS_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SCOREPEERS_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SCOREPEERS_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SCOREPEERS_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SCOREPEERS_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SCOREPEERS_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SCOREPEERS_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SCOREPEERS_POSTGRES_POOL_MIN_CONNS")
	setDuration(&cfg.Postgres.StatementTimeout, "SCOREPEERS_POSTGRES_STATEMENT_TIMEOUT")
	setBool(&cfg.Postgres.RunMigrations, "SCOREPEERS_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SCOREPEERS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SCOREPEERS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SCOREPEERS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SCOREPEERS_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SCOREPEERS_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SCOREPEERS_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "SCOREPEERS_REDIS_CACHE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SCOREPEERS_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SCOREPEERS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SCOREPEERS_S3_REGION")
	setStr(&cfg.S3.Bucket, "SCOREPEERS_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SCOREPEERS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SCOREPEERS_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SCOREPEERS_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SCOREPEERS_S3_FORCE_PATH_STYLE")

	// ── Receipts ──
	setStr(&cfg.Receipts.RawKey, "SCOREPEERS_RECEIPTS_RAW_KEY")
	setStr(&cfg.Receipts.EncryptedKeyPath, "SCOREPEERS_RECEIPTS_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Receipts.KeyPassword, "SCOREPEERS_RECEIPTS_KEY_PASSWORD")
	setStr(&cfg.Receipts.Passphrase, "SCOREPEERS_RECEIPTS_PASSPHRASE")
	setStr(&cfg.Receipts.Salt, "SCOREPEERS_RECEIPTS_SALT")

	// ── Settlement ──
	setDuration(&cfg.Settlement.LockTTL, "SCOREPEERS_SETTLEMENT_LOCK_TTL")
	setDuration(&cfg.Settlement.LockWait, "SCOREPEERS_SETTLEMENT_LOCK_WAIT")
	setDuration(&cfg.Settlement.LockPoll, "SCOREPEERS_SETTLEMENT_LOCK_POLL")
	setDuration(&cfg.Settlement.TxTimeout, "SCOREPEERS_SETTLEMENT_TX_TIMEOUT")

	// ── Lifecycle ──
	setBool(&cfg.Lifecycle.Enabled, "SCOREPEERS_LIFECYCLE_ENABLED")
	setDuration(&cfg.Lifecycle.SweepInterval, "SCOREPEERS_LIFECYCLE_SWEEP_INTERVAL")
	setBool(&cfg.Lifecycle.AutoRefund, "SCOREPEERS_LIFECYCLE_AUTO_REFUND")
	setInt(&cfg.Lifecycle.BatchSize, "SCOREPEERS_LIFECYCLE_BATCH_SIZE")
	setDuration(&cfg.Lifecycle.RealertAfter, "SCOREPEERS_LIFECYCLE_REALERT_AFTER")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SCOREPEERS_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "SCOREPEERS_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "SCOREPEERS_ARCHIVE_CRON")
	setInt(&cfg.Archive.BatchSize, "SCOREPEERS_ARCHIVE_BATCH_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SCOREPEERS_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PORT") // platform alias
	setInt(&cfg.Server.Port, "SCOREPEERS_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SCOREPEERS_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "SCOREPEERS_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SCOREPEERS_SERVER_RATE_WINDOW")

	// ── Auth ──
	setAdminKeys(cfg.Auth.Admins, "SCOREPEERS_AUTH_API_KEYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SCOREPEERS_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SCOREPEERS_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SCOREPEERS_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SCOREPEERS_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SCOREPEERS_MODE")
	setStr(&cfg.LogLevel, "SCOREPEERS_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setAdminKeys fills admin API keys from "id=key,id=key" so keys can stay out
// of the TOML file. Unknown IDs are ignored.
func setAdminKeys(admins []AdminConfig, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	keys := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		id, apiKey, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && id != "" && apiKey != "" {
			keys[id] = apiKey
		}
	}
	for i := range admins {
		if k, ok := keys[admins[i].ID]; ok {
			admins[i].APIKey = k
		}
	}
}
