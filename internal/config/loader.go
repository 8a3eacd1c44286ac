package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ZKDCA_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ZKDCA_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// Wallet
	setStr(&cfg.Wallet.PrivateKey, "ZKDCA_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "ZKDCA_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ZKDCA_WALLET_KEY_PASSWORD")

	// Aleo
	setStr(&cfg.Aleo.BaseURL, "ZKDCA_ALEO_BASE_URL")
	setStr(&cfg.Aleo.Network, "ZKDCA_ALEO_NETWORK")
	setStr(&cfg.Aleo.WsURL, "ZKDCA_ALEO_WS_URL")
	setDuration(&cfg.Aleo.PollInterval, "ZKDCA_ALEO_POLL_INTERVAL")

	// Arcane
	setStr(&cfg.Arcane.BaseURL, "ZKDCA_ARCANE_BASE_URL")
	setStr(&cfg.Arcane.APIKey, "ZKDCA_ARCANE_API_KEY")
	setStr(&cfg.Arcane.Program, "ZKDCA_ARCANE_PROGRAM")

	// Postgres
	setStr(&cfg.Postgres.DSN, "ZKDCA_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ZKDCA_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ZKDCA_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ZKDCA_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ZKDCA_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ZKDCA_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ZKDCA_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ZKDCA_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ZKDCA_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ZKDCA_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setStr(&cfg.Redis.Addr, "ZKDCA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ZKDCA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ZKDCA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ZKDCA_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ZKDCA_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ZKDCA_REDIS_TLS_ENABLED")

	// S3
	setStr(&cfg.S3.Endpoint, "ZKDCA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ZKDCA_S3_REGION")
	setStr(&cfg.S3.Bucket, "ZKDCA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ZKDCA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ZKDCA_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ZKDCA_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ZKDCA_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.ArchiveEnabled, "ZKDCA_S3_ARCHIVE_ENABLED")
	setDuration(&cfg.S3.ArchiveInterval, "ZKDCA_S3_ARCHIVE_INTERVAL")
	setInt(&cfg.S3.ArchiveRetentionDays, "ZKDCA_S3_ARCHIVE_RETENTION_DAYS")

	// Engine
	setDuration(&cfg.Engine.LockTTL, "ZKDCA_ENGINE_LOCK_TTL")
	setDuration(&cfg.Engine.DedupTTL, "ZKDCA_ENGINE_DEDUP_TTL")
	setInt(&cfg.Engine.MaxConcurrent, "ZKDCA_ENGINE_MAX_CONCURRENT")
	setInt(&cfg.Engine.SubmitRetries, "ZKDCA_ENGINE_SUBMIT_RETRIES")
	setDuration(&cfg.Engine.SubmitBackoff, "ZKDCA_ENGINE_SUBMIT_BACKOFF")
	setDuration(&cfg.Engine.ReconcileInterval, "ZKDCA_ENGINE_RECONCILE_INTERVAL")
	setDuration(&cfg.Engine.ReconcileGrace, "ZKDCA_ENGINE_RECONCILE_GRACE")
	setBool(&cfg.Engine.Paper, "ZKDCA_ENGINE_PAPER")

	// Server
	setBool(&cfg.Server.Enabled, "ZKDCA_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ZKDCA_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "ZKDCA_SERVER_API_KEY")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "ZKDCA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ZKDCA_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ZKDCA_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ZKDCA_NOTIFY_EVENTS")

	// Top-level
	setStr(&cfg.Mode, "ZKDCA_MODE")
	setStr(&cfg.LogLevel, "ZKDCA_LOG_LEVEL")
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
