// Package config defines the top-level configuration for the zkdca engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ZKDCA_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Aleo     AleoConfig     `toml:"aleo"`
	Arcane   ArcaneConfig   `toml:"arcane"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Engine   EngineConfig   `toml:"engine"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the Aleo account credential.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// AleoConfig holds Aleo node endpoints and polling parameters.
type AleoConfig struct {
	BaseURL      string   `toml:"base_url"`
	Network      string   `toml:"network"`
	WsURL        string   `toml:"ws_url"`
	PollInterval duration `toml:"poll_interval"`
}

// ArcaneConfig holds the DEX relayer endpoint and credentials.
type ArcaneConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Program string `toml:"program"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters and the archival
// schedule for settled executions and audit rows.
type S3Config struct {
	Endpoint             string   `toml:"endpoint"`
	Region               string   `toml:"region"`
	Bucket               string   `toml:"bucket"`
	AccessKey            string   `toml:"access_key"`
	SecretKey            string   `toml:"secret_key"`
	UseSSL               bool     `toml:"use_ssl"`
	ForcePathStyle       bool     `toml:"force_path_style"`
	ArchiveEnabled       bool     `toml:"archive_enabled"`
	ArchiveInterval      duration `toml:"archive_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
}

// EngineConfig holds execution engine tuning parameters.
type EngineConfig struct {
	LockTTL           duration `toml:"lock_ttl"`
	DedupTTL          duration `toml:"dedup_ttl"`
	MaxConcurrent     int      `toml:"max_concurrent"`
	SubmitRetries     int      `toml:"submit_retries"`
	SubmitBackoff     duration `toml:"submit_backoff"`
	ReconcileInterval duration `toml:"reconcile_interval"`
	ReconcileGrace    duration `toml:"reconcile_grace"`
	// Paper runs the engine against in-memory stores and a stub exchange.
	Paper bool `toml:"paper"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
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
		Aleo: AleoConfig{
			BaseURL:      "https://api.explorer.provable.com/v1",
			Network:      "testnet",
			PollInterval: duration{10 * time.Second},
		},
		Arcane: ArcaneConfig{
			BaseURL: "https://relayer.arcane.finance",
			Program: "arcn_pool_v2_2_4.aleo",
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "zkdca",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "zkdca-archive",
			UseSSL:               false,
			ForcePathStyle:       true,
			ArchiveEnabled:       false,
			ArchiveInterval:      duration{24 * time.Hour},
			ArchiveRetentionDays: 30,
		},
		Engine: EngineConfig{
			LockTTL:           duration{30 * time.Second},
			DedupTTL:          duration{10 * time.Minute},
			MaxConcurrent:     8,
			SubmitRetries:     3,
			SubmitBackoff:     duration{time.Second},
			ReconcileInterval: duration{time.Minute},
			ReconcileGrace:    duration{time.Minute},
			Paper:             false,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"position_created", "position_executed", "position_exhausted", "position_cancelled"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine":    true,
	"serve":     true,
	"reconcile": true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// needsExecution reports whether the mode submits swaps and therefore needs
// the relayer and the account credential.
func (c *Config) needsExecution() bool {
	switch strings.ToLower(c.Mode) {
	case "engine", "reconcile", "full":
		return true
	default:
		return false
	}
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, serve, reconcile, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: a credential source is required whenever swaps are submitted
	// for real. Paper mode stubs the exchange and needs none.
	if c.needsExecution() && !c.Engine.Paper {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Aleo: the engine cannot sweep without a height source.
	mode := strings.ToLower(c.Mode)
	if mode == "engine" || mode == "full" {
		if c.Aleo.BaseURL == "" {
			errs = append(errs, "aleo: base_url must not be empty")
		}
		if c.Aleo.PollInterval.Duration <= 0 {
			errs = append(errs, "aleo: poll_interval must be positive")
		}
	}

	// Arcane: needed whenever swaps are submitted for real.
	if c.needsExecution() && !c.Engine.Paper {
		if c.Arcane.BaseURL == "" {
			errs = append(errs, "arcane: base_url must not be empty")
		}
	}

	// Postgres and Redis back every non-paper mode.
	if !c.Engine.Paper {
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3: only checked when archival is on.
	if c.S3.ArchiveEnabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive_enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive_enabled")
		}
		if c.S3.ArchiveRetentionDays < 1 {
			errs = append(errs, "s3: archive_retention_days must be >= 1")
		}
	}

	// Engine
	if c.Engine.MaxConcurrent < 1 {
		errs = append(errs, "engine: max_concurrent must be >= 1")
	}
	if c.Engine.SubmitRetries < 1 {
		errs = append(errs, "engine: submit_retries must be >= 1")
	}
	if c.Engine.LockTTL.Duration <= 0 {
		errs = append(errs, "engine: lock_ttl must be positive")
	}
	if c.Engine.ReconcileGrace.Duration <= 0 {
		errs = append(errs, "engine: reconcile_grace must be positive")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
