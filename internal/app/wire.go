package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/zkdca/internal/blob/s3"
	"github.com/alanyoungcy/zkdca/internal/cache/redis"
	"github.com/alanyoungcy/zkdca/internal/config"
	"github.com/alanyoungcy/zkdca/internal/crypto"
	"github.com/alanyoungcy/zkdca/internal/domain"
	"github.com/alanyoungcy/zkdca/internal/notify"
	"github.com/alanyoungcy/zkdca/internal/platform/aleo"
	"github.com/alanyoungcy/zkdca/internal/platform/arcane"
	"github.com/alanyoungcy/zkdca/internal/store/memory"
	"github.com/alanyoungcy/zkdca/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Positions  domain.PositionStore
	Executions domain.ExecutionStore
	Journal    domain.ExecutionJournal
	Audit      domain.AuditStore

	// Coordination
	Locks   domain.LockManager
	Heights domain.HeightCache
	Bus     domain.SignalBus

	// Collaborators
	Exchange domain.Exchange
	Observer domain.ChainObserver

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsExchange returns true for modes that submit swaps.
func needsExchange(mode string) bool {
	switch strings.ToLower(mode) {
	case "engine", "reconcile", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// The archiver reads settled rows through methods outside the domain
	// store interfaces, so the concrete store values are kept here.
	var execArchive s3blob.ExecutionArchiveSource
	var auditArchive s3blob.AuditArchiveSource

	if cfg.Engine.Paper {
		// Paper mode: everything in-process, nothing leaves the machine
		// except height polling.
		positions := memory.NewPositionStore()
		executions := memory.NewExecutionStore()
		audit := memory.NewAuditStore()

		deps.Positions = positions
		deps.Executions = executions
		deps.Journal = memory.NewExecutionJournal(positions, executions)
		deps.Audit = audit
		execArchive = executions
		auditArchive = audit

		deps.Locks = memory.NewLockManager()
		deps.Heights = memory.NewHeightCache()
		deps.Bus = memory.NewSignalBus()
		deps.Exchange = arcane.NewPaperExchange(logger)
	} else {
		// --- PostgreSQL ---
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		positions := postgres.NewPositionStore(pgClient)
		executions := postgres.NewExecutionStore(pgClient)
		audit := postgres.NewAuditStore(pgClient)

		deps.Positions = positions
		deps.Executions = executions
		deps.Journal = postgres.NewExecutionJournal(pgClient)
		deps.Audit = audit
		execArchive = executions
		auditArchive = audit

		// --- Redis ---
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Heights = redis.NewHeightCache(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)

		// --- Relayer (live exchange) ---
		if needsExchange(cfg.Mode) {
			accountKey, err := crypto.LoadKey(crypto.KeyConfig{
				RawPrivateKey:    cfg.Wallet.PrivateKey,
				EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
				KeyPassword:      cfg.Wallet.KeyPassword,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: load account key: %w", err)
			}
			deps.Exchange = arcane.NewClient(arcane.ClientConfig{
				BaseURL:    cfg.Arcane.BaseURL,
				APIKey:     cfg.Arcane.APIKey,
				Program:    cfg.Arcane.Program,
				AccountKey: accountKey,
			})
		}
	}

	// --- Chain observer ---
	deps.Observer = aleo.NewClient(aleo.ClientConfig{
		BaseURL: cfg.Aleo.BaseURL,
		Network: cfg.Aleo.Network,
	})

	// --- S3 archival (optional) ---
	if cfg.S3.ArchiveEnabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			execArchive,
			auditArchive,
			deps.Audit,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
