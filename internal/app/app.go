// Package app wires configuration into a running service graph.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"auditdesk.io/internal/archive"
	"auditdesk.io/internal/audit"
	"auditdesk.io/internal/auth"
	"auditdesk.io/internal/blob"
	"auditdesk.io/internal/config"
	"auditdesk.io/internal/httpapi"
	"auditdesk.io/internal/kv"
	boltkv "auditdesk.io/internal/kv/bolt"
	pgkv "auditdesk.io/internal/kv/pg"
	rediskv "auditdesk.io/internal/kv/redis"
	"auditdesk.io/internal/migrate"
	"auditdesk.io/internal/notify"
	"auditdesk.io/internal/obs"
	"auditdesk.io/internal/outbox"
	"auditdesk.io/internal/repo"
	"auditdesk.io/internal/requests"
)

// OpenStore opens the configured KV backend. The postgres backend has its
// schema migrated before use.
func OpenStore(ctx context.Context, cfg config.Config) (kv.Store, error) {
	switch cfg.KVBackend {
	case config.BackendMemory, "":
		return kv.NewMemory(), nil
	case config.BackendBolt:
		store, err := boltkv.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendRedis:
		store, err := rediskv.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendPostgres:
		store, err := pgkv.Open(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		applied, err := migrate.NewManager(store.DB(), pgkv.Migrations, "migrations").Up(ctx)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		for _, name := range applied {
			obs.Logger().Info("migration applied", "name", name)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown kv backend %q", cfg.KVBackend)
	}
}

// OpenBlobs opens the bolt blob store at cfg.BlobPath, or an in-memory one
// when no path is configured.
func OpenBlobs(cfg config.Config) (blob.Store, io.Closer, error) {
	if cfg.BlobPath == "" {
		return blob.NewMemory(), closerFunc(func() error { return nil }), nil
	}
	b, err := blob.OpenBolt(cfg.BlobPath)
	if err != nil {
		return nil, nil, err
	}
	return b, b, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// App is the assembled service.
type App struct {
	Config config.Config
	Store  kv.Store
	Repos  *repo.Repositories
	Queue  *outbox.Queue
	Auth   *auth.Service
	Engine *requests.Engine
	API    *httpapi.API
	Ready  httpapi.ReadyProbe

	blobCloser io.Closer
}

// Build opens storage and wires every component from cfg.
func Build(ctx context.Context, cfg config.Config, version string) (*App, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	blobs, blobCloser, err := OpenBlobs(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	repos := repo.New(store)
	queue := outbox.New(
		outbox.WithWorkers(cfg.OutboxWorkers),
		outbox.WithTaskTimeout(2*cfg.OutboundTimeout),
	)
	auditLog := audit.New(repos.AuditLogs())

	var mailer notify.Mailer = notify.LogMailer{}
	if cfg.EmailAPIURL != "" {
		mailer = notify.NewHTTPMailer(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.OutboundTimeout)
	} else {
		obs.Logger().Warn("no email relay configured, emails are only logged")
	}
	notifier := notify.NewNotifier(notify.NewDispatcher(mailer, repos.Emails(), cfg.EmailFrom), cfg.PublicURL)
	signer := blob.NewSigner([]byte(cfg.AuthSecret), cfg.PublicURL, cfg.SignedURLTTL)

	engineOpts := []requests.Option{
		requests.WithNotifier(notifier),
		requests.WithAudit(auditLog),
		requests.WithTasks(queue),
		requests.WithSigner(signer),
		requests.WithMaxUpload(cfg.MaxUploadBytes),
	}
	if client := archive.NewClient(cfg.ArchiveURL, cfg.ArchiveToken, cfg.OutboundTimeout); client != nil {
		engineOpts = append(engineOpts, requests.WithArchiver(client))
	}
	engine := requests.NewEngine(repos, blobs, engineOpts...)

	issuer, err := auth.NewTokenIssuer(cfg.AuthSecret)
	if err != nil {
		_ = blobCloser.Close()
		_ = store.Close()
		return nil, err
	}
	authSvc, err := auth.NewService(repos,
		auth.WithMailer(notifier),
		auth.WithAudit(auditLog),
		auth.WithAssigner(engine),
		auth.WithTasks(queue),
		auth.WithTokens(issuer),
		auth.WithAllowedDomains(cfg.AllowedDomains),
		auth.WithOTPTTL(cfg.OTPTTL),
		auth.WithSessionTTL(cfg.SessionTTL),
	)
	if err != nil {
		_ = blobCloser.Close()
		_ = store.Close()
		return nil, err
	}

	ready := httpapi.ReadyProbe{Store: store}
	api := httpapi.New(httpapi.Services{
		Auth:     authSvc,
		Requests: engine,
		Audit:    auditLog,
		Emails:   repos.Emails(),
		Notifier: notifier,
		Blobs:    blobs,
		Signer:   signer,
		Ready:    ready,
	},
		httpapi.WithVersion(version),
		httpapi.WithCORSOrigins(cfg.CORSOrigins),
		httpapi.WithRateLimit(cfg.GlobalRatePerMin),
		httpapi.WithOTPRateLimit(cfg.OTPRatePerMin),
		httpapi.WithMaxUpload(cfg.MaxUploadBytes),
	)

	return &App{
		Config:     cfg,
		Store:      store,
		Repos:      repos,
		Queue:      queue,
		Auth:       authSvc,
		Engine:     engine,
		API:        api,
		Ready:      ready,
		blobCloser: blobCloser,
	}, nil
}

// Close drains pending side effects, then closes storage.
func (a *App) Close(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return errors.Join(
		a.Queue.Close(drainCtx),
		a.blobCloser.Close(),
		a.Store.Close(),
	)
}
