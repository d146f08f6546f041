package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"ctrace/internal/config"
	"ctrace/internal/core"
	"ctrace/internal/events"
	"ctrace/internal/httpapi"
	"ctrace/internal/janitor"
	"ctrace/internal/ledger"
	"ctrace/internal/sandbox"
	"ctrace/internal/security"
	"ctrace/internal/storage"
	"ctrace/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	configPath := flag.String("config", os.Getenv("CTRACE_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	rt, err := sandbox.NewRuntime(cfg.Sandbox.Runtime, cfg.Sandbox.DockerBinary, logger)
	if err != nil {
		return err
	}
	if c, ok := rt.(io.Closer); ok {
		defer c.Close()
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("store ready", "backend", cfg.Store.Backend)

	var transcripts *storage.TranscriptStorage
	if cfg.Transcripts.Dir != "" {
		if err := os.MkdirAll(cfg.Transcripts.Dir, 0o755); err != nil {
			return fmt.Errorf("create transcript dir: %w", err)
		}
		transcripts = storage.NewTranscriptStorage(cfg.Transcripts.Dir)
	}

	jobLedger, err := openLedger(cfg.Ledger, logger)
	if err != nil {
		return err
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.NatsURL != "" {
		p, err := events.NewNATSPublisher(events.NATSConfig{URL: cfg.Events.NatsURL, Subject: cfg.Events.Subject})
		if err != nil {
			return err
		}
		publisher = p
		logger.Info("publishing job events", "url", cfg.Events.NatsURL, "subject", cfg.Events.Subject)
	}

	cache, err := core.NewTraceCache(cfg.Cache.Size)
	if err != nil {
		return err
	}
	runner, err := core.NewRunner(core.Options{
		Runtime:        rt,
		Policy:         cfg.Sandbox.Policy(),
		Store:          st,
		Transcripts:    transcripts,
		Ledger:         jobLedger,
		Events:         publisher,
		Cache:          cache,
		Logger:         logger,
		Workers:        cfg.Jobs.Workers,
		QueueSize:      cfg.Jobs.QueueSize,
		JobTimeout:     cfg.Jobs.Timeout,
		CleanupTimeout: cfg.Sandbox.CleanupTimeout,
	})
	if err != nil {
		return err
	}
	defer runner.Close()

	if cfg.Janitor.Schedule != "" {
		j, err := janitor.New(janitor.Options{
			Schedule:    cfg.Janitor.Schedule,
			Retention:   cfg.Janitor.Retention,
			ImageMaxAge: cfg.Janitor.ImageMaxAge,
			Store:       st,
			Transcripts: transcripts,
			Runtime:     rt,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		j.Start()
		defer j.Stop()
	}

	apiOpts := httpapi.Options{
		Jobs:         runner,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		WatchTimeout: cfg.Jobs.Timeout + cfg.Sandbox.CleanupTimeout,
		Logger:       logger,
	}
	if jobLedger != nil {
		apiOpts.Ledger = jobLedger
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewHandler(apiOpts),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ctrace listening", "addr", cfg.Server.Addr, "runtime", cfg.Sandbox.Runtime, "workers", cfg.Jobs.Workers)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return store.OpenSQLite(cfg.SQLitePath)
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return store.NewRedisStore(rdb, cfg.RedisPrefix), nil
	default:
		return store.NewMemoryStore(), nil
	}
}

// openLedger returns nil when the ledger is disabled.
func openLedger(cfg config.LedgerConfig, logger *slog.Logger) (*ledger.Ledger, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	keys, created, err := security.EnsureKeyPair(cfg.KeysDir)
	if err != nil {
		return nil, fmt.Errorf("ledger keys: %w", err)
	}
	if created {
		logger.Info("generated ledger signing keys", "dir", cfg.KeysDir)
	}
	workerID, err := os.Hostname()
	if err != nil {
		workerID = "ctrace"
	}
	l, err := ledger.Open(cfg.Path, ledger.Options{Keys: &keys, WorkerID: workerID})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := l.VerifyChain(); err != nil {
		logger.Warn("ledger verification failed", "path", cfg.Path, "err", err)
	}
	logger.Info("ledger ready", "path", cfg.Path, "blocks", l.Len())
	return l, nil
}
