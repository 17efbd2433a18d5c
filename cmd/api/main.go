package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/infra"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/processor"
	"github.com/congo-pay/walletledger/internal/receipt"
	"github.com/congo-pay/walletledger/internal/routes"
	"github.com/congo-pay/walletledger/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	deps := routes.Deps{Cfg: cfg, Logger: logger}
	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()
	fail := func(msg string, err error) {
		logger.Error(msg, "error", err)
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		os.Exit(1)
	}

	switch cfg.StoreBackend {
	case config.StorePostgres:
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PostgresOptions{
			MaxConns:       cfg.DBMaxConns,
			ConnectTimeout: cfg.ExternalTimeout,
		})
		if err != nil {
			fail("connect postgres", err)
		}
		cleanups = append(cleanups, db.Close)
		store := ledger.NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			fail("ensure ledger schema", err)
		}
		deps.DB, deps.Store = db, store
	case config.StoreFirestore:
		client, err := infra.NewFirestoreClient(ctx, cfg.FirestoreProject, cfg.FirestoreCreds)
		if err != nil {
			fail("connect firestore", err)
		}
		cleanups = append(cleanups, func() {
			if err := client.Close(); err != nil {
				logger.Warn("close firestore", "error", err)
			}
		})
		deps.Firestore, deps.Store = client, ledger.NewFirestoreStore(client)
	default:
		logger.Warn("using in-memory ledger store; balances are lost on restart")
		deps.Store = ledger.NewInMemory()
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL, cfg.ExternalTimeout)
		if err != nil {
			fail("connect redis", err)
		}
		cleanups = append(cleanups, func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		})
		deps.Cache = cache
	}

	deps.Processor = newProcessor(cfg, logger)
	if cache != nil {
		deps.Receipts = receipt.NewRedisStream(cache, receipt.DefaultStream, 0)
	} else {
		deps.Receipts = receipt.NewLoggerGenerator(logger)
	}

	srv, err := server.New(deps)
	if err != nil {
		fail("build server", err)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			fail("server error", err)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		fail("shutdown error", err)
	}

	logger.Info("server exited cleanly")
}

func newProcessor(cfg config.Config, logger *slog.Logger) processor.Processor {
	if cfg.StripeSecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set; top-ups are approved without a real charge")
		return processor.WithTimeout(processor.Static{}, cfg.ExternalTimeout)
	}
	return processor.WithTimeout(processor.NewStripe(cfg.StripeSecretKey), cfg.ExternalTimeout)
}
