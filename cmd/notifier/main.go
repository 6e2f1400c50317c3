// Command notifier runs the fan-out notifier: it loads subscribers from
// Postgres, builds the in-memory substring index, ingests the Bluesky
// firehose, and delivers signed webhooks to matched subscribers, alongside
// a small admin HTTP surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/bskyhook/notifier/internal/admin"
	"github.com/bskyhook/notifier/internal/config"
	"github.com/bskyhook/notifier/internal/delivery"
	"github.com/bskyhook/notifier/internal/firehose"
	"github.com/bskyhook/notifier/internal/identmap"
	"github.com/bskyhook/notifier/internal/index"
	"github.com/bskyhook/notifier/internal/logging"
	"github.com/bskyhook/notifier/internal/metrics"
	"github.com/bskyhook/notifier/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()

	tree := index.New()
	idents := identmap.New()

	pgStore, err := store.Open(ctx, cfg.PGConnectionString)
	if err != nil {
		// Fatal: the persistent store is unreachable, so the in-memory
		// index can never be trusted to reflect durable state.
		logger.Fatal("failed to open persistent store", zap.Error(err))
	}
	defer pgStore.Close()

	loaded, err := pgStore.LoadAll(ctx, tree, idents, logger)
	if err != nil {
		// Fatal for the same reason: a failed bulk load leaves the index
		// partially populated and not trustworthy.
		logger.Fatal("failed to load subscribers from persistent store", zap.Error(err))
	}
	reg.SubscribersActive.Set(float64(loaded))
	logger.Info("loaded subscribers", zap.Int("count", loaded))

	deliveryWorker := delivery.New(
		cfg.Delivery.ClientTimeout,
		cfg.Delivery.DowntimeEvictAfter,
		tree, idents, pgStore, logger, reg,
	)

	adminServer := admin.New(cfg.Admin, func(reloadCtx context.Context, privateKeyHex string) {
		pgStore.LoadOne(reloadCtx, tree, idents, privateKeyHex, logger)
	}, logger)

	adminErrCh := make(chan error, 1)
	go func() {
		adminErrCh <- adminServer.Serve(ctx)
	}()

	metricsErrCh := make(chan error, 1)
	go func() {
		metricsErrCh <- reg.Serve(ctx, cfg.Metrics.ListenAddr, cfg.Metrics.Endpoint, logger)
	}()

	firehoseLoop := firehose.New(
		cfg.Firehose.URL, cfg.Firehose.Backoff,
		tree, idents, deliveryWorker.Deliver, logger, reg,
	)
	go firehoseLoop.Run(ctx)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-adminErrCh:
		if err != nil {
			logger.Error("admin http server error", zap.Error(err))
		}
		stop()
	case err := <-metricsErrCh:
		if err != nil {
			logger.Error("metrics http server error", zap.Error(err))
		}
		stop()
	}
}
