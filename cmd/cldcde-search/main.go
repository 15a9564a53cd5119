package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aegntic/cldcde-search/internal/analytics"
	"github.com/aegntic/cldcde-search/internal/catalog"
	catalogmongo "github.com/aegntic/cldcde-search/internal/catalog/mongo"
	"github.com/aegntic/cldcde-search/internal/config"
	"github.com/aegntic/cldcde-search/internal/logging"
	"github.com/aegntic/cldcde-search/internal/popularity"
	"github.com/aegntic/cldcde-search/internal/pubsub"
	"github.com/aegntic/cldcde-search/internal/query"
	"github.com/aegntic/cldcde-search/internal/search/bleve"
	"github.com/aegntic/cldcde-search/internal/syncer"
)

func main() {
	configPath := flag.String("config", "config/config.yml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath, "config/config.local.yml")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, closeLogs, err := logging.Initialize(cfg.Logging)
	if err != nil {
		slog.Error("failed to initialize logging", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeLogs(); err != nil {
			slog.Error("failed to close log files", "error", err)
		}
	}()

	logger.Info("cldcde-search starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Primary store.
	store, err := catalogmongo.NewBackend(ctx, cfg.Catalog.URI, cfg.Catalog.Database)
	if err != nil {
		logger.Error("failed to connect to catalog", "error", err)
		os.Exit(1)
	}

	// Search index.
	client := bleve.NewClient(cfg.Index, logger)
	for _, family := range catalog.Families() {
		if err := client.EnsureIndex(ctx, family); err != nil {
			logger.Error("failed to ensure index", "family", family, "error", err)
			os.Exit(1)
		}
	}

	// Change-event transport.
	provider, err := newProvider(ctx, cfg.Pubsub, logger)
	if err != nil {
		logger.Error("failed to connect to pubsub", "error", err)
		os.Exit(1)
	}

	consumer, err := provider.NewConsumer(pubsub.ConsumerOptions{
		StreamName:    cfg.Pubsub.Stream,
		ConsumerName:  cfg.Pubsub.Consumer,
		FilterSubject: "changes.>",
	})
	if err != nil {
		logger.Error("failed to create consumer", "error", err)
		os.Exit(1)
	}

	// Sync pipeline.
	queue := syncer.NewQueue(cfg.Syncer, store, client, logger)
	if err := queue.Start(ctx); err != nil {
		logger.Error("failed to start syncer", "error", err)
		os.Exit(1)
	}
	subscriber := syncer.NewSubscriber(consumer, queue, logger)
	if err := subscriber.Start(ctx); err != nil {
		logger.Error("failed to subscribe to change events", "error", err)
		os.Exit(1)
	}

	// Analytics pipeline.
	// Stream subjects derive from the prefix, so published batches land on
	// analytics.batch inside the ANALYTICS stream.
	publisher, err := provider.NewPublisher(pubsub.PublisherOptions{
		StreamName:    "ANALYTICS",
		SubjectPrefix: "analytics",
	})
	if err != nil {
		logger.Error("failed to create analytics publisher", "error", err)
		os.Exit(1)
	}
	buffer := analytics.NewBuffer(cfg.Analytics, analytics.NewPubsubSink(publisher), logger)
	if err := buffer.Start(ctx); err != nil {
		logger.Error("failed to start analytics buffer", "error", err)
		os.Exit(1)
	}

	// Query surface.
	tracker := popularity.NewTracker(cfg.Popularity.Capacity)
	service := query.NewService(cfg.Query, client, tracker, buffer, logger)

	// Periodic operational status: queue health and trending queries.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := queue.Stats()
				logger.Info("sync status",
					"depth", stats.Depth,
					"oldestPendingAge", stats.OldestPendingAge,
					"applied", stats.Applied,
					"retries", stats.Retries,
					"deadLettered", stats.DeadLettered,
				)
				if top := service.TopQueries(5); len(top) > 0 {
					logger.Info("top queries", "queries", top)
				}
			}
		}
	}()

	logger.Info("cldcde-search started",
		"catalogDB", cfg.Catalog.Database,
		"indexPath", cfg.Index.Path,
		"pubsub", cfg.Pubsub.Provider,
	)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := subscriber.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop subscriber", "error", err)
	}
	if err := queue.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop syncer", "error", err)
	}
	buffer.Destroy(shutdownCtx)
	if err := provider.Close(); err != nil {
		logger.Error("failed to close pubsub", "error", err)
	}
	if err := client.Close(); err != nil {
		logger.Error("failed to close index", "error", err)
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Error("failed to close catalog", "error", err)
	}

	cancel()
	logger.Info("cldcde-search stopped")
}

// newProvider picks the pubsub transport. The memory provider exists for
// local development without a NATS server.
func newProvider(ctx context.Context, cfg config.PubsubConfig, logger *slog.Logger) (pubsub.Provider, error) {
	if cfg.Provider == "memory" {
		return pubsub.NewMemoryProvider(), nil
	}
	p := pubsub.NewNATSProvider(cfg.URL, logger)
	if err := p.Connect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}
