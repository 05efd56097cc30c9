package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ledgerline/confirm-pipeline/internal/adapter"
	"github.com/ledgerline/confirm-pipeline/internal/archiver"
	"github.com/ledgerline/confirm-pipeline/internal/blob"
	"github.com/ledgerline/confirm-pipeline/internal/config"
	"github.com/ledgerline/confirm-pipeline/internal/logger"
	"github.com/ledgerline/confirm-pipeline/internal/providers/jetstream"
	"github.com/ledgerline/confirm-pipeline/internal/store"
	"github.com/ledgerline/confirm-pipeline/internal/sweeper"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadSweeperConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "sweeper",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.Info("Starting sweeper")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	// Configure connection pool
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.Fatal("Failed to configure connection pool", zap.Error(err))
	}
	logger.Info("Connected to database",
		zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.Database.MaxIdleConns),
	)

	// Initialize store
	dataStore := store.NewPGStore(db)

	// Initialize candidate publisher for the backstop scan
	publisher, err := jetstream.NewPublisher(jetstream.Config{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectionName: cfg.NATS.ConnectionName,
	}, adapter.NewNatsJetStream(), adapter.NewJSON())
	if err != nil {
		logger.Fatal("Failed to create publisher", zap.Error(err))
	}
	defer publisher.Close()
	logger.Info("Connected to NATS", zap.String("stream", cfg.NATS.StreamName))

	// Initialize blob store and archiver
	clock := adapter.NewClock()
	blobs := blob.NewFilesystemStore(cfg.Blob.Root)
	arch := archiver.New(blobs, clock, cfg.Blob.ArchivePrefix)

	// Initialize sweepers
	sweepers := []sweeper.Sweeper{
		sweeper.NewOrphanSweeper(&sweeper.OrphanSweeperConfig{
			Interval:     cfg.OrphanSweep.Interval,
			ClaimTimeout: cfg.OrphanSweep.ClaimTimeout,
		}, dataStore, clock),
		sweeper.NewBackstopSweeper(&sweeper.BackstopSweeperConfig{
			Interval:     cfg.Backstop.Interval,
			IntakePrefix: cfg.Blob.IntakePrefix,
			MaxRetries:   cfg.Backstop.MaxRetries,
		}, dataStore, blobs, publisher, clock),
		sweeper.NewArchiveRetrySweeper(&sweeper.ArchiveRetrySweeperConfig{
			Interval:  cfg.ArchiveRetry.Interval,
			BatchSize: cfg.ArchiveRetry.BatchSize,
		}, dataStore, arch, clock),
	}

	// Start every sweeper in its own goroutine
	errChan := make(chan error, len(sweepers))
	for _, s := range sweepers {
		go func(s sweeper.Sweeper) {
			logger.Info("Starting sweeper", zap.String("name", s.Name()))
			if err := s.Start(ctx); err != nil {
				errChan <- fmt.Errorf("%s: %w", s.Name(), err)
			}
		}(s)
	}

	// Wait for interrupt signal or error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error(err)
	}

	// Cancel context to stop the sweepers
	cancel()

	// Give the sweepers time to shut down gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	for _, s := range sweepers {
		if err := s.Stop(shutdownCtx); err != nil {
			logger.Error(err, zap.String("sweeper", s.Name()))
		}
	}

	logger.Info("Sweeper stopped")
}
