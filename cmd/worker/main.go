package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ledgerline/confirm-pipeline/internal/adapter"
	"github.com/ledgerline/confirm-pipeline/internal/archiver"
	"github.com/ledgerline/confirm-pipeline/internal/blob"
	"github.com/ledgerline/confirm-pipeline/internal/config"
	"github.com/ledgerline/confirm-pipeline/internal/extraction"
	"github.com/ledgerline/confirm-pipeline/internal/logger"
	"github.com/ledgerline/confirm-pipeline/internal/matching"
	"github.com/ledgerline/confirm-pipeline/internal/pipeline"
	"github.com/ledgerline/confirm-pipeline/internal/providers/jetstream"
	"github.com/ledgerline/confirm-pipeline/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadWorkerConfig(*configFile, *envPath)
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
			"service": "worker",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.Info("Starting pipeline worker")

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

	// Connect to NATS
	nc, js, err := jetstream.Connect(jetstream.Config{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectionName: cfg.NATS.ConnectionName,
	}, adapter.NewNatsJetStream())
	if err != nil {
		logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer nc.Close()
	logger.Info("Connected to NATS", zap.String("stream", cfg.NATS.StreamName))

	// Initialize blob store and archiver
	clock := adapter.NewClock()
	blobs := blob.NewFilesystemStore(cfg.Blob.Root)
	arch := archiver.New(blobs, clock, cfg.Blob.ArchivePrefix)

	// Initialize extraction client
	extractor := extraction.NewClient(extraction.Config{
		URL:     cfg.Extraction.URL,
		APIKey:  cfg.Extraction.APIKey,
		Timeout: cfg.Extraction.Timeout,
	}, adapter.NewHTTPClient(cfg.Extraction.Timeout), adapter.NewJSON())

	// Initialize pipeline worker
	worker := pipeline.NewWorker(pipeline.Config{
		StreamName:        cfg.NATS.StreamName,
		ConsumerName:      cfg.NATS.ConsumerName,
		AckWaitTimeout:    cfg.NATS.AckWait,
		MaxDeliver:        cfg.NATS.MaxDeliver,
		PoolSize:          cfg.Worker.PoolSize,
		QueueSize:         cfg.Worker.QueueSize,
		ExtractionTimeout: cfg.Extraction.Timeout,
		Matching: matching.Config{
			ValueTolerance: cfg.Matching.ValueTolerance,
		},
		Owner: ownerID(),
	}, js, dataStore, blobs, extractor, arch, adapter.NewJSON(), clock)

	// Run the worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- err
		}
	}()

	// Wait for interrupt signal or error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error(err)
	}

	cancel()

	logger.Info("Pipeline worker stopped")
}

// ownerID identifies this worker instance in ledger claims. The uuid suffix
// keeps two workers on one host distinguishable.
func ownerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
}
