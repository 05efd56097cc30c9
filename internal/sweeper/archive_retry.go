package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerline/confirm-pipeline/internal/adapter"
	"github.com/ledgerline/confirm-pipeline/internal/archiver"
	"github.com/ledgerline/confirm-pipeline/internal/logger"
	"github.com/ledgerline/confirm-pipeline/internal/store"
)

// ArchiveRetrySweeperConfig holds configuration for the archive retry sweep
type ArchiveRetrySweeperConfig struct {
	// Interval is the time between sweep cycles
	Interval time.Duration
	// BatchSize caps the rows retried per cycle
	BatchSize int
}

// archiveRetrySweeper re-attempts archiving for successful ingestions whose
// document bytes never reached permanent storage. Archiving is best effort
// in the pipeline; this sweep makes it eventually certain.
type archiveRetrySweeper struct {
	config    *ArchiveRetrySweeperConfig
	store     store.Store
	archiver  *archiver.Archiver
	clock     adapter.Clock
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewArchiveRetrySweeper creates a new archive retry sweeper
func NewArchiveRetrySweeper(
	config *ArchiveRetrySweeperConfig,
	st store.Store,
	arch *archiver.Archiver,
	clock adapter.Clock,
) Sweeper {
	return &archiveRetrySweeper{
		config:    config,
		store:     st,
		archiver:  arch,
		clock:     clock,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Name returns the sweeper's name
func (s *archiveRetrySweeper) Name() string {
	return "archive-retry-sweeper"
}

// Start begins the sweeper's main loop
func (s *archiveRetrySweeper) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sweeper already running")
	}
	defer func() {
		s.running.Store(false)
		close(s.stoppedCh)
	}()

	logger.Info("Starting archive retry sweeper",
		zap.Duration("interval", s.config.Interval),
		zap.Int("batch_size", s.config.BatchSize),
	)

	for {
		if err := s.runCycle(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error(err)
			}
		}

		select {
		case <-ctx.Done():
			logger.Info("Archive retry sweeper stopping due to context cancellation")
			return nil
		case <-s.stopChan:
			logger.Info("Archive retry sweeper stop requested")
			return nil
		case <-s.clock.After(s.config.Interval):
		}
	}
}

// Stop gracefully stops the sweeper with timeout support
func (s *archiveRetrySweeper) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	close(s.stopChan)

	select {
	case <-s.stoppedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runCycle retries archiving for one batch of unarchived success rows
func (s *archiveRetrySweeper) runCycle(ctx context.Context) error {
	records, err := s.store.ListUnarchived(ctx, s.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list unarchived records: %w", err)
	}

	archived := 0
	for _, record := range records {
		fingerprint, err := s.store.PrimaryTradeFingerprint(ctx, record.ID)
		if err != nil {
			logger.Error(err, zap.String("external_key", record.ExternalKey))
			continue
		}

		path, err := s.archiver.Archive(ctx, archiver.Input{
			Locator:     record.Locator,
			Sender:      record.Sender,
			ExternalKey: record.ExternalKey,
			Fingerprint: fingerprint,
			ReceivedAt:  record.ReceivedAt,
		})
		if err != nil {
			logger.Warn("Archive retry failed",
				zap.String("external_key", record.ExternalKey),
				zap.Error(err),
			)
			continue
		}

		if err := s.store.SetArchivedPath(ctx, record.ExternalKey, path); err != nil {
			logger.Error(err, zap.String("external_key", record.ExternalKey))
			continue
		}

		archived++
	}

	if archived > 0 {
		logger.Info("Archive retry sweep completed",
			zap.Int("archived", archived),
			zap.Int("remaining_in_batch", len(records)-archived),
		)
	}

	return nil
}
