package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerline/confirm-pipeline/internal/adapter"
	"github.com/ledgerline/confirm-pipeline/internal/blob"
	"github.com/ledgerline/confirm-pipeline/internal/domain"
	"github.com/ledgerline/confirm-pipeline/internal/intake"
	"github.com/ledgerline/confirm-pipeline/internal/logger"
	"github.com/ledgerline/confirm-pipeline/internal/messaging"
	"github.com/ledgerline/confirm-pipeline/internal/store"
)

// BackstopSweeperConfig holds configuration for the backstop scan
type BackstopSweeperConfig struct {
	// Interval is the time between scan cycles
	Interval time.Duration
	// IntakePrefix is the blob prefix holding unprocessed documents
	IntakePrefix string
	// MaxRetries caps re-enqueuing of failed or skipped documents
	MaxRetries int
}

// backstopSweeper periodically scans the intake location and enqueues every
// document the ledger does not account for. It is the safety net under the
// push channel: a dropped notification only delays processing until the next
// scan.
type backstopSweeper struct {
	config    *BackstopSweeperConfig
	store     store.Store
	blobs     blob.Store
	publisher messaging.Publisher
	clock     adapter.Clock
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewBackstopSweeper creates a new backstop scan sweeper
func NewBackstopSweeper(
	config *BackstopSweeperConfig,
	st store.Store,
	blobs blob.Store,
	publisher messaging.Publisher,
	clock adapter.Clock,
) Sweeper {
	return &backstopSweeper{
		config:    config,
		store:     st,
		blobs:     blobs,
		publisher: publisher,
		clock:     clock,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Name returns the sweeper's name
func (s *backstopSweeper) Name() string {
	return "backstop-sweeper"
}

// Start begins the sweeper's main loop
func (s *backstopSweeper) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sweeper already running")
	}
	defer func() {
		s.running.Store(false)
		close(s.stoppedCh)
	}()

	logger.Info("Starting backstop sweeper",
		zap.Duration("interval", s.config.Interval),
		zap.String("intake_prefix", s.config.IntakePrefix),
		zap.Int("max_retries", s.config.MaxRetries),
	)

	for {
		if err := s.runCycle(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error(err)
			}
		}

		select {
		case <-ctx.Done():
			logger.Info("Backstop sweeper stopping due to context cancellation")
			return nil
		case <-s.stopChan:
			logger.Info("Backstop sweeper stop requested")
			return nil
		case <-s.clock.After(s.config.Interval):
		}
	}
}

// Stop gracefully stops the sweeper with timeout support
func (s *backstopSweeper) Stop(ctx context.Context) error {
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

// runCycle scans the intake location once and enqueues claimable documents.
// The ledger filter keeps the scan cheap: already-successful and
// retry-exhausted documents never reach the broker.
func (s *backstopSweeper) runCycle(ctx context.Context) error {
	startTime := s.clock.Now()

	objects, err := s.blobs.List(ctx, s.config.IntakePrefix)
	if err != nil {
		return fmt.Errorf("failed to list intake location: %w", err)
	}
	if len(objects) == 0 {
		return nil
	}

	byKey := make(map[string]blob.Object, len(objects))
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		key := domain.ObjectExternalKey(obj.Locator, obj.Generation)
		byKey[key] = obj
		keys = append(keys, key)
	}

	claimable, err := s.store.FilterClaimableKeys(ctx, keys, s.config.MaxRetries)
	if err != nil {
		return fmt.Errorf("failed to filter claimable keys: %w", err)
	}

	enqueued := 0
	for _, key := range claimable {
		candidate := intake.NormalizeObject(byKey[key])
		if err := s.publisher.PublishCandidate(ctx, candidate); err != nil {
			logger.Error(err, zap.String("external_key", key))
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		logger.Info("Backstop scan enqueued candidates",
			zap.Int("scanned", len(objects)),
			zap.Int("enqueued", enqueued),
			zap.Duration("duration", s.clock.Since(startTime)),
		)
	}

	return nil
}
