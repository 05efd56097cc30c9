package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerline/confirm-pipeline/internal/adapter"
	"github.com/ledgerline/confirm-pipeline/internal/logger"
	"github.com/ledgerline/confirm-pipeline/internal/store"
)

// OrphanSweeperConfig holds configuration for the orphan claim sweeper
type OrphanSweeperConfig struct {
	// Interval is the time between sweep cycles
	Interval time.Duration
	// ClaimTimeout is how long a claim may stay in processing before it is
	// treated as abandoned by a crashed worker
	ClaimTimeout time.Duration
}

// orphanSweeper releases claims held past the timeout so another worker can
// pick the documents up again
type orphanSweeper struct {
	config    *OrphanSweeperConfig
	store     store.Store
	clock     adapter.Clock
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewOrphanSweeper creates a new orphan claim sweeper
func NewOrphanSweeper(config *OrphanSweeperConfig, st store.Store, clock adapter.Clock) Sweeper {
	return &orphanSweeper{
		config:    config,
		store:     st,
		clock:     clock,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Name returns the sweeper's name
func (s *orphanSweeper) Name() string {
	return "orphan-sweeper"
}

// Start begins the sweeper's main loop
func (s *orphanSweeper) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sweeper already running")
	}
	defer func() {
		s.running.Store(false)
		close(s.stoppedCh)
	}()

	logger.Info("Starting orphan sweeper",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("claim_timeout", s.config.ClaimTimeout),
	)

	for {
		if err := s.runCycle(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error(err)
			}
		}

		select {
		case <-ctx.Done():
			logger.Info("Orphan sweeper stopping due to context cancellation")
			return nil
		case <-s.stopChan:
			logger.Info("Orphan sweeper stop requested")
			return nil
		case <-s.clock.After(s.config.Interval):
		}
	}
}

// Stop gracefully stops the sweeper with timeout support
func (s *orphanSweeper) Stop(ctx context.Context) error {
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

// runCycle releases every claim older than the timeout
func (s *orphanSweeper) runCycle(ctx context.Context) error {
	released, err := s.store.ResetOrphanedClaims(ctx, s.config.ClaimTimeout, s.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to reset orphaned claims: %w", err)
	}

	if released > 0 {
		logger.Warn("Released orphaned claims",
			zap.Int64("count", released),
			zap.Duration("claim_timeout", s.config.ClaimTimeout),
		)
	}

	return nil
}
