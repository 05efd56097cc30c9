package sweeper

import (
	"context"
)

// Sweeper is a periodic maintenance loop. The pipeline runs three: the
// orphan-claim reset, the poll-channel backstop scan and the archive retry.
// All follow the same lifecycle so cmd/sweeper can manage them uniformly.
//
//go:generate mockgen -source=sweeper.go -destination=../mocks/sweeper.go -package=mocks -mock_names=Sweeper=MockSweeper
type Sweeper interface {
	// Start runs the loop, blocking until the context is canceled or Stop
	// is called
	Start(ctx context.Context) error

	// Stop ends the loop, waiting for an in-progress cycle to finish
	Stop(ctx context.Context) error

	// Name identifies the sweeper in logs
	Name() string
}
