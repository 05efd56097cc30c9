package messaging

import (
	"context"

	"github.com/ledgerline/confirm-pipeline/internal/domain"
)

// Publisher defines the interface for publishing ingestion candidates to the
// message broker
//
//go:generate mockgen -source=publisher.go -destination=../mocks/publisher.go -package=mocks -mock_names=Publisher=MockPublisher
type Publisher interface {
	// PublishCandidate publishes a candidate for asynchronous processing
	PublishCandidate(ctx context.Context, candidate *domain.Candidate) error
	// Close closes the connection
	Close()
}
