package store

import (
	"context"
	"time"

	"github.com/ledgerline/confirm-pipeline/internal/domain"
	"github.com/ledgerline/confirm-pipeline/internal/store/schema"
)

// ClaimInput carries everything needed to create or re-claim a ledger row
type ClaimInput struct {
	Candidate *domain.Candidate
	// Owner identifies the claiming worker
	Owner string
	// Now is the claim timestamp recorded as claimed_at
	Now time.Time
}

// RecordTradeInput carries one canonicalized trade and its source document
type RecordTradeInput struct {
	IngestionRecordID int64
	Fingerprint       string
	Trade             domain.ExtractedTrade
}

// SaveMatchDecisionInput persists one matching attempt and updates the
// trade's match-outcome pointer in the same transaction
type SaveMatchDecisionInput struct {
	TradeID          int64
	Outcome          schema.MatchStatus
	MatchedRequestID *int64
	// Evidence is the JSON-encoded survivors and eliminations
	Evidence []byte
}

// Store defines the interface for database operations
//
//go:generate mockgen -source=store.go -destination=../mocks/store.go -package=mocks -mock_names=Store=MockStore
type Store interface {
	// AlreadyProcessed reports whether the external key reached success
	AlreadyProcessed(ctx context.Context, externalKey string) (bool, error)

	// ClaimIngestion atomically claims the external key for the owner. It is
	// a single conditional write: it succeeds when no row exists or the
	// existing row is failed/skipped. The returned bool is false when another
	// owner holds the key or it already succeeded; that is an expected
	// outcome, not an error.
	ClaimIngestion(ctx context.Context, input ClaimInput) (*schema.IngestionRecord, bool, error)

	// FinalizeSuccess marks the key terminally successful. Idempotent.
	FinalizeSuccess(ctx context.Context, externalKey string, tradeCount int) error

	// FinalizeFailure marks the key failed and increments its retry count
	FinalizeFailure(ctx context.Context, externalKey string, detail string) error

	// FinalizeSkipped marks the key skipped (recognized but not processable).
	// Skips consume the retry budget so unsupported documents do not cycle
	// through the backstop scan indefinitely.
	FinalizeSkipped(ctx context.Context, externalKey string, reason string) error

	// SetArchivedPath records the permanent location of the document bytes
	// after a successful archive. Idempotent.
	SetArchivedPath(ctx context.Context, externalKey string, path string) error

	// ResetOrphanedClaims releases processing rows whose elapsed time since
	// claimed_at exceeds the timeout, returning the number released. The
	// retry count is not touched: orphan recovery is distinct from failure
	// retry semantics.
	ResetOrphanedClaims(ctx context.Context, timeout time.Duration, now time.Time) (int64, error)

	// FilterClaimableKeys returns the subset of keys worth enqueuing from the
	// backstop scan: keys the ledger has never seen, plus failed/skipped keys
	// below the retry cap.
	FilterClaimableKeys(ctx context.Context, keys []string, maxRetries int) ([]string, error)

	// ListUnarchived returns success rows whose bytes have not yet reached
	// permanent storage
	ListUnarchived(ctx context.Context, limit int) ([]*schema.IngestionRecord, error)

	// GetIngestionByKey retrieves a ledger row, nil when absent
	GetIngestionByKey(ctx context.Context, externalKey string) (*schema.IngestionRecord, error)

	// RecordTrade inserts the canonical trade keyed by fingerprint, or links
	// the document to the existing trade when the fingerprint is already
	// known. The first introducing document owns the primary link. The bool
	// reports whether a new canonical trade was created.
	RecordTrade(ctx context.Context, input RecordTradeInput) (*schema.Trade, bool, error)

	// PrimaryTradeFingerprint returns the fingerprint behind a document's
	// primary-or-first trade link, empty when the document yielded no trades
	PrimaryTradeFingerprint(ctx context.Context, ingestionRecordID int64) (string, error)

	// ListPendingRequests returns the holder's requests still awaiting
	// execution evidence
	ListPendingRequests(ctx context.Context, holderID string) ([]*schema.PendingRequest, error)

	// SaveMatchDecision appends the audit record for one matching attempt and
	// sets the trade's match-outcome pointer
	SaveMatchDecision(ctx context.Context, input SaveMatchDecisionInput) error

	// ListMatchDecisions returns recent decisions, optionally filtered by
	// outcome, newest first
	ListMatchDecisions(ctx context.Context, outcome schema.MatchStatus, limit int) ([]*schema.MatchDecision, error)
}
