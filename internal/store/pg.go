package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ledgerline/confirm-pipeline/internal/domain"
	"github.com/ledgerline/confirm-pipeline/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// AutoMigrate creates or updates the pipeline tables. Production DDL is
// managed by migrations; this exists for tests and local development.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.IngestionRecord{},
		&schema.Trade{},
		&schema.DocumentTradeLink{},
		&schema.MatchDecision{},
		&schema.PendingRequest{},
	)
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to reasonable defaults.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// retryableStatuses are the states the claim protocol may take over
var retryableStatuses = []string{
	string(schema.IngestionStatusFailed),
	string(schema.IngestionStatusSkipped),
}

// AlreadyProcessed reports whether the external key reached success
func (s *pgStore) AlreadyProcessed(ctx context.Context, externalKey string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&schema.IngestionRecord{}).
		Where("external_key = ? AND status = ?", externalKey, schema.IngestionStatusSuccess).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check processed state: %w", err)
	}

	return count > 0, nil
}

// ClaimIngestion atomically claims the external key for the owner. The claim
// is one insert-or-conditional-update statement: the conflict update fires
// only when the existing row is failed or skipped, so a processing or success
// row leaves the statement affecting zero rows, which is the NotOwned result.
// There is deliberately no read before the write; the post-image decides.
func (s *pgStore) ClaimIngestion(ctx context.Context, input ClaimInput) (*schema.IngestionRecord, bool, error) {
	cand := input.Candidate

	rec := schema.IngestionRecord{
		ExternalKey: cand.ExternalKey,
		Channel:     cand.Channel,
		Locator:     cand.Locator,
		Sender:      cand.Sender,
		Status:      schema.IngestionStatusProcessing,
		Owner:       input.Owner,
		ReceivedAt:  cand.ReceivedAt,
		ClaimedAt:   input.Now,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_key"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"status":       string(schema.IngestionStatusProcessing),
				"owner":        input.Owner,
				"claimed_at":   input.Now,
				"error_detail": "",
				"finalized_at": nil,
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "ingestion_records.status IN ?", Vars: []interface{}{retryableStatuses}},
			}},
		}).
		Clauses(clause.Returning{}).
		Create(&rec)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to claim ingestion: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		// Another owner holds the key, or it already succeeded
		return nil, false, nil
	}

	return &rec, true, nil
}

// FinalizeSuccess marks the key terminally successful. Re-finalizing an
// already successful key is a no-op update, which makes the call idempotent.
func (s *pgStore) FinalizeSuccess(ctx context.Context, externalKey string, tradeCount int) error {
	res := s.db.WithContext(ctx).
		Model(&schema.IngestionRecord{}).
		Where("external_key = ? AND status IN ?", externalKey,
			[]string{string(schema.IngestionStatusProcessing), string(schema.IngestionStatusSuccess)}).
		Updates(map[string]interface{}{
			"status":       string(schema.IngestionStatusSuccess),
			"trade_count":  tradeCount,
			"error_detail": "",
			"finalized_at": gorm.Expr("now()"),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to finalize success: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("finalize success %q: %w", externalKey, domain.ErrIngestionNotFound)
	}

	return nil
}

// FinalizeFailure marks the key failed and increments its retry count
func (s *pgStore) FinalizeFailure(ctx context.Context, externalKey string, detail string) error {
	res := s.db.WithContext(ctx).
		Model(&schema.IngestionRecord{}).
		Where("external_key = ? AND status = ?", externalKey, schema.IngestionStatusProcessing).
		Updates(map[string]interface{}{
			"status":       string(schema.IngestionStatusFailed),
			"error_detail": detail,
			"retry_count":  gorm.Expr("retry_count + 1"),
			"finalized_at": gorm.Expr("now()"),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to finalize failure: %w", res.Error)
	}

	return nil
}

// FinalizeSkipped marks the key skipped. Skips consume the same retry budget
// as failures: a permanently unsupported document would otherwise cycle
// through the backstop scan forever, since its bytes never leave the intake
// location.
func (s *pgStore) FinalizeSkipped(ctx context.Context, externalKey string, reason string) error {
	res := s.db.WithContext(ctx).
		Model(&schema.IngestionRecord{}).
		Where("external_key = ? AND status = ?", externalKey, schema.IngestionStatusProcessing).
		Updates(map[string]interface{}{
			"status":       string(schema.IngestionStatusSkipped),
			"error_detail": reason,
			"retry_count":  gorm.Expr("retry_count + 1"),
			"finalized_at": gorm.Expr("now()"),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to finalize skipped: %w", res.Error)
	}

	return nil
}

// SetArchivedPath records the permanent location of the document bytes
func (s *pgStore) SetArchivedPath(ctx context.Context, externalKey string, path string) error {
	res := s.db.WithContext(ctx).
		Model(&schema.IngestionRecord{}).
		Where("external_key = ? AND status = ?", externalKey, schema.IngestionStatusSuccess).
		Update("archived_path", path)
	if res.Error != nil {
		return fmt.Errorf("failed to set archived path: %w", res.Error)
	}

	return nil
}

// ResetOrphanedClaims releases processing rows stuck past the claim timeout.
// Elapsed time is measured from claimed_at. Orphan resets are not failures of
// the document itself, so retry_count is left alone.
func (s *pgStore) ResetOrphanedClaims(ctx context.Context, timeout time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-timeout)

	res := s.db.WithContext(ctx).
		Model(&schema.IngestionRecord{}).
		Where("status = ? AND claimed_at < ?", schema.IngestionStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":       string(schema.IngestionStatusFailed),
			"owner":        "",
			"error_detail": "orphaned: claim exceeded timeout",
			"finalized_at": gorm.Expr("now()"),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reset orphaned claims: %w", res.Error)
	}

	return res.RowsAffected, nil
}

// FilterClaimableKeys returns the keys the backstop scan should enqueue
func (s *pgStore) FilterClaimableKeys(ctx context.Context, keys []string, maxRetries int) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	var rows []struct {
		ExternalKey string
		Status      schema.IngestionStatus
		RetryCount  int
	}
	err := s.db.WithContext(ctx).
		Model(&schema.IngestionRecord{}).
		Select("external_key", "status", "retry_count").
		Where("external_key IN ?", keys).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to look up ledger keys: %w", err)
	}

	known := make(map[string]struct {
		status  schema.IngestionStatus
		retries int
	}, len(rows))
	for _, r := range rows {
		known[r.ExternalKey] = struct {
			status  schema.IngestionStatus
			retries int
		}{r.Status, r.RetryCount}
	}

	claimable := make([]string, 0, len(keys))
	for _, key := range keys {
		state, ok := known[key]
		if !ok {
			claimable = append(claimable, key)
			continue
		}
		switch state.status {
		case schema.IngestionStatusFailed, schema.IngestionStatusSkipped:
			if state.retries < maxRetries {
				claimable = append(claimable, key)
			}
		default:
			// processing or success: leave it alone
		}
	}

	return claimable, nil
}

// ListUnarchived returns success rows whose bytes are still in the intake
// location, oldest first
func (s *pgStore) ListUnarchived(ctx context.Context, limit int) ([]*schema.IngestionRecord, error) {
	var records []*schema.IngestionRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND archived_path IS NULL", schema.IngestionStatusSuccess).
		Order("finalized_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unarchived records: %w", err)
	}

	return records, nil
}

// GetIngestionByKey retrieves a ledger row by external key
func (s *pgStore) GetIngestionByKey(ctx context.Context, externalKey string) (*schema.IngestionRecord, error) {
	var rec schema.IngestionRecord
	err := s.db.WithContext(ctx).Where("external_key = ?", externalKey).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ingestion record: %w", err)
	}

	return &rec, nil
}

// RecordTrade inserts the canonical trade or links to the existing one, in a
// single transaction. The fingerprint uniqueness constraint is the second
// exclusivity point after the ledger: two workers discovering the same
// fingerprint concurrently cannot create two canonical trades, because only
// one insert wins and the loser resolves to the winner's row.
func (s *pgStore) RecordTrade(ctx context.Context, input RecordTradeInput) (*schema.Trade, bool, error) {
	var (
		trade   schema.Trade
		created bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t := input.Trade
		trade = schema.Trade{
			Fingerprint: input.Fingerprint,
			Broker:      t.Broker,
			HolderID:    t.HolderID,
			ISIN:        t.ISIN,
			Sedol:       t.Sedol,
			Ticker:      t.Ticker,
			Venue:       t.Venue,
			Direction:   t.Direction,
			Quantity:    t.Quantity,
			Price:       t.Price,
			Currency:    t.Currency,
			TradeDate:   t.TradeDate,
			MatchStatus: schema.MatchStatusPending,
		}
		if t.BrokerRef != "" {
			ref := t.BrokerRef
			trade.BrokerRef = &ref
		}

		// ON CONFLICT DO NOTHING on the fingerprint: a zero ID afterwards
		// means the trade already existed
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fingerprint"}},
			DoNothing: true,
		}).Clauses(clause.Returning{Columns: []clause.Column{}}).
			Create(&trade).Error; err != nil {
			return fmt.Errorf("failed to create trade: %w", err)
		}

		created = trade.ID != 0
		if !created {
			if err := tx.Where("fingerprint = ?", input.Fingerprint).First(&trade).Error; err != nil {
				return fmt.Errorf("failed to get existing trade: %w", err)
			}
		}

		// The introducing document owns the primary link; later documents
		// confirming the same trade link with primary_link false. Re-running
		// the same document is a no-op on the composite key.
		link := schema.DocumentTradeLink{
			IngestionRecordID: input.IngestionRecordID,
			TradeID:           trade.ID,
			Primary:           created,
			Confidence:        t.Confidence,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ingestion_record_id"}, {Name: "trade_id"}},
			DoNothing: true,
		}).Clauses(clause.Returning{Columns: []clause.Column{}}).
			Create(&link).Error; err != nil {
			return fmt.Errorf("failed to create document trade link: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return &trade, created, nil
}

// PrimaryTradeFingerprint returns the fingerprint of the document's primary
// trade link, falling back to the earliest link
func (s *pgStore) PrimaryTradeFingerprint(ctx context.Context, ingestionRecordID int64) (string, error) {
	var fingerprint string
	err := s.db.WithContext(ctx).
		Table("document_trade_links").
		Select("trades.fingerprint").
		Joins("JOIN trades ON trades.id = document_trade_links.trade_id").
		Where("document_trade_links.ingestion_record_id = ?", ingestionRecordID).
		Order("document_trade_links.primary_link DESC, document_trade_links.id ASC").
		Limit(1).
		Scan(&fingerprint).Error
	if err != nil {
		return "", fmt.Errorf("failed to get primary trade fingerprint: %w", err)
	}

	return fingerprint, nil
}

// ListPendingRequests returns the holder's requests awaiting execution evidence
func (s *pgStore) ListPendingRequests(ctx context.Context, holderID string) ([]*schema.PendingRequest, error) {
	var requests []*schema.PendingRequest
	err := s.db.WithContext(ctx).
		Where("holder_id = ? AND status = ?", holderID, schema.RequestStatusPending).
		Order("id ASC").
		Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}

	return requests, nil
}

// SaveMatchDecision appends the audit record and sets the trade's
// match-outcome pointer. The pointer update is guarded on the pending state
// so a decision is applied to a trade at most once.
func (s *pgStore) SaveMatchDecision(ctx context.Context, input SaveMatchDecisionInput) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		decision := schema.MatchDecision{
			TradeID:          input.TradeID,
			Outcome:          input.Outcome,
			MatchedRequestID: input.MatchedRequestID,
			Evidence:         input.Evidence,
		}
		if err := tx.Create(&decision).Error; err != nil {
			return fmt.Errorf("failed to create match decision: %w", err)
		}

		res := tx.Model(&schema.Trade{}).
			Where("id = ? AND match_status = ?", input.TradeID, schema.MatchStatusPending).
			Updates(map[string]interface{}{
				"match_status":       string(input.Outcome),
				"matched_request_id": input.MatchedRequestID,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update trade match pointer: %w", res.Error)
		}

		return nil
	})
}

// ListMatchDecisions returns recent decisions, newest first. An empty outcome
// returns all outcomes.
func (s *pgStore) ListMatchDecisions(ctx context.Context, outcome schema.MatchStatus, limit int) ([]*schema.MatchDecision, error) {
	q := s.db.WithContext(ctx).Model(&schema.MatchDecision{})
	if outcome != "" {
		q = q.Where("outcome = ?", outcome)
	}

	var decisions []*schema.MatchDecision
	err := q.Order("created_at DESC").Limit(limit).Find(&decisions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list match decisions: %w", err)
	}

	return decisions, nil
}
