package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ledgerline/confirm-pipeline/internal/domain"
	"github.com/ledgerline/confirm-pipeline/internal/store/schema"
)

// =============================================================================
// Test Data Builders
// =============================================================================

// buildCandidate creates a push-channel candidate for the given external key
func buildCandidate(externalKey string) *domain.Candidate {
	return &domain.Candidate{
		ID:          "cand-" + externalKey,
		ExternalKey: externalKey,
		Channel:     domain.ChannelPush,
		Locator:     "intake/" + externalKey + ".pdf",
		Sender:      "ops@broker-a.example",
		ReceivedAt:  time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

// buildClaim wraps a candidate into a claim for the given owner
func buildClaim(externalKey, owner string, now time.Time) ClaimInput {
	return ClaimInput{
		Candidate: buildCandidate(externalKey),
		Owner:     owner,
		Now:       now,
	}
}

// buildExtractedTrade creates a fully-identified extracted trade
func buildExtractedTrade(brokerRef string) domain.ExtractedTrade {
	return domain.ExtractedTrade{
		BrokerRef:  brokerRef,
		Broker:     "broker-a",
		HolderID:   "holder-1",
		ISIN:       "GB00B03MLX29",
		Ticker:     "SHEL",
		Venue:      "XLON",
		Direction:  domain.DirectionBuy,
		Quantity:   100,
		Price:      10.02,
		Currency:   "GBP",
		TradeDate:  time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
		Confidence: 0.97,
	}
}

// seedPendingRequest inserts a row into the upstream-owned requests table
func seedPendingRequest(t *testing.T, db *gorm.DB, id int64, holderID string, status schema.RequestStatus) {
	t.Helper()
	req := schema.PendingRequest{
		ID:             id,
		HolderID:       holderID,
		ISIN:           "GB00B03MLX29",
		Ticker:         "SHEL",
		Venue:          "XLON",
		Direction:      domain.DirectionBuy,
		Quantity:       100,
		EstimatedPrice: 10.00,
		Currency:       "GBP",
		Status:         status,
	}
	require.NoError(t, db.Create(&req).Error)
}

// =============================================================================
// Claim Protocol
// =============================================================================

func testClaimIngestion(t *testing.T, store Store, db *gorm.DB) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	t.Run("claiming an unseen key creates a processing row", func(t *testing.T) {
		rec, owned, err := store.ClaimIngestion(ctx, buildClaim("push:m-new", "worker-1", now))
		require.NoError(t, err)
		require.True(t, owned)
		require.NotNil(t, rec)

		assert.Equal(t, "push:m-new", rec.ExternalKey)
		assert.Equal(t, schema.IngestionStatusProcessing, rec.Status)
		assert.Equal(t, "worker-1", rec.Owner)
		assert.Equal(t, domain.ChannelPush, rec.Channel)
		assert.Equal(t, "intake/push:m-new.pdf", rec.Locator)
		assert.True(t, rec.ClaimedAt.Equal(now))
		assert.Zero(t, rec.RetryCount)
		assert.Nil(t, rec.FinalizedAt)
	})

	t.Run("a second claim on a processing key is not owned", func(t *testing.T) {
		_, owned, err := store.ClaimIngestion(ctx, buildClaim("push:m-held", "worker-1", now))
		require.NoError(t, err)
		require.True(t, owned)

		rec, owned, err := store.ClaimIngestion(ctx, buildClaim("push:m-held", "worker-2", now.Add(time.Second)))
		require.NoError(t, err)
		assert.False(t, owned)
		assert.Nil(t, rec)

		// The original owner keeps the claim
		got, err := store.GetIngestionByKey(ctx, "push:m-held")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "worker-1", got.Owner)
	})

	t.Run("a failed key can be re-claimed and its failure state cleared", func(t *testing.T) {
		_, owned, err := store.ClaimIngestion(ctx, buildClaim("push:m-retry", "worker-1", now))
		require.NoError(t, err)
		require.True(t, owned)
		require.NoError(t, store.FinalizeFailure(ctx, "push:m-retry", "extraction failed: timeout"))

		later := now.Add(10 * time.Minute)
		rec, owned, err := store.ClaimIngestion(ctx, buildClaim("push:m-retry", "worker-2", later))
		require.NoError(t, err)
		require.True(t, owned)
		require.NotNil(t, rec)

		assert.Equal(t, schema.IngestionStatusProcessing, rec.Status)
		assert.Equal(t, "worker-2", rec.Owner)
		assert.True(t, rec.ClaimedAt.Equal(later))
		assert.Empty(t, rec.ErrorDetail)
		assert.Nil(t, rec.FinalizedAt)
		// The failure already consumed one retry; re-claiming does not reset it
		assert.Equal(t, 1, rec.RetryCount)
	})

	t.Run("a skipped key can be re-claimed", func(t *testing.T) {
		_, owned, err := store.ClaimIngestion(ctx, buildClaim("push:m-skip", "worker-1", now))
		require.NoError(t, err)
		require.True(t, owned)
		require.NoError(t, store.FinalizeSkipped(ctx, "push:m-skip", "unsupported content type: image/png"))

		rec, owned, err := store.ClaimIngestion(ctx, buildClaim("push:m-skip", "worker-1", now.Add(time.Hour)))
		require.NoError(t, err)
		assert.True(t, owned)
		// Skips consume the retry budget like failures
		assert.Equal(t, 1, rec.RetryCount)
	})

	t.Run("a successful key is never re-claimed", func(t *testing.T) {
		_, owned, err := store.ClaimIngestion(ctx, buildClaim("push:m-done", "worker-1", now))
		require.NoError(t, err)
		require.True(t, owned)
		require.NoError(t, store.FinalizeSuccess(ctx, "push:m-done", 2))

		rec, owned, err := store.ClaimIngestion(ctx, buildClaim("push:m-done", "worker-2", now.Add(time.Hour)))
		require.NoError(t, err)
		assert.False(t, owned)
		assert.Nil(t, rec)

		processed, err := store.AlreadyProcessed(ctx, "push:m-done")
		require.NoError(t, err)
		assert.True(t, processed)
	})

	t.Run("AlreadyProcessed is false for unseen and failed keys", func(t *testing.T) {
		processed, err := store.AlreadyProcessed(ctx, "push:m-never")
		require.NoError(t, err)
		assert.False(t, processed)

		_, _, err = store.ClaimIngestion(ctx, buildClaim("push:m-fell", "worker-1", now))
		require.NoError(t, err)
		require.NoError(t, store.FinalizeFailure(ctx, "push:m-fell", "failed to fetch document"))

		processed, err = store.AlreadyProcessed(ctx, "push:m-fell")
		require.NoError(t, err)
		assert.False(t, processed)
	})
}

// =============================================================================
// Finalization
// =============================================================================

func testFinalize(t *testing.T, store Store, db *gorm.DB) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	t.Run("success records the trade count and finalized time", func(t *testing.T) {
		_, _, err := store.ClaimIngestion(ctx, buildClaim("push:f-ok", "worker-1", now))
		require.NoError(t, err)
		require.NoError(t, store.FinalizeSuccess(ctx, "push:f-ok", 3))

		rec, err := store.GetIngestionByKey(ctx, "push:f-ok")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, schema.IngestionStatusSuccess, rec.Status)
		assert.Equal(t, 3, rec.TradeCount)
		assert.NotNil(t, rec.FinalizedAt)
	})

	t.Run("success is idempotent", func(t *testing.T) {
		_, _, err := store.ClaimIngestion(ctx, buildClaim("push:f-twice", "worker-1", now))
		require.NoError(t, err)
		require.NoError(t, store.FinalizeSuccess(ctx, "push:f-twice", 1))
		require.NoError(t, store.FinalizeSuccess(ctx, "push:f-twice", 1))

		rec, err := store.GetIngestionByKey(ctx, "push:f-twice")
		require.NoError(t, err)
		assert.Equal(t, schema.IngestionStatusSuccess, rec.Status)
	})

	t.Run("success on an unknown key reports not found", func(t *testing.T) {
		err := store.FinalizeSuccess(ctx, "push:f-ghost", 1)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrIngestionNotFound)
	})

	t.Run("each failure consumes one retry", func(t *testing.T) {
		_, _, err := store.ClaimIngestion(ctx, buildClaim("push:f-flaky", "worker-1", now))
		require.NoError(t, err)
		require.NoError(t, store.FinalizeFailure(ctx, "push:f-flaky", "extraction failed: 503"))

		_, _, err = store.ClaimIngestion(ctx, buildClaim("push:f-flaky", "worker-1", now.Add(time.Minute)))
		require.NoError(t, err)
		require.NoError(t, store.FinalizeFailure(ctx, "push:f-flaky", "extraction failed: 503"))

		rec, err := store.GetIngestionByKey(ctx, "push:f-flaky")
		require.NoError(t, err)
		assert.Equal(t, schema.IngestionStatusFailed, rec.Status)
		assert.Equal(t, 2, rec.RetryCount)
		assert.Equal(t, "extraction failed: 503", rec.ErrorDetail)
	})

	t.Run("archived path is recorded only on success rows", func(t *testing.T) {
		_, _, err := store.ClaimIngestion(ctx, buildClaim("push:f-arch", "worker-1", now))
		require.NoError(t, err)

		// Still processing: the path write must not land
		require.NoError(t, store.SetArchivedPath(ctx, "push:f-arch", "archive/x/2026/03/14/doc.pdf"))
		rec, err := store.GetIngestionByKey(ctx, "push:f-arch")
		require.NoError(t, err)
		assert.Nil(t, rec.ArchivedPath)

		require.NoError(t, store.FinalizeSuccess(ctx, "push:f-arch", 1))
		require.NoError(t, store.SetArchivedPath(ctx, "push:f-arch", "archive/x/2026/03/14/doc.pdf"))

		rec, err = store.GetIngestionByKey(ctx, "push:f-arch")
		require.NoError(t, err)
		require.NotNil(t, rec.ArchivedPath)
		assert.Equal(t, "archive/x/2026/03/14/doc.pdf", *rec.ArchivedPath)
	})

	t.Run("unarchived success rows surface oldest first", func(t *testing.T) {
		for _, key := range []string{"push:f-u1", "push:f-u2"} {
			_, _, err := store.ClaimIngestion(ctx, buildClaim(key, "worker-1", now))
			require.NoError(t, err)
			require.NoError(t, store.FinalizeSuccess(ctx, key, 1))
		}
		// Archived rows and non-success rows are excluded
		require.NoError(t, store.SetArchivedPath(ctx, "push:f-u1", "archive/done.pdf"))
		_, _, err := store.ClaimIngestion(ctx, buildClaim("push:f-u3", "worker-1", now))
		require.NoError(t, err)

		records, err := store.ListUnarchived(ctx, 10)
		require.NoError(t, err)

		keys := make([]string, 0, len(records))
		for _, rec := range records {
			keys = append(keys, rec.ExternalKey)
		}
		assert.Contains(t, keys, "push:f-u2")
		assert.NotContains(t, keys, "push:f-u1")
		assert.NotContains(t, keys, "push:f-u3")
	})

	t.Run("lookup of an unknown key returns nil", func(t *testing.T) {
		rec, err := store.GetIngestionByKey(ctx, "push:f-missing")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})
}

// =============================================================================
// Orphan Recovery
// =============================================================================

func testResetOrphanedClaims(t *testing.T, store Store, db *gorm.DB) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	t.Run("stale processing claims are released, fresh ones kept", func(t *testing.T) {
		_, _, err := store.ClaimIngestion(ctx, buildClaim("push:o-stale", "worker-gone", now.Add(-30*time.Minute)))
		require.NoError(t, err)
		_, _, err = store.ClaimIngestion(ctx, buildClaim("push:o-fresh", "worker-live", now.Add(-2*time.Minute)))
		require.NoError(t, err)

		released, err := store.ResetOrphanedClaims(ctx, 10*time.Minute, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), released)

		stale, err := store.GetIngestionByKey(ctx, "push:o-stale")
		require.NoError(t, err)
		assert.Equal(t, schema.IngestionStatusFailed, stale.Status)
		assert.Empty(t, stale.Owner)
		assert.Equal(t, "orphaned: claim exceeded timeout", stale.ErrorDetail)
		// Orphan recovery does not consume the retry budget
		assert.Zero(t, stale.RetryCount)

		fresh, err := store.GetIngestionByKey(ctx, "push:o-fresh")
		require.NoError(t, err)
		assert.Equal(t, schema.IngestionStatusProcessing, fresh.Status)
		assert.Equal(t, "worker-live", fresh.Owner)
	})

	t.Run("released claims are claimable again", func(t *testing.T) {
		_, _, err := store.ClaimIngestion(ctx, buildClaim("push:o-again", "worker-gone", now.Add(-time.Hour)))
		require.NoError(t, err)

		released, err := store.ResetOrphanedClaims(ctx, 10*time.Minute, now)
		require.NoError(t, err)
		require.GreaterOrEqual(t, released, int64(1))

		_, owned, err := store.ClaimIngestion(ctx, buildClaim("push:o-again", "worker-2", now))
		require.NoError(t, err)
		assert.True(t, owned)
	})
}

// =============================================================================
// Backstop Filtering
// =============================================================================

func testFilterClaimableKeys(t *testing.T, store Store, db *gorm.DB) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	const maxRetries = 3

	// unseen: no ledger row at all
	// success/processing: must not be re-enqueued
	_, _, err := store.ClaimIngestion(ctx, buildClaim("object:a.pdf#g1", "worker-1", now))
	require.NoError(t, err)
	require.NoError(t, store.FinalizeSuccess(ctx, "object:a.pdf#g1", 1))

	_, _, err = store.ClaimIngestion(ctx, buildClaim("object:b.pdf#g1", "worker-1", now))
	require.NoError(t, err)

	// failed below the cap: claimable
	_, _, err = store.ClaimIngestion(ctx, buildClaim("object:c.pdf#g1", "worker-1", now))
	require.NoError(t, err)
	require.NoError(t, store.FinalizeFailure(ctx, "object:c.pdf#g1", "failed to fetch document"))

	// failed at the cap: exhausted
	for i := 0; i < maxRetries; i++ {
		_, _, err = store.ClaimIngestion(ctx, buildClaim("object:d.pdf#g1", "worker-1", now))
		require.NoError(t, err)
		require.NoError(t, store.FinalizeFailure(ctx, "object:d.pdf#g1", "extraction failed"))
	}

	// skipped at the cap: an unsupported document must not cycle through
	// the backstop scan forever
	for i := 0; i < maxRetries; i++ {
		_, _, err = store.ClaimIngestion(ctx, buildClaim("object:e.png#g1", "worker-1", now))
		require.NoError(t, err)
		require.NoError(t, store.FinalizeSkipped(ctx, "object:e.png#g1", "unsupported content type: image/png"))
	}

	keys, err := store.FilterClaimableKeys(ctx, []string{
		"object:unseen.pdf#g1",
		"object:a.pdf#g1",
		"object:b.pdf#g1",
		"object:c.pdf#g1",
		"object:d.pdf#g1",
		"object:e.png#g1",
	}, maxRetries)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"object:unseen.pdf#g1", "object:c.pdf#g1"}, keys)

	t.Run("empty input returns no keys", func(t *testing.T) {
		keys, err := store.FilterClaimableKeys(ctx, nil, maxRetries)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

// =============================================================================
// Canonical Trades
// =============================================================================

func testRecordTrade(t *testing.T, store Store, db *gorm.DB) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	claimRecord := func(t *testing.T, key string) *schema.IngestionRecord {
		t.Helper()
		rec, owned, err := store.ClaimIngestion(ctx, buildClaim(key, "worker-1", now))
		require.NoError(t, err)
		require.True(t, owned)
		return rec
	}

	t.Run("the introducing document owns the primary link", func(t *testing.T) {
		rec := claimRecord(t, "push:t-first")

		trade, created, err := store.RecordTrade(ctx, RecordTradeInput{
			IngestionRecordID: rec.ID,
			Fingerprint:       "ref:BRK-1001",
			Trade:             buildExtractedTrade("BRK-1001"),
		})
		require.NoError(t, err)
		assert.True(t, created)
		require.NotNil(t, trade)
		assert.Equal(t, "ref:BRK-1001", trade.Fingerprint)
		assert.Equal(t, schema.MatchStatusPending, trade.MatchStatus)
		require.NotNil(t, trade.BrokerRef)
		assert.Equal(t, "BRK-1001", *trade.BrokerRef)

		var link schema.DocumentTradeLink
		require.NoError(t, db.Where("ingestion_record_id = ? AND trade_id = ?", rec.ID, trade.ID).First(&link).Error)
		assert.True(t, link.Primary)
		assert.InDelta(t, 0.97, link.Confidence, 1e-9)
	})

	t.Run("a second document confirming the same trade links without duplicating it", func(t *testing.T) {
		recA := claimRecord(t, "push:t-dup-a")
		recB := claimRecord(t, "object:t-dup-b.pdf#g1")

		first, created, err := store.RecordTrade(ctx, RecordTradeInput{
			IngestionRecordID: recA.ID,
			Fingerprint:       "ref:BRK-2002",
			Trade:             buildExtractedTrade("BRK-2002"),
		})
		require.NoError(t, err)
		require.True(t, created)

		second, created, err := store.RecordTrade(ctx, RecordTradeInput{
			IngestionRecordID: recB.ID,
			Fingerprint:       "ref:BRK-2002",
			Trade:             buildExtractedTrade("BRK-2002"),
		})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)

		var count int64
		require.NoError(t, db.Model(&schema.Trade{}).Where("fingerprint = ?", "ref:BRK-2002").Count(&count).Error)
		assert.Equal(t, int64(1), count)

		var links []schema.DocumentTradeLink
		require.NoError(t, db.Where("trade_id = ?", first.ID).Order("id ASC").Find(&links).Error)
		require.Len(t, links, 2)
		assert.True(t, links[0].Primary)
		assert.False(t, links[1].Primary)
	})

	t.Run("re-running the same document is a no-op on the link", func(t *testing.T) {
		rec := claimRecord(t, "push:t-rerun")
		input := RecordTradeInput{
			IngestionRecordID: rec.ID,
			Fingerprint:       "ref:BRK-3003",
			Trade:             buildExtractedTrade("BRK-3003"),
		}

		_, _, err := store.RecordTrade(ctx, input)
		require.NoError(t, err)
		_, created, err := store.RecordTrade(ctx, input)
		require.NoError(t, err)
		assert.False(t, created)

		var count int64
		require.NoError(t, db.Model(&schema.DocumentTradeLink{}).
			Where("ingestion_record_id = ?", rec.ID).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("primary fingerprint follows the primary link", func(t *testing.T) {
		rec := claimRecord(t, "push:t-primary")

		tradeA := buildExtractedTrade("BRK-4004")
		tradeB := buildExtractedTrade("BRK-5005")
		tradeB.Quantity = 50

		_, _, err := store.RecordTrade(ctx, RecordTradeInput{
			IngestionRecordID: rec.ID, Fingerprint: "ref:BRK-4004", Trade: tradeA,
		})
		require.NoError(t, err)
		_, _, err = store.RecordTrade(ctx, RecordTradeInput{
			IngestionRecordID: rec.ID, Fingerprint: "ref:BRK-5005", Trade: tradeB,
		})
		require.NoError(t, err)

		fingerprint, err := store.PrimaryTradeFingerprint(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "ref:BRK-4004", fingerprint)
	})

	t.Run("primary fingerprint is empty for a document without trades", func(t *testing.T) {
		rec := claimRecord(t, "push:t-empty")
		fingerprint, err := store.PrimaryTradeFingerprint(ctx, rec.ID)
		require.NoError(t, err)
		assert.Empty(t, fingerprint)
	})
}

// =============================================================================
// Matching
// =============================================================================

func testPendingRequests(t *testing.T, store Store, db *gorm.DB) {
	ctx := context.Background()

	seedPendingRequest(t, db, 101, "holder-1", schema.RequestStatusPending)
	seedPendingRequest(t, db, 102, "holder-1", schema.RequestStatusExecuted)
	seedPendingRequest(t, db, 103, "holder-1", schema.RequestStatusCancelled)
	seedPendingRequest(t, db, 104, "holder-2", schema.RequestStatusPending)

	requests, err := store.ListPendingRequests(ctx, "holder-1")
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, int64(101), requests[0].ID)

	requests, err = store.ListPendingRequests(ctx, "holder-3")
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func testSaveMatchDecision(t *testing.T, store Store, db *gorm.DB) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	recordTrade := func(t *testing.T, key, fingerprint string) *schema.Trade {
		t.Helper()
		rec, owned, err := store.ClaimIngestion(ctx, buildClaim(key, "worker-1", now))
		require.NoError(t, err)
		require.True(t, owned)

		trade, _, err := store.RecordTrade(ctx, RecordTradeInput{
			IngestionRecordID: rec.ID,
			Fingerprint:       fingerprint,
			Trade:             buildExtractedTrade(""),
		})
		require.NoError(t, err)
		return trade
	}

	t.Run("a matched decision sets the pointer and keeps the audit row", func(t *testing.T) {
		trade := recordTrade(t, "push:d-match", "ref:BRK-6001")
		requestID := int64(201)
		seedPendingRequest(t, db, requestID, "holder-1", schema.RequestStatusPending)

		err := store.SaveMatchDecision(ctx, SaveMatchDecisionInput{
			TradeID:          trade.ID,
			Outcome:          schema.MatchStatusMatched,
			MatchedRequestID: &requestID,
			Evidence:         []byte(`{"survivors":[{"request_id":201}],"eliminations":[]}`),
		})
		require.NoError(t, err)

		var got schema.Trade
		require.NoError(t, db.First(&got, trade.ID).Error)
		assert.Equal(t, schema.MatchStatusMatched, got.MatchStatus)
		require.NotNil(t, got.MatchedRequestID)
		assert.Equal(t, requestID, *got.MatchedRequestID)

		decisions, err := store.ListMatchDecisions(ctx, schema.MatchStatusMatched, 10)
		require.NoError(t, err)
		require.Len(t, decisions, 1)
		assert.Equal(t, trade.ID, decisions[0].TradeID)
	})

	t.Run("a later decision never overwrites a settled pointer", func(t *testing.T) {
		trade := recordTrade(t, "push:d-settled", "ref:BRK-6002")

		err := store.SaveMatchDecision(ctx, SaveMatchDecisionInput{
			TradeID:  trade.ID,
			Outcome:  schema.MatchStatusUnmatched,
			Evidence: []byte(`{"survivors":[],"eliminations":[]}`),
		})
		require.NoError(t, err)

		requestID := int64(202)
		err = store.SaveMatchDecision(ctx, SaveMatchDecisionInput{
			TradeID:          trade.ID,
			Outcome:          schema.MatchStatusMatched,
			MatchedRequestID: &requestID,
			Evidence:         []byte(`{"survivors":[{"request_id":202}],"eliminations":[]}`),
		})
		require.NoError(t, err)

		// The audit trail keeps both attempts; the pointer keeps the first
		var got schema.Trade
		require.NoError(t, db.First(&got, trade.ID).Error)
		assert.Equal(t, schema.MatchStatusUnmatched, got.MatchStatus)
		assert.Nil(t, got.MatchedRequestID)

		var count int64
		require.NoError(t, db.Model(&schema.MatchDecision{}).
			Where("trade_id = ?", trade.ID).Count(&count).Error)
		assert.Equal(t, int64(2), count)
	})

	t.Run("decisions are filterable by outcome and capped by limit", func(t *testing.T) {
		tradeA := recordTrade(t, "push:d-list-a", "ref:BRK-6003")
		tradeB := recordTrade(t, "push:d-list-b", "ref:BRK-6004")

		require.NoError(t, store.SaveMatchDecision(ctx, SaveMatchDecisionInput{
			TradeID: tradeA.ID, Outcome: schema.MatchStatusAmbiguous,
			Evidence: []byte(`{"survivors":[{"request_id":1},{"request_id":2}],"eliminations":[]}`),
		}))
		require.NoError(t, store.SaveMatchDecision(ctx, SaveMatchDecisionInput{
			TradeID: tradeB.ID, Outcome: schema.MatchStatusUnmatched,
			Evidence: []byte(`{"survivors":[],"eliminations":[]}`),
		}))

		ambiguous, err := store.ListMatchDecisions(ctx, schema.MatchStatusAmbiguous, 10)
		require.NoError(t, err)
		require.Len(t, ambiguous, 1)
		assert.Equal(t, tradeA.ID, ambiguous[0].TradeID)

		all, err := store.ListMatchDecisions(ctx, "", 1)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

// =============================================================================
// Suite Entry Point
// =============================================================================

// RunStoreTests runs the full store suite against an implementation. The
// second return of initDB is a raw handle into the same transaction, used to
// seed upstream-owned tables and assert on rows the Store interface does not
// expose.
func RunStoreTests(t *testing.T, initDB func(t *testing.T) (Store, *gorm.DB), cleanupDB func(t *testing.T)) {
	tests := []struct {
		name string
		fn   func(*testing.T, Store, *gorm.DB)
	}{
		{"ClaimIngestion", testClaimIngestion},
		{"Finalize", testFinalize},
		{"ResetOrphanedClaims", testResetOrphanedClaims},
		{"FilterClaimableKeys", testFilterClaimableKeys},
		{"RecordTrade", testRecordTrade},
		{"PendingRequests", testPendingRequests},
		{"SaveMatchDecision", testSaveMatchDecision},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, db := initDB(t)
			defer cleanupDB(t)
			tt.fn(t, store, db)
		})
	}
}
