package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/gabriel-vasile/mimetype"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/ledgerline/confirm-pipeline/internal/adapter"
	"github.com/ledgerline/confirm-pipeline/internal/archiver"
	"github.com/ledgerline/confirm-pipeline/internal/blob"
	"github.com/ledgerline/confirm-pipeline/internal/canonical"
	"github.com/ledgerline/confirm-pipeline/internal/domain"
	"github.com/ledgerline/confirm-pipeline/internal/extraction"
	"github.com/ledgerline/confirm-pipeline/internal/logger"
	"github.com/ledgerline/confirm-pipeline/internal/matching"
	"github.com/ledgerline/confirm-pipeline/internal/store"
	"github.com/ledgerline/confirm-pipeline/internal/store/schema"
)

// Config holds the worker configuration
type Config struct {
	StreamName        string
	ConsumerName      string
	AckWaitTimeout    time.Duration
	MaxDeliver        int
	PoolSize          int
	QueueSize         int
	ExtractionTimeout time.Duration
	Matching          matching.Config
	// Owner identifies this worker instance in ledger claims
	Owner string
}

// supportedTypes are the document content types the extraction service
// accepts. Anything else is recorded as skipped, not failed; the skip reason
// names the sniffed type for triage, and the backstop retries the document
// only while it is under the retry cap.
var supportedTypes = []string{
	"application/pdf",
	"text/plain",
	"text/csv",
	"text/html",
}

// Worker consumes candidates from JetStream and runs each through the
// pipeline: claim, fetch, extract, canonicalize, match, finalize, archive.
type Worker struct {
	config    Config
	js        adapter.JetStream
	store     store.Store
	blobs     blob.Store
	extractor extraction.Client
	archiver  *archiver.Archiver
	json      adapter.JSON
	clock     adapter.Clock
}

// NewWorker creates a new pipeline worker
func NewWorker(
	cfg Config,
	js adapter.JetStream,
	st store.Store,
	blobs blob.Store,
	extractor extraction.Client,
	arch *archiver.Archiver,
	jsonAdapter adapter.JSON,
	clock adapter.Clock,
) *Worker {
	return &Worker{
		config:    cfg,
		js:        js,
		store:     st,
		blobs:     blobs,
		extractor: extractor,
		archiver:  arch,
		json:      jsonAdapter,
		clock:     clock,
	}
}

// Run consumes candidates until the context is canceled
func (w *Worker) Run(ctx context.Context) error {
	logger.Info("Starting pipeline worker",
		zap.String("stream", w.config.StreamName),
		zap.String("consumer", w.config.ConsumerName),
		zap.Int("pool_size", w.config.PoolSize),
	)

	consumer, err := w.js.CreateOrUpdateConsumer(ctx, w.config.StreamName, jetstream.ConsumerConfig{
		Durable:       w.config.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       w.config.AckWaitTimeout,
		MaxDeliver:    w.config.MaxDeliver,
		FilterSubject: "candidates.>",
	})
	if err != nil {
		return fmt.Errorf("failed to create/update consumer: %w", err)
	}

	pool := pond.NewPool(
		w.config.PoolSize,
		pond.WithQueueSize(w.config.QueueSize),
		pond.WithContext(ctx),
	)

	sub, err := consumer.Consume(func(msg adapter.Message) {
		pool.Submit(func() {
			w.HandleMessage(ctx, msg)
		})
	})
	if err != nil {
		pool.StopAndWait()
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	logger.Info("Started consuming candidates")

	<-ctx.Done()

	logger.Info("Shutting down pipeline worker")
	sub.Drain()
	pool.StopAndWait()

	return ctx.Err()
}

// HandleMessage processes a single candidate message. The ack decision
// follows the ledger: once a claim outcome is recorded in the database the
// message is acked regardless of processing result, because retry is driven
// by the backstop scan and orphan sweep, not by broker redelivery.
func (w *Worker) HandleMessage(ctx context.Context, msg adapter.Message) {
	var candidate domain.Candidate
	if err := w.json.Unmarshal(msg.Data(), &candidate); err != nil {
		logger.Error(err, zap.String("message", "Failed to unmarshal candidate"))
		if err := msg.Term(); err != nil {
			logger.Error(err, zap.String("message", "Failed to terminate message"))
		}
		return
	}

	if err := w.process(ctx, &candidate); err != nil {
		logger.Error(err,
			zap.String("external_key", candidate.ExternalKey),
			zap.String("channel", string(candidate.Channel)),
		)
		if err := msg.Nak(); err != nil {
			logger.Error(err, zap.String("message", "Failed to NAK message"))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		logger.Error(err, zap.String("message", "Failed to ACK message"))
	}
}

// process runs one candidate through the pipeline. A returned error means
// the claim outcome could not be recorded and the message should redeliver;
// every failure after a successful claim is finalized in the ledger instead.
func (w *Worker) process(ctx context.Context, candidate *domain.Candidate) error {
	record, owned, err := w.store.ClaimIngestion(ctx, store.ClaimInput{
		Candidate: candidate,
		Owner:     w.config.Owner,
		Now:       w.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to claim ingestion: %w", err)
	}
	if !owned {
		// Duplicate delivery or another worker's claim; both expected
		logger.Debug("Candidate not claimable",
			zap.String("external_key", candidate.ExternalKey),
			zap.String("channel", string(candidate.Channel)),
		)
		return nil
	}

	logger.Info("Claimed candidate",
		zap.String("external_key", candidate.ExternalKey),
		zap.String("channel", string(candidate.Channel)),
		zap.Int("retry_count", record.RetryCount),
	)

	doc, err := w.blobs.Fetch(ctx, candidate.Locator)
	if err != nil {
		return w.finalizeFailure(ctx, candidate.ExternalKey, fmt.Errorf("failed to fetch document: %w", err))
	}

	contentType := mimetype.Detect(doc)
	if !supported(contentType) {
		logger.Warn("Skipping unsupported document type",
			zap.String("external_key", candidate.ExternalKey),
			zap.String("content_type", contentType.String()),
		)
		if err := w.store.FinalizeSkipped(ctx, candidate.ExternalKey,
			fmt.Sprintf("unsupported content type: %s", contentType.String())); err != nil {
			return fmt.Errorf("failed to finalize skip: %w", err)
		}
		return nil
	}

	extractCtx, cancel := context.WithTimeout(ctx, w.config.ExtractionTimeout)
	trades, err := w.extractor.Extract(extractCtx, doc, contentType.String())
	cancel()
	if err != nil {
		return w.finalizeFailure(ctx, candidate.ExternalKey, fmt.Errorf("extraction failed: %w", err))
	}

	result, err := w.recordTrades(ctx, record.ID, trades)
	if err != nil {
		return w.finalizeFailure(ctx, candidate.ExternalKey, err)
	}

	if err := w.store.FinalizeSuccess(ctx, candidate.ExternalKey, result.TradeCount); err != nil {
		return fmt.Errorf("failed to finalize success: %w", err)
	}

	logger.Info("Processed candidate",
		zap.String("external_key", candidate.ExternalKey),
		zap.Int("trade_count", result.TradeCount),
	)

	// Archiving is best effort: a failure here leaves a success row with a
	// null archived_path for the archive retry sweep to pick up
	w.archive(ctx, candidate, result.PrimaryFingerprint)

	return nil
}

// recordTrades canonicalizes and persists every extracted trade, running the
// matching waterfall for each trade that has no decision yet
func (w *Worker) recordTrades(ctx context.Context, recordID int64, trades []domain.ExtractedTrade) (domain.ProcessResult, error) {
	result := domain.ProcessResult{}

	for _, extracted := range trades {
		normalized := canonical.Normalize(extracted)

		fingerprint, err := canonical.Fingerprint(normalized)
		if err != nil {
			return result, fmt.Errorf("failed to fingerprint trade: %w", err)
		}

		trade, created, err := w.store.RecordTrade(ctx, store.RecordTradeInput{
			IngestionRecordID: recordID,
			Fingerprint:       fingerprint,
			Trade:             normalized,
		})
		if err != nil {
			return result, fmt.Errorf("failed to record trade: %w", err)
		}

		if result.PrimaryFingerprint == "" {
			result.PrimaryFingerprint = fingerprint
		}
		result.TradeCount++

		if !created {
			logger.Debug("Duplicate trade linked",
				zap.String("fingerprint", fingerprint),
				zap.Int64("trade_id", trade.ID),
			)
		}

		// Pending covers both fresh trades and trades whose earlier worker
		// crashed before recording a decision
		if trade.MatchStatus != schema.MatchStatusPending {
			continue
		}

		if err := w.match(ctx, trade); err != nil {
			return result, err
		}
	}

	return result, nil
}

// match runs the waterfall for one trade and persists the decision
func (w *Worker) match(ctx context.Context, trade *schema.Trade) error {
	candidates, err := w.store.ListPendingRequests(ctx, trade.HolderID)
	if err != nil {
		return fmt.Errorf("failed to list pending requests: %w", err)
	}

	decision := matching.Evaluate(trade, candidates, w.config.Matching)

	evidence, err := w.json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("failed to marshal match evidence: %w", err)
	}

	if err := w.store.SaveMatchDecision(ctx, store.SaveMatchDecisionInput{
		TradeID:          trade.ID,
		Outcome:          decision.Outcome,
		MatchedRequestID: decision.MatchedRequestID,
		Evidence:         evidence,
	}); err != nil {
		return fmt.Errorf("failed to save match decision: %w", err)
	}

	logger.Info("Match decision recorded",
		zap.Int64("trade_id", trade.ID),
		zap.String("outcome", string(decision.Outcome)),
		zap.Int("survivors", len(decision.Survivors)),
	)

	return nil
}

// archive moves the document to permanent storage and records its path
func (w *Worker) archive(ctx context.Context, candidate *domain.Candidate, fingerprint string) {
	path, err := w.archiver.Archive(ctx, archiver.Input{
		Locator:     candidate.Locator,
		Sender:      candidate.Sender,
		ExternalKey: candidate.ExternalKey,
		Fingerprint: fingerprint,
		ReceivedAt:  candidate.ReceivedAt,
	})
	if err != nil {
		logger.Warn("Failed to archive document",
			zap.String("external_key", candidate.ExternalKey),
			zap.Error(err),
		)
		return
	}

	if err := w.store.SetArchivedPath(ctx, candidate.ExternalKey, path); err != nil {
		logger.Warn("Failed to record archived path",
			zap.String("external_key", candidate.ExternalKey),
			zap.Error(err),
		)
	}
}

// finalizeFailure records a processing failure; a failure to record it is
// returned so the message redelivers
func (w *Worker) finalizeFailure(ctx context.Context, externalKey string, cause error) error {
	logger.Warn("Processing failed",
		zap.String("external_key", externalKey),
		zap.Error(cause),
	)

	if err := w.store.FinalizeFailure(ctx, externalKey, cause.Error()); err != nil {
		return fmt.Errorf("failed to finalize failure: %w", err)
	}

	return nil
}

// supported reports whether the detected type, or any of its parents, is in
// the supported set. Parents matter because mimetype resolves e.g. CSV as a
// subtype of text/plain.
func supported(detected *mimetype.MIME) bool {
	for _, want := range supportedTypes {
		for m := detected; m != nil; m = m.Parent() {
			if m.Is(want) {
				return true
			}
		}
	}
	return false
}
