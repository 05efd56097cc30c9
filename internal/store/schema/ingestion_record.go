package schema

import (
	"time"

	"github.com/ledgerline/confirm-pipeline/internal/domain"
)

// IngestionStatus represents the processing state of an ingestion record
type IngestionStatus string

const (
	// IngestionStatusProcessing means a worker currently owns the document
	IngestionStatusProcessing IngestionStatus = "processing"
	// IngestionStatusSuccess is terminal: the document was fully processed
	IngestionStatusSuccess IngestionStatus = "success"
	// IngestionStatusFailed means processing failed and may be retried
	IngestionStatusFailed IngestionStatus = "failed"
	// IngestionStatusSkipped means the document was recognized but not
	// processable (e.g. unsupported content type); claimable again while
	// under the retry cap
	IngestionStatusSkipped IngestionStatus = "skipped"
)

// IngestionRecord is one row per externally-identified document. It is the
// idempotency and ownership authority: the unique external_key is what
// collapses duplicate deliveries across the push and backstop channels.
// Rows are created on first claim and never deleted.
type IngestionRecord struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// ExternalKey uniquely identifies the physical document
	ExternalKey string `gorm:"column:external_key;not null;uniqueIndex;type:text"`
	// Channel records which delivery channel first claimed the document
	Channel domain.Channel `gorm:"column:channel;not null;type:text"`
	// Locator addresses the document bytes in the intake location
	Locator string `gorm:"column:locator;not null;type:text"`
	// Sender is the delivery source identity
	Sender string `gorm:"column:sender;not null;default:'';type:text"`
	// Status is the processing state; monotonic except for the explicit
	// failed/skipped -> processing retry transition
	Status IngestionStatus `gorm:"column:status;not null;type:text;index"`
	// Owner identifies the worker holding the claim
	Owner string `gorm:"column:owner;not null;default:'';type:text"`
	// RetryCount counts failed and skipped attempts, not orphan resets
	RetryCount int `gorm:"column:retry_count;not null;default:0"`
	// ErrorDetail holds the last failure or skip reason
	ErrorDetail string `gorm:"column:error_detail;not null;default:'';type:text"`
	// TradeCount is the number of trades the document yielded
	TradeCount int `gorm:"column:trade_count;not null;default:0"`
	// ArchivedPath is set once the bytes reach permanent storage. A success
	// row with a null path is picked up by the archive retry sweep.
	ArchivedPath *string `gorm:"column:archived_path;type:text"`
	// ReceivedAt is when the document arrived at the delivery source
	ReceivedAt time.Time `gorm:"column:received_at;not null"`
	// ClaimedAt is when the current owner claimed the document. The orphan
	// sweep measures elapsed time from this timestamp.
	ClaimedAt time.Time `gorm:"column:claimed_at;not null"`
	// FinalizedAt is when the record reached a terminal outcome
	FinalizedAt *time.Time `gorm:"column:finalized_at"`
	// CreatedAt is when the row was first created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`

	// Associations
	Links []DocumentTradeLink `gorm:"foreignKey:IngestionRecordID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the IngestionRecord model
func (IngestionRecord) TableName() string {
	return "ingestion_records"
}
