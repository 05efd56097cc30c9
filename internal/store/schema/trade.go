package schema

import (
	"time"

	"github.com/ledgerline/confirm-pipeline/internal/domain"
)

// MatchStatus is the match-outcome pointer on a canonical trade
type MatchStatus string

const (
	// MatchStatusPending means the matching waterfall has not yet produced a
	// decision for this trade
	MatchStatusPending MatchStatus = "pending"
	// MatchStatusMatched means exactly one pending request survived
	MatchStatusMatched MatchStatus = "matched"
	// MatchStatusUnmatched means no request survived; the trade stands alone
	// and is flagged for manual review
	MatchStatusUnmatched MatchStatus = "unmatched"
	// MatchStatusAmbiguous means more than one request survived; resolution
	// is left to a human
	MatchStatusAmbiguous MatchStatus = "ambiguous"
)

// Trade is the canonical, deduplicated record of one real-world executed
// trade. Uniqueness is enforced on the fingerprint, never on the document:
// two documents confirming the same execution collapse onto one row. Apart
// from the match-outcome pointer the row is immutable after creation.
type Trade struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Fingerprint is the deduplication key: the broker reference when one
	// exists, otherwise a hash over the normalized trade attributes
	Fingerprint string `gorm:"column:fingerprint;not null;uniqueIndex;type:text"`
	// BrokerRef is the broker-assigned execution reference, when present
	BrokerRef *string `gorm:"column:broker_ref;type:text"`
	// Broker is the executing broker identity
	Broker string `gorm:"column:broker;not null;default:'';type:text"`
	// HolderID is the account holder the trade belongs to
	HolderID string `gorm:"column:holder_id;not null;index;type:text"`

	// Security identifiers, strongest first
	ISIN   string `gorm:"column:isin;not null;default:'';type:text"`
	Sedol  string `gorm:"column:sedol;not null;default:'';type:text"`
	Ticker string `gorm:"column:ticker;not null;default:'';type:text"`
	Venue  string `gorm:"column:venue;not null;default:'';type:text"`

	Direction domain.Direction `gorm:"column:direction;not null;type:text"`
	Quantity  float64          `gorm:"column:quantity;not null"`
	Price     float64          `gorm:"column:price;not null"`
	Currency  string           `gorm:"column:currency;not null;default:'';type:text"`
	TradeDate time.Time        `gorm:"column:trade_date;not null;type:date"`

	// MatchStatus and MatchedRequestID form the match-outcome pointer, set
	// exactly once by the matching waterfall
	MatchStatus MatchStatus `gorm:"column:match_status;not null;default:'pending';type:text;index"`
	// MatchedRequestID points at the matched pending request, when matched
	MatchedRequestID *int64 `gorm:"column:matched_request_id"`

	// CreatedAt is when the canonical trade was first introduced
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`

	// Associations
	Links     []DocumentTradeLink `gorm:"foreignKey:TradeID;constraint:OnDelete:CASCADE"`
	Decisions []MatchDecision     `gorm:"foreignKey:TradeID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Trade model
func (Trade) TableName() string {
	return "trades"
}
