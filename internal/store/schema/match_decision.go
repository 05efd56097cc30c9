package schema

import (
	"time"

	"gorm.io/datatypes"
)

// MatchDecision is the append-only audit record of one matching attempt. It
// captures the outcome, the surviving candidates and, per eliminated
// candidate, which gate removed it. Rows are never updated or deleted; this
// is the evidentiary trail a downstream audit view renders.
type MatchDecision struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// TradeID references the canonical trade that was matched
	TradeID int64 `gorm:"column:trade_id;not null;index"`
	// Outcome is matched, unmatched or ambiguous
	Outcome MatchStatus `gorm:"column:outcome;not null;type:text;index"`
	// MatchedRequestID is set only when the outcome is matched
	MatchedRequestID *int64 `gorm:"column:matched_request_id"`
	// Evidence holds survivors with their compared values and eliminations
	// with the single gate that removed each candidate
	Evidence datatypes.JSON `gorm:"column:evidence;not null"`
	// CreatedAt is when the attempt ran
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
}

// TableName specifies the table name for the MatchDecision model
func (MatchDecision) TableName() string {
	return "match_decisions"
}
