package schema

import (
	"time"

	"github.com/ledgerline/confirm-pipeline/internal/domain"
)

// RequestStatus is the lifecycle state of a pending trading request. Only
// rows in the pending state are matching candidates.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusExecuted  RequestStatus = "executed"
	RequestStatusCancelled RequestStatus = "cancelled"
)

// PendingRequest is a trading request awaiting execution evidence. The table
// is owned by the upstream request workflow; this pipeline only ever reads
// it, scoped to one account holder.
type PendingRequest struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey"`
	// HolderID is the account holder the request belongs to
	HolderID string `gorm:"column:holder_id;not null;index"`

	// Security identifiers, strongest first
	ISIN   string `gorm:"column:isin;not null;default:'';type:text"`
	Sedol  string `gorm:"column:sedol;not null;default:'';type:text"`
	Ticker string `gorm:"column:ticker;not null;default:'';type:text"`
	Venue  string `gorm:"column:venue;not null;default:'';type:text"`

	Direction domain.Direction `gorm:"column:direction;not null;type:text"`
	Quantity  float64          `gorm:"column:quantity;not null"`
	// EstimatedPrice is the expected execution price used by the economics gate
	EstimatedPrice float64 `gorm:"column:estimated_price;not null"`
	Currency       string  `gorm:"column:currency;not null;default:'';type:text"`

	Status    RequestStatus `gorm:"column:status;not null;type:text;index"`
	CreatedAt time.Time     `gorm:"column:created_at;not null;default:now()"`
}

// TableName specifies the table name for the PendingRequest model
func (PendingRequest) TableName() string {
	return "pending_requests"
}
