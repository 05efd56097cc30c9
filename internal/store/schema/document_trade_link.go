package schema

import "time"

// DocumentTradeLink is the junction between an ingestion record and a
// canonical trade. Exactly one link per trade carries the primary flag: the
// document that first introduced the trade. Later documents confirming the
// same trade link with primary_link false, preserving full audit provenance
// without double-counting.
type DocumentTradeLink struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// IngestionRecordID references the source document
	IngestionRecordID int64 `gorm:"column:ingestion_record_id;not null;uniqueIndex:idx_document_trade,priority:1"`
	// TradeID references the canonical trade
	TradeID int64 `gorm:"column:trade_id;not null;uniqueIndex:idx_document_trade,priority:2"`
	// Primary marks the document that first introduced the trade. A partial
	// unique index enforces at most one primary link per trade.
	Primary bool `gorm:"column:primary_link;not null;default:false;index:idx_links_one_primary,unique,where:primary_link"`
	// Confidence is the extraction model's score for this document's reading
	// of the trade
	Confidence float64 `gorm:"column:confidence;not null;default:0"`
	// CreatedAt is when the link was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
}

// TableName specifies the table name for the DocumentTradeLink model
func (DocumentTradeLink) TableName() string {
	return "document_trade_links"
}
