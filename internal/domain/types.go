package domain

import (
	"fmt"
	"time"
)

// Channel identifies which delivery channel produced a candidate
type Channel string

const (
	// ChannelPush is the push-notification delivery channel
	ChannelPush Channel = "push"
	// ChannelBackstop is the scheduled scan of the intake storage location
	ChannelBackstop Channel = "backstop"
)

// Direction is the side of an executed trade
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Candidate is the canonical unit of work produced by the intake router.
// Both delivery channels normalize into this shape before enqueuing.
type Candidate struct {
	// ID is a ULID assigned at intake time, used for tracing only
	ID string `json:"id"`
	// ExternalKey uniquely identifies the physical document across both
	// channels. When the blob store exposes an object generation the key is
	// derived from it, so push and backstop deliveries of the same object
	// collapse onto one ledger row.
	ExternalKey string `json:"external_key"`
	// Channel records which producer enqueued this candidate
	Channel Channel `json:"channel"`
	// Locator addresses the document bytes in the intake location
	Locator string `json:"locator"`
	// Sender is the delivery source identity (e.g. originating mailbox)
	Sender string `json:"sender"`
	// ReceivedAt is when the document arrived at the delivery source
	ReceivedAt time.Time `json:"received_at"`
}

// ObjectExternalKey derives the channel-independent external key for a stored
// object with a known generation identifier.
func ObjectExternalKey(locator, generation string) string {
	return fmt.Sprintf("object:%s#%s", locator, generation)
}

// PushExternalKey derives the external key for a push notification that does
// not carry an object generation. It is unique per delivery message only.
func PushExternalKey(messageID string) string {
	return fmt.Sprintf("push:%s", messageID)
}

// ExtractedTrade is one structured trade record returned by the extraction
// service for a document. It is not yet canonical: formatting differences
// between documents are removed by the canonical package before hashing.
type ExtractedTrade struct {
	// BrokerRef is the broker-assigned execution reference, when present.
	// A non-empty reference takes precedence over the derived fingerprint.
	BrokerRef string `json:"broker_ref"`
	// Broker is the executing broker identity
	Broker string `json:"broker"`
	// HolderID is the already-resolved account holder identifier
	HolderID string `json:"holder_id"`

	// Security identifiers, strongest first
	ISIN   string `json:"isin"`
	Sedol  string `json:"sedol"`
	Ticker string `json:"ticker"`
	Venue  string `json:"venue"`

	Direction Direction `json:"direction"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Currency  string    `json:"currency"`
	TradeDate time.Time `json:"trade_date"`

	// Confidence is the extraction model's score for this record
	Confidence float64 `json:"confidence"`
}

// ProcessResult summarizes one successfully processed document for the ledger
type ProcessResult struct {
	TradeCount int
	// PrimaryFingerprint is the fingerprint of the first trade the document
	// introduced, used for deterministic archive naming. Empty when the
	// document yielded no trades.
	PrimaryFingerprint string
}
