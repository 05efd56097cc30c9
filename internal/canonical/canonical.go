// Package canonical derives the stable deduplication key for an extracted
// trade. Two documents describing the same execution must fingerprint
// identically regardless of formatting differences between them, so all
// attributes are normalized before hashing.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/ledgerline/confirm-pipeline/internal/domain"
)

// fingerprintTuple is the exact attribute set hashed when no broker
// reference exists. Field order does not matter: the JSON is canonicalized
// per RFC 8785 before hashing.
type fingerprintTuple struct {
	Broker    string `json:"broker"`
	HolderID  string `json:"holder_id"`
	TradeDate string `json:"trade_date"`
	Security  string `json:"security"`
	Direction string `json:"direction"`
	Quantity  string `json:"quantity"`
	Price     string `json:"price"`
	Currency  string `json:"currency"`
}

// Normalize returns a copy of the trade with formatting differences removed:
// identifiers trimmed and uppercased, the direction lowercased, the trade
// date truncated to a UTC calendar date, and pence-quoted sterling (GBX/GBp)
// converted to pounds.
func Normalize(t domain.ExtractedTrade) domain.ExtractedTrade {
	n := t

	n.BrokerRef = strings.ToUpper(strings.TrimSpace(t.BrokerRef))
	n.Broker = strings.ToUpper(strings.TrimSpace(t.Broker))
	n.HolderID = strings.TrimSpace(t.HolderID)
	n.ISIN = strings.ToUpper(strings.TrimSpace(t.ISIN))
	n.Sedol = strings.ToUpper(strings.TrimSpace(t.Sedol))
	n.Ticker = strings.ToUpper(strings.TrimSpace(t.Ticker))
	n.Venue = strings.ToUpper(strings.TrimSpace(t.Venue))
	n.Direction = domain.Direction(strings.ToLower(strings.TrimSpace(string(t.Direction))))
	n.Currency = strings.ToUpper(strings.TrimSpace(t.Currency))
	n.TradeDate = t.TradeDate.UTC().Truncate(24 * time.Hour)

	// Sterling is often quoted in pence on contract notes
	if isPence(t.Currency) {
		n.Currency = "GBP"
		n.Price = t.Price / 100
	}

	return n
}

// isPence reports whether the currency code is a pence quotation of
// sterling: GBX in any case, or the conventional mixed-case GBp. A case fold
// on GBp would also swallow GBP itself, which is pounds and must pass
// through untouched.
func isPence(code string) bool {
	code = strings.TrimSpace(code)
	return strings.EqualFold(code, "GBX") || code == "GBp"
}

// Fingerprint derives the deduplication key for a normalized trade. A
// broker-assigned reference wins outright; otherwise the key is a SHA-256
// over the RFC 8785 canonical form of the normalized attribute tuple.
func Fingerprint(t domain.ExtractedTrade) (string, error) {
	if t.BrokerRef != "" {
		return "ref:" + t.BrokerRef, nil
	}

	tuple := fingerprintTuple{
		Broker:    t.Broker,
		HolderID:  t.HolderID,
		TradeDate: t.TradeDate.Format("2006-01-02"),
		Security:  securityKey(t),
		Direction: string(t.Direction),
		Quantity:  formatAmount(t.Quantity),
		Price:     formatAmount(t.Price),
		Currency:  t.Currency,
	}

	raw, err := json.Marshal(tuple)
	if err != nil {
		return "", fmt.Errorf("failed to marshal fingerprint tuple: %w", err)
	}

	canonicalized, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize fingerprint tuple: %w", err)
	}

	sum := sha256.Sum256(canonicalized)
	return hex.EncodeToString(sum[:]), nil
}

// securityKey picks the strongest identifier present on the trade
func securityKey(t domain.ExtractedTrade) string {
	switch {
	case t.ISIN != "":
		return "isin:" + t.ISIN
	case t.Sedol != "":
		return "sedol:" + t.Sedol
	default:
		return "ticker:" + t.Ticker + "@" + t.Venue
	}
}

// formatAmount renders a number with the shortest exact representation, so
// 100 and 100.0 fingerprint identically
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
