// Package matching decides whether a canonical trade corresponds to exactly
// one pending trading request for the same account holder. The decision runs
// an ordered sequence of gates that only ever narrow the candidate set; a
// trade that cannot be narrowed to exactly one survivor is routed to
// unmatched or ambiguous, never guessed.
package matching

import (
	"fmt"
	"math"

	"github.com/ledgerline/confirm-pipeline/internal/store/schema"
)

// Gate names one ordered, non-skippable filtering step
type Gate string

const (
	// GateDirection discards candidates on the wrong side of the trade
	GateDirection Gate = "direction"
	// GateSecurity discards candidates that do not resolve to the same
	// instrument
	GateSecurity Gate = "security"
	// GateEconomics discards candidates whose quantity or estimated value
	// does not line up with the execution
	GateEconomics Gate = "economics"
)

// Config holds matching parameters
type Config struct {
	// ValueTolerance is the allowed relative difference between a request's
	// estimated value and the executed value, e.g. 0.01 for 1%. It absorbs
	// currency and rounding drift; wrong-instrument matches are already
	// excluded by the security gate.
	ValueTolerance float64
}

// Elimination records why one candidate was discarded: the single gate that
// removed it. Candidates eliminated at an earlier gate are never evaluated at
// later ones, so exactly one gate appears per eliminated candidate.
type Elimination struct {
	RequestID int64  `json:"request_id"`
	Gate      Gate   `json:"gate"`
	Reason    string `json:"reason"`
}

// Survivor records a candidate that passed every gate, with the values the
// economics gate compared. When more than one survives these are the tie the
// human resolver sees.
type Survivor struct {
	RequestID      int64   `json:"request_id"`
	EstimatedValue float64 `json:"estimated_value"`
	ExecutedValue  float64 `json:"executed_value"`
}

// Decision is the full outcome of one waterfall run
type Decision struct {
	Outcome          schema.MatchStatus `json:"outcome"`
	MatchedRequestID *int64             `json:"matched_request_id,omitempty"`
	Survivors        []Survivor         `json:"survivors"`
	Eliminations     []Elimination      `json:"eliminations"`
}

// Evaluate runs the waterfall for one canonical trade against the holder's
// pending requests. It is pure and deterministic: the same trade and
// candidate set always produce the same decision and the same evidence.
func Evaluate(trade *schema.Trade, candidates []*schema.PendingRequest, cfg Config) Decision {
	decision := Decision{
		Survivors:    []Survivor{},
		Eliminations: []Elimination{},
	}

	executedValue := trade.Price * trade.Quantity

	// Gate 1: direction. Never coerced or inferred.
	var afterDirection []*schema.PendingRequest
	for _, cand := range candidates {
		if cand.Direction != trade.Direction {
			decision.Eliminations = append(decision.Eliminations, Elimination{
				RequestID: cand.ID,
				Gate:      GateDirection,
				Reason:    fmt.Sprintf("request direction %s, trade direction %s", cand.Direction, trade.Direction),
			})
			continue
		}
		afterDirection = append(afterDirection, cand)
	}

	// Gate 2: security identity, strongest common identifier first
	var afterSecurity []*schema.PendingRequest
	for _, cand := range afterDirection {
		if reason := securityMismatch(trade, cand); reason != "" {
			decision.Eliminations = append(decision.Eliminations, Elimination{
				RequestID: cand.ID,
				Gate:      GateSecurity,
				Reason:    reason,
			})
			continue
		}
		afterSecurity = append(afterSecurity, cand)
	}

	// Gate 3: economics. Quantity must match exactly; the estimated value
	// may drift within the configured tolerance.
	for _, cand := range afterSecurity {
		estimatedValue := cand.EstimatedPrice * cand.Quantity

		if cand.Quantity != trade.Quantity {
			decision.Eliminations = append(decision.Eliminations, Elimination{
				RequestID: cand.ID,
				Gate:      GateEconomics,
				Reason:    fmt.Sprintf("request quantity %s, trade quantity %s", formatQty(cand.Quantity), formatQty(trade.Quantity)),
			})
			continue
		}

		if !withinTolerance(estimatedValue, executedValue, cfg.ValueTolerance) {
			decision.Eliminations = append(decision.Eliminations, Elimination{
				RequestID: cand.ID,
				Gate:      GateEconomics,
				Reason:    fmt.Sprintf("estimated value %.4f outside tolerance of executed value %.4f", estimatedValue, executedValue),
			})
			continue
		}

		decision.Survivors = append(decision.Survivors, Survivor{
			RequestID:      cand.ID,
			EstimatedValue: estimatedValue,
			ExecutedValue:  executedValue,
		})
	}

	switch len(decision.Survivors) {
	case 1:
		decision.Outcome = schema.MatchStatusMatched
		id := decision.Survivors[0].RequestID
		decision.MatchedRequestID = &id
	case 0:
		// The trade stands alone, flagged for manual review
		decision.Outcome = schema.MatchStatusUnmatched
	default:
		// Never auto-resolved: the tie is recorded for human resolution
		decision.Outcome = schema.MatchStatusAmbiguous
	}

	return decision
}

// securityMismatch reports why the candidate does not resolve to the trade's
// instrument, or empty when it does. Comparison uses the strongest identifier
// present on both sides; ticker+venue is consulted only when neither side
// carries a strong identifier. A strong identifier on one side only cannot be
// verified against the other, which is a mismatch, not a guess.
func securityMismatch(trade *schema.Trade, cand *schema.PendingRequest) string {
	switch {
	case trade.ISIN != "" && cand.ISIN != "":
		if trade.ISIN != cand.ISIN {
			return fmt.Sprintf("ISIN %s does not match %s", cand.ISIN, trade.ISIN)
		}
		return ""

	case trade.Sedol != "" && cand.Sedol != "":
		if trade.Sedol != cand.Sedol {
			return fmt.Sprintf("SEDOL %s does not match %s", cand.Sedol, trade.Sedol)
		}
		return ""

	case trade.ISIN == "" && trade.Sedol == "" && cand.ISIN == "" && cand.Sedol == "":
		if trade.Ticker != cand.Ticker || trade.Venue != cand.Venue {
			return fmt.Sprintf("ticker %s@%s does not match %s@%s", cand.Ticker, cand.Venue, trade.Ticker, trade.Venue)
		}
		return ""

	default:
		return "no common security identifier"
	}
}

// withinTolerance checks the relative difference between the estimated and
// executed values
func withinTolerance(estimated, executed, tolerance float64) bool {
	if estimated == executed {
		return true
	}
	if executed == 0 {
		return false
	}

	return math.Abs(estimated-executed) <= tolerance*math.Abs(executed)
}

func formatQty(v float64) string {
	return fmt.Sprintf("%g", v)
}
