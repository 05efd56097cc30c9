// Package extraction wraps the external document-understanding service. The
// service is treated as opaque and possibly slow or unavailable: calls carry
// bounded timeouts, transient failures are retried with backoff inside the
// HTTP adapter, and anything left over surfaces as an error the pipeline
// records as a retryable failure.
package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerline/confirm-pipeline/internal/adapter"
	"github.com/ledgerline/confirm-pipeline/internal/domain"
)

// Config holds extraction service configuration
type Config struct {
	// URL is the extraction endpoint
	URL string
	// APIKey authenticates this pipeline to the service
	APIKey string
	// Timeout bounds a single extraction call end to end
	Timeout time.Duration
}

// Client defines the interface for the extraction service
//
//go:generate mockgen -source=client.go -destination=../mocks/extraction.go -package=mocks -mock_names=Client=MockExtractionClient
type Client interface {
	// Extract returns zero or more structured trade records for the given
	// document bytes, or an explicit error
	Extract(ctx context.Context, doc []byte, contentType string) ([]domain.ExtractedTrade, error)
}

// wireTrade is the service's JSON shape for one extracted trade
type wireTrade struct {
	BrokerRef  string  `json:"broker_ref"`
	Broker     string  `json:"broker"`
	HolderID   string  `json:"account_holder_id"`
	ISIN       string  `json:"isin"`
	Sedol      string  `json:"sedol"`
	Ticker     string  `json:"ticker"`
	Venue      string  `json:"venue"`
	Direction  string  `json:"direction"`
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"`
	Currency   string  `json:"currency"`
	TradeDate  string  `json:"trade_date"`
	Confidence float64 `json:"confidence"`
}

type wireResponse struct {
	Trades []wireTrade `json:"trades"`
}

type httpClient struct {
	config Config
	http   adapter.HTTPClient
	json   adapter.JSON
}

// NewClient creates an extraction client backed by the HTTP adapter
func NewClient(cfg Config, http adapter.HTTPClient, jsonAdapter adapter.JSON) Client {
	return &httpClient{
		config: cfg,
		http:   http,
		json:   jsonAdapter,
	}
}

// Extract posts the document bytes and decodes the structured trades
func (c *httpClient) Extract(ctx context.Context, doc []byte, contentType string) ([]domain.ExtractedTrade, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	headers := map[string]string{
		"Authorization": "Bearer " + c.config.APIKey,
		"Accept":        "application/json",
	}

	body, err := c.http.Post(ctx, c.config.URL, contentType, headers, doc)
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}

	var resp wireResponse
	if err := c.json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode extraction response: %w", err)
	}

	trades := make([]domain.ExtractedTrade, 0, len(resp.Trades))
	for i, wt := range resp.Trades {
		tradeDate, err := time.Parse("2006-01-02", wt.TradeDate)
		if err != nil {
			return nil, fmt.Errorf("invalid trade_date %q in extraction record %d: %w", wt.TradeDate, i, err)
		}

		trades = append(trades, domain.ExtractedTrade{
			BrokerRef:  wt.BrokerRef,
			Broker:     wt.Broker,
			HolderID:   wt.HolderID,
			ISIN:       wt.ISIN,
			Sedol:      wt.Sedol,
			Ticker:     wt.Ticker,
			Venue:      wt.Venue,
			Direction:  domain.Direction(wt.Direction),
			Quantity:   wt.Quantity,
			Price:      wt.Price,
			Currency:   wt.Currency,
			TradeDate:  tradeDate,
			Confidence: wt.Confidence,
		})
	}

	return trades, nil
}
