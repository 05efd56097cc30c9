package domain

import "errors"

var (
	// ErrIngestionNotFound is returned when no ledger row exists for a key
	ErrIngestionNotFound = errors.New("ingestion record not found")

	// ErrTradeNotFound is returned when a trade is not found
	ErrTradeNotFound = errors.New("trade not found")

	// ErrUnsupportedDocument is returned when document bytes are not a
	// recognized confirmation format
	ErrUnsupportedDocument = errors.New("unsupported document type")
)
