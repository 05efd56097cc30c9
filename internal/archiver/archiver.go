package archiver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ledgerline/confirm-pipeline/internal/adapter"
	"github.com/ledgerline/confirm-pipeline/internal/blob"
)

var (
	senderUnsafe = regexp.MustCompile(`[^a-z0-9.@_-]+`)
	nameUnsafe   = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// Archiver relocates processed source documents into a date-partitioned
// archive layout so the intake location only holds unprocessed work.
type Archiver struct {
	store  blob.Store
	clock  adapter.Clock
	prefix string
}

// Input describes one processed document to archive.
type Input struct {
	Locator     string
	Sender      string
	ExternalKey string
	// ReceivedAt drives the date partition. Using the receipt time instead
	// of the archive time keeps the path stable when an archive retry runs
	// on a later day.
	ReceivedAt time.Time

	// Fingerprint of the primary extracted trade. May be empty when
	// extraction produced none, in which case the external key drives
	// the archive name.
	Fingerprint string
}

func New(store blob.Store, clock adapter.Clock, prefix string) *Archiver {
	return &Archiver{
		store:  store,
		clock:  clock,
		prefix: prefix,
	}
}

// Archive moves the document to its archive path and returns that path.
// Re-archiving the same document is a no-op returning the same path, so a
// retry after a crash between the move and the ledger update converges.
func (a *Archiver) Archive(ctx context.Context, in Input) (string, error) {
	dst := a.Path(in)

	exists, err := a.store.Exists(ctx, dst)
	if err != nil {
		return "", fmt.Errorf("failed to check archive path: %w", err)
	}
	if exists {
		return dst, nil
	}

	if err := a.store.Move(ctx, in.Locator, dst); err != nil {
		return "", fmt.Errorf("failed to archive %q: %w", in.Locator, err)
	}

	return dst, nil
}

// Path computes the deterministic archive location for a document
func (a *Archiver) Path(in Input) string {
	when := in.ReceivedAt
	if when.IsZero() {
		when = a.clock.Now()
	}
	when = when.UTC()

	id := nameUnsafe.ReplaceAllString(in.Fingerprint, "-")
	if id == "" {
		sum := sha256.Sum256([]byte(in.ExternalKey))
		id = hex.EncodeToString(sum[:])
	}

	return path.Join(
		a.prefix,
		encodeSender(in.Sender),
		when.Format("2006/01/02"),
		id+filepath.Ext(in.Locator),
	)
}

// encodeSender makes a sender identity safe for use as a path segment
func encodeSender(sender string) string {
	s := senderUnsafe.ReplaceAllString(strings.ToLower(strings.TrimSpace(sender)), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "unknown"
	}
	return s
}
