// Package blob abstracts the document storage the pipeline reads from and
// archives into. The interface is the seam where an object store (S3, GCS)
// would slot in; the shipped implementation is a filesystem root.
package blob

import (
	"context"
	"time"
)

// Object describes one stored document
type Object struct {
	// Locator addresses the object within the store
	Locator string
	// Generation identifies the object content version. When the backing
	// store exposes a real generation it is a stronger dedup signal than any
	// delivery message id.
	Generation string
	// Size is the object size in bytes
	Size int64
	// ModTime is the object's last modification time
	ModTime time.Time
}

// Store defines the blob store contract: list for the backstop scan, fetch
// for processing, move for archival
//
//go:generate mockgen -source=blob.go -destination=../mocks/blob.go -package=mocks -mock_names=Store=MockBlobStore
type Store interface {
	// List returns the objects under a prefix
	List(ctx context.Context, prefix string) ([]Object, error)

	// Fetch returns the object bytes
	Fetch(ctx context.Context, locator string) ([]byte, error)

	// Exists reports whether an object is present
	Exists(ctx context.Context, locator string) (bool, error)

	// Move relocates an object, creating intermediate locations as needed.
	// Implementations use copy-then-delete so a crash cannot lose bytes.
	Move(ctx context.Context, src, dst string) error
}
