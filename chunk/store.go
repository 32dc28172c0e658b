// Package chunk implements the content-addressed chunk store: the leaf
// dependency of the backup ingestion core. A Store persists compressed
// blobs keyed by their 32-byte digest and is expected to be safe for
// concurrent use — the backup package never re-synchronizes around it.
package chunk

import (
	"context"

	"github.com/vaultkeep/backupcore/hash"
)

// InsertResult distinguishes a first write of a digest from a write that
// found matching content already present.
type InsertResult int

const (
	// Inserted means the chunk's bytes were newly written.
	Inserted InsertResult = iota
	// Duplicate means a chunk with this digest already existed; the
	// supplied bytes were discarded.
	Duplicate
)

// Store is the narrow contract the ingestion core requires from the chunk
// store. Implementations never re-verify the digest of a chunk they already
// know about — that integrity check is the store's responsibility alone,
// per spec: the core trusts Has/Insert results without re-hashing.
type Store interface {
	// Insert writes compressed (the already-compressed payload) under
	// digest if not already present, and reports whether it was new and
	// its on-disk (compressed) length.
	Insert(ctx context.Context, digest hash.Hash, compressed []byte) (InsertResult, int, error)

	// Has reports whether digest is already stored.
	Has(ctx context.Context, digest hash.Hash) (bool, error)
}
