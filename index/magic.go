// Package index implements the two on-disk index writer shapes: dynamic
// (content-defined chunking, offsets emergent) and fixed (block-aligned,
// position known up front). Both are append-only files with a UUID header
// and a checksummed trailer; Close is the only durability barrier.
package index

// DidxMagic tags a dynamic index file. The byte sequence is carried forward
// unchanged from the wire format already in use by the rest of this
// ecosystem's dedup clients (grounded on the DIDX_MAGIC constant in
// sonroyaalmerol/pbs-plus's chunk_state.go), so an index written here is
// byte-compatible with existing readers.
var DidxMagic = [8]byte{28, 145, 78, 165, 25, 186, 179, 205}

// FidxMagic tags a fixed index file. No existing reader's magic was
// available to mirror for the fixed-index case, so this follows the same
// construction the dynamic magic uses (a distinguishing byte sequence, not
// a human-readable string, matching the binary-header convention spec.md
// §6 describes for both index formats).
var FidxMagic = [8]byte{35, 145, 78, 165, 25, 186, 179, 205}

// headerSize is the fixed on-disk size of both index headers, padded so
// that digest records start at a page-aligned offset (spec.md §6: "4096-byte
// header").
const headerSize = 4096

// digestSize is the width of a stored chunk digest.
const digestSize = 32

// trailerSize holds the xxhash64 checksum covering the index's records
// (dynamic) or digest slots (fixed); the header is not included.
const trailerSize = 8
