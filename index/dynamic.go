package index

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/vaultkeep/backupcore/hash"
)

// DynamicWriter persists a content-defined-chunking index: a header, then a
// sequence of (end_offset, digest) records in strictly increasing offset
// order, then a checksum trailer. Grounded on spec.md §4.2 and the
// DIDX_MAGIC + offset/digest record shape in pbs-plus's chunk_state.go.
type DynamicWriter struct {
	f       *os.File
	id      uuid.UUID
	created time.Time
	digest  *xxhash.Digest

	lastEnd uint64
	count   uint64
	closed  bool
}

// CreateDynamicWriter creates path and writes the index header.
func CreateDynamicWriter(path string) (*DynamicWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("dynamic index %s: create: %w", path, err)
	}

	w := &DynamicWriter{
		f:       f,
		id:      uuid.New(),
		created: time.Now(),
		digest:  xxhash.New(),
	}

	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}

	return w, nil
}

func (w *DynamicWriter) writeHeader() error {
	var hdr [headerSize]byte
	copy(hdr[0:8], DidxMagic[:])
	hdr[8] = 1 // version
	idBytes, _ := w.id.MarshalBinary()
	copy(hdr[9:25], idBytes)
	binary.BigEndian.PutUint64(hdr[25:33], uint64(w.created.Unix()))

	if _, err := w.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("dynamic index: write header: %w", err)
	}
	if _, err := w.f.Seek(headerSize, io.SeekStart); err != nil {
		return fmt.Errorf("dynamic index: seek past header: %w", err)
	}
	return nil
}

// UUID returns the index's identifying UUID.
func (w *DynamicWriter) UUID() uuid.UUID { return w.id }

// AddChunk appends one (newEndOffset, digest) record. It fails if
// newEndOffset does not strictly increase over the previous record's end
// offset — the writer's own defense of the monotonicity invariant,
// independent of whatever the caller already checked.
func (w *DynamicWriter) AddChunk(newEndOffset uint64, digest hash.Hash) error {
	if w.closed {
		return fmt.Errorf("dynamic index: add_chunk after close")
	}
	if newEndOffset <= w.lastEnd {
		return fmt.Errorf("dynamic index: offset did not increase (%d <= %d)", newEndOffset, w.lastEnd)
	}

	var rec [8 + digestSize]byte
	binary.BigEndian.PutUint64(rec[0:8], newEndOffset)
	copy(rec[8:], digest[:])

	if _, err := w.f.Write(rec[:]); err != nil {
		return fmt.Errorf("dynamic index: write record: %w", err)
	}
	if _, err := w.digest.Write(rec[:]); err != nil {
		return fmt.Errorf("dynamic index: hash record: %w", err)
	}

	w.lastEnd = newEndOffset
	w.count++
	return nil
}

// Close writes the trailer, flushes the file, and consumes the writer.
func (w *DynamicWriter) Close() ([trailerSize]byte, error) {
	var csum [trailerSize]byte
	if w.closed {
		return csum, fmt.Errorf("dynamic index: already closed")
	}
	w.closed = true

	binary.BigEndian.PutUint64(csum[:], w.digest.Sum64())
	if _, err := w.f.Write(csum[:]); err != nil {
		return csum, fmt.Errorf("dynamic index: write trailer: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return csum, fmt.Errorf("dynamic index: sync: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return csum, fmt.Errorf("dynamic index: close: %w", err)
	}
	return csum, nil
}

// ChunkCount returns the number of records written so far.
func (w *DynamicWriter) ChunkCount() uint64 { return w.count }

// Offset returns the running end offset (sum of appended chunk sizes).
func (w *DynamicWriter) Offset() uint64 { return w.lastEnd }
