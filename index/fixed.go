package index

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/vaultkeep/backupcore/hash"
)

// FixedWriter persists a fixed-block-size index: a header declaring the
// chunk size and total slot count, `length` zero-initialized digest slots
// writable in any order, then a checksum trailer. Grounded on spec.md §4.2.
type FixedWriter struct {
	f         *os.File
	id        uuid.UUID
	created   time.Time
	chunkSize uint32
	length    uint32

	slots   [][digestSize]byte
	written []bool
	count   uint32
	closed  bool
}

// CreateFixedWriter creates path, preallocates length 32-byte digest slots
// (one per chunkSize-byte chunk), and writes the header.
func CreateFixedWriter(path string, length uint32, chunkSize uint32) (*FixedWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fixed index %s: create: %w", path, err)
	}

	w := &FixedWriter{
		f:         f,
		id:        uuid.New(),
		created:   time.Now(),
		chunkSize: chunkSize,
		length:    length,
		slots:     make([][digestSize]byte, length),
		written:   make([]bool, length),
	}

	totalSize := int64(headerSize) + int64(length)*digestSize + trailerSize
	if err := f.Truncate(totalSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("fixed index: preallocate: %w", err)
	}
	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}

	return w, nil
}

func (w *FixedWriter) writeHeader() error {
	var hdr [headerSize]byte
	copy(hdr[0:8], FidxMagic[:])
	hdr[8] = 1 // version
	idBytes, _ := w.id.MarshalBinary()
	copy(hdr[9:25], idBytes)
	binary.BigEndian.PutUint32(hdr[25:29], w.chunkSize)
	binary.BigEndian.PutUint32(hdr[29:33], w.length)
	binary.BigEndian.PutUint64(hdr[33:41], uint64(w.created.Unix()))

	if _, err := w.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("fixed index: write header: %w", err)
	}
	return nil
}

// UUID returns the index's identifying UUID.
func (w *FixedWriter) UUID() uuid.UUID { return w.id }

// Length is the declared number of chunk slots.
func (w *FixedWriter) Length() uint32 { return w.length }

// ChunkSize is the declared per-slot size.
func (w *FixedWriter) ChunkSize() uint32 { return w.chunkSize }

// CheckChunkAlignment computes the slot a chunk of size ending at endOffset
// belongs in, enforcing that every non-final chunk lands exactly on a
// chunk-size boundary. The final chunk in a fixed index may be smaller than
// ChunkSize; spec.md's MultipleSmallChunks rule (enforced one layer up, in
// backup.Environment) is what actually catches more than one such chunk —
// this method only computes and range-checks the slot.
func (w *FixedWriter) CheckChunkAlignment(endOffset uint64, size uint32) (int, error) {
	if w.chunkSize == 0 {
		return 0, fmt.Errorf("fixed index: zero chunk size")
	}
	if size > w.chunkSize {
		return 0, fmt.Errorf("fixed index: chunk size %d exceeds declared chunk size %d", size, w.chunkSize)
	}

	var slot uint64
	if size == w.chunkSize {
		if endOffset%uint64(w.chunkSize) != 0 {
			return 0, fmt.Errorf("fixed index: end offset %d not aligned to chunk size %d", endOffset, w.chunkSize)
		}
		slot = endOffset/uint64(w.chunkSize) - 1
	} else {
		slot = endOffset / uint64(w.chunkSize)
	}

	if slot >= uint64(w.length) {
		return 0, fmt.Errorf("fixed index: computed slot %d out of range (length %d)", slot, w.length)
	}
	return int(slot), nil
}

// AddDigest writes digest into slot. The same slot must not be written
// twice; slots may be written in any order, which is what lets clients
// upload fixed blocks in parallel.
func (w *FixedWriter) AddDigest(slot int, digest hash.Hash) error {
	if w.closed {
		return fmt.Errorf("fixed index: add_digest after close")
	}
	if slot < 0 || slot >= len(w.slots) {
		return fmt.Errorf("fixed index: slot %d out of range (length %d)", slot, w.length)
	}
	if w.written[slot] {
		return fmt.Errorf("fixed index: slot %d already written", slot)
	}

	w.slots[slot] = digest
	w.written[slot] = true
	w.count++

	off := int64(headerSize) + int64(slot)*digestSize
	if _, err := w.f.WriteAt(digest[:], off); err != nil {
		return fmt.Errorf("fixed index: write slot %d: %w", slot, err)
	}
	return nil
}

// ChunkCount returns the number of slots written so far.
func (w *FixedWriter) ChunkCount() uint32 { return w.count }

// Close requires every slot to be written, then writes the trailer and
// consumes the writer.
func (w *FixedWriter) Close() ([trailerSize]byte, error) {
	var csum [trailerSize]byte
	if w.closed {
		return csum, fmt.Errorf("fixed index: already closed")
	}
	if w.count != w.length {
		return csum, fmt.Errorf("fixed index: %d of %d slots written", w.count, w.length)
	}
	w.closed = true

	h := xxhash.New()
	for _, s := range w.slots {
		h.Write(s[:])
	}
	binary.BigEndian.PutUint64(csum[:], h.Sum64())

	trailerOff := int64(headerSize) + int64(w.length)*digestSize
	if _, err := w.f.WriteAt(csum[:], trailerOff); err != nil {
		return csum, fmt.Errorf("fixed index: write trailer: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return csum, fmt.Errorf("fixed index: sync: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return csum, fmt.Errorf("fixed index: close: %w", err)
	}
	return csum, nil
}
