package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaultkeep/backupcore/hash"
)

func TestFixedWriterHappyPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.fidx")
	// 1_048_576 total / 524_288 chunk size = 2 slots.
	w, err := CreateFixedWriter(path, 2, 524_288)
	require.NoError(t, err)

	d0 := hash.Of([]byte("chunk0"))
	d1 := hash.Of([]byte("chunk1"))

	slot, err := w.CheckChunkAlignment(524_288, 524_288)
	require.NoError(t, err)
	require.Equal(t, 0, slot)
	require.NoError(t, w.AddDigest(slot, d0))

	// Then slot 1 (the final, full-size chunk).
	slot, err = w.CheckChunkAlignment(1_048_576, 524_288)
	require.NoError(t, err)
	require.Equal(t, 1, slot)
	require.NoError(t, w.AddDigest(slot, d1))

	csum, err := w.Close()
	require.NoError(t, err)
	require.NotZero(t, csum)
}

func TestFixedWriterRejectsDoubleSlotWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.fidx")
	w, err := CreateFixedWriter(path, 2, 524_288)
	require.NoError(t, err)

	d0 := hash.Of([]byte("chunk0"))
	require.NoError(t, w.AddDigest(0, d0))
	require.Error(t, w.AddDigest(0, d0))
}

func TestFixedWriterSmallFinalChunkSlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.fidx")
	w, err := CreateFixedWriter(path, 2, 524_288)
	require.NoError(t, err)

	slot, err := w.CheckChunkAlignment(524_288, 524_288)
	require.NoError(t, err)
	require.Equal(t, 0, slot)

	// Small terminal chunk: offset 524288, size 262144, end 786432.
	slot, err = w.CheckChunkAlignment(786_432, 262_144)
	require.NoError(t, err)
	require.Equal(t, 1, slot)
}

func TestFixedWriterMisalignedFullChunkRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.fidx")
	w, err := CreateFixedWriter(path, 2, 524_288)
	require.NoError(t, err)

	_, err = w.CheckChunkAlignment(524_289, 524_288)
	require.Error(t, err)
}

func TestFixedWriterCloseRequiresAllSlots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.fidx")
	w, err := CreateFixedWriter(path, 2, 524_288)
	require.NoError(t, err)

	require.NoError(t, w.AddDigest(0, hash.Of([]byte("chunk0"))))

	_, err = w.Close()
	require.Error(t, err)
}
