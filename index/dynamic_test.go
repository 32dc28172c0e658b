package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaultkeep/backupcore/hash"
)

func TestDynamicWriterHappyPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "root.pxar.didx")
	w, err := CreateDynamicWriter(path)
	require.NoError(t, err)

	d0 := hash.Of([]byte("chunk0"))
	d1 := hash.Of([]byte("chunk1"))

	require.NoError(t, w.AddChunk(100, d0))
	require.Equal(t, uint64(100), w.Offset())
	require.NoError(t, w.AddChunk(300, d1))
	require.Equal(t, uint64(2), w.ChunkCount())

	csum, err := w.Close()
	require.NoError(t, err)
	require.NotZero(t, csum)
}

func TestDynamicWriterRejectsNonIncreasingOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "root.pxar.didx")
	w, err := CreateDynamicWriter(path)
	require.NoError(t, err)

	d0 := hash.Of([]byte("chunk0"))
	require.NoError(t, w.AddChunk(100, d0))

	err = w.AddChunk(100, d0)
	require.Error(t, err)

	err = w.AddChunk(50, d0)
	require.Error(t, err)
}

func TestDynamicWriterCloseIsTerminal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "root.pxar.didx")
	w, err := CreateDynamicWriter(path)
	require.NoError(t, err)

	_, err = w.Close()
	require.NoError(t, err)

	_, err = w.Close()
	require.Error(t, err)

	err = w.AddChunk(10, hash.Of([]byte("x")))
	require.Error(t, err)
}
