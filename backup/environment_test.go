package backup

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vaultkeep/backupcore/hash"
)

func testEnv(t *testing.T) *Environment {
	t.Helper()
	return NewEnvironment(nil, t.TempDir(), logrus.NewEntry(logrus.New()))
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var e *Error
	require.True(t, errors.As(err, &e), "expected *backup.Error, got %T: %v", err, err)
	return e.Kind
}

// S1: happy-path dynamic backup — register a writer, register and append
// two chunks at increasing start offsets, close, add a blob, finish.
func TestHappyPathDynamic(t *testing.T) {
	env := testEnv(t)

	wid, err := env.RegisterDynamicWriter("root.pxar.didx")
	require.NoError(t, err)
	require.EqualValues(t, 1, wid)

	d0 := hash.Of([]byte("chunk0"))
	d1 := hash.Of([]byte("chunk1"))

	require.NoError(t, env.RegisterDynamicChunk(wid, d0, 100, 30, false))
	require.NoError(t, env.DynamicWriterAppendChunk(wid, 0, 100, d0))

	require.NoError(t, env.RegisterDynamicChunk(wid, d1, 200, 60, false))
	require.NoError(t, env.DynamicWriterAppendChunk(wid, 100, 200, d1))

	require.NoError(t, env.DynamicWriterClose(wid, 2, 300))

	_, err = env.AddBlob("index.json.blob", []byte(`{"ok":true}`))
	require.NoError(t, err)

	require.NoError(t, env.FinishBackup())

	stats := env.Stats()
	require.Equal(t, uint64(2), stats.ChunkCount)
	require.Equal(t, uint64(300), stats.Size)
	require.Equal(t, uint64(90), stats.CompressedSize)
	require.EqualValues(t, 2, env.state.fileCounter)

	size, ok := env.LookupChunk(d0)
	require.True(t, ok)
	require.EqualValues(t, 100, size)
	size, ok = env.LookupChunk(d1)
	require.True(t, ok)
	require.EqualValues(t, 200, size)
}

// S2: a misordered dynamic append (offset does not match the writer's
// running offset) must fail with KindUnexpectedOffset, not abort the whole
// session.
func TestMisorderedDynamicAppendRejected(t *testing.T) {
	env := testEnv(t)

	wid, err := env.RegisterDynamicWriter("root.pxar.didx")
	require.NoError(t, err)

	d0 := hash.Of([]byte("chunk0"))
	d1 := hash.Of([]byte("chunk1"))
	require.NoError(t, env.RegisterDynamicChunk(wid, d0, 100, 40, false))
	require.NoError(t, env.DynamicWriterAppendChunk(wid, 0, 100, d0))

	err = env.DynamicWriterAppendChunk(wid, 50, 200, d1)
	require.Error(t, err)
	require.Equal(t, KindUnexpectedOffset, kindOf(t, err))
}

// S3: a fixed writer tolerates exactly one undersized trailing chunk; a
// second undersized chunk is rejected as KindMultipleSmallChunks, caught at
// registration time before it is ever appended.
func TestFixedWriterRejectsSecondSmallChunk(t *testing.T) {
	env := testEnv(t)

	// 2 slots of 524288 bytes.
	wid, err := env.RegisterFixedWriter("img.fidx", 1_048_576, 524_288)
	require.NoError(t, err)
	require.EqualValues(t, 1, wid)

	d0 := hash.Of([]byte("chunk0"))
	d1 := hash.Of([]byte("chunk1"))

	// First chunk: a full-size slot 0.
	require.NoError(t, env.RegisterFixedChunk(wid, d0, 524_288, 524_288, false))
	require.NoError(t, env.FixedWriterAppendChunk(wid, 0, 524_288, d0))

	// Second chunk: undersized (262144 bytes), lands in slot 1. Allowed as
	// the tolerated single small trailing chunk.
	require.NoError(t, env.RegisterFixedChunk(wid, d1, 262_144, 262_144, false))
	require.NoError(t, env.FixedWriterAppendChunk(wid, 524_288, 262_144, d1))

	// A second undersized chunk must be rejected outright, at registration
	// time, before even considering slot arithmetic.
	err = env.RegisterFixedChunk(wid, d1, 10_000, 10_000, false)
	require.Error(t, err)
	require.Equal(t, KindMultipleSmallChunks, kindOf(t, err))
}

// S4: finishing a backup while a writer is still open fails; closing the
// writer first lets the same finish call succeed.
func TestFinishBackupRequiresWritersClosed(t *testing.T) {
	env := testEnv(t)

	// No file has been committed yet, so finish must refuse.
	err := env.FinishBackup()
	require.Error(t, err)
	require.Equal(t, KindInvariantBroken, kindOf(t, err))

	wid, err := env.RegisterDynamicWriter("root.pxar.didx")
	require.NoError(t, err)

	err = env.FinishBackup()
	require.Error(t, err)
	require.Equal(t, KindInvariantBroken, kindOf(t, err))

	require.NoError(t, env.DynamicWriterClose(wid, 0, 0))

	_, err = env.AddBlob("index.json.blob", []byte(`{"ok":true}`))
	require.NoError(t, err)
	require.NoError(t, env.FinishBackup())

	// Finishing twice is itself a protocol violation.
	err = env.FinishBackup()
	require.Error(t, err)
	require.Equal(t, KindBackupAlreadyFinished, kindOf(t, err))
}

func TestUnknownWriterRejected(t *testing.T) {
	env := testEnv(t)
	err := env.DynamicWriterAppendChunk(999, 0, 50, hash.Of([]byte("x")))
	require.Error(t, err)
	require.Equal(t, KindUnknownWriter, kindOf(t, err))

	err = env.RegisterDynamicChunk(999, hash.Of([]byte("x")), 50, 20, false)
	require.Error(t, err)
	require.Equal(t, KindUnknownWriter, kindOf(t, err))
}

func TestAddBlobAndEnsureFinished(t *testing.T) {
	env := testEnv(t)

	n, err := env.AddBlob("index.json.blob", []byte(`{"ok":true}`))
	require.NoError(t, err)
	require.Equal(t, len(`{"ok":true}`), n)

	require.True(t, filepath.IsAbs(env.SnapshotDir))

	err = env.EnsureFinished()
	require.Error(t, err)
	require.Equal(t, KindInvariantBroken, kindOf(t, err))

	require.NoError(t, env.FinishBackup())
	require.NoError(t, env.EnsureFinished())
}

func TestLookupAndRegisterChunk(t *testing.T) {
	env := testEnv(t)

	d := hash.Of([]byte("payload"))
	_, ok := env.LookupChunk(d)
	require.False(t, ok)

	env.RegisterChunk(d, 128)
	size, ok := env.LookupChunk(d)
	require.True(t, ok)
	require.Equal(t, uint32(128), size)
}

// FixedWriterClose must reject a client-reported size that doesn't match
// the size declared when the writer was registered, not just a mismatched
// chunk count.
func TestFixedWriterCloseChecksDeclaredSize(t *testing.T) {
	env := testEnv(t)

	wid, err := env.RegisterFixedWriter("img.fidx", 1_048_576, 524_288)
	require.NoError(t, err)

	d0 := hash.Of([]byte("chunk0"))
	d1 := hash.Of([]byte("chunk1"))
	require.NoError(t, env.RegisterFixedChunk(wid, d0, 524_288, 524_288, false))
	require.NoError(t, env.FixedWriterAppendChunk(wid, 0, 524_288, d0))
	require.NoError(t, env.RegisterFixedChunk(wid, d1, 524_288, 524_288, false))
	require.NoError(t, env.FixedWriterAppendChunk(wid, 524_288, 524_288, d1))

	err = env.FixedWriterClose(wid, 2, 999)
	require.Error(t, err)
	require.Equal(t, KindWriterMismatch, kindOf(t, err))

	require.NoError(t, env.FixedWriterClose(wid, 2, 1_048_576))
}
