package scsi

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSenseClassification(t *testing.T) {
	require.True(t, SenseInfo{Key: 0, Asc: 0, Ascq: 1}.isFilemark())
	require.True(t, SenseInfo{Key: 0, Asc: 0, Ascq: 2}.isLEOM())
	require.True(t, SenseInfo{Key: 8, Asc: 0, Ascq: 5}.isEndOfStream())

	require.False(t, SenseInfo{Key: 0, Asc: 0, Ascq: 1}.isLEOM())
	require.False(t, SenseInfo{Key: 1, Asc: 0, Ascq: 1}.isFilemark())
}

func TestCdbSpaceChoosesShortFormWhenPossible(t *testing.T) {
	cmd := cdbSpace(100, true)
	require.Len(t, cmd, 6)
	require.Equal(t, byte(opSpace6), cmd[0])
	require.Equal(t, byte(0), cmd[1]) // blocks

	cmd = cdbSpace(-5, false)
	require.Len(t, cmd, 6)
	require.Equal(t, byte(1), cmd[1]) // filemarks
	// -5 as a 24-bit two's complement big-endian value in bytes 2..5.
	require.Equal(t, byte(0xff), cmd[2])
	require.Equal(t, byte(0xff), cmd[3])
	require.Equal(t, byte(0xfb), cmd[4])
}

func TestCdbSpaceFallsBackToLongFormBeyond24Bits(t *testing.T) {
	cmd := cdbSpace(0x800000, true)
	require.Len(t, cmd, 16)
	require.Equal(t, byte(opSpace16), cmd[0])

	count := int64(binary.BigEndian.Uint64(cmd[4:12]))
	require.Equal(t, int64(0x800000), count)
}

func TestCdbLocate16EncodesPositionAndFilemarksBit(t *testing.T) {
	cmd := cdbLocate16(42)
	require.Len(t, cmd, 16)
	require.Equal(t, byte(opLocate16), cmd[0])
	require.Equal(t, byte(0b000_01_000), cmd[1])
	require.Equal(t, uint64(42), binary.BigEndian.Uint64(cmd[4:12]))
}

func TestCdbReadPositionLongIsServiceAction6(t *testing.T) {
	cmd := cdbReadPositionLong()
	require.Len(t, cmd, 10)
	require.Equal(t, byte(opReadPosition), cmd[0])
	require.Equal(t, byte(0x06), cmd[1])
}

func TestCdbEraseLongBitInvertsFast(t *testing.T) {
	require.Equal(t, byte(1), cdbErase(false)[1]) // LONG=1: thorough erase
	require.Equal(t, byte(0), cdbErase(true)[1])   // LONG=0: fast erase
}

func TestDecodeReadPositionLongPage(t *testing.T) {
	data := make([]byte, readPositionLongPageSize)
	data[0] = 0x80 // flags
	binary.BigEndian.PutUint32(data[4:8], 0)
	binary.BigEndian.PutUint64(data[8:16], 12345)
	binary.BigEndian.PutUint64(data[16:24], 7)

	page, err := decodeReadPositionLongPage(data)
	require.NoError(t, err)
	require.Equal(t, byte(0x80), page.Flags)
	require.Equal(t, uint32(0), page.PartitionNumber)
	require.Equal(t, uint64(12345), page.LogicalObjectNumber)
	require.Equal(t, uint64(7), page.LogicalFileID)
}

func TestDecodeReadPositionLongPageRejectsWrongLength(t *testing.T) {
	_, err := decodeReadPositionLongPage(make([]byte, 10))
	require.Error(t, err)
}

func TestSenseErrorKindAndMessage(t *testing.T) {
	sense := SenseInfo{Key: 0, Asc: 0, Ascq: 1}
	err := senseErr(sense, "read failed")
	require.Equal(t, KindSense, err.Kind)
	require.Contains(t, err.Error(), "00/00/01")
}
