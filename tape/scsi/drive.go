// Package scsi issues SCSI Command Descriptor Blocks to an LTO tape drive
// through the Linux SG_IO generic-SCSI passthrough ioctl. Grounded on
// original_source/src/tape/drive/lto/sg_tape.rs.
package scsi

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultTimeout is the SCSI command timeout used for ordinary tape
// movement and I/O commands.
const DefaultTimeout = 2 * time.Minute

// shortTimeout is used for commands expected to complete quickly
// (TEST UNIT READY, READ POSITION) so a wedged drive is noticed fast.
const shortTimeout = 30 * time.Second

// InquiryInfo is the subset of STANDARD INQUIRY data this driver cares
// about: just enough to confirm the device is a tape drive.
type InquiryInfo struct {
	PeripheralType byte
	VendorID       string
	ProductID      string
}

// Drive is a single open SCSI generic device. It is not safe for
// concurrent use by multiple goroutines — exactly as sg_tape.rs's SgTape is
// not shared across threads either; the caller serializes access.
type Drive struct {
	f       *os.File
	timeout time.Duration
}

// Open opens path (e.g. /dev/nst0, /dev/sg3) non-blocking so a drive with
// no media loaded doesn't hang the open call, then clears O_NONBLOCK once
// the descriptor is in hand.
func Open(path string) (*Drive, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, wrapErr(KindIO, err, "open %s", path)
	}

	flags, err := unix.FcntlInt(f.Fd(), unix.F_GETFL, 0)
	if err != nil {
		f.Close()
		return nil, wrapErr(KindIO, err, "fcntl F_GETFL on %s", path)
	}
	flags &^= unix.O_NONBLOCK
	if _, err := unix.FcntlInt(f.Fd(), unix.F_SETFL, flags); err != nil {
		f.Close()
		return nil, wrapErr(KindIO, err, "fcntl F_SETFL on %s", path)
	}

	return New(f)
}

// New wraps an already-open descriptor, verifying via INQUIRY that it's a
// tape device (peripheral device type 1).
func New(f *os.File) (*Drive, error) {
	d := &Drive{f: f, timeout: DefaultTimeout}
	info, err := d.Inquiry()
	if err != nil {
		return nil, err
	}
	if info.PeripheralType != 1 {
		return nil, newErr(KindNotReady, "not a tape device (peripheral_type = %d)", info.PeripheralType)
	}
	return d, nil
}

// Close closes the underlying device descriptor.
func (d *Drive) Close() error {
	return d.f.Close()
}

func (d *Drive) rawCommand(cdb []byte, direction int32, buf []byte, timeout time.Duration) (sgIoResult, error) {
	res, err := sgIoctlCommand(d.f, cdb, direction, buf, timeout)
	if err != nil {
		return sgIoResult{}, wrapErr(KindIO, err, "ioctl")
	}
	return res, nil
}

// simpleCommand issues a no-data-phase CDB and translates any non-GOOD
// status straight into a *scsi.Error, for commands with no sense condition
// this driver reclassifies as success.
func (d *Drive) simpleCommand(cdb []byte, label string) error {
	res, err := d.rawCommand(cdb, sgDxferNone, nil, d.timeout)
	if err != nil {
		return err
	}
	if !res.ok {
		return senseErr(res.sense, "%s failed", label)
	}
	return nil
}

// Inquiry issues STANDARD INQUIRY and decodes the peripheral device type.
func (d *Drive) Inquiry() (InquiryInfo, error) {
	const allocLen = 36
	buf := make([]byte, allocLen)
	res, err := d.rawCommand(cdbInquiry(allocLen), sgDxferFromDev, buf, shortTimeout)
	if err != nil {
		return InquiryInfo{}, err
	}
	if !res.ok {
		return InquiryInfo{}, senseErr(res.sense, "inquiry failed")
	}
	if res.transferred < 36 {
		return InquiryInfo{}, newErr(KindIO, "inquiry: short response (%d bytes)", res.transferred)
	}
	return InquiryInfo{
		PeripheralType: buf[0] & 0x1f,
		VendorID:       string(buf[8:16]),
		ProductID:      string(buf[16:32]),
	}, nil
}

// EraseMedia writes EOD at the current position. fast=false additionally
// overwrites the remainder of the medium.
func (d *Drive) EraseMedia(fast bool) error {
	return d.simpleCommand(cdbErase(fast), "erase")
}

// FormatMedia rewinds, formats a single partition, and (unless fast)
// erases the whole medium.
func (d *Drive) FormatMedia(fast bool) error {
	if err := d.Rewind(); err != nil {
		return err
	}
	if err := d.simpleCommand(cdbFormatMedium(), "format"); err != nil {
		return err
	}
	if !fast {
		if err := d.EraseMedia(false); err != nil {
			return err
		}
	}
	return nil
}

// Rewind moves to the beginning of the tape.
func (d *Drive) Rewind() error {
	return d.simpleCommand(cdbRewind(), "rewind")
}

// Position issues READ POSITION (long form) and returns the decoded page.
// Multi-partition tapes are rejected — this driver only supports the
// single-partition layout backups use.
func (d *Drive) Position() (ReadPositionLongPage, error) {
	buf := make([]byte, readPositionLongPageSize)
	res, err := d.rawCommand(cdbReadPositionLong(), sgDxferFromDev, buf, shortTimeout)
	if err != nil {
		return ReadPositionLongPage{}, err
	}
	if !res.ok {
		return ReadPositionLongPage{}, senseErr(res.sense, "read position failed")
	}

	page, decodeErr := decodeReadPositionLongPage(buf[:res.transferred])
	if decodeErr != nil {
		return ReadPositionLongPage{}, wrapErr(KindIO, decodeErr, "decode position page")
	}
	if page.PartitionNumber != 0 {
		return page, newErr(KindNotReady, "detected partitioned tape - not supported")
	}
	return page, nil
}

// CurrentFileNumber returns the tape's current logical file id.
func (d *Drive) CurrentFileNumber() (uint64, error) {
	pos, err := d.Position()
	if err != nil {
		return 0, err
	}
	return pos.LogicalFileID, nil
}

// LocateFile seeks directly to the filemark preceding logical file
// `position`, then spaces one filemark forward to land just past it — the
// double-step sg_tape.rs's locate_file performs because LOCATE(16) alone
// leaves the tape positioned before the filemark, not after it.
func (d *Drive) LocateFile(position uint64) error {
	if err := d.simpleCommand(cdbLocate16(position), "locate file"); err != nil {
		return err
	}
	return d.simpleCommand(cdbSpace(1, false), "locate file (space)")
}

// CheckFilemark reports whether the tape is currently positioned
// immediately after a filemark (or at BOT, which counts as "yes"). It does
// so by spacing one block backward: success means no filemark was crossed
// (the tape is repositioned forward again); a filemark sense (0,0,1) means
// there was one (the tape is repositioned to the EOT side of it).
func (d *Drive) CheckFilemark() (bool, error) {
	pos, err := d.Position()
	if err != nil {
		return false, err
	}
	if pos.LogicalObjectNumber == 0 {
		return true, nil
	}

	res, err := d.rawCommand(cdbSpace(-1, true), sgDxferNone, nil, d.timeout)
	if err != nil {
		return false, err
	}
	if res.ok {
		if err := d.simpleCommand(cdbSpace(1, true), "check_filemark (space forward)"); err != nil {
			return false, err
		}
		return false, nil
	}
	if res.sense.isFilemark() {
		if err := d.simpleCommand(cdbSpace(1, false), "check_filemark (move to EOT side of filemark)"); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, senseErr(res.sense, "check_filemark failed")
}

// MoveToEOM spaces to End Of Data. If writeMissingEOF is set and the tape
// didn't stop on a filemark (e.g. a previous writer crashed mid-stream), a
// filemark is written so the tape's file boundaries stay consistent.
func (d *Drive) MoveToEOM(writeMissingEOF bool) error {
	if err := d.simpleCommand(cdbSpaceToEOD(), "move to EOD"); err != nil {
		return err
	}
	if writeMissingEOF {
		atFilemark, err := d.CheckFilemark()
		if err != nil {
			return err
		}
		if !atFilemark {
			if err := d.WriteFilemarks(1, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// SpaceFilemarks spaces count filemarks (negative moves backward).
func (d *Drive) SpaceFilemarks(count int64) error {
	res, err := d.rawCommand(cdbSpace(count, false), sgDxferNone, nil, d.timeout)
	if err != nil {
		return err
	}
	if !res.ok {
		return senseErr(res.sense, "space filemarks failed")
	}
	return nil
}

// SpaceBlocks spaces count blocks (negative moves backward).
func (d *Drive) SpaceBlocks(count int64) error {
	res, err := d.rawCommand(cdbSpace(count, true), sgDxferNone, nil, d.timeout)
	if err != nil {
		return err
	}
	if !res.ok {
		return senseErr(res.sense, "space blocks failed")
	}
	return nil
}

// Eject unloads the medium.
func (d *Drive) Eject() error {
	return d.simpleCommand(cdbLoadUnload(false), "eject")
}

// Load loads the medium.
func (d *Drive) Load() error {
	return d.simpleCommand(cdbLoadUnload(true), "load media")
}

// WriteFilemarks writes count filemarks. Hitting LEOM while doing so is not
// an error — the write already landed, the drive is just warning that the
// medium is nearly full.
func (d *Drive) WriteFilemarks(count int, immediate bool) error {
	if count > 255 {
		return newErr(KindIO, "write_filemarks: got strange count %d", count)
	}
	res, err := d.rawCommand(cdbWriteFilemarks(count, immediate), sgDxferNone, nil, d.timeout)
	if err != nil {
		return err
	}
	if res.ok || res.sense.isLEOM() {
		return nil
	}
	return senseErr(res.sense, "write filemark failed")
}

// Sync flushes the drive's write buffer (a zero-count WRITE FILEMARKS).
func (d *Drive) Sync() error {
	return d.WriteFilemarks(0, false)
}

// TestUnitReady reports whether the drive currently accepts commands.
func (d *Drive) TestUnitReady() (bool, error) {
	res, err := d.rawCommand(cdbTestUnitReady(), sgDxferNone, nil, shortTimeout)
	if err != nil {
		return false, err
	}
	if !res.ok {
		return false, senseErr(res.sense, "unit not ready")
	}
	return true, nil
}

// WaitUntilReady polls TestUnitReady once a second until it succeeds or
// d.timeout elapses.
func (d *Drive) WaitUntilReady() error {
	deadline := time.Now().Add(d.timeout)
	for {
		if ready, err := d.TestUnitReady(); err == nil && ready {
			return nil
		}
		if time.Now().After(deadline) {
			return newErr(KindTimeout, "wait_until_ready: timed out")
		}
		time.Sleep(time.Second)
	}
}

// WriteBlock writes one variable-length block. The returned bool reports
// whether the drive hit Logical End Of Media while doing so (the write
// itself still succeeded; the caller should finish the current file and
// request a new volume).
func (d *Drive) WriteBlock(data []byte) (bool, error) {
	const maxTransfer = 0x800000
	if len(data) > maxTransfer {
		return false, newErr(KindIO, "write failed - data too large")
	}

	res, err := d.rawCommand(cdbWriteVariable(len(data)), sgDxferToDev, data, d.timeout)
	if err != nil {
		return false, err
	}
	if res.ok {
		return false, nil
	}
	if res.sense.isLEOM() {
		return true, nil
	}
	return false, senseErr(res.sense, "write failed")
}

// ReadBlock reads one variable-length block into buf (SILI=1). A block
// whose transferred length differs from len(buf) is reported as an error.
// Crossing a filemark or running out of data entirely are reported via
// BlockReadStatus rather than as errors.
func (d *Drive) ReadBlock(buf []byte) (BlockReadStatus, error) {
	const maxTransfer = 0xFFFFFF
	if len(buf) > maxTransfer {
		return BlockReadStatus{}, newErr(KindIO, "read failed - buffer too large")
	}

	res, err := d.rawCommand(cdbReadVariable(len(buf)), sgDxferFromDev, buf, d.timeout)
	if err != nil {
		return BlockReadStatus{}, err
	}
	if !res.ok {
		if res.sense.isFilemark() {
			return BlockReadStatus{EndOfFile: true}, nil
		}
		if res.sense.isEndOfStream() {
			return BlockReadStatus{EndOfStream: true}, nil
		}
		return BlockReadStatus{}, senseErr(res.sense, "read failed")
	}
	if res.transferred != len(buf) {
		return BlockReadStatus{}, newErr(KindIO, "read failed - unexpected block len (%d != %d)", res.transferred, len(buf))
	}
	return BlockReadStatus{N: res.transferred}, nil
}
