package scsi

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux generic SCSI (sg) ioctl constants. `golang.org/x/sys/unix` doesn't
// wrap SG_IO itself (it's a driver-specific ioctl, not a generic one), so
// the raw constant and header layout are reproduced here the way
// sg_tape.rs's `SgRaw` wraps the equivalent C struct from <scsi/sg.h>.
const (
	sgIoIoctl = 0x2285

	sgDxferNone    = -1
	sgDxferToDev   = -2
	sgDxferFromDev = -3

	senseBufferLen = 32
)

// sgIoHdr mirrors struct sg_io_hdr from <scsi/sg.h> (interface_id 'S',
// version 3). Pointer fields are uintptr rather than unsafe.Pointer so the
// struct's memory layout matches the C ABI exactly.
type sgIoHdr struct {
	interfaceID    int32
	dxferDirection int32
	cmdLen         uint8
	mxSbLen        uint8
	iovecCount     uint16
	dxferLen       uint32
	dxferp         uintptr
	cmdp           uintptr
	sbp            uintptr
	timeout        uint32
	flags          uint32
	packID         int32
	usrPtr         uintptr
	status         uint8
	maskedStatus   uint8
	msgStatus      uint8
	sbLenWr        uint8
	hostStatus     uint16
	driverStatus   uint16
	resid          int32
	duration       uint32
	info           uint32
}

// sgIoResult is the subset of a completed sg_io_hdr a caller needs: how
// many bytes of buf actually transferred, whether the command completed
// with GOOD status, and the sense triple if it didn't.
type sgIoResult struct {
	transferred int
	ok          bool
	sense       SenseInfo
}

// sgIoctlCommand issues one SCSI command through the SG_IO ioctl and
// decodes the result. direction is one of sgDxferNone/sgDxferToDev/
// sgDxferFromDev; buf is the data-phase buffer (nil for sgDxferNone).
func sgIoctlCommand(f *os.File, cdb []byte, direction int32, buf []byte, timeout time.Duration) (sgIoResult, error) {
	var sense [senseBufferLen]byte
	var hdr sgIoHdr

	hdr.interfaceID = int32('S')
	hdr.dxferDirection = direction
	hdr.cmdLen = uint8(len(cdb))
	hdr.mxSbLen = senseBufferLen
	hdr.dxferLen = uint32(len(buf))
	hdr.timeout = uint32(timeout.Milliseconds())
	hdr.cmdp = uintptr(unsafe.Pointer(&cdb[0]))
	hdr.sbp = uintptr(unsafe.Pointer(&sense[0]))
	if len(buf) > 0 {
		hdr.dxferp = uintptr(unsafe.Pointer(&buf[0]))
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(sgIoIoctl), uintptr(unsafe.Pointer(&hdr)))
	if errno != 0 {
		return sgIoResult{}, fmt.Errorf("SG_IO ioctl: %w", errno)
	}

	result := sgIoResult{transferred: int(hdr.dxferLen) - int(hdr.resid)}

	if hdr.status == 0 {
		result.ok = true
		return result, nil
	}

	// Non-GOOD status: the sense buffer holds the reason, in fixed format
	// (response code 0x70/0x71) when sb_len_wr covers at least the ASC/ASCQ
	// bytes at offsets 12/13.
	if hdr.sbLenWr >= 14 {
		result.sense = SenseInfo{Key: sense[2] & 0x0f, Asc: sense[12], Ascq: sense[13]}
	}
	return result, nil
}
