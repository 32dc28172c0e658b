package scsi

// CDB opcodes, named exactly as sg_tape.rs's inline comments name them.
const (
	opTestUnitReady  = 0x00
	opRewind         = 0x01
	opFormatMedium   = 0x04
	opReadVariable   = 0x08
	opWriteVariable  = 0x0A
	opWriteFilemarks = 0x10
	opSpace6         = 0x11
	opEraseMedia     = 0x19
	opLoadUnload     = 0x1B
	opReadPosition   = 0x34
	opSpace16        = 0x91
	opLocate16       = 0x92
	opInquiry        = 0x12
	opLogSense       = 0x4D
	opSecurityOut    = 0xB5
)

func cdbTestUnitReady() []byte {
	return []byte{opTestUnitReady, 0, 0, 0, 0, 0}
}

func cdbRewind() []byte {
	return []byte{opRewind, 0, 0, 0, 0, 0}
}

func cdbFormatMedium() []byte {
	return []byte{opFormatMedium, 0, 0, 0, 0, 0}
}

// cdbErase builds the ERASE(6) CDB. fast=false sets LONG=1 (erase the whole
// tape); fast=true sets LONG=0 (erase only enough to mark EOD).
func cdbErase(fast bool) []byte {
	long := byte(1)
	if fast {
		long = 0
	}
	return []byte{opEraseMedia, long, 0, 0, 0, 0}
}

// cdbLoadUnload builds LOAD/UNLOAD with HOLD=0 and LOAD set per load.
func cdbLoadUnload(load bool) []byte {
	var loadBit byte
	if load {
		loadBit = 0b0000_0001
	}
	return []byte{opLoadUnload, 0, 0, 0, loadBit, 0}
}

// cdbWriteFilemarks builds WRITE FILEMARKS(6); count must fit in one byte.
func cdbWriteFilemarks(count int, immediate bool) []byte {
	immed := byte(0)
	if immediate {
		immed = 1
	}
	return []byte{opWriteFilemarks, immed, 0, 0, byte(count), 0}
}

// cdbSpace builds either the 6-byte or 16-byte SPACE CDB depending on
// whether count fits the 6-byte command's 24-bit signed field, exactly the
// "use short command if possible" fallback in sg_tape.rs's space().
func cdbSpace(count int64, blocks bool) []byte {
	codeByte := byte(0)
	if !blocks {
		codeByte = 1
	}

	if count <= 0x7fffff && count > -0x7fffff {
		cmd := make([]byte, 6)
		cmd[0] = opSpace6
		cmd[1] = codeByte
		cmd[2] = byte((count >> 16) & 0xff)
		cmd[3] = byte((count >> 8) & 0xff)
		cmd[4] = byte(count & 0xff)
		cmd[5] = 0
		return cmd
	}

	cmd := make([]byte, 16)
	cmd[0] = opSpace16
	cmd[1] = codeByte
	// bytes 2-3 reserved
	for i := 0; i < 8; i++ {
		cmd[4+i] = byte(count >> (56 - 8*i))
	}
	// bytes 12-15 reserved
	return cmd
}

// cdbSpaceToEOD builds the SPACE(6) "move to end of data" variant used by
// move_to_eom (code 3, the EOD destination type).
func cdbSpaceToEOD() []byte {
	return []byte{opSpace6, 0x03, 0, 0, 0, 0}
}

// cdbInquiry builds a STANDARD INQUIRY CDB.
func cdbInquiry(allocLen byte) []byte {
	return []byte{opInquiry, 0, 0, 0, allocLen, 0}
}

// cdbLogSense builds LOG SENSE for the given page code, current values
// (PC=01).
func cdbLogSense(page byte, allocLen uint16) []byte {
	return []byte{
		opLogSense, 0,
		0b01<<6 | page, // PC=01 (current), page code
		0,
		0, 0,
		0,
		byte(allocLen >> 8), byte(allocLen),
		0,
	}
}

// cdbSecurityProtocolOut builds SECURITY PROTOCOL OUT for the tape
// encryption protocol (SP=0x20, as used by LTO's application-managed
// encryption).
func cdbSecurityProtocolOut(spSpecific uint16, transferLen uint32) []byte {
	cmd := make([]byte, 12)
	cmd[0] = opSecurityOut
	cmd[1] = 0x20 // security protocol: tape data encryption
	cmd[2] = byte(spSpecific >> 8)
	cmd[3] = byte(spSpecific)
	cmd[6] = byte(transferLen >> 24)
	cmd[7] = byte(transferLen >> 16)
	cmd[8] = byte(transferLen >> 8)
	cmd[9] = byte(transferLen)
	return cmd
}

// cdbLocate16 builds LOCATE(16) with the CP/BT bits clear and the filemarks
// destination-type bit set (matching sg_tape.rs's locate_file: `0b000_01_000`).
func cdbLocate16(position uint64) []byte {
	cmd := make([]byte, 16)
	cmd[0] = opLocate16
	cmd[1] = 0b000_01_000
	for i := 0; i < 8; i++ {
		cmd[4+i] = byte(position >> (56 - 8*i))
	}
	return cmd
}

// cdbReadPositionLong builds READ POSITION, service action 6 (long form).
func cdbReadPositionLong() []byte {
	return []byte{opReadPosition, 0x06, 0, 0, 0, 0, 0, 0, 0, 0}
}

// cdbReadVariable builds READ(6) with variable-length blocks and SILI=1, so
// a too-large read returns the actual residual instead of an error.
func cdbReadVariable(transferLen int) []byte {
	return []byte{
		opReadVariable,
		0x02, // variable sized blocks, SILI=1
		byte((transferLen >> 16) & 0xff),
		byte((transferLen >> 8) & 0xff),
		byte(transferLen & 0xff),
		0,
	}
}

// cdbWriteVariable builds WRITE(6) with variable-length blocks.
func cdbWriteVariable(transferLen int) []byte {
	return []byte{
		opWriteVariable,
		0x00, // variable sized blocks
		byte((transferLen >> 16) & 0xff),
		byte((transferLen >> 8) & 0xff),
		byte(transferLen & 0xff),
		0,
	}
}
