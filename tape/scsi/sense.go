package scsi

// SenseInfo is the {sense key, additional sense code, additional sense code
// qualifier} triple a failed SCSI command reports. Grounded on the
// SenseInfo matches in sg_tape.rs (e.g. `SenseInfo { sense_key: 0, asc: 0,
// ascq: 1 }` for a filemark).
type SenseInfo struct {
	Key  byte
	Asc  byte
	Ascq byte
}

const (
	senseKeyNoSense    = 0x00
	senseKeyBlankCheck = 0x08

	ascFilemarkOrEOM = 0x00
)

// isFilemark reports the (0,0,1) triple sg_tape.rs matches in check_filemark
// and read_block: the drive stopped having just crossed a filemark.
func (s SenseInfo) isFilemark() bool {
	return s.Key == senseKeyNoSense && s.Asc == ascFilemarkOrEOM && s.Ascq == 0x01
}

// isLEOM reports the (0,0,2) triple: Logical End Of Media, the early
// warning a write_filemarks/write_block call reclassifies as success.
func (s SenseInfo) isLEOM() bool {
	return s.Key == senseKeyNoSense && s.Asc == ascFilemarkOrEOM && s.Ascq == 0x02
}

// isEndOfStream reports the (8,0,5) BLANK CHECK triple read_block
// reclassifies as EndOfStream (no more filemarks, genuinely out of data).
func (s SenseInfo) isEndOfStream() bool {
	return s.Key == senseKeyBlankCheck && s.Asc == ascFilemarkOrEOM && s.Ascq == 0x05
}

// BlockReadStatus is read_block's result: either a genuine read of n bytes,
// or one of the two non-error conditions a tape read can stop on.
type BlockReadStatus struct {
	N           int
	EndOfFile   bool // crossed a filemark
	EndOfStream bool // blank check: no more data, no filemark
}

// Ok reports whether this is a genuine data read rather than an EOF/EOS
// stop condition.
func (s BlockReadStatus) Ok() bool { return !s.EndOfFile && !s.EndOfStream }
