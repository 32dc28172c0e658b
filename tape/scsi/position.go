package scsi

import (
	"encoding/binary"
	"fmt"
)

// ReadPositionLongPage is READ POSITION's long-form response (service
// action 0x06): 32 bytes, big-endian. Field layout and sizes mirror
// sg_tape.rs's `#[repr(C, packed)] struct ReadPositionLongPage`.
type ReadPositionLongPage struct {
	Flags               byte
	PartitionNumber     uint32
	LogicalObjectNumber uint64
	LogicalFileID       uint64
}

const readPositionLongPageSize = 32

func decodeReadPositionLongPage(data []byte) (ReadPositionLongPage, error) {
	var page ReadPositionLongPage
	if len(data) != readPositionLongPageSize {
		return page, fmt.Errorf("read position: got unexpected data len (%d != %d)", len(data), readPositionLongPageSize)
	}

	page.Flags = data[0]
	// data[1:4] reserved
	page.PartitionNumber = binary.BigEndian.Uint32(data[4:8])
	page.LogicalObjectNumber = binary.BigEndian.Uint64(data[8:16])
	page.LogicalFileID = binary.BigEndian.Uint64(data[16:24])
	// data[24:32] obsolete
	return page, nil
}
