package backup

import (
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// UploadStatistic accumulates the counters spec.md §4.4 requires a session
// to report once a writer closes: how many chunks were seen, how many were
// already present in the chunk store, and the raw vs. compressed byte
// totals. One instance lives per writer; Environment.Stats aggregates them
// for the whole session.
type UploadStatistic struct {
	ChunkCount     uint64
	Duplicates     uint64
	Size           uint64 // raw bytes across all chunks this writer has seen
	CompressedSize uint64 // compressed bytes across all chunks this writer has seen, duplicates included
}

func (s *UploadStatistic) record(size, compressedSize uint32, duplicate bool) {
	s.ChunkCount++
	s.Size += uint64(size)
	s.CompressedSize += uint64(compressedSize)
	if duplicate {
		s.Duplicates++
	}
}

// logUploadStat writes the single human-readable summary line a finished
// writer emits to the session log, in the style of the teacher's
// humanize-backed log lines.
func logUploadStat(log *logrus.Entry, writerName string, s UploadStatistic) {
	ratio := 100.0
	if s.Size > 0 {
		ratio = float64(s.CompressedSize) / float64(s.Size) * 100.0
	}
	log.Infof("%s: added %s in %d chunks (%d duplicates, compressed to %s, %.1f%%)",
		writerName,
		humanize.Bytes(s.Size),
		s.ChunkCount,
		s.Duplicates,
		humanize.Bytes(s.CompressedSize),
		ratio,
	)
}
