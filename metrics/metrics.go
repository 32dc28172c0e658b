// Package metrics exposes the Prometheus collectors the ingestion core
// updates as it runs. It is read-only instrumentation: nothing in this
// package makes scheduling or behavior decisions, it only counts what
// already happened elsewhere.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ChunkInserts counts chunks newly written to the chunk store.
	ChunkInserts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "backupcore",
		Subsystem: "chunk_store",
		Name:      "inserts_total",
		Help:      "Chunks newly persisted to the chunk store.",
	})

	// ChunkDuplicates counts inserts that found existing content.
	ChunkDuplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "backupcore",
		Subsystem: "chunk_store",
		Name:      "duplicates_total",
		Help:      "Chunk inserts that matched content already stored.",
	})

	// ChunkBytesStored sums the on-disk (compressed) bytes written.
	ChunkBytesStored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "backupcore",
		Subsystem: "chunk_store",
		Name:      "bytes_stored_total",
		Help:      "Compressed bytes written to the chunk store.",
	})

	// SessionsActive is the gauge for open backup sessions. Nothing in this
	// module sets it, so it stays at 0.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "backupcore",
		Subsystem: "backup",
		Name:      "sessions_active",
		Help:      "Backup sessions that have not yet called FinishBackup or RemoveBackup.",
	})

	// WorkersActive is the gauge for running worker tasks. Nothing in this
	// module sets it, so it stays at 0.
	WorkersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "backupcore",
		Subsystem: "worker",
		Name:      "tasks_active",
		Help:      "Worker tasks registered and not yet finished.",
	})
)

// Registry bundles every collector this package owns so cmd/pbs-serverd can
// register them with a single call.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(ChunkInserts, ChunkDuplicates, ChunkBytesStored, SessionsActive, WorkersActive)
}
