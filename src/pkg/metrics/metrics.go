// Package metrics holds the prometheus collectors shared by the kernel
// components of one database instance.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "txkernel"

type Metrics struct {
	BlocksRead     prometheus.Counter
	BlocksWritten  prometheus.Counter
	BlocksAppended prometheus.Counter

	LogRecordsAppended prometheus.Counter
	LogFlushes         prometheus.Counter

	BufferHits        prometheus.Counter
	BufferMisses      prometheus.Counter
	BufferEvictions   prometheus.Counter
	BufferExhaustions prometheus.Counter

	LockWaits    prometheus.Counter
	LockTimeouts prometheus.Counter

	TxnsStarted    prometheus.Counter
	TxnsCommitted  prometheus.Counter
	TxnsRolledBack prometheus.Counter
	TxnsActive     prometheus.Gauge

	RecordsUndone prometheus.Counter
}

func counter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// New builds the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests and embedded callers usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BlocksRead:     counter("disk", "blocks_read_total", "Blocks read from disk."),
		BlocksWritten:  counter("disk", "blocks_written_total", "Blocks written to disk."),
		BlocksAppended: counter("disk", "blocks_appended_total", "Blocks appended to files."),

		LogRecordsAppended: counter("wal", "records_appended_total", "Log records appended."),
		LogFlushes:         counter("wal", "flushes_total", "Log page flushes."),

		BufferHits:        counter("bufferpool", "hits_total", "Pins served by a resident frame."),
		BufferMisses:      counter("bufferpool", "misses_total", "Pins that loaded a block from disk."),
		BufferEvictions:   counter("bufferpool", "evictions_total", "Frames reassigned to another block."),
		BufferExhaustions: counter("bufferpool", "exhaustions_total", "Pins that timed out waiting for a frame."),

		LockWaits:    counter("locks", "waits_total", "Lock requests that had to wait."),
		LockTimeouts: counter("locks", "timeouts_total", "Lock requests that timed out."),

		TxnsStarted:    counter("txns", "started_total", "Transactions started."),
		TxnsCommitted:  counter("txns", "committed_total", "Transactions committed."),
		TxnsRolledBack: counter("txns", "rolled_back_total", "Transactions rolled back."),
		TxnsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "txns",
			Name:      "active",
			Help:      "Transactions currently running.",
		}),

		RecordsUndone: counter("recovery", "records_undone_total", "Data log records undone by rollback or recovery."),
	}

	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.BlocksRead, m.BlocksWritten, m.BlocksAppended,
		m.LogRecordsAppended, m.LogFlushes,
		m.BufferHits, m.BufferMisses, m.BufferEvictions, m.BufferExhaustions,
		m.LockWaits, m.LockTimeouts,
		m.TxnsStarted, m.TxnsCommitted, m.TxnsRolledBack, m.TxnsActive,
		m.RecordsUndone,
	}
}
