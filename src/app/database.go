package app

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/txkernel/src"
	"github.com/Blackdeer1524/txkernel/src/bufferpool"
	"github.com/Blackdeer1524/txkernel/src/pkg/common"
	"github.com/Blackdeer1524/txkernel/src/pkg/metrics"
	"github.com/Blackdeer1524/txkernel/src/recovery"
	"github.com/Blackdeer1524/txkernel/src/storage/disk"
	"github.com/Blackdeer1524/txkernel/src/txns"
	"github.com/Blackdeer1524/txkernel/src/wal"
)

var (
	ErrTxnsActive   = errors.New("transactions are still active")
	ErrNotRecovered = errors.New("database has not been recovered")
)

// Database is one open database directory together with the shared
// kernel components serving it.
type Database struct {
	id  uuid.UUID
	cfg Config

	disk   *disk.Manager
	logs   *wal.Manager
	pool   *bufferpool.Manager
	logger *recovery.TxnLogger
	txns   *txns.TxnManager

	// Transaction numbers restart on every open, so new transactions
	// are only safe once a checkpoint separates them from the old log.
	recovered atomic.Bool

	log     src.Logger
	metrics *metrics.Metrics
}

type Stats struct {
	ActiveTxns       int
	AvailableBuffers int
	LockedBlocks     int
	FlushedLSN       common.LSN
	LatestLSN        common.LSN
}

// Open opens the database in cfg.Dir on fs, creating it when missing. An
// existing database is recovered before Open returns unless
// cfg.RecoverOnOpen is off. reg may be nil.
func Open(fs afero.Fs, cfg Config, log src.Logger, reg prometheus.Registerer) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := metrics.New(reg)

	d, err := disk.New(fs, cfg.Dir, cfg.BlockSize, log, m)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Dir, err)
	}

	db, err := open(d, cfg, log, m)
	if err != nil {
		return nil, errors.Join(err, d.Close())
	}
	return db, nil
}

func open(d *disk.Manager, cfg Config, log src.Logger, m *metrics.Metrics) (*Database, error) {
	logs, err := wal.New(d, cfg.LogFile, log, m)
	if err != nil {
		return nil, fmt.Errorf("failed to open log %s: %w", cfg.LogFile, err)
	}

	replacer, err := bufferpool.NewReplacer(cfg.Replacer, cfg.BufferCount)
	if err != nil {
		return nil, err
	}
	pool := bufferpool.New(cfg.BufferCount, replacer, d, logs, cfg.BufferMaxWait.Duration, log, m)

	logger := recovery.NewTxnLogger(logs, pool, log, m)
	mgr := txns.NewTxnManager(
		txns.NewLockTable(cfg.LockMaxWait.Duration, log, m),
		d,
		pool,
		logger,
		log,
		m,
	)

	db := &Database{
		id:      uuid.New(),
		cfg:     cfg,
		disk:    d,
		logs:    logs,
		pool:    pool,
		logger:  logger,
		txns:    mgr,
		log:     log,
		metrics: m,
	}

	if d.IsNew() {
		log.Infow("creating new database", "id", db.id, "dir", cfg.Dir)
		db.recovered.Store(true)
		return db, nil
	}

	log.Infow("opened existing database", "id", db.id, "dir", cfg.Dir)
	if cfg.RecoverOnOpen {
		log.Infow("recovering database", "id", db.id)
		if err := db.Recover(); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// ID identifies this open instance in logs. It changes on every Open.
func (db *Database) ID() uuid.UUID {
	return db.id
}

func (db *Database) Config() Config {
	return db.cfg
}

// NewTx starts a transaction. An existing database opened without
// RecoverOnOpen must be recovered first.
func (db *Database) NewTx() (*txns.Transaction, error) {
	if !db.recovered.Load() {
		return nil, ErrNotRecovered
	}
	return db.txns.Begin()
}

// Recover runs crash recovery. It must not race with running
// transactions, so it refuses to start while any are active.
func (db *Database) Recover() error {
	if n := db.txns.Active(); n > 0 {
		return fmt.Errorf("%w: %d", ErrTxnsActive, n)
	}
	if err := db.txns.Recover(); err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}
	db.recovered.Store(true)
	return nil
}

// DumpLog prints the durable log, newest record first.
func (db *Database) DumpLog(w io.Writer) (int, error) {
	return db.logger.Dump(w)
}

func (db *Database) Stats() Stats {
	return Stats{
		ActiveTxns:       db.txns.Active(),
		AvailableBuffers: db.pool.Available(),
		LockedBlocks:     db.txns.Locks().LockedBlocks(),
		FlushedLSN:       db.logs.FlushedLSN(),
		LatestLSN:        db.logs.LatestLSN(),
	}
}

func (db *Database) Metrics() *metrics.Metrics {
	return db.metrics
}

// Close flushes the log tail and releases the open files. Uncommitted
// changes are not written; the next Open rolls them back.
func (db *Database) Close() error {
	if n := db.txns.Active(); n > 0 {
		db.log.Warnw("closing database with active transactions", "id", db.id, "active", n)
	}

	err := db.logs.Flush(db.logs.LatestLSN())
	if err != nil {
		err = fmt.Errorf("failed to flush log: %w", err)
	}
	return errors.Join(err, db.disk.Close())
}
