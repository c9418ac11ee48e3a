package txns

import (
	"sync/atomic"

	"github.com/Blackdeer1524/txkernel/src"
	"github.com/Blackdeer1524/txkernel/src/bufferpool"
	"github.com/Blackdeer1524/txkernel/src/pkg/common"
	"github.com/Blackdeer1524/txkernel/src/pkg/metrics"
	"github.com/Blackdeer1524/txkernel/src/recovery"
)

// TxnManager starts the transactions of one database and hands each of
// them the shared lock table.
type TxnManager struct {
	lastTxnID atomic.Int32
	active    atomic.Int64

	locks  *LockTable
	files  FileManager
	pool   bufferpool.BufferPool
	logger *recovery.TxnLogger

	log     src.Logger
	metrics *metrics.Metrics
}

func NewTxnManager(
	locks *LockTable,
	files FileManager,
	pool bufferpool.BufferPool,
	logger *recovery.TxnLogger,
	log src.Logger,
	m *metrics.Metrics,
) *TxnManager {
	return &TxnManager{
		locks:   locks,
		files:   files,
		pool:    pool,
		logger:  logger,
		log:     log,
		metrics: m,
	}
}

// Begin assigns the next transaction number and logs its start.
func (m *TxnManager) Begin() (*Transaction, error) {
	txnID := common.TxnID(m.lastTxnID.Add(1))
	tx := &Transaction{
		txnID:       txnID,
		files:       m.files,
		pool:        m.pool,
		concurrency: newConcurrencyManager(m.locks, txnID),
		buffers:     newBufferList(m.pool),
		log:         m.log,
		metrics:     m.metrics,
	}
	tx.onFinish = func() {
		m.active.Add(-1)
		m.metrics.TxnsActive.Dec()
	}

	logger, err := m.logger.WithContext(tx, txnID)
	if err != nil {
		return nil, err
	}
	tx.logger = logger

	m.active.Add(1)
	m.metrics.TxnsStarted.Inc()
	m.metrics.TxnsActive.Inc()
	return tx, nil
}

// Recover runs crash recovery in a transaction of its own.
func (m *TxnManager) Recover() error {
	tx, err := m.Begin()
	if err != nil {
		return err
	}
	return tx.Recover()
}

// Active returns the number of transactions that have neither committed
// nor rolled back.
func (m *TxnManager) Active() int {
	return int(m.active.Load())
}

func (m *TxnManager) Locks() *LockTable {
	return m.locks
}
