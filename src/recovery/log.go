// Package recovery writes the undo log and uses it to roll back single
// transactions and to recover the database after a crash.
package recovery

import (
	"fmt"
	"io"
	"iter"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/Blackdeer1524/txkernel/src"
	"github.com/Blackdeer1524/txkernel/src/bufferpool"
	"github.com/Blackdeer1524/txkernel/src/pkg/common"
	"github.com/Blackdeer1524/txkernel/src/pkg/metrics"
	"github.com/Blackdeer1524/txkernel/src/wal"
)

type LogStore interface {
	Append(rec []byte) (common.LSN, error)
	Flush(lsn common.LSN) error
	Iterator() (*wal.Iterator, error)
}

type BufferFlusher interface {
	FlushAll(txnID common.TxnID) error
}

// TxnLogger is shared by every transaction of a database. Per-transaction
// state lives in the value returned by WithContext.
type TxnLogger struct {
	logs LogStore
	pool BufferFlusher

	log     src.Logger
	metrics *metrics.Metrics
}

func NewTxnLogger(
	logs LogStore,
	pool BufferFlusher,
	log src.Logger,
	m *metrics.Metrics,
) *TxnLogger {
	return &TxnLogger{
		logs:    logs,
		pool:    pool,
		log:     log,
		metrics: m,
	}
}

// WithContext writes a START record for txnID. tx is used to apply undo
// images during rollback and recovery.
func (l *TxnLogger) WithContext(tx Undoer, txnID common.TxnID) (*TxnLoggerWithContext, error) {
	if _, err := l.append(NewStartLogRecord(txnID)); err != nil {
		return nil, err
	}
	return &TxnLoggerWithContext{logger: l, tx: tx, txnID: txnID}, nil
}

// Records returns the durable log as typed records, newest first.
func (l *TxnLogger) Records() (iter.Seq2[LogRecord, error], error) {
	it, err := l.logs.Iterator()
	if err != nil {
		return nil, err
	}
	return Records(it.All()), nil
}

// Dump prints every durable record, newest first, and returns how many
// were printed.
func (l *TxnLogger) Dump(w io.Writer) (int, error) {
	records, err := l.Records()
	if err != nil {
		return 0, err
	}

	n := 0
	for rec, err := range records {
		if err != nil {
			return n, err
		}
		if _, err := fmt.Fprintln(w, rec.String()); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (l *TxnLogger) append(rec LogRecord) (common.LSN, error) {
	data, err := rec.MarshalBinary()
	if err != nil {
		return common.NilLSN, err
	}

	lsn, err := l.logs.Append(data)
	if err != nil {
		return common.NilLSN, fmt.Errorf("failed to append %s: %w", rec, err)
	}
	return lsn, nil
}

// appendAndFlush forces the record to disk before returning.
func (l *TxnLogger) appendAndFlush(rec LogRecord) error {
	lsn, err := l.append(rec)
	if err != nil {
		return err
	}
	return l.logs.Flush(lsn)
}

type TxnLoggerWithContext struct {
	logger *TxnLogger
	tx     Undoer
	txnID  common.TxnID
}

// SetInt logs the value currently stored at offset of buf so that it can
// be restored later. The caller applies newVal afterwards and stamps buf
// with the returned LSN.
func (l *TxnLoggerWithContext) SetInt(
	buf *bufferpool.Buffer,
	offset int,
	newVal int32,
) (common.LSN, error) {
	oldVal := buf.Contents().GetInt(offset)
	rec := NewSetIntLogRecord(l.txnID, buf.Block(), offset, oldVal)

	lsn, err := l.logger.append(rec)
	if err != nil {
		return common.NilLSN, err
	}
	l.logger.log.Debugw("logged int update",
		"txn", l.txnID, "block", buf.Block(), "offset", offset, "old", oldVal, "new", newVal, "lsn", lsn)
	return lsn, nil
}

func (l *TxnLoggerWithContext) SetString(
	buf *bufferpool.Buffer,
	offset int,
	newVal string,
) (common.LSN, error) {
	oldVal, err := buf.Contents().ReadString(offset)
	if err != nil {
		return common.NilLSN, fmt.Errorf("failed to read old value at offset %d of %s: %w", offset, buf.Block(), err)
	}
	rec := NewSetStringLogRecord(l.txnID, buf.Block(), offset, oldVal)

	lsn, err := l.logger.append(rec)
	if err != nil {
		return common.NilLSN, err
	}
	l.logger.log.Debugw("logged string update",
		"txn", l.txnID, "block", buf.Block(), "offset", offset, "old", oldVal, "new", newVal, "lsn", lsn)
	return lsn, nil
}

// Commit forces the transaction's pages and then its COMMIT record to disk.
func (l *TxnLoggerWithContext) Commit() error {
	if err := l.logger.pool.FlushAll(l.txnID); err != nil {
		return fmt.Errorf("failed to flush buffers of txn %d: %w", l.txnID, err)
	}
	return l.logger.appendAndFlush(NewCommitLogRecord(l.txnID))
}

// Rollback undoes the transaction's changes newest first and writes a
// ROLLBACK record.
func (l *TxnLoggerWithContext) Rollback() error {
	if err := l.undoOwnChanges(); err != nil {
		return fmt.Errorf("failed to roll back txn %d: %w", l.txnID, err)
	}
	if err := l.logger.pool.FlushAll(l.txnID); err != nil {
		return fmt.Errorf("failed to flush buffers of txn %d: %w", l.txnID, err)
	}
	return l.logger.appendAndFlush(NewRollbackLogRecord(l.txnID))
}

func (l *TxnLoggerWithContext) undoOwnChanges() error {
	records, err := l.logger.Records()
	if err != nil {
		return err
	}

	undone := 0
	for rec, err := range records {
		if err != nil {
			return err
		}
		if rec.TxnID() != l.txnID {
			continue
		}
		if rec.Tag() == TypeStart {
			break
		}

		if r, ok := rec.(RevertableLogRecord); ok {
			if err := r.Undo(l.tx); err != nil {
				return fmt.Errorf("failed to undo %s: %w", r, err)
			}
			undone++
		}
	}

	l.logger.metrics.RecordsUndone.Add(float64(undone))
	l.logger.log.Debugw("rolled back", "txn", l.txnID, "undone", undone)
	return nil
}

// Recover undoes every change of transactions that neither committed nor
// rolled back, back to the latest checkpoint, and writes a new checkpoint.
// It must run before any other transaction starts.
func (l *TxnLoggerWithContext) Recover() error {
	if err := l.undoIncomplete(); err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}
	if err := l.logger.pool.FlushAll(l.txnID); err != nil {
		return fmt.Errorf("failed to flush recovered buffers: %w", err)
	}
	return l.logger.appendAndFlush(CheckpointLogRecord{})
}

func (l *TxnLoggerWithContext) undoIncomplete() error {
	records, err := l.logger.Records()
	if err != nil {
		return err
	}

	finished := mapset.NewThreadUnsafeSet[common.TxnID]()
	incomplete := mapset.NewThreadUnsafeSet[common.TxnID]()
	undone := 0
	for rec, err := range records {
		if err != nil {
			return err
		}

		if rec.Tag() == TypeCheckpoint {
			break
		}
		if rec.Tag() == TypeCommit || rec.Tag() == TypeRollback {
			finished.Add(rec.TxnID())
			continue
		}

		r, ok := rec.(RevertableLogRecord)
		if !ok || finished.Contains(r.TxnID()) {
			continue
		}
		if err := r.Undo(l.tx); err != nil {
			return fmt.Errorf("failed to undo %s: %w", r, err)
		}
		incomplete.Add(r.TxnID())
		undone++
	}

	l.logger.metrics.RecordsUndone.Add(float64(undone))
	l.logger.log.Infow("recovery finished",
		"undone", undone,
		"incomplete_txns", incomplete.Cardinality(),
		"finished_txns", finished.Cardinality(),
	)
	return nil
}
