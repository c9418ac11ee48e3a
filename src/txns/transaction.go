package txns

import (
	"errors"
	"fmt"

	"github.com/Blackdeer1524/txkernel/src"
	"github.com/Blackdeer1524/txkernel/src/bufferpool"
	"github.com/Blackdeer1524/txkernel/src/pkg/common"
	"github.com/Blackdeer1524/txkernel/src/pkg/metrics"
	"github.com/Blackdeer1524/txkernel/src/recovery"
)

var (
	ErrTxnFinished    = errors.New("transaction already finished")
	ErrBlockNotPinned = errors.New("block is not pinned by the transaction")
)

// FileManager is the part of the disk manager transactions use directly.
type FileManager interface {
	Size(fileName string) (int, error)
	Append(fileName string) (common.BlockID, error)
}

// Transaction is one unit of work. It is not safe for concurrent use:
// each goroutine runs its own transactions.
type Transaction struct {
	txnID common.TxnID

	files       FileManager
	pool        bufferpool.BufferPool
	concurrency *concurrencyManager
	buffers     *bufferList
	logger      *recovery.TxnLoggerWithContext

	finished bool
	onFinish func()

	log     src.Logger
	metrics *metrics.Metrics
}

var _ recovery.Undoer = &Transaction{}

func (tx *Transaction) TxnID() common.TxnID {
	return tx.txnID
}

func (tx *Transaction) checkActive() error {
	if tx.finished {
		return fmt.Errorf("%w: txn %d", ErrTxnFinished, tx.txnID)
	}
	return nil
}

func (tx *Transaction) Pin(blk common.BlockID) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	return tx.buffers.Pin(blk)
}

// Unpin releases one pin of blk. After commit or rollback every pin is
// already gone and Unpin does nothing.
func (tx *Transaction) Unpin(blk common.BlockID) {
	if tx.finished {
		return
	}
	tx.buffers.Unpin(blk)
}

func (tx *Transaction) pinned(blk common.BlockID) (*bufferpool.Buffer, error) {
	buf, ok := tx.buffers.Get(blk)
	if !ok {
		return nil, fmt.Errorf("%w: txn %d, %s", ErrBlockNotPinned, tx.txnID, blk)
	}
	return buf, nil
}

func (tx *Transaction) GetInt(blk common.BlockID, offset int) (int32, error) {
	if err := tx.checkActive(); err != nil {
		return 0, err
	}
	if err := tx.concurrency.SLock(blk); err != nil {
		return 0, err
	}
	buf, err := tx.pinned(blk)
	if err != nil {
		return 0, err
	}
	return buf.Contents().GetInt(offset), nil
}

func (tx *Transaction) GetString(blk common.BlockID, offset int) (string, error) {
	if err := tx.checkActive(); err != nil {
		return "", err
	}
	if err := tx.concurrency.SLock(blk); err != nil {
		return "", err
	}
	buf, err := tx.pinned(blk)
	if err != nil {
		return "", err
	}
	return buf.Contents().GetString(offset), nil
}

// SetInt writes val at offset of the pinned block. With shouldLog the old
// value is logged first so that the change can be undone.
func (tx *Transaction) SetInt(blk common.BlockID, offset int, val int32, shouldLog bool) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	if err := tx.concurrency.XLock(blk); err != nil {
		return err
	}
	buf, err := tx.pinned(blk)
	if err != nil {
		return err
	}

	lsn := common.NilLSN
	if shouldLog {
		if lsn, err = tx.logger.SetInt(buf, offset, val); err != nil {
			return err
		}
	}
	buf.Contents().SetInt(offset, val)
	buf.SetModified(tx.txnID, lsn)
	return nil
}

func (tx *Transaction) SetString(blk common.BlockID, offset int, val string, shouldLog bool) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	if err := tx.concurrency.XLock(blk); err != nil {
		return err
	}
	buf, err := tx.pinned(blk)
	if err != nil {
		return err
	}

	lsn := common.NilLSN
	if shouldLog {
		if lsn, err = tx.logger.SetString(buf, offset, val); err != nil {
			return err
		}
	}
	buf.Contents().SetString(offset, val)
	buf.SetModified(tx.txnID, lsn)
	return nil
}

// Size returns the number of blocks in fileName. It share-locks the
// file's end so that no other transaction appends meanwhile.
func (tx *Transaction) Size(fileName string) (int, error) {
	if err := tx.checkActive(); err != nil {
		return 0, err
	}
	if err := tx.concurrency.SLock(common.EndOfFile(fileName)); err != nil {
		return 0, err
	}
	return tx.files.Size(fileName)
}

func (tx *Transaction) Append(fileName string) (common.BlockID, error) {
	if err := tx.checkActive(); err != nil {
		return common.BlockID{}, err
	}
	if err := tx.concurrency.XLock(common.EndOfFile(fileName)); err != nil {
		return common.BlockID{}, err
	}
	return tx.files.Append(fileName)
}

func (tx *Transaction) BlockSize() int {
	return tx.pool.BlockSize()
}

func (tx *Transaction) AvailableBuffers() int {
	return tx.pool.Available()
}

// Commit makes the transaction's changes durable and releases everything
// it holds. On error the transaction stays active and should be rolled
// back.
func (tx *Transaction) Commit() error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	if err := tx.logger.Commit(); err != nil {
		return fmt.Errorf("failed to commit txn %d: %w", tx.txnID, err)
	}

	tx.finish()
	tx.metrics.TxnsCommitted.Inc()
	tx.log.Debugw("committed", "txn", tx.txnID)
	return nil
}

// Rollback undoes the transaction's logged changes. Buffers and locks are
// released even if undo fails.
func (tx *Transaction) Rollback() error {
	if err := tx.checkActive(); err != nil {
		return err
	}

	err := tx.logger.Rollback()
	tx.finish()
	tx.metrics.TxnsRolledBack.Inc()
	if err != nil {
		tx.log.Errorw("rollback failed", "txn", tx.txnID, "error", err)
		return err
	}
	tx.log.Debugw("rolled back", "txn", tx.txnID)
	return nil
}

// Recover rolls back every transaction the log shows as unfinished. It is
// run by a dedicated transaction before any other starts, and finishes it.
func (tx *Transaction) Recover() error {
	if err := tx.checkActive(); err != nil {
		return err
	}

	err := tx.logger.Recover()
	tx.finish()
	return err
}

func (tx *Transaction) finish() {
	tx.concurrency.ReleaseAll()
	tx.buffers.UnpinAll()
	tx.finished = true
	tx.onFinish()
}
