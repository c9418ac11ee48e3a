package txns

import (
	"github.com/Blackdeer1524/txkernel/src/pkg/common"
)

// concurrencyManager remembers the locks one transaction holds so that it
// asks the shared table only when it needs something stronger, and can
// release exactly what it acquired.
type concurrencyManager struct {
	table *LockTable
	txnID common.TxnID
	locks map[common.BlockID]SimpleLockMode
}

func newConcurrencyManager(table *LockTable, txnID common.TxnID) *concurrencyManager {
	return &concurrencyManager{
		table: table,
		txnID: txnID,
		locks: map[common.BlockID]SimpleLockMode{},
	}
}

func (c *concurrencyManager) SLock(blk common.BlockID) error {
	return c.lock(blk, SimpleLockShared)
}

func (c *concurrencyManager) XLock(blk common.BlockID) error {
	return c.lock(blk, SimpleLockExclusive)
}

func (c *concurrencyManager) lock(blk common.BlockID, mode SimpleLockMode) error {
	held, ok := c.locks[blk]
	if ok && mode.WeakerOrEqual(held) {
		return nil
	}

	if err := c.table.Lock(NewTxnLockRequest(c.txnID, blk, mode)); err != nil {
		return err
	}
	if ok {
		mode = held.Combine(mode)
	}
	c.locks[blk] = mode
	return nil
}

func (c *concurrencyManager) ReleaseAll() {
	for blk := range c.locks {
		c.table.Release(blk, c.txnID)
	}
	clear(c.locks)
}
