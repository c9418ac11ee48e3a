package txns

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/Blackdeer1524/txkernel/src"
	"github.com/Blackdeer1524/txkernel/src/pkg/assert"
	"github.com/Blackdeer1524/txkernel/src/pkg/common"
	"github.com/Blackdeer1524/txkernel/src/pkg/metrics"
	"github.com/Blackdeer1524/txkernel/src/pkg/utils"
)

var ErrLockTimeout = errors.New("lock wait timed out")

// lockEntry holds either shared holders or a single exclusive holder.
type lockEntry struct {
	shared    mapset.Set[common.TxnID]
	exclusive common.TxnID
}

func newLockEntry() *lockEntry {
	return &lockEntry{
		shared:    mapset.NewThreadUnsafeSet[common.TxnID](),
		exclusive: common.NilTxnID,
	}
}

func (e *lockEntry) isEmpty() bool {
	return e.exclusive == common.NilTxnID && e.shared.Cardinality() == 0
}

// LockTable grants block locks to transactions of one database. Requests
// that cannot be granted wait for a release; a request that waits longer
// than maxWait fails with ErrLockTimeout. There is no deadlock detection:
// the timeout is what breaks wait cycles.
type LockTable struct {
	mu       sync.Mutex
	locks    map[common.BlockID]*lockEntry
	released utils.Notifier
	maxWait  time.Duration

	log     src.Logger
	metrics *metrics.Metrics
}

func NewLockTable(maxWait time.Duration, log src.Logger, m *metrics.Metrics) *LockTable {
	return &LockTable{
		locks:    map[common.BlockID]*lockEntry{},
		released: utils.NewNotifier(),
		maxWait:  maxWait,
		log:      log,
		metrics:  m,
	}
}

// Lock blocks until req can be granted. A shared lock held only by the
// requester is promoted to exclusive in place.
func (t *LockTable) Lock(req TxnLockRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.grantAssumeLocked(req) {
		return nil
	}

	t.metrics.LockWaits.Inc()
	deadline := time.Now().Add(t.maxWait)
	if !utils.WaitUntil(&t.mu, &t.released, deadline, func() bool {
		return t.grantAssumeLocked(req)
	}) {
		t.metrics.LockTimeouts.Inc()
		t.log.Warnw("lock wait timed out", "request", req.String(), "wait", t.maxWait)
		return fmt.Errorf("%w: %s", ErrLockTimeout, req)
	}
	return nil
}

func (t *LockTable) grantAssumeLocked(req TxnLockRequest) bool {
	e, ok := t.locks[req.blk]
	if !ok {
		e = newLockEntry()
		t.locks[req.blk] = e
	}

	if e.exclusive != common.NilTxnID {
		return e.exclusive == req.txnID
	}

	switch req.lockMode {
	case SimpleLockShared:
		e.shared.Add(req.txnID)
		return true
	case SimpleLockExclusive:
		switch {
		case e.shared.Cardinality() == 0:
		case e.shared.Cardinality() == 1 && e.shared.Contains(req.txnID):
			e.shared.Clear()
		default:
			return false
		}
		e.exclusive = req.txnID
		return true
	default:
		assert.Assert(false, "invalid lock mode %s", req.lockMode)
		panic("unreachable")
	}
}

// Release drops whatever lock txnID holds on blk.
func (t *LockTable) Release(blk common.BlockID, txnID common.TxnID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.locks[blk]
	assert.Assert(ok, "txn %d releases %s which is not locked", txnID, blk)

	if e.exclusive == txnID {
		e.exclusive = common.NilTxnID
	} else {
		assert.Assert(e.shared.Contains(txnID), "txn %d does not hold a lock on %s", txnID, blk)
		e.shared.Remove(txnID)
	}

	if e.isEmpty() {
		delete(t.locks, blk)
	}
	t.released.Broadcast()
}

// State reports the lock currently held on blk and its holders in
// ascending order.
func (t *LockTable) State(blk common.BlockID) (LockState, []common.TxnID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.locks[blk]
	if !ok || e.isEmpty() {
		return Unlocked, nil
	}
	if e.exclusive != common.NilTxnID {
		return Exclusive, []common.TxnID{e.exclusive}
	}

	holders := e.shared.ToSlice()
	slices.Sort(holders)
	return Shared, holders
}

// LockedBlocks returns the number of blocks with at least one holder.
func (t *LockTable) LockedBlocks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
