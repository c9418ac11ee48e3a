package bufferpool

import (
	"sync"

	"github.com/Blackdeer1524/txkernel/src/pkg/common"
	"github.com/Blackdeer1524/txkernel/src/storage/page"
)

// Buffer is one frame of the pool. Frames live as long as the pool and
// are reassigned to other blocks in place.
type Buffer struct {
	frameID  int
	contents *page.Page

	// guarded by the pool's mutex
	blk      common.BlockID
	assigned bool
	pins     int
	// busy frames are being written out or loaded; hits on them wait
	busy bool

	// modification state is set by the owning transaction outside of the
	// pool's mutex, hence its own lock
	modMu      sync.Mutex
	modifiedBy common.TxnID
	lsn        common.LSN
}

func newBuffer(frameID int, blockSize int) Buffer {
	return Buffer{
		frameID:    frameID,
		contents:   page.New(blockSize),
		modifiedBy: common.NilTxnID,
		lsn:        common.NilLSN,
	}
}

func (b *Buffer) Contents() *page.Page {
	return b.contents
}

// Block returns the block the frame currently holds. Only meaningful while
// the caller keeps the buffer pinned.
func (b *Buffer) Block() common.BlockID {
	return b.blk
}

// SetModified records that txnID changed the page. A negative lsn means
// the change was not logged and leaves the recorded LSN untouched.
func (b *Buffer) SetModified(txnID common.TxnID, lsn common.LSN) {
	b.modMu.Lock()
	defer b.modMu.Unlock()

	b.modifiedBy = txnID
	if lsn >= 0 {
		b.lsn = lsn
	}
}

func (b *Buffer) ModifyingTxn() common.TxnID {
	b.modMu.Lock()
	defer b.modMu.Unlock()
	return b.modifiedBy
}

func (b *Buffer) IsDirty() bool {
	return b.ModifyingTxn() != common.NilTxnID
}

// LSN returns the LSN of the latest logged change to the page.
func (b *Buffer) LSN() common.LSN {
	b.modMu.Lock()
	defer b.modMu.Unlock()
	return b.lsn
}

func (b *Buffer) modification() (common.TxnID, common.LSN) {
	b.modMu.Lock()
	defer b.modMu.Unlock()
	return b.modifiedBy, b.lsn
}

// reset drops the modification state of a freshly loaded block.
func (b *Buffer) reset() {
	b.modMu.Lock()
	defer b.modMu.Unlock()
	b.modifiedBy = common.NilTxnID
	b.lsn = common.NilLSN
}

func (b *Buffer) markClean() {
	b.modMu.Lock()
	defer b.modMu.Unlock()
	b.modifiedBy = common.NilTxnID
}
