package txns

import (
	"github.com/Blackdeer1524/txkernel/src/bufferpool"
	"github.com/Blackdeer1524/txkernel/src/pkg/assert"
	"github.com/Blackdeer1524/txkernel/src/pkg/common"
)

// bufferList tracks the buffers one transaction pinned. A block pinned
// several times keeps its frame until it has been unpinned as many times.
type bufferList struct {
	pool    bufferpool.BufferPool
	buffers map[common.BlockID]*bufferpool.Buffer
	pins    map[common.BlockID]int
}

func newBufferList(pool bufferpool.BufferPool) *bufferList {
	return &bufferList{
		pool:    pool,
		buffers: map[common.BlockID]*bufferpool.Buffer{},
		pins:    map[common.BlockID]int{},
	}
}

func (l *bufferList) Get(blk common.BlockID) (*bufferpool.Buffer, bool) {
	buf, ok := l.buffers[blk]
	return buf, ok
}

func (l *bufferList) Pin(blk common.BlockID) error {
	buf, err := l.pool.Pin(blk)
	if err != nil {
		return err
	}
	l.buffers[blk] = buf
	l.pins[blk]++
	return nil
}

func (l *bufferList) Unpin(blk common.BlockID) {
	buf, ok := l.buffers[blk]
	assert.Assert(ok, "block %s is not pinned", blk)

	l.pool.Unpin(buf)
	l.pins[blk]--
	if l.pins[blk] == 0 {
		delete(l.pins, blk)
		delete(l.buffers, blk)
	}
}

func (l *bufferList) UnpinAll() {
	for blk, n := range l.pins {
		buf := l.buffers[blk]
		for range n {
			l.pool.Unpin(buf)
		}
	}
	clear(l.pins)
	clear(l.buffers)
}
