// Package bufferpool caches disk blocks in a fixed arena of frames.
package bufferpool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Blackdeer1524/txkernel/src"
	"github.com/Blackdeer1524/txkernel/src/pkg/assert"
	"github.com/Blackdeer1524/txkernel/src/pkg/common"
	"github.com/Blackdeer1524/txkernel/src/pkg/metrics"
	"github.com/Blackdeer1524/txkernel/src/pkg/utils"
	"github.com/Blackdeer1524/txkernel/src/storage/page"
)

var ErrBufferExhausted = errors.New("no unpinned buffer became available")

type BlockDevice interface {
	Read(blk common.BlockID, pg *page.Page) error
	Write(blk common.BlockID, pg *page.Page) error
	BlockSize() int
}

type LogFlusher interface {
	Flush(lsn common.LSN) error
}

type BufferPool interface {
	Pin(blk common.BlockID) (*Buffer, error)
	Unpin(buf *Buffer)
	FlushAll(txnID common.TxnID) error
	Available() int
	BlockSize() int
}

// Manager owns the frames. Its mutex guards the page table and pin counts
// only: disk and log I/O happen with the frame marked busy and the mutex
// released.
type Manager struct {
	mu        sync.Mutex
	frames    []Buffer
	pageTable map[common.BlockID]int
	available int
	unpinned  utils.Notifier

	replacer Replacer
	disk     BlockDevice
	logs     LogFlusher
	maxWait  time.Duration

	log     src.Logger
	metrics *metrics.Metrics
}

var _ BufferPool = &Manager{}

func New(
	poolSize int,
	replacer Replacer,
	disk BlockDevice,
	logs LogFlusher,
	maxWait time.Duration,
	log src.Logger,
	m *metrics.Metrics,
) *Manager {
	assert.Assert(poolSize > 0, "pool size must be greater than zero")

	frames := make([]Buffer, poolSize)
	for i := range poolSize {
		frames[i] = newBuffer(i, disk.BlockSize())
	}

	return &Manager{
		frames:    frames,
		pageTable: make(map[common.BlockID]int, poolSize),
		available: poolSize,
		unpinned:  utils.NewNotifier(),
		replacer:  replacer,
		disk:      disk,
		logs:      logs,
		maxWait:   maxWait,
		log:       log,
		metrics:   m,
	}
}

func (m *Manager) BlockSize() int {
	return m.disk.BlockSize()
}

// Available returns the number of frames nobody has pinned.
func (m *Manager) Available() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// Pin returns a frame holding blk. When every frame is pinned it waits up
// to the configured timeout for one to be released and fails with
// ErrBufferExhausted otherwise.
func (m *Manager) Pin(blk common.BlockID) (*Buffer, error) {
	m.mu.Lock()

	var (
		buf  *Buffer
		load *frameLoad
		err  error
	)
	ok := utils.WaitUntil(&m.mu, &m.unpinned, time.Now().Add(m.maxWait), func() bool {
		buf, load, err = m.reserveAssumeLocked(blk)
		return buf != nil || err != nil
	})
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		m.metrics.BufferExhaustions.Inc()
		m.log.Warnw("buffer pool exhausted", "block", blk, "wait", m.maxWait)
		return nil, fmt.Errorf("%w: %s", ErrBufferExhausted, blk)
	}
	if load == nil {
		return buf, nil
	}
	return m.load(blk, buf, load)
}

// frameLoad is the I/O left to do for a frame reserved by Pin.
type frameLoad struct {
	evicted common.BlockID
	evict   bool
}

// reserveAssumeLocked pins the frame for blk. A non-nil frameLoad means the
// frame was taken from another block and is busy until load finishes.
// It returns a nil buffer when the caller has to wait: either every frame
// is pinned or blk's frame is in the middle of I/O.
func (m *Manager) reserveAssumeLocked(blk common.BlockID) (*Buffer, *frameLoad, error) {
	if frameID, ok := m.pageTable[blk]; ok {
		buf := &m.frames[frameID]
		if buf.busy {
			return nil, nil, nil
		}
		m.metrics.BufferHits.Inc()
		m.pinAssumeLocked(buf)
		return buf, nil, nil
	}

	victimID, err := m.replacer.ChooseVictim()
	if errors.Is(err, ErrNoVictimAvailable) {
		return nil, nil, nil
	} else if err != nil {
		return nil, nil, err
	}

	victim := &m.frames[victimID]
	assert.Assert(victim.pins == 0 && !victim.busy, "victim frame %d is in use", victimID)

	m.pinAssumeLocked(victim)
	victim.busy = true
	// the evicted block stays mapped until its page is written, so
	// nobody reads a stale copy from disk meanwhile
	m.pageTable[blk] = victimID
	return victim, &frameLoad{evicted: victim.blk, evict: victim.assigned}, nil
}

// load writes out the evicted page of a reserved frame and reads blk into
// it. On failure the frame is released; a failed flush leaves it holding
// the evicted block.
func (m *Manager) load(blk common.BlockID, buf *Buffer, ld *frameLoad) (*Buffer, error) {
	var flushErr, readErr error
	if ld.evict {
		flushErr = m.flushBlock(ld.evicted, buf)
	}
	if flushErr == nil {
		readErr = m.disk.Read(blk, buf.contents)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	buf.busy = false
	defer m.unpinned.Broadcast()

	if flushErr != nil {
		delete(m.pageTable, blk)
		m.unpinAssumeLocked(buf)
		return nil, fmt.Errorf("failed to flush %s before eviction: %w", ld.evicted, flushErr)
	}

	if ld.evict {
		m.log.Debugw("evicted block", "block", ld.evicted, "frame", buf.frameID)
		m.metrics.BufferEvictions.Inc()
		delete(m.pageTable, ld.evicted)
		buf.assigned = false
	}

	if readErr != nil {
		delete(m.pageTable, blk)
		m.unpinAssumeLocked(buf)
		return nil, fmt.Errorf("failed to load %s: %w", blk, readErr)
	}
	m.metrics.BufferMisses.Inc()

	buf.blk = blk
	buf.assigned = true
	buf.reset()
	return buf, nil
}

func (m *Manager) pinAssumeLocked(buf *Buffer) {
	if buf.pins == 0 {
		m.available--
	}
	buf.pins++
	m.replacer.Pin(buf.frameID)
}

func (m *Manager) unpinAssumeLocked(buf *Buffer) {
	buf.pins--
	if buf.pins > 0 {
		return
	}

	m.available++
	m.replacer.Unpin(buf.frameID)
	m.unpinned.Broadcast()
}

func (m *Manager) Unpin(buf *Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	assert.Assert(buf.assigned && !buf.busy, "unpinning unassigned frame %d", buf.frameID)
	assert.Assert(buf.pins > 0, "invalid pin count for %s: %d", buf.blk, buf.pins)

	m.unpinAssumeLocked(buf)
}

// FlushAll writes every frame last modified by txnID. Frames of txnID that
// are being evicted are waited for, so on return all of its pages are on
// disk.
func (m *Manager) FlushAll(txnID common.TxnID) error {
	m.mu.Lock()

	ok := utils.WaitUntil(&m.mu, &m.unpinned, time.Now().Add(m.maxWait), func() bool {
		return !m.evictingAssumeLocked(txnID)
	})
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: eviction of pages of txn %d did not finish", ErrBufferExhausted, txnID)
	}

	type dirtyFrame struct {
		buf *Buffer
		blk common.BlockID
	}
	var dirty []dirtyFrame
	for i := range m.frames {
		buf := &m.frames[i]
		if !buf.assigned || buf.busy || buf.ModifyingTxn() != txnID {
			continue
		}
		// pinned so that nobody evicts it while it is written
		m.pinAssumeLocked(buf)
		dirty = append(dirty, dirtyFrame{buf: buf, blk: buf.blk})
	}
	m.mu.Unlock()

	var err error
	for _, f := range dirty {
		err = errors.Join(err, m.flushBlock(f.blk, f.buf))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range dirty {
		m.unpinAssumeLocked(f.buf)
	}
	return err
}

func (m *Manager) evictingAssumeLocked(txnID common.TxnID) bool {
	for i := range m.frames {
		buf := &m.frames[i]
		if buf.busy && buf.ModifyingTxn() == txnID {
			return true
		}
	}
	return false
}

// flushBlock forces the log through the frame's LSN before writing the page
// itself as blk. The frame must be pinned or busy.
func (m *Manager) flushBlock(blk common.BlockID, buf *Buffer) error {
	txnID, lsn := buf.modification()
	if txnID == common.NilTxnID {
		return nil
	}

	if lsn >= 0 {
		if err := m.logs.Flush(lsn); err != nil {
			return err
		}
	}
	if err := m.disk.Write(blk, buf.contents); err != nil {
		return err
	}
	buf.markClean()
	return nil
}
