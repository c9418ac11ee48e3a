// Package wal implements the append-only log file.
//
// The log is a sequence of blocks. Each block starts with a 4-byte boundary:
// the offset of the most recently written record. Records are packed from
// the end of the block toward its front, so reading a block from the
// boundary onwards yields its records newest first.
package wal

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Blackdeer1524/txkernel/src"
	"github.com/Blackdeer1524/txkernel/src/pkg/common"
	"github.com/Blackdeer1524/txkernel/src/pkg/metrics"
	"github.com/Blackdeer1524/txkernel/src/storage/page"
)

var ErrRecordTooLarge = errors.New("log record does not fit into a block")

const boundaryOffset = 0

// BlockDevice is the part of the disk manager the log needs.
type BlockDevice interface {
	Read(blk common.BlockID, pg *page.Page) error
	Write(blk common.BlockID, pg *page.Page) error
	Append(fileName string) (common.BlockID, error)
	Size(fileName string) (int, error)
	BlockSize() int
}

type Manager struct {
	disk    BlockDevice
	logFile string

	// mu orders LSN assignment and the writes of the log page
	mu           sync.Mutex
	logPage      *page.Page
	currentBlk   common.BlockID
	latestLSN    common.LSN
	lastSavedLSN common.LSN

	log     src.Logger
	metrics *metrics.Metrics
}

// New opens logFile, positioning the manager at its last block, or creates
// the first block of an empty log.
func New(
	disk BlockDevice,
	logFile string,
	log src.Logger,
	m *metrics.Metrics,
) (*Manager, error) {
	lm := &Manager{
		disk:    disk,
		logFile: logFile,
		logPage: page.New(disk.BlockSize()),
		log:     log,
		metrics: m,
	}

	size, err := disk.Size(logFile)
	if err != nil {
		return nil, fmt.Errorf("failed to get log size: %w", err)
	}

	if size == 0 {
		lm.currentBlk, err = lm.appendNewBlockAssumeLocked()
		if err != nil {
			return nil, err
		}
		return lm, nil
	}

	lm.currentBlk = common.NewBlockID(logFile, size-1)
	if err := disk.Read(lm.currentBlk, lm.logPage); err != nil {
		return nil, fmt.Errorf("failed to read the last log block: %w", err)
	}
	return lm, nil
}

// Append adds rec to the log and returns its LSN. LSNs start at 1 and
// strictly increase across all callers.
func (lm *Manager) Append(rec []byte) (common.LSN, error) {
	blockSize := lm.disk.BlockSize()
	bytesNeeded := len(rec) + page.IntSize
	if bytesNeeded+page.IntSize > blockSize {
		return common.NilLSN, fmt.Errorf(
			"%w: %d bytes, block size %d", ErrRecordTooLarge, len(rec), blockSize,
		)
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	free := boundary(lm.logPage)
	if free-bytesNeeded < page.IntSize {
		if err := lm.flushAssumeLocked(); err != nil {
			return common.NilLSN, err
		}

		blk, err := lm.appendNewBlockAssumeLocked()
		if err != nil {
			return common.NilLSN, err
		}
		lm.currentBlk = blk
		lm.log.Debugf("log moved to block %d", blk.Number)

		free = lm.disk.BlockSize()
	}

	recPos := free - bytesNeeded
	lm.logPage.SetBytes(recPos, rec)
	lm.logPage.SetInt(boundaryOffset, int32(recPos)) //nolint:gosec

	lm.latestLSN++
	lm.metrics.LogRecordsAppended.Inc()
	return lm.latestLSN, nil
}

// Flush makes every record up to and including lsn durable.
func (lm *Manager) Flush(lsn common.LSN) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lsn <= lm.lastSavedLSN {
		return nil
	}
	return lm.flushAssumeLocked()
}

func (lm *Manager) FlushedLSN() common.LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.lastSavedLSN
}

func (lm *Manager) LatestLSN() common.LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.latestLSN
}

// Iterator flushes the log and returns an iterator over every durable
// record, newest first.
func (lm *Manager) Iterator() (*Iterator, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if err := lm.flushAssumeLocked(); err != nil {
		return nil, err
	}
	return newIterator(lm.disk, lm.currentBlk)
}

// boundary returns the offset of the newest record in a log block. A block
// that was appended but never initialized is treated as empty.
func boundary(pg *page.Page) int {
	b := int(pg.GetInt(boundaryOffset))
	if b == 0 {
		return pg.Size()
	}
	return b
}

func (lm *Manager) appendNewBlockAssumeLocked() (common.BlockID, error) {
	blk, err := lm.disk.Append(lm.logFile)
	if err != nil {
		return common.BlockID{}, fmt.Errorf("failed to extend the log: %w", err)
	}

	lm.logPage.Clear()
	lm.logPage.SetInt(boundaryOffset, int32(lm.disk.BlockSize())) //nolint:gosec
	if err := lm.disk.Write(blk, lm.logPage); err != nil {
		return common.BlockID{}, fmt.Errorf("failed to initialize log block %d: %w", blk.Number, err)
	}
	return blk, nil
}

func (lm *Manager) flushAssumeLocked() error {
	if err := lm.disk.Write(lm.currentBlk, lm.logPage); err != nil {
		return fmt.Errorf("failed to flush the log: %w", err)
	}
	lm.lastSavedLSN = lm.latestLSN
	lm.metrics.LogFlushes.Inc()
	return nil
}
