package wal

import (
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/Blackdeer1524/txkernel/src/pkg/common"
	"github.com/Blackdeer1524/txkernel/src/storage/page"
)

var ErrCorruptedLog = errors.New("corrupted log block")

// Iterator walks the durable log backwards, one block at a time.
// It is single-pass; ask the Manager for a new one to start over.
type Iterator struct {
	disk       BlockDevice
	blk        common.BlockID
	page       *page.Page
	currentPos int
}

func newIterator(disk BlockDevice, start common.BlockID) (*Iterator, error) {
	it := &Iterator{
		disk: disk,
		page: page.New(disk.BlockSize()),
	}
	if err := it.moveToBlock(start); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *Iterator) HasNext() bool {
	return it.currentPos < it.disk.BlockSize() || it.blk.Number > 0
}

// Next returns the next record, or io.EOF once the first block of the log
// has been exhausted.
func (it *Iterator) Next() ([]byte, error) {
	blockSize := it.disk.BlockSize()
	for it.currentPos == blockSize {
		if it.blk.Number == 0 {
			return nil, io.EOF
		}

		prev := common.NewBlockID(it.blk.FileName, it.blk.Number-1)
		if err := it.moveToBlock(prev); err != nil {
			return nil, err
		}
	}

	if it.currentPos+page.IntSize > blockSize {
		return nil, fmt.Errorf("%w: block %d, offset %d", ErrCorruptedLog, it.blk.Number, it.currentPos)
	}

	n := int(it.page.GetInt(it.currentPos))
	if n < 0 || it.currentPos+page.IntSize+n > blockSize {
		return nil, fmt.Errorf(
			"%w: block %d, record of %d bytes at offset %d",
			ErrCorruptedLog, it.blk.Number, n, it.currentPos,
		)
	}

	rec := it.page.GetBytes(it.currentPos)
	it.currentPos += page.IntSize + len(rec)
	return rec, nil
}

// All adapts the iterator to a range-over-func sequence. Iteration stops
// after the first error.
func (it *Iterator) All() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for it.HasNext() {
			rec, err := it.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

func (it *Iterator) moveToBlock(blk common.BlockID) error {
	if err := it.disk.Read(blk, it.page); err != nil {
		return fmt.Errorf("failed to read log block %d: %w", blk.Number, err)
	}

	it.blk = blk
	it.currentPos = boundary(it.page)
	if it.currentPos < page.IntSize || it.currentPos > it.disk.BlockSize() {
		return fmt.Errorf("%w: block %d, boundary %d", ErrCorruptedLog, blk.Number, it.currentPos)
	}
	return nil
}
