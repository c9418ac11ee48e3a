package bufferpool

import (
	"errors"
	"fmt"

	"github.com/Blackdeer1524/txkernel/src/pkg/common"
)

// DebugBufferPool tracks blocks that are allowed to stay pinned and checks
// for pin leaks.
type DebugBufferPool struct {
	*Manager
	leakingBlocks map[common.BlockID]struct{}
}

var _ BufferPool = &DebugBufferPool{}

func NewDebugBufferPool(m *Manager) *DebugBufferPool {
	return &DebugBufferPool{Manager: m, leakingBlocks: map[common.BlockID]struct{}{}}
}

func (d *DebugBufferPool) MarkBlockAsLeaking(blk common.BlockID) {
	d.leakingBlocks[blk] = struct{}{}
}

func (d *DebugBufferPool) EnsureAllUnpinned() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	pinned := map[common.BlockID]int{}
	unpinnedLeaked := map[common.BlockID]struct{}{}
	for blk, frameID := range d.pageTable {
		pins := d.frames[frameID].pins
		if _, ok := d.leakingBlocks[blk]; ok {
			if pins == 0 {
				unpinnedLeaked[blk] = struct{}{}
			}
		} else if pins != 0 {
			pinned[blk] = pins
		}
	}

	var err error
	if len(pinned) > 0 {
		err = fmt.Errorf("not all blocks were properly unpinned: %+v", pinned)
	}
	if len(unpinnedLeaked) > 0 {
		err = errors.Join(err, fmt.Errorf(
			"not all leaked blocks stayed pinned: %+v",
			unpinnedLeaked,
		))
	}

	available := 0
	for i := range d.frames {
		if d.frames[i].pins == 0 {
			available++
		}
	}
	if available != d.available {
		err = errors.Join(err, fmt.Errorf(
			"available frame count drifted: counted %d, tracked %d",
			available,
			d.available,
		))
	}
	return err
}
