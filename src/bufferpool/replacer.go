package bufferpool

import (
	"container/list"
	"errors"
	"fmt"
)

var ErrNoVictimAvailable = errors.New("no victim available")

// Replacer picks the frame to reuse when a block must be loaded. All calls
// happen under the pool's mutex.
type Replacer interface {
	Pin(frameID int)
	Unpin(frameID int)
	ChooseVictim() (int, error) // returns ErrNoVictimAvailable if every frame is pinned
}

const (
	ReplacerNaive = "naive"
	ReplacerLRU   = "lru"
)

func NewReplacer(kind string, poolSize int) (Replacer, error) {
	switch kind {
	case ReplacerNaive, "":
		return NewNaiveReplacer(poolSize), nil
	case ReplacerLRU:
		return NewLRUReplacer(poolSize), nil
	default:
		return nil, fmt.Errorf("unknown replacer %q", kind)
	}
}

// NaiveReplacer returns the unpinned frame with the lowest index.
type NaiveReplacer struct {
	unpinned []bool
}

var _ Replacer = &NaiveReplacer{}

func NewNaiveReplacer(poolSize int) *NaiveReplacer {
	r := &NaiveReplacer{unpinned: make([]bool, poolSize)}
	for i := range r.unpinned {
		r.unpinned[i] = true
	}
	return r
}

func (r *NaiveReplacer) Pin(frameID int) {
	r.unpinned[frameID] = false
}

func (r *NaiveReplacer) Unpin(frameID int) {
	r.unpinned[frameID] = true
}

func (r *NaiveReplacer) ChooseVictim() (int, error) {
	for i, ok := range r.unpinned {
		if ok {
			return i, nil
		}
	}
	return 0, ErrNoVictimAvailable
}

// LRUReplacer returns the frame that has been unpinned the longest.
// Never-used frames come first, in index order.
type LRUReplacer struct {
	order    *list.List
	elements map[int]*list.Element
}

var _ Replacer = &LRUReplacer{}

func NewLRUReplacer(poolSize int) *LRUReplacer {
	r := &LRUReplacer{
		order:    list.New(),
		elements: make(map[int]*list.Element, poolSize),
	}
	for i := range poolSize {
		r.elements[i] = r.order.PushBack(i)
	}
	return r
}

func (r *LRUReplacer) Pin(frameID int) {
	if e, ok := r.elements[frameID]; ok {
		r.order.Remove(e)
		delete(r.elements, frameID)
	}
}

func (r *LRUReplacer) Unpin(frameID int) {
	if _, ok := r.elements[frameID]; ok {
		return
	}
	r.elements[frameID] = r.order.PushBack(frameID)
}

func (r *LRUReplacer) ChooseVictim() (int, error) {
	front := r.order.Front()
	if front == nil {
		return 0, ErrNoVictimAvailable
	}
	return front.Value.(int), nil
}
