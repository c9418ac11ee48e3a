package txns

import (
	"fmt"

	"github.com/Blackdeer1524/txkernel/src/pkg/common"
)

type TaggedType[T any] struct{ v T } // this trick forbids casting one lock mode to another

type SimpleLockMode TaggedType[uint8]

var (
	SimpleLockShared    SimpleLockMode = SimpleLockMode{0}
	SimpleLockExclusive SimpleLockMode = SimpleLockMode{1}
)

func (m SimpleLockMode) String() string {
	switch m {
	case SimpleLockShared:
		return "SHARED"
	case SimpleLockExclusive:
		return "EXCLUSIVE"
	default:
		return fmt.Sprintf("SimpleLockMode(%d)", m.v)
	}
}

// Combine returns the weakest mode that grants both m and other.
func (m SimpleLockMode) Combine(other SimpleLockMode) SimpleLockMode {
	if m == SimpleLockExclusive || other == SimpleLockExclusive {
		return SimpleLockExclusive
	}
	return SimpleLockShared
}

func (m SimpleLockMode) WeakerOrEqual(other SimpleLockMode) bool {
	return m == SimpleLockShared || other == SimpleLockExclusive
}

type TxnLockRequest struct {
	txnID    common.TxnID
	blk      common.BlockID
	lockMode SimpleLockMode
}

func NewTxnLockRequest(
	txnID common.TxnID,
	blk common.BlockID,
	lockMode SimpleLockMode,
) TxnLockRequest {
	return TxnLockRequest{
		txnID:    txnID,
		blk:      blk,
		lockMode: lockMode,
	}
}

func (r TxnLockRequest) String() string {
	return fmt.Sprintf("txn %d %s lock on %s", r.txnID, r.lockMode, r.blk)
}

type LockState uint8

const (
	Unlocked LockState = iota
	Shared
	Exclusive
)

func (s LockState) String() string {
	switch s {
	case Unlocked:
		return "UNLOCKED"
	case Shared:
		return "SHARED"
	case Exclusive:
		return "EXCLUSIVE"
	default:
		return fmt.Sprintf("LockState(%d)", uint8(s))
	}
}
