package common

import "fmt"

type TxnID int32

// NilTxnID marks a buffer that no transaction has modified since it was
// loaded or last flushed.
const NilTxnID TxnID = -1

type LSN int64

const NilLSN LSN = -1

// EndOfFileBlockNum addresses the sentinel block that guards a file's size.
const EndOfFileBlockNum = -1

// BlockID identifies a block of a database file.
type BlockID struct {
	FileName string
	Number   int
}

func NewBlockID(fileName string, number int) BlockID {
	return BlockID{FileName: fileName, Number: number}
}

// EndOfFile returns the sentinel block that is locked to serialize appends
// to fileName.
func EndOfFile(fileName string) BlockID {
	return BlockID{FileName: fileName, Number: EndOfFileBlockNum}
}

func (b BlockID) String() string {
	return fmt.Sprintf("[file %s, block %d]", b.FileName, b.Number)
}
