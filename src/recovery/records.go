package recovery

import (
	"errors"
	"fmt"
	"iter"

	"github.com/Blackdeer1524/txkernel/src/pkg/common"
	"github.com/Blackdeer1524/txkernel/src/storage/page"
	"github.com/Blackdeer1524/txkernel/src/wal"
)

var ErrMalformedLogRecord = errors.New("malformed log record")

type LogRecordTypeTag int32

const (
	TypeCheckpoint LogRecordTypeTag = iota
	TypeStart
	TypeCommit
	TypeRollback
	TypeSetInt
	TypeSetString
	TypeUnknown
)

func (t LogRecordTypeTag) String() string {
	switch t {
	case TypeCheckpoint:
		return "CHECKPOINT"
	case TypeStart:
		return "START"
	case TypeCommit:
		return "COMMIT"
	case TypeRollback:
		return "ROLLBACK"
	case TypeSetInt:
		return "SETINT"
	case TypeSetString:
		return "SETSTRING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(t))
	}
}

// LogRecord is one decoded entry of the log. Every record starts with its
// 4-byte type tag followed by the transaction number, if it has one.
type LogRecord interface {
	Tag() LogRecordTypeTag
	TxnID() common.TxnID
	MarshalBinary() ([]byte, error)
	String() string
}

// RevertableLogRecord describes a data change that can be undone.
type RevertableLogRecord interface {
	LogRecord
	Block() common.BlockID
	Undo(tx Undoer) error
}

// Undoer is the part of a transaction that undo needs: it writes the old
// value back without producing a new log record.
type Undoer interface {
	Pin(blk common.BlockID) error
	Unpin(blk common.BlockID)
	SetInt(blk common.BlockID, offset int, val int32, shouldLog bool) error
	SetString(blk common.BlockID, offset int, val string, shouldLog bool) error
}

var (
	_ LogRecord           = CheckpointLogRecord{}
	_ LogRecord           = StartLogRecord{}
	_ LogRecord           = CommitLogRecord{}
	_ LogRecord           = RollbackLogRecord{}
	_ RevertableLogRecord = SetIntLogRecord{}
	_ RevertableLogRecord = SetStringLogRecord{}
)

type CheckpointLogRecord struct{}

func (CheckpointLogRecord) Tag() LogRecordTypeTag { return TypeCheckpoint }
func (CheckpointLogRecord) TxnID() common.TxnID   { return common.NilTxnID }
func (CheckpointLogRecord) String() string        { return "<CHECKPOINT>" }

func (CheckpointLogRecord) MarshalBinary() ([]byte, error) {
	pg := page.New(page.IntSize)
	pg.SetInt(0, int32(TypeCheckpoint))
	return pg.GetData(), nil
}

// txnRecord is the shared shape of START, COMMIT and ROLLBACK.
type txnRecord struct {
	tag   LogRecordTypeTag
	txnID common.TxnID
}

func (r txnRecord) marshal() []byte {
	pg := page.New(2 * page.IntSize)
	pg.SetInt(0, int32(r.tag))
	pg.SetInt(page.IntSize, int32(r.txnID))
	return pg.GetData()
}

func (r txnRecord) String() string {
	return fmt.Sprintf("<%s %d>", r.tag, r.txnID)
}

type StartLogRecord struct {
	txnID common.TxnID
}

func NewStartLogRecord(txnID common.TxnID) StartLogRecord {
	return StartLogRecord{txnID: txnID}
}

func (r StartLogRecord) Tag() LogRecordTypeTag          { return TypeStart }
func (r StartLogRecord) TxnID() common.TxnID            { return r.txnID }
func (r StartLogRecord) MarshalBinary() ([]byte, error) { return txnRecord{TypeStart, r.txnID}.marshal(), nil }
func (r StartLogRecord) String() string                 { return txnRecord{TypeStart, r.txnID}.String() }

type CommitLogRecord struct {
	txnID common.TxnID
}

func NewCommitLogRecord(txnID common.TxnID) CommitLogRecord {
	return CommitLogRecord{txnID: txnID}
}

func (r CommitLogRecord) Tag() LogRecordTypeTag          { return TypeCommit }
func (r CommitLogRecord) TxnID() common.TxnID            { return r.txnID }
func (r CommitLogRecord) MarshalBinary() ([]byte, error) { return txnRecord{TypeCommit, r.txnID}.marshal(), nil }
func (r CommitLogRecord) String() string                 { return txnRecord{TypeCommit, r.txnID}.String() }

type RollbackLogRecord struct {
	txnID common.TxnID
}

func NewRollbackLogRecord(txnID common.TxnID) RollbackLogRecord {
	return RollbackLogRecord{txnID: txnID}
}

func (r RollbackLogRecord) Tag() LogRecordTypeTag { return TypeRollback }
func (r RollbackLogRecord) TxnID() common.TxnID   { return r.txnID }
func (r RollbackLogRecord) MarshalBinary() ([]byte, error) {
	return txnRecord{TypeRollback, r.txnID}.marshal(), nil
}
func (r RollbackLogRecord) String() string { return txnRecord{TypeRollback, r.txnID}.String() }

// SetIntLogRecord keeps the value an integer field had before txnID
// overwrote it.
type SetIntLogRecord struct {
	txnID    common.TxnID
	blk      common.BlockID
	offset   int
	oldValue int32
}

func NewSetIntLogRecord(
	txnID common.TxnID,
	blk common.BlockID,
	offset int,
	oldValue int32,
) SetIntLogRecord {
	return SetIntLogRecord{txnID: txnID, blk: blk, offset: offset, oldValue: oldValue}
}

func (r SetIntLogRecord) Tag() LogRecordTypeTag { return TypeSetInt }
func (r SetIntLogRecord) TxnID() common.TxnID   { return r.txnID }
func (r SetIntLogRecord) Block() common.BlockID { return r.blk }
func (r SetIntLogRecord) Offset() int           { return r.offset }
func (r SetIntLogRecord) OldValue() int32       { return r.oldValue }

func (r SetIntLogRecord) MarshalBinary() ([]byte, error) {
	fpos := 2 * page.IntSize
	bpos := fpos + page.MaxLength(len(r.blk.FileName))
	opos := bpos + page.IntSize
	vpos := opos + page.IntSize

	pg := page.New(vpos + page.IntSize)
	pg.SetInt(0, int32(TypeSetInt))
	pg.SetInt(page.IntSize, int32(r.txnID))
	pg.SetBytes(fpos, []byte(r.blk.FileName))
	pg.SetInt(bpos, int32(r.blk.Number)) //nolint:gosec
	pg.SetInt(opos, int32(r.offset))     //nolint:gosec
	pg.SetInt(vpos, r.oldValue)
	return pg.GetData(), nil
}

func (r SetIntLogRecord) String() string {
	return fmt.Sprintf("<SETINT %d %s %d %d>", r.txnID, r.blk, r.offset, r.oldValue)
}

func (r SetIntLogRecord) Undo(tx Undoer) error {
	if err := tx.Pin(r.blk); err != nil {
		return err
	}
	defer tx.Unpin(r.blk)

	return tx.SetInt(r.blk, r.offset, r.oldValue, false)
}

// SetStringLogRecord keeps the value a string field had before txnID
// overwrote it.
type SetStringLogRecord struct {
	txnID    common.TxnID
	blk      common.BlockID
	offset   int
	oldValue string
}

func NewSetStringLogRecord(
	txnID common.TxnID,
	blk common.BlockID,
	offset int,
	oldValue string,
) SetStringLogRecord {
	return SetStringLogRecord{txnID: txnID, blk: blk, offset: offset, oldValue: oldValue}
}

func (r SetStringLogRecord) Tag() LogRecordTypeTag { return TypeSetString }
func (r SetStringLogRecord) TxnID() common.TxnID   { return r.txnID }
func (r SetStringLogRecord) Block() common.BlockID { return r.blk }
func (r SetStringLogRecord) Offset() int           { return r.offset }
func (r SetStringLogRecord) OldValue() string      { return r.oldValue }

func (r SetStringLogRecord) MarshalBinary() ([]byte, error) {
	fpos := 2 * page.IntSize
	bpos := fpos + page.MaxLength(len(r.blk.FileName))
	opos := bpos + page.IntSize
	vpos := opos + page.IntSize

	pg := page.New(vpos + page.MaxLength(len(r.oldValue)))
	pg.SetInt(0, int32(TypeSetString))
	pg.SetInt(page.IntSize, int32(r.txnID))
	pg.SetBytes(fpos, []byte(r.blk.FileName))
	pg.SetInt(bpos, int32(r.blk.Number)) //nolint:gosec
	pg.SetInt(opos, int32(r.offset))     //nolint:gosec
	pg.SetBytes(vpos, []byte(r.oldValue))
	return pg.GetData(), nil
}

func (r SetStringLogRecord) String() string {
	return fmt.Sprintf("<SETSTRING %d %s %d %s>", r.txnID, r.blk, r.offset, r.oldValue)
}

func (r SetStringLogRecord) Undo(tx Undoer) error {
	if err := tx.Pin(r.blk); err != nil {
		return err
	}
	defer tx.Unpin(r.blk)

	return tx.SetString(r.blk, r.offset, r.oldValue, false)
}

// recordReader decodes fields sequentially and remembers the first
// out-of-bounds access instead of panicking.
type recordReader struct {
	pg  *page.Page
	pos int
	err error
}

func (r *recordReader) int() int32 {
	if r.err != nil {
		return 0
	}
	if r.pos+page.IntSize > r.pg.Size() {
		r.err = fmt.Errorf("%w: integer at %d overruns %d-byte record", ErrMalformedLogRecord, r.pos, r.pg.Size())
		return 0
	}
	v := r.pg.GetInt(r.pos)
	r.pos += page.IntSize
	return v
}

func (r *recordReader) string() string {
	if r.err != nil {
		return ""
	}
	v, err := r.pg.ReadString(r.pos)
	if err != nil {
		r.err = fmt.Errorf("%w: %w", ErrMalformedLogRecord, err)
		return ""
	}
	r.pos += page.IntSize + len(v)
	return v
}

// ReadLogRecord decodes one record produced by MarshalBinary.
func ReadLogRecord(data []byte) (LogRecord, error) {
	r := &recordReader{pg: page.FromBytes(data)}
	tag := LogRecordTypeTag(r.int())
	if r.err != nil {
		return nil, r.err
	}

	var rec LogRecord
	switch tag {
	case TypeCheckpoint:
		rec = CheckpointLogRecord{}
	case TypeStart:
		rec = NewStartLogRecord(common.TxnID(r.int()))
	case TypeCommit:
		rec = NewCommitLogRecord(common.TxnID(r.int()))
	case TypeRollback:
		rec = NewRollbackLogRecord(common.TxnID(r.int()))
	case TypeSetInt:
		txnID := common.TxnID(r.int())
		blk := common.NewBlockID(r.string(), int(r.int()))
		offset := int(r.int())
		rec = NewSetIntLogRecord(txnID, blk, offset, r.int())
	case TypeSetString:
		txnID := common.TxnID(r.int())
		blk := common.NewBlockID(r.string(), int(r.int()))
		offset := int(r.int())
		rec = NewSetStringLogRecord(txnID, blk, offset, r.string())
	default:
		return nil, fmt.Errorf("%w: unknown type tag %d", ErrMalformedLogRecord, int32(tag))
	}

	if r.err != nil {
		return nil, fmt.Errorf("failed to decode %s record: %w", tag, r.err)
	}
	return rec, nil
}

// Records decodes a raw newest-first record sequence. Iteration stops
// after the first error.
func Records(raw iter.Seq2[[]byte, error]) iter.Seq2[LogRecord, error] {
	return func(yield func(LogRecord, error) bool) {
		for data, err := range raw {
			if errors.Is(err, wal.ErrCorruptedLog) {
				yield(nil, fmt.Errorf("%w: %w", ErrMalformedLogRecord, err))
				return
			} else if err != nil {
				yield(nil, err)
				return
			}

			rec, err := ReadLogRecord(data)
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}
