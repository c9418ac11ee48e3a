package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/txkernel/src/pkg/common"
)

func TestRecordStrings(t *testing.T) {
	blk := common.NewBlockID("f", 0)

	assert.Equal(t, "<CHECKPOINT>", CheckpointLogRecord{}.String())
	assert.Equal(t, "<START 3>", NewStartLogRecord(3).String())
	assert.Equal(t, "<COMMIT 3>", NewCommitLogRecord(3).String())
	assert.Equal(t, "<ROLLBACK 3>", NewRollbackLogRecord(3).String())
	assert.Equal(t, "<SETINT 3 [file f, block 0] 0 100>", NewSetIntLogRecord(3, blk, 0, 100).String())
	assert.Equal(t, "<SETSTRING 3 [file f, block 0] 8 abc>", NewSetStringLogRecord(3, blk, 8, "abc").String())
}

func TestSetStringRecordLayout(t *testing.T) {
	rec := NewSetStringLogRecord(7, common.NewBlockID("tbl", 12), 40, "old")

	data, err := rec.MarshalBinary()
	require.NoError(t, err)

	// tag, txn, "tbl", block, offset, "old"
	assert.Len(t, data, 4+4+(4+3)+4+4+(4+3))
	assert.Equal(t, []byte{0, 0, 0, byte(TypeSetString)}, data[:4])

	decoded, err := ReadLogRecord(data)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)

	setString, ok := decoded.(SetStringLogRecord)
	require.True(t, ok)
	assert.Equal(t, 40, setString.Offset())
	assert.Equal(t, "old", setString.OldValue())
	assert.Equal(t, common.NewBlockID("tbl", 12), setString.Block())
}

func TestSetIntRecordRoundTrip(t *testing.T) {
	rec := NewSetIntLogRecord(2, common.NewBlockID("tbl", 3), 16, -5)

	data, err := rec.MarshalBinary()
	require.NoError(t, err)

	decoded, err := ReadLogRecord(data)
	require.NoError(t, err)

	setInt, ok := decoded.(SetIntLogRecord)
	require.True(t, ok)
	assert.Equal(t, common.TxnID(2), setInt.TxnID())
	assert.Equal(t, 16, setInt.Offset())
	assert.Equal(t, int32(-5), setInt.OldValue())
}

func TestRecordKeepsNonASCIIFileName(t *testing.T) {
	blk := common.NewBlockID("таблица", 1)
	rec := NewSetStringLogRecord(1, blk, 0, "v")

	data, err := rec.MarshalBinary()
	require.NoError(t, err)

	decoded, err := ReadLogRecord(data)
	require.NoError(t, err)
	assert.Equal(t, blk, decoded.(SetStringLogRecord).Block())
}

func TestReadLogRecordRejectsGarbage(t *testing.T) {
	full, err := NewSetIntLogRecord(1, common.NewBlockID("f", 2), 3, 4).MarshalBinary()
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":            {},
		"short tag":        {0, 0},
		"unknown tag":      {0, 0, 0, 42},
		"missing txn":      {0, 0, 0, byte(TypeCommit)},
		"truncated setint": full[:len(full)-2],
		"negative string":  {0, 0, 0, byte(TypeSetString), 0, 0, 0, 1, 0xff, 0xff, 0xff, 0xff},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadLogRecord(data)
			assert.ErrorIs(t, err, ErrMalformedLogRecord)
		})
	}
}
