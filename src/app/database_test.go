package app

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/txkernel/src/pkg/common"
	"github.com/Blackdeer1524/txkernel/src/txns"
)

const dataFile = "accounts"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Dir = "/db"
	cfg.BufferMaxWait = Duration{time.Second}
	cfg.LockMaxWait = Duration{time.Second}
	return cfg
}

func openDB(t *testing.T, fs afero.Fs, cfg Config) *Database {
	t.Helper()

	db, err := Open(fs, cfg, zap.NewNop().Sugar(), nil)
	require.NoError(t, err)
	return db
}

func beginTx(t *testing.T, db *Database) *txns.Transaction {
	t.Helper()

	tx, err := db.NewTx()
	require.NoError(t, err)
	return tx
}

// writeCommitted appends a block to dataFile holding val at offset 0.
func writeCommitted(t *testing.T, db *Database, val int32) common.BlockID {
	t.Helper()

	tx := beginTx(t, db)
	blk, err := tx.Append(dataFile)
	require.NoError(t, err)
	require.NoError(t, tx.Pin(blk))
	require.NoError(t, tx.SetInt(blk, 0, val, true))
	require.NoError(t, tx.Commit())
	return blk
}

func readInt(t *testing.T, db *Database, blk common.BlockID) int32 {
	t.Helper()

	tx := beginTx(t, db)
	require.NoError(t, tx.Pin(blk))
	v, err := tx.GetInt(blk, 0)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return v
}

// crashWithUncommitted overwrites blk in a transaction that never
// finishes, forces its page to disk, and drops the instance.
func crashWithUncommitted(t *testing.T, db *Database, blk common.BlockID, val int32) {
	t.Helper()

	tx := beginTx(t, db)
	require.NoError(t, tx.Pin(blk))
	require.NoError(t, tx.SetInt(blk, 0, val, true))
	require.NoError(t, db.pool.FlushAll(tx.TxnID()))
	require.NoError(t, db.Close())
}

func TestOpenNewDatabase(t *testing.T) {
	fs := afero.NewMemMapFs()

	db := openDB(t, fs, testConfig())
	defer func() { require.NoError(t, db.Close()) }()

	exists, err := afero.DirExists(fs, "/db")
	require.NoError(t, err)
	assert.True(t, exists)

	stats := db.Stats()
	assert.Equal(t, 0, stats.ActiveTxns)
	assert.Equal(t, 8, stats.AvailableBuffers)
	assert.Equal(t, 0, stats.LockedBlocks)
	assert.NotEqual(t, uuid.Nil, db.ID())
}

func TestReopenRecoversUncommittedChanges(t *testing.T) {
	fs := afero.NewMemMapFs()

	db := openDB(t, fs, testConfig())
	blk := writeCommitted(t, db, 100)
	crashWithUncommitted(t, db, blk, 999)

	db = openDB(t, fs, testConfig())
	defer func() { require.NoError(t, db.Close()) }()

	assert.Equal(t, int32(100), readInt(t, db, blk))
	assert.Equal(t, 1.0, testutil.ToFloat64(db.Metrics().RecordsUndone))

	var out bytes.Buffer
	_, err := db.DumpLog(&out)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out.String(), "<CHECKPOINT>"))
}

func TestOpenWithoutRecoveryRefusesTransactions(t *testing.T) {
	fs := afero.NewMemMapFs()

	db := openDB(t, fs, testConfig())
	blk := writeCommitted(t, db, 100)
	crashWithUncommitted(t, db, blk, 999)

	cfg := testConfig()
	cfg.RecoverOnOpen = false
	db = openDB(t, fs, cfg)
	defer func() { require.NoError(t, db.Close()) }()

	_, err := db.NewTx()
	require.ErrorIs(t, err, ErrNotRecovered)

	var out bytes.Buffer
	n, err := db.DumpLog(&out)
	require.NoError(t, err)
	assert.Positive(t, n)
	assert.NotContains(t, out.String(), "<CHECKPOINT>")
	assert.True(t, strings.HasPrefix(out.String(), "<SETINT 2 "))

	require.NoError(t, db.Recover())
	assert.Equal(t, int32(100), readInt(t, db, blk))
}

func TestRecoverRefusesWhileTransactionsRun(t *testing.T) {
	db := openDB(t, afero.NewMemMapFs(), testConfig())
	defer func() { require.NoError(t, db.Close()) }()

	tx := beginTx(t, db)
	require.ErrorIs(t, db.Recover(), ErrTxnsActive)

	require.NoError(t, tx.Rollback())
	require.NoError(t, db.Recover())
}

func TestStatsTrackRunningTransaction(t *testing.T) {
	db := openDB(t, afero.NewMemMapFs(), testConfig())
	defer func() { require.NoError(t, db.Close()) }()

	blk := writeCommitted(t, db, 1)

	tx := beginTx(t, db)
	require.NoError(t, tx.Pin(blk))
	require.NoError(t, tx.SetInt(blk, 0, 2, true))

	stats := db.Stats()
	assert.Equal(t, 1, stats.ActiveTxns)
	assert.Equal(t, 7, stats.AvailableBuffers)
	assert.Equal(t, 1, stats.LockedBlocks)
	assert.GreaterOrEqual(t, stats.LatestLSN, stats.FlushedLSN)

	require.NoError(t, tx.Commit())
	stats = db.Stats()
	assert.Equal(t, 0, stats.ActiveTxns)
	assert.Equal(t, 8, stats.AvailableBuffers)
	assert.Equal(t, 0, stats.LockedBlocks)
	assert.Equal(t, stats.LatestLSN, stats.FlushedLSN)
}

func TestOpenRegistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()

	db, err := Open(afero.NewMemMapFs(), testConfig(), zap.NewNop().Sugar(), reg)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	writeCommitted(t, db, 7)

	assert.Equal(t, 1.0, testutil.ToFloat64(db.Metrics().TxnsCommitted))
	n, err := testutil.GatherAndCount(reg, "txkernel_txns_committed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Replacer = "clock"

	_, err := Open(afero.NewMemMapFs(), cfg, zap.NewNop().Sugar(), nil)
	require.Error(t, err)
}
