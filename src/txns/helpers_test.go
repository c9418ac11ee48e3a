package txns

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/txkernel/src/bufferpool"
	"github.com/Blackdeer1524/txkernel/src/pkg/common"
	"github.com/Blackdeer1524/txkernel/src/pkg/metrics"
	"github.com/Blackdeer1524/txkernel/src/recovery"
	"github.com/Blackdeer1524/txkernel/src/storage/disk"
	"github.com/Blackdeer1524/txkernel/src/storage/page"
	"github.com/Blackdeer1524/txkernel/src/wal"
)

const (
	blockSize = 400
	dataFile  = "f"
	logFile   = "test.log"
)

type testDB struct {
	disk    *disk.Manager
	logs    *wal.Manager
	pool    *bufferpool.DebugBufferPool
	mgr     *TxnManager
	metrics *metrics.Metrics
}

type testOptions struct {
	poolSize   int
	bufferWait time.Duration
	lockWait   time.Duration
	blocks     int
}

func defaultOptions() testOptions {
	return testOptions{
		poolSize:   8,
		bufferWait: time.Second,
		lockWait:   time.Second,
		blocks:     2,
	}
}

// openTestDB opens the database stored in fs the way a restarted process
// would, making sure the data file has at least opts.blocks blocks.
func openTestDB(t *testing.T, fs afero.Fs, opts testOptions) *testDB {
	t.Helper()

	log := zap.NewNop().Sugar()
	m := metrics.New(nil)

	d, err := disk.New(fs, "/db", blockSize, log, m)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	size, err := d.Size(dataFile)
	require.NoError(t, err)
	for range opts.blocks - size {
		_, err := d.Append(dataFile)
		require.NoError(t, err)
	}

	logs, err := wal.New(d, logFile, log, m)
	require.NoError(t, err)

	pool := bufferpool.NewDebugBufferPool(bufferpool.New(
		opts.poolSize,
		bufferpool.NewNaiveReplacer(opts.poolSize),
		d,
		logs,
		opts.bufferWait,
		log,
		m,
	))

	mgr := NewTxnManager(
		NewLockTable(opts.lockWait, log, m),
		d,
		pool,
		recovery.NewTxnLogger(logs, pool, log, m),
		log,
		m,
	)
	return &testDB{disk: d, logs: logs, pool: pool, mgr: mgr, metrics: m}
}

func (db *testDB) begin(t *testing.T) *Transaction {
	t.Helper()

	tx, err := db.mgr.Begin()
	require.NoError(t, err)
	return tx
}

func (db *testDB) readDisk(t *testing.T, blk common.BlockID) *page.Page {
	t.Helper()

	pg := page.New(blockSize)
	require.NoError(t, db.disk.Read(blk, pg))
	return pg
}

// requireQuiescent checks that no transaction left pins or locks behind.
func (db *testDB) requireQuiescent(t *testing.T) {
	t.Helper()

	require.NoError(t, db.pool.EnsureAllUnpinned())
	require.Equal(t, 0, db.mgr.Locks().LockedBlocks())
	require.Equal(t, 0, db.mgr.Active())
}

func blk(n int) common.BlockID {
	return common.NewBlockID(dataFile, n)
}
