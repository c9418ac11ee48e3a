package app

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStressKeepsTotalBalance(t *testing.T) {
	cfg := testConfig()
	cfg.BufferCount = 4
	cfg.LockMaxWait = Duration{50 * time.Millisecond}
	cfg.Replacer = "lru"

	db := openDB(t, afero.NewMemMapFs(), cfg)
	defer func() { require.NoError(t, db.Close()) }()

	report, err := RunStress(context.Background(), db, StressOptions{
		Accounts: 250,
		Txns:     60,
		Workers:  6,
		Retries:  20,
		Seed:     42,
		Interval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Positive(t, report.Committed)
	assert.Equal(t, int64(250*startBalance), report.Total)
	assert.Equal(t, uint64(60), report.Committed+report.GaveUp)
	assert.Equal(t, 0, db.Stats().ActiveTxns)
	assert.Equal(t, 0, db.Stats().LockedBlocks)
	assert.Equal(t, 4, db.Stats().AvailableBuffers)
}

func TestRunStressSurvivesRestart(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := StressOptions{Accounts: 20, Txns: 10, Workers: 2, Retries: 5, Seed: 1}

	db := openDB(t, fs, testConfig())
	_, err := RunStress(context.Background(), db, opts)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db = openDB(t, fs, testConfig())
	defer func() { require.NoError(t, db.Close()) }()

	report, err := RunStress(context.Background(), db, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(20*startBalance), report.Total)
}

func TestRunStressRejectsBadOptions(t *testing.T) {
	db := openDB(t, afero.NewMemMapFs(), testConfig())
	defer func() { require.NoError(t, db.Close()) }()

	_, err := RunStress(context.Background(), db, StressOptions{Accounts: 1, Txns: 1, Workers: 1})
	require.Error(t, err)
}

func TestRunStressStopsOnCancel(t *testing.T) {
	db := openDB(t, afero.NewMemMapFs(), testConfig())
	defer func() { require.NoError(t, db.Close()) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunStress(ctx, db, StressOptions{Accounts: 10, Txns: 100, Workers: 2})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, db.Stats().ActiveTxns)
}
