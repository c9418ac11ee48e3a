package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntrypointLifecycle(t *testing.T) {
	dir := chdirTemp(t)
	t.Setenv("TXKERNEL_DIR", filepath.Join(dir, "db"))
	t.Setenv("TXKERNEL_LOG_OUTPUT", filepath.Join(dir, "txkernel.log"))

	e := &Entrypoint{}
	require.NoError(t, e.Init(context.Background()))

	tx, err := e.DB().NewTx()
	require.NoError(t, err)
	blk, err := tx.Append("data")
	require.NoError(t, err)
	require.NoError(t, tx.Pin(blk))
	require.NoError(t, tx.SetInt(blk, 0, 5, true))
	// left unfinished on purpose
	require.NoError(t, e.Close())

	e = &Entrypoint{SkipRecovery: true}
	require.NoError(t, e.Init(context.Background()))
	assert.False(t, e.Config.RecoverOnOpen)

	_, err = e.DB().NewTx()
	require.ErrorIs(t, err, ErrNotRecovered)
	require.NoError(t, e.DB().Recover())
	require.NoError(t, e.Close())
}

func TestEntrypointCloseBeforeInit(t *testing.T) {
	e := &Entrypoint{}
	require.NoError(t, e.Close())
}

func TestEntrypointRegistersMetrics(t *testing.T) {
	dir := chdirTemp(t)
	t.Setenv("TXKERNEL_DIR", filepath.Join(dir, "db"))
	t.Setenv("TXKERNEL_LOG_OUTPUT", filepath.Join(dir, "txkernel.log"))

	e := &Entrypoint{}
	require.NoError(t, e.Init(context.Background()))
	defer func() { require.NoError(t, e.Close()) }()

	tx, err := e.DB().NewTx()
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	var out strings.Builder
	require.NoError(t, WriteMetrics(&out, e.Registry()))
	assert.Contains(t, out.String(), "txkernel_txns_committed_total 1\n")
}
