package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNaiveReplacerPicksLowestUnpinnedFrame(t *testing.T) {
	r := NewNaiveReplacer(3)

	victim, err := r.ChooseVictim()
	require.NoError(t, err)
	assert.Equal(t, 0, victim)

	r.Pin(0)
	r.Pin(1)
	victim, err = r.ChooseVictim()
	require.NoError(t, err)
	assert.Equal(t, 2, victim)

	r.Pin(2)
	_, err = r.ChooseVictim()
	assert.ErrorIs(t, err, ErrNoVictimAvailable)

	r.Unpin(1)
	victim, err = r.ChooseVictim()
	require.NoError(t, err)
	assert.Equal(t, 1, victim)
}

func TestLRUReplacerPicksLeastRecentlyUnpinned(t *testing.T) {
	r := NewLRUReplacer(3)
	for i := range 3 {
		r.Pin(i)
	}

	_, err := r.ChooseVictim()
	assert.ErrorIs(t, err, ErrNoVictimAvailable)

	r.Unpin(2)
	r.Unpin(0)
	r.Unpin(0)

	victim, err := r.ChooseVictim()
	require.NoError(t, err)
	assert.Equal(t, 2, victim)

	r.Pin(2)
	victim, err = r.ChooseVictim()
	require.NoError(t, err)
	assert.Equal(t, 0, victim)
}

func TestNewReplacer(t *testing.T) {
	r, err := NewReplacer(ReplacerLRU, 2)
	require.NoError(t, err)
	assert.IsType(t, &LRUReplacer{}, r)

	r, err = NewReplacer("", 2)
	require.NoError(t, err)
	assert.IsType(t, &NaiveReplacer{}, r)

	_, err = NewReplacer("clock", 2)
	assert.Error(t, err)
}
