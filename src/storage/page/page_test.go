package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxLength(t *testing.T) {
	assert.Equal(t, 4, MaxLength(0))
	assert.Equal(t, 14, MaxLength(10))
}

func TestIntRoundTrip(t *testing.T) {
	p := New(64)

	p.SetInt(0, 100)
	p.SetInt(60, -7)

	assert.Equal(t, int32(100), p.GetInt(0))
	assert.Equal(t, int32(-7), p.GetInt(60))
	// big-endian layout
	assert.Equal(t, []byte{0, 0, 0, 100}, p.GetData()[:4])
}

func TestStringAndBytes(t *testing.T) {
	p := New(64)

	p.SetString(10, "abcde")
	assert.Equal(t, "abcde", p.GetString(10))
	assert.Equal(t, int32(5), p.GetInt(10))

	p.SetBytes(30, []byte{1, 2, 3})
	got := p.GetBytes(30)
	assert.Equal(t, []byte{1, 2, 3}, got)

	got[0] = 42
	assert.Equal(t, byte(1), p.GetBytes(30)[0], "GetBytes must return a copy")
}

func TestStringFitsMaxLength(t *testing.T) {
	const s = "hello world"
	p := New(MaxLength(len(s)))
	p.SetString(0, s)
	assert.Equal(t, s, p.GetString(0))
}

func TestOutOfRangePanics(t *testing.T) {
	p := New(16)

	assert.Panics(t, func() { p.GetInt(13) })
	assert.Panics(t, func() { p.SetString(10, "too long") })
	assert.Panics(t, func() { p.SetInt(-1, 0) })
}

func TestSetDataSizeMismatchPanics(t *testing.T) {
	p := New(16)
	require.Panics(t, func() { p.SetData(make([]byte, 8)) })

	src := make([]byte, 16)
	src[3] = 9
	p.SetData(src)
	assert.Equal(t, int32(9), p.GetInt(0))
}

func TestNonASCIIStringFitsMaxLength(t *testing.T) {
	const s = "ééé"
	p := New(MaxLength(3) + IntSize)
	p.SetInt(MaxLength(3), 7)

	p.SetString(0, s)
	assert.Equal(t, "???", p.GetString(0))
	assert.Equal(t, int32(7), p.GetInt(MaxLength(3)))
}

func TestReadStringRejectsBadPrefix(t *testing.T) {
	p := New(16)

	p.SetInt(0, 100000)
	_, err := p.ReadString(0)
	require.ErrorIs(t, err, ErrFieldOutOfRange)

	p.SetInt(0, -1)
	_, err = p.ReadString(0)
	require.ErrorIs(t, err, ErrFieldOutOfRange)

	_, err = p.ReadString(14)
	require.ErrorIs(t, err, ErrFieldOutOfRange)

	p.SetString(4, "ok")
	s, err := p.ReadString(4)
	require.NoError(t, err)
	assert.Equal(t, "ok", s)
}
