package page

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/Blackdeer1524/txkernel/src/pkg/assert"
)

// IntSize is the encoded width of an integer field.
const IntSize = 4

// bytesPerChar is the worst-case encoded width of one string character.
// Strings are stored as ASCII; other characters are replaced with '?'.
const bytesPerChar = 1

const replacementChar = '?'

var ErrFieldOutOfRange = errors.New("field is outside of the page")

// Page is an in-memory copy of one block. Integers are big-endian; strings
// and byte slices carry a 4-byte length prefix.
type Page struct {
	data []byte
}

func New(blockSize int) *Page {
	assert.Assert(blockSize > 0, "invalid block size %d", blockSize)
	return &Page{data: make([]byte, blockSize)}
}

// FromBytes wraps b without copying it.
func FromBytes(b []byte) *Page {
	return &Page{data: b}
}

// MaxLength is the number of bytes a string of strlen characters may
// occupy in a page, length prefix included.
func MaxLength(strlen int) int {
	return IntSize + strlen*bytesPerChar
}

func (p *Page) Size() int {
	return len(p.data)
}

func (p *Page) GetData() []byte {
	return p.data
}

// SetData copies d into the page. d must have exactly the page's size.
func (p *Page) SetData(d []byte) {
	assert.Assert(len(d) == len(p.data), "page size mismatch: %d != %d", len(d), len(p.data))
	copy(p.data, d)
}

func (p *Page) Clear() {
	clear(p.data)
}

func (p *Page) checkRange(offset, n int) {
	assert.Assert(
		offset >= 0 && n >= 0 && offset+n <= len(p.data),
		"access [%d, %d) is outside of a %d-byte page",
		offset, offset+n, len(p.data),
	)
}

func (p *Page) GetInt(offset int) int32 {
	p.checkRange(offset, IntSize)
	return int32(binary.BigEndian.Uint32(p.data[offset:])) //nolint:gosec
}

func (p *Page) SetInt(offset int, v int32) {
	p.checkRange(offset, IntSize)
	binary.BigEndian.PutUint32(p.data[offset:], uint32(v)) //nolint:gosec
}

// GetBytes returns a copy of the length-prefixed byte string at offset.
func (p *Page) GetBytes(offset int) []byte {
	n := int(p.GetInt(offset))
	p.checkRange(offset+IntSize, n)

	res := make([]byte, n)
	copy(res, p.data[offset+IntSize:])
	return res
}

func (p *Page) SetBytes(offset int, b []byte) {
	p.checkRange(offset, IntSize+len(b))
	p.SetInt(offset, int32(len(b))) //nolint:gosec
	copy(p.data[offset+IntSize:], b)
}

func (p *Page) GetString(offset int) string {
	return string(p.GetBytes(offset))
}

// ReadString is GetString for fields whose length prefix is not trusted:
// a prefix pointing outside of the page is reported instead of panicking.
func (p *Page) ReadString(offset int) (string, error) {
	if offset < 0 || offset+IntSize > len(p.data) {
		return "", fmt.Errorf("%w: length prefix at %d, page size %d", ErrFieldOutOfRange, offset, len(p.data))
	}
	n := int(p.GetInt(offset))
	if n < 0 || offset+IntSize+n > len(p.data) {
		return "", fmt.Errorf("%w: string of length %d at %d, page size %d", ErrFieldOutOfRange, n, offset, len(p.data))
	}
	return p.GetString(offset), nil
}

// SetString stores s as ASCII, so it never takes more than
// MaxLength(utf8.RuneCountInString(s)) bytes.
func (p *Page) SetString(offset int, s string) {
	p.SetBytes(offset, toASCII(s))
}

func toASCII(s string) []byte {
	res := make([]byte, 0, len(s))
	for _, r := range s {
		if r >= utf8.RuneSelf {
			r = replacementChar
		}
		res = append(res, byte(r))
	}
	return res
}
