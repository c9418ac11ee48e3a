package bufferpool

import (
	"github.com/stretchr/testify/mock"

	"github.com/Blackdeer1524/txkernel/src/pkg/common"
	"github.com/Blackdeer1524/txkernel/src/storage/page"
)

type MockBlockDevice struct {
	mock.Mock
}

var _ BlockDevice = &MockBlockDevice{}

func (m *MockBlockDevice) Read(blk common.BlockID, pg *page.Page) error {
	args := m.Called(blk, pg)
	return args.Error(0)
}

func (m *MockBlockDevice) Write(blk common.BlockID, pg *page.Page) error {
	args := m.Called(blk, pg)
	return args.Error(0)
}

func (m *MockBlockDevice) BlockSize() int {
	args := m.Called()
	return args.Int(0)
}

type MockLogFlusher struct {
	mock.Mock
}

var _ LogFlusher = &MockLogFlusher{}

func (m *MockLogFlusher) Flush(lsn common.LSN) error {
	args := m.Called(lsn)
	return args.Error(0)
}
