package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/Blackdeer1524/txkernel/src"
	"github.com/Blackdeer1524/txkernel/src/pkg/assert"
	"github.com/Blackdeer1524/txkernel/src/pkg/common"
	"github.com/Blackdeer1524/txkernel/src/pkg/metrics"
	"github.com/Blackdeer1524/txkernel/src/storage/page"
)

var ErrBlockOutOfRange = errors.New("block out of range")

const tempFilePrefix = "temp"

// Manager maps blocks to fixed-size regions of the files in one database
// directory. Every operation is serialized by a single mutex.
type Manager struct {
	mu        sync.Mutex
	fs        afero.Fs
	dir       string
	blockSize int
	isNew     bool
	openFiles map[string]afero.File

	log     src.Logger
	metrics *metrics.Metrics
}

func New(
	fs afero.Fs,
	dir string,
	blockSize int,
	log src.Logger,
	m *metrics.Metrics,
) (*Manager, error) {
	assert.Assert(blockSize > page.IntSize, "block size %d is too small", blockSize)

	exists, err := afero.DirExists(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}

	if !exists {
		if err := fs.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), tempFilePrefix) {
			continue
		}
		if err := fs.Remove(filepath.Join(dir, e.Name())); err != nil {
			return nil, fmt.Errorf("failed to remove temporary file %s: %w", e.Name(), err)
		}
		log.Debugf("removed temporary file %s", e.Name())
	}

	return &Manager{
		fs:        fs,
		dir:       dir,
		blockSize: blockSize,
		isNew:     !exists,
		openFiles: map[string]afero.File{},
		log:       log,
		metrics:   m,
	}, nil
}

func (m *Manager) BlockSize() int {
	return m.blockSize
}

// IsNew reports whether the database directory was created by New.
func (m *Manager) IsNew() bool {
	return m.isNew
}

func (m *Manager) Read(blk common.BlockID, pg *page.Page) error {
	assert.Assert(pg.Size() == m.blockSize, "page size %d != block size %d", pg.Size(), m.blockSize)

	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.fileAssumeLocked(blk.FileName)
	if err != nil {
		return err
	}

	size, err := m.sizeAssumeLocked(f)
	if err != nil {
		return err
	}
	if blk.Number < 0 || blk.Number >= size {
		return fmt.Errorf("%w: %v, file has %d blocks", ErrBlockOutOfRange, blk, size)
	}

	_, err = f.ReadAt(pg.GetData(), m.offset(blk))
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read %v: %w", blk, err)
	}

	m.metrics.BlocksRead.Inc()
	return nil
}

// Write stores exactly one block of pg at blk's offset, extending the file
// if needed.
func (m *Manager) Write(blk common.BlockID, pg *page.Page) error {
	assert.Assert(pg.Size() == m.blockSize, "page size %d != block size %d", pg.Size(), m.blockSize)
	assert.Assert(blk.Number >= 0, "invalid block number %d", blk.Number)

	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.fileAssumeLocked(blk.FileName)
	if err != nil {
		return err
	}

	if err := m.writeAssumeLocked(f, blk, pg.GetData()); err != nil {
		return err
	}

	m.metrics.BlocksWritten.Inc()
	return nil
}

// Append extends fileName by one zero-filled block and returns its id.
func (m *Manager) Append(fileName string) (common.BlockID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.fileAssumeLocked(fileName)
	if err != nil {
		return common.BlockID{}, err
	}

	size, err := m.sizeAssumeLocked(f)
	if err != nil {
		return common.BlockID{}, err
	}

	blk := common.NewBlockID(fileName, size)
	if err := m.writeAssumeLocked(f, blk, make([]byte, m.blockSize)); err != nil {
		return common.BlockID{}, err
	}

	m.metrics.BlocksAppended.Inc()
	return blk, nil
}

// Size returns the number of blocks in fileName.
func (m *Manager) Size(fileName string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.fileAssumeLocked(fileName)
	if err != nil {
		return 0, err
	}
	return m.sizeAssumeLocked(f)
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	for name, f := range m.openFiles {
		err = errors.Join(err, f.Close())
		delete(m.openFiles, name)
	}
	return err
}

func (m *Manager) offset(blk common.BlockID) int64 {
	return int64(blk.Number) * int64(m.blockSize)
}

func (m *Manager) writeAssumeLocked(f afero.File, blk common.BlockID, data []byte) error {
	if _, err := f.WriteAt(data, m.offset(blk)); err != nil {
		return fmt.Errorf("failed to write %v: %w", blk, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", blk.FileName, err)
	}
	return nil
}

func (m *Manager) sizeAssumeLocked(f afero.File) (int, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", f.Name(), err)
	}
	return int(info.Size() / int64(m.blockSize)), nil
}

func (m *Manager) fileAssumeLocked(fileName string) (afero.File, error) {
	if f, ok := m.openFiles[fileName]; ok {
		return f, nil
	}

	path := filepath.Join(m.dir, filepath.Clean(fileName))
	f, err := m.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	m.openFiles[fileName] = f
	return f, nil
}
