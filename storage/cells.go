package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ardnew/mscvcp/pkg"
)

// Cells is the raw byte array behind a simulated medium.
type Cells interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Size() int64
	Sync() error
}

// MemoryCells is a Cells held in memory.
type MemoryCells struct {
	mutex sync.RWMutex
	data  []byte
}

// NewMemoryCells allocates size zeroed bytes.
func NewMemoryCells(size int64) *MemoryCells {
	return &MemoryCells{data: make([]byte, size)}
}

// Size returns the array size.
func (m *MemoryCells) Size() int64 {
	return int64(len(m.data))
}

// ReadAt implements io.ReaderAt.
func (m *MemoryCells) ReadAt(p []byte, off int64) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt.
func (m *MemoryCells) WriteAt(p []byte, off int64) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("write %d bytes at %d: %w", len(p), off, pkg.ErrOutOfRange)
	}
	return copy(m.data[off:], p), nil
}

// Fill sets every byte to b.
func (m *MemoryCells) Fill(b byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for i := range m.data {
		m.data[i] = b
	}
}

// Bytes returns the backing array.
func (m *MemoryCells) Bytes() []byte {
	return m.data
}

// Sync is a no-op.
func (m *MemoryCells) Sync() error { return nil }

// Close is a no-op.
func (m *MemoryCells) Close() error { return nil }

// ImageCells is a Cells backed by an image file. The file is locked for the
// lifetime of the value so two processes cannot serve the same image.
type ImageCells struct {
	mutex    sync.Mutex
	file     *os.File
	size     int64
	readOnly bool
}

// OpenImage opens or creates an image file. A writable image shorter than
// size is extended; size zero keeps the file's current length. A read-only
// image rejects writes with pkg.ErrWriteProtected.
func OpenImage(path string, size int64, readOnly bool) (*ImageCells, error) {
	flags := os.O_RDWR | os.O_CREATE
	if readOnly {
		flags = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, errors.Join(pkg.ErrOpen, err))
	}
	if err := lockFile(file, readOnly); err != nil {
		file.Close()
		return nil, fmt.Errorf("lock image %s: %w", path, errors.Join(pkg.ErrBusy, err))
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat image %s: %w", path, errors.Join(pkg.ErrOpen, err))
	}
	cur := stat.Size()
	if size == 0 {
		size = cur
	}
	if cur < size {
		if readOnly {
			file.Close()
			return nil, fmt.Errorf("image %s is %d bytes, need %d: %w", path, cur, size, pkg.ErrOpen)
		}
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, fmt.Errorf("extend image %s: %w", path, errors.Join(pkg.ErrOpen, err))
		}
	}

	pkg.LogDebug(pkg.ComponentStorage, "image opened",
		"path", path, "size", size, "readOnly", readOnly)
	return &ImageCells{file: file, size: size, readOnly: readOnly}, nil
}

// Size returns the usable image size.
func (c *ImageCells) Size() int64 {
	return c.size
}

// ReadOnly reports whether the image was opened read-only.
func (c *ImageCells) ReadOnly() bool {
	return c.readOnly
}

// ReadAt implements io.ReaderAt.
func (c *ImageCells) ReadAt(p []byte, off int64) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.file == nil {
		return 0, os.ErrClosed
	}
	if off+int64(len(p)) > c.size {
		return 0, fmt.Errorf("read %d bytes at %d: %w", len(p), off, pkg.ErrOutOfRange)
	}
	return c.file.ReadAt(p, off)
}

// WriteAt implements io.WriterAt.
func (c *ImageCells) WriteAt(p []byte, off int64) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.file == nil {
		return 0, os.ErrClosed
	}
	if c.readOnly {
		return 0, pkg.ErrWriteProtected
	}
	if off+int64(len(p)) > c.size {
		return 0, fmt.Errorf("write %d bytes at %d: %w", len(p), off, pkg.ErrOutOfRange)
	}
	return c.file.WriteAt(p, off)
}

// Sync flushes the image to disk.
func (c *ImageCells) Sync() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.file == nil || c.readOnly {
		return nil
	}
	return c.file.Sync()
}

// Close unlocks and closes the image.
func (c *ImageCells) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.file == nil {
		return nil
	}
	unlockFile(c.file)
	err := c.file.Close()
	c.file = nil
	return err
}
