package storage

import (
	"fmt"
	"sync"

	"github.com/ardnew/mscvcp/pkg"
)

// RAM is a backend that stores sectors directly in a Cells array, with no
// erase granularity. It serves as the "ram" LUN kind and as a mock medium in
// tests: presence and write protection can be toggled at runtime.
type RAM struct {
	mutex    sync.RWMutex
	cells    Cells
	sectors  uint32
	present  bool
	readOnly bool
}

// NewRAM creates a backend over cells. Trailing bytes that do not fill a
// sector are unused.
func NewRAM(cells Cells) *RAM {
	return &RAM{
		cells:   cells,
		sectors: uint32(cells.Size() / SectorSize),
		present: true,
	}
}

// NewRAMSectors creates a backend over a fresh in-memory array.
func NewRAMSectors(sectors uint32) *RAM {
	return NewRAM(NewMemoryCells(int64(sectors) * SectorSize))
}

// ReadSectors implements Backend.
func (r *RAM) ReadSectors(sector, count uint32, buf []byte) (uint32, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if !r.present {
		return 0, pkg.ErrNotReady
	}
	if err := CheckRange(r.sectors, sector, count, buf); err != nil {
		return 0, err
	}
	n, err := r.cells.ReadAt(buf[:int(count)*SectorSize], int64(sector)*SectorSize)
	if err != nil {
		return uint32(n / SectorSize), fmt.Errorf("read sector %d: %w: %w", sector, pkg.ErrIO, err)
	}
	return count, nil
}

// WriteSectors implements Backend.
func (r *RAM) WriteSectors(sector, count uint32, buf []byte) (uint32, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.present {
		return 0, pkg.ErrNotReady
	}
	if r.readOnly {
		return 0, pkg.ErrWriteProtected
	}
	if err := CheckRange(r.sectors, sector, count, buf); err != nil {
		return 0, err
	}
	n, err := r.cells.WriteAt(buf[:int(count)*SectorSize], int64(sector)*SectorSize)
	if err != nil {
		return uint32(n / SectorSize), fmt.Errorf("write sector %d: %w: %w", sector, pkg.ErrIO, err)
	}
	return count, nil
}

// Detect reports whether the medium is present.
func (r *RAM) Detect() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.present
}

// Info implements Backend.
func (r *RAM) Info() Info {
	return NewInfo(r.sectors, SubTypeRAM)
}

// SetPresent inserts or removes the medium.
func (r *RAM) SetPresent(present bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.present = present
}

// SetReadOnly toggles write protection.
func (r *RAM) SetReadOnly(readOnly bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.readOnly = readOnly
}

// Sync flushes the underlying cells.
func (r *RAM) Sync() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.cells.Sync()
}

// Close closes the underlying cells.
func (r *RAM) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.cells.Close()
}
