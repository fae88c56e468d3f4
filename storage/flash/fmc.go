package flash

import (
	"fmt"
	"sync"

	"github.com/ardnew/mscvcp/pkg"
	"github.com/ardnew/mscvcp/storage"
)

// MemoryFMC simulates a NOR flash array on storage.Cells. Erasing sets a
// page to 0xFF and programming can only clear bits; programming a cell that
// would need a bit set fails with pkg.ErrIO.
type MemoryFMC struct {
	mutex  sync.Mutex
	cells  storage.Cells
	origin uint32
	page   int
	faults map[uint32]bool

	Erases   uint64
	Programs uint64
}

// NewMemoryFMC maps cells at flash address origin with the given page size.
func NewMemoryFMC(cells storage.Cells, origin uint32, pageSize int) *MemoryFMC {
	return &MemoryFMC{
		cells:  cells,
		origin: origin,
		page:   pageSize,
		faults: make(map[uint32]bool),
	}
}

// PageSize implements FMC.
func (m *MemoryFMC) PageSize() int {
	return m.page
}

// FailErase makes erasing the page at addr fail until cleared.
func (m *MemoryFMC) FailErase(addr uint32, fail bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	pageAddr := addr &^ uint32(m.page-1)
	if fail {
		m.faults[pageAddr] = true
	} else {
		delete(m.faults, pageAddr)
	}
}

// Read implements FMC.
func (m *MemoryFMC) Read(addr uint32, buf []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	off, err := m.offset(addr, len(buf))
	if err != nil {
		return err
	}
	_, err = m.cells.ReadAt(buf, off)
	return err
}

// ErasePage implements FMC.
func (m *MemoryFMC) ErasePage(addr uint32) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	pageAddr := addr &^ uint32(m.page-1)
	if m.faults[pageAddr] {
		return fmt.Errorf("erase 0x%08X: %w", pageAddr, pkg.ErrIO)
	}
	off, err := m.offset(pageAddr, m.page)
	if err != nil {
		return err
	}
	erased := make([]byte, m.page)
	for i := range erased {
		erased[i] = 0xFF
	}
	if _, err := m.cells.WriteAt(erased, off); err != nil {
		return err
	}
	m.Erases++
	return nil
}

// Program implements FMC.
func (m *MemoryFMC) Program(addr uint32, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	off, err := m.offset(addr, len(data))
	if err != nil {
		return err
	}
	cur := make([]byte, len(data))
	if _, err := m.cells.ReadAt(cur, off); err != nil {
		return err
	}
	for i, d := range data {
		if cur[i]&d != d {
			return fmt.Errorf("program 0x%08X over unerased cell: %w", addr+uint32(i), pkg.ErrIO)
		}
		cur[i] = d
	}
	if _, err := m.cells.WriteAt(cur, off); err != nil {
		return err
	}
	m.Programs++
	return nil
}

func (m *MemoryFMC) offset(addr uint32, n int) (int64, error) {
	if addr < m.origin || int64(addr-m.origin)+int64(n) > m.cells.Size() {
		return 0, fmt.Errorf("flash 0x%08X+%d: %w", addr, n, pkg.ErrOutOfRange)
	}
	return int64(addr - m.origin), nil
}
