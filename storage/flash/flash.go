package flash

import (
	"fmt"
	"sync"

	"github.com/ardnew/mscvcp/pkg"
	"github.com/ardnew/mscvcp/storage"
)

// Default layout of the reserved disk region.
const (
	DefaultBase        = 0x100000
	DefaultSize        = 512 * 1024
	DefaultPageSize    = 4096
	DefaultScratchSize = 4096
)

// FMC is a flash memory controller. Addresses are absolute flash addresses.
type FMC interface {
	// PageSize returns the erase granularity in bytes.
	PageSize() int

	// Read copies len(buf) bytes starting at addr.
	Read(addr uint32, buf []byte) error

	// ErasePage erases the page containing addr.
	ErasePage(addr uint32) error

	// Program writes data starting at addr, which must lie in erased cells.
	Program(addr uint32, data []byte) error
}

// Options configures the reserved region.
type Options struct {
	Base        uint32 // First byte of the region, page aligned
	Size        uint32 // Region size, a multiple of the page size
	ScratchSize int    // Capacity of the merge buffer
}

// Stats counts page writes by path.
type Stats struct {
	FastPages   uint64 // Whole aligned pages erased and programmed directly
	MergedPages uint64 // Pages rewritten through the scratch buffer
}

// Backend maps logical sectors onto a reserved region of internal flash.
//
// A write that exactly covers an aligned page is erased and programmed
// directly. Every other page is read into the scratch buffer, merged,
// erased and reprogrammed. Erase only begins once the merged page is fully
// assembled, so a failure never leaves a half-merged page behind.
type Backend struct {
	mutex   sync.Mutex
	fmc     FMC
	base    uint32
	size    uint32
	page    uint32
	scratch []byte
	stats   Stats
}

// New creates a backend over fmc. It fails with pkg.ErrNoMemory when the
// controller's page does not fit the scratch capacity and with
// pkg.ErrInvalidParameter when the region is not page aligned.
func New(fmc FMC, opts Options) (*Backend, error) {
	if opts.Size == 0 {
		opts.Size = DefaultSize
	}
	if opts.ScratchSize == 0 {
		opts.ScratchSize = DefaultScratchSize
	}
	page := fmc.PageSize()
	if page <= 0 || page&(page-1) != 0 {
		return nil, fmt.Errorf("page size %d: %w", page, pkg.ErrInvalidParameter)
	}
	if page > opts.ScratchSize {
		return nil, fmt.Errorf("page size %d exceeds scratch capacity %d: %w",
			page, opts.ScratchSize, pkg.ErrNoMemory)
	}
	if opts.Base%uint32(page) != 0 || opts.Size%uint32(page) != 0 || opts.Size%storage.SectorSize != 0 {
		return nil, fmt.Errorf("region 0x%X+0x%X not aligned to page 0x%X: %w",
			opts.Base, opts.Size, page, pkg.ErrInvalidParameter)
	}
	return &Backend{
		fmc:     fmc,
		base:    opts.Base,
		size:    opts.Size,
		page:    uint32(page),
		scratch: make([]byte, page),
	}, nil
}

// Driver returns a storage driver whose only instance is b.
func Driver(b *Backend) storage.Driver {
	return storage.Static("flash", b)
}

// ReadSectors implements storage.Backend.
func (b *Backend) ReadSectors(sector, count uint32, buf []byte) (uint32, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if err := storage.CheckRange(b.sectors(), sector, count, buf); err != nil {
		return 0, err
	}
	addr := b.base + sector*storage.SectorSize
	if err := b.fmc.Read(addr, buf[:count*storage.SectorSize]); err != nil {
		return 0, fmt.Errorf("read 0x%08X: %w: %w", addr, pkg.ErrIO, err)
	}
	return count, nil
}

// WriteSectors implements storage.Backend. On failure it returns the number
// of sectors fully written before the failing page.
func (b *Backend) WriteSectors(sector, count uint32, buf []byte) (uint32, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if err := storage.CheckRange(b.sectors(), sector, count, buf); err != nil {
		return 0, err
	}

	addr := b.base + sector*storage.SectorSize
	data := buf[:count*storage.SectorSize]
	done := uint32(0)
	for len(data) > 0 {
		pageAddr := addr &^ (b.page - 1)
		off := addr - pageAddr
		chunk := min(b.page-off, uint32(len(data)))

		var err error
		if off == 0 && chunk == b.page {
			err = b.writePage(pageAddr, data[:chunk])
			if err == nil {
				b.stats.FastPages++
			}
		} else {
			err = b.mergePage(pageAddr, off, data[:chunk])
			if err == nil {
				b.stats.MergedPages++
			}
		}
		if err != nil {
			pkg.LogWarn(pkg.ComponentStorage, "flash page write failed",
				"page", fmt.Sprintf("0x%08X", pageAddr), "error", err)
			return done / storage.SectorSize, fmt.Errorf("page 0x%08X: %w: %w", pageAddr, pkg.ErrIO, err)
		}
		addr += chunk
		data = data[chunk:]
		done += chunk
	}
	return count, nil
}

// mergePage rewrites part of a page through the scratch buffer.
func (b *Backend) mergePage(pageAddr, off uint32, data []byte) error {
	page := b.scratch[:b.page]
	if err := b.fmc.Read(pageAddr, page); err != nil {
		return err
	}
	copy(page[off:], data)
	return b.writePage(pageAddr, page)
}

func (b *Backend) writePage(pageAddr uint32, data []byte) error {
	if err := b.fmc.ErasePage(pageAddr); err != nil {
		return err
	}
	return b.fmc.Program(pageAddr, data)
}

// Detect always reports the medium present.
func (b *Backend) Detect() bool {
	return true
}

// Info implements storage.Backend.
func (b *Backend) Info() storage.Info {
	return storage.NewInfo(b.sectors(), storage.SubTypeFlash)
}

// PageSize returns the erase granularity.
func (b *Backend) PageSize() int {
	return int(b.page)
}

// Stats returns the page write counters.
func (b *Backend) Stats() Stats {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.stats
}

func (b *Backend) sectors() uint32 {
	return b.size / storage.SectorSize
}
