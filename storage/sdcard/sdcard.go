package sdcard

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ardnew/mscvcp/pkg"
	"github.com/ardnew/mscvcp/storage"
)

// Card types.
const (
	TypeSDSC = iota
	TypeSDHC
	TypeMMC
	TypeEMMC
)

// CardInfo describes the card in a slot.
type CardInfo struct {
	Blocks    uint32
	BlockSize uint32
	Type      int
}

// Host is one SD/MMC host slot.
type Host interface {
	// CardDetect reports whether a card is inserted.
	CardDetect() bool

	// Card initializes the inserted card and returns its geometry.
	Card() (CardInfo, error)

	// ReadBlocks and WriteBlocks transfer len(buf)/512 blocks by DMA.
	ReadBlocks(lba uint32, buf []byte) error
	WriteBlocks(lba uint32, buf []byte) error

	// Alignment is the DMA buffer address alignment in bytes.
	Alignment() int
}

// Backend is an SD/MMC card behind a Host. Its mutex is held for each
// call, so the card may be shared with other users.
type Backend struct {
	mutex   sync.Mutex
	host    Host
	card    CardInfo
	ready   bool
	scratch []byte
}

// New returns a backend for host. A missing card is not an error; the
// backend reports not ready until one is inserted.
func New(host Host) *Backend {
	align := max(host.Alignment(), 1)
	raw := make([]byte, storage.SectorSize+align)
	return &Backend{
		host:    host,
		scratch: alignSlice(raw, align)[:storage.SectorSize],
	}
}

// Driver returns a storage driver mapping instance 0 and 1 to the given
// host slots.
func Driver(slots ...Host) storage.Driver {
	return storage.NewDriver("sdcard", func(instance int) (storage.Backend, error) {
		if instance < 0 || instance > 1 || instance >= len(slots) || slots[instance] == nil {
			return nil, fmt.Errorf("sdcard instance %d: %w", instance, pkg.ErrIO)
		}
		return New(slots[instance]), nil
	})
}

// ReadSectors implements storage.Backend.
func (b *Backend) ReadSectors(sector, count uint32, buf []byte) (uint32, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if err := b.check(sector, count, buf); err != nil {
		return 0, err
	}
	data := buf[:count*storage.SectorSize]
	if b.aligned(data) {
		if err := b.host.ReadBlocks(sector, data); err != nil {
			return 0, fmt.Errorf("read lba %d: %w: %w", sector, pkg.ErrIO, err)
		}
		return count, nil
	}
	for i := uint32(0); i < count; i++ {
		if err := b.host.ReadBlocks(sector+i, b.scratch); err != nil {
			return i, fmt.Errorf("read lba %d: %w: %w", sector+i, pkg.ErrIO, err)
		}
		copy(data[i*storage.SectorSize:], b.scratch)
	}
	return count, nil
}

// WriteSectors implements storage.Backend.
func (b *Backend) WriteSectors(sector, count uint32, buf []byte) (uint32, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if err := b.check(sector, count, buf); err != nil {
		return 0, err
	}
	data := buf[:count*storage.SectorSize]
	if b.aligned(data) {
		if err := b.host.WriteBlocks(sector, data); err != nil {
			return 0, fmt.Errorf("write lba %d: %w: %w", sector, pkg.ErrIO, err)
		}
		return count, nil
	}
	for i := uint32(0); i < count; i++ {
		copy(b.scratch, data[i*storage.SectorSize:])
		if err := b.host.WriteBlocks(sector+i, b.scratch); err != nil {
			return i, fmt.Errorf("write lba %d: %w: %w", sector+i, pkg.ErrIO, err)
		}
	}
	return count, nil
}

// Detect reports whether a card is inserted.
func (b *Backend) Detect() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !b.host.CardDetect() {
		b.ready = false
		return false
	}
	return true
}

// Info implements storage.Backend. Capacity is zero while no card has
// been initialized.
func (b *Backend) Info() storage.Info {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !b.ready {
		_ = b.init()
	}
	return storage.NewInfo(b.sectors(), storage.SubTypeSD)
}

// check initializes a newly inserted card and validates the range.
func (b *Backend) check(sector, count uint32, buf []byte) error {
	if !b.host.CardDetect() {
		b.ready = false
		return fmt.Errorf("no card: %w", pkg.ErrNotReady)
	}
	if !b.ready {
		if err := b.init(); err != nil {
			return err
		}
	}
	return storage.CheckRange(b.sectors(), sector, count, buf)
}

func (b *Backend) init() error {
	if !b.host.CardDetect() {
		return fmt.Errorf("no card: %w", pkg.ErrNotReady)
	}
	card, err := b.host.Card()
	if err != nil {
		return fmt.Errorf("card init: %w: %w", pkg.ErrIO, err)
	}
	b.card = card
	b.ready = true
	pkg.LogInfo(pkg.ComponentStorage, "SD card initialized",
		"blocks", card.Blocks, "blockSize", card.BlockSize, "type", card.Type)
	return nil
}

func (b *Backend) sectors() uint32 {
	if !b.ready || b.card.BlockSize == 0 {
		return 0
	}
	return uint32(uint64(b.card.Blocks) * uint64(b.card.BlockSize) / storage.SectorSize)
}

func (b *Backend) aligned(buf []byte) bool {
	return isAligned(buf, b.host.Alignment())
}

func isAligned(buf []byte, align int) bool {
	if align <= 1 || len(buf) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&buf[0]))%uintptr(align) == 0
}

func alignSlice(raw []byte, align int) []byte {
	if align <= 1 {
		return raw
	}
	off := int(uintptr(unsafe.Pointer(&raw[0])) % uintptr(align))
	if off == 0 {
		return raw
	}
	return raw[align-off:]
}
