package spinor

import (
	"fmt"
	"sync"

	"github.com/ardnew/mscvcp/pkg"
	"github.com/ardnew/mscvcp/storage"
)

// Command opcodes.
const (
	CmdWriteEnable    = 0x06
	CmdWriteDisable   = 0x04
	CmdReadStatus     = 0x05
	CmdRead           = 0x03
	CmdFastRead       = 0x0B
	CmdPageProgram    = 0x02
	CmdSectorErase    = 0x20
	CmdJEDECID        = 0x9F
	CmdFastRead4B     = 0x0C
	CmdPageProgram4B  = 0x12
	CmdSectorErase4B  = 0x21
	StatusBusy        = 0x01
	StatusWriteEnable = 0x02
)

// MaxBusyPolls bounds every status poll loop.
const MaxBusyPolls = 1 << 20

// Bus is an SPI bus with the flash selected for the duration of each Tx:
// w is shifted out, then len(r) bytes are shifted in.
type Bus interface {
	Tx(w, r []byte) error
}

// Geometry describes one supported part.
type Geometry struct {
	JEDEC      uint32
	Name       string
	BlockSize  uint32
	SectorSize uint32
	Blocks     uint32
	PageSize   uint32
}

// Capacity returns the part size in bytes.
func (g Geometry) Capacity() uint32 {
	return g.BlockSize * g.Blocks
}

// Sectors returns the part size in logical sectors.
func (g Geometry) Sectors() uint32 {
	return g.Capacity() / storage.SectorSize
}

// Parts lists the supported JEDEC identifiers.
var Parts = []Geometry{
	{JEDEC: 0xEF4015, Name: "W25Q16", BlockSize: 64 * 1024, SectorSize: 4096, Blocks: 32, PageSize: 256},
	{JEDEC: 0xEF4016, Name: "W25Q32", BlockSize: 64 * 1024, SectorSize: 4096, Blocks: 64, PageSize: 256},
	{JEDEC: 0xEF4017, Name: "W25Q64", BlockSize: 64 * 1024, SectorSize: 4096, Blocks: 128, PageSize: 256},
	{JEDEC: 0xEF4018, Name: "W25Q128", BlockSize: 64 * 1024, SectorSize: 4096, Blocks: 256, PageSize: 256},
	{JEDEC: 0xEF4019, Name: "W25Q256", BlockSize: 64 * 1024, SectorSize: 4096, Blocks: 512, PageSize: 256},
}

// Lookup returns the geometry of a JEDEC identifier.
func Lookup(id uint32) (Geometry, bool) {
	for _, g := range Parts {
		if g.JEDEC == id {
			return g, true
		}
	}
	return Geometry{}, false
}

// Flash is a serial NOR backend.
type Flash struct {
	mutex   sync.Mutex
	bus     Bus
	geo     Geometry
	wide    bool // 4-byte addressing
	scratch []byte
	cmd     [5 + 256]byte
}

// Open identifies the part on bus. Unknown identifiers fail with pkg.ErrDevice.
func Open(bus Bus) (*Flash, error) {
	var id [3]byte
	if err := bus.Tx([]byte{CmdJEDECID}, id[:]); err != nil {
		return nil, fmt.Errorf("read JEDEC id: %w: %w", pkg.ErrIO, err)
	}
	jedec := uint32(id[0])<<16 | uint32(id[1])<<8 | uint32(id[2])
	geo, ok := Lookup(jedec)
	if !ok {
		pkg.LogWarn(pkg.ComponentStorage, "unknown SPI flash", "jedec", fmt.Sprintf("0x%06X", jedec))
		return nil, fmt.Errorf("JEDEC id 0x%06X: %w", jedec, pkg.ErrDevice)
	}
	pkg.LogInfo(pkg.ComponentStorage, "SPI flash detected",
		"part", geo.Name, "jedec", fmt.Sprintf("0x%06X", jedec), "capacity", geo.Capacity())
	return &Flash{
		bus:     bus,
		geo:     geo,
		wide:    geo.Capacity() > 1<<24,
		scratch: make([]byte, geo.SectorSize),
	}, nil
}

// Driver returns a storage driver that identifies the part on bus for instance 0.
func Driver(bus Bus) storage.Driver {
	return storage.NewDriver("spinor", func(instance int) (storage.Backend, error) {
		if instance != 0 {
			return nil, fmt.Errorf("spinor instance %d: %w", instance, pkg.ErrIO)
		}
		return Open(bus)
	})
}

// Geometry returns the geometry read from the part.
func (f *Flash) Geometry() Geometry {
	return f.geo
}

// ReadSectors implements storage.Backend.
func (f *Flash) ReadSectors(sector, count uint32, buf []byte) (uint32, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if err := storage.CheckRange(f.geo.Sectors(), sector, count, buf); err != nil {
		return 0, err
	}
	if err := f.read(sector*storage.SectorSize, buf[:count*storage.SectorSize]); err != nil {
		return 0, err
	}
	return count, nil
}

// WriteSectors implements storage.Backend. Each touched erase sector is
// erased and reprogrammed page by page; partial sectors are merged through
// the scratch buffer first.
func (f *Flash) WriteSectors(sector, count uint32, buf []byte) (uint32, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if err := storage.CheckRange(f.geo.Sectors(), sector, count, buf); err != nil {
		return 0, err
	}

	addr := sector * storage.SectorSize
	data := buf[:count*storage.SectorSize]
	done := uint32(0)
	for len(data) > 0 {
		base := addr &^ (f.geo.SectorSize - 1)
		off := addr - base
		chunk := min(f.geo.SectorSize-off, uint32(len(data)))

		image := data[:chunk]
		if chunk != f.geo.SectorSize {
			if err := f.read(base, f.scratch); err != nil {
				return done / storage.SectorSize, err
			}
			copy(f.scratch[off:], image)
			image = f.scratch
		}
		if err := f.eraseSector(base); err != nil {
			return done / storage.SectorSize, err
		}
		for p := uint32(0); p < f.geo.SectorSize; p += f.geo.PageSize {
			if err := f.programPage(base+p, image[p:p+f.geo.PageSize]); err != nil {
				return done / storage.SectorSize, err
			}
		}

		addr += chunk
		data = data[chunk:]
		done += chunk
	}
	return count, nil
}

// Detect always reports the part present.
func (f *Flash) Detect() bool {
	return true
}

// Info implements storage.Backend.
func (f *Flash) Info() storage.Info {
	return storage.NewInfo(f.geo.Sectors(), storage.SubTypeSPINOR)
}

func (f *Flash) address(op3, op4 byte, addr uint32) []byte {
	if f.wide {
		f.cmd[0] = op4
		f.cmd[1] = byte(addr >> 24)
		f.cmd[2] = byte(addr >> 16)
		f.cmd[3] = byte(addr >> 8)
		f.cmd[4] = byte(addr)
		return f.cmd[:5]
	}
	f.cmd[0] = op3
	f.cmd[1] = byte(addr >> 16)
	f.cmd[2] = byte(addr >> 8)
	f.cmd[3] = byte(addr)
	return f.cmd[:4]
}

func (f *Flash) read(addr uint32, buf []byte) error {
	cmd := f.address(CmdFastRead, CmdFastRead4B, addr)
	cmd = append(cmd, 0x00) // dummy cycle byte
	if err := f.bus.Tx(cmd, buf); err != nil {
		return fmt.Errorf("read 0x%06X: %w: %w", addr, pkg.ErrIO, err)
	}
	return nil
}

func (f *Flash) writeEnable() error {
	if err := f.bus.Tx([]byte{CmdWriteEnable}, nil); err != nil {
		return fmt.Errorf("write enable: %w: %w", pkg.ErrIO, err)
	}
	return nil
}

func (f *Flash) eraseSector(addr uint32) error {
	if err := f.writeEnable(); err != nil {
		return err
	}
	if err := f.bus.Tx(f.address(CmdSectorErase, CmdSectorErase4B, addr), nil); err != nil {
		return fmt.Errorf("erase 0x%06X: %w: %w", addr, pkg.ErrIO, err)
	}
	return f.waitReady()
}

func (f *Flash) programPage(addr uint32, page []byte) error {
	if err := f.writeEnable(); err != nil {
		return err
	}
	cmd := append(f.address(CmdPageProgram, CmdPageProgram4B, addr), page...)
	if err := f.bus.Tx(cmd, nil); err != nil {
		return fmt.Errorf("program 0x%06X: %w: %w", addr, pkg.ErrIO, err)
	}
	return f.waitReady()
}

// waitReady polls the status register until the busy bit clears.
func (f *Flash) waitReady() error {
	var status [1]byte
	for i := 0; i < MaxBusyPolls; i++ {
		if err := f.bus.Tx([]byte{CmdReadStatus}, status[:]); err != nil {
			return fmt.Errorf("read status: %w: %w", pkg.ErrIO, err)
		}
		if status[0]&StatusBusy == 0 {
			return nil
		}
	}
	return fmt.Errorf("busy after %d polls: %w", MaxBusyPolls, pkg.ErrIO)
}
