// Package board assembles a simulated composite device from a profile.
//
// The endpoint and buffer layout is fixed:
//
//	interface 0      mass storage   bulk IN 0x81 / OUT 0x02
//	interface 1, 2   virtual COM    bulk IN 0x83 / OUT 0x04, notify 0x85
package board

import (
	"errors"
	"fmt"

	"github.com/ardnew/mscvcp/device"
	"github.com/ardnew/mscvcp/device/class/cdc"
	"github.com/ardnew/mscvcp/device/class/msc"
	"github.com/ardnew/mscvcp/device/hal"
	"github.com/ardnew/mscvcp/device/hal/sim"
	"github.com/ardnew/mscvcp/internal/config"
	"github.com/ardnew/mscvcp/pkg"
	"github.com/ardnew/mscvcp/storage"
	"github.com/ardnew/mscvcp/storage/flash"
	"github.com/ardnew/mscvcp/storage/sdcard"
	"github.com/ardnew/mscvcp/storage/spinor"
)

// Endpoint addresses.
const (
	MSCIn     = 0x81
	MSCOut    = 0x02
	SerialIn  = 0x83
	SerialOut = 0x04
	Notify    = 0x85
)

// Interface numbers.
const (
	MSCInterface     = 0
	ControlInterface = 1
	DataInterface    = 2
)

const notifyPacket = 16

// Board is an assembled device and the media behind it.
type Board struct {
	Controller *sim.Controller
	Composite  *device.Composite
	MSC        *msc.MSC
	Serial     *cdc.Serial

	sources []msc.LUNSource
	names   []string
	cells   []storage.Cells
	erase   int // Largest erase unit among the media
}

// New builds the media, functions and dispatcher described by p. Image
// files named by the profile are opened and locked until Close.
func New(p *config.Profile) (*Board, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	b := &Board{Controller: sim.New(sim.Options{})}

	for i, l := range p.LUNs {
		src, err := b.source(l)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("lun %d (%s): %w", i, l.Kind, err)
		}
		b.sources = append(b.sources, src)
		b.names = append(b.names, l.Kind)
	}

	// Aligned writes must reach the media in whole erase units.
	staging := p.StagingSize
	if staging < b.erase {
		pkg.LogInfo(pkg.ComponentConfig, "staging buffer raised to erase unit",
			"stagingSize", staging, "erase", b.erase)
		staging = b.erase
	}

	mps := uint16(p.MaxPacket)
	var err error
	b.MSC, err = msc.New(b.Controller, msc.Config{
		Interface:    MSCInterface,
		BulkIn:       bulk(2, MSCIn, mps, 0x100),
		BulkOut:      bulk(3, MSCOut, mps, 0x140),
		Vendor:       p.Vendor,
		Product:      p.Product,
		Revision:     p.Revision,
		WriteProtect: p.WriteProtect,
		StagingSize:  staging,
	}, msc.NewRegistry(b.sources...))
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("mass storage: %w", err)
	}

	b.Serial, err = cdc.New(b.Controller, cdc.Config{
		Control: ControlInterface,
		Data:    DataInterface,
		BulkIn:  bulk(4, SerialIn, mps, 0x180),
		BulkOut: bulk(5, SerialOut, mps, 0x1C0),
		Notify: device.Endpoint{
			Slot:          6,
			Address:       Notify,
			Attributes:    device.EndpointTypeInterrupt,
			MaxPacketSize: notifyPacket,
			Buffer:        0x200,
		},
		SendSize:       p.Serial.SendSize,
		ReceivePackets: p.Serial.ReceivePackets,
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("serial: %w", err)
	}

	b.Composite = device.NewComposite(b.Controller, b.MSC, b.Serial)
	pkg.LogInfo(pkg.ComponentConfig, "board assembled",
		"luns", len(b.sources), "maxPacket", p.MaxPacket)
	return b, nil
}

func bulk(slot uint8, address uint8, mps uint16, buffer uint32) device.Endpoint {
	return device.Endpoint{
		Slot:          hal.Slot(slot),
		Address:       address,
		Attributes:    device.EndpointTypeBulk,
		MaxPacketSize: mps,
		Buffer:        buffer,
	}
}

// Host returns a host model bound to the board's controller.
func (b *Board) Host() *sim.Host {
	return sim.NewHost(b.Controller)
}

// Sources returns the LUN sources in profile order.
func (b *Board) Sources() []msc.LUNSource {
	return b.sources
}

// Kind returns the profile kind of source i.
func (b *Board) Kind(i int) string {
	return b.names[i]
}

// Close flushes and releases every medium.
func (b *Board) Close() error {
	var errs []error
	for _, c := range b.cells {
		errs = append(errs, c.Sync(), c.Close())
	}
	b.cells = nil
	return errors.Join(errs...)
}

func (b *Board) source(l config.LUN) (msc.LUNSource, error) {
	switch l.Kind {
	case config.KindRAM:
		cells, err := b.open(l, l.Size, 0x00)
		if err != nil {
			return msc.LUNSource{}, err
		}
		ram := storage.NewRAM(cells)
		ram.SetReadOnly(l.ReadOnly)
		return msc.LUNSource{Driver: storage.Static("ram", ram)}, nil

	case config.KindFlash:
		cells, err := b.open(l, l.Size, 0xFF)
		if err != nil {
			return msc.LUNSource{}, err
		}
		fmc := flash.NewMemoryFMC(cells, flash.DefaultBase, flash.DefaultPageSize)
		fb, err := flash.New(fmc, flash.Options{Base: flash.DefaultBase, Size: uint32(l.Size)})
		if err != nil {
			return msc.LUNSource{}, err
		}
		b.erase = max(b.erase, fb.PageSize())
		return msc.LUNSource{Driver: flash.Driver(fb)}, nil

	case config.KindSPINOR:
		geo, ok := spinor.Lookup(l.JEDEC)
		if !ok {
			// The part still answers JEDEC ID; probing rejects it when the
			// unit is realized.
			geo = spinor.Geometry{JEDEC: l.JEDEC, Name: "unknown", BlockSize: 64 * 1024, SectorSize: 4096, Blocks: 1, PageSize: 256}
		}
		cells, err := b.open(l, int64(geo.Capacity()), 0xFF)
		if err != nil {
			return msc.LUNSource{}, err
		}
		chip, err := spinor.NewChip(geo, cells)
		if err != nil {
			return msc.LUNSource{}, err
		}
		b.erase = max(b.erase, int(geo.SectorSize))
		return msc.LUNSource{Driver: spinor.Driver(chip)}, nil

	case config.KindSDCard:
		slot := sdcard.NewSlot()
		if !l.Absent {
			cells, err := b.open(l, l.Size, 0x00)
			if err != nil {
				return msc.LUNSource{}, err
			}
			slot.Insert(cells, sdcard.TypeSDHC)
		}
		hosts := make([]sdcard.Host, l.Instance+1)
		hosts[l.Instance] = slot
		return msc.LUNSource{Driver: sdcard.Driver(hosts...), Instance: l.Instance}, nil

	default:
		return msc.LUNSource{}, fmt.Errorf("kind %q: %w", l.Kind, pkg.ErrInvalidParameter)
	}
}

// open returns the cells for a unit: its image file when one is named,
// otherwise a fresh array filled with erased.
func (b *Board) open(l config.LUN, size int64, erased byte) (storage.Cells, error) {
	if l.Image != "" {
		cells, err := storage.OpenImage(l.Image, size, l.ReadOnly)
		if err != nil {
			return nil, err
		}
		b.cells = append(b.cells, cells)
		return cells, nil
	}
	cells := storage.NewMemoryCells(size)
	if erased != 0 {
		cells.Fill(erased)
	}
	return cells, nil
}
