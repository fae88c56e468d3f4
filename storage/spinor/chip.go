package spinor

import (
	"fmt"
	"sync"

	"github.com/ardnew/mscvcp/pkg"
	"github.com/ardnew/mscvcp/storage"
)

// Chip simulates a serial NOR part on storage.Cells. It honors the write
// enable latch, reports busy for BusyPolls status reads after each erase
// or program, and ignores everything but status reads while busy.
type Chip struct {
	mutex sync.Mutex
	geo   Geometry
	cells storage.Cells
	wel   bool
	busy  int

	BusyPolls int
	Erases    uint64
	Programs  uint64
	Ignored   uint64
}

// NewChip creates a simulated part. cells must hold the full capacity.
func NewChip(geo Geometry, cells storage.Cells) (*Chip, error) {
	if cells.Size() < int64(geo.Capacity()) {
		return nil, fmt.Errorf("cells hold %d of %d bytes: %w",
			cells.Size(), geo.Capacity(), pkg.ErrInvalidParameter)
	}
	return &Chip{geo: geo, cells: cells, BusyPolls: 2}, nil
}

// Tx implements Bus.
func (c *Chip) Tx(w, r []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(w) == 0 {
		return fmt.Errorf("empty frame: %w", pkg.ErrProtocol)
	}
	op := w[0]
	if op == CmdReadStatus {
		var status byte
		if c.busy > 0 {
			status |= StatusBusy
			c.busy--
		}
		if c.wel {
			status |= StatusWriteEnable
		}
		for i := range r {
			r[i] = status
		}
		return nil
	}
	if c.busy > 0 {
		c.Ignored++
		return nil
	}

	switch op {
	case CmdJEDECID:
		id := []byte{byte(c.geo.JEDEC >> 16), byte(c.geo.JEDEC >> 8), byte(c.geo.JEDEC)}
		copy(r, id)
		return nil

	case CmdWriteEnable:
		c.wel = true
		return nil

	case CmdWriteDisable:
		c.wel = false
		return nil

	case CmdRead, CmdFastRead, CmdFastRead4B:
		addr, rest, err := c.decode(op == CmdFastRead4B, w[1:])
		if err != nil {
			return err
		}
		if op != CmdRead {
			if len(rest) < 1 {
				return fmt.Errorf("missing dummy byte: %w", pkg.ErrProtocol)
			}
		}
		if int64(addr)+int64(len(r)) > int64(c.geo.Capacity()) {
			return fmt.Errorf("read 0x%X+%d: %w", addr, len(r), pkg.ErrOutOfRange)
		}
		_, err = c.cells.ReadAt(r, int64(addr))
		return err

	case CmdSectorErase, CmdSectorErase4B:
		addr, _, err := c.decode(op == CmdSectorErase4B, w[1:])
		if err != nil {
			return err
		}
		if !c.wel {
			c.Ignored++
			return nil
		}
		base := addr &^ (c.geo.SectorSize - 1)
		erased := make([]byte, c.geo.SectorSize)
		for i := range erased {
			erased[i] = 0xFF
		}
		if _, err := c.cells.WriteAt(erased, int64(base)); err != nil {
			return err
		}
		c.finish()
		c.Erases++
		return nil

	case CmdPageProgram, CmdPageProgram4B:
		addr, data, err := c.decode(op == CmdPageProgram4B, w[1:])
		if err != nil {
			return err
		}
		if !c.wel {
			c.Ignored++
			return nil
		}
		if len(data) > int(c.geo.PageSize) {
			return fmt.Errorf("program %d bytes: %w", len(data), pkg.ErrProtocol)
		}
		// Programming wraps within the page and only clears bits.
		page := addr &^ (c.geo.PageSize - 1)
		cell := make([]byte, 1)
		for i, d := range data {
			at := page + (addr-page+uint32(i))%c.geo.PageSize
			if _, err := c.cells.ReadAt(cell, int64(at)); err != nil {
				return err
			}
			cell[0] &= d
			if _, err := c.cells.WriteAt(cell, int64(at)); err != nil {
				return err
			}
		}
		c.finish()
		c.Programs++
		return nil
	}
	return fmt.Errorf("opcode 0x%02X: %w", op, pkg.ErrNotSupported)
}

func (c *Chip) finish() {
	c.wel = false
	c.busy = c.BusyPolls
}

func (c *Chip) decode(wide bool, w []byte) (uint32, []byte, error) {
	n := 3
	if wide {
		n = 4
	}
	if len(w) < n {
		return 0, nil, fmt.Errorf("short address: %w", pkg.ErrProtocol)
	}
	var addr uint32
	for _, b := range w[:n] {
		addr = addr<<8 | uint32(b)
	}
	return addr, w[n:], nil
}
