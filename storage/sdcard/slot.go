package sdcard

import (
	"fmt"
	"sync"

	"github.com/ardnew/mscvcp/pkg"
	"github.com/ardnew/mscvcp/storage"
)

// DefaultAlignment is the DMA alignment of a simulated slot.
const DefaultAlignment = 4

// Slot simulates an SD host slot. Cards are inserted and ejected at
// runtime; DMA transfers from misaligned buffers fail with pkg.ErrIO.
type Slot struct {
	mutex sync.Mutex
	cells storage.Cells
	card  CardInfo
	align int

	Transfers uint64
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{align: DefaultAlignment}
}

// SetAlignment changes the DMA alignment.
func (s *Slot) SetAlignment(align int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.align = align
}

// Insert places a card backed by cells in the slot.
func (s *Slot) Insert(cells storage.Cells, cardType int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.cells = cells
	s.card = CardInfo{
		Blocks:    uint32(cells.Size() / storage.SectorSize),
		BlockSize: storage.SectorSize,
		Type:      cardType,
	}
}

// Eject removes the card and returns its cells.
func (s *Slot) Eject() storage.Cells {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	cells := s.cells
	s.cells = nil
	s.card = CardInfo{}
	return cells
}

// CardDetect implements Host.
func (s *Slot) CardDetect() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.cells != nil
}

// Card implements Host.
func (s *Slot) Card() (CardInfo, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.cells == nil {
		return CardInfo{}, pkg.ErrNotReady
	}
	return s.card, nil
}

// Alignment implements Host.
func (s *Slot) Alignment() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.align
}

// ReadBlocks implements Host.
func (s *Slot) ReadBlocks(lba uint32, buf []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	off, err := s.dma(lba, buf)
	if err != nil {
		return err
	}
	_, err = s.cells.ReadAt(buf, off)
	return err
}

// WriteBlocks implements Host.
func (s *Slot) WriteBlocks(lba uint32, buf []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	off, err := s.dma(lba, buf)
	if err != nil {
		return err
	}
	_, err = s.cells.WriteAt(buf, off)
	return err
}

func (s *Slot) dma(lba uint32, buf []byte) (int64, error) {
	if s.cells == nil {
		return 0, pkg.ErrNotReady
	}
	if !isAligned(buf, s.align) {
		return 0, fmt.Errorf("misaligned DMA buffer: %w", pkg.ErrIO)
	}
	if len(buf)%storage.SectorSize != 0 {
		return 0, fmt.Errorf("partial block of %d bytes: %w", len(buf), pkg.ErrIO)
	}
	off := int64(lba) * storage.SectorSize
	if off+int64(len(buf)) > s.cells.Size() {
		return 0, fmt.Errorf("lba %d: %w", lba, pkg.ErrOutOfRange)
	}
	s.Transfers++
	return off, nil
}
