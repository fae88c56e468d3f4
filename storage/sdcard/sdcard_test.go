package sdcard

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/mscvcp/pkg"
	"github.com/ardnew/mscvcp/storage"
)

func pattern(seed byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*3)
	}
	return b
}

// alignedBuf returns n bytes starting on a 16-byte boundary.
func alignedBuf(n int) []byte {
	return alignSlice(make([]byte, n+16), 16)[:n]
}

func misalignedBuf(n int) []byte {
	return alignedBuf(n + 1)[1:]
}

func insertedSlot(sectors int) *Slot {
	s := NewSlot()
	s.Insert(storage.NewMemoryCells(int64(sectors)*storage.SectorSize), TypeSDHC)
	return s
}

func TestAbsentCard(t *testing.T) {
	slot := NewSlot()
	b := New(slot)

	assert.False(t, b.Detect())
	assert.Zero(t, b.Info().TotalSectors)
	_, err := b.ReadSectors(0, 1, alignedBuf(storage.SectorSize))
	assert.ErrorIs(t, err, pkg.ErrNotReady)
	_, err = b.WriteSectors(0, 1, alignedBuf(storage.SectorSize))
	assert.ErrorIs(t, err, pkg.ErrNotReady)
}

func TestInsertAfterOpen(t *testing.T) {
	slot := NewSlot()
	b := New(slot)
	assert.False(t, b.Detect())

	slot.Insert(storage.NewMemoryCells(64*storage.SectorSize), TypeSDSC)
	assert.True(t, b.Detect())
	info := b.Info()
	assert.Equal(t, uint32(64), info.TotalSectors)
	assert.Equal(t, storage.SubTypeSD, info.SubType)

	slot.Eject()
	_, err := b.ReadSectors(0, 1, alignedBuf(storage.SectorSize))
	assert.ErrorIs(t, err, pkg.ErrNotReady)
}

func TestAlignedTransfer(t *testing.T) {
	slot := insertedSlot(32)
	b := New(slot)

	want := alignedBuf(4 * storage.SectorSize)
	copy(want, pattern(0x10, len(want)))
	n, err := b.WriteSectors(2, 4, want)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), n)
	assert.Equal(t, uint64(1), slot.Transfers)

	got := alignedBuf(4 * storage.SectorSize)
	_, err = b.ReadSectors(2, 4, got)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), slot.Transfers)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("aligned transfer mismatch (-want +got):\n%s", diff)
	}
}

func TestMisalignedTransferBounces(t *testing.T) {
	slot := insertedSlot(32)
	b := New(slot)

	want := misalignedBuf(3 * storage.SectorSize)
	copy(want, pattern(0x80, len(want)))
	n, err := b.WriteSectors(5, 3, want)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)
	assert.Equal(t, uint64(3), slot.Transfers, "one DMA per sector")

	got := misalignedBuf(3 * storage.SectorSize)
	n, err = b.ReadSectors(5, 3, got)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("bounced transfer mismatch (-want +got):\n%s", diff)
	}
}

func TestSlotRejectsMisalignedDMA(t *testing.T) {
	slot := insertedSlot(4)
	err := slot.ReadBlocks(0, misalignedBuf(storage.SectorSize))
	assert.ErrorIs(t, err, pkg.ErrIO)
	err = slot.WriteBlocks(4, alignedBuf(storage.SectorSize))
	assert.ErrorIs(t, err, pkg.ErrOutOfRange)
}

func TestRange(t *testing.T) {
	b := New(insertedSlot(8))
	_, err := b.ReadSectors(7, 2, alignedBuf(2*storage.SectorSize))
	assert.ErrorIs(t, err, pkg.ErrOutOfRange)
}

func TestDriverInstances(t *testing.T) {
	d := Driver(insertedSlot(8), NewSlot())
	assert.Equal(t, "sdcard", d.Name())

	tests := []struct {
		instance int
		present  bool
		err      error
	}{
		{0, true, nil},
		{1, false, nil},
		{2, false, pkg.ErrIO},
		{-1, false, pkg.ErrIO},
	}
	for _, tt := range tests {
		b, err := d.Open(tt.instance)
		if tt.err != nil {
			assert.ErrorIs(t, err, tt.err, "instance %d", tt.instance)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.present, b.Detect(), "instance %d", tt.instance)
	}

	_, err := Driver(NewSlot()).Open(1)
	assert.ErrorIs(t, err, pkg.ErrIO)
}
