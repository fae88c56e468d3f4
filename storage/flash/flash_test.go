package flash

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/mscvcp/pkg"
	"github.com/ardnew/mscvcp/storage"
)

const testSize = 64 * 1024

func newBackend(t *testing.T) (*Backend, *MemoryFMC) {
	t.Helper()
	fmc := NewMemoryFMC(storage.NewMemoryCells(testSize), DefaultBase, DefaultPageSize)
	b, err := New(fmc, Options{Base: DefaultBase, Size: testSize})
	require.NoError(t, err)
	return b, fmc
}

func fill(seed byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*13)
	}
	return b
}

func TestNewChecksScratchCapacity(t *testing.T) {
	fmc := NewMemoryFMC(storage.NewMemoryCells(testSize), 0, 8192)
	_, err := New(fmc, Options{Size: testSize, ScratchSize: 4096})
	assert.ErrorIs(t, err, pkg.ErrNoMemory)

	_, err = New(fmc, Options{Base: 0x200, Size: testSize, ScratchSize: 8192})
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)

	odd := NewMemoryFMC(storage.NewMemoryCells(testSize), 0, 3000)
	_, err = New(odd, Options{Size: testSize, ScratchSize: 4096})
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

func TestAlignedPageTakesFastPath(t *testing.T) {
	b, fmc := newBackend(t)
	sectorsPerPage := uint32(DefaultPageSize / storage.SectorSize)

	want := fill(0x21, DefaultPageSize)
	n, err := b.WriteSectors(sectorsPerPage, sectorsPerPage, want)
	require.NoError(t, err)
	assert.Equal(t, sectorsPerPage, n)
	assert.Equal(t, Stats{FastPages: 1}, b.Stats())
	assert.Equal(t, uint64(1), fmc.Erases)

	got := make([]byte, DefaultPageSize)
	_, err = b.ReadSectors(sectorsPerPage, sectorsPerPage, got)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("page mismatch (-want +got):\n%s", diff)
	}
}

func TestUnalignedSectorMerges(t *testing.T) {
	b, _ := newBackend(t)

	page := fill(0x40, DefaultPageSize)
	_, err := b.WriteSectors(0, 8, page)
	require.NoError(t, err)

	sector := fill(0x99, storage.SectorSize)
	_, err = b.WriteSectors(3, 1, sector)
	require.NoError(t, err)
	assert.Equal(t, Stats{FastPages: 1, MergedPages: 1}, b.Stats())

	want := append([]byte{}, page...)
	copy(want[3*storage.SectorSize:], sector)
	got := make([]byte, DefaultPageSize)
	_, err = b.ReadSectors(0, 8, got)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("neighbors disturbed by merge (-want +got):\n%s", diff)
	}
}

func TestWriteAcrossPageBoundary(t *testing.T) {
	b, _ := newBackend(t)

	want := fill(0x07, 6*storage.SectorSize)
	n, err := b.WriteSectors(6, 6, want)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), n)
	assert.Equal(t, Stats{MergedPages: 2}, b.Stats())

	got := make([]byte, len(want))
	_, err = b.ReadSectors(6, 6, got)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEraseFailureReportsCompletedSectors(t *testing.T) {
	b, fmc := newBackend(t)

	before := fill(0x55, DefaultPageSize)
	_, err := b.WriteSectors(8, 8, before)
	require.NoError(t, err)

	fmc.FailErase(DefaultBase+DefaultPageSize, true)
	n, err := b.WriteSectors(4, 8, fill(0xAA, 8*storage.SectorSize))
	assert.ErrorIs(t, err, pkg.ErrIO)
	assert.Equal(t, uint32(4), n, "only the first page completed")

	got := make([]byte, DefaultPageSize)
	_, err = b.ReadSectors(8, 8, got)
	require.NoError(t, err)
	assert.Equal(t, before, got, "failing page untouched")
}

func TestRangeAndInfo(t *testing.T) {
	b, _ := newBackend(t)
	info := b.Info()
	assert.Equal(t, uint32(testSize/storage.SectorSize), info.TotalSectors)
	assert.Equal(t, storage.SubTypeFlash, info.SubType)
	assert.True(t, b.Detect())

	_, err := b.ReadSectors(info.TotalSectors, 1, make([]byte, storage.SectorSize))
	assert.ErrorIs(t, err, pkg.ErrOutOfRange)

	d := Driver(b)
	opened, err := d.Open(0)
	require.NoError(t, err)
	assert.Same(t, b, opened)
}

func TestProgramRequiresErase(t *testing.T) {
	cells := storage.NewMemoryCells(DefaultPageSize)
	fmc := NewMemoryFMC(cells, 0, DefaultPageSize)

	require.NoError(t, fmc.ErasePage(0))
	require.NoError(t, fmc.Program(0, []byte{0x0F}))
	assert.ErrorIs(t, fmc.Program(0, []byte{0xF0}), pkg.ErrIO)
	assert.ErrorIs(t, fmc.Read(DefaultPageSize, make([]byte, 1)), pkg.ErrOutOfRange)
}
