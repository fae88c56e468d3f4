package storage

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/mscvcp/pkg"
)

func pattern(seed byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed ^ byte(i*7)
	}
	return b
}

func TestRAMRoundTrip(t *testing.T) {
	r := NewRAMSectors(16)
	info := r.Info()
	assert.Equal(t, NewInfo(16, SubTypeRAM), info)
	assert.Equal(t, uint32(8), info.DiskSizeKiB)

	want := pattern(0x3C, 3*SectorSize)
	n, err := r.WriteSectors(5, 3, want)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)

	got := make([]byte, 3*SectorSize)
	n, err = r.ReadSectors(5, 3, got)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("read back mismatch (-want +got):\n%s", diff)
	}
}

func TestRAMErrors(t *testing.T) {
	r := NewRAMSectors(4)
	buf := make([]byte, 2*SectorSize)

	tests := []struct {
		name    string
		prepare func()
		op      func() (uint32, error)
		want    error
	}{
		{"out of range", nil, func() (uint32, error) { return r.ReadSectors(3, 2, buf) }, pkg.ErrOutOfRange},
		{"short buffer", nil, func() (uint32, error) { return r.WriteSectors(0, 3, buf) }, pkg.ErrBufferTooSmall},
		{"write protected", func() { r.SetReadOnly(true) }, func() (uint32, error) { return r.WriteSectors(0, 1, buf) }, pkg.ErrWriteProtected},
		{"absent", func() { r.SetPresent(false) }, func() (uint32, error) { return r.ReadSectors(0, 1, buf) }, pkg.ErrNotReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.prepare != nil {
				tt.prepare()
			}
			n, err := tt.op()
			assert.Zero(t, n)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.False(t, r.Detect())
}

func TestImageCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	img, err := OpenImage(path, 8*SectorSize, false)
	require.NoError(t, err)
	assert.Equal(t, int64(8*SectorSize), img.Size())

	_, err = OpenImage(path, 0, false)
	assert.ErrorIs(t, err, pkg.ErrBusy, "image is locked while open")

	r := NewRAM(img)
	want := pattern(0x11, SectorSize)
	_, err = r.WriteSectors(7, 1, want)
	require.NoError(t, err)
	require.NoError(t, r.Sync())
	require.NoError(t, r.Close())

	ro, err := OpenImage(path, 0, true)
	require.NoError(t, err)
	defer ro.Close()

	got := make([]byte, SectorSize)
	_, err = ro.ReadAt(got, 7*SectorSize)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(want, got))

	_, err = ro.WriteAt(got, 0)
	assert.ErrorIs(t, err, pkg.ErrWriteProtected)

	_, err = OpenImage(filepath.Join(t.TempDir(), "missing.img"), SectorSize, true)
	assert.ErrorIs(t, err, pkg.ErrOpen)
}

func TestMemoryCells(t *testing.T) {
	c := NewMemoryCells(16)
	c.Fill(0xFF)
	_, err := c.WriteAt([]byte{1, 2}, 15)
	assert.ErrorIs(t, err, pkg.ErrOutOfRange)

	n, err := c.WriteAt([]byte{1, 2}, 14)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0xFF, 1, 2}, c.Bytes()[13:])
}

func TestDrivers(t *testing.T) {
	r := NewRAMSectors(1)
	d := Static("ram", r)
	assert.Equal(t, "ram", d.Name())

	b, err := d.Open(0)
	require.NoError(t, err)
	assert.Same(t, r, b)

	_, err = d.Open(1)
	assert.ErrorIs(t, err, pkg.ErrIO)

	assert.Equal(t, "sdcard", SubTypeSD.String())
	assert.Equal(t, "spinor", SubTypeSPINOR.String())
}
