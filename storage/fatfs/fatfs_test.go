package fatfs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/mscvcp/pkg"
	"github.com/ardnew/mscvcp/storage"
)

func TestBlockDeviceUnalignedAccess(t *testing.T) {
	ram := storage.NewRAMSectors(4)
	dev := NewBlockDevice(ram)
	assert.Equal(t, int64(4*storage.SectorSize), dev.Len())
	assert.Equal(t, storage.SectorSize, dev.SectorSize())

	data := []byte("spanning a sector boundary")
	n, err := dev.WriteAt(data, storage.SectorSize-5)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	got := make([]byte, len(data))
	n, err = dev.ReadAt(got, storage.SectorSize-5)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, got)

	whole := make([]byte, 2*storage.SectorSize)
	_, err = dev.ReadAt(whole, 0)
	require.NoError(t, err)
	assert.Equal(t, data, whole[storage.SectorSize-5:storage.SectorSize-5+len(data)])

	_, err = dev.ReadAt(make([]byte, 2), dev.Len()-1)
	assert.ErrorIs(t, err, pkg.ErrOutOfRange)
}

func TestParseType(t *testing.T) {
	_, err := ParseType("fat16")
	assert.NoError(t, err)
	_, err = ParseType("FAT12")
	assert.NoError(t, err)
	_, err = ParseType("exfat")
	assert.ErrorIs(t, err, pkg.ErrNotSupported)
}

func TestFormatAndAddFiles(t *testing.T) {
	ram := storage.NewRAMSectors(32768)
	require.NoError(t, Format(ram, Options{Label: "TESTVOL"}))

	names, err := List(ram)
	require.NoError(t, err)
	assert.Empty(t, names)

	content := []byte("hello from the mass storage device\n")
	require.NoError(t, AddFiles(ram, map[string][]byte{"README.TXT": content}))

	names, err = List(ram)
	require.NoError(t, err)
	assert.Contains(t, names, "README.TXT")

	raw := make([]byte, 32768*storage.SectorSize)
	_, err = ram.ReadSectors(0, 32768, raw)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(raw, content), "file data written to the medium")
	assert.Equal(t, []byte{0x55, 0xAA}, raw[510:512], "boot signature")
}
