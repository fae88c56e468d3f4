package board

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/mscvcp/device"
	"github.com/ardnew/mscvcp/device/class/cdc"
	"github.com/ardnew/mscvcp/device/class/msc"
	"github.com/ardnew/mscvcp/device/hal"
	"github.com/ardnew/mscvcp/internal/config"
	"github.com/ardnew/mscvcp/pkg"
	"github.com/ardnew/mscvcp/storage"
)

func profile(luns ...config.LUN) *config.Profile {
	p := &config.Profile{Vendor: "Acme", Product: "Board", LUNs: luns}
	p.Normalize()
	return p
}

func TestNewOpensEveryKind(t *testing.T) {
	b, err := New(profile(
		config.LUN{Kind: config.KindRAM, Size: 64 * 1024},
		config.LUN{Kind: config.KindFlash, Size: 64 * 1024},
		config.LUN{Kind: config.KindSPINOR, JEDEC: 0xEF4015},
		config.LUN{Kind: config.KindSDCard, Size: 1 << 20, Instance: 1},
	))
	require.NoError(t, err)
	defer b.Close()

	want := []struct {
		kind    string
		sectors uint32
	}{
		{config.KindRAM, 128},
		{config.KindFlash, 128},
		{config.KindSPINOR, 2 << 20 / storage.SectorSize},
		{config.KindSDCard, 1 << 20 / storage.SectorSize},
	}
	require.Len(t, b.Sources(), len(want))
	for i, w := range want {
		t.Run(w.kind, func(t *testing.T) {
			assert.Equal(t, w.kind, b.Kind(i))
			src := b.Sources()[i]
			be, err := src.Driver.Open(src.Instance)
			require.NoError(t, err)
			assert.True(t, be.Detect())
			assert.Equal(t, w.sectors, be.Info().TotalSectors)
		})
	}
}

func TestUnknownSPINORFailsOnOpen(t *testing.T) {
	b, err := New(profile(config.LUN{Kind: config.KindSPINOR, JEDEC: 0x123456}))
	require.NoError(t, err)
	defer b.Close()

	src := b.Sources()[0]
	_, err = src.Driver.Open(src.Instance)
	assert.ErrorIs(t, err, pkg.ErrDevice)
}

func TestAbsentCard(t *testing.T) {
	b, err := New(profile(config.LUN{Kind: config.KindSDCard, Absent: true}))
	require.NoError(t, err)
	defer b.Close()

	src := b.Sources()[0]
	be, err := src.Driver.Open(src.Instance)
	require.NoError(t, err)
	assert.False(t, be.Detect())
}

func TestImageBackedRAM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ram.img")
	b, err := New(profile(config.LUN{Kind: config.KindRAM, Image: path, Size: 4096}))
	require.NoError(t, err)

	src := b.Sources()[0]
	be, err := src.Driver.Open(src.Instance)
	require.NoError(t, err)
	sector := make([]byte, storage.SectorSize)
	for i := range sector {
		sector[i] = byte(i * 7)
	}
	n, err := be.WriteSectors(3, 1, sector)
	require.NoError(t, err)
	require.Equal(t, uint32(1), n)
	require.NoError(t, b.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, 4096)
	if diff := cmp.Diff(sector, data[3*storage.SectorSize:4*storage.SectorSize]); diff != "" {
		t.Errorf("image contents (-want +got):\n%s", diff)
	}
}

func TestReadOnlyImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o644))

	b, err := New(profile(config.LUN{Kind: config.KindRAM, Image: path, Size: 4096, ReadOnly: true}))
	require.NoError(t, err)
	defer b.Close()

	src := b.Sources()[0]
	be, err := src.Driver.Open(src.Instance)
	require.NoError(t, err)
	_, err = be.WriteSectors(0, 1, make([]byte, storage.SectorSize))
	assert.ErrorIs(t, err, pkg.ErrWriteProtected)
}

func TestStagingCoversEraseUnit(t *testing.T) {
	tests := []struct {
		name string
		lun  config.LUN
		want int
	}{
		{name: "ram", lun: config.LUN{Kind: config.KindRAM, Size: 64 * 1024}, want: 512},
		{name: "flash", lun: config.LUN{Kind: config.KindFlash, Size: 64 * 1024}, want: 4096},
		{name: "spinor", lun: config.LUN{Kind: config.KindSPINOR, JEDEC: 0xEF4015}, want: 4096},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := profile(tt.lun)
			p.StagingSize = 512
			b, err := New(p)
			require.NoError(t, err)
			defer b.Close()
			assert.Equal(t, tt.want, b.MSC.StagingSize())
		})
	}

	b, err := New(profile(config.LUN{Kind: config.KindRAM, Size: 64 * 1024}))
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, msc.DefaultStagingSize, b.MSC.StagingSize())
}

func TestNewRejectsInvalidProfile(t *testing.T) {
	_, err := New(&config.Profile{MaxPacket: 64, StagingSize: 512})
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

func TestCompositeEndToEnd(t *testing.T) {
	b, err := New(profile(
		config.LUN{Kind: config.KindRAM, Size: 64 * 1024},
		config.LUN{Kind: config.KindSDCard, Absent: true},
	))
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.Composite.Start())
	defer b.Composite.Stop()

	host := b.Host()
	host.Pump = b.Composite.Poll
	require.NoError(t, host.Configure(device.ConfigurationValue))

	var setup hal.SetupPacket
	hal.ClassSetup(&setup, true, msc.RequestGetMaxLUN, 0, MSCInterface, 1)
	data, err := host.Control(setup, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, data, "absent card still occupies a unit")

	cbw := msc.CommandBlockWrapper{
		Signature:          msc.CBWSignature,
		Tag:                0x1234,
		DataTransferLength: 36,
		Flags:              msc.CBWFlagDataIn,
		CBLength:           6,
	}
	cbw.CB[0] = msc.SCSIInquiry
	cbw.CB[4] = 36
	buf := make([]byte, msc.CBWSize)
	cbw.MarshalTo(buf)
	require.NoError(t, host.Out(MSCOut, buf))

	inquiry, err := host.Read(MSCIn, 36, config.DefaultMaxPacket)
	require.NoError(t, err)
	require.Len(t, inquiry, 36)
	assert.Equal(t, "Acme    ", string(inquiry[8:16]))
	assert.Equal(t, "Board", string(inquiry[16:21]))

	raw, err := host.In(MSCIn)
	require.NoError(t, err)
	var csw msc.CommandStatusWrapper
	require.NoError(t, msc.ParseCSW(raw, &csw))
	assert.Equal(t, uint32(0x1234), csw.Tag)
	assert.Equal(t, uint8(msc.CSWStatusGood), csw.Status)

	// The serial function answers on its own interface.
	hal.ClassSetup(&setup, true, cdc.RequestGetLineCoding, 0, ControlInterface, cdc.LineCodingSize)
	data, err = host.Control(setup, nil)
	require.NoError(t, err)
	assert.Equal(t, cdc.DefaultLineCoding.DTERate, binary.LittleEndian.Uint32(data))
}
