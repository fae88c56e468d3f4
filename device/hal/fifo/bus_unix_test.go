//go:build unix

package fifo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/mscvcp/device"
	"github.com/ardnew/mscvcp/device/class/cdc"
	"github.com/ardnew/mscvcp/device/hal"
	"github.com/ardnew/mscvcp/device/hal/sim"
)

func TestBusRoundTrip(t *testing.T) {
	ctrl := sim.New(sim.Options{})
	serial, err := cdc.New(ctrl, cdc.Config{
		Control: 0,
		Data:    1,
		BulkIn:  device.Endpoint{Slot: 2, Address: inAddr, Attributes: device.EndpointTypeBulk, MaxPacketSize: 64, Buffer: 0x100},
		BulkOut: device.Endpoint{Slot: 3, Address: outAddr, Attributes: device.EndpointTypeBulk, MaxPacketSize: 64, Buffer: 0x140},
	})
	require.NoError(t, err)
	comp := device.NewComposite(ctrl, serial)
	require.NoError(t, comp.Start())
	defer comp.Stop()

	busDir := t.TempDir()
	bus, err := Open(busDir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(bus.Dir()), "device-"))
	assert.Len(t, bus.ID(), 32)

	for _, name := range []string{fifoHostToDevice, fifoDeviceToHost, fifoConnection} {
		fi, err := os.Stat(filepath.Join(bus.Dir(), name))
		require.NoError(t, err)
		assert.Equal(t, os.ModeNamedPipe, fi.Mode().Type(), name)
	}

	host := sim.NewHost(ctrl)
	host.Timeout = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Serve(ctx, host) }()

	client, closer, err := Dial(bus.Dir())
	require.NoError(t, err)
	defer closer.Close()

	var setup hal.SetupPacket
	hal.SetConfigurationSetup(&setup, device.ConfigurationValue)
	_, err = client.Control(setup, nil)
	require.NoError(t, err)

	require.NoError(t, client.Out(outAddr, []byte("over the pipe")))
	buf := make([]byte, 32)
	n := serial.Receive(buf, time.Second)
	assert.Equal(t, "over the pipe", string(buf[:n]))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	require.NoError(t, bus.Close())
	_, err = os.Stat(bus.Dir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}
