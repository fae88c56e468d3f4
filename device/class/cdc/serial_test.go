package cdc

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/mscvcp/device"
	"github.com/ardnew/mscvcp/device/hal"
	"github.com/ardnew/mscvcp/device/hal/sim"
	"github.com/ardnew/mscvcp/pkg"
)

const (
	inAddr     = 0x83
	outAddr    = 0x04
	notifyAddr = 0x85
	mps        = 64
)

type rig struct {
	ctrl   *sim.Controller
	host   *sim.Host
	comp   *device.Composite
	serial *Serial
}

func testConfig() Config {
	return Config{
		Control: 1,
		Data:    2,
		BulkIn:  device.Endpoint{Slot: 2, Address: inAddr, Attributes: device.EndpointTypeBulk, MaxPacketSize: mps, Buffer: 0x100},
		BulkOut: device.Endpoint{Slot: 3, Address: outAddr, Attributes: device.EndpointTypeBulk, MaxPacketSize: mps, Buffer: 0x140},
	}
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	ctrl := sim.New(sim.Options{})
	s, err := New(ctrl, cfg)
	require.NoError(t, err)
	comp := device.NewComposite(ctrl, s)
	require.NoError(t, comp.Start())

	host := sim.NewHost(ctrl)
	require.NoError(t, host.Configure(device.ConfigurationValue))
	return &rig{ctrl: ctrl, host: host, comp: comp, serial: s}
}

func (r *rig) class(in bool, request uint8, value uint16, length uint16, data []byte) ([]byte, error) {
	var setup hal.SetupPacket
	hal.ClassSetup(&setup, in, request, value, 1, length)
	return r.host.Control(setup, data)
}

func fill(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed + byte(i)
	}
	return p
}

func TestNewValidation(t *testing.T) {
	ctrl := sim.New(sim.Options{})

	tests := []struct {
		name string
		edit func(*Config)
		err  error
	}{
		{"in not bulk", func(c *Config) { c.BulkIn.Attributes = device.EndpointTypeInterrupt }, pkg.ErrInvalidEndpoint},
		{"out is IN", func(c *Config) { c.BulkOut.Address = 0x84 }, pkg.ErrInvalidEndpoint},
		{"notify is bulk", func(c *Config) {
			c.Notify = device.Endpoint{Slot: 4, Address: notifyAddr, Attributes: device.EndpointTypeBulk, MaxPacketSize: 16, Buffer: 0x180}
		}, pkg.ErrInvalidEndpoint},
		{"zero packet size", func(c *Config) { c.BulkIn.MaxPacketSize = 0 }, pkg.ErrInvalidParameter},
		{"negative send size", func(c *Config) { c.SendSize = -1 }, pkg.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.edit(&cfg)
			_, err := New(ctrl, cfg)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	s, err := New(ctrl, testConfig())
	require.NoError(t, err)
	assert.Equal(t, "vcp", s.Name())
	assert.True(t, s.OwnsInterface(1))
	assert.True(t, s.OwnsInterface(2))
	assert.False(t, s.OwnsInterface(0))
	assert.Equal(t, DefaultReceivePackets*mps, s.rx.Cap())
	assert.Len(t, s.tx, DefaultSendSize)
}

func TestLineCoding(t *testing.T) {
	r := newRig(t, testConfig())

	var changed []LineCoding
	r.serial.SetOnLineCodingChange(func(lc LineCoding) { changed = append(changed, lc) })

	data, err := r.class(true, RequestGetLineCoding, 0, LineCodingSize, nil)
	require.NoError(t, err)
	var lc LineCoding
	require.True(t, ParseLineCoding(data, &lc))
	assert.Equal(t, DefaultLineCoding, lc)
	assert.False(t, r.serial.Connected())
	assert.False(t, r.comp.Connected())

	want := LineCoding{DTERate: 9600, CharFormat: StopBits2, ParityType: ParityEven, DataBits: 7}
	buf := make([]byte, LineCodingSize)
	want.MarshalTo(buf)
	_, err = r.class(false, RequestSetLineCoding, 0, LineCodingSize, buf)
	require.NoError(t, err)
	assert.True(t, r.serial.Connected())
	assert.True(t, r.comp.Connected())
	assert.Equal(t, want, r.serial.LineCoding())
	assert.Equal(t, []LineCoding{want}, changed)

	data, err = r.class(true, RequestGetLineCoding, 0, LineCodingSize, nil)
	require.NoError(t, err)
	assert.Equal(t, buf, data)

	t.Run("short data stage", func(t *testing.T) {
		_, err := r.class(false, RequestSetLineCoding, 0, LineCodingSize, buf[:3])
		assert.ErrorIs(t, err, pkg.ErrStall)
		assert.Equal(t, want, r.serial.LineCoding())
	})

	t.Run("bus reset", func(t *testing.T) {
		r.host.Reset()
		assert.False(t, r.serial.Connected())
		assert.Equal(t, want, r.serial.LineCoding(), "line coding survives a bus reset")
	})
}

func TestControlLineState(t *testing.T) {
	r := newRig(t, testConfig())

	var dtr, rts bool
	r.serial.SetOnControlStateChange(func(d, t bool) { dtr, rts = d, t })

	_, err := r.class(false, RequestSetControlLineState, ControlLineDTR|ControlLineRTS, 0, nil)
	require.NoError(t, err)
	assert.True(t, r.serial.DTR())
	assert.True(t, r.serial.RTS())
	assert.True(t, dtr)
	assert.True(t, rts)

	_, err = r.class(false, RequestSetControlLineState, ControlLineDTR, 0, nil)
	require.NoError(t, err)
	assert.True(t, r.serial.DTR())
	assert.False(t, r.serial.RTS())
	assert.False(t, rts)
}

func TestSendBreak(t *testing.T) {
	r := newRig(t, testConfig())

	var millis uint16
	r.serial.SetOnBreak(func(ms uint16) { millis = ms })
	_, err := r.class(false, RequestSendBreak, 250, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(250), millis)
}

func TestUnsupportedRequestStalls(t *testing.T) {
	r := newRig(t, testConfig())
	_, err := r.class(false, RequestSetCommFeature, 0, 0, nil)
	assert.ErrorIs(t, err, pkg.ErrStall)
}

func TestSendDrainsInPackets(t *testing.T) {
	r := newRig(t, testConfig())
	payload := fill(150, 0x10)

	assert.Equal(t, 150, r.serial.Send(payload, 0))

	var got []byte
	for _, want := range []int{64, 64, 22} {
		pkt, err := r.host.In(inAddr)
		require.NoError(t, err)
		require.Len(t, pkt, want)
		got = append(got, pkt...)
	}
	assert.Equal(t, payload, got)

	_, _, err := r.ctrl.HostIn(inAddr)
	assert.ErrorIs(t, err, pkg.ErrNAK, "nothing left to send")
	assert.True(t, r.serial.CanSend())
}

func TestSendTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.SendSize = 128
	r := newRig(t, cfg)
	payload := fill(200, 0)

	start := time.Now()
	n := r.serial.Send(payload, 20*time.Millisecond)
	assert.Equal(t, 128, n)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.False(t, r.serial.CanSend())

	got, err := r.host.Read(inAddr, 128, mps)
	require.NoError(t, err)
	assert.Equal(t, payload[:128], got)

	// The completion of the last packet ends the transfer.
	_, _, err = r.ctrl.HostIn(inAddr)
	assert.ErrorIs(t, err, pkg.ErrNAK)
	assert.True(t, r.serial.CanSend())

	assert.Equal(t, 72, r.serial.Send(payload[128:], 0))
	got, err = r.host.Read(inAddr, 72, mps)
	require.NoError(t, err)
	assert.Equal(t, payload[128:], got)
}

func TestSendLargeWhileHostReads(t *testing.T) {
	r := newRig(t, testConfig())
	payload := fill(3000, 7)

	var wg sync.WaitGroup
	var sent int
	wg.Add(1)
	go func() {
		defer wg.Done()
		sent = r.serial.Send(payload, 2*time.Second)
	}()

	got, err := r.host.Read(inAddr, len(payload), mps)
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, len(payload), sent)
	assert.True(t, bytes.Equal(payload, got))
}

func TestReceive(t *testing.T) {
	r := newRig(t, testConfig())

	require.NoError(t, r.host.Out(outAddr, []byte("hello")))
	assert.Equal(t, 5, r.serial.CanReceive())

	buf := make([]byte, 3)
	assert.Equal(t, 3, r.serial.Receive(buf, time.Second), "returns as soon as the buffer is full")
	assert.Equal(t, "hel", string(buf))

	start := time.Now()
	buf = make([]byte, 16)
	n := r.serial.Receive(buf, 20*time.Millisecond)
	assert.Equal(t, "lo", string(buf[:n]))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	assert.Equal(t, 0, r.serial.Receive(buf, 0))
}

func TestReceiveWakesOnArrival(t *testing.T) {
	r := newRig(t, testConfig())

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = r.host.Out(outAddr, []byte("ping"))
	}()

	buf := make([]byte, 4)
	assert.Equal(t, 4, r.serial.Receive(buf, 2*time.Second))
	assert.Equal(t, "ping", string(buf))
}

func TestReceiveFlowControlAndOverflow(t *testing.T) {
	r := newRig(t, testConfig())

	var stream []byte
	for i := 0; i < DefaultReceivePackets; i++ {
		pkt := fill(mps, byte(i*mps))
		require.NoError(t, r.host.Out(outAddr, pkt))
		stream = append(stream, pkt...)
	}
	assert.Equal(t, DefaultReceivePackets*mps, r.serial.CanReceive())
	assert.False(t, r.ctrl.Armed(3), "OUT held off while the ring is full")
	assert.ErrorIs(t, r.ctrl.HostOut(outAddr, fill(mps, 0), hal.Data1), pkg.ErrNAK)

	// Consuming one byte re-arms OUT, but a full packet no longer fits.
	one := make([]byte, 1)
	require.Equal(t, 1, r.serial.Receive(one, 0))
	assert.True(t, r.ctrl.Armed(3))
	require.NoError(t, r.host.Out(outAddr, fill(mps, 0xEE)))
	assert.Equal(t, uint64(1), r.serial.Dropped())
	assert.Equal(t, len(stream)-1, r.serial.CanReceive())
	assert.False(t, r.ctrl.Armed(3))

	rest := make([]byte, len(stream))
	n := r.serial.Receive(rest, 0)
	assert.Equal(t, stream[1:], rest[:n])
	assert.True(t, r.ctrl.Armed(3))

	require.NoError(t, r.host.Out(outAddr, []byte("ok")))
	buf := make([]byte, 2)
	assert.Equal(t, 2, r.serial.Receive(buf, 0))
	assert.Equal(t, "ok", string(buf))
}

func TestDuplicatePacketDropped(t *testing.T) {
	r := newRig(t, testConfig())

	require.NoError(t, r.host.Out(outAddr, []byte("ab")))
	require.NoError(t, r.host.Resend(outAddr, []byte("ab")))
	require.NoError(t, r.host.Out(outAddr, []byte("cd")))

	buf := make([]byte, 8)
	n := r.serial.Receive(buf, 0)
	assert.Equal(t, "abcd", string(buf[:n]))
}

func TestInterceptor(t *testing.T) {
	r := newRig(t, testConfig())

	interrupts := 0
	r.serial.SetInterceptor(InterruptChar(0x03, func() { interrupts++ }))

	require.NoError(t, r.host.Out(outAddr, []byte{0x03}))
	assert.Equal(t, 1, interrupts)
	assert.Equal(t, 0, r.serial.CanReceive(), "consumed packet is not buffered")
	assert.True(t, r.ctrl.Armed(3))

	require.NoError(t, r.host.Out(outAddr, []byte{'x', 0x03}))
	assert.Equal(t, 1, interrupts, "only the first byte is an interrupt")
	assert.Equal(t, 2, r.serial.CanReceive())

	require.NoError(t, r.host.Out(outAddr, []byte{0x03, 'a', 'b'}))
	assert.Equal(t, 2, interrupts)
	assert.Equal(t, 4, r.serial.CanReceive(), "bytes after the interrupt are buffered")

	r.serial.SetInterceptor(nil)
	require.NoError(t, r.host.Out(outAddr, []byte{0x03}))
	assert.Equal(t, 2, interrupts)
	assert.Equal(t, 5, r.serial.CanReceive())

	buf := make([]byte, 8)
	n := r.serial.Receive(buf, 0)
	assert.Equal(t, []byte{'x', 0x03, 'a', 'b', 0x03}, buf[:n])
}

func TestSerialStateNotification(t *testing.T) {
	cfg := testConfig()
	cfg.Notify = device.Endpoint{Slot: 4, Address: notifyAddr, Attributes: device.EndpointTypeInterrupt, MaxPacketSize: 16, Buffer: 0x180}
	r := newRig(t, cfg)
	assert.True(t, r.serial.Owns(4))

	require.NoError(t, r.serial.SendSerialState(SerialStateRxCarrier|SerialStateTxCarrier))
	pkt, err := r.host.In(notifyAddr)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA1, NotificationSerialState, 0, 0, 1, 0, 2, 0, 0x03, 0x00}, pkt)

	plain := newRig(t, testConfig())
	assert.ErrorIs(t, plain.serial.SendSerialState(0), pkg.ErrNotConfigured)
}

func TestOverrunNotification(t *testing.T) {
	cfg := testConfig()
	cfg.Notify = device.Endpoint{Slot: 4, Address: notifyAddr, Attributes: device.EndpointTypeInterrupt, MaxPacketSize: 16, Buffer: 0x180}
	r := newRig(t, cfg)

	for i := 0; i < DefaultReceivePackets; i++ {
		require.NoError(t, r.host.Out(outAddr, fill(mps, byte(i))))
	}
	one := make([]byte, 1)
	require.Equal(t, 1, r.serial.Receive(one, 0))
	require.NoError(t, r.host.Out(outAddr, fill(mps, 0xEE)))
	require.Equal(t, uint64(1), r.serial.Dropped())

	pkt, err := r.host.In(notifyAddr)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA1, NotificationSerialState, 0, 0, 1, 0, 2, 0, SerialStateOverrun, 0x00}, pkt)
}

func TestBusResetDiscardsBuffers(t *testing.T) {
	r := newRig(t, testConfig())

	require.NoError(t, r.host.Out(outAddr, []byte("stale")))
	r.serial.Send(fill(100, 0), 0)

	r.host.Reset()
	assert.Equal(t, 0, r.serial.CanReceive())
	assert.True(t, r.serial.CanSend())
	_, _, err := r.ctrl.HostIn(inAddr)
	assert.True(t, errors.Is(err, pkg.ErrNAK))

	require.NoError(t, r.host.Out(outAddr, []byte("new")))
	assert.Equal(t, 3, r.serial.CanReceive())
}

func TestPort(t *testing.T) {
	r := newRig(t, testConfig())
	buf := make([]byte, LineCodingSize)
	DefaultLineCoding.MarshalTo(buf)
	_, err := r.class(false, RequestSetLineCoding, 0, LineCodingSize, buf)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	port := r.serial.Port(ctx)

	require.NoError(t, r.host.Out(outAddr, []byte("abc")))
	in := make([]byte, 8)
	n, err := port.Read(in)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(in[:n]))

	n, err = port.Write([]byte("xyz"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	got, err := r.host.In(inAddr)
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(got))

	cancel()
	_, err = port.Read(in)
	assert.ErrorIs(t, err, context.Canceled)
}
