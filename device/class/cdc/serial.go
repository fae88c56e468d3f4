package cdc

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ardnew/mscvcp/device"
	"github.com/ardnew/mscvcp/device/hal"
	"github.com/ardnew/mscvcp/pkg"
)

// Default buffer geometry.
const (
	DefaultSendSize       = 1024 // send buffer, bytes
	DefaultReceivePackets = 3    // receive ring, in max-size packets
)

// Interceptor inspects every packet received from the host before it is
// buffered and returns the bytes that remain to be buffered. An empty result
// consumes the packet. It runs in interrupt context.
type Interceptor func(packet []byte) (rest []byte)

// InterruptChar returns an Interceptor that calls fn for every packet whose
// first byte is c and strips that byte, as a terminal delivers a keyboard
// interrupt. Bytes after it in the same packet are still buffered.
func InterruptChar(c byte, fn func()) Interceptor {
	return func(packet []byte) []byte {
		if len(packet) == 0 || packet[0] != c {
			return packet
		}
		if fn != nil {
			fn()
		}
		return packet[1:]
	}
}

// Config describes the serial function.
type Config struct {
	Control uint8 // Communications interface number
	Data    uint8 // Data interface number

	BulkIn  device.Endpoint // Bulk IN endpoint (device to host)
	BulkOut device.Endpoint // Bulk OUT endpoint (host to device)
	Notify  device.Endpoint // Interrupt IN endpoint; a zero Address disables it

	SendSize       int // Send buffer size in bytes
	ReceivePackets int // Receive ring capacity in max-size packets
}

// Serial implements a CDC-ACM virtual COM port as a composite function.
//
// Host traffic is moved between the bulk endpoints and two buffers by the
// interrupt handler. Send and Receive run in application context, touch the
// buffers only with the controller interrupts masked, and block on
// notifications from the handler.
type Serial struct {
	ctrl            hal.Controller
	in, out, notify device.Endpoint
	hasNotify       bool
	control, data   uint8
	mps             int
	pkt             []byte
	ctrlBuf         [LineCodingSize]byte
	notifyBuf       [SerialStateSize]byte

	// Shared with the interrupt handler.
	tx          []byte
	txIn, txOut int
	sending     bool
	rx          ring
	parked      bool // OUT slot left unarmed until the application reads
	coding      LineCoding
	lineState   uint16
	intercept   Interceptor

	onLineCoding  func(LineCoding)
	onControlLine func(dtr, rts bool)
	onBreak       func(millis uint16)

	connected atomic.Bool
	dropped   atomic.Uint64

	sent     chan struct{}
	received chan struct{}
}

// New creates the serial function.
func New(ctrl hal.Controller, cfg Config) (*Serial, error) {
	if !cfg.BulkIn.IsBulk() || !cfg.BulkIn.IsIn() {
		return nil, fmt.Errorf("bulk IN endpoint 0x%02X: %w", cfg.BulkIn.Address, pkg.ErrInvalidEndpoint)
	}
	if !cfg.BulkOut.IsBulk() || !cfg.BulkOut.IsOut() {
		return nil, fmt.Errorf("bulk OUT endpoint 0x%02X: %w", cfg.BulkOut.Address, pkg.ErrInvalidEndpoint)
	}
	hasNotify := cfg.Notify.Address != 0
	if hasNotify && (cfg.Notify.TransferType() != device.EndpointTypeInterrupt || !cfg.Notify.IsIn()) {
		return nil, fmt.Errorf("notification endpoint 0x%02X: %w", cfg.Notify.Address, pkg.ErrInvalidEndpoint)
	}
	mps := int(min(cfg.BulkIn.MaxPacketSize, cfg.BulkOut.MaxPacketSize))
	if mps == 0 {
		return nil, fmt.Errorf("zero max packet size: %w", pkg.ErrInvalidParameter)
	}
	if cfg.SendSize == 0 {
		cfg.SendSize = DefaultSendSize
	}
	if cfg.ReceivePackets == 0 {
		cfg.ReceivePackets = DefaultReceivePackets
	}
	if cfg.SendSize < 0 || cfg.ReceivePackets < 0 {
		return nil, fmt.Errorf("negative buffer size: %w", pkg.ErrInvalidParameter)
	}

	return &Serial{
		ctrl:      ctrl,
		in:        cfg.BulkIn,
		out:       cfg.BulkOut,
		notify:    cfg.Notify,
		hasNotify: hasNotify,
		control:   cfg.Control,
		data:      cfg.Data,
		mps:       mps,
		pkt:       make([]byte, mps),
		tx:        make([]byte, cfg.SendSize),
		rx:        newRing(cfg.ReceivePackets * mps),
		coding:    DefaultLineCoding,
		sent:      make(chan struct{}, 1),
		received:  make(chan struct{}, 1),
	}, nil
}

// Name implements device.Function.
func (s *Serial) Name() string { return "vcp" }

// Owns implements device.Function.
func (s *Serial) Owns(slot hal.Slot) bool {
	return slot == s.in.Slot || slot == s.out.Slot || (s.hasNotify && slot == s.notify.Slot)
}

// OwnsInterface implements device.Function.
func (s *Serial) OwnsInterface(iface uint8) bool {
	return iface == s.control || iface == s.data
}

// Configure binds the endpoints, empties both buffers and arms bulk OUT.
func (s *Serial) Configure() error {
	if err := s.in.Configure(s.ctrl); err != nil {
		return err
	}
	if err := s.out.Configure(s.ctrl); err != nil {
		return err
	}
	if s.hasNotify {
		if err := s.notify.Configure(s.ctrl); err != nil {
			return err
		}
	}
	s.reset()
	s.ctrl.SetPayload(s.out.Slot, s.mps)
	return nil
}

// BusReset implements device.Function. The line coding survives.
func (s *Serial) BusReset() {
	s.reset()
	s.lineState = 0
	s.connected.Store(false)
}

func (s *Serial) reset() {
	s.sending = false
	s.txIn, s.txOut = 0, 0
	s.rx.Reset()
	s.parked = false
	wake(s.sent)
	wake(s.received)
}

// HandleEndpoint implements device.Function.
func (s *Serial) HandleEndpoint(slot hal.Slot) {
	switch slot {
	case s.in.Slot:
		s.drain()
		wake(s.sent)
	case s.out.Slot:
		s.receive()
	}
}

// HaltCleared implements device.Function.
func (s *Serial) HaltCleared(slot hal.Slot) {
	if slot == s.out.Slot {
		s.out.ResetSequence()
	}
}

// Connected reports whether the host has set a line coding since the last
// bus reset.
func (s *Serial) Connected() bool {
	return s.connected.Load()
}

// HandleSetup answers the ACM class requests.
func (s *Serial) HandleSetup(setup *hal.SetupPacket) bool {
	switch setup.Request {
	case RequestSetLineCoding:
		if setup.IsDeviceToHost() || setup.Length < LineCodingSize {
			return false
		}
		n := s.ctrl.ReadControl(s.ctrlBuf[:])
		var lc LineCoding
		if !ParseLineCoding(s.ctrlBuf[:n], &lc) {
			return false
		}
		s.coding = lc
		s.ctrl.AckControl()
		if !s.connected.Swap(true) {
			pkg.LogInfo(pkg.ComponentVCP, "serial connected")
		}
		pkg.LogDebug(pkg.ComponentVCP, "line coding set",
			"baud", lc.DTERate,
			"dataBits", lc.DataBits,
			"parity", lc.ParityType,
			"stopBits", lc.CharFormat)
		if s.onLineCoding != nil {
			s.onLineCoding(lc)
		}
		return true

	case RequestGetLineCoding:
		if !setup.IsDeviceToHost() {
			return false
		}
		n := s.coding.MarshalTo(s.ctrlBuf[:])
		if err := s.ctrl.WriteControl(s.ctrlBuf[:n]); err != nil {
			pkg.LogWarn(pkg.ComponentVCP, "answer GET_LINE_CODING", "error", err)
			return false
		}
		return true

	case RequestSetControlLineState:
		s.lineState = setup.Value
		s.ctrl.AckControl()
		dtr := s.lineState&ControlLineDTR != 0
		rts := s.lineState&ControlLineRTS != 0
		pkg.LogDebug(pkg.ComponentVCP, "control line state set", "dtr", dtr, "rts", rts)
		if s.onControlLine != nil {
			s.onControlLine(dtr, rts)
		}
		return true

	case RequestSendBreak:
		s.ctrl.AckControl()
		pkg.LogDebug(pkg.ComponentVCP, "break signaled", "duration_ms", setup.Value)
		if s.onBreak != nil {
			s.onBreak(setup.Value)
		}
		return true

	default:
		return false
	}
}

// receive services a completed bulk OUT transaction.
func (s *Serial) receive() {
	if !s.out.Accept(s.ctrl.Toggle(s.out.Slot)) {
		s.ctrl.SetPayload(s.out.Slot, s.mps)
		return
	}
	n := min(s.ctrl.Payload(s.out.Slot), len(s.pkt))
	s.ctrl.ReadMemory(s.out.Buffer, s.pkt[:n])
	packet := s.pkt[:n]

	if s.intercept != nil {
		if packet = s.intercept(packet); len(packet) == 0 {
			s.ctrl.SetPayload(s.out.Slot, s.mps)
			return
		}
	}
	if !s.rx.Write(packet) {
		s.dropped.Add(1)
		s.parked = true
		pkg.LogWarn(pkg.ComponentVCP, "receive buffer overflow, packet dropped",
			"length", len(packet), "free", s.rx.Free())
		if s.hasNotify {
			s.notifyState(SerialStateOverrun)
		}
		return
	}
	wake(s.received)
	if s.rx.Free() >= s.mps {
		s.ctrl.SetPayload(s.out.Slot, s.mps)
		return
	}
	s.parked = true
}

// drain queues the next packet of the send buffer on bulk IN, or ends the
// transfer when nothing is left.
func (s *Serial) drain() {
	n := min(s.txIn-s.txOut, s.mps)
	if n <= 0 {
		s.sending = false
		return
	}
	s.ctrl.WriteMemory(s.in.Buffer, s.tx[s.txOut:s.txOut+n])
	s.ctrl.SetPayload(s.in.Slot, n)
	s.txOut += n
	s.sending = true
}

// queue copies as much of p as fits into the send buffer and primes bulk IN
// when no transfer is in flight.
func (s *Serial) queue(p []byte) int {
	if !s.sending {
		s.txIn, s.txOut = 0, 0
	}
	n := copy(s.tx[s.txIn:], p)
	s.txIn += n
	if !s.sending && n > 0 {
		s.drain()
	}
	return n
}

// Send queues p for the host, waiting up to timeout for buffer space. It
// returns the number of bytes queued.
func (s *Serial) Send(p []byte, timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	n := 0
	for {
		device.Critical(s.ctrl, func() { n += s.queue(p[n:]) })
		if n == len(p) || !await(s.sent, deadline) {
			return n
		}
	}
}

// Receive copies received bytes into p until it is full or timeout elapses
// without a new byte. It returns the number of bytes copied.
func (s *Serial) Receive(p []byte, timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	n := 0
	for n < len(p) {
		var got int
		device.Critical(s.ctrl, func() {
			got = s.rx.Read(p[n:])
			if got > 0 && s.parked {
				s.parked = false
				s.ctrl.SetPayload(s.out.Slot, s.mps)
			}
		})
		if got > 0 {
			n += got
			deadline = time.Now().Add(timeout)
			continue
		}
		if !await(s.received, deadline) {
			break
		}
	}
	return n
}

// CanSend reports whether Send would queue at least one byte.
func (s *Serial) CanSend() bool {
	var ok bool
	device.Critical(s.ctrl, func() { ok = s.txIn < len(s.tx) || !s.sending })
	return ok
}

// CanReceive returns the number of buffered received bytes.
func (s *Serial) CanReceive() int {
	var n int
	device.Critical(s.ctrl, func() { n = s.rx.Len() })
	return n
}

// Dropped returns the number of packets lost to receive buffer overflow.
func (s *Serial) Dropped() uint64 {
	return s.dropped.Load()
}

// SetInterceptor installs the receive hook. A nil hook removes it.
func (s *Serial) SetInterceptor(fn Interceptor) {
	device.Critical(s.ctrl, func() { s.intercept = fn })
}

// SetOnLineCodingChange sets the callback for line coding changes. It runs
// in interrupt context.
func (s *Serial) SetOnLineCodingChange(cb func(LineCoding)) {
	device.Critical(s.ctrl, func() { s.onLineCoding = cb })
}

// SetOnControlStateChange sets the callback for control line state changes.
// It runs in interrupt context.
func (s *Serial) SetOnControlStateChange(cb func(dtr, rts bool)) {
	device.Critical(s.ctrl, func() { s.onControlLine = cb })
}

// SetOnBreak sets the callback for break signaling. It runs in interrupt
// context.
func (s *Serial) SetOnBreak(cb func(millis uint16)) {
	device.Critical(s.ctrl, func() { s.onBreak = cb })
}

// LineCoding returns the current line coding configuration.
func (s *Serial) LineCoding() LineCoding {
	var lc LineCoding
	device.Critical(s.ctrl, func() { lc = s.coding })
	return lc
}

// DTR returns the current DTR (Data Terminal Ready) state.
func (s *Serial) DTR() bool {
	var v bool
	device.Critical(s.ctrl, func() { v = s.lineState&ControlLineDTR != 0 })
	return v
}

// RTS returns the current RTS (Request To Send) state.
func (s *Serial) RTS() bool {
	var v bool
	device.Critical(s.ctrl, func() { v = s.lineState&ControlLineRTS != 0 })
	return v
}

// SendSerialState sends a SERIAL_STATE notification to the host.
func (s *Serial) SendSerialState(state uint16) error {
	if !s.hasNotify {
		return fmt.Errorf("no notification endpoint: %w", pkg.ErrNotConfigured)
	}
	device.Critical(s.ctrl, func() { s.notifyState(state) })
	return nil
}

// notifyState arms the notification endpoint. The caller holds interrupts
// masked.
func (s *Serial) notifyState(state uint16) {
	n := marshalSerialState(s.control, state, s.notifyBuf[:])
	s.ctrl.WriteMemory(s.notify.Buffer, s.notifyBuf[:n])
	s.ctrl.SetPayload(s.notify.Slot, n)
}

// wake signals ch without blocking.
func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// await blocks until ch is signaled or deadline passes and reports whether
// the caller should try again.
func await(ch chan struct{}, deadline time.Time) bool {
	wait := time.Until(deadline)
	if wait <= 0 {
		return false
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

var _ device.Function = (*Serial)(nil)
