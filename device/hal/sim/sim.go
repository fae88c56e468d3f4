package sim

import (
	"fmt"
	"sync"

	"github.com/ardnew/mscvcp/device/hal"
	"github.com/ardnew/mscvcp/pkg"
)

// Default controller geometry.
const (
	DefaultMemorySize = 1024
	DefaultSlots      = 8
	DefaultMaxPacket0 = 64
)

// Options configures a simulated controller.
type Options struct {
	MemorySize int       // Packet memory size in bytes
	Slots      int       // Number of endpoint slots, including the two control slots
	MaxPacket0 int       // Control pipe max packet size
	Speed      hal.Speed // Reported bus speed
}

// slot is the register file of one endpoint slot.
type slot struct {
	cfg        hal.EndpointConfig
	configured bool
	buffer     uint32
	armed      bool
	length     int // IN: bytes queued; OUT: bytes accepted
	payload    int // OUT: bytes received by the last transaction
	toggle     hal.Toggle
	stalled    bool
}

// Controller is a simulated USB device controller implementing
// [hal.Controller]. The host side of the bus is driven through the Host*
// methods, or through a [Host].
//
// Interrupt delivery and masking share one mutex, so a handler never runs
// while poll-context code holds the mask. Register state has its own mutex,
// which is never held while acquiring the interrupt mutex.
type Controller struct {
	irq     sync.Mutex
	handler hal.Handler

	mutex     sync.Mutex
	opts      Options
	memory    []byte
	slots     []slot
	lockMask  uint32
	running   bool
	attached  bool
	setup     hal.SetupPacket
	hasSetup  bool
	ctrlOut   []byte
	ctrlIn    []byte
	ctrlState controlState
}

type controlState uint8

const (
	controlIdle controlState = iota
	controlPending
	controlData
	controlAck
	controlStall
)

// New creates a simulated controller.
func New(opts Options) *Controller {
	if opts.MemorySize <= 0 {
		opts.MemorySize = DefaultMemorySize
	}
	if opts.Slots <= 2 {
		opts.Slots = DefaultSlots
	}
	if opts.Slots > hal.MaxSlots {
		opts.Slots = hal.MaxSlots
	}
	if opts.MaxPacket0 <= 0 {
		opts.MaxPacket0 = DefaultMaxPacket0
	}
	if opts.Speed == hal.SpeedUnknown {
		opts.Speed = hal.SpeedFull
	}
	return &Controller{
		opts:   opts,
		memory: make([]byte, opts.MemorySize),
		slots:  make([]slot, opts.Slots),
	}
}

// SetHandler installs the interrupt handler.
func (c *Controller) SetHandler(h hal.Handler) {
	c.irq.Lock()
	c.handler = h
	c.irq.Unlock()
}

// Start enables the controller.
func (c *Controller) Start() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.running {
		return pkg.ErrAlreadyRunning
	}
	c.running = true
	pkg.LogDebug(pkg.ComponentHAL, "sim controller started",
		"memory", len(c.memory), "slots", len(c.slots))
	return nil
}

// Stop disables the controller.
func (c *Controller) Stop() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.running {
		return pkg.ErrNotRunning
	}
	c.running = false
	pkg.LogDebug(pkg.ComponentHAL, "sim controller stopped")
	return nil
}

// Attached reports whether VBUS is present.
func (c *Controller) Attached() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.attached
}

// Speed returns the configured bus speed.
func (c *Controller) Speed() hal.Speed {
	return c.opts.Speed
}

// MaxPacket0 returns the control pipe max packet size.
func (c *Controller) MaxPacket0() int {
	return c.opts.MaxPacket0
}

// ConfigureEndpoint binds a slot to an endpoint.
func (c *Controller) ConfigureEndpoint(cfg hal.EndpointConfig) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if int(cfg.Slot) >= len(c.slots) {
		return fmt.Errorf("configure %s: %w", cfg.Slot, pkg.ErrInvalidEndpoint)
	}
	if cfg.MaxPacketSize == 0 || int(cfg.Buffer)+int(cfg.MaxPacketSize) > len(c.memory) {
		return fmt.Errorf("configure %s buffer 0x%X: %w", cfg.Slot, cfg.Buffer, pkg.ErrInvalidParameter)
	}
	c.slots[cfg.Slot] = slot{
		cfg:        cfg,
		configured: true,
		buffer:     cfg.Buffer,
	}
	c.lockMask &^= cfg.Slot.Mask()
	return nil
}

// MemorySize returns the size of packet memory.
func (c *Controller) MemorySize() int {
	return len(c.memory)
}

// WriteMemory copies src into packet memory.
func (c *Controller) WriteMemory(offset uint32, src []byte) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if int(offset) >= len(c.memory) {
		return 0
	}
	return copy(c.memory[offset:], src)
}

// ReadMemory copies packet memory into dst.
func (c *Controller) ReadMemory(offset uint32, dst []byte) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if int(offset) >= len(c.memory) {
		return 0
	}
	return copy(dst, c.memory[offset:])
}

// SetBuffer points a slot at a packet memory offset.
func (c *Controller) SetBuffer(s hal.Slot, offset uint32) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if sl := c.slot(s); sl != nil {
		sl.buffer = offset
	}
}

// Buffer returns the slot's packet memory offset.
func (c *Controller) Buffer(s hal.Slot) uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if sl := c.slot(s); sl != nil {
		return sl.buffer
	}
	return 0
}

// SetPayload arms a slot.
func (c *Controller) SetPayload(s hal.Slot, n int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if sl := c.slot(s); sl != nil {
		sl.armed = true
		sl.length = n
	}
}

// Payload returns the bytes received by the slot's last OUT transaction.
func (c *Controller) Payload(s hal.Slot) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if sl := c.slot(s); sl != nil {
		return sl.payload
	}
	return 0
}

// Armed reports whether a slot is waiting for a transaction.
func (c *Controller) Armed(s hal.Slot) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if sl := c.slot(s); sl != nil {
		return sl.armed
	}
	return false
}

// ClearReady disarms a slot.
func (c *Controller) ClearReady(s hal.Slot) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if sl := c.slot(s); sl != nil {
		sl.armed = false
		sl.length = 0
	}
}

// Toggle returns the slot's sequence bit.
func (c *Controller) Toggle(s hal.Slot) hal.Toggle {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if sl := c.slot(s); sl != nil {
		return sl.toggle
	}
	return hal.Data0
}

// SetToggle sets the slot's sequence bit.
func (c *Controller) SetToggle(s hal.Slot, t hal.Toggle) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if sl := c.slot(s); sl != nil {
		sl.toggle = t
	}
}

// Stall halts a slot.
func (c *Controller) Stall(s hal.Slot) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if sl := c.slot(s); sl != nil {
		sl.stalled = true
	}
}

// ClearStall clears a slot halt unless it is locked.
func (c *Controller) ClearStall(s hal.Slot) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.lockMask&s.Mask() != 0 {
		return
	}
	if sl := c.slot(s); sl != nil {
		sl.stalled = false
	}
}

// Stalled reports whether a slot is halted.
func (c *Controller) Stalled(s hal.Slot) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if sl := c.slot(s); sl != nil {
		return sl.stalled
	}
	return false
}

// LockStall sets the stall lock mask.
func (c *Controller) LockStall(mask uint32) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.lockMask = mask
}

// StallLocked reports whether the slot's halt is locked.
func (c *Controller) StallLocked(s hal.Slot) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.lockMask&s.Mask() != 0
}

// SlotOf returns the configured slot bound to an endpoint address.
func (c *Controller) SlotOf(address uint8) (hal.Slot, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for i := range c.slots {
		if c.slots[i].configured && c.slots[i].cfg.Address == address {
			return hal.Slot(i), true
		}
	}
	return 0, false
}

// ReadSetup returns the most recent SETUP packet.
func (c *Controller) ReadSetup(out *hal.SetupPacket) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.hasSetup {
		return pkg.ErrInvalidState
	}
	*out = c.setup
	return nil
}

// ReadControl copies the OUT data stage of the current request.
func (c *Controller) ReadControl(buf []byte) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return copy(buf, c.ctrlOut)
}

// WriteControl queues the IN data stage of the current request.
func (c *Controller) WriteControl(data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.ctrlState != controlPending {
		return pkg.ErrInvalidState
	}
	if !c.setup.IsDeviceToHost() {
		return pkg.ErrInvalidRequest
	}
	c.ctrlIn = append(c.ctrlIn[:0], data...)
	c.ctrlState = controlData
	return nil
}

// AckControl completes the current request with a zero-length status stage.
func (c *Controller) AckControl() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.ctrlState == controlPending {
		c.ctrlState = controlAck
	}
}

// StallControl stalls the current request.
func (c *Controller) StallControl() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.ctrlState == controlPending || c.ctrlState == controlData {
		c.ctrlState = controlStall
	}
}

// DisableInterrupts masks interrupt delivery until restore is called.
func (c *Controller) DisableInterrupts() (restore func()) {
	c.irq.Lock()
	var once sync.Once
	return func() { once.Do(c.irq.Unlock) }
}

// slot returns the register file for s, or nil. Caller holds c.mutex.
func (c *Controller) slot(s hal.Slot) *slot {
	if int(s) >= len(c.slots) {
		return nil
	}
	return &c.slots[s]
}

// raise delivers one interrupt to the handler.
func (c *Controller) raise(ev hal.Event) {
	c.irq.Lock()
	defer c.irq.Unlock()
	if c.handler != nil {
		c.handler(ev)
	}
}

func (c *Controller) isRunning() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.running
}

// Attach asserts VBUS.
func (c *Controller) Attach() {
	c.mutex.Lock()
	c.attached = true
	c.mutex.Unlock()
	c.raise(hal.Event{Kind: hal.EventAttach})
}

// Detach removes VBUS.
func (c *Controller) Detach() {
	c.mutex.Lock()
	c.attached = false
	c.mutex.Unlock()
	c.raise(hal.Event{Kind: hal.EventDetach})
}

// BusReset signals a USB bus reset. Every slot is disarmed, unstalled and
// reset to DATA0 before the handler runs.
func (c *Controller) BusReset() {
	c.mutex.Lock()
	for i := range c.slots {
		sl := &c.slots[i]
		sl.armed = false
		sl.length = 0
		sl.payload = 0
		sl.stalled = false
		sl.toggle = hal.Data0
	}
	c.lockMask = 0
	c.hasSetup = false
	c.ctrlState = controlIdle
	c.mutex.Unlock()
	c.raise(hal.Event{Kind: hal.EventBusReset})
}

// Suspend signals bus idle.
func (c *Controller) Suspend() {
	c.raise(hal.Event{Kind: hal.EventSuspend})
}

// Resume signals bus activity after suspend.
func (c *Controller) Resume() {
	c.raise(hal.Event{Kind: hal.EventResume})
}

// HostControl runs one control transfer. For device-to-host requests it
// returns the data stage truncated to wLength.
func (c *Controller) HostControl(setup hal.SetupPacket, data []byte) ([]byte, error) {
	if !c.isRunning() {
		return nil, pkg.ErrNotRunning
	}

	c.mutex.Lock()
	c.setup = setup
	c.hasSetup = true
	c.ctrlOut = append(c.ctrlOut[:0], data...)
	c.ctrlIn = c.ctrlIn[:0]
	c.ctrlState = controlPending
	c.mutex.Unlock()

	c.raise(hal.Event{Kind: hal.EventSetup})

	c.mutex.Lock()
	defer c.mutex.Unlock()
	state := c.ctrlState
	c.ctrlState = controlIdle
	switch state {
	case controlStall:
		return nil, pkg.ErrStall
	case controlData:
		n := len(c.ctrlIn)
		if n > int(setup.Length) {
			n = int(setup.Length)
		}
		out := make([]byte, n)
		copy(out, c.ctrlIn)
		return out, nil
	case controlAck:
		if setup.IsDeviceToHost() && setup.Length > 0 {
			return []byte{}, nil
		}
		return nil, nil
	default:
		return nil, pkg.ErrNAK
	}
}

// HostOut delivers one OUT packet to the slot bound to address.
func (c *Controller) HostOut(address uint8, data []byte, t hal.Toggle) error {
	if !c.isRunning() {
		return pkg.ErrNotRunning
	}
	s, ok := c.SlotOf(address)
	if !ok {
		return pkg.ErrInvalidEndpoint
	}

	c.mutex.Lock()
	sl := &c.slots[s]
	switch {
	case sl.stalled:
		c.mutex.Unlock()
		return pkg.ErrStall
	case !sl.armed:
		c.mutex.Unlock()
		return pkg.ErrNAK
	case len(data) > sl.length || len(data) > int(sl.cfg.MaxPacketSize):
		c.mutex.Unlock()
		return fmt.Errorf("%s: %d byte packet: %w", s, len(data), pkg.ErrProtocol)
	}
	copy(c.memory[sl.buffer:], data)
	sl.payload = len(data)
	sl.toggle = t
	sl.armed = false
	c.mutex.Unlock()

	c.raise(hal.Event{Kind: hal.EventEndpoint, Slot: s})
	return nil
}

// HostIn collects one IN packet from the slot bound to address.
func (c *Controller) HostIn(address uint8) ([]byte, hal.Toggle, error) {
	if !c.isRunning() {
		return nil, hal.Data0, pkg.ErrNotRunning
	}
	s, ok := c.SlotOf(address)
	if !ok {
		return nil, hal.Data0, pkg.ErrInvalidEndpoint
	}

	c.mutex.Lock()
	sl := &c.slots[s]
	switch {
	case sl.stalled:
		c.mutex.Unlock()
		return nil, hal.Data0, pkg.ErrStall
	case !sl.armed:
		c.mutex.Unlock()
		return nil, hal.Data0, pkg.ErrNAK
	}
	n := sl.length
	if n > int(sl.cfg.MaxPacketSize) {
		n = int(sl.cfg.MaxPacketSize)
	}
	out := make([]byte, n)
	copy(out, c.memory[sl.buffer:])
	t := sl.toggle
	sl.toggle = t.Flip()
	sl.armed = false
	c.mutex.Unlock()

	c.raise(hal.Event{Kind: hal.EventEndpoint, Slot: s})
	return out, t, nil
}

var _ hal.Controller = (*Controller)(nil)
