package hal

import "fmt"

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// Slot identifies a hardware endpoint slot of the controller.
//
// Slots are not endpoint addresses. A controller has a fixed number of slots
// and each configured slot is bound to one endpoint address and direction.
// Slots 0 and 1 are reserved for the control IN and control OUT halves.
type Slot uint8

// Reserved control slots.
const (
	SlotControlIn  Slot = 0
	SlotControlOut Slot = 1
)

// MaxSlots is the number of slots addressable through a stall lock mask.
const MaxSlots = 32

// Mask returns the stall-lock bit for the slot.
func (s Slot) Mask() uint32 {
	return 1 << uint32(s)
}

// String returns "EPn".
func (s Slot) String() string {
	return fmt.Sprintf("EP%d", uint8(s))
}

// Toggle is the DATA0/DATA1 packet sequence bit.
type Toggle uint8

// Toggle values.
const (
	Data0 Toggle = 0
	Data1 Toggle = 1
)

// Flip returns the opposite toggle.
func (t Toggle) Flip() Toggle {
	return t ^ 1
}

// String returns "DATA0" or "DATA1".
func (t Toggle) String() string {
	if t == Data1 {
		return "DATA1"
	}
	return "DATA0"
}

// EventKind classifies a controller interrupt.
type EventKind uint8

// Controller interrupt kinds.
const (
	EventNone     EventKind = iota
	EventBusReset           // USB bus reset signaled by the host
	EventSuspend            // bus idle, enter suspend
	EventResume             // bus activity after suspend
	EventAttach             // VBUS detected
	EventDetach             // VBUS lost
	EventSetup              // SETUP packet received on the control pipe
	EventEndpoint           // transaction completed on Event.Slot
)

// String returns a short name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventBusReset:
		return "bus-reset"
	case EventSuspend:
		return "suspend"
	case EventResume:
		return "resume"
	case EventAttach:
		return "attach"
	case EventDetach:
		return "detach"
	case EventSetup:
		return "setup"
	case EventEndpoint:
		return "endpoint"
	default:
		return "none"
	}
}

// Event is a single controller interrupt.
type Event struct {
	Kind EventKind
	Slot Slot // valid for EventEndpoint
}

// Handler services controller interrupts. The controller invokes it with its
// interrupts masked; a Handler must run to completion and must not call
// [Controller.DisableInterrupts].
type Handler func(ev Event)

// EndpointConfig binds a hardware slot to an endpoint.
type EndpointConfig struct {
	Slot          Slot   // Hardware slot
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type and sync/usage flags
	MaxPacketSize uint16 // Maximum packet size
	Buffer        uint32 // Offset of the slot's packet buffer in controller memory
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// TransferType returns the transfer type (control, bulk, interrupt, isochronous).
func (e *EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// Controller is the register-level view of a USB device controller with
// dedicated packet memory and per-slot payload triggers, in the style of
// small microcontroller USB peripherals without DMA.
//
// Data movement is explicit: the driver copies packets into or out of
// controller memory and then sets a slot's payload length to arm it. For an
// IN slot, arming queues the bytes at the slot's buffer offset for the next
// IN token. For an OUT slot, arming accepts up to n bytes into the slot's
// buffer on the next OUT token. Every completed transaction raises an
// [EventEndpoint] interrupt for the slot.
//
// All methods are safe for concurrent use.
type Controller interface {
	// SetHandler installs the interrupt handler.
	SetHandler(h Handler)

	// Start enables the controller and attaches to the bus.
	Start() error

	// Stop detaches from the bus and disables the controller.
	Stop() error

	// Attached reports whether VBUS is present.
	Attached() bool

	// Speed returns the negotiated bus speed.
	Speed() Speed

	// ConfigureEndpoint binds a slot to an endpoint and sets its buffer.
	ConfigureEndpoint(cfg EndpointConfig) error

	// MemorySize returns the size of controller packet memory in bytes.
	MemorySize() int

	// WriteMemory copies src into packet memory at offset.
	WriteMemory(offset uint32, src []byte) int

	// ReadMemory copies packet memory at offset into dst.
	ReadMemory(offset uint32, dst []byte) int

	// SetBuffer points a slot at a packet memory offset.
	SetBuffer(slot Slot, offset uint32)

	// Buffer returns the slot's packet memory offset.
	Buffer(slot Slot) uint32

	// SetPayload arms a slot (see the type documentation).
	SetPayload(slot Slot, n int)

	// Payload returns the number of bytes received by an OUT slot's last
	// transaction.
	Payload(slot Slot) int

	// ClearReady disarms a slot without completing a transaction.
	ClearReady(slot Slot)

	// Toggle returns the sequence bit of the slot's last completed packet.
	Toggle(slot Slot) Toggle

	// SetToggle sets the sequence bit the slot uses for its next packet.
	SetToggle(slot Slot, t Toggle)

	// Stall halts a slot.
	Stall(slot Slot)

	// ClearStall clears a slot halt unless the slot is locked.
	ClearStall(slot Slot)

	// Stalled reports whether a slot is halted.
	Stalled(slot Slot) bool

	// LockStall sets the mask of slots whose halt cannot be cleared by
	// ClearStall. A zero mask unlocks every slot.
	LockStall(mask uint32)

	// StallLocked reports whether the slot's halt is locked.
	StallLocked(slot Slot) bool

	// SlotOf returns the slot bound to an endpoint address.
	SlotOf(address uint8) (Slot, bool)

	// ReadSetup returns the most recent SETUP packet.
	ReadSetup(out *SetupPacket) error

	// ReadControl copies the OUT data stage of the current control transfer
	// into buf and returns the number of bytes copied.
	ReadControl(buf []byte) int

	// WriteControl queues the IN data stage of the current control transfer.
	WriteControl(data []byte) error

	// AckControl completes the current control transfer with a zero-length
	// status stage.
	AckControl()

	// StallControl stalls the control pipe for the current request.
	StallControl()

	// DisableInterrupts masks controller interrupts until the returned
	// function is called.
	DisableInterrupts() (restore func())
}
