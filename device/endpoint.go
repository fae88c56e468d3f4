package device

import (
	"fmt"

	"github.com/ardnew/mscvcp/device/hal"
	"github.com/ardnew/mscvcp/pkg"
)

// Endpoint transfer types (USB 2.0 Spec Table 9-13).
const (
	EndpointTypeControl     = 0x00 // Control transfer
	EndpointTypeIsochronous = 0x01 // Isochronous transfer
	EndpointTypeBulk        = 0x02 // Bulk transfer
	EndpointTypeInterrupt   = 0x03 // Interrupt transfer
)

// Endpoint directions.
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = 0x80 // Device to host
)

// Endpoint is one endpoint of a function, bound to a controller slot.
//
// For OUT endpoints it also remembers the sequence bit of the last accepted
// packet so that a retransmitted packet can be recognized and dropped. State
// is not locked; callers serialize through the controller interrupt mask.
type Endpoint struct {
	Slot          hal.Slot // Controller slot
	Address       uint8    // Endpoint address including direction
	Attributes    uint8    // Transfer type
	MaxPacketSize uint16   // Maximum packet size
	Buffer        uint32   // Packet memory offset of the slot's buffer

	last hal.Toggle // Sequence bit of the last accepted packet
	seen bool       // last is valid
}

// Number returns the endpoint number (0-15).
func (e *Endpoint) Number() uint8 {
	return e.Address & 0x0F
}

// Direction returns the endpoint direction (EndpointDirectionIn or EndpointDirectionOut).
func (e *Endpoint) Direction() uint8 {
	return e.Address & 0x80
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *Endpoint) IsIn() bool {
	return e.Direction() == EndpointDirectionIn
}

// IsOut returns true if this is an OUT endpoint (host to device).
func (e *Endpoint) IsOut() bool {
	return e.Direction() == EndpointDirectionOut
}

// TransferType returns the transfer type (Control, Isochronous, Bulk, or Interrupt).
func (e *Endpoint) TransferType() uint8 {
	return e.Attributes & 0x03
}

// IsBulk returns true if this is a bulk endpoint.
func (e *Endpoint) IsBulk() bool {
	return e.TransferType() == EndpointTypeBulk
}

// Config returns the controller slot binding.
func (e *Endpoint) Config() hal.EndpointConfig {
	return hal.EndpointConfig{
		Slot:          e.Slot,
		Address:       e.Address,
		Attributes:    e.Attributes,
		MaxPacketSize: e.MaxPacketSize,
		Buffer:        e.Buffer,
	}
}

// Configure binds the endpoint to its controller slot and clears its
// sequence history.
func (e *Endpoint) Configure(ctrl hal.Controller) error {
	if err := ctrl.ConfigureEndpoint(e.Config()); err != nil {
		return fmt.Errorf("endpoint 0x%02X: %w", e.Address, err)
	}
	ctrl.SetToggle(e.Slot, hal.Data0)
	e.ResetSequence()
	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint configured",
		"address", fmt.Sprintf("0x%02X", e.Address),
		"slot", e.Slot,
		"type", TransferTypeName(e.TransferType()),
		"direction", DirectionName(e.Direction()),
		"maxPacket", e.MaxPacketSize)
	return nil
}

// Accept reports whether an OUT packet received with sequence bit t is new.
// A packet carrying the same bit as the last accepted packet is a
// retransmission. The first packet after a reset is always new.
func (e *Endpoint) Accept(t hal.Toggle) bool {
	if e.seen && t == e.last {
		pkg.LogDebug(pkg.ComponentEndpoint, "duplicate packet dropped",
			"address", fmt.Sprintf("0x%02X", e.Address),
			"toggle", t.String())
		return false
	}
	e.last = t
	e.seen = true
	return true
}

// ResetSequence forgets the sequence history, as after a bus reset, a class
// reset, or a cleared halt.
func (e *Endpoint) ResetSequence() {
	e.seen = false
	e.last = hal.Data0
}

// Sequenced reports whether a packet has been accepted since the last reset.
func (e *Endpoint) Sequenced() bool {
	return e.seen
}

// TransferTypeName returns a human-readable transfer type name.
func TransferTypeName(t uint8) string {
	switch t & 0x03 {
	case EndpointTypeControl:
		return "Control"
	case EndpointTypeIsochronous:
		return "Isochronous"
	case EndpointTypeBulk:
		return "Bulk"
	case EndpointTypeInterrupt:
		return "Interrupt"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// DirectionName returns a human-readable direction name.
func DirectionName(dir uint8) string {
	if dir == EndpointDirectionIn {
		return "IN"
	}
	return "OUT"
}
