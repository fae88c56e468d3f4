package device

import (
	"github.com/ardnew/mscvcp/device/hal"
)

// PingPong manages the two packet memory regions shared by a bulk endpoint
// pair. Region 0 is the OUT slot's configured buffer and region 1 the IN
// slot's. Either slot may point at either region: while one region is on the
// wire the other is being filled or drained.
//
// Command wrappers are always received in region 0 and status wrappers are
// always sent from region 1.
//
// PingPong is not locked; callers serialize through the controller
// interrupt mask.
type PingPong struct {
	ctrl    hal.Controller
	in, out *Endpoint
	region  [2]uint32
	mps     int

	inRegion  int // region the IN slot points at
	outRegion int // region the OUT slot points at
	pending   int // bytes preloaded opposite inRegion, or -1
}

// NewPingPong creates a buffer manager for a bulk endpoint pair.
func NewPingPong(ctrl hal.Controller, in, out *Endpoint) *PingPong {
	mps := int(in.MaxPacketSize)
	if int(out.MaxPacketSize) < mps {
		mps = int(out.MaxPacketSize)
	}
	p := &PingPong{
		ctrl:    ctrl,
		in:      in,
		out:     out,
		region:  [2]uint32{out.Buffer, in.Buffer},
		mps:     mps,
		pending: -1,
	}
	p.inRegion = 1
	return p
}

// MaxPacket returns the packet size used for chunking.
func (p *PingPong) MaxPacket() int {
	return p.mps
}

// Reset disarms both slots, returns them to their home regions and restarts
// sequencing at DATA0.
func (p *PingPong) Reset() {
	p.ctrl.ClearReady(p.in.Slot)
	p.ctrl.ClearReady(p.out.Slot)
	p.ctrl.SetBuffer(p.out.Slot, p.region[0])
	p.ctrl.SetBuffer(p.in.Slot, p.region[1])
	p.ctrl.SetToggle(p.in.Slot, hal.Data0)
	p.ctrl.SetToggle(p.out.Slot, hal.Data0)
	p.in.ResetSequence()
	p.out.ResetSequence()
	p.outRegion = 0
	p.inRegion = 1
	p.pending = -1
}

// ArmCommand points the OUT slot at region 0 and arms it for n bytes.
func (p *PingPong) ArmCommand(n int) {
	p.outRegion = 0
	p.ctrl.SetBuffer(p.out.Slot, p.region[0])
	p.ctrl.SetPayload(p.out.Slot, n)
}

// Command copies a command wrapper out of region 0 and returns the number of
// bytes the host sent, which may exceed len(dst).
func (p *PingPong) Command(dst []byte) int {
	n := p.ctrl.Payload(p.out.Slot)
	p.ctrl.ReadMemory(p.region[0], dst[:min(n, len(dst))])
	return n
}

// Preload copies up to one packet of src into the region the IN slot is not
// using and returns the number of bytes taken.
func (p *PingPong) Preload(src []byte) int {
	n := min(len(src), p.mps)
	p.ctrl.WriteMemory(p.region[p.inRegion^1], src[:n])
	p.pending = n
	return n
}

// Preloaded reports whether a packet is waiting to be kicked.
func (p *PingPong) Preloaded() bool {
	return p.pending >= 0
}

// Kick flips the IN slot to the preloaded region and arms it.
func (p *PingPong) Kick() bool {
	if p.pending < 0 {
		return false
	}
	p.inRegion ^= 1
	p.ctrl.SetBuffer(p.in.Slot, p.region[p.inRegion])
	p.ctrl.SetPayload(p.in.Slot, p.pending)
	p.pending = -1
	return true
}

// Send preloads and kicks one packet.
func (p *PingPong) Send(src []byte) int {
	n := p.Preload(src)
	p.Kick()
	return n
}

// SendStatus sends a status wrapper from region 1.
func (p *PingPong) SendStatus(src []byte) {
	p.pending = -1
	p.inRegion = 1
	p.ctrl.SetBuffer(p.in.Slot, p.region[1])
	p.ctrl.WriteMemory(p.region[1], src)
	p.ctrl.SetPayload(p.in.Slot, len(src))
}

// Receive drains the packet just received on the OUT slot into dst. When
// rearm is positive the OUT slot is first flipped to the other region and
// armed for rearm bytes, so the next packet can land while this one is
// copied. Receive returns the received length, which may exceed len(dst).
func (p *PingPong) Receive(dst []byte, rearm int) int {
	filled := p.outRegion
	n := p.ctrl.Payload(p.out.Slot)
	if rearm > 0 {
		p.outRegion ^= 1
		p.ctrl.SetBuffer(p.out.Slot, p.region[p.outRegion])
		p.ctrl.SetPayload(p.out.Slot, rearm)
	}
	p.ctrl.ReadMemory(p.region[filled], dst[:min(n, len(dst))])
	return n
}

// Rearm arms the OUT slot again on its current region without consuming
// anything, dropping a retransmitted packet.
func (p *PingPong) Rearm(n int) {
	p.ctrl.SetPayload(p.out.Slot, n)
}

// Regions returns the packet memory offsets of region 0 and region 1.
func (p *PingPong) Regions() (uint32, uint32) {
	return p.region[0], p.region[1]
}
