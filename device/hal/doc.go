// Package hal defines the hardware abstraction between the composite device
// and a USB device controller.
//
// The abstraction models small microcontroller USB peripherals that have no
// DMA engine: a block of dedicated packet memory, a fixed set of endpoint
// slots that each point at an offset in that memory, and a per-slot payload
// register that arms the slot for its next transaction. Every completed
// transaction, bus event and SETUP packet is delivered to one [Handler] with
// the controller's interrupts masked.
//
// # Interface Overview
//
// The [Controller] interface covers:
//
//   - Lifecycle: SetHandler, Start, Stop, Attached, Speed
//   - Packet memory: MemorySize, WriteMemory, ReadMemory
//   - Slots: ConfigureEndpoint, SetBuffer, SetPayload, Payload, ClearReady
//   - Sequencing: Toggle, SetToggle
//   - Halts: Stall, ClearStall, Stalled, LockStall, StallLocked
//   - Control pipe: ReadSetup, ReadControl, WriteControl, AckControl,
//     StallControl
//   - Masking: DisableInterrupts
//
// # Interrupt Masking
//
// Poll-context code that shares state with the handler brackets its
// mutations with DisableInterrupts:
//
//	restore := ctrl.DisableInterrupts()
//	ready := fn.outReady
//	fn.outReady = false
//	restore()
//
// The handler itself already runs masked and must never call
// DisableInterrupts.
//
// A simulated controller with an attached host model is available in
// [github.com/ardnew/mscvcp/device/hal/sim].
package hal
