// Package device implements the device side of a composite USB function on
// top of a [hal.Controller].
//
// # Architecture
//
// The package is organized around a single interrupt entry point:
//
//   - [Composite]: the controller's interrupt handler. It classifies bus,
//     setup and endpoint events, answers the standard requests that change
//     configuration or endpoint halt state, and routes class requests and
//     endpoint events to the owning [Function].
//   - [Function]: one class function (mass storage, serial) owning a set of
//     interfaces and controller slots.
//   - [Endpoint]: a slot binding with the OUT sequence history used to drop
//     retransmitted packets.
//   - [PingPong]: the two packet memory regions shared by a bulk pair, so
//     that one packet is on the wire while the next is prepared.
//   - [Guard]: the critical section that masks controller interrupts while
//     poll-context code touches state shared with the handler.
//
// # Scheduling
//
// Handlers run to completion with interrupts masked. Work that may block,
// such as storage I/O, runs in the cooperative poll loop driven by
// [Composite.Poll] or [Composite.Run]:
//
//	comp := device.NewComposite(ctrl, storage, serial)
//	if err := comp.Start(); err != nil {
//	    return err
//	}
//	return comp.Run(ctx, 0)
//
// # Logging
//
// The package logs through [github.com/ardnew/mscvcp/pkg] with the
// "dispatch" and "endpoint" components.
package device
