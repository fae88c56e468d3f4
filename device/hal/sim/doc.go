// Package sim provides a simulated USB device controller and a host model
// for exercising the composite device without hardware.
//
// [Controller] implements [hal.Controller] over an in-memory packet buffer.
// Its Host* methods play the bus side of each transaction: they honor slot
// arming, halts and packet limits exactly as the device firmware sees them,
// and raise the same interrupts a real peripheral would.
//
// [Host] wraps the controller with host-side sequencing. Tests usually set
// [Host.Pump] to the device poll function so a single goroutine can drive
// both sides:
//
//	ctrl := sim.New(sim.Options{})
//	host := sim.NewHost(ctrl)
//	host.Pump = dev.Poll
//	host.Out(0x06, cbw)
//
// [github.com/ardnew/mscvcp/device/hal/fifo] exposes a Host to an external
// process over named pipes.
package sim
