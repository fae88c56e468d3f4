// Package fifo exposes the simulated controller to another process over a
// framed request/reply protocol, normally carried on named pipes.
//
// # Protocol
//
// Every frame is a type byte, a little-endian 16-bit length and a body:
//
//	0x01 SETUP   setup(8) + OUT data stage
//	0x02 DATA    address + OUT packet (request), IN data (reply)
//	0x06 IN      address
//	0x12 RESET   empty
//
// Replies are DATA, ACK (0x03), NAK (0x04), STALL (0x05) or ERROR (0x07)
// with a message body. NAKed transactions are retried on the device side
// until the host model's timeout, so a NAK reply means the endpoint stayed
// idle for that long.
//
// SET_CONFIGURATION and CLEAR_FEATURE(ENDPOINT_HALT) are routed through
// [sim.Host] so its DATA0/DATA1 bookkeeping follows the device.
//
// # Pipes
//
// [Open] creates a directory per device under a shared bus directory:
//
//	/tmp/usb-bus/
//	└── device-{id}/
//	    ├── connection       0x01 on connect, 0x00 on disconnect
//	    ├── host_to_device   requests
//	    └── device_to_host   replies
//
// A host process attaches with [Dial] and drives the device through the
// returned [Client].
//
// # Usage
//
//	bus, err := fifo.Open("/tmp/usb-bus")
//	if err != nil {
//		return err
//	}
//	defer bus.Close()
//	go bus.Serve(ctx, sim.NewHost(ctrl))
//
//	// in the host process
//	client, closer, err := fifo.Dial(dir)
//	data, err := client.Control(setup, nil)
package fifo
