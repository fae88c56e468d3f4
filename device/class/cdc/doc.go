// Package cdc implements a USB Communications Device Class (CDC-ACM)
// virtual COM port as a [device.Function].
//
// # Architecture
//
// The function spans two interfaces:
//
//   - Control interface: answers SET_LINE_CODING, GET_LINE_CODING,
//     SET_CONTROL_LINE_STATE and SEND_BREAK, and optionally raises
//     SERIAL_STATE notifications on an interrupt IN endpoint.
//   - Data interface: a bulk IN/OUT pair carrying the byte stream.
//
// # Buffering
//
// Bytes for the host go through a linear send buffer that restarts at zero
// whenever the previous transfer has drained. The first packet is primed by
// [Serial.Send]; each IN completion queues the next one.
//
// Bytes from the host land in a receive ring sized in whole packets. After
// a packet is buffered, bulk OUT is re-armed only if the ring can take
// another full packet; otherwise the host is held off until
// [Serial.Receive] consumes data. A packet that does not fit is dropped and
// counted.
//
// An [Interceptor] sees every packet before it is buffered. [InterruptChar]
// builds the usual hook that turns a leading Ctrl-C byte into a callback and
// buffers the rest of the packet.
//
// # Usage
//
//	vcp, err := cdc.New(ctrl, cdc.Config{
//		Control: 1,
//		Data:    2,
//		BulkIn:  device.Endpoint{Slot: 4, Address: 0x83, Attributes: device.EndpointTypeBulk, MaxPacketSize: 64, Buffer: 0x180},
//		BulkOut: device.Endpoint{Slot: 5, Address: 0x04, Attributes: device.EndpointTypeBulk, MaxPacketSize: 64, Buffer: 0x1C0},
//	})
//	if err != nil {
//		return err
//	}
//	vcp.SetInterceptor(cdc.InterruptChar(0x03, cancel))
//
//	n := vcp.Send([]byte("hello\r\n"), time.Second)
//	n = vcp.Receive(buf, 50*time.Millisecond)
//
// [Serial.Port] wraps the channel as an io.ReadWriter.
package cdc
