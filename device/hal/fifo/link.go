package fifo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ardnew/mscvcp/device/hal"
	"github.com/ardnew/mscvcp/device/hal/sim"
	"github.com/ardnew/mscvcp/pkg"
)

// Message types. Requests flow host to device, replies device to host.
const (
	msgSetup = 0x01 // request: setup(8) + OUT data stage
	msgData  = 0x02 // request: address + OUT packet; reply: IN data
	msgAck   = 0x03 // reply
	msgNak   = 0x04 // reply
	msgStall = 0x05 // reply
	msgIn    = 0x06 // request: address
	msgError = 0x07 // reply: message text
	msgReset = 0x12 // request: bus reset
)

// MaxPayload bounds a single frame body.
const MaxPayload = hal.SetupPacketSize + 1024

const headerSize = 3 // type (1) + length (2)

// Connection signal bytes.
const (
	sigConnect    = 0x01
	sigDisconnect = 0x00
)

// Pipe names inside a device directory.
const (
	fifoHostToDevice = "host_to_device"
	fifoDeviceToHost = "device_to_host"
	fifoConnection   = "connection"
)

// Link serves framed host requests against a simulated controller.
//
// Every request gets exactly one reply. The link is single-threaded: it
// owns the host model's sequence state and must be the only user of it.
type Link struct {
	host *sim.Host
	r    io.Reader
	w    io.Writer

	readBuf  [headerSize + MaxPayload]byte
	writeBuf [headerSize + MaxPayload]byte
}

// NewLink creates a link that reads requests from r and writes replies to w.
func NewLink(host *sim.Host, r io.Reader, w io.Writer) *Link {
	return &Link{host: host, r: r, w: w}
}

// Serve handles requests until the reader reports EOF or ctx is cancelled.
// When r is an io.Closer it is closed on cancellation to unblock the read.
func (l *Link) Serve(ctx context.Context) error {
	if c, ok := l.r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	pkg.LogInfo(pkg.ComponentLink, "link serving")
	for {
		typ, payload, err := l.readFrame()
		switch {
		case errors.Is(err, pkg.ErrBufferTooSmall):
			err = l.reply(err)
		case err == nil:
			err = l.handle(typ, payload)
		}
		if err != nil {
			if ctx.Err() != nil || closedErr(err) {
				pkg.LogInfo(pkg.ComponentLink, "link closed")
				return nil
			}
			return err
		}
	}
}

func closedErr(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed)
}

func (l *Link) readFrame() (uint8, []byte, error) {
	header := l.readBuf[:headerSize]
	if _, err := io.ReadFull(l.r, header); err != nil {
		return 0, nil, err
	}
	typ := header[0]
	n := int(binary.LittleEndian.Uint16(header[1:3]))
	if n > MaxPayload {
		if _, err := io.CopyN(io.Discard, l.r, int64(n)); err != nil {
			return 0, nil, err
		}
		return typ, nil, fmt.Errorf("%d byte frame: %w", n, pkg.ErrBufferTooSmall)
	}
	payload := l.readBuf[headerSize : headerSize+n]
	if _, err := io.ReadFull(l.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return typ, payload, nil
}

func (l *Link) writeFrame(typ uint8, data []byte) error {
	if len(data) > MaxPayload {
		data = data[:MaxPayload]
	}
	buf := l.writeBuf[:headerSize+len(data)]
	buf[0] = typ
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(data)))
	copy(buf[headerSize:], data)
	_, err := l.w.Write(buf)
	return err
}

func (l *Link) handle(typ uint8, p []byte) error {
	switch typ {
	case msgSetup:
		var setup hal.SetupPacket
		if err := hal.ParseSetupPacket(p, &setup); err != nil {
			return l.reply(err)
		}
		pkg.LogDebug(pkg.ComponentLink, "setup", "setup", setup.String())
		data, err := l.control(setup, p[hal.SetupPacketSize:])
		if err == nil && setup.IsDeviceToHost() {
			return l.writeFrame(msgData, data)
		}
		return l.reply(err)

	case msgData:
		if len(p) < 1 {
			return l.reply(pkg.ErrInvalidRequest)
		}
		pkg.LogDebug(pkg.ComponentLink, "out",
			"address", fmt.Sprintf("0x%02X", p[0]), "len", len(p)-1)
		return l.reply(l.host.Out(p[0], p[1:]))

	case msgIn:
		if len(p) != 1 {
			return l.reply(pkg.ErrInvalidRequest)
		}
		data, err := l.host.In(p[0])
		if err != nil {
			return l.reply(err)
		}
		pkg.LogDebug(pkg.ComponentLink, "in",
			"address", fmt.Sprintf("0x%02X", p[0]), "len", len(data))
		return l.writeFrame(msgData, data)

	case msgReset:
		pkg.LogInfo(pkg.ComponentLink, "bus reset")
		l.host.Reset()
		return l.writeFrame(msgAck, nil)

	default:
		return l.reply(fmt.Errorf("message type 0x%02X: %w", typ, pkg.ErrInvalidRequest))
	}
}

// control routes requests that change host sequencing through the host
// model so its DATA0/DATA1 state follows the device.
func (l *Link) control(setup hal.SetupPacket, data []byte) ([]byte, error) {
	if setup.Type() == hal.RequestTypeStandard && !setup.IsDeviceToHost() {
		switch {
		case setup.Request == hal.RequestSetConfiguration:
			return nil, l.host.Configure(uint8(setup.Value))
		case setup.Request == hal.RequestClearFeature &&
			setup.Recipient() == hal.RequestRecipientEndpoint &&
			setup.Value == hal.FeatureEndpointHalt:
			return nil, l.host.ClearHalt(setup.EndpointAddress())
		}
	}
	return l.host.Control(setup, data)
}

func (l *Link) reply(err error) error {
	switch {
	case err == nil:
		return l.writeFrame(msgAck, nil)
	case errors.Is(err, pkg.ErrStall):
		return l.writeFrame(msgStall, nil)
	case errors.Is(err, pkg.ErrNAK), errors.Is(err, pkg.ErrTimeout):
		return l.writeFrame(msgNak, nil)
	default:
		pkg.LogWarn(pkg.ComponentLink, "request failed", "error", err)
		return l.writeFrame(msgError, []byte(err.Error()))
	}
}
