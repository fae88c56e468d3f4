package fifo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ardnew/mscvcp/device/hal"
	"github.com/ardnew/mscvcp/pkg"
)

// ErrRemote wraps an error reported by the far side of the link.
var ErrRemote = errors.New("link: remote error")

// Client issues requests to a [Link]. It is the host end of the protocol
// and is safe for concurrent use.
type Client struct {
	r io.Reader
	w io.Writer

	mutex    sync.Mutex
	readBuf  [headerSize + MaxPayload]byte
	writeBuf [headerSize + MaxPayload]byte
}

// NewClient creates a client that writes requests to w and reads replies
// from r.
func NewClient(r io.Reader, w io.Writer) *Client {
	return &Client{r: r, w: w}
}

// Control runs a control transfer. For device-to-host requests the data
// stage is returned.
func (c *Client) Control(setup hal.SetupPacket, data []byte) ([]byte, error) {
	var head [hal.SetupPacketSize]byte
	setup.MarshalTo(head[:])
	return c.roundTrip(msgSetup, head[:], data)
}

// Out sends one OUT packet.
func (c *Client) Out(address uint8, data []byte) error {
	_, err := c.roundTrip(msgData, []byte{address}, data)
	return err
}

// In collects one IN packet.
func (c *Client) In(address uint8) ([]byte, error) {
	return c.roundTrip(msgIn, []byte{address}, nil)
}

// Reset issues a bus reset.
func (c *Client) Reset() error {
	_, err := c.roundTrip(msgReset, nil, nil)
	return err
}

func (c *Client) roundTrip(typ uint8, head, body []byte) ([]byte, error) {
	n := len(head) + len(body)
	if n > MaxPayload {
		return nil, fmt.Errorf("%d byte request: %w", n, pkg.ErrBufferTooSmall)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	buf := c.writeBuf[:headerSize+n]
	buf[0] = typ
	binary.LittleEndian.PutUint16(buf[1:3], uint16(n))
	copy(buf[headerSize+copy(buf[headerSize:], head):], body)
	if _, err := c.w.Write(buf); err != nil {
		return nil, err
	}

	header := c.readBuf[:headerSize]
	if _, err := io.ReadFull(c.r, header); err != nil {
		return nil, err
	}
	n = int(binary.LittleEndian.Uint16(header[1:3]))
	if n > MaxPayload {
		return nil, fmt.Errorf("%d byte reply: %w", n, pkg.ErrProtocol)
	}
	payload := c.readBuf[headerSize : headerSize+n]
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, err
	}

	switch header[0] {
	case msgAck:
		return nil, nil
	case msgData:
		out := make([]byte, n)
		copy(out, payload)
		return out, nil
	case msgNak:
		return nil, pkg.ErrNAK
	case msgStall:
		return nil, pkg.ErrStall
	case msgError:
		return nil, fmt.Errorf("%w: %s", ErrRemote, payload)
	default:
		return nil, fmt.Errorf("reply type 0x%02X: %w", header[0], pkg.ErrProtocol)
	}
}
