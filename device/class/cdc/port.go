package cdc

import (
	"context"
	"io"
	"time"

	"github.com/ardnew/mscvcp/pkg"
)

// DefaultPortInterval is the Port polling interval.
const DefaultPortInterval = 10 * time.Millisecond

// Port adapts a Serial to io.ReadWriter for stream consumers such as a
// console bridge. Reads and writes stop when the context is done.
type Port struct {
	s        *Serial
	ctx      context.Context
	interval time.Duration
}

// Port returns a stream view of the serial channel bound to ctx.
func (s *Serial) Port(ctx context.Context) *Port {
	return &Port{s: s, ctx: ctx, interval: DefaultPortInterval}
}

// Read blocks until at least one byte has been received.
func (p *Port) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for {
		if err := p.ctx.Err(); err != nil {
			return 0, err
		}
		if n := p.s.Receive(b, p.interval); n > 0 {
			return n, nil
		}
	}
}

// Write blocks until all of b is queued for the host. It fails with
// pkg.ErrTimeout when the host stops draining the channel.
func (p *Port) Write(b []byte) (int, error) {
	n := 0
	stalled := 0
	for n < len(b) {
		if err := p.ctx.Err(); err != nil {
			return n, err
		}
		k := p.s.Send(b[n:], p.interval)
		n += k
		if k > 0 {
			stalled = 0
			continue
		}
		if !p.s.Connected() {
			return n, pkg.ErrNotConfigured
		}
		if stalled++; stalled*int(p.interval) >= int(time.Second) {
			return n, pkg.ErrTimeout
		}
	}
	return n, nil
}

var _ io.ReadWriter = (*Port)(nil)
