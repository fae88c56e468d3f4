//go:build !unix

package fifo

import (
	"context"
	"io"

	"github.com/ardnew/mscvcp/device/hal/sim"
	"github.com/ardnew/mscvcp/pkg"
)

// Bus is unavailable without named pipes.
type Bus struct{}

// Open reports pkg.ErrNotSupported.
func Open(string) (*Bus, error) { return nil, pkg.ErrNotSupported }

func (b *Bus) Dir() string { return "" }

func (b *Bus) ID() string { return "" }

func (b *Bus) Serve(context.Context, *sim.Host) error { return pkg.ErrNotSupported }

func (b *Bus) Close() error { return nil }

// Dial reports pkg.ErrNotSupported.
func Dial(string) (*Client, io.Closer, error) { return nil, nil, pkg.ErrNotSupported }
