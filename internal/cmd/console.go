package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/ardnew/mscvcp/pkg"
)

// ctrlC is the byte a raw-mode terminal delivers for a keyboard interrupt.
const ctrlC = 0x03

// ErrQuit is returned by Bridge when the local user types Ctrl-C.
var ErrQuit = errors.New("console: quit")

// Bridge copies keystrokes from in to the serial port and bytes from the
// port to out until ctx is done, in reaches EOF or the local user types
// Ctrl-C. Each value received on interrupts is echoed as "^C"; these are
// interrupts sent by the host and consumed before they reach the port.
func Bridge(ctx context.Context, port io.ReadWriter, in io.Reader, out io.Writer, interrupts <-chan struct{}) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	keys := make(chan []byte)
	go func() {
		defer close(keys)
		buf := make([]byte, 256)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				select {
				case keys <- bytes.Clone(buf[:n]):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	errc := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := port.Read(buf)
			if n > 0 {
				if _, werr := out.Write(buf[:n]); werr != nil {
					errc <- werr
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case <-interrupts:
			if _, err := io.WriteString(out, "^C\r\n"); err != nil {
				return err
			}
		case chunk, ok := <-keys:
			if !ok {
				return nil
			}
			quit := false
			if i := bytes.IndexByte(chunk, ctrlC); i >= 0 {
				chunk, quit = chunk[:i], true
			}
			if len(chunk) > 0 {
				if _, err := port.Write(chunk); err != nil {
					if !errors.Is(err, pkg.ErrNotConfigured) && !errors.Is(err, pkg.ErrTimeout) {
						return err
					}
					pkg.LogDebug(pkg.ComponentCLI, "keystrokes dropped", "len", len(chunk), "error", err)
				}
			}
			if quit {
				return ErrQuit
			}
		}
	}
}
