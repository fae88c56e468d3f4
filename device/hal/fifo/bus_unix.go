//go:build unix

package fifo

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ardnew/mscvcp/device/hal/sim"
	"github.com/ardnew/mscvcp/pkg"
)

// Bus publishes a device as a set of named pipes in its own directory under
// a shared bus directory:
//
//	<bus>/device-<id>/host_to_device   requests
//	<bus>/device-<id>/device_to_host   replies
//	<bus>/device-<id>/connection       sigConnect / sigDisconnect
type Bus struct {
	dir string
	id  string

	requests   *os.File
	replies    *os.File
	connection *os.File

	closeOnce sync.Once
}

// Open creates the device directory and its pipes under busDir.
func Open(busDir string) (*Bus, error) {
	id, err := generateID()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	b := &Bus{id: id, dir: filepath.Join(busDir, "device-"+id)}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create device dir: %w", err)
	}

	for _, name := range []string{fifoHostToDevice, fifoDeviceToHost, fifoConnection} {
		if err := createFIFO(b.dir, name); err != nil {
			b.cleanup()
			return nil, err
		}
	}
	if b.connection, err = openFIFO(b.dir, fifoConnection); err == nil {
		if b.replies, err = openFIFO(b.dir, fifoDeviceToHost); err == nil {
			b.requests, err = openFIFO(b.dir, fifoHostToDevice)
		}
	}
	if err != nil {
		b.cleanup()
		return nil, err
	}

	pkg.LogInfo(pkg.ComponentLink, "fifo bus opened", "dir", b.dir)
	return b, nil
}

// Dir returns the device directory.
func (b *Bus) Dir() string {
	return b.dir
}

// ID returns the random device identifier.
func (b *Bus) ID() string {
	return b.id
}

// Serve signals connection, then serves requests against host until ctx is
// cancelled or the bus is closed.
func (b *Bus) Serve(ctx context.Context, host *sim.Host) error {
	if _, err := b.connection.Write([]byte{sigConnect}); err != nil {
		pkg.LogWarn(pkg.ComponentLink, "failed to signal connection", "error", err)
	}
	return NewLink(host, b.requests, b.replies).Serve(ctx)
}

// Close signals disconnection, closes the pipes and removes the device
// directory.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		if b.connection != nil {
			_, _ = b.connection.Write([]byte{sigDisconnect})
		}
		b.cleanup()
		pkg.LogInfo(pkg.ComponentLink, "fifo bus closed", "dir", b.dir)
	})
	return nil
}

func (b *Bus) cleanup() {
	for _, f := range []**os.File{&b.requests, &b.replies, &b.connection} {
		if *f != nil {
			(*f).Close()
			*f = nil
		}
	}
	os.RemoveAll(b.dir)
}

// Dial opens the host end of a device directory created by [Open].
// Closing the returned io.Closer releases the pipes.
func Dial(deviceDir string) (*Client, io.Closer, error) {
	w, err := openFIFO(deviceDir, fifoHostToDevice)
	if err != nil {
		return nil, nil, err
	}
	r, err := openFIFO(deviceDir, fifoDeviceToHost)
	if err != nil {
		w.Close()
		return nil, nil, err
	}
	return NewClient(r, w), closers{w, r}, nil
}

type closers []io.Closer

func (cs closers) Close() error {
	var errs []error
	for _, c := range cs {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func generateID() (string, error) {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		return "", err
	}
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return hex.EncodeToString(id[:]), nil
}

func createFIFO(dir, name string) error {
	path := filepath.Join(dir, name)
	os.Remove(path)
	if err := unix.Mkfifo(path, 0o666); err != nil {
		return fmt.Errorf("mkfifo %s: %w", name, err)
	}
	return nil
}

// openFIFO opens both ends so neither side blocks in open or sees EOF when
// the peer goes away.
func openFIFO(dir, name string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}
