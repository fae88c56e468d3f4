package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/ardnew/mscvcp/device/class/cdc"
	"github.com/ardnew/mscvcp/device/hal/fifo"
	"github.com/ardnew/mscvcp/internal/board"
	"github.com/ardnew/mscvcp/internal/config"
)

// Run starts the simulated device and serves it on a FIFO link.
type Run struct {
	Profile     string        `help:"Device profile (json, yaml or toml); a single RAM disk when empty" type:"path"`
	BusDir      string        `help:"Bus directory for the FIFO link" default:"${busdir}"`
	Interval    time.Duration `help:"Poll loop interval" default:"1ms"`
	HostTimeout time.Duration `help:"How long a NAKed link request is retried" default:"50ms"`
	Console     bool          `help:"Bridge the terminal to the virtual COM port" default:"true" negatable:""`
}

// DefaultBusDir is the bus directory used when none is given.
func DefaultBusDir() string {
	return filepath.Join(os.TempDir(), "usb-bus")
}

// Run is called by Kong when the run command is executed.
func (r *Run) Run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return r.Start(ctx, logger)
}

// Start runs the device until ctx is done or the console quits.
func (r *Run) Start(ctx context.Context, logger *slog.Logger) error {
	p, err := loadProfile(r.Profile)
	if err != nil {
		return err
	}
	b, err := board.New(p)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Error("failed to close media", "error", err)
		}
	}()

	bus, err := fifo.Open(r.BusDir)
	if err != nil {
		return fmt.Errorf("open link: %w", err)
	}
	defer bus.Close()

	if err := b.Composite.Start(); err != nil {
		return err
	}
	defer b.Composite.Stop()

	host := b.Host()
	host.Timeout = r.HostTimeout
	logger.Info("device ready", "dir", bus.Dir(), "luns", len(p.LUNs))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Composite.Run(ctx, r.Interval) })
	g.Go(func() error { return bus.Serve(ctx, host) })

	if r.Console {
		interrupts := make(chan struct{}, 1)
		b.Serial.SetInterceptor(cdc.InterruptChar(ctrlC, func() {
			select {
			case interrupts <- struct{}{}:
			default:
			}
		}))

		if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
			state, err := term.MakeRaw(fd)
			if err != nil {
				return fmt.Errorf("raw terminal: %w", err)
			}
			defer term.Restore(fd, state)
		}
		g.Go(func() error {
			return Bridge(ctx, b.Serial.Port(ctx), os.Stdin, os.Stdout, interrupts)
		})
	}

	err = g.Wait()
	if errors.Is(err, ErrQuit) || errors.Is(err, context.Canceled) {
		logger.Info("device stopped")
		return nil
	}
	return err
}

func loadProfile(path string) (*config.Profile, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
