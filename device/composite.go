package device

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ardnew/mscvcp/device/hal"
	"github.com/ardnew/mscvcp/pkg"
)

// Function is one function of a composite device, owning a set of
// interfaces and controller slots.
//
// Except for Name, Owns, OwnsInterface and Connected, every method is called
// from the controller's interrupt handler and must run to completion
// without blocking or masking interrupts.
type Function interface {
	// Name returns a short identifier used in logs.
	Name() string

	// Owns reports whether the function owns a controller slot.
	Owns(slot hal.Slot) bool

	// OwnsInterface reports whether the function owns an interface number.
	OwnsInterface(iface uint8) bool

	// Configure binds the function's slots and arms its OUT endpoints.
	Configure() error

	// BusReset discards transient state after a USB bus reset.
	BusReset()

	// HandleEndpoint services a completed transaction on an owned slot.
	HandleEndpoint(slot hal.Slot)

	// HandleSetup services a class request addressed to an owned
	// interface. It answers through the controller and returns false for
	// requests it does not recognize.
	HandleSetup(setup *hal.SetupPacket) bool

	// HaltCleared is called after the host cleared a halt on an owned slot.
	HaltCleared(slot hal.Slot)

	// Connected reports whether the host is actively using the function.
	Connected() bool
}

// Poller is implemented by functions whose work runs in the cooperative
// poll loop rather than the interrupt handler.
type Poller interface {
	Poll()
}

// StandardHandler answers standard and vendor requests the composite does
// not handle itself, such as descriptor and address requests.
type StandardHandler interface {
	HandleStandard(ctrl hal.Controller, setup *hal.SetupPacket) bool
}

// ConfigurationValue is the only configuration the composite exposes.
const ConfigurationValue = 1

// DefaultPollInterval is the idle delay of [Composite.Run].
const DefaultPollInterval = 100 * time.Microsecond

// Composite is the single interrupt entry point of the device. It classifies
// controller events, answers the standard requests that affect endpoint
// state, and routes class requests and endpoint events to the owning
// [Function].
type Composite struct {
	ctrl     hal.Controller
	funcs    []Function
	pollers  []Poller
	standard StandardHandler

	config    atomic.Uint32
	dataBus   atomic.Bool
	attached  atomic.Bool
	suspended atomic.Bool
	resets    atomic.Uint32

	// Handler-owned scratch.
	setup     hal.SetupPacket
	statusBuf [2]byte
}

// NewComposite creates a dispatcher for the given functions and installs it
// as the controller's interrupt handler.
func NewComposite(ctrl hal.Controller, funcs ...Function) *Composite {
	c := &Composite{
		ctrl:  ctrl,
		funcs: funcs,
	}
	for _, f := range funcs {
		if p, ok := f.(Poller); ok {
			c.pollers = append(c.pollers, p)
		}
	}
	ctrl.SetHandler(c.Handle)
	return c
}

// SetStandardHandler installs the collaborator for requests the composite
// does not answer itself.
func (c *Composite) SetStandardHandler(h StandardHandler) {
	Critical(c.ctrl, func() { c.standard = h })
}

// Controller returns the underlying controller.
func (c *Composite) Controller() hal.Controller {
	return c.ctrl
}

// Functions returns the composite's functions in dispatch order.
func (c *Composite) Functions() []Function {
	return c.funcs
}

// Start configures every function and starts the controller.
func (c *Composite) Start() error {
	var err error
	Critical(c.ctrl, func() { err = c.configureFunctions() })
	if err != nil {
		return err
	}
	if err := c.ctrl.Start(); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}
	c.attached.Store(c.ctrl.Attached())
	pkg.LogInfo(pkg.ComponentDispatch, "composite started",
		"functions", len(c.funcs), "speed", c.ctrl.Speed().String())
	return nil
}

// Stop stops the controller.
func (c *Composite) Stop() error {
	c.config.Store(0)
	c.dataBus.Store(false)
	return c.ctrl.Stop()
}

// Configured reports whether the host selected the configuration.
func (c *Composite) Configured() bool {
	return c.config.Load() != 0
}

// DataBusConnected reports whether a bus reset has been seen since the last
// suspend.
func (c *Composite) DataBusConnected() bool {
	return c.dataBus.Load()
}

// Attached reports whether VBUS is present.
func (c *Composite) Attached() bool {
	return c.attached.Load()
}

// Suspended reports whether the bus is suspended.
func (c *Composite) Suspended() bool {
	return c.suspended.Load()
}

// BusResets returns the number of bus resets handled.
func (c *Composite) BusResets() uint32 {
	return c.resets.Load()
}

// Connected reports whether every function is in active use by the host.
func (c *Composite) Connected() bool {
	if len(c.funcs) == 0 {
		return false
	}
	for _, f := range c.funcs {
		if !f.Connected() {
			return false
		}
	}
	return true
}

// Poll runs one pass of every polled function.
func (c *Composite) Poll() {
	for _, p := range c.pollers {
		p.Poll()
	}
}

// Run polls until ctx is done, sleeping interval between passes.
func (c *Composite) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		c.Poll()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Handle is the controller interrupt handler.
func (c *Composite) Handle(ev hal.Event) {
	switch ev.Kind {
	case hal.EventBusReset:
		c.busReset()
	case hal.EventSuspend:
		c.suspended.Store(true)
		c.dataBus.Store(false)
		pkg.LogDebug(pkg.ComponentDispatch, "bus suspended")
	case hal.EventResume:
		c.suspended.Store(false)
		pkg.LogDebug(pkg.ComponentDispatch, "bus resumed")
	case hal.EventAttach:
		c.attached.Store(true)
		pkg.LogInfo(pkg.ComponentDispatch, "VBUS attached")
	case hal.EventDetach:
		c.attached.Store(false)
		c.config.Store(0)
		pkg.LogInfo(pkg.ComponentDispatch, "VBUS detached")
	case hal.EventSetup:
		c.handleSetup()
	case hal.EventEndpoint:
		if f := c.owner(ev.Slot); f != nil {
			f.HandleEndpoint(ev.Slot)
			return
		}
		pkg.LogWarn(pkg.ComponentDispatch, "event on unowned slot", "slot", ev.Slot.String())
	}
}

func (c *Composite) busReset() {
	c.resets.Add(1)
	c.config.Store(0)
	c.suspended.Store(false)
	c.dataBus.Store(true)
	for _, f := range c.funcs {
		f.BusReset()
	}
	if err := c.configureFunctions(); err != nil {
		pkg.LogError(pkg.ComponentDispatch, "reconfigure after bus reset", "error", err)
	}
	pkg.LogDebug(pkg.ComponentDispatch, "bus reset")
}

func (c *Composite) configureFunctions() error {
	for _, f := range c.funcs {
		if err := f.Configure(); err != nil {
			return fmt.Errorf("%s: %w", f.Name(), err)
		}
	}
	return nil
}

func (c *Composite) handleSetup() {
	setup := &c.setup
	if err := c.ctrl.ReadSetup(setup); err != nil {
		pkg.LogWarn(pkg.ComponentDispatch, "read setup", "error", err)
		c.ctrl.StallControl()
		return
	}
	pkg.LogDebug(pkg.ComponentDispatch, "setup", "packet", setup.String())

	switch {
	case setup.IsStandard():
		data, err := c.handleStandard(setup)
		switch {
		case err == nil:
			c.respond(setup, data)
			return
		case errors.Is(err, pkg.ErrNotSupported):
			// fall through to the collaborator
		default:
			pkg.LogDebug(pkg.ComponentDispatch, "standard request refused", "error", err)
			c.ctrl.StallControl()
			return
		}
	case setup.IsClass() && setup.Recipient() == hal.RequestRecipientInterface:
		for _, f := range c.funcs {
			if f.OwnsInterface(setup.InterfaceNumber()) {
				if !f.HandleSetup(setup) {
					c.ctrl.StallControl()
				}
				return
			}
		}
		c.ctrl.StallControl()
		return
	}

	if c.standard != nil && c.standard.HandleStandard(c.ctrl, setup) {
		return
	}
	c.ctrl.StallControl()
}

func (c *Composite) respond(setup *hal.SetupPacket, data []byte) {
	if !setup.IsDeviceToHost() {
		c.ctrl.AckControl()
		return
	}
	if err := c.ctrl.WriteControl(data); err != nil {
		pkg.LogWarn(pkg.ComponentDispatch, "write control", "error", err)
		c.ctrl.StallControl()
	}
}

func (c *Composite) owner(slot hal.Slot) Function {
	for _, f := range c.funcs {
		if f.Owns(slot) {
			return f
		}
	}
	return nil
}
