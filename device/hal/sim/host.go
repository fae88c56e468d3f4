package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/ardnew/mscvcp/device/hal"
	"github.com/ardnew/mscvcp/pkg"
)

// Retry limits for NAKed transactions.
const (
	DefaultRetries = 256
	DefaultTimeout = 2 * time.Second
)

// Host models the host side of the bus: it keeps the host's DATA0/DATA1
// sequence per OUT endpoint and retries NAKed transactions.
//
// When Pump is set it is called between retries, which lets a test advance a
// device poll loop on the same goroutine. Without Pump the host sleeps
// briefly between retries until Timeout elapses.
type Host struct {
	ctrl    *Controller
	toggles map[uint8]hal.Toggle

	Pump    func()
	Retries int
	Timeout time.Duration
}

// NewHost creates a host model bound to a simulated controller.
func NewHost(ctrl *Controller) *Host {
	return &Host{
		ctrl:    ctrl,
		toggles: make(map[uint8]hal.Toggle),
		Retries: DefaultRetries,
		Timeout: DefaultTimeout,
	}
}

// Controller returns the simulated controller.
func (h *Host) Controller() *Controller {
	return h.ctrl
}

// Reset issues a bus reset and clears host sequencing.
func (h *Host) Reset() {
	for k := range h.toggles {
		delete(h.toggles, k)
	}
	h.ctrl.BusReset()
}

// Control runs a control transfer.
func (h *Host) Control(setup hal.SetupPacket, data []byte) ([]byte, error) {
	return h.ctrl.HostControl(setup, data)
}

// Configure issues SET_CONFIGURATION.
func (h *Host) Configure(value uint8) error {
	var setup hal.SetupPacket
	hal.SetConfigurationSetup(&setup, value)
	_, err := h.Control(setup, nil)
	if err == nil {
		for k := range h.toggles {
			delete(h.toggles, k)
		}
	}
	return err
}

// ClearHalt issues CLEAR_FEATURE(ENDPOINT_HALT) and resets the host
// sequence for the endpoint.
func (h *Host) ClearHalt(address uint8) error {
	var setup hal.SetupPacket
	hal.ClearFeatureSetup(&setup, hal.RequestRecipientEndpoint, hal.FeatureEndpointHalt, uint16(address))
	if _, err := h.Control(setup, nil); err != nil {
		return err
	}
	delete(h.toggles, address)
	return nil
}

// ResetSequence forgets the host sequence for an endpoint, as after a
// class reset.
func (h *Host) ResetSequence(address uint8) {
	delete(h.toggles, address)
}

// Halted issues GET_STATUS to an endpoint and reports its halt bit.
func (h *Host) Halted(address uint8) (bool, error) {
	var setup hal.SetupPacket
	hal.GetStatusSetup(&setup, hal.RequestRecipientEndpoint, uint16(address))
	data, err := h.Control(setup, nil)
	if err != nil {
		return false, err
	}
	if len(data) < 2 {
		return false, pkg.ErrProtocol
	}
	return data[0]&0x01 != 0, nil
}

// Out sends one OUT packet with the next sequence bit.
func (h *Host) Out(address uint8, data []byte) error {
	t := h.toggles[address]
	err := h.retry(func() error {
		return h.ctrl.HostOut(address, data, t)
	})
	if err == nil {
		h.toggles[address] = t.Flip()
	}
	return err
}

// Resend sends one OUT packet with the previous sequence bit, as a host
// does after a lost handshake.
func (h *Host) Resend(address uint8, data []byte) error {
	t := h.toggles[address].Flip()
	return h.retry(func() error {
		return h.ctrl.HostOut(address, data, t)
	})
}

// In collects one IN packet.
func (h *Host) In(address uint8) ([]byte, error) {
	var data []byte
	err := h.retry(func() error {
		var err error
		data, _, err = h.ctrl.HostIn(address)
		return err
	})
	return data, err
}

// Write splits data into packets of maxPacket bytes and sends them.
func (h *Host) Write(address uint8, data []byte, maxPacket int) error {
	for len(data) > 0 {
		n := min(len(data), maxPacket)
		if err := h.Out(address, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// Read collects IN packets until n bytes arrive or a short packet ends the
// transfer. Bytes received before an error are returned with it.
func (h *Host) Read(address uint8, n int, maxPacket int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		pkt, err := h.In(address)
		if err != nil {
			return out, err
		}
		out = append(out, pkt...)
		if len(pkt) < maxPacket {
			break
		}
	}
	return out, nil
}

func (h *Host) retry(fn func() error) error {
	deadline := time.Now().Add(h.Timeout)
	for i := 0; ; i++ {
		err := fn()
		if !errors.Is(err, pkg.ErrNAK) {
			return err
		}
		if h.Pump != nil {
			if i >= h.Retries {
				return fmt.Errorf("%d retries: %w", i, pkg.ErrTimeout)
			}
			h.Pump()
			continue
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("after %s: %w", h.Timeout, pkg.ErrTimeout)
		}
		time.Sleep(100 * time.Microsecond)
	}
}
