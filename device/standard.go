package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/mscvcp/device/hal"
	"github.com/ardnew/mscvcp/pkg"
)

// handleStandard processes the standard requests that touch configuration
// and endpoint state. Requests it leaves to the [StandardHandler] return
// pkg.ErrNotSupported; malformed requests return pkg.ErrInvalidRequest.
func (c *Composite) handleStandard(setup *hal.SetupPacket) ([]byte, error) {
	switch setup.Recipient() {
	case hal.RequestRecipientDevice:
		return c.handleDeviceRequest(setup)
	case hal.RequestRecipientInterface:
		return c.handleInterfaceRequest(setup)
	case hal.RequestRecipientEndpoint:
		return c.handleEndpointRequest(setup)
	default:
		return nil, pkg.ErrNotSupported
	}
}

// handleDeviceRequest handles device-level standard requests.
func (c *Composite) handleDeviceRequest(setup *hal.SetupPacket) ([]byte, error) {
	switch setup.Request {
	case hal.RequestGetStatus:
		if setup.Length < 2 {
			return nil, pkg.ErrInvalidRequest
		}
		binary.LittleEndian.PutUint16(c.statusBuf[:], 0)
		return c.statusBuf[:], nil
	case hal.RequestGetConfiguration:
		c.statusBuf[0] = uint8(c.config.Load())
		return c.statusBuf[:1], nil
	case hal.RequestSetConfiguration:
		return nil, c.setConfiguration(uint8(setup.Value & 0xFF))
	default:
		return nil, pkg.ErrNotSupported
	}
}

// setConfiguration handles SET_CONFIGURATION. Selecting the configuration
// rebinds every function's endpoints.
func (c *Composite) setConfiguration(value uint8) error {
	switch value {
	case 0:
		c.config.Store(0)
		pkg.LogDebug(pkg.ComponentDispatch, "deconfigured")
		return nil
	case ConfigurationValue:
		if err := c.configureFunctions(); err != nil {
			pkg.LogError(pkg.ComponentDispatch, "configure functions", "error", err)
			return err
		}
		c.config.Store(uint32(value))
		pkg.LogInfo(pkg.ComponentDispatch, "configured", "value", value)
		return nil
	default:
		return fmt.Errorf("configuration %d: %w", value, pkg.ErrInvalidRequest)
	}
}

// handleInterfaceRequest handles interface-level standard requests.
func (c *Composite) handleInterfaceRequest(setup *hal.SetupPacket) ([]byte, error) {
	if setup.Request != hal.RequestGetStatus {
		return nil, pkg.ErrNotSupported
	}
	if setup.Length < 2 {
		return nil, pkg.ErrInvalidRequest
	}
	for _, f := range c.funcs {
		if f.OwnsInterface(setup.InterfaceNumber()) {
			binary.LittleEndian.PutUint16(c.statusBuf[:], 0)
			return c.statusBuf[:], nil
		}
	}
	return nil, pkg.ErrInvalidRequest
}

// handleEndpointRequest handles endpoint-level standard requests.
func (c *Composite) handleEndpointRequest(setup *hal.SetupPacket) ([]byte, error) {
	addr := setup.EndpointAddress()
	if addr&0x0F == 0 {
		switch setup.Request {
		case hal.RequestGetStatus:
			binary.LittleEndian.PutUint16(c.statusBuf[:], 0)
			return c.statusBuf[:], nil
		case hal.RequestClearFeature, hal.RequestSetFeature:
			return nil, nil
		}
		return nil, pkg.ErrNotSupported
	}

	slot, ok := c.ctrl.SlotOf(addr)
	if !ok {
		return nil, fmt.Errorf("endpoint 0x%02X: %w", addr, pkg.ErrInvalidEndpoint)
	}

	switch setup.Request {
	case hal.RequestGetStatus:
		if setup.Length < 2 {
			return nil, pkg.ErrInvalidRequest
		}
		var status uint16
		if c.ctrl.Stalled(slot) {
			status = 1 // Halt bit
		}
		binary.LittleEndian.PutUint16(c.statusBuf[:], status)
		return c.statusBuf[:], nil

	case hal.RequestClearFeature:
		if setup.Value != hal.FeatureEndpointHalt {
			return nil, pkg.ErrInvalidRequest
		}
		c.clearHalt(slot, addr)
		return nil, nil

	case hal.RequestSetFeature:
		if setup.Value != hal.FeatureEndpointHalt {
			return nil, pkg.ErrInvalidRequest
		}
		c.ctrl.Stall(slot)
		pkg.LogDebug(pkg.ComponentEndpoint, "endpoint halted by host",
			"address", fmt.Sprintf("0x%02X", addr))
		return nil, nil

	default:
		return nil, pkg.ErrNotSupported
	}
}

// clearHalt clears a halt unless the slot is locked. A locked halt stays
// set; the request itself still completes.
func (c *Composite) clearHalt(slot hal.Slot, addr uint8) {
	if c.ctrl.StallLocked(slot) {
		pkg.LogDebug(pkg.ComponentEndpoint, "clear halt ignored on locked endpoint",
			"address", fmt.Sprintf("0x%02X", addr))
		return
	}
	c.ctrl.ClearStall(slot)
	c.ctrl.SetToggle(slot, hal.Data0)
	if f := c.owner(slot); f != nil {
		f.HaltCleared(slot)
	}
	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint halt cleared",
		"address", fmt.Sprintf("0x%02X", addr))
}
