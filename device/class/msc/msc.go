package msc

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/mscvcp/device"
	"github.com/ardnew/mscvcp/device/hal"
	"github.com/ardnew/mscvcp/pkg"
)

// Config describes the mass storage function.
type Config struct {
	Interface uint8           // Interface number
	BulkIn    device.Endpoint // Bulk IN endpoint (device to host)
	BulkOut   device.Endpoint // Bulk OUT endpoint (host to device)

	Vendor   string // INQUIRY vendor identification
	Product  string // INQUIRY product identification
	Revision string // INQUIRY product revision

	WriteProtect bool // Refuse WRITE and report the WP bit in MODE SENSE
	StagingSize  int  // Sector staging buffer size, a multiple of BlockSize
}

// responseSize bounds every fixed-format response.
const responseSize = 80

// pollBudget bounds the steps taken by one Poll.
const pollBudget = 64

type phase uint8

const (
	phaseCBW phase = iota
	phaseDataIn
	phaseDataOut
	phaseCSW
	phaseLocked
)

func (p phase) String() string {
	switch p {
	case phaseCBW:
		return "cbw"
	case phaseDataIn:
		return "data-in"
	case phaseDataOut:
		return "data-out"
	case phaseCSW:
		return "csw"
	case phaseLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// MSC implements the Mass Storage Class Bulk-Only Transport function.
//
// Endpoint events and class requests arrive in interrupt context and only
// raise flags or reset the session. Commands are decoded and data is moved
// by Poll, which holds the controller interrupt mask except while it calls
// into a storage backend.
type MSC struct {
	ctrl     hal.Controller
	in, out  device.Endpoint
	pp       *device.PingPong
	mps      int
	iface    uint8
	luns     *Registry
	inquiry  InquiryResponse
	guard    device.Guard
	ctrlBuf  [1]byte
	pkt      []byte
	staging  []byte
	scratch  [BlockSize]byte
	resp     [responseSize]byte
	cswBuf   [CSWSize]byte
	cswQueue bool

	// Shared with the interrupt handler.
	inReady      bool
	outReady     bool
	epoch        uint32
	removed      bool
	countdown    int
	writeProtect bool
	connected    atomic.Bool

	// Session state, owned by Poll.
	phase   phase
	cbw     CommandBlockWrapper
	plan    plan
	x       transfer
	sense   Sense
	prevent bool
}

// transfer tracks the progress of one data stage.
type transfer struct {
	total     uint32 // IN bytes the device will send
	queued    uint32 // IN bytes preloaded
	delivered uint32 // IN bytes collected by the host
	pending   int    // length of the preloaded packet
	lastLen   int    // length of the packet on the wire
	inFlight  bool

	received  uint32 // OUT bytes received
	store     uint32 // OUT bytes to keep
	accepted  uint32 // OUT bytes kept so far
	processed uint32 // OUT bytes written or sunk

	lba      uint32 // next sector to read or write
	stageOff int
	stageLen int
	fail     bool
}

// New creates the mass storage function. The LUN registry is realized on
// the host's first Get Max LUN request.
func New(ctrl hal.Controller, cfg Config, luns *Registry) (*MSC, error) {
	if luns == nil {
		return nil, fmt.Errorf("nil LUN registry: %w", pkg.ErrInvalidParameter)
	}
	if !cfg.BulkIn.IsBulk() || !cfg.BulkIn.IsIn() {
		return nil, fmt.Errorf("bulk IN endpoint 0x%02X: %w", cfg.BulkIn.Address, pkg.ErrInvalidEndpoint)
	}
	if !cfg.BulkOut.IsBulk() || !cfg.BulkOut.IsOut() {
		return nil, fmt.Errorf("bulk OUT endpoint 0x%02X: %w", cfg.BulkOut.Address, pkg.ErrInvalidEndpoint)
	}
	if cfg.StagingSize == 0 {
		cfg.StagingSize = DefaultStagingSize
	}
	if cfg.StagingSize < 0 || cfg.StagingSize%BlockSize != 0 {
		return nil, fmt.Errorf("staging buffer of %d bytes: %w", cfg.StagingSize, pkg.ErrInvalidParameter)
	}
	if cfg.Vendor == "" {
		cfg.Vendor = DefaultVendor
	}
	if cfg.Product == "" {
		cfg.Product = DefaultProduct
	}
	if cfg.Revision == "" {
		cfg.Revision = DefaultRevision
	}

	m := &MSC{
		ctrl:         ctrl,
		in:           cfg.BulkIn,
		out:          cfg.BulkOut,
		iface:        cfg.Interface,
		luns:         luns,
		inquiry:      *NewInquiryResponse(cfg.Vendor, cfg.Product, cfg.Revision),
		writeProtect: cfg.WriteProtect,
		staging:      make([]byte, cfg.StagingSize),
	}
	m.pp = device.NewPingPong(ctrl, &m.in, &m.out)
	m.mps = m.pp.MaxPacket()
	if m.mps < CBWSize || BlockSize%m.mps != 0 {
		return nil, fmt.Errorf("max packet size %d: %w", m.mps, pkg.ErrInvalidParameter)
	}
	m.pkt = make([]byte, m.mps)
	return m, nil
}

// Name implements device.Function.
func (m *MSC) Name() string { return "msc" }

// Owns implements device.Function.
func (m *MSC) Owns(slot hal.Slot) bool {
	return slot == m.in.Slot || slot == m.out.Slot
}

// OwnsInterface implements device.Function.
func (m *MSC) OwnsInterface(iface uint8) bool {
	return iface == m.iface
}

// Configure binds the bulk pair and waits for a command.
func (m *MSC) Configure() error {
	if err := m.in.Configure(m.ctrl); err != nil {
		return err
	}
	if err := m.out.Configure(m.ctrl); err != nil {
		return err
	}
	m.resetSession()
	return nil
}

// BusReset implements device.Function. The LUN registry survives.
func (m *MSC) BusReset() {
	m.epoch++
	m.inReady = false
	m.outReady = false
	m.removed = false
	m.prevent = false
	m.countdown = 0
	m.connected.Store(false)
}

// HandleEndpoint implements device.Function.
func (m *MSC) HandleEndpoint(slot hal.Slot) {
	switch slot {
	case m.in.Slot:
		m.inReady = true
	case m.out.Slot:
		m.outReady = true
	}
}

// HaltCleared implements device.Function.
func (m *MSC) HaltCleared(slot hal.Slot) {
	if slot == m.out.Slot {
		m.out.ResetSequence()
	}
}

// Connected reports whether the host has finished probing the logical
// units.
func (m *MSC) Connected() bool {
	return m.connected.Load()
}

// HandleSetup answers the Bulk-Only class requests.
func (m *MSC) HandleSetup(setup *hal.SetupPacket) bool {
	switch setup.Request {
	case RequestGetMaxLUN:
		if setup.Value != 0 || setup.Length != 1 || !setup.IsDeviceToHost() {
			return false
		}
		n := m.luns.Realize()
		if n == 0 {
			pkg.LogWarn(pkg.ComponentBOT, "no logical units")
			return false
		}
		m.countdown = 3 * n
		m.ctrlBuf[0] = uint8(n - 1)
		if err := m.ctrl.WriteControl(m.ctrlBuf[:]); err != nil {
			pkg.LogWarn(pkg.ComponentBOT, "answer Get Max LUN", "error", err)
			return false
		}
		pkg.LogDebug(pkg.ComponentBOT, "Get Max LUN", "max", n-1)
		return true

	case RequestBulkOnlyMassStorageReset:
		if setup.Value != 0 || setup.Length != 0 || setup.IsDeviceToHost() {
			return false
		}
		m.ctrl.LockStall(0)
		m.ctrl.ClearStall(m.in.Slot)
		m.ctrl.ClearStall(m.out.Slot)
		m.resetSession()
		m.ctrl.AckControl()
		pkg.LogDebug(pkg.ComponentBOT, "bulk-only reset")
		return true

	default:
		return false
	}
}

// SetMediumEnabled inserts or removes the medium as seen by the host.
func (m *MSC) SetMediumEnabled(enabled bool) {
	device.Critical(m.ctrl, func() { m.removed = !enabled })
}

// SetWriteProtect changes write protection for every logical unit.
func (m *MSC) SetWriteProtect(wp bool) {
	device.Critical(m.ctrl, func() { m.writeProtect = wp })
}

// WriteProtected reports whether writes are refused.
func (m *MSC) WriteProtected() bool {
	var wp bool
	device.Critical(m.ctrl, func() { wp = m.writeProtect })
	return wp
}

// StagingSize returns the capacity of the sector staging buffer.
func (m *MSC) StagingSize() int {
	return len(m.staging)
}

// Registry returns the logical unit registry.
func (m *MSC) Registry() *Registry {
	return m.luns
}

// resetSession aborts any transfer and re-arms the OUT slot for a command.
// Staged data that was not yet written is dropped.
func (m *MSC) resetSession() {
	if m.phase != phaseCBW {
		pkg.LogDebug(pkg.ComponentBOT, "session aborted", "phase", m.phase.String())
	}
	m.epoch++
	m.inReady = false
	m.outReady = false
	m.pp.Reset()
	m.phase = phaseCBW
	m.plan = plan{}
	m.x = transfer{}
	m.cswQueue = false
	m.pp.ArmCommand(m.mps)
}

var (
	_ device.Function = (*MSC)(nil)
	_ device.Poller   = (*MSC)(nil)
)
