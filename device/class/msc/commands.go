package msc

import (
	"errors"
	"fmt"

	"github.com/ardnew/mscvcp/pkg"
	"github.com/ardnew/mscvcp/storage"
)

type direction uint8

const (
	dirNone direction = iota
	dirIn
	dirOut
)

// plan is the device's side of one command: what it intends to transfer
// and how.
type plan struct {
	dir    direction
	length uint32 // D, the device's intended transfer length
	status uint8  // command status when the transfer completes as intended

	data  []byte // fixed-format IN response
	fixed bool
	sense bool // the response carries the latched sense, cleared once queued

	// Without media, OUT data is accepted and discarded.
	media   bool // stream sectors between the backend and the staging buffer
	backend storage.Backend
	lba     uint32

	reject bool           // command refused before any transfer; OUT data is sunk
	sync   storage.Syncer // flushed before the status is reported
}

var failed = plan{status: CSWStatusFailed}

// decode interprets the command block of cbw. It runs in poll context with
// the session guarded and updates sense and medium state as a side effect.
func (m *MSC) decode(cbw *CommandBlockWrapper) plan {
	op := cbw.Opcode()
	cb := cbw.CB[:]

	pkg.LogDebug(pkg.ComponentSCSI, "SCSI command",
		"opcode", fmt.Sprintf("0x%02X", op),
		"lun", cbw.LUN,
		"length", cbw.DataTransferLength)

	b := m.luns.Backend(cbw.LUN)
	if b == nil && op != SCSIInquiry && op != SCSIRequestSense {
		m.sense = SenseInvalidLUN
		return plan{reject: true}
	}

	switch op {
	case SCSITestUnitReady:
		if m.countdown > 0 {
			m.countdown--
		} else if !m.connected.Load() {
			m.connected.Store(true)
			pkg.LogInfo(pkg.ComponentBOT, "mass storage connected")
		}
		if !m.ready(b) {
			m.sense = SenseNoMedium
			return failed
		}
		return plan{}

	case SCSIRequestSense:
		code := uint8(SenseResponseValid)
		if m.prevent {
			code = SenseResponseCurrent
		}
		n := m.sense.MarshalTo(code, m.resp[:])
		p := m.fixed(n, uint32(cb[4]))
		p.sense = true
		return p

	case SCSIInquiry:
		n := m.inquiry.MarshalTo(m.resp[:])
		return m.fixed(n, uint32(parseU16BE(cb, 3)))

	case SCSIModeSelect6:
		return plan{dir: dirOut, length: uint32(cb[4])}

	case SCSIModeSelect10:
		return plan{dir: dirOut, length: uint32(parseU16BE(cb, 7))}

	case SCSIModeSense6:
		n := marshalModeSense6(m.writeProtect, m.resp[:])
		return m.fixed(n, uint32(cb[4]))

	case SCSIModeSense10:
		n, ok := marshalModeSense10(cb[2]&0x3F, m.writeProtect, b.Info().TotalSectors, m.resp[:])
		if !ok {
			m.sense = SenseInvalidField
			return failed
		}
		return m.fixed(n, uint32(parseU16BE(cb, 7)))

	case SCSIStartStopUnit:
		switch cb[4] & 0x03 {
		case 0x02:
			m.removed = true
			pkg.LogInfo(pkg.ComponentSCSI, "medium ejected by host", "lun", cbw.LUN)
		case 0x03:
			m.removed = false
		}
		return plan{}

	case SCSIPreventAllowRemoval:
		if cb[4]&0x01 != 0 {
			m.sense = SenseInvalidField
			m.prevent = true
		} else {
			m.prevent = false
		}
		return plan{}

	case SCSIReadFormatCapacities:
		if !m.ready(b) {
			m.sense = SenseNoMedium
			return failed
		}
		n := marshalFormatCapacities(b.Info().TotalSectors, m.resp[:])
		return m.fixed(n, uint32(parseU16BE(cb, 7)))

	case SCSIReadCapacity10:
		if !m.ready(b) {
			m.sense = SenseNoMedium
			return failed
		}
		resp := ReadCapacity10Response{
			LastLBA:     b.Info().TotalSectors - 1,
			BlockLength: BlockSize,
		}
		n := resp.MarshalTo(m.resp[:])
		return m.fixed(n, uint32(n))

	case SCSIServiceActionIn16:
		if cb[1]&0x1F != ServiceActionReadCapacity16 {
			m.sense = SenseInvalidOpcode
			return failed
		}
		if !m.ready(b) {
			m.sense = SenseNoMedium
			return failed
		}
		resp := ReadCapacity16Response{
			LastLBA:     uint64(b.Info().TotalSectors) - 1,
			BlockLength: BlockSize,
		}
		n := resp.MarshalTo(m.resp[:])
		return m.fixed(n, parseU32BE(cb, 10))

	case SCSIReportLUNs:
		n := marshalReportLUNs(m.luns.Count(), m.resp[:])
		return m.fixed(n, parseU32BE(cb, 6))

	case SCSIRead10, SCSIRead12:
		m.countdown = 3 * m.luns.Count()
		return m.media(b, cbw, dirIn)

	case SCSIWrite10, SCSIWrite12:
		return m.media(b, cbw, dirOut)

	case SCSIVerify10:
		return plan{}

	case SCSISynchronizeCache10:
		if s, ok := b.(storage.Syncer); ok {
			return plan{sync: s}
		}
		return plan{}

	default:
		pkg.LogWarn(pkg.ComponentSCSI, "unsupported SCSI command",
			"opcode", fmt.Sprintf("0x%02X", op))
		m.sense = SenseInvalidOpcode
		return plan{reject: true}
	}
}

// fixed plans a fixed-format response of n bytes in m.resp, truncated to
// the allocation length.
func (m *MSC) fixed(n int, alloc uint32) plan {
	d := min(uint32(n), alloc)
	return plan{dir: dirIn, length: d, data: m.resp[:d], fixed: true}
}

// media plans a READ or WRITE (10/12).
func (m *MSC) media(b storage.Backend, cbw *CommandBlockWrapper, dir direction) plan {
	cb := cbw.CB[:]
	lba := parseU32BE(cb, 2)
	var blocks uint32
	switch cbw.Opcode() {
	case SCSIRead12, SCSIWrite12:
		blocks = parseU32BE(cb, 6)
	default:
		blocks = uint32(parseU16BE(cb, 7))
	}

	if !m.ready(b) {
		m.sense = SenseNoMedium
		return failed
	}
	if uint64(lba)+uint64(blocks) > uint64(b.Info().TotalSectors) {
		m.sense = SenseOutOfRange
		return failed
	}
	if uint64(blocks)*BlockSize > 0xFFFFFFFF {
		m.sense = SenseInvalidField
		return failed
	}
	if dir == dirOut && m.writeProtect {
		m.sense = SenseWriteProtectedOp
		return plan{reject: true}
	}
	return plan{
		dir:     dir,
		length:  blocks * BlockSize,
		media:   true,
		backend: b,
		lba:     lba,
	}
}

// ready reports whether the medium of b can be accessed.
func (m *MSC) ready(b storage.Backend) bool {
	if m.removed || b == nil || !b.Detect() {
		return false
	}
	return b.Info().TotalSectors > 0
}

// senseOf maps a storage error onto sense data.
func senseOf(err error, write bool) Sense {
	switch {
	case errors.Is(err, pkg.ErrNotReady):
		return SenseNoMedium
	case errors.Is(err, pkg.ErrOutOfRange):
		return SenseOutOfRange
	case errors.Is(err, pkg.ErrWriteProtected):
		return SenseWriteProtectedOp
	case write:
		return SenseWriteError
	default:
		return SenseReadError
	}
}
