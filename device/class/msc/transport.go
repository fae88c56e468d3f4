package msc

import (
	"github.com/ardnew/mscvcp/device"
	"github.com/ardnew/mscvcp/pkg"
)

// Poll advances the Bulk-Only session: it decodes a received command,
// moves data through the ping-pong regions and emits the status wrapper.
func (m *MSC) Poll() {
	m.guard = device.Enter(m.ctrl)
	defer func() { m.guard.Exit() }()

	for i := 0; i < pollBudget && m.step(); i++ {
	}
}

// outside runs fn with interrupts enabled. It reports false when the session
// was reset meanwhile, in which case every result of fn must be dropped. fn
// must not touch session state.
func (m *MSC) outside(fn func()) bool {
	epoch := m.epoch
	m.guard.Exit()
	fn()
	m.guard = device.Enter(m.ctrl)
	return m.epoch == epoch
}

// step performs one unit of work and reports whether anything changed.
func (m *MSC) step() bool {
	switch m.phase {
	case phaseCBW:
		return m.stepCBW()
	case phaseDataIn:
		return m.stepIn()
	case phaseDataOut:
		return m.stepOut()
	case phaseCSW:
		return m.stepCSW()
	default:
		return false
	}
}

func (m *MSC) stepCBW() bool {
	if !m.outReady {
		return false
	}
	m.outReady = false
	if !m.out.Accept(m.ctrl.Toggle(m.out.Slot)) {
		m.pp.Rearm(m.mps)
		return true
	}

	n := m.pp.Command(m.pkt)
	if err := ParseCBW(m.pkt[:min(n, len(m.pkt))], &m.cbw); err != nil {
		pkg.LogWarn(pkg.ComponentBOT, "invalid command wrapper", "length", n, "error", err)
		m.ctrl.Stall(m.in.Slot)
		m.ctrl.Stall(m.out.Slot)
		m.ctrl.LockStall(m.in.Slot.Mask() | m.out.Slot.Mask())
		m.phase = phaseLocked
		return true
	}

	pkg.LogDebug(pkg.ComponentBOT, "CBW",
		"tag", m.cbw.Tag,
		"length", m.cbw.DataTransferLength,
		"in", m.cbw.IsDataIn(),
		"lun", m.cbw.LUN)

	m.plan = m.decode(&m.cbw)
	m.begin()
	return true
}

// begin resolves the host's expectation against the plan and either starts
// the data stage or goes straight to status.
func (m *MSC) begin() {
	p := &m.plan
	h := m.cbw.DataTransferLength
	m.x = transfer{lba: p.lba}

	if p.reject {
		switch {
		case h == 0:
			m.finish(CSWStatusFailed, 0, false, false)
		case m.cbw.IsDataIn():
			// Zero-length packet, then a failed status.
			m.startIn(0)
		default:
			m.startOut(0)
		}
		return
	}

	none := p.dir == dirNone || p.length == 0
	switch {
	case h == 0:
		switch {
		case none:
			epoch := m.epoch
			status := m.syncStatus()
			if m.epoch != epoch {
				return
			}
			m.finish(status, 0, false, false)
		case p.dir == dirIn:
			m.finish(CSWStatusFailed, 0, true, false)
		default:
			m.finish(CSWStatusFailed, 0, false, false)
		}

	case m.cbw.IsDataIn():
		if none || p.dir == dirOut {
			m.finish(CSWStatusFailed, h, true, false)
			return
		}
		if p.sense {
			m.sense, m.prevent = SenseOK, false
		}
		m.startIn(min(h, p.length))

	default:
		if none || p.dir == dirIn {
			m.finish(CSWStatusFailed, h, false, true)
			return
		}
		m.startOut(min(h, p.length))
	}
}

// syncStatus flushes a backend for SYNCHRONIZE CACHE and returns the command
// status.
func (m *MSC) syncStatus() uint8 {
	if m.plan.sync == nil {
		return m.plan.status
	}
	s := m.plan.sync
	var err error
	if !m.outside(func() { err = s.Sync() }) {
		return CSWStatusFailed
	}
	if err != nil {
		m.sense = senseOf(err, true)
		return CSWStatusFailed
	}
	return m.plan.status
}

func (m *MSC) startIn(total uint32) {
	m.phase = phaseDataIn
	m.x.total = total
	if total == 0 {
		m.pp.Send(nil)
		m.x.lastLen = 0
		m.x.inFlight = true
	}
}

func (m *MSC) startOut(store uint32) {
	m.phase = phaseDataOut
	m.x.store = store
	m.pp.Rearm(m.mps)
}

func (m *MSC) stepIn() bool {
	x := &m.x
	progressed := false

	if m.inReady {
		m.inReady = false
		if x.inFlight {
			x.delivered += uint32(x.lastLen)
			x.inFlight = false
		}
		progressed = true
	}
	if !x.inFlight && m.pp.Preloaded() {
		m.kick()
		progressed = true
	}

	if !m.pp.Preloaded() && !x.fail && x.queued < x.total {
		epoch := m.epoch
		chunk := m.nextIn()
		if m.epoch != epoch {
			return true
		}
		if len(chunk) > 0 {
			n := m.pp.Preload(chunk)
			x.pending = n
			x.queued += uint32(n)
			if !m.plan.fixed {
				x.stageOff += n
			}
			if !x.inFlight {
				m.kick()
			}
			progressed = true
		}
	}

	if !x.inFlight && !m.pp.Preloaded() && (x.fail || x.queued >= x.total) {
		m.endIn()
		return true
	}
	return progressed
}

func (m *MSC) kick() {
	m.x.lastLen = m.x.pending
	m.pp.Kick()
	m.x.inFlight = true
}

// nextIn returns the bytes of the next IN packet, refilling the staging
// buffer from the medium when it runs dry.
func (m *MSC) nextIn() []byte {
	x := &m.x
	if m.plan.fixed {
		end := min(x.queued+uint32(m.mps), x.total)
		return m.plan.data[x.queued:end]
	}
	if x.stageOff == x.stageLen && !m.refill() {
		return nil
	}
	end := min(x.stageOff+m.mps, x.stageLen)
	return m.staging[x.stageOff:end]
}

// refill reads the next run of sectors into the staging buffer. It returns
// false when the read failed or the session was reset.
func (m *MSC) refill() bool {
	x := &m.x
	remaining := x.total - x.queued
	sectors := min(uint32(len(m.staging)/BlockSize), (remaining+BlockSize-1)/BlockSize)
	b, lba, buf := m.plan.backend, x.lba, m.staging[:sectors*BlockSize]

	var err error
	if !m.outside(func() { _, err = b.ReadSectors(lba, sectors, buf) }) {
		return false
	}
	if err != nil {
		m.failMedia(err, false)
		return false
	}
	x.lba += sectors
	x.stageOff = 0
	x.stageLen = int(min(sectors*BlockSize, remaining))
	return true
}

func (m *MSC) endIn() {
	p, x := &m.plan, &m.x
	h := m.cbw.DataTransferLength
	residue := h - x.delivered

	switch {
	case p.reject:
		m.finish(CSWStatusFailed, residue, false, false)
	case x.fail:
		m.finish(CSWStatusFailed, residue, true, false)
	case h > p.length:
		status := p.status
		if p.media {
			status = CSWStatusFailed
		}
		m.finish(status, residue, p.length%uint32(m.mps) == 0, false)
	case h < p.length && !p.fixed:
		m.finish(CSWStatusFailed, residue, true, false)
	default:
		m.finish(p.status, residue, false, false)
	}
}

func (m *MSC) stepOut() bool {
	if !m.outReady {
		return false
	}
	m.outReady = false
	if !m.out.Accept(m.ctrl.Toggle(m.out.Slot)) {
		m.pp.Rearm(m.mps)
		return true
	}

	x := &m.x
	h := m.cbw.DataTransferLength
	n := m.ctrl.Payload(m.out.Slot)
	last := uint32(n) >= h-x.received || n < m.mps
	rearm := m.mps
	if last {
		rearm = 0
	}
	n = min(m.pp.Receive(m.pkt, rearm), len(m.pkt))

	k := min(uint32(n), h-x.received)
	x.received += k
	take := min(k, x.store-x.accepted)
	x.accepted += take

	if take > 0 && !x.fail {
		if m.plan.media {
			copy(m.staging[x.stageLen:], m.pkt[:take])
			x.stageLen += int(take)
			if x.stageLen == len(m.staging) && !m.flush() {
				return true
			}
		} else {
			x.processed += take
		}
	}

	if last {
		if m.plan.media && !x.fail && !m.flush() {
			return true
		}
		m.endOut()
	}
	return true
}

// flush writes the staged bytes to the medium. A partial trailing sector is
// merged with the sector's current contents. It returns false when the
// session was reset meanwhile.
func (m *MSC) flush() bool {
	x := &m.x
	n := x.stageLen
	if n == 0 {
		return true
	}
	full := uint32(n / BlockSize)
	tail := n % BlockSize
	b, lba, buf, scratch := m.plan.backend, x.lba, m.staging[:n], m.scratch[:]

	var written uint32
	var err error
	ok := m.outside(func() {
		if full > 0 {
			var c uint32
			c, err = b.WriteSectors(lba, full, buf[:full*BlockSize])
			written = c * BlockSize
			if err != nil {
				return
			}
		}
		if tail > 0 {
			if _, err = b.ReadSectors(lba+full, 1, scratch); err != nil {
				return
			}
			copy(scratch, buf[full*BlockSize:])
			if _, err = b.WriteSectors(lba+full, 1, scratch); err != nil {
				return
			}
			written += uint32(tail)
		}
	})
	if !ok {
		return false
	}

	x.processed += written
	x.lba += full
	if tail > 0 {
		x.lba++
	}
	x.stageLen = 0
	if err != nil {
		m.failMedia(err, true)
	}
	return true
}

func (m *MSC) endOut() {
	p, x := &m.plan, &m.x
	h := m.cbw.DataTransferLength
	status := p.status
	if p.reject || x.fail || h != p.length {
		status = CSWStatusFailed
	}
	m.finish(status, h-x.processed, false, false)
}

// failMedia records a storage error; the data stage ends or sinks the rest.
func (m *MSC) failMedia(err error, write bool) {
	m.x.fail = true
	m.sense = senseOf(err, write)
	pkg.LogWarn(pkg.ComponentStorage, "medium access failed",
		"lun", m.cbw.LUN, "write", write, "error", err)
}

// finish builds the status wrapper, halts endpoints as requested and sends
// the wrapper once the host has cleared the IN halt.
func (m *MSC) finish(status uint8, residue uint32, stallIn, stallOut bool) {
	if stallIn {
		m.ctrl.Stall(m.in.Slot)
	}
	if stallOut {
		m.ctrl.Stall(m.out.Slot)
	}
	csw := NewCSW(m.cbw.Tag, residue, status)
	csw.MarshalTo(m.cswBuf[:])
	m.phase = phaseCSW
	m.cswQueue = false

	pkg.LogDebug(pkg.ComponentBOT, "CSW",
		"tag", csw.Tag,
		"residue", residue,
		"status", status,
		"stallIn", stallIn,
		"stallOut", stallOut)

	m.stepCSW()
}

func (m *MSC) stepCSW() bool {
	if !m.cswQueue {
		if m.ctrl.Stalled(m.in.Slot) {
			return false
		}
		m.inReady = false
		m.pp.SendStatus(m.cswBuf[:])
		m.cswQueue = true
		return true
	}
	if !m.inReady {
		return false
	}
	m.inReady = false
	m.cswQueue = false
	m.phase = phaseCBW
	m.pp.ArmCommand(m.mps)
	return true
}
