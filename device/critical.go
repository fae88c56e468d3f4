package device

import "github.com/ardnew/mscvcp/device/hal"

// Guard is an open critical section: controller interrupts stay masked until
// Exit is called.
type Guard struct {
	restore func()
}

// Enter masks the controller's interrupts.
//
// Poll-context code must bracket every access to state shared with the
// interrupt handler:
//
//	g := device.Enter(ctrl)
//	ready := s.outReady
//	s.outReady = false
//	g.Exit()
//
// Interrupt handlers already run masked and must not call Enter.
func Enter(ctrl hal.Controller) Guard {
	return Guard{restore: ctrl.DisableInterrupts()}
}

// Exit restores interrupts. Only the first call on a guard restores them.
func (g *Guard) Exit() {
	if g.restore != nil {
		g.restore()
		g.restore = nil
	}
}

// Critical runs fn with the controller's interrupts masked.
func Critical(ctrl hal.Controller, fn func()) {
	g := Enter(ctrl)
	defer g.Exit()
	fn()
}
