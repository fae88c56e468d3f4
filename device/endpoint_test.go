package device

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/mscvcp/device/hal"
	"github.com/ardnew/mscvcp/device/hal/sim"
	"github.com/ardnew/mscvcp/pkg"
)

func TestEndpointProperties(t *testing.T) {
	tests := []struct {
		name     string
		ep       Endpoint
		number   uint8
		in       bool
		typeName string
	}{
		{"bulk in", Endpoint{Address: 0x85, Attributes: EndpointTypeBulk}, 5, true, "Bulk"},
		{"bulk out", Endpoint{Address: 0x06, Attributes: EndpointTypeBulk}, 6, false, "Bulk"},
		{"interrupt in", Endpoint{Address: 0x84, Attributes: EndpointTypeInterrupt}, 4, true, "Interrupt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.number, tt.ep.Number())
			assert.Equal(t, tt.in, tt.ep.IsIn())
			assert.Equal(t, !tt.in, tt.ep.IsOut())
			assert.Equal(t, tt.typeName, TransferTypeName(tt.ep.TransferType()))
		})
	}
	assert.Equal(t, "IN", DirectionName(EndpointDirectionIn))
	assert.Equal(t, "OUT", DirectionName(EndpointDirectionOut))
}

func TestEndpointAccept(t *testing.T) {
	var ep Endpoint

	assert.True(t, ep.Accept(hal.Data1), "first packet after reset is always new")
	assert.False(t, ep.Accept(hal.Data1), "same toggle is a retransmission")
	assert.True(t, ep.Accept(hal.Data0))
	assert.True(t, ep.Accept(hal.Data1))
	assert.True(t, ep.Sequenced())

	ep.ResetSequence()
	assert.False(t, ep.Sequenced())
	assert.True(t, ep.Accept(hal.Data1))
}

func TestEndpointConfigure(t *testing.T) {
	ctrl := sim.New(sim.Options{})
	ep := &Endpoint{Slot: 2, Address: 0x03, Attributes: EndpointTypeBulk, MaxPacketSize: 64, Buffer: 0x80}
	ep.Accept(hal.Data0)
	ctrl.SetToggle(2, hal.Data1)

	require.NoError(t, ep.Configure(ctrl))
	slot, ok := ctrl.SlotOf(0x03)
	require.True(t, ok)
	assert.Equal(t, hal.Slot(2), slot)
	assert.Equal(t, uint32(0x80), ctrl.Buffer(2))
	assert.Equal(t, hal.Data0, ctrl.Toggle(2))
	assert.False(t, ep.Sequenced())

	bad := &Endpoint{Slot: 2, Address: 0x03, MaxPacketSize: 64, Buffer: 0x2000}
	assert.Error(t, bad.Configure(ctrl))
}

func TestEndpointConfigureLogs(t *testing.T) {
	var buf bytes.Buffer
	pkg.SetLogger(pkg.NewLogger(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	defer pkg.SetLogFormat(pkg.LogFormatText)

	ctrl := sim.New(sim.Options{})
	ep := &Endpoint{Slot: 3, Address: 0x84, Attributes: EndpointTypeInterrupt, MaxPacketSize: 16, Buffer: 0x80}
	require.NoError(t, ep.Configure(ctrl))

	out := buf.String()
	assert.Contains(t, out, "endpoint configured")
	assert.Contains(t, out, "address=0x84")
	assert.Contains(t, out, "type=Interrupt")
	assert.Contains(t, out, "direction=IN")
}

// countingController records how often the interrupt mask is restored.
type countingController struct {
	*sim.Controller
	restores int
}

func (c *countingController) DisableInterrupts() func() {
	restore := c.Controller.DisableInterrupts()
	return func() {
		c.restores++
		restore()
	}
}

func TestCritical(t *testing.T) {
	ctrl := sim.New(sim.Options{})
	ran := false
	Critical(ctrl, func() { ran = true })
	assert.True(t, ran)

	counting := &countingController{Controller: ctrl}
	g := Enter(counting)
	g.Exit()
	g.Exit()
	assert.Equal(t, 1, counting.restores, "only the first Exit restores")

	// The mask is released: a second critical section can be entered.
	Critical(ctrl, func() {})
}
