package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/mscvcp/pkg"
)

func TestParseSetupPacket(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    SetupPacket
		wantErr bool
	}{
		{
			name: "SET_CONFIGURATION",
			data: []byte{0x00, 0x09, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00},
			want: SetupPacket{RequestType: 0x00, Request: 0x09, Value: 1},
		},
		{
			name: "GET_MAX_LUN",
			data: []byte{0xA1, 0xFE, 0x00, 0x00, 0x02, 0x00, 0x01, 0x00},
			want: SetupPacket{RequestType: 0xA1, Request: 0xFE, Index: 2, Length: 1},
		},
		{
			name: "CLEAR_FEATURE halt EP5 IN",
			data: []byte{0x02, 0x01, 0x00, 0x00, 0x85, 0x00, 0x00, 0x00},
			want: SetupPacket{RequestType: 0x02, Request: 0x01, Index: 0x85},
		},
		{
			name:    "too short",
			data:    []byte{0x80, 0x06, 0x00},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got SetupPacket
			err := ParseSetupPacket(tt.data, &got)
			if tt.wantErr {
				assert.ErrorIs(t, err, pkg.ErrSetupPacketTooShort)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetupPacketClassification(t *testing.T) {
	var s SetupPacket

	ClassSetup(&s, true, 0xFE, 0, 2, 1)
	assert.True(t, s.IsClass())
	assert.True(t, s.IsDeviceToHost())
	assert.Equal(t, uint8(RequestRecipientInterface), s.Recipient())
	assert.Equal(t, uint8(2), s.InterfaceNumber())

	ClearFeatureSetup(&s, RequestRecipientEndpoint, FeatureEndpointHalt, 0x06)
	assert.True(t, s.IsStandard())
	assert.False(t, s.IsDeviceToHost())
	assert.Equal(t, uint8(0x06), s.EndpointAddress())
	assert.Equal(t, "SETUP[OUT Standard Endpoint] Request=0x01 Value=0x0000 Index=0x0006 Length=0", s.String())
}

func TestSetupPacketMarshalTo(t *testing.T) {
	var pkt SetupPacket
	SetConfigurationSetup(&pkt, 1)

	var buf [SetupPacketSize]byte
	require.Equal(t, SetupPacketSize, pkt.MarshalTo(buf[:]))
	assert.Equal(t, []byte{0x00, 0x09, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}, buf[:])
	assert.Zero(t, pkt.MarshalTo(buf[:4]))
}

func TestToggleAndSlot(t *testing.T) {
	assert.Equal(t, Data1, Data0.Flip())
	assert.Equal(t, Data0, Data1.Flip())
	assert.Equal(t, "DATA1", Data1.String())
	assert.Equal(t, uint32(1<<6), Slot(6).Mask())
	assert.Equal(t, "EP5", Slot(5).String())
	assert.Equal(t, "endpoint", EventEndpoint.String())
}
