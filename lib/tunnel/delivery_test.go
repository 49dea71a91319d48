package tunnel

import (
	"testing"

	common "github.com/go-i2p/common/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryInstructionsRoundTrip(t *testing.T) {
	hash := common.HashData([]byte("router"))
	tests := []struct {
		name    string
		di      DeliveryInstructions
		wantLen int
	}{
		{name: "local unfragmented", di: DeliveryInstructions{Delivery: LocalDelivery(), Size: 10}, wantLen: 3},
		{name: "router unfragmented", di: DeliveryInstructions{Delivery: DeliveryConfig{Type: DeliveryRouter, Hash: hash}, Size: 10}, wantLen: 35},
		{name: "tunnel unfragmented", di: DeliveryInstructions{Delivery: DeliveryConfig{Type: DeliveryTunnel, TunnelID: 99, Hash: hash}, Size: 10}, wantLen: 39},
		{name: "router first fragment", di: DeliveryInstructions{Delivery: DeliveryConfig{Type: DeliveryRouter, Hash: hash}, Fragmented: true, MessageID: 7, Size: 900}, wantLen: 39},
		{name: "tunnel first fragment", di: DeliveryInstructions{Delivery: DeliveryConfig{Type: DeliveryTunnel, TunnelID: 1, Hash: hash}, Fragmented: true, MessageID: 7, Size: 900}, wantLen: 43},
		{name: "follow-on", di: DeliveryInstructions{FollowOn: true, MessageID: 7, FragmentNumber: 5, Size: 100}, wantLen: 7},
		{name: "last follow-on", di: DeliveryInstructions{FollowOn: true, MessageID: 7, FragmentNumber: 63, Last: true, Size: 1}, wantLen: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.di.AppendTo(nil)
			require.NoError(t, err)
			assert.Len(t, b, tt.wantLen)
			assert.Equal(t, tt.wantLen, tt.di.Len())

			parsed, rest, err := readDeliveryInstructions(append(b, 0xEE))
			require.NoError(t, err)
			assert.Equal(t, tt.di, *parsed)
			assert.Equal(t, []byte{0xEE}, rest)
		})
	}
}

func TestDeliveryFlagBits(t *testing.T) {
	b, err := (&DeliveryInstructions{Delivery: DeliveryConfig{Type: DeliveryRouter}, Fragmented: true}).AppendTo(nil)
	require.NoError(t, err)
	assert.Equal(t, byte(0x48), b[0], "router type in bits 6-5, fragmented bit 3")

	b, err = (&DeliveryInstructions{FollowOn: true, FragmentNumber: 2, Last: true}).AppendTo(nil)
	require.NoError(t, err)
	assert.Equal(t, byte(0x85), b[0])
}

func TestDeliveryInstructionsSkipOptionalFields(t *testing.T) {
	// local, delay and extended options present, fragmented
	b := []byte{0x10 | 0x08 | 0x04, 0x77, 0, 0, 0, 9, 2, 0xAA, 0xBB, 0x00, 0x05}
	di, rest, err := readDeliveryInstructions(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), di.MessageID)
	assert.Equal(t, uint16(5), di.Size)
	assert.Empty(t, rest)
}

func TestDeliveryInstructionsRejections(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty", input: nil},
		{name: "unused delivery type", input: []byte{0x60, 0, 1}},
		{name: "truncated follow-on", input: []byte{0x83, 0, 0}},
		{name: "follow-on number zero", input: []byte{0x80, 0, 0, 0, 1, 0, 1}},
		{name: "truncated hash", input: []byte{0x40, 1, 2, 3}},
		{name: "truncated size", input: []byte{0x00, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := readDeliveryInstructions(tt.input)
			assert.ErrorIs(t, err, ErrInvalidDeliveryInstructions)
		})
	}

	_, err := (&DeliveryInstructions{FollowOn: true, FragmentNumber: 64}).AppendTo(nil)
	assert.ErrorIs(t, err, ErrInvalidDeliveryInstructions)
}
