package tunnel

import (
	"bytes"
	"testing"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-tunnelmsg/lib/fragment"
	"github.com/go-i2p/go-tunnelmsg/lib/util/time/monotonic"
)

type deliveredMessage struct {
	config DeliveryConfig
	msg    []byte
}

func collectingHandler() (MessageHandler, *[]deliveredMessage) {
	var got []deliveredMessage
	return func(d DeliveryConfig, msg []byte) {
		got = append(got, deliveredMessage{config: d, msg: msg})
	}, &got
}

func TestEndToEndThroughTunnel(t *testing.T) {
	tt := newTestTunnel(t, 3, nil, time.Time{})
	pre, err := NewPreprocessor(tt.gateway.PayloadSize())
	require.NoError(t, err)

	router := DeliveryConfig{Type: DeliveryRouter, Hash: common.HashData([]byte("router"))}
	tunnel := DeliveryConfig{Type: DeliveryTunnel, TunnelID: 4242, Hash: common.HashData([]byte("gw"))}
	sent := []deliveredMessage{
		{config: LocalDelivery(), msg: []byte("short local message")},
		{config: router, msg: bytes.Repeat([]byte("0123456789"), 250)},
		{config: tunnel, msg: []byte{}},
		{config: LocalDelivery(), msg: bytes.Repeat([]byte{0xEE}, 3000)},
	}
	for _, s := range sent {
		_, err := pre.Enqueue(s.msg, s.config)
		require.NoError(t, err)
	}
	blocks, err := pre.Flush()
	require.NoError(t, err)

	var plaintexts [][]byte
	for _, block := range blocks {
		msg, err := tt.gateway.Build(block)
		require.NoError(t, err)
		plain, err := tt.deliver(msg)
		require.NoError(t, err)
		plaintexts = append(plaintexts, plain)
	}

	// Endpoint messages may arrive in any order.
	handler, got := collectingHandler()
	fh, err := NewFragmentHandler(handler, 0, nil)
	require.NoError(t, err)
	for i := len(plaintexts) - 1; i >= 0; i-- {
		require.NoError(t, fh.HandleBlock(plaintexts[i]))
	}

	require.Len(t, *got, len(sent))
	for _, want := range sent {
		found := false
		for _, g := range *got {
			if bytes.Equal(g.msg, want.msg) && g.config == want.config {
				found = true
				break
			}
		}
		assert.True(t, found, "message of %d bytes to %s not delivered", len(want.msg), want.config.Type)
	}
	assert.Equal(t, uint64(2), fh.Stats().Delivered)
}

func TestFragmentHandlerBadBlocks(t *testing.T) {
	handler, got := collectingHandler()
	fh, err := NewFragmentHandler(handler, 0, nil)
	require.NoError(t, err)

	good := sealBlock(append([]byte{0x00, 0x00, 0x02}, 'o', 'k'))

	t.Run("bad checksum", func(t *testing.T) {
		b := append([]byte(nil), good...)
		b[0] ^= 0xFF
		assert.ErrorIs(t, fh.HandleBlock(b), ErrInvalidBlock)
	})

	t.Run("truncated instructions", func(t *testing.T) {
		b := sealBlock([]byte{0x40, 1, 2})
		assert.ErrorIs(t, fh.HandleBlock(b), ErrInvalidDeliveryInstructions)
	})

	t.Run("size past end", func(t *testing.T) {
		b := sealBlock([]byte{0x00, 0x00, 0x09, 'x'})
		assert.ErrorIs(t, fh.HandleBlock(b), ErrInvalidDeliveryInstructions)
	})

	t.Run("earlier fragments survive a bad tail", func(t *testing.T) {
		*got = nil
		b := sealBlock([]byte{0x00, 0x00, 0x02, 'o', 'k', 0x60})
		assert.Error(t, fh.HandleBlock(b))
		require.Len(t, *got, 1)
		assert.Equal(t, []byte("ok"), (*got)[0].msg)
	})

	require.NoError(t, fh.HandleBlock(good))
	_, err = NewFragmentHandler(nil, 0, nil)
	assert.Error(t, err)
}

func TestFragmentHandlerExpiry(t *testing.T) {
	clock := monotonic.NewManual(time.Unix(1_700_000_000, 0))
	handler, got := collectingHandler()
	fh, err := NewFragmentHandler(handler, time.Minute, clock)
	require.NoError(t, err)

	pre, err := NewPreprocessor(testPayloadSize, WithPreprocessorClock(clock))
	require.NoError(t, err)
	_, err = pre.Enqueue(bytes.Repeat([]byte{1}, 2500), LocalDelivery())
	require.NoError(t, err)
	blocks, err := pre.Flush()
	require.NoError(t, err)
	require.Len(t, blocks, 3)

	require.NoError(t, fh.HandleBlock(blocks[0]))
	require.NoError(t, fh.HandleBlock(blocks[1]))
	assert.Zero(t, fh.Sweep())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, fh.Sweep())
	assert.Empty(t, fh.delivery)

	// The tail arrives too late and completes nothing.
	require.NoError(t, fh.HandleBlock(blocks[2]))
	assert.Empty(t, *got)
	stats := fh.Stats()
	assert.Equal(t, uint64(1), stats.Expired)
	assert.Equal(t, uint64(0), stats.Delivered)
}

func TestFragmentHandlerWindowDefault(t *testing.T) {
	fh, err := NewFragmentHandler(func(DeliveryConfig, []byte) {}, -1, nil)
	require.NoError(t, err)
	assert.Equal(t, fragment.DefaultMaxDefragmentTime, fh.window)
}
