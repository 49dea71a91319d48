package tunnel

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-tunnelmsg/lib/util/time/monotonic"
)

// testTunnel is a complete in-process tunnel.
type testTunnel struct {
	gatewayPeer  common.Hash
	peers        []common.Hash
	hops         []*HopConfig
	gateway      *Gateway
	participants []*Participant
	endpoint     *Endpoint
}

func newTestTunnel(t *testing.T, n int, clock monotonic.TimeSource, expiration time.Time) *testTunnel {
	t.Helper()
	tt := &testTunnel{gatewayPeer: common.HashData([]byte("gateway"))}
	for i := 0; i < n; i++ {
		tt.peers = append(tt.peers, common.HashData([]byte(fmt.Sprintf("hop-%d", i))))
	}
	hops, err := RandomHopChain(tt.gatewayPeer, tt.peers, expiration)
	require.NoError(t, err)
	tt.hops = hops

	tt.gateway, err = NewGateway(hops)
	require.NoError(t, err)
	for _, h := range hops[:n-1] {
		p, err := NewParticipant(h, clock)
		require.NoError(t, err)
		tt.participants = append(tt.participants, p)
	}
	tt.endpoint, err = NewEndpoint(hops[n-1], clock)
	require.NoError(t, err)
	return tt
}

// deliver walks msg through every hop and returns the endpoint plaintext.
func (tt *testTunnel) deliver(msg []byte) ([]byte, error) {
	from := tt.gatewayPeer
	for i, p := range tt.participants {
		next, out, err := p.Process(from, msg)
		if err != nil {
			return nil, err
		}
		if next != tt.peers[i+1] {
			return nil, fmt.Errorf("hop %d forwarded to the wrong peer", i)
		}
		from, msg = tt.peers[i], out
	}
	return tt.endpoint.Process(from, msg)
}

func TestLayeredRoundTripAllLengths(t *testing.T) {
	for n := 1; n <= MaxHops; n++ {
		t.Run(fmt.Sprintf("%d hops", n), func(t *testing.T) {
			tt := newTestTunnel(t, n, nil, time.Time{})
			payload := bytes.Repeat([]byte{0x5A, 0xC3}, tt.gateway.PayloadSize()/2)
			require.Len(t, payload, EndpointPayloadSize(n))

			msg, err := tt.gateway.Build(payload)
			require.NoError(t, err)
			require.Len(t, msg, TunnelMessageSize)

			plain, err := tt.deliver(msg)
			require.NoError(t, err)
			require.Len(t, plain, BodySize)
			assert.Equal(t, payload, plain[:len(payload)])
		})
	}
}

func TestShortPayloadIsFilled(t *testing.T) {
	tt := newTestTunnel(t, 3, nil, time.Time{})
	msg, err := tt.gateway.Build([]byte("hi"))
	require.NoError(t, err)

	plain, err := tt.deliver(msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), plain[:2])
}

func TestEachLayerChangesTheMessage(t *testing.T) {
	tt := newTestTunnel(t, 3, nil, time.Time{})
	payload := []byte("visible only at the endpoint")
	msg, err := tt.gateway.Build(payload)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(msg, payload))

	_, out, err := tt.participants[0].Process(tt.gatewayPeer, msg)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(out, payload))
	assert.NotEqual(t, msg[ivOffset:tagOffset], out[ivOffset:tagOffset], "IV changes per hop")
	assert.Equal(t, tt.hops[1].ReceiveTunnelID(), messageView(out).tunnelID())
}

func TestSingleByteCorruptionFailsEveryOffset(t *testing.T) {
	tt := newTestTunnel(t, 3, nil, time.Time{})
	msg, err := tt.gateway.Build([]byte("integrity"))
	require.NoError(t, err)

	for off := 0; off < TunnelMessageSize; off++ {
		corrupted := append([]byte(nil), msg...)
		corrupted[off] ^= 0x01

		_, _, err := tt.participants[0].Process(tt.gatewayPeer, corrupted)
		require.Error(t, err, "offset %d", off)
		if off >= ivOffset {
			assert.ErrorIs(t, err, ErrIntegrityFailure, "offset %d", off)
		} else {
			assert.ErrorIs(t, err, ErrUnknownTunnel, "offset %d", off)
		}
	}
}

func TestCorruptionBetweenHopsIsDetected(t *testing.T) {
	tt := newTestTunnel(t, 3, nil, time.Time{})
	msg, err := tt.gateway.Build([]byte("mid-path"))
	require.NoError(t, err)

	_, out, err := tt.participants[0].Process(tt.gatewayPeer, msg)
	require.NoError(t, err)
	out[TunnelMessageSize-1] ^= 0x80

	_, _, err = tt.participants[1].Process(tt.peers[0], out)
	assert.ErrorIs(t, err, ErrIntegrityFailure)
}

func TestHopRejections(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clock := monotonic.NewManual(start)
	tt := newTestTunnel(t, 2, clock, start.Add(10*time.Minute))
	msg, err := tt.gateway.Build([]byte("x"))
	require.NoError(t, err)

	t.Run("wrong size", func(t *testing.T) {
		_, _, err := tt.participants[0].Process(tt.gatewayPeer, msg[:100])
		assert.ErrorIs(t, err, ErrInvalidTunnelData)
	})

	t.Run("unexpected peer", func(t *testing.T) {
		_, _, err := tt.participants[0].Process(common.HashData([]byte("stranger")), msg)
		assert.ErrorIs(t, err, ErrUnexpectedPeer)
	})

	t.Run("wrong hop", func(t *testing.T) {
		_, err := tt.endpoint.Process(tt.peers[0], msg)
		assert.ErrorIs(t, err, ErrUnknownTunnel)
	})

	t.Run("expired", func(t *testing.T) {
		clock.Advance(10 * time.Minute)
		_, _, err := tt.participants[0].Process(tt.gatewayPeer, msg)
		assert.ErrorIs(t, err, ErrHopExpired)
	})
}

func TestGatewayValidation(t *testing.T) {
	tt := newTestTunnel(t, 3, nil, time.Time{})

	_, err := NewGateway(nil)
	assert.ErrorIs(t, err, ErrHopCount)

	_, err = NewGateway([]*HopConfig{tt.hops[0], tt.hops[2]})
	assert.ErrorIs(t, err, ErrBrokenChain)

	_, err = tt.gateway.Build(make([]byte, EndpointPayloadSize(3)+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = RandomHopChain(tt.gatewayPeer, make([]common.Hash, MaxHops+1), time.Time{})
	assert.ErrorIs(t, err, ErrHopCount)
}

func TestEndpointPayloadSize(t *testing.T) {
	assert.Equal(t, BodySize, EndpointPayloadSize(1))
	assert.Equal(t, 960, EndpointPayloadSize(3))
	assert.Equal(t, 880, EndpointPayloadSize(MaxHops))
	assert.Equal(t, 0, EndpointPayloadSize(0))
	assert.Equal(t, 0, EndpointPayloadSize(MaxHops+1))
}

func TestParallelProcessing(t *testing.T) {
	tt := newTestTunnel(t, 4, nil, time.Time{})
	errs := make(chan error, 32)
	for i := 0; i < cap(errs); i++ {
		go func(i int) {
			payload := []byte(fmt.Sprintf("message %d", i))
			msg, err := tt.gateway.Build(payload)
			if err != nil {
				errs <- err
				return
			}
			plain, err := tt.deliver(msg)
			if err == nil && !bytes.Equal(plain[:len(payload)], payload) {
				err = fmt.Errorf("message %d corrupted", i)
			}
			errs <- err
		}(i)
	}
	for i := 0; i < cap(errs); i++ {
		select {
		case err := <-errs:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for parallel deliveries")
		}
	}
}
