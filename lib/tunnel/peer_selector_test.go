package tunnel

import (
	"fmt"
	"testing"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPeers(n int) []common.Hash {
	peers := make([]common.Hash, n)
	for i := range peers {
		peers[i] = common.HashData([]byte(fmt.Sprintf("peer-%d", i)))
	}
	return peers
}

func TestRandomPeerSelector(t *testing.T) {
	peers := testPeers(6)
	s := NewRandomPeerSelector(append(peers, peers[0]))

	for i := 0; i < 20; i++ {
		got, err := s.SelectPeers(3, []common.Hash{peers[1]})
		require.NoError(t, err)
		require.Len(t, got, 3)
		seen := map[common.Hash]bool{}
		for _, p := range got {
			assert.NotEqual(t, peers[1], p)
			assert.False(t, seen[p], "peer selected twice")
			seen[p] = true
		}
	}

	_, err := s.SelectPeers(6, []common.Hash{peers[1]})
	assert.ErrorIs(t, err, ErrInsufficientPeers)

	_, err = s.SelectPeers(0, nil)
	assert.Error(t, err)
}

func TestPeerFilters(t *testing.T) {
	peers := testPeers(4)
	only := NewFuncFilter("only-0-1", func(p common.Hash) bool {
		return p == peers[0] || p == peers[1]
	})

	s := NewRandomPeerSelector(peers, only)
	got, err := s.SelectPeers(2, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, peers[:2], got)

	s = NewRandomPeerSelector(peers, NewInvertFilter(only))
	got, err = s.SelectPeers(2, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, peers[2:], got)
	assert.Equal(t, "NOT(only-0-1)", NewInvertFilter(only).Name())
}

func TestBuildTunnel(t *testing.T) {
	peers := testPeers(5)
	gateway := peers[0]
	s := NewRandomPeerSelector(peers)

	hopPeers, chain, err := BuildTunnel(s, gateway, 4, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, chain, 4)
	assert.NotContains(t, hopPeers, gateway)
	assert.Equal(t, gateway, chain[0].ReceiveFrom())
	for i := 1; i < len(chain); i++ {
		assert.Equal(t, chain[i-1].SendTunnelID(), chain[i].ReceiveTunnelID())
		assert.Equal(t, hopPeers[i-1], chain[i].ReceiveFrom())
		assert.Equal(t, hopPeers[i], chain[i-1].SendTo())
	}

	_, _, err = BuildTunnel(s, gateway, 5, time.Time{})
	assert.ErrorIs(t, err, ErrInsufficientPeers)
	_, _, err = BuildTunnel(s, gateway, 0, time.Time{})
	assert.ErrorIs(t, err, ErrHopCount)
}
