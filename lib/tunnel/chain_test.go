package tunnel

import (
	"fmt"
	"testing"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainFromSelectedPeers(t *testing.T) {
	gw := common.HashData([]byte("gateway"))
	var pool []common.Hash
	for i := 0; i < 10; i++ {
		pool = append(pool, common.HashData([]byte(fmt.Sprintf("router-%d", i))))
	}
	pool = append(pool, gw)

	peers, hops, err := BuildTunnel(NewRandomPeerSelector(pool), gw, 4, time.Now().Add(time.Minute))
	require.NoError(t, err)
	chain, err := NewChain(gw, peers, hops, nil)
	require.NoError(t, err)

	plain, err := chain.Send([]byte("through four hops"))
	require.NoError(t, err)
	assert.Equal(t, []byte("through four hops"), plain[:17])
}

func TestChainRejectsMismatchedPeers(t *testing.T) {
	gw := common.HashData([]byte("gateway"))
	peers := []common.Hash{common.HashData([]byte("a")), common.HashData([]byte("b"))}
	hops, err := RandomHopChain(gw, peers, time.Time{})
	require.NoError(t, err)

	_, err = NewChain(gw, peers[:1], hops, nil)
	assert.ErrorIs(t, err, ErrHopCount)
}

func TestChainDetectsTamperedMessage(t *testing.T) {
	gw := common.HashData([]byte("gateway"))
	peers := []common.Hash{common.HashData([]byte("a")), common.HashData([]byte("b"))}
	hops, err := RandomHopChain(gw, peers, time.Time{})
	require.NoError(t, err)
	chain, err := NewChain(gw, peers, hops, nil)
	require.NoError(t, err)

	msg, err := chain.Gateway.Build([]byte("payload"))
	require.NoError(t, err)
	msg[len(msg)-1] ^= 0x01
	_, err = chain.Carry(msg)
	assert.ErrorIs(t, err, ErrIntegrityFailure)
}
