package sendqueue

import (
	"context"
	"errors"
	"sync"

	common "github.com/go-i2p/common/data"
	"github.com/samber/oops"
)

// ErrUnknownPeer is returned by LoopbackNetwork for peers that are not attached.
var ErrUnknownPeer = errors.New("unknown peer")

// Transport moves encoded packets to a peer.
type Transport interface {
	SendBytes(ctx context.Context, peer common.Hash, b []byte) error
}

// Receiver handles bytes arriving from a peer.
type Receiver func(from common.Hash, b []byte)

// LoopbackNetwork connects in-process nodes. Delivery is synchronous and
// each receiver gets its own copy of the bytes.
type LoopbackNetwork struct {
	mu    sync.RWMutex
	nodes map[common.Hash]Receiver
}

// NewLoopbackNetwork creates an empty network.
func NewLoopbackNetwork() *LoopbackNetwork {
	return &LoopbackNetwork{nodes: make(map[common.Hash]Receiver)}
}

// Attach registers r as the receiver for peer, replacing any earlier one.
func (n *LoopbackNetwork) Attach(peer common.Hash, r Receiver) {
	n.mu.Lock()
	n.nodes[peer] = r
	n.mu.Unlock()
}

// Detach removes peer.
func (n *LoopbackNetwork) Detach(peer common.Hash) {
	n.mu.Lock()
	delete(n.nodes, peer)
	n.mu.Unlock()
}

// Transport returns the transport peer self sends through.
func (n *LoopbackNetwork) Transport(self common.Hash) *LoopbackTransport {
	return &LoopbackTransport{network: n, self: self}
}

// LoopbackTransport is one node's view of a LoopbackNetwork.
type LoopbackTransport struct {
	network *LoopbackNetwork
	self    common.Hash
}

func (t *LoopbackTransport) SendBytes(ctx context.Context, peer common.Hash, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.network.mu.RLock()
	r, ok := t.network.nodes[peer]
	t.network.mu.RUnlock()
	if !ok {
		return oops.Wrapf(ErrUnknownPeer, "%x", peer[:4])
	}
	r(t.self, append([]byte(nil), b...))
	return nil
}

var _ Transport = (*LoopbackTransport)(nil)
