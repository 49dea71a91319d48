package tunnel

import (
	common "github.com/go-i2p/common/data"
	"github.com/samber/oops"

	"github.com/go-i2p/go-tunnelmsg/lib/util/time/monotonic"
)

// Chain is a whole tunnel held in one process: the gateway, every
// participant and the endpoint. It carries messages hop by hop without a
// transport, checking that each hop forwards to the next selected peer.
type Chain struct {
	Gateway      *Gateway
	gatewayPeer  common.Hash
	peers        []common.Hash
	participants []*Participant
	endpoint     *Endpoint
}

// NewChain wires the hop configs returned by BuildTunnel into a Chain.
func NewChain(gatewayPeer common.Hash, peers []common.Hash, hops []*HopConfig, clock monotonic.TimeSource) (*Chain, error) {
	if len(peers) != len(hops) {
		return nil, oops.Wrapf(ErrHopCount, "%d peers for %d hops", len(peers), len(hops))
	}
	gw, err := NewGateway(hops)
	if err != nil {
		return nil, err
	}
	c := &Chain{Gateway: gw, gatewayPeer: gatewayPeer, peers: peers}
	last := len(hops) - 1
	for _, h := range hops[:last] {
		p, err := NewParticipant(h, clock)
		if err != nil {
			return nil, err
		}
		c.participants = append(c.participants, p)
	}
	if c.endpoint, err = NewEndpoint(hops[last], clock); err != nil {
		return nil, err
	}
	return c, nil
}

// Carry passes msg through every hop and returns the endpoint plaintext.
func (c *Chain) Carry(msg []byte) ([]byte, error) {
	from := c.gatewayPeer
	for i, p := range c.participants {
		next, out, err := p.Process(from, msg)
		if err != nil {
			return nil, err
		}
		if next != c.peers[i+1] {
			return nil, oops.Errorf("hop %d forwarded to %s, expected %s", i, next, c.peers[i+1])
		}
		from, msg = c.peers[i], out
	}
	return c.endpoint.Process(from, msg)
}

// Send builds a tunnel message from payload at the gateway and carries it
// to the endpoint.
func (c *Chain) Send(payload []byte) ([]byte, error) {
	msg, err := c.Gateway.Build(payload)
	if err != nil {
		return nil, err
	}
	return c.Carry(msg)
}
