package tunnel

import (
	"errors"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-tunnelmsg/lib/crypto"
)

var log = logger.GetGoI2PLogger()

// ErrBrokenChain is returned when a hop's send tunnel id differs from the next hop's receive tunnel id.
var ErrBrokenChain = errors.New("hop chain is not linked")

// Gateway layers plaintext for a whole tunnel so that each hop, in order,
// peels exactly one layer.
//
// Design decisions:
//   - Holds the full ordered hop set; only the tunnel creator has it
//   - Walks the IV chain forward, the way hops will, then builds layers from
//     the endpoint back to the first hop
//   - Predicts each hop's pad so every tag still verifies after the body shifts
type Gateway struct {
	hops []*HopConfig
}

// NewGateway creates a gateway for the ordered hops, first hop first.
func NewGateway(hops []*HopConfig) (*Gateway, error) {
	if len(hops) < 1 || len(hops) > MaxHops {
		return nil, oops.Wrapf(ErrHopCount, "%d hops", len(hops))
	}
	for i, h := range hops {
		if h == nil {
			return nil, oops.Errorf("hop %d is nil", i)
		}
		if i > 0 && hops[i-1].SendTunnelID() != h.ReceiveTunnelID() {
			return nil, oops.Wrapf(ErrBrokenChain, "hop %d sends to %d, hop %d receives on %d",
				i-1, hops[i-1].SendTunnelID(), i, h.ReceiveTunnelID())
		}
	}
	log.WithFields(logger.Fields{
		"at":        "NewGateway",
		"hops":      len(hops),
		"tunnel_id": hops[0].ReceiveTunnelID(),
	}).Debug("Created tunnel gateway")
	return &Gateway{hops: hops}, nil
}

// Hops returns the tunnel length.
func (g *Gateway) Hops() int {
	return len(g.hops)
}

// PayloadSize is the number of plaintext bytes one message carries.
func (g *Gateway) PayloadSize() int {
	return EndpointPayloadSize(len(g.hops))
}

// Build layers payload into a tunnel message for the first hop. Bytes after
// payload, up to PayloadSize, are random.
func (g *Gateway) Build(payload []byte) ([]byte, error) {
	n := len(g.hops)
	usable := EndpointPayloadSize(n)
	if len(payload) > usable {
		return nil, oops.Wrapf(ErrPayloadTooLarge, "%d bytes, limit %d", len(payload), usable)
	}

	ivs, ksIVs, err := g.ivChain()
	if err != nil {
		return nil, err
	}
	keystreams := make([][]byte, n)
	for k, h := range g.hops {
		keystreams[k] = make([]byte, BodySize)
		h.layer.XORKeyStream(keystreams[k], keystreams[k], ksIVs[k])
	}

	// The endpoint's plaintext: payload, random fill, then the bytes the
	// earlier hops' pads will turn into after their layers are removed.
	suffix := g.padSuffix(keystreams, ksIVs)
	plain := make([]byte, BodySize)
	copy(plain, payload)
	if _, err := rand.Read(plain[len(payload):usable]); err != nil {
		return nil, oops.Wrapf(err, "failed to generate payload fill")
	}
	last := keystreams[n-1]
	for j := usable; j < BodySize; j++ {
		plain[j] = suffix[j-usable] ^ last[j]
	}

	body := xorBytes(plain, last)
	tag := g.hops[n-1].layer.Tag(uint32(g.hops[n-1].ReceiveTunnelID()), ivs[n-1], body)
	for k := n - 2; k >= 0; k-- {
		inner := make([]byte, BodySize)
		copy(inner, tag[:])
		copy(inner[crypto.TagSize:], body[:BodySize-crypto.PadSize])
		body = xorBytes(inner, keystreams[k])
		tag = g.hops[k].layer.Tag(uint32(g.hops[k].ReceiveTunnelID()), ivs[k], body)
	}

	msg := messageView(make([]byte, TunnelMessageSize))
	msg.setTunnelID(g.hops[0].ReceiveTunnelID())
	msg.setIV(ivs[0])
	msg.setTag(tag)
	copy(msg.body(), body)
	return msg, nil
}

// ivChain picks a random IV and computes, for every hop, the IV it receives
// and the IV that keys its layer.
func (g *Gateway) ivChain() (ivs, ksIVs []crypto.TunnelIV, err error) {
	n := len(g.hops)
	ivs = make([]crypto.TunnelIV, n)
	ksIVs = make([]crypto.TunnelIV, n)
	if _, err := rand.Read(ivs[0][:]); err != nil {
		return nil, nil, oops.Wrapf(err, "failed to generate IV")
	}
	for k, h := range g.hops {
		ksIVs[k] = h.layer.DecryptIV(ivs[k])
		if k+1 < n {
			ivs[k+1] = h.layer.DecryptIV(ksIVs[k])
		}
	}
	return ivs, ksIVs, nil
}

// padSuffix returns the tail of the body that reaches the endpoint, which
// is fixed by the pads of all earlier hops.
func (g *Gateway) padSuffix(keystreams [][]byte, ksIVs []crypto.TunnelIV) []byte {
	var suffix []byte
	for k := 1; k < len(g.hops); k++ {
		prev := keystreams[k-1]
		next := make([]byte, len(suffix)+crypto.PadSize)
		for j := range suffix {
			next[j] = suffix[j] ^ prev[BodySize-len(suffix)+j]
		}
		pad := g.hops[k-1].layer.Pad(ksIVs[k-1])
		copy(next[len(suffix):], pad[:])
		suffix = next
	}
	return suffix
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
