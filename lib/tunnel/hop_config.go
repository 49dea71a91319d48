package tunnel

import (
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/crypto/rand"
	"github.com/samber/oops"

	"github.com/go-i2p/go-tunnelmsg/lib/crypto"
)

// HopParams are the inputs of NewHopConfig, normally taken from a tunnel
// build record.
type HopParams struct {
	LayerKey        crypto.TunnelKey
	IVKey           crypto.TunnelKey
	ReceiveTunnelID TunnelID
	SendTunnelID    TunnelID
	// ReceiveFrom is the previous hop. The zero hash accepts any peer,
	// which is how a gateway's first hop is configured.
	ReceiveFrom common.Hash
	SendTo      common.Hash
	Expiration  time.Time
}

// HopConfig is the immutable key material and routing of one hop. It is
// built once per tunnel lifetime and shared by reference; all methods are
// safe for concurrent use.
type HopConfig struct {
	params HopParams
	layer  *crypto.Layer
}

// NewHopConfig builds the layer ciphers for p.
func NewHopConfig(p HopParams) (*HopConfig, error) {
	layer, err := crypto.NewLayer(p.LayerKey, p.IVKey)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to create hop layer for tunnel %d", p.ReceiveTunnelID)
	}
	return &HopConfig{params: p, layer: layer}, nil
}

func (h *HopConfig) ReceiveTunnelID() TunnelID { return h.params.ReceiveTunnelID }
func (h *HopConfig) SendTunnelID() TunnelID    { return h.params.SendTunnelID }
func (h *HopConfig) ReceiveFrom() common.Hash  { return h.params.ReceiveFrom }
func (h *HopConfig) SendTo() common.Hash       { return h.params.SendTo }
func (h *HopConfig) Expiration() time.Time     { return h.params.Expiration }

// IsExpired reports whether the hop has passed its expiration at now.
// A zero expiration never expires.
func (h *HopConfig) IsExpired(now time.Time) bool {
	return !h.params.Expiration.IsZero() && !now.Before(h.params.Expiration)
}

// acceptsFrom reports whether peer may send to this hop.
func (h *HopConfig) acceptsFrom(peer common.Hash) bool {
	return h.params.ReceiveFrom == (common.Hash{}) || h.params.ReceiveFrom == peer
}

// RandomHopChain builds n linked hops with fresh keys and tunnel ids. The
// previous hop of hop 0 is gateway; peers[i] is the identity of hop i.
func RandomHopChain(gateway common.Hash, peers []common.Hash, expiration time.Time) ([]*HopConfig, error) {
	if len(peers) < 1 || len(peers) > MaxHops {
		return nil, oops.Wrapf(ErrHopCount, "%d hops", len(peers))
	}
	ids := make([]TunnelID, len(peers)+1)
	for i := range ids {
		var b [4]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, oops.Wrapf(err, "failed to generate tunnel id")
		}
		ids[i] = TunnelID(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
	}

	hops := make([]*HopConfig, len(peers))
	for i := range peers {
		p := HopParams{
			ReceiveTunnelID: ids[i],
			SendTunnelID:    ids[i+1],
			ReceiveFrom:     gateway,
			Expiration:      expiration,
		}
		if i > 0 {
			p.ReceiveFrom = peers[i-1]
		}
		if i+1 < len(peers) {
			p.SendTo = peers[i+1]
		}
		if _, err := rand.Read(p.LayerKey[:]); err != nil {
			return nil, oops.Wrapf(err, "failed to generate layer key")
		}
		if _, err := rand.Read(p.IVKey[:]); err != nil {
			return nil, oops.Wrapf(err, "failed to generate IV key")
		}
		hop, err := NewHopConfig(p)
		if err != nil {
			return nil, err
		}
		hops[i] = hop
	}
	return hops, nil
}
