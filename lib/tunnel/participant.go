package tunnel

import (
	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-tunnelmsg/lib/crypto"
	"github.com/go-i2p/go-tunnelmsg/lib/util/time/monotonic"
)

// Participant is an intermediate hop. It removes one layer from each
// message and forwards the result to the next hop.
//
// Design decisions:
// - Holds only the immutable HopConfig; Process never mutates shared state
// - Never modifies the input buffer
// - Every failure is a drop: the caller logs nothing further and does not retry
type Participant struct {
	hop   *HopConfig
	clock monotonic.TimeSource
}

// NewParticipant creates a participant for hop. A nil clock uses the system clock.
func NewParticipant(hop *HopConfig, clock monotonic.TimeSource) (*Participant, error) {
	if hop == nil {
		return nil, oops.Errorf("hop config cannot be nil")
	}
	return &Participant{hop: hop, clock: monotonic.OrSystem(clock)}, nil
}

// Process checks and peels one layer of msg, received from peer. It returns
// the peer to forward to and the message to send.
func (p *Participant) Process(from common.Hash, msg []byte) (common.Hash, []byte, error) {
	m, decrypted, ksIV, err := peel(p.hop, p.clock, from, msg, "Participant.Process")
	if err != nil {
		return common.Hash{}, nil, err
	}

	out := messageView(make([]byte, TunnelMessageSize))
	out.setTunnelID(p.hop.SendTunnelID())
	out.setIV(p.hop.layer.DecryptIV(ksIV))
	copy(out[tagOffset:bodyOffset], decrypted[:crypto.TagSize])
	copy(out.body(), decrypted[crypto.TagSize:])
	pad := p.hop.layer.Pad(ksIV)
	copy(out.body()[BodySize-crypto.PadSize:], pad[:])

	log.WithFields(logger.Fields{
		"at":             "Participant.Process",
		"tunnel_id":      m.tunnelID(),
		"next_tunnel_id": p.hop.SendTunnelID(),
	}).Debug("Forwarding tunnel message")
	return p.hop.SendTo(), out, nil
}

// peel runs the checks shared by participants and endpoints and returns the
// decrypted body along with the IV that keyed it.
func peel(hop *HopConfig, clock monotonic.TimeSource, from common.Hash, msg []byte, at string) (messageView, []byte, crypto.TunnelIV, error) {
	if len(msg) != TunnelMessageSize {
		return nil, nil, crypto.TunnelIV{}, drop(at, hop, oops.Wrapf(ErrInvalidTunnelData, "got %d bytes", len(msg)))
	}
	if hop.IsExpired(clock.Now()) {
		return nil, nil, crypto.TunnelIV{}, drop(at, hop, ErrHopExpired)
	}
	m := messageView(msg)
	if m.tunnelID() != hop.ReceiveTunnelID() {
		return nil, nil, crypto.TunnelIV{}, drop(at, hop, oops.Wrapf(ErrUnknownTunnel, "got %d", m.tunnelID()))
	}
	if !hop.acceptsFrom(from) {
		return nil, nil, crypto.TunnelIV{}, drop(at, hop, ErrUnexpectedPeer)
	}
	iv := m.iv()
	if !hop.layer.VerifyTag(uint32(m.tunnelID()), iv, m.body(), m.tag()) {
		return nil, nil, crypto.TunnelIV{}, drop(at, hop, ErrIntegrityFailure)
	}

	ksIV := hop.layer.DecryptIV(iv)
	decrypted := make([]byte, BodySize)
	hop.layer.XORKeyStream(decrypted, m.body(), ksIV)
	return m, decrypted, ksIV, nil
}

func drop(at string, hop *HopConfig, err error) error {
	log.WithFields(logger.Fields{
		"at":        at,
		"tunnel_id": hop.ReceiveTunnelID(),
		"reason":    err.Error(),
	}).Warn("Dropping tunnel message")
	return err
}
