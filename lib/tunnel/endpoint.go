package tunnel

import (
	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-tunnelmsg/lib/util/time/monotonic"
)

// Endpoint is the last hop of a tunnel. It removes the final layer and
// hands the plaintext body on.
type Endpoint struct {
	hop   *HopConfig
	clock monotonic.TimeSource
}

// NewEndpoint creates an endpoint for hop. A nil clock uses the system clock.
func NewEndpoint(hop *HopConfig, clock monotonic.TimeSource) (*Endpoint, error) {
	if hop == nil {
		return nil, oops.Errorf("hop config cannot be nil")
	}
	return &Endpoint{hop: hop, clock: monotonic.OrSystem(clock)}, nil
}

// Process checks and decrypts msg, received from peer, and returns the
// BodySize plaintext. Only the first EndpointPayloadSize(hops) bytes were
// chosen by the gateway; the rest is pad.
func (e *Endpoint) Process(from common.Hash, msg []byte) ([]byte, error) {
	m, plaintext, _, err := peel(e.hop, e.clock, from, msg, "Endpoint.Process")
	if err != nil {
		return nil, err
	}
	log.WithFields(logger.Fields{
		"at":        "Endpoint.Process",
		"tunnel_id": m.tunnelID(),
	}).Debug("Decrypted tunnel message at endpoint")
	return plaintext, nil
}
