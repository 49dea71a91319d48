package tunnel

import (
	"encoding/binary"
	"errors"

	"github.com/go-i2p/go-tunnelmsg/lib/crypto"
)

/*
Tunnel message, as it travels between two hops

+----+----+----+----+----+----+----+----+
|    Tunnel ID      |       IV          |
+----+----+----+----+                   +
|                                       |
+                   +----+----+----+----+
|                   |       tag         |
+----+----+----+----+                   +
|                                       |
+                   +----+----+----+----+
|                   |                   |
+----+----+----+----+                   +
|            body (992 bytes)           |
~                                       ~
|                                       |
+----+----+----+----+----+----+----+----+

Tunnel ID :: receiving hop's tunnel id, rewritten at every hop
IV        :: 16 bytes, decrypted once to key the layer and once more to forward
tag       :: 16 byte truncated HMAC over tunnel id, IV and body
body      :: layered ciphertext; each hop decrypts it, promotes its first
             16 bytes to the next tag and appends 16 bytes of pad
*/

const (
	// TunnelMessageSize is the fixed size of every tunnel message.
	TunnelMessageSize = 1028

	tunnelIDOffset = 0
	ivOffset       = 4
	tagOffset      = ivOffset + crypto.TunnelIVSize
	bodyOffset     = tagOffset + crypto.TagSize

	// BodySize is the layered region following the tag.
	BodySize = TunnelMessageSize - bodyOffset

	// MaxHops is the longest supported tunnel.
	MaxHops = 8
)

var (
	// ErrInvalidTunnelData is returned for buffers that are not TunnelMessageSize bytes.
	ErrInvalidTunnelData = errors.New("invalid tunnel message size")
	// ErrIntegrityFailure is returned when a layer's tag does not verify.
	ErrIntegrityFailure = errors.New("tunnel message integrity check failed")
	// ErrUnexpectedPeer is returned when a message arrives from a peer other than the configured previous hop.
	ErrUnexpectedPeer = errors.New("tunnel message from unexpected peer")
	// ErrUnknownTunnel is returned when the tunnel id does not match the hop.
	ErrUnknownTunnel = errors.New("tunnel id does not match hop")
	// ErrHopExpired is returned by hops past their expiration.
	ErrHopExpired = errors.New("hop configuration expired")
	// ErrHopCount is returned for tunnels with no hops or more than MaxHops.
	ErrHopCount = errors.New("invalid hop count")
	// ErrPayloadTooLarge is returned when a gateway payload exceeds EndpointPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large for tunnel message")
)

// TunnelID identifies a tunnel at one hop.
type TunnelID uint32

// EndpointPayloadSize is how many plaintext bytes the endpoint of a tunnel
// with the given hop count recovers. Every hop before the endpoint appends
// PadSize bytes the gateway cannot choose.
func EndpointPayloadSize(hops int) int {
	if hops < 1 || hops > MaxHops {
		return 0
	}
	return BodySize - crypto.PadSize*(hops-1)
}

// messageView gives named access to the regions of a tunnel message.
type messageView []byte

func (m messageView) tunnelID() TunnelID {
	return TunnelID(binary.BigEndian.Uint32(m[tunnelIDOffset:ivOffset]))
}

func (m messageView) setTunnelID(id TunnelID) {
	binary.BigEndian.PutUint32(m[tunnelIDOffset:ivOffset], uint32(id))
}

func (m messageView) iv() crypto.TunnelIV {
	var iv crypto.TunnelIV
	copy(iv[:], m[ivOffset:tagOffset])
	return iv
}

func (m messageView) setIV(iv crypto.TunnelIV) {
	copy(m[ivOffset:tagOffset], iv[:])
}

func (m messageView) tag() crypto.Tag {
	var t crypto.Tag
	copy(t[:], m[tagOffset:bodyOffset])
	return t
}

func (m messageView) setTag(t crypto.Tag) {
	copy(m[tagOffset:bodyOffset], t[:])
}

func (m messageView) body() []byte {
	return m[bodyOffset:]
}
