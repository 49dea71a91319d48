package packet

import (
	"encoding/binary"
	"time"

	"github.com/go-i2p/crypto/rand"
	"github.com/samber/oops"
)

/*
Relay packet

+----+----+----+----+----+----+----+----+
|type| earliest (ms)     | latest (ms)  |
+----+----+----+----+----+----+----+----+
|    |         XOR key (32)             |
~                                       ~
+    +----+----+----+----+----+----+----+
|    |   next hop destination (384)     |
~                                       ~
+    +----+----+----+----+----+----+----+
|    | length  | obfuscated payload ...
+----+----+----+----+----+----+----+

earliest, latest :: delay window in milliseconds, counted from the moment
                    the relay receives the packet
payload          :: the next hop's packet XORed with the key repeated
*/

// RelayPacket asks a relay to hold Payload for a random delay inside the
// send window and forward it to NextHop.
type RelayPacket struct {
	EarliestSend time.Duration
	LatestSend   time.Duration
	XORKey       [XORKeySize]byte
	NextHop      Destination
	// Payload is kept obfuscated, exactly as it travels on the wire.
	Payload []byte
}

// NewRelayPacket obfuscates inner under a fresh random key.
func NewRelayPacket(inner []byte, nextHop Destination, earliest, latest time.Duration) (*RelayPacket, error) {
	if earliest < 0 || latest < earliest {
		return nil, oops.Errorf("invalid send window [%s, %s]", earliest, latest)
	}
	if latest/time.Millisecond > 0xFFFFFFFF {
		return nil, oops.Errorf("send window %s does not fit in 32 bits of milliseconds", latest)
	}
	if len(inner) > MaxFieldLength {
		return nil, oops.Wrapf(ErrFieldTooLong, "relay payload is %d bytes", len(inner))
	}
	p := &RelayPacket{
		EarliestSend: earliest,
		LatestSend:   latest,
		NextHop:      nextHop,
	}
	if _, err := rand.Read(p.XORKey[:]); err != nil {
		return nil, oops.Wrapf(err, "failed to generate relay key")
	}
	p.Payload = p.xor(inner)
	return p, nil
}

// Unwrap returns the de-obfuscated payload.
func (p *RelayPacket) Unwrap() []byte {
	return p.xor(p.Payload)
}

func (p *RelayPacket) xor(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ p.XORKey[i%XORKeySize]
	}
	return out
}

func (p *RelayPacket) DataType() DataType { return TypeRelay }

func (p *RelayPacket) Marshal() ([]byte, error) {
	buf := make([]byte, 0, 1+8+XORKeySize+DestinationSize+2+len(p.Payload))
	buf = append(buf, byte(TypeRelay))
	buf = binary.BigEndian.AppendUint32(buf, uint32(p.EarliestSend/time.Millisecond))
	buf = binary.BigEndian.AppendUint32(buf, uint32(p.LatestSend/time.Millisecond))
	buf = append(buf, p.XORKey[:]...)
	buf = append(buf, p.NextHop[:]...)
	return appendBlob(buf, p.Payload, "relay payload")
}

func parseRelayPacket(r *reader) (DataPacket, error) {
	earliest := r.u32("earliest send")
	latest := r.u32("latest send")
	key := r.take(XORKeySize, "xor key")
	next := r.take(DestinationSize, "next hop")
	payload := r.blob("relay payload")
	if r.err != nil {
		return nil, r.err
	}
	if latest < earliest {
		return nil, oops.Wrapf(ErrMalformedPacket, "send window [%d, %d] is inverted", earliest, latest)
	}
	p := &RelayPacket{
		EarliestSend: time.Duration(earliest) * time.Millisecond,
		LatestSend:   time.Duration(latest) * time.Millisecond,
		Payload:      payload,
	}
	copy(p.XORKey[:], key)
	copy(p.NextHop[:], next)
	return p, nil
}
