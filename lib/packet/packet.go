package packet

import (
	"bytes"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-tunnelmsg/lib/common/uniqueid"
)

var log = logger.GetGoI2PLogger()

// Packet is any encodable wire structure.
type Packet interface {
	Marshal() ([]byte, error)
}

// CommunicationPacket is a packet exchanged directly between peers.
type CommunicationPacket interface {
	Packet
	CommType() CommType
	PacketID() uniqueid.UniqueId
}

// DataPacket is a payload packet, discriminated by its first byte.
type DataPacket interface {
	Packet
	DataType() DataType
}

// Decode parses either packet family. Buffers starting with PacketPrefix are
// communication packets, all others data packets.
func Decode(b []byte) (Packet, error) {
	if IsCommunicationPacket(b) {
		return DecodeCommunication(b)
	}
	return DecodeData(b)
}

// IsCommunicationPacket reports whether b starts with the magic prefix.
func IsCommunicationPacket(b []byte) bool {
	return len(b) >= PrefixSize && bytes.Equal(b[:PrefixSize], PacketPrefix[:])
}

// DecodeCommunication parses a communication packet and validates its header.
func DecodeCommunication(b []byte) (CommunicationPacket, error) {
	r := newReader(b)
	hdr, err := readHeader(r)
	if err != nil {
		logReject("DecodeCommunication", len(b), err)
		return nil, err
	}

	var pkt CommunicationPacket
	switch hdr.Type {
	case TypeRelayRequest:
		pkt, err = parseRelayRequest(hdr, r)
	case TypeResponse:
		pkt, err = parseResponse(hdr, r)
	case TypePeerListRequest:
		pkt = &PeerListRequest{ID: hdr.ID}
	case TypeRetrieveRequest:
		pkt, err = parseRetrieveRequest(hdr, r)
	case TypeStoreRequest:
		pkt, err = parseStoreRequest(hdr, r)
	case TypeDeletionRequest:
		pkt, err = parseDeletionRequest(hdr, r)
	case TypeFindClosePeers:
		pkt, err = parseFindClosePeers(hdr, r)
	default:
		err = oops.Wrapf(ErrRejectedFormat, "communication type code 0x%02x", byte(hdr.Type))
	}
	if err != nil {
		logReject("DecodeCommunication", len(b), err)
		return nil, err
	}

	warnTrailing("DecodeCommunication", string(rune(hdr.Type)), r)
	return pkt, nil
}

// DecodeData parses a data packet by its leading type code.
func DecodeData(b []byte) (DataPacket, error) {
	pkt, r, err := decodeData(b)
	if err != nil {
		logReject("DecodeData", len(b), err)
		return nil, err
	}
	warnTrailing("DecodeData", string(rune(pkt.DataType())), r)
	return pkt, nil
}

func decodeData(b []byte) (DataPacket, *reader, error) {
	r := newReader(b)
	code := DataType(r.u8("data type"))
	if r.err != nil {
		return nil, r, r.err
	}

	var (
		pkt DataPacket
		err error
	)
	switch code {
	case TypeEmail:
		pkt, err = parseEmailPacket(r)
	case TypeIndex:
		pkt, err = parseIndexPacket(r)
	case TypePeerList:
		pkt, err = parsePeerList(r)
	case TypeRelay:
		pkt, err = parseRelayPacket(r)
	default:
		err = oops.Wrapf(ErrRejectedFormat, "data type code 0x%02x", byte(code))
	}
	return pkt, r, err
}

// IsTooBig reports whether p encodes to more than MaxDatagramSize bytes.
// A packet that cannot be encoded at all is also reported as too big.
func IsTooBig(p Packet) bool {
	b, err := p.Marshal()
	if err != nil {
		return true
	}
	return len(b) > MaxDatagramSize
}

// CheckSize returns ErrTooBig when an encoded packet would not fit a datagram.
func CheckSize(b []byte) error {
	if len(b) > MaxDatagramSize {
		return oops.Wrapf(ErrTooBig, "%d bytes, limit %d", len(b), MaxDatagramSize)
	}
	return nil
}

func warnTrailing(at, kind string, r *reader) {
	if extra := len(r.rest()); extra > 0 {
		log.WithFields(logger.Fields{
			"at":          at,
			"packet_type": kind,
			"extra_bytes": extra,
			"reason":      "trailing bytes after packet",
		}).Warn("Ignoring trailing bytes")
	}
}

func logReject(at string, size int, err error) {
	log.WithFields(logger.Fields{
		"at":     at,
		"size":   size,
		"reason": "malformed or unknown packet",
	}).WithError(err).Warn("Rejected packet")
}
