package packet

import "errors"

// PacketPrefix is the magic that starts every communication packet.
var PacketPrefix = [4]byte{0x6D, 0x30, 0x52, 0xE9}

const (
	// ProtocolVersion is the only communication packet version understood.
	ProtocolVersion byte = 1

	// PrefixSize is the length of PacketPrefix.
	PrefixSize = 4
	// HeaderSize covers prefix, type, version and packet id.
	HeaderSize = PrefixSize + 1 + 1 + 32

	// HashSize is the length of DHT keys and peer hashes.
	HashSize = 32
	// DestinationSize is the length of a serialized peer destination.
	DestinationSize = 384
	// XORKeySize is the length of a relay packet obfuscation key.
	XORKeySize = 32

	// MaxDatagramSize is the largest encoded packet the transport carries.
	MaxDatagramSize = 31 * 1024
	// MaxFieldLength is the largest value a two byte length prefix can hold.
	MaxFieldLength = 0xFFFF
	// MaxIndexKeys is the largest key count an index packet can hold.
	MaxIndexKeys = 0xFF
)

// CommType identifies a communication packet variant.
type CommType byte

const (
	TypeRelayRequest    CommType = 'R'
	TypeResponse        CommType = 'N'
	TypePeerListRequest CommType = 'A'
	TypeRetrieveRequest CommType = 'Q'
	TypeStoreRequest    CommType = 'S'
	TypeDeletionRequest CommType = 'D'
	TypeFindClosePeers  CommType = 'F'
)

// DataType identifies a data packet variant.
type DataType byte

const (
	TypeEmail    DataType = 'E'
	TypeIndex    DataType = 'I'
	TypePeerList DataType = 'L'
	TypeRelay    DataType = 'R'
)

// StatusCode is the result carried by a ResponsePacket.
type StatusCode byte

const (
	StatusOK StatusCode = iota
	StatusGeneralError
	StatusNoDataFound
	StatusInvalidPacket
	StatusInvalidHashcash
	StatusInsufficientHashcash
	StatusNoDiskSpace
)

var statusNames = map[StatusCode]string{
	StatusOK:                   "OK",
	StatusGeneralError:         "GENERAL_ERROR",
	StatusNoDataFound:          "NO_DATA_FOUND",
	StatusInvalidPacket:        "INVALID_PACKET",
	StatusInvalidHashcash:      "INVALID_HASHCASH",
	StatusInsufficientHashcash: "INSUFFICIENT_HASHCASH",
	StatusNoDiskSpace:          "NO_DISK_SPACE",
}

func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Sentinel errors use errors.New so callers can match them with errors.Is
// through any oops wrapping.
var (
	// ErrMalformedPacket covers truncated buffers, bad magic, bad version and bad lengths.
	ErrMalformedPacket = errors.New("malformed packet")
	// ErrRejectedFormat is returned for a type code outside the registered set.
	ErrRejectedFormat = errors.New("unrecognized packet type")
	// ErrTooBig is returned when an encoded packet exceeds MaxDatagramSize.
	ErrTooBig = errors.New("packet exceeds maximum datagram size")
	// ErrFieldTooLong is returned when a variable field overflows its length prefix.
	ErrFieldTooLong = errors.New("field exceeds length prefix")
	// ErrInvalidFragment is returned when an email packet's index and count disagree.
	ErrInvalidFragment = errors.New("fragment index out of range")
	// ErrNilCipher is returned when an email packet is built or opened without a cipher.
	ErrNilCipher = errors.New("cipher cannot be nil")
)
