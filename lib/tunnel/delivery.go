package tunnel

import (
	"encoding/binary"
	"errors"

	common "github.com/go-i2p/common/data"
	"github.com/samber/oops"
)

/*
First fragment delivery instructions

+----+----+----+----+----+----+----+----+
|flag|  Tunnel ID (opt)  |              |
+----+----+----+----+----+              +
|          To Hash (optional)           |
~                                       ~
|                        +--------------+
|                        | Message ID   |
+----+----+----+----+----+----+----+----+
 (opt)    |  size   |
+----+----+----+----+

flag :: 0ttdfe00
        t: delivery type, 0 LOCAL, 1 TUNNEL, 2 ROUTER
        d: a delay byte follows the hash (skipped when read)
        f: fragmented, a message id follows
        e: extended options follow, one length byte then data (skipped when read)

Follow-on fragment delivery instructions

+----+----+----+----+----+----+----+
|frag|     Message ID    |  size   |
+----+----+----+----+----+----+----+

frag :: 1nnnnnnl
        n: fragment number, 1 to 63
        l: last fragment
*/

// DeliveryType says where the endpoint sends a reassembled message.
type DeliveryType byte

const (
	DeliveryLocal DeliveryType = iota
	DeliveryTunnel
	DeliveryRouter
	deliveryUnused
)

func (t DeliveryType) String() string {
	switch t {
	case DeliveryLocal:
		return "LOCAL"
	case DeliveryTunnel:
		return "TUNNEL"
	case DeliveryRouter:
		return "ROUTER"
	default:
		return "INVALID"
	}
}

const (
	flagFollowOn   = 0x80
	maskType       = 0x60
	flagDelay      = 0x10
	flagFragmented = 0x08
	flagExtended   = 0x04
	maskFragNum    = 0x7E
	flagLast       = 0x01

	// MaxFragmentNumber is the highest follow-on fragment number.
	MaxFragmentNumber = 63

	flagSize                 = 1
	tunnelIDSize             = 4
	hashSize                 = 32
	messageIDSize            = 4
	sizeFieldSize            = 2
	followOnInstructionsSize = flagSize + messageIDSize + sizeFieldSize
)

// ErrInvalidDeliveryInstructions is returned for truncated or contradictory instructions.
var ErrInvalidDeliveryInstructions = errors.New("invalid delivery instructions")

// DeliveryConfig is the destination of a message leaving the tunnel.
type DeliveryConfig struct {
	Type     DeliveryType
	TunnelID TunnelID    // DeliveryTunnel only
	Hash     common.Hash // gateway router for DeliveryTunnel, router for DeliveryRouter
}

// LocalDelivery delivers to the endpoint itself.
func LocalDelivery() DeliveryConfig {
	return DeliveryConfig{Type: DeliveryLocal}
}

func (d DeliveryConfig) validate() error {
	if d.Type >= deliveryUnused {
		return oops.Wrapf(ErrInvalidDeliveryInstructions, "delivery type %d", d.Type)
	}
	return nil
}

// DeliveryInstructions precede each fragment inside a preprocessed block.
type DeliveryInstructions struct {
	FollowOn bool
	// Delivery and Fragmented apply to first fragments only.
	Delivery   DeliveryConfig
	Fragmented bool
	MessageID  uint32
	// FragmentNumber is 0 for first fragments.
	FragmentNumber int
	// Last applies to follow-on fragments only.
	Last bool
	Size uint16
}

// firstInstructionsSize is the encoded length of first fragment
// instructions for d.
func firstInstructionsSize(d DeliveryConfig, fragmented bool) int {
	n := flagSize + sizeFieldSize
	switch d.Type {
	case DeliveryTunnel:
		n += tunnelIDSize + hashSize
	case DeliveryRouter:
		n += hashSize
	}
	if fragmented {
		n += messageIDSize
	}
	return n
}

// Len returns the encoded length.
func (di *DeliveryInstructions) Len() int {
	if di.FollowOn {
		return followOnInstructionsSize
	}
	return firstInstructionsSize(di.Delivery, di.Fragmented)
}

// AppendTo encodes di onto dst.
func (di *DeliveryInstructions) AppendTo(dst []byte) ([]byte, error) {
	if di.FollowOn {
		if di.FragmentNumber < 1 || di.FragmentNumber > MaxFragmentNumber {
			return nil, oops.Wrapf(ErrInvalidDeliveryInstructions, "fragment number %d", di.FragmentNumber)
		}
		flag := byte(flagFollowOn) | byte(di.FragmentNumber<<1)&maskFragNum
		if di.Last {
			flag |= flagLast
		}
		dst = append(dst, flag)
		dst = binary.BigEndian.AppendUint32(dst, di.MessageID)
		return binary.BigEndian.AppendUint16(dst, di.Size), nil
	}

	if err := di.Delivery.validate(); err != nil {
		return nil, err
	}
	flag := byte(di.Delivery.Type) << 5 & maskType
	if di.Fragmented {
		flag |= flagFragmented
	}
	dst = append(dst, flag)
	if di.Delivery.Type == DeliveryTunnel {
		dst = binary.BigEndian.AppendUint32(dst, uint32(di.Delivery.TunnelID))
	}
	if di.Delivery.Type == DeliveryTunnel || di.Delivery.Type == DeliveryRouter {
		dst = append(dst, di.Delivery.Hash[:]...)
	}
	if di.Fragmented {
		dst = binary.BigEndian.AppendUint32(dst, di.MessageID)
	}
	return binary.BigEndian.AppendUint16(dst, di.Size), nil
}

// readDeliveryInstructions parses instructions from the front of data and
// returns the bytes that follow them.
func readDeliveryInstructions(data []byte) (*DeliveryInstructions, []byte, error) {
	if len(data) < 1 {
		return nil, nil, oops.Wrapf(ErrInvalidDeliveryInstructions, "no data")
	}
	flag := data[0]
	di := &DeliveryInstructions{}

	if flag&flagFollowOn != 0 {
		if len(data) < followOnInstructionsSize {
			return nil, nil, oops.Wrapf(ErrInvalidDeliveryInstructions, "follow-on needs %d bytes, have %d",
				followOnInstructionsSize, len(data))
		}
		di.FollowOn = true
		di.FragmentNumber = int(flag&maskFragNum) >> 1
		di.Last = flag&flagLast != 0
		di.MessageID = binary.BigEndian.Uint32(data[1:5])
		di.Size = binary.BigEndian.Uint16(data[5:7])
		if di.FragmentNumber == 0 {
			return nil, nil, oops.Wrapf(ErrInvalidDeliveryInstructions, "follow-on fragment number 0")
		}
		return di, data[followOnInstructionsSize:], nil
	}

	di.Delivery.Type = DeliveryType((flag & maskType) >> 5)
	di.Fragmented = flag&flagFragmented != 0
	if err := di.Delivery.validate(); err != nil {
		return nil, nil, err
	}

	off := flagSize
	need := func(n int, field string) error {
		if len(data) < off+n {
			return oops.Wrapf(ErrInvalidDeliveryInstructions, "truncated %s", field)
		}
		return nil
	}
	if di.Delivery.Type == DeliveryTunnel {
		if err := need(tunnelIDSize, "tunnel id"); err != nil {
			return nil, nil, err
		}
		di.Delivery.TunnelID = TunnelID(binary.BigEndian.Uint32(data[off:]))
		off += tunnelIDSize
	}
	if di.Delivery.Type == DeliveryTunnel || di.Delivery.Type == DeliveryRouter {
		if err := need(hashSize, "hash"); err != nil {
			return nil, nil, err
		}
		copy(di.Delivery.Hash[:], data[off:off+hashSize])
		off += hashSize
	}
	if flag&flagDelay != 0 {
		if err := need(1, "delay"); err != nil {
			return nil, nil, err
		}
		off++
	}
	if di.Fragmented {
		if err := need(messageIDSize, "message id"); err != nil {
			return nil, nil, err
		}
		di.MessageID = binary.BigEndian.Uint32(data[off:])
		off += messageIDSize
	}
	if flag&flagExtended != 0 {
		if err := need(1, "extended options length"); err != nil {
			return nil, nil, err
		}
		extLen := int(data[off])
		off++
		if err := need(extLen, "extended options"); err != nil {
			return nil, nil, err
		}
		off += extLen
	}
	if err := need(sizeFieldSize, "size"); err != nil {
		return nil, nil, err
	}
	di.Size = binary.BigEndian.Uint16(data[off:])
	off += sizeFieldSize
	return di, data[off:], nil
}
