package packet

import (
	"encoding/binary"

	common "github.com/go-i2p/common/data"
	"github.com/samber/oops"
)

// Destination is a serialized peer destination: public keys and certificate.
type Destination [DestinationSize]byte

// Hash returns the SHA-256 hash that identifies the peer.
func (d Destination) Hash() common.Hash {
	return common.HashData(d[:])
}

// PeerList answers a PeerListRequest or FindClosePeers.
//
//	[1 type][2 count][count x 384 destination]
type PeerList struct {
	Peers []Destination
}

func (p *PeerList) DataType() DataType { return TypePeerList }

func (p *PeerList) Marshal() ([]byte, error) {
	if len(p.Peers) > MaxFieldLength {
		return nil, oops.Wrapf(ErrFieldTooLong, "peer list has %d entries", len(p.Peers))
	}
	buf := make([]byte, 0, 3+len(p.Peers)*DestinationSize)
	buf = append(buf, byte(TypePeerList))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Peers)))
	for i := range p.Peers {
		buf = append(buf, p.Peers[i][:]...)
	}
	return buf, nil
}

func parsePeerList(r *reader) (DataPacket, error) {
	count := int(r.u16("peer count"))
	raw := r.take(count*DestinationSize, "peers")
	if r.err != nil {
		return nil, r.err
	}
	p := &PeerList{Peers: make([]Destination, count)}
	for i := range p.Peers {
		copy(p.Peers[i][:], raw[i*DestinationSize:])
	}
	return p, nil
}
