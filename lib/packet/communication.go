package packet

import (
	common "github.com/go-i2p/common/data"
	"github.com/samber/oops"

	"github.com/go-i2p/go-tunnelmsg/lib/common/uniqueid"
)

/*
Communication packet header

+----+----+----+----+----+----+----+----+
|       prefix      |type|ver |         |
+----+----+----+----+----+----+         +
|                                       |
+                                       +
|              packet id                |
+                                       +
|                                       |
+                             +----+----+
|                             | ...
+----+----+----+----+----+----+

prefix :: 6D 30 52 E9
type   :: 1 byte, one of the CommType codes
ver    :: 1 byte, ProtocolVersion
id     :: 32 byte UniqueId; a ResponsePacket repeats the id of the request
*/

// Header is the fixed part shared by all communication packets.
type Header struct {
	Type CommType
	ID   uniqueid.UniqueId
}

func readHeader(r *reader) (Header, error) {
	prefix := r.take(PrefixSize, "prefix")
	code := r.u8("type")
	version := r.u8("version")
	id := r.take(uniqueid.Length, "packet id")
	if r.err != nil {
		return Header{}, r.err
	}
	if [PrefixSize]byte(prefix) != PacketPrefix {
		return Header{}, oops.Wrapf(ErrMalformedPacket, "bad prefix %x", prefix)
	}
	if version != ProtocolVersion {
		return Header{}, oops.Wrapf(ErrMalformedPacket, "unsupported version %d", version)
	}
	hdr := Header{Type: CommType(code)}
	copy(hdr.ID[:], id)
	return hdr, nil
}

func appendHeader(dst []byte, t CommType, id uniqueid.UniqueId) []byte {
	dst = append(dst, PacketPrefix[:]...)
	dst = append(dst, byte(t), ProtocolVersion)
	return append(dst, id[:]...)
}

func newHeaderBuffer(t CommType, id uniqueid.UniqueId, extra int) []byte {
	return appendHeader(make([]byte, 0, HeaderSize+extra), t, id)
}

// RelayRequest asks the receiving peer to relay an obfuscated payload.
//
//	[header][2 length][payload]
type RelayRequest struct {
	ID      uniqueid.UniqueId
	Payload []byte
}

// NewRelayRequest wraps an encoded data packet, normally a RelayPacket, with a fresh id.
func NewRelayRequest(payload DataPacket) (*RelayRequest, error) {
	id, err := uniqueid.New()
	if err != nil {
		return nil, err
	}
	b, err := payload.Marshal()
	if err != nil {
		return nil, err
	}
	return &RelayRequest{ID: id, Payload: b}, nil
}

func (p *RelayRequest) CommType() CommType          { return TypeRelayRequest }
func (p *RelayRequest) PacketID() uniqueid.UniqueId { return p.ID }

func (p *RelayRequest) Marshal() ([]byte, error) {
	return appendBlob(newHeaderBuffer(TypeRelayRequest, p.ID, 2+len(p.Payload)), p.Payload, "relay payload")
}

// DataPacket decodes the carried payload.
func (p *RelayRequest) DataPacket() (DataPacket, error) {
	return DecodeData(p.Payload)
}

func parseRelayRequest(hdr Header, r *reader) (CommunicationPacket, error) {
	payload := r.blob("relay payload")
	if r.err != nil {
		return nil, r.err
	}
	return &RelayRequest{ID: hdr.ID, Payload: payload}, nil
}

// ResponsePacket answers the request whose id it repeats.
//
//	[header][1 status][2 length][data packet or nothing]
type ResponsePacket struct {
	ID      uniqueid.UniqueId
	Status  StatusCode
	Payload DataPacket
}

// NewResponse builds a response to the request with the given id. payload may be nil.
func NewResponse(requestID uniqueid.UniqueId, status StatusCode, payload DataPacket) *ResponsePacket {
	return &ResponsePacket{ID: requestID, Status: status, Payload: payload}
}

func (p *ResponsePacket) CommType() CommType          { return TypeResponse }
func (p *ResponsePacket) PacketID() uniqueid.UniqueId { return p.ID }

func (p *ResponsePacket) Marshal() ([]byte, error) {
	var payload []byte
	if p.Payload != nil {
		b, err := p.Payload.Marshal()
		if err != nil {
			return nil, oops.Wrapf(err, "failed to encode response payload")
		}
		payload = b
	}
	buf := newHeaderBuffer(TypeResponse, p.ID, 3+len(payload))
	buf = append(buf, byte(p.Status))
	return appendBlob(buf, payload, "response payload")
}

func parseResponse(hdr Header, r *reader) (CommunicationPacket, error) {
	status := StatusCode(r.u8("status"))
	payload := r.blob("response payload")
	if r.err != nil {
		return nil, r.err
	}
	resp := &ResponsePacket{ID: hdr.ID, Status: status}
	if len(payload) > 0 {
		data, err := DecodeData(payload)
		if err != nil {
			return nil, oops.Wrapf(err, "response payload")
		}
		resp.Payload = data
	}
	return resp, nil
}

// PeerListRequest asks for the receiver's known peers. It has no body.
type PeerListRequest struct {
	ID uniqueid.UniqueId
}

func (p *PeerListRequest) CommType() CommType          { return TypePeerListRequest }
func (p *PeerListRequest) PacketID() uniqueid.UniqueId { return p.ID }

func (p *PeerListRequest) Marshal() ([]byte, error) {
	return newHeaderBuffer(TypePeerListRequest, p.ID, 0), nil
}

// RetrieveRequest asks for the data packet of a given type stored under Key.
//
//	[header][1 data type][32 key]
type RetrieveRequest struct {
	ID       uniqueid.UniqueId
	DataType DataType
	Key      common.Hash
}

func (p *RetrieveRequest) CommType() CommType          { return TypeRetrieveRequest }
func (p *RetrieveRequest) PacketID() uniqueid.UniqueId { return p.ID }

func (p *RetrieveRequest) Marshal() ([]byte, error) {
	buf := newHeaderBuffer(TypeRetrieveRequest, p.ID, 1+HashSize)
	buf = append(buf, byte(p.DataType))
	return append(buf, p.Key[:]...), nil
}

func parseRetrieveRequest(hdr Header, r *reader) (CommunicationPacket, error) {
	dataType := DataType(r.u8("data type"))
	key := r.take(HashSize, "key")
	if r.err != nil {
		return nil, r.err
	}
	p := &RetrieveRequest{ID: hdr.ID, DataType: dataType}
	copy(p.Key[:], key)
	return p, nil
}

// StoreRequest asks the receiver to store a data packet.
//
//	[header][2 length][data packet]
type StoreRequest struct {
	ID      uniqueid.UniqueId
	Payload DataPacket
}

func (p *StoreRequest) CommType() CommType          { return TypeStoreRequest }
func (p *StoreRequest) PacketID() uniqueid.UniqueId { return p.ID }

func (p *StoreRequest) Marshal() ([]byte, error) {
	if p.Payload == nil {
		return nil, oops.Errorf("store request has no payload")
	}
	payload, err := p.Payload.Marshal()
	if err != nil {
		return nil, oops.Wrapf(err, "failed to encode store payload")
	}
	return appendBlob(newHeaderBuffer(TypeStoreRequest, p.ID, 2+len(payload)), payload, "store payload")
}

func parseStoreRequest(hdr Header, r *reader) (CommunicationPacket, error) {
	payload := r.blob("store payload")
	if r.err != nil {
		return nil, r.err
	}
	data, err := DecodeData(payload)
	if err != nil {
		return nil, oops.Wrapf(err, "store payload")
	}
	return &StoreRequest{ID: hdr.ID, Payload: data}, nil
}

// DeletionRequest asks the receiver to delete the email packet stored under
// Key. The receiver checks DeletionKey against the packet's verifier.
//
//	[header][32 key][32 deletion key]
type DeletionRequest struct {
	ID          uniqueid.UniqueId
	Key         common.Hash
	DeletionKey uniqueid.UniqueId
}

func (p *DeletionRequest) CommType() CommType          { return TypeDeletionRequest }
func (p *DeletionRequest) PacketID() uniqueid.UniqueId { return p.ID }

func (p *DeletionRequest) Marshal() ([]byte, error) {
	buf := newHeaderBuffer(TypeDeletionRequest, p.ID, HashSize+uniqueid.Length)
	buf = append(buf, p.Key[:]...)
	return append(buf, p.DeletionKey[:]...), nil
}

func parseDeletionRequest(hdr Header, r *reader) (CommunicationPacket, error) {
	key := r.take(HashSize, "key")
	deletionKey := r.take(uniqueid.Length, "deletion key")
	if r.err != nil {
		return nil, r.err
	}
	p := &DeletionRequest{ID: hdr.ID}
	copy(p.Key[:], key)
	copy(p.DeletionKey[:], deletionKey)
	return p, nil
}

// FindClosePeers asks for the peers closest to Key.
//
//	[header][32 key]
type FindClosePeers struct {
	ID  uniqueid.UniqueId
	Key common.Hash
}

func (p *FindClosePeers) CommType() CommType          { return TypeFindClosePeers }
func (p *FindClosePeers) PacketID() uniqueid.UniqueId { return p.ID }

func (p *FindClosePeers) Marshal() ([]byte, error) {
	buf := newHeaderBuffer(TypeFindClosePeers, p.ID, HashSize)
	return append(buf, p.Key[:]...), nil
}

func parseFindClosePeers(hdr Header, r *reader) (CommunicationPacket, error) {
	key := r.take(HashSize, "key")
	if r.err != nil {
		return nil, r.err
	}
	p := &FindClosePeers{ID: hdr.ID}
	copy(p.Key[:], key)
	return p, nil
}
