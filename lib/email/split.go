package email

import (
	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-tunnelmsg/lib/common/uniqueid"
	"github.com/go-i2p/go-tunnelmsg/lib/fragment"
	"github.com/go-i2p/go-tunnelmsg/lib/packet"
)

var log = logger.GetGoI2PLogger()

// DefaultMaxContent is the content size per packet that keeps a
// StoreRequest carrying the packet under packet.MaxDatagramSize.
const DefaultMaxContent = 30 * 1024

// Split creates a fresh message id and returns one EmailPacket per
// fragment of content, each encrypted for recipient.
func Split(content []byte, recipient packet.Encrypter, maxContent int) (uniqueid.UniqueId, []*packet.EmailPacket, error) {
	if recipient == nil {
		return uniqueid.Zero, nil, packet.ErrNilCipher
	}
	if maxContent <= 0 {
		maxContent = DefaultMaxContent
	}
	id, err := uniqueid.New()
	if err != nil {
		return uniqueid.Zero, nil, err
	}
	frags, err := fragment.Split(id, content, maxContent)
	if err != nil {
		return uniqueid.Zero, nil, err
	}
	if len(frags) > packet.MaxFieldLength {
		return uniqueid.Zero, nil, oops.Wrapf(packet.ErrFieldTooLong, "%d bytes needs %d fragments", len(content), len(frags))
	}

	packets := make([]*packet.EmailPacket, len(frags))
	for i, f := range frags {
		deletionKey, err := uniqueid.New()
		if err != nil {
			return uniqueid.Zero, nil, err
		}
		p, err := packet.NewEmailPacket(packet.EmailContent{
			DeletionKey:   deletionKey,
			MessageID:     id,
			FragmentIndex: f.Index,
			NumFragments:  len(frags),
			Content:       f.Data,
		}, recipient)
		if err != nil {
			return uniqueid.Zero, nil, oops.Wrapf(err, "fragment %d of %d", f.Index, len(frags))
		}
		packets[i] = p
	}

	log.WithFields(logger.Fields{
		"at":         "email.Split",
		"message_id": id.String(),
		"size":       len(content),
		"fragments":  len(packets),
	}).Debug("Split email")
	return id, packets, nil
}

// StoreRequests wraps each packet in a StoreRequest with a fresh id.
func StoreRequests(packets []*packet.EmailPacket) ([]*packet.StoreRequest, error) {
	reqs := make([]*packet.StoreRequest, len(packets))
	for i, p := range packets {
		id, err := uniqueid.New()
		if err != nil {
			return nil, err
		}
		reqs[i] = &packet.StoreRequest{ID: id, Payload: p}
	}
	return reqs, nil
}

// Index lists the content keys of packets for owner, split into as many
// IndexPackets as the per-packet key limit requires.
func Index(owner common.Hash, packets []*packet.EmailPacket) []*packet.IndexPacket {
	var out []*packet.IndexPacket
	for start := 0; start < len(packets); start += packet.MaxIndexKeys {
		end := min(start+packet.MaxIndexKeys, len(packets))
		ip := &packet.IndexPacket{Owner: owner}
		for _, p := range packets[start:end] {
			ip.Keys = append(ip.Keys, p.Key)
		}
		out = append(out, ip)
	}
	return out
}
