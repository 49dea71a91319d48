package packet

import (
	common "github.com/go-i2p/common/data"
	"github.com/samber/oops"
)

// IndexPacket lists the content keys stored for one owner.
//
//	[1 type][32 owner][1 count][count x 32 key]
type IndexPacket struct {
	Owner common.Hash
	Keys  []common.Hash
}

func (p *IndexPacket) DataType() DataType { return TypeIndex }

// Contains reports whether key is listed.
func (p *IndexPacket) Contains(key common.Hash) bool {
	for _, k := range p.Keys {
		if k == key {
			return true
		}
	}
	return false
}

func (p *IndexPacket) Marshal() ([]byte, error) {
	if len(p.Keys) > MaxIndexKeys {
		return nil, oops.Wrapf(ErrFieldTooLong, "index packet has %d keys, limit %d", len(p.Keys), MaxIndexKeys)
	}
	buf := make([]byte, 0, 1+HashSize+1+len(p.Keys)*HashSize)
	buf = append(buf, byte(TypeIndex))
	buf = append(buf, p.Owner[:]...)
	buf = append(buf, byte(len(p.Keys)))
	for _, k := range p.Keys {
		buf = append(buf, k[:]...)
	}
	return buf, nil
}

func parseIndexPacket(r *reader) (DataPacket, error) {
	owner := r.take(HashSize, "owner")
	count := int(r.u8("key count"))
	raw := r.take(count*HashSize, "keys")
	if r.err != nil {
		return nil, r.err
	}
	p := &IndexPacket{}
	copy(p.Owner[:], owner)
	if count > 0 {
		p.Keys = make([]common.Hash, count)
		for i := range p.Keys {
			copy(p.Keys[i][:], raw[i*HashSize:])
		}
	}
	return p, nil
}
