package packet

import (
	"encoding/binary"

	"github.com/samber/oops"
)

// reader walks a packet buffer. The first short read sets err and every
// later read returns zero values, so parsers can check once at the end.
type reader struct {
	buf []byte
	off int
	err error
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) take(n int, field string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = oops.Wrapf(ErrMalformedPacket, "truncated %s: need %d bytes at offset %d, have %d",
			field, n, r.off, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8(field string) byte {
	b := r.take(1, field)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16(field string) uint16 {
	b := r.take(2, field)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u32(field string) uint32 {
	b := r.take(4, field)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// copyN returns an owned copy so decoded packets never alias the input buffer.
func (r *reader) copyN(n int, field string) []byte {
	b := r.take(n, field)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// blob reads a two byte length followed by that many bytes.
func (r *reader) blob(field string) []byte {
	n := r.u16(field + " length")
	return r.copyN(int(n), field)
}

func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	return r.buf[r.off:]
}

// appendBlob writes a two byte length prefix and b.
func appendBlob(dst, b []byte, field string) ([]byte, error) {
	if len(b) > MaxFieldLength {
		return nil, oops.Wrapf(ErrFieldTooLong, "%s is %d bytes", field, len(b))
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(b)))
	return append(dst, b...), nil
}
