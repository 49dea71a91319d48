// Package uniqueid provides the 32-byte random identifier used for packet
// ids, message ids and deletion keys.
package uniqueid

import (
	"errors"
	"math/big"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-tunnelmsg/lib/common/base64"
)

var log = logger.GetGoI2PLogger()

// Length is the size of a UniqueId in bytes.
const Length = 32

// ErrInvalidLength is returned when parsing a UniqueId from the wrong number of bytes.
var ErrInvalidLength = errors.New("unique id must be 32 bytes")

// UniqueId is an immutable random identifier. Being an array, it is copied by
// value and can be used as a map key.
type UniqueId [Length]byte

// Zero is the all-zero id, used as a cleared marker.
var Zero UniqueId

// New returns a fresh cryptographically random UniqueId.
func New() (UniqueId, error) {
	var id UniqueId
	if _, err := rand.Read(id[:]); err != nil {
		log.WithFields(logger.Fields{
			"at":     "uniqueid.New",
			"reason": "random source failure",
		}).WithError(err).Error("Failed to generate unique id")
		return Zero, oops.Wrapf(err, "failed to generate unique id")
	}
	return id, nil
}

// FromBytes copies a UniqueId out of b, which must be exactly Length bytes.
func FromBytes(b []byte) (UniqueId, error) {
	var id UniqueId
	if len(b) != Length {
		return Zero, oops.Wrapf(ErrInvalidLength, "got %d bytes", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Read parses a UniqueId from the front of b and returns the remainder.
func Read(b []byte) (UniqueId, []byte, error) {
	if len(b) < Length {
		return Zero, b, oops.Wrapf(ErrInvalidLength, "need %d bytes, have %d", Length, len(b))
	}
	var id UniqueId
	copy(id[:], b[:Length])
	return id, b[Length:], nil
}

// Parse decodes the textual form produced by String.
func Parse(s string) (UniqueId, error) {
	decoded, err := base64.DecodeString(s)
	if err != nil {
		return Zero, err
	}
	return FromBytes(decoded)
}

// Bytes returns a copy of the id's bytes.
func (id UniqueId) Bytes() []byte {
	b := make([]byte, Length)
	copy(b, id[:])
	return b
}

// Equal reports byte-for-byte equality.
func (id UniqueId) Equal(other UniqueId) bool {
	return id == other
}

// IsZero reports whether every byte is zero.
func (id UniqueId) IsZero() bool {
	return id == Zero
}

// Int returns the id as an unsigned big-endian integer.
func (id UniqueId) Int() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// Compare orders ids by their integer value: -1, 0 or +1.
func (id UniqueId) Compare(other UniqueId) int {
	return id.Int().Cmp(other.Int())
}

// Less reports whether id orders before other.
func (id UniqueId) Less(other UniqueId) bool {
	return id.Compare(other) < 0
}

// String renders the id with the I2P base64 alphabet, without padding.
func (id UniqueId) String() string {
	return base64.EncodeToRawString(id[:])
}
