package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/crypto/hkdf"
)

var log = logger.GetGoI2PLogger()

const (
	// TunnelKeySize is the size of layer and IV keys.
	TunnelKeySize = 32
	// TunnelIVSize is the AES block size used for tunnel IVs.
	TunnelIVSize = aes.BlockSize
	// TagSize is the length of the truncated HMAC carried by each layer.
	TagSize = 16
	// PadSize is the number of bytes a hop appends to keep the body length fixed.
	PadSize = 16
)

var (
	macInfo = []byte("tunnelmsg layer mac v1")
	padInfo = []byte("tunnelmsg layer pad v1")
)

// TunnelKey is a symmetric key for one tunnel layer.
type TunnelKey [TunnelKeySize]byte

// TunnelIV is the per-message initialization vector of a tunnel layer.
type TunnelIV [TunnelIVSize]byte

// Tag authenticates one layer of a tunnel message.
type Tag [TagSize]byte

// Layer holds the ciphers of a single hop. It is immutable after
// construction and safe for concurrent use.
type Layer struct {
	layer  cipher.Block
	iv     cipher.Block
	macKey [32]byte
	padKey [32]byte
}

// NewLayer builds the ciphers for one hop. The MAC and pad keys are derived
// from the layer key with HKDF-SHA256 so a hop needs only its two keys.
func NewLayer(layerKey, ivKey TunnelKey) (*Layer, error) {
	layerBlock, err := aes.NewCipher(layerKey[:])
	if err != nil {
		return nil, oops.Wrapf(err, "failed to create layer cipher")
	}
	ivBlock, err := aes.NewCipher(ivKey[:])
	if err != nil {
		return nil, oops.Wrapf(err, "failed to create IV cipher")
	}

	l := &Layer{layer: layerBlock, iv: ivBlock}
	if err := deriveKey(layerKey, macInfo, l.macKey[:]); err != nil {
		return nil, err
	}
	if err := deriveKey(layerKey, padInfo, l.padKey[:]); err != nil {
		return nil, err
	}
	log.Debug("Tunnel layer created")
	return l, nil
}

func deriveKey(secret TunnelKey, info, out []byte) error {
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret[:], nil, info), out); err != nil {
		return oops.Wrapf(err, "failed to derive layer sub-key")
	}
	return nil
}

// DecryptIV runs the IV through one AES block decryption with the IV key.
// A hop applies it once to get its keystream IV and once more to get the IV
// it forwards.
func (l *Layer) DecryptIV(iv TunnelIV) TunnelIV {
	var out TunnelIV
	l.iv.Decrypt(out[:], iv[:])
	return out
}

// XORKeyStream applies AES-256-CTR keyed with the layer key. Encryption and
// decryption are the same operation; dst and src may overlap exactly.
func (l *Layer) XORKeyStream(dst, src []byte, iv TunnelIV) {
	cipher.NewCTR(l.layer, iv[:]).XORKeyStream(dst, src)
}

// Tag computes the truncated HMAC-SHA256 over the tunnel id, IV and body
// as they arrive at this hop.
func (l *Layer) Tag(tunnelID uint32, iv TunnelIV, body []byte) Tag {
	mac := hmac.New(sha256.New, l.macKey[:])
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], tunnelID)
	mac.Write(id[:])
	mac.Write(iv[:])
	mac.Write(body)
	var t Tag
	copy(t[:], mac.Sum(nil))
	return t
}

// VerifyTag checks tag in constant time.
func (l *Layer) VerifyTag(tunnelID uint32, iv TunnelIV, body []byte, tag Tag) bool {
	want := l.Tag(tunnelID, iv, body)
	return hmac.Equal(want[:], tag[:])
}

// Pad returns the deterministic filler a hop appends after shifting the body.
// The gateway derives the same bytes to predict what each hop will add.
func (l *Layer) Pad(keystreamIV TunnelIV) [PadSize]byte {
	mac := hmac.New(sha256.New, l.padKey[:])
	mac.Write(keystreamIV[:])
	var p [PadSize]byte
	copy(p[:], mac.Sum(nil))
	return p
}
