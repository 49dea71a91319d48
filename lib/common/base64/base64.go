// Package base64 implements encoding and decoding with I2P's base64 alphabet.
package base64

import (
	b64 "encoding/base64"
	"strings"

	"github.com/samber/oops"
)

// I2PEncodeAlphabet is RFC 4648 base64 with "+" replaced by "-" and "/" by "~".
const I2PEncodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-~"

var (
	// I2PEncoding is the padded encoding used for keys and destinations.
	I2PEncoding = b64.NewEncoding(I2PEncodeAlphabet)
	// I2PRawEncoding omits padding; identifiers are rendered with it.
	I2PRawEncoding = I2PEncoding.WithPadding(b64.NoPadding)
)

// EncodeToString encodes data with padding.
func EncodeToString(data []byte) string {
	return I2PEncoding.EncodeToString(data)
}

// EncodeToRawString encodes data without padding.
func EncodeToRawString(data []byte) string {
	return I2PRawEncoding.EncodeToString(data)
}

// DecodeString decodes str, accepting both padded and unpadded input.
func DecodeString(str string) ([]byte, error) {
	enc := I2PEncoding
	if !strings.HasSuffix(str, "=") && len(str)%4 != 0 {
		enc = I2PRawEncoding
	}
	decoded, err := enc.DecodeString(str)
	if err != nil {
		return nil, oops.Wrapf(err, "invalid I2P base64 %q", str)
	}
	return decoded, nil
}
