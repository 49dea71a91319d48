package packet

import (
	"crypto/subtle"
	"encoding/binary"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-tunnelmsg/lib/common/uniqueid"
)

/*
Email packet

+----+----+----+----+----+----+----+----+
|type|                                  |
+----+        content key (32)          +
|                                       |
~                                       ~
+    +----+----+----+----+----+----+----+
|    |      deletion verifier (32)      |
~                                       ~
+    +----+----+----+----+----+----+----+
|    | length  | encrypted region ...
+----+----+----+----+----+----+----+

Decrypted region

[32 deletion key][32 message id][2 fragment index][2 fragment count]
[2 content length][content]

The content key is random, never derived from the content, so two copies
of the same text cannot be linked. The verifier is the SHA-256 hash of the
deletion key, which only the recipient learns after decryption.
*/

const emailRegionHeaderSize = uniqueid.Length*2 + 2 + 2 + 2

// Encrypter seals an email region for one recipient.
type Encrypter interface {
	Encrypt(plaintext []byte) ([]byte, error)
}

// Decrypter opens email regions addressed to its key.
type Decrypter interface {
	Decrypt(ciphertext []byte) ([]byte, error)
}

// EmailPacket is one encrypted fragment of a larger message.
type EmailPacket struct {
	Key              common.Hash
	DeletionVerifier common.Hash
	Encrypted        []byte
}

// EmailContent is the decrypted region of an EmailPacket.
type EmailContent struct {
	DeletionKey   uniqueid.UniqueId
	MessageID     uniqueid.UniqueId
	FragmentIndex int
	NumFragments  int
	Content       []byte
}

// CheckFragmentRange enforces 0 <= index < count and count >= 1.
func CheckFragmentRange(index, count int) error {
	if count < 1 || count > MaxFieldLength || index < 0 || index >= count {
		return oops.Wrapf(ErrInvalidFragment, "index %d of %d", index, count)
	}
	return nil
}

// NewEmailPacket validates c, encrypts it with enc and assigns a random content key.
func NewEmailPacket(c EmailContent, enc Encrypter) (*EmailPacket, error) {
	if enc == nil {
		return nil, ErrNilCipher
	}
	if err := CheckFragmentRange(c.FragmentIndex, c.NumFragments); err != nil {
		log.WithFields(logger.Fields{
			"at":             "NewEmailPacket",
			"fragment_index": c.FragmentIndex,
			"num_fragments":  c.NumFragments,
			"reason":         "fragment index out of range",
		}).Error("Refusing to build email packet")
		return nil, err
	}

	region, err := c.marshal()
	if err != nil {
		return nil, err
	}
	encrypted, err := enc.Encrypt(region)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to encrypt email region")
	}
	if len(encrypted) > MaxFieldLength {
		return nil, oops.Wrapf(ErrFieldTooLong, "encrypted region is %d bytes", len(encrypted))
	}

	p := &EmailPacket{
		DeletionVerifier: common.HashData(c.DeletionKey[:]),
		Encrypted:        encrypted,
	}
	if _, err := rand.Read(p.Key[:]); err != nil {
		return nil, oops.Wrapf(err, "failed to generate content key")
	}
	return p, nil
}

func (c *EmailContent) marshal() ([]byte, error) {
	if len(c.Content) > MaxFieldLength {
		return nil, oops.Wrapf(ErrFieldTooLong, "email content is %d bytes", len(c.Content))
	}
	buf := make([]byte, 0, emailRegionHeaderSize+len(c.Content))
	buf = append(buf, c.DeletionKey[:]...)
	buf = append(buf, c.MessageID[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(c.FragmentIndex))
	buf = binary.BigEndian.AppendUint16(buf, uint16(c.NumFragments))
	return appendBlob(buf, c.Content, "email content")
}

// Decrypt opens the encrypted region and checks the fragment range and the
// deletion verifier. A cleared verifier is not checked.
func (p *EmailPacket) Decrypt(dec Decrypter) (*EmailContent, error) {
	if dec == nil {
		return nil, ErrNilCipher
	}
	region, err := dec.Decrypt(p.Encrypted)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to decrypt email region")
	}

	r := newReader(region)
	c := &EmailContent{}
	copy(c.DeletionKey[:], r.take(uniqueid.Length, "deletion key"))
	copy(c.MessageID[:], r.take(uniqueid.Length, "message id"))
	c.FragmentIndex = int(r.u16("fragment index"))
	c.NumFragments = int(r.u16("fragment count"))
	c.Content = r.blob("content")
	if r.err != nil {
		return nil, r.err
	}
	warnTrailing("EmailPacket.Decrypt", "E", r)

	if err := CheckFragmentRange(c.FragmentIndex, c.NumFragments); err != nil {
		log.WithFields(logger.Fields{
			"at":             "EmailPacket.Decrypt",
			"message_id":     c.MessageID.String(),
			"fragment_index": c.FragmentIndex,
			"num_fragments":  c.NumFragments,
			"reason":         "fragment index out of range",
		}).Error("Discarding email packet")
		return nil, err
	}
	if !p.DeletionCleared() && !p.VerifyDeletionKey(c.DeletionKey) {
		return nil, oops.Wrapf(ErrMalformedPacket, "deletion key does not match verifier")
	}
	return c, nil
}

// VerifyDeletionKey reports whether key hashes to the stored verifier.
func (p *EmailPacket) VerifyDeletionKey(key uniqueid.UniqueId) bool {
	if p.DeletionCleared() {
		return false
	}
	want := common.HashData(key[:])
	return subtle.ConstantTimeCompare(want[:], p.DeletionVerifier[:]) == 1
}

// ClearDeletionVerifier zeroes the verifier. Storage nodes do this once the
// packet has been retrieved, which marks it as deleted.
func (p *EmailPacket) ClearDeletionVerifier() {
	p.DeletionVerifier = common.Hash{}
}

// DeletionCleared reports whether the verifier has been zeroed.
func (p *EmailPacket) DeletionCleared() bool {
	return p.DeletionVerifier == common.Hash{}
}

func (p *EmailPacket) DataType() DataType { return TypeEmail }

func (p *EmailPacket) Marshal() ([]byte, error) {
	buf := make([]byte, 0, 1+2*HashSize+2+len(p.Encrypted))
	buf = append(buf, byte(TypeEmail))
	buf = append(buf, p.Key[:]...)
	buf = append(buf, p.DeletionVerifier[:]...)
	return appendBlob(buf, p.Encrypted, "encrypted region")
}

func parseEmailPacket(r *reader) (DataPacket, error) {
	key := r.take(HashSize, "content key")
	verifier := r.take(HashSize, "deletion verifier")
	encrypted := r.blob("encrypted region")
	if r.err != nil {
		return nil, r.err
	}
	p := &EmailPacket{Encrypted: encrypted}
	copy(p.Key[:], key)
	copy(p.DeletionVerifier[:], verifier)
	return p, nil
}
