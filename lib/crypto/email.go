package crypto

import (
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"io"

	"github.com/go-i2p/crypto/rand"
	"github.com/samber/oops"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// EmailKeySize is the size of X25519 email keys.
const EmailKeySize = curve25519.ScalarSize

var emailInfo = []byte("tunnelmsg email region v1")

var (
	// ErrCiphertextTooShort is returned when a sealed region cannot hold the ephemeral key and tag.
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	// ErrDecryptionFailed is returned when authentication of a sealed region fails.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// EmailPublicKey is the recipient's X25519 public key.
type EmailPublicKey [EmailKeySize]byte

// EmailPrivateKey is the recipient's X25519 private key.
type EmailPrivateKey [EmailKeySize]byte

// GenerateEmailKeyPair creates a fresh X25519 key pair.
func GenerateEmailKeyPair() (EmailPublicKey, EmailPrivateKey, error) {
	var priv EmailPrivateKey
	if _, err := rand.Read(priv[:]); err != nil {
		return EmailPublicKey{}, EmailPrivateKey{}, oops.Wrapf(err, "failed to generate email key")
	}
	pub, err := priv.Public()
	if err != nil {
		return EmailPublicKey{}, EmailPrivateKey{}, err
	}
	return pub, priv, nil
}

// Public derives the public key.
func (k EmailPrivateKey) Public() (EmailPublicKey, error) {
	var pub EmailPublicKey
	b, err := curve25519.X25519(k[:], curve25519.Basepoint)
	if err != nil {
		return pub, oops.Wrapf(err, "failed to derive email public key")
	}
	copy(pub[:], b)
	return pub, nil
}

// EmailEncrypter seals email regions for one recipient. Each call uses a
// fresh ephemeral key, so the AEAD key is never reused and a zero nonce is safe.
//
// Output: [32 ephemeral public key][ciphertext + 16 byte tag]
type EmailEncrypter struct {
	recipient EmailPublicKey
}

// NewEmailEncrypter returns an encrypter for recipient.
func NewEmailEncrypter(recipient EmailPublicKey) *EmailEncrypter {
	return &EmailEncrypter{recipient: recipient}
}

// Encrypt seals plaintext.
func (e *EmailEncrypter) Encrypt(plaintext []byte) ([]byte, error) {
	ephPub, ephPriv, err := GenerateEmailKeyPair()
	if err != nil {
		return nil, err
	}
	aead, err := emailAEAD(ephPriv, e.recipient, ephPub, e.recipient)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, EmailKeySize+len(plaintext)+aead.Overhead())
	out = append(out, ephPub[:]...)
	nonce := make([]byte, aead.NonceSize())
	return aead.Seal(out, nonce, plaintext, ephPub[:]), nil
}

// EmailDecrypter opens regions sealed for its key.
type EmailDecrypter struct {
	priv EmailPrivateKey
	pub  EmailPublicKey
}

// NewEmailDecrypter returns a decrypter for priv.
func NewEmailDecrypter(priv EmailPrivateKey) (*EmailDecrypter, error) {
	pub, err := priv.Public()
	if err != nil {
		return nil, err
	}
	return &EmailDecrypter{priv: priv, pub: pub}, nil
}

// Decrypt opens a region produced by EmailEncrypter.
func (d *EmailDecrypter) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < EmailKeySize+chacha20poly1305.Overhead {
		return nil, oops.Wrapf(ErrCiphertextTooShort, "%d bytes", len(ciphertext))
	}
	var ephPub EmailPublicKey
	copy(ephPub[:], ciphertext[:EmailKeySize])

	aead, err := emailAEAD(d.priv, ephPub, ephPub, d.pub)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	plaintext, err := aead.Open(nil, nonce, ciphertext[EmailKeySize:], ephPub[:])
	if err != nil {
		return nil, oops.Wrapf(ErrDecryptionFailed, "email region: %v", err)
	}
	return plaintext, nil
}

// emailAEAD computes the shared secret between priv and peer and expands it
// into a ChaCha20-Poly1305 key bound to both public keys.
func emailAEAD(priv EmailPrivateKey, peer, ephPub, recipient EmailPublicKey) (cipher.AEAD, error) {
	shared, err := curve25519.X25519(priv[:], peer[:])
	if err != nil {
		return nil, oops.Wrapf(ErrDecryptionFailed, "key agreement: %v", err)
	}
	salt := make([]byte, 0, 2*EmailKeySize)
	salt = append(salt, ephPub[:]...)
	salt = append(salt, recipient[:]...)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, emailInfo), key); err != nil {
		return nil, oops.Wrapf(err, "failed to derive email key")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to create email cipher")
	}
	return aead, nil
}
