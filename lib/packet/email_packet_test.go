package packet

import (
	"testing"

	common "github.com/go-i2p/common/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-tunnelmsg/lib/crypto"
)

func emailKeys(t *testing.T) (*crypto.EmailEncrypter, *crypto.EmailDecrypter) {
	t.Helper()
	pub, priv, err := crypto.GenerateEmailKeyPair()
	require.NoError(t, err)
	dec, err := crypto.NewEmailDecrypter(priv)
	require.NoError(t, err)
	return crypto.NewEmailEncrypter(pub), dec
}

func TestEmailPacketSingleFragment(t *testing.T) {
	enc, dec := emailKeys(t)
	content := EmailContent{
		DeletionKey:   newID(t),
		MessageID:     newID(t),
		FragmentIndex: 0,
		NumFragments:  1,
		Content:       []byte("a short message that fits in one packet"),
	}

	p, err := NewEmailPacket(content, enc)
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, p.Key)

	b, err := p.Marshal()
	require.NoError(t, err)
	parsed, err := DecodeData(b)
	require.NoError(t, err)

	opened, err := parsed.(*EmailPacket).Decrypt(dec)
	require.NoError(t, err)
	assert.Equal(t, content.Content, opened.Content)
	assert.Equal(t, content.MessageID, opened.MessageID)
	assert.Equal(t, content.DeletionKey, opened.DeletionKey)
	assert.Equal(t, 0, opened.FragmentIndex)
	assert.Equal(t, 1, opened.NumFragments)
}

func TestEmailPacketFragmentRange(t *testing.T) {
	enc, _ := emailKeys(t)
	tests := []struct {
		name  string
		index int
		count int
		ok    bool
	}{
		{name: "first of one", index: 0, count: 1, ok: true},
		{name: "last of three", index: 2, count: 3, ok: true},
		{name: "index equals count", index: 3, count: 3},
		{name: "negative index", index: -1, count: 3},
		{name: "zero count", index: 0, count: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEmailPacket(EmailContent{FragmentIndex: tt.index, NumFragments: tt.count}, enc)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidFragment)
			}
		})
	}
}

// rawCipher skips encryption so a test can forge an out-of-range region.
type rawCipher struct{}

func (rawCipher) Encrypt(b []byte) ([]byte, error) { return b, nil }
func (rawCipher) Decrypt(b []byte) ([]byte, error) { return b, nil }

func TestEmailPacketDecryptRejectsBadRange(t *testing.T) {
	c := EmailContent{DeletionKey: newID(t), FragmentIndex: 1, NumFragments: 2, Content: []byte("x")}
	p, err := NewEmailPacket(c, rawCipher{})
	require.NoError(t, err)

	// fragment count lives after the two ids and the index
	p.Encrypted[2*32+2] = 0
	p.Encrypted[2*32+3] = 1

	_, err = p.Decrypt(rawCipher{})
	assert.ErrorIs(t, err, ErrInvalidFragment)
}

func TestEmailPacketDeletion(t *testing.T) {
	enc, dec := emailKeys(t)
	c := EmailContent{DeletionKey: newID(t), MessageID: newID(t), NumFragments: 1, Content: []byte("bye")}
	p, err := NewEmailPacket(c, enc)
	require.NoError(t, err)

	assert.True(t, p.VerifyDeletionKey(c.DeletionKey))
	assert.False(t, p.VerifyDeletionKey(newID(t)))

	p.ClearDeletionVerifier()
	assert.True(t, p.DeletionCleared())
	assert.False(t, p.VerifyDeletionKey(c.DeletionKey))

	decoded := roundTrip(t, p).(*EmailPacket)
	assert.True(t, decoded.DeletionCleared(), "cleared verifier survives a round trip")

	opened, err := decoded.Decrypt(dec)
	require.NoError(t, err)
	assert.Equal(t, c.Content, opened.Content)
}

func TestEmailPacketNilCipher(t *testing.T) {
	_, err := NewEmailPacket(EmailContent{NumFragments: 1}, nil)
	assert.ErrorIs(t, err, ErrNilCipher)
}

// plainCipher leaves the region unencrypted.
type plainCipher struct{}

func (plainCipher) Encrypt(b []byte) ([]byte, error) { return append([]byte(nil), b...), nil }
func (plainCipher) Decrypt(b []byte) ([]byte, error) { return append([]byte(nil), b...), nil }

func TestEmailPacketDecryptToleratesTrailingBytes(t *testing.T) {
	content := EmailContent{
		DeletionKey:   newID(t),
		MessageID:     newID(t),
		FragmentIndex: 1,
		NumFragments:  2,
		Content:       []byte("second half"),
	}
	p, err := NewEmailPacket(content, plainCipher{})
	require.NoError(t, err)
	p.Encrypted = append(p.Encrypted, 0xDE, 0xAD, 0xBE, 0xEF)

	opened, err := p.Decrypt(plainCipher{})
	require.NoError(t, err)
	assert.Equal(t, content.Content, opened.Content)
	assert.Equal(t, 1, opened.FragmentIndex)
}
