package uniqueid

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsRandom(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)

	assert.False(t, a.IsZero())
	assert.False(t, a.Equal(b), "two fresh ids should differ")
}

func TestFromBytes(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr bool
	}{
		{name: "exact length", input: make([]byte, Length)},
		{name: "too short", input: make([]byte, Length-1), wantErr: true},
		{name: "too long", input: make([]byte, Length+1), wantErr: true},
		{name: "nil", input: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromBytes(tt.input)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidLength))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestBytesIsACopy(t *testing.T) {
	id, err := New()
	require.NoError(t, err)

	b := id.Bytes()
	b[0] ^= 0xff
	assert.NotEqual(t, b[0], id[0])
}

func TestStringParseRoundTrip(t *testing.T) {
	id, err := New()
	require.NoError(t, err)

	s := id.String()
	assert.Len(t, s, 43)

	parsed, err := Parse(s)
	require.NoError(t, err)
	assert.True(t, id.Equal(parsed))
}

func TestCompareUsesIntegerOrder(t *testing.T) {
	var low, mid, high UniqueId
	low[Length-1] = 1
	mid[0] = 0x01
	high[0] = 0xff

	assert.Equal(t, -1, low.Compare(mid))
	assert.Equal(t, 1, high.Compare(mid))
	assert.Equal(t, 0, mid.Compare(mid))
	assert.True(t, Zero.Less(low))

	ids := []UniqueId{high, low, mid}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	assert.Equal(t, []UniqueId{low, mid, high}, ids)
}

func TestRead(t *testing.T) {
	id, err := New()
	require.NoError(t, err)

	buf := append(id.Bytes(), 0xAA, 0xBB)
	got, rest, err := Read(buf)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, []byte{0xAA, 0xBB}, rest)

	_, _, err = Read(buf[:10])
	assert.Error(t, err)
}
