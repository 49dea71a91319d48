package fragment

import (
	"errors"

	"github.com/samber/oops"
)

var (
	// ErrInvalidFragmentSize is returned for a maximum fragment size below one byte.
	ErrInvalidFragmentSize = errors.New("fragment size must be at least 1")
	// ErrIncomplete is returned by Join when indices are missing or the last flag is misplaced.
	ErrIncomplete = errors.New("fragment set is incomplete")
)

// Fragment is one piece of a message.
type Fragment[K comparable] struct {
	MessageID K
	Index     int
	Last      bool
	Data      []byte
}

// Count returns how many fragments Split produces for a message of size n.
func Count(n, maxSize int) int {
	if maxSize < 1 {
		return 0
	}
	if n == 0 {
		return 1
	}
	return (n + maxSize - 1) / maxSize
}

// Split cuts msg into fragments of at most maxSize bytes. An empty message
// still yields one fragment. Fragment data aliases msg.
func Split[K comparable](id K, msg []byte, maxSize int) ([]Fragment[K], error) {
	if maxSize < 1 {
		return nil, oops.Wrapf(ErrInvalidFragmentSize, "got %d", maxSize)
	}
	n := Count(len(msg), maxSize)
	frags := make([]Fragment[K], n)
	for i := range frags {
		start := i * maxSize
		end := min(start+maxSize, len(msg))
		frags[i] = Fragment[K]{
			MessageID: id,
			Index:     i,
			Last:      i == n-1,
			Data:      msg[start:end],
		}
	}
	return frags, nil
}

// Join concatenates a complete fragment set in index order. The input may be
// in any order but must hold every index once, with only the highest flagged last.
func Join[K comparable](frags []Fragment[K]) ([]byte, error) {
	if len(frags) == 0 {
		return nil, oops.Wrapf(ErrIncomplete, "no fragments")
	}
	ordered := make([][]byte, len(frags))
	size := 0
	for _, f := range frags {
		if f.Index < 0 || f.Index >= len(frags) || ordered[f.Index] != nil {
			return nil, oops.Wrapf(ErrIncomplete, "unexpected index %d", f.Index)
		}
		if f.Last != (f.Index == len(frags)-1) {
			return nil, oops.Wrapf(ErrIncomplete, "last flag on index %d", f.Index)
		}
		ordered[f.Index] = f.Data
		if f.Data == nil {
			ordered[f.Index] = []byte{}
		}
		size += len(f.Data)
	}
	out := make([]byte, 0, size)
	for _, b := range ordered {
		out = append(out, b...)
	}
	return out, nil
}
