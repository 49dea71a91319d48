package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	common "github.com/go-i2p/common/data"

	"github.com/go-i2p/go-tunnelmsg/lib/common/uniqueid"
)

// ErrStoreClosed is returned by stores after Close.
var ErrStoreClosed = errors.New("relay store closed")

// PendingRelay is a relayed packet waiting for its send time.
type PendingRelay struct {
	// ID is the id of the RelayRequest that carried the packet.
	ID      uniqueid.UniqueId
	NextHop common.Hash
	// Payload is the de-obfuscated packet for the next hop.
	Payload []byte
	SendAt  time.Time
	// ExpiresAt is when the relay is dropped if it still has not been sent.
	ExpiresAt time.Time
}

// Store persists pending relays across restarts.
type Store interface {
	Put(ctx context.Context, r PendingRelay) error
	Delete(ctx context.Context, id uniqueid.UniqueId) error
	// Pending returns every stored relay ordered by send time.
	Pending(ctx context.Context) ([]PendingRelay, error)
	// DeleteExpired removes relays that expired at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// MemoryStore is a Store that forgets everything on restart.
type MemoryStore struct {
	mu     sync.Mutex
	relays map[uniqueid.UniqueId]PendingRelay
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{relays: make(map[uniqueid.UniqueId]PendingRelay)}
}

func (s *MemoryStore) Put(_ context.Context, r PendingRelay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	r.Payload = append([]byte(nil), r.Payload...)
	s.relays[r.ID] = r
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id uniqueid.UniqueId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.relays, id)
	return nil
}

func (s *MemoryStore) Pending(_ context.Context) ([]PendingRelay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]PendingRelay, 0, len(s.relays))
	for _, r := range s.relays {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SendAt.Before(out[j].SendAt) })
	return out, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	n := 0
	for id, r := range s.relays {
		if !now.Before(r.ExpiresAt) {
			delete(s.relays, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var _ Store = (*MemoryStore)(nil)
