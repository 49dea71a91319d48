package fragment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/maphash"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-tunnelmsg/lib/util/time/monotonic"
)

var log = logger.GetGoI2PLogger()

const (
	// DefaultMaxDefragmentTime is how long an incomplete message is kept.
	DefaultMaxDefragmentTime = 60 * time.Second
	// DefaultMaxFragments bounds the fragment index of one message.
	DefaultMaxFragments = 64

	shardCount = 16
)

var (
	// ErrFragmentIndex is returned for an index outside [0, max fragments).
	ErrFragmentIndex = errors.New("fragment index out of range")
	// ErrConflictingFragment is returned when a fragment contradicts one already stored.
	ErrConflictingFragment = errors.New("fragment conflicts with stored state")
	// ErrExpired is returned for fragments of a message whose window has passed.
	ErrExpired = errors.New("reassembly window expired")
)

// Handler receives each reassembled message exactly once.
type Handler[K comparable] func(id K, msg []byte)

// Stats counts reassembly outcomes.
type Stats struct {
	Delivered  uint64
	Expired    uint64
	Duplicates uint64
	Rejected   uint64
}

// Option configures a Reassembler.
type Option[K comparable] func(*Reassembler[K])

// WithMaxDefragmentTime sets the reassembly window.
func WithMaxDefragmentTime[K comparable](d time.Duration) Option[K] {
	return func(r *Reassembler[K]) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithMaxFragments sets the largest accepted fragment count.
func WithMaxFragments[K comparable](n int) Option[K] {
	return func(r *Reassembler[K]) {
		if n > 0 {
			r.maxFragments = n
		}
	}
}

// WithClock replaces the system clock.
func WithClock[K comparable](src monotonic.TimeSource) Option[K] {
	return func(r *Reassembler[K]) {
		r.clock = monotonic.OrSystem(src)
	}
}

// state is the reassembly state of one message id.
type state struct {
	mu        sync.Mutex
	created   time.Time
	frags     map[int][]byte
	lastIndex int // -1 until the last fragment arrives
	highest   int
	done      bool // delivered or expired; no further changes
}

type shard[K comparable] struct {
	mu     sync.Mutex
	states map[K]*state
	// finished remembers delivered and expired ids for one window so late
	// fragments cannot open a fresh state for them.
	finished map[K]time.Time
}

// Reassembler collects fragments into complete messages.
type Reassembler[K comparable] struct {
	handler      Handler[K]
	window       time.Duration
	maxFragments int
	clock        monotonic.TimeSource
	seed         maphash.Seed
	shards       [shardCount]shard[K]

	delivered  atomic.Uint64
	expired    atomic.Uint64
	duplicates atomic.Uint64
	rejected   atomic.Uint64
}

// NewReassembler creates a Reassembler that hands complete messages to handler.
func NewReassembler[K comparable](handler Handler[K], opts ...Option[K]) *Reassembler[K] {
	r := &Reassembler[K]{
		handler:      handler,
		window:       DefaultMaxDefragmentTime,
		maxFragments: DefaultMaxFragments,
		clock:        monotonic.NewClock(),
		seed:         maphash.MakeSeed(),
	}
	for _, opt := range opts {
		opt(r)
	}
	for i := range r.shards {
		r.shards[i].states = make(map[K]*state)
		r.shards[i].finished = make(map[K]time.Time)
	}
	return r
}

func (r *Reassembler[K]) shardFor(id K) *shard[K] {
	return &r.shards[maphash.Comparable(r.seed, id)%shardCount]
}

// Add stores a fragment and reports whether it completed its message.
// Duplicates are ignored. Fragments that contradict stored state, fall
// outside the index range or arrive after the window are dropped with an error.
func (r *Reassembler[K]) Add(f Fragment[K]) (bool, error) {
	if f.Index < 0 || f.Index >= r.maxFragments {
		r.rejected.Add(1)
		log.WithFields(logger.Fields{
			"at":             "Reassembler.Add",
			"fragment_index": f.Index,
			"max_fragments":  r.maxFragments,
			"reason":         "fragment index out of range",
		}).Error("Dropping fragment")
		return false, oops.Wrapf(ErrFragmentIndex, "index %d, limit %d", f.Index, r.maxFragments)
	}

	now := r.clock.Now()
	sh := r.shardFor(f.MessageID)

	sh.mu.Lock()
	if _, ok := sh.finished[f.MessageID]; ok {
		sh.mu.Unlock()
		r.duplicates.Add(1)
		log.WithFields(logger.Fields{
			"at":             "Reassembler.Add",
			"fragment_index": f.Index,
			"reason":         "message already delivered or expired",
		}).Debug("Ignoring late fragment")
		return false, nil
	}
	st, ok := sh.states[f.MessageID]
	if !ok {
		st = &state{created: now, frags: make(map[int][]byte), lastIndex: -1, highest: -1}
		sh.states[f.MessageID] = st
	}
	sh.mu.Unlock()

	st.mu.Lock()
	if st.done {
		st.mu.Unlock()
		r.duplicates.Add(1)
		return false, nil
	}
	if now.Sub(st.created) >= r.window {
		st.done = true
		st.mu.Unlock()
		r.finish(sh, f.MessageID, st, now)
		r.expired.Add(1)
		log.WithFields(logger.Fields{
			"at":     "Reassembler.Add",
			"age":    now.Sub(st.created).String(),
			"reason": "reassembly window passed",
		}).Warn("Discarding incomplete message")
		return false, ErrExpired
	}
	if err := st.check(f.Index, f.Last, f.Data); err != nil {
		st.mu.Unlock()
		if errors.Is(err, errDuplicate) {
			r.duplicates.Add(1)
			return false, nil
		}
		r.rejected.Add(1)
		log.WithFields(logger.Fields{
			"at":             "Reassembler.Add",
			"fragment_index": f.Index,
			"last":           f.Last,
			"reason":         err.Error(),
		}).Error("Protocol invariant violated, dropping fragment")
		return false, err
	}

	st.frags[f.Index] = bytes.Clone(f.Data)
	st.highest = max(st.highest, f.Index)
	if f.Last {
		st.lastIndex = f.Index
	}
	if st.lastIndex < 0 || len(st.frags) != st.lastIndex+1 {
		st.mu.Unlock()
		return false, nil
	}

	msg := st.assemble()
	st.done = true
	st.mu.Unlock()

	r.finish(sh, f.MessageID, st, now)
	r.delivered.Add(1)
	log.WithFields(logger.Fields{
		"at":        "Reassembler.Add",
		"fragments": st.lastIndex + 1,
		"size":      len(msg),
	}).Debug("Message reassembled")
	if r.handler != nil {
		r.handler(f.MessageID, msg)
	}
	return true, nil
}

var errDuplicate = errors.New("duplicate fragment")

// check validates f against stored fragments. Caller holds st.mu.
func (st *state) check(index int, last bool, data []byte) error {
	if stored, ok := st.frags[index]; ok {
		if bytes.Equal(stored, data) && last == (st.lastIndex == index) {
			return errDuplicate
		}
		return oops.Wrapf(ErrConflictingFragment, "index %d received twice with different content", index)
	}
	if last {
		if st.lastIndex >= 0 {
			return oops.Wrapf(ErrConflictingFragment, "last flag on %d after %d", index, st.lastIndex)
		}
		if st.highest > index {
			return oops.Wrapf(ErrConflictingFragment, "last flag on %d below received index %d", index, st.highest)
		}
	} else if st.lastIndex >= 0 && index > st.lastIndex {
		return oops.Wrapf(ErrConflictingFragment, "index %d beyond last index %d", index, st.lastIndex)
	}
	return nil
}

func (st *state) assemble() []byte {
	size := 0
	for _, b := range st.frags {
		size += len(b)
	}
	out := make([]byte, 0, size)
	for i := 0; i <= st.lastIndex; i++ {
		out = append(out, st.frags[i]...)
	}
	return out
}

// finish removes st and remembers id as finished.
func (r *Reassembler[K]) finish(sh *shard[K], id K, st *state, now time.Time) {
	sh.mu.Lock()
	if sh.states[id] == st {
		delete(sh.states, id)
	}
	sh.finished[id] = now
	sh.mu.Unlock()
}

// Sweep purges states older than the window and forgets finished ids older
// than one more window. It returns the number of states purged.
func (r *Reassembler[K]) Sweep() int {
	now := r.clock.Now()
	purged := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for id, st := range sh.states {
			st.mu.Lock()
			if !st.done && now.Sub(st.created) >= r.window {
				st.done = true
				delete(sh.states, id)
				sh.finished[id] = now
				purged++
			}
			st.mu.Unlock()
		}
		for id, at := range sh.finished {
			if now.Sub(at) >= r.window {
				delete(sh.finished, id)
			}
		}
		sh.mu.Unlock()
	}
	if purged > 0 {
		r.expired.Add(uint64(purged))
		log.WithFields(logger.Fields{
			"at":      "Reassembler.Sweep",
			"expired": purged,
			"reason":  "reassembly window passed",
		}).Warn("Discarded incomplete messages")
	}
	return purged
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reassembler[K]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.window / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Finished reports whether id was delivered or expired within the last
// window. Fragments for a finished id are ignored.
func (r *Reassembler[K]) Finished(id K) bool {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.finished[id]
	return ok
}

// Pending returns the number of messages being collected.
func (r *Reassembler[K]) Pending() int {
	n := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		n += len(sh.states)
		sh.mu.Unlock()
	}
	return n
}

// Stats returns a snapshot of the counters.
func (r *Reassembler[K]) Stats() Stats {
	return Stats{
		Delivered:  r.delivered.Load(),
		Expired:    r.expired.Load(),
		Duplicates: r.duplicates.Load(),
		Rejected:   r.rejected.Load(),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("delivered=%d expired=%d duplicates=%d rejected=%d",
		s.Delivered, s.Expired, s.Duplicates, s.Rejected)
}
