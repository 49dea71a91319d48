package email

import (
	"context"
	"errors"
	"sync"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-tunnelmsg/lib/common/uniqueid"
	"github.com/go-i2p/go-tunnelmsg/lib/fragment"
	"github.com/go-i2p/go-tunnelmsg/lib/packet"
	"github.com/go-i2p/go-tunnelmsg/lib/util/time/monotonic"
)

// ErrFragmentCount is returned when packets of one message disagree on
// how many fragments it has.
var ErrFragmentCount = errors.New("inconsistent fragment count")

// Deletion is what the recipient needs to delete one stored packet.
type Deletion struct {
	Key         common.Hash
	DeletionKey uniqueid.UniqueId
}

// Message is a reassembled email.
type Message struct {
	ID        uniqueid.UniqueId
	Content   []byte
	Deletions []Deletion
}

// DeletionRequests builds one DeletionRequest per stored packet of m.
func (m *Message) DeletionRequests() ([]*packet.DeletionRequest, error) {
	reqs := make([]*packet.DeletionRequest, len(m.Deletions))
	for i, d := range m.Deletions {
		id, err := uniqueid.New()
		if err != nil {
			return nil, err
		}
		reqs[i] = &packet.DeletionRequest{ID: id, Key: d.Key, DeletionKey: d.DeletionKey}
	}
	return reqs, nil
}

// Handler receives each completed message once.
type Handler func(m *Message)

type pendingMessage struct {
	count     int
	deletions map[int]Deletion
	seen      time.Time
}

// Collector decrypts EmailPackets and reassembles them into messages.
// It is safe for concurrent use.
type Collector struct {
	dec         packet.Decrypter
	handler     Handler
	reassembler *fragment.Reassembler[uniqueid.UniqueId]
	clock       monotonic.TimeSource
	window      time.Duration

	mu      sync.Mutex
	pending map[uniqueid.UniqueId]*pendingMessage
}

// NewCollector creates a collector that opens packets with dec. A
// non-positive window uses fragment.DefaultMaxDefragmentTime and a nil
// clock uses the system clock.
func NewCollector(dec packet.Decrypter, handler Handler, window time.Duration, clock monotonic.TimeSource) (*Collector, error) {
	if dec == nil {
		return nil, packet.ErrNilCipher
	}
	if handler == nil {
		return nil, oops.Errorf("message handler cannot be nil")
	}
	if window <= 0 {
		window = fragment.DefaultMaxDefragmentTime
	}
	c := &Collector{
		dec:     dec,
		handler: handler,
		clock:   monotonic.OrSystem(clock),
		window:  window,
		pending: make(map[uniqueid.UniqueId]*pendingMessage),
	}
	c.reassembler = fragment.NewReassembler(c.complete,
		fragment.WithMaxDefragmentTime[uniqueid.UniqueId](window),
		fragment.WithMaxFragments[uniqueid.UniqueId](packet.MaxFieldLength),
		fragment.WithClock[uniqueid.UniqueId](c.clock),
	)
	return c, nil
}

// Add decrypts p and stores its fragment. It reports whether p completed
// its message, in which case the handler has already run.
func (c *Collector) Add(p *packet.EmailPacket) (bool, error) {
	content, err := p.Decrypt(c.dec)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":     "Collector.Add",
			"reason": err.Error(),
		}).Warn("Dropping email packet")
		return false, err
	}

	frag := fragment.Fragment[uniqueid.UniqueId]{
		MessageID: content.MessageID,
		Index:     content.FragmentIndex,
		Last:      content.FragmentIndex == content.NumFragments-1,
		Data:      content.Content,
	}
	if c.reassembler.Finished(content.MessageID) {
		return c.reassembler.Add(frag)
	}

	c.mu.Lock()
	pm, ok := c.pending[content.MessageID]
	if !ok {
		pm = &pendingMessage{
			count:     content.NumFragments,
			deletions: make(map[int]Deletion),
			seen:      c.clock.Now(),
		}
		c.pending[content.MessageID] = pm
	}
	if pm.count != content.NumFragments {
		c.mu.Unlock()
		log.WithFields(logger.Fields{
			"at":             "Collector.Add",
			"message_id":     content.MessageID.String(),
			"fragment_index": content.FragmentIndex,
			"num_fragments":  content.NumFragments,
			"expected":       pm.count,
			"reason":         "fragment count differs from earlier packet",
		}).Error("Protocol invariant violated, dropping email packet")
		return false, oops.Wrapf(ErrFragmentCount, "got %d, earlier packets said %d", content.NumFragments, pm.count)
	}
	if _, dup := pm.deletions[content.FragmentIndex]; !dup {
		pm.deletions[content.FragmentIndex] = Deletion{Key: p.Key, DeletionKey: content.DeletionKey}
	}
	c.mu.Unlock()

	delivered, err := c.reassembler.Add(frag)
	rejectedFirst := err != nil && !ok
	if !delivered && (rejectedFirst || c.reassembler.Finished(content.MessageID)) {
		c.forget(content.MessageID, pm)
	}
	return delivered, err
}

func (c *Collector) forget(id uniqueid.UniqueId, pm *pendingMessage) {
	c.mu.Lock()
	if c.pending[id] == pm {
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

// Pending returns the number of messages with packets collected so far.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Collector) complete(id uniqueid.UniqueId, content []byte) {
	c.mu.Lock()
	pm := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	m := &Message{ID: id, Content: content}
	if pm != nil {
		for i := 0; i < pm.count; i++ {
			if d, ok := pm.deletions[i]; ok {
				m.Deletions = append(m.Deletions, d)
			}
		}
	}
	log.WithFields(logger.Fields{
		"at":         "Collector.complete",
		"message_id": id.String(),
		"size":       len(content),
	}).Debug("Email reassembled")
	c.handler(m)
}

// Sweep discards messages that did not complete within the window.
func (c *Collector) Sweep() int {
	purged := c.reassembler.Sweep()
	now := c.clock.Now()
	c.mu.Lock()
	for id, pm := range c.pending {
		if now.Sub(pm.seen) >= c.window {
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()
	return purged
}

// Run sweeps every interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.window / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Stats returns the reassembly counters.
func (c *Collector) Stats() fragment.Stats {
	return c.reassembler.Stats()
}
