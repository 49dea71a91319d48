package tunnel

import (
	"context"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-tunnelmsg/lib/fragment"
	"github.com/go-i2p/go-tunnelmsg/lib/util/time/monotonic"
)

// MessageHandler receives each message leaving the tunnel, with the
// delivery instructions of its first fragment.
type MessageHandler func(d DeliveryConfig, msg []byte)

// FragmentHandler turns the plaintext of endpoint messages back into the
// messages that were enqueued at the gateway.
type FragmentHandler struct {
	handler     MessageHandler
	reassembler *fragment.Reassembler[uint32]
	clock       monotonic.TimeSource
	window      time.Duration

	mu sync.Mutex
	// delivery holds first fragment instructions until the message completes.
	delivery map[uint32]pendingDelivery
}

type pendingDelivery struct {
	config DeliveryConfig
	seen   time.Time
}

// NewFragmentHandler creates a handler that reassembles within window.
// A nil clock uses the system clock; a non-positive window uses the default.
func NewFragmentHandler(handler MessageHandler, window time.Duration, clock monotonic.TimeSource) (*FragmentHandler, error) {
	if handler == nil {
		return nil, oops.Errorf("message handler cannot be nil")
	}
	if window <= 0 {
		window = fragment.DefaultMaxDefragmentTime
	}
	fh := &FragmentHandler{
		handler:  handler,
		clock:    monotonic.OrSystem(clock),
		window:   window,
		delivery: make(map[uint32]pendingDelivery),
	}
	fh.reassembler = fragment.NewReassembler(fh.complete,
		fragment.WithMaxDefragmentTime[uint32](window),
		fragment.WithMaxFragments[uint32](MaxFragmentNumber+1),
		fragment.WithClock[uint32](fh.clock),
	)
	return fh, nil
}

// HandleBlock parses one endpoint plaintext. Unfragmented messages are
// delivered at once; fragments go to the reassembler. Bad fragments are
// dropped individually; unreadable instructions end the block.
func (fh *FragmentHandler) HandleBlock(block []byte) error {
	content, err := openBlock(block)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":     "FragmentHandler.HandleBlock",
			"reason": err.Error(),
		}).Warn("Dropping block")
		return err
	}

	for len(content) > 0 {
		di, rest, err := readDeliveryInstructions(content)
		if err != nil {
			log.WithFields(logger.Fields{
				"at":     "FragmentHandler.HandleBlock",
				"reason": err.Error(),
			}).Warn("Dropping rest of block")
			return err
		}
		if int(di.Size) > len(rest) {
			err := oops.Wrapf(ErrInvalidDeliveryInstructions, "fragment size %d exceeds remaining %d", di.Size, len(rest))
			log.WithFields(logger.Fields{
				"at":     "FragmentHandler.HandleBlock",
				"reason": err.Error(),
			}).Warn("Dropping rest of block")
			return err
		}
		data := rest[:di.Size]
		content = rest[di.Size:]
		fh.handleFragment(di, data)
	}
	return nil
}

func (fh *FragmentHandler) handleFragment(di *DeliveryInstructions, data []byte) {
	if !di.FollowOn && !di.Fragmented {
		fh.handler(di.Delivery, append([]byte(nil), data...))
		return
	}

	f := fragment.Fragment[uint32]{
		MessageID: di.MessageID,
		Index:     di.FragmentNumber,
		Last:      di.Last,
		Data:      data,
	}
	if !di.FollowOn {
		fh.mu.Lock()
		fh.delivery[di.MessageID] = pendingDelivery{config: di.Delivery, seen: fh.clock.Now()}
		fh.mu.Unlock()
	}
	if _, err := fh.reassembler.Add(f); err != nil {
		log.WithFields(logger.Fields{
			"at":             "FragmentHandler.handleFragment",
			"message_id":     di.MessageID,
			"fragment_index": di.FragmentNumber,
			"reason":         err.Error(),
		}).Warn("Dropped fragment")
	}
}

func (fh *FragmentHandler) complete(id uint32, msg []byte) {
	fh.mu.Lock()
	pd, ok := fh.delivery[id]
	delete(fh.delivery, id)
	fh.mu.Unlock()
	if !ok {
		log.WithFields(logger.Fields{
			"at":         "FragmentHandler.complete",
			"message_id": id,
			"reason":     "no first fragment instructions",
		}).Error("Dropping reassembled message")
		return
	}
	fh.handler(pd.config, msg)
}

// Sweep expires incomplete messages and forgets their delivery instructions.
func (fh *FragmentHandler) Sweep() int {
	purged := fh.reassembler.Sweep()
	now := fh.clock.Now()
	fh.mu.Lock()
	for id, pd := range fh.delivery {
		if now.Sub(pd.seen) >= fh.window {
			delete(fh.delivery, id)
		}
	}
	fh.mu.Unlock()
	return purged
}

// Run sweeps every interval until ctx is cancelled.
func (fh *FragmentHandler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = fh.window / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fh.Sweep()
		}
	}
}

// Stats returns the reassembly counters.
func (fh *FragmentHandler) Stats() fragment.Stats {
	return fh.reassembler.Stats()
}
