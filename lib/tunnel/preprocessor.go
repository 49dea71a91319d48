package tunnel

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-tunnelmsg/lib/fragment"
	"github.com/go-i2p/go-tunnelmsg/lib/util/time/monotonic"
)

/*
Preprocessed block, the plaintext the gateway layers into one message

+----+----+----+----+----+----+----+----+
|     checksum      | length  |         |
+----+----+----+----+----+----+         +
| instructions | fragment | instructions |
~ fragment ...                          ~
+----+----+----+----+----+----+----+----+

checksum :: first 4 bytes of SHA-256 over the content
length   :: content length; anything after the content is fill
*/

const (
	blockChecksumSize = 4
	blockLengthSize   = 2
	blockHeaderSize   = blockChecksumSize + blockLengthSize

	// DefaultMaxFlushDelay bounds how long a partial block waits for more messages.
	DefaultMaxFlushDelay = 100 * time.Millisecond
)

var (
	// ErrMessageTooLarge is returned for messages needing more than MaxFragmentNumber+1 fragments.
	ErrMessageTooLarge = errors.New("message too large for tunnel")
	// ErrInvalidBlock is returned for blocks with a bad length or checksum.
	ErrInvalidBlock = errors.New("invalid preprocessed block")
)

// pendingMessage is a message waiting at the gateway, with its fragments
// assigned up front. It is dropped once every fragment has been sealed.
type pendingMessage struct {
	delivery DeliveryConfig
	frags    []fragment.Fragment[uint32]
	next     int
	enqueued time.Time
}

func (pm *pendingMessage) fragmented() bool {
	return len(pm.frags) > 1
}

func (pm *pendingMessage) instructions(i int) DeliveryInstructions {
	f := pm.frags[i]
	if i == 0 {
		return DeliveryInstructions{
			Delivery:   pm.delivery,
			Fragmented: pm.fragmented(),
			MessageID:  f.MessageID,
			Size:       uint16(len(f.Data)),
		}
	}
	return DeliveryInstructions{
		FollowOn:       true,
		MessageID:      f.MessageID,
		FragmentNumber: f.Index,
		Last:           f.Last,
		Size:           uint16(len(f.Data)),
	}
}

// PreprocessorOption configures a Preprocessor.
type PreprocessorOption func(*Preprocessor)

// WithMaxFlushDelay sets how long a partial block may wait.
func WithMaxFlushDelay(d time.Duration) PreprocessorOption {
	return func(p *Preprocessor) {
		if d >= 0 {
			p.maxDelay = d
		}
	}
}

// WithPreprocessorClock replaces the system clock.
func WithPreprocessorClock(src monotonic.TimeSource) PreprocessorOption {
	return func(p *Preprocessor) {
		p.clock = monotonic.OrSystem(src)
	}
}

// Preprocessor packs pending messages into as few blocks as possible. A
// message occupies exactly as many blocks as it has fragments, and small
// messages share blocks. A partial block is sealed only once the oldest
// message in it has waited the flush delay.
//
// Enqueue and Pump may be called from different goroutines.
type Preprocessor struct {
	mu       sync.Mutex
	pending  []*pendingMessage
	capacity int
	maxDelay time.Duration
	clock    monotonic.TimeSource
	msgIDSeq uint32
}

// NewPreprocessor creates a preprocessor producing blocks of at most
// payloadSize bytes, normally Gateway.PayloadSize().
func NewPreprocessor(payloadSize int, opts ...PreprocessorOption) (*Preprocessor, error) {
	capacity := payloadSize - blockHeaderSize
	if capacity < firstInstructionsSize(DeliveryConfig{Type: DeliveryTunnel}, true)+1 {
		return nil, oops.Errorf("payload size %d leaves no room for a fragment", payloadSize)
	}
	p := &Preprocessor{
		capacity: capacity,
		maxDelay: DefaultMaxFlushDelay,
		clock:    monotonic.NewClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Enqueue queues msg for delivery to d and returns the message id its
// fragments carry.
func (p *Preprocessor) Enqueue(msg []byte, d DeliveryConfig) (uint32, error) {
	if err := d.validate(); err != nil {
		return 0, err
	}
	if len(msg) > 0xFFFF*(MaxFragmentNumber+1) {
		return 0, oops.Wrapf(ErrMessageTooLarge, "%d bytes", len(msg))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.msgIDSeq++
	id := p.msgIDSeq

	maxData := p.capacity - firstInstructionsSize(d, false)
	if len(msg) > maxData {
		maxData = p.capacity - firstInstructionsSize(d, true)
	}
	frags, err := fragment.Split(id, append([]byte(nil), msg...), maxData)
	if err != nil {
		return 0, err
	}
	if len(frags) > MaxFragmentNumber+1 {
		log.WithFields(logger.Fields{
			"at":        "Preprocessor.Enqueue",
			"msg_size":  len(msg),
			"fragments": len(frags),
			"reason":    "too many fragments",
		}).Error("Rejecting message")
		return 0, oops.Wrapf(ErrMessageTooLarge, "%d bytes needs %d fragments", len(msg), len(frags))
	}

	p.pending = append(p.pending, &pendingMessage{
		delivery: d,
		frags:    frags,
		enqueued: p.clock.Now(),
	})
	log.WithFields(logger.Fields{
		"at":         "Preprocessor.Enqueue",
		"message_id": id,
		"msg_size":   len(msg),
		"fragments":  len(frags),
	}).Debug("Queued message")
	return id, nil
}

// placement is one fragment scheduled into the block being planned.
type placement struct {
	msg  int
	frag int
}

// plan fills one block from the head of the queue. sealable reports whether
// the block should go out now: it is full, it is due, or force is set.
func (p *Preprocessor) plan(now time.Time, force bool) (placements []placement, sealable bool) {
	if len(p.pending) == 0 {
		return nil, false
	}
	remaining := p.capacity
	for mi, pm := range p.pending {
		for fi := pm.next; fi < len(pm.frags); fi++ {
			di := pm.instructions(fi)
			need := di.Len() + int(di.Size)
			if need > remaining {
				return placements, true
			}
			remaining -= need
			placements = append(placements, placement{msg: mi, frag: fi})
		}
	}
	due := now.Sub(p.pending[0].enqueued) >= p.maxDelay
	return placements, force || due
}

// Pump seals at most one block. It returns nil when nothing is ready, and
// reports whether another call would seal another block right away.
func (p *Preprocessor) Pump() (block []byte, more bool, err error) {
	return p.pump(false)
}

// Flush seals every pending fragment regardless of the flush delay.
func (p *Preprocessor) Flush() ([][]byte, error) {
	var blocks [][]byte
	for {
		block, more, err := p.pump(true)
		if err != nil {
			return blocks, err
		}
		if block != nil {
			blocks = append(blocks, block)
		}
		if !more {
			return blocks, nil
		}
	}
}

func (p *Preprocessor) pump(force bool) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	placements, sealable := p.plan(now, force)
	if !sealable || len(placements) == 0 {
		return nil, false, nil
	}

	content := make([]byte, 0, p.capacity)
	for _, pl := range placements {
		pm := p.pending[pl.msg]
		di := pm.instructions(pl.frag)
		var err error
		content, err = di.AppendTo(content)
		if err != nil {
			return nil, false, err
		}
		content = append(content, pm.frags[pl.frag].Data...)
		pm.next = pl.frag + 1
	}

	done := 0
	for done < len(p.pending) && p.pending[done].next == len(p.pending[done].frags) {
		done++
	}
	p.pending = p.pending[done:]

	_, more := p.plan(now, force)
	log.WithFields(logger.Fields{
		"at":          "Preprocessor.Pump",
		"fragments":   len(placements),
		"content":     len(content),
		"pending_msg": len(p.pending),
	}).Debug("Sealed block")
	return sealBlock(content), more, nil
}

// Pending returns the number of messages with unsealed fragments.
func (p *Preprocessor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// BlockSink receives sealed blocks from Run.
type BlockSink func(block []byte) error

// Run pumps every interval until ctx is cancelled, handing sealed blocks to
// sink. Sink errors are logged and the loop keeps going. Remaining messages
// are flushed on exit.
func (p *Preprocessor) Run(ctx context.Context, interval time.Duration, sink BlockSink) {
	if interval <= 0 {
		interval = p.maxDelay / 2
		if interval <= 0 {
			interval = time.Millisecond
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	emit := func(block []byte) {
		if err := sink(block); err != nil {
			log.WithFields(logger.Fields{
				"at":     "Preprocessor.Run",
				"reason": "sink failed",
			}).WithError(err).Warn("Dropping sealed block")
		}
	}

	for {
		select {
		case <-ctx.Done():
			blocks, err := p.Flush()
			for _, b := range blocks {
				emit(b)
			}
			if err != nil {
				log.WithError(err).Error("Failed to flush preprocessor on shutdown")
			}
			return
		case <-ticker.C:
			for more := true; more; {
				var (
					block []byte
					err   error
				)
				block, more, err = p.Pump()
				if err != nil {
					log.WithError(err).Error("Preprocessor pump failed")
					break
				}
				if block != nil {
					emit(block)
				}
			}
		}
	}
}

func sealBlock(content []byte) []byte {
	block := make([]byte, blockHeaderSize, blockHeaderSize+len(content))
	sum := sha256.Sum256(content)
	copy(block[:blockChecksumSize], sum[:blockChecksumSize])
	binary.BigEndian.PutUint16(block[blockChecksumSize:], uint16(len(content)))
	return append(block, content...)
}

// openBlock validates a block, which may carry fill after its content, and
// returns the content.
func openBlock(block []byte) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, oops.Wrapf(ErrInvalidBlock, "block is %d bytes", len(block))
	}
	n := int(binary.BigEndian.Uint16(block[blockChecksumSize:]))
	if n > len(block)-blockHeaderSize {
		return nil, oops.Wrapf(ErrInvalidBlock, "content length %d exceeds block", n)
	}
	content := block[blockHeaderSize : blockHeaderSize+n]
	sum := sha256.Sum256(content)
	if [blockChecksumSize]byte(sum[:blockChecksumSize]) != [blockChecksumSize]byte(block[:blockChecksumSize]) {
		return nil, oops.Wrapf(ErrInvalidBlock, "checksum mismatch")
	}
	return content, nil
}
