package sendqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/time/rate"

	"github.com/go-i2p/go-tunnelmsg/lib/packet"
)

var log = logger.GetGoI2PLogger()

// PacketListener is notified after every send attempt.
type PacketListener func(peer common.Hash, p packet.CommunicationPacket, err error)

type scheduled struct {
	pkt    packet.CommunicationPacket
	data   []byte
	peer   common.Hash
	sendAt time.Time
	seq    uint64
	future *SendFuture
}

// schedule orders packets by send time, then by submission order.
type schedule []*scheduled

func (s schedule) Len() int { return len(s) }
func (s schedule) Less(i, j int) bool {
	if s[i].sendAt.Equal(s[j].sendAt) {
		return s[i].seq < s[j].seq
	}
	return s[i].sendAt.Before(s[j].sendAt)
}
func (s schedule) Swap(i, j int)       { s[i], s[j] = s[j], s[i] }
func (s *schedule) Push(x interface{}) { *s = append(*s, x.(*scheduled)) }
func (s *schedule) Pop() interface{} {
	old := *s
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*s = old[:n-1]
	return item
}

// Option configures a SendQueue.
type Option func(*SendQueue)

// WithBandwidth limits the queue to bytesPerSecond with the given burst.
// Zero bytesPerSecond means unlimited.
func WithBandwidth(bytesPerSecond, burst int) Option {
	return func(q *SendQueue) {
		if bytesPerSecond <= 0 {
			q.limiter = nil
			return
		}
		// A single packet must always fit in the bucket.
		burst = max(burst, packet.MaxDatagramSize)
		q.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	}
}

// WithResponseTimeout sets the default wait used by SendRequest.
func WithResponseTimeout(d time.Duration) Option {
	return func(q *SendQueue) {
		if d > 0 {
			q.responseTimeout = d
		}
	}
}

// DefaultResponseTimeout is how long SendRequest waits when no timeout is given.
const DefaultResponseTimeout = 60 * time.Second

// SendQueue sends packets through a Transport no earlier than their
// scheduled time. Run must be running for anything to leave.
//
// Design decisions:
// - One sender goroutine, so the bandwidth limit applies to the whole queue
// - Packets are encoded and size-checked when queued, not when sent
// - Futures of packets still queued when Run returns fail with ErrQueueClosed
type SendQueue struct {
	transport       Transport
	limiter         *rate.Limiter
	registry        *ResponseRegistry
	responseTimeout time.Duration

	mu        sync.Mutex
	queue     schedule
	seq       uint64
	listeners []PacketListener
	closed    bool
	wake      chan struct{}
}

// New creates a queue sending through t.
func New(t Transport, opts ...Option) (*SendQueue, error) {
	if t == nil {
		return nil, oops.Errorf("transport cannot be nil")
	}
	q := &SendQueue{
		transport:       t,
		registry:        NewResponseRegistry(),
		responseTimeout: DefaultResponseTimeout,
		wake:            make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Registry returns the registry SendRequest waits on.
func (q *SendQueue) Registry() *ResponseRegistry {
	return q.registry
}

// AddListener registers l for every later send.
func (q *SendQueue) AddListener(l PacketListener) {
	q.mu.Lock()
	q.listeners = append(q.listeners, l)
	q.mu.Unlock()
}

// Send queues pkt for peer, to leave no earlier than delay from now.
func (q *SendQueue) Send(pkt packet.CommunicationPacket, peer common.Hash, delay time.Duration) (*SendFuture, error) {
	data, err := pkt.Marshal()
	if err != nil {
		return nil, oops.Wrapf(err, "failed to encode %c packet", pkt.CommType())
	}
	if err := packet.CheckSize(data); err != nil {
		log.WithFields(logger.Fields{
			"at":     "SendQueue.Send",
			"type":   string(rune(pkt.CommType())),
			"size":   len(data),
			"reason": "packet exceeds datagram size",
		}).Warn("Refusing to queue packet")
		return nil, err
	}

	f := newSendFuture()
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	q.seq++
	heap.Push(&q.queue, &scheduled{
		pkt:    pkt,
		data:   data,
		peer:   peer,
		sendAt: time.Now().Add(max(delay, 0)),
		seq:    q.seq,
		future: f,
	})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return f, nil
}

// SendRequest sends pkt and waits for the ResponsePacket carrying its id.
// A non-positive timeout uses the queue default.
func (q *SendQueue) SendRequest(ctx context.Context, pkt packet.CommunicationPacket, peer common.Hash, timeout time.Duration) (*packet.ResponsePacket, error) {
	if timeout <= 0 {
		timeout = q.responseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, unregister := q.registry.Register(pkt.PacketID())
	defer unregister()

	f, err := q.Send(pkt, peer, 0)
	if err != nil {
		return nil, err
	}
	if err := f.Wait(ctx); err != nil {
		return nil, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		log.WithFields(logger.Fields{
			"at":         "SendQueue.SendRequest",
			"request_id": pkt.PacketID().String(),
			"timeout":    timeout.String(),
		}).Debug("No response before timeout")
		return nil, oops.Wrapf(ErrSendTimeout, "no response to %s", pkt.PacketID())
	}
}

// HandleIncoming decodes b from peer. Responses are matched to waiting
// requests and handled reports true; other packets are returned for the
// caller to process.
func (q *SendQueue) HandleIncoming(peer common.Hash, b []byte) (pkt packet.CommunicationPacket, handled bool, err error) {
	pkt, err = packet.DecodeCommunication(b)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":     "SendQueue.HandleIncoming",
			"peer":   peer.String(),
			"size":   len(b),
			"reason": err.Error(),
		}).Warn("Dropping incoming packet")
		return nil, false, err
	}
	if resp, ok := pkt.(*packet.ResponsePacket); ok {
		return pkt, q.registry.Resolve(resp), nil
	}
	return pkt, false, nil
}

// Len returns the number of queued packets.
func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Run sends packets as they come due until ctx is cancelled. It may be
// called once.
func (q *SendQueue) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	defer q.close()

	for {
		next, wait := q.next()
		if next != nil {
			q.send(ctx, next)
			continue
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}

// next pops the head if it is due, or returns how long until it is.
func (q *SendQueue) next() (*scheduled, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return nil, time.Hour
	}
	head := q.queue[0]
	if wait := time.Until(head.sendAt); wait > 0 {
		return nil, wait
	}
	return heap.Pop(&q.queue).(*scheduled), 0
}

func (q *SendQueue) send(ctx context.Context, s *scheduled) {
	var err error
	if q.limiter != nil {
		err = q.limiter.WaitN(ctx, len(s.data))
	}
	if err == nil {
		err = q.transport.SendBytes(ctx, s.peer, s.data)
	}
	if err != nil {
		log.WithFields(logger.Fields{
			"at":     "SendQueue.send",
			"peer":   s.peer.String(),
			"type":   string(rune(s.pkt.CommType())),
			"reason": err.Error(),
		}).Warn("Failed to send packet")
	} else {
		log.WithFields(logger.Fields{
			"at":   "SendQueue.send",
			"type": string(rune(s.pkt.CommType())),
			"size": len(s.data),
		}).Debug("Sent packet")
	}
	q.mu.Lock()
	listeners := append([]PacketListener(nil), q.listeners...)
	q.mu.Unlock()
	for _, l := range listeners {
		l(s.peer, s.pkt, err)
	}
	s.future.complete(err)
}

func (q *SendQueue) close() {
	q.mu.Lock()
	q.closed = true
	pending := q.queue
	q.queue = nil
	q.mu.Unlock()
	for _, s := range pending {
		s.future.complete(ErrQueueClosed)
	}
	if len(pending) > 0 {
		log.WithFields(logger.Fields{
			"at":      "SendQueue.Run",
			"dropped": len(pending),
			"reason":  "queue stopped",
		}).Warn("Discarding queued packets")
	}
}
