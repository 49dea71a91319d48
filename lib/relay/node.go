package relay

import (
	"context"
	"errors"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/patrickmn/go-cache"
	"github.com/samber/oops"

	"github.com/go-i2p/go-tunnelmsg/lib/packet"
	"github.com/go-i2p/go-tunnelmsg/lib/sendqueue"
)

var log = logger.GetGoI2PLogger()

const (
	// DefaultExpiryGrace is how long after its latest send time a relay is
	// still forwarded, for relays restored after downtime.
	DefaultExpiryGrace = 10 * time.Minute
	// DefaultCleanupInterval is how often expired relays are purged.
	DefaultCleanupInterval = time.Minute

	replayWindow = 30 * time.Minute
)

var (
	// ErrReplay is returned for a RelayRequest id seen before.
	ErrReplay = errors.New("relay request replayed")
	// ErrRateLimited is returned when the source limiter refuses a request.
	ErrRateLimited = errors.New("relay request rate limited")
)

// Option configures a Node.
type Option func(*Node)

// WithSourceLimiter replaces the default per-source limiter.
func WithSourceLimiter(sl *SourceLimiter) Option {
	return func(n *Node) {
		if sl != nil {
			n.limiter = sl
		}
	}
}

// WithExpiryGrace sets how long past its window a relay is kept.
func WithExpiryGrace(d time.Duration) Option {
	return func(n *Node) {
		if d >= 0 {
			n.grace = d
		}
	}
}

// Node is a relay. Incoming bytes go to Receive; responses and forwarded
// packets leave through the send queue.
type Node struct {
	self    common.Hash
	queue   *sendqueue.SendQueue
	store   Store
	limiter *SourceLimiter
	replay  *cache.Cache
	grace   time.Duration
	handler func(from common.Hash, p packet.CommunicationPacket)
}

// NewNode creates a relay for self that sends through queue and persists
// to store.
func NewNode(self common.Hash, queue *sendqueue.SendQueue, store Store, opts ...Option) (*Node, error) {
	if queue == nil {
		return nil, oops.Errorf("send queue cannot be nil")
	}
	if store == nil {
		return nil, oops.Errorf("relay store cannot be nil")
	}
	n := &Node{
		self:    self,
		queue:   queue,
		store:   store,
		limiter: NewSourceLimiter(0, 0, 0),
		replay:  cache.New(replayWindow, 5*time.Minute),
		grace:   DefaultExpiryGrace,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// OnPacket sets a handler for incoming packets that are neither responses
// nor relay requests.
func (n *Node) OnPacket(h func(from common.Hash, p packet.CommunicationPacket)) {
	n.handler = h
}

// Receive handles raw bytes from a peer. It matches the signature of
// sendqueue.Receiver.
func (n *Node) Receive(from common.Hash, b []byte) {
	p, handled, err := n.queue.HandleIncoming(from, b)
	if err != nil || handled {
		return
	}
	req, ok := p.(*packet.RelayRequest)
	if !ok {
		if n.handler != nil {
			n.handler(from, p)
		}
		return
	}
	_ = n.HandleRelayRequest(context.Background(), from, req)
}

// HandleRelayRequest validates req, schedules the packet inside it and
// answers the sender. The returned error says why a request was refused.
func (n *Node) HandleRelayRequest(ctx context.Context, from common.Hash, req *packet.RelayRequest) error {
	if ok, reason := n.limiter.AllowRequest(from); !ok {
		n.respond(from, req, packet.StatusGeneralError)
		return oops.Wrapf(ErrRateLimited, "%s", reason)
	}
	key := string(req.ID[:])
	if _, seen := n.replay.Get(key); seen {
		log.WithFields(logger.Fields{
			"at":         "Node.HandleRelayRequest",
			"request_id": req.ID.String(),
			"reason":     "duplicate request id",
		}).Warn("Dropping relay request")
		return ErrReplay
	}
	n.replay.SetDefault(key, struct{}{})

	pending, inner, err := n.unwrap(req)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":         "Node.HandleRelayRequest",
			"request_id": req.ID.String(),
			"reason":     err.Error(),
		}).Warn("Rejecting relay request")
		n.respond(from, req, packet.StatusInvalidPacket)
		return err
	}

	if err := n.store.Put(ctx, pending); err != nil {
		log.WithFields(logger.Fields{
			"at":         "Node.HandleRelayRequest",
			"request_id": req.ID.String(),
		}).WithError(err).Error("Failed to persist relay")
		n.respond(from, req, packet.StatusGeneralError)
		return err
	}
	if err := n.schedule(pending, inner); err != nil {
		n.respond(from, req, packet.StatusGeneralError)
		return err
	}
	n.respond(from, req, packet.StatusOK)
	return nil
}

// unwrap decodes the relay packet in req and picks its send time.
func (n *Node) unwrap(req *packet.RelayRequest) (PendingRelay, packet.CommunicationPacket, error) {
	dp, err := req.DataPacket()
	if err != nil {
		return PendingRelay{}, nil, err
	}
	rp, ok := dp.(*packet.RelayPacket)
	if !ok {
		return PendingRelay{}, nil, oops.Wrapf(packet.ErrRejectedFormat, "relay request carries %c packet", dp.DataType())
	}
	payload := rp.Unwrap()
	inner, err := packet.DecodeCommunication(payload)
	if err != nil {
		return PendingRelay{}, nil, oops.Wrapf(err, "relayed payload")
	}

	now := time.Now()
	delay := rp.EarliestSend
	if spread := rp.LatestSend - rp.EarliestSend; spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread) + 1))
	}
	return PendingRelay{
		ID:        req.ID,
		NextHop:   rp.NextHop.Hash(),
		Payload:   payload,
		SendAt:    now.Add(delay),
		ExpiresAt: now.Add(rp.LatestSend + n.grace),
	}, inner, nil
}

// schedule queues inner and removes the stored relay once it has left.
func (n *Node) schedule(r PendingRelay, inner packet.CommunicationPacket) error {
	f, err := n.queue.Send(inner, r.NextHop, time.Until(r.SendAt))
	if err != nil {
		return err
	}
	log.WithFields(logger.Fields{
		"at":         "Node.schedule",
		"request_id": r.ID.String(),
		"send_in":    time.Until(r.SendAt).String(),
	}).Debug("Scheduled relay")
	go func() {
		<-f.Done()
		if errors.Is(f.Wait(context.Background()), sendqueue.ErrQueueClosed) {
			return
		}
		if err := n.store.Delete(context.Background(), r.ID); err != nil && !errors.Is(err, ErrStoreClosed) {
			log.WithError(err).Warn("Failed to remove sent relay from store")
		}
	}()
	return nil
}

func (n *Node) respond(to common.Hash, req *packet.RelayRequest, status packet.StatusCode) {
	if _, err := n.queue.Send(packet.NewResponse(req.ID, status, nil), to, 0); err != nil {
		log.WithFields(logger.Fields{
			"at":     "Node.respond",
			"status": status.String(),
		}).WithError(err).Warn("Failed to queue response")
	}
}

// Restore reschedules every unexpired relay in the store. Relays whose
// send time has passed go out at once.
func (n *Node) Restore(ctx context.Context) (int, error) {
	if _, err := n.store.DeleteExpired(ctx, time.Now()); err != nil {
		return 0, err
	}
	pending, err := n.store.Pending(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, r := range pending {
		inner, err := packet.DecodeCommunication(r.Payload)
		if err != nil {
			log.WithFields(logger.Fields{
				"at":         "Node.Restore",
				"request_id": r.ID.String(),
				"reason":     err.Error(),
			}).Warn("Discarding unreadable stored relay")
			_ = n.store.Delete(ctx, r.ID)
			continue
		}
		if err := n.schedule(r, inner); err != nil {
			return restored, err
		}
		restored++
	}
	log.WithFields(logger.Fields{
		"at":       "Node.Restore",
		"restored": restored,
	}).Info("Restored pending relays")
	return restored, nil
}

// Cleanup removes expired relays from the store.
func (n *Node) Cleanup(ctx context.Context) (int, error) {
	removed, err := n.store.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		log.WithFields(logger.Fields{
			"at":      "Node.Cleanup",
			"removed": removed,
			"reason":  "relay window passed",
		}).Warn("Dropped expired relays")
	}
	return removed, nil
}

// Run cleans up the store every interval until ctx is cancelled.
func (n *Node) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := n.Cleanup(ctx); err != nil {
				log.WithError(err).Error("Relay store cleanup failed")
			}
		}
	}
}

// Stats returns the source limiter counters.
func (n *Node) Stats() SourceLimiterStats {
	return n.limiter.Stats()
}
