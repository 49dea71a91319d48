package sendqueue

import (
	"context"
	"time"

	common "github.com/go-i2p/common/data"
	"golang.org/x/sync/errgroup"

	"github.com/go-i2p/go-tunnelmsg/lib/packet"
)

// BatchResult is the outcome of one request in a PacketBatch.
type BatchResult struct {
	Peer     common.Hash
	Request  packet.CommunicationPacket
	Response *packet.ResponsePacket
	Err      error
}

// PacketBatch sends several requests together and collects their
// responses. It is not safe for concurrent Add.
type PacketBatch struct {
	queue    *SendQueue
	peers    []common.Hash
	requests []packet.CommunicationPacket
}

// NewBatch starts an empty batch on q.
func (q *SendQueue) NewBatch() *PacketBatch {
	return &PacketBatch{queue: q}
}

// Add appends a request for peer.
func (b *PacketBatch) Add(pkt packet.CommunicationPacket, peer common.Hash) {
	b.requests = append(b.requests, pkt)
	b.peers = append(b.peers, peer)
}

// Len returns the number of requests.
func (b *PacketBatch) Len() int {
	return len(b.requests)
}

// Send sends every request and waits up to timeout for all responses.
// Results are in Add order; a request without a response carries its
// error and does not fail the others.
func (b *PacketBatch) Send(ctx context.Context, timeout time.Duration) []BatchResult {
	results := make([]BatchResult, len(b.requests))
	g, gctx := errgroup.WithContext(ctx)
	for i := range b.requests {
		results[i] = BatchResult{Peer: b.peers[i], Request: b.requests[i]}
		g.Go(func() error {
			resp, err := b.queue.SendRequest(gctx, b.requests[i], b.peers[i], timeout)
			results[i].Response = resp
			results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Responses returns the responses that arrived, in Add order.
func Responses(results []BatchResult) []*packet.ResponsePacket {
	var out []*packet.ResponsePacket
	for _, r := range results {
		if r.Response != nil {
			out = append(out, r.Response)
		}
	}
	return out
}
