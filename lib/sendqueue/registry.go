package sendqueue

import (
	"sync"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-tunnelmsg/lib/common/uniqueid"
	"github.com/go-i2p/go-tunnelmsg/lib/packet"
)

// ResponseRegistry matches ResponsePackets to the requests waiting for
// them by packet id. Each id is answered at most once.
type ResponseRegistry struct {
	mu      sync.Mutex
	waiting map[uniqueid.UniqueId]chan *packet.ResponsePacket
}

// NewResponseRegistry creates an empty registry.
func NewResponseRegistry() *ResponseRegistry {
	return &ResponseRegistry{waiting: make(map[uniqueid.UniqueId]chan *packet.ResponsePacket)}
}

// Register starts waiting for the response to id. The returned cancel
// must be called once the caller stops waiting.
func (r *ResponseRegistry) Register(id uniqueid.UniqueId) (<-chan *packet.ResponsePacket, func()) {
	ch := make(chan *packet.ResponsePacket, 1)
	r.mu.Lock()
	r.waiting[id] = ch
	r.mu.Unlock()
	return ch, func() {
		r.mu.Lock()
		if r.waiting[id] == ch {
			delete(r.waiting, id)
		}
		r.mu.Unlock()
	}
}

// Resolve delivers resp to the request with the same id. It reports
// whether anyone was waiting.
func (r *ResponseRegistry) Resolve(resp *packet.ResponsePacket) bool {
	r.mu.Lock()
	ch, ok := r.waiting[resp.ID]
	delete(r.waiting, resp.ID)
	r.mu.Unlock()
	if !ok {
		log.WithFields(logger.Fields{
			"at":         "ResponseRegistry.Resolve",
			"request_id": resp.ID.String(),
			"reason":     "no pending request",
		}).Debug("Ignoring response")
		return false
	}
	ch <- resp
	return true
}

// Pending returns the number of requests waiting for a response.
func (r *ResponseRegistry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiting)
}
