package relay

import (
	"sync"
	"sync/atomic"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/logger"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	// DefaultRequestsPerMinute is the sustained relay request rate allowed per source.
	DefaultRequestsPerMinute = 60
	// DefaultSourceBurst is the number of back-to-back requests a source may send.
	DefaultSourceBurst = 10
	// DefaultBanDuration is how long a source that keeps exceeding its rate is refused.
	DefaultBanDuration = 10 * time.Minute

	// banThreshold is the number of rejections that turns into a ban.
	banThreshold = 10
	// sourceIdleTTL is how long an idle source is remembered.
	sourceIdleTTL = 10 * time.Minute
)

// SourceLimiter limits relay requests per sending peer with a token
// bucket each, and bans sources that keep hitting their limit.
//
// Design decisions:
// - Short bursts are allowed, sustained rates are not
// - Idle sources are forgotten by the cache so tracking cannot grow without bound
// - Safe for concurrent use
type SourceLimiter struct {
	sources     *cache.Cache
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	banDuration time.Duration

	totalRequests   atomic.Uint64
	totalRejections atomic.Uint64
}

type sourceState struct {
	limiter     *rate.Limiter
	mu          sync.Mutex
	rejects     int
	bannedUntil time.Time
}

// NewSourceLimiter creates a limiter allowing requestsPerMinute per source
// with the given burst. Non-positive values use the defaults.
func NewSourceLimiter(requestsPerMinute, burst int, banDuration time.Duration) *SourceLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	if burst <= 0 {
		burst = DefaultSourceBurst
	}
	if banDuration <= 0 {
		banDuration = DefaultBanDuration
	}
	return &SourceLimiter{
		sources:     cache.New(max(sourceIdleTTL, banDuration), time.Minute),
		limit:       rate.Limit(float64(requestsPerMinute) / 60),
		burst:       burst,
		banDuration: banDuration,
	}
}

func (sl *SourceLimiter) state(source common.Hash) *sourceState {
	key := string(source[:])
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if v, ok := sl.sources.Get(key); ok {
		sl.sources.SetDefault(key, v)
		return v.(*sourceState)
	}
	st := &sourceState{limiter: rate.NewLimiter(sl.limit, sl.burst)}
	sl.sources.SetDefault(key, st)
	return st
}

// AllowRequest reports whether a request from source may proceed. When it
// may not, reason says why.
func (sl *SourceLimiter) AllowRequest(source common.Hash) (bool, string) {
	sl.totalRequests.Add(1)
	st := sl.state(source)
	now := time.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	if now.Before(st.bannedUntil) {
		sl.totalRejections.Add(1)
		return false, "source_banned"
	}
	if st.limiter.AllowN(now, 1) {
		return true, ""
	}

	sl.totalRejections.Add(1)
	st.rejects++
	if st.rejects > banThreshold {
		st.bannedUntil = now.Add(sl.banDuration)
		st.rejects = 0
		log.WithFields(logger.Fields{
			"at":           "SourceLimiter.AllowRequest",
			"source":       truncateHash(source),
			"ban_duration": sl.banDuration.String(),
			"reason":       "source_auto_banned",
		}).Warn("Banning source after repeated rate limit violations")
		return false, "source_auto_banned"
	}
	log.WithFields(logger.Fields{
		"at":      "SourceLimiter.AllowRequest",
		"source":  truncateHash(source),
		"rejects": st.rejects,
		"reason":  "rate_limit_exceeded",
	}).Debug("Rejecting relay request")
	return false, "rate_limit_exceeded"
}

// IsBanned reports whether source is currently banned.
func (sl *SourceLimiter) IsBanned(source common.Hash) bool {
	v, ok := sl.sources.Get(string(source[:]))
	if !ok {
		return false
	}
	st := v.(*sourceState)
	st.mu.Lock()
	defer st.mu.Unlock()
	return time.Now().Before(st.bannedUntil)
}

// SourceLimiterStats summarizes limiter activity.
type SourceLimiterStats struct {
	TrackedSources  int
	TotalRequests   uint64
	TotalRejections uint64
}

// Stats returns the current counters.
func (sl *SourceLimiter) Stats() SourceLimiterStats {
	return SourceLimiterStats{
		TrackedSources:  sl.sources.ItemCount(),
		TotalRequests:   sl.totalRequests.Load(),
		TotalRejections: sl.totalRejections.Load(),
	}
}

// truncateHash shortens a hash for logs.
func truncateHash(h common.Hash) string {
	s := h.String()
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
