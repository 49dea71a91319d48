package tunnel

import (
	"errors"
	"sync"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// ErrInsufficientPeers is returned when fewer candidates pass the filters
// than hops were requested.
var ErrInsufficientPeers = errors.New("not enough peers for tunnel")

// PeerSelector picks the routers that become a tunnel's hops.
type PeerSelector interface {
	SelectPeers(count int, exclude []common.Hash) ([]common.Hash, error)
}

// RandomPeerSelector draws distinct hops uniformly from a known peer set.
// Candidates must pass every filter. It is safe for concurrent use.
type RandomPeerSelector struct {
	mu      sync.RWMutex
	peers   []common.Hash
	filters []PeerFilter
}

// NewRandomPeerSelector creates a selector over peers.
func NewRandomPeerSelector(peers []common.Hash, filters ...PeerFilter) *RandomPeerSelector {
	s := &RandomPeerSelector{filters: filters}
	s.SetPeers(peers)
	return s
}

// SetPeers replaces the candidate set. Duplicates are dropped.
func (s *RandomPeerSelector) SetPeers(peers []common.Hash) {
	seen := make(map[common.Hash]struct{}, len(peers))
	unique := make([]common.Hash, 0, len(peers))
	for _, p := range peers {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		unique = append(unique, p)
	}
	s.mu.Lock()
	s.peers = unique
	s.mu.Unlock()
}

// SelectPeers returns count distinct peers, none of them in exclude.
func (s *RandomPeerSelector) SelectPeers(count int, exclude []common.Hash) ([]common.Hash, error) {
	if count <= 0 {
		return nil, oops.Errorf("count must be > 0, got %d", count)
	}
	filters := append([]PeerFilter{ExcludeFilter(exclude...)}, s.filters...)

	s.mu.RLock()
	candidates := make([]common.Hash, 0, len(s.peers))
	for _, p := range s.peers {
		if acceptAll(filters, p) {
			candidates = append(candidates, p)
		}
	}
	s.mu.RUnlock()

	if len(candidates) < count {
		log.WithFields(logger.Fields{
			"at":         "RandomPeerSelector.SelectPeers",
			"requested":  count,
			"candidates": len(candidates),
			"reason":     "too few peers pass filters",
		}).Warn("Peer selection failed")
		return nil, oops.Wrapf(ErrInsufficientPeers, "need %d, have %d", count, len(candidates))
	}

	// Partial Fisher-Yates shuffle.
	for i := 0; i < count; i++ {
		k := i + rand.Intn(len(candidates)-i)
		candidates[i], candidates[k] = candidates[k], candidates[i]
	}
	return candidates[:count], nil
}

func acceptAll(filters []PeerFilter, peer common.Hash) bool {
	for _, f := range filters {
		if !f.Accept(peer) {
			return false
		}
	}
	return true
}

// BuildTunnel selects hops excluding the gateway and creates the full hop
// chain for them with fresh keys.
func BuildTunnel(selector PeerSelector, gateway common.Hash, hops int, expiration time.Time) ([]common.Hash, []*HopConfig, error) {
	if hops < 1 || hops > MaxHops {
		return nil, nil, oops.Wrapf(ErrHopCount, "%d hops", hops)
	}
	peers, err := selector.SelectPeers(hops, []common.Hash{gateway})
	if err != nil {
		return nil, nil, err
	}
	chain, err := RandomHopChain(gateway, peers, expiration)
	if err != nil {
		return nil, nil, err
	}
	log.WithFields(logger.Fields{
		"at":        "BuildTunnel",
		"hops":      hops,
		"tunnel_id": chain[0].ReceiveTunnelID(),
	}).Debug("Built tunnel")
	return peers, chain, nil
}
