package tunnel

import common "github.com/go-i2p/common/data"

// PeerFilter accepts or rejects candidate hops during selection.
type PeerFilter interface {
	// Name is used in logs.
	Name() string
	Accept(peer common.Hash) bool
}

// FuncFilter wraps a function as a PeerFilter.
type FuncFilter struct {
	name     string
	acceptFn func(peer common.Hash) bool
}

// NewFuncFilter creates a filter from a function.
func NewFuncFilter(name string, acceptFn func(peer common.Hash) bool) *FuncFilter {
	return &FuncFilter{name: name, acceptFn: acceptFn}
}

func (f *FuncFilter) Name() string                 { return f.name }
func (f *FuncFilter) Accept(peer common.Hash) bool { return f.acceptFn(peer) }

// InvertFilter negates another filter.
type InvertFilter struct {
	inner PeerFilter
}

// NewInvertFilter creates a filter that inverts inner.
func NewInvertFilter(inner PeerFilter) *InvertFilter {
	return &InvertFilter{inner: inner}
}

func (f *InvertFilter) Name() string                 { return "NOT(" + f.inner.Name() + ")" }
func (f *InvertFilter) Accept(peer common.Hash) bool { return !f.inner.Accept(peer) }

// ExcludeFilter rejects a fixed set of peers.
func ExcludeFilter(peers ...common.Hash) *FuncFilter {
	set := make(map[common.Hash]struct{}, len(peers))
	for _, p := range peers {
		set[p] = struct{}{}
	}
	return NewFuncFilter("exclude", func(peer common.Hash) bool {
		_, excluded := set[peer]
		return !excluded
	})
}

var (
	_ PeerFilter = (*FuncFilter)(nil)
	_ PeerFilter = (*InvertFilter)(nil)
)
