// Package monotonic provides the time sources used for expiry decisions.
//
// Go's time.Now() carries a monotonic reading, so durations between two
// values taken in the same process are immune to wall clock jumps. Every
// component that expires state (reassembly windows, flush delays, hop
// lifetimes) takes a TimeSource so production code reads the system clock
// and tests drive a Manual clock without sleeping.
//
// Usage:
//
//	clock := monotonic.NewManual(time.Now())
//	r := fragment.NewReassembler(handler, fragment.WithClock[uint32](clock))
//	clock.Advance(61 * time.Second)
//	r.Sweep()
package monotonic
