package wire

import "sync/atomic"

// IDGenerator assigns a unique id to every outgoing frame from a given
// originator, per spec.md §4.1. It is safe for concurrent use.
type IDGenerator struct {
	next atomic.Uint32
}

// Next returns the next id, starting at 1 (0 is never assigned so it can
// remain available as a sentinel for "no request" in callers that want one).
func (g *IDGenerator) Next() uint32 {
	return g.next.Add(1)
}
