// Package dedup suppresses mesh packets the bridge has already handled.
//
// The filter is a fixed-capacity table of packet fingerprints. It records a
// fingerprint the first time it is checked and reports it as seen until it is
// evicted; when the table is full the oldest fingerprint makes room for the
// new one.
package dedup

import "github.com/nerrad567/meshbridge/internal/mesh"

// DefaultCapacity matches the seen-packet table of firmware mesh nodes.
const DefaultCapacity = 128

// Filter is a bounded FIFO set of fingerprints.
//
// Filter is not safe for concurrent use; the bridge touches it only from its
// own loop.
type Filter struct {
	ring  []mesh.Fingerprint
	index map[mesh.Fingerprint]struct{}
	next  int
	count int
}

// New creates a filter holding at most capacity fingerprints.
// A capacity below 1 uses DefaultCapacity.
func New(capacity int) *Filter {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Filter{
		ring:  make([]mesh.Fingerprint, capacity),
		index: make(map[mesh.Fingerprint]struct{}, capacity),
	}
}

// HasSeen reports whether fp was recorded before, recording it if not.
func (f *Filter) HasSeen(fp mesh.Fingerprint) bool {
	if _, ok := f.index[fp]; ok {
		return true
	}

	if f.count == len(f.ring) {
		delete(f.index, f.ring[f.next])
	} else {
		f.count++
	}
	f.ring[f.next] = fp
	f.index[fp] = struct{}{}
	f.next = (f.next + 1) % len(f.ring)

	return false
}

// Len returns the number of retained fingerprints.
func (f *Filter) Len() int {
	return f.count
}

// Capacity returns the maximum number of retained fingerprints.
func (f *Filter) Capacity() int {
	return len(f.ring)
}

// Reset forgets every fingerprint.
func (f *Filter) Reset() {
	clear(f.index)
	f.next = 0
	f.count = 0
}
