// Package pointerset implements an ordered, deduplicating set of heap
// addresses. It is the work queue and visited-set used throughout the
// collector: the same structure serves as the root set during discovery,
// the live set during tracing, and the queue the compactor iterates in
// address order.
//
// Membership testing is backed by a Set3 hash set; ordering (needed for
// PopMin/Nth/address-order iteration) is kept in a separate sorted slice.
package pointerset

import (
	"sort"

	set3 "github.com/TomTonic/Set3"
)

// Set is a sorted, deduplicating collection of uintptr addresses.
// The zero value is not usable; construct one with New.
type Set struct {
	sorted []uintptr
	seen   *set3.Set3[uintptr]
}

// New returns an empty Set.
func New() *Set {
	return &Set{seen: set3.Empty[uintptr]()}
}

// NewWithCapacity returns an empty Set pre-sized for n elements.
func NewWithCapacity(n int) *Set {
	return &Set{
		sorted: make([]uintptr, 0, n),
		seen:   set3.EmptyWithCapacity[uintptr](uint32(n)),
	}
}

// Insert adds p to the set. It reports whether p was not already present;
// duplicate inserts are silently absorbed and return false.
func (s *Set) Insert(p uintptr) bool {
	if s.seen.Contains(p) {
		return false
	}
	s.seen.Add(p)
	i := sort.Search(len(s.sorted), func(i int) bool { return s.sorted[i] >= p })
	s.sorted = append(s.sorted, 0)
	copy(s.sorted[i+1:], s.sorted[i:])
	s.sorted[i] = p
	return true
}

// PopMin removes and returns the smallest address in the set.
// The second return value is false if the set was empty.
func (s *Set) PopMin() (uintptr, bool) {
	if len(s.sorted) == 0 {
		return 0, false
	}
	p := s.sorted[0]
	s.sorted = s.sorted[1:]
	s.seen.Remove(p)
	return p, true
}

// Remove deletes p from the set, if present. It reports whether p was
// a member.
func (s *Set) Remove(p uintptr) bool {
	if !s.seen.Contains(p) {
		return false
	}
	s.seen.Remove(p)
	i := sort.Search(len(s.sorted), func(i int) bool { return s.sorted[i] >= p })
	if i < len(s.sorted) && s.sorted[i] == p {
		s.sorted = append(s.sorted[:i], s.sorted[i+1:]...)
	}
	return true
}

// Nth returns the n-th smallest address (0-indexed) without removing it.
func (s *Set) Nth(n int) (uintptr, bool) {
	if n < 0 || n >= len(s.sorted) {
		return 0, false
	}
	return s.sorted[n], true
}

// Contains reports whether p is a member of the set.
func (s *Set) Contains(p uintptr) bool {
	return s.seen.Contains(p)
}

// Len returns the number of distinct addresses currently held.
func (s *Set) Len() int {
	return len(s.sorted)
}

// Empty reports whether the set holds no addresses.
func (s *Set) Empty() bool {
	return len(s.sorted) == 0
}

// Each calls fn for every address in ascending order. fn must not mutate
// the set.
func (s *Set) Each(fn func(uintptr)) {
	for _, p := range s.sorted {
		fn(p)
	}
}

// Slice returns a copy of the set's contents in ascending order.
func (s *Set) Slice() []uintptr {
	out := make([]uintptr, len(s.sorted))
	copy(out, s.sorted)
	return out
}
