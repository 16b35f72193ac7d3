// Package blockset holds the derived set of blocked command tokens.
//
// A Set is immutable once built: writers assemble a replacement with a
// Builder and publish it, so readers on the dispatch path never observe a
// partially rebuilt set.
package blockset

import (
	"sort"
	"time"
)

// Set is an immutable snapshot of blocked command tokens (raw targets plus
// every alias resolved for them).
type Set struct {
	members map[string]struct{}
	bloom   BloomFilter
	version uint64
	builtAt time.Time
}

// Empty returns a set with no members.
func Empty() *Set {
	return &Set{members: map[string]struct{}{}}
}

// Contains reports exact membership. The bloom prefilter, when present,
// answers the common negative case before the map is consulted.
func (s *Set) Contains(name string) bool {
	if s == nil {
		return false
	}
	if s.bloom != nil && !s.bloom.MightContain([]byte(name)) {
		return false
	}
	_, ok := s.members[name]
	return ok
}

// Len returns the number of blocked tokens.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.members)
}

// Members returns the blocked tokens in sorted order.
func (s *Set) Members() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.members))
	for m := range s.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Version is the monotonically increasing build number assigned by the owner.
func (s *Set) Version() uint64 {
	if s == nil {
		return 0
	}
	return s.version
}

// BuiltAt is when the set was published.
func (s *Set) BuiltAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.builtAt
}
