package blockset

import "time"

// Builder accumulates members for a new Set. A Builder is not safe for
// concurrent use and must not be reused after Build.
type Builder struct {
	factory BloomFactory
	fpRate  float64
	members map[string]struct{}
}

// NewBuilder starts an empty builder. factory may be nil, in which case the
// built Set has no bloom prefilter.
func NewBuilder(factory BloomFactory, fpRate float64, sizeHint int) *Builder {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Builder{
		factory: factory,
		fpRate:  fpRate,
		members: make(map[string]struct{}, sizeHint),
	}
}

// From seeds the builder with every member of s (copy-on-write edits).
func (b *Builder) From(s *Set) *Builder {
	if s == nil {
		return b
	}
	for m := range s.members {
		b.members[m] = struct{}{}
	}
	return b
}

// Add inserts names.
func (b *Builder) Add(names ...string) *Builder {
	for _, n := range names {
		b.members[n] = struct{}{}
	}
	return b
}

// Remove deletes name and reports whether it was present.
func (b *Builder) Remove(name string) bool {
	if _, ok := b.members[name]; !ok {
		return false
	}
	delete(b.members, name)
	return true
}

// Has reports whether name has been added.
func (b *Builder) Has(name string) bool {
	_, ok := b.members[name]
	return ok
}

// Build freezes the accumulated members into a Set.
func (b *Builder) Build(version uint64, builtAt time.Time) *Set {
	s := &Set{
		members: b.members,
		version: version,
		builtAt: builtAt,
	}
	if b.factory != nil {
		bf := b.factory.New(uint64(len(b.members)), b.fpRate)
		for m := range b.members {
			bf.Add([]byte(m))
		}
		s.bloom = bf
	}
	b.members = nil
	return s
}
