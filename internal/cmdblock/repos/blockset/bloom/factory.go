package bloom

import (
	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/cmdblock/internal/cmdblock/repos/blockset"
)

// factory implements blockset.BloomFactory on top of a BloomSizer.
type factory struct {
	sizer blockset.BloomSizer
}

// NewFactory returns a BloomFactory that sizes filters with the standard formulas.
func NewFactory() blockset.BloomFactory { return factory{sizer: NewSizer()} }

// New constructs a filter sized for capacity entries at the target false-positive rate.
func (f factory) New(capacity uint64, fpRate float64) blockset.BloomFilter {
	m, k := f.sizer.Size(capacity, fpRate)
	return &filter{bf: bitsbloom.New(uint(m), uint(k))}
}

var _ blockset.BloomFactory = factory{}
var _ blockset.BloomFilter = (*filter)(nil)
