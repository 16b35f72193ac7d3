package bloom

import (
	"math"

	"github.com/haukened/cmdblock/internal/cmdblock/repos/blockset"
)

// defaultFPRate is used when the requested rate is outside (0, 1).
const defaultFPRate = 0.01

// sizer implements blockset.BloomSizer using the standard formulas:
//
//	m = - (n * ln p) / (ln 2)^2
//	k = (m / n) * ln 2
//
// Results are clamped to at least 1.
type sizer struct{}

// NewSizer returns a BloomSizer implementation.
func NewSizer() blockset.BloomSizer { return sizer{} }

func (s sizer) Size(n uint64, p float64) (uint64, uint8) {
	if n == 0 {
		n = 1
	}
	if !(p > 0 && p < 1) {
		p = defaultFPRate
	}
	ln2 := math.Ln2
	m := uint64(math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2)))
	if m == 0 {
		m = 1
	}
	k := uint8(math.Min(255, math.Max(1, math.Round((float64(m)/float64(n))*ln2))))
	return m, k
}
