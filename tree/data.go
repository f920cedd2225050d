package tree

import (
	"github.com/ztq1996/TreeCorr/geom"
)

// Datum constrains the three payload kinds carried by catalog points: a
// spin-2 shear, a scalar field value, or a pure count. The methods are
// the accumulation arithmetic; generic code over a Datum is monomorphic
// after instantiation, so the per-point inner loops carry no dispatch.
type Datum[D any] interface {
	Add(q D) D
	Scale(w float64) D
}

// Shear is a complex spin-2 value, g1 + i*g2.
type Shear complex128

func (g Shear) Add(q Shear) Shear     { return g + q }
func (g Shear) Scale(w float64) Shear { return g * Shear(complex(w, 0)) }

// Scalar is a real field sample, e.g. a convergence kappa.
type Scalar float64

func (k Scalar) Add(q Scalar) Scalar    { return k + q }
func (k Scalar) Scale(w float64) Scalar { return k * Scalar(w) }

// Count carries nothing beyond the weight already stored on every
// CellData.
type Count struct{}

func (Count) Add(Count) Count     { return Count{} }
func (Count) Scale(float64) Count { return Count{} }

// CellData is the summary aggregate of one or more catalog points: the
// weighted centroid, the total weight, the raw weighted payload sum, and
// the number of points folded in. Payload sums are not means; consumers
// divide by W as needed.
type CellData[D Datum[D], P geom.Position[P]] struct {
	Pos P
	W   float64
	Sum D
	N   int
}

// NewShearData records a single catalog point carrying a shear.
func NewShearData[P geom.Position[P]](pos P, g1, g2, w float64) *CellData[Shear, P] {
	return &CellData[Shear, P]{Pos: pos, W: w, Sum: Shear(complex(g1*w, g2*w)), N: 1}
}

// NewScalarData records a single catalog point carrying a scalar value.
func NewScalarData[P geom.Position[P]](pos P, k, w float64) *CellData[Scalar, P] {
	return &CellData[Scalar, P]{Pos: pos, W: w, Sum: Scalar(k * w), N: 1}
}

// NewCountData records a single catalog point carrying only its weight.
func NewCountData[P geom.Position[P]](pos P, w float64) *CellData[Count, P] {
	return &CellData[Count, P]{Pos: pos, W: w, N: 1}
}

// NewAverageData computes the total weight and centroid of
// data[start:end). The payload sum is deferred to FinishAverages so that
// summaries which are immediately re-split never pay for it.
func NewAverageData[D Datum[D], P geom.Position[P]](
	data []*CellData[D, P], start, end int,
) *CellData[D, P] {
	var sumPos P
	w, n := 0.0, 0
	for _, c := range data[start:end] {
		w += c.W
		n += c.N
		sumPos = sumPos.Add(c.Pos.Scale(c.W))
	}
	return &CellData[D, P]{Pos: sumPos.Finish(w), W: w, N: n}
}

// FinishAverages fills in the deferred payload sum over data[start:end).
// Called exactly once, and only on summaries that are retained as tree
// nodes.
func (d *CellData[D, P]) FinishAverages(data []*CellData[D, P], start, end int) {
	var sum D
	for _, c := range data[start:end] {
		sum = sum.Add(c.Sum)
	}
	d.Sum = sum
}

// SizeSq returns the squared extent of data[start:end) about center: the
// maximum squared distance from center to any contained point.
func SizeSq[D Datum[D], P geom.Position[P]](
	center P, data []*CellData[D, P], start, end int,
) float64 {
	max := 0.0
	for _, c := range data[start:end] {
		if d := center.DistSq(c.Pos); d > max {
			max = d
		}
	}
	return max
}
