// Package tree builds the hierarchical cell decompositions that the
// correlation walkers traverse: catalogs become forests of Cells whose
// extents are bounded above by the largest useful size and below by the
// smallest, with everything in between split recursively.
package tree

import (
	"math/rand"

	"github.com/ztq1996/TreeCorr/geom"
)

// Cell is a node of the spatial tree. A leaf wraps either a single
// catalog point or an aggregate whose extent is already at or below the
// minimum useful size. An internal Cell has exactly two children. Its
// weight, payload sum, and point count are the sums of theirs; its
// centroid is computed from the contained points, which on the sphere
// is not exactly the renormalized weighted combination of the child
// centroids.
type Cell[D Datum[D], P geom.Position[P]] struct {
	Data   *CellData[D, P]
	SizeSq float64

	Left, Right *Cell[D, P]
}

// IsLeaf reports whether the Cell has no children.
func (c *Cell[D, P]) IsLeaf() bool { return c.Left == nil }

// Walk calls fn on c and every Cell below it, parents before children.
func (c *Cell[D, P]) Walk(fn func(*Cell[D, P])) {
	fn(c)
	if c.Left != nil {
		c.Left.Walk(fn)
		c.Right.Walk(fn)
	}
}

// newLeafCell wraps a single already-finished CellData.
func newLeafCell[D Datum[D], P geom.Position[P]](data *CellData[D, P]) *Cell[D, P] {
	return &Cell[D, P]{Data: data}
}

// buildCell recursively assembles the subtree for data[start:end), whose
// summary and squared size have already been computed by the caller. The
// slice entry for any single point taken into a leaf is nilled out, which
// is how ownership transfer is recorded: entries still present when the
// whole build finishes were never adopted by a Cell.
func buildCell[D Datum[D], P geom.Position[P]](
	summary *CellData[D, P], sizesq float64,
	data []*CellData[D, P], minsizesq float64,
	sm SplitMethod, start, end int, rng *rand.Rand,
) *Cell[D, P] {
	if end-start == 1 {
		// summary is the point itself here. The slice entry may already
		// be nil if the top-level pass handed the point over directly.
		data[start] = nil
		return newLeafCell(summary)
	}

	if sizesq <= minsizesq {
		// Small enough that the pair walker never needs to look inside.
		return &Cell[D, P]{Data: summary, SizeSq: sizesq}
	}

	mid := splitData(data, sm, start, end, rng)
	c := &Cell[D, P]{Data: summary, SizeSq: sizesq}
	lsum, lsize := rangeSummary(data, start, mid)
	rsum, rsize := rangeSummary(data, mid, end)
	c.Left = buildCell(lsum, lsize, data, minsizesq, sm, start, mid, rng)
	c.Right = buildCell(rsum, rsize, data, minsizesq, sm, mid, end, rng)
	return c
}

// rangeSummary produces the finished summary and squared size for
// data[start:end). A single-point range reuses the point itself with
// size zero; buildCell takes ownership of it afterwards.
func rangeSummary[D Datum[D], P geom.Position[P]](
	data []*CellData[D, P], start, end int,
) (*CellData[D, P], float64) {
	if end-start == 1 {
		return data[start], 0
	}
	sum := NewAverageData(data, start, end)
	sizesq := SizeSq(sum.Pos, data, start, end)
	sum.FinishAverages(data, start, end)
	return sum, sizesq
}
