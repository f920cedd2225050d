package corr

import (
	"math"
	"runtime"

	"github.com/ztq1996/TreeCorr/geom"
	"github.com/ztq1996/TreeCorr/tree"
)

// walkPairs enumerates pairs between two cells. A pair of cells is
// accepted as soon as the opening criterion (s1 + s2) <= b*d holds, at
// which point the whole pair is credited to the bin of the
// center-to-center separation d. Pairs that cannot reach
// [minSep, maxSep) are pruned without refinement. When a cell must be
// refined the larger one is split; a multi-point leaf that would need
// splitting is accepted as-is, since the builder already bounded its
// size below the useful minimum.
func walkPairs[D1 tree.Datum[D1], D2 tree.Datum[D2], P geom.Position[P]](
	c1 *tree.Cell[D1, P], c2 *tree.Cell[D2, P],
	minSep, maxSep, b float64,
	accum func(d1 *tree.CellData[D1, P], d2 *tree.CellData[D2, P], dsq float64),
) {
	dsq := c1.Data.Pos.DistSq(c2.Data.Pos)
	d := math.Sqrt(dsq)
	s1 := math.Sqrt(c1.SizeSq)
	s2 := math.Sqrt(c2.SizeSq)

	if d+s1+s2 < minSep || d-s1-s2 >= maxSep {
		return
	}

	if s1+s2 <= b*d {
		if d >= minSep && d < maxSep {
			accum(c1.Data, c2.Data, dsq)
		}
		return
	}

	switch {
	case c1.SizeSq >= c2.SizeSq && !c1.IsLeaf():
		walkPairs(c1.Left, c2, minSep, maxSep, b, accum)
		walkPairs(c1.Right, c2, minSep, maxSep, b, accum)
	case !c2.IsLeaf():
		walkPairs(c1, c2.Left, minSep, maxSep, b, accum)
		walkPairs(c1, c2.Right, minSep, maxSep, b, accum)
	case !c1.IsLeaf():
		walkPairs(c1.Left, c2, minSep, maxSep, b, accum)
		walkPairs(c1.Right, c2, minSep, maxSep, b, accum)
	default:
		if d >= minSep && d < maxSep {
			accum(c1.Data, c2.Data, dsq)
		}
	}
}

// walkAuto enumerates unordered pairs within a single cell. Pairs inside
// a leaf are skipped: the builder bounds leaf sizes so that internal
// separations fall below MinSep.
func walkAuto[D tree.Datum[D], P geom.Position[P]](
	c *tree.Cell[D, P], minSep, maxSep, b float64,
	accum func(d1, d2 *tree.CellData[D, P], dsq float64),
) {
	if c.IsLeaf() {
		return
	}
	walkAuto(c.Left, minSep, maxSep, b, accum)
	walkAuto(c.Right, minSep, maxSep, b, accum)
	walkPairs(c.Left, c.Right, minSep, maxSep, b, accum)
}

// crossPairs fans the root-pair loop of a cross-correlation out over
// workers: each worker strides over the first field's roots with its
// own accumulator and reports on a channel when done.
// fn must only touch worker-local state for its id.
func crossPairs[D1 tree.Datum[D1], D2 tree.Datum[D2], P geom.Position[P]](
	f1 *tree.Field[D1, P], f2 *tree.Field[D2, P], workers int,
	fn func(id int, c1 *tree.Cell[D1, P], c2 *tree.Cell[D2, P]),
) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	cells1, cells2 := f1.Cells(), f2.Cells()

	out := make(chan int, workers)
	for id := 0; id < workers; id++ {
		go func(id int) {
			for i := id; i < len(cells1); i += workers {
				for _, c2 := range cells2 {
					fn(id, cells1[i], c2)
				}
			}
			out <- id
		}(id)
	}
	for i := 0; i < workers; i++ {
		<-out
	}
}

// autoPairs is the auto-correlation analogue of crossPairs: unordered
// root pairs plus the within-root walks.
func autoPairs[D tree.Datum[D], P geom.Position[P]](
	f *tree.Field[D, P], workers int, minSep, maxSep, b float64,
	fn func(id int, c1, c2 *tree.Cell[D, P]),
	accum func(id int) func(d1, d2 *tree.CellData[D, P], dsq float64),
) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	cells := f.Cells()

	out := make(chan int, workers)
	for id := 0; id < workers; id++ {
		go func(id int) {
			acc := accum(id)
			for i := id; i < len(cells); i += workers {
				walkAuto(cells[i], minSep, maxSep, b, acc)
				for j := i + 1; j < len(cells); j++ {
					fn(id, cells[i], cells[j])
				}
			}
			out <- id
		}(id)
	}
	for i := 0; i < workers; i++ {
		<-out
	}
}
