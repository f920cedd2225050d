package tree

import (
	"log"
	"math/rand"
	"runtime"

	"github.com/dustin/go-humanize"

	"github.com/ztq1996/TreeCorr/geom"
)

// Options controls Field construction. MinSep, MaxSep, and B set the cell
// size bounds; the rest tune the build itself.
type Options struct {
	// MinSep and MaxSep are the smallest and largest separations the
	// pair walker will ever care about, in the same units as the
	// coordinates (radians on the sphere).
	MinSep, MaxSep float64

	// B is the dimensionless opening-angle parameter. A pair of cells
	// with sizes s1, s2 at separation d is not refined once
	// (s1 + s2) <= B*d.
	B float64

	// SplitMethod selects the partitioning plane. Defaults to Mean.
	SplitMethod SplitMethod

	// Seed feeds the Random split method. Builds with the same seed are
	// reproducible; the seed is ignored by the other methods.
	Seed int64

	// Workers caps the number of parallel subtree builders. Zero means
	// one per CPU.
	Workers int

	// Log enables progress output.
	Log bool
}

func (opt *Options) validate() error {
	if opt.MinSep < 0 {
		return paramErrf("MinSep is %g, but must be non-negative.", opt.MinSep)
	}
	if opt.MaxSep < opt.MinSep {
		return paramErrf("MaxSep = %g is smaller than MinSep = %g.",
			opt.MaxSep, opt.MinSep)
	}
	if opt.B < 0 {
		return paramErrf("B is %g, but must be non-negative.", opt.B)
	}
	if !opt.SplitMethod.valid() {
		return paramErrf("Unknown split method %d.", int(opt.SplitMethod))
	}
	return nil
}

// MinSize returns the radius below which further splitting is useless:
// the cell size at which two neighbors of comparable size just fail to
// open at MinSep (the larger taken as twice the smaller).
func (opt *Options) MinSize() float64 {
	return opt.MinSep * opt.B / (2 + 3*opt.B)
}

// MaxSize returns the radius above which a cell can never pass the
// opening criterion at MaxSep, even against a point.
func (opt *Options) MaxSize() float64 {
	return opt.MaxSep * opt.B
}

// Field owns a forest of Cells covering one catalog. It is immutable
// once constructed, so concurrent pair walkers need no synchronization.
type Field[D Datum[D], P geom.Position[P]] struct {
	cells []*Cell[D, P]
	nObj  int
}

// Cells returns the top-level cells of the forest.
func (f *Field[D, P]) Cells() []*Cell[D, P] { return f.cells }

// NObj returns the number of points retained from the input catalog.
func (f *Field[D, P]) NObj() int { return f.nObj }

// NTopLevel returns the number of top-level cells.
func (f *Field[D, P]) NTopLevel() int { return len(f.cells) }

// SumW returns the total weight held by the forest.
func (f *Field[D, P]) SumW() float64 {
	sum := 0.0
	for _, c := range f.cells {
		sum += c.Data.W
	}
	return sum
}

// topLevel records one accepted subtree root from the sequential
// pre-pass: its finished summary, squared size, and slice range.
type topLevel[D Datum[D], P geom.Position[P]] struct {
	data       *CellData[D, P]
	sizeSq     float64
	start, end int
}

// setupTopLevelCells drives the split recursion only until each accepted
// root has size at or below maxsizesq, appending (summary, size, range)
// tuples to tops. It runs sequentially: the slice is shared-mutable while
// it is being partitioned. The single-point case hands over the point
// itself and nils the slice entry so the epilogue cannot see it twice.
func setupTopLevelCells[D Datum[D], P geom.Position[P]](
	data []*CellData[D, P], minsizesq, maxsizesq float64,
	sm SplitMethod, start, end int, rng *rand.Rand,
	tops []topLevel[D, P],
) []topLevel[D, P] {
	var sum *CellData[D, P]
	var sizesq float64
	if end-start == 1 {
		sum = data[start]
		data[start] = nil
		sizesq = 0
	} else {
		sum = NewAverageData(data, start, end)
		sizesq = SizeSq(sum.Pos, data, start, end)
	}

	if sizesq <= maxsizesq {
		if end-start > 1 {
			sum.FinishAverages(data, start, end)
		}
		return append(tops, topLevel[D, P]{sum, sizesq, start, end})
	}

	mid := splitData(data, sm, start, end, rng)
	tops = setupTopLevelCells(data, minsizesq, maxsizesq, sm, start, mid, rng, tops)
	return setupTopLevelCells(data, minsizesq, maxsizesq, sm, mid, end, rng, tops)
}

// NewField builds the forest for the given leaf data. The slice is
// consumed: it is reordered in place, and entries are nilled out as their
// targets are adopted by Cells. An empty slice yields a Field with no
// top-level cells, which is valid and simply matches nothing. Entries of
// a non-empty slice must not be nil: nil entries are not skipped.
//
// The sequential pre-pass bounds every root at MaxSize; the per-root
// subtree builds then run in parallel over their disjoint ranges.
func NewField[D Datum[D], P geom.Position[P]](
	data []*CellData[D, P], opt Options,
) (*Field[D, P], error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}

	f := &Field[D, P]{nObj: len(data)}
	if len(data) == 0 {
		// Not an error: a catalog whose weights are all zero simply
		// matches nothing.
		if opt.Log {
			log.Printf("Field has no objects with non-zero weight")
		}
		return f, nil
	}

	minsize := opt.MinSize()
	maxsize := opt.MaxSize()
	minsizesq, maxsizesq := minsize*minsize, maxsize*maxsize

	workers := opt.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	if maxsizesq == 0 {
		// Brute-force mode: every point is its own root.
		f.cells = make([]*Cell[D, P], len(data))
		out := make(chan int, workers)
		for id := 0; id < workers; id++ {
			go func(id int) {
				for i := id; i < len(data); i += workers {
					f.cells[i] = newLeafCell(data[i])
					data[i] = nil
				}
				out <- id
			}(id)
		}
		for i := 0; i < workers; i++ {
			<-out
		}
		if opt.Log {
			log.Printf("Built brute-force field with %s cells",
				humanize.Comma(int64(len(f.cells))))
		}
		return f, nil
	}

	rng := rand.New(rand.NewSource(opt.Seed))
	tops := setupTopLevelCells(
		data, minsizesq, maxsizesq, opt.SplitMethod,
		0, len(data), rng, nil,
	)
	if opt.Log {
		log.Printf("Field has %s top-level cells over %s points. "+
			"Building lower cells...",
			humanize.Comma(int64(len(tops))),
			humanize.Comma(int64(f.nObj)))
	}

	// Seeds for the parallel stage are drawn sequentially so Random
	// builds stay reproducible regardless of scheduling.
	seeds := make([]int64, len(tops))
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	f.cells = make([]*Cell[D, P], len(tops))
	out := make(chan int, workers)
	for id := 0; id < workers; id++ {
		go func(id int) {
			for r := id; r < len(tops); r += workers {
				t := tops[r]
				f.cells[r] = buildCell(
					t.data, t.sizeSq, data, minsizesq,
					opt.SplitMethod, t.start, t.end,
					rand.New(rand.NewSource(seeds[r])),
				)
			}
			out <- id
		}(id)
	}
	for i := 0; i < workers; i++ {
		<-out
	}

	// Entries still in the slice were never adopted by a Cell: they are
	// the per-point records inside multi-point leaves. Drop them so the
	// slice cannot leak half-owned state back to the caller.
	orphans := 0
	for i := range data {
		if data[i] != nil {
			data[i] = nil
			orphans++
		}
	}
	if opt.Log && orphans > 0 {
		log.Printf("Released %s point records folded into leaf averages",
			humanize.Comma(int64(orphans)))
	}

	return f, nil
}

// checkColumns verifies that every required column is present and that
// all lengths agree.
func checkColumns(n int, names []string, cols ...[]float64) error {
	for i, col := range cols {
		if col == nil {
			return dimErrf("Missing required column '%s'.", names[i])
		}
		if len(col) != n {
			return dimErrf("Column '%s' has %d entries; expected %d.",
				names[i], len(col), n)
		}
	}
	return nil
}

// FlatShearData builds leaf data for a shear catalog in the plane,
// dropping rows with zero weight.
func FlatShearData(x, y, g1, g2, w []float64) ([]*CellData[Shear, geom.Flat], error) {
	err := checkColumns(len(w), []string{"x", "y", "g1", "g2", "w"}, x, y, g1, g2, w)
	if err != nil {
		return nil, err
	}
	data := make([]*CellData[Shear, geom.Flat], 0, len(w))
	for i := range w {
		if w[i] != 0 {
			data = append(data,
				NewShearData(geom.Flat{X: x[i], Y: y[i]}, g1[i], g2[i], w[i]))
		}
	}
	return data, nil
}

// SphereShearData builds leaf data for a shear catalog on the sphere.
// ra and dec are in radians.
func SphereShearData(ra, dec, g1, g2, w []float64) ([]*CellData[Shear, geom.Sphere], error) {
	err := checkColumns(len(w), []string{"ra", "dec", "g1", "g2", "w"}, ra, dec, g1, g2, w)
	if err != nil {
		return nil, err
	}
	data := make([]*CellData[Shear, geom.Sphere], 0, len(w))
	for i := range w {
		if w[i] != 0 {
			data = append(data,
				NewShearData(geom.NewSphere(ra[i], dec[i]), g1[i], g2[i], w[i]))
		}
	}
	return data, nil
}

// FlatScalarData builds leaf data for a scalar catalog in the plane.
func FlatScalarData(x, y, k, w []float64) ([]*CellData[Scalar, geom.Flat], error) {
	err := checkColumns(len(w), []string{"x", "y", "k", "w"}, x, y, k, w)
	if err != nil {
		return nil, err
	}
	data := make([]*CellData[Scalar, geom.Flat], 0, len(w))
	for i := range w {
		if w[i] != 0 {
			data = append(data,
				NewScalarData(geom.Flat{X: x[i], Y: y[i]}, k[i], w[i]))
		}
	}
	return data, nil
}

// SphereScalarData builds leaf data for a scalar catalog on the sphere.
func SphereScalarData(ra, dec, k, w []float64) ([]*CellData[Scalar, geom.Sphere], error) {
	err := checkColumns(len(w), []string{"ra", "dec", "k", "w"}, ra, dec, k, w)
	if err != nil {
		return nil, err
	}
	data := make([]*CellData[Scalar, geom.Sphere], 0, len(w))
	for i := range w {
		if w[i] != 0 {
			data = append(data,
				NewScalarData(geom.NewSphere(ra[i], dec[i]), k[i], w[i]))
		}
	}
	return data, nil
}

// FlatCountData builds leaf data for a count catalog in the plane.
func FlatCountData(x, y, w []float64) ([]*CellData[Count, geom.Flat], error) {
	err := checkColumns(len(w), []string{"x", "y", "w"}, x, y, w)
	if err != nil {
		return nil, err
	}
	data := make([]*CellData[Count, geom.Flat], 0, len(w))
	for i := range w {
		if w[i] != 0 {
			data = append(data, NewCountData(geom.Flat{X: x[i], Y: y[i]}, w[i]))
		}
	}
	return data, nil
}

// SphereCountData builds leaf data for a count catalog on the sphere.
func SphereCountData(ra, dec, w []float64) ([]*CellData[Count, geom.Sphere], error) {
	err := checkColumns(len(w), []string{"ra", "dec", "w"}, ra, dec, w)
	if err != nil {
		return nil, err
	}
	data := make([]*CellData[Count, geom.Sphere], 0, len(w))
	for i := range w {
		if w[i] != 0 {
			data = append(data, NewCountData(geom.NewSphere(ra[i], dec[i]), w[i]))
		}
	}
	return data, nil
}
