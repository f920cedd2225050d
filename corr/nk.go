package corr

import (
	"math"
	"runtime"

	"github.com/ztq1996/TreeCorr/geom"
	"github.com/ztq1996/TreeCorr/tree"
)

// NKCorrelation accumulates the count-scalar cross-correlation: the mean
// scalar value around the positions of a count catalog as a function of
// separation.
type NKCorrelation[P geom.Position[P]] struct {
	BinnedCorr2

	// Xi holds the raw weighted sums until Finalize, then the mean
	// scalar value per bin.
	Xi []float64
	// VarXi is the shot-noise variance per bin, filled by Finalize.
	VarXi []float64
}

// NewNK creates an empty count-scalar correlation.
func NewNK[P geom.Position[P]](
	minSep, maxSep float64, nBins int, b float64,
) (*NKCorrelation[P], error) {
	bc, err := newBinnedCorr2(minSep, maxSep, nBins, b)
	if err != nil {
		return nil, err
	}
	return &NKCorrelation[P]{
		BinnedCorr2: bc,
		Xi:          make([]float64, nBins),
		VarXi:       make([]float64, nBins),
	}, nil
}

func (nk *NKCorrelation[P]) accum(
	d1 *tree.CellData[tree.Count, P], d2 *tree.CellData[tree.Scalar, P],
	dsq float64,
) {
	k, logr := nk.binFor(dsq)
	if k < 0 {
		return
	}
	ww := d1.W * d2.W
	// d2.Sum is already the weighted scalar sum over the cell.
	nk.Xi[k] += d1.W * float64(d2.Sum)
	nk.Weight[k] += ww
	nk.NPairs[k] += float64(d1.N) * float64(d2.N)
	nk.Meanlogr[k] += ww * logr
}

// ProcessCross accumulates pairs between a count field and a scalar
// field.
func (nk *NKCorrelation[P]) ProcessCross(
	f1 *tree.Field[tree.Count, P], f2 *tree.Field[tree.Scalar, P],
	workers int,
) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	s := make([]*NKCorrelation[P], workers)
	for i := range s {
		c, _ := NewNK[P](nk.MinSep, nk.MaxSep, nk.NBins, nk.B)
		s[i] = c
	}
	crossPairs(f1, f2, workers,
		func(id int, c1 *tree.Cell[tree.Count, P], c2 *tree.Cell[tree.Scalar, P]) {
			walkPairs(c1, c2, nk.MinSep, nk.MaxSep, nk.B, s[id].accum)
		})
	for _, w := range s {
		nk.merge(&w.BinnedCorr2)
		for i := 0; i < nk.NBins; i++ {
			nk.Xi[i] += w.Xi[i]
		}
	}
}

// Finalize converts the sums into means. varK is the scalar variance
// (see VarK); VarXi tracks shot noise only.
func (nk *NKCorrelation[P]) Finalize(varK float64) {
	for i := 0; i < nk.NBins; i++ {
		if nk.Weight[i] > 0 {
			nk.Xi[i] /= nk.Weight[i]
		}
		if nk.NPairs[i] > 0 {
			nk.VarXi[i] = varK / nk.NPairs[i]
		}
	}
	nk.finalizeMeans()
}

// Write writes the correlation as an ASCII table.
func (nk *NKCorrelation[P]) Write(path string) error {
	sigma := make([]float64, nk.NBins)
	for i, v := range nk.VarXi {
		sigma[i] = math.Sqrt(v)
	}
	return writeTable(path,
		[]string{"R_nom", "meanlogR", "xi", "sigma_xi", "weight", "npairs"},
		[][]float64{nk.Rnom, nk.Meanlogr, nk.Xi, sigma, nk.Weight, nk.NPairs})
}
