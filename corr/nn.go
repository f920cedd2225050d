package corr

import (
	"fmt"
	"math"
	"runtime"

	"github.com/ztq1996/TreeCorr/geom"
	"github.com/ztq1996/TreeCorr/tree"
)

// NNCorrelation accumulates weighted pair counts between two count
// fields. The correlation function itself comes out of CalculateXi,
// which compares the data pair counts against a random catalog's.
type NNCorrelation[P geom.Position[P]] struct {
	BinnedCorr2

	// Tot is the total weighted pair budget processed so far, used to
	// normalize against random catalogs with different sizes.
	Tot float64
}

// NewNN creates an empty pair-count correlation over nBins logarithmic
// bins between minSep and maxSep.
func NewNN[P geom.Position[P]](
	minSep, maxSep float64, nBins int, b float64,
) (*NNCorrelation[P], error) {
	bc, err := newBinnedCorr2(minSep, maxSep, nBins, b)
	if err != nil {
		return nil, err
	}
	return &NNCorrelation[P]{BinnedCorr2: bc}, nil
}

func (nn *NNCorrelation[P]) scratch(workers int) []*NNCorrelation[P] {
	s := make([]*NNCorrelation[P], workers)
	for i := range s {
		c, _ := NewNN[P](nn.MinSep, nn.MaxSep, nn.NBins, nn.B)
		s[i] = c
	}
	return s
}

func (nn *NNCorrelation[P]) accum(
	d1, d2 *tree.CellData[tree.Count, P], dsq float64,
) {
	k, logr := nn.binFor(dsq)
	if k < 0 {
		return
	}
	ww := d1.W * d2.W
	nn.Weight[k] += ww
	nn.NPairs[k] += float64(d1.N) * float64(d2.N)
	nn.Meanlogr[k] += ww * logr
}

// ProcessAuto counts pairs within a single field. workers <= 0 uses one
// worker per CPU.
func (nn *NNCorrelation[P]) ProcessAuto(f *tree.Field[tree.Count, P], workers int) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	s := nn.scratch(workers)
	autoPairs(f, workers, nn.MinSep, nn.MaxSep, nn.B,
		func(id int, c1, c2 *tree.Cell[tree.Count, P]) {
			walkPairs(c1, c2, nn.MinSep, nn.MaxSep, nn.B, s[id].accum)
		},
		func(id int) func(d1, d2 *tree.CellData[tree.Count, P], dsq float64) {
			return s[id].accum
		})
	for _, w := range s {
		nn.merge(&w.BinnedCorr2)
	}
	sumw := f.SumW()
	nn.Tot += 0.5 * sumw * sumw
}

// ProcessCross counts pairs between two fields.
func (nn *NNCorrelation[P]) ProcessCross(
	f1, f2 *tree.Field[tree.Count, P], workers int,
) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	s := nn.scratch(workers)
	crossPairs(f1, f2, workers,
		func(id int, c1, c2 *tree.Cell[tree.Count, P]) {
			walkPairs(c1, c2, nn.MinSep, nn.MaxSep, nn.B, s[id].accum)
		})
	for _, w := range s {
		nn.merge(&w.BinnedCorr2)
	}
	nn.Tot += f1.SumW() * f2.SumW()
}

// Finalize converts the accumulated sums into means. Call once after all
// Process calls.
func (nn *NNCorrelation[P]) Finalize() { nn.finalizeMeans() }

// CalculateXi estimates the correlation function from the pair counts,
// using the Landy-Szalay estimator when dr is non-nil and the natural
// estimator dd/rr - 1 otherwise. The returned variance is the Poisson
// estimate (1+xi)^2 / npairs.
func (nn *NNCorrelation[P]) CalculateXi(
	rr, dr *NNCorrelation[P],
) (xi, varxi []float64, err error) {
	if rr == nil {
		return nil, nil, fmt.Errorf("CalculateXi requires random pair counts.")
	}
	if rr.NBins != nn.NBins {
		return nil, nil, fmt.Errorf(
			"Random catalog has %d bins; expected %d.", rr.NBins, nn.NBins)
	}
	if rr.Tot == 0 || nn.Tot == 0 {
		return nil, nil, fmt.Errorf("CalculateXi called before processing.")
	}

	xi = make([]float64, nn.NBins)
	varxi = make([]float64, nn.NBins)
	for i := 0; i < nn.NBins; i++ {
		rrw := rr.Weight[i] / rr.Tot
		if rrw == 0 {
			continue
		}
		ddw := nn.Weight[i] / nn.Tot
		if dr != nil {
			drw := dr.Weight[i] / dr.Tot
			xi[i] = (ddw - 2*drw + rrw) / rrw
		} else {
			xi[i] = ddw/rrw - 1
		}
		if nn.NPairs[i] > 0 {
			varxi[i] = (1 + xi[i]) * (1 + xi[i]) / nn.NPairs[i]
		}
	}
	return xi, varxi, nil
}

// Write writes the pair counts, and the correlation function if rr is
// non-nil, as an ASCII table.
func (nn *NNCorrelation[P]) Write(path string, rr, dr *NNCorrelation[P]) error {
	cols := [][]float64{nn.Rnom, nn.Meanlogr, nn.Weight, nn.NPairs}
	names := []string{"R_nom", "meanlogR", "weight", "npairs"}
	if rr != nil {
		xi, varxi, err := nn.CalculateXi(rr, dr)
		if err != nil {
			return err
		}
		sigma := make([]float64, len(varxi))
		for i, v := range varxi {
			sigma[i] = math.Sqrt(v)
		}
		cols = [][]float64{nn.Rnom, nn.Meanlogr, xi, sigma, nn.Weight, nn.NPairs}
		names = []string{"R_nom", "meanlogR", "xi", "sigma_xi", "weight", "npairs"}
	}
	return writeTable(path, names, cols)
}
