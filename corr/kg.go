package corr

import (
	"math"
	"runtime"

	"github.com/ztq1996/TreeCorr/geom"
	"github.com/ztq1996/TreeCorr/tree"
)

// KGCorrelation accumulates the scalar-shear cross-correlation
// <kappa gamma_T>. The shear is projected onto the separation frame, so
// the real part of Xi is the tangential signal and the imaginary part
// the parity-violating cross signal.
type KGCorrelation[P geom.Position[P]] struct {
	BinnedCorr2

	// Xi and XiIm hold raw weighted sums until Finalize.
	Xi, XiIm []float64
	// VarXi is the noise variance per bin, filled by Finalize.
	VarXi []float64
}

// NewKG creates an empty scalar-shear correlation.
func NewKG[P geom.Position[P]](
	minSep, maxSep float64, nBins int, b float64,
) (*KGCorrelation[P], error) {
	bc, err := newBinnedCorr2(minSep, maxSep, nBins, b)
	if err != nil {
		return nil, err
	}
	return &KGCorrelation[P]{
		BinnedCorr2: bc,
		Xi:          make([]float64, nBins),
		XiIm:        make([]float64, nBins),
		VarXi:       make([]float64, nBins),
	}, nil
}

func (kg *KGCorrelation[P]) accum(
	d1 *tree.CellData[tree.Scalar, P], d2 *tree.CellData[tree.Shear, P],
	dsq float64,
) {
	k, logr := kg.binFor(dsq)
	if k < 0 {
		return
	}
	// Rotate the shear into the frame of the separation as seen from its
	// own position; the minus sign makes tangential alignment positive.
	gp := -complex128(d2.Sum) * d2.Pos.ShearRotation(d1.Pos)
	z := complex(float64(d1.Sum), 0) * gp

	ww := d1.W * d2.W
	kg.Xi[k] += real(z)
	kg.XiIm[k] += imag(z)
	kg.Weight[k] += ww
	kg.NPairs[k] += float64(d1.N) * float64(d2.N)
	kg.Meanlogr[k] += ww * logr
}

// ProcessCross accumulates pairs between a scalar field and a shear
// field.
func (kg *KGCorrelation[P]) ProcessCross(
	f1 *tree.Field[tree.Scalar, P], f2 *tree.Field[tree.Shear, P],
	workers int,
) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	s := make([]*KGCorrelation[P], workers)
	for i := range s {
		c, _ := NewKG[P](kg.MinSep, kg.MaxSep, kg.NBins, kg.B)
		s[i] = c
	}
	crossPairs(f1, f2, workers,
		func(id int, c1 *tree.Cell[tree.Scalar, P], c2 *tree.Cell[tree.Shear, P]) {
			walkPairs(c1, c2, kg.MinSep, kg.MaxSep, kg.B, s[id].accum)
		})
	for _, w := range s {
		kg.merge(&w.BinnedCorr2)
		for i := 0; i < kg.NBins; i++ {
			kg.Xi[i] += w.Xi[i]
			kg.XiIm[i] += w.XiIm[i]
		}
	}
}

// Finalize converts the sums into means. varK and varG are the catalog
// variances (see VarK, VarG); VarXi tracks their shot noise only.
func (kg *KGCorrelation[P]) Finalize(varK, varG float64) {
	for i := 0; i < kg.NBins; i++ {
		if kg.Weight[i] > 0 {
			kg.Xi[i] /= kg.Weight[i]
			kg.XiIm[i] /= kg.Weight[i]
		}
		if kg.NPairs[i] > 0 {
			kg.VarXi[i] = varK * varG / kg.NPairs[i]
		}
	}
	kg.finalizeMeans()
}

// Write writes the correlation as an ASCII table.
func (kg *KGCorrelation[P]) Write(path string) error {
	sigma := make([]float64, kg.NBins)
	for i, v := range kg.VarXi {
		sigma[i] = math.Sqrt(v)
	}
	return writeTable(path,
		[]string{"R_nom", "meanlogR", "xi", "xi_im", "sigma_xi",
			"weight", "npairs"},
		[][]float64{kg.Rnom, kg.Meanlogr, kg.Xi, kg.XiIm, sigma,
			kg.Weight, kg.NPairs})
}
