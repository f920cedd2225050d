package corr

import (
	"math"
	"math/cmplx"
	"runtime"

	"github.com/ztq1996/TreeCorr/geom"
	"github.com/ztq1996/TreeCorr/tree"
)

// GGCorrelation accumulates the shear-shear correlation functions
// xi+ and xi-. Shears are projected onto the frame of each pair's
// separation before multiplication, so xi+ is the tangential/tangential
// plus cross/cross combination.
type GGCorrelation[P geom.Position[P]] struct {
	BinnedCorr2

	// XiP and XiM are the real parts of xi+ and xi-; XiPIm and XiMIm
	// the imaginary parts, which should be consistent with zero for
	// parity-symmetric data. All hold raw weighted sums until Finalize.
	XiP, XiPIm, XiM, XiMIm []float64
	// VarXi is the shape-noise variance of XiP per bin, filled by
	// Finalize.
	VarXi []float64
}

// NewGG creates an empty shear-shear correlation.
func NewGG[P geom.Position[P]](
	minSep, maxSep float64, nBins int, b float64,
) (*GGCorrelation[P], error) {
	bc, err := newBinnedCorr2(minSep, maxSep, nBins, b)
	if err != nil {
		return nil, err
	}
	return &GGCorrelation[P]{
		BinnedCorr2: bc,
		XiP:         make([]float64, nBins),
		XiPIm:       make([]float64, nBins),
		XiM:         make([]float64, nBins),
		XiMIm:       make([]float64, nBins),
		VarXi:       make([]float64, nBins),
	}, nil
}

func (gg *GGCorrelation[P]) scratch(workers int) []*GGCorrelation[P] {
	s := make([]*GGCorrelation[P], workers)
	for i := range s {
		c, _ := NewGG[P](gg.MinSep, gg.MaxSep, gg.NBins, gg.B)
		s[i] = c
	}
	return s
}

func (gg *GGCorrelation[P]) accum(
	d1, d2 *tree.CellData[tree.Shear, P], dsq float64,
) {
	k, logr := gg.binFor(dsq)
	if k < 0 {
		return
	}
	// Project each shear in its own tangent frame toward the other
	// point. The minus sign makes a tangential pattern positive.
	g1p := -complex128(d1.Sum) * d1.Pos.ShearRotation(d2.Pos)
	g2p := -complex128(d2.Sum) * d2.Pos.ShearRotation(d1.Pos)

	xip := g1p * cmplx.Conj(g2p)
	xim := g1p * g2p

	ww := d1.W * d2.W
	gg.XiP[k] += real(xip)
	gg.XiPIm[k] += imag(xip)
	gg.XiM[k] += real(xim)
	gg.XiMIm[k] += imag(xim)
	gg.Weight[k] += ww
	gg.NPairs[k] += float64(d1.N) * float64(d2.N)
	gg.Meanlogr[k] += ww * logr
}

func (gg *GGCorrelation[P]) mergeGG(s []*GGCorrelation[P]) {
	for _, w := range s {
		gg.merge(&w.BinnedCorr2)
		for i := 0; i < gg.NBins; i++ {
			gg.XiP[i] += w.XiP[i]
			gg.XiPIm[i] += w.XiPIm[i]
			gg.XiM[i] += w.XiM[i]
			gg.XiMIm[i] += w.XiMIm[i]
		}
	}
}

// ProcessAuto accumulates shear pairs within a single field.
func (gg *GGCorrelation[P]) ProcessAuto(f *tree.Field[tree.Shear, P], workers int) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	s := gg.scratch(workers)
	autoPairs(f, workers, gg.MinSep, gg.MaxSep, gg.B,
		func(id int, c1, c2 *tree.Cell[tree.Shear, P]) {
			walkPairs(c1, c2, gg.MinSep, gg.MaxSep, gg.B, s[id].accum)
		},
		func(id int) func(d1, d2 *tree.CellData[tree.Shear, P], dsq float64) {
			return s[id].accum
		})
	gg.mergeGG(s)
}

// ProcessCross accumulates shear pairs between two fields.
func (gg *GGCorrelation[P]) ProcessCross(
	f1, f2 *tree.Field[tree.Shear, P], workers int,
) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	s := gg.scratch(workers)
	crossPairs(f1, f2, workers,
		func(id int, c1, c2 *tree.Cell[tree.Shear, P]) {
			walkPairs(c1, c2, gg.MinSep, gg.MaxSep, gg.B, s[id].accum)
		})
	gg.mergeGG(s)
}

// Finalize converts the sums into means. varG is the per-component
// shape variance of the catalog (see VarG); the resulting VarXi tracks
// shape noise only, so it underestimates the true uncertainty.
func (gg *GGCorrelation[P]) Finalize(varG float64) {
	for i := 0; i < gg.NBins; i++ {
		if gg.Weight[i] > 0 {
			gg.XiP[i] /= gg.Weight[i]
			gg.XiPIm[i] /= gg.Weight[i]
			gg.XiM[i] /= gg.Weight[i]
			gg.XiMIm[i] /= gg.Weight[i]
		}
		if gg.NPairs[i] > 0 {
			gg.VarXi[i] = 2 * varG * varG / gg.NPairs[i]
		}
	}
	gg.finalizeMeans()
}

// Write writes xi+ and xi- as an ASCII table.
func (gg *GGCorrelation[P]) Write(path string) error {
	sigma := make([]float64, gg.NBins)
	for i, v := range gg.VarXi {
		sigma[i] = math.Sqrt(v)
	}
	return writeTable(path,
		[]string{"R_nom", "meanlogR", "xip", "xim", "xip_im", "xim_im",
			"sigma_xi", "weight", "npairs"},
		[][]float64{gg.Rnom, gg.Meanlogr, gg.XiP, gg.XiM, gg.XiPIm,
			gg.XiMIm, sigma, gg.Weight, gg.NPairs})
}

// CalculateMapSq integrates xi+ and xi- into the aperture mass
// dispersion <Map^2>(R) over the same separation grid, using the
// Crittenden et al compensated filter:
//
//	T+(s) = (s^4 - 16 s^2 + 32)/128 exp(-s^2/4)
//	T-(s) = s^4/128 exp(-s^2/4)
//
// The B-mode counterpart <Mx^2> is returned alongside. Call after
// Finalize.
func (gg *GGCorrelation[P]) CalculateMapSq() (mapsq, mxsq []float64) {
	mapsq = make([]float64, gg.NBins)
	mxsq = make([]float64, gg.NBins)
	for i, R := range gg.Rnom {
		for j, r := range gg.Rnom {
			s := r / R
			ssq := s * s
			exp := math.Exp(-ssq / 4)
			tp := (ssq*ssq - 16*ssq + 32) / 128 * exp
			tm := ssq * ssq / 128 * exp
			common := gg.BinSize * ssq
			mapsq[i] += 0.5 * common * (tp*gg.XiP[j] + tm*gg.XiM[j])
			mxsq[i] += 0.5 * common * (tp*gg.XiP[j] - tm*gg.XiM[j])
		}
	}
	return mapsq, mxsq
}

// WriteM2 writes the aperture mass statistics as an ASCII table.
func (gg *GGCorrelation[P]) WriteM2(path string) error {
	mapsq, mxsq := gg.CalculateMapSq()
	return writeTable(path,
		[]string{"R", "Mapsq", "Mxsq"},
		[][]float64{gg.Rnom, mapsq, mxsq})
}
