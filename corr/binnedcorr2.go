// Package corr computes binned two-point correlation functions over the
// cell trees built by the tree package. Each correlation accumulates
// weighted pair sums into logarithmic separation bins by walking pairs
// of cells, refining a pair only while the opening criterion
// (s1 + s2) > b*d still holds.
package corr

import (
	"fmt"
	"math"
)

// BinnedCorr2 is the state shared by every two-point correlation: the
// separation binning and the per-bin weights, pair counts, and mean log
// separations. The per-kind accumulators live on the concrete
// correlation types.
type BinnedCorr2 struct {
	// MinSep and MaxSep bound the separations of interest, in coordinate
	// units (radians on the sphere).
	MinSep, MaxSep float64
	// NBins is the number of logarithmic bins between MinSep and MaxSep.
	NBins int
	// BinSize is the width of each bin in ln(r).
	BinSize float64
	// B is the opening-angle parameter passed to the pair walker.
	B float64

	logMinSep float64

	// Logr holds the nominal center of each bin in ln(r); Rnom is
	// exp(Logr).
	Logr, Rnom []float64
	// Meanlogr is the weighted mean ln(r) of the pairs in each bin. It
	// holds raw weighted sums until Finalize runs.
	Meanlogr []float64
	// Weight and NPairs are the total weight and raw pair count per bin.
	Weight, NPairs []float64
}

func newBinnedCorr2(minSep, maxSep float64, nBins int, b float64) (BinnedCorr2, error) {
	bc := BinnedCorr2{MinSep: minSep, MaxSep: maxSep, NBins: nBins, B: b}
	if minSep <= 0 {
		return bc, fmt.Errorf("MinSep is %g, but must be positive.", minSep)
	}
	if maxSep <= minSep {
		return bc, fmt.Errorf("MaxSep = %g is not larger than MinSep = %g.",
			maxSep, minSep)
	}
	if nBins <= 0 {
		return bc, fmt.Errorf("NBins is %d, but must be positive.", nBins)
	}
	if b < 0 {
		return bc, fmt.Errorf("B is %g, but must be non-negative.", b)
	}

	bc.BinSize = math.Log(maxSep/minSep) / float64(nBins)
	bc.logMinSep = math.Log(minSep)
	bc.Logr = make([]float64, nBins)
	bc.Rnom = make([]float64, nBins)
	bc.Meanlogr = make([]float64, nBins)
	bc.Weight = make([]float64, nBins)
	bc.NPairs = make([]float64, nBins)
	for i := 0; i < nBins; i++ {
		bc.Logr[i] = bc.logMinSep + (float64(i)+0.5)*bc.BinSize
		bc.Rnom[i] = math.Exp(bc.Logr[i])
	}
	return bc, nil
}

// binFor returns the bin index for a squared separation, or -1 if it
// falls outside [MinSep, MaxSep).
func (bc *BinnedCorr2) binFor(dsq float64) (int, float64) {
	if dsq < bc.MinSep*bc.MinSep || dsq >= bc.MaxSep*bc.MaxSep {
		return -1, 0
	}
	logr := 0.5 * math.Log(dsq)
	k := int((logr - bc.logMinSep) / bc.BinSize)
	if k < 0 {
		k = 0
	} else if k >= bc.NBins {
		k = bc.NBins - 1
	}
	return k, logr
}

// finalizeMeans converts the raw weighted Meanlogr sums into means. Bins
// with no weight fall back to the nominal center.
func (bc *BinnedCorr2) finalizeMeans() {
	for i := range bc.Meanlogr {
		if bc.Weight[i] > 0 {
			bc.Meanlogr[i] /= bc.Weight[i]
		} else {
			bc.Meanlogr[i] = bc.Logr[i]
		}
	}
}

// merge adds the bin sums accumulated by a worker into bc.
func (bc *BinnedCorr2) merge(other *BinnedCorr2) {
	for i := range bc.Weight {
		bc.Meanlogr[i] += other.Meanlogr[i]
		bc.Weight[i] += other.Weight[i]
		bc.NPairs[i] += other.NPairs[i]
	}
}

// VarK returns the weighted variance of a scalar column, the shot-noise
// term propagated into NK and KG uncertainties.
func VarK(k, w []float64) float64 {
	sumw2, sum := 0.0, 0.0
	for i := range k {
		sumw2 += w[i] * w[i]
		sum += w[i] * w[i] * k[i] * k[i]
	}
	if sumw2 == 0 {
		return 0
	}
	return sum / sumw2
}

// VarG returns the per-component shape variance of a shear catalog.
func VarG(g1, g2, w []float64) float64 {
	sumw2, sum := 0.0, 0.0
	for i := range g1 {
		sumw2 += w[i] * w[i]
		sum += w[i] * w[i] * (g1[i]*g1[i] + g2[i]*g2[i])
	}
	if sumw2 == 0 {
		return 0
	}
	return sum / (2 * sumw2)
}
