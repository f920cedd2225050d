package corr

import (
	"bufio"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"

	"github.com/ztq1996/TreeCorr/geom"
	"github.com/ztq1996/TreeCorr/tree"
)

// bruteCountField, bruteShearField, and bruteScalarField build forests
// of single-point cells so tree-walk results
// are exact and can be compared against direct double loops.
func bruteCountField(t *testing.T, x, y, w []float64) *tree.Field[tree.Count, geom.Flat] {
	t.Helper()
	data, err := tree.FlatCountData(x, y, w)
	if err != nil {
		t.Fatal(err)
	}
	f, err := tree.NewField(data, tree.Options{MinSep: 0, MaxSep: 0, B: 0})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func bruteShearField(t *testing.T, x, y, g1, g2, w []float64) *tree.Field[tree.Shear, geom.Flat] {
	t.Helper()
	data, err := tree.FlatShearData(x, y, g1, g2, w)
	if err != nil {
		t.Fatal(err)
	}
	f, err := tree.NewField(data, tree.Options{MinSep: 0, MaxSep: 0, B: 0})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func bruteScalarField(t *testing.T, x, y, k, w []float64) *tree.Field[tree.Scalar, geom.Flat] {
	t.Helper()
	data, err := tree.FlatScalarData(x, y, k, w)
	if err != nil {
		t.Fatal(err)
	}
	f, err := tree.NewField(data, tree.Options{MinSep: 0, MaxSep: 0, B: 0})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func randCatalog(n int, seed int64) (x, y, g1, g2, k, w []float64) {
	rng := rand.New(rand.NewSource(seed))
	x = make([]float64, n)
	y = make([]float64, n)
	g1 = make([]float64, n)
	g2 = make([]float64, n)
	k = make([]float64, n)
	w = make([]float64, n)
	for i := 0; i < n; i++ {
		x[i], y[i] = rng.Float64()*20, rng.Float64()*20
		g1[i], g2[i] = rng.NormFloat64()*0.2, rng.NormFloat64()*0.2
		k[i] = rng.NormFloat64()
		w[i] = 0.5 + rng.Float64()
	}
	return
}

func TestBinFor(t *testing.T) {
	bc, err := newBinnedCorr2(1, 100, 4, 0.1)
	if err != nil {
		t.Fatal(err)
	}

	table := []struct {
		d   float64
		bin int
	}{
		{0.5, -1},
		{1, 0},
		{3, 0},
		{4, 1},
		{99, 3},
		{100, -1},
		{1000, -1},
	}

	for i, test := range table {
		k, _ := bc.binFor(test.d * test.d)
		if k != test.bin {
			t.Errorf("%d) binFor(%g^2) = %d, want %d", i+1, test.d, k, test.bin)
		}
	}
}

func TestNNCrossMatchesDirect(t *testing.T) {
	x1, y1, _, _, _, w1 := randCatalog(150, 1)
	x2, y2, _, _, _, w2 := randCatalog(130, 2)

	f1 := bruteCountField(t, x1, y1, w1)
	f2 := bruteCountField(t, x2, y2, w2)

	nn, err := NewNN[geom.Flat](0.5, 30, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	nn.ProcessCross(f1, f2, 4)

	weight := make([]float64, nn.NBins)
	npairs := make([]float64, nn.NBins)
	for i := range x1 {
		for j := range x2 {
			dx, dy := x1[i]-x2[j], y1[i]-y2[j]
			d := math.Sqrt(dx*dx + dy*dy)
			if d < 0.5 || d >= 30 {
				continue
			}
			k := int(math.Log(d/0.5) / nn.BinSize)
			if k >= nn.NBins {
				k = nn.NBins - 1
			}
			weight[k] += w1[i] * w2[j]
			npairs[k]++
		}
	}

	for i := 0; i < nn.NBins; i++ {
		assert.InDelta(t, weight[i], nn.Weight[i], 1e-8*(1+weight[i]),
			"weight bin %d", i)
		assert.InDelta(t, npairs[i], nn.NPairs[i], 1e-8, "npairs bin %d", i)
	}
	assert.InDelta(t, f1.SumW()*f2.SumW(), nn.Tot, 1e-8*nn.Tot)
}

func TestNNAutoMatchesDirect(t *testing.T) {
	x, y, _, _, _, w := randCatalog(120, 3)
	f := bruteCountField(t, x, y, w)

	nn, err := NewNN[geom.Flat](0.5, 30, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	nn.ProcessAuto(f, 3)

	weight := make([]float64, nn.NBins)
	for i := range x {
		for j := i + 1; j < len(x); j++ {
			dx, dy := x[i]-x[j], y[i]-y[j]
			d := math.Sqrt(dx*dx + dy*dy)
			if d < 0.5 || d >= 30 {
				continue
			}
			k := int(math.Log(d/0.5) / nn.BinSize)
			if k >= nn.NBins {
				k = nn.NBins - 1
			}
			weight[k] += w[i] * w[j]
		}
	}

	for i := 0; i < nn.NBins; i++ {
		assert.InDelta(t, weight[i], nn.Weight[i], 1e-8*(1+weight[i]),
			"weight bin %d", i)
	}
}

func TestNKCrossMatchesDirect(t *testing.T) {
	x1, y1, _, _, _, w1 := randCatalog(100, 4)
	x2, y2, _, _, k2, w2 := randCatalog(110, 5)

	f1 := bruteCountField(t, x1, y1, w1)
	f2 := bruteScalarField(t, x2, y2, k2, w2)

	nk, err := NewNK[geom.Flat](0.5, 30, 6, 0)
	if err != nil {
		t.Fatal(err)
	}
	nk.ProcessCross(f1, f2, 2)

	xi := make([]float64, nk.NBins)
	weight := make([]float64, nk.NBins)
	for i := range x1 {
		for j := range x2 {
			dx, dy := x1[i]-x2[j], y1[i]-y2[j]
			d := math.Sqrt(dx*dx + dy*dy)
			if d < 0.5 || d >= 30 {
				continue
			}
			k := int(math.Log(d/0.5) / nk.BinSize)
			if k >= nk.NBins {
				k = nk.NBins - 1
			}
			xi[k] += w1[i] * w2[j] * k2[j]
			weight[k] += w1[i] * w2[j]
		}
	}

	for i := 0; i < nk.NBins; i++ {
		assert.InDelta(t, xi[i], nk.Xi[i], 1e-8*(1+math.Abs(xi[i])),
			"xi bin %d", i)
	}

	nk.Finalize(VarK(k2, w2))
	for i := 0; i < nk.NBins; i++ {
		if weight[i] > 0 {
			assert.InDelta(t, xi[i]/weight[i], nk.Xi[i], 1e-8, "mean bin %d", i)
		}
	}
}

func TestGGCrossMatchesDirect(t *testing.T) {
	x1, y1, g1a, g2a, _, w1 := randCatalog(90, 6)
	x2, y2, g1b, g2b, _, w2 := randCatalog(95, 7)

	f1 := bruteShearField(t, x1, y1, g1a, g2a, w1)
	f2 := bruteShearField(t, x2, y2, g1b, g2b, w2)

	gg, err := NewGG[geom.Flat](0.5, 30, 6, 0)
	if err != nil {
		t.Fatal(err)
	}
	gg.ProcessCross(f1, f2, 2)

	xip := make([]float64, gg.NBins)
	xim := make([]float64, gg.NBins)
	for i := range x1 {
		for j := range x2 {
			dx, dy := x2[j]-x1[i], y2[j]-y1[i]
			d := math.Sqrt(dx*dx + dy*dy)
			if d < 0.5 || d >= 30 {
				continue
			}
			bin := int(math.Log(d/0.5) / gg.BinSize)
			if bin >= gg.NBins {
				bin = gg.NBins - 1
			}

			// Project both shears with explicit angle arithmetic.
			alpha := math.Atan2(dy, dx)
			rot := complex(math.Cos(2*alpha), -math.Sin(2*alpha))
			gp1 := -complex(g1a[i], g2a[i]) * rot * complex(w1[i], 0)
			gp2 := -complex(g1b[j], g2b[j]) * rot * complex(w2[j], 0)

			p := gp1 * complex(real(gp2), -imag(gp2))
			m := gp1 * gp2
			xip[bin] += real(p)
			xim[bin] += real(m)
		}
	}

	for i := 0; i < gg.NBins; i++ {
		assert.InDelta(t, xip[i], gg.XiP[i], 1e-8*(1+math.Abs(xip[i])),
			"xip bin %d", i)
		assert.InDelta(t, xim[i], gg.XiM[i], 1e-8*(1+math.Abs(xim[i])),
			"xim bin %d", i)
	}
}

func TestKGTangentialRing(t *testing.T) {
	// A single unit kappa at the origin surrounded by a ring of purely
	// tangential shears of amplitude 0.3 must give xi = 0.3 in the
	// ring's bin and zero cross component.
	nRing := 16
	gt := 0.3
	r := 3.0
	x := make([]float64, nRing)
	y := make([]float64, nRing)
	g1 := make([]float64, nRing)
	g2 := make([]float64, nRing)
	w := make([]float64, nRing)
	for i := 0; i < nRing; i++ {
		theta := 2 * math.Pi * float64(i) / float64(nRing)
		x[i], y[i] = r*math.Cos(theta), r*math.Sin(theta)
		// Tangential shear at position angle theta.
		g1[i] = -gt * math.Cos(2*theta)
		g2[i] = -gt * math.Sin(2*theta)
		w[i] = 1
	}

	fk := bruteScalarField(t, []float64{0}, []float64{0}, []float64{1}, []float64{1})
	fg := bruteShearField(t, x, y, g1, g2, w)

	kg, err := NewKG[geom.Flat](1, 10, 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	kg.ProcessCross(fk, fg, 1)
	kg.Finalize(1, gt*gt)

	hot := -1
	for i := 0; i < kg.NBins; i++ {
		if kg.Weight[i] > 0 {
			if hot != -1 {
				t.Fatalf("pairs landed in more than one bin")
			}
			hot = i
		}
	}
	if hot == -1 {
		t.Fatal("no pairs accumulated")
	}
	assert.InDelta(t, gt, kg.Xi[hot], 1e-12)
	assert.InDelta(t, 0, kg.XiIm[hot], 1e-12)
}

func TestTreeWalkApproximatesBrute(t *testing.T) {
	// With a small opening parameter the aggregated-tree walk must stay
	// close to the exact brute-force pair count.
	x, y, _, _, _, w := randCatalog(400, 8)

	exact := bruteCountField(t, x, y, w)
	nnExact, err := NewNN[geom.Flat](0.5, 20, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	nnExact.ProcessAuto(exact, 0)

	data, err := tree.FlatCountData(x, y, w)
	if err != nil {
		t.Fatal(err)
	}
	f, err := tree.NewField(data, tree.Options{MinSep: 0.5, MaxSep: 20, B: 0.05})
	if err != nil {
		t.Fatal(err)
	}
	nnTree, err := NewNN[geom.Flat](0.5, 20, 8, 0.05)
	if err != nil {
		t.Fatal(err)
	}
	nnTree.ProcessAuto(f, 0)

	var totExact, totTree float64
	for i := 0; i < nnExact.NBins; i++ {
		totExact += nnExact.Weight[i]
		totTree += nnTree.Weight[i]
	}
	for i := 0; i < nnExact.NBins; i++ {
		// Sparse bins are dominated by edge slop; skip them.
		if nnExact.Weight[i] < 0.01*totExact {
			continue
		}
		rel := math.Abs(nnTree.Weight[i]-nnExact.Weight[i]) /
			nnExact.Weight[i]
		if rel > 0.1 {
			t.Errorf("bin %d off by %.1f%%", i, 100*rel)
		}
	}
	// The total over all bins is insensitive to bin-edge slop.
	assert.InDelta(t, totExact, totTree, 0.01*totExact)
}

func TestCalculateXiAlgebra(t *testing.T) {
	dd, _ := NewNN[geom.Flat](1, 10, 2, 0)
	rr, _ := NewNN[geom.Flat](1, 10, 2, 0)

	dd.Weight = []float64{30, 10}
	dd.NPairs = []float64{30, 10}
	dd.Tot = 100
	rr.Weight = []float64{20, 20}
	rr.NPairs = []float64{20, 20}
	rr.Tot = 100

	xi, varxi, err := dd.CalculateXi(rr, nil)
	if err != nil {
		t.Fatal(err)
	}
	assert.InDelta(t, 0.5, xi[0], 1e-14)
	assert.InDelta(t, -0.5, xi[1], 1e-14)
	assert.True(t, varxi[0] > 0)

	_, _, err = dd.CalculateXi(nil, nil)
	assert.Error(t, err)
}

func readTableFile(t *testing.T, path string) [][]float64 {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var r = bufio.NewReader(f)
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			t.Fatal(err)
		}
		defer dec.Close()
		r = bufio.NewReader(dec)
	}

	var rows [][]float64
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var row []float64
		for _, fieldStr := range strings.Fields(line) {
			v, err := strconv.ParseFloat(fieldStr, 64)
			if err != nil {
				t.Fatal(err)
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	return rows
}

func TestWriteTable(t *testing.T) {
	dir := t.TempDir()

	nk, err := NewNK[geom.Flat](1, 10, 3, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	nk.Xi = []float64{0.1, 0.2, 0.3}
	nk.Weight = []float64{1, 2, 3}
	nk.NPairs = []float64{1, 2, 3}

	for _, name := range []string{"nk.out", "nk.out.zst"} {
		path := filepath.Join(dir, name)
		if err := nk.Write(path); err != nil {
			t.Fatal(err)
		}
		rows := readTableFile(t, path)
		if len(rows) != 3 {
			t.Fatalf("%s: %d rows, want 3", name, len(rows))
		}
		assert.InDelta(t, nk.Rnom[0], rows[0][0], 1e-6*nk.Rnom[0])
		assert.InDelta(t, 0.3, rows[2][2], 1e-9)
	}
}

func TestMapSqSignal(t *testing.T) {
	gg, err := NewGG[geom.Flat](0.1, 100, 20, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	// An xi+ impulse at a separation below the aperture scale lands in
	// the positive lobe of the T+ filter.
	mid := gg.NBins / 2
	gg.XiP[mid-3] = 1e-4
	mapsq, mxsq := gg.CalculateMapSq()
	if mapsq[mid] <= 0 {
		t.Errorf("Map^2 = %g at mid scale, want > 0", mapsq[mid])
	}
	// With xi- = 0 the E and B modes are equal by construction.
	assert.InDelta(t, mapsq[mid], mxsq[mid], 1e-18)
}
