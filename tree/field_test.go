package tree

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ztq1996/TreeCorr/geom"
)

// checkForest verifies the structural invariants that hold for every
// valid build: summary consistency at internal cells, size monotonicity,
// non-trivial partitions, and the leaf and root size bounds.
func checkForest[D Datum[D], P geom.Position[P]](
	t *testing.T, f *Field[D, P], opt Options, posTol float64,
) {
	t.Helper()
	minsizesq := opt.MinSize() * opt.MinSize()
	maxsizesq := opt.MaxSize() * opt.MaxSize()

	for _, root := range f.Cells() {
		if maxsizesq > 0 && root.SizeSq > maxsizesq {
			t.Errorf("root SizeSq = %g > maxsizesq = %g",
				root.SizeSq, maxsizesq)
		}

		root.Walk(func(c *Cell[D, P]) {
			if c.IsLeaf() {
				if c.Data.N > 1 && c.SizeSq > minsizesq {
					t.Errorf("multi-point leaf SizeSq = %g > minsizesq = %g",
						c.SizeSq, minsizesq)
				}
				return
			}

			l, r := c.Left, c.Right
			if l == nil || r == nil {
				t.Fatalf("internal cell with missing child")
			}
			if l.Data.W <= 0 || r.Data.W <= 0 {
				t.Errorf("child with non-positive weight")
			}
			if l.Data.N < 1 || r.Data.N < 1 {
				t.Errorf("child with no points")
			}
			if c.SizeSq < l.SizeSq || c.SizeSq < r.SizeSq {
				t.Errorf("SizeSq = %g smaller than child (%g, %g)",
					c.SizeSq, l.SizeSq, r.SizeSq)
			}

			if math.Abs(c.Data.W-(l.Data.W+r.Data.W)) > 1e-10*c.Data.W {
				t.Errorf("weight %g != child sum %g",
					c.Data.W, l.Data.W+r.Data.W)
			}
			if c.Data.N != l.Data.N+r.Data.N {
				t.Errorf("N %d != child sum %d", c.Data.N, l.Data.N+r.Data.N)
			}

			comb := l.Data.Pos.Scale(l.Data.W).
				Add(r.Data.Pos.Scale(r.Data.W)).
				Finish(c.Data.W)
			if math.Sqrt(c.Data.Pos.DistSq(comb)) > posTol {
				t.Errorf("centroid %v != combined child centroid %v",
					c.Data.Pos, comb)
			}
		})
	}
}

func TestSinglePointFlatShear(t *testing.T) {
	data, err := FlatShearData(
		[]float64{0}, []float64{0}, []float64{0.1}, []float64{-0.2},
		[]float64{1},
	)
	if err != nil {
		t.Fatal(err)
	}
	f, err := NewField(data, Options{MinSep: 1, MaxSep: 10, B: 0.1})
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, 1, f.NTopLevel())
	c := f.Cells()[0]
	assert.True(t, c.IsLeaf())
	assert.Equal(t, 0.0, c.SizeSq)
	assert.Equal(t, geom.Flat{X: 0, Y: 0}, c.Data.Pos)
	assert.InDelta(t, 0.1, real(complex128(c.Data.Sum)), 1e-15)
	assert.InDelta(t, -0.2, imag(complex128(c.Data.Sum)), 1e-15)
}

func TestTwoDistantPointsSplit(t *testing.T) {
	data, err := FlatCountData(
		[]float64{0, 10}, []float64{0, 0}, []float64{1, 1},
	)
	if err != nil {
		t.Fatal(err)
	}
	// maxsize = 0.5, so points 10 apart cannot share a root.
	f, err := NewField(data, Options{MinSep: 1, MaxSep: 5, B: 0.1})
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, 2, f.NTopLevel())
	for _, c := range f.Cells() {
		assert.True(t, c.IsLeaf())
		assert.Equal(t, 0.0, c.SizeSq)
	}
}

func TestZeroWeightFilter(t *testing.T) {
	data, err := FlatCountData(
		[]float64{0, 1, 2}, []float64{0, 0, 0}, []float64{0, 1, 0},
	)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 1, len(data))

	f, err := NewField(data, Options{MinSep: 1, MaxSep: 10, B: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 1, f.NTopLevel())
	assert.Equal(t, geom.Flat{X: 1, Y: 0}, f.Cells()[0].Data.Pos)
}

func TestAllZeroWeights(t *testing.T) {
	data, err := FlatCountData(
		[]float64{0, 1}, []float64{0, 0}, []float64{0, 0},
	)
	if err != nil {
		t.Fatal(err)
	}
	f, err := NewField(data, Options{MinSep: 1, MaxSep: 10, B: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 0, f.NTopLevel())
}

func TestBruteForceMode(t *testing.T) {
	n := 100
	rng := rand.New(rand.NewSource(7))
	x, y, w := make([]float64, n), make([]float64, n), make([]float64, n)
	retained := 0
	for i := 0; i < n; i++ {
		x[i], y[i] = rng.Float64(), rng.Float64()
		if i%5 == 0 {
			w[i] = 0
		} else {
			w[i] = 1
			retained++
		}
	}

	data, err := FlatCountData(x, y, w)
	if err != nil {
		t.Fatal(err)
	}
	f, err := NewField(data, Options{MinSep: 0, MaxSep: 0, B: 0.1})
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, retained, f.NTopLevel())
	for _, c := range f.Cells() {
		assert.True(t, c.IsLeaf())
		assert.Equal(t, 1, c.Data.N)
	}
}

func TestSphereAntipodalSplit(t *testing.T) {
	data, err := SphereCountData(
		[]float64{0, math.Pi}, []float64{0, 0}, []float64{1, 1},
	)
	if err != nil {
		t.Fatal(err)
	}
	// maxsize = pi/2, while any root enclosing both antipodal points has
	// chord sizesq 4.
	f, err := NewField(data, Options{MinSep: 0.1, MaxSep: math.Pi, B: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 2, f.NTopLevel())
}

func TestConservationAcrossAggregation(t *testing.T) {
	n := 10000
	rng := rand.New(rand.NewSource(99))
	x, y, g1, g2, w := make([]float64, n), make([]float64, n),
		make([]float64, n), make([]float64, n), make([]float64, n)
	var totW, totG1, totG2 float64
	for i := 0; i < n; i++ {
		x[i], y[i] = rng.Float64()*100, rng.Float64()*100
		g1[i], g2[i] = rng.NormFloat64()*0.1, rng.NormFloat64()*0.1
		w[i] = rng.Float64()
		totW += w[i]
		totG1 += w[i] * g1[i]
		totG2 += w[i] * g2[i]
	}

	data, err := FlatShearData(x, y, g1, g2, w)
	if err != nil {
		t.Fatal(err)
	}
	opt := Options{MinSep: 1, MaxSep: 50, B: 0.2}
	f, err := NewField(data, opt)
	if err != nil {
		t.Fatal(err)
	}

	var sumW float64
	var sumG complex128
	for _, c := range f.Cells() {
		sumW += c.Data.W
		sumG += complex128(c.Data.Sum)
	}
	assert.InDelta(t, totW, sumW, 1e-8*totW)
	assert.InDelta(t, totG1, real(sumG), 1e-8)
	assert.InDelta(t, totG2, imag(sumG), 1e-8)

	checkForest(t, f, opt, 1e-9)
}

func TestConservationSphereScalar(t *testing.T) {
	n := 3000
	rng := rand.New(rand.NewSource(5))
	ra, dec, k, w := make([]float64, n), make([]float64, n),
		make([]float64, n), make([]float64, n)
	var totW, totK float64
	for i := 0; i < n; i++ {
		ra[i] = rng.Float64() * 2 * math.Pi
		dec[i] = math.Asin(2*rng.Float64() - 1)
		k[i] = rng.NormFloat64()
		w[i] = 0.5 + rng.Float64()
		totW += w[i]
		totK += w[i] * k[i]
	}

	data, err := SphereScalarData(ra, dec, k, w)
	if err != nil {
		t.Fatal(err)
	}
	opt := Options{MinSep: 0.01, MaxSep: 1, B: 0.2}
	f, err := NewField(data, opt)
	if err != nil {
		t.Fatal(err)
	}

	var sumW, sumK float64
	for _, c := range f.Cells() {
		sumW += c.Data.W
		sumK += float64(c.Data.Sum)
	}
	assert.InDelta(t, totW, sumW, 1e-8*totW)
	assert.InDelta(t, totK, sumK, 1e-6)

	checkForest(t, f, opt, 1e-10)
}

func sameTree[D Datum[D], P geom.Position[P]](a, b *Cell[D, P]) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	if a.Data.W != b.Data.W || a.Data.N != b.Data.N ||
		a.SizeSq != b.SizeSq || a.Data.Pos.DistSq(b.Data.Pos) != 0 {
		return false
	}
	return sameTree(a.Left, b.Left) && sameTree(a.Right, b.Right)
}

func buildTwice(t *testing.T, opt Options) (*Field[Count, geom.Flat], *Field[Count, geom.Flat]) {
	t.Helper()
	n := 500
	fields := make([]*Field[Count, geom.Flat], 2)
	for trial := range fields {
		rng := rand.New(rand.NewSource(21))
		x, y, w := make([]float64, n), make([]float64, n), make([]float64, n)
		for i := 0; i < n; i++ {
			x[i], y[i], w[i] = rng.Float64()*10, rng.Float64()*10, 1
		}
		data, err := FlatCountData(x, y, w)
		if err != nil {
			t.Fatal(err)
		}
		f, err := NewField(data, opt)
		if err != nil {
			t.Fatal(err)
		}
		fields[trial] = f
	}
	return fields[0], fields[1]
}

func TestDeterministicRebuild(t *testing.T) {
	for _, sm := range []SplitMethod{Mean, Median, Middle} {
		f1, f2 := buildTwice(t, Options{
			MinSep: 0.1, MaxSep: 5, B: 0.2, SplitMethod: sm,
		})
		if f1.NTopLevel() != f2.NTopLevel() {
			t.Fatalf("%v: top-level count differs", sm)
		}
		for i := range f1.Cells() {
			if !sameTree(f1.Cells()[i], f2.Cells()[i]) {
				t.Errorf("%v: tree %d differs between rebuilds", sm, i)
			}
		}
	}
}

func TestRandomSeedReproducible(t *testing.T) {
	f1, f2 := buildTwice(t, Options{
		MinSep: 0.1, MaxSep: 5, B: 0.2, SplitMethod: Random, Seed: 1234,
	})
	if f1.NTopLevel() != f2.NTopLevel() {
		t.Fatalf("top-level count differs with fixed seed")
	}
	for i := range f1.Cells() {
		if !sameTree(f1.Cells()[i], f2.Cells()[i]) {
			t.Errorf("tree %d differs with fixed seed", i)
		}
	}
}

func TestNewFieldErrors(t *testing.T) {
	data, err := FlatCountData([]float64{0}, []float64{0}, []float64{1})
	if err != nil {
		t.Fatal(err)
	}

	table := []struct {
		opt  Options
		code ErrorCode
	}{
		{Options{MinSep: -1, MaxSep: 10, B: 0.1}, ErrInvalidParameter},
		{Options{MinSep: 10, MaxSep: 1, B: 0.1}, ErrInvalidParameter},
		{Options{MinSep: 1, MaxSep: 10, B: -0.5}, ErrInvalidParameter},
		{Options{MinSep: 1, MaxSep: 10, B: 0.1, SplitMethod: 17}, ErrInvalidParameter},
	}

	for i, test := range table {
		_, err := NewField(data, test.opt)
		terr, ok := err.(*Error)
		if !ok {
			t.Errorf("%d) NewField error = %v, not a *tree.Error", i+1, err)
		} else if terr.Code != test.code {
			t.Errorf("%d) error code = %d, want %d", i+1, terr.Code, test.code)
		}
	}
}

func TestColumnErrors(t *testing.T) {
	_, err := FlatShearData(
		[]float64{0}, []float64{0}, nil, []float64{0}, []float64{1},
	)
	terr, ok := err.(*Error)
	if !ok || terr.Code != ErrInvalidDimensions {
		t.Errorf("missing column error = %v", err)
	}

	_, err = FlatCountData([]float64{0, 1}, []float64{0}, []float64{1, 1})
	terr, ok = err.(*Error)
	if !ok || terr.Code != ErrInvalidDimensions {
		t.Errorf("length mismatch error = %v", err)
	}
}

func TestSliceConsumed(t *testing.T) {
	data, err := FlatCountData(
		[]float64{0, 1, 2, 3}, []float64{0, 0, 0, 0},
		[]float64{1, 1, 1, 1},
	)
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewField(data, Options{MinSep: 0.1, MaxSep: 10, B: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	for i, d := range data {
		if d != nil {
			t.Errorf("slice entry %d not released", i)
		}
	}
}
