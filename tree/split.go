package tree

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/ztq1996/TreeCorr/geom"
)

// SplitMethod selects where the partitioning plane falls during the
// recursive splits. The integer values are part of the foreign API.
type SplitMethod int

const (
	// Mean splits at the unweighted mean of the widest coordinate.
	Mean SplitMethod = iota
	// Median splits at the median of the widest coordinate.
	Median
	// Middle splits at the midpoint between the coordinate's min and max.
	Middle
	// Random splits at a uniformly drawn position between min and max.
	Random
)

// ParseSplitMethod converts a symbolic name from a configuration file.
func ParseSplitMethod(name string) (SplitMethod, error) {
	switch strings.ToLower(name) {
	case "", "mean":
		return Mean, nil
	case "median":
		return Median, nil
	case "middle":
		return Middle, nil
	case "random":
		return Random, nil
	}
	return 0, fmt.Errorf("Unrecognized split method '%s'.", name)
}

func (sm SplitMethod) String() string {
	switch sm {
	case Mean:
		return "mean"
	case Median:
		return "median"
	case Middle:
		return "middle"
	case Random:
		return "random"
	}
	return fmt.Sprintf("SplitMethod(%d)", int(sm))
}

func (sm SplitMethod) valid() bool { return sm >= Mean && sm <= Random }

// widestAxis returns the Cartesian axis with the largest spread across
// data[start:end), along with that axis's min and max.
func widestAxis[D Datum[D], P geom.Position[P]](
	data []*CellData[D, P], start, end int,
) (axis int, min, max float64) {
	ndim := data[start].Pos.NDim()

	bestSpread := -1.0
	for i := 0; i < ndim; i++ {
		lo, hi := data[start].Pos.Component(i), data[start].Pos.Component(i)
		for _, c := range data[start+1 : end] {
			v := c.Pos.Component(i)
			if v < lo {
				lo = v
			} else if v > hi {
				hi = v
			}
		}
		if hi-lo > bestSpread {
			bestSpread, axis, min, max = hi-lo, i, lo, hi
		}
	}
	return axis, min, max
}

// splitData reorders data[start:end) in place so that every point with
// widest-axis coordinate at or below the splitting plane precedes every
// point above it, and returns the pivot index mid, start < mid < end.
// If the chosen plane would leave one side empty, the call falls back to
// a median split so progress is guaranteed. Points exactly on the plane
// go left. rng is consulted only by the Random method.
//
// Callers must not invoke splitData with fewer than two points.
func splitData[D Datum[D], P geom.Position[P]](
	data []*CellData[D, P], sm SplitMethod, start, end int, rng *rand.Rand,
) int {
	axis, min, max := widestAxis(data, start, end)

	var splitVal float64
	switch sm {
	case Mean:
		sum := 0.0
		for _, c := range data[start:end] {
			sum += c.Pos.Component(axis)
		}
		splitVal = sum / float64(end-start)
	case Median:
		return medianSplit(data, axis, start, end)
	case Middle:
		splitVal = (min + max) / 2
	case Random:
		splitVal = min + rng.Float64()*(max-min)
	}

	lo, hi := start, end-1
	for lo <= hi {
		for lo <= hi && data[lo].Pos.Component(axis) <= splitVal {
			lo++
		}
		for lo <= hi && data[hi].Pos.Component(axis) > splitVal {
			hi--
		}
		if lo < hi {
			data[lo], data[hi] = data[hi], data[lo]
			lo++
			hi--
		}
	}

	if lo == start || lo == end {
		// Degenerate plane: all points landed on one side.
		return medianSplit(data, axis, start, end)
	}
	return lo
}

// medianSplit sorts data[start:end) by the given axis and pivots at the
// middle element. With end-start >= 2 the pivot is strictly interior.
func medianSplit[D Datum[D], P geom.Position[P]](
	data []*CellData[D, P], axis, start, end int,
) int {
	sub := data[start:end]
	sort.Slice(sub, func(i, j int) bool {
		return sub[i].Pos.Component(axis) < sub[j].Pos.Component(axis)
	})
	return (start + end) / 2
}
