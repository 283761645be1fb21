// Package balance reassigns patches to ranks from measured per patch costs
// and migrates field and particle data to the new owners.
package balance

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/notargets/gopatch/types"
	"github.com/notargets/gopatch/utils"
)

const bisectIterations = 100

// Assign splits costs, indexed by global patch, into np contiguous blocks
// minimizing the largest block total, and returns the first patch of every
// block. Every block holds at least one patch. The result depends on the
// costs only, so equal costs give equal starts on every rank.
func Assign(costs []float64, np int) (starts []int, err error) {
	if np < 1 || len(costs) < np {
		return nil, fmt.Errorf("%w: %d patches for %d processes",
			types.ErrConfiguration, len(costs), np)
	}
	for g, c := range costs {
		if c < 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("%w: cost %v of patch %d", types.ErrInvalidArgument, c, g)
		}
	}
	var (
		lo = floats.Max(costs)
		hi = floats.Sum(costs)
	)
	if hi == 0 {
		return utils.NewPartitionMap(np, len(costs)).Starts(), nil
	}
	// hi is always feasible, lo never exceeds the optimum
	for it := 0; it < bisectIterations && hi-lo > 1e-12*hi; it++ {
		mid := .5 * (lo + hi)
		if _, ok := walk(costs, np, mid); ok {
			hi = mid
		} else {
			lo = mid
		}
	}
	starts, _ = walk(costs, np, hi)
	return
}

// walk closes a block once adding the next patch would exceed bound, or
// when the remaining patches are needed to give every remaining rank one.
func walk(costs []float64, np int, bound float64) (starts []int, ok bool) {
	var (
		sum float64
		P   = len(costs)
	)
	starts = make([]int, 1, np)
	ok = true
	for g, c := range costs {
		var (
			open   = np - len(starts)
			inUse  = g - starts[len(starts)-1]
			mustGo = P-g == open
		)
		if open > 0 && inUse > 0 && (sum+c > bound || mustGo) {
			starts = append(starts, g)
			sum = 0
		}
		sum += c
		if sum > bound {
			ok = false
		}
	}
	return
}

// Loads sums costs over the blocks given by starts.
func Loads(costs []float64, starts []int) (loads []float64) {
	loads = make([]float64, len(starts))
	for n, s := range starts {
		e := len(costs)
		if n+1 < len(starts) {
			e = starts[n+1]
		}
		loads[n] = floats.Sum(costs[s:e])
	}
	return
}

// Stats summarizes rank loads.
type Stats struct {
	Min, Max, Mean, StdDev float64
	// Imbalance is Max/Mean, 1 for a perfect balance
	Imbalance float64
}

func LoadStats(loads []float64) (s Stats) {
	if len(loads) == 0 {
		return
	}
	s.Min, s.Max = floats.Min(loads), floats.Max(loads)
	s.Mean, s.StdDev = stat.MeanStdDev(loads, nil)
	if len(loads) == 1 {
		s.StdDev = 0
	}
	s.Imbalance = 1
	if s.Mean > 0 {
		s.Imbalance = s.Max / s.Mean
	}
	return
}
