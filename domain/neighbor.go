package domain

import (
	"github.com/notargets/gopatch/types"
)

// Neighbor is the patch reached from another patch by a shift.
type Neighbor struct {
	GPatch int
	Rank   int
}

// NoNeighbor is returned when the shift leaves the domain through a Wall or
// Open edge.
var NoNeighbor = Neighbor{GPatch: -1, Rank: -1}

func (nb Neighbor) Exists() bool {
	return nb.GPatch >= 0
}

// Neighbor resolves the patch at shift s from gpatch. Periodic axes wrap
// around the patch grid, possibly back onto gpatch itself.
func (pt *PatchTable) Neighbor(gpatch int, s types.Shift) (nb Neighbor, err error) {
	if err = pt.checkGPatch(gpatch); err != nil {
		return NoNeighbor, err
	}
	if err = types.ValidateShift(s); err != nil {
		return NoNeighbor, err
	}
	var (
		idx = pt.Idx3(gpatch).Add(s)
		np  = pt.PatchGrid
	)
	for d := 0; d < 3; d++ {
		if idx[d] >= 0 && idx[d] < np[d] {
			continue
		}
		if !pt.Desc.BC.IsPeriodic(d) {
			return NoNeighbor, nil
		}
		idx[d] = (idx[d] + np[d]) % np[d]
	}
	nb.GPatch = pt.GlobalIndex(idx)
	nb.Rank = pt.Owner(nb.GPatch)
	return
}

// EdgeAxes reports, per axis, whether shift s from gpatch crosses a
// non-periodic domain edge. s is expected to be valid.
func (pt *PatchTable) EdgeAxes(gpatch int, s types.Shift) (crossed [3]bool) {
	var (
		idx = pt.Idx3(gpatch).Add(s)
	)
	for d := 0; d < 3; d++ {
		if (idx[d] < 0 || idx[d] >= pt.PatchGrid[d]) && !pt.Desc.BC.IsPeriodic(d) {
			crossed[d] = true
		}
	}
	return
}
