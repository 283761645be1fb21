// Package domain splits a rectangular logical grid into a regular grid of
// patches and distributes the patches over ranks in contiguous blocks.
//
// Every rank calls Setup with the same Params and obtains an identical
// PatchTable without communicating. The table answers ownership and
// adjacency questions for any patch, local or remote.
package domain

import (
	"fmt"

	"github.com/notargets/gopatch/types"
	"github.com/notargets/gopatch/utils"
)

// Params are the inputs to Setup.
type Params struct {
	GlobalDims types.Int3
	PatchGrid  types.Int3 // number of patches along each axis
	BC         utils.BC
	SW         int // ghost width
	NumProcs   int
	// Physical box, defaults to [0, GlobalDims) when Lo == Hi on an axis
	Lo, Hi [3]float64
	// Coordinate generator per axis, nil is Uniform
	CrdsGen [3]CrdsGen
}

// Validate checks everything Setup needs except the rank.
func (p Params) Validate() error {
	if p.NumProcs < 1 {
		return fmt.Errorf("%w: process count %d", types.ErrConfiguration, p.NumProcs)
	}
	if p.SW < 0 {
		return fmt.Errorf("%w: negative ghost width %d", types.ErrConfiguration, p.SW)
	}
	if err := p.BC.Validate(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	for d := 0; d < 3; d++ {
		if p.GlobalDims[d] < 1 || p.PatchGrid[d] < 1 {
			return fmt.Errorf("%w: axis %d: global dims %v, patch grid %v",
				types.ErrConfiguration, d, p.GlobalDims, p.PatchGrid)
		}
		if p.GlobalDims[d]%p.PatchGrid[d] != 0 {
			return fmt.Errorf("%w: axis %d: %d cells do not split into %d patches",
				types.ErrConfiguration, d, p.GlobalDims[d], p.PatchGrid[d])
		}
		if ld := p.GlobalDims[d] / p.PatchGrid[d]; ld < p.SW {
			return fmt.Errorf("%w: axis %d: patch extent %d is less than ghost width %d",
				types.ErrConfiguration, d, ld, p.SW)
		}
	}
	if np := p.PatchGrid.Volume(); np < p.NumProcs {
		return fmt.Errorf("%w: %d patches for %d processes leaves ranks without patches",
			types.ErrConfiguration, np, p.NumProcs)
	}
	return nil
}

// Domain is the view of one rank on the current patch table. It is the
// handle passed to the exchange planner and the load balancer, and it is
// retired when a rebalance replaces it.
type Domain struct {
	Table   *PatchTable
	Rank    int
	patches []Patch
	retired bool
}

// Setup validates p and builds the patch table with rank r owning global
// patches [r*P/N, (r+1)*P/N).
func Setup(p Params, rank int) (d *Domain, err error) {
	if err = p.Validate(); err != nil {
		return
	}
	if rank < 0 || rank >= p.NumProcs {
		return nil, fmt.Errorf("%w: rank %d outside [0,%d)",
			types.ErrInvalidArgument, rank, p.NumProcs)
	}
	desc := &Descriptor{
		GlobalDims: p.GlobalDims,
		BC:         p.BC,
		SW:         p.SW,
	}
	lo, hi := p.Lo, p.Hi
	for dd := 0; dd < 3; dd++ {
		if lo[dd] == hi[dd] {
			lo[dd], hi[dd] = 0, float64(p.GlobalDims[dd])
		}
	}
	if desc.Crds, err = NewCrds(p.GlobalDims, p.SW, lo, hi, p.CrdsGen); err != nil {
		return
	}
	owners := utils.NewPartitionMap(p.NumProcs, p.PatchGrid.Volume())
	d = newDomain(newPatchTable(desc, p.PatchGrid, owners, 0), rank)
	return
}

func newDomain(pt *PatchTable, rank int) *Domain {
	return &Domain{
		Table:   pt,
		Rank:    rank,
		patches: pt.Patches(rank),
	}
}

// Successor returns the handle for a new table that keeps the descriptor
// and patch grid but gives rank n the global patches starting at starts[n].
// The receiver stays valid until Retire is called.
func (d *Domain) Successor(starts []int) (next *Domain, err error) {
	if err = d.Valid(); err != nil {
		return
	}
	if len(starts) != d.Table.NumProcs() {
		return nil, fmt.Errorf("%w: %d partition starts for %d processes",
			types.ErrInvalidArgument, len(starts), d.Table.NumProcs())
	}
	owners, err := utils.NewPartitionMapFromStarts(starts, d.Table.NumPatches())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	pt := newPatchTable(d.Table.Desc, d.Table.PatchGrid, owners, d.Table.Version+1)
	next = newDomain(pt, d.Rank)
	return
}

// Retire invalidates the handle. Later queries fail with InvalidArgument.
func (d *Domain) Retire() {
	d.retired = true
}

// Valid fails for a retired handle.
func (d *Domain) Valid() error {
	if d == nil || d.Table == nil {
		return fmt.Errorf("%w: domain is not set up", types.ErrInvalidArgument)
	}
	if d.retired {
		return fmt.Errorf("%w: domain handle version %d was replaced by a rebalance",
			types.ErrInvalidArgument, d.Table.Version)
	}
	return nil
}

// IsSetup reports whether the handle can be queried.
func (d *Domain) IsSetup() bool {
	return d.Valid() == nil
}

// LocalPatches returns the patches of this rank in global order.
func (d *Domain) LocalPatches() (patches []Patch, err error) {
	if err = d.Valid(); err != nil {
		return
	}
	patches = append([]Patch(nil), d.patches...)
	return
}

// NumLocalPatches is the number of patches of this rank.
func (d *Domain) NumLocalPatches() int {
	return len(d.patches)
}

// LocalPatch returns the local patch with the given ID.
func (d *Domain) LocalPatch(id int) (p Patch, err error) {
	if err = d.Valid(); err != nil {
		return
	}
	if id < 0 || id >= len(d.patches) {
		err = fmt.Errorf("%w: local patch %d outside [0,%d)",
			types.ErrInvalidArgument, id, len(d.patches))
		return
	}
	p = d.patches[id]
	return
}

// LocalID returns the local ID of gpatch, -1 when another rank owns it.
func (d *Domain) LocalID(gpatch int) int {
	if len(d.patches) == 0 {
		return -1
	}
	id := gpatch - d.patches[0].GPatch
	if id < 0 || id >= len(d.patches) {
		return -1
	}
	return id
}

// PatchInfo returns the ownership record of any global patch.
func (d *Domain) PatchInfo(gpatch int) (info PatchInfo, err error) {
	if err = d.Valid(); err != nil {
		return
	}
	return d.Table.Info(gpatch)
}

// Neighbor resolves the patch at shift s from p, NoNeighbor when s leaves
// the domain through a non-periodic edge.
func (d *Domain) Neighbor(p Patch, s types.Shift) (nb Neighbor, err error) {
	if err = d.Valid(); err != nil {
		return NoNeighbor, err
	}
	return d.Table.Neighbor(p.GPatch, s)
}

// NeighborRank returns the rank owning the neighbor at shift s, -1 if there
// is none.
func (d *Domain) NeighborRank(p Patch, s types.Shift) (rank int, err error) {
	var nb Neighbor
	if nb, err = d.Neighbor(p, s); err != nil {
		return -1, err
	}
	return nb.Rank, nil
}

func (d *Domain) GlobalDims() types.Int3 { return d.Table.Desc.GlobalDims }
func (d *Domain) BC() utils.BC           { return d.Table.Desc.BC }
func (d *Domain) SW() int                { return d.Table.Desc.SW }
func (d *Domain) PatchGrid() types.Int3  { return d.Table.PatchGrid }
func (d *Domain) NumProcs() int          { return d.Table.NumProcs() }
func (d *Domain) NumGlobalPatches() int  { return d.Table.NumPatches() }
func (d *Domain) Crds() *Crds            { return d.Table.Desc.Crds }

// PatchIdx3 returns the patch grid position of a global patch.
func (d *Domain) PatchIdx3(gpatch int) (idx types.Int3, err error) {
	if err = d.Table.checkGPatch(gpatch); err != nil {
		return
	}
	return d.Table.Idx3(gpatch), nil
}

// CellPosition returns the physical center of local cell (i,j,k) of p,
// ghost cells included.
func (d *Domain) CellPosition(p Patch, i, j, k int) [3]float64 {
	return d.Table.Desc.Crds.At(p.Off.Add(types.Int3{i, j, k}))
}
