package domain

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/notargets/gopatch/types"
	"github.com/notargets/gopatch/utils"
)

// Descriptor is the immutable description of the global logical grid.
type Descriptor struct {
	GlobalDims types.Int3
	BC         utils.BC
	SW         int // ghost width, same on every axis
	Crds       *Crds
}

// Patch is a rectangular block of the global grid owned by one rank.
type Patch struct {
	Off    types.Int3 // global logical index of the first interior cell
	LDims  types.Int3 // interior extent
	ID     int        // position among the local patches of the owner
	GPatch int        // global patch index
}

// PatchInfo is the replicated ownership record of one patch.
type PatchInfo struct {
	Rank   int
	GPatch int
	LDims  types.Int3
}

// PatchTable is the global tiling of the domain into a regular patch grid
// and the owner of every patch. Global patch indices enumerate the patch
// grid with x fastest. A table is never modified, a rebalance builds a new
// one with a higher Version.
type PatchTable struct {
	Desc      *Descriptor
	PatchGrid types.Int3
	LDims     types.Int3
	Owners    *utils.PartitionMap // bucket n holds the global patches of rank n
	Version   int

	fingerprint uint64
}

func newPatchTable(desc *Descriptor, patchGrid types.Int3, owners *utils.PartitionMap,
	version int) (pt *PatchTable) {
	pt = &PatchTable{
		Desc:      desc,
		PatchGrid: patchGrid,
		Owners:    owners,
		Version:   version,
	}
	for d := 0; d < 3; d++ {
		pt.LDims[d] = desc.GlobalDims[d] / patchGrid[d]
	}
	pt.fingerprint = pt.digest()
	return
}

// NumPatches is the global patch count.
func (pt *PatchTable) NumPatches() int {
	return pt.PatchGrid.Volume()
}

// NumProcs is the number of ranks the table distributes patches over.
func (pt *PatchTable) NumProcs() int {
	return pt.Owners.ParallelDegree
}

func (pt *PatchTable) checkGPatch(gpatch int) error {
	if gpatch < 0 || gpatch >= pt.NumPatches() {
		return fmt.Errorf("%w: global patch %d outside [0,%d)",
			types.ErrInvalidArgument, gpatch, pt.NumPatches())
	}
	return nil
}

// Idx3 returns the patch grid position of a global patch index.
func (pt *PatchTable) Idx3(gpatch int) (idx types.Int3) {
	var (
		np = pt.PatchGrid
	)
	idx[0] = gpatch % np[0]
	idx[1] = (gpatch / np[0]) % np[1]
	idx[2] = gpatch / (np[0] * np[1])
	return
}

// GlobalIndex is the inverse of Idx3.
func (pt *PatchTable) GlobalIndex(idx types.Int3) int {
	var (
		np = pt.PatchGrid
	)
	return idx[0] + np[0]*(idx[1]+np[1]*idx[2])
}

// Offset returns the global logical index of the first cell of a patch.
func (pt *PatchTable) Offset(gpatch int) types.Int3 {
	return pt.Idx3(gpatch).Mul(pt.LDims)
}

// Info returns the ownership record of a global patch.
func (pt *PatchTable) Info(gpatch int) (info PatchInfo, err error) {
	if err = pt.checkGPatch(gpatch); err != nil {
		return
	}
	rank, _, _ := pt.Owners.GetBucket(gpatch)
	info = PatchInfo{
		Rank:   rank,
		GPatch: gpatch,
		LDims:  pt.LDims,
	}
	return
}

// Owner returns the rank owning gpatch, -1 when out of range.
func (pt *PatchTable) Owner(gpatch int) (rank int) {
	rank, _, _ = pt.Owners.GetBucket(gpatch)
	return
}

// Patches returns the patches owned by rank in global order, IDs counting
// from zero.
func (pt *PatchTable) Patches(rank int) (patches []Patch) {
	if rank < 0 || rank >= pt.NumProcs() {
		return nil
	}
	var (
		gMin, gMax = pt.Owners.GetBucketRange(rank)
	)
	patches = make([]Patch, 0, gMax-gMin)
	for g := gMin; g < gMax; g++ {
		patches = append(patches, Patch{
			Off:    pt.Offset(g),
			LDims:  pt.LDims,
			ID:     g - gMin,
			GPatch: g,
		})
	}
	return
}

// Fingerprint identifies the table contents. Ranks that built their tables
// from the same inputs agree on it, and every exchange and migration
// message carries it.
func (pt *PatchTable) Fingerprint() uint64 {
	return pt.fingerprint
}

func (pt *PatchTable) digest() uint64 {
	var (
		b   []byte
		put = func(v int) { b = binary.LittleEndian.AppendUint64(b, uint64(v)) }
	)
	for d := 0; d < 3; d++ {
		put(pt.Desc.GlobalDims[d])
		put(pt.PatchGrid[d])
		put(int(pt.Desc.BC[d][0]))
		put(int(pt.Desc.BC[d][1]))
	}
	put(pt.Desc.SW)
	put(pt.Version)
	put(pt.NumProcs())
	for _, s := range pt.Owners.Starts() {
		put(s)
	}
	sum := sha3.Sum256(b)
	return binary.LittleEndian.Uint64(sum[:8])
}
