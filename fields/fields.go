// Package fields stores named field components on the local patches of a
// domain, each patch padded with a ghost margin on every side.
package fields

import (
	"fmt"

	"github.com/notargets/gopatch/ddc"
	"github.com/notargets/gopatch/domain"
	"github.com/notargets/gopatch/types"
)

// Fields holds NumComp components on every local patch. Values of one patch
// are contiguous, component slowest and x fastest.
type Fields struct {
	Names []string
	SW    int
	LDims types.Int3 // interior extent of a patch
	GDims types.Int3 // extent including ghosts
	data  [][]float64
}

// New allocates zeroed fields on the local patches of d with a ghost
// margin sw, which must cover the ghost width of the domain.
func New(d *domain.Domain, sw int, names ...string) (f *Fields, err error) {
	if err = d.Valid(); err != nil {
		return
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: fields need at least one component", types.ErrInvalidArgument)
	}
	if sw < d.SW() {
		return nil, fmt.Errorf("%w: ghost margin %d is less than the domain ghost width %d",
			types.ErrInvalidArgument, sw, d.SW())
	}
	f = &Fields{
		Names: append([]string(nil), names...),
		SW:    sw,
		LDims: d.Table.LDims,
	}
	for a := 0; a < 3; a++ {
		f.GDims[a] = f.LDims[a] + 2*sw
	}
	f.data = make([][]float64, d.NumLocalPatches())
	for id := range f.data {
		f.data[id] = make([]float64, f.PatchLen())
	}
	return
}

func (f *Fields) NumComp() int    { return len(f.Names) }
func (f *Fields) GhostWidth() int { return f.SW }
func (f *Fields) NumPatches() int { return len(f.data) }

// PatchLen is the number of values stored per patch, ghosts included.
func (f *Fields) PatchLen() int {
	return f.NumComp() * f.GDims.Volume()
}

// Comp returns the index of a named component.
func (f *Fields) Comp(name string) (m int, err error) {
	for m = range f.Names {
		if f.Names[m] == name {
			return
		}
	}
	return -1, fmt.Errorf("%w: no component named %q", types.ErrInvalidArgument, name)
}

// Index is the offset of component m at local cell (i,j,k) in the values
// of a patch. Ghost cells have negative indices or indices >= LDims.
func (f *Fields) Index(m, i, j, k int) int {
	var (
		g  = f.GDims
		sw = f.SW
	)
	return ((m*g[2]+k+sw)*g[1]+j+sw)*g[0] + i + sw
}

// Patch returns the view of local patch id.
func (f *Fields) Patch(id int) ddc.PatchView {
	return &PatchView{f: f, Data: f.data[id]}
}

// PatchValues returns the values of local patch id, ghosts included. The
// slice aliases the storage.
func (f *Fields) PatchValues(id int) []float64 {
	return f.data[id]
}

// SetPatchValues overwrites every value of local patch id.
func (f *Fields) SetPatchValues(id int, v []float64) error {
	if id < 0 || id >= len(f.data) {
		return fmt.Errorf("%w: local patch %d outside [0,%d)", types.ErrInvalidArgument, id, len(f.data))
	}
	if len(v) != f.PatchLen() {
		return fmt.Errorf("%w: %d values for a patch of %d", types.ErrInvalidArgument, len(v), f.PatchLen())
	}
	copy(f.data[id], v)
	return nil
}

// Reallocate moves the storage from the patches of old to those of next.
// Patches owned under both tables keep their values, new ones start at
// zero.
func (f *Fields) Reallocate(old, next *domain.Domain) (err error) {
	var patches []domain.Patch
	if patches, err = next.LocalPatches(); err != nil {
		return
	}
	if old.NumLocalPatches() != len(f.data) {
		return fmt.Errorf("%w: fields have %d patches, previous domain has %d",
			types.ErrInvalidArgument, len(f.data), old.NumLocalPatches())
	}
	data := make([][]float64, len(patches))
	for _, p := range patches {
		if oldID := old.LocalID(p.GPatch); oldID >= 0 {
			data[p.ID] = f.data[oldID]
		} else {
			data[p.ID] = make([]float64, f.PatchLen())
		}
	}
	f.data = data
	return
}

// ForEachInterior calls fn for every interior cell of every local patch
// and component.
func (f *Fields) ForEachInterior(fn func(id, m, i, j, k int)) {
	for id := range f.data {
		for m := range f.Names {
			for k := 0; k < f.LDims[2]; k++ {
				for j := 0; j < f.LDims[1]; j++ {
					for i := 0; i < f.LDims[0]; i++ {
						fn(id, m, i, j, k)
					}
				}
			}
		}
	}
}

// PatchView is one patch of a Fields.
type PatchView struct {
	f    *Fields
	Data []float64
}

func (p *PatchView) At(m, i, j, k int) float64 {
	return p.Data[p.f.Index(m, i, j, k)]
}

func (p *PatchView) Set(m, i, j, k int, v float64) {
	p.Data[p.f.Index(m, i, j, k)] = v
}
