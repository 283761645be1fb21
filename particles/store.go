// Package particles keeps particles per local patch and moves them between
// patches as they cross patch boundaries.
//
// Positions are global logical coordinates: cell (i,j,k) covers
// [i,i+1) x [j,j+1) x [k,k+1) and the domain covers [0, GlobalDims).
package particles

import (
	"fmt"
	"math"

	"github.com/notargets/gopatch/comm"
	"github.com/notargets/gopatch/domain"
	"github.com/notargets/gopatch/types"
)

// Particle is one macro particle.
type Particle struct {
	X [3]float64
	V [3]float64
	W float64
}

// particleLen is the number of float64 values of one encoded particle.
const particleLen = 7

func (p Particle) values() [particleLen]float64 {
	return [particleLen]float64{p.X[0], p.X[1], p.X[2], p.V[0], p.V[1], p.V[2], p.W}
}

func fromValues(v []float64) Particle {
	return Particle{
		X: [3]float64{v[0], v[1], v[2]},
		V: [3]float64{v[3], v[4], v[5]},
		W: v[6],
	}
}

// Store holds the particles of the local patches of one domain handle.
type Store struct {
	Domain  *domain.Domain
	Verbose bool
	patches [][]Particle
}

func NewStore(d *domain.Domain) (s *Store, err error) {
	if err = d.Valid(); err != nil {
		return
	}
	s = &Store{
		Domain:  d,
		patches: make([][]Particle, d.NumLocalPatches()),
	}
	return
}

// Add appends p to local patch id. The position must lie inside the patch.
func (s *Store) Add(id int, p Particle) (err error) {
	var patch domain.Patch
	if patch, err = s.Domain.LocalPatch(id); err != nil {
		return
	}
	if shift(patch, p.X) != (types.Shift{}) {
		return fmt.Errorf("%w: particle at %v is outside patch %d",
			types.ErrInvalidArgument, p.X, patch.GPatch)
	}
	s.patches[id] = append(s.patches[id], p)
	return
}

// Patch returns the particles of local patch id. The slice aliases the
// store.
func (s *Store) Patch(id int) []Particle {
	return s.patches[id]
}

// Count is the number of particles on all local patches.
func (s *Store) Count() (n int) {
	for _, pp := range s.patches {
		n += len(pp)
	}
	return
}

// Weight is the sum of particle weights on all local patches.
func (s *Store) Weight() (w float64) {
	for _, pp := range s.patches {
		for _, p := range pp {
			w += p.W
		}
	}
	return
}

// ExtractIf removes the particles of local patch id selected by leaving and
// returns them, the others keep their order.
func (s *Store) ExtractIf(id int, leaving func(p *Particle) bool) (out []Particle) {
	var (
		pp   = s.patches[id]
		keep = pp[:0]
	)
	for n := range pp {
		if leaving(&pp[n]) {
			out = append(out, pp[n])
		} else {
			keep = append(keep, pp[n])
		}
	}
	s.patches[id] = keep
	return
}

// Extract removes every particle of local patch id and serializes them.
func (s *Store) Extract(id int) (payload []byte, err error) {
	if id < 0 || id >= len(s.patches) {
		return nil, fmt.Errorf("%w: local patch %d outside [0,%d)",
			types.ErrInvalidArgument, id, len(s.patches))
	}
	pp := s.patches[id]
	s.patches[id] = nil
	return Encode(nil, pp), nil
}

// Insert deserializes payload into local patch id.
func (s *Store) Insert(id int, payload []byte) (err error) {
	var pp []Particle
	if id < 0 || id >= len(s.patches) {
		return fmt.Errorf("%w: local patch %d outside [0,%d)",
			types.ErrInvalidArgument, id, len(s.patches))
	}
	if pp, err = Decode(payload); err != nil {
		return
	}
	s.patches[id] = append(s.patches[id], pp...)
	return
}

// Reallocate moves the store from the patches of old to those of next.
// Particles of patches that left this rank must have been extracted.
func (s *Store) Reallocate(old, next *domain.Domain) (err error) {
	var patches []domain.Patch
	if patches, err = next.LocalPatches(); err != nil {
		return
	}
	if old.NumLocalPatches() != len(s.patches) {
		return fmt.Errorf("%w: store has %d patches, previous domain has %d",
			types.ErrInvalidArgument, len(s.patches), old.NumLocalPatches())
	}
	pp := make([][]Particle, len(patches))
	for _, p := range patches {
		if oldID := old.LocalID(p.GPatch); oldID >= 0 {
			pp[p.ID] = s.patches[oldID]
		}
	}
	s.patches = pp
	s.Domain = next
	return
}

// Encode appends the particle count and the particles to b.
func Encode(b []byte, pp []Particle) []byte {
	b = comm.AppendUint32(b, uint32(len(pp)))
	vals := make([]float64, 0, particleLen*len(pp))
	for _, p := range pp {
		v := p.values()
		vals = append(vals, v[:]...)
	}
	return comm.AppendFloat64s(b, vals)
}

// Decode is the inverse of Encode and fails on a truncated or oversized
// payload.
func Decode(payload []byte) (pp []Particle, err error) {
	rd := comm.NewReader(payload)
	n := int(rd.Uint32())
	if rd.Err != nil {
		return nil, rd.Err
	}
	if rd.Remaining() != 8*particleLen*n {
		return nil, fmt.Errorf("%w: %d particles in %d bytes",
			types.ErrProtocolInconsistency, n, rd.Remaining())
	}
	vals := make([]float64, particleLen*n)
	rd.Float64s(vals)
	pp = make([]Particle, n)
	for i := range pp {
		pp[i] = fromValues(vals[particleLen*i:])
	}
	return
}

// shift is the direction from patch to the patch containing x, each
// component -1, 0 or 1 regardless of the distance.
func shift(patch domain.Patch, x [3]float64) (s types.Shift) {
	for a := 0; a < 3; a++ {
		c := math.Floor(x[a])
		switch {
		case c < float64(patch.Off[a]):
			s[a] = -1
		case c >= float64(patch.Off[a]+patch.LDims[a]):
			s[a] = 1
		}
	}
	return
}
