package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/gopatch/types"
	"github.com/notargets/gopatch/utils"
)

func periodicParams(dims, grid types.Int3, np int) Params {
	return Params{
		GlobalDims: dims,
		PatchGrid:  grid,
		BC:         utils.NewBC(utils.BCPeriodic, utils.BCPeriodic, utils.BCPeriodic),
		SW:         1,
		NumProcs:   np,
	}
}

func TestSetupTiling(t *testing.T) {
	cases := []Params{
		periodicParams(types.Int3{1, 16, 16}, types.Int3{1, 4, 4}, 4),
		periodicParams(types.Int3{12, 6, 4}, types.Int3{3, 2, 2}, 5),
		periodicParams(types.Int3{8, 8, 8}, types.Int3{2, 2, 2}, 1),
		periodicParams(types.Int3{10, 3, 1}, types.Int3{5, 3, 1}, 15),
	}
	for _, p := range cases {
		var (
			covered = make([]int, p.GlobalDims.Volume())
			owned   = 0
			fp      uint64
		)
		for r := 0; r < p.NumProcs; r++ {
			d, err := Setup(p, r)
			require.NoError(t, err)
			if r == 0 {
				fp = d.Table.Fingerprint()
			}
			// Identical tables on every rank
			assert.Equal(t, fp, d.Table.Fingerprint())
			patches, err := d.LocalPatches()
			require.NoError(t, err)
			assert.NotEmpty(t, patches)
			gMin, gMax := r*d.NumGlobalPatches()/p.NumProcs, (r+1)*d.NumGlobalPatches()/p.NumProcs
			assert.Equal(t, gMax-gMin, len(patches))
			for id, patch := range patches {
				assert.Equal(t, id, patch.ID)
				assert.Equal(t, gMin+id, patch.GPatch)
				assert.Equal(t, id, d.LocalID(patch.GPatch))
				for k := 0; k < patch.LDims[2]; k++ {
					for j := 0; j < patch.LDims[1]; j++ {
						for i := 0; i < patch.LDims[0]; i++ {
							g := patch.Off.Add(types.Int3{i, j, k})
							covered[g[0]+p.GlobalDims[0]*(g[1]+p.GlobalDims[1]*g[2])]++
						}
					}
				}
				owned++
			}
		}
		assert.Equal(t, p.PatchGrid.Volume(), owned)
		for c, n := range covered {
			if !assert.Equal(t, 1, n, "cell %d of %v", c, p.GlobalDims) {
				break
			}
		}
	}
}

func TestSetupErrors(t *testing.T) {
	isConfig := func(p Params) bool {
		_, err := Setup(p, 0)
		return errors.Is(err, types.ErrConfiguration)
	}
	p := periodicParams(types.Int3{1, 16, 16}, types.Int3{1, 4, 4}, 4)
	{ // Test uneven split
		q := p
		q.PatchGrid = types.Int3{1, 3, 4}
		assert.True(t, isConfig(q))
	}
	{ // Test more ranks than patches
		q := p
		q.NumProcs = 17
		assert.True(t, isConfig(q))
	}
	{ // Test one sided periodic
		q := p
		q.BC[1][1] = utils.BCWall
		assert.True(t, isConfig(q))
	}
	{ // Test patches thinner than the ghost width
		q := p
		q.SW = 5
		assert.True(t, isConfig(q))
	}
	{ // Test bad counts
		q := p
		q.NumProcs = 0
		assert.True(t, isConfig(q))
		q = p
		q.PatchGrid = types.Int3{0, 4, 4}
		assert.True(t, isConfig(q))
	}
	{ // Test rank outside the group
		_, err := Setup(p, 4)
		assert.True(t, errors.Is(err, types.ErrInvalidArgument))
	}
}

func TestNeighbor(t *testing.T) {
	{ // Test inverse shift returns the original patch on a periodic grid
		p := periodicParams(types.Int3{6, 6, 6}, types.Int3{3, 2, 1}, 2)
		d, err := Setup(p, 0)
		require.NoError(t, err)
		for g := 0; g < d.NumGlobalPatches(); g++ {
			for _, s := range types.Directions {
				nb, err := d.Table.Neighbor(g, s)
				require.NoError(t, err)
				require.True(t, nb.Exists())
				assert.Equal(t, d.Table.Owner(nb.GPatch), nb.Rank)
				back, err := d.Table.Neighbor(nb.GPatch, s.Neg())
				require.NoError(t, err)
				assert.Equal(t, g, back.GPatch)
			}
		}
	}
	{ // Test walls stop the query, the inverse holds when nothing was crossed
		p := periodicParams(types.Int3{4, 9, 4}, types.Int3{2, 3, 2}, 3)
		p.BC[0] = [2]utils.BCType{utils.BCWall, utils.BCOpen}
		d, err := Setup(p, 1)
		require.NoError(t, err)
		for g := 0; g < d.NumGlobalPatches(); g++ {
			for _, s := range types.Directions {
				nb, err := d.Table.Neighbor(g, s)
				require.NoError(t, err)
				crossed := d.Table.EdgeAxes(g, s)
				if crossed[0] {
					assert.Equal(t, NoNeighbor, nb)
					continue
				}
				assert.False(t, crossed[1] || crossed[2])
				require.True(t, nb.Exists())
				back, _ := d.Table.Neighbor(nb.GPatch, s.Neg())
				assert.Equal(t, g, back.GPatch)
			}
		}
	}
	{ // Test wall scenario (1,8,8) split (1,2,2)
		p := periodicParams(types.Int3{1, 8, 8}, types.Int3{1, 2, 2}, 4)
		p.BC[1][0] = utils.BCWall
		p.BC[1][1] = utils.BCWall
		d, err := Setup(p, 0)
		require.NoError(t, err)
		patch, err := d.LocalPatch(0)
		require.NoError(t, err)
		assert.Equal(t, types.Int3{0, 0, 0}, patch.Off)
		nb, err := d.Neighbor(patch, types.Shift{0, -1, 0})
		require.NoError(t, err)
		assert.False(t, nb.Exists())
		rank, err := d.NeighborRank(patch, types.Shift{0, 1, 0})
		require.NoError(t, err)
		assert.Equal(t, 1, rank)
		// z stays periodic: two patches along z wrap onto each other
		nb, err = d.Neighbor(patch, types.Shift{0, 0, -1})
		require.NoError(t, err)
		assert.Equal(t, 2, nb.GPatch)
		// x has one patch, so x shifts wrap onto the patch itself
		nb, err = d.Neighbor(patch, types.Shift{1, 0, 0})
		require.NoError(t, err)
		assert.Equal(t, Neighbor{GPatch: 0, Rank: 0}, nb)
	}
	{ // Test invalid arguments
		d, err := Setup(periodicParams(types.Int3{4, 4, 4}, types.Int3{2, 2, 2}, 2), 0)
		require.NoError(t, err)
		patch, _ := d.LocalPatch(0)
		_, err = d.Neighbor(patch, types.Shift{})
		assert.True(t, errors.Is(err, types.ErrInvalidArgument))
		_, err = d.Neighbor(patch, types.Shift{2, 0, 0})
		assert.True(t, errors.Is(err, types.ErrInvalidArgument))
		_, err = d.PatchInfo(8)
		assert.True(t, errors.Is(err, types.ErrInvalidArgument))
		_, err = d.Table.Neighbor(-1, types.Shift{1, 0, 0})
		assert.True(t, errors.Is(err, types.ErrInvalidArgument))
		info, err := d.PatchInfo(5)
		require.NoError(t, err)
		assert.Equal(t, PatchInfo{Rank: 1, GPatch: 5, LDims: types.Int3{2, 2, 2}}, info)
		idx, err := d.PatchIdx3(5)
		require.NoError(t, err)
		assert.Equal(t, types.Int3{1, 0, 1}, idx)
		assert.Equal(t, 5, d.Table.GlobalIndex(idx))
	}
}

func TestSuccessorAndRetire(t *testing.T) {
	d, err := Setup(periodicParams(types.Int3{4, 4, 4}, types.Int3{4, 1, 1}, 2), 1)
	require.NoError(t, err)
	next, err := d.Successor([]int{0, 3})
	require.NoError(t, err)
	assert.Equal(t, 1, next.Table.Version)
	assert.NotEqual(t, d.Table.Fingerprint(), next.Table.Fingerprint())
	patches, err := next.LocalPatches()
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.Equal(t, 3, patches[0].GPatch)
	assert.Equal(t, 0, patches[0].ID)

	d.Retire()
	assert.False(t, d.IsSetup())
	_, err = d.LocalPatches()
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))
	_, err = d.Successor([]int{0, 1})
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))
	_, err = next.Successor([]int{0, 4})
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))
	_, err = next.Successor([]int{0})
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))
}

func TestCrds(t *testing.T) {
	{ // Test uniform cell centers with ghosts
		p := periodicParams(types.Int3{4, 2, 1}, types.Int3{2, 1, 1}, 1)
		p.Lo = [3]float64{-1, 0, 0}
		p.Hi = [3]float64{1, 0, 0}
		d, err := Setup(p, 0)
		require.NoError(t, err)
		c := d.Crds()
		assert.InDeltaSlice(t, []float64{-1.25, -.75, -.25, .25, .75, 1.25}, c.X[0], 1e-12)
		assert.InDeltaSlice(t, []float64{-.5, .5, 1.5, 2.5}, c.X[1], 1e-12)
		assert.InDeltaSlice(t, []float64{-.5, .5, 1.5}, c.X[2], 1e-12)
		patch, _ := d.LocalPatch(1)
		x := d.CellPosition(patch, -1, 0, 0)
		assert.InDelta(t, -.25, x[0], 1e-12)
		assert.InDelta(t, .5, c.Spacing(types.Int3{0, 0, 0})[0], 1e-12)
	}
	{ // Test stretched axis is symmetric with center spacing dx0
		gen := NewGGCMYZ()
		x, dx, err := gen.Generate(20, 2, -30, 30)
		require.NoError(t, err)
		require.Len(t, x, 24)
		// interior cells [0,20) sit at x[2:22]; mirror pairs
		for i := 0; i < 10; i++ {
			assert.InDelta(t, -x[2+i], x[21-i], 1e-9)
		}
		// the outermost interior cells are centered on the box edges
		assert.InDelta(t, 30., x[21], 1e-9)
		assert.InDelta(t, -30., x[2], 1e-9)
		assert.Less(t, dx[11], dx[21])
		assert.InDelta(t, gen.Dx0, dx[11], .05)
		for _, v := range dx {
			assert.False(t, math.IsNaN(v))
		}
		_, _, err = gen.Generate(20, 2, 0, 30)
		assert.Error(t, err)
	}
	{ // Test a failing generator is a configuration error
		p := periodicParams(types.Int3{4, 4, 4}, types.Int3{1, 1, 1}, 1)
		p.Lo[1], p.Hi[1] = 0, 10
		p.CrdsGen[1] = NewGGCMYZ()
		_, err := Setup(p, 0)
		assert.True(t, errors.Is(err, types.ErrConfiguration))
	}
}
