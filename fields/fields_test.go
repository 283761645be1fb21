package fields

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/gopatch/domain"
	"github.com/notargets/gopatch/types"
	"github.com/notargets/gopatch/utils"
)

func setup(t *testing.T, np, rank int) *domain.Domain {
	d, err := domain.Setup(domain.Params{
		GlobalDims: types.Int3{4, 4, 2},
		PatchGrid:  types.Int3{2, 2, 1},
		BC:         utils.NewBC(utils.BCPeriodic, utils.BCPeriodic, utils.BCPeriodic),
		SW:         1,
		NumProcs:   np,
	}, rank)
	require.NoError(t, err)
	return d
}

func TestFields(t *testing.T) {
	d := setup(t, 2, 0)
	f, err := New(d, 2, "rho", "vx")
	require.NoError(t, err)
	assert.Equal(t, 2, f.NumComp())
	assert.Equal(t, 2, f.NumPatches())
	assert.Equal(t, types.Int3{6, 6, 6}, f.GDims)
	assert.Equal(t, 2*216, f.PatchLen())
	m, err := f.Comp("vx")
	require.NoError(t, err)
	assert.Equal(t, 1, m)
	_, err = f.Comp("bz")
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))

	// Ghost corners and interior map to distinct slots
	seen := make(map[int]bool)
	for m := 0; m < 2; m++ {
		for k := -2; k < 4; k++ {
			for j := -2; j < 4; j++ {
				for i := -2; i < 4; i++ {
					idx := f.Index(m, i, j, k)
					require.False(t, seen[idx])
					seen[idx] = true
				}
			}
		}
	}
	assert.Len(t, seen, f.PatchLen())

	p := f.Patch(1)
	p.Set(1, -2, 3, 0, 42)
	assert.Equal(t, 42., p.At(1, -2, 3, 0))
	assert.Equal(t, 42., f.PatchValues(1)[f.Index(1, -2, 3, 0)])
	assert.Equal(t, 0., f.PatchValues(0)[f.Index(1, -2, 3, 0)])

	_, err = New(d, 0, "rho")
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))
	_, err = New(d, 1)
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))
	assert.Error(t, f.SetPatchValues(0, []float64{1}))
	assert.Error(t, f.SetPatchValues(2, make([]float64, f.PatchLen())))
}

func TestReallocate(t *testing.T) {
	d := setup(t, 2, 1) // patches 2,3
	f, err := New(d, 1, "rho")
	require.NoError(t, err)
	f.ForEachInterior(func(id, m, i, j, k int) {
		f.Patch(id).Set(m, i, j, k, float64(100*(id+2)+i))
	})
	next, err := d.Successor([]int{0, 3})
	require.NoError(t, err)
	require.NoError(t, f.Reallocate(d, next))
	assert.Equal(t, 1, f.NumPatches())
	// Global patch 3 was local patch 1 and is now local patch 0
	assert.Equal(t, 301., f.Patch(0).At(0, 1, 0, 0))

	prev, err := next.Successor([]int{0, 1})
	require.NoError(t, err)
	require.NoError(t, f.Reallocate(next, prev))
	assert.Equal(t, 3, f.NumPatches())
	assert.Equal(t, 0., f.Patch(0).At(0, 1, 0, 0))
	assert.Equal(t, 301., f.Patch(2).At(0, 1, 0, 0))

	assert.Error(t, f.Reallocate(next, prev))
}
