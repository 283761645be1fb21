package ddc_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"

	"github.com/notargets/gopatch/comm"
	"github.com/notargets/gopatch/ddc"
	"github.com/notargets/gopatch/domain"
	"github.com/notargets/gopatch/fields"
	"github.com/notargets/gopatch/types"
	"github.com/notargets/gopatch/utils"
)

var comps = []string{"rho", "vy", "vz"}

func cellValue(m int, g types.Int3) float64 {
	return float64(1000000*m+10000*g[2]+100*g[1]+g[0]) + .25
}

// expected is the value a cell at global index g holds after an exchange,
// ghosts outside the domain included.
func expected(p domain.Params, rule ddc.BoundaryRule, m int, g types.Int3) float64 {
	var walls []int
	for a := 0; a < 3; a++ {
		n := p.GlobalDims[a]
		side := -1
		switch {
		case g[a] < 0:
			side = 0
		case g[a] >= n:
			side = 1
		}
		if side < 0 {
			continue
		}
		switch p.BC[a][side] {
		case utils.BCPeriodic:
			g[a] = (g[a] + n) % n
		case utils.BCWall:
			if side == 0 {
				g[a] = -1 - g[a]
			} else {
				g[a] = 2*n - 1 - g[a]
			}
			walls = append(walls, a)
		case utils.BCOpen:
			if side == 0 {
				g[a] = 0
			} else {
				g[a] = n - 1
			}
		}
	}
	v := cellValue(m, g)
	for _, a := range walls {
		v = rule.Wall(m, a, v)
	}
	return v
}

// runExchange fills the interior of every patch on every rank, exchanges
// all components and compares every cell, ghosts included, to expected.
func runExchange(t *testing.T, p domain.Params, rule ddc.BoundaryRule) {
	g := comm.NewGroup(p.NumProcs)
	err := g.Run(func(tr comm.Transport) (err error) {
		var (
			d  *domain.Domain
			dd *ddc.DDC
			f  *fields.Fields
		)
		if d, err = domain.Setup(p, tr.Rank()); err != nil {
			return
		}
		if dd, err = ddc.New(d, tr, rule); err != nil {
			return
		}
		if f, err = fields.New(d, p.SW, comps...); err != nil {
			return
		}
		patches, _ := d.LocalPatches()
		for _, patch := range patches {
			vals := f.PatchValues(patch.ID)
			for n := range vals {
				vals[n] = -1
			}
		}
		f.ForEachInterior(func(id, m, i, j, k int) {
			f.Patch(id).Set(m, i, j, k, cellValue(m, patches[id].Off.Add(types.Int3{i, j, k})))
		})
		if err = dd.Exchange(f, 0, len(comps)); err != nil {
			return
		}
		sw := p.SW
		for _, patch := range patches {
			view := f.Patch(patch.ID)
			for m := range comps {
				for k := -sw; k < patch.LDims[2]+sw; k++ {
					for j := -sw; j < patch.LDims[1]+sw; j++ {
						for i := -sw; i < patch.LDims[0]+sw; i++ {
							gc := patch.Off.Add(types.Int3{i, j, k})
							if !assert.Equal(t, expected(p, rule, m, gc), view.At(m, i, j, k),
								"rank %d patch %d comp %d cell (%d,%d,%d)", d.Rank, patch.GPatch, m, i, j, k) {
								return
							}
						}
					}
				}
			}
		}
		return
	})
	require.NoError(t, err)
	assert.Equal(t, 0, g.Pending())
}

func periodic(dims, grid types.Int3, sw, np int) domain.Params {
	return domain.Params{
		GlobalDims: dims,
		PatchGrid:  grid,
		BC:         utils.NewBC(utils.BCPeriodic, utils.BCPeriodic, utils.BCPeriodic),
		SW:         sw,
		NumProcs:   np,
	}
}

func TestExchangePeriodic(t *testing.T) {
	// 2D slab with wraparound on y and z over 4 ranks
	runExchange(t, periodic(types.Int3{1, 16, 16}, types.Int3{1, 4, 4}, 1, 4), nil)
	// Single rank, every neighbor is a local copy, including the patch itself
	runExchange(t, periodic(types.Int3{4, 4, 4}, types.Int3{2, 2, 2}, 2, 1), nil)
	runExchange(t, periodic(types.Int3{3, 1, 1}, types.Int3{1, 1, 1}, 1, 1), nil)
	// Uneven number of patches per rank
	runExchange(t, periodic(types.Int3{6, 6, 4}, types.Int3{3, 3, 2}, 2, 5), nil)
}

func TestExchangeBoundaries(t *testing.T) {
	{ // Wall on the low y side, outflow on the high side
		p := periodic(types.Int3{1, 8, 8}, types.Int3{1, 2, 2}, 1, 4)
		p.BC[1] = [2]utils.BCType{utils.BCWall, utils.BCOpen}
		runExchange(t, p, ddc.Parity{Odd: [][3]bool{{}, {false, true, false}}})
	}
	{ // Walls on every side of two axes, corners cross two walls
		p := periodic(types.Int3{6, 6, 4}, types.Int3{3, 3, 1}, 2, 3)
		p.BC[0] = [2]utils.BCType{utils.BCWall, utils.BCWall}
		p.BC[2] = [2]utils.BCType{utils.BCWall, utils.BCWall}
		runExchange(t, p, ddc.Parity{Odd: [][3]bool{{true, false, true}, {}, {false, false, true}}})
		runExchange(t, p, ddc.Zero{})
		runExchange(t, p, ddc.RuleFunc(func(m, axis int, v float64) float64 {
			return v + float64(10*axis+m)
		}))
	}
	{ // Open everywhere
		p := periodic(types.Int3{4, 4, 4}, types.Int3{2, 2, 1}, 1, 2)
		for a := 0; a < 3; a++ {
			p.BC[a] = [2]utils.BCType{utils.BCOpen, utils.BCOpen}
		}
		runExchange(t, p, nil)
	}
}

func TestPlan(t *testing.T) {
	p := periodic(types.Int3{1, 16, 16}, types.Int3{1, 4, 4}, 1, 4)
	g := comm.NewGroup(4)
	for r := 0; r < 4; r++ {
		d, err := domain.Setup(p, r)
		require.NoError(t, err)
		dd, err := ddc.New(d, g.Endpoint(r), nil)
		require.NoError(t, err)
		plan := dd.Plan
		// One message per peer: the z rows above and below
		require.Equal(t, 2, plan.NumMessages())
		assert.ElementsMatch(t, []int{(r + 1) % 4, (r + 3) % 4},
			[]int{plan.Peers[0].Rank, plan.Peers[1].Rank})
		assert.Less(t, plan.Peers[0].Rank, plan.Peers[1].Rank)
		for _, pm := range plan.Peers {
			assert.NotEqual(t, r, pm.Rank)
			assert.Len(t, pm.Send, 36)
			assert.Len(t, pm.Recv, 36)
			assert.Equal(t, pm.SendCells, pm.RecvCells)
			for _, e := range pm.Send {
				assert.Equal(t, pm.Rank, d.Table.Owner(e.PeerGPatch))
			}
		}
		// 4 patches, 8 of the 26 directions stay in the row
		assert.Len(t, plan.Local, 4*8)
		assert.Empty(t, plan.Edges)

		s := plan.Summary()
		assert.Equal(t, 2, s.Messages)
		assert.Equal(t, 4, s.Patches)
		// per patch: 2 x faces of 1x4x4 and 6 boxes of 1x1x4
		assert.Equal(t, 4*(2*16+6*4), s.LocalCells)
		js, err := sonnet.Marshal(s)
		require.NoError(t, err)
		assert.Contains(t, string(js), `"messages":2`)
		var back ddc.Summary
		require.NoError(t, sonnet.Unmarshal(js, &back))
		assert.Equal(t, s, back)
	}
	{ // No ghosts, nothing to plan
		d, err := domain.Setup(periodic(types.Int3{4, 4, 4}, types.Int3{2, 2, 2}, 0, 2), 0)
		require.NoError(t, err)
		plan, err := ddc.NewPlan(d)
		require.NoError(t, err)
		assert.Zero(t, plan.NumMessages())
		assert.Empty(t, plan.Local)
	}
	{ // Wall edges become edge ghosts instead of messages
		q := periodic(types.Int3{1, 8, 8}, types.Int3{1, 2, 2}, 1, 4)
		q.BC[1] = [2]utils.BCType{utils.BCWall, utils.BCWall}
		d, err := domain.Setup(q, 0)
		require.NoError(t, err)
		plan, err := ddc.NewPlan(d)
		require.NoError(t, err)
		// y low of patch 0 is the wall: 9 directions with y = -1
		assert.Len(t, plan.Edges, 9)
		for _, eg := range plan.Edges {
			assert.Equal(t, -1, eg.Shift[1])
			assert.Equal(t, [3]bool{false, true, false}, eg.Crossed)
			assert.Equal(t, utils.BCWall, eg.Kinds[1])
		}
	}
}

func TestExchangeErrors(t *testing.T) {
	p := periodic(types.Int3{4, 4, 4}, types.Int3{2, 2, 2}, 1, 2)
	{ // Transport of another rank
		d, err := domain.Setup(p, 0)
		require.NoError(t, err)
		_, err = ddc.New(d, comm.NewGroup(2).Endpoint(1), nil)
		assert.True(t, errors.Is(err, types.ErrInvalidArgument))
		_, err = ddc.New(d, comm.NewGroup(3).Endpoint(0), nil)
		assert.True(t, errors.Is(err, types.ErrInvalidArgument))
	}
	{ // Component range and field shape
		g := comm.NewGroup(2)
		d, _ := domain.Setup(p, 0)
		dd, err := ddc.New(d, g.Endpoint(0), nil)
		require.NoError(t, err)
		f, err := fields.New(d, 1, "a", "b")
		require.NoError(t, err)
		for _, r := range [][2]int{{0, 3}, {-1, 1}, {2, 1}} {
			err = dd.Exchange(f, r[0], r[1])
			assert.True(t, errors.Is(err, types.ErrInvalidArgument), "range %v", r)
		}
		other, _ := domain.Setup(periodic(types.Int3{4, 4, 4}, types.Int3{2, 2, 2}, 1, 1), 0)
		big, err := fields.New(other, 1, "a")
		require.NoError(t, err)
		assert.True(t, errors.Is(dd.Exchange(big, 0, 1), types.ErrInvalidArgument))
		// An empty range does nothing
		assert.NoError(t, dd.Exchange(f, 1, 1))
		assert.Zero(t, g.Pending())
	}
	{ // Stale plan after the table was replaced
		g := comm.NewGroup(2)
		d, _ := domain.Setup(p, 1)
		dd, err := ddc.New(d, g.Endpoint(1), nil)
		require.NoError(t, err)
		f, _ := fields.New(d, 1, "a")
		_, err = d.Successor([]int{0, 2})
		require.NoError(t, err)
		d.Retire()
		assert.Error(t, dd.Plan.Current())
		assert.True(t, errors.Is(dd.Exchange(f, 0, 1), types.ErrInvalidArgument))
	}
	{ // Ranks disagreeing on the table
		g := comm.NewGroup(2)
		err := g.Run(func(tr comm.Transport) (err error) {
			d, err := domain.Setup(p, tr.Rank())
			if err != nil {
				return
			}
			if tr.Rank() == 1 {
				if d, err = d.Successor(d.Table.Owners.Starts()); err != nil {
					return
				}
			}
			dd, err := ddc.New(d, tr, nil)
			if err != nil {
				return
			}
			f, _ := fields.New(d, 1, "a")
			return dd.Exchange(f, 0, 1)
		})
		assert.True(t, errors.Is(err, types.ErrProtocolInconsistency), "%v", err)
	}
	{ // Transport failure
		g := comm.NewGroup(2)
		d, _ := domain.Setup(p, 0)
		dd, err := ddc.New(d, g.Endpoint(0), nil)
		require.NoError(t, err)
		f, _ := fields.New(d, 1, "a")
		g.Close(errors.New("peer died"))
		assert.True(t, errors.Is(dd.Exchange(f, 0, 1), types.ErrCommunicationFailure))
	}
}
