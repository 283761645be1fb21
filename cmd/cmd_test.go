package cmd

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"

	"github.com/notargets/gopatch/InputParameters"
	"github.com/notargets/gopatch/ddc"
	"github.com/notargets/gopatch/domain"
	"github.com/notargets/gopatch/fields"
	"github.com/notargets/gopatch/loadlog"
	"github.com/notargets/gopatch/types"
)

var fileInput = []byte(`
Title: Test Case
GlobalDims: [1, 16, 16]
PatchGrid: [1, 4, 4]
GhostWidth: 1
NumProcs: 4
Components: [rho, jx]
Steps: 6
Particles: 2
Balance:
  Interval: 3
  PrintLoads: true
`)

func testInput(t *testing.T) *InputParameters.DomainParameters {
	path := filepath.Join(t.TempDir(), "input.yaml")
	require.NoError(t, os.WriteFile(path, fileInput, 0644))
	ip, err := readInput(path)
	require.NoError(t, err)
	return ip
}

func TestSimulate(t *testing.T) {
	{ // Periodic everywhere
		ip := testInput(t)
		ip.LoadLog = filepath.Join(t.TempDir(), "loads.db")
		res, err := Simulate(ip, false)
		require.NoError(t, err)
		res.Print()
		assert.Equal(t, 16*16*2, res.Particles)
		assert.Zero(t, res.Dropped)
		assert.Zero(t, res.Reflected)
		assert.InDelta(t, res.InitialMass, res.Mass, 1e-9*res.InitialMass)
		assert.InDelta(t, res.InitialMass, res.Weight, 1e-9*res.InitialMass)
		// Balancing at steps 3 and 6 replaces the table each time
		assert.Equal(t, 2, res.Version)
		assert.LessOrEqual(t, res.Rebalances, res.Version)
		require.Len(t, res.Starts, 4)
		assert.Equal(t, 0, res.Starts[0])

		ll, err := loadlog.Open(ip.LoadLog)
		require.NoError(t, err)
		defer ll.Close()
		versions, _, err := ll.MaxLoad()
		require.NoError(t, err)
		assert.NotEmpty(t, versions)
	}
	{ // Walls bounce particles back and keep the mass
		ip := testInput(t)
		ip.BCs[1] = [2]string{"wall", "wall"}
		ip.GhostWidth = 2
		res, err := Simulate(ip, false)
		require.NoError(t, err)
		assert.Equal(t, 16*16*2, res.Particles)
		assert.Zero(t, res.Dropped)
		assert.Positive(t, res.Reflected)
		assert.InDelta(t, res.InitialMass, res.Mass, 1e-9*res.InitialMass)
	}
	{ // Open edges lose particles
		ip := testInput(t)
		ip.BCs[2] = [2]string{"open", "open"}
		res, err := Simulate(ip, false)
		require.NoError(t, err)
		assert.Equal(t, 16*16*2, res.Particles+res.Dropped)
	}
	{ // Bad decomposition
		ip := testInput(t)
		ip.PatchGrid = [3]int{1, 3, 4}
		_, err := Simulate(ip, false)
		assert.Error(t, err)
	}
}

func TestPlans(t *testing.T) {
	ip := testInput(t)
	var buf bytes.Buffer
	require.NoError(t, WritePlans(&buf, ip, -1, false))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	for r, line := range lines {
		var s ddc.Summary
		require.NoError(t, sonnet.Unmarshal([]byte(line), &s))
		assert.Equal(t, r, s.Rank)
		assert.Equal(t, 2, s.Messages)
	}
	buf.Reset()
	require.NoError(t, WritePlans(&buf, ip, 2, true))
	assert.Contains(t, buf.String(), "rank 2, table version 0")

	sums, err := PlanSummaries(ip, 1)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, 4, sums[0].Patches)
}

func TestAssignment(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAssignment(&buf, []string{"10", "10", "10", "70"}, 2))
	assert.Contains(t, buf.String(), "imbalance 1.4000")
	assert.Error(t, WriteAssignment(&buf, []string{"10", "x"}, 1))
	assert.Error(t, WriteAssignment(&buf, []string{"10"}, 2))

	path := filepath.Join(t.TempDir(), "loads.db")
	ll, err := loadlog.Open(path)
	require.NoError(t, err)
	require.NoError(t, ll.Record(3, 1, []float64{30, 70}, []int{3, 1}))
	require.NoError(t, ll.Close())
	buf.Reset()
	require.NoError(t, WriteHistory(&buf, path))
	assert.Contains(t, buf.String(), "70")
}

func TestReadInput(t *testing.T) {
	_, err := readInput("")
	assert.Error(t, err)
	_, err = readInput(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFinite(t *testing.T) {
	ip := testInput(t)
	ip.NumProcs = 1
	p, err := ip.ToParams()
	require.NoError(t, err)
	d, err := domain.Setup(p, 0)
	require.NoError(t, err)
	f, err := fields.New(d, p.SW, ip.Components...)
	require.NoError(t, err)
	assert.NoError(t, finite(f, 0, 1))
	f.Patch(3).Set(1, 0, 1, 1, math.NaN())
	err = finite(f, 0, 1)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "patch 3")
}
