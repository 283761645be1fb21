/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/notargets/gopatch/InputParameters"
	"github.com/notargets/gopatch/balance"
	"github.com/notargets/gopatch/comm"
	"github.com/notargets/gopatch/ddc"
	"github.com/notargets/gopatch/domain"
	"github.com/notargets/gopatch/fields"
	"github.com/notargets/gopatch/loadlog"
	"github.com/notargets/gopatch/particles"
	"github.com/notargets/gopatch/types"
	"github.com/notargets/gopatch/utils"
)

// RunCmd represents the run command
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Advance particles and fields on a patch decomposed domain",
	Long: `
Runs every rank as a goroutine over the in-process transport. Each step
exchanges ghost cells, diffuses the fields, pushes and migrates particles and
rebalances patches by particle count every Balance.Interval steps.

gopatch run -I input.yaml --procs 4`,
	Run: func(cmd *cobra.Command, args []string) {
		var (
			err error
			ip  *InputParameters.DomainParameters
		)
		inputFile, _ := cmd.Flags().GetString("inputConditionsFile")
		if ip, err = readInput(inputFile); err != nil {
			log.Fatalf("%v", err)
		}
		if np := viper.GetInt("procs"); np > 0 {
			ip.NumProcs = np
		}
		if steps := viper.GetInt("steps"); steps > 0 {
			ip.Steps = steps
		}
		if ll := viper.GetString("loadlog"); ll != "" {
			ip.LoadLog = ll
		}
		ip.Print()
		if viper.GetBool("profile") {
			defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
		}
		start := time.Now()
		res, err := Simulate(ip, viper.GetBool("verbose"))
		if err != nil {
			log.Fatalf("run failed: %v", err)
		}
		res.Print()
		fmt.Printf("elapsed %v\n", time.Since(start))
	},
}

func init() {
	rootCmd.AddCommand(RunCmd)
	RunCmd.Flags().StringP("inputConditionsFile", "I", "", "YAML file with the domain and run parameters")
	RunCmd.Flags().IntP("procs", "n", 0, "number of ranks, overrides NumProcs")
	RunCmd.Flags().IntP("steps", "s", 0, "number of steps, overrides Steps")
	RunCmd.Flags().String("loadlog", "", "sqlite file recording the loads of every rebalance")
	RunCmd.Flags().Bool("profile", false, "write a CPU profile to the current directory")
	for _, name := range []string{"procs", "steps", "loadlog", "profile"} {
		viper.BindPFlag(name, RunCmd.Flags().Lookup(name))
	}
}

func readInput(fileName string) (ip *InputParameters.DomainParameters, err error) {
	if len(fileName) == 0 {
		exampleFile := `
########################################
Title: "Test Case"
GlobalDims: [1, 64, 64]
PatchGrid: [1, 8, 8]
BCs: [[periodic, periodic], [wall, wall], [periodic, periodic]]
GhostWidth: 2
NumProcs: 4
Components: [rho, jx]
Steps: 100
Particles: 4
Balance: {Interval: 10, PrintLoads: true}
########################################
`
		fmt.Printf("Example File:%s\n", exampleFile)
		return nil, fmt.Errorf("must supply an input parameters file (-I, --inputConditionsFile)")
	}
	var data []byte
	if data, err = os.ReadFile(fileName); err != nil {
		return
	}
	ip = &InputParameters.DomainParameters{}
	if err = ip.Parse(data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrConfiguration, fileName, err)
	}
	return
}

// RunResult sums the final state of every rank.
type RunResult struct {
	Steps       int
	Particles   int
	Weight      float64
	Dropped     int
	Reflected   int
	Rebalances  int
	Version     int
	Fingerprint uint64
	Starts      []int
	// Sum of the first component over all interior cells
	Mass, InitialMass float64
}

func (r *RunResult) Print() {
	fmt.Printf("[%d]\t\t\t= Steps\n", r.Steps)
	fmt.Printf("[%d]\t\t\t= Particles (%d dropped, %d reflected)\n", r.Particles, r.Dropped, r.Reflected)
	fmt.Printf("%12.6g\t\t= Particle weight\n", r.Weight)
	fmt.Printf("%12.6g -> %12.6g\t= Mass\n", r.InitialMass, r.Mass)
	fmt.Printf("[%d]\t\t\t= Rebalances moving patches, table version %d [%016x]\n", r.Rebalances, r.Version, r.Fingerprint)
	fmt.Printf("%v\t= Partition starts\n", r.Starts)
}

const tagDone = 400

type rankResult struct {
	particles, dropped, reflected, rebalances int
	weight, mass, initialMass                 float64
	d                                         *domain.Domain
}

// Simulate runs ip.Steps steps on ip.NumProcs goroutine ranks.
func Simulate(ip *InputParameters.DomainParameters, verbose bool) (res *RunResult, err error) {
	var (
		p  domain.Params
		ll *loadlog.Log
	)
	if p, err = ip.ToParams(); err != nil {
		return
	}
	if err = p.Validate(); err != nil {
		return
	}
	if ip.LoadLog != "" {
		if ll, err = loadlog.Open(ip.LoadLog); err != nil {
			return
		}
		defer ll.Close()
	}
	var (
		results = make([]rankResult, p.NumProcs)
		g       = comm.NewGroup(p.NumProcs)
	)
	if err = g.Run(func(tr comm.Transport) error {
		rr, err := runRank(tr, ip, p, ll, verbose)
		results[tr.Rank()] = rr
		return err
	}); err != nil {
		return
	}
	res = &RunResult{Steps: ip.Steps}
	for _, rr := range results {
		res.Particles += rr.particles
		res.Weight += rr.weight
		res.Dropped += rr.dropped
		res.Reflected += rr.reflected
		res.Mass += rr.mass
		res.InitialMass += rr.initialMass
	}
	d := results[0].d
	res.Rebalances = results[0].rebalances
	res.Version = d.Table.Version
	res.Fingerprint = d.Table.Fingerprint()
	res.Starts = d.Table.Owners.Starts()
	return
}

func runRank(tr comm.Transport, ip *InputParameters.DomainParameters, p domain.Params,
	ll *loadlog.Log, verbose bool) (rr rankResult, err error) {
	var (
		d  *domain.Domain
		f  *fields.Fields
		ps *particles.Store
		dd *ddc.DDC
	)
	if d, err = domain.Setup(p, tr.Rank()); err != nil {
		return
	}
	if f, err = fields.New(d, p.SW, ip.Components...); err != nil {
		return
	}
	if ps, err = particles.NewStore(d); err != nil {
		return
	}
	ps.Verbose = verbose
	if dd, err = ddc.New(d, tr, ddc.Reflect{}); err != nil {
		return
	}
	dd.Verbose = verbose
	b := balance.New(tr)
	b.Interval = ip.Balance.Interval
	b.FactorFields = ip.Balance.FactorFields
	b.PrintLoads = ip.Balance.PrintLoads
	b.Compress = ip.CompressMigration()
	b.LoadLog = ll
	if err = initialize(d, f, ps, ip.Particles); err != nil {
		return
	}
	rr.initialMass = mass(f)
	for step := 1; step <= ip.Steps; step++ {
		if err = dd.Exchange(f, 0, f.NumComp()); err != nil {
			return
		}
		diffuse(f, .1)
		if err = finite(f, tr.Rank(), step); err != nil {
			return
		}
		push(ps)
		var st particles.MigrateStats
		if st, err = ps.Migrate(tr); err != nil {
			return
		}
		rr.dropped += st.Dropped
		rr.reflected += st.Reflected
		if b.ShouldBalance(step) {
			if dd, err = b.RebalanceDDC(dd, costs(ps), f, ps); err != nil {
				return
			}
			if b.Changed {
				rr.rebalances++
			}
		}
		if tr.Rank() == 0 && (verbose || step%10 == 0 || step == ip.Steps) {
			log.Printf("step %d: %d local patches, %d local particles, %d peers",
				step, f.NumPatches(), ps.Count(), dd.Plan.NumMessages())
		}
	}
	rr.d = dd.Plan.Domain
	rr.particles, rr.weight = ps.Count(), ps.Weight()
	rr.mass = mass(f)
	if err = comm.Barrier(tr, tagDone); err != nil {
		return
	}
	if tr.Rank() == 0 {
		log.Printf("memory: %s", utils.GetMemUsage())
	}
	return
}

// finite fails on the first NaN or Inf stored in any local patch.
func finite(f *fields.Fields, rank, step int) error {
	for id := 0; id < f.NumPatches(); id++ {
		if n := utils.FirstNonFinite(f.PatchValues(id)); n >= 0 {
			return fmt.Errorf("%w: rank %d step %d: non finite value at offset %d of patch %d",
				types.ErrInvalidArgument, rank, step, n, id)
		}
	}
	return nil
}

// initialize puts a Gaussian bump in the first component and ppc particles
// in every cell, weighted by the bump.
func initialize(d *domain.Domain, f *fields.Fields, ps *particles.Store, ppc int) (err error) {
	var (
		patches []domain.Patch
		c       = d.Crds()
		center  [3]float64
		width   [3]float64
		gd      = d.GlobalDims()
	)
	if patches, err = d.LocalPatches(); err != nil {
		return
	}
	for a := 0; a < 3; a++ {
		center[a] = .5 * (c.Lo[a] + c.Hi[a])
		width[a] = math.Max(.25*(c.Hi[a]-c.Lo[a]), 1e-12)
	}
	for _, patch := range patches {
		view := f.Patch(patch.ID)
		for k := 0; k < patch.LDims[2]; k++ {
			for j := 0; j < patch.LDims[1]; j++ {
				for i := 0; i < patch.LDims[0]; i++ {
					x := d.CellPosition(patch, i, j, k)
					var r2 float64
					for a := 0; a < 3; a++ {
						if gd[a] > 1 {
							r2 += math.Pow((x[a]-center[a])/width[a], 2)
						}
					}
					rho := 1 + math.Exp(-r2)
					view.Set(0, i, j, k, rho)
					gc := patch.Off.Add(types.Int3{i, j, k})
					for n := 0; n < ppc; n++ {
						w := float64((gc[0]+gd[0]*(gc[1]+gd[1]*gc[2]))*ppc + n)
						q := particles.Particle{
							X: [3]float64{float64(gc[0]) + (float64(n)+.5)/float64(ppc),
								float64(gc[1]) + .5, float64(gc[2]) + .5},
							V: [3]float64{.45 * math.Sin(1.7*w), .45 * math.Cos(2.3*w), .45 * math.Sin(.9*w)},
							W: rho / float64(ppc),
						}
						if err = ps.Add(patch.ID, q); err != nil {
							return
						}
					}
				}
			}
		}
	}
	return
}

// diffuse relaxes every component towards the average of its six face
// neighbors. Ghosts must be current.
func diffuse(f *fields.Fields, alpha float64) {
	var (
		l   = f.LDims
		tmp = make([]float64, l.Volume())
	)
	if f.SW == 0 {
		return
	}
	for id := 0; id < f.NumPatches(); id++ {
		view := f.Patch(id)
		for m := 0; m < f.NumComp(); m++ {
			var n int
			for k := 0; k < l[2]; k++ {
				for j := 0; j < l[1]; j++ {
					for i := 0; i < l[0]; i++ {
						sum := view.At(m, i-1, j, k) + view.At(m, i+1, j, k) +
							view.At(m, i, j-1, k) + view.At(m, i, j+1, k) +
							view.At(m, i, j, k-1) + view.At(m, i, j, k+1)
						tmp[n] = (1-6*alpha)*view.At(m, i, j, k) + alpha*sum
						n++
					}
				}
			}
			n = 0
			for k := 0; k < l[2]; k++ {
				for j := 0; j < l[1]; j++ {
					for i := 0; i < l[0]; i++ {
						view.Set(m, i, j, k, tmp[n])
						n++
					}
				}
			}
		}
	}
}

func push(ps *particles.Store) {
	for id := 0; id < ps.Domain.NumLocalPatches(); id++ {
		pp := ps.Patch(id)
		for n := range pp {
			for a := 0; a < 3; a++ {
				pp[n].X[a] += pp[n].V[a]
			}
		}
	}
}

// costs counts the particles of every local patch, plus one for the fields.
func costs(ps *particles.Store) (c []float64) {
	c = make([]float64, ps.Domain.NumLocalPatches())
	for id := range c {
		c[id] = 1 + float64(len(ps.Patch(id)))
	}
	return
}

func mass(f *fields.Fields) (sum float64) {
	f.ForEachInterior(func(id, m, i, j, k int) {
		if m == 0 {
			sum += f.Patch(id).At(m, i, j, k)
		}
	})
	return
}
