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
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"

	"github.com/notargets/gopatch/InputParameters"
	"github.com/notargets/gopatch/ddc"
	"github.com/notargets/gopatch/domain"
)

// PlanCmd represents the plan command
var PlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the ghost exchange plan of every rank",
	Long: `
Builds the patch table and the exchange plan of each rank without running
anything and prints one summary per rank, as JSON lines or as a table.

gopatch plan -I input.yaml --table`,
	Run: func(cmd *cobra.Command, args []string) {
		var (
			err error
			ip  *InputParameters.DomainParameters
		)
		inputFile, _ := cmd.Flags().GetString("inputConditionsFile")
		if ip, err = readInput(inputFile); err != nil {
			log.Fatalf("%v", err)
		}
		if np, _ := cmd.Flags().GetInt("procs"); np > 0 {
			ip.NumProcs = np
		}
		rank, _ := cmd.Flags().GetInt("rank")
		table, _ := cmd.Flags().GetBool("table")
		if err = WritePlans(os.Stdout, ip, rank, table); err != nil {
			log.Fatalf("%v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(PlanCmd)
	PlanCmd.Flags().StringP("inputConditionsFile", "I", "", "YAML file with the domain parameters")
	PlanCmd.Flags().IntP("procs", "n", 0, "number of ranks, overrides NumProcs")
	PlanCmd.Flags().IntP("rank", "r", -1, "rank to print, all when negative")
	PlanCmd.Flags().Bool("table", false, "print tables instead of JSON")
}

// PlanSummaries builds the plan of every rank, or of one when rank >= 0.
func PlanSummaries(ip *InputParameters.DomainParameters, rank int) (sums []ddc.Summary, err error) {
	var p domain.Params
	if p, err = ip.ToParams(); err != nil {
		return
	}
	first, last := 0, p.NumProcs
	if rank >= 0 {
		first, last = rank, rank+1
	}
	for r := first; r < last; r++ {
		var (
			d    *domain.Domain
			plan *ddc.Plan
		)
		if d, err = domain.Setup(p, r); err != nil {
			return
		}
		if plan, err = ddc.NewPlan(d); err != nil {
			return
		}
		sums = append(sums, plan.Summary())
	}
	return
}

func WritePlans(w io.Writer, ip *InputParameters.DomainParameters, rank int, table bool) (err error) {
	var sums []ddc.Summary
	if sums, err = PlanSummaries(ip, rank); err != nil {
		return
	}
	for _, s := range sums {
		if table {
			s.Print(w)
			continue
		}
		var js []byte
		if js, err = sonnet.Marshal(s); err != nil {
			return
		}
		fmt.Fprintf(w, "%s\n", js)
	}
	return
}
