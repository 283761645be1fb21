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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/notargets/gopatch/balance"
	"github.com/notargets/gopatch/loadlog"
	"github.com/notargets/gopatch/types"
)

// BalanceCmd represents the balance command
var BalanceCmd = &cobra.Command{
	Use:   "balance [costs...]",
	Short: "Assign patches with the given costs to ranks",
	Long: `
Computes the contiguous assignment of patches to ranks that minimizes the
most loaded rank, from one cost per global patch in patch order, or prints
the history recorded in a load log.

gopatch balance -n 2 10 10 10 70
gopatch balance --history loads.db`,
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		if history, _ := cmd.Flags().GetString("history"); history != "" {
			err = WriteHistory(os.Stdout, history)
		} else {
			np, _ := cmd.Flags().GetInt("procs")
			err = WriteAssignment(os.Stdout, args, np)
		}
		if err != nil {
			log.Fatalf("%v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(BalanceCmd)
	BalanceCmd.Flags().IntP("procs", "n", 1, "number of ranks")
	BalanceCmd.Flags().String("history", "", "load log to print instead of assigning")
}

func WriteAssignment(w io.Writer, args []string, np int) (err error) {
	costs := make([]float64, len(args))
	for n, arg := range args {
		if costs[n], err = strconv.ParseFloat(arg, 64); err != nil {
			return fmt.Errorf("%w: cost %d: %v", types.ErrInvalidArgument, n, err)
		}
	}
	var starts []int
	if starts, err = balance.Assign(costs, np); err != nil {
		return
	}
	loads := balance.Loads(costs, starts)
	fmt.Fprintf(w, "%6s%8s%12s\n", "rank", "start", "load")
	for r := range starts {
		fmt.Fprintf(w, "%6d%8d%12.6g\n", r, starts[r], loads[r])
	}
	st := balance.LoadStats(loads)
	fmt.Fprintf(w, "max %g, mean %g, imbalance %.4f\n", st.Max, st.Mean, st.Imbalance)
	return
}

func WriteHistory(w io.Writer, path string) (err error) {
	var (
		ll       *loadlog.Log
		versions []int
		loads    []float64
	)
	if ll, err = loadlog.Open(path); err != nil {
		return
	}
	defer ll.Close()
	if versions, loads, err = ll.MaxLoad(); err != nil {
		return
	}
	fmt.Fprintf(w, "%8s%12s\n", "version", "max load")
	for n, v := range versions {
		fmt.Fprintf(w, "%8d%12.6g\n", v, loads[n])
	}
	return
}
