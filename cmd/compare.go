package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cwbudde/cmaes/internal/cmaes"
	"github.com/cwbudde/cmaes/internal/fitfunc"
	"github.com/cwbudde/cmaes/internal/opt"
)

var (
	compareFunction string
	compareDim      int
	compareIters    int
	comparePop      int
	compareSeed     int64
	compareFlavors  []string
	compareWorkers  int
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare CMA-ES flavors against the Mayfly baseline",
	Long: `Runs every selected CMA-ES flavor and the Mayfly optimizer on the same objective
inside the function's default box and prints the results side by side.`,
	RunE: runCompare,
}

func init() {
	compareCmd.Flags().StringVar(&compareFunction, "function", "rosenbrock", "Objective function")
	compareCmd.Flags().IntVar(&compareDim, "dim", 10, "Problem dimension")
	compareCmd.Flags().IntVar(&compareIters, "iters", 500, "Iterations per optimizer")
	compareCmd.Flags().IntVar(&comparePop, "pop", 20, "Mayfly population size (>= 20)")
	compareCmd.Flags().Int64Var(&compareSeed, "seed", 42, "Random seed")
	compareCmd.Flags().StringSliceVar(&compareFlavors, "flavors", []string{"full", "active", "sep", "vd"}, "CMA-ES flavors to run")
	compareCmd.Flags().IntVar(&compareWorkers, "workers", 1, "Concurrent objective evaluations for CMA-ES")
	rootCmd.AddCommand(compareCmd)
}

type comparison struct {
	name    string
	result  *opt.Result
	elapsed time.Duration
	err     error
}

func runCompare(cmd *cobra.Command, args []string) error {
	fn, err := fitfunc.Lookup(compareFunction)
	if err != nil {
		return err
	}
	optimizers, err := compareOptimizers(compareFlavors)
	if err != nil {
		return err
	}

	lower, upper := fn.Bounds(compareDim)
	ctx := commandContext(cmd)

	var rows []comparison
	for _, o := range optimizers {
		slog.Info("Running optimizer", "optimizer", o.Name(), "function", fn.Name, "dim", compareDim)
		start := time.Now()
		res, err := o.Run(ctx, fn.Eval, lower, upper)
		rows = append(rows, comparison{name: o.Name(), result: res, elapsed: time.Since(start), err: err})
		if ctx.Err() != nil {
			break
		}
	}

	printComparison(os.Stdout, rows)
	return ctx.Err()
}

func compareOptimizers(flavors []string) ([]opt.Optimizer, error) {
	var out []opt.Optimizer
	for _, name := range flavors {
		f, err := cmaes.ParseFlavor(name)
		if err != nil {
			return nil, err
		}
		c := opt.NewCMAES(f, compareIters, compareSeed)
		c.Workers = compareWorkers
		out = append(out, c)
	}
	return append(out, opt.NewMayfly(compareIters, comparePop, compareSeed)), nil
}

func printComparison(w io.Writer, rows []comparison) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OPTIMIZER\tBEST\tEVALS\tITER\tSTATUS\tELAPSED")
	for _, r := range rows {
		if r.result == nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\terror: %v\t%s\n", r.name, r.err, r.elapsed.Round(time.Millisecond))
			continue
		}
		status := r.result.Status
		if r.err != nil {
			status += " (" + r.err.Error() + ")"
		}
		fmt.Fprintf(tw, "%s\t%.6g\t%s\t%d\t%s\t%s\n",
			r.name,
			r.result.Cost,
			humanize.Comma(int64(r.result.Evaluations)),
			r.result.Iterations,
			status,
			r.elapsed.Round(time.Millisecond),
		)
	}
	tw.Flush()
}
