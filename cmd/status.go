package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cwbudde/cmaes/internal/store"
)

var traceTail int

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show the checkpoint and trace of a run",
	Long: `Shows the saved state of a run: its configuration, best point and progress.
With --tail, the last generations of the run's trace are printed as well.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&traceTail, "tail", 0, "Print the last N trace entries")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	runID := args[0]
	ctx := commandContext(cmd)

	checkpoints, err := openStore(ctx, storeKind, dataDir)
	if err != nil {
		return err
	}
	defer store.CloseIfSupported(checkpoints)

	cp, err := checkpoints.LoadCheckpoint(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("run not found: %s", runID)
		}
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	printStatus(os.Stdout, cp)

	entries, err := readTrace(dataDir, runID)
	if err != nil {
		return err
	}
	printTraceSummary(os.Stdout, entries, traceTail)
	return nil
}

func printStatus(w io.Writer, cp *store.Checkpoint) {
	fmt.Fprintf(w, "Run: %s\n", cp.RunID)
	fmt.Fprintf(w, "Status: %s\n", cp.Status)
	fmt.Fprintf(w, "Saved: %s (%s)\n", cp.Timestamp.Format("2006-01-02 15:04:05"), humanize.Time(cp.Timestamp))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Function: %s\n", cp.Config.Function)
	fmt.Fprintf(w, "  Dimension: %d\n", cp.Config.Dim)
	fmt.Fprintf(w, "  Flavor: %s\n", cp.Config.Flavor)
	fmt.Fprintf(w, "  Lambda: %d\n", cp.Config.Lambda)
	fmt.Fprintf(w, "  Sigma0: %g\n", cp.Config.Sigma0)
	fmt.Fprintf(w, "  Seed: %d\n", cp.Config.Seed)
	if cp.Config.Lower != nil {
		fmt.Fprintf(w, "  Bounds: %v .. %v\n", cp.Config.Lower, cp.Config.Upper)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Progress:")
	fmt.Fprintf(w, "  Iterations: %s\n", humanize.Comma(int64(cp.Iteration)))
	fmt.Fprintf(w, "  Evaluations: %s\n", humanize.Comma(int64(cp.Evaluations)))
	fmt.Fprintf(w, "  Restarts: %d\n", cp.Restarts)
	fmt.Fprintf(w, "  Best fitness: %g\n", cp.BestFitness)
	fmt.Fprintf(w, "  Step size: %g\n", cp.Sigma)
	if len(cp.BestX) <= 10 {
		fmt.Fprintf(w, "  Best point: %v\n", cp.BestX)
	}
}

// readTrace returns the run's trace, or nil when the run has none.
func readTrace(dir, runID string) ([]store.TraceEntry, error) {
	tr, err := store.NewTraceReader(dir, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer tr.Close()
	return tr.ReadAll()
}

func printTraceSummary(w io.Writer, entries []store.TraceEntry, tail int) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "\nNo trace recorded.")
		return
	}
	first, last := entries[0], entries[len(entries)-1]
	fmt.Fprintf(w, "\nTrace: %d generations, best %g -> %g, sigma %g -> %g\n",
		len(entries), first.BestFitness, last.BestFitness, first.Sigma, last.Sigma)

	if tail <= 0 {
		return
	}
	if tail > len(entries) {
		tail = len(entries)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ITER\tEVALS\tBEST\tMEDIAN\tSIGMA\tCOND")
	for _, e := range entries[len(entries)-tail:] {
		fmt.Fprintf(tw, "%d\t%d\t%.6g\t%.6g\t%.4g\t%.3g\n",
			e.Iteration, e.Evaluations, e.BestFitness, e.MedianFitness, e.Sigma, e.Condition)
	}
	tw.Flush()
}
