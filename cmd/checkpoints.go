package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cwbudde/cmaes/internal/store"
)

var (
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage run checkpoints",
	Long: `Manage run checkpoints including listing and cleaning old checkpoints.
Checkpoints allow resuming a run from its best point.`,
}

var listCheckpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all available checkpoints",
	Long:  `Display all checkpoints with run ID, function, flavor, best fitness, age and size.`,
	RunE:  runListCheckpoints,
}

var cleanCheckpointsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old checkpoints",
	Long: `Delete old checkpoints and their traces based on retention policy.
You can keep the N most recent runs or delete runs older than N days.`,
	RunE: runCleanCheckpoints,
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)

	checkpointsCmd.AddCommand(listCheckpointsCmd)
	checkpointsCmd.AddCommand(cleanCheckpointsCmd)

	cleanCheckpointsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the last N checkpoints (0 = keep all)")
	cleanCheckpointsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete checkpoints older than N days (0 = no age limit)")
	cleanCheckpointsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func runListCheckpoints(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	checkpointStore, err := openStore(ctx, storeKind, dataDir)
	if err != nil {
		return err
	}
	defer store.CloseIfSupported(checkpointStore)

	infos, err := checkpointStore.ListCheckpoints(ctx)
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Timestamp.After(infos[j].Timestamp) })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tFUNCTION\tFLAVOR\tDIM\tITER\tBEST\tSTATUS\tSAVED\tSIZE")
	fmt.Fprintln(w, "------\t--------\t------\t---\t----\t----\t------\t-----\t----")

	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.6g\t%s\t%s\t%s\n",
			shortID(info.RunID),
			info.Function,
			info.Flavor,
			info.Dim,
			info.Iteration,
			info.BestFitness,
			info.Status,
			humanize.Time(info.Timestamp),
			humanize.Bytes(uint64(info.Size)),
		)
	}

	w.Flush()

	fmt.Printf("\nTotal checkpoints: %d\n", len(infos))
	return nil
}

func runCleanCheckpoints(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	ctx := commandContext(cmd)
	checkpointStore, err := openStore(ctx, storeKind, dataDir)
	if err != nil {
		return err
	}
	defer store.CloseIfSupported(checkpointStore)

	infos, err := checkpointStore.ListCheckpoints(ctx)
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No checkpoints to clean.")
		return nil
	}

	toDelete := selectCheckpointsForDeletion(infos, keepLast, olderThanDays)

	if len(toDelete) == 0 {
		fmt.Println("No checkpoints match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d checkpoint(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Printf("  - %s (%s, iteration %d, %s)\n",
			shortID(info.RunID),
			info.Function,
			info.Iteration,
			humanize.Time(info.Timestamp),
		)
	}

	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := checkpointStore.DeleteCheckpoint(ctx, info.RunID); err != nil {
			slog.Error("Failed to delete checkpoint", "run_id", info.RunID, "error", err)
			failed++
			continue
		}
		if err := store.DeleteTrace(dataDir, info.RunID); err != nil {
			slog.Warn("Failed to delete trace", "run_id", info.RunID, "error", err)
		}
		slog.Info("Deleted checkpoint", "run_id", info.RunID)
		deleted++
	}

	fmt.Printf("\nDeleted %d checkpoint(s), %d failed.\n", deleted, failed)
	return nil
}

// selectCheckpointsForDeletion determines which checkpoints should be deleted based on retention policy
func selectCheckpointsForDeletion(infos []store.CheckpointInfo, keepLast int, olderThanDays int) []store.CheckpointInfo {
	var toDelete []store.CheckpointInfo
	selected := make(map[string]bool)

	if olderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				toDelete = append(toDelete, info)
				selected[info.RunID] = true
			}
		}
	}

	// One checkpoint per run, so keeping the last N means keeping the N newest runs.
	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]store.CheckpointInfo, len(infos))
		copy(sorted, infos)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		})

		for _, info := range sorted[:len(sorted)-keepLast] {
			if !selected[info.RunID] {
				toDelete = append(toDelete, info)
				selected[info.RunID] = true
			}
		}
	}

	return toDelete
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}
