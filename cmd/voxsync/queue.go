package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/voxsync/voxsync/internal/config"
	"github.com/voxsync/voxsync/internal/queue"
	"github.com/voxsync/voxsync/internal/types"
)

var (
	queueDBOverride  string
	queueJSONOutput  bool
	queueStatusValue string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the offline operation queue",
	Long:  "Show queue statistics and pending operations without running the daemon.",
}

func init() {
	queueCmd.PersistentFlags().StringVar(&queueDBOverride, "db", "",
		"Queue database path (overrides config and VOXSYNC_DB_PATH)")
	queueCmd.PersistentFlags().BoolVar(&queueJSONOutput, "json", false,
		"Output in JSON format")

	queueListCmd.Flags().StringVar(&queueStatusValue, "status", "",
		"Filter by status (PENDING, PROCESSING, SUCCESS, FAILED, CONFLICT)")

	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueListCmd)
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counts by status",
	Args:  cobra.NoArgs,
	RunE:  runQueueStats,
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	records, err := loadQueue()
	if err != nil {
		return err
	}

	counts := map[types.OperationStatus]int{}
	for _, rec := range records {
		counts[rec.Status]++
	}

	if queueJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"pending":    counts[types.StatusPending],
			"processing": counts[types.StatusProcessing],
			"success":    counts[types.StatusSuccess],
			"failed":     counts[types.StatusFailed],
			"conflict":   counts[types.StatusConflict],
			"total":      len(records),
		})
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "STATUS\tCOUNT")
	for _, status := range []types.OperationStatus{
		types.StatusPending, types.StatusProcessing, types.StatusSuccess,
		types.StatusFailed, types.StatusConflict,
	} {
		fmt.Fprintf(w, "%s\t%d\n", status, counts[status])
	}
	fmt.Fprintf(w, "TOTAL\t%d\n", len(records))
	return w.Flush()
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued operations",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

func runQueueList(cmd *cobra.Command, args []string) error {
	records, err := loadQueue()
	if err != nil {
		return err
	}

	filter := types.OperationStatus(queueStatusValue)
	filtered := records[:0]
	for _, rec := range records {
		if filter != "" && rec.Status != filter {
			continue
		}
		filtered = append(filtered, rec)
	}

	if queueJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"operations": filtered,
			"total":      len(filtered),
		})
	}

	if len(filtered) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No operations found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tRETRIES\tCREATED")
	for _, rec := range filtered {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			rec.ID, rec.Type, rec.Status, rec.Metadata.RetryCount,
			rec.Metadata.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

// loadQueue opens the queue database outside the daemon's lifecycle and
// returns its contents.
func loadQueue() ([]types.OperationRecord, error) {
	dbPath := queueDBOverride
	if dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		dbPath = cfg.Database.Path
	}

	store, err := queue.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return store.Load(context.Background())
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
