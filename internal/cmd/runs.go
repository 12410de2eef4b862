package cmd

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/flowtrace/flowtrace/pkg/report"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs with per-status task counts",
	RunE:  runRuns,
}

var runsFormat string

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().StringVar(&runsFormat, "format", "table", "Output format: table or jsonl")
}

func runRuns(cmd *cobra.Command, args []string) error {
	backend := openBackend()
	if err := backend.Init(cmd.Context()); err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	sums, err := backend.RunSummaries(cmd.Context())
	if err != nil {
		return err
	}

	switch runsFormat {
	case "table":
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tTASKS\tSTATUSES\tFIRST\tLAST")
		for _, s := range sums {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
				s.RunID, s.Tasks, formatStatusCounts(s.StatusCounts),
				s.FirstIngestedAt.Format(time.RFC3339),
				s.LastIngestedAt.Format(time.RFC3339))
		}
		return w.Flush()
	case "jsonl":
		jw := report.NewJSONLWriter(cmd.OutOrStdout(), uuid.NewString(), nil)
		defer func() { _ = jw.Close() }()
		for _, s := range sums {
			rec := &report.RunSummaryRecord{
				RunID:           s.RunID,
				Tasks:           s.Tasks,
				StatusCounts:    s.StatusCounts,
				FirstIngestedAt: s.FirstIngestedAt,
				LastIngestedAt:  s.LastIngestedAt,
			}
			if err := jw.WriteRunSummary(cmd.Context(), rec); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (want table or jsonl)", runsFormat)
	}
}

func formatStatusCounts(counts map[string]int64) string {
	if len(counts) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, ",")
}
