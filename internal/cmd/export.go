package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/flowtrace/flowtrace/pkg/eventstore"
	"github.com/flowtrace/flowtrace/pkg/report"
)

var exportCmd = &cobra.Command{
	Use:   "export --run <run-id>",
	Short: "Export stored task events as CSV or JSONL",
	Long: `Export every stored row for a run as a flattened table.

Rows carry the base columns plus every known trace field; fields a task
never reported are exported as empty/null. The --process flag filters
rows by process name using doublestar glob semantics:

  flowtrace export --run r1 --format csv --out trace.csv
  flowtrace export --run r1 --process "align*"`,
	RunE: runExport,
}

var (
	exportRun     string
	exportFormat  string
	exportOut     string
	exportProcess string
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportRun, "run", "", "Run ID to export (required)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Output format: csv or jsonl")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output file (default stdout)")
	exportCmd.Flags().StringVar(&exportProcess, "process", "", "Doublestar glob filter on process_name")
	_ = exportCmd.MarkFlagRequired("run")
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportProcess != "" && !doublestar.ValidatePattern(exportProcess) {
		return fmt.Errorf("invalid --process pattern: %s", exportProcess)
	}

	backend := openBackend()
	if err := backend.Init(cmd.Context()); err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	rows, err := backend.FetchAll(cmd.Context(), exportRun)
	if err != nil {
		return err
	}

	if exportProcess != "" {
		rows, err = filterByProcess(rows, exportProcess)
		if err != nil {
			return err
		}
	}

	var out io.Writer = cmd.OutOrStdout()
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	columns := eventstore.Columns(rows)

	switch exportFormat {
	case "csv":
		return report.NewCSVWriter(out).Write(columns, rows)
	case "jsonl":
		jw := report.NewJSONLWriter(out, uuid.NewString(), columns)
		defer func() { _ = jw.Close() }()
		for _, row := range rows {
			if err := jw.WriteTask(cmd.Context(), row); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (want csv or jsonl)", exportFormat)
	}
}

func filterByProcess(rows []eventstore.FlatRow, pattern string) ([]eventstore.FlatRow, error) {
	var out []eventstore.FlatRow
	for _, row := range rows {
		name, _ := row[eventstore.ColProcessName].(string)
		matched, err := doublestar.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("match process pattern: %w", err)
		}
		if matched {
			out = append(out, row)
		}
	}
	return out, nil
}
