package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flowtrace/flowtrace/internal/observability"
	"github.com/flowtrace/flowtrace/pkg/eventstore"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest task lifecycle events from JSONL",
	Long: `Ingest task lifecycle events into the event database.

Each input line is one JSON event:

  {"run_id":"r1","group_id":"sample7","task_id":"t42","process":"fastqc",
   "status":"COMPLETED","trace":{"exit_code":0,"realtime_ms":90000}}

Events for an already-seen task_id update the stored row in place.
Malformed lines are logged and skipped; they never abort the ingest.
Reads stdin when no file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

// ingestLine is the wire shape accepted from the orchestrator side.
type ingestLine struct {
	RunID   string     `json:"run_id"`
	GroupID string     `json:"group_id"`
	TaskID  string     `json:"task_id"`
	Process string     `json:"process"`
	Status  string     `json:"status"`
	Trace   ingestTrace `json:"trace"`
}

type ingestTrace struct {
	Submit     *time.Time `json:"submit,omitempty"`
	Start      *time.Time `json:"start,omitempty"`
	Complete   *time.Time `json:"complete,omitempty"`
	RealtimeMS *int64     `json:"realtime_ms,omitempty"`
	Attempt    *int       `json:"attempt,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	CPUs       *int       `json:"cpus,omitempty"`
	PercentCPU *float64   `json:"percent_cpu,omitempty"`
	Memory     *int64     `json:"memory_bytes,omitempty"`
	PeakRSS    *int64     `json:"peak_rss,omitempty"`
	ReadBytes  *int64     `json:"read_bytes,omitempty"`
	WriteBytes *int64     `json:"write_bytes,omitempty"`
	Queue      *string    `json:"queue,omitempty"`
	Container  *string    `json:"container,omitempty"`
	Hostname   *string    `json:"hostname,omitempty"`
	WorkDir    *string    `json:"workdir,omitempty"`
}

func (t ingestTrace) snapshot(status string) eventstore.TraceSnapshot {
	snap := eventstore.TraceSnapshot{
		Status:      status,
		Submit:      t.Submit,
		Start:       t.Start,
		Complete:    t.Complete,
		Attempt:     t.Attempt,
		ExitCode:    t.ExitCode,
		CPUs:        t.CPUs,
		PercentCPU:  t.PercentCPU,
		MemoryBytes: t.Memory,
		PeakRSS:     t.PeakRSS,
		ReadBytes:   t.ReadBytes,
		WriteBytes:  t.WriteBytes,
		Queue:       t.Queue,
		Container:   t.Container,
		Hostname:    t.Hostname,
		WorkDir:     t.WorkDir,
	}
	if t.RealtimeMS != nil {
		d := time.Duration(*t.RealtimeMS) * time.Millisecond
		snap.Realtime = &d
	}
	return snap
}

func runIngest(cmd *cobra.Command, args []string) error {
	log := observability.CLILogger

	var in io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	backend := openBackend()
	if err := backend.Init(cmd.Context()); err != nil {
		return err
	}

	var accepted, malformed int
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev ingestLine
		if err := json.Unmarshal(line, &ev); err != nil {
			malformed++
			log.Warn("skipping malformed event line", zap.Error(err))
			continue
		}
		if ev.TaskID == "" {
			malformed++
			log.Warn("skipping event without task_id", zap.String("run_id", ev.RunID))
			continue
		}

		backend.InsertOrUpdate(ev.RunID, ev.GroupID,
			eventstore.TaskDescriptor{ID: ev.TaskID, Process: ev.Process},
			ev.Trace.snapshot(ev.Status))
		accepted++
	}
	if err := scanner.Err(); err != nil {
		_ = backend.Close()
		return fmt.Errorf("read input: %w", err)
	}

	// Close drains the queue, so every accepted event is applied before
	// the summary is printed.
	if err := backend.Close(); err != nil {
		return err
	}

	log.Info("ingest complete",
		zap.Int("accepted", accepted),
		zap.Int("malformed", malformed))
	fmt.Fprintf(cmd.OutOrStdout(), "ingested %d events (%d malformed)\n", accepted, malformed)
	return nil
}
