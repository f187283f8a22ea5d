package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/slurmjobs/slurmjobs/internal/job"
	"github.com/slurmjobs/slurmjobs/internal/logger"
	"github.com/slurmjobs/slurmjobs/internal/pipeline"
)

// MonitorCmd reports the scheduler state of every job.
var MonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Query squeue/sacct for every submitted job",
	Long: `Query squeue for every record with a job id, falling back to sacct once the
job has left the queue. Results go to a JSON status file and a table log; the
metadata file is never modified. Records without a job id are reported as
NOT_SUBMITTED.

Examples:
  slurmjobs monitor
  slurmjobs monitor --metadata-file job_6/job_metadata.json --watch 5m`,
	RunE: runMonitor,
}

var (
	monitorMetadataFileFlag string
	monitorOutputFileFlag   string
	monitorLogFileFlag      string
	monitorWatchFlag        time.Duration
)

func init() {
	MonitorCmd.Flags().StringVar(&monitorMetadataFileFlag, "metadata-file", "", "Metadata file to read (default files.metadata_file)")
	MonitorCmd.Flags().StringVar(&monitorOutputFileFlag, "output-file", "", "JSON status file (default files.status_file)")
	MonitorCmd.Flags().StringVar(&monitorLogFileFlag, "log-file", "", "Table log file (default files.status_log)")
	MonitorCmd.Flags().DurationVar(&monitorWatchFlag, "watch", 0, "Poll at this interval until no job is left in the queue")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	md, err := job.LoadMetadata(pick(monitorMetadataFileFlag, cfg.Files.MetadataFile))
	if err != nil {
		return err
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	rec, closeRec, err := openRecorder()
	if err != nil {
		return err
	}
	defer closeRec()

	m := &pipeline.Monitor{Scheduler: client, Log: logger.Logger, Recorder: rec, RunID: runID}
	outFile := pick(monitorOutputFileFlag, cfg.Files.StatusFile)
	logFile := pick(monitorLogFileFlag, cfg.Files.StatusLog)
	report := func(entries []pipeline.StatusEntry) error {
		if err := pipeline.WriteStatus(outFile, logFile, entries); err != nil {
			return err
		}
		table, err := pipeline.StatusTable(entries)
		if err != nil {
			return err
		}
		fmt.Println(table)
		logger.Logger.Infow("Status written", "file", outFile, "log", logFile, "jobs", len(entries))
		return nil
	}

	if monitorWatchFlag > 0 {
		err := m.Watch(ctx, md, monitorWatchFlag, report)
		if errors.Is(err, context.Canceled) {
			logger.Logger.Infow("Monitoring stopped")
			return nil
		}
		return err
	}

	entries, err := m.Poll(ctx, md)
	if err != nil {
		return err
	}
	return report(entries)
}
