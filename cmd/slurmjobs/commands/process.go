package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/slurmjobs/slurmjobs/internal/job"
	"github.com/slurmjobs/slurmjobs/internal/logger"
	"github.com/slurmjobs/slurmjobs/internal/pipeline"
)

// ProcessCmd parses job logs and updates the metadata.
var ProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Parse job logs into error reports, completion log and rerun list",
	Long: `Scan <err-dir>/<job_name>.err for every submitted job. Jobs are classified
as failed (SLURM cancellation or Python traceback), completed (every article at
100%) or pending. Errors are extracted to <error-log-dir>/<job_name>_error.log,
progress is summarized in the completion log and incomplete articles are listed
in the rerun file. The metadata file is updated with the results.

Examples:
  slurmjobs process
  slurmjobs process --err-dir job_6 --metadata-file job_6/job_metadata.json --notify-url https://hooks.example.org/slurm`,
	RunE: runProcess,
}

var (
	processMetadataFileFlag  string
	processErrDirFlag        string
	processErrorLogDirFlag   string
	processCompletionLogFlag string
	processRerunFileFlag     string
	processNotifyURLFlag     string
)

func init() {
	ProcessCmd.Flags().StringVar(&processMetadataFileFlag, "metadata-file", "", "Metadata file to update (default files.metadata_file)")
	ProcessCmd.Flags().StringVar(&processErrDirFlag, "err-dir", ".", "Directory holding the jobs' .err files")
	ProcessCmd.Flags().StringVar(&processErrorLogDirFlag, "error-log-dir", "", "Directory for extracted error logs (default files.error_log_dir)")
	ProcessCmd.Flags().StringVar(&processCompletionLogFlag, "completion-log", "", "Combined completion log (default files.completion_log)")
	ProcessCmd.Flags().StringVar(&processRerunFileFlag, "rerun-file", "", "List of incomplete articles (default files.rerun_file)")
	ProcessCmd.Flags().StringVar(&processNotifyURLFlag, "notify-url", "", "POST the JSON summary here (default notify_url)")
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	metadataFile := pick(processMetadataFileFlag, cfg.Files.MetadataFile)
	md, err := job.LoadMetadata(metadataFile)
	if err != nil {
		return err
	}
	rec, closeRec, err := openRecorder()
	if err != nil {
		return err
	}
	defer closeRec()

	p := &pipeline.Processor{
		ErrDir:      processErrDirFlag,
		ErrorLogDir: pick(processErrorLogDirFlag, cfg.Files.ErrorLogDir),
		Log:         logger.Logger,
		Recorder:    rec,
		RunID:       runID,
	}
	out, procErr := p.Process(ctx, md)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	completionLog := pick(processCompletionLogFlag, cfg.Files.CompletionLog)
	rerunFile := pick(processRerunFileFlag, cfg.Files.RerunFile)
	if err := pipeline.WriteReports(completionLog, rerunFile, out); err != nil {
		return err
	}
	if err := job.SaveMetadata(metadataFile, md); err != nil {
		return err
	}

	printSummary(out.Summary)
	sendSummary(ctx, pick(processNotifyURLFlag, cfg.NotifyURL), out.Summary)
	return procErr
}

func printSummary(s pipeline.Summary) {
	pterm.Info.Printf("%d jobs: %d completed, %d failed, %d pending\n", s.Jobs, s.Completed, s.Failed, s.Pending)
	pterm.Info.Printf("Total Completion Progress: %s\n", pipeline.ProgressBar(s.Percent))
	if len(s.Rerun) > 0 {
		pterm.Warning.Printf("%d articles need a rerun\n", len(s.Rerun))
	}
}
