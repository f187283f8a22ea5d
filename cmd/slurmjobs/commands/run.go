package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/slurmjobs/slurmjobs/internal/logger"
	"github.com/slurmjobs/slurmjobs/internal/pipeline"
)

// RunCmd chains every stage inside one job directory.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every stage inside one job directory",
	Long: `Create --job-dir and run batches, create, submit, a single monitor poll and
process inside it. Every file of the run is written to the job directory.

Examples:
  slurmjobs run --job-dir results/job_batch_6 --total-articles 1366 --batch-size 114
  slurmjobs run --job-dir results/job_batch_6 --total-articles 100 --batch-size 50 --overwrite
  slurmjobs run --job-dir dry --total-articles 100 --batch-size 50 --skip-submit`,
	RunE: runRun,
}

var (
	runJobDirFlag        string
	runTotalArticlesFlag int
	runBatchSizeFlag     int
	runSetupScriptFlag   string
	runOverwriteFlag     bool
	runSkipSubmitFlag    bool
)

func init() {
	RunCmd.Flags().StringVar(&runJobDirFlag, "job-dir", "", "Job directory to create")
	RunCmd.Flags().IntVar(&runTotalArticlesFlag, "total-articles", 0, "Total number of articles")
	RunCmd.Flags().IntVar(&runBatchSizeFlag, "batch-size", 0, "Number of articles per batch")
	RunCmd.Flags().StringVar(&runSetupScriptFlag, "setup-script", "", "Environment setup script (default files.setup_script)")
	RunCmd.Flags().BoolVar(&runOverwriteFlag, "overwrite", false, "Remove the job directory first when it exists")
	RunCmd.Flags().BoolVar(&runSkipSubmitFlag, "skip-submit", false, "Stop after generating scripts and metadata")
	_ = RunCmd.MarkFlagRequired("job-dir")
	_ = RunCmd.MarkFlagRequired("total-articles")
	_ = RunCmd.MarkFlagRequired("batch-size")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	client, err := newClient()
	if err != nil {
		return err
	}
	rec, closeRec, err := openRecorder()
	if err != nil {
		return err
	}
	defer closeRec()

	r := &pipeline.Runner{Config: cfg, Scheduler: client, Log: logger.Logger, Recorder: rec, RunID: runID}
	res, runErr := r.Run(ctx, pipeline.RunOptions{
		JobDir:        runJobDirFlag,
		TotalArticles: runTotalArticlesFlag,
		BatchSize:     runBatchSizeFlag,
		SetupScript:   pick(runSetupScriptFlag, cfg.Files.SetupScript),
		Overwrite:     runOverwriteFlag,
		SkipSubmit:    runSkipSubmitFlag,
	})
	if res == nil {
		return runErr
	}

	if res.Submit != nil {
		pterm.Info.Printf("%d jobs submitted, %d failed\n", len(res.Submit.Submitted), len(res.Submit.Errors))
	}
	if res.Processed != nil {
		printSummary(res.Processed.Summary)
		sendSummary(ctx, cfg.NotifyURL, res.Processed.Summary)
	}
	if runErr != nil {
		return runErr
	}
	pterm.Success.Printf("Run %s finished in %s\n", runID, res.Paths.Dir)
	return nil
}
