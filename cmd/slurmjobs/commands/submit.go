package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/slurmjobs/slurmjobs/internal/job"
	"github.com/slurmjobs/slurmjobs/internal/logger"
	"github.com/slurmjobs/slurmjobs/internal/pipeline"
)

// SubmitCmd submits job scripts with sbatch.
var SubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit job scripts with sbatch",
	Long: `Submit every *.slurm script in --script-dir in batch order. With
--metadata-file the returned job ids (or submission errors) are stored on the
matching records; without it the ids are only printed. A rejected script does
not stop the others and is never retried.

Examples:
  slurmjobs submit --metadata-file job_metadata.json
  slurmjobs submit --script-dir job_6 --metadata-file job_6/job_metadata.json --resubmit`,
	RunE: runSubmit,
}

var (
	submitScriptDirFlag    string
	submitMetadataFileFlag string
	submitErrorLogFlag     string
	submitResubmitFlag     bool
)

func init() {
	SubmitCmd.Flags().StringVar(&submitScriptDirFlag, "script-dir", ".", "Directory holding the job scripts")
	SubmitCmd.Flags().StringVar(&submitMetadataFileFlag, "metadata-file", "", "Metadata file to update (optional)")
	SubmitCmd.Flags().StringVar(&submitErrorLogFlag, "error-log-file", "", "Submission error log (default files.submit_errors)")
	SubmitCmd.Flags().BoolVar(&submitResubmitFlag, "resubmit", false, "Submit scripts that already have a job id")
}

func runSubmit(cmd *cobra.Command, args []string) error {
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

	var md job.Metadata
	if submitMetadataFileFlag != "" {
		if md, err = job.LoadMetadata(submitMetadataFileFlag); err != nil {
			return err
		}
	}

	s := &pipeline.Submitter{
		Scheduler: client,
		Log:       logger.Logger,
		Recorder:  rec,
		RunID:     runID,
		Resubmit:  submitResubmitFlag,
	}
	rep, submitErr := s.Submit(ctx, submitScriptDirFlag, md)
	if rep == nil {
		return submitErr
	}

	// Persist whatever was submitted, even when interrupted midway.
	if md != nil {
		if err := job.SaveMetadata(submitMetadataFileFlag, md); err != nil {
			return err
		}
	} else {
		pterm.Info.Println("No metadata file given, job ids are not stored")
	}
	if err := pipeline.WriteSubmitErrors(pick(submitErrorLogFlag, cfg.Files.SubmitErrors), rep.Errors); err != nil {
		return err
	}

	for _, sub := range rep.Submitted {
		fmt.Printf("%s\t%s\n", sub.Script, sub.JobID)
	}
	if len(rep.Skipped) > 0 {
		pterm.Info.Printf("%d scripts already submitted, skipped (use --resubmit)\n", len(rep.Skipped))
	}
	if len(rep.Errors) > 0 {
		pterm.Warning.Printf("%d submissions failed, see %s\n", len(rep.Errors), pick(submitErrorLogFlag, cfg.Files.SubmitErrors))
	}
	if submitErr != nil {
		return submitErr
	}
	pterm.Success.Printf("%d jobs submitted\n", len(rep.Submitted))
	return nil
}
