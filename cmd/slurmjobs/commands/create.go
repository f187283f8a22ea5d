package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/slurmjobs/slurmjobs/internal/batch"
	"github.com/slurmjobs/slurmjobs/internal/job"
	"github.com/slurmjobs/slurmjobs/internal/logger"
	"github.com/slurmjobs/slurmjobs/internal/script"
)

// CreateCmd renders one job script per batch and writes the metadata file.
var CreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Render one SLURM job script per batch",
	Long: `Render batch_<n>.slurm for every interval of the batch file into --job-dir
and write the initial job metadata. The setup script is inlined without its
shebang. A batch whose script cannot be written is left out of the metadata.

Examples:
  slurmjobs create
  slurmjobs create --batch-file batches.json --setup-script setup_env.sh --job-dir job_6`,
	RunE: runCreate,
}

var (
	createBatchFileFlag    string
	createMetadataFileFlag string
	createSetupScriptFlag  string
	createJobDirFlag       string
)

func init() {
	CreateCmd.Flags().StringVar(&createBatchFileFlag, "batch-file", "", "Batch file to read (default files.batch_file)")
	CreateCmd.Flags().StringVar(&createMetadataFileFlag, "metadata-file", "", "Metadata file to write (default files.metadata_file)")
	CreateCmd.Flags().StringVar(&createSetupScriptFlag, "setup-script", "", "Environment setup script (default files.setup_script)")
	CreateCmd.Flags().StringVar(&createJobDirFlag, "job-dir", ".", "Directory for job scripts and their .out/.err files")
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	intervals, err := batch.Load(pick(createBatchFileFlag, cfg.Files.BatchFile))
	if err != nil {
		return err
	}

	rec, closeRec, err := openRecorder()
	if err != nil {
		return err
	}
	defer closeRec()

	gen := &script.Generator{
		Config:   cfg.Script,
		Dir:      createJobDirFlag,
		Log:      logger.Logger,
		Recorder: rec,
		RunID:    runID,
	}
	md, createErr := gen.Create(ctx, intervals, pick(createSetupScriptFlag, cfg.Files.SetupScript))
	if md == nil {
		return createErr
	}

	metadataFile := pick(createMetadataFileFlag, cfg.Files.MetadataFile)
	if err := job.SaveMetadata(metadataFile, md); err != nil {
		return err
	}
	if createErr != nil {
		pterm.Warning.Printf("%d of %d job scripts written\n", len(md), len(intervals))
		return createErr
	}
	pterm.Success.Printf("%d job scripts written to %s, metadata saved to %s\n", len(md), createJobDirFlag, metadataFile)
	return nil
}
