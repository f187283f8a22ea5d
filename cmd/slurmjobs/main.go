package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/slurmjobs/slurmjobs/cmd/slurmjobs/commands"
	"github.com/slurmjobs/slurmjobs/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "slurmjobs",
	Short: "Batch, submit and track article-processing jobs on SLURM",
	Long: `slurmjobs - Batch, submit and track article-processing jobs on a SLURM cluster.

Every stage reads and rewrites the job metadata file (job_metadata.json).

Available commands:
  batches  - Split the article index space into batch intervals
  create   - Render one SLURM job script per batch
  submit   - Submit job scripts with sbatch
  monitor  - Query squeue/sacct for every submitted job
  process  - Parse job logs into error reports, completion log and rerun list
  run      - Run every stage inside one job directory
  history  - List recorded stage events
  config   - Show the effective configuration

Examples:
  slurmjobs batches --total-articles 1366 --batch-size 114
  slurmjobs create --setup-script setup_env.sh
  slurmjobs submit --metadata-file job_metadata.json
  slurmjobs monitor --watch 5m
  slurmjobs run --job-dir results/job_batch_6 --total-articles 1366 --batch-size 114`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return commands.Setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Config file (default ./slurmjobs.toml when present)")
	rootCmd.PersistentFlags().CountVarP(&commands.Verbosity, "verbose", "v", "Increase output verbosity")
	rootCmd.PersistentFlags().BoolVar(&commands.LogJSON, "log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(commands.BatchesCmd)
	rootCmd.AddCommand(commands.CreateCmd)
	rootCmd.AddCommand(commands.SubmitCmd)
	rootCmd.AddCommand(commands.MonitorCmd)
	rootCmd.AddCommand(commands.ProcessCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(1)
	}
}
