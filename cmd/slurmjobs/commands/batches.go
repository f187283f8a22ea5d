package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/slurmjobs/slurmjobs/internal/batch"
	"github.com/slurmjobs/slurmjobs/internal/logger"
)

// BatchesCmd splits the article index space into batch intervals.
var BatchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "Split the article index space into batch intervals",
	Long: `Split [0, total) into consecutive intervals of --batch-size articles and
write them to the batch file. The last interval is shorter when the total is
not a multiple of the batch size.

Examples:
  slurmjobs batches --total-articles 1366 --batch-size 114
  slurmjobs batches --total-articles 100 --batch-size 50 --output-file job/batches.json`,
	RunE: runBatches,
}

var (
	totalArticlesFlag int
	batchSizeFlag     int
	batchOutputFlag   string
)

func init() {
	BatchesCmd.Flags().IntVar(&totalArticlesFlag, "total-articles", 0, "Total number of articles")
	BatchesCmd.Flags().IntVar(&batchSizeFlag, "batch-size", 0, "Number of articles per batch")
	BatchesCmd.Flags().StringVar(&batchOutputFlag, "output-file", "", "Batch file to write (default files.batch_file)")
	_ = BatchesCmd.MarkFlagRequired("total-articles")
	_ = BatchesCmd.MarkFlagRequired("batch-size")
}

func runBatches(cmd *cobra.Command, args []string) error {
	intervals, err := batch.Split(totalArticlesFlag, batchSizeFlag)
	if err != nil {
		return err
	}
	out := pick(batchOutputFlag, cfg.Files.BatchFile)
	if err := batch.Save(out, intervals); err != nil {
		return err
	}
	logger.Logger.Debugw("Batch file written", "file", out, "last", intervals[len(intervals)-1])
	pterm.Success.Printf("%d batches saved to %s\n", len(intervals), out)
	return nil
}
