package commands

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/slurmjobs/slurmjobs/internal/job"
)

// HistoryCmd lists recorded stage events.
var HistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded stage events",
	Long: `List the events every stage recorded in the history database, newest first.
Requires history_db in the configuration.

Examples:
  slurmjobs history
  slurmjobs history --job batch_3 --limit 50`,
	RunE: runHistory,
}

var (
	historyJobFlag    string
	historyLimitFlag  int
	historyOffsetFlag int
)

func init() {
	HistoryCmd.Flags().StringVar(&historyJobFlag, "job", "", "Only show events of this job name")
	HistoryCmd.Flags().IntVar(&historyLimitFlag, "limit", 20, "Number of events to show (max 100)")
	HistoryCmd.Flags().IntVar(&historyOffsetFlag, "offset", 0, "Number of events to skip")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if cfg.HistoryDB == "" {
		return errors.WithHint(
			errors.New("no history database configured"),
			"set history_db in slurmjobs.toml or SLURMJOBS_HISTORY_DB")
	}
	h, err := job.NewSQLiteHistory(cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer h.Close()

	events, total, err := h.List(cmd.Context(), historyJobFlag, historyLimitFlag, historyOffsetFlag)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		pterm.Info.Println("No events recorded")
		return nil
	}

	data := pterm.TableData{{"Time", "Run", "Stage", "Job", "Job ID", "Status", "Detail"}}
	for _, e := range events {
		data = append(data, []string{
			e.RecordedAt.Local().Format("2006-01-02 15:04:05"),
			shortRunID(e.RunID),
			string(e.Stage),
			e.JobName,
			e.JobID,
			e.Status,
			e.Detail,
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return errors.Wrap(err, "render history")
	}
	fmt.Printf("\nShowing %d of %d events\n", len(events), total)
	return nil
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
