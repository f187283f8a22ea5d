// Package commands holds the slurmjobs subcommands.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/slurmjobs/slurmjobs/internal/config"
	"github.com/slurmjobs/slurmjobs/internal/job"
	"github.com/slurmjobs/slurmjobs/internal/logger"
	"github.com/slurmjobs/slurmjobs/internal/notify"
	"github.com/slurmjobs/slurmjobs/internal/slurm"
)

// Root persistent flags.
var (
	ConfigPath string
	Verbosity  int
	LogJSON    bool
)

var (
	cfg   *config.Config
	runID string
)

// Setup loads the configuration, initializes the logger and assigns the run id
// that tags every history event of this invocation.
func Setup() error {
	c, err := config.Load(ConfigPath)
	if err != nil {
		return err
	}
	if err := logger.Initialize(LogJSON || c.LogJSON, Verbosity); err != nil {
		return errors.Wrap(err, "initialize logger")
	}
	cfg = c
	runID = uuid.NewString()
	logger.Logger.Debugw("Configuration loaded", "run_id", runID, "config", ConfigPath)
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// pick returns the flag value when set, otherwise the configured default.
func pick(flagValue, configured string) string {
	if flagValue != "" {
		return flagValue
	}
	return configured
}

func newClient() (*slurm.Client, error) {
	args, err := cfg.SbatchArgs()
	if err != nil {
		return nil, err
	}
	c := slurm.New(cfg.Slurm.SbatchPath, cfg.Slurm.SqueuePath, cfg.Slurm.SacctPath, args)
	c.JobshPath = cfg.Slurm.JobshPath
	return c, nil
}

// openRecorder returns the history ledger, or a recorder that discards
// events when no history database is configured.
func openRecorder() (job.Recorder, func(), error) {
	if cfg.HistoryDB == "" {
		return job.NopRecorder{}, func() {}, nil
	}
	h, err := job.NewSQLiteHistory(cfg.HistoryDB)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open history db %s", cfg.HistoryDB)
	}
	return h, func() {
		if err := h.Close(); err != nil {
			logger.Logger.Warnw("Failed to close history db", "error", err)
		}
	}, nil
}

// sendSummary posts v to url when one is set. Delivery failures are logged,
// they do not fail the command.
func sendSummary(ctx context.Context, url string, v any) {
	if url == "" {
		return
	}
	s, err := notify.New(url, logger.Logger)
	if err != nil {
		logger.Logger.Warnw("Invalid notify URL", "url", url, "error", err)
		return
	}
	if err := s.Send(ctx, v); err != nil {
		logger.Logger.Warnw("Notification not delivered", "url", url, "error", err)
		return
	}
	logger.Logger.Infow("Summary sent", "url", url)
}
