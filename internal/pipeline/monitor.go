package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"go.uber.org/zap"

	"github.com/slurmjobs/slurmjobs/internal/job"
	"github.com/slurmjobs/slurmjobs/internal/slurm"
)

// Statuses the monitor reports besides the scheduler's own states.
const (
	StateNotSubmitted = "NOT_SUBMITTED"
	StateUnknown      = "UNKNOWN"
)

// StatusEntry is the observed state of one batch.
type StatusEntry struct {
	Batch    string `json:"batch"`
	JobName  string `json:"job_name"`
	JobID    string `json:"job_id,omitempty"`
	Status   string `json:"status"`
	Elapsed  string `json:"elapsed_time,omitempty"`
	CPUTime  string `json:"cpu_usage,omitempty"`
	ExitCode string `json:"exit_code,omitempty"`
	GPUUsage string `json:"gpu_usage,omitempty"`
	// InQueue is true while squeue still lists the job.
	InQueue bool   `json:"in_queue"`
	Error   string `json:"error,omitempty"`
}

// GPUReporter is implemented by schedulers that can read a running job's
// GPU utilisation.
type GPUReporter interface {
	GPUUsage(ctx context.Context, jobID string) (string, error)
}

var _ GPUReporter = (*slurm.Client)(nil)

// Monitor queries the scheduler for every record. It never modifies the metadata.
type Monitor struct {
	Scheduler Scheduler
	Log       *zap.SugaredLogger
	Recorder  job.Recorder
	RunID     string
}

// Poll returns one entry per record, in batch order. A failed query is
// reported in that record's entry; only a cancelled context returns an error.
func (m *Monitor) Poll(ctx context.Context, md job.Metadata) ([]StatusEntry, error) {
	records := md.Records()
	entries := make([]StatusEntry, 0, len(records))
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return entries, err
		}
		e := m.check(ctx, r)
		if ctx.Err() != nil {
			return entries, ctx.Err()
		}
		if e.Error != "" {
			m.stage().log().Warnw("Status query failed", "job", r.JobName, "job_id", r.JobID, "error", e.Error)
		}
		if r.Submitted() {
			m.stage().record(ctx, job.StageMonitor, r.JobName, r.JobID, e.Status, e.Error)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (m *Monitor) check(ctx context.Context, r *job.Record) StatusEntry {
	e := StatusEntry{Batch: r.JobName, JobName: r.JobName, JobID: r.JobID}
	if !r.Submitted() {
		e.Status = StateNotSubmitted
		return e
	}

	info, queued, err := m.Scheduler.Queue(ctx, r.JobID)
	if err != nil {
		e.Status, e.Error = StateUnknown, err.Error()
		return e
	}
	if queued {
		e.Status, e.Elapsed, e.InQueue = info.State, info.Elapsed, true
		if gpu, ok := m.Scheduler.(GPUReporter); ok && info.State == slurm.StateRunning {
			usage, err := gpu.GPUUsage(ctx, r.JobID)
			if err != nil {
				m.stage().log().Debugw("GPU usage unavailable", "job", r.JobName, "job_id", r.JobID, "error", err)
			}
			e.GPUUsage = usage
		}
		return e
	}

	acct, found, err := m.Scheduler.Accounting(ctx, r.JobID)
	switch {
	case err != nil:
		e.Status, e.Error = StateUnknown, err.Error()
	case !found:
		e.Status, e.Error = StateUnknown, "no accounting record"
	default:
		e.Status = acct.State
		if e.Status == "" {
			e.Status = slurm.StateCompleted
		}
		if acct.Failed() {
			e.Status = slurm.StateFailed
		}
		e.Elapsed, e.CPUTime, e.ExitCode = acct.Elapsed, acct.CPUTime, acct.ExitCode
	}
	return e
}

// Watch polls every interval until no submitted job is left in the queue or
// ctx is done. onPoll receives each round of entries.
func (m *Monitor) Watch(ctx context.Context, md job.Metadata, interval time.Duration, onPoll func([]StatusEntry) error) error {
	if interval <= 0 {
		return errors.Newf("watch interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		entries, err := m.Poll(ctx, md)
		if err != nil {
			return err
		}
		if err := onPoll(entries); err != nil {
			return err
		}
		if !Active(entries) {
			m.stage().log().Infow("No job left in the queue")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) stage() stage {
	return stage{Log: m.Log, Recorder: m.Recorder, RunID: m.RunID}
}

// Active reports whether any entry is still queued or running.
func Active(entries []StatusEntry) bool {
	for _, e := range entries {
		if e.InQueue {
			return true
		}
	}
	return false
}

// StatusTable renders the entries as a plain-text table.
func StatusTable(entries []StatusEntry) (string, error) {
	data := pterm.TableData{{"Batch", "Job ID", "Job Name", "Status", "Elapsed Time", "CPU Usage", "GPU Usage", "Exit Code"}}
	for _, e := range entries {
		data = append(data, []string{
			e.Batch, orNA(e.JobID), e.JobName, e.Status, orNA(e.Elapsed), orNA(e.CPUTime), orNA(e.GPUUsage), orNA(e.ExitCode),
		})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return "", errors.Wrap(err, "render status table")
	}
	return pterm.RemoveColorFromString(out), nil
}

// WriteStatus writes the JSON status file and the table log.
func WriteStatus(jsonPath, logPath string, entries []StatusEntry) error {
	if entries == nil {
		entries = []StatusEntry{}
	}
	if err := writeJSON(jsonPath, entries); err != nil {
		return err
	}
	table, err := StatusTable(entries)
	if err != nil {
		return err
	}
	if err := os.WriteFile(logPath, []byte(table+"\n"), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", logPath)
	}
	return nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
