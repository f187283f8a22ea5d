// Package pipeline implements the stages that act on a run's job metadata:
// submission, monitoring and completion/error processing, plus the
// end-to-end runner that chains them inside one job directory.
package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/slurmjobs/slurmjobs/internal/job"
	"github.com/slurmjobs/slurmjobs/internal/slurm"
)

// Scheduler is the part of the workload manager the stages talk to.
// *slurm.Client implements it.
type Scheduler interface {
	Submit(ctx context.Context, script string) (string, error)
	Queue(ctx context.Context, jobID string) (slurm.QueueInfo, bool, error)
	Accounting(ctx context.Context, jobID string) (slurm.Accounting, bool, error)
}

var _ Scheduler = (*slurm.Client)(nil)

// stage carries what every stage shares: logging and the history ledger.
type stage struct {
	Log      *zap.SugaredLogger
	Recorder job.Recorder
	RunID    string
}

func (s stage) log() *zap.SugaredLogger {
	if s.Log == nil {
		return zap.NewNop().Sugar()
	}
	return s.Log
}

func (s stage) record(ctx context.Context, st job.Stage, jobName, jobID, status, detail string) {
	if s.Recorder == nil {
		return
	}
	err := s.Recorder.Record(ctx, job.Event{
		RunID:   s.RunID,
		Stage:   st,
		JobName: jobName,
		JobID:   jobID,
		Status:  status,
		Detail:  detail,
	})
	if err != nil {
		s.log().Warnw("Failed to record history event", "stage", st, "job", jobName, "error", err)
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
