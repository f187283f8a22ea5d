package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/slurmjobs/slurmjobs/internal/job"
	"github.com/slurmjobs/slurmjobs/internal/script"
)

var trailingNumber = regexp.MustCompile(`(\d+)$`)

// Submission is one accepted script.
type Submission struct {
	Script  string `json:"script"`
	JobName string `json:"job_name,omitempty"`
	JobID   string `json:"job_id"`
	// Untracked is true when no metadata record matches the script.
	Untracked bool `json:"untracked,omitempty"`
}

// SubmitError is one entry of the submission error log.
type SubmitError struct {
	Script  string    `json:"script"`
	JobName string    `json:"job_name,omitempty"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// SubmitReport lists what happened to every script in the directory.
type SubmitReport struct {
	Submitted []Submission  `json:"submitted"`
	Skipped   []string      `json:"skipped,omitempty"`
	Errors    []SubmitError `json:"errors,omitempty"`
}

// Submitter hands job scripts to the scheduler one at a time.
type Submitter struct {
	Scheduler Scheduler
	Log       *zap.SugaredLogger
	Recorder  job.Recorder
	RunID     string
	// Resubmit submits scripts whose record already holds a job id.
	Resubmit bool

	now func() time.Time
}

// Submit submits every script in dir in batch order. md may be nil, in which
// case nothing is tracked. A rejected script is recorded on its record and in
// the report; the remaining scripts are still submitted. The returned error
// is reserved for an unreadable directory or a cancelled context.
func (s *Submitter) Submit(ctx context.Context, dir string, md job.Metadata) (*SubmitReport, error) {
	scripts, err := ListScripts(dir)
	if err != nil {
		return nil, err
	}
	if len(scripts) == 0 {
		s.stage().log().Warnw("No job scripts found", "dir", dir)
	}

	now := s.now
	if now == nil {
		now = nowUTC
	}

	rep := &SubmitReport{}
	for _, name := range scripts {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		var r *job.Record
		if md != nil {
			r = md.ByScript(name)
		}
		if r != nil && r.Submitted() && !s.Resubmit {
			s.stage().log().Debugw("Already submitted, skipping", "job", r.JobName, "job_id", r.JobID)
			rep.Skipped = append(rep.Skipped, name)
			continue
		}

		jobID, err := s.Scheduler.Submit(ctx, filepath.Join(dir, name))
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			e := SubmitError{Script: name, Error: err.Error(), At: now()}
			if r != nil {
				e.JobName = r.JobName
				if r.Submitted() {
					s.stage().log().Warnw("Resubmission failed, dropping previous job id", "job", r.JobName, "job_id", r.JobID)
				}
				r.MarkSubmitFailed(e.Error)
				s.stage().record(ctx, job.StageSubmit, r.JobName, "", string(r.Status), e.Error)
			}
			s.stage().log().Errorw("Submission failed", "script", name, "error", err)
			rep.Errors = append(rep.Errors, e)
			continue
		}

		sub := Submission{Script: name, JobID: jobID, Untracked: r == nil}
		if r != nil {
			sub.JobName = r.JobName
			r.MarkSubmitted(jobID, now())
			s.stage().record(ctx, job.StageSubmit, r.JobName, jobID, string(r.Status), name)
		}
		s.stage().log().Infow("Submitted", "script", name, "job_id", jobID)
		rep.Submitted = append(rep.Submitted, sub)
	}
	return rep, nil
}

func (s *Submitter) stage() stage {
	return stage{Log: s.Log, Recorder: s.Recorder, RunID: s.RunID}
}

// ListScripts returns the job script names in dir ordered by the batch
// number at the end of the name. Names without a number sort last.
func ListScripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "read script dir %s", dir),
			"run `slurmjobs create` first or pass --script-dir")
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), script.Extension) {
			names = append(names, e.Name())
		}
	}
	sort.SliceStable(names, func(i, j int) bool {
		ni, iok := scriptNumber(names[i])
		nj, jok := scriptNumber(names[j])
		switch {
		case iok && jok && ni != nj:
			return ni < nj
		case iok != jok:
			return iok
		default:
			return names[i] < names[j]
		}
	})
	return names, nil
}

func scriptNumber(name string) (int, bool) {
	m := trailingNumber.FindStringSubmatch(strings.TrimSuffix(name, script.Extension))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// WriteSubmitErrors writes the submission error log. An empty list is
// written as [] so that a clean run still leaves the file behind.
func WriteSubmitErrors(path string, errs []SubmitError) error {
	if errs == nil {
		errs = []SubmitError{}
	}
	return writeJSON(path, errs)
}
