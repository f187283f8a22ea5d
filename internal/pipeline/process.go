package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/slurmjobs/slurmjobs/internal/job"
	"github.com/slurmjobs/slurmjobs/internal/logscan"
)

const progressBarWidth = 50

// JobResult is the outcome of scanning one job's log.
type JobResult struct {
	JobName string
	JobID   string
	Status  job.Status
	// Report is nil when the job has not written a log yet.
	Report *logscan.Report
	// ErrorLog is the path of the extracted error log, if one was written.
	ErrorLog string
}

// RerunItem is an item that did not reach 100%.
type RerunItem struct {
	JobName string `json:"job_name"`
	Item    int    `json:"item"`
}

// Summary aggregates a processing pass. It is also the notification payload.
type Summary struct {
	RunID          string      `json:"run_id,omitempty"`
	Jobs           int         `json:"jobs"`
	Completed      int         `json:"completed"`
	Failed         int         `json:"failed"`
	Pending        int         `json:"pending"`
	Items          int         `json:"items"`
	ItemsCompleted int         `json:"items_completed"`
	Percent        float64     `json:"percent"`
	Rerun          []RerunItem `json:"rerun,omitempty"`
	CheckedAt      time.Time   `json:"checked_at"`
}

// Outcome is everything a processing pass produced.
type Outcome struct {
	Results []JobResult
	Summary Summary
}

// Processor scans each submitted job's standard-error log and updates its record.
type Processor struct {
	// ErrDir holds the <job_name>.err files.
	ErrDir string
	// ErrorLogDir receives <job_name>_error.log for jobs with errors.
	ErrorLogDir string
	Log         *zap.SugaredLogger
	Recorder    job.Recorder
	RunID       string

	now func() time.Time
}

// Process updates status, completion, error summary and check time on every
// submitted record of md. Records are changed in place; the caller persists
// them. Problems with a single job are logged, aggregated into the returned
// error and do not stop the others.
func (p *Processor) Process(ctx context.Context, md job.Metadata) (*Outcome, error) {
	now := p.now
	if now == nil {
		now = nowUTC
	}
	checkedAt := now()

	out := &Outcome{Summary: Summary{RunID: p.RunID, CheckedAt: checkedAt}}
	var errs error
	for _, r := range md.Records() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if !r.Submitted() {
			p.stage().log().Debugw("No job id, skipping", "job", r.JobName)
			continue
		}

		res, err := p.processOne(r)
		if err != nil {
			p.stage().log().Errorw("Failed to process job log", "job", r.JobName, "error", err)
			errs = multierr.Append(errs, errors.Wrapf(err, "job %s", r.JobName))
			if res == nil {
				continue
			}
		}

		r.Status = res.Status
		r.CheckedAt = &checkedAt
		r.ErrorSummary = ""
		r.Completion = nil
		if res.Report != nil {
			c := res.Report.Progress.Completion()
			r.Completion = &c
			r.ErrorSummary = res.Report.Summary()
		}
		p.stage().record(ctx, job.StageProcess, r.JobName, r.JobID, string(r.Status), r.ErrorSummary)

		out.Results = append(out.Results, *res)
		out.Summary.add(*res)
	}
	if out.Summary.Items > 0 {
		out.Summary.Percent = float64(out.Summary.ItemsCompleted) / float64(out.Summary.Items) * 100
	}
	return out, errs
}

// processOne scans one job's log. A non-nil result with an error means the
// job was classified but its error log could not be written.
func (p *Processor) processOne(r *job.Record) (*JobResult, error) {
	res := &JobResult{JobName: r.JobName, JobID: r.JobID, Status: job.StatusPending}

	f, err := os.Open(filepath.Join(p.ErrDir, r.JobName+".err"))
	if errors.Is(err, os.ErrNotExist) {
		p.stage().log().Debugw("No log yet", "job", r.JobName)
		return res, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "open log")
	}
	defer f.Close()

	rep, err := logscan.Scan(f, r.Interval())
	if err != nil {
		return nil, err
	}
	res.Report = rep
	res.Status = logscan.Classify(rep)
	if !rep.Seen {
		p.stage().log().Infow("No progress lines in log", "job", r.JobName)
	}

	if rep.HasErrors() {
		path, err := p.writeErrorLog(r.JobName, rep)
		if err != nil {
			return res, err
		}
		res.ErrorLog = path
		p.stage().log().Infow("Errors extracted", "job", r.JobName, "file", path)
	}
	return res, nil
}

func (p *Processor) writeErrorLog(jobName string, rep *logscan.Report) (string, error) {
	if err := os.MkdirAll(p.ErrorLogDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create error log dir %s", p.ErrorLogDir)
	}
	path := filepath.Join(p.ErrorLogDir, jobName+"_error.log")
	if err := writeFile(path, rep.WriteErrors); err != nil {
		return "", err
	}
	return path, nil
}

func (p *Processor) stage() stage {
	return stage{Log: p.Log, Recorder: p.Recorder, RunID: p.RunID}
}

func (s *Summary) add(res JobResult) {
	s.Jobs++
	switch res.Status {
	case job.StatusCompleted:
		s.Completed++
	case job.StatusFailed:
		s.Failed++
	default:
		s.Pending++
	}
	if res.Report == nil {
		return
	}
	c := res.Report.Progress.Completion()
	s.Items += c.Total
	s.ItemsCompleted += c.Completed
	for _, item := range res.Report.Progress.Incomplete() {
		s.Rerun = append(s.Rerun, RerunItem{JobName: res.JobName, Item: item})
	}
}

// WriteCompletionLog renders one block per scanned job followed by the
// overall progress bar. Jobs without a log are left out.
func WriteCompletionLog(w io.Writer, out *Outcome) error {
	var b strings.Builder
	for _, res := range out.Results {
		if res.Report == nil {
			continue
		}
		prog := res.Report.Progress
		c := prog.Completion()
		fmt.Fprintf(&b, "Job %s (ID: %s) - %d/%d (%.2f%%):\n", res.JobName, res.JobID, c.Completed, c.Total, c.Percentage())
		for item := prog.Interval.Start; item < prog.Interval.End; item++ {
			if pct := prog.Percent[item]; pct == logscan.NotStarted {
				fmt.Fprintf(&b, "  Batch %d: Not Started\n", item)
			} else {
				fmt.Fprintf(&b, "  Batch %d: Highest completion percentage: %d%%\n", item, pct)
			}
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Total Completion Progress: %s\n\n", ProgressBar(out.Summary.Percent))
	_, err := io.WriteString(w, b.String())
	return err
}

// ProgressBar draws pct as a fixed-width bar of '#', one per two percent.
func ProgressBar(pct float64) string {
	filled := int(pct / 2)
	filled = max(0, min(filled, progressBarWidth))
	return fmt.Sprintf("[%s%s] %.2f%%", strings.Repeat("#", filled), strings.Repeat(" ", progressBarWidth-filled), pct)
}

// WriteRerun lists every incomplete item as "<job_name> Batch <item>".
func WriteRerun(w io.Writer, items []RerunItem) error {
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "%s Batch %d\n", it.JobName, it.Item)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// writeFile creates path and fills it with fn.
func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := fn(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	return nil
}

// WriteReports writes the completion log and the rerun file.
func WriteReports(completionPath, rerunPath string, out *Outcome) error {
	if err := writeFile(completionPath, func(w io.Writer) error { return WriteCompletionLog(w, out) }); err != nil {
		return err
	}
	return writeFile(rerunPath, func(w io.Writer) error { return WriteRerun(w, out.Summary.Rerun) })
}
