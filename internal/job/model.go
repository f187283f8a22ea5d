package job

import (
	"fmt"
	"sort"
	"time"

	"github.com/slurmjobs/slurmjobs/internal/batch"
)

type Status string

const (
	StatusNotSubmitted Status = "not_submitted"
	StatusSubmitFailed Status = "submit_failed"
	StatusSubmitted    Status = "submitted"
	StatusPending      Status = "pending"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// IsTerminal returns true for statuses that represent a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Completion counts the items of a batch by progress observed in its log.
type Completion struct {
	Total        int  `json:"total"`
	Completed    int  `json:"completed"`
	InProgress   int  `json:"in_progress"`
	Unstarted    int  `json:"unstarted"`
	AllCompleted bool `json:"all_completed"`
}

// Percentage returns the share of completed items in [0, 100].
func (c Completion) Percentage() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Completed) / float64(c.Total) * 100
}

// Record is the bookkeeping entry for one batch.
type Record struct {
	BatchNumber  int         `json:"batch_number"`
	Start        int         `json:"start"`
	End          int         `json:"end"`
	ScriptName   string      `json:"script_name"`
	JobName      string      `json:"job_name"`
	JobID        string      `json:"job_id,omitempty"`
	SubmittedAt  *time.Time  `json:"submitted_at,omitempty"`
	SubmitError  string      `json:"submit_error,omitempty"`
	Status       Status      `json:"status"`
	Completion   *Completion `json:"completion,omitempty"`
	ErrorSummary string      `json:"error_summary,omitempty"`
	CheckedAt    *time.Time  `json:"checked_at,omitempty"`
}

// NewRecord builds the initial, not yet submitted record for batch number n.
func NewRecord(n int, iv batch.Interval, scriptName string) *Record {
	return &Record{
		BatchNumber: n,
		Start:       iv.Start,
		End:         iv.End,
		ScriptName:  scriptName,
		JobName:     Name(n),
		Status:      StatusNotSubmitted,
	}
}

// Submitted reports whether the workload manager accepted the batch.
func (r *Record) Submitted() bool {
	return r.JobID != ""
}

// Interval returns the item range covered by the record.
func (r *Record) Interval() batch.Interval {
	return batch.Interval{Start: r.Start, End: r.End}
}

// MarkSubmitted stores the identifier returned by the workload manager.
func (r *Record) MarkSubmitted(jobID string, at time.Time) {
	at = at.UTC()
	r.JobID = jobID
	r.SubmittedAt = &at
	r.SubmitError = ""
	r.Status = StatusSubmitted
}

// MarkSubmitFailed records a rejected submission. A job id left from an
// earlier submission is dropped together with its results, so the record
// no longer counts as submitted.
func (r *Record) MarkSubmitFailed(errMsg string) {
	r.JobID = ""
	r.SubmittedAt = nil
	r.Completion = nil
	r.ErrorSummary = ""
	r.CheckedAt = nil
	r.SubmitError = errMsg
	r.Status = StatusSubmitFailed
}

// Name returns the job name used for batch number n.
func Name(n int) string {
	return fmt.Sprintf("batch_%d", n)
}

// Metadata holds every record of a run, keyed by job name.
type Metadata map[string]*Record

// Add inserts or replaces the record under its job name.
func (m Metadata) Add(r *Record) {
	m[r.JobName] = r
}

// Records returns the records ordered by batch number.
func (m Metadata) Records() []*Record {
	out := make([]*Record, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BatchNumber != out[j].BatchNumber {
			return out[i].BatchNumber < out[j].BatchNumber
		}
		return out[i].JobName < out[j].JobName
	})
	return out
}

// ByScript returns the record whose script file is named name.
func (m Metadata) ByScript(name string) *Record {
	for _, r := range m {
		if r.ScriptName == name {
			return r
		}
	}
	return nil
}
