// Package logscan parses the standard-error logs written by batch jobs.
//
// The processing command prints one tqdm progress bar per item, which shows
// up in the log as "batch:<item>:  <pct>%|". SLURM itself appends a
// "slurmstepd: error: *** JOB <id> ... CANCELLED ..." line when it kills a job.
package logscan

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/slurmjobs/slurmjobs/internal/batch"
	"github.com/slurmjobs/slurmjobs/internal/job"
)

var (
	progressPattern  = regexp.MustCompile(`batch:(\d+):\s+(\d+)%\|`)
	tracebackPattern = regexp.MustCompile(`Traceback`)
	cancelPattern    = regexp.MustCompile(`slurmstepd: error: \*\*\* JOB (\d+) .* CANCELLED`)
)

// maxLine bounds a single log line; progress bars redraw with carriage
// returns and can produce very long lines.
const maxLine = 4 << 20

// lastStatusMarker precedes the last progress line seen before an error.
const lastStatusMarker = "Last Batch Status Before Error:"

// NotStarted marks an item with no progress line.
const NotStarted = -1

// Progress maps every item of an interval to its highest reported percentage.
type Progress struct {
	Interval batch.Interval
	Percent  map[int]int
}

// Completion summarizes the progress counts.
func (p Progress) Completion() job.Completion {
	c := job.Completion{Total: p.Interval.Len()}
	for item := p.Interval.Start; item < p.Interval.End; item++ {
		switch pct := p.Percent[item]; {
		case pct == NotStarted:
			c.Unstarted++
		case pct >= 100:
			c.Completed++
		default:
			c.InProgress++
		}
	}
	c.AllCompleted = c.Total > 0 && c.Completed == c.Total
	return c
}

// Incomplete returns the items below 100%, in order.
func (p Progress) Incomplete() []int {
	var items []int
	for item := p.Interval.Start; item < p.Interval.End; item++ {
		if p.Percent[item] < 100 {
			items = append(items, item)
		}
	}
	return items
}

// Report is everything extracted from one log.
type Report struct {
	Progress Progress
	// Seen is false when the log held no progress line at all.
	Seen bool
	// SlurmErrors holds cancellation lines, each preceded by the last
	// progress line seen before it when that line differs.
	SlurmErrors []string
	// Traceback holds captured traceback lines, preceded by the last progress line.
	Traceback []string

	// sections holds the index in Traceback where each traceback begins.
	sections []int
}

// HasErrors reports whether a cancellation or traceback was found.
func (r *Report) HasErrors() bool {
	return len(r.SlurmErrors) > 0 || len(r.Traceback) > 0
}

// Scan reads a job log and extracts progress for the items of iv together
// with any SLURM cancellation and Python traceback.
func Scan(rd io.Reader, iv batch.Interval) (*Report, error) {
	rep := &Report{Progress: Progress{Interval: iv, Percent: make(map[int]int, iv.Len())}}
	for item := iv.Start; item < iv.End; item++ {
		rep.Progress.Percent[item] = NotStarted
	}

	var lastStatus string
	capturing := false

	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for sc.Scan() {
		raw := sc.Text()
		line := strings.TrimSpace(raw)

		// Progress bars redraw in place, so one line may hold many updates.
		for _, seg := range strings.Split(raw, "\r") {
			matches := progressPattern.FindAllStringSubmatch(seg, -1)
			if len(matches) == 0 {
				continue
			}
			rep.Seen = true
			lastStatus = strings.TrimSpace(seg)
			for _, m := range matches {
				item, _ := strconv.Atoi(m[1])
				pct, _ := strconv.Atoi(m[2])
				if cur, ok := rep.Progress.Percent[item]; ok && pct > cur {
					rep.Progress.Percent[item] = pct
				}
			}
		}

		switch {
		case cancelPattern.MatchString(raw):
			if lastStatus != "" && !strings.Contains(raw, lastStatus) {
				rep.SlurmErrors = append(rep.SlurmErrors, lastStatusMarker, lastStatus)
			}
			rep.SlurmErrors = append(rep.SlurmErrors, line)
		case tracebackPattern.MatchString(raw):
			capturing = true
			rep.sections = append(rep.sections, len(rep.Traceback))
			if lastStatus != "" {
				rep.Traceback = append(rep.Traceback, lastStatusMarker, lastStatus)
				lastStatus = ""
			}
		case capturing && line == "":
			capturing = false
		}

		if capturing {
			rep.Traceback = append(rep.Traceback, strings.TrimRight(raw, "\r"))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scan log")
	}
	return rep, nil
}

// Classify returns the job status implied by the report. The first matching
// rule wins: cancellation, traceback, all items complete, otherwise pending.
func Classify(rep *Report) job.Status {
	switch {
	case len(rep.SlurmErrors) > 0:
		return job.StatusFailed
	case len(rep.Traceback) > 0:
		return job.StatusFailed
	case rep.Progress.Completion().AllCompleted:
		return job.StatusCompleted
	default:
		return job.StatusPending
	}
}

// Summary returns a one-line description of the first error found.
func (r *Report) Summary() string {
	for _, l := range r.SlurmErrors {
		if cancelPattern.MatchString(l) {
			return l
		}
	}
	// The last line of the first traceback names its exception.
	first := r.Traceback
	if len(r.sections) > 1 {
		first = first[:r.sections[1]]
	}
	for i := len(first) - 1; i >= 0; i-- {
		l := strings.TrimSpace(first[i])
		if l == "" || l == lastStatusMarker || progressPattern.MatchString(l) {
			continue
		}
		return l
	}
	return ""
}

// WriteErrors renders the error sections of the report.
func (r *Report) WriteErrors(w io.Writer) error {
	var b strings.Builder
	if len(r.SlurmErrors) > 0 {
		b.WriteString("\nSLURM Job Errors:\n")
		b.WriteString(strings.Join(r.SlurmErrors, "\n"))
		b.WriteString("\n")
	}
	if len(r.Traceback) > 0 {
		b.WriteString("\nError Traceback:\n")
		b.WriteString(strings.Join(r.Traceback, "\n"))
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
