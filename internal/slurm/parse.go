package slurm

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// States reported by squeue and sacct that this package interprets.
const (
	StatePending   = "PENDING"
	StateRunning   = "RUNNING"
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
)

// SuccessExitCode is sacct's exit code for a clean exit (code:signal).
const SuccessExitCode = "0:0"

// QueueInfo is a squeue row.
type QueueInfo struct {
	State   string `json:"state"`
	Elapsed string `json:"elapsed"`
}

// Accounting is a sacct row for a job's batch step.
type Accounting struct {
	JobID    string `json:"job_id"`
	Elapsed  string `json:"elapsed"`
	CPUTime  string `json:"cpu_time"`
	State    string `json:"state"`
	ExitCode string `json:"exit_code"`
}

// Failed reports whether the step exited with anything but 0:0.
func (a Accounting) Failed() bool {
	return a.ExitCode != SuccessExitCode
}

// ParseSubmitOutput extracts the job id from sbatch output, which ends with
// the identifier ("Submitted batch job 123456").
func ParseSubmitOutput(out string) (string, error) {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", errors.New("sbatch printed no job id")
	}
	// --parsable prints "id;cluster".
	id, _, _ := strings.Cut(fields[len(fields)-1], ";")
	return id, nil
}

// ParseQueueOutput reads the first "%T|%M" row printed by squeue.
func ParseQueueOutput(out string) (QueueInfo, bool, error) {
	line := firstLine(out)
	if line == "" {
		return QueueInfo{}, false, nil
	}
	state, elapsed, found := strings.Cut(line, "|")
	if !found {
		return QueueInfo{}, false, errors.Newf("unexpected squeue row %q", line)
	}
	return QueueInfo{State: strings.TrimSpace(state), Elapsed: strings.TrimSpace(elapsed)}, true, nil
}

// ParseAccountingOutput reads the first data row of sacct --parsable2 output.
// A leading header row is skipped when present.
func ParseAccountingOutput(out string) (Accounting, bool, error) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "JobID|") {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 5 {
			return Accounting{}, false, errors.Newf("unexpected sacct row %q", line)
		}
		return Accounting{
			JobID:    fields[0],
			Elapsed:  fields[1],
			CPUTime:  fields[2],
			State:    fields[3],
			ExitCode: fields[4],
		}, true, nil
	}
	return Accounting{}, false, nil
}

// ParseGPUOutput turns nvidia-smi's per-GPU utilisation lines into "87%, 40%".
func ParseGPUOutput(out string) (string, error) {
	var usage []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, err := strconv.Atoi(line); err != nil {
			return "", errors.Newf("unexpected nvidia-smi output %q", line)
		}
		usage = append(usage, line+"%")
	}
	return strings.Join(usage, ", "), nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}
