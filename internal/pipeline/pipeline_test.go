package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slurmjobs/slurmjobs/internal/batch"
	"github.com/slurmjobs/slurmjobs/internal/job"
	"github.com/slurmjobs/slurmjobs/internal/script"
	"github.com/slurmjobs/slurmjobs/internal/slurm"
)

// fakeScheduler hands out sequential job ids. A job is absent from the queue
// and accounted as COMPLETED 0:0 unless a hook says otherwise.
type fakeScheduler struct {
	mu      sync.Mutex
	submits []string
	nextID  int

	submitFn func(script string) (string, error)
	queueFn  func(jobID string) (slurm.QueueInfo, bool, error)
	acctFn   func(jobID string) (slurm.Accounting, bool, error)
}

func (f *fakeScheduler) Submit(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, filepath.Base(path))
	if f.submitFn != nil {
		return f.submitFn(filepath.Base(path))
	}
	f.nextID++
	return strconv.Itoa(100 + f.nextID), nil
}

func (f *fakeScheduler) Queue(_ context.Context, jobID string) (slurm.QueueInfo, bool, error) {
	if f.queueFn != nil {
		return f.queueFn(jobID)
	}
	return slurm.QueueInfo{}, false, nil
}

func (f *fakeScheduler) Accounting(_ context.Context, jobID string) (slurm.Accounting, bool, error) {
	if f.acctFn != nil {
		return f.acctFn(jobID)
	}
	return slurm.Accounting{
		JobID: jobID + ".batch", Elapsed: "00:10:00", CPUTime: "00:40:00",
		State: slurm.StateCompleted, ExitCode: slurm.SuccessExitCode,
	}, true, nil
}

func (f *fakeScheduler) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submits...)
}

// memRecorder keeps history events in memory.
type memRecorder struct {
	mu     sync.Mutex
	events []job.Event
}

func (m *memRecorder) Record(_ context.Context, e job.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// newMetadata builds n records of size items each, numbered from 1.
func newMetadata(n, size int) job.Metadata {
	md := job.Metadata{}
	for i := 1; i <= n; i++ {
		iv := batch.Interval{Start: (i - 1) * size, End: i * size}
		md.Add(job.NewRecord(i, iv, job.Name(i)+script.Extension))
	}
	return md
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}
