package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slurmjobs/slurmjobs/internal/job"
	"github.com/slurmjobs/slurmjobs/internal/slurm"
)

func TestPoll(t *testing.T) {
	t.Parallel()
	md := newMetadata(6, 10)
	for i, id := range []string{"", "2", "3", "4", "5", "6"} {
		if id != "" {
			md[job.Name(i+1)].MarkSubmitted(id, fixedNow)
		}
	}
	before, err := json.Marshal(md)
	require.NoError(t, err)

	sched := &fakeScheduler{
		queueFn: func(id string) (slurm.QueueInfo, bool, error) {
			switch id {
			case "2":
				return slurm.QueueInfo{State: slurm.StateRunning, Elapsed: "1:02:03"}, true, nil
			case "5":
				return slurm.QueueInfo{}, false, errors.New("squeue: error: slurm_load_jobs error: Socket timed out")
			}
			return slurm.QueueInfo{}, false, nil
		},
		acctFn: func(id string) (slurm.Accounting, bool, error) {
			switch id {
			case "4":
				return slurm.Accounting{JobID: "4.batch", Elapsed: "00:01:00", CPUTime: "00:04:00", State: slurm.StateFailed, ExitCode: "1:0"}, true, nil
			case "6":
				return slurm.Accounting{}, false, nil
			}
			return slurm.Accounting{JobID: id + ".batch", Elapsed: "02:00:00", CPUTime: "08:00:00", State: slurm.StateCompleted, ExitCode: "0:0"}, true, nil
		},
	}
	rec := &memRecorder{}
	m := &Monitor{Scheduler: sched, Recorder: rec}

	entries, err := m.Poll(context.Background(), md)
	require.NoError(t, err)
	require.Len(t, entries, 6)

	assert.Equal(t, StatusEntry{Batch: "batch_1", JobName: "batch_1", Status: StateNotSubmitted}, entries[0])
	assert.Equal(t, StatusEntry{Batch: "batch_2", JobName: "batch_2", JobID: "2", Status: slurm.StateRunning, Elapsed: "1:02:03", InQueue: true}, entries[1])
	assert.Equal(t, StatusEntry{Batch: "batch_3", JobName: "batch_3", JobID: "3", Status: slurm.StateCompleted, Elapsed: "02:00:00", CPUTime: "08:00:00", ExitCode: "0:0"}, entries[2])
	assert.Equal(t, slurm.StateFailed, entries[3].Status)
	assert.Equal(t, "1:0", entries[3].ExitCode)
	assert.Equal(t, StateUnknown, entries[4].Status)
	assert.Contains(t, entries[4].Error, "Socket timed out")
	assert.Equal(t, StateUnknown, entries[5].Status)
	assert.NotEmpty(t, entries[5].Error)

	assert.True(t, Active(entries))
	assert.Len(t, rec.events, 5, "unsubmitted records are not recorded")

	after, err := json.Marshal(md)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after), "monitoring must not modify metadata")
}

func TestPoll_FailedExitOverridesState(t *testing.T) {
	t.Parallel()
	md := newMetadata(1, 1)
	md["batch_1"].MarkSubmitted("7", fixedNow)
	sched := &fakeScheduler{acctFn: func(string) (slurm.Accounting, bool, error) {
		return slurm.Accounting{State: slurm.StateCompleted, ExitCode: "0:9"}, true, nil
	}}

	entries, err := (&Monitor{Scheduler: sched}).Poll(context.Background(), md)
	require.NoError(t, err)
	assert.Equal(t, slurm.StateFailed, entries[0].Status)
	assert.False(t, Active(entries))
}

// gpuScheduler adds GPU usage reporting to fakeScheduler.
type gpuScheduler struct {
	fakeScheduler
	gpuCalls atomic.Int32
}

func (g *gpuScheduler) GPUUsage(_ context.Context, jobID string) (string, error) {
	g.gpuCalls.Add(1)
	if jobID == "2" {
		return "", errors.New("jobsh: node unreachable")
	}
	return "75%", nil
}

func TestPoll_GPUUsageForRunningJobs(t *testing.T) {
	t.Parallel()
	md := newMetadata(4, 1)
	md["batch_1"].MarkSubmitted("1", fixedNow)
	md["batch_2"].MarkSubmitted("2", fixedNow)
	md["batch_3"].MarkSubmitted("3", fixedNow)
	sched := &gpuScheduler{}
	sched.queueFn = func(id string) (slurm.QueueInfo, bool, error) {
		switch id {
		case "1", "2":
			return slurm.QueueInfo{State: slurm.StateRunning, Elapsed: "5:00"}, true, nil
		default:
			return slurm.QueueInfo{State: slurm.StatePending}, true, nil
		}
	}

	entries, err := (&Monitor{Scheduler: sched}).Poll(context.Background(), md)
	require.NoError(t, err)
	assert.Equal(t, "75%", entries[0].GPUUsage)
	assert.Empty(t, entries[1].GPUUsage)
	assert.Equal(t, slurm.StateRunning, entries[1].Status, "a GPU query failure does not change the status")
	assert.Empty(t, entries[1].Error)
	assert.Empty(t, entries[2].GPUUsage)
	assert.Empty(t, entries[3].GPUUsage)
	assert.Equal(t, int32(2), sched.gpuCalls.Load(), "only running jobs are queried")

	table, err := StatusTable(entries)
	require.NoError(t, err)
	assert.Contains(t, table, "GPU Usage")
	assert.Contains(t, table, "75%")
}

func TestWatch_StopsWhenQueueDrains(t *testing.T) {
	t.Parallel()
	md := newMetadata(2, 1)
	md["batch_1"].MarkSubmitted("1", fixedNow)

	var queueCalls atomic.Int32
	sched := &fakeScheduler{queueFn: func(string) (slurm.QueueInfo, bool, error) {
		if queueCalls.Add(1) <= 2 {
			return slurm.QueueInfo{State: slurm.StatePending, Elapsed: "0:00"}, true, nil
		}
		return slurm.QueueInfo{}, false, nil
	}}

	polls := 0
	err := (&Monitor{Scheduler: sched}).Watch(context.Background(), md, time.Millisecond, func(entries []StatusEntry) error {
		polls++
		require.Len(t, entries, 2)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, polls)
}

func TestWatch_Cancelled(t *testing.T) {
	t.Parallel()
	md := newMetadata(1, 1)
	md["batch_1"].MarkSubmitted("1", fixedNow)
	sched := &fakeScheduler{queueFn: func(string) (slurm.QueueInfo, bool, error) {
		return slurm.QueueInfo{State: slurm.StateRunning}, true, nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := (&Monitor{Scheduler: sched}).Watch(ctx, md, time.Hour, func([]StatusEntry) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWatch_RejectsNonPositiveInterval(t *testing.T) {
	t.Parallel()
	err := (&Monitor{Scheduler: &fakeScheduler{}}).Watch(context.Background(), job.Metadata{}, 0, func([]StatusEntry) error { return nil })
	assert.Error(t, err)
}

func TestWriteStatus(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "job_status.json")
	logPath := filepath.Join(dir, "job_status.log")
	entries := []StatusEntry{
		{Batch: "batch_1", JobName: "batch_1", Status: StateNotSubmitted},
		{Batch: "batch_2", JobName: "batch_2", JobID: "42", Status: slurm.StateRunning, Elapsed: "5:00", InQueue: true},
	}

	require.NoError(t, WriteStatus(jsonPath, logPath, entries))

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var got []StatusEntry
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, entries, got)

	table, err := os.ReadFile(logPath)
	require.NoError(t, err)
	s := string(table)
	for _, want := range []string{"Job Name", "batch_1", "NOT_SUBMITTED", "42", "RUNNING", "N/A"} {
		assert.Contains(t, s, want)
	}
	assert.NotContains(t, s, "\x1b[", "log file must not hold terminal escapes")
}
