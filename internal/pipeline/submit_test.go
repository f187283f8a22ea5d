package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slurmjobs/slurmjobs/internal/job"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func scriptDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{}
	for _, n := range names {
		files[n] = "#!/bin/bash\n"
	}
	writeFiles(t, dir, files)
	return dir
}

func TestListScripts_BatchOrder(t *testing.T) {
	t.Parallel()
	dir := scriptDir(t, "batch_10.slurm", "batch_2.slurm", "extra.slurm", "batch_1.slurm", "notes.txt")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "batch_3.slurm"), 0o755))

	got, err := ListScripts(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"batch_1.slurm", "batch_2.slurm", "batch_10.slurm", "extra.slurm"}, got)
}

func TestListScripts_MissingDir(t *testing.T) {
	t.Parallel()
	_, err := ListScripts(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestSubmit_FailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	dir := scriptDir(t, "batch_1.slurm", "batch_2.slurm", "batch_3.slurm")
	md := newMetadata(3, 10)
	rec := &memRecorder{}
	sched := &fakeScheduler{submitFn: func(name string) (string, error) {
		if name == "batch_2.slurm" {
			return "", errors.New("sbatch: error: Batch job submission failed: Invalid account")
		}
		return "9" + name[6:7], nil
	}}
	s := &Submitter{Scheduler: sched, Recorder: rec, RunID: "r1", now: func() time.Time { return fixedNow }}

	rep, err := s.Submit(context.Background(), dir, md)
	require.NoError(t, err)

	assert.Equal(t, []string{"batch_1.slurm", "batch_2.slurm", "batch_3.slurm"}, sched.submitted())
	require.Len(t, rep.Submitted, 2)
	assert.Equal(t, "91", rep.Submitted[0].JobID)
	assert.Equal(t, "93", rep.Submitted[1].JobID)

	require.Len(t, rep.Errors, 1)
	assert.Equal(t, "batch_2", rep.Errors[0].JobName)
	assert.Contains(t, rep.Errors[0].Error, "Invalid account")
	assert.Equal(t, fixedNow, rep.Errors[0].At)

	assert.Equal(t, job.StatusSubmitted, md["batch_1"].Status)
	assert.Equal(t, fixedNow, *md["batch_1"].SubmittedAt)
	assert.Equal(t, job.StatusSubmitFailed, md["batch_2"].Status)
	assert.False(t, md["batch_2"].Submitted())
	assert.Contains(t, md["batch_2"].SubmitError, "Invalid account")
	assert.Equal(t, "93", md["batch_3"].JobID)

	require.Len(t, rec.events, 3)
	assert.Equal(t, job.StageSubmit, rec.events[1].Stage)
	assert.Equal(t, string(job.StatusSubmitFailed), rec.events[1].Status)
}

func TestSubmit_SkipsSubmittedUnlessResubmit(t *testing.T) {
	t.Parallel()
	dir := scriptDir(t, "batch_1.slurm", "batch_2.slurm")
	md := newMetadata(2, 5)
	md["batch_1"].MarkSubmitted("555", fixedNow)

	sched := &fakeScheduler{}
	rep, err := (&Submitter{Scheduler: sched}).Submit(context.Background(), dir, md)
	require.NoError(t, err)
	assert.Equal(t, []string{"batch_1.slurm"}, rep.Skipped)
	assert.Equal(t, []string{"batch_2.slurm"}, sched.submitted())
	assert.Equal(t, "555", md["batch_1"].JobID)

	rep, err = (&Submitter{Scheduler: sched, Resubmit: true}).Submit(context.Background(), dir, md)
	require.NoError(t, err)
	assert.Empty(t, rep.Skipped)
	assert.Len(t, rep.Submitted, 2)
	assert.NotEqual(t, "555", md["batch_1"].JobID)
}

func TestSubmit_FailedResubmitDropsPreviousJob(t *testing.T) {
	t.Parallel()
	dir := scriptDir(t, "batch_1.slurm")
	md := newMetadata(1, 5)
	r := md["batch_1"]
	r.MarkSubmitted("555", fixedNow)
	r.Status = job.StatusCompleted
	r.ErrorSummary = "RuntimeError: CUDA out of memory"

	sched := &fakeScheduler{submitFn: func(string) (string, error) {
		return "", errors.New("sbatch: error: QOSMaxSubmitJobPerUserLimit")
	}}
	rep, err := (&Submitter{Scheduler: sched, Resubmit: true, now: func() time.Time { return fixedNow }}).Submit(context.Background(), dir, md)
	require.NoError(t, err)
	require.Len(t, rep.Errors, 1)

	assert.False(t, r.Submitted())
	assert.Empty(t, r.JobID)
	assert.Nil(t, r.SubmittedAt)
	assert.Empty(t, r.ErrorSummary)
	assert.Equal(t, job.StatusSubmitFailed, r.Status)
	assert.Contains(t, r.SubmitError, "QOSMaxSubmitJobPerUserLimit")
}

func TestSubmit_WithoutMetadata(t *testing.T) {
	t.Parallel()
	dir := scriptDir(t, "batch_2.slurm", "batch_1.slurm")
	rep, err := (&Submitter{Scheduler: &fakeScheduler{}}).Submit(context.Background(), dir, nil)
	require.NoError(t, err)
	require.Len(t, rep.Submitted, 2)
	assert.Equal(t, "batch_1.slurm", rep.Submitted[0].Script)
	assert.True(t, rep.Submitted[0].Untracked)
	assert.Equal(t, "101", rep.Submitted[0].JobID)
}

func TestSubmit_UntrackedScript(t *testing.T) {
	t.Parallel()
	dir := scriptDir(t, "batch_1.slurm", "manual.slurm")
	md := newMetadata(1, 5)

	rep, err := (&Submitter{Scheduler: &fakeScheduler{}}).Submit(context.Background(), dir, md)
	require.NoError(t, err)
	require.Len(t, rep.Submitted, 2)
	assert.False(t, rep.Submitted[0].Untracked)
	assert.True(t, rep.Submitted[1].Untracked)
	assert.Len(t, md, 1, "untracked scripts are not added to metadata")
}

func TestSubmit_CancelledContext(t *testing.T) {
	t.Parallel()
	dir := scriptDir(t, "batch_1.slurm")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sched := &fakeScheduler{}
	_, err := (&Submitter{Scheduler: sched}).Submit(ctx, dir, newMetadata(1, 1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sched.submitted())
}

func TestWriteSubmitErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, WriteSubmitErrors(empty, nil))
	data, err := os.ReadFile(empty)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))

	path := filepath.Join(dir, "errors.json")
	require.NoError(t, WriteSubmitErrors(path, []SubmitError{{Script: "batch_2.slurm", JobName: "batch_2", Error: "boom", At: fixedNow}}))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	var got []SubmitError
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "boom", got[0].Error)
}
