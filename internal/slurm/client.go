// Package slurm wraps the sbatch, squeue and sacct command-line tools.
package slurm

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
)

// Client runs SLURM commands as subprocesses.
type Client struct {
	SbatchPath string
	SqueuePath string
	SacctPath  string
	// SbatchArgs are inserted between sbatch and the script path.
	SbatchArgs []string
	// JobshPath runs a command on a job's node. GPUUsage is disabled when empty.
	JobshPath string
}

// New returns a Client using the given tool paths.
func New(sbatchPath, squeuePath, sacctPath string, sbatchArgs []string) *Client {
	return &Client{
		SbatchPath: sbatchPath,
		SqueuePath: squeuePath,
		SacctPath:  sacctPath,
		SbatchArgs: sbatchArgs,
	}
}

// Submit runs sbatch on script and returns the job identifier it prints.
func (c *Client) Submit(ctx context.Context, script string) (string, error) {
	args := append(append([]string{}, c.SbatchArgs...), script)
	out, err := run(ctx, c.SbatchPath, args...)
	if err != nil {
		return "", err
	}
	id, err := ParseSubmitOutput(out)
	if err != nil {
		return "", errors.Wrapf(err, "submit %s", script)
	}
	return id, nil
}

// Queue reports the job's queue entry. ok is false once the job has left the queue.
func (c *Client) Queue(ctx context.Context, jobID string) (info QueueInfo, ok bool, err error) {
	out, err := run(ctx, c.SqueuePath, "--job", jobID, "--noheader", "--format=%T|%M")
	if err != nil {
		// squeue rejects ids it no longer tracks once MinJobAge has passed.
		if strings.Contains(err.Error(), "Invalid job id") {
			return QueueInfo{}, false, nil
		}
		return QueueInfo{}, false, err
	}
	return ParseQueueOutput(out)
}

// Accounting returns the accounting record of the job's batch step.
// ok is false when sacct has no record for the job.
func (c *Client) Accounting(ctx context.Context, jobID string) (acct Accounting, ok bool, err error) {
	out, err := run(ctx, c.SacctPath,
		"--jobs", jobID+".batch",
		"--format=JobID,Elapsed,CPUTime,State,ExitCode",
		"--parsable2",
		"--noheader",
	)
	if err != nil {
		return Accounting{}, false, err
	}
	return ParseAccountingOutput(out)
}

// GPUUsage returns the utilisation of every GPU allocated to a running job,
// read with nvidia-smi on the job's node. It returns "" when JobshPath is unset.
func (c *Client) GPUUsage(ctx context.Context, jobID string) (string, error) {
	if c.JobshPath == "" {
		return "", nil
	}
	out, err := run(ctx, c.JobshPath, "-j", jobID, "--",
		"nvidia-smi", "--query-gpu=utilization.gpu", "--format=csv,noheader,nounits")
	if err != nil {
		return "", err
	}
	return ParseGPUOutput(out)
}

// run executes name with args and returns its trimmed stdout. A non-zero
// exit returns an error carrying the command's stderr.
func run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail != "" {
			return "", errors.Wrapf(err, "%s: %s", name, detail)
		}
		return "", errors.Wrapf(err, "%s", name)
	}
	return strings.TrimSpace(stdout.String()), nil
}
