package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/slurmjobs/slurmjobs/internal/batch"
	"github.com/slurmjobs/slurmjobs/internal/config"
	"github.com/slurmjobs/slurmjobs/internal/job"
	"github.com/slurmjobs/slurmjobs/internal/script"
)

// ErrJobDirExists is returned when the job directory is already present and
// overwriting was not requested.
var ErrJobDirExists = errors.New("job directory already exists")

// RunOptions parameterize one end-to-end run.
type RunOptions struct {
	JobDir        string
	TotalArticles int
	BatchSize     int
	SetupScript   string
	// Overwrite removes an existing job directory first.
	Overwrite bool
	// SkipSubmit stops after generating the scripts and metadata.
	SkipSubmit bool
}

// Paths are the files of a run, all inside the job directory.
type Paths struct {
	Dir           string
	BatchFile     string
	MetadataFile  string
	SubmitErrors  string
	StatusFile    string
	StatusLog     string
	ErrorLogDir   string
	CompletionLog string
	RerunFile     string
}

// PathsIn places the configured file names inside dir.
func PathsIn(dir string, f config.FilesConfig) Paths {
	return Paths{
		Dir:           dir,
		BatchFile:     filepath.Join(dir, f.BatchFile),
		MetadataFile:  filepath.Join(dir, f.MetadataFile),
		SubmitErrors:  filepath.Join(dir, f.SubmitErrors),
		StatusFile:    filepath.Join(dir, f.StatusFile),
		StatusLog:     filepath.Join(dir, f.StatusLog),
		ErrorLogDir:   filepath.Join(dir, f.ErrorLogDir),
		CompletionLog: filepath.Join(dir, f.CompletionLog),
		RerunFile:     filepath.Join(dir, f.RerunFile),
	}
}

// RunResult collects the outputs of every stage that ran.
type RunResult struct {
	Paths     Paths
	Batches   int
	Submit    *SubmitReport
	Status    []StatusEntry
	Processed *Outcome
}

// Runner chains batches, create, submit, monitor and process.
type Runner struct {
	Config    *config.Config
	Scheduler Scheduler
	Log       *zap.SugaredLogger
	Recorder  job.Recorder
	RunID     string
}

// Run executes every stage inside opts.JobDir. Generation errors for single
// batches are returned together with the result once the remaining stages
// have run.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	dir, err := filepath.Abs(opts.JobDir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve job dir %s", opts.JobDir)
	}
	// Inputs are validated before an existing directory is removed.
	intervals, err := batch.Split(opts.TotalArticles, opts.BatchSize)
	if err != nil {
		return nil, err
	}
	setup, err := script.LoadSetup(opts.SetupScript)
	if err != nil {
		return nil, err
	}
	if err := prepareDir(dir, opts.Overwrite); err != nil {
		return nil, err
	}
	paths := PathsIn(dir, r.Config.Files)
	res := &RunResult{Paths: paths}
	log := stage{Log: r.Log}.log()

	if err := batch.Save(paths.BatchFile, intervals); err != nil {
		return res, err
	}
	res.Batches = len(intervals)
	log.Infow("Batches generated", "count", len(intervals), "file", paths.BatchFile)

	gen := &script.Generator{Config: r.Config.Script, Dir: dir, Log: r.Log, Recorder: r.Recorder, RunID: r.RunID}
	md, createErr := gen.Write(ctx, intervals, filepath.Base(opts.SetupScript), setup)
	if md == nil {
		return res, createErr
	}
	if err := job.SaveMetadata(paths.MetadataFile, md); err != nil {
		return res, err
	}
	log.Infow("Job scripts created", "count", len(md), "dir", dir)
	if opts.SkipSubmit {
		return res, createErr
	}

	sub := &Submitter{Scheduler: r.Scheduler, Log: r.Log, Recorder: r.Recorder, RunID: r.RunID}
	res.Submit, err = sub.Submit(ctx, dir, md)
	if res.Submit != nil {
		if err := job.SaveMetadata(paths.MetadataFile, md); err != nil {
			return res, err
		}
		if err := WriteSubmitErrors(paths.SubmitErrors, res.Submit.Errors); err != nil {
			return res, err
		}
	}
	if err != nil {
		return res, err
	}

	mon := &Monitor{Scheduler: r.Scheduler, Log: r.Log, Recorder: r.Recorder, RunID: r.RunID}
	res.Status, err = mon.Poll(ctx, md)
	if err != nil {
		return res, err
	}
	if err := WriteStatus(paths.StatusFile, paths.StatusLog, res.Status); err != nil {
		return res, err
	}

	proc := &Processor{ErrDir: dir, ErrorLogDir: paths.ErrorLogDir, Log: r.Log, Recorder: r.Recorder, RunID: r.RunID}
	out, procErr := proc.Process(ctx, md)
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	res.Processed = out
	if err := WriteReports(paths.CompletionLog, paths.RerunFile, out); err != nil {
		return res, err
	}
	if err := job.SaveMetadata(paths.MetadataFile, md); err != nil {
		return res, err
	}
	return res, multierr.Append(createErr, procErr)
}

func prepareDir(dir string, overwrite bool) error {
	_, err := os.Stat(dir)
	switch {
	case err == nil && !overwrite:
		return errors.WithHint(
			errors.Wrapf(ErrJobDirExists, "%s", dir),
			"choose another --job-dir or pass --overwrite")
	case err == nil:
		if err := os.RemoveAll(dir); err != nil {
			return errors.Wrapf(err, "remove %s", dir)
		}
	case !errors.Is(err, os.ErrNotExist):
		return errors.Wrapf(err, "stat %s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create job dir %s", dir)
	}
	return nil
}
