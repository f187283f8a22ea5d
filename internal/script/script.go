// Package script renders one SLURM job script per batch.
package script

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/slurmjobs/slurmjobs/internal/batch"
	"github.com/slurmjobs/slurmjobs/internal/config"
	"github.com/slurmjobs/slurmjobs/internal/job"
)

// Extension is the file suffix of generated job scripts.
const Extension = ".slurm"

var jobTemplate = template.Must(template.New("job").Parse(`#!/bin/bash
{{- with .Account}}
#SBATCH -A {{.}}
{{- end}}
#SBATCH --gpus={{.GPUs}}
{{- with .MailUser}}
#SBATCH --mail-user={{.}}
{{- with $.MailType}}
#SBATCH --mail-type={{.}}
{{- end}}
{{- end}}
#SBATCH --job-name={{.JobName}}
#SBATCH --output={{.Output}}
#SBATCH --error={{.Error}}
#SBATCH --time={{.TimeLimit}}
{{- range .Directives}}
#SBATCH {{.}}
{{- end}}

export ARTICLE_LIMIT="{{.Start}}:{{.End}}"

# Begin environment setup ({{.SetupName}})
{{.Setup}}
# End environment setup

{{.Command}}
`))

type templateData struct {
	config.ScriptConfig
	JobName   string
	Output    string
	Error     string
	Start     int
	End       int
	SetupName string
	Setup     string
}

// Generator writes job scripts into Dir.
type Generator struct {
	Config config.ScriptConfig
	Dir    string
	Log    *zap.SugaredLogger
	// Recorder receives one create event per generated batch.
	Recorder job.Recorder
	RunID    string
}

// LoadSetup reads the environment setup script and drops a leading shebang.
func LoadSetup(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.WithHint(
			errors.Wrapf(err, "read setup script %s", path),
			"pass --setup-script or set files.setup_script")
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return "", errors.Newf("setup script %s is empty", path)
	}
	if strings.HasPrefix(content, "#!") {
		_, rest, _ := strings.Cut(content, "\n")
		content = rest
	}
	return strings.TrimRight(content, "\n"), nil
}

// Render returns the job script for batch number n.
func (g *Generator) Render(n int, iv batch.Interval, setupName, setup string) ([]byte, error) {
	name := job.Name(n)
	data := templateData{
		ScriptConfig: g.Config,
		JobName:      name,
		Output:       filepath.Join(g.Dir, name+".out"),
		Error:        filepath.Join(g.Dir, name+".err"),
		Start:        iv.Start,
		End:          iv.End,
		SetupName:    setupName,
		Setup:        setup,
	}
	var buf bytes.Buffer
	if err := jobTemplate.Execute(&buf, data); err != nil {
		return nil, errors.Wrapf(err, "render %s", name)
	}
	return buf.Bytes(), nil
}

// Create writes one script per interval and returns the metadata of every
// batch whose script was written. A failure affects only its own batch: it
// is logged, left out of the metadata and returned in the combined error.
func (g *Generator) Create(ctx context.Context, intervals []batch.Interval, setupPath string) (job.Metadata, error) {
	setup, err := LoadSetup(setupPath)
	if err != nil {
		return nil, err
	}
	return g.Write(ctx, intervals, filepath.Base(setupPath), setup)
}

// Write is Create with the setup script already loaded by LoadSetup.
func (g *Generator) Write(ctx context.Context, intervals []batch.Interval, setupName, setup string) (job.Metadata, error) {
	if err := os.MkdirAll(g.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create script dir %s", g.Dir)
	}

	md := job.Metadata{}
	var errs error
	for i, iv := range intervals {
		n := i + 1
		scriptName := job.Name(n) + Extension

		content, err := g.Render(n, iv, setupName, setup)
		if err == nil {
			err = os.WriteFile(filepath.Join(g.Dir, scriptName), content, 0o755)
		}
		if err != nil {
			g.log().Errorw("Failed to write job script", "batch", n, "error", err)
			errs = multierr.Append(errs, errors.Wrapf(err, "batch %d", n))
			continue
		}

		r := job.NewRecord(n, iv, scriptName)
		md.Add(r)
		g.log().Debugw("Job script written", "job", r.JobName, "start", iv.Start, "end", iv.End)
		g.record(ctx, r)
	}
	return md, errs
}

func (g *Generator) record(ctx context.Context, r *job.Record) {
	if g.Recorder == nil {
		return
	}
	err := g.Recorder.Record(ctx, job.Event{
		RunID:   g.RunID,
		Stage:   job.StageCreate,
		JobName: r.JobName,
		Status:  string(r.Status),
		Detail:  r.ScriptName,
	})
	if err != nil {
		g.log().Warnw("Failed to record history event", "job", r.JobName, "error", err)
	}
}

func (g *Generator) log() *zap.SugaredLogger {
	if g.Log == nil {
		return zap.NewNop().Sugar()
	}
	return g.Log
}
