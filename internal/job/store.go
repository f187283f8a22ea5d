package job

import (
	"context"
	"time"
)

// Stage names the pipeline step that produced an event.
type Stage string

const (
	StageCreate  Stage = "create"
	StageSubmit  Stage = "submit"
	StageMonitor Stage = "monitor"
	StageProcess Stage = "process"
)

// Event is one per-job outcome of a pipeline stage.
type Event struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Stage      Stage     `json:"stage"`
	JobName    string    `json:"job_name"`
	JobID      string    `json:"job_id,omitempty"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Recorder receives stage events.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// History persists events and lists them back.
type History interface {
	Recorder
	// List returns a page of events ordered by recorded_at DESC, plus the total count.
	// An empty jobName lists every job.
	List(ctx context.Context, jobName string, limit, offset int) ([]*Event, int, error)
	Close() error
}

// NopRecorder discards events. Used when no history database is configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) error { return nil }
