package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"printwatch/internal/camera"
	"printwatch/internal/detection"
	"printwatch/internal/events"
	"printwatch/internal/model"
)

// DefaultMaxReadFailures is the number of consecutive failed reads that ends a session
const DefaultMaxReadFailures = 10

var (
	ErrReadFailures = errors.New("too many consecutive frame read failures")
)

// FrameSource is the camera the task reads from and publishes annotated frames to
type FrameSource interface {
	Start(index int) error
	Stop()
	Read() (*camera.Frame, error)
	Update(frame *camera.Frame)
}

// Analyzer classifies frames
type Analyzer interface {
	Load(ctx context.Context) error
	Analyze(ctx context.Context, frame *camera.Frame) ([]detection.Detection, error)
	Annotate(frame *camera.Frame, detections []detection.Detection) *camera.Frame
}

// Emitter publishes lifecycle events
type Emitter interface {
	Emit(name string, ev events.Event) error
}

// Outcome is how a monitoring session ended
type Outcome int

const (
	// OutcomeRunning - the session has not terminated yet
	OutcomeRunning Outcome = iota
	// OutcomeSuccess - the success class was detected, job_finished emitted
	OutcomeSuccess
	// OutcomeFailure - a failure class was detected, job_failed emitted
	OutcomeFailure
	// OutcomeAborted - the session ended without a verdict
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRunning:
		return "running"
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "aborted"
	}
}

// Options tunes a monitoring session
type Options struct {
	CameraIndex     int
	MaxReadFailures int           // Consecutive failed reads before giving up, default 10
	FrameInterval   time.Duration // Pause between analyzed frames, 0 for none
	RetryDelay      time.Duration // Pause after a failed read, 0 for none
}

func (o Options) withDefaults() Options {
	if o.MaxReadFailures <= 0 {
		o.MaxReadFailures = DefaultMaxReadFailures
	}
	return o
}

// Task watches one job through the camera until a verdict or a fatal error
type Task struct {
	job       model.Job
	sessionID string
	source    FrameSource
	analyzer  Analyzer
	emitter   Emitter
	opts      Options
}

// NewTask creates a monitoring task for job. Nothing runs until Run.
func NewTask(job model.Job, source FrameSource, analyzer Analyzer, emitter Emitter, opts Options) *Task {
	return &Task{
		job:       job,
		sessionID: uuid.NewString(),
		source:    source,
		analyzer:  analyzer,
		emitter:   emitter,
		opts:      opts.withDefaults(),
	}
}

// SessionID identifies this monitoring session in events and logs
func (t *Task) SessionID() string {
	return t.sessionID
}

// Run executes the session on the calling goroutine and returns how it ended.
// The frame source is stopped exactly once, after any terminal event was emitted.
// A cancelled ctx ends the session as aborted without emitting anything.
func (t *Task) Run(ctx context.Context) Outcome {
	log.Printf("[Monitor] Job %d: session %s starting on camera %d", t.job.ID, t.sessionID, t.opts.CameraIndex)

	// Stop is idempotent, so it also runs after a failed Start
	defer t.source.Stop()

	if err := t.source.Start(t.opts.CameraIndex); err != nil {
		t.monitoringFailed(err, "camera unavailable")
		return OutcomeAborted
	}

	if err := t.analyzer.Load(ctx); err != nil {
		t.monitoringFailed(err, "detector unavailable")
		return OutcomeAborted
	}

	outcome := t.loop(ctx)
	log.Printf("[Monitor] Job %d: session %s ended (%s)", t.job.ID, t.sessionID, outcome)
	return outcome
}

func (t *Task) loop(ctx context.Context) Outcome {
	failures := 0

	for {
		if ctx.Err() != nil {
			return OutcomeAborted
		}

		frame, err := t.source.Read()
		if err != nil {
			failures++
			if failures >= t.opts.MaxReadFailures {
				t.monitoringFailed(fmt.Errorf("%w: %v", ErrReadFailures, err), "camera read failure")
				return OutcomeAborted
			}
			if !sleep(ctx, t.opts.RetryDelay) {
				return OutcomeAborted
			}
			continue
		}
		failures = 0

		detections, err := t.analyzer.Analyze(ctx, frame)
		if err != nil {
			t.monitoringFailed(err, "detector unavailable")
			return OutcomeAborted
		}

		t.source.Update(t.analyzer.Annotate(frame, detections))

		if outcome := t.verdict(detections); outcome != OutcomeRunning {
			return outcome
		}

		if !sleep(ctx, t.opts.FrameInterval) {
			return OutcomeAborted
		}
	}
}

// verdict emits the terminal event for the first success or failure
// detection in the frame, if any.
func (t *Task) verdict(detections []detection.Detection) Outcome {
	for _, d := range detections {
		switch d.Kind {
		case detection.KindSuccess:
			log.Printf("[Monitor] Job %d: %s detected (%.0f%%)", t.job.ID, d.Label, d.Confidence*100)
			t.emit(events.JobFinished, events.Event{Job: t.job, Reason: d.Label})
			return OutcomeSuccess
		case detection.KindFailure:
			log.Printf("[Monitor] Job %d: failure detected: %s (%.0f%%)", t.job.ID, d.Label, d.Confidence*100)
			t.emit(events.JobFailed, events.Event{Job: t.job, Reason: d.Label})
			return OutcomeFailure
		}
	}
	return OutcomeRunning
}

func (t *Task) monitoringFailed(err error, reason string) {
	log.Printf("[Monitor] Job %d: %s: %v", t.job.ID, reason, err)
	t.emit(events.JobMonitoringFailed, events.Event{Job: t.job, Err: err, Reason: reason})
}

func (t *Task) emit(name string, ev events.Event) {
	ev.SessionID = t.sessionID
	if err := t.emitter.Emit(name, ev); err != nil {
		log.Printf("[Monitor] Job %d: %s subscriber error: %v", t.job.ID, name, err)
	}
}

// sleep waits for d or until ctx is done. Returns false if ctx is done.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
