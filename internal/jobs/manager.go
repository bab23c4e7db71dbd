package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"printwatch/internal/events"
	"printwatch/internal/model"
	"printwatch/internal/store"
)

var (
	ErrNotFound        = errors.New("job not found")
	ErrPrinterNotFound = errors.New("printer not found")
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")
	ErrInvalidJob      = errors.New("invalid job")
	ErrJobClosed       = errors.New("job is already completed or failed")
)

// Emitter publishes lifecycle events
type Emitter interface {
	Emit(name string, ev events.Event) error
}

// Manager owns job records and their lifecycle transitions
type Manager struct {
	jobs     store.JobStore
	printers store.PrinterStore
	emitter  Emitter
	now      func() time.Time

	// Serializes read-modify-write of job records. Never held while emitting.
	mu sync.Mutex
}

// NewManager creates a job lifecycle manager
func NewManager(jobs store.JobStore, printers store.PrinterStore, emitter Emitter) *Manager {
	return &Manager{
		jobs:     jobs,
		printers: printers,
		emitter:  emitter,
		now:      time.Now,
	}
}

// Create registers a new print job on an existing printer and emits job_created
func (m *Manager) Create(ctx context.Context, printerID int, fileName string, userEmail *string) (model.Job, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return model.Job{}, fmt.Errorf("%w: file name is required", ErrInvalidJob)
	}

	if _, err := m.printers.GetPrinter(ctx, printerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Job{}, fmt.Errorf("%w: %d", ErrPrinterNotFound, printerID)
		}
		return model.Job{}, err
	}

	if userEmail != nil && strings.TrimSpace(*userEmail) == "" {
		userEmail = nil
	}

	job := model.Job{
		PrinterID: printerID,
		FileName:  fileName,
		Status:    model.JobStatusPrinting,
		Progress:  0,
		CreatedAt: m.now().UTC(),
		UserEmail: userEmail,
	}

	m.mu.Lock()
	err := m.jobs.CreateJob(ctx, &job)
	m.mu.Unlock()
	if err != nil {
		return model.Job{}, err
	}

	log.Printf("[Jobs] Created job %d (%s) on printer %d", job.ID, job.FileName, job.PrinterID)
	m.emit(events.JobCreated, job)
	return job, nil
}

// ReportProgress records printer progress. Reaching 100 completes the job and emits job_finished.
func (m *Manager) ReportProgress(ctx context.Context, id int, progress float64) (model.Job, error) {
	m.mu.Lock()

	job, err := m.get(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return model.Job{}, err
	}
	if math.IsNaN(progress) || progress < 0 || progress > 100 {
		m.mu.Unlock()
		return model.Job{}, fmt.Errorf("%w: got %v", ErrInvalidProgress, progress)
	}
	if job.Status.IsClosed() {
		m.mu.Unlock()
		return model.Job{}, fmt.Errorf("%w: job %d is %s", ErrJobClosed, id, job.Status)
	}

	job.Progress = progress
	finished := progress >= 100
	if finished {
		m.close(&job, model.JobStatusCompleted)
	}

	err = m.jobs.UpdateJob(ctx, job)
	m.mu.Unlock()
	if err != nil {
		return model.Job{}, err
	}

	if finished {
		log.Printf("[Jobs] Job %d completed", job.ID)
		m.emit(events.JobFinished, job)
	}
	return job, nil
}

// Fail marks the job failed and emits job_failed
func (m *Manager) Fail(ctx context.Context, id int) (model.Job, error) {
	m.mu.Lock()

	job, err := m.get(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return model.Job{}, err
	}
	if job.Status.IsClosed() {
		m.mu.Unlock()
		return model.Job{}, fmt.Errorf("%w: job %d is %s", ErrJobClosed, id, job.Status)
	}

	m.close(&job, model.JobStatusFailed)

	err = m.jobs.UpdateJob(ctx, job)
	m.mu.Unlock()
	if err != nil {
		return model.Job{}, err
	}

	log.Printf("[Jobs] Job %d failed", job.ID)
	m.emit(events.JobFailed, job)
	return job, nil
}

// Get returns one job
func (m *Manager) Get(ctx context.Context, id int) (model.Job, error) {
	return m.get(ctx, id)
}

// List returns all jobs in creation order
func (m *Manager) List(ctx context.Context) ([]model.Job, error) {
	return m.jobs.ListJobs(ctx)
}

// Sync applies a terminal event to the job record without emitting anything.
// Events for jobs that are already closed leave the record unchanged.
func (m *Manager) Sync(ctx context.Context, ev events.Event) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.get(ctx, ev.Job.ID)
	if err != nil {
		return model.Job{}, err
	}
	if job.Status.IsClosed() {
		return job, nil
	}

	switch ev.Name {
	case events.JobFinished:
		job.Progress = 100
		m.close(&job, model.JobStatusCompleted)
	case events.JobFailed:
		m.close(&job, model.JobStatusFailed)
	case events.JobMonitoringFailed:
		if job.Status == model.JobStatusMonitoringFailed {
			return job, nil
		}
		job.Status = model.JobStatusMonitoringFailed
	default:
		return job, nil
	}

	if err := m.jobs.UpdateJob(ctx, job); err != nil {
		return model.Job{}, err
	}
	log.Printf("[Jobs] Job %d is now %s (%s)", job.ID, job.Status, ev.Name)
	return job, nil
}

func (m *Manager) get(ctx context.Context, id int) (model.Job, error) {
	job, err := m.jobs.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Job{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return job, err
}

func (m *Manager) close(job *model.Job, status model.JobStatus) {
	now := m.now().UTC()
	job.Status = status
	job.FinishedAt = &now
}

func (m *Manager) emit(name string, job model.Job) {
	if err := m.emitter.Emit(name, events.Event{Job: job}); err != nil {
		log.Printf("[Jobs] Warning: %s subscriber error for job %d: %v", name, job.ID, err)
	}
}
