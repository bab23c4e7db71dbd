package monitor

import (
	"context"
	"errors"
	"log"
	"sync"

	"printwatch/internal/model"
)

var (
	ErrAlreadyMonitoring = errors.New("job is already being monitored")
	ErrSupervisorClosed  = errors.New("monitor supervisor is shut down")
)

// Handle tracks one running monitoring session
type Handle struct {
	JobID     int
	SessionID string

	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
}

// Done is closed when the session has terminated
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Outcome returns how the session ended, or OutcomeRunning while it is active
func (h *Handle) Outcome() Outcome {
	select {
	case <-h.done:
		return h.outcome
	default:
		return OutcomeRunning
	}
}

// Supervisor runs one monitoring task per job on its own goroutine
type Supervisor struct {
	source   FrameSource
	analyzer Analyzer
	emitter  Emitter
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[int]*Handle
	closed bool
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor whose tasks share source, analyzer and emitter
func NewSupervisor(source FrameSource, analyzer Analyzer, emitter Emitter, opts Options) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		source:   source,
		analyzer: analyzer,
		emitter:  emitter,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(map[int]*Handle),
	}
}

// Start launches a monitoring session for job and returns immediately
func (s *Supervisor) Start(job model.Job) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSupervisorClosed
	}
	if _, exists := s.tasks[job.ID]; exists {
		return nil, ErrAlreadyMonitoring
	}

	task := NewTask(job, s.source, s.analyzer, s.emitter, s.opts)
	ctx, cancel := context.WithCancel(s.ctx)
	h := &Handle{
		JobID:     job.ID,
		SessionID: task.SessionID(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.tasks[job.ID] = h

	s.wg.Add(1)
	go s.run(ctx, task, h)

	return h, nil
}

func (s *Supervisor) run(ctx context.Context, task *Task, h *Handle) {
	defer s.wg.Done()
	defer h.cancel()

	outcome := task.Run(ctx)

	s.mu.Lock()
	if s.tasks[h.JobID] == h {
		delete(s.tasks, h.JobID)
	}
	s.mu.Unlock()

	h.outcome = outcome
	close(h.done)
}

// Cancel requests the job's session to stop. It does not wait, so it is safe
// to call from an event handler running on the session's own goroutine.
// Returns false if the job has no active session.
func (s *Supervisor) Cancel(jobID int) bool {
	s.mu.Lock()
	h, ok := s.tasks[jobID]
	s.mu.Unlock()

	if !ok {
		return false
	}
	h.cancel()
	return true
}

// Get returns the active session of a job
func (s *Supervisor) Get(jobID int) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.tasks[jobID]
	return h, ok
}

// Active returns the number of running sessions
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown cancels every session and waits for them to end or for ctx to expire
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	active := len(s.tasks)
	s.mu.Unlock()

	s.cancel()
	log.Printf("[Monitor] Shutting down, %d active session(s)", active)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
