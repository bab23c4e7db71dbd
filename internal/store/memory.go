package store

import (
	"context"
	"strings"
	"sync"

	"printwatch/internal/model"
)

// Memory is an in-process store. Records are returned as copies.
type Memory struct {
	mu sync.RWMutex

	jobs     []model.Job
	printers []model.Printer
	users    []model.User
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) CreateJob(ctx context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.ID = len(m.jobs) + 1
	m.jobs = append(m.jobs, copyJob(*job))
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id int) (model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id < 1 || id > len(m.jobs) {
		return model.Job{}, ErrNotFound
	}
	return copyJob(m.jobs[id-1]), nil
}

func (m *Memory) ListJobs(ctx context.Context) ([]model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]model.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, copyJob(j))
	}
	return jobs, nil
}

func (m *Memory) UpdateJob(ctx context.Context, job model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.ID < 1 || job.ID > len(m.jobs) {
		return ErrNotFound
	}
	m.jobs[job.ID-1] = copyJob(job)
	return nil
}

func (m *Memory) CreatePrinter(ctx context.Context, printer *model.Printer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	printer.ID = len(m.printers) + 1
	m.printers = append(m.printers, copyPrinter(*printer))
	return nil
}

func (m *Memory) GetPrinter(ctx context.Context, id int) (model.Printer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id < 1 || id > len(m.printers) {
		return model.Printer{}, ErrNotFound
	}
	return copyPrinter(m.printers[id-1]), nil
}

func (m *Memory) ListPrinters(ctx context.Context) ([]model.Printer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	printers := make([]model.Printer, 0, len(m.printers))
	for _, p := range m.printers {
		printers = append(printers, copyPrinter(p))
	}
	return printers, nil
}

func (m *Memory) CreateUser(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return ErrDuplicate
		}
	}
	user.ID = len(m.users) + 1
	m.users = append(m.users, *user)
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id int) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id < 1 || id > len(m.users) {
		return model.User{}, ErrNotFound
	}
	return m.users[id-1], nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return model.User{}, ErrNotFound
}

func (m *Memory) Close() error {
	return nil
}

func copyJob(j model.Job) model.Job {
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		j.FinishedAt = &t
	}
	if j.UserEmail != nil {
		e := *j.UserEmail
		j.UserEmail = &e
	}
	return j
}

func copyPrinter(p model.Printer) model.Printer {
	if p.Location != nil {
		l := *p.Location
		p.Location = &l
	}
	return p
}
