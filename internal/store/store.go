package store

import (
	"context"
	"errors"
	"fmt"

	"printwatch/internal/model"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// JobStore persists print jobs. Ids are assigned sequentially from 1.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id int) (model.Job, error)
	ListJobs(ctx context.Context) ([]model.Job, error)
	UpdateJob(ctx context.Context, job model.Job) error
}

// PrinterStore persists registered printers
type PrinterStore interface {
	CreatePrinter(ctx context.Context, printer *model.Printer) error
	GetPrinter(ctx context.Context, id int) (model.Printer, error)
	ListPrinters(ctx context.Context) ([]model.Printer, error)
}

// UserStore persists user accounts. Emails are unique.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id int) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
}

// Store is the complete record store
type Store interface {
	JobStore
	PrinterStore
	UserStore
	Close() error
}

// Open creates a store for the given driver ("memory" or "sqlite")
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		s, err := NewSQLite(path)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
