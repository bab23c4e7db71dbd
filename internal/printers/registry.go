package printers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"printwatch/internal/model"
	"printwatch/internal/store"
)

var (
	ErrNotFound       = errors.New("printer not found")
	ErrInvalidPrinter = errors.New("invalid printer")
)

// Registry registers and looks up printers
type Registry struct {
	store store.PrinterStore
}

// NewRegistry creates a printer registry over a printer store
func NewRegistry(s store.PrinterStore) *Registry {
	return &Registry{store: s}
}

// Register adds a printer. New printers start idle.
func (r *Registry) Register(ctx context.Context, name string, location *string) (model.Printer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Printer{}, fmt.Errorf("%w: name is required", ErrInvalidPrinter)
	}
	if location != nil && strings.TrimSpace(*location) == "" {
		location = nil
	}

	p := model.Printer{
		Name:      name,
		Location:  location,
		Status:    model.PrinterStatusIdle,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreatePrinter(ctx, &p); err != nil {
		return model.Printer{}, err
	}

	log.Printf("[Printers] Registered printer %d (%s)", p.ID, p.Name)
	return p, nil
}

// Get returns one printer
func (r *Registry) Get(ctx context.Context, id int) (model.Printer, error) {
	p, err := r.store.GetPrinter(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Printer{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return p, err
}

// List returns all printers in registration order
func (r *Registry) List(ctx context.Context) ([]model.Printer, error) {
	return r.store.ListPrinters(ctx)
}
