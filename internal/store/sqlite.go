package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"printwatch/internal/model"
)

// SQLite stores records in a SQLite database file
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Migrate creates the schema
func (s *SQLite) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS printers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			location TEXT,
			status TEXT NOT NULL DEFAULT 'idle',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			printer_id INTEGER NOT NULL,
			file_name TEXT NOT NULL,
			status TEXT NOT NULL,
			progress REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			finished_at DATETIME,
			user_email TEXT,
			FOREIGN KEY (printer_id) REFERENCES printers(id)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE COLLATE NOCASE,
			password_hash TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_printer ON jobs(printer_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Printf("[Store] Database migrations completed")
	return nil
}

const jobColumns = `id, printer_id, file_name, status, progress, created_at, finished_at, user_email`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (model.Job, error) {
	var job model.Job
	var status string
	var finishedAt sql.NullTime
	var userEmail sql.NullString

	if err := row.Scan(&job.ID, &job.PrinterID, &job.FileName, &status, &job.Progress,
		&job.CreatedAt, &finishedAt, &userEmail); err != nil {
		return model.Job{}, err
	}

	job.Status = model.JobStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	if userEmail.Valid {
		e := userEmail.String
		job.UserEmail = &e
	}
	return job, nil
}

func (s *SQLite) CreateJob(ctx context.Context, job *model.Job) error {
	query := `INSERT INTO jobs (printer_id, file_name, status, progress, created_at, finished_at, user_email)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query, job.PrinterID, job.FileName, string(job.Status), job.Progress,
		job.CreatedAt, nullTime(job.FinishedAt), nullString(job.UserEmail))
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get job id: %w", err)
	}
	job.ID = int(id)
	return nil
}

func (s *SQLite) GetJob(ctx context.Context, id int) (model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, ErrNotFound
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *SQLite) ListJobs(ctx context.Context) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []model.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLite) UpdateJob(ctx context.Context, job model.Job) error {
	query := `UPDATE jobs SET status = ?, progress = ?, finished_at = ?, user_email = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query, string(job.Status), job.Progress,
		nullTime(job.FinishedAt), nullString(job.UserEmail), job.ID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) CreatePrinter(ctx context.Context, printer *model.Printer) error {
	query := `INSERT INTO printers (name, location, status, created_at) VALUES (?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query, printer.Name, nullString(printer.Location), printer.Status, printer.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save printer: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get printer id: %w", err)
	}
	printer.ID = int(id)
	return nil
}

func scanPrinter(row scanner) (model.Printer, error) {
	var p model.Printer
	var location sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &location, &p.Status, &p.CreatedAt); err != nil {
		return model.Printer{}, err
	}
	if location.Valid {
		l := location.String
		p.Location = &l
	}
	return p, nil
}

func (s *SQLite) GetPrinter(ctx context.Context, id int) (model.Printer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, location, status, created_at FROM printers WHERE id = ?`, id)

	p, err := scanPrinter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Printer{}, ErrNotFound
	}
	if err != nil {
		return model.Printer{}, fmt.Errorf("failed to get printer: %w", err)
	}
	return p, nil
}

func (s *SQLite) ListPrinters(ctx context.Context) ([]model.Printer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, location, status, created_at FROM printers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list printers: %w", err)
	}
	defer rows.Close()

	printers := []model.Printer{}
	for rows.Next() {
		p, err := scanPrinter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan printer: %w", err)
		}
		printers = append(printers, p)
	}
	return printers, rows.Err()
}

func (s *SQLite) CreateUser(ctx context.Context, user *model.User) error {
	query := `INSERT INTO users (email, password_hash, created_at) VALUES (?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query, user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to save user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get user id: %w", err)
	}
	user.ID = int(id)
	return nil
}

func (s *SQLite) getUser(ctx context.Context, where string, arg any) (model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE `+where+` = ?`, arg).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *SQLite) GetUser(ctx context.Context, id int) (model.User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *SQLite) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	return s.getUser(ctx, "email", email)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
