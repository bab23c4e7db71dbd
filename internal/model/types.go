package model

import (
	"time"
)

// JobStatus is the lifecycle state of a print job
type JobStatus string

const (
	// JobStatusPrinting - job created, printer is working on it
	JobStatusPrinting JobStatus = "printing"
	// JobStatusCompleted - progress reached 100 or the camera saw a finished print
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed - failure reported by the printer or detected by the camera
	JobStatusFailed JobStatus = "failed"
	// JobStatusMonitoringFailed - the monitoring session aborted before reaching a verdict.
	// The print itself may still be running, so the job stays open for progress reports.
	JobStatusMonitoringFailed JobStatus = "monitoring_failed"
)

// IsClosed reports whether no further progress or failure reports are accepted
func (s JobStatus) IsClosed() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one printer's tracked print task
type Job struct {
	ID         int        `json:"id"`
	PrinterID  int        `json:"printer_id"`
	FileName   string     `json:"file_name"`
	Status     JobStatus  `json:"status"`
	Progress   float64    `json:"progress"` // 0.0 to 100.0
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at"`          // Set iff status is completed or failed
	UserEmail  *string    `json:"user_email,omitempty"` // Notification address
}

// NotifyAddress returns the notification address or "" if none was given
func (j *Job) NotifyAddress() string {
	if j.UserEmail == nil {
		return ""
	}
	return *j.UserEmail
}

// PrinterStatusIdle is the status of a freshly registered printer
const PrinterStatusIdle = "idle"

// Printer is a registered networked 3D printer
type Printer struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Location  *string   `json:"location"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// User is an account allowed to use the API
type User struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
