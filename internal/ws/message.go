package ws

import (
	"time"

	"printwatch/internal/events"
	"printwatch/internal/model"
)

// JobEventMessage is the JSON frame sent to job event subscribers
type JobEventMessage struct {
	Type      string    `json:"type"`  // "job_event"
	Event     string    `json:"event"` // job_created, job_finished, ...
	Timestamp time.Time `json:"timestamp"`
	Job       model.Job `json:"job"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// NewJobEventMessage creates a message from a bus event
func NewJobEventMessage(ev *events.Event) *JobEventMessage {
	msg := &JobEventMessage{
		Type:      "job_event",
		Event:     ev.Name,
		Timestamp: time.Now(),
		Job:       ev.Job,
		Reason:    ev.Reason,
		SessionID: ev.SessionID,
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}
