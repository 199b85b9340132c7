package events

import "time"

type Type string

const (
	AssignmentCreated   Type = "assignment_created"
	AssignmentCancelled Type = "assignment_cancelled"
	JobStatusChanged    Type = "job_status_changed"
	IncidentReported    Type = "incident_reported"
)

// Event is the wire shape published to the domain-events topic whenever the
// dispatch controller commits a state change.
type Event struct {
	Type         Type      `json:"type"`
	JobID        string    `json:"job_id,omitempty"`
	AssignmentID string    `json:"assignment_id,omitempty"`
	DriverID     string    `json:"driver_id,omitempty"`
	IncidentID   string    `json:"incident_id,omitempty"`
	From         string    `json:"from,omitempty"`
	To           string    `json:"to,omitempty"`
	At           time.Time `json:"at"`
}

// Publisher emits domain events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ev Event) error
}

// Nop drops events; used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(Event) error { return nil }
