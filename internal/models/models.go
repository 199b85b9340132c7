package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location pairs a coordinate with the human-readable address the booking
// form captured. The engine only ever computes on the coordinate.
type Location struct {
	Coord   Coord  `json:"coord"`
	Address string `json:"address"`
}

// VehicleClass orders vehicle capability: a driver may serve any job whose
// required class is at or below their own.
type VehicleClass int

const (
	VehicleMotorbike VehicleClass = iota + 1
	VehicleCar
	VehicleSmallVan
	VehicleMediumVan
	VehicleLargeVan
	VehicleTruck
)

var vehicleClassNames = map[VehicleClass]string{
	VehicleMotorbike: "motorbike",
	VehicleCar:       "car",
	VehicleSmallVan:  "small_van",
	VehicleMediumVan: "medium_van",
	VehicleLargeVan:  "large_van",
	VehicleTruck:     "truck",
}

func (v VehicleClass) String() string { return vehicleClassNames[v] }

func (v VehicleClass) IsValid() bool {
	_, ok := vehicleClassNames[v]
	return ok
}

// CanServe reports whether a vehicle of this class can carry a job that
// requires the given class.
func (v VehicleClass) CanServe(required VehicleClass) bool { return v >= required }

// ParseVehicleClass maps the wire name back to the enum; returns false for
// unknown names.
func ParseVehicleClass(s string) (VehicleClass, bool) {
	for k, name := range vehicleClassNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

type JobStatus string

const (
	JobDraft      JobStatus = "DRAFT"
	JobConfirmed  JobStatus = "CONFIRMED"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobPickedUp   JobStatus = "PICKED_UP"
	JobInTransit  JobStatus = "IN_TRANSIT"
	JobCompleted  JobStatus = "COMPLETED"
	JobCancelled  JobStatus = "CANCELLED"
)

func (s JobStatus) IsValid() bool {
	switch s {
	case JobDraft, JobConfirmed, JobInProgress, JobPickedUp, JobInTransit, JobCompleted, JobCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobCancelled }

type Job struct {
	ID              string       `json:"id"`
	Status          JobStatus    `json:"status"`
	Pickup          Location     `json:"pickup"`
	Dropoff         Location     `json:"dropoff"`
	ScheduledAt     time.Time    `json:"scheduled_at"`
	RequiredVehicle VehicleClass `json:"required_vehicle"`
	AssignmentID    string       `json:"assignment_id,omitempty"` // empty until assigned
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

type DriverAvailability string

const (
	DriverOnline  DriverAvailability = "online"
	DriverOffline DriverAvailability = "offline"
	DriverOnBreak DriverAvailability = "break"
)

type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountRemoved   AccountStatus = "removed"
)

type Driver struct {
	ID                string             `json:"id"`
	Availability      DriverAvailability `json:"availability"`
	Position          *Coord             `json:"position,omitempty"` // nil when consent withheld or unknown
	Rating            *float64           `json:"rating,omitempty"`   // 0..5, nil when no history
	Vehicle           VehicleClass       `json:"vehicle"`
	ActiveAssignments int                `json:"active_assignments"`
	CompletedJobs     int                `json:"completed_jobs"`
	Account           AccountStatus      `json:"account"`
	RegisteredAt      time.Time          `json:"registered_at"`
}

// Dispatchable is the account-level gate: suspended or removed drivers are
// never matched regardless of their online flag.
func (d Driver) Dispatchable() bool {
	return d.Account == AccountActive && d.Availability == DriverOnline
}

type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentAccepted  AssignmentStatus = "accepted"
	AssignmentDeclined  AssignmentStatus = "declined"
	AssignmentActive    AssignmentStatus = "active"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentCancelled AssignmentStatus = "cancelled"
)

func (s AssignmentStatus) Terminal() bool {
	switch s {
	case AssignmentDeclined, AssignmentCompleted, AssignmentCancelled:
		return true
	}
	return false
}

// ProgressStep is a driver-app lifecycle event appended to an assignment.
type ProgressStep string

const (
	StepAssigned  ProgressStep = "assigned"
	StepAccepted  ProgressStep = "accepted"
	StepEnRoute   ProgressStep = "en_route"
	StepArrived   ProgressStep = "arrived"
	StepPickedUp  ProgressStep = "picked_up"
	StepInTransit ProgressStep = "in_transit"
	StepCompleted ProgressStep = "completed"
)

func (s ProgressStep) IsValid() bool {
	switch s {
	case StepAssigned, StepAccepted, StepEnRoute, StepArrived, StepPickedUp, StepInTransit, StepCompleted:
		return true
	}
	return false
}

type AssignmentEvent struct {
	Step ProgressStep `json:"step"`
	Note string       `json:"note,omitempty"`
	At   time.Time    `json:"at"`
}

// Assignment binds one Job to one Driver. It is owned by the Job that
// created it; the driver side only counts it toward workload.
type Assignment struct {
	ID        string            `json:"id"`
	JobID     string            `json:"job_id"`
	DriverID  string            `json:"driver_id"`
	Status    AssignmentStatus  `json:"status"`
	ClaimedAt time.Time         `json:"claimed_at"`
	Events    []AssignmentEvent `json:"events,omitempty"`
}

type IncidentCategory string

const (
	IncidentAccident  IncidentCategory = "accident"
	IncidentBreakdown IncidentCategory = "breakdown"
	IncidentDelay     IncidentCategory = "delay"
	IncidentDamage    IncidentCategory = "damage"
	IncidentComplaint IncidentCategory = "complaint"
	IncidentOther     IncidentCategory = "other"
)

func (c IncidentCategory) IsValid() bool {
	switch c {
	case IncidentAccident, IncidentBreakdown, IncidentDelay, IncidentDamage, IncidentComplaint, IncidentOther:
		return true
	}
	return false
}

type IncidentSeverity string

const (
	SeverityLow      IncidentSeverity = "low"
	SeverityMedium   IncidentSeverity = "medium"
	SeverityHigh     IncidentSeverity = "high"
	SeverityCritical IncidentSeverity = "critical"
)

func (s IncidentSeverity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type IncidentStatus string

const (
	IncidentReported     IncidentStatus = "reported"
	IncidentAcknowledged IncidentStatus = "acknowledged"
	IncidentResolved     IncidentStatus = "resolved"
)

type Incident struct {
	ID             string           `json:"id"`
	Category       IncidentCategory `json:"category"`
	Severity       IncidentSeverity `json:"severity"`
	Description    string           `json:"description"`
	DriverID       string           `json:"driver_id"`
	AssignmentID   string           `json:"assignment_id,omitempty"`
	Status         IncidentStatus   `json:"status"`
	ResolutionNote string           `json:"resolution_note,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
