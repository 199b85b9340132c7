package incident

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/fleet-dispatch/internal/events"
	"github.com/example/fleet-dispatch/internal/models"
	"github.com/example/fleet-dispatch/internal/observability"
)

// ErrValidation rejects malformed report input before any mutation.
var ErrValidation = errors.New("invalid incident input")

// ErrNotFound is returned for unknown incident ids.
var ErrNotFound = errors.New("incident not found")

// Store is the optional write-through persistence sink for incidents.
type Store interface {
	SaveIncident(inc *models.Incident) error
	UpdateIncident(inc *models.Incident) error
}

// Log records operational exceptions and answers the one question matching
// cares about: does this driver currently carry an open critical incident.
// Incidents move forward only (reported -> acknowledged -> resolved) and are
// never deleted.
type Log struct {
	mu        sync.RWMutex
	incidents map[string]*models.Incident
	// open critical incident ids per driver; emptied on resolve
	criticals map[string]map[string]struct{}

	store  Store            // nil means in-memory only
	events events.Publisher // nil means no domain events
	now    func() time.Time // injectable clock for tests
}

func NewLog(store Store, publisher events.Publisher) *Log {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Log{
		incidents: make(map[string]*models.Incident),
		criticals: make(map[string]map[string]struct{}),
		store:     store,
		events:    publisher,
		now:       time.Now,
	}
}

// Report creates a new incident in reported state.
func (l *Log) Report(category models.IncidentCategory, severity models.IncidentSeverity, description, driverID, assignmentID string) (models.Incident, error) {
	if !category.IsValid() {
		return models.Incident{}, fmt.Errorf("%w: unknown category %q", ErrValidation, category)
	}
	if !severity.IsValid() {
		return models.Incident{}, fmt.Errorf("%w: unknown severity %q", ErrValidation, severity)
	}
	if driverID == "" {
		return models.Incident{}, fmt.Errorf("%w: driver id required", ErrValidation)
	}

	ts := l.now()
	inc := &models.Incident{
		ID:           uuid.NewString(),
		Category:     category,
		Severity:     severity,
		Description:  description,
		DriverID:     driverID,
		AssignmentID: assignmentID,
		Status:       models.IncidentReported,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}

	l.mu.Lock()
	l.incidents[inc.ID] = inc
	if inc.Severity == models.SeverityCritical {
		set, ok := l.criticals[driverID]
		if !ok {
			set = make(map[string]struct{})
			l.criticals[driverID] = set
		}
		set[inc.ID] = struct{}{}
	}
	l.mu.Unlock()

	observability.IncidentsReported.WithLabelValues(string(severity)).Inc()

	if l.store != nil {
		if err := l.store.SaveIncident(inc); err != nil {
			return models.Incident{}, err
		}
	}

	// delivery is best effort; the report is already committed
	_ = l.events.Publish(events.Event{
		Type:         events.IncidentReported,
		IncidentID:   inc.ID,
		DriverID:     inc.DriverID,
		AssignmentID: inc.AssignmentID,
		At:           ts,
	})
	return *inc, nil
}

// Acknowledge marks a reported incident as seen. Acknowledging an incident
// that already moved past reported is a no-op.
func (l *Log) Acknowledge(id string) (models.Incident, error) {
	l.mu.Lock()
	inc, ok := l.incidents[id]
	if !ok {
		l.mu.Unlock()
		return models.Incident{}, ErrNotFound
	}
	if inc.Status == models.IncidentReported {
		inc.Status = models.IncidentAcknowledged
		inc.UpdatedAt = l.now()
	}
	snapshot := *inc
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.UpdateIncident(&snapshot); err != nil {
			return models.Incident{}, err
		}
	}
	return snapshot, nil
}

// Resolve closes an incident. Acknowledge first is advisory, not required.
// Resolving an already-resolved incident is a no-op.
func (l *Log) Resolve(id, note string) (models.Incident, error) {
	l.mu.Lock()
	inc, ok := l.incidents[id]
	if !ok {
		l.mu.Unlock()
		return models.Incident{}, ErrNotFound
	}
	changed := inc.Status != models.IncidentResolved
	if changed {
		inc.Status = models.IncidentResolved
		inc.ResolutionNote = note
		inc.UpdatedAt = l.now()
		if set, ok := l.criticals[inc.DriverID]; ok {
			delete(set, inc.ID)
			if len(set) == 0 {
				delete(l.criticals, inc.DriverID)
			}
		}
	}
	snapshot := *inc
	l.mu.Unlock()

	if changed && l.store != nil {
		if err := l.store.UpdateIncident(&snapshot); err != nil {
			return models.Incident{}, err
		}
	}
	return snapshot, nil
}

func (l *Log) Get(id string) (models.Incident, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	inc, ok := l.incidents[id]
	if !ok {
		return models.Incident{}, false
	}
	return *inc, true
}

// HasOpenCritical reports whether the driver has any unresolved critical
// incident. Consulted by the eligibility filter.
func (l *Log) HasOpenCritical(driverID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.criticals[driverID]) > 0
}

// ByDriver returns the driver's incidents, open and closed.
func (l *Log) ByDriver(driverID string) []models.Incident {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.Incident
	for _, inc := range l.incidents {
		if inc.DriverID == driverID {
			out = append(out, *inc)
		}
	}
	return out
}
