package storage

import (
	"errors"
	"sync"

	"github.com/example/fleet-dispatch/internal/models"
)

// ErrNotFound is returned for unknown job or assignment ids.
var ErrNotFound = errors.New("not found")

// Store defines persistence for jobs, assignments, and incidents.
type Store interface {
	SaveJob(j *models.Job) error
	UpdateJob(j *models.Job) error
	GetJob(id string) (*models.Job, error)

	SaveAssignment(a *models.Assignment) error
	UpdateAssignment(a *models.Assignment) error
	GetAssignment(id string) (*models.Assignment, error)

	SaveIncident(inc *models.Incident) error
	UpdateIncident(inc *models.Incident) error
}

// MemoryStore keeps everything in process. Values are copied on the way in
// and out so callers never share mutable state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	jobs        map[string]models.Job
	assignments map[string]models.Assignment
	incidents   map[string]models.Incident
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        make(map[string]models.Job),
		assignments: make(map[string]models.Assignment),
		incidents:   make(map[string]models.Incident),
	}
}

func (m *MemoryStore) SaveJob(j *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = *j
	return nil
}

func (m *MemoryStore) UpdateJob(j *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = *j
	return nil
}

func (m *MemoryStore) GetJob(id string) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := j
	return &cp, nil
}

func (m *MemoryStore) SaveAssignment(a *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a.ID] = cloneAssignment(*a)
	return nil
}

func (m *MemoryStore) UpdateAssignment(a *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a.ID] = cloneAssignment(*a)
	return nil
}

func (m *MemoryStore) GetAssignment(id string) (*models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneAssignment(a)
	return &cp, nil
}

func (m *MemoryStore) SaveIncident(inc *models.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents[inc.ID] = *inc
	return nil
}

func (m *MemoryStore) UpdateIncident(inc *models.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents[inc.ID] = *inc
	return nil
}

func cloneAssignment(a models.Assignment) models.Assignment {
	if len(a.Events) > 0 {
		events := make([]models.AssignmentEvent, len(a.Events))
		copy(events, a.Events)
		a.Events = events
	}
	return a
}
