package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/example/fleet-dispatch/internal/geo"
	"github.com/example/fleet-dispatch/internal/models"
)

// ErrUnknownDriver is returned when a driver id is not present in the index.
var ErrUnknownDriver = errors.New("unknown driver")

// CriticalChecker answers whether a driver carries an open critical
// incident. Satisfied by incident.Log.
type CriticalChecker interface {
	HasOpenCritical(driverID string) bool
}

// PositionSink receives driver snapshots for sharing across processes.
// Satisfied by RedisPositions; nil disables write-through.
type PositionSink interface {
	Upsert(d models.Driver) error
}

// Index is the in-process driver registry: the queryable snapshot view the
// matching engine reads, and the owner of per-driver workload counters.
// Counters only move through Reserve/Release/Complete so a capacity check
// and its increment are a single step under the index lock.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]*models.Driver

	criticals CriticalChecker
	sink      PositionSink
}

func NewIndex(criticals CriticalChecker) *Index {
	return &Index{drivers: make(map[string]*models.Driver), criticals: criticals}
}

// SetPositionSink enables write-through of snapshots, e.g. to Redis.
func (x *Index) SetPositionSink(s PositionSink) { x.sink = s }

// Upsert replaces the stored snapshot for a driver. Workload counters are
// preserved across upserts; the directory feed does not own them.
func (x *Index) Upsert(d models.Driver) {
	x.mu.Lock()
	if prev, ok := x.drivers[d.ID]; ok {
		d.ActiveAssignments = prev.ActiveAssignments
		if d.CompletedJobs < prev.CompletedJobs {
			d.CompletedJobs = prev.CompletedJobs
		}
	}
	cp := d
	x.drivers[d.ID] = &cp
	x.mu.Unlock()

	if x.sink != nil {
		_ = x.sink.Upsert(d) // best-effort share; the local index stays authoritative
	}
}

func (x *Index) Driver(id string) (models.Driver, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	d, ok := x.drivers[id]
	if !ok {
		return models.Driver{}, false
	}
	return *d, true
}

func (x *Index) Snapshot() []models.Driver {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]models.Driver, 0, len(x.drivers))
	for _, d := range x.drivers {
		out = append(out, *d)
	}
	return out
}

// CheckEligible runs the hard filter for one driver against one job. A nil
// return means eligible; otherwise the error names the failed constraint,
// which feeds both the audit log and EligibilityViolation responses.
func (x *Index) CheckEligible(d models.Driver, job models.Job, rules models.AutoAssignRules) error {
	if d.Account != models.AccountActive {
		return fmt.Errorf("account is %s", d.Account)
	}
	if d.Availability != models.DriverOnline {
		return fmt.Errorf("driver is %s", d.Availability)
	}
	if !d.Vehicle.CanServe(job.RequiredVehicle) {
		return fmt.Errorf("vehicle %s cannot serve required %s", d.Vehicle, job.RequiredVehicle)
	}
	if rules.VehicleFilter != 0 && !d.Vehicle.CanServe(rules.VehicleFilter) {
		return fmt.Errorf("vehicle %s below rules filter %s", d.Vehicle, rules.VehicleFilter)
	}
	if d.ActiveAssignments >= rules.MaxJobs {
		return fmt.Errorf("at capacity: %d of %d jobs", d.ActiveAssignments, rules.MaxJobs)
	}
	// no rating history passes the threshold
	if d.Rating != nil && *d.Rating < rules.MinRating {
		return fmt.Errorf("rating %.2f below minimum %.2f", *d.Rating, rules.MinRating)
	}
	if d.Position == nil {
		return errors.New("no known position")
	}
	if dist := geo.Distance(*d.Position, job.Pickup.Coord); dist > rules.RadiusMeters {
		return fmt.Errorf("distance %.0fm outside radius %.0fm", dist, rules.RadiusMeters)
	}
	if x.criticals != nil && x.criticals.HasOpenCritical(d.ID) {
		return errors.New("open critical incident")
	}
	return nil
}

// ListEligible returns the drivers passing the hard filter, ordered by
// distance to the pickup and then by id so the result is reproducible.
// Pure snapshot read; no side effects.
func (x *Index) ListEligible(job models.Job, rules models.AutoAssignRules) []models.Driver {
	x.mu.RLock()
	out := make([]models.Driver, 0, len(x.drivers))
	for _, d := range x.drivers {
		if x.CheckEligible(*d, job, rules) == nil {
			out = append(out, *d)
		}
	}
	x.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		di := geo.Distance(*out[i].Position, job.Pickup.Coord)
		dj := geo.Distance(*out[j].Position, job.Pickup.Coord)
		if di != dj {
			return di < dj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Reserve atomically re-validates a driver via check and claims one workload
// slot. The check runs on the current snapshot under the write lock, so a
// registry read followed by Reserve cannot race another reservation into
// overcommitting the driver.
func (x *Index) Reserve(driverID string, check func(models.Driver) error) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	d, ok := x.drivers[driverID]
	if !ok {
		return ErrUnknownDriver
	}
	if check != nil {
		if err := check(*d); err != nil {
			return err
		}
	}
	d.ActiveAssignments++
	return nil
}

// Release returns a workload slot after an assignment is cancelled.
func (x *Index) Release(driverID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if d, ok := x.drivers[driverID]; ok && d.ActiveAssignments > 0 {
		d.ActiveAssignments--
	}
}

// Complete returns a workload slot and credits the completed job toward the
// driver's experience.
func (x *Index) Complete(driverID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if d, ok := x.drivers[driverID]; ok {
		if d.ActiveAssignments > 0 {
			d.ActiveAssignments--
		}
		d.CompletedJobs++
	}
}

// SetAvailability flips a driver's online state in place, e.g. from the
// driver-app session layer.
func (x *Index) SetAvailability(driverID string, a models.DriverAvailability) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	d, ok := x.drivers[driverID]
	if !ok {
		return ErrUnknownDriver
	}
	d.Availability = a
	return nil
}
