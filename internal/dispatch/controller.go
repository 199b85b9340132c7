// Package dispatch orchestrates assignment of jobs to drivers: automatic
// and manual assignment, the job status lifecycle, and the domain events
// each committed change emits.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/fleet-dispatch/internal/events"
	"github.com/example/fleet-dispatch/internal/matching"
	"github.com/example/fleet-dispatch/internal/models"
	"github.com/example/fleet-dispatch/internal/notify"
	"github.com/example/fleet-dispatch/internal/observability"
	"github.com/example/fleet-dispatch/internal/storage"
)

// DriverRegistry is the controller's view of the driver fleet. Reserve must
// re-run the eligibility check and claim a workload slot as one atomic step.
type DriverRegistry interface {
	Driver(id string) (models.Driver, bool)
	ListEligible(job models.Job, rules models.AutoAssignRules) []models.Driver
	CheckEligible(d models.Driver, job models.Job, rules models.AutoAssignRules) error
	Reserve(driverID string, check func(models.Driver) error) error
	Release(driverID string)
	Complete(driverID string)
}

// Controller is the shared-state dispatch service. All assignment-creating
// operations serialize per job; two concurrent attempts on the same job
// cannot both succeed.
type Controller struct {
	registry DriverRegistry
	store    storage.Store
	events   events.Publisher
	notifier notify.Notifier // optional
	logger   *slog.Logger
	now      func() time.Time

	cfgMu   sync.RWMutex
	rules   models.AutoAssignRules
	enabled bool

	locks *jobLocks
}

// Option configures optional controller collaborators.
type Option func(*Controller)

func WithNotifier(n notify.Notifier) Option { return func(c *Controller) { c.notifier = n } }

func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

func NewController(registry DriverRegistry, store storage.Store, publisher events.Publisher, logger *slog.Logger, rules models.AutoAssignRules, autoAssignEnabled bool, opts ...Option) *Controller {
	if publisher == nil {
		publisher = events.Nop{}
	}
	c := &Controller{
		registry: registry,
		store:    store,
		events:   publisher,
		logger:   logger,
		now:      time.Now,
		rules:    rules,
		enabled:  autoAssignEnabled,
		locks:    newJobLocks(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateJob registers a booking with the engine in DRAFT status.
func (c *Controller) CreateJob(pickup, dropoff models.Location, scheduledAt time.Time, required models.VehicleClass) (models.Job, error) {
	if !required.IsValid() {
		return models.Job{}, fmt.Errorf("%w: unknown vehicle class %d", ErrValidation, required)
	}
	ts := c.now()
	j := models.Job{
		ID:              uuid.NewString(),
		Status:          models.JobDraft,
		Pickup:          pickup,
		Dropoff:         dropoff,
		ScheduledAt:     scheduledAt,
		RequiredVehicle: required,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	if err := c.store.SaveJob(&j); err != nil {
		return models.Job{}, err
	}
	return j, nil
}

// Job returns the current persisted state of a job.
func (c *Controller) Job(jobID string) (models.Job, error) {
	j, err := c.getJob(jobID)
	if err != nil {
		return models.Job{}, err
	}
	return *j, nil
}

// Assignment returns the current persisted state of an assignment.
func (c *Controller) Assignment(id string) (models.Assignment, error) {
	a, err := c.store.GetAssignment(id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Assignment{}, ErrAssignmentNotFound
	}
	if err != nil {
		return models.Assignment{}, err
	}
	return *a, nil
}

// AutoAssign picks the top-ranked eligible driver for a DRAFT job and
// commits the assignment, moving the job to CONFIRMED. An empty candidate
// list is recoverable: the job stays DRAFT for the next cycle.
func (c *Controller) AutoAssign(jobID string) (models.Assignment, error) {
	rules, enabled := c.snapshotConfig()
	if !enabled {
		return models.Assignment{}, ErrAutoAssignDisabled
	}

	release := c.locks.acquire(jobID)
	defer release()

	j, err := c.getJob(jobID)
	if err != nil {
		return models.Assignment{}, err
	}
	if err := c.requireAssignable(j, models.JobDraft); err != nil {
		return models.Assignment{}, err
	}

	candidates := c.registry.ListEligible(*j, rules)
	observability.EligibleDrivers.Set(float64(len(candidates)))
	if len(candidates) == 0 {
		observability.NoEligibleDriver.Inc()
		c.logger.Info("auto-assign found no eligible driver", "job_id", j.ID)
		return models.Assignment{}, ErrNoEligibleDriver
	}

	start := time.Now()
	ranked := matching.Rank(*j, candidates, rules)
	observability.RankLatency.Observe(time.Since(start).Seconds())

	// Walk the ranking: a candidate can lose eligibility between the
	// snapshot read and commit, in which case the next one is tried.
	for i, rd := range ranked {
		a, err := c.commit(j, rd.Driver.ID, rules, "", "auto")
		if err != nil {
			if errors.Is(err, ErrEligibilityViolation) || errors.Is(err, ErrUnknownCandidate) {
				c.logger.Info("auto-assign candidate skipped at commit",
					"job_id", j.ID, "driver_id", rd.Driver.ID, "rank", i, "reason", err)
				continue
			}
			return models.Assignment{}, err
		}
		c.logger.Info("auto-assign selected driver",
			"job_id", j.ID,
			"driver_id", rd.Driver.ID,
			"rank", i,
			"score", rd.Score,
			"distance_score", rd.Breakdown.Distance,
			"rating_score", rd.Breakdown.Rating,
			"experience_score", rd.Breakdown.Experience,
			"load_score", rd.Breakdown.Load,
		)
		return a, nil
	}
	observability.NoEligibleDriver.Inc()
	return models.Assignment{}, ErrNoEligibleDriver
}

// ManualAssign binds an operator-chosen driver to a DRAFT job. Ranking is
// bypassed but the hard eligibility predicate is still enforced.
func (c *Controller) ManualAssign(jobID, driverID, reason string) (models.Assignment, error) {
	if driverID == "" {
		return models.Assignment{}, fmt.Errorf("%w: driver id required", ErrValidation)
	}
	rules, _ := c.snapshotConfig()

	release := c.locks.acquire(jobID)
	defer release()

	j, err := c.getJob(jobID)
	if err != nil {
		return models.Assignment{}, err
	}
	if err := c.requireAssignable(j, models.JobDraft); err != nil {
		return models.Assignment{}, err
	}

	a, err := c.commit(j, driverID, rules, reason, "manual")
	if err != nil {
		return models.Assignment{}, err
	}
	c.logger.Info("manual assignment committed", "job_id", j.ID, "driver_id", driverID, "reason", reason)
	return a, nil
}

// Reassign moves a CONFIRMED or IN_PROGRESS job to a new driver. The old
// assignment is cancelled with its event history retained; job status is
// not reset.
func (c *Controller) Reassign(jobID, newDriverID string) (models.Assignment, error) {
	if newDriverID == "" {
		return models.Assignment{}, fmt.Errorf("%w: driver id required", ErrValidation)
	}
	rules, _ := c.snapshotConfig()

	release := c.locks.acquire(jobID)
	defer release()

	j, err := c.getJob(jobID)
	if err != nil {
		return models.Assignment{}, err
	}
	if j.Status != models.JobConfirmed && j.Status != models.JobInProgress {
		return models.Assignment{}, fmt.Errorf("%w: reassign not allowed in %s", ErrInvalidStatusTransition, j.Status)
	}
	if j.AssignmentID == "" {
		return models.Assignment{}, fmt.Errorf("%w: job has no assignment", ErrAssignmentConflict)
	}
	prev, err := c.store.GetAssignment(j.AssignmentID)
	if err != nil {
		return models.Assignment{}, err
	}
	if prev.DriverID == newDriverID {
		return models.Assignment{}, fmt.Errorf("%w: job already assigned to driver %s", ErrValidation, newDriverID)
	}

	// reserve the new driver before releasing the old one, so the job is
	// never observably unassigned
	if err := c.reserve(newDriverID, *j, rules); err != nil {
		return models.Assignment{}, err
	}

	ts := c.now()
	prev.Status = models.AssignmentCancelled
	prev.Events = append(prev.Events, models.AssignmentEvent{Step: models.StepAssigned, Note: "reassigned to " + newDriverID, At: ts})
	if err := c.store.UpdateAssignment(prev); err != nil {
		c.registry.Release(newDriverID)
		return models.Assignment{}, err
	}
	c.registry.Release(prev.DriverID)

	next := models.Assignment{
		ID:        uuid.NewString(),
		JobID:     j.ID,
		DriverID:  newDriverID,
		Status:    models.AssignmentPending,
		ClaimedAt: ts,
		Events:    []models.AssignmentEvent{{Step: models.StepAssigned, Note: "reassignment", At: ts}},
	}
	if err := c.store.SaveAssignment(&next); err != nil {
		c.registry.Release(newDriverID)
		return models.Assignment{}, err
	}
	j.AssignmentID = next.ID
	j.UpdatedAt = ts
	if err := c.store.UpdateJob(j); err != nil {
		return models.Assignment{}, err
	}

	observability.AssignmentsTotal.WithLabelValues("reassign").Inc()
	c.publish(events.Event{Type: events.AssignmentCancelled, JobID: j.ID, AssignmentID: prev.ID, DriverID: prev.DriverID, At: ts})
	c.publish(events.Event{Type: events.AssignmentCreated, JobID: j.ID, AssignmentID: next.ID, DriverID: newDriverID, At: ts})
	c.offer(j, next)
	c.logger.Info("job reassigned", "job_id", j.ID, "from_driver", prev.DriverID, "to_driver", newDriverID)
	return next, nil
}

// RecordProgressEvent appends a driver-app step to the assignment. Steps in
// progressTransitions also drive the job's status; an out-of-order step is
// rejected with state unchanged.
func (c *Controller) RecordProgressEvent(assignmentID string, step models.ProgressStep, note string) (models.Assignment, error) {
	if !step.IsValid() {
		return models.Assignment{}, fmt.Errorf("%w: unknown step %q", ErrValidation, step)
	}

	a, err := c.store.GetAssignment(assignmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Assignment{}, ErrAssignmentNotFound
	}
	if err != nil {
		return models.Assignment{}, err
	}

	release := c.locks.acquire(a.JobID)
	defer release()

	// re-read under the job lock; a concurrent reassign may have
	// cancelled this assignment
	a, err = c.store.GetAssignment(assignmentID)
	if err != nil {
		return models.Assignment{}, err
	}
	if a.Status.Terminal() {
		return models.Assignment{}, fmt.Errorf("%w: assignment is %s", ErrInvalidStatusTransition, a.Status)
	}

	j, err := c.getJob(a.JobID)
	if err != nil {
		return models.Assignment{}, err
	}

	ts := c.now()
	if target, ok := progressTransitions[step]; ok {
		from := j.Status
		if err := transition(j, target, ts); err != nil {
			return models.Assignment{}, err
		}
		switch step {
		case models.StepAccepted:
			a.Status = models.AssignmentAccepted
		case models.StepPickedUp:
			a.Status = models.AssignmentActive
		case models.StepCompleted:
			a.Status = models.AssignmentCompleted
		}
		a.Events = append(a.Events, models.AssignmentEvent{Step: step, Note: note, At: ts})
		if err := c.store.UpdateAssignment(a); err != nil {
			return models.Assignment{}, err
		}
		if err := c.store.UpdateJob(j); err != nil {
			return models.Assignment{}, err
		}
		if step == models.StepCompleted {
			c.registry.Complete(a.DriverID)
		}
		c.publish(events.Event{Type: events.JobStatusChanged, JobID: j.ID, AssignmentID: a.ID, DriverID: a.DriverID, From: string(from), To: string(j.Status), At: ts})
	} else {
		a.Events = append(a.Events, models.AssignmentEvent{Step: step, Note: note, At: ts})
		if err := c.store.UpdateAssignment(a); err != nil {
			return models.Assignment{}, err
		}
	}

	c.logger.Info("progress event recorded", "assignment_id", a.ID, "job_id", j.ID, "step", string(step))
	return *a, nil
}

// CancelJob moves a job to CANCELLED from any non-terminal state, cancels
// its open assignment, and returns the driver's workload slot.
func (c *Controller) CancelJob(jobID, reason string) (models.Job, error) {
	release := c.locks.acquire(jobID)
	defer release()

	j, err := c.getJob(jobID)
	if err != nil {
		return models.Job{}, err
	}
	from := j.Status
	ts := c.now()
	if err := transition(j, models.JobCancelled, ts); err != nil {
		return models.Job{}, err
	}

	if j.AssignmentID != "" {
		a, err := c.store.GetAssignment(j.AssignmentID)
		if err != nil {
			return models.Job{}, err
		}
		if !a.Status.Terminal() {
			a.Status = models.AssignmentCancelled
			a.Events = append(a.Events, models.AssignmentEvent{Step: models.StepAssigned, Note: "job cancelled: " + reason, At: ts})
			if err := c.store.UpdateAssignment(a); err != nil {
				return models.Job{}, err
			}
			c.registry.Release(a.DriverID)
			c.publish(events.Event{Type: events.AssignmentCancelled, JobID: j.ID, AssignmentID: a.ID, DriverID: a.DriverID, At: ts})
		}
	}

	if err := c.store.UpdateJob(j); err != nil {
		return models.Job{}, err
	}
	c.publish(events.Event{Type: events.JobStatusChanged, JobID: j.ID, From: string(from), To: string(models.JobCancelled), At: ts})
	c.logger.Info("job cancelled", "job_id", j.ID, "from", string(from), "reason", reason)
	return *j, nil
}

// ToggleAutoAssign flips the process-wide flag and returns the new value.
// Takes effect on the next dispatch cycle, not retroactively.
func (c *Controller) ToggleAutoAssign(enabled bool) bool {
	c.cfgMu.Lock()
	c.enabled = enabled
	c.cfgMu.Unlock()
	c.logger.Info("auto-assign toggled", "enabled", enabled)
	return enabled
}

func (c *Controller) AutoAssignEnabled() bool {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.enabled
}

// UpdateRules validates and swaps the matching configuration.
func (c *Controller) UpdateRules(rules models.AutoAssignRules) (models.AutoAssignRules, error) {
	if err := rules.Validate(); err != nil {
		return models.AutoAssignRules{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	c.cfgMu.Lock()
	c.rules = rules
	c.cfgMu.Unlock()
	c.logger.Info("auto-assign rules updated",
		"radius_m", rules.RadiusMeters, "min_rating", rules.MinRating, "max_jobs", rules.MaxJobs)
	return rules, nil
}

func (c *Controller) Rules() models.AutoAssignRules {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.rules
}

func (c *Controller) snapshotConfig() (models.AutoAssignRules, bool) {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.rules, c.enabled
}

func (c *Controller) getJob(jobID string) (*models.Job, error) {
	j, err := c.store.GetJob(jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return j, err
}

// requireAssignable enforces the at-most-one-active-assignment invariant
// for operations that create a first assignment.
func (c *Controller) requireAssignable(j *models.Job, want models.JobStatus) error {
	if j.Status == want && j.AssignmentID == "" {
		return nil
	}
	if j.AssignmentID != "" {
		observability.AssignmentConflicts.Inc()
		return fmt.Errorf("%w: job already has assignment %s", ErrAssignmentConflict, j.AssignmentID)
	}
	return fmt.Errorf("%w: job is %s, needs %s", ErrInvalidStatusTransition, j.Status, want)
}

// ErrUnknownCandidate distinguishes a vanished driver from a hard
// eligibility failure during commit.
var ErrUnknownCandidate = errors.New("driver not in registry")

// reserve re-validates the driver against the current registry snapshot and
// claims a workload slot in one step under the registry lock.
func (c *Controller) reserve(driverID string, j models.Job, rules models.AutoAssignRules) error {
	err := c.registry.Reserve(driverID, func(d models.Driver) error {
		return c.registry.CheckEligible(d, j, rules)
	})
	if err == nil {
		return nil
	}
	if _, ok := c.registry.Driver(driverID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCandidate, driverID)
	}
	return fmt.Errorf("%w: %v", ErrEligibilityViolation, err)
}

// commit atomically creates the assignment and confirms the job. The caller
// must hold the job lock and have verified requireAssignable.
func (c *Controller) commit(j *models.Job, driverID string, rules models.AutoAssignRules, note, mode string) (models.Assignment, error) {
	if err := c.reserve(driverID, *j, rules); err != nil {
		return models.Assignment{}, err
	}

	ts := c.now()
	a := models.Assignment{
		ID:        uuid.NewString(),
		JobID:     j.ID,
		DriverID:  driverID,
		Status:    models.AssignmentPending,
		ClaimedAt: ts,
		Events:    []models.AssignmentEvent{{Step: models.StepAssigned, Note: note, At: ts}},
	}
	if err := c.store.SaveAssignment(&a); err != nil {
		c.registry.Release(driverID)
		return models.Assignment{}, err
	}

	from := j.Status
	if err := transition(j, models.JobConfirmed, ts); err != nil {
		c.registry.Release(driverID)
		return models.Assignment{}, err
	}
	j.AssignmentID = a.ID
	if err := c.store.UpdateJob(j); err != nil {
		c.registry.Release(driverID)
		return models.Assignment{}, err
	}

	observability.AssignmentsTotal.WithLabelValues(mode).Inc()
	c.publish(events.Event{Type: events.AssignmentCreated, JobID: j.ID, AssignmentID: a.ID, DriverID: driverID, At: ts})
	c.publish(events.Event{Type: events.JobStatusChanged, JobID: j.ID, From: string(from), To: string(j.Status), At: ts})
	c.offer(j, a)
	return a, nil
}

func (c *Controller) publish(ev events.Event) {
	if err := c.events.Publish(ev); err != nil {
		c.logger.Warn("event publish failed", "type", string(ev.Type), "job_id", ev.JobID, "error", err)
	}
}

func (c *Controller) offer(j *models.Job, a models.Assignment) {
	if c.notifier == nil {
		return
	}
	_ = c.notifier.Notify(a.DriverID, notify.Offer{
		AssignmentID: a.ID,
		JobID:        j.ID,
		Status:       a.Status,
		Pickup:       j.Pickup,
		Dropoff:      j.Dropoff,
	})
}
