package dispatch

import (
	"fmt"
	"time"

	"github.com/example/fleet-dispatch/internal/models"
)

// allowedTransitions is the fixed adjacency table for the job lifecycle.
// CANCELLED is reachable from every non-terminal state; COMPLETED and
// CANCELLED are terminal.
var allowedTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobDraft:      {models.JobConfirmed, models.JobCancelled},
	models.JobConfirmed:  {models.JobInProgress, models.JobCancelled},
	models.JobInProgress: {models.JobPickedUp, models.JobCancelled},
	models.JobPickedUp:   {models.JobInTransit, models.JobCancelled},
	models.JobInTransit:  {models.JobCompleted, models.JobCancelled},
	models.JobCompleted:  {},
	models.JobCancelled:  {},
}

// CanTransition reports whether from -> to is an allowed job transition.
func CanTransition(from, to models.JobStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition applies a status change to the job in place, or returns
// ErrInvalidStatusTransition leaving the job untouched.
func transition(j *models.Job, to models.JobStatus, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = now
	return nil
}

// progressTransitions maps recognized driver-app steps to the job status
// they drive. Steps absent here (en_route, arrived) are note-only.
var progressTransitions = map[models.ProgressStep]models.JobStatus{
	models.StepAccepted:  models.JobInProgress,
	models.StepPickedUp:  models.JobPickedUp,
	models.StepInTransit: models.JobInTransit,
	models.StepCompleted: models.JobCompleted,
}
