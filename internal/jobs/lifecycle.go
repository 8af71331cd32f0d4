package jobs

import (
	"fmt"
	"time"

	"bricksmith/internal/model"
)

// TransitionError reports an illegal state-machine transition. Handlers
// surface it as a conflict so clients can render the job's actual state.
type TransitionError struct {
	Event  string
	Status model.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s not allowed in status=%s", e.Event, e.Status)
}

// IsTerminal reports whether a status can no longer change except via
// retry. DONE is permanently terminal; FAILED and CANCELED can be retried.
func IsTerminal(s model.Status) bool {
	switch s {
	case model.StatusDone, model.StatusFailed, model.StatusCanceled:
		return true
	}
	return false
}

// CanCancel reports whether cancel is a legal transition.
func CanCancel(j model.Job) bool {
	return j.Status == model.StatusQueued || j.Status == model.StatusRunning
}

// CanRetry reports whether retry is a legal transition. DONE is excluded
// so a finished result is never overwritten and cost accounting stays
// intact.
func CanRetry(j model.Job) bool {
	return j.Status == model.StatusFailed || j.Status == model.StatusCanceled
}

// ReportStage applies a worker progress report to a job snapshot. A QUEUED
// job is promoted to RUNNING; a RUNNING job only moves its stage. Reports
// against a terminal job return ok=false: a superseded attempt must never
// resurrect a canceled or completed job, and the caller treats that as a
// no-op rather than an error.
func ReportStage(j model.Job, stage model.Stage, now time.Time) (model.Job, bool) {
	if IsTerminal(j.Status) {
		return j, false
	}
	if j.Status == model.StatusQueued {
		j.Status = model.StatusRunning
		j.ErrorMessage = ""
		j.RequestedFromStage = nil
	}
	j.Stage = stage
	j.StageUpdatedAt = now
	j.UpdatedAt = now
	return j, true
}

// Complete marks a job DONE with the worker's outputs. Legal only while
// the job is still QUEUED or RUNNING; a concurrently canceled job keeps
// its CANCELED state and the result is discarded.
func Complete(j model.Job, refs map[string]string, tags []string, usage *model.Usage, now time.Time) (model.Job, error) {
	if IsTerminal(j.Status) {
		return j, &TransitionError{Event: "Complete", Status: j.Status}
	}
	j.Status = model.StatusDone
	j.Stage = model.StageDone
	j.ResultRefs = refs
	if len(tags) > 0 {
		j.SuggestedTags = tags
	}
	if usage != nil {
		j.Usage = usage
	}
	j.ErrorMessage = ""
	j.RequestedFromStage = nil
	j.StageUpdatedAt = now
	j.UpdatedAt = now
	return j, nil
}

// Fail marks a job FAILED with the worker-reported message. The stage is
// left where the attempt died so a retry can resume from it.
func Fail(j model.Job, message string, now time.Time) (model.Job, error) {
	if IsTerminal(j.Status) {
		return j, &TransitionError{Event: "Fail", Status: j.Status}
	}
	j.Status = model.StatusFailed
	j.ErrorMessage = message
	j.StageUpdatedAt = now
	j.UpdatedAt = now
	return j, nil
}

// Cancel marks a QUEUED or RUNNING job CANCELED. The external worker is
// not signaled; cancellation only guarantees the eventual result will be
// discarded when it arrives.
func Cancel(j model.Job, note string, now time.Time) (model.Job, error) {
	if !CanCancel(j) {
		return j, &TransitionError{Event: "Cancel", Status: j.Status}
	}
	j.Status = model.StatusCanceled
	j.ErrorMessage = note
	j.StageUpdatedAt = now
	j.UpdatedAt = now
	return j, nil
}

// Retry resets a FAILED or CANCELED job back to QUEUED. The stage resets
// to fromStage when given, otherwise to the job's last recorded stage, and
// the choice is recorded in RequestedFromStage for the worker. The row is
// reused so created-at history survives; re-publishing the request message
// is the caller's responsibility.
func Retry(j model.Job, fromStage *model.Stage, now time.Time) (model.Job, error) {
	if !CanRetry(j) {
		return j, &TransitionError{Event: "Retry", Status: j.Status}
	}
	from := j.Stage
	if fromStage != nil {
		from = *fromStage
	}
	if from == model.StageDone {
		// A retried attempt always has work left; DONE is not a
		// resumable stage.
		from = model.StageBlueprint
	}
	j.Status = model.StatusQueued
	j.Stage = from
	j.RequestedFromStage = &from
	j.ErrorMessage = ""
	j.StageUpdatedAt = now
	j.UpdatedAt = now
	return j, nil
}
