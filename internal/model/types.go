package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the coarse lifecycle state of a generation job. These values
// are stored as text in the database (jobs.status) and appear verbatim in
// API responses, so they must not change casually.
type Status string

const (
	StatusQueued   Status = "QUEUED"
	StatusRunning  Status = "RUNNING"
	StatusDone     Status = "DONE"
	StatusFailed   Status = "FAILED"
	StatusCanceled Status = "CANCELED"
)

// Stage is the fine-grained progress marker within the QUEUED/RUNNING
// portion of a job's life. The external worker reports these as it moves
// through the pipeline.
type Stage string

const (
	StagePreview   Stage = "PREVIEW"
	StageModel     Stage = "MODEL"
	StageBlueprint Stage = "BLUEPRINT"
	StageDone      Stage = "DONE"
)

// ParseStage validates a stage name reported by the worker. Unknown names
// are rejected so that protocol drift between this service and the worker
// never corrupts job state.
func ParseStage(name string) (Stage, error) {
	switch Stage(name) {
	case StagePreview, StageModel, StageBlueprint, StageDone:
		return Stage(name), nil
	}
	return "", fmt.Errorf("unknown stage %q", name)
}

// ParseStatus validates a status filter value from the API.
func ParseStatus(name string) (Status, error) {
	switch Status(name) {
	case StatusQueued, StatusRunning, StatusDone, StatusFailed, StatusCanceled:
		return Status(name), nil
	}
	return "", fmt.Errorf("unknown status %q", name)
}

// Usage captures the worker-reported cost of a finished attempt.
type Usage struct {
	Tokens  int     `json:"tokens"`
	EstCost float64 `json:"estCost"`
}

// Job is one photo→brick-model generation request with a tracked
// lifecycle. The row is never physically deleted; cancellation and failure
// are states, and the admin soft-delete flag only hides it from listings.
type Job struct {
	ID      uuid.UUID
	OwnerID string

	Status Status
	Stage  Stage

	// RequestedFromStage records the stage a retry asked to resume from.
	// It is informational for the worker; cleared when a new attempt ends.
	RequestedFromStage *Stage

	// Request parameters forwarded to the worker.
	Level          string
	SourceImageURL string
	Title          string
	Language       string
	Budget         int

	// ResultRefs holds named output pointers (preview image, 3-D model,
	// instructions, ...) populated only on successful completion.
	ResultRefs    map[string]string
	SuggestedTags []string
	Usage         *Usage

	// ErrorMessage is set while FAILED (or holds the cancellation note
	// while CANCELED) and cleared on any transition out of those states.
	ErrorMessage string

	// Administrative flags; they do not participate in the state machine.
	Deleted  bool
	Reported bool

	StageUpdatedAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
