package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bricksmith/internal/jobs"
	"bricksmith/internal/metrics"
	"bricksmith/internal/model"
	"bricksmith/internal/store"
)

// Publisher re-dispatches the request message for a retried job.
// *GenerateService satisfies it; tests use a fake.
type Publisher interface {
	Publish(ctx context.Context, job model.Job) error
}

// ControlStore is the slice of the store the controller needs.
type ControlStore interface {
	GetJobByID(ctx context.Context, id uuid.UUID) (model.Job, error)
	ListJobs(ctx context.Context, f store.JobListFilter) ([]model.Job, error)
	ListStaleQueuedJobs(ctx context.Context, cutoff time.Time, limit int32) ([]model.Job, error)
	CompareAndUpdateJob(ctx context.Context, id uuid.UUID, fn func(model.Job) (model.Job, bool)) (model.Job, bool, error)
}

// JobControlService validates and performs the state transitions users,
// admins, and the worker's stage reports may request. All writes go
// through the store's conditional update so a cancel racing the result
// consumer resolves deterministically.
type JobControlService struct {
	store     ControlStore
	publisher Publisher
	logger    *slog.Logger
}

// NewJobControlService constructs a JobControlService.
func NewJobControlService(st ControlStore, pub Publisher, logger *slog.Logger) *JobControlService {
	return &JobControlService{store: st, publisher: pub, logger: logger}
}

// Get returns one job.
func (s *JobControlService) Get(ctx context.Context, id uuid.UUID) (model.Job, error) {
	return s.store.GetJobByID(ctx, id)
}

// List returns jobs matching the filter.
func (s *JobControlService) List(ctx context.Context, f store.JobListFilter) ([]model.Job, error) {
	return s.store.ListJobs(ctx, f)
}

// ListStale returns QUEUED jobs with no stage movement since cutoff.
func (s *JobControlService) ListStale(ctx context.Context, cutoff time.Time, limit int32) ([]model.Job, error) {
	return s.store.ListStaleQueuedJobs(ctx, cutoff, limit)
}

// ReportStage applies a worker progress report. Terminal jobs are left
// untouched and the call still succeeds: a late report from a superseded
// attempt is expected noise, not an error. The stage name must be known.
func (s *JobControlService) ReportStage(ctx context.Context, id uuid.UUID, stageName string) (model.Job, error) {
	stage, err := model.ParseStage(stageName)
	if err != nil {
		return model.Job{}, err
	}

	now := time.Now().UTC()
	job, applied, err := s.store.CompareAndUpdateJob(ctx, id, func(cur model.Job) (model.Job, bool) {
		return jobs.ReportStage(cur, stage, now)
	})
	if err != nil {
		return model.Job{}, err
	}

	metrics.RecordStageReport(string(stage))
	if !applied {
		s.logger.Info("stage report ignored, job is terminal", "jobId", id, "stage", stage, "status", job.Status)
		return job, nil
	}
	s.logger.Info("stage updated", "jobId", id, "stage", stage, "status", job.Status)
	return job, nil
}

// Cancel moves a QUEUED or RUNNING job to CANCELED. The worker keeps
// running; the recorded state just guarantees its eventual result will be
// discarded. Returns *jobs.TransitionError when the current status forbids
// it.
func (s *JobControlService) Cancel(ctx context.Context, id uuid.UUID, note string) (model.Job, error) {
	if note == "" {
		note = "canceled by user"
	}

	now := time.Now().UTC()
	var terr error
	job, applied, err := s.store.CompareAndUpdateJob(ctx, id, func(cur model.Job) (model.Job, bool) {
		next, e := jobs.Cancel(cur, note, now)
		if e != nil {
			terr = e
			return cur, false
		}
		return next, true
	})
	if err != nil {
		return model.Job{}, err
	}
	metrics.RecordTransition("cancel", applied)
	if !applied {
		return job, terr
	}
	s.logger.Info("job canceled", "jobId", id, "note", note)
	return job, nil
}

// Retry resets a FAILED or CANCELED job to QUEUED, optionally from a
// specific stage, and re-publishes its request message. The existing row
// is reused so creation history survives. Returns *jobs.TransitionError
// when the current status forbids it.
func (s *JobControlService) Retry(ctx context.Context, id uuid.UUID, fromStageName string) (model.Job, error) {
	var fromStage *model.Stage
	if fromStageName != "" {
		st, err := model.ParseStage(fromStageName)
		if err != nil {
			return model.Job{}, err
		}
		fromStage = &st
	}

	now := time.Now().UTC()
	var terr error
	job, applied, err := s.store.CompareAndUpdateJob(ctx, id, func(cur model.Job) (model.Job, bool) {
		next, e := jobs.Retry(cur, fromStage, now)
		if e != nil {
			terr = e
			return cur, false
		}
		return next, true
	})
	if err != nil {
		return model.Job{}, err
	}
	metrics.RecordTransition("retry", applied)
	if !applied {
		return job, terr
	}

	s.logger.Info("job reset for retry", "jobId", id, "stage", job.Stage)
	if err := s.publisher.Publish(ctx, job); err != nil {
		// Same gap as the first dispatch: the job is QUEUED with no
		// in-flight message and the stale sweep will surface it.
		return job, err
	}
	return job, nil
}

// SetDeleted flips the administrative soft-delete flag. Not a lifecycle
// transition; routed through the conditional update anyway so it cannot
// clobber a concurrent one.
func (s *JobControlService) SetDeleted(ctx context.Context, id uuid.UUID, deleted bool) (model.Job, error) {
	now := time.Now().UTC()
	job, _, err := s.store.CompareAndUpdateJob(ctx, id, func(cur model.Job) (model.Job, bool) {
		if cur.Deleted == deleted {
			return cur, false
		}
		cur.Deleted = deleted
		cur.UpdatedAt = now
		return cur, true
	})
	return job, err
}
