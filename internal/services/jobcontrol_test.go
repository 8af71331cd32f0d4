package services

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"bricksmith/internal/jobs"
	"bricksmith/internal/model"
	"bricksmith/internal/store"
)

type fakeControlStore struct {
	jobs map[uuid.UUID]model.Job
	err  error
}

func newFakeControlStore(js ...model.Job) *fakeControlStore {
	st := &fakeControlStore{jobs: make(map[uuid.UUID]model.Job)}
	for _, j := range js {
		st.jobs[j.ID] = j
	}
	return st
}

func (st *fakeControlStore) GetJobByID(_ context.Context, id uuid.UUID) (model.Job, error) {
	if st.err != nil {
		return model.Job{}, st.err
	}
	j, ok := st.jobs[id]
	if !ok {
		return model.Job{}, sql.ErrNoRows
	}
	return j, nil
}

func (st *fakeControlStore) ListJobs(_ context.Context, f store.JobListFilter) ([]model.Job, error) {
	if st.err != nil {
		return nil, st.err
	}
	var out []model.Job
	for _, j := range st.jobs {
		if f.OwnerID != "" && j.OwnerID != f.OwnerID {
			continue
		}
		if f.Status != "" && string(j.Status) != f.Status {
			continue
		}
		if j.Deleted && !f.IncludeDeleted {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (st *fakeControlStore) ListStaleQueuedJobs(_ context.Context, cutoff time.Time, _ int32) ([]model.Job, error) {
	var out []model.Job
	for _, j := range st.jobs {
		if j.Status == model.StatusQueued && j.StageUpdatedAt.Before(cutoff) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (st *fakeControlStore) CompareAndUpdateJob(_ context.Context, id uuid.UUID, fn func(model.Job) (model.Job, bool)) (model.Job, bool, error) {
	if st.err != nil {
		return model.Job{}, false, st.err
	}
	cur, ok := st.jobs[id]
	if !ok {
		return model.Job{}, false, sql.ErrNoRows
	}
	next, commit := fn(cur)
	if !commit {
		return cur, false, nil
	}
	st.jobs[id] = next
	return next, true, nil
}

type fakePublisher struct {
	published []uuid.UUID
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, job model.Job) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, job.ID)
	return nil
}

func testControl(st ControlStore, pub Publisher) *JobControlService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewJobControlService(st, pub, logger)
}

func controlJob(status model.Status, stage model.Stage) model.Job {
	now := time.Now().UTC().Add(-time.Minute)
	return model.Job{
		ID:             uuid.New(),
		OwnerID:        "owner-1",
		Status:         status,
		Stage:          stage,
		SourceImageURL: "https://example.com/cat.jpg",
		StageUpdatedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestReportStage_PromotesAndRecords(t *testing.T) {
	job := controlJob(model.StatusQueued, model.StagePreview)
	st := newFakeControlStore(job)
	svc := testControl(st, &fakePublisher{})

	got, err := svc.ReportStage(context.Background(), job.ID, "MODEL")
	if err != nil {
		t.Fatalf("ReportStage: %v", err)
	}
	if got.Status != model.StatusRunning || got.Stage != model.StageModel {
		t.Fatalf("got status=%s stage=%s", got.Status, got.Stage)
	}
}

func TestReportStage_UnknownStageRejected(t *testing.T) {
	job := controlJob(model.StatusRunning, model.StagePreview)
	st := newFakeControlStore(job)
	svc := testControl(st, &fakePublisher{})

	if _, err := svc.ReportStage(context.Background(), job.ID, "POLISH"); err == nil {
		t.Fatal("unknown stage accepted")
	}
	if st.jobs[job.ID].Stage != model.StagePreview {
		t.Fatal("job mutated by rejected report")
	}
}

func TestReportStage_TerminalSucceedsWithoutWrite(t *testing.T) {
	job := controlJob(model.StatusCanceled, model.StageModel)
	st := newFakeControlStore(job)
	svc := testControl(st, &fakePublisher{})

	got, err := svc.ReportStage(context.Background(), job.ID, "BLUEPRINT")
	if err != nil {
		t.Fatalf("ReportStage on terminal job: %v", err)
	}
	if got.Status != model.StatusCanceled || got.Stage != model.StageModel {
		t.Fatalf("terminal job mutated: %+v", got)
	}
}

func TestCancel_DefaultNote(t *testing.T) {
	job := controlJob(model.StatusRunning, model.StageModel)
	st := newFakeControlStore(job)
	svc := testControl(st, &fakePublisher{})

	got, err := svc.Cancel(context.Background(), job.ID, "")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != model.StatusCanceled {
		t.Fatalf("status = %s", got.Status)
	}
	if got.ErrorMessage != "canceled by user" {
		t.Fatalf("note = %q", got.ErrorMessage)
	}
}

func TestCancel_ConflictOnTerminal(t *testing.T) {
	job := controlJob(model.StatusDone, model.StageDone)
	st := newFakeControlStore(job)
	svc := testControl(st, &fakePublisher{})

	_, err := svc.Cancel(context.Background(), job.ID, "")
	var terr *jobs.TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if st.jobs[job.ID].Status != model.StatusDone {
		t.Fatal("done job mutated by cancel")
	}
}

func TestRetry_RepublishesRequest(t *testing.T) {
	job := controlJob(model.StatusFailed, model.StageModel)
	st := newFakeControlStore(job)
	pub := &fakePublisher{}
	svc := testControl(st, pub)

	got, err := svc.Retry(context.Background(), job.ID, "")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got.Status != model.StatusQueued || got.Stage != model.StageModel {
		t.Fatalf("got status=%s stage=%s", got.Status, got.Stage)
	}
	if len(pub.published) != 1 || pub.published[0] != job.ID {
		t.Fatalf("published = %v", pub.published)
	}
}

func TestRetry_FromStage(t *testing.T) {
	job := controlJob(model.StatusCanceled, model.StageBlueprint)
	st := newFakeControlStore(job)
	svc := testControl(st, &fakePublisher{})

	got, err := svc.Retry(context.Background(), job.ID, "PREVIEW")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got.Stage != model.StagePreview {
		t.Fatalf("stage = %s", got.Stage)
	}
	if got.RequestedFromStage == nil || *got.RequestedFromStage != model.StagePreview {
		t.Fatalf("requestedFromStage = %v", got.RequestedFromStage)
	}
}

func TestRetry_InvalidFromStage(t *testing.T) {
	job := controlJob(model.StatusFailed, model.StageModel)
	st := newFakeControlStore(job)
	svc := testControl(st, &fakePublisher{})

	if _, err := svc.Retry(context.Background(), job.ID, "SANDING"); err == nil {
		t.Fatal("invalid fromStage accepted")
	}
	if st.jobs[job.ID].Status != model.StatusFailed {
		t.Fatal("job mutated by rejected retry")
	}
}

func TestRetry_PublishFailureKeepsJobQueued(t *testing.T) {
	job := controlJob(model.StatusFailed, model.StageModel)
	st := newFakeControlStore(job)
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := testControl(st, pub)

	got, err := svc.Retry(context.Background(), job.ID, "")
	if err == nil {
		t.Fatal("expected publish error")
	}
	// Transition committed; only the dispatch is missing.
	if got.Status != model.StatusQueued {
		t.Fatalf("status = %s", got.Status)
	}
	if st.jobs[job.ID].Status != model.StatusQueued {
		t.Fatalf("stored status = %s", st.jobs[job.ID].Status)
	}
}

func TestRetry_ConflictOnRunning(t *testing.T) {
	job := controlJob(model.StatusRunning, model.StageModel)
	st := newFakeControlStore(job)
	pub := &fakePublisher{}
	svc := testControl(st, pub)

	_, err := svc.Retry(context.Background(), job.ID, "")
	var terr *jobs.TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if len(pub.published) != 0 {
		t.Fatal("rejected retry still published")
	}
}

func TestListStale_OnlyOldQueuedJobs(t *testing.T) {
	stale := controlJob(model.StatusQueued, model.StagePreview)
	stale.StageUpdatedAt = time.Now().UTC().Add(-time.Hour)
	fresh := controlJob(model.StatusQueued, model.StagePreview)
	fresh.StageUpdatedAt = time.Now().UTC()
	running := controlJob(model.StatusRunning, model.StageModel)
	running.StageUpdatedAt = time.Now().UTC().Add(-time.Hour)

	st := newFakeControlStore(stale, fresh, running)
	svc := testControl(st, &fakePublisher{})

	got, err := svc.ListStale(context.Background(), time.Now().UTC().Add(-30*time.Minute), 100)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Fatalf("stale = %v", got)
	}
}

func TestSetDeleted_Idempotent(t *testing.T) {
	job := controlJob(model.StatusDone, model.StageDone)
	st := newFakeControlStore(job)
	svc := testControl(st, &fakePublisher{})

	got, err := svc.SetDeleted(context.Background(), job.ID, true)
	if err != nil {
		t.Fatalf("SetDeleted: %v", err)
	}
	if !got.Deleted {
		t.Fatal("job not marked deleted")
	}

	// Second call is a no-op, not an error.
	if _, err := svc.SetDeleted(context.Background(), job.ID, true); err != nil {
		t.Fatalf("repeat SetDeleted: %v", err)
	}
}

func TestAgeToLevel(t *testing.T) {
	cases := map[string]string{
		"3-5":  "LEVEL_1",
		"6-7":  "LEVEL_2",
		"8-10": "LEVEL_3",
		"PRO":  "PRO",
		"":     "LEVEL_1",
		"99":   "LEVEL_1",
	}
	for age, want := range cases {
		if got := ageToLevel(age); got != want {
			t.Errorf("ageToLevel(%q) = %s, want %s", age, got, want)
		}
	}
}
