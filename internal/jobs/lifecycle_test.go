package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"bricksmith/internal/model"
)

func newJob(status model.Status, stage model.Stage) model.Job {
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

func TestReportStage_PromotesQueuedToRunning(t *testing.T) {
	j := newJob(model.StatusQueued, model.StagePreview)
	j.ErrorMessage = "previous failure"
	from := model.StageModel
	j.RequestedFromStage = &from

	now := time.Now().UTC()
	got, ok := ReportStage(j, model.StageModel, now)
	if !ok {
		t.Fatal("expected report to apply")
	}
	if got.Status != model.StatusRunning {
		t.Fatalf("status = %s, want RUNNING", got.Status)
	}
	if got.Stage != model.StageModel {
		t.Fatalf("stage = %s, want MODEL", got.Stage)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("error message not cleared: %q", got.ErrorMessage)
	}
	if got.RequestedFromStage != nil {
		t.Fatal("requestedFromStage not cleared")
	}
	if !got.StageUpdatedAt.Equal(now) {
		t.Fatalf("stageUpdatedAt = %v, want %v", got.StageUpdatedAt, now)
	}
}

func TestReportStage_MovesStageWhileRunning(t *testing.T) {
	j := newJob(model.StatusRunning, model.StagePreview)

	got, ok := ReportStage(j, model.StageBlueprint, time.Now().UTC())
	if !ok {
		t.Fatal("expected report to apply")
	}
	if got.Status != model.StatusRunning || got.Stage != model.StageBlueprint {
		t.Fatalf("got status=%s stage=%s", got.Status, got.Stage)
	}
}

func TestReportStage_TerminalIsNoOp(t *testing.T) {
	for _, status := range []model.Status{model.StatusDone, model.StatusFailed, model.StatusCanceled} {
		j := newJob(status, model.StageModel)
		got, ok := ReportStage(j, model.StageBlueprint, time.Now().UTC())
		if ok {
			t.Fatalf("report applied against %s", status)
		}
		if got.Status != status || got.Stage != model.StageModel {
			t.Fatalf("terminal job mutated: status=%s stage=%s", got.Status, got.Stage)
		}
	}
}

func TestComplete_SetsOutputsAndClearsError(t *testing.T) {
	j := newJob(model.StatusRunning, model.StageBlueprint)
	j.ErrorMessage = "flaky"

	now := time.Now().UTC()
	refs := map[string]string{"preview": "s3://p", "blueprint": "s3://b"}
	usage := &model.Usage{Tokens: 1200, EstCost: 0.42}
	got, err := Complete(j, refs, []string{"cat", "animal"}, usage, now)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Status != model.StatusDone || got.Stage != model.StageDone {
		t.Fatalf("got status=%s stage=%s", got.Status, got.Stage)
	}
	if got.ResultRefs["blueprint"] != "s3://b" {
		t.Fatalf("resultRefs = %v", got.ResultRefs)
	}
	if len(got.SuggestedTags) != 2 {
		t.Fatalf("suggestedTags = %v", got.SuggestedTags)
	}
	if got.Usage == nil || got.Usage.Tokens != 1200 {
		t.Fatalf("usage = %v", got.Usage)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("error message not cleared: %q", got.ErrorMessage)
	}
}

func TestComplete_RefusedOnTerminal(t *testing.T) {
	j := newJob(model.StatusCanceled, model.StageModel)

	got, err := Complete(j, map[string]string{"model": "s3://m"}, nil, nil, time.Now().UTC())
	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if got.Status != model.StatusCanceled {
		t.Fatalf("canceled job overwritten to %s", got.Status)
	}
}

func TestFail_KeepsStage(t *testing.T) {
	j := newJob(model.StatusRunning, model.StageModel)

	got, err := Fail(j, "render crashed", time.Now().UTC())
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Stage != model.StageModel {
		t.Fatalf("stage moved to %s, want MODEL kept for retry", got.Stage)
	}
	if got.ErrorMessage != "render crashed" {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestCancel_LegalStatuses(t *testing.T) {
	cases := []struct {
		status model.Status
		wantOK bool
	}{
		{model.StatusQueued, true},
		{model.StatusRunning, true},
		{model.StatusDone, false},
		{model.StatusFailed, false},
		{model.StatusCanceled, false},
	}
	for _, tc := range cases {
		j := newJob(tc.status, model.StagePreview)
		got, err := Cancel(j, "user changed their mind", time.Now().UTC())
		if tc.wantOK {
			if err != nil {
				t.Fatalf("Cancel from %s: %v", tc.status, err)
			}
			if got.Status != model.StatusCanceled {
				t.Fatalf("status = %s", got.Status)
			}
			continue
		}
		var terr *TransitionError
		if !errors.As(err, &terr) {
			t.Fatalf("Cancel from %s: expected TransitionError, got %v", tc.status, err)
		}
		if got.Status != tc.status {
			t.Fatalf("status mutated from %s to %s", tc.status, got.Status)
		}
	}
}

func TestRetry_ResumesFromLastStage(t *testing.T) {
	j := newJob(model.StatusFailed, model.StageModel)
	j.ErrorMessage = "render crashed"

	got, err := Retry(j, nil, time.Now().UTC())
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got.Status != model.StatusQueued {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Stage != model.StageModel {
		t.Fatalf("stage = %s, want MODEL", got.Stage)
	}
	if got.RequestedFromStage == nil || *got.RequestedFromStage != model.StageModel {
		t.Fatalf("requestedFromStage = %v", got.RequestedFromStage)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("error message not cleared: %q", got.ErrorMessage)
	}
}

func TestRetry_FromExplicitStage(t *testing.T) {
	j := newJob(model.StatusCanceled, model.StageBlueprint)
	from := model.StagePreview

	got, err := Retry(j, &from, time.Now().UTC())
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got.Stage != model.StagePreview {
		t.Fatalf("stage = %s, want PREVIEW", got.Stage)
	}
}

func TestRetry_DoneStageFallsBack(t *testing.T) {
	// A job canceled moments before its DONE stage report would have
	// landed can carry stage=DONE; a retry must still have work to do.
	j := newJob(model.StatusCanceled, model.StageDone)

	got, err := Retry(j, nil, time.Now().UTC())
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got.Stage != model.StageBlueprint {
		t.Fatalf("stage = %s, want BLUEPRINT", got.Stage)
	}
}

func TestRetry_RefusedOnDone(t *testing.T) {
	j := newJob(model.StatusDone, model.StageDone)

	_, err := Retry(j, nil, time.Now().UTC())
	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestRetry_RefusedOnActive(t *testing.T) {
	for _, status := range []model.Status{model.StatusQueued, model.StatusRunning} {
		j := newJob(status, model.StagePreview)
		if _, err := Retry(j, nil, time.Now().UTC()); err == nil {
			t.Fatalf("Retry from %s succeeded", status)
		}
	}
}
