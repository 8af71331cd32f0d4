package http

import (
	"database/sql"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"bricksmith/internal/jobs"
	"bricksmith/internal/model"
	"bricksmith/internal/services"
)

type retryJobRequest struct {
	FromStage string `json:"fromStage,omitempty"`
}

type cancelJobRequest struct {
	Note string `json:"note,omitempty"`
}

// jobRetryHandler resets a FAILED or CANCELED job back to QUEUED and
// re-dispatches it. An optional fromStage in the body picks the stage to
// restart from; otherwise the job resumes where it stopped. Shared by the
// user and admin surfaces; non-admin callers can only touch their own jobs.
func jobRetryHandler(c *fiber.Ctx) error {
	control := c.Locals("control").(*services.JobControlService)

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(JobDetailResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid job id",
		})
	}

	var body retryJobRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(JobDetailResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "Invalid JSON body",
			})
		}
	}
	if body.FromStage != "" {
		if _, err := model.ParseStage(body.FromStage); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(JobDetailResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid fromStage value",
			})
		}
	}

	if resp := requireJobAccess(c, control, id); resp != nil {
		return resp()
	}

	job, err := control.Retry(c.Context(), id, body.FromStage)
	if err != nil {
		var terr *jobs.TransitionError
		if errors.As(err, &terr) {
			return c.Status(fiber.StatusConflict).JSON(JobDetailResponse{
				Success: false,
				Code:    "CONFLICT",
				Error:   terr.Error(),
			})
		}
		if errors.Is(err, sql.ErrNoRows) {
			return jobNotFound(c)
		}
		// The transition may have committed even if the re-dispatch
		// failed. Report the accepted retry; the stale sweep covers
		// the missing message.
		if job.Status == model.StatusQueued {
			return c.Status(fiber.StatusAccepted).JSON(JobDetailResponse{
				Success: true,
				Code:    "DISPATCH_PENDING",
				Job:     toJobDetail(job, isAdmin(c)),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(JobDetailResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   "Failed to retry job",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(JobDetailResponse{
		Success: true,
		Job:     toJobDetail(job, isAdmin(c)),
	})
}

// jobCancelHandler cancels a QUEUED or RUNNING job. The cancellation is a
// state-machine decision only: any worker already processing the job keeps
// going, and its eventual result is discarded on arrival.
func jobCancelHandler(c *fiber.Ctx) error {
	control := c.Locals("control").(*services.JobControlService)

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(JobDetailResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid job id",
		})
	}

	var body cancelJobRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(JobDetailResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "Invalid JSON body",
			})
		}
	}

	if resp := requireJobAccess(c, control, id); resp != nil {
		return resp()
	}

	note := body.Note
	if note == "" && isAdmin(c) {
		note = "canceled by admin"
	}

	job, err := control.Cancel(c.Context(), id, note)
	if err != nil {
		var terr *jobs.TransitionError
		if errors.As(err, &terr) {
			return c.Status(fiber.StatusConflict).JSON(JobDetailResponse{
				Success: false,
				Code:    "CONFLICT",
				Error:   terr.Error(),
			})
		}
		if errors.Is(err, sql.ErrNoRows) {
			return jobNotFound(c)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(JobDetailResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   "Failed to cancel job",
		})
	}

	return c.JSON(JobDetailResponse{
		Success: true,
		Job:     toJobDetail(job, isAdmin(c)),
	})
}

// requireJobAccess checks that the caller may act on the job. Admins may
// act on any job; everyone else only on their own non-deleted jobs, which
// read as not found otherwise. Returns nil when access is allowed.
func requireJobAccess(c *fiber.Ctx, control *services.JobControlService, id uuid.UUID) func() error {
	if isAdmin(c) {
		return nil
	}

	job, err := control.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return func() error { return jobNotFound(c) }
		}
		return func() error {
			return c.Status(fiber.StatusInternalServerError).JSON(JobDetailResponse{
				Success: false,
				Code:    "INTERNAL_ERROR",
				Error:   "Failed to load job",
			})
		}
	}
	if job.Deleted || job.OwnerID != ownerID(c) {
		return func() error { return jobNotFound(c) }
	}
	return nil
}
