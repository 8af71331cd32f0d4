package http

import (
	"database/sql"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"bricksmith/internal/model"
	"bricksmith/internal/services"
	"bricksmith/internal/store"
)

// jobsListHandler lists the caller's jobs, newest first. Other owners'
// jobs and soft-deleted jobs are never visible here; cross-owner
// inspection goes through /admin/jobs.
func jobsListHandler(c *fiber.Ctx) error {
	control := c.Locals("control").(*services.JobControlService)

	filter := store.JobListFilter{OwnerID: ownerID(c)}

	if status := c.Query("status"); status != "" {
		parsed, err := model.ParseStatus(status)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid status value",
			})
		}
		filter.Status = string(parsed)
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid limit value",
			})
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}
	filter.Limit = int32(limit)

	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid offset value",
			})
		}
		filter.Offset = int32(n)
	}

	items, err := control.List(c.Context(), filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ListJobsResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   "Failed to list jobs",
		})
	}

	out := make([]JobItem, 0, len(items))
	for _, j := range items {
		out = append(out, toJobItem(j))
	}

	return c.JSON(ListJobsResponse{Success: true, Jobs: out})
}

// jobDetailHandler returns one job, owner-scoped. A job that belongs to
// someone else or has been soft-deleted reads as not found.
func jobDetailHandler(c *fiber.Ctx) error {
	control := c.Locals("control").(*services.JobControlService)

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(JobDetailResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid job id",
		})
	}

	job, err := control.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobNotFound(c)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(JobDetailResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   "Failed to load job",
		})
	}
	if job.Deleted || job.OwnerID != ownerID(c) {
		return jobNotFound(c)
	}

	return c.JSON(JobDetailResponse{Success: true, Job: toJobDetail(job, false)})
}

func jobNotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(JobDetailResponse{
		Success: false,
		Code:    "NOT_FOUND",
		Error:   "Job not found",
	})
}
