package http

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"bricksmith/internal/config"
	"bricksmith/internal/model"
	"bricksmith/internal/services"
	"bricksmith/internal/store"
)

// adminJobsListHandler lists jobs across all owners. Supports the same
// status/limit/offset filters as the user listing plus ownerId and
// includeDeleted.
func adminJobsListHandler(c *fiber.Ctx) error {
	control := c.Locals("control").(*services.JobControlService)

	filter := store.JobListFilter{
		OwnerID: c.Query("ownerId"),
	}

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

	if v := c.Query("includeDeleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid includeDeleted value; expected true or false",
			})
		}
		filter.IncludeDeleted = b
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

// adminStaleJobsHandler surfaces QUEUED jobs whose stage has not moved
// within the stale window. A job created and never dispatched (the queue
// publish failed after the insert committed) shows up here; the endpoint
// only reports, it does not re-dispatch.
func adminStaleJobsHandler(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	control := c.Locals("control").(*services.JobControlService)

	minutes := cfg.Worker.StaleQueuedAfter
	if v := c.Query("olderThanMinutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid olderThanMinutes value",
			})
		}
		minutes = n
	}

	limit := int32(100)
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid limit value",
			})
		}
		limit = int32(n)
	}

	cutoff := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)
	items, err := control.ListStale(c.Context(), cutoff, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ListJobsResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   "Failed to list stale jobs",
		})
	}

	out := make([]JobItem, 0, len(items))
	for _, j := range items {
		out = append(out, toJobItem(j))
	}

	return c.JSON(ListJobsResponse{Success: true, Jobs: out})
}

// adminJobDeleteHandler soft-deletes a job. The row stays for audit and
// for late result messages to resolve against; it just disappears from
// the owner's listings.
func adminJobDeleteHandler(c *fiber.Ctx) error {
	control := c.Locals("control").(*services.JobControlService)

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(JobDetailResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid job id",
		})
	}

	job, err := control.SetDeleted(c.Context(), id, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobNotFound(c)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(JobDetailResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   "Failed to delete job",
		})
	}

	return c.JSON(JobDetailResponse{Success: true, Job: toJobDetail(job, true)})
}
