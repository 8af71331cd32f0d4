package http

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"bricksmith/internal/services"
)

// generateHandler accepts a generation request, persists the new job, and
// dispatches it to the worker queue. Responds 202 because the pipeline is
// asynchronous; clients poll GET /v1/jobs/:id for progress.
func generateHandler(c *fiber.Ctx) error {
	gen := c.Locals("generate").(*services.GenerateService)

	var body GenerateRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(GenerateResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "Invalid JSON body",
		})
	}

	if body.SourceImageURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(GenerateResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "sourceImageUrl is required",
		})
	}

	job, err := gen.Start(c.Context(), ownerID(c), services.GenerateRequest{
		SourceImageURL: body.SourceImageURL,
		Title:          body.Title,
		Age:            body.Age,
		Budget:         body.Budget,
		Language:       body.Language,
	})
	if err != nil {
		if job.ID == uuid.Nil {
			return c.Status(fiber.StatusInternalServerError).JSON(GenerateResponse{
				Success: false,
				Code:    "INTERNAL_ERROR",
				Error:   fmt.Sprintf("failed to create job: %v", err),
			})
		}
		// Job row exists but the dispatch failed. The job stays QUEUED
		// and is visible to the stale sweep; surface it to the caller too.
		if lg, ok := c.Locals("logger").(*slog.Logger); ok && lg != nil {
			lg.Warn("job created but dispatch failed", "jobId", job.ID, "error", err)
		}
		return c.Status(fiber.StatusAccepted).JSON(GenerateResponse{
			Success: true,
			Code:    "DISPATCH_PENDING",
			JobID:   job.ID.String(),
			Status:  string(job.Status),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(GenerateResponse{
		Success: true,
		JobID:   job.ID.String(),
		Status:  string(job.Status),
	})
}
