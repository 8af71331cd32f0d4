package http

import (
	"database/sql"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"bricksmith/internal/model"
	"bricksmith/internal/services"
)

type stageReportRequest struct {
	Stage string `json:"stage"`
}

// stageReportHandler records worker progress on a job. The first report
// promotes a QUEUED job to RUNNING; reports against terminal jobs are
// acknowledged and ignored so a superseded worker attempt cannot resurrect
// a finished job. Unknown stage names are rejected.
func stageReportHandler(c *fiber.Ctx) error {
	control := c.Locals("control").(*services.JobControlService)

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid job id",
		})
	}

	var body stageReportRequest
	if err := c.BodyParser(&body); err != nil || body.Stage == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "stage is required",
		})
	}
	if _, err := model.ParseStage(body.Stage); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "unknown stage value",
		})
	}

	job, err := control.ReportStage(c.Context(), id, body.Stage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "Job not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   "Failed to record stage report",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"status":  string(job.Status),
		"stage":   string(job.Stage),
	})
}
