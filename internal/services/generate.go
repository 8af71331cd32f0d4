package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"bricksmith/internal/config"
	"bricksmith/internal/metrics"
	"bricksmith/internal/model"
	"bricksmith/internal/queue"
	"bricksmith/internal/store"
)

// GenerateRequest is the internal representation of a generation request,
// derived from the HTTP DTO with defaults already applied.
type GenerateRequest struct {
	SourceImageURL string
	Title          string
	Age            string
	Budget         int
	Language       string
}

// GenerateService is the dispatcher: it records a new QUEUED job and
// publishes the matching request message for the external worker. It never
// waits for the worker.
type GenerateService struct {
	cfg    *config.Config
	store  *store.Store
	queue  queue.Queue
	logger *slog.Logger
}

// NewGenerateService constructs a GenerateService publishing to the given
// request queue.
func NewGenerateService(cfg *config.Config, st *store.Store, q queue.Queue, logger *slog.Logger) *GenerateService {
	return &GenerateService{cfg: cfg, store: st, queue: q, logger: logger}
}

// Start creates the job and publishes its request message. The store write
// happens first; if the publish then fails the job stays QUEUED with no
// in-flight message, which an operational sweep can detect through the
// stale-QUEUED listing. The created job is returned alongside the error so
// callers can still report its id.
func (s *GenerateService) Start(ctx context.Context, ownerID string, req GenerateRequest) (model.Job, error) {
	if strings.TrimSpace(req.SourceImageURL) == "" {
		return model.Job{}, fmt.Errorf("sourceImageUrl is required")
	}
	if req.Budget <= 0 {
		req.Budget = s.cfg.Generate.DefaultBudget
	}
	if req.Language == "" {
		req.Language = s.cfg.Generate.DefaultLanguage
	}

	now := time.Now().UTC()
	job := model.Job{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		Status:         model.StatusQueued,
		Stage:          model.StagePreview,
		Level:          ageToLevel(req.Age),
		SourceImageURL: req.SourceImageURL,
		Title:          req.Title,
		Language:       req.Language,
		Budget:         req.Budget,
		StageUpdatedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return model.Job{}, err
	}
	s.logger.Info("job created", "jobId", job.ID, "ownerId", ownerID, "level", job.Level)

	if err := s.Publish(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// Publish sends the request message for an existing job, with bounded
// backoff around the broker call. Retry uses this to re-dispatch a job
// that was reset to QUEUED.
func (s *GenerateService) Publish(ctx context.Context, job model.Job) error {
	body, err := queue.EncodeRequest(queue.RequestMessage{
		JobID:          job.ID.String(),
		OwnerID:        job.OwnerID,
		SourceImageURL: job.SourceImageURL,
		Level:          job.Level,
		Budget:         job.Budget,
		Language:       job.Language,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(uint64(s.cfg.Queue.PublishMaxRetries), retry.NewFibonacci(100*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if _, perr := s.queue.Publish(ctx, body); perr != nil {
			return retry.RetryableError(perr)
		}
		return nil
	})
	if err != nil {
		metrics.RecordDispatch(false)
		s.logger.Error("request publish failed, job left QUEUED for sweep", "jobId", job.ID, "error", err)
		return fmt.Errorf("publish request for job %s: %w", job.ID, err)
	}

	metrics.RecordDispatch(true)
	s.logger.Info("request published", "jobId", job.ID)
	return nil
}

// ageToLevel maps the requested age bracket to a difficulty level the
// worker understands.
func ageToLevel(age string) string {
	switch strings.ToLower(strings.TrimSpace(age)) {
	case "3-5", "35":
		return "LEVEL_1"
	case "6-7", "67":
		return "LEVEL_2"
	case "8-10", "810":
		return "LEVEL_3"
	case "pro":
		return "PRO"
	default:
		return "LEVEL_1"
	}
}
