package jobs

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bricksmith/internal/metrics"
	"bricksmith/internal/model"
	"bricksmith/internal/queue"
)

// JobStore is the slice of the store the consumer needs. Declared here so
// tests can substitute a fake.
type JobStore interface {
	CompareAndUpdateJob(ctx context.Context, id uuid.UUID, fn func(model.Job) (model.Job, bool)) (model.Job, bool, error)
}

// ConsumerOptions tunes the polling loop.
type ConsumerOptions struct {
	// PollWait bounds how long one Receive call may block.
	PollWait time.Duration
	// MaxMessages caps how many messages one poll may return.
	MaxMessages int
	// DedupSize is the capacity of the processed-message-id cache.
	DedupSize int
}

// Consumer drains the result queue and applies outcomes to the job store,
// exactly-once in effect. Deduplication by message id is only a shortcut;
// the conditional update's not-already-terminal predicate is what actually
// guarantees idempotency, so the consumer stays correct even when the
// cache is cold or the same result arrives on two processes at once.
type Consumer struct {
	store  JobStore
	queue  queue.Queue
	dedup  *Dedup
	logger *slog.Logger

	pollWait    time.Duration
	maxMessages int

	reportedEvictions int64
}

// NewConsumer constructs a Consumer. Callers run Start in its own
// goroutine and cancel the context to stop it.
func NewConsumer(st JobStore, q queue.Queue, logger *slog.Logger, opts ConsumerOptions) *Consumer {
	if opts.PollWait <= 0 {
		opts.PollWait = 5 * time.Second
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 10
	}
	if opts.DedupSize <= 0 {
		opts.DedupSize = 1000
	}
	return &Consumer{
		store:       st,
		queue:       q,
		dedup:       NewDedup(opts.DedupSize),
		logger:      logger,
		pollWait:    opts.PollWait,
		maxMessages: opts.MaxMessages,
	}
}

// Start runs the polling loop until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.queue.Receive(ctx, c.maxMessages, c.pollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("result queue receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.pollWait):
			}
			continue
		}

		for _, msg := range msgs {
			c.ProcessMessage(ctx, msg)
		}
	}
}

// ProcessMessage handles one delivery and returns the recorded outcome
// (one of the metrics.Result* values). Exported for tests.
func (c *Consumer) ProcessMessage(ctx context.Context, msg queue.Message) string {
	outcome := c.processMessage(ctx, msg)
	metrics.RecordResult(outcome)
	c.syncEvictions()
	return outcome
}

func (c *Consumer) processMessage(ctx context.Context, msg queue.Message) string {
	// Redelivery of an id we already handled: queue hygiene only.
	if c.dedup.Seen(msg.ID) {
		c.deleteMessage(ctx, msg.ID)
		return metrics.ResultDuplicate
	}

	res, err := queue.DecodeResult(msg.Body)
	if err != nil {
		// Poison message: it will never parse better on redelivery.
		c.logger.Error("dropping malformed result message", "messageId", msg.ID, "error", err)
		c.deleteMessage(ctx, msg.ID)
		c.dedup.Remember(msg.ID)
		return metrics.ResultPoison
	}

	jobID, err := uuid.Parse(res.JobID)
	if err != nil {
		c.logger.Error("dropping result with invalid job id", "messageId", msg.ID, "jobId", res.JobID)
		c.deleteMessage(ctx, msg.ID)
		c.dedup.Remember(msg.ID)
		return metrics.ResultPoison
	}

	now := time.Now().UTC()
	_, applied, err := c.store.CompareAndUpdateJob(ctx, jobID, func(cur model.Job) (model.Job, bool) {
		var next model.Job
		var terr error
		if res.Success {
			next, terr = Complete(cur, res.Outputs, res.Tags, toUsage(res.Usage), now)
		} else {
			next, terr = Fail(cur, res.ErrorMessage, now)
		}
		if terr != nil {
			// Already terminal; a concurrent cancel (or an earlier
			// delivery of this result) got there first.
			return cur, false
		}
		return next, true
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Should not happen: a result for a job we never created.
			c.logger.Error("dropping result for unknown job", "messageId", msg.ID, "jobId", jobID)
			c.deleteMessage(ctx, msg.ID)
			c.dedup.Remember(msg.ID)
			return metrics.ResultOrphan
		}
		// Transient store failure: leave the message for redelivery.
		c.logger.Error("result apply failed, leaving message for redelivery",
			"messageId", msg.ID, "jobId", jobID, "error", err)
		return metrics.ResultDeferred
	}

	c.deleteMessage(ctx, msg.ID)
	c.dedup.Remember(msg.ID)

	if !applied {
		c.logger.Info("result discarded, job already terminal", "messageId", msg.ID, "jobId", jobID)
		return metrics.ResultDiscarded
	}
	c.logger.Info("result applied", "messageId", msg.ID, "jobId", jobID, "success", res.Success)
	return metrics.ResultApplied
}

func (c *Consumer) deleteMessage(ctx context.Context, id string) {
	if err := c.queue.Delete(ctx, id); err != nil {
		// The message will come back; dedup will delete it then.
		c.logger.Error("result message delete failed", "messageId", id, "error", err)
	}
}

func (c *Consumer) syncEvictions() {
	total := c.dedup.Evictions()
	if d := total - c.reportedEvictions; d > 0 {
		metrics.RecordDedupEvictions(d)
		c.reportedEvictions = total
	}
}

func toUsage(u *queue.ResultUsage) *model.Usage {
	if u == nil {
		return nil
	}
	return &model.Usage{Tokens: u.Tokens, EstCost: u.EstCost}
}
