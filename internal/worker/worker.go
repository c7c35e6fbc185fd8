package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/pollify/backend/internal/models"
	"github.com/pollify/backend/pkg/queue"
)

// ActivityStore is the write surface the processor needs.
type ActivityStore interface {
	Insert(ctx context.Context, ev *models.ActivityEvent) error
}

// JobQueue is the queue surface the processor consumes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ActivityProcessor drains activity jobs from the queue into the
// activity_events table.
type ActivityProcessor struct {
	queue  JobQueue
	store  ActivityStore
	logger *zap.Logger
}

// NewActivityProcessor creates a processor.
func NewActivityProcessor(q JobQueue, store ActivityStore, logger *zap.Logger) *ActivityProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityProcessor{queue: q, store: store, logger: logger}
}

// Process handles one job. Malformed jobs are dropped, failed inserts are
// handed back to the queue's retry policy.
func (p *ActivityProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeActivity {
		p.logger.Warn("skipping job of unknown type", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		return nil
	}
	var payload queue.ActivityPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		p.logger.Warn("dropping malformed activity job", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	ev := &models.ActivityEvent{
		PollID:    payload.PollID,
		Kind:      models.ActivityKind(payload.Kind),
		OptionID:  payload.OptionID,
		CreatedAt: payload.OccurredAt,
	}
	if err := p.store.Insert(ctx, ev); err != nil {
		return err
	}
	p.logger.Debug("activity recorded",
		zap.String("poll_id", payload.PollID.String()),
		zap.String("kind", payload.Kind))
	return nil
}

// Run consumes jobs until ctx is cancelled. Insert failures go through the
// queue's retry policy with a short backoff.
func (p *ActivityProcessor) Run(ctx context.Context) {
	p.logger.Info("activity worker started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("activity worker stopped")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("activity worker stopped")
				return
			}
			p.logger.Error("dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			if err := p.queue.Retry(ctx, job); err != nil {
				p.logger.Error("retry failed", zap.String("job_id", job.ID), zap.Error(err))
			}
		}
	}
}
