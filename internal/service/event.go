package service

import (
	"context"
	"time"

	"github.com/safemasking/masking-api/internal/events"
	"github.com/safemasking/masking-api/internal/store/model"
	"go.uber.org/zap"
)

// EventPublisher receives job lifecycle events. It must not block.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, kind string, event events.JobEvent) error
}

// Make sure the producer can be used as publisher
var _ EventPublisher = (*events.EventProducer)(nil)

func publish(ctx context.Context, ep EventPublisher, kind string, job model.Job) {
	if ep == nil {
		return
	}

	e := events.JobEvent{
		JobID:      job.ID.String(),
		OwnerID:    job.OwnerID,
		Status:     string(job.Status),
		FrameCount: job.FrameCount,
		OccurredAt: time.Now().UTC(),
	}
	if job.FailureReason != nil {
		e.Reason = *job.FailureReason
	}
	if job.Status == model.JobStatusCompleted {
		count := len(job.Detections)
		e.DetectionCount = &count
	}

	if err := ep.PublishJobEvent(ctx, kind, e); err != nil {
		zap.S().Named("job_service").Errorw("failed to write event", "error", err, "event_kind", kind, "job_id", job.ID)
	}
}
