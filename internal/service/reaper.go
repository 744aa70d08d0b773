package service

import (
	"context"
	"errors"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"github.com/safemasking/masking-api/internal/events"
	"github.com/safemasking/masking-api/internal/store"
	"github.com/safemasking/masking-api/internal/store/model"
	"github.com/safemasking/masking-api/pkg/log"
	"github.com/safemasking/masking-api/pkg/metrics"
)

const (
	processingTimedOut = "processing timed out"
	// reapBatchSize bounds one sweep; the rest waits for the next tick.
	reapBatchSize = 500
)

// Reaper fails jobs the worker accepted but never called back for.
type Reaper struct {
	store    store.Store
	events   EventPublisher
	interval time.Duration
	timeout  time.Duration
	logger   *log.StructuredLogger
	now      func() time.Time
}

func NewReaper(s store.Store, ep EventPublisher, interval, timeout time.Duration) *Reaper {
	return &Reaper{
		store:    s,
		events:   ep,
		interval: interval,
		timeout:  timeout,
		logger:   log.NewDebugLogger("reaper"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps until ctx is done. A zero timeout or interval disables the reaper.
func (r *Reaper) Run(ctx context.Context) {
	if r.timeout <= 0 || r.interval <= 0 {
		return
	}

	ticker := jitterbug.New(r.interval, &jitterbug.Norm{Stdev: r.interval / 10, Mean: 0})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		_, _ = r.ReapOnce(ctx)
	}
}

// ReapOnce fails every PROCESSING job dispatched more than timeout ago and
// returns how many were failed.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	tracer := r.logger.WithContext(ctx).Operation("reap_stale_jobs").Build()

	if r.timeout <= 0 {
		return 0, nil
	}

	now := r.now()
	stale, err := r.store.Job().List(ctx,
		store.NewJobQueryFilter().ByStatus(model.JobStatusProcessing).DispatchedBefore(now.Add(-r.timeout)),
		store.NewJobQueryOptions().WithSortOrder(store.SortByCreatedTime).WithLimit(reapBatchSize),
	)
	if err != nil {
		tracer.Error(err).Log()
		return 0, err
	}

	reaped := 0
	for _, job := range stale {
		failed, err := r.store.Job().MarkFailed(ctx, job.ID, processingTimedOut, now)
		if err != nil {
			// a callback or a delete got there first
			if errors.Is(err, store.ErrRecordNotFound) || errors.Is(err, store.ErrInvalidTransition) {
				continue
			}
			tracer.Error(err).WithUUID("job_id", job.ID).Log()
			continue
		}
		reaped++
		tracer.Step("job_reaped").WithUUID("job_id", job.ID).Log()
		publish(ctx, r.events, events.JobFailedKind, *failed)
	}

	if reaped > 0 {
		metrics.IncreaseJobsReapedMetric(reaped)
	}
	tracer.Success().WithInt("reaped", reaped).WithInt("candidates", len(stale)).Log()
	return reaped, nil
}
