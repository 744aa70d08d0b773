package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	api "github.com/safemasking/masking-api/api/v1alpha1"
	"github.com/safemasking/masking-api/internal/blob"
	"github.com/safemasking/masking-api/internal/events"
	"github.com/safemasking/masking-api/internal/service/mappers"
	"github.com/safemasking/masking-api/internal/store"
	"github.com/safemasking/masking-api/internal/store/model"
	"github.com/safemasking/masking-api/internal/worker"
	"github.com/safemasking/masking-api/pkg/log"
	"github.com/safemasking/masking-api/pkg/metrics"
	"github.com/safemasking/masking-api/pkg/requestid"
	"golang.org/x/sync/semaphore"
)

const (
	resultContentType   = "video/mp4"
	maxFailureReasonLen = 1024
	defaultConcurrency  = 10
)

var ErrDispatcherStopped = errors.New("dispatcher is stopped")

type DispatcherConfig struct {
	CallbackURL    string
	DownloadURLTTL time.Duration
	ResultURLTTL   time.Duration
	Timeout        time.Duration
	MaxConcurrent  int
}

type dispatchTask struct {
	job     model.Job
	options api.MaskingOptions
}

type dispatchResult struct {
	ctx     context.Context
	jobID   uuid.UUID
	ownerID string
	err     error
}

// Dispatcher hands jobs to the worker in the background. At most MaxConcurrent
// dispatches run at once. Every attempt reports on the results channel and a
// single consumer applies the failures to the store.
type Dispatcher struct {
	cfg     DispatcherConfig
	client  worker.Client
	issuer  blob.URLIssuer
	store   store.Store
	events  EventPublisher
	sem     *semaphore.Weighted
	results chan dispatchResult

	mu        sync.RWMutex
	stopped   bool
	inflight  sync.WaitGroup
	startOnce sync.Once
	done      chan struct{}
	logger    *log.StructuredLogger
}

func NewDispatcher(cfg DispatcherConfig, client worker.Client, issuer blob.URLIssuer, s store.Store, ep EventPublisher) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultConcurrency
	}
	return &Dispatcher{
		cfg:     cfg,
		client:  client,
		issuer:  issuer,
		store:   s,
		events:  ep,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		results: make(chan dispatchResult, cfg.MaxConcurrent),
		done:    make(chan struct{}),
		logger:  log.NewDebugLogger("dispatcher"),
	}
}

// Start runs the result consumer. It is safe to call more than once.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		go d.consume()
	})
}

// Submit queues the dispatch of a job already marked PROCESSING. It never
// blocks on the worker.
func (d *Dispatcher) Submit(ctx context.Context, job model.Job, options api.MaskingOptions) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}

	// the request context ends with the HTTP call
	dispatchCtx := requestid.Detach(ctx)
	task := dispatchTask{job: job, options: options}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()

		err := d.sem.Acquire(dispatchCtx, 1)
		if err == nil {
			err = d.dispatch(dispatchCtx, task)
			d.sem.Release(1)
		}

		d.results <- dispatchResult{ctx: dispatchCtx, jobID: job.ID, ownerID: job.OwnerID, err: err}
	}()

	return nil
}

// Stop refuses new dispatches, waits for the in-flight ones and for their
// results to be applied.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	// make sure somebody drains the results even if Start was never called
	d.Start()

	drained := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(d.results)
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight dispatches: %w", ctx.Err())
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for dispatch results: %w", ctx.Err())
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, task dispatchTask) error {
	job := task.job
	if job.SourceKey == nil || job.ResultKey == nil {
		return fmt.Errorf("job %s has no storage keys", job.ID)
	}

	timeoutCtx := ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		timeoutCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	downloadURL, err := d.issuer.IssueDownloadURL(timeoutCtx, *job.SourceKey, d.cfg.DownloadURLTTL)
	if err != nil {
		return fmt.Errorf("issuing download url: %w", err)
	}

	uploadURL, err := d.issuer.IssueUploadURL(timeoutCtx, *job.ResultKey, resultContentType, d.cfg.ResultURLTTL)
	if err != nil {
		return fmt.Errorf("issuing result upload url: %w", err)
	}

	return d.client.Dispatch(timeoutCtx, worker.ProcessRequest{
		DownloadURL:    downloadURL,
		UploadURL:      uploadURL,
		JobID:          job.ID.String(),
		CallbackURL:    d.cfg.CallbackURL,
		MaskingOptions: mappers.MaskingOptionsToWorker(task.options),
	})
}

func (d *Dispatcher) consume() {
	defer close(d.done)
	for r := range d.results {
		d.apply(r)
	}
}

// apply records the outcome of one dispatch. A failed dispatch moves the job
// to FAILED unless it was deleted or already finished meanwhile.
func (d *Dispatcher) apply(r dispatchResult) {
	tracer := d.logger.WithContext(r.ctx).Operation("apply_dispatch_result").WithUUID("job_id", r.jobID).Build()

	if r.err == nil {
		metrics.IncreaseJobDispatchMetric(metrics.DispatchSucceeded)
		tracer.Success().WithString("outcome", "accepted").Log()
		return
	}

	metrics.IncreaseJobDispatchMetric(metrics.DispatchFailed)
	tracer.Step("dispatch_failed").WithString("cause", r.err.Error()).Log()

	reason := truncate(fmt.Sprintf("dispatch failed: %s", r.err), maxFailureReasonLen)
	job, err := d.store.Job().MarkFailed(r.ctx, r.jobID, reason, time.Now().UTC())
	switch {
	case errors.Is(err, store.ErrRecordNotFound):
		tracer.Success().WithString("outcome", "job_deleted").Log()
		return
	case errors.Is(err, store.ErrInvalidTransition):
		tracer.Success().WithString("outcome", "job_already_finished").Log()
		return
	case err != nil:
		tracer.Error(err).Log()
		return
	}

	publish(r.ctx, d.events, events.JobFailedKind, *job)
	tracer.Success().WithString("outcome", "job_failed").Log()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
