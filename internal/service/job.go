package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	api "github.com/safemasking/masking-api/api/v1alpha1"
	"github.com/safemasking/masking-api/internal/blob"
	"github.com/safemasking/masking-api/internal/config"
	"github.com/safemasking/masking-api/internal/events"
	"github.com/safemasking/masking-api/internal/service/mappers"
	"github.com/safemasking/masking-api/internal/store"
	"github.com/safemasking/masking-api/internal/store/model"
	"github.com/safemasking/masking-api/pkg/log"
	"github.com/safemasking/masking-api/pkg/metrics"
	"github.com/thoas/go-funk"
)

type JobService struct {
	store      store.Store
	issuer     blob.URLIssuer
	dispatcher *Dispatcher
	events     EventPublisher
	cfg        config.Jobs
	logger     *log.StructuredLogger
	now        func() time.Time
}

func NewJobService(s store.Store, issuer blob.URLIssuer, dispatcher *Dispatcher, ep EventPublisher, cfg config.Jobs) *JobService {
	return &JobService{
		store:      s,
		issuer:     issuer,
		dispatcher: dispatcher,
		events:     ep,
		cfg:        cfg,
		logger:     log.NewDebugLogger("job_service"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// InitUpload creates a job in UPLOADED and returns a URL the owner uploads the media to.
// The job is not kept if no URL can be issued.
func (s *JobService) InitUpload(ctx context.Context, ownerID string, form api.InitUploadRequest) (*api.InitUploadResponse, error) {
	tracer := s.logger.WithContext(ctx).Operation("init_upload").WithString("owner_id", ownerID).Build()

	if strings.TrimSpace(form.Filename) == "" {
		return nil, NewErrValidation("filename is required")
	}
	contentType := mappers.NormalizeContentType(form.ContentType)
	if !funk.ContainsString(s.cfg.AllowedContentTypes, contentType) {
		return nil, NewErrValidation("content type %q is not allowed", form.ContentType)
	}

	ctx, err := s.store.NewTransactionContext(ctx)
	if err != nil {
		tracer.Error(err).Log()
		return nil, err
	}

	if _, err := s.store.User().Get(ctx, ownerID); err != nil {
		_, _ = store.Rollback(ctx)
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrUserNotFound(ownerID)
		}
		tracer.Error(err).Log()
		return nil, err
	}

	id := uuid.New()
	uploadKey := blob.UploadKey(uuid.New(), form.Filename)
	job, err := s.store.Job().Create(ctx, mappers.JobFromInitUpload(id, ownerID, form, uploadKey))
	if err != nil {
		_, _ = store.Rollback(ctx)
		tracer.Error(err).Log()
		return nil, err
	}
	tracer.Step("job_created").WithUUID("job_id", job.ID).Log()

	uploadURL, err := s.issuer.IssueUploadURL(ctx, uploadKey, contentType, s.cfg.UploadURLTTL)
	if err != nil {
		_, _ = store.Rollback(ctx)
		tracer.Error(err).Log()
		return nil, err
	}

	if _, err := store.Commit(ctx); err != nil {
		tracer.Error(err).Log()
		return nil, err
	}

	metrics.IncreaseJobsCreatedMetric()
	publish(ctx, s.events, events.JobCreatedKind, *job)

	tracer.Success().WithUUID("job_id", job.ID).Log()
	return &api.InitUploadResponse{
		JobId:     job.ID,
		UploadUrl: uploadURL,
		SourceKey: uploadKey,
		ExpiresIn: int64(s.cfg.UploadURLTTL.Seconds()),
	}, nil
}

// ProcessJob moves the job to PROCESSING and hands it to the dispatcher. It
// returns as soon as the transition is persisted; the worker is called later.
func (s *JobService) ProcessJob(ctx context.Context, jobID uuid.UUID, callerID string, form api.ProcessRequest) error {
	tracer := s.logger.WithContext(ctx).Operation("process_job").WithUUID("job_id", jobID).Build()

	job, err := s.getOwnedJob(ctx, jobID, callerID, nil)
	if err != nil {
		return err
	}

	if form.FileSize < 0 {
		return NewErrValidation("fileSize must not be negative")
	}
	if form.MaskingOptions.CustomObject && strings.TrimSpace(form.MaskingOptions.CustomObjectName) == "" {
		return NewErrValidation("customObjectName is required when customObject is set")
	}

	if job.Status != model.JobStatusUploaded {
		return NewErrJobInvalidState(jobID, job.Status)
	}

	sourceKey := strings.TrimSpace(form.SourceKey)
	if sourceKey == "" {
		sourceKey = job.UploadKey
	}
	if sourceKey != job.UploadKey {
		return NewErrValidation("sourceKey does not match the key issued for job %s", jobID)
	}

	processing, err := s.store.Job().MarkProcessing(ctx, jobID, model.DispatchUpdate{
		SourceKey:     sourceKey,
		ResultKey:     blob.ResultKey(jobID),
		FileSizeBytes: form.FileSize,
		DispatchedAt:  s.now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRecordNotFound):
			return NewErrJobNotFound(jobID)
		case errors.Is(err, store.ErrInvalidTransition):
			// lost the race against a concurrent process call
			return NewErrJobInvalidState(jobID, model.JobStatusProcessing)
		default:
			tracer.Error(err).Log()
			return err
		}
	}
	tracer.Step("job_processing").Log()
	publish(ctx, s.events, events.JobProcessingKind, *processing)

	if err := s.dispatcher.Submit(ctx, *processing, form.MaskingOptions); err != nil {
		// the caller was promised an accepted job; the failure shows up in its status
		tracer.Step("dispatch_refused").WithString("cause", err.Error()).Log()
		if failed, ferr := s.store.Job().MarkFailed(ctx, jobID, "dispatch failed: "+err.Error(), s.now()); ferr == nil {
			metrics.IncreaseJobDispatchMetric(metrics.DispatchFailed)
			publish(ctx, s.events, events.JobFailedKind, *failed)
		}
	}

	tracer.Success().Log()
	return nil
}

// HandleCallback merges the worker report into the job. Only a PROCESSING job
// is completed; callbacks for unknown, finished or undispatched jobs are
// logged and ignored so that a replayed callback is harmless.
func (s *JobService) HandleCallback(ctx context.Context, form api.CallbackRequest) error {
	tracer := s.logger.WithContext(ctx).Operation("handle_callback").WithString("job_id", form.JobId).Build()

	jobID, err := uuid.Parse(form.JobId)
	if err != nil {
		metrics.IncreaseJobCallbacksMetric(metrics.CallbackOrphan)
		tracer.Success().WithString("outcome", "orphan").WithString("cause", "malformed job id").Log()
		return nil
	}

	update, dropped := mappers.CompletionFromCallback(form, s.now())
	for _, d := range dropped {
		metrics.IncreaseDroppedDetectionsMetric()
		tracer.Step("detection_dropped").WithInt("index", d.Index).WithString("label", d.Label).WithString("cause", d.Err.Error()).Log()
	}

	ctx, err = s.store.NewTransactionContext(ctx)
	if err != nil {
		tracer.Error(err).Log()
		return err
	}

	job, err := s.store.Job().Get(ctx, jobID, nil)
	if err != nil {
		_, _ = store.Rollback(ctx)
		if errors.Is(err, store.ErrRecordNotFound) {
			metrics.IncreaseJobCallbacksMetric(metrics.CallbackOrphan)
			tracer.Success().WithString("outcome", "orphan").Log()
			return nil
		}
		metrics.IncreaseJobCallbacksMetric(metrics.CallbackError)
		tracer.Error(err).Log()
		return err
	}

	if job.Status != model.JobStatusProcessing {
		_, _ = store.Rollback(ctx)
		s.ignoreCallback(tracer, job.Status)
		return nil
	}

	completed, err := s.store.Job().MarkCompleted(ctx, jobID, update)
	if err != nil {
		_, _ = store.Rollback(ctx)
		switch {
		case errors.Is(err, store.ErrRecordNotFound):
			metrics.IncreaseJobCallbacksMetric(metrics.CallbackOrphan)
			tracer.Success().WithString("outcome", "orphan").Log()
			return nil
		case errors.Is(err, store.ErrInvalidTransition):
			s.ignoreCallback(tracer, model.JobStatusCompleted)
			return nil
		default:
			metrics.IncreaseJobCallbacksMetric(metrics.CallbackError)
			tracer.Error(err).Log()
			return err
		}
	}

	if _, err := store.Commit(ctx); err != nil {
		metrics.IncreaseJobCallbacksMetric(metrics.CallbackError)
		tracer.Error(err).Log()
		return err
	}

	metrics.IncreaseJobCallbacksMetric(metrics.CallbackApplied)
	for _, d := range completed.Detections {
		metrics.IncreaseDetectionsMetric(string(d.ObjectType))
	}
	publish(ctx, s.events, events.JobCompletedKind, *completed)

	tracer.Success().WithString("outcome", "completed").WithInt("detections", len(completed.Detections)).Log()
	return nil
}

func (s *JobService) ignoreCallback(tracer *log.OperationTracer, status model.JobStatus) {
	outcome := metrics.CallbackLate
	if status == model.JobStatusCompleted {
		outcome = metrics.CallbackDuplicate
	}
	metrics.IncreaseJobCallbacksMetric(outcome)
	tracer.Success().WithString("outcome", outcome).WithString("status", string(status)).Log()
}

func (s *JobService) GetStatus(ctx context.Context, jobID uuid.UUID, callerID string) (*api.JobStatusResponse, error) {
	job, err := s.getOwnedJob(ctx, jobID, callerID, nil)
	if err != nil {
		return nil, err
	}

	status := mappers.JobStatusToApi(*job)
	return &status, nil
}

func (s *JobService) GetResult(ctx context.Context, jobID uuid.UUID, callerID string) (*api.JobResult, error) {
	tracer := s.logger.WithContext(ctx).Operation("get_result").WithUUID("job_id", jobID).Build()

	job, err := s.getOwnedJob(ctx, jobID, callerID, store.NewJobQueryOptions().WithDetections())
	if err != nil {
		return nil, err
	}

	result := s.assembleResult(ctx, tracer, *job)

	tracer.Success().WithInt("detections", len(result.Detections)).Log()
	return &result, nil
}

// ListJobs returns the caller's jobs, newest first.
func (s *JobService) ListJobs(ctx context.Context, callerID string) ([]api.JobResult, error) {
	tracer := s.logger.WithContext(ctx).Operation("list_jobs").WithString("owner_id", callerID).Build()

	jobs, err := s.store.Job().List(ctx,
		store.NewJobQueryFilter().ByOwner(callerID),
		store.NewJobQueryOptions().WithDetections().WithSortOrder(store.SortByCreatedTimeDesc),
	)
	if err != nil {
		tracer.Error(err).Log()
		return nil, err
	}

	results := make([]api.JobResult, 0, len(jobs))
	for _, job := range jobs {
		results = append(results, s.assembleResult(ctx, tracer, job))
	}

	tracer.Success().WithInt("count", len(results)).Log()
	return results, nil
}

// DeleteJob removes the job's objects and then the job. A dispatch or a
// callback still in flight finds the job gone and does nothing.
func (s *JobService) DeleteJob(ctx context.Context, jobID uuid.UUID, callerID string) error {
	tracer := s.logger.WithContext(ctx).Operation("delete_job").WithUUID("job_id", jobID).Build()

	job, err := s.getOwnedJob(ctx, jobID, callerID, nil)
	if err != nil {
		return err
	}

	for _, key := range storageKeys(*job) {
		if err := s.issuer.DeleteObject(ctx, key); err != nil {
			tracer.Error(err).Log()
			return err
		}
		tracer.Step("object_deleted").WithString("key", key).Log()
	}

	if err := s.store.Job().Delete(ctx, jobID); err != nil {
		tracer.Error(err).Log()
		return err
	}

	publish(ctx, s.events, events.JobDeletedKind, *job)
	tracer.Success().Log()
	return nil
}

// CountJobsByStatus feeds the job status gauge.
func (s *JobService) CountJobsByStatus(ctx context.Context) (map[string]int64, error) {
	counts, err := s.store.Job().CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	result := make(map[string]int64, len(counts))
	for status, total := range counts {
		result[string(status)] = total
	}
	return result, nil
}

func (s *JobService) getOwnedJob(ctx context.Context, jobID uuid.UUID, callerID string, opts *store.JobQueryOptions) (*model.Job, error) {
	job, err := s.store.Job().Get(ctx, jobID, opts)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(jobID)
		}
		return nil, err
	}

	if job.OwnerID != callerID {
		return nil, NewErrJobAccessForbidden(jobID)
	}
	return job, nil
}

// assembleResult signs fresh download URLs on every call. A URL that cannot
// be signed is left out; the rest of the result is still returned.
func (s *JobService) assembleResult(ctx context.Context, tracer *log.OperationTracer, job model.Job) api.JobResult {
	var originalURL, processedURL *string
	if job.SourceKey != nil {
		originalURL = s.signDownload(ctx, tracer, job.ID, *job.SourceKey)
	}
	if job.ResultKey != nil && job.Status == model.JobStatusCompleted {
		processedURL = s.signDownload(ctx, tracer, job.ID, *job.ResultKey)
	}

	result, dropped := mappers.JobToResult(job, originalURL, processedURL)
	for _, d := range dropped {
		tracer.Step("detection_skipped").WithUUID("job_id", job.ID).WithInt("index", d.Index).WithString("cause", d.Err.Error()).Log()
	}
	return result
}

func (s *JobService) signDownload(ctx context.Context, tracer *log.OperationTracer, jobID uuid.UUID, key string) *string {
	u, err := s.issuer.IssueDownloadURL(ctx, key, s.cfg.DownloadURLTTL)
	if err != nil {
		tracer.Step("sign_download_failed").WithUUID("job_id", jobID).WithString("key", key).WithString("cause", err.Error()).Log()
		return nil
	}
	return &u
}

// storageKeys lists the distinct objects a job may own.
func storageKeys(job model.Job) []string {
	candidates := []string{job.UploadKey}
	if job.SourceKey != nil {
		candidates = append(candidates, *job.SourceKey)
	}
	if job.ResultKey != nil {
		candidates = append(candidates, *job.ResultKey)
	}
	return funk.UniqString(funk.FilterString(candidates, func(k string) bool { return k != "" }))
}
