package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safemasking/masking-api/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const detectionBatchSize = 100

// Job persists jobs and their detections. Status changes go through the
// Mark* methods, which apply a transition only if the job is still in the
// expected source state.
type Job interface {
	Create(ctx context.Context, job model.Job) (*model.Job, error)
	Get(ctx context.Context, id uuid.UUID, opts *JobQueryOptions) (*model.Job, error)
	List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, update model.DispatchUpdate) (*model.Job, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) (*model.Job, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, update model.CompletionUpdate) (*model.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CountByStatus(ctx context.Context) (map[model.JobStatus]int64, error)
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = model.JobStatusUploaded
	}
	job.Detections = nil

	if err := s.getDB(ctx).Omit(clause.Associations).Create(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}

	return s.Get(ctx, job.ID, nil)
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID, opts *JobQueryOptions) (*model.Job, error) {
	var job model.Job
	tx := s.getDB(ctx)
	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	if err := tx.First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error) {
	var jobs model.JobList
	tx := s.getDB(ctx).Model(&jobs)

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	if err := tx.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *JobStore) MarkProcessing(ctx context.Context, id uuid.UUID, update model.DispatchUpdate) (*model.Job, error) {
	values := map[string]any{
		"source_key":      update.SourceKey,
		"result_key":      update.ResultKey,
		"file_size_bytes": update.FileSizeBytes,
		"dispatched_at":   update.DispatchedAt,
	}
	if err := transition(s.getDB(ctx), id, model.JobStatusUploaded, model.JobStatusProcessing, values); err != nil {
		return nil, err
	}
	return s.Get(ctx, id, nil)
}

func (s *JobStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) (*model.Job, error) {
	values := map[string]any{
		"failure_reason": reason,
		"processed_at":   at,
	}
	if err := transition(s.getDB(ctx), id, model.JobStatusProcessing, model.JobStatusFailed, values); err != nil {
		return nil, err
	}
	return s.Get(ctx, id, nil)
}

// MarkCompleted flips the job to COMPLETED and inserts its detections as one unit.
// Nothing is written unless the job is PROCESSING.
func (s *JobStore) MarkCompleted(ctx context.Context, id uuid.UUID, update model.CompletionUpdate) (*model.Job, error) {
	err := s.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		values := map[string]any{
			"frame_count":          update.FrameCount,
			"processing_time_ms":   update.ProcessingTimeMs,
			"unique_face_count":    update.UniqueFaceCount,
			"unique_plate_count":   update.UniquePlateCount,
			"unique_custom_count":  update.UniqueCustomCount,
			"total_unique_objects": update.TotalUniqueObjects,
			"processed_at":         update.ProcessedAt,
		}
		if err := transition(tx, id, model.JobStatusProcessing, model.JobStatusCompleted, values); err != nil {
			return err
		}

		if len(update.Detections) == 0 {
			return nil
		}

		detections := make([]model.Detection, 0, len(update.Detections))
		for _, d := range update.Detections {
			d.ID = 0
			d.JobID = id
			detections = append(detections, d)
		}
		if err := tx.CreateInBatches(&detections, detectionBatchSize).Error; err != nil {
			return fmt.Errorf("inserting detections: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, id, NewJobQueryOptions().WithDetections())
}

// Delete removes the job and its detections. Deleting a missing job is not an error.
// Detections committed by a callback racing the delete go with the job
// through the cascading foreign key.
func (s *JobStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&model.Detection{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&model.Job{}, "id = ?", id)
		if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}
		return nil
	})
}

func (s *JobStore) CountByStatus(ctx context.Context) (map[model.JobStatus]int64, error) {
	var rows []struct {
		Status model.JobStatus
		Total  int64
	}
	if err := s.getDB(ctx).Model(&model.Job{}).Select("status, COUNT(*) AS total").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[model.JobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}

// transition is a compare-and-set on the status column: the row is updated only
// while it still holds "from". This serializes writers of the same job without
// any application-level lock.
func transition(db *gorm.DB, id uuid.UUID, from, to model.JobStatus, values map[string]any) error {
	if !from.CanTransitionTo(to) {
		return ErrInvalidTransition
	}

	values["status"] = to
	result := db.Model(&model.Job{}).Where("id = ? AND status = ?", id, from).Updates(values)
	if result.Error != nil {
		return fmt.Errorf("updating job status: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := db.Model(&model.Job{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrRecordNotFound
	}
	return ErrInvalidTransition
}
