package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusUploaded   JobStatus = "UPLOADED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// CanTransitionTo reports whether the job state machine allows moving from s to next.
// Terminal states have no outgoing transitions.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusUploaded:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

func (s JobStatus) String() string {
	return string(s)
}

type Job struct {
	ID           uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(255);"`
	OwnerID      string    `gorm:"not null;type:VARCHAR(256);index:jobs_owner_id_idx"`
	Owner        *User     `gorm:"foreignKey:OwnerID;references:Username" json:"-"`
	OriginalName string    `gorm:"not null"`
	ContentType  string    `gorm:"not null;type:VARCHAR(255)"`
	Status       JobStatus `gorm:"not null;type:VARCHAR(20);index:jobs_status_idx"`

	UploadKey string  `gorm:"not null;type:VARCHAR(500)"`
	SourceKey *string `gorm:"type:VARCHAR(500)"`
	ResultKey *string `gorm:"type:VARCHAR(500)"`

	FileSizeBytes    *int64
	FrameCount       *int
	ProcessingTimeMs *int64
	FailureReason    *string

	UniqueFaceCount    *int
	UniquePlateCount   *int
	UniqueCustomCount  *int
	TotalUniqueObjects *int

	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
	DispatchedAt *time.Time
	ProcessedAt  *time.Time

	// Detections are loaded by lookup on detections.job_id and written only
	// by the store when the job completes. Saving a Job never touches them.
	Detections []Detection `gorm:"foreignKey:JobID;references:ID;constraint:OnDelete:CASCADE"`
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}

// DispatchUpdate holds the fields persisted with the UPLOADED -> PROCESSING transition.
type DispatchUpdate struct {
	SourceKey     string
	ResultKey     string
	FileSizeBytes int64
	DispatchedAt  time.Time
}

// CompletionUpdate holds the fields persisted with the PROCESSING -> COMPLETED transition.
type CompletionUpdate struct {
	FrameCount         *int
	ProcessingTimeMs   *int64
	UniqueFaceCount    *int
	UniquePlateCount   *int
	UniqueCustomCount  *int
	TotalUniqueObjects *int
	ProcessedAt        time.Time
	Detections         []Detection
}
