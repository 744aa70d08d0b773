package events

import "time"

const (
	JobCreatedKind    string = "masking.jobs.created"
	JobProcessingKind string = "masking.jobs.processing"
	JobCompletedKind  string = "masking.jobs.completed"
	JobFailedKind     string = "masking.jobs.failed"
	JobDeletedKind    string = "masking.jobs.deleted"
)

// JobEvent is the payload of every job lifecycle event.
type JobEvent struct {
	JobID          string    `json:"job_id"`
	OwnerID        string    `json:"owner_id"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	FrameCount     *int      `json:"frame_count,omitempty"`
	DetectionCount *int      `json:"detection_count,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
