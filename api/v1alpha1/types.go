package v1alpha1

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

// InitUploadRequest asks for a new job and a URL to upload its media to.
type InitUploadRequest struct {
	Filename    string `json:"filename" validate:"required,not_blank,max=255"`
	ContentType string `json:"contentType" validate:"required,content_type"`
}

type InitUploadResponse struct {
	JobId     uuid.UUID `json:"jobId"`
	UploadUrl string    `json:"uploadUrl"`
	SourceKey string    `json:"sourceKey"`
	// ExpiresIn is the validity of UploadUrl in seconds.
	ExpiresIn int64 `json:"expiresIn"`
}

type MaskingOptions struct {
	Face             bool   `json:"face"`
	LicensePlate     bool   `json:"licensePlate"`
	CustomObject     bool   `json:"customObject"`
	CustomObjectName string `json:"customObjectName,omitempty" validate:"max=100"`
	UseAvatar        bool   `json:"useAvatar"`
}

// ProcessRequest confirms the upload and starts processing. An empty
// SourceKey means the key returned by init-upload.
type ProcessRequest struct {
	SourceKey      string         `json:"sourceKey,omitempty"`
	FileSize       int64          `json:"fileSize" validate:"gte=0"`
	MaskingOptions MaskingOptions `json:"maskingOptions"`
}

// CallbackRequest is sent by the worker once processing is done.
type CallbackRequest struct {
	JobId            string              `json:"jobId" validate:"required"`
	MaskedUrl        string              `json:"maskedUrl,omitempty"`
	FrameCount       *int                `json:"frameCount,omitempty"`
	ProcessingTimeMs *int64              `json:"processingTimeMs,omitempty"`
	Detections       []CallbackDetection `json:"detections,omitempty"`
	Statistics       *CallbackStatistics `json:"statistics,omitempty"`
}

// CallbackDetection is one detection reported by the worker. Bbox is kept raw
// so a malformed box only invalidates its own detection, not the callback.
type CallbackDetection struct {
	FrameNumber *int            `json:"frameNumber,omitempty"`
	ClassId     *int            `json:"classId,omitempty"`
	Label       string          `json:"label"`
	Confidence  *float64        `json:"confidence,omitempty"`
	Bbox        json.RawMessage `json:"bbox"`
}

// CallbackStatistics counts unique tracked objects, as opposed to per frame detections.
type CallbackStatistics struct {
	TotalUniqueObjects   *int     `json:"totalUniqueObjects,omitempty"`
	FaceCount            *int     `json:"faceCount,omitempty"`
	LicensePlateCount    *int     `json:"licensePlateCount,omitempty"`
	CustomObjectCount    *int     `json:"customObjectCount,omitempty"`
	TotalDetectionEvents *int     `json:"totalDetectionEvents,omitempty"`
	AverageConfidence    *float64 `json:"averageConfidence,omitempty"`
}

type JobStatusResponse struct {
	JobId   uuid.UUID `json:"jobId"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
}

type JobResult struct {
	JobId                uuid.UUID           `json:"jobId"`
	OriginalFilename     string              `json:"originalFilename"`
	ContentType          string              `json:"contentType"`
	Status               JobStatus           `json:"status"`
	FailureReason        *string             `json:"failureReason,omitempty"`
	OriginalDownloadUrl  *string             `json:"originalDownloadUrl,omitempty"`
	ProcessedDownloadUrl *string             `json:"processedDownloadUrl,omitempty"`
	FileSizeBytes        *int64              `json:"fileSizeBytes,omitempty"`
	FrameCount           *int                `json:"frameCount,omitempty"`
	ProcessingTimeMs     *int64              `json:"processingTimeMs,omitempty"`
	Detections           []Detection         `json:"detections"`
	Statistics           DetectionStatistics `json:"statistics"`
	UniqueObjects        *UniqueObjects      `json:"uniqueObjects,omitempty"`
	UploadedAt           time.Time           `json:"uploadedAt"`
	ProcessedAt          *time.Time          `json:"processedAt,omitempty"`
}

type Detection struct {
	Id             uint    `json:"id"`
	ClassId        *int    `json:"classId,omitempty"`
	Label          string  `json:"label"`
	ObjectType     string  `json:"objectType"`
	Confidence     float64 `json:"confidence"`
	Bbox           [4]int  `json:"bbox"`
	FrameNumber    *int    `json:"frameNumber,omitempty"`
	MaskingApplied bool    `json:"maskingApplied"`
}

type DetectionStatistics struct {
	TotalDetections   int     `json:"totalDetections"`
	FaceCount         int     `json:"faceCount"`
	LicensePlateCount int     `json:"licensePlateCount"`
	CustomObjectCount int     `json:"customObjectCount"`
	AverageConfidence float64 `json:"averageConfidence"`
}

// UniqueObjects holds the tracked object counts reported by the worker.
type UniqueObjects struct {
	Total             *int `json:"total,omitempty"`
	FaceCount         *int `json:"faceCount,omitempty"`
	LicensePlateCount *int `json:"licensePlateCount,omitempty"`
	CustomObjectCount *int `json:"customObjectCount,omitempty"`
}

type Status struct {
	Message string `json:"message"`
}

type Error struct {
	Message   string  `json:"message"`
	RequestId *string `json:"requestId,omitempty"`
}
