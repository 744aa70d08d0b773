package mappers

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	api "github.com/safemasking/masking-api/api/v1alpha1"
	"github.com/safemasking/masking-api/internal/store/model"
	"github.com/safemasking/masking-api/internal/worker"
)

func JobFromInitUpload(id uuid.UUID, ownerID string, form api.InitUploadRequest, uploadKey string) model.Job {
	return model.Job{
		ID:           id,
		OwnerID:      ownerID,
		OriginalName: strings.TrimSpace(form.Filename),
		ContentType:  NormalizeContentType(form.ContentType),
		Status:       model.JobStatusUploaded,
		UploadKey:    uploadKey,
	}
}

func NormalizeContentType(contentType string) string {
	return strings.ToLower(strings.TrimSpace(contentType))
}

// MaskingOptionsToWorker translates the client flags into the worker option shape.
// Blur and swap are complements of UseAvatar.
func MaskingOptionsToWorker(opts api.MaskingOptions) worker.MaskingOptions {
	wo := worker.MaskingOptions{
		Face:         opts.Face,
		LicensePlate: opts.LicensePlate,
		CustomObject: opts.CustomObject,
		Blur:         !opts.UseAvatar,
		Swap:         opts.UseAvatar,
	}
	if opts.CustomObject {
		wo.CustomObjectName = strings.TrimSpace(opts.CustomObjectName)
	}
	return wo
}

// DroppedDetection describes a reported detection that could not be stored.
type DroppedDetection struct {
	Index int
	Label string
	Err   error
}

// CompletionFromCallback builds the completion of a job from the worker report.
// Detections with a malformed bounding box are left out and returned separately.
func CompletionFromCallback(req api.CallbackRequest, processedAt time.Time) (model.CompletionUpdate, []DroppedDetection) {
	update := model.CompletionUpdate{
		FrameCount:       req.FrameCount,
		ProcessingTimeMs: req.ProcessingTimeMs,
		ProcessedAt:      processedAt,
		Detections:       make([]model.Detection, 0, len(req.Detections)),
	}

	if req.Statistics != nil {
		update.UniqueFaceCount = req.Statistics.FaceCount
		update.UniquePlateCount = req.Statistics.LicensePlateCount
		update.UniqueCustomCount = req.Statistics.CustomObjectCount
		update.TotalUniqueObjects = req.Statistics.TotalUniqueObjects
	}

	var dropped []DroppedDetection
	for i, d := range req.Detections {
		bbox, err := encodeReportedBoundingBox(d.Bbox)
		if err != nil {
			dropped = append(dropped, DroppedDetection{Index: i, Label: d.Label, Err: err})
			continue
		}

		update.Detections = append(update.Detections, model.Detection{
			ClassID:        d.ClassId,
			Label:          d.Label,
			ObjectType:     model.ObjectTypeFromLabel(d.Label),
			Confidence:     ClampConfidence(d.Confidence),
			BoundingBox:    bbox,
			FrameNumber:    d.FrameNumber,
			MaskingApplied: true,
			DetectedAt:     processedAt,
		})
	}

	return update, dropped
}

// ClampConfidence forces a reported confidence into [0,1]. Missing or NaN is 0.
func ClampConfidence(c *float64) float64 {
	if c == nil || math.IsNaN(*c) {
		return 0
	}
	return math.Max(0, math.Min(1, *c))
}

// encodeReportedBoundingBox rounds the worker's box to whole pixels. Every
// component must be a finite number within the int32 range.
func encodeReportedBoundingBox(raw json.RawMessage) (string, error) {
	var values []float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return "", fmt.Errorf("malformed bounding box %s: %w", string(raw), err)
	}
	bbox := make([]int, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < math.MinInt32 || v > math.MaxInt32 {
			return "", fmt.Errorf("bounding box component %v out of range", v)
		}
		bbox = append(bbox, int(math.Round(v)))
	}
	return model.EncodeBoundingBox(bbox)
}
