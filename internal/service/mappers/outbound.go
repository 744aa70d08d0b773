package mappers

import (
	api "github.com/safemasking/masking-api/api/v1alpha1"
	"github.com/safemasking/masking-api/internal/store/model"
)

var statusMessages = map[model.JobStatus]string{
	model.JobStatusUploaded:   "Upload complete",
	model.JobStatusProcessing: "Processing...",
	model.JobStatusCompleted:  "Processing complete",
	model.JobStatusFailed:     "Processing failed",
}

// StatusMessage is derived from the status alone.
func StatusMessage(status model.JobStatus) string {
	if msg, found := statusMessages[status]; found {
		return msg
	}
	return "Unknown status"
}

func JobStatusToApi(job model.Job) api.JobStatusResponse {
	return api.JobStatusResponse{
		JobId:   job.ID,
		Status:  api.StringToJobStatus(string(job.Status)),
		Message: StatusMessage(job.Status),
	}
}

// JobToResult assembles the result view of a job. Detections whose stored
// bounding box cannot be parsed are skipped and returned separately.
func JobToResult(job model.Job, originalURL, processedURL *string) (api.JobResult, []DroppedDetection) {
	result := api.JobResult{
		JobId:                job.ID,
		OriginalFilename:     job.OriginalName,
		ContentType:          job.ContentType,
		Status:               api.StringToJobStatus(string(job.Status)),
		FailureReason:        job.FailureReason,
		OriginalDownloadUrl:  originalURL,
		ProcessedDownloadUrl: processedURL,
		FileSizeBytes:        job.FileSizeBytes,
		FrameCount:           job.FrameCount,
		ProcessingTimeMs:     job.ProcessingTimeMs,
		Detections:           make([]api.Detection, 0, len(job.Detections)),
		UploadedAt:           job.CreatedAt,
		ProcessedAt:          job.ProcessedAt,
	}

	var dropped []DroppedDetection
	for i, d := range job.Detections {
		bbox, err := model.ParseBoundingBox(d.BoundingBox)
		if err != nil {
			dropped = append(dropped, DroppedDetection{Index: i, Label: d.Label, Err: err})
			continue
		}
		result.Detections = append(result.Detections, api.Detection{
			Id:             d.ID,
			ClassId:        d.ClassID,
			Label:          d.Label,
			ObjectType:     string(d.ObjectType),
			Confidence:     d.Confidence,
			Bbox:           bbox,
			FrameNumber:    d.FrameNumber,
			MaskingApplied: d.MaskingApplied,
		})
	}

	result.Statistics = StatisticsFromDetections(result.Detections)

	if job.TotalUniqueObjects != nil || job.UniqueFaceCount != nil || job.UniquePlateCount != nil || job.UniqueCustomCount != nil {
		result.UniqueObjects = &api.UniqueObjects{
			Total:             job.TotalUniqueObjects,
			FaceCount:         job.UniqueFaceCount,
			LicensePlateCount: job.UniquePlateCount,
			CustomObjectCount: job.UniqueCustomCount,
		}
	}

	return result, dropped
}

// StatisticsFromDetections counts detections per object type. The average
// confidence of an empty list is 0.
func StatisticsFromDetections(detections []api.Detection) api.DetectionStatistics {
	stats := api.DetectionStatistics{TotalDetections: len(detections)}
	if len(detections) == 0 {
		return stats
	}

	sum := 0.0
	for _, d := range detections {
		sum += d.Confidence
		switch model.ObjectType(d.ObjectType) {
		case model.ObjectTypeFace:
			stats.FaceCount++
		case model.ObjectTypeLicensePlate:
			stats.LicensePlateCount++
		default:
			stats.CustomObjectCount++
		}
	}
	stats.AverageConfidence = sum / float64(len(detections))

	return stats
}
