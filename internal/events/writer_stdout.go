package events

import (
	"context"
	"encoding/json"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"
)

// StdoutWriter logs job events instead of sending them. It is used when no
// broker is configured, so the job history can still be followed in the logs.
type StdoutWriter struct{}

func (s *StdoutWriter) Write(_ context.Context, topic string, e cloudevents.Event) error {
	logger := zap.L().Named("job_events").With(
		zap.String("topic", topic),
		zap.String("event_id", e.ID()),
		zap.String("type", e.Type()),
	)

	var payload JobEvent
	if err := json.Unmarshal(e.Data(), &payload); err != nil {
		logger.Warn("job event with unreadable payload", zap.ByteString("data", e.Data()), zap.Error(err))
		return nil
	}

	fields := []zap.Field{
		zap.String("job_id", payload.JobID),
		zap.String("owner_id", payload.OwnerID),
		zap.String("status", payload.Status),
	}
	if payload.Reason != "" {
		fields = append(fields, zap.String("reason", payload.Reason))
	}
	if payload.DetectionCount != nil {
		fields = append(fields, zap.Int("detections", *payload.DetectionCount))
	}
	logger.Info("job event", fields...)
	return nil
}

func (s *StdoutWriter) Close(_ context.Context) error {
	return nil
}
