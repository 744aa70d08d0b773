package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ObjectType string

const (
	ObjectTypeFace         ObjectType = "FACE"
	ObjectTypeLicensePlate ObjectType = "LICENSE_PLATE"
	ObjectTypeCustomObject ObjectType = "CUSTOM_OBJECT"
)

var labelObjectTypes = map[string]ObjectType{
	"face":          ObjectTypeFace,
	"human head":    ObjectTypeFace,
	"license plate": ObjectTypeLicensePlate,
}

// ObjectTypeFromLabel maps a worker label to its category. Unknown labels are custom objects.
func ObjectTypeFromLabel(label string) ObjectType {
	if t, found := labelObjectTypes[strings.ToLower(strings.TrimSpace(label))]; found {
		return t
	}
	return ObjectTypeCustomObject
}

// Detection is owned by a single Job. JobID is a lookup reference only.
type Detection struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	JobID          uuid.UUID `gorm:"not null;type:VARCHAR(255);index:detections_job_id_idx"`
	ClassID        *int
	Label          string     `gorm:"type:VARCHAR(100)"`
	ObjectType     ObjectType `gorm:"not null;type:VARCHAR(30)"`
	Confidence     float64    `gorm:"not null"`
	BoundingBox    string     `gorm:"type:TEXT"`
	FrameNumber    *int
	MaskingApplied bool      `gorm:"not null;default:false"`
	DetectedAt     time.Time `gorm:"not null;autoCreateTime"`
}

// BoundingBox is a pixel region as reported by the worker.
type BoundingBox [4]int

// EncodeBoundingBox serializes a worker bbox for storage. It must have exactly four components.
func EncodeBoundingBox(bbox []int) (string, error) {
	if len(bbox) != len(BoundingBox{}) {
		return "", fmt.Errorf("bounding box must have 4 components, got %d", len(bbox))
	}
	val, err := json.Marshal(bbox)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// ParseBoundingBox is the inverse of EncodeBoundingBox.
func ParseBoundingBox(raw string) (BoundingBox, error) {
	var values []int
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return BoundingBox{}, fmt.Errorf("malformed bounding box %q: %w", raw, err)
	}
	if len(values) != len(BoundingBox{}) {
		return BoundingBox{}, fmt.Errorf("malformed bounding box %q: expected 4 components", raw)
	}
	return BoundingBox{values[0], values[1], values[2], values[3]}, nil
}
