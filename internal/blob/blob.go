package blob

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// URLIssuer hands out time-limited URLs for direct object access and removes
// objects. Implementations must treat deleting a missing object as success.
type URLIssuer interface {
	IssueUploadURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	IssueDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	DeleteObject(ctx context.Context, key string) error
}

const (
	originalPrefix  = "original"
	processedPrefix = "processed"
	maxNameLength   = 200
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// UploadKey is the object key a client uploads the original media to. The
// nonce must be freshly random and unrelated to the job id, since the job id
// is what authenticates the worker callback.
func UploadKey(nonce uuid.UUID, filename string) string {
	return fmt.Sprintf("%s/%s_%s", originalPrefix, nonce, SanitizeFilename(filename))
}

// ResultKey is the object key the worker writes the masked media of a job to.
func ResultKey(jobID uuid.UUID) string {
	return fmt.Sprintf("%s/masked_%s.mp4", processedPrefix, jobID)
}

// SanitizeFilename keeps the base name of filename restricted to characters
// that are safe in an object key and in a presigned URL.
func SanitizeFilename(filename string) string {
	name := unsafeChars.ReplaceAllString(path.Base(filename), "_")
	if name == "." || name == "/" || name == "" || name == ".." {
		name = "upload"
	}
	if len(name) > maxNameLength {
		name = name[len(name)-maxNameLength:]
	}
	return name
}
