package blob

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const noSuchKey = "NoSuchKey"

type MinioOpts func(c *minioConfig)

type minioConfig struct {
	endpoint        string
	bucket          string
	accessKey       string
	secretAccessKey string
	region          string
	useSSL          bool
}

func newConfig(opts ...MinioOpts) *minioConfig {
	cfg := &minioConfig{
		useSSL: false,
		region: "us-east-1",
	}

	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// MinioIssuer presigns URLs against any S3 compatible store.
type MinioIssuer struct {
	cfg    *minioConfig
	client *minio.Client
}

// Make sure we conform to URLIssuer interface
var _ URLIssuer = (*MinioIssuer)(nil)

func NewMinioIssuer(opts ...MinioOpts) (*MinioIssuer, error) {
	cfg := newConfig(opts...)

	// The region is fixed so presigning never needs a bucket location lookup.
	minioClient, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
		Region: cfg.region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create the object storage client")
	}

	return &MinioIssuer{cfg: cfg, client: minioClient}, nil
}

// IssueUploadURL presigns a PUT. The client must send the same Content-Type.
func (m *MinioIssuer) IssueUploadURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	headers := http.Header{}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}

	u, err := m.client.PresignHeader(ctx, http.MethodPut, m.cfg.bucket, key, ttl, url.Values{}, headers)
	if err != nil {
		return "", errors.Wrapf(err, "failed to presign upload of %q", key)
	}
	return u.String(), nil
}

func (m *MinioIssuer) IssueDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.cfg.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", errors.Wrapf(err, "failed to presign download of %q", key)
	}
	return u.String(), nil
}

func (m *MinioIssuer) DeleteObject(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.cfg.bucket, key, minio.RemoveObjectOptions{})
	if err == nil {
		return nil
	}
	if minio.ToErrorResponse(err).Code == noSuchKey {
		zap.S().Named("blob").Debugw("object already removed", "key", key)
		return nil
	}
	return errors.Wrapf(err, "failed to delete %q", key)
}

// EnsureBucket creates the bucket when it does not exist yet.
func (m *MinioIssuer) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.cfg.bucket)
	if err != nil {
		return errors.Wrapf(err, "failed to check bucket %q", m.cfg.bucket)
	}
	if exists {
		return nil
	}

	if err := m.client.MakeBucket(ctx, m.cfg.bucket, minio.MakeBucketOptions{Region: m.cfg.region}); err != nil {
		return errors.Wrapf(err, "failed to create bucket %q", m.cfg.bucket)
	}
	zap.S().Named("blob").Infow("bucket created", "bucket", m.cfg.bucket)
	return nil
}

func WithEndpoint(endpoint string) MinioOpts {
	return func(c *minioConfig) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) MinioOpts {
	return func(c *minioConfig) {
		c.bucket = bucket
	}
}

func WithAccessKey(accessKey string) MinioOpts {
	return func(c *minioConfig) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) MinioOpts {
	return func(c *minioConfig) {
		c.secretAccessKey = secretKey
	}
}

func WithRegion(region string) MinioOpts {
	return func(c *minioConfig) {
		if region != "" {
			c.region = region
		}
	}
}

func WithSSL(useSSL bool) MinioOpts {
	return func(c *minioConfig) {
		c.useSSL = useSSL
	}
}
