package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// StorageConfig locates an S3-compatible bucket holding exports.
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
}

// Enabled reports whether object storage is configured.
func (c StorageConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// ObjectClient is the subset of the minio client used by ObjectStore.
type ObjectClient interface {
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type minioClient struct {
	*minio.Client
}

func (c minioClient) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return c.Client.GetObject(ctx, bucketName, objectName, opts)
}

// NewObjectClient connects to the endpoint in cfg. The connection is lazy.
func NewObjectClient(cfg StorageConfig) (ObjectClient, error) {
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	c, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return minioClient{Client: c}, nil
}

// ObjectStore keeps exports as objects in a bucket.
type ObjectStore struct {
	client ObjectClient
	bucket string
}

// NewObjectStore creates a store writing to bucket.
func NewObjectStore(client ObjectClient, bucket string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket}
}

// Open downloads the export object. The body is read eagerly so that a
// missing object surfaces here rather than on first read.
func (s *ObjectStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	reader, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.openError(name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, s.openError(name, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *ObjectStore) openError(name string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, s.bucket, name)
	}
	return fmt.Errorf("failed to get export %s/%s: %w", s.bucket, name, err)
}

// Replace buffers the full export and uploads it in one PUT, so readers
// never observe a partial object.
func (s *ObjectStore) Replace(ctx context.Context, name string, write func(w io.Writer) error) error {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(buf.Bytes()), int64(buf.Len()),
		minio.PutObjectOptions{ContentType: "text/csv"})
	if err != nil {
		return fmt.Errorf("failed to upload export %s/%s: %w", s.bucket, name, err)
	}
	return nil
}
