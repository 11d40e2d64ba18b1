package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSStore keeps artifacts as objects under bucket/prefix.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
	log    *slog.Logger
}

var _ Store = (*GCSStore)(nil)

// NewGCSStore uses Application Default Credentials.
func NewGCSStore(ctx context.Context, bucket, prefix string, logger *slog.Logger) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSStore{
		client: client,
		bucket: client.Bucket(bucket),
		name:   bucket,
		prefix: prefix,
		log:    logger,
	}, nil
}

func (s *GCSStore) object(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *GCSStore) Put(ctx context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	objectName := s.object(name)
	writer := s.bucket.Object(objectName).NewWriter(ctx)
	writer.ContentType = "application/json; charset=utf-8"
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return s.writeErr(objectName, err)
	}
	if err := writer.Close(); err != nil {
		return s.writeErr(objectName, err)
	}
	s.log.Debug("artifacts.gcs.put", "bucket", s.name, "object", objectName, "bytes", len(data))
	return nil
}

// writeErr logs the HTTP status of API errors.
func (s *GCSStore) writeErr(objectName string, err error) error {
	status := 0
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		status = gerr.Code
	}
	s.log.Error("artifacts.gcs.write_error", "bucket", s.name, "object", objectName, "status", status, "error", err)
	if status == http.StatusForbidden || status == http.StatusUnauthorized {
		return fmt.Errorf("write gs://%s/%s: permission denied: %w", s.name, objectName, err)
	}
	return fmt.Errorf("write gs://%s/%s: %w", s.name, objectName, err)
}

func (s *GCSStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	objectName := s.object(name)
	r, err := s.bucket.Object(objectName).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", ErrNotFound, s.name, objectName)
	}
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", s.name, objectName, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GCSStore) Location() string {
	if s.prefix == "" {
		return "gs://" + s.name
	}
	return "gs://" + s.name + "/" + s.prefix
}

func (s *GCSStore) Close() error { return s.client.Close() }
