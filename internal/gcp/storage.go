package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

var (
	ErrInvalidGCSURI  = errors.New("invalid gs:// uri")
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectTooLarge = errors.New("object exceeds size limit")
)

// ParseGCSURI splits gs://bucket/path/to/object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidGCSURI, uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidGCSURI, uri)
	}
	return bucket, object, nil
}

// ObjectStore reads report PDFs and alias tables from Cloud Storage.
type ObjectStore struct {
	client *storage.Client
}

func NewObjectStore(ctx context.Context) (*ObjectStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return &ObjectStore{client: client}, nil
}

// ReadObject returns the object's bytes. A limit of zero or less disables
// the size check.
func (s *ObjectStore) ReadObject(ctx context.Context, bucket, object string, limit int64) ([]byte, error) {
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, mapStorageError(bucket, object, err)
	}
	defer r.Close()

	if limit > 0 && r.Attrs.Size > limit {
		return nil, fmt.Errorf("%w: gs://%s/%s is %d bytes", ErrObjectTooLarge, bucket, object, r.Attrs.Size)
	}
	var src io.Reader = r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, object, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectTooLarge, bucket, object)
	}
	return data, nil
}

// ReadURI is ReadObject for a gs:// uri.
func (s *ObjectStore) ReadURI(ctx context.Context, uri string, limit int64) ([]byte, error) {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	return s.ReadObject(ctx, bucket, object, limit)
}

func (s *ObjectStore) Close() error {
	return s.client.Close()
}

func mapStorageError(bucket, object string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, bucket, object)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusForbidden) {
		return fmt.Errorf("%w: gs://%s/%s: %v", ErrObjectNotFound, bucket, object, gerr)
	}
	return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
}
