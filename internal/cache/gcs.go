package cache

import (
	"context"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSBackend stores cache entries as objects in a Cloud Storage bucket.
type GCSBackend struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSBackend opens a storage client for bucket; objects live under prefix.
func NewGCSBackend(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSBackend, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create storage client")
	}
	return &GCSBackend{
		client: client,
		bucket: client.Bucket(bucket),
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// Close releases the storage client.
func (b *GCSBackend) Close() error {
	return b.client.Close()
}

func (b *GCSBackend) object(key string) (*storage.ObjectHandle, error) {
	if !validKey(key) {
		return nil, errors.Errorf("invalid cache key %q", key)
	}
	return b.bucket.Object(path.Join(b.prefix, key+".json")), nil
}

// Get downloads the entry for key.
func (b *GCSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.object(key)
	if err != nil {
		return nil, err
	}

	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "open cache object %s", key)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read cache object %s", key)
	}
	return data, nil
}

// Create uploads with a does-not-exist precondition.
func (b *GCSBackend) Create(ctx context.Context, key string, data []byte) (bool, error) {
	obj, err := b.object(key)
	if err != nil {
		return false, err
	}

	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"
	// Entries are small; upload in a single request.
	w.ChunkSize = 0
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return false, errors.Wrapf(err, "write cache object %s", key)
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return false, nil
		}
		return false, errors.Wrapf(err, "finalize cache object %s", key)
	}
	return true, nil
}

// Delete removes the object; a missing object is not an error.
func (b *GCSBackend) Delete(ctx context.Context, key string) error {
	obj, err := b.object(key)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrapf(err, "delete cache object %s", key)
	}
	return nil
}
