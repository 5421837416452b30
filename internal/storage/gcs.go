package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore keeps objects in a Google Cloud Storage bucket, using the folder
// id as an object-name prefix. Objects are publicly readable through the
// bucket's public URL.
type GCSStore struct {
	client *gcs.Client
	bucket string
}

func NewGCSStore(ctx context.Context, bucket string, credentialsJSON []byte) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	var opts []option.ClientOption
	if len(credentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}

	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func objectKey(folderID string, name string) string {
	if folderID == "" {
		return name
	}
	return folderID + "/" + name
}

func (s *GCSStore) Find(ctx context.Context, folderID string, name string) (string, error) {
	key := objectKey(folderID, name)
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	return key, nil
}

func (s *GCSStore) Upload(ctx context.Context, folderID string, name string, contentType string, content io.Reader) (string, error) {
	key := objectKey(folderID, name)

	wc := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := io.Copy(wc, content); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("gcs upload %s: %w", key, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("gcs upload %s: %w", key, err)
	}
	return key, nil
}

func (s *GCSStore) PublicURL(_ context.Context, objectID string) (string, error) {
	return "https://storage.googleapis.com/" + s.bucket + "/" + objectID, nil
}
