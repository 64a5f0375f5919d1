package archive

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore keeps archives in a Google Cloud Storage bucket
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a client from a credentials file, or from the
// default credentials when the path is empty.
func NewGCSStore(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

// Put uploads the archive
func (s *GCSStore) Put(ctx context.Context, name string, data []byte, metadata map[string]string) (string, error) {
	key := objectKey(s.prefix, name)

	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.Metadata = metadata

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to write archive to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to upload archive to GCS: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

// List returns the archives under the prefix
func (s *GCSStore) List(ctx context.Context) ([]Object, error) {
	prefix := objectKey(s.prefix, "")
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var objects []Object
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list archives in GCS: %w", err)
		}
		objects = append(objects, Object{
			Name:     strings.TrimPrefix(attrs.Name, prefix),
			Size:     attrs.Size,
			Modified: attrs.Updated,
		})
	}
	return objects, nil
}

// Close releases the client
func (s *GCSStore) Close() error {
	return s.client.Close()
}
