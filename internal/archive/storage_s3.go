package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Store keeps archives in an S3 bucket. Credentials come from the
// standard AWS environment and shared configuration.
type S3Store struct {
	client *s3.S3
	bucket string
	prefix string
}

// NewS3Store creates an S3 client for the bucket
func NewS3Store(region, bucket, prefix string) (*S3Store, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            aws.Config{Region: aws.String(region)},
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Store{client: s3.New(sess), bucket: bucket, prefix: prefix}, nil
}

// Put uploads the archive
func (s *S3Store) Put(ctx context.Context, name string, data []byte, metadata map[string]string) (string, error) {
	key := objectKey(s.prefix, name)

	meta := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		meta[k] = aws.String(v)
	}

	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    meta,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive to S3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// List returns the archives under the prefix
func (s *S3Store) List(ctx context.Context) ([]Object, error) {
	prefix := objectKey(s.prefix, "")

	var objects []Object
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Name:     strings.TrimPrefix(aws.StringValue(obj.Key), prefix),
				Size:     aws.Int64Value(obj.Size),
				Modified: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list archives in S3: %w", err)
	}
	return objects, nil
}

// Close is a no-op
func (s *S3Store) Close() error {
	return nil
}
