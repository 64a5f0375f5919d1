package archive

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureStore keeps archives in an Azure Blob Storage container
type AzureStore struct {
	container azblob.ContainerURL
	name      string
	prefix    string
}

// NewAzureStore authenticates with a shared account key
func NewAzureStore(accountName, accountKey, container, prefix string) (*AzureStore, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credentials: %w", err)
	}

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", accountName))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Azure service URL: %w", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	service := azblob.NewServiceURL(*serviceURL, pipeline)

	return &AzureStore{
		container: service.NewContainerURL(container),
		name:      container,
		prefix:    prefix,
	}, nil
}

// Put uploads the archive as a block blob
func (s *AzureStore) Put(ctx context.Context, name string, data []byte, metadata map[string]string) (string, error) {
	key := objectKey(s.prefix, name)

	_, err := azblob.UploadBufferToBlockBlob(ctx, data, s.container.NewBlockBlobURL(key), azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 4,
		Metadata:    azblob.Metadata(metadata),
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive to Azure: %w", err)
	}
	return fmt.Sprintf("azure://%s/%s", s.name, key), nil
}

// List returns the archives under the prefix
func (s *AzureStore) List(ctx context.Context) ([]Object, error) {
	prefix := objectKey(s.prefix, "")

	var objects []Object
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := s.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{Prefix: prefix})
		if err != nil {
			return nil, fmt.Errorf("failed to list archives in Azure: %w", err)
		}

		for _, blob := range resp.Segment.BlobItems {
			var size int64
			if blob.Properties.ContentLength != nil {
				size = *blob.Properties.ContentLength
			}
			objects = append(objects, Object{
				Name:     strings.TrimPrefix(blob.Name, prefix),
				Size:     size,
				Modified: blob.Properties.LastModified,
			})
		}
		marker = resp.NextMarker
	}
	return objects, nil
}

// Close is a no-op
func (s *AzureStore) Close() error {
	return nil
}
