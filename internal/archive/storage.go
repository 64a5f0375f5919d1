package archive

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"canvas-aux/internal/config"
	"canvas-aux/internal/errors"
)

// Provider names a storage backend
type Provider string

const (
	ProviderLocal Provider = "local"
	ProviderS3    Provider = "s3"
	ProviderGCS   Provider = "gcs"
	ProviderAzure Provider = "azure"
)

// Object describes a stored archive
type Object struct {
	Name     string    `json:"name" yaml:"name"`
	Size     int64     `json:"size" yaml:"size"`
	Modified time.Time `json:"modified" yaml:"modified"`
}

// Store is where published archives end up
type Store interface {
	// Put stores data under name and returns its location
	Put(ctx context.Context, name string, data []byte, metadata map[string]string) (string, error)
	// List returns the stored archives
	List(ctx context.Context) ([]Object, error)
	Close() error
}

// NewStore creates the store selected by the [ARCHIVE] section
func NewStore(ctx context.Context, cfg config.ArchiveSection) (Store, error) {
	switch Provider(strings.ToLower(cfg.Provider)) {
	case ProviderLocal, "":
		if cfg.LocalPath == "" {
			return nil, errors.NewConfigurationError("ARCHIVE.local_path is required for the local provider", nil)
		}
		return NewLocalStore(cfg.LocalPath)

	case ProviderS3:
		if cfg.Bucket == "" || cfg.Region == "" {
			return nil, errors.NewConfigurationError("ARCHIVE.bucket and ARCHIVE.region are required for the s3 provider", nil)
		}
		return NewS3Store(cfg.Region, cfg.Bucket, cfg.Prefix)

	case ProviderGCS:
		if cfg.Bucket == "" {
			return nil, errors.NewConfigurationError("ARCHIVE.bucket is required for the gcs provider", nil)
		}
		return NewGCSStore(ctx, cfg.Bucket, cfg.Prefix, cfg.CredentialsFile)

	case ProviderAzure:
		if cfg.AccountName == "" || cfg.Container == "" || cfg.AccountKeyEnv == "" {
			return nil, errors.NewConfigurationError(
				"ARCHIVE.account_name, ARCHIVE.container and ARCHIVE.account_key_env are required for the azure provider", nil)
		}
		key := os.Getenv(cfg.AccountKeyEnv)
		if key == "" {
			return nil, errors.NewConfigurationError(fmt.Sprintf("environment variable %s is not set", cfg.AccountKeyEnv), nil)
		}
		return NewAzureStore(cfg.AccountName, key, cfg.Container, cfg.Prefix)
	}

	return nil, errors.NewConfigurationError(fmt.Sprintf("unsupported archive provider: %s", cfg.Provider), nil)
}

// objectKey joins a prefix and a name with exactly one slash
func objectKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
