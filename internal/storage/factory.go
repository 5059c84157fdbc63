package storage

import (
	"context"
	"fmt"

	apperrors "github.com/UoA-eResearch/s3backupdb/internal/errors"
)

// ProviderType identifies a storage backend
type ProviderType string

const (
	ProviderS3    ProviderType = "s3"
	ProviderGCS   ProviderType = "gcs"
	ProviderAzure ProviderType = "azure"
)

// Config selects a provider and carries its settings
type Config struct {
	Provider ProviderType
	S3       *S3Config
	GCS      *GCSConfig
	Azure    *AzureConfig
}

// Validate checks that the selected provider's configuration is present and valid
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderS3:
		return c.S3.Validate()
	case ProviderGCS:
		return c.GCS.Validate()
	case ProviderAzure:
		return c.Azure.Validate()
	default:
		return apperrors.NewConfigurationError(
			fmt.Sprintf("unsupported storage provider: %s", c.Provider), nil)
	}
}

// NewObjectStore creates an ObjectStore for the configured provider
func NewObjectStore(ctx context.Context, config Config) (ObjectStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Provider {
	case ProviderS3:
		return NewS3Store(config.S3)
	case ProviderGCS:
		return NewGCSStore(ctx, config.GCS)
	case ProviderAzure:
		return NewAzureStore(config.Azure)
	default:
		return nil, apperrors.NewConfigurationError(
			fmt.Sprintf("unsupported storage provider: %s", config.Provider), nil)
	}
}

// SupportedProviders lists the providers the factory can create
func SupportedProviders() []ProviderType {
	return []ProviderType{ProviderS3, ProviderGCS, ProviderAzure}
}
