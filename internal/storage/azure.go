package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"

	"github.com/Azure/azure-storage-blob-go/azblob"

	apperrors "github.com/UoA-eResearch/s3backupdb/internal/errors"
	"github.com/UoA-eResearch/s3backupdb/internal/fingerprint"
)

// AzureConfig holds the settings for an Azure Blob Storage destination
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	// Endpoint overrides the default account endpoint, for Azurite and
	// sovereign clouds
	Endpoint string
}

// Validate checks the Azure configuration
func (c *AzureConfig) Validate() error {
	if c == nil {
		return apperrors.NewConfigurationError("Azure configuration is required", nil)
	}
	if c.AccountName == "" || c.AccountKey == "" {
		return apperrors.NewConfigurationError("Azure account name and key are required", nil)
	}
	if c.ContainerName == "" {
		return apperrors.NewConfigurationError("Azure container name is required", nil)
	}
	return nil
}

// AzureStore implements ObjectStore against Azure Blob Storage. The
// Content-MD5 property set at upload time serves as the fingerprint, so
// comparisons are plain MD5 regardless of how many blocks the upload used.
type AzureStore struct {
	container azblob.ContainerURL
	name      string
}

// NewAzureStore creates an AzureStore from the given configuration
func NewAzureStore(config *AzureConfig) (*AzureStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName)
	}
	serviceURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to parse Azure service URL", err)
	}

	service := azblob.NewServiceURL(*serviceURL, pipeline)
	return &AzureStore{
		container: service.NewContainerURL(config.ContainerName),
		name:      config.ContainerName,
	}, nil
}

// List returns every blob under the prefix
func (a *AzureStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := a.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: prefix,
		})
		if err != nil {
			return nil, apperrors.NewStorageError("failed to list blobs", err).
				WithContext("container", a.name).
				WithContext("prefix", prefix)
		}
		marker = resp.NextMarker

		for _, blob := range resp.Segment.BlobItems {
			var size int64
			if blob.Properties.ContentLength != nil {
				size = *blob.Properties.ContentLength
			}
			objects = append(objects, ObjectInfo{
				Key:          blob.Name,
				Size:         size,
				ETag:         hex.EncodeToString(blob.Properties.ContentMD5),
				LastModified: blob.Properties.LastModified,
			})
		}
	}

	return objects, nil
}

// Upload stores the file under key. The whole-file MD5 is computed locally
// and set as the blob's Content-MD5 so block-based uploads still carry a
// comparable fingerprint.
func (a *AzureStore) Upload(ctx context.Context, key, localPath string) (string, error) {
	md5Hex, err := fingerprint.Compute(localPath, fingerprint.PlainSpec())
	if err != nil {
		return "", err
	}
	md5Bytes, err := hex.DecodeString(md5Hex)
	if err != nil {
		return "", apperrors.NewIOError("failed to decode computed fingerprint", err).
			WithContext("path", localPath)
	}

	file, err := os.Open(localPath)
	if err != nil {
		return "", apperrors.NewIOError("failed to open file for upload", err).
			WithContext("path", localPath)
	}
	defer file.Close()

	blob := a.container.NewBlockBlobURL(key)
	_, err = azblob.UploadFileToBlockBlob(ctx, file, blob, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 1,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentMD5: md5Bytes,
		},
	})
	if err != nil {
		return "", apperrors.NewStorageError("failed to upload blob", err).
			WithContext("key", key)
	}

	return md5Hex, nil
}

// Delete removes the blob at key
func (a *AzureStore) Delete(ctx context.Context, key string) error {
	blob := a.container.NewBlockBlobURL(key)
	_, err := blob.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil {
		return apperrors.NewStorageError("failed to delete blob", err).
			WithContext("key", key)
	}
	return nil
}

// Head fetches the blob's size and Content-MD5, or ErrObjectNotFound
func (a *AzureStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	blob := a.container.NewBlockBlobURL(key)
	resp, err := blob.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if storageErr, ok := err.(azblob.StorageError); ok &&
			storageErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return nil, ErrObjectNotFound
		}
		return nil, apperrors.NewStorageError("failed to fetch blob properties", err).
			WithContext("key", key)
	}

	return &ObjectInfo{
		Key:          key,
		Size:         resp.ContentLength(),
		ETag:         hex.EncodeToString(resp.ContentMD5()),
		LastModified: resp.LastModified(),
	}, nil
}

// HealthCheck verifies the container exists and is accessible
func (a *AzureStore) HealthCheck(ctx context.Context) error {
	if _, err := a.container.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		return apperrors.NewStorageError("container not accessible", err).
			WithContext("container", a.name)
	}
	return nil
}

// Fingerprints returns the plain MD5 spec
func (a *AzureStore) Fingerprints() fingerprint.Spec {
	return fingerprint.PlainSpec()
}

// Name identifies the provider
func (a *AzureStore) Name() string {
	return "azure"
}
