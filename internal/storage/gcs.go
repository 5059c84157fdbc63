package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"os"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	apperrors "github.com/UoA-eResearch/s3backupdb/internal/errors"
	"github.com/UoA-eResearch/s3backupdb/internal/fingerprint"
)

// GCSConfig holds the settings for a Google Cloud Storage destination
type GCSConfig struct {
	Bucket string
	// CredentialsPath points at a service-account JSON file; when empty
	// the default credential chain is used
	CredentialsPath string
}

// Validate checks the GCS configuration
func (c *GCSConfig) Validate() error {
	if c == nil {
		return apperrors.NewConfigurationError("GCS configuration is required", nil)
	}
	if c.Bucket == "" {
		return apperrors.NewConfigurationError("GCS bucket name is required", nil)
	}
	return nil
}

// GCSStore implements ObjectStore against Google Cloud Storage. GCS exposes
// a whole-object MD5 for every object, so fingerprints are plain MD5 at any
// size and the multipart composite form never applies here.
type GCSStore struct {
	client *gcs.Client
	bucket string
}

// NewGCSStore creates a GCSStore from the given configuration
func NewGCSStore(ctx context.Context, config *GCSConfig) (*GCSStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var client *gcs.Client
	var err error
	if config.CredentialsPath != "" {
		client, err = gcs.NewClient(ctx, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		client, err = gcs.NewClient(ctx)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create GCS client", err)
	}

	return &GCSStore{
		client: client,
		bucket: config.Bucket,
	}, nil
}

// List returns every object under the prefix
func (g *GCSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	it := g.client.Bucket(g.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, apperrors.NewStorageError("failed to list objects", err).
				WithContext("bucket", g.bucket).
				WithContext("prefix", prefix)
		}
		objects = append(objects, ObjectInfo{
			Key:          attrs.Name,
			Size:         attrs.Size,
			ETag:         hex.EncodeToString(attrs.MD5),
			LastModified: attrs.Updated,
		})
	}

	return objects, nil
}

// Upload stores the file under key and returns the MD5 GCS computed for it
func (g *GCSStore) Upload(ctx context.Context, key, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", apperrors.NewIOError("failed to open file for upload", err).
			WithContext("path", localPath)
	}
	defer file.Close()

	obj := g.client.Bucket(g.bucket).Object(key)
	writer := obj.NewWriter(ctx)
	if _, err := io.Copy(writer, file); err != nil {
		writer.Close()
		return "", apperrors.NewStorageError("failed to write object", err).
			WithContext("key", key)
	}
	if err := writer.Close(); err != nil {
		return "", apperrors.NewStorageError("failed to finalize object upload", err).
			WithContext("key", key)
	}

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return "", apperrors.NewStorageError("failed to fetch attributes of uploaded object", err).
			WithContext("key", key)
	}
	return hex.EncodeToString(attrs.MD5), nil
}

// Delete removes the object at key
func (g *GCSStore) Delete(ctx context.Context, key string) error {
	if err := g.client.Bucket(g.bucket).Object(key).Delete(ctx); err != nil {
		return apperrors.NewStorageError("failed to delete object", err).
			WithContext("key", key)
	}
	return nil
}

// Head fetches the object's size and MD5, or ErrObjectNotFound
func (g *GCSStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	attrs, err := g.client.Bucket(g.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, apperrors.NewStorageError("failed to fetch object attributes", err).
			WithContext("key", key)
	}

	return &ObjectInfo{
		Key:          key,
		Size:         attrs.Size,
		ETag:         hex.EncodeToString(attrs.MD5),
		LastModified: attrs.Updated,
	}, nil
}

// HealthCheck verifies the bucket exists and is accessible
func (g *GCSStore) HealthCheck(ctx context.Context) error {
	if _, err := g.client.Bucket(g.bucket).Attrs(ctx); err != nil {
		return apperrors.NewStorageError("bucket not accessible", err).
			WithContext("bucket", g.bucket)
	}
	return nil
}

// Fingerprints returns the plain MD5 spec
func (g *GCSStore) Fingerprints() fingerprint.Spec {
	return fingerprint.PlainSpec()
}

// Name identifies the provider
func (g *GCSStore) Name() string {
	return "gcs"
}
