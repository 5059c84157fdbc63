// Package storage provides the object-store capability interface the
// reconciler depends on, with S3, Google Cloud Storage and Azure Blob
// implementations behind a factory.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/UoA-eResearch/s3backupdb/internal/fingerprint"
)

// ErrObjectNotFound is returned by Head when no object exists at the key
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a single remote object
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectStore abstracts the remote side of the reconciliation: listing,
// uploading, deleting and fingerprint retrieval. All calls are synchronous
// and blocking; the run is a single sequential pass.
type ObjectStore interface {
	// List returns every object whose key starts with prefix
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Upload stores the file at localPath under key and returns the
	// fingerprint the remote reports for the stored object
	Upload(ctx context.Context, key, localPath string) (string, error)

	// Delete removes the object at key
	Delete(ctx context.Context, key string) error

	// Head fetches size and fingerprint for key, or ErrObjectNotFound
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// HealthCheck verifies the bucket is reachable and listable
	HealthCheck(ctx context.Context) error

	// Fingerprints returns the spec local fingerprints must be computed
	// with to be comparable against this store's ETags
	Fingerprints() fingerprint.Spec

	// Name identifies the provider for logs and summaries
	Name() string
}

// normalizeETag strips the surrounding quotes S3-compatible services wrap
// ETag header values in, so fingerprints compare as bare hex strings
func normalizeETag(etag string) string {
	return strings.Trim(etag, "\"")
}
