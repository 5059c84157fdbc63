package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	apperrors "github.com/UoA-eResearch/s3backupdb/internal/errors"
	"github.com/UoA-eResearch/s3backupdb/internal/fingerprint"
)

// S3Config holds the settings for an S3 or S3-compatible destination
type S3Config struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	// Endpoint overrides the AWS endpoint for S3-compatible services;
	// path-style addressing is forced when it is set
	Endpoint string
	// ChunkSize is the multipart part size; it determines the composite
	// ETag, so it must match the fingerprint chunk size
	ChunkSize int64
}

// Validate checks the S3 configuration
func (c *S3Config) Validate() error {
	if c == nil {
		return apperrors.NewConfigurationError("S3 configuration is required", nil)
	}
	if c.Bucket == "" {
		return apperrors.NewConfigurationError("S3 bucket name is required", nil)
	}
	if c.Region == "" {
		return apperrors.NewConfigurationError("S3 region is required", nil)
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return apperrors.NewConfigurationError("S3 access key and secret key are required", nil)
	}
	if c.ChunkSize <= 0 {
		return apperrors.NewConfigurationError(fmt.Sprintf("chunk size must be positive, got %d", c.ChunkSize), nil)
	}
	return nil
}

// S3Store implements ObjectStore against Amazon S3 or a compatible service
type S3Store struct {
	client    *s3.S3
	uploader  *s3manager.Uploader
	bucket    string
	chunkSize int64
}

// NewS3Store creates an S3Store from the given configuration
func NewS3Store(config *S3Config) (*S3Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
		Credentials: credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"", // token
		),
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create AWS session", err)
	}

	client := s3.New(sess)

	// PartSize matching the fingerprint chunk size makes the multipart
	// ETag S3 computes equal to the locally computed composite fingerprint.
	// Concurrency 1 keeps the run a single sequential pass.
	uploader := s3manager.NewUploaderWithClient(client, func(u *s3manager.Uploader) {
		u.PartSize = config.ChunkSize
		u.Concurrency = 1
	})

	return &S3Store{
		client:    client,
		uploader:  uploader,
		bucket:    config.Bucket,
		chunkSize: config.ChunkSize,
	}, nil
}

// List returns every object under the prefix, one listing pass per run
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}

	err := s.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				objects = append(objects, ObjectInfo{
					Key:          aws.StringValue(obj.Key),
					Size:         aws.Int64Value(obj.Size),
					ETag:         normalizeETag(aws.StringValue(obj.ETag)),
					LastModified: aws.TimeValue(obj.LastModified),
				})
			}
			return true
		})
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list objects", err).
			WithContext("bucket", s.bucket).
			WithContext("prefix", prefix)
	}

	return objects, nil
}

// Upload stores the file under key. Files larger than the chunk size go
// through a multipart upload with PartSize equal to the chunk size.
func (s *S3Store) Upload(ctx context.Context, key, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", apperrors.NewIOError("failed to open file for upload", err).
			WithContext("path", localPath)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", apperrors.NewIOError("failed to stat file for upload", err).
			WithContext("path", localPath)
	}

	if info.Size() <= s.chunkSize {
		out, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   file,
		})
		if err != nil {
			return "", apperrors.NewStorageError("failed to upload object", err).
				WithContext("key", key)
		}
		return normalizeETag(aws.StringValue(out.ETag)), nil
	}

	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return "", apperrors.NewStorageError("failed to upload object (multipart)", err).
			WithContext("key", key)
	}
	return normalizeETag(aws.StringValue(out.ETag)), nil
}

// Delete removes the object at key
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return apperrors.NewStorageError("failed to delete object", err).
			WithContext("key", key)
	}
	return nil
}

// Head fetches the object's size and ETag, or ErrObjectNotFound
func (s *S3Store) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if reqErr, ok := err.(awserr.RequestFailure); ok && reqErr.StatusCode() == 404 {
			return nil, ErrObjectNotFound
		}
		return nil, apperrors.NewStorageError("failed to head object", err).
			WithContext("key", key)
	}

	return &ObjectInfo{
		Key:          key,
		Size:         aws.Int64Value(out.ContentLength),
		ETag:         normalizeETag(aws.StringValue(out.ETag)),
		LastModified: aws.TimeValue(out.LastModified),
	}, nil
}

// HealthCheck verifies the bucket exists and objects can be listed
func (s *S3Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return apperrors.NewStorageError("bucket not accessible", err).
			WithContext("bucket", s.bucket)
	}

	_, err = s.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return apperrors.NewStorageError("cannot list objects", err).
			WithContext("bucket", s.bucket)
	}
	return nil
}

// Fingerprints returns the multipart spec matching this store's part size
func (s *S3Store) Fingerprints() fingerprint.Spec {
	return fingerprint.Spec{Algorithm: fingerprint.AlgorithmMultipartMD5, ChunkSize: s.chunkSize}
}

// Name identifies the provider
func (s *S3Store) Name() string {
	return "s3"
}
