// Package config defines the backup tool's configuration model. Settings are
// split across two files as in classic deployments: a conf file describing
// what to back up and where, and an auth file holding credentials so the conf
// file can live in version control.
package config

import (
	"strings"

	apperrors "github.com/UoA-eResearch/s3backupdb/internal/errors"
	"github.com/UoA-eResearch/s3backupdb/internal/fingerprint"
	"github.com/UoA-eResearch/s3backupdb/internal/storage"
)

// Config is the non-secret half of the configuration
type Config struct {
	// DestBucket is the destination bucket or container name
	DestBucket string `mapstructure:"dest_bucket"`
	// DestPrefix is the key prefix under which backups are stored
	DestPrefix string `mapstructure:"dest_prefix"`
	// ChunkSize is the multipart chunk size in bytes; fingerprints of files
	// larger than this are composite and only comparable at equal chunk size
	ChunkSize int64 `mapstructure:"chunk_size"`
	// Provider selects the object store backend: s3, gcs or azure
	Provider string `mapstructure:"provider"`

	Backup BackupConfig `mapstructure:"backup"`
	Dump   DumpConfig   `mapstructure:"dump"`
}

// BackupConfig controls local file selection and rotation
type BackupConfig struct {
	// Directory holds the backup files
	Directory string `mapstructure:"directory"`
	// FilePattern is the glob that selects backup files within Directory
	FilePattern string `mapstructure:"file_pattern"`
	// RotateLvl is how many recent files to keep; zero or negative keeps all
	RotateLvl int `mapstructure:"rotate_lvl"`
	// RemoveEmpty drops and deletes zero-length backup files
	RemoveEmpty bool `mapstructure:"remove_empty"`
}

// DumpConfig controls the optional database dump step
type DumpConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Database string `mapstructure:"database"`
	// MysqldumpPath overrides the mysqldump binary location
	MysqldumpPath string `mapstructure:"mysqldump_path"`
	// Compression is one of gzip, zstd, lz4 or none
	Compression string `mapstructure:"compression"`
	// CompressionLevel is algorithm-specific; zero means the default level
	CompressionLevel int `mapstructure:"compression_level"`
}

// Auth is the secret half of the configuration, loaded from a separate file
type Auth struct {
	// DestEndpoint overrides the provider endpoint, for S3-compatible stores
	DestEndpoint string `mapstructure:"dest_endpoint"`
	Region       string `mapstructure:"region"`

	DestS3Keys S3Keys    `mapstructure:"dest_s3_keys"`
	GCS        GCSAuth   `mapstructure:"gcs"`
	Azure      AzureAuth `mapstructure:"azure"`

	// MysqlPassword is used by the dump command's connection
	MysqlPassword string `mapstructure:"mysql_password"`
}

// S3Keys holds static S3 credentials
type S3Keys struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// GCSAuth points at a service account credentials file
type GCSAuth struct {
	CredentialsPath string `mapstructure:"credentials_path"`
}

// AzureAuth holds shared key credentials
type AzureAuth struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
}

// Validate checks the non-secret configuration for structural problems
func (c *Config) Validate() error {
	if c == nil {
		return apperrors.NewConfigurationError("configuration is nil", nil)
	}
	if c.DestBucket == "" {
		return apperrors.NewConfigurationError("dest_bucket is required", nil)
	}
	if c.ChunkSize <= 0 {
		return apperrors.NewConfigurationError("chunk_size must be positive", nil).
			WithContext("chunk_size", c.ChunkSize)
	}
	switch storage.ProviderType(c.Provider) {
	case storage.ProviderS3, storage.ProviderGCS, storage.ProviderAzure:
	default:
		return apperrors.NewConfigurationError("unsupported provider", nil).
			WithContext("provider", c.Provider).
			WithContext("supported", strings.Join(providerNames(), ", "))
	}
	if c.Backup.Directory == "" {
		return apperrors.NewConfigurationError("backup.directory is required", nil)
	}
	if c.Backup.FilePattern == "" {
		return apperrors.NewConfigurationError("backup.file_pattern is required", nil)
	}
	return nil
}

func providerNames() []string {
	providers := storage.SupportedProviders()
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = string(p)
	}
	return names
}

// StorageConfig assembles the provider settings the storage factory expects
// from the conf and auth halves
func (c *Config) StorageConfig(auth *Auth) storage.Config {
	if auth == nil {
		auth = &Auth{}
	}

	cfg := storage.Config{Provider: storage.ProviderType(c.Provider)}
	switch cfg.Provider {
	case storage.ProviderS3:
		cfg.S3 = &storage.S3Config{
			Bucket:    c.DestBucket,
			Region:    auth.Region,
			AccessKey: auth.DestS3Keys.AccessKeyID,
			SecretKey: auth.DestS3Keys.SecretAccessKey,
			Endpoint:  auth.DestEndpoint,
			ChunkSize: c.ChunkSize,
		}
	case storage.ProviderGCS:
		cfg.GCS = &storage.GCSConfig{
			Bucket:          c.DestBucket,
			CredentialsPath: auth.GCS.CredentialsPath,
		}
	case storage.ProviderAzure:
		cfg.Azure = &storage.AzureConfig{
			AccountName:   auth.Azure.AccountName,
			AccountKey:    auth.Azure.AccountKey,
			ContainerName: c.DestBucket,
			Endpoint:      auth.DestEndpoint,
		}
	}
	return cfg
}

// FingerprintSpec returns the spec implied by the configured chunk size
func (c *Config) FingerprintSpec() fingerprint.Spec {
	return fingerprint.Spec{
		Algorithm: fingerprint.AlgorithmMultipartMD5,
		ChunkSize: c.ChunkSize,
	}
}
