package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/UoA-eResearch/s3backupdb/internal/errors"
	"github.com/UoA-eResearch/s3backupdb/internal/fingerprint"
	"github.com/UoA-eResearch/s3backupdb/internal/storage"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "conf.yaml", `
dest_bucket: backups
backup:
  directory: /var/backups/mysql
`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(fingerprint.DefaultChunkSize), config.ChunkSize)
	assert.Equal(t, "s3", config.Provider)
	assert.Equal(t, "*", config.Backup.FilePattern)
	assert.Equal(t, 7, config.Backup.RotateLvl)
	assert.True(t, config.Backup.RemoveEmpty)
	assert.Equal(t, "gzip", config.Dump.Compression)
}

func TestLoadJSONConfig(t *testing.T) {
	// the original deployment format
	path := writeConfig(t, "conf.json", `{
  "dest_bucket": "db-backups",
  "dest_prefix": "nightly",
  "chunk_size": 1073741824,
  "backup": {
    "directory": "/data/dumps",
    "file_pattern": "dbs-*.sql.gz",
    "rotate_lvl": 14
  }
}`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db-backups", config.DestBucket)
	assert.Equal(t, "nightly", config.DestPrefix)
	assert.Equal(t, 14, config.Backup.RotateLvl)
	assert.Equal(t, "dbs-*.sql.gz", config.Backup.FilePattern)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing bucket",
			content: "backup:\n  directory: /data\n",
		},
		{
			name:    "missing directory",
			content: "dest_bucket: b\n",
		},
		{
			name:    "bad provider",
			content: "dest_bucket: b\nprovider: ftp\nbackup:\n  directory: /data\n",
		},
		{
			name:    "negative chunk size",
			content: "dest_bucket: b\nchunk_size: -1\nbackup:\n  directory: /data\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "conf.yaml", tt.content))
			require.Error(t, err)
			assert.True(t, apperrors.IsConfiguration(err))
		})
	}
}

func TestLoadAuth(t *testing.T) {
	path := writeConfig(t, "auth.json", `{
  "dest_endpoint": "https://object-store.example.org",
  "dest_s3_keys": {
    "access_key_id": "AKIATEST",
    "secret_access_key": "secret"
  }
}`)

	auth, err := LoadAuth(path)
	require.NoError(t, err)

	assert.Equal(t, "https://object-store.example.org", auth.DestEndpoint)
	assert.Equal(t, "AKIATEST", auth.DestS3Keys.AccessKeyID)
	assert.Equal(t, "secret", auth.DestS3Keys.SecretAccessKey)
	assert.Equal(t, DefaultRegion, auth.Region, "region falls back to the default")
}

func TestLoadAuthEmptyPath(t *testing.T) {
	auth, err := LoadAuth("")
	require.NoError(t, err)
	assert.NotNil(t, auth)
}

func TestStorageConfigAssembly(t *testing.T) {
	config := &Config{
		DestBucket: "backups",
		DestPrefix: "nightly",
		ChunkSize:  1 << 20,
		Provider:   "s3",
	}
	auth := &Auth{
		DestEndpoint: "https://s3.example.org",
		Region:       "ap-southeast-2",
		DestS3Keys:   S3Keys{AccessKeyID: "id", SecretAccessKey: "key"},
	}

	sc := config.StorageConfig(auth)
	assert.Equal(t, storage.ProviderS3, sc.Provider)
	require.NotNil(t, sc.S3)
	assert.Equal(t, "backups", sc.S3.Bucket)
	assert.Equal(t, "ap-southeast-2", sc.S3.Region)
	assert.Equal(t, "https://s3.example.org", sc.S3.Endpoint)
	assert.Equal(t, int64(1<<20), sc.S3.ChunkSize)
	assert.NoError(t, sc.Validate())
}

func TestStorageConfigAzureUsesBucketAsContainer(t *testing.T) {
	config := &Config{DestBucket: "backups", Provider: "azure", ChunkSize: 1}
	auth := &Auth{Azure: AzureAuth{AccountName: "acct", AccountKey: "a2V5"}}

	sc := config.StorageConfig(auth)
	require.NotNil(t, sc.Azure)
	assert.Equal(t, "backups", sc.Azure.ContainerName)
	assert.Equal(t, "acct", sc.Azure.AccountName)
}

func TestStorageConfigNilAuth(t *testing.T) {
	config := &Config{DestBucket: "backups", Provider: "gcs", ChunkSize: 1}
	sc := config.StorageConfig(nil)
	require.NotNil(t, sc.GCS)
	assert.Equal(t, "backups", sc.GCS.Bucket)
}

func TestFingerprintSpec(t *testing.T) {
	config := &Config{ChunkSize: 4096}
	spec := config.FingerprintSpec()
	assert.Equal(t, fingerprint.AlgorithmMultipartMD5, spec.Algorithm)
	assert.Equal(t, int64(4096), spec.ChunkSize)
}
