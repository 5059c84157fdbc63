package config

import (
	"github.com/spf13/viper"

	apperrors "github.com/UoA-eResearch/s3backupdb/internal/errors"
	"github.com/UoA-eResearch/s3backupdb/internal/fingerprint"
)

// Defaults applied before reading any file
const (
	DefaultRotateLvl   = 7
	DefaultFilePattern = "*"
	DefaultProvider    = "s3"
	DefaultRegion      = "us-east-1"
	DefaultCompression = "gzip"
)

// Load reads the conf file at path and returns the validated configuration.
// The file format is whatever viper can parse from the extension (YAML and
// JSON in practice).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("chunk_size", fingerprint.DefaultChunkSize)
	v.SetDefault("provider", DefaultProvider)
	v.SetDefault("backup.file_pattern", DefaultFilePattern)
	v.SetDefault("backup.rotate_lvl", DefaultRotateLvl)
	v.SetDefault("backup.remove_empty", true)
	v.SetDefault("dump.host", "localhost")
	v.SetDefault("dump.port", 3306)
	v.SetDefault("dump.compression", DefaultCompression)

	if err := v.ReadInConfig(); err != nil {
		return nil, apperrors.NewConfigurationError("failed to read config file", err).
			WithContext("path", path)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, apperrors.NewConfigurationError("failed to parse config file", err).
			WithContext("path", path)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadAuth reads the credentials file at path. An empty path returns empty
// credentials so providers relying on ambient credentials still work.
func LoadAuth(path string) (*Auth, error) {
	if path == "" {
		return &Auth{}, nil
	}

	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, apperrors.NewConfigurationError("failed to read auth file", err).
			WithContext("path", path)
	}

	auth := &Auth{}
	if err := v.Unmarshal(auth); err != nil {
		return nil, apperrors.NewConfigurationError("failed to parse auth file", err).
			WithContext("path", path)
	}
	if auth.Region == "" {
		auth.Region = DefaultRegion
	}
	return auth, nil
}
