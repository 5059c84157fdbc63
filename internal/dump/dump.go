// Package dump produces compressed, optionally encrypted database dumps
// named to match the backup rotation pattern.
package dump

import (
	"compress/gzip"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	apperrors "github.com/UoA-eResearch/s3backupdb/internal/errors"
	"github.com/UoA-eResearch/s3backupdb/internal/logging"
)

// Compression algorithms for the dump output
const (
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
	CompressionNone = "none"
)

// Options configures one dump run
type Options struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// MysqldumpPath overrides the binary looked up on PATH
	MysqldumpPath string

	Compression      string
	CompressionLevel int

	// OutDir receives the dump file
	OutDir string

	// Passphrase enables encryption of the finished dump
	Passphrase string
}

// Validate checks the options before any external process runs
func (o *Options) Validate() error {
	if o == nil {
		return apperrors.NewConfigurationError("dump options are nil", nil)
	}
	if o.Database == "" {
		return apperrors.NewConfigurationError("dump.database is required", nil)
	}
	if o.OutDir == "" {
		return apperrors.NewConfigurationError("dump output directory is required", nil)
	}
	switch o.Compression {
	case CompressionGzip, CompressionZstd, CompressionLZ4, CompressionNone, "":
	default:
		return apperrors.NewConfigurationError("unsupported compression algorithm", nil).
			WithContext("compression", o.Compression).
			WithContext("supported", "gzip, zstd, lz4, none")
	}
	return nil
}

// DSN returns the MySQL driver connection string for the preflight check
func (o *Options) DSN() string {
	host := o.Host
	if host == "" {
		host = "localhost"
	}
	port := o.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", o.User, o.Password, host, port, o.Database)
}

// FileName returns the dump file name for the given date, following the
// `<database>-YYYY-MM-DD.sql.<ext>` convention the rotation selector expects
func (o *Options) FileName(date time.Time) string {
	name := fmt.Sprintf("%s-%s.sql", o.Database, date.Format("2006-01-02"))
	switch o.Compression {
	case CompressionZstd:
		name += ".zst"
	case CompressionLZ4:
		name += ".lz4"
	case CompressionNone:
	default:
		name += ".gz"
	}
	if o.Passphrase != "" {
		name += ".enc"
	}
	return name
}

// Preflight verifies database connectivity before mysqldump is spawned, so a
// bad password fails fast instead of producing an empty dump
func Preflight(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return apperrors.NewStorageError("database is not reachable", err)
	}
	return nil
}

// Producer runs mysqldump and post-processes its output
type Producer struct {
	opts   *Options
	logger *logging.Logger
}

// NewProducer creates a dump producer
func NewProducer(opts *Options, logger *logging.Logger) (*Producer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Producer{opts: opts, logger: logger}, nil
}

// Run produces the dump file in OutDir and returns its path. The dump is
// streamed through the compression writer; encryption is a separate pass over
// the finished file.
func (p *Producer) Run(ctx context.Context) (string, error) {
	finalPath := filepath.Join(p.opts.OutDir, p.opts.FileName(time.Now()))

	// Write to a partial file first so a crashed run never leaves a file
	// the rotation selector would pick up.
	partial := finalPath + ".partial"
	out, err := os.Create(partial)
	if err != nil {
		return "", apperrors.NewIOError("failed to create dump file", err).
			WithContext("path", partial)
	}
	defer os.Remove(partial)

	if err := p.runMysqldump(ctx, out); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", apperrors.NewIOError("failed to finalize dump file", err).
			WithContext("path", partial)
	}

	if p.opts.Passphrase != "" {
		if err := EncryptFile(partial, finalPath, p.opts.Passphrase); err != nil {
			return "", err
		}
	} else {
		if err := os.Rename(partial, finalPath); err != nil {
			return "", apperrors.NewIOError("failed to move dump into place", err).
				WithContext("path", finalPath)
		}
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return "", apperrors.NewIOError("dump file vanished after creation", err).
			WithContext("path", finalPath)
	}
	p.logger.Infof("dump complete: %s (%d bytes)", finalPath, info.Size())
	return finalPath, nil
}

// runMysqldump spawns mysqldump and streams stdout through the configured
// compression writer into out
func (p *Producer) runMysqldump(ctx context.Context, out io.Writer) error {
	binary := p.opts.MysqldumpPath
	if binary == "" {
		binary = "mysqldump"
	}

	args := []string{"--single-transaction", "--quick"}
	if p.opts.Host != "" {
		args = append(args, "--host", p.opts.Host)
	}
	if p.opts.Port != 0 {
		args = append(args, "--port", fmt.Sprintf("%d", p.opts.Port))
	}
	if p.opts.User != "" {
		args = append(args, "--user", p.opts.User)
	}
	args = append(args, p.opts.Database)

	cmd := exec.CommandContext(ctx, binary, args...)
	// The password goes through the environment so it never shows in ps
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+p.opts.Password)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apperrors.NewIOError("failed to open mysqldump pipe", err)
	}

	writer, err := newCompressionWriter(out, p.opts.Compression, p.opts.CompressionLevel)
	if err != nil {
		return err
	}

	p.logger.Debugf("running %s for database %s", binary, p.opts.Database)
	if err := cmd.Start(); err != nil {
		return apperrors.NewIOError("failed to start mysqldump", err).
			WithContext("binary", binary)
	}

	if _, err := io.Copy(writer, stdout); err != nil {
		cmd.Wait()
		return apperrors.NewIOError("failed to write dump output", err)
	}
	if err := writer.Close(); err != nil {
		cmd.Wait()
		return apperrors.NewIOError("failed to flush compression writer", err)
	}

	if err := cmd.Wait(); err != nil {
		return apperrors.NewIOError("mysqldump failed", err).
			WithContext("stderr", strings.TrimSpace(stderr.String()))
	}
	return nil
}

// newCompressionWriter wraps out with the selected algorithm. The returned
// writer must be closed before out.
func newCompressionWriter(out io.Writer, algorithm string, level int) (io.WriteCloser, error) {
	switch algorithm {
	case CompressionNone:
		return nopWriteCloser{out}, nil

	case CompressionZstd:
		encoderLevel := zstd.SpeedDefault
		switch {
		case level <= 0:
			encoderLevel = zstd.SpeedDefault
		case level <= 1:
			encoderLevel = zstd.SpeedFastest
		case level <= 3:
			encoderLevel = zstd.SpeedDefault
		case level <= 6:
			encoderLevel = zstd.SpeedBetterCompression
		default:
			encoderLevel = zstd.SpeedBestCompression
		}
		writer, err := zstd.NewWriter(out, zstd.WithEncoderLevel(encoderLevel))
		if err != nil {
			return nil, apperrors.NewIOError("failed to create zstd writer", err)
		}
		return writer, nil

	case CompressionLZ4:
		writer := lz4.NewWriter(out)
		if level > 6 {
			if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
				return nil, apperrors.NewIOError("failed to set lz4 compression level", err)
			}
		}
		return writer, nil

	case CompressionGzip, "":
		if level == 0 {
			level = gzip.DefaultCompression
		}
		writer, err := gzip.NewWriterLevel(out, level)
		if err != nil {
			return nil, apperrors.NewIOError("failed to create gzip writer", err)
		}
		return writer, nil
	}

	return nil, apperrors.NewConfigurationError("unsupported compression algorithm", nil).
		WithContext("compression", algorithm)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
