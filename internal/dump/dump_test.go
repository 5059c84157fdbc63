package dump

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/UoA-eResearch/s3backupdb/internal/errors"
)

func validOptions(dir string) *Options {
	return &Options{
		Host:        "db.example.org",
		Port:        3306,
		User:        "backup",
		Password:    "secret",
		Database:    "appdb",
		Compression: CompressionGzip,
		OutDir:      dir,
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{name: "valid", mutate: func(o *Options) {}},
		{name: "missing database", mutate: func(o *Options) { o.Database = "" }, wantErr: true},
		{name: "missing out dir", mutate: func(o *Options) { o.OutDir = "" }, wantErr: true},
		{name: "bad compression", mutate: func(o *Options) { o.Compression = "bzip2" }, wantErr: true},
		{name: "no compression", mutate: func(o *Options) { o.Compression = CompressionNone }},
		{name: "empty compression defaults", mutate: func(o *Options) { o.Compression = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions("/tmp")
			tt.mutate(opts)
			err := opts.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsConfiguration(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOptionsDSN(t *testing.T) {
	opts := validOptions("/tmp")
	assert.Equal(t, "backup:secret@tcp(db.example.org:3306)/appdb", opts.DSN())

	// defaults fill in when host and port are unset
	opts.Host = ""
	opts.Port = 0
	assert.Equal(t, "backup:secret@tcp(localhost:3306)/appdb", opts.DSN())
}

func TestFileName(t *testing.T) {
	date := time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		compression string
		passphrase  string
		want        string
	}{
		{CompressionGzip, "", "appdb-2024-06-02.sql.gz"},
		{CompressionZstd, "", "appdb-2024-06-02.sql.zst"},
		{CompressionLZ4, "", "appdb-2024-06-02.sql.lz4"},
		{CompressionNone, "", "appdb-2024-06-02.sql"},
		{"", "", "appdb-2024-06-02.sql.gz"},
		{CompressionGzip, "hunter2", "appdb-2024-06-02.sql.gz.enc"},
	}

	for _, tt := range tests {
		opts := validOptions("/tmp")
		opts.Compression = tt.compression
		opts.Passphrase = tt.passphrase
		assert.Equal(t, tt.want, opts.FileName(date))
	}
}

func TestPreflight(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	assert.NoError(t, Preflight(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreflightFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("access denied"))
	err = Preflight(context.Background(), db)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindStorage))
}

func TestCompressionWriterRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("INSERT INTO t VALUES (1);\n"), 200)

	tests := []struct {
		algorithm string
		level     int
		reader    func(io.Reader) (io.Reader, error)
	}{
		{
			algorithm: CompressionGzip,
			level:     6,
			reader: func(r io.Reader) (io.Reader, error) {
				return gzip.NewReader(r)
			},
		},
		{
			algorithm: CompressionZstd,
			level:     3,
			reader: func(r io.Reader) (io.Reader, error) {
				return zstd.NewReader(r)
			},
		},
		{
			algorithm: CompressionLZ4,
			level:     9,
			reader: func(r io.Reader) (io.Reader, error) {
				return lz4.NewReader(r), nil
			},
		},
		{
			algorithm: CompressionNone,
			reader: func(r io.Reader) (io.Reader, error) {
				return r, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			var buf bytes.Buffer
			writer, err := newCompressionWriter(&buf, tt.algorithm, tt.level)
			require.NoError(t, err)
			_, err = writer.Write(payload)
			require.NoError(t, err)
			require.NoError(t, writer.Close())

			reader, err := tt.reader(&buf)
			require.NoError(t, err)
			decompressed, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Equal(t, payload, decompressed)
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "dump.sql.gz")
	enc := filepath.Join(dir, "dump.sql.gz.enc")
	dec := filepath.Join(dir, "dump.decrypted")

	payload := []byte("-- MySQL dump\nCREATE TABLE t (id INT);\n")
	require.NoError(t, os.WriteFile(src, payload, 0600))

	require.NoError(t, EncryptFile(src, enc, "hunter2"))

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err), "plaintext must be removed after encryption")

	encrypted, err := os.ReadFile(enc)
	require.NoError(t, err)
	assert.NotContains(t, string(encrypted), "CREATE TABLE")

	require.NoError(t, DecryptFile(enc, dec, "hunter2"))
	decrypted, err := os.ReadFile(dec)
	require.NoError(t, err)
	assert.Equal(t, payload, decrypted)
}

func TestDecryptWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "dump.sql")
	enc := filepath.Join(dir, "dump.sql.enc")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0600))
	require.NoError(t, EncryptFile(src, enc, "correct"))

	err := DecryptFile(enc, filepath.Join(dir, "out"), "wrong")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindVerification))
}

func TestEncryptionSaltsAreUnique(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("identical content")
	var outputs [][]byte

	for i := 0; i < 2; i++ {
		src := filepath.Join(dir, "dump.sql")
		enc := filepath.Join(dir, "dump.sql.enc")
		require.NoError(t, os.WriteFile(src, payload, 0600))
		require.NoError(t, EncryptFile(src, enc, "pass"))
		data, err := os.ReadFile(enc)
		require.NoError(t, err)
		outputs = append(outputs, data)
	}

	assert.NotEqual(t, outputs[0], outputs[1], "equal plaintexts must not produce equal ciphertexts")
}

// stubMysqldump writes a shell script that mimics mysqldump output
func stubMysqldump(t *testing.T, dir string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub script requires a POSIX shell")
	}
	path := filepath.Join(dir, "mysqldump-stub")
	script := "#!/bin/sh\necho \"-- MySQL dump stub\"\necho \"CREATE TABLE t (id INT);\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestProducerRun(t *testing.T) {
	dir := t.TempDir()
	opts := validOptions(dir)
	opts.MysqldumpPath = stubMysqldump(t, dir)

	producer, err := NewProducer(opts, nil)
	require.NoError(t, err)

	path, err := producer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, opts.FileName(time.Now()), filepath.Base(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	reader, err := gzip.NewReader(f)
	require.NoError(t, err)
	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Contains(t, string(content), "CREATE TABLE t")

	// no partial file left behind
	matches, err := filepath.Glob(filepath.Join(dir, "*.partial"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestProducerRunEncrypted(t *testing.T) {
	dir := t.TempDir()
	opts := validOptions(dir)
	opts.MysqldumpPath = stubMysqldump(t, dir)
	opts.Passphrase = "hunter2"

	producer, err := NewProducer(opts, nil)
	require.NoError(t, err)

	path, err := producer.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, filepath.Ext(path) == ".enc")

	decrypted := filepath.Join(dir, "roundtrip.sql.gz")
	require.NoError(t, DecryptFile(path, decrypted, "hunter2"))

	f, err := os.Open(decrypted)
	require.NoError(t, err)
	defer f.Close()
	reader, err := gzip.NewReader(f)
	require.NoError(t, err)
	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Contains(t, string(content), "CREATE TABLE t")
}

func TestProducerRunMissingBinary(t *testing.T) {
	dir := t.TempDir()
	opts := validOptions(dir)
	opts.MysqldumpPath = filepath.Join(dir, "no-such-binary")

	producer, err := NewProducer(opts, nil)
	require.NoError(t, err)

	_, err = producer.Run(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindIO))
}
