package application

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/UoA-eResearch/s3backupdb/internal/errors"
	"github.com/UoA-eResearch/s3backupdb/internal/fingerprint"
	"github.com/UoA-eResearch/s3backupdb/internal/storage"
)

// memStore is an in-memory ObjectStore for exercising the full sync path
type memStore struct {
	objects map[string]storage.ObjectInfo
	spec    fingerprint.Spec
}

func newMemStore() *memStore {
	return &memStore{
		objects: make(map[string]storage.ObjectInfo),
		spec:    fingerprint.Spec{Algorithm: fingerprint.AlgorithmMultipartMD5, ChunkSize: 1 << 20},
	}
}

func (m *memStore) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for _, obj := range m.objects {
		out = append(out, obj)
	}
	return out, nil
}

func (m *memStore) Upload(ctx context.Context, key, localPath string) (string, error) {
	etag, err := fingerprint.Compute(localPath, m.spec)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return "", err
	}
	m.objects[key] = storage.ObjectInfo{Key: key, Size: info.Size(), ETag: etag}
	return etag, nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memStore) Head(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	obj, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &obj, nil
}

func (m *memStore) HealthCheck(ctx context.Context) error { return nil }
func (m *memStore) Fingerprints() fingerprint.Spec        { return m.spec }
func (m *memStore) Name() string                          { return "mem" }

// testFixture writes a conf file and backup directory and returns ready options
func testFixture(t *testing.T, rotateLvl int) (Options, string) {
	t.Helper()
	root := t.TempDir()
	backupDir := filepath.Join(root, "backups")
	require.NoError(t, os.Mkdir(backupDir, 0755))

	confPath := filepath.Join(root, "conf.yaml")
	conf := fmt.Sprintf(`
dest_bucket: test-bucket
dest_prefix: nightly
backup:
  directory: %s
  file_pattern: "dbs-*.sql.gz"
  rotate_lvl: %d
`, backupDir, rotateLvl)
	require.NoError(t, os.WriteFile(confPath, []byte(conf), 0600))

	return Options{
		ConfigPath: confPath,
		Quiet:      true,
		NoColor:    true,
		Format:     "compact",
	}, backupDir
}

func newTestApp(t *testing.T, opts Options, store storage.ObjectStore) *Application {
	t.Helper()
	app, err := New(opts)
	require.NoError(t, err)
	app.storeFactory = func(ctx context.Context) (storage.ObjectStore, error) {
		return store, nil
	}
	return app
}

func TestNewRejectsMissingConfig(t *testing.T) {
	_, err := New(Options{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")})
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestNewRejectsBadFormat(t *testing.T) {
	opts, _ := testFixture(t, 7)
	opts.Format = "csv"
	_, err := New(opts)
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestRunSyncUploadsAndRotates(t *testing.T) {
	opts, backupDir := testFixture(t, 1)
	store := newMemStore()
	app := newTestApp(t, opts, store)

	require.NoError(t, os.WriteFile(filepath.Join(backupDir, "dbs-2024-06-01.sql.gz"), []byte("old dump"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(backupDir, "dbs-2024-06-02.sql.gz"), []byte("new dump"), 0644))

	require.NoError(t, app.RunSync(context.Background()))

	// only the newest file survives rotation, locally and remotely
	_, err := os.Stat(filepath.Join(backupDir, "dbs-2024-06-01.sql.gz"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(backupDir, "dbs-2024-06-02.sql.gz"))
	assert.NoError(t, err)

	assert.Len(t, store.objects, 1)
	_, ok := store.objects["nightly/dbs-2024-06-02.sql.gz"]
	assert.True(t, ok)
}

func TestRunSyncIdempotent(t *testing.T) {
	opts, backupDir := testFixture(t, 7)
	store := newMemStore()
	app := newTestApp(t, opts, store)

	require.NoError(t, os.WriteFile(filepath.Join(backupDir, "dbs-2024-06-02.sql.gz"), []byte("dump"), 0644))

	require.NoError(t, app.RunSync(context.Background()))
	require.NoError(t, app.RunSync(context.Background()))

	assert.Len(t, store.objects, 1)
}

func TestRunSyncDryRunMutatesNothing(t *testing.T) {
	opts, backupDir := testFixture(t, 1)
	opts.DryRun = true
	store := newMemStore()
	app := newTestApp(t, opts, store)

	require.NoError(t, os.WriteFile(filepath.Join(backupDir, "dbs-2024-06-01.sql.gz"), []byte("old"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(backupDir, "dbs-2024-06-02.sql.gz"), []byte("new"), 0644))

	require.NoError(t, app.RunSync(context.Background()))

	assert.Empty(t, store.objects, "dry-run must not upload")
	_, err := os.Stat(filepath.Join(backupDir, "dbs-2024-06-01.sql.gz"))
	assert.NoError(t, err, "dry-run must not prune")
}

func TestRunSyncDeletesOrphanedRemote(t *testing.T) {
	opts, backupDir := testFixture(t, 7)
	store := newMemStore()
	app := newTestApp(t, opts, store)

	// remote object with no local counterpart
	seed := filepath.Join(backupDir, "seed")
	require.NoError(t, os.WriteFile(seed, []byte("retired"), 0644))
	_, err := store.Upload(context.Background(), "nightly/dbs-2024-05-01.sql.gz", seed)
	require.NoError(t, err)
	require.NoError(t, os.Remove(seed))

	require.NoError(t, os.WriteFile(filepath.Join(backupDir, "dbs-2024-06-02.sql.gz"), []byte("dump"), 0644))

	require.NoError(t, app.RunSync(context.Background()))

	_, ok := store.objects["nightly/dbs-2024-05-01.sql.gz"]
	assert.False(t, ok, "orphaned remote object must be deleted")
	assert.Len(t, store.objects, 1)
}

func TestRunList(t *testing.T) {
	opts, backupDir := testFixture(t, 7)
	store := newMemStore()
	app := newTestApp(t, opts, store)

	seed := filepath.Join(backupDir, "dbs-2024-06-02.sql.gz")
	require.NoError(t, os.WriteFile(seed, []byte("dump"), 0644))
	_, err := store.Upload(context.Background(), "nightly/dbs-2024-06-02.sql.gz", seed)
	require.NoError(t, err)

	assert.NoError(t, app.RunList(context.Background()))
}
