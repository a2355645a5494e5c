package file

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigStore_Success(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewConfigStore(tmpDir)

	require.NoError(t, err)
	require.NotNil(t, store)
	assert.Equal(t, filepath.Join(tmpDir, ConfigFileName), store.Path())
}

func TestNewConfigStore_WithNestedDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	store, err := NewConfigStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, filepath.Join(dir, ConfigFileName), store.Path())
}

func TestNewConfigStore_LoadCorruptedFile(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte("[run\nworkers ="), 0600))

	_, err := NewConfigStore(tmpDir)
	assert.Error(t, err)
}

func TestConfigStore_ReadsTables(t *testing.T) {
	tmpDir := t.TempDir()
	content := `
[source]
dsn = "postgres://etl@localhost/erp"
timeout = "90s"

[drive]
folder = "empresa/facturas"
requests_per_second = 5
burst = 4

[run]
workers = 4
strict = true
mode = "at-least-once"
initial_backoff = "bad"
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(content), 0600))

	store, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "postgres://etl@localhost/erp", store.GetString("source.dsn"))
	assert.Equal(t, "90s", store.GetString("source.timeout"))
	assert.Equal(t, "empresa/facturas", store.GetString("drive.folder"))
	assert.Equal(t, 4, store.GetInt("drive.burst"))
	assert.Equal(t, 4, store.GetInt("run.workers"))
	assert.True(t, store.GetBool("run.strict"))
	assert.Equal(t, "at-least-once", store.GetString("run.mode"))
	assert.Equal(t, "bad", store.GetString("run.initial_backoff"))
}

func TestConfigStore_TypeMismatch(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set("run.workers", "four"))
	require.NoError(t, store.Set("run.strict", 1))
	require.NoError(t, store.Set("log.level", 3))

	assert.Zero(t, store.GetInt("run.workers"))
	assert.False(t, store.GetBool("run.strict"))
	assert.Empty(t, store.GetString("log.level"))
	assert.Nil(t, store.GetStringSlice("log.level"))
}

func TestConfigStore_Get_NotFound(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	val, ok := store.Get("missing.key")
	assert.False(t, ok)
	assert.Nil(t, val)
	assert.Empty(t, store.GetString("missing.key"))
	assert.Zero(t, store.GetInt("missing.key"))
	assert.False(t, store.GetBool("missing.key"))
	assert.Nil(t, store.GetStringSlice("missing.key"))
}

func TestConfigStore_SaveReload_WritesTables(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	require.NoError(t, store.Set("run.workers", 8))
	require.NoError(t, store.Set("run.max_backoff", "45s"))
	require.NoError(t, store.Set("drive.folder", "facturas"))
	require.NoError(t, store.Set("s3.use_ssl", false))
	require.NoError(t, store.Set("tags", []string{"a", "b"}))

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[run]")
	assert.Contains(t, string(raw), "[drive]")
	assert.NotContains(t, string(raw), "run.workers")

	reloaded, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, 8, reloaded.GetInt("run.workers"))
	assert.Equal(t, "45s", reloaded.GetString("run.max_backoff"))
	assert.Equal(t, "facturas", reloaded.GetString("drive.folder"))
	assert.False(t, reloaded.GetBool("s3.use_ssl"))
	assert.Equal(t, []string{"a", "b"}, reloaded.GetStringSlice("tags"))
}

func TestConfigStore_Set_InvalidKey(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", ".run", "run."} {
		assert.Error(t, store.Set(key, 1), key)
	}
}

func TestConfigStore_Set_ConflictingKeys(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set("run.workers", 2))
	assert.Error(t, store.Set("run", "x"))
}

func TestConfigStore_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Set("log.level", "debug"))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestConfigStore_Load_NonExistent(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	require.NoError(t, store.Set("log.level", "debug"))
	require.NoError(t, os.Remove(store.Path()))

	require.NoError(t, store.Load())
	_, ok := store.Get("log.level")
	assert.False(t, ok)
}

func TestConfigStore_Save_WriteFileError(t *testing.T) {
	if runtime.GOOS == "windows" || os.Getuid() == 0 {
		t.Skip("read-only directories are writable here")
	}
	tmpDir := t.TempDir()
	store, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(tmpDir, 0500))
	t.Cleanup(func() { _ = os.Chmod(tmpDir, 0700) })

	assert.Error(t, store.Save())
}

func TestConfigStore_Concurrency(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.Set("run.workers", i)
		}()
		go func() {
			defer wg.Done()
			_ = store.GetInt("run.workers")
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, store.GetInt("run.workers"), 0)
}

func TestNestMap(t *testing.T) {
	tree, err := nestMap(map[string]any{
		"a.b.c": 1,
		"a.d":   "x",
		"e":     true,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"a": map[string]any{
			"b": map[string]any{"c": 1},
			"d": "x",
		},
		"e": true,
	}, tree)
	assert.Equal(t, map[string]any{"a.b.c": 1, "a.d": "x", "e": true}, flattenMap(tree, ""))
}
